package tenantdb

import (
	"errors"
	"fmt"
)

// ErrRouterClosed is returned by Resolve after Shutdown.
var ErrRouterClosed = errors.New("tenant router is shut down")

// ErrUnsupportedDriver is returned for tenants provisioned with a
// database driver this build does not link.
var ErrUnsupportedDriver = errors.New("unsupported database driver")

// ConnectionError indicates the tenant's database could not be reached
// or authenticated. The message identifies the tenant only; connection
// coordinates and credentials never appear in errors or logs.
type ConnectionError struct {
	TenantID string
	Err      error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("failed to connect database for tenant %s: %v", e.TenantID, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// IsConnectionError checks if an error is a tenant connection failure.
func IsConnectionError(err error) bool {
	var cErr *ConnectionError
	return errors.As(err, &cErr)
}
