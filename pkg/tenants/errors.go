package tenants

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingTenantContext is returned when no tenant identifier is
	// found in any accepted request source.
	ErrMissingTenantContext = errors.New("no tenant identifier in request")

	// ErrTenantNotFound is returned when the directory has no tenant for
	// the given id or slug.
	ErrTenantNotFound = errors.New("tenant not found")

	// ErrTenantSuspended is returned when the tenant exists but is
	// suspended or inactive.
	ErrTenantSuspended = errors.New("tenant is suspended")
)

// AccessDeniedError indicates a principal whose affiliation does not
// match the requested tenant and who lacks cross-tenant staff rights.
// Security relevant: callers record it in the audit trail.
type AccessDeniedError struct {
	PrincipalID string
	TenantID    string
}

func (e *AccessDeniedError) Error() string {
	return fmt.Sprintf("principal %s may not access tenant %s", e.PrincipalID, e.TenantID)
}

// IsAccessDenied checks if an error is a tenant access denial.
func IsAccessDenied(err error) bool {
	var adErr *AccessDeniedError
	return errors.As(err, &adErr)
}

// QuotaExceededError indicates a genuine usage-ceiling breach. Carries
// the current and maximum values for UI display.
type QuotaExceededError struct {
	Resource QuotaKind
	Current  int64
	Limit    int64
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("quota exceeded for %s: %d of %d", e.Resource, e.Current, e.Limit)
}

// IsQuotaExceeded checks if an error is a quota exceeded error, as
// opposed to a quota-lookup infrastructure failure.
func IsQuotaExceeded(err error) bool {
	var qErr *QuotaExceededError
	return errors.As(err, &qErr)
}
