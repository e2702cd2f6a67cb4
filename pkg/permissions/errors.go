package permissions

import (
	"errors"
	"fmt"
)

// MalformedPermissionError indicates a permission string that is not
// two or three colon-delimited segments. Treated as a configuration
// error: callers log it loudly and fail closed.
type MalformedPermissionError struct {
	Raw string
}

func (e *MalformedPermissionError) Error() string {
	return fmt.Sprintf("malformed permission %q: want module:action or module:submodule:action", e.Raw)
}

// IsMalformed checks if an error is a malformed permission error.
func IsMalformed(err error) bool {
	var mErr *MalformedPermissionError
	return errors.As(err, &mErr)
}

// InsufficientPermissionError indicates a resolved permission set that
// does not satisfy an endpoint's requirement.
type InsufficientPermissionError struct {
	Missing []Permission
}

func (e *InsufficientPermissionError) Error() string {
	if len(e.Missing) == 1 {
		return fmt.Sprintf("missing permission %s", e.Missing[0])
	}
	return fmt.Sprintf("missing permissions %v", e.Missing)
}

// IsInsufficient checks if an error is an insufficient permission error.
func IsInsufficient(err error) bool {
	var iErr *InsufficientPermissionError
	return errors.As(err, &iErr)
}
