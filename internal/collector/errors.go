package collector

import (
	"errors"
	"fmt"

	"github.com/darkace1998/PostureLens/internal/model"
)

// AuthorizationError means the upstream API refused access for the tenant.
// It is never retried and surfaces as "Not Configured".
type AuthorizationError struct {
	Domain model.Domain
	Reason string
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("%s: not authorized: %s", e.Domain, e.Reason)
}

// TransientError is a timeout or network failure that may succeed later.
type TransientError struct {
	Domain model.Domain
	Err    error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: transient: %v", e.Domain, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// DataIntegrityError means the upstream payload, or one record of it, did
// not match the expected shape.
type DataIntegrityError struct {
	Domain model.Domain
	Detail string
	Err    error
}

func (e *DataIntegrityError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: malformed payload: %s: %v", e.Domain, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: malformed payload: %s", e.Domain, e.Detail)
}

func (e *DataIntegrityError) Unwrap() error { return e.Err }

// IsAuthorization reports whether err is or wraps an AuthorizationError.
func IsAuthorization(err error) bool {
	var ae *AuthorizationError
	return errors.As(err, &ae)
}

// IsDataIntegrity reports whether err is or wraps a DataIntegrityError.
func IsDataIntegrity(err error) bool {
	var de *DataIntegrityError
	return errors.As(err, &de)
}
