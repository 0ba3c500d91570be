package vuser

import (
	"fmt"

	"github.com/surrealdb/vuser.go/pkg/constants"
)

// Errors returned by a User and its engine. Use errors.Is to classify a
// failure; the wrapped error carries the backend or codec cause.
var (
	ErrAuthentication         = constants.ErrAuthentication
	ErrBackendUnavailable     = constants.ErrBackendUnavailable
	ErrDecode                 = constants.ErrDecode
	ErrEncode                 = constants.ErrEncode
	ErrPersistenceUnavailable = constants.ErrPersistenceUnavailable

	// ErrNotFound may be returned by Backend.Load for a key that was never
	// stored. The session turns it into an envelope with timestamp 0.
	ErrNotFound = constants.ErrNotFound
)

// ConfigurationError reports an invalid or missing option passed to New.
type ConfigurationError struct {
	Option string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("vuser: invalid option %q: %s", e.Option, e.Reason)
}

// KeyError is the failure of a single key during Sync.
type KeyError struct {
	Key string
	Err error
}

func (e *KeyError) Error() string {
	return fmt.Sprintf("key %q: %v", e.Key, e.Err)
}

func (e *KeyError) Unwrap() error {
	return e.Err
}
