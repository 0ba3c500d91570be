package constants

import "errors"

// Errors
var (
	ErrAuthentication         = errors.New("authentication failed")
	ErrBackendUnavailable     = errors.New("backend unavailable")
	ErrDecode                 = errors.New("unable to decode envelope")
	ErrEncode                 = errors.New("unable to encode envelope")
	ErrPersistenceUnavailable = errors.New("local persistence unavailable")
	ErrNotFound               = errors.New("key not found")
)

var (
	ErrNoBaseURL   = errors.New("base url not set")
	ErrNotSignedIn = errors.New("not signed in")
)

// Transport errors
var (
	ErrIDInUse           = errors.New("id already in use")
	ErrTimeout           = errors.New("timeout")
	ErrInvalidResponseID = errors.New("invalid response id")
	ErrConnectionClosed  = errors.New("connection closed")
)
