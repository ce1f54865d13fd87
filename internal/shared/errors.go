package shared

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrValidation indicates missing or malformed input.
	ErrValidation = errors.New("validation failed")
	// ErrDuplicateIdentity indicates a registration for an email that already exists.
	ErrDuplicateIdentity = errors.New("user already exists")
	// ErrCredentialMismatch indicates the password did not match the stored hash.
	ErrCredentialMismatch = errors.New("incorrect password")
	// ErrUnauthenticated indicates the request carries no authenticated session.
	ErrUnauthenticated = errors.New("not authenticated")
	// ErrTokenMissing indicates no bearer token was presented.
	ErrTokenMissing = errors.New("token missing")
	// ErrTokenInvalid indicates a token failed structure, signature or expiry checks.
	ErrTokenInvalid = errors.New("token invalid")
	// ErrTokenExpired is an ErrTokenInvalid whose only defect is an elapsed expiry.
	ErrTokenExpired = fmt.Errorf("%w: expired", ErrTokenInvalid)
	// ErrLogoutFailure occurs when the session store could not destroy a session.
	ErrLogoutFailure = errors.New("logout failed")
	// ErrCSRFTokenMissing occurs when CSRF token missing.
	ErrCSRFTokenMissing = errors.New("csrf token missing")
	// ErrCSRFTokenMismatch occurs when CSRF tokens do not match.
	ErrCSRFTokenMismatch = errors.New("csrf token mismatch")
)
