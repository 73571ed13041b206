package app

import "paperwise/pkg/domain"

var (
	// ErrInvalidCredentials is returned when the supplied credentials do not match.
	// This message is intended to be shown to end users and should not enable account enumeration.
	ErrInvalidCredentials = domain.Authentication("Incorrect email address or password")

	ErrEmailAndPasswordRequired = domain.Validation("email and password required")
	ErrEmailAlreadyExists       = domain.Conflict("email already exists")

	ErrUnauthenticated = domain.Authentication("unauthorized")
)
