// Package common defines shared constants and sentinel errors used across
// the server layers of smartagro. Callers should use errors.Is to match
// these values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrorNotFound        = errors.New("not found")
	ErrDuplicateUsername = errors.New("username already exists")

	// Service-level errors (generic/internal flow control).
	ErrorInternal     = errors.New("internal error")
	ErrorUnauthorized = errors.New("unauthorized")

	// Credential errors. ErrInvalidCredentials never says which half was wrong.
	ErrMissingField       = errors.New("username and password required")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrPasswordTooLong    = errors.New("password too long")

	// Session errors.
	ErrAuthRequired    = errors.New("authentication required")
	ErrSessionNotFound = errors.New("session not found")

	// Diagnosis workflow errors.
	ErrRejected             = errors.New("upload rejected")
	ErrClassificationFailed = errors.New("classification failed")

	// Cookie token errors.
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
)
