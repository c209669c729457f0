// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import "errors"

// Common sentinels across repo/service layers.
var (
	// ErrNotFound indicates the requested file record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrUnauthorized indicates a download key or owner mismatch. The two cases are
	// deliberately not distinguished.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrEmptyPayload indicates an upload with zero bytes of content.
	ErrEmptyPayload = errors.New("empty payload")

	// ErrAuthenticationFailure indicates the AEAD tag did not verify (tampered
	// ciphertext, wrong key or wrong nonce).
	ErrAuthenticationFailure = errors.New("authentication failure")

	// ErrInvalidArgument indicates malformed caller input.
	ErrInvalidArgument = errors.New("invalid argument")
)
