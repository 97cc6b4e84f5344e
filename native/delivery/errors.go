package delivery

import "errors"

// Stable error discriminants for every rejection the engine can produce.
// Callers branch on these with errors.Is; the wrapped text carries the
// human-readable reason. No rejection mutates state.
var (
	ErrNotFound           = errors.New("delivery: not found")
	ErrUnauthorized       = errors.New("delivery: unauthorized")
	ErrInvalidState       = errors.New("delivery: invalid state")
	ErrValidation         = errors.New("delivery: validation failed")
	ErrTokenNotSupported  = errors.New("delivery: token not supported")
	ErrInvalidNonce       = errors.New("delivery: invalid nonce")
	ErrDeadlineNotReached = errors.New("delivery: deadline not reached")
	ErrAlreadyInitialized = errors.New("delivery: already initialized")
	ErrNotOwner           = errors.New("delivery: caller is not the owner")
	ErrInsufficientFunds  = errors.New("delivery: insufficient balance")
)
