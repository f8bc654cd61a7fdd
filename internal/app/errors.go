package app

import "errors"

var (
	// ErrNotFound indicates an unknown document or signer.
	ErrNotFound = errors.New("not found")
	// ErrForbidden indicates the caller does not own the document.
	ErrForbidden = errors.New("forbidden")
	// ErrInvalidStatus indicates the document is not in a state that
	// allows the requested operation.
	ErrInvalidStatus = errors.New("invalid document status")

	// Turn violations. Status-specific so the client can explain why.
	ErrNotYourTurn   = errors.New("not your turn yet")
	ErrAlreadySigned = errors.New("already signed")
	ErrDeclined      = errors.New("signing was declined")

	// ErrIncompleteBatch rejects a sign submission that does not cover
	// every assigned placeholder exactly once.
	ErrIncompleteBatch = errors.New("all assigned placeholders must be signed in one batch")
	// ErrValidation covers malformed sender input rejected before any
	// state mutation.
	ErrValidation = errors.New("validation failed")
)
