// README: Error kinds shared across modules; module sentinels wrap these.
package types

import "errors"

var (
	// ErrReferenceNotFound: a caller-supplied id does not resolve. Never retried.
	ErrReferenceNotFound = errors.New("reference not found")
	// ErrInvalidStateTransition: the order status graph forbids the change.
	ErrInvalidStateTransition = errors.New("invalid state transition")
	// ErrInsufficientFunds: a debit would drive a wallet balance negative.
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrAlreadyExists: duplicate creation of a once-only record.
	ErrAlreadyExists = errors.New("already exists")
	// ErrExternalProvider: weather, maps or payment gateway unreachable or invalid.
	ErrExternalProvider = errors.New("external provider failure")
	// ErrValidation: request rejected by business validation.
	ErrValidation = errors.New("validation failed")
)
