package credits

import "errors"

var (
	// ErrInsufficientCredits is returned when a store has not enough credits left in the current cycle
	ErrInsufficientCredits = errors.New("insufficient credits")
	// ErrStoreNotFound is returned when the ledger has no account for the store
	ErrStoreNotFound = errors.New("store not found")
	// ErrInvalidAmount is returned for non-positive consume or refund amounts
	ErrInvalidAmount = errors.New("credit amount must be positive")
	// ErrInvalidLimit is returned for negative credit limits
	ErrInvalidLimit = errors.New("credit limit must not be negative")
)
