package stm

import "errors"

// Error classification codes.
//
// The engine MAY wrap these errors with additional context.
// Callers MUST classify errors using errors.Is.
var (
	// ErrReadOnly indicates a write was attempted on a read-only transaction.
	// Surfaced immediately; the transaction is not retried.
	ErrReadOnly = errors.New("stm: write on read-only transaction")

	// ErrNilCell indicates a nil cell was passed to Read or Write.
	ErrNilCell = errors.New("stm: nil cell")

	// ErrAttemptsExhausted indicates the commit attempt budget ran out
	// without a successful commit.
	ErrAttemptsExhausted = errors.New("stm: attempts exhausted")

	// ErrInvalidOptions indicates an Options field is out of range.
	ErrInvalidOptions = errors.New("stm: invalid options")
)
