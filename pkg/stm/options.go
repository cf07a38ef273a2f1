package stm

import (
	"fmt"
	"time"
)

// Mode controls whether a transaction may write.
type Mode uint8

const (
	// ReadWrite transactions may read and write cells. The default.
	ReadWrite Mode = iota

	// ReadOnly transactions reject writes with [ErrReadOnly]. Their commit
	// only validates that every observed snapshot is still current.
	ReadOnly
)

// Default option values.
const (
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = 100 * time.Millisecond
	DefaultMaxDelay    = 2000 * time.Millisecond
)

// Options configure one [Atomic] call.
//
// The zero value is usable: zero fields fall back to the defaults
// (3 attempts, 100ms base, 2s cap, [BackoffExponentialJitter],
// [ReadWrite]).
type Options struct {
	// MaxAttempts is the upper bound on commit attempts before [Atomic]
	// fails with [ErrAttemptsExhausted]. Must be >= 1. 0 means default.
	MaxAttempts int

	// BaseDelay is the base of the backoff computation. Must be >= 1ms.
	// 0 means default.
	BaseDelay time.Duration

	// MaxDelay caps any single backoff interval. Must be >= 1ms.
	// 0 means default.
	MaxDelay time.Duration

	// Strategy selects the backoff curve.
	Strategy Strategy

	// Mode disallows writes when [ReadOnly].
	Mode Mode
}

// DefaultOptions returns the default configuration.
func DefaultOptions() Options {
	return Options{
		MaxAttempts: DefaultMaxAttempts,
		BaseDelay:   DefaultBaseDelay,
		MaxDelay:    DefaultMaxDelay,
		Strategy:    BackoffExponentialJitter,
		Mode:        ReadWrite,
	}
}

// withDefaults fills zero fields with their defaults.
func (o Options) withDefaults() Options {
	if o.MaxAttempts == 0 {
		o.MaxAttempts = DefaultMaxAttempts
	}

	if o.BaseDelay == 0 {
		o.BaseDelay = DefaultBaseDelay
	}

	if o.MaxDelay == 0 {
		o.MaxDelay = DefaultMaxDelay
	}

	return o
}

// validate rejects out-of-range fields. Called after withDefaults, so only
// explicitly invalid values reach it.
func (o Options) validate() error {
	if o.MaxAttempts < 1 {
		return fmt.Errorf("max attempts must be >= 1, got %d: %w", o.MaxAttempts, ErrInvalidOptions)
	}

	if o.BaseDelay < time.Millisecond {
		return fmt.Errorf("base delay must be >= 1ms, got %s: %w", o.BaseDelay, ErrInvalidOptions)
	}

	if o.MaxDelay < time.Millisecond {
		return fmt.Errorf("max delay must be >= 1ms, got %s: %w", o.MaxDelay, ErrInvalidOptions)
	}

	if o.Strategy > BackoffExponential {
		return fmt.Errorf("unknown backoff strategy %d: %w", o.Strategy, ErrInvalidOptions)
	}

	if o.Mode > ReadOnly {
		return fmt.Errorf("unknown mode %d: %w", o.Mode, ErrInvalidOptions)
	}

	return nil
}
