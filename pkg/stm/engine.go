package stm

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Atomic runs body as a transaction: optimistically, with conflict
// detection against concurrent commits, retried under opts' backoff policy
// until success, cancellation, or attempt exhaustion.
//
// The body receives a fresh [Tx] on every attempt and is always re-run
// from scratch after a conflict, so it must be idempotent with respect to
// its own external side effects. Buffered cell writes are discarded on
// every path except a successful commit.
//
// Errors returned by the body propagate unchanged and terminate the
// transaction without retry. Cancellation is observed between attempts and
// during the inter-attempt sleep, and surfaces as the context's error,
// distinct from [ErrAttemptsExhausted].
func Atomic[T any](ctx context.Context, opts Options, body func(tx *Tx[T]) error) error {
	if ctx == nil {
		return errors.New("atomic: context is nil")
	}

	if body == nil {
		return errors.New("atomic: body is nil")
	}

	opts = opts.withDefaults()

	err := opts.validate()
	if err != nil {
		return fmt.Errorf("atomic: %w", err)
	}

	stats := countersFor[T]()

	for attempt := 1; attempt <= opts.MaxAttempts; attempt++ {
		ctxErr := ctx.Err()
		if ctxErr != nil {
			return fmt.Errorf("atomic: cancelled: %w", ctxErr)
		}

		tx := newTx[T](opts.Mode)

		bodyErr := body(tx)
		if bodyErr != nil {
			return bodyErr
		}

		if tx.commit() {
			return nil
		}

		// Out of attempts: report exhaustion without a pointless sleep.
		if attempt == opts.MaxAttempts {
			break
		}

		stats.retries.Add(1)

		sleepErr := sleep(ctx, Delay(opts.Strategy, attempt, opts.BaseDelay, opts.MaxDelay))
		if sleepErr != nil {
			return fmt.Errorf("atomic: cancelled: %w", sleepErr)
		}
	}

	return fmt.Errorf("%w after %d attempts", ErrAttemptsExhausted, opts.MaxAttempts)
}

// AtomicRead runs body as a read-only transaction with opts' mode forced
// to [ReadOnly]. A read-only transaction never changes any cell, but it
// can still conflict (and retry) when a snapshot goes stale under it.
func AtomicRead[T any](ctx context.Context, opts Options, body func(tx *Tx[T]) error) error {
	opts.Mode = ReadOnly

	return Atomic(ctx, opts, body)
}

// sleep waits for d or until ctx is done, whichever comes first. The
// timer-plus-select shape keeps the wait cooperative: inside a scheduler,
// peers run while this goroutine parks.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
