// Package stm provides software transactional memory: shared memory cells
// whose reads and writes are grouped into atomic transactions committed with
// serializable isolation and without runtime mutexes.
//
// A transaction is a closure over a [Tx]. The engine runs it optimistically,
// validates its view of the world at commit time, and retries under a
// configurable backoff policy until success, cancellation, or attempt
// exhaustion:
//
//	c := stm.NewCell(0)
//
//	err := stm.Atomic(ctx, stm.DefaultOptions(), func(tx *stm.Tx[int]) error {
//	    v, err := tx.Read(c)
//	    if err != nil {
//	        return err
//	    }
//
//	    return tx.Write(c, v+1)
//	})
//
// # Concurrency
//
// Cells are freely shared between goroutines; only their internal atomics
// are mutated. Each [Cell] is a single-value seqlock: a monotonic version
// counter whose parity encodes the reservation state (even = free, odd =
// reserved by exactly one committer). A [Tx] is private to one attempt and
// must never be shared or retained after the body returns.
//
// Commits reserve their write set in ascending cell ID order, revalidate
// every first-seen snapshot, and only then publish. The ordered acquisition
// is the sole deadlock defence; the protocol uses no locks, condition
// variables, or semaphores.
//
// # Retry semantics
//
// The body is re-run from scratch on every attempt, so it must be idempotent
// with respect to its own external side effects; the engine cannot roll
// those back. Writes to cells are rolled back for free because they live
// only in the transaction's buffer until commit.
//
// # Error Handling
//
// Conflicts are handled internally and never surface. The engine itself
// introduces exactly two failure modes: [ErrAttemptsExhausted] when the
// attempt budget runs out, and the context's error when cancellation is
// observed between attempts or during the inter-attempt sleep. Programmer
// errors ([ErrReadOnly], [ErrNilCell]) fail fast and are never retried.
// Any other error returned by the body propagates unchanged and discards
// the attempt's buffered writes.
package stm
