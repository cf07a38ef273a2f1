package stm

import (
	"cmp"
	"slices"
)

// Tx buffers one attempt's reads and writes until commit publishes them
// atomically. The zero value is not usable; [Atomic] creates one Tx per
// attempt and discards it afterwards.
//
// A Tx is private to the attempt that runs it: it must not be shared
// between goroutines or retained after the body returns.
//
// All maps are keyed by cell identity (the *Cell pointer), never by the
// stored value: two distinct cells holding equal values are distinct keys.
//
// For every cell observed — read or written — the first version seen is
// frozen for the life of the attempt and never refreshed. The attempt
// either commits against that original view of the world or aborts; this
// is what makes the schedule serializable.
type Tx[T any] struct {
	reads     map[*Cell[T]]T
	writes    map[*Cell[T]]T
	snapshots map[*Cell[T]]uint64
	readOnly  bool
	stats     *counters
}

// newTx creates the context for one commit attempt.
func newTx[T any](mode Mode) *Tx[T] {
	return &Tx[T]{
		reads:     make(map[*Cell[T]]T),
		writes:    make(map[*Cell[T]]T),
		snapshots: make(map[*Cell[T]]uint64),
		readOnly:  mode == ReadOnly,
		stats:     countersFor[T](),
	}
}

// Read returns the cell's value as seen by this transaction.
//
// A cell written earlier in the same attempt returns the buffered value
// (read-your-own-writes); a cell read earlier returns the cached value.
// Otherwise the cell is snapshot, cached, and its first-seen version
// frozen for commit-time validation.
func (tx *Tx[T]) Read(c *Cell[T]) (T, error) {
	if c == nil {
		var zero T

		return zero, ErrNilCell
	}

	if v, ok := tx.writes[c]; ok {
		return v, nil
	}

	if v, ok := tx.reads[c]; ok {
		return v, nil
	}

	v, ver := c.Snapshot()

	tx.reads[c] = v
	if _, ok := tx.snapshots[c]; !ok {
		tx.snapshots[c] = ver
	}

	return v, nil
}

// Write buffers v as the cell's pending value. Nothing reaches the cell
// until commit; subsequent Reads in this attempt see v.
//
// Write fails with [ErrReadOnly] on a read-only transaction.
func (tx *Tx[T]) Write(c *Cell[T], v T) error {
	if c == nil {
		return ErrNilCell
	}

	if tx.readOnly {
		return ErrReadOnly
	}

	tx.writes[c] = v
	tx.reads[c] = v

	if _, ok := tx.snapshots[c]; !ok {
		// Only the version matters here: the buffered write wins over the
		// observed value for this transaction's reads.
		_, ver := c.Snapshot()
		tx.snapshots[c] = ver
	}

	return nil
}

// ReadOnly reports whether this transaction rejects writes.
func (tx *Tx[T]) ReadOnly() bool {
	return tx.readOnly
}

// commit attempts to install the write set. It returns false on conflict,
// in which case no cell was modified and every reservation taken along the
// way has been released. The commit sequence:
//
//  1. Guard: every written cell must have a frozen snapshot.
//  2. Sort the write set by ascending cell ID. Any two committers with
//     overlapping write sets reserve in the same order, so one of them
//     fails fast on the first contested cell instead of circular-waiting.
//  3. Reserve each cell via CAS from its snapshot version. On failure,
//     release the reservations taken so far in reverse order.
//  4. Revalidate every read-only snapshot: still the same even version.
//  5. Publish the buffered values in acquisition order.
//
// Read-only or write-free transactions take a fast path that only
// revalidates snapshots.
func (tx *Tx[T]) commit() bool {
	if tx.readOnly || len(tx.writes) == 0 {
		for c, ver := range tx.snapshots {
			if c.version.Load() != ver {
				tx.stats.conflicts.Add(1)

				return false
			}
		}

		return true
	}

	// Step 1+2: collect and order the write set.
	order := make([]*Cell[T], 0, len(tx.writes))

	for c := range tx.writes {
		if _, ok := tx.snapshots[c]; !ok {
			tx.stats.conflicts.Add(1)

			return false
		}

		order = append(order, c)
	}

	slices.SortFunc(order, func(a, b *Cell[T]) int {
		return cmp.Compare(a.id, b.id)
	})

	// Step 3: reserve in ascending ID order.
	reserved := 0

	for _, c := range order {
		if !c.tryReserve(tx.snapshots[c]) {
			tx.releaseReserved(order, reserved)

			return false
		}

		reserved++
	}

	// Step 4: revalidate reads that are not also writes.
	for c, ver := range tx.snapshots {
		if _, willWrite := tx.writes[c]; willWrite {
			continue
		}

		cur := c.version.Load()
		if cur != ver || cur&1 == 1 {
			tx.releaseReserved(order, reserved)

			return false
		}
	}

	// Step 5: publish in acquisition order.
	for _, c := range order {
		c.publish(tx.writes[c])
	}

	return true
}

// releaseReserved aborts the first n reservations of order in reverse
// order and records the conflict.
func (tx *Tx[T]) releaseReserved(order []*Cell[T], n int) {
	for i := n - 1; i >= 0; i-- {
		order[i].abortRelease()
	}

	tx.stats.conflicts.Add(1)
}
