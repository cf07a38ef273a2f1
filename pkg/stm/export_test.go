package stm

// Export internal operations for testing.
// This file is only compiled during tests.

// TryReserveForTesting exposes the commit protocol's reserve primitive.
func (c *Cell[T]) TryReserveForTesting(expected uint64) bool {
	return c.tryReserve(expected)
}

// AbortReleaseForTesting releases a reservation without publishing.
func (c *Cell[T]) AbortReleaseForTesting() {
	c.abortRelease()
}

// PublishForTesting publishes v under a reservation held by the caller.
func (c *Cell[T]) PublishForTesting(v T) {
	c.publish(v)
}

// NewTxForTesting creates a bare transaction context without the engine.
func NewTxForTesting[T any](mode Mode) *Tx[T] {
	return newTx[T](mode)
}

// CommitForTesting exposes the three-phase commit.
func (tx *Tx[T]) CommitForTesting() bool {
	return tx.commit()
}

// SnapshotVersionForTesting returns the frozen first-seen version for c,
// and whether one was captured.
func (tx *Tx[T]) SnapshotVersionForTesting(c *Cell[T]) (uint64, bool) {
	ver, ok := tx.snapshots[c]

	return ver, ok
}
