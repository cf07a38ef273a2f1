package stm_test

import (
	"flag"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/calvinalkan/memtx/pkg/stm"
)

// Duration for stress-style concurrency tests.
// Override via: go test ./pkg/stm -stm.concurrency-stress=10s.
var flagConcurrencyStress = flag.Duration(
	"stm.concurrency-stress", 1*time.Second,
	"duration for stm concurrency stress tests",
)

func stressDuration() time.Duration {
	if testing.Short() {
		return 250 * time.Millisecond
	}

	return *flagConcurrencyStress
}

// contentionOpts gives stressed increments a generous budget with short
// sleeps so tests finish quickly even under heavy scheduling noise.
func contentionOpts() stm.Options {
	return stm.Options{
		MaxAttempts: 10_000,
		BaseDelay:   time.Millisecond,
		MaxDelay:    5 * time.Millisecond,
		Strategy:    stm.BackoffExponentialJitter,
	}
}

func Test_NoLostUpdates_Under_Concurrent_Increments(t *testing.T) {
	t.Parallel()

	const (
		goroutines = 32
		increments = 50
	)

	c := stm.NewCell(0)

	var wg sync.WaitGroup

	for range goroutines {
		wg.Add(1)

		go func() {
			defer wg.Done()

			for range increments {
				err := stm.Atomic(t.Context(), contentionOpts(), increment(c))
				if err != nil {
					t.Errorf("increment failed: %v", err)

					return
				}
			}
		}()
	}

	wg.Wait()

	v, ver := c.Snapshot()
	if v != goroutines*increments {
		t.Errorf("lost updates: expected %d, got %d", goroutines*increments, v)
	}

	if ver&1 != 0 {
		t.Errorf("cell left reserved: version %d", ver)
	}
}

func Test_Snapshot_Never_Observes_Torn_Pairs_While_Writers_Commit(t *testing.T) {
	t.Parallel()

	// Writers alternate between two recognizable patterns; any other
	// observed value means a torn read.
	const (
		patternA = int64(0x00FF00FF00FF00FF)
		patternB = int64(0x0100010001000100)
	)

	c := stm.NewCell(patternA)

	deadline := time.Now().Add(stressDuration())

	var wg sync.WaitGroup

	nReaders := max(2, runtime.GOMAXPROCS(0))

	for range nReaders {
		wg.Add(1)

		go func() {
			defer wg.Done()

			for time.Now().Before(deadline) {
				v, ver := c.Snapshot()

				if v != patternA && v != patternB {
					t.Errorf("torn snapshot value: got 0x%016X", uint64(v))

					return
				}

				if ver&1 != 0 {
					t.Errorf("snapshot returned odd version %d", ver)

					return
				}
			}
		}()
	}

	// Two direct writers and one transactional writer keep the version
	// moving the whole time.
	for writer := range 3 {
		wg.Add(1)

		go func(transactional bool) {
			defer wg.Done()

			i := 0

			for time.Now().Before(deadline) {
				val := patternA
				if i%2 == 1 {
					val = patternB
				}

				if transactional {
					err := stm.Atomic(t.Context(), contentionOpts(), func(tx *stm.Tx[int64]) error {
						return tx.Write(c, val)
					})
					if err != nil {
						t.Errorf("transactional write failed: %v", err)

						return
					}
				} else {
					c.Set(val)
				}

				i++
			}
		}(writer == 0)
	}

	wg.Wait()
}

func Test_Transactional_Readers_Never_Observe_Partial_MultiCell_Commits(t *testing.T) {
	t.Parallel()

	// Two accounts with a conserved total. Transfers move random-ish
	// amounts between them; a reader transaction that ever observes a
	// different total has seen a partial commit.
	const total = 1000

	a := stm.NewCell(total)
	b := stm.NewCell(0)

	deadline := time.Now().Add(stressDuration())

	var wg sync.WaitGroup

	for range 4 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			amount := 1

			for time.Now().Before(deadline) {
				err := stm.Atomic(t.Context(), contentionOpts(), func(tx *stm.Tx[int]) error {
					va, readErr := tx.Read(a)
					if readErr != nil {
						return readErr
					}

					vb, readErr := tx.Read(b)
					if readErr != nil {
						return readErr
					}

					if va < amount {
						// Move everything back instead.
						writeErr := tx.Write(a, va+vb)
						if writeErr != nil {
							return writeErr
						}

						return tx.Write(b, 0)
					}

					writeErr := tx.Write(a, va-amount)
					if writeErr != nil {
						return writeErr
					}

					return tx.Write(b, vb+amount)
				})
				if err != nil {
					t.Errorf("transfer failed: %v", err)

					return
				}

				amount = amount%7 + 1
			}
		}()
	}

	for range 4 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			for time.Now().Before(deadline) {
				var va, vb int

				err := stm.AtomicRead(t.Context(), contentionOpts(), func(tx *stm.Tx[int]) error {
					var readErr error

					va, readErr = tx.Read(a)
					if readErr != nil {
						return readErr
					}

					vb, readErr = tx.Read(b)

					return readErr
				})
				if err != nil {
					t.Errorf("read transaction failed: %v", err)

					return
				}

				if va+vb != total {
					t.Errorf("observed partial commit: %d + %d != %d", va, vb, total)

					return
				}
			}
		}()
	}

	wg.Wait()

	va, _ := a.Snapshot()
	vb, _ := b.Snapshot()

	if va+vb != total {
		t.Errorf("total not conserved: %d + %d != %d", va, vb, total)
	}
}

func Test_Overlapping_WriteSets_Commit_Without_Deadlock(t *testing.T) {
	t.Parallel()

	// Every transaction touches the same three cells, discovered in a
	// different order per goroutine. The ordered reservation must keep
	// them from circular-waiting.
	cells := []*stm.Cell[int]{stm.NewCell(0), stm.NewCell(0), stm.NewCell(0)}

	orders := [][]int{
		{0, 1, 2},
		{2, 1, 0},
		{1, 0, 2},
		{0, 2, 1},
		{2, 0, 1},
		{1, 2, 0},
	}

	const rounds = 25

	var wg sync.WaitGroup

	for _, order := range orders {
		wg.Add(1)

		go func(order []int) {
			defer wg.Done()

			for range rounds {
				err := stm.Atomic(t.Context(), contentionOpts(), func(tx *stm.Tx[int]) error {
					for _, idx := range order {
						v, readErr := tx.Read(cells[idx])
						if readErr != nil {
							return readErr
						}

						writeErr := tx.Write(cells[idx], v+1)
						if writeErr != nil {
							return writeErr
						}
					}

					return nil
				})
				if err != nil {
					t.Errorf("transaction failed: %v", err)

					return
				}
			}
		}(order)
	}

	wg.Wait()

	want := len(orders) * rounds

	for i, c := range cells {
		v, ver := c.Snapshot()
		if v != want {
			t.Errorf("cell %d: expected %d, got %d", i, want, v)
		}

		if ver&1 != 0 {
			t.Errorf("cell %d left reserved: version %d", i, ver)
		}
	}
}
