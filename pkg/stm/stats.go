package stm

import (
	"reflect"
	"sync"
	"sync/atomic"
)

// Stats is a point-in-time snapshot of the diagnostics counters for one
// value type. Counters are a debugging aid, never a correctness input.
type Stats struct {
	// Conflicts counts commit attempts that failed validation: a reserve
	// that lost a race or a snapshot that went stale.
	Conflicts uint64

	// Retries counts attempts the engine re-ran after a conflict.
	Retries uint64
}

// counters holds the live atomics behind a [Stats] snapshot.
type counters struct {
	conflicts atomic.Uint64
	retries   atomic.Uint64
}

// statsRegistry maps value types to their counters. Scoping the counters
// per element type keeps unrelated workloads from polluting each other's
// numbers.
var statsRegistry sync.Map // map[reflect.Type]*counters

// countersFor returns the counters for T, creating them on first use.
func countersFor[T any]() *counters {
	key := reflect.TypeFor[T]()

	if val, ok := statsRegistry.Load(key); ok {
		if c, typeOk := val.(*counters); typeOk {
			return c
		}
	}

	c := &counters{}

	actual, _ := statsRegistry.LoadOrStore(key, c)
	if stored, typeOk := actual.(*counters); typeOk {
		return stored
	}

	// Fallback: should never happen if we're consistent.
	return c
}

// Conflicts returns the number of commit conflicts observed for cells of
// type T since the last [ResetStats].
func Conflicts[T any]() uint64 {
	return countersFor[T]().conflicts.Load()
}

// Retries returns the number of attempt retries observed for cells of
// type T since the last [ResetStats].
func Retries[T any]() uint64 {
	return countersFor[T]().retries.Load()
}

// StatsFor returns both counters for T in one snapshot. The two loads are
// not mutually atomic; under concurrent commits the pair is approximate.
func StatsFor[T any]() Stats {
	c := countersFor[T]()

	return Stats{
		Conflicts: c.conflicts.Load(),
		Retries:   c.retries.Load(),
	}
}

// ResetStats zeroes both counters for T. Reset is the only way the
// counters decrease.
func ResetStats[T any]() {
	c := countersFor[T]()
	c.conflicts.Store(0)
	c.retries.Store(0)
}
