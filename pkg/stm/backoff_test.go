package stm_test

import (
	"testing"
	"time"

	"github.com/calvinalkan/memtx/pkg/stm"
)

func TestDelay_Constant(t *testing.T) {
	t.Parallel()

	for attempt := range 10 {
		d := stm.Delay(stm.BackoffConstant, attempt, 100*time.Millisecond, 2*time.Second)
		if d != 100*time.Millisecond {
			t.Errorf("attempt %d: expected 100ms, got %s", attempt, d)
		}
	}
}

func TestDelay_Linear(t *testing.T) {
	t.Parallel()

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{attempt: 0, want: 10 * time.Millisecond},
		{attempt: 1, want: 20 * time.Millisecond},
		{attempt: 4, want: 50 * time.Millisecond},
		{attempt: 1000, want: 200 * time.Millisecond}, // capped
	}

	for _, tc := range tests {
		d := stm.Delay(stm.BackoffLinear, tc.attempt, 10*time.Millisecond, 200*time.Millisecond)
		if d != tc.want {
			t.Errorf("attempt %d: expected %s, got %s", tc.attempt, tc.want, d)
		}
	}
}

func TestDelay_Exponential(t *testing.T) {
	t.Parallel()

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{attempt: 0, want: 10 * time.Millisecond},
		{attempt: 1, want: 20 * time.Millisecond},
		{attempt: 3, want: 80 * time.Millisecond},
		{attempt: 10, want: 500 * time.Millisecond}, // capped
	}

	for _, tc := range tests {
		d := stm.Delay(stm.BackoffExponential, tc.attempt, 10*time.Millisecond, 500*time.Millisecond)
		if d != tc.want {
			t.Errorf("attempt %d: expected %s, got %s", tc.attempt, tc.want, d)
		}
	}
}

func TestDelay_ExponentialDoesNotOverflowAtLargeAttempts(t *testing.T) {
	t.Parallel()

	// Attempt numbers far past the shift cap must clamp to max, not wrap.
	for _, attempt := range []int{30, 31, 62, 63, 1 << 20} {
		d := stm.Delay(stm.BackoffExponential, attempt, time.Hour, 2*time.Second)
		if d != 2*time.Second {
			t.Errorf("attempt %d: expected 2s cap, got %s", attempt, d)
		}
	}
}

func TestDelay_JitterStaysWithinCap(t *testing.T) {
	t.Parallel()

	const maxDelay = 100 * time.Millisecond

	for attempt := range 64 {
		for range 50 {
			d := stm.Delay(stm.BackoffExponentialJitter, attempt, 10*time.Millisecond, maxDelay)
			if d < 0 || d > maxDelay {
				t.Fatalf("attempt %d: jitter delay %s outside [0, %s]", attempt, d, maxDelay)
			}
		}
	}
}

func TestDelay_ClampsDegenerateInputs(t *testing.T) {
	t.Parallel()

	// base = max = 1ms with Constant never exceeds the cap.
	d := stm.Delay(stm.BackoffConstant, 5, time.Millisecond, time.Millisecond)
	if d != time.Millisecond {
		t.Errorf("expected 1ms, got %s", d)
	}

	// Zero and negative inputs clamp to the 1ms floor.
	d = stm.Delay(stm.BackoffConstant, -3, 0, 0)
	if d != time.Millisecond {
		t.Errorf("expected 1ms for clamped inputs, got %s", d)
	}

	d = stm.Delay(stm.BackoffLinear, -1, -time.Second, -time.Second)
	if d != time.Millisecond {
		t.Errorf("expected 1ms for negative inputs, got %s", d)
	}
}

func TestDelay_DeterministicStrategiesArePure(t *testing.T) {
	t.Parallel()

	for _, s := range []stm.Strategy{stm.BackoffConstant, stm.BackoffLinear, stm.BackoffExponential} {
		a := stm.Delay(s, 7, 30*time.Millisecond, time.Second)
		b := stm.Delay(s, 7, 30*time.Millisecond, time.Second)

		if a != b {
			t.Errorf("strategy %s: two identical calls returned %s and %s", s, a, b)
		}
	}
}

func TestParseStrategy_RoundTripsNames(t *testing.T) {
	t.Parallel()

	for _, s := range []stm.Strategy{
		stm.BackoffExponentialJitter,
		stm.BackoffConstant,
		stm.BackoffLinear,
		stm.BackoffExponential,
	} {
		parsed, err := stm.ParseStrategy(s.String())
		if err != nil {
			t.Fatalf("ParseStrategy(%q) failed: %v", s.String(), err)
		}

		if parsed != s {
			t.Errorf("ParseStrategy(%q) = %v, want %v", s.String(), parsed, s)
		}
	}

	_, err := stm.ParseStrategy("fibonacci")
	if err == nil {
		t.Error("expected error for unknown strategy name")
	}
}

func FuzzDelay_NeverExceedsClampedCap(f *testing.F) {
	f.Add(uint8(0), 3, int64(100), int64(2000))
	f.Add(uint8(1), 0, int64(1), int64(1))
	f.Add(uint8(2), 62, int64(1<<40), int64(5))
	f.Add(uint8(3), -7, int64(-50), int64(0))

	f.Fuzz(func(t *testing.T, strategy uint8, attempt int, baseMS, maxMS int64) {
		base := time.Duration(baseMS) * time.Millisecond
		max := time.Duration(maxMS) * time.Millisecond

		d := stm.Delay(stm.Strategy(strategy), attempt, base, max)

		ceiling := max
		if ceiling < time.Millisecond {
			ceiling = time.Millisecond
		}

		if d < 0 {
			t.Fatalf("negative delay %s", d)
		}

		if d > ceiling {
			t.Fatalf("delay %s exceeds clamped cap %s", d, ceiling)
		}
	})
}
