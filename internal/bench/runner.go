package bench

import (
	"context"
	"fmt"
	"math/rand/v2"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/calvinalkan/memtx/pkg/stm"
)

// Report holds the results of one benchmark run. It marshals to JSON for
// machine consumption; Summary renders it for humans.
type Report struct {
	Config Config `json:"config"`

	ElapsedSeconds float64 `json:"elapsed_seconds"`
	TotalOps       int     `json:"total_ops"`
	OpsPerSecond   float64 `json:"ops_per_second"`

	// Per-op latency in microseconds, over the measured section only.
	LatencyMinUS  float64 `json:"latency_min_us"`
	LatencyMeanUS float64 `json:"latency_mean_us"`
	LatencyP50US  float64 `json:"latency_p50_us"`
	LatencyP99US  float64 `json:"latency_p99_us"`
	LatencyMaxUS  float64 `json:"latency_max_us"`

	// Engine diagnostics accumulated during the measured section.
	Conflicts uint64 `json:"conflicts"`
	Retries   uint64 `json:"retries"`

	// Conservation check: the pool total after the run must equal the
	// number of committed increments (warmup included).
	ExpectedTotal int64 `json:"expected_total"`
	FinalTotal    int64 `json:"final_total"`
}

// Summary renders the report as the human-readable block the driver
// prints after a run.
func (r Report) Summary() string {
	return fmt.Sprintf(
		"goroutines=%d cells=%d ops=%d read_fraction=%.2f strategy=%s\n"+
			"elapsed=%.3fs throughput=%.0f ops/s\n"+
			"latency min=%.1fµs mean=%.1fµs p50=%.1fµs p99=%.1fµs max=%.1fµs\n"+
			"conflicts=%d retries=%d total=%d/%d",
		r.Config.Goroutines, r.Config.Cells, r.TotalOps, r.Config.ReadFraction, r.Config.Strategy,
		r.ElapsedSeconds, r.OpsPerSecond,
		r.LatencyMinUS, r.LatencyMeanUS, r.LatencyP50US, r.LatencyP99US, r.LatencyMaxUS,
		r.Conflicts, r.Retries, r.FinalTotal, r.ExpectedTotal,
	)
}

// Run executes the configured workload and aggregates a [Report].
//
// Each worker alternates between increment transactions against a cell
// picked from the shared pool and read-only transactions reading every
// cell of the pool, in the configured read fraction. Warmup ops run before the
// timed section and are excluded from every latency figure.
//
// Run resets the engine's int64 diagnostics counters; callers that care
// about previous counter values must read them first.
func Run(ctx context.Context, cfg Config) (Report, error) {
	if ctx == nil {
		return Report{}, fmt.Errorf("run: context is nil: %w", ErrConfigInvalid)
	}

	validateErr := cfg.Validate()
	if validateErr != nil {
		return Report{}, fmt.Errorf("run: %w", validateErr)
	}

	cells := make([]*stm.Cell[int64], cfg.Cells)
	for i := range cells {
		cells[i] = stm.NewCell(int64(0))
	}

	opts := cfg.engineOptions()

	var writeOps atomic.Int64

	// Warmup: unmeasured, concurrent, same shape as the measured section.
	warmupErr := runPhase(ctx, cfg, cells, opts, cfg.WarmupOps, &writeOps, nil)
	if warmupErr != nil {
		return Report{}, warmupErr
	}

	stm.ResetStats[int64]()

	latencies := make([][]time.Duration, cfg.Goroutines)

	start := time.Now()

	measureErr := runPhase(ctx, cfg, cells, opts, cfg.Ops, &writeOps, latencies)
	if measureErr != nil {
		return Report{}, measureErr
	}

	elapsed := time.Since(start)

	stats := stm.StatsFor[int64]()

	var total int64

	for _, c := range cells {
		v, _ := c.Snapshot()
		total += v
	}

	report := buildReport(cfg, elapsed, latencies, stats)
	report.ExpectedTotal = writeOps.Load()
	report.FinalTotal = total

	return report, nil
}

// runPhase runs ops operations per worker. When latencies is non-nil it
// receives one slice per worker.
func runPhase(
	ctx context.Context, cfg Config, cells []*stm.Cell[int64], opts stm.Options,
	ops int, writeOps *atomic.Int64, latencies [][]time.Duration,
) error {
	if ops == 0 {
		return nil
	}

	var wg sync.WaitGroup

	errs := make(chan error, cfg.Goroutines)

	for worker := range cfg.Goroutines {
		wg.Add(1)

		go func(worker int) {
			defer wg.Done()

			// Per-worker source: deterministic per worker index, no
			// contention on a shared RNG.
			rng := rand.New(rand.NewPCG(0x6d656d7478, uint64(worker)))

			var recorded []time.Duration
			if latencies != nil {
				recorded = make([]time.Duration, 0, ops)
			}

			for op := range ops {
				opStart := time.Now()

				var err error

				if rng.Float64() < cfg.ReadFraction {
					err = sumPool(ctx, cells, opts)
				} else {
					err = incrementCell(ctx, cells[op%len(cells)], opts)
					if err == nil {
						writeOps.Add(1)
					}
				}

				if err != nil {
					errs <- fmt.Errorf("worker %d op %d: %w", worker, op, err)

					return
				}

				if latencies != nil {
					recorded = append(recorded, time.Since(opStart))
				}
			}

			if latencies != nil {
				latencies[worker] = recorded
			}
		}(worker)
	}

	wg.Wait()
	close(errs)

	return <-errs
}

func incrementCell(ctx context.Context, c *stm.Cell[int64], opts stm.Options) error {
	return stm.Atomic(ctx, opts, func(tx *stm.Tx[int64]) error {
		v, err := tx.Read(c)
		if err != nil {
			return err
		}

		return tx.Write(c, v+1)
	})
}

func sumPool(ctx context.Context, cells []*stm.Cell[int64], opts stm.Options) error {
	return stm.AtomicRead(ctx, opts, func(tx *stm.Tx[int64]) error {
		for _, c := range cells {
			_, err := tx.Read(c)
			if err != nil {
				return err
			}
		}

		return nil
	})
}

// buildReport merges the per-worker latency slices and computes the
// aggregate figures.
func buildReport(cfg Config, elapsed time.Duration, latencies [][]time.Duration, stats stm.Stats) Report {
	var all []time.Duration

	for _, worker := range latencies {
		all = append(all, worker...)
	}

	slices.Sort(all)

	report := Report{
		Config:         cfg,
		ElapsedSeconds: elapsed.Seconds(),
		TotalOps:       len(all),
		Conflicts:      stats.Conflicts,
		Retries:        stats.Retries,
	}

	if elapsed > 0 {
		report.OpsPerSecond = float64(len(all)) / elapsed.Seconds()
	}

	if len(all) == 0 {
		return report
	}

	var sum time.Duration
	for _, d := range all {
		sum += d
	}

	report.LatencyMinUS = micros(all[0])
	report.LatencyMeanUS = micros(sum / time.Duration(len(all)))
	report.LatencyP50US = micros(percentile(all, 50))
	report.LatencyP99US = micros(percentile(all, 99))
	report.LatencyMaxUS = micros(all[len(all)-1])

	return report
}

// percentile returns the p-th percentile of sorted (nearest-rank).
func percentile(sorted []time.Duration, p int) time.Duration {
	if len(sorted) == 0 {
		return 0
	}

	rank := (len(sorted)*p + 99) / 100
	if rank < 1 {
		rank = 1
	}

	if rank > len(sorted) {
		rank = len(sorted)
	}

	return sorted[rank-1]
}

func micros(d time.Duration) float64 {
	return float64(d.Nanoseconds()) / 1e3
}
