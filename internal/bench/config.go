// Package bench runs contention benchmarks against the stm core and
// reports per-op latency, throughput, and engine diagnostics.
package bench

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/tailscale/hujson"

	"github.com/calvinalkan/memtx/pkg/stm"
)

// Config errors.
var (
	ErrConfigNotFound = errors.New("bench: config file not found")
	ErrConfigInvalid  = errors.New("bench: invalid config")
)

// Config holds all benchmark parameters. Files are JSONC (JSON with
// comments and trailing commas), so a checked-in config can document
// itself.
type Config struct {
	// Goroutines is the number of concurrent workers.
	Goroutines int `json:"goroutines"`

	// Ops is the number of measured operations per worker.
	Ops int `json:"ops"`

	// Cells is the size of the shared cell pool; fewer cells means more
	// contention.
	Cells int `json:"cells"`

	// ReadFraction is the fraction of operations that run as read-only
	// transactions reading every cell of the pool, in [0, 1].
	ReadFraction float64 `json:"read_fraction"`

	// WarmupOps is the number of unmeasured operations per worker before
	// the timed section.
	WarmupOps int `json:"warmup_ops"`

	// MaxAttempts, BaseDelayMS, MaxDelayMS, and Strategy configure the
	// engine; see the stm package.
	MaxAttempts int    `json:"max_attempts"`
	BaseDelayMS int    `json:"base_delay_ms"`
	MaxDelayMS  int    `json:"max_delay_ms"`
	Strategy    string `json:"strategy"`
}

// DefaultConfig returns a moderately contended workload.
func DefaultConfig() Config {
	return Config{
		Goroutines:   8,
		Ops:          10_000,
		Cells:        4,
		ReadFraction: 0.2,
		WarmupOps:    1_000,
		MaxAttempts:  10_000,
		BaseDelayMS:  1,
		MaxDelayMS:   10,
		Strategy:     stm.BackoffExponentialJitter.String(),
	}
}

// LoadConfig loads configuration with the following precedence (highest
// wins): defaults, then the config file at path. An empty path means
// defaults only; a non-empty path must exist.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		return cfg, nil
	}

	data, readErr := os.ReadFile(path) //nolint:gosec // path is intentionally user-controlled
	if readErr != nil {
		if os.IsNotExist(readErr) {
			return Config{}, fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}

		return Config{}, fmt.Errorf("%w %s: %w", ErrConfigInvalid, path, readErr)
	}

	fileCfg, parseErr := parseConfig(data)
	if parseErr != nil {
		return Config{}, fmt.Errorf("%w %s: %w", ErrConfigInvalid, path, parseErr)
	}

	cfg = mergeConfig(cfg, fileCfg)

	validateErr := cfg.Validate()
	if validateErr != nil {
		return Config{}, fmt.Errorf("%w %s: %w", ErrConfigInvalid, path, validateErr)
	}

	return cfg, nil
}

func parseConfig(data []byte) (Config, error) {
	// Standardize JSONC to JSON.
	standardized, err := hujson.Standardize(data)
	if err != nil {
		return Config{}, fmt.Errorf("invalid JSONC: %w", err)
	}

	var cfg Config

	unmarshalErr := json.Unmarshal(standardized, &cfg)
	if unmarshalErr != nil {
		return Config{}, fmt.Errorf("invalid JSON: %w", unmarshalErr)
	}

	return cfg, nil
}

// mergeConfig overlays non-zero fields of overlay onto base.
//
// ReadFraction merges on != 0 like the rest, so an explicit 0.0 in a file
// is indistinguishable from absent and keeps the default; use a tiny
// value to mean "effectively no reads".
func mergeConfig(base, overlay Config) Config {
	if overlay.Goroutines != 0 {
		base.Goroutines = overlay.Goroutines
	}

	if overlay.Ops != 0 {
		base.Ops = overlay.Ops
	}

	if overlay.Cells != 0 {
		base.Cells = overlay.Cells
	}

	if overlay.ReadFraction != 0 {
		base.ReadFraction = overlay.ReadFraction
	}

	if overlay.WarmupOps != 0 {
		base.WarmupOps = overlay.WarmupOps
	}

	if overlay.MaxAttempts != 0 {
		base.MaxAttempts = overlay.MaxAttempts
	}

	if overlay.BaseDelayMS != 0 {
		base.BaseDelayMS = overlay.BaseDelayMS
	}

	if overlay.MaxDelayMS != 0 {
		base.MaxDelayMS = overlay.MaxDelayMS
	}

	if overlay.Strategy != "" {
		base.Strategy = overlay.Strategy
	}

	return base
}

// Validate rejects impossible workloads.
func (c Config) Validate() error {
	if c.Goroutines < 1 {
		return fmt.Errorf("goroutines must be >= 1, got %d: %w", c.Goroutines, ErrConfigInvalid)
	}

	if c.Ops < 1 {
		return fmt.Errorf("ops must be >= 1, got %d: %w", c.Ops, ErrConfigInvalid)
	}

	if c.Cells < 1 {
		return fmt.Errorf("cells must be >= 1, got %d: %w", c.Cells, ErrConfigInvalid)
	}

	if c.ReadFraction < 0 || c.ReadFraction > 1 {
		return fmt.Errorf("read_fraction must be in [0, 1], got %g: %w", c.ReadFraction, ErrConfigInvalid)
	}

	if c.WarmupOps < 0 {
		return fmt.Errorf("warmup_ops must be >= 0, got %d: %w", c.WarmupOps, ErrConfigInvalid)
	}

	if c.MaxAttempts < 1 {
		return fmt.Errorf("max_attempts must be >= 1, got %d: %w", c.MaxAttempts, ErrConfigInvalid)
	}

	if c.BaseDelayMS < 1 || c.MaxDelayMS < 1 {
		return fmt.Errorf("delays must be >= 1ms, got base=%d max=%d: %w", c.BaseDelayMS, c.MaxDelayMS, ErrConfigInvalid)
	}

	_, err := stm.ParseStrategy(c.Strategy)
	if err != nil {
		return fmt.Errorf("%v: %w", err, ErrConfigInvalid) //nolint:errorlint // keep ErrConfigInvalid as the Is target
	}

	return nil
}

// engineOptions converts the config into stm engine options.
// Validate must have accepted c first.
func (c Config) engineOptions() stm.Options {
	strategy, _ := stm.ParseStrategy(c.Strategy)

	return stm.Options{
		MaxAttempts: c.MaxAttempts,
		BaseDelay:   msToDuration(c.BaseDelayMS),
		MaxDelay:    msToDuration(c.MaxDelayMS),
		Strategy:    strategy,
		Mode:        stm.ReadWrite,
	}
}

func msToDuration(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
