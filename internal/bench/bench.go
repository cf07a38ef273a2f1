package bench

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/natefinch/atomic"
	flag "github.com/spf13/pflag"
	"golang.org/x/sys/unix"
)

// Lock errors.
var (
	errLockTimeout  = errors.New("bench: report lock timeout")
	errLockFileOpen = errors.New("bench: failed to open report lock file")
)

// reportLockTimeout bounds the wait for another driver writing into the
// same output directory.
const reportLockTimeout = 5 * time.Second

// Main parses args, runs the benchmark, and prints or writes the report.
// Returns the process exit code: 0 ok, 1 error, 2 flag misuse.
func Main(ctx context.Context, out, errOut io.Writer, args []string) int {
	flags := flag.NewFlagSet("memtx-bench", flag.ContinueOnError)
	flags.SetOutput(errOut)

	flagConfig := flags.StringP("config", "c", "", "JSONC config `file`")
	flagOut := flags.StringP("out", "o", "", "write the JSON report to `file` instead of stdout")
	flagGoroutines := flags.Int("goroutines", 0, "override worker count")
	flagOps := flags.Int("ops", 0, "override measured ops per worker")
	flagCells := flags.Int("cells", 0, "override cell pool size")
	flagStrategy := flags.String("strategy", "", "override backoff strategy")
	flagMaxAttempts := flags.Int("max-attempts", 0, "override the attempt budget")
	flagQuiet := flags.BoolP("quiet", "q", false, "suppress the human-readable summary")

	flags.Usage = func() {
		fmt.Fprint(errOut, "Usage: memtx-bench [flags]\n\n")
		fmt.Fprint(errOut, "Runs a contention benchmark against the stm engine.\n\n")
		fmt.Fprint(errOut, "Flags:\n")
		flags.PrintDefaults()
	}

	parseErr := flags.Parse(args)
	if parseErr != nil {
		if errors.Is(parseErr, flag.ErrHelp) {
			return 0
		}

		return 2
	}

	if flags.NArg() > 0 {
		fmt.Fprintf(errOut, "error: unexpected arguments: %s\n", strings.Join(flags.Args(), " "))
		flags.Usage()

		return 2
	}

	cfg, cfgErr := LoadConfig(*flagConfig)
	if cfgErr != nil {
		fmt.Fprintln(errOut, "error:", cfgErr)

		return 1
	}

	// Flag overrides beat the config file.
	if *flagGoroutines != 0 {
		cfg.Goroutines = *flagGoroutines
	}

	if *flagOps != 0 {
		cfg.Ops = *flagOps
	}

	if *flagCells != 0 {
		cfg.Cells = *flagCells
	}

	if *flagStrategy != "" {
		cfg.Strategy = *flagStrategy
	}

	if *flagMaxAttempts != 0 {
		cfg.MaxAttempts = *flagMaxAttempts
	}

	validateErr := cfg.Validate()
	if validateErr != nil {
		fmt.Fprintln(errOut, "error:", validateErr)

		return 1
	}

	report, runErr := Run(ctx, cfg)
	if runErr != nil {
		fmt.Fprintln(errOut, "error:", runErr)

		return 1
	}

	if !*flagQuiet {
		fmt.Fprintln(out, report.Summary())
	}

	if *flagOut != "" {
		writeErr := WriteReport(*flagOut, report)
		if writeErr != nil {
			fmt.Fprintln(errOut, "error:", writeErr)

			return 1
		}

		if !*flagQuiet {
			fmt.Fprintf(out, "report written to %s\n", *flagOut)
		}

		return 0
	}

	if *flagQuiet {
		// Quiet with no --out still emits the machine-readable report.
		data, marshalErr := json.Marshal(report)
		if marshalErr != nil {
			fmt.Fprintln(errOut, "error:", marshalErr)

			return 1
		}

		fmt.Fprintln(out, string(data))
	}

	return 0
}

// WriteReport writes the report as JSON to path. The write is atomic
// (temp file + rename), and an exclusive lock on the output directory
// keeps concurrent drivers from interleaving their reports.
func WriteReport(path string, report Report) error {
	dir := filepath.Dir(path)

	mkdirErr := os.MkdirAll(dir, 0o755)
	if mkdirErr != nil {
		return fmt.Errorf("create report dir: %w", mkdirErr)
	}

	release, lockErr := acquireReportLock(dir, reportLockTimeout)
	if lockErr != nil {
		return lockErr
	}

	defer release()

	data, marshalErr := json.MarshalIndent(report, "", "  ")
	if marshalErr != nil {
		return fmt.Errorf("marshal report: %w", marshalErr)
	}

	writeErr := atomic.WriteFile(path, strings.NewReader(string(data)+"\n"))
	if writeErr != nil {
		return fmt.Errorf("write report: %w", writeErr)
	}

	return nil
}

// acquireReportLock takes an exclusive flock on a .lock file inside dir,
// retrying until the timeout. The returned func releases the lock.
func acquireReportLock(dir string, timeout time.Duration) (func(), error) {
	lockPath := filepath.Join(dir, ".memtx-bench.lock")

	file, openErr := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o644) //nolint:gosec // path is from caller
	if openErr != nil {
		return nil, fmt.Errorf("%w: %w", errLockFileOpen, openErr)
	}

	deadline := time.Now().Add(timeout)

	const retryInterval = 10 * time.Millisecond

	for {
		flockErr := unix.Flock(int(file.Fd()), unix.LOCK_EX|unix.LOCK_NB)
		if flockErr == nil {
			return func() {
				_ = unix.Flock(int(file.Fd()), unix.LOCK_UN)
				_ = file.Close()
			}, nil
		}

		if time.Now().After(deadline) {
			_ = file.Close()

			return nil, fmt.Errorf("%w: %s", errLockTimeout, lockPath)
		}

		time.Sleep(retryInterval)
	}
}
