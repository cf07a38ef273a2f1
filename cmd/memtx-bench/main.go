// Package main provides memtx-bench, a contention benchmark driver for
// the stm engine.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/calvinalkan/memtx/internal/bench"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	os.Exit(bench.Main(ctx, os.Stdout, os.Stderr, os.Args[1:]))
}
