// memtx-shell is an interactive explorer for the stm engine: a namespace
// of named integer cells and a prompt for running transactions over them.
//
// Usage:
//
//	memtx-shell
//
// Commands (in REPL):
//
//	new <name> [value]             Create a cell (default value 0)
//	get <name>                     Snapshot a cell
//	set <name> <value>             Direct (non-transactional) write
//	inc <name> [delta]             Atomic increment (default delta 1)
//	transfer <from> <to> <amount>  Atomic two-cell transfer
//	ls                             List all cells
//	stats                          Show conflict/retry counters
//	reset                          Reset the counters
//	bench <n>                      Run n increments against one cell
//	help                           Show this help
//	exit / quit / q                Exit
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/peterh/liner"

	"github.com/calvinalkan/memtx/pkg/stm"
)

func main() {
	err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	repl := &REPL{
		cells: make(map[string]*stm.Cell[int64]),
		opts:  stm.DefaultOptions(),
	}

	// Interactive workloads want tight retries, not 100ms naps.
	repl.opts.MaxAttempts = 1000
	repl.opts.BaseDelay = time.Millisecond
	repl.opts.MaxDelay = 10 * time.Millisecond

	return repl.Run()
}

func historyFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	return filepath.Join(home, ".memtx_shell_history")
}

// REPL holds the interactive session state.
type REPL struct {
	cells map[string]*stm.Cell[int64]
	opts  stm.Options
	liner *liner.State
}

// commandNames feeds the completer.
var commandNames = []string{
	"new", "get", "set", "inc", "transfer", "ls",
	"stats", "reset", "bench", "help", "exit", "quit",
}

func (r *REPL) completer(line string) []string {
	var out []string

	for _, name := range commandNames {
		if strings.HasPrefix(name, strings.ToLower(line)) {
			out = append(out, name)
		}
	}

	return out
}

// Run drives the prompt loop until exit or EOF.
func (r *REPL) Run() error {
	r.liner = liner.NewLiner()
	defer r.liner.Close()

	r.liner.SetCtrlCAborts(true)
	r.liner.SetCompleter(r.completer)

	if f, err := os.Open(historyFile()); err == nil {
		r.liner.ReadHistory(f)
		f.Close()
	}

	fmt.Println("memtx-shell - interactive STM explorer")
	fmt.Println("Type 'help' for available commands.")
	fmt.Println()

	for {
		line, err := r.liner.Prompt("memtx> ")
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
				fmt.Println("\nBye!")

				break
			}

			return fmt.Errorf("reading input: %w", err)
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		r.liner.AppendHistory(line)

		parts := strings.Fields(line)
		cmd := strings.ToLower(parts[0])
		args := parts[1:]

		switch cmd {
		case "exit", "quit", "q":
			fmt.Println("Bye!")

			r.saveHistory()

			return nil

		case "help", "?":
			r.printHelp()

		case "new":
			r.cmdNew(args)

		case "get":
			r.cmdGet(args)

		case "set":
			r.cmdSet(args)

		case "inc":
			r.cmdInc(args)

		case "transfer":
			r.cmdTransfer(args)

		case "ls", "list":
			r.cmdLs()

		case "stats":
			r.cmdStats()

		case "reset":
			stm.ResetStats[int64]()
			fmt.Println("counters reset")

		case "bench":
			r.cmdBench(args)

		default:
			fmt.Printf("unknown command: %s (try 'help')\n", cmd)
		}
	}

	r.saveHistory()

	return nil
}

func (r *REPL) saveHistory() {
	path := historyFile()
	if path == "" {
		return
	}

	if f, err := os.Create(path); err == nil {
		r.liner.WriteHistory(f)
		f.Close()
	}
}

func (r *REPL) printHelp() {
	fmt.Println("Commands:")
	fmt.Println("  new <name> [value]             Create a cell (default value 0)")
	fmt.Println("  get <name>                     Snapshot a cell")
	fmt.Println("  set <name> <value>             Direct (non-transactional) write")
	fmt.Println("  inc <name> [delta]             Atomic increment (default delta 1)")
	fmt.Println("  transfer <from> <to> <amount>  Atomic two-cell transfer")
	fmt.Println("  ls                             List all cells")
	fmt.Println("  stats                          Show conflict/retry counters")
	fmt.Println("  reset                          Reset the counters")
	fmt.Println("  bench <n>                      Run n increments against one cell")
	fmt.Println("  exit / quit / q                Exit")
}

func (r *REPL) cell(name string) (*stm.Cell[int64], bool) {
	c, ok := r.cells[name]
	if !ok {
		fmt.Printf("no such cell: %s (try 'new %s')\n", name, name)
	}

	return c, ok
}

func (r *REPL) cmdNew(args []string) {
	if len(args) < 1 {
		fmt.Println("usage: new <name> [value]")

		return
	}

	name := args[0]
	if _, exists := r.cells[name]; exists {
		fmt.Printf("cell %s already exists\n", name)

		return
	}

	var value int64

	if len(args) > 1 {
		v, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			fmt.Printf("invalid value: %s\n", args[1])

			return
		}

		value = v
	}

	r.cells[name] = stm.NewCell(value)
	fmt.Printf("%s = %d (id=%d)\n", name, value, r.cells[name].ID())
}

func (r *REPL) cmdGet(args []string) {
	if len(args) != 1 {
		fmt.Println("usage: get <name>")

		return
	}

	c, ok := r.cell(args[0])
	if !ok {
		return
	}

	v, ver := c.Snapshot()
	fmt.Printf("%s = %d (version=%d)\n", args[0], v, ver)
}

func (r *REPL) cmdSet(args []string) {
	if len(args) != 2 {
		fmt.Println("usage: set <name> <value>")

		return
	}

	c, ok := r.cell(args[0])
	if !ok {
		return
	}

	v, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		fmt.Printf("invalid value: %s\n", args[1])

		return
	}

	c.Set(v)
	fmt.Printf("%s = %d\n", args[0], v)
}

func (r *REPL) cmdInc(args []string) {
	if len(args) < 1 {
		fmt.Println("usage: inc <name> [delta]")

		return
	}

	c, ok := r.cell(args[0])
	if !ok {
		return
	}

	delta := int64(1)

	if len(args) > 1 {
		d, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			fmt.Printf("invalid delta: %s\n", args[1])

			return
		}

		delta = d
	}

	var result int64

	err := stm.Atomic(context.Background(), r.opts, func(tx *stm.Tx[int64]) error {
		v, readErr := tx.Read(c)
		if readErr != nil {
			return readErr
		}

		result = v + delta

		return tx.Write(c, result)
	})
	if err != nil {
		fmt.Printf("inc failed: %v\n", err)

		return
	}

	fmt.Printf("%s = %d\n", args[0], result)
}

func (r *REPL) cmdTransfer(args []string) {
	if len(args) != 3 {
		fmt.Println("usage: transfer <from> <to> <amount>")

		return
	}

	from, ok := r.cell(args[0])
	if !ok {
		return
	}

	to, ok := r.cell(args[1])
	if !ok {
		return
	}

	if from == to {
		fmt.Println("from and to must differ")

		return
	}

	amount, err := strconv.ParseInt(args[2], 10, 64)
	if err != nil || amount < 0 {
		fmt.Printf("invalid amount: %s\n", args[2])

		return
	}

	errInsufficient := errors.New("insufficient funds")

	txErr := stm.Atomic(context.Background(), r.opts, func(tx *stm.Tx[int64]) error {
		vFrom, readErr := tx.Read(from)
		if readErr != nil {
			return readErr
		}

		if vFrom < amount {
			return fmt.Errorf("%w: %s has %d", errInsufficient, args[0], vFrom)
		}

		vTo, readErr := tx.Read(to)
		if readErr != nil {
			return readErr
		}

		writeErr := tx.Write(from, vFrom-amount)
		if writeErr != nil {
			return writeErr
		}

		return tx.Write(to, vTo+amount)
	})
	if txErr != nil {
		fmt.Printf("transfer failed: %v\n", txErr)

		return
	}

	vFrom, _ := from.Snapshot()
	vTo, _ := to.Snapshot()
	fmt.Printf("%s = %d, %s = %d\n", args[0], vFrom, args[1], vTo)
}

func (r *REPL) cmdLs() {
	if len(r.cells) == 0 {
		fmt.Println("no cells")

		return
	}

	names := make([]string, 0, len(r.cells))
	for name := range r.cells {
		names = append(names, name)
	}

	sort.Strings(names)

	for _, name := range names {
		v, ver := r.cells[name].Snapshot()
		fmt.Printf("  %-16s %12d  (id=%d, version=%d)\n", name, v, r.cells[name].ID(), ver)
	}
}

func (r *REPL) cmdStats() {
	s := stm.StatsFor[int64]()
	fmt.Printf("conflicts=%d retries=%d\n", s.Conflicts, s.Retries)
}

func (r *REPL) cmdBench(args []string) {
	if len(args) != 1 {
		fmt.Println("usage: bench <n>")

		return
	}

	n, err := strconv.Atoi(args[0])
	if err != nil || n < 1 {
		fmt.Printf("invalid count: %s\n", args[0])

		return
	}

	c := stm.NewCell(int64(0))

	start := time.Now()

	for range n {
		incErr := stm.Atomic(context.Background(), r.opts, func(tx *stm.Tx[int64]) error {
			v, readErr := tx.Read(c)
			if readErr != nil {
				return readErr
			}

			return tx.Write(c, v+1)
		})
		if incErr != nil {
			fmt.Printf("bench failed: %v\n", incErr)

			return
		}
	}

	elapsed := time.Since(start)

	v, _ := c.Snapshot()
	fmt.Printf("%d increments in %s (%.0f ops/s, final=%d)\n",
		n, elapsed, float64(n)/elapsed.Seconds(), v)
}
