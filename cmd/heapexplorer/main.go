// Command heapexplorer is an interactive view of a heap under a simulated
// workload: a live region map, capacity statistics and per-region details.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/joshuapare/heapkit/internal/config"
	"github.com/joshuapare/heapkit/internal/logger"
	"github.com/joshuapare/heapkit/internal/sim"
	"github.com/joshuapare/heapkit/pkg/heapkit"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	// Parse flags first (before positional args)
	args := os.Args[1:]
	debugMode := false

	filteredArgs := make([]string, 0, len(args))
	for _, arg := range args {
		if arg == "--debug" || arg == "-d" {
			debugMode = true
		} else {
			filteredArgs = append(filteredArgs, arg)
		}
	}

	// Logging goes to a file; the terminal belongs to the UI.
	if err := logger.Init(logger.Options{
		Enabled: debugMode,
		Level:   slog.LevelDebug,
		LogDir:  logDir(),
	}); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to init logging: %v\n", err)
	}

	if len(filteredArgs) > 0 {
		switch filteredArgs[0] {
		case "--help", "-h":
			printHelp()
			os.Exit(0)
		case "--version", "-v":
			fmt.Printf("heapexplorer %s\n", version)
			fmt.Printf("  commit: %s\n", commit)
			fmt.Printf("  built: %s\n", date)
			os.Exit(0)
		}
	}
	if len(filteredArgs) > 1 {
		printUsage()
		os.Exit(1)
	}

	f := config.Default()
	f.Backend = "fake"
	source := "defaults"
	if len(filteredArgs) == 1 {
		var err error
		source = filteredArgs[0]
		if f, err = config.Load(source); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	}
	if err := f.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	logger.L.Info("starting heapexplorer", "config", source, "backend", f.Backend, "debug", debugMode)

	if err := run(f, source); err != nil {
		logger.L.Error("heapexplorer failed", "error", err)
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	logger.L.Info("heapexplorer exited normally")
}

func run(f config.File, source string) error {
	s, err := sim.New(simOptions())
	if err != nil {
		return err
	}
	h, err := heapkit.New(f.HeapConfig(),
		heapkit.WithBackendKind(f.Backend),
		heapkit.WithOrchestrator(s),
		heapkit.WithPacer(s),
		heapkit.WithLogger(logger.L))
	if err != nil {
		return err
	}
	defer h.Close()
	s.Attach(h)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	p := tea.NewProgram(
		NewModel(h, s, source),
		tea.WithAltScreen(),
		tea.WithMouseCellMotion(),
	)
	_, err = p.Run()

	cancel()
	if simErr := <-done; err == nil {
		err = simErr
	}
	return err
}

func simOptions() sim.Options {
	opts := sim.DefaultOptions()
	opts.Workers = 2
	opts.Interval = 250 * time.Millisecond
	opts.Logger = logger.L
	return opts
}

func logDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".heapexplorer", "logs")
}

func printUsage() {
	fmt.Fprintf(os.Stderr, "Usage: heapexplorer [options] [config.yaml]\n")
	fmt.Fprintf(os.Stderr, "Try 'heapexplorer --help' for more information.\n")
}

func printHelp() {
	fmt.Println("heapexplorer - Interactive view of a region-based heap")
	fmt.Println()
	fmt.Println("USAGE:")
	fmt.Println("  heapexplorer [options] [config.yaml]")
	fmt.Println()
	fmt.Println("DESCRIPTION:")
	fmt.Println("  Runs a simulated workload against a heap and shows it live.")
	fmt.Println("  Without a config file the defaults are used with the fake backend.")
	fmt.Println()
	fmt.Println("  Features:")
	fmt.Println("    - Region map colored by state, class and live fraction")
	fmt.Println("    - Capacity, cache and stall statistics")
	fmt.Println("    - Region details (Enter) and copy to clipboard (y)")
	fmt.Println("    - Pause mutators, request collections, uncommit, change soft max")
	fmt.Println()
	fmt.Println("  Navigation:")
	fmt.Println("    ←/→/↑/↓ or h/l/k/j   Move over the region map")
	fmt.Println("    Enter                Show region details")
	fmt.Println("    ?                    Show help")
	fmt.Println("    q                    Quit")
	fmt.Println()
	fmt.Println("OPTIONS:")
	fmt.Println("  -d, --debug    Enable debug logging to ~/.heapexplorer/logs/")
	fmt.Println("  -h, --help     Show this help message")
	fmt.Println("  -v, --version  Show version information")
	fmt.Println()
	fmt.Println("For non-interactive runs, use 'heapctl simulate' instead.")
}
