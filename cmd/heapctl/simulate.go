package main

import (
	"context"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/joshuapare/heapkit/internal/config"
	"github.com/joshuapare/heapkit/internal/logger"
	"github.com/joshuapare/heapkit/internal/sim"
	"github.com/joshuapare/heapkit/pkg/heapkit"
)

var (
	simDuration time.Duration
	simWorkers  int
	simMinSize  string
	simMaxSize  string
	simGarbage  float64
	simSeed     uint64
	simBackend  string
	simInterval time.Duration
	simVerify   bool
	simWatch    bool
)

func init() {
	cmd := newSimulateCmd()
	cmd.Flags().DurationVarP(&simDuration, "duration", "d", 2*time.Second, "How long the mutators run")
	cmd.Flags().IntVarP(&simWorkers, "workers", "w", 4, "Number of mutator goroutines")
	cmd.Flags().StringVar(&simMinSize, "min-size", "64KiB", "Smallest allocation")
	cmd.Flags().StringVar(&simMaxSize, "max-size", "8MiB", "Largest allocation")
	cmd.Flags().Float64Var(&simGarbage, "garbage", 0.5, "Chance that an allocation kills an older object")
	cmd.Flags().Uint64Var(&simSeed, "seed", 1, "Random seed")
	cmd.Flags().StringVar(&simBackend, "backend", "", "Memory backend (mmap, go, fake); overrides the config")
	cmd.Flags().DurationVar(&simInterval, "interval", 100*time.Millisecond, "Collect at least this often")
	cmd.Flags().BoolVar(&simVerify, "verify", false, "Check heap invariants after the run")
	cmd.Flags().BoolVar(&simWatch, "watch", false, "Reload the soft max capacity when --config changes")
	rootCmd.AddCommand(cmd)
}

func newSimulateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run concurrent mutators against a toy collector",
		Long: `The simulate command allocates from several goroutines while a toy
collector marks, selects and evacuates regions. Each mutator run holds one
object covering a random share of it; a share of the objects dies as new ones
are allocated. Survivors of selected runs are compacted into collector runs.

Example:
  heapctl simulate --backend fake --duration 5s --verify
  heapctl simulate -c heap.yaml --watch --log-level info
  heapctl simulate --workers 16 --max-size 32MiB --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSimulate(cmd.Context())
		},
	}
	return cmd
}

func simulateConfig() (config.File, error) {
	f, err := loadConfig()
	if err != nil {
		return config.File{}, err
	}
	if simBackend != "" {
		f.Backend = simBackend
	}
	return f, f.Validate()
}

func simulateOptions() (sim.Options, error) {
	opts := sim.DefaultOptions()
	opts.Workers = simWorkers
	opts.Garbage = simGarbage
	opts.Seed = simSeed
	opts.Interval = simInterval
	opts.Logger = logger.L

	var err error
	if opts.MinSize, err = humanize.ParseBytes(simMinSize); err != nil {
		return opts, fmt.Errorf("--min-size: %w", err)
	}
	if opts.MaxSize, err = humanize.ParseBytes(simMaxSize); err != nil {
		return opts, fmt.Errorf("--max-size: %w", err)
	}
	return opts, opts.Validate()
}

func runSimulate(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	if simWatch && configPath == "" {
		return fmt.Errorf("--watch needs --config")
	}
	opts, err := simulateOptions()
	if err != nil {
		return err
	}
	f, err := simulateConfig()
	if err != nil {
		return err
	}
	cfg := f.HeapConfig()
	printVerbose("Simulating %d workers for %s on a %s %s heap\n",
		opts.Workers, simDuration, humanize.IBytes(cfg.MaxCapacity), f.Backend)

	s, err := sim.New(opts)
	if err != nil {
		return err
	}
	h, err := heapkit.New(cfg,
		heapkit.WithBackendKind(f.Backend),
		heapkit.WithOrchestrator(s),
		heapkit.WithPacer(s),
		heapkit.WithLogger(logger.L))
	if err != nil {
		return err
	}
	defer h.Close()
	s.Attach(h)

	ctx, cancel := context.WithTimeout(parent, simDuration)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.Run(gctx) })
	if simWatch {
		g.Go(func() error {
			return config.Watch(gctx, configPath, logger.L, func(nf config.File) {
				soft := nf.HeapConfig().SoftMaxCapacity
				if err := h.SetSoftMaxCapacity(soft); err != nil {
					logger.L.Warn("soft max not applied", "err", err)
					return
				}
				printInfo("Soft max capacity set to %s\n", humanize.IBytes(soft))
			})
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	summary := s.Summary()
	var verifyErr error
	if simVerify {
		verifyErr = h.Verify()
	}

	if jsonOut {
		if err := printJSON(struct {
			Summary sim.Summary   `json:"summary"`
			Stats   heapkit.Stats `json:"stats"`
			Verify  string        `json:"verify,omitempty"`
		}{summary, h.Stats(), verifyResult(simVerify, verifyErr)}); err != nil {
			return err
		}
		return verifyErr
	}

	printInfo("Simulation: %d workers, %s\n", summary.Workers, summary.Duration)
	printInfo("  allocations: %s (%s, %.0f/s)\n",
		humanize.Comma(int64(summary.Allocations)), humanize.IBytes(summary.AllocatedBytes), summary.Rate)
	printInfo("  out of memory: %d, failed stalls: %d\n", summary.OutOfMemory, summary.StallsFailed)
	printInfo("  cycles: %d, evacuated runs: %d, relocation failures: %d\n",
		summary.Cycles, summary.Evacuated, summary.RelocationFails)
	printInfo("  relocated: %s objects, %s\n",
		humanize.Comma(int64(summary.Relocated)), humanize.IBytes(summary.RelocatedBytes))
	printInfo("  live objects: %d\n", summary.Objects)
	if !quiet {
		if err := newPrinter().PrintStats(h.Stats()); err != nil {
			return err
		}
	}
	if simVerify {
		printInfo("Verify: %s\n", verifyResult(true, verifyErr))
	}
	return verifyErr
}

func verifyResult(ran bool, err error) string {
	switch {
	case !ran:
		return ""
	case err != nil:
		return err.Error()
	default:
		return "ok"
	}
}
