package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/joshuapare/heapkit/heap"
	"github.com/joshuapare/heapkit/internal/config"
	"github.com/joshuapare/heapkit/pkg/heapkit"
)

var (
	selectLimit float64
)

func init() {
	cmd := newSelectCmd()
	cmd.Flags().Float64Var(&selectLimit, "limit", -1, "Override the fixture's fragmentation limit (percent)")
	rootCmd.AddCommand(cmd)
}

func newSelectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "select <fixture.yaml>",
		Short: "Compute the reclamation set of a liveness fixture",
		Long: `The select command lays out the runs described by a fixture, records
their live bytes and prints the reclamation set the selector picks.

Fixture format:
  region_size: 4MiB
  medium_regions: 8
  fragmentation_limit: 25
  regions:
    - size: 4MiB
      live: 0%
    - size: 4MiB
      live: 10%
    - size: 32MiB
      live: 1MiB
      pinned: true

Example:
  heapctl select fixture.yaml
  heapctl select fixture.yaml --limit 10 --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSelect(args)
		},
	}
	return cmd
}

// fixtureRun is one allocated run of a fixture.
type fixtureRun struct {
	Size   config.Size `yaml:"size"`
	Live   string      `yaml:"live"`
	Pinned bool        `yaml:"pinned"`
}

type fixture struct {
	RegionSize         config.Size  `yaml:"region_size"`
	MediumRegions      int          `yaml:"medium_regions"`
	FragmentationLimit *float64     `yaml:"fragmentation_limit"`
	Regions            []fixtureRun `yaml:"regions"`
}

func loadFixture(path string) (fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return fixture{}, fmt.Errorf("failed to read fixture: %w", err)
	}
	var fx fixture
	if err := yaml.Unmarshal(data, &fx); err != nil {
		return fixture{}, fmt.Errorf("failed to parse fixture: %w", err)
	}
	if len(fx.Regions) == 0 {
		return fixture{}, fmt.Errorf("fixture %s has no regions", path)
	}
	return fx, nil
}

// liveBytes parses "10%" relative to size, or an absolute byte count.
func liveBytes(s string, size uint64) (uint64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	if pct, ok := strings.CutSuffix(s, "%"); ok {
		v, err := strconv.ParseFloat(strings.TrimSpace(pct), 64)
		if err != nil || v < 0 || v > 100 {
			return 0, fmt.Errorf("live %q: want a percentage between 0 and 100", s)
		}
		return uint64(float64(size) * v / 100), nil
	}
	v, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, fmt.Errorf("live %q: %w", s, err)
	}
	if v > size {
		return 0, fmt.Errorf("live %s exceeds run size %s", humanize.IBytes(v), humanize.IBytes(size))
	}
	return v, nil
}

// fixtureConfig sizes a heap that holds every run of fx exactly.
func fixtureConfig(fx fixture) heap.Config {
	cfg := heap.DefaultConfig()
	if fx.RegionSize != 0 {
		cfg.RegionSize = uint64(fx.RegionSize)
	}
	if fx.MediumRegions != 0 {
		cfg.MediumRegions = fx.MediumRegions
	}
	if fx.FragmentationLimit != nil {
		cfg.FragmentationLimit = *fx.FragmentationLimit
	}
	if selectLimit >= 0 {
		cfg.FragmentationLimit = selectLimit
	}
	var total uint64
	for _, r := range fx.Regions {
		_, span := heap.Classify(uint64(r.Size), cfg.RegionSize, cfg.MediumRegions)
		total += uint64(span) * cfg.RegionSize
	}
	cfg.MinCapacity = 0
	cfg.InitialCapacity = 0
	cfg.MaxCapacity = total
	cfg.SoftMaxCapacity = 0
	cfg.UncommitEnabled = false
	cfg.AddressSpaceFactor = 1
	return cfg
}

func runSelect(args []string) error {
	fx, err := loadFixture(args[0])
	if err != nil {
		return err
	}
	cfg := fixtureConfig(fx)
	printVerbose("Laying out %d runs in %s\n", len(fx.Regions), humanize.IBytes(cfg.MaxCapacity))

	h, err := heapkit.New(cfg, heapkit.WithBackendKind("fake"), heapkit.WithoutUncommitter())
	if err != nil {
		return err
	}
	defer h.Close()

	ctx := context.Background()
	for i, fr := range fx.Regions {
		r, err := h.AllocRequest(ctx, heapkit.Request{
			Size:  uint64(fr.Size),
			Flags: heapkit.FlagNonBlocking | heapkit.FlagLowAddress,
		})
		if err != nil {
			return fmt.Errorf("run %d: %w", i, err)
		}
		live, err := liveBytes(fr.Live, r.Size())
		if err != nil {
			return fmt.Errorf("run %d: %w", i, err)
		}
		r.Fill()
		if err := r.SetLiveBytes(live); err != nil {
			return fmt.Errorf("run %d: %w", i, err)
		}
		if fr.Pinned {
			if err := h.Pin(r); err != nil {
				return fmt.Errorf("run %d: %w", i, err)
			}
		}
		printVerbose("  run %d: region %d, %s %s, live %s\n",
			i, r.Index(), r.Class(), humanize.IBytes(r.Size()), humanize.IBytes(live))
	}

	h.BeginCycle()
	set := h.Select()
	if err := h.Verify(); err != nil {
		return err
	}
	return newPrinter().PrintSet(set)
}
