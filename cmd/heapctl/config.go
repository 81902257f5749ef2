package main

import (
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/joshuapare/heapkit/internal/config"
)

var (
	configCheckOnly bool
)

func init() {
	cmd := newConfigCmd()
	cmd.Flags().BoolVar(&configCheckOnly, "check", false, "Only validate, print nothing on success")
	rootCmd.AddCommand(cmd)
}

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config [file]",
		Short: "Validate and print the effective configuration",
		Long: `The config command loads a configuration file over the defaults,
validates it and prints the result. Without a file the defaults are printed.

Example:
  heapctl config heap.yaml
  heapctl config heap.yaml --check
  heapctl config --json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfig(args)
		},
	}
	return cmd
}

func runConfig(args []string) error {
	var (
		f   config.File
		err error
	)
	if len(args) == 1 {
		printVerbose("Loading config: %s\n", args[0])
		f, err = config.Load(args[0])
	} else {
		f, err = loadConfig()
	}
	if err != nil {
		return err
	}
	if err := f.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if configCheckOnly {
		return nil
	}

	if jsonOut {
		c := f.HeapConfig()
		return printJSON(map[string]any{
			"backend":              f.Backend,
			"min_capacity":         c.MinCapacity,
			"initial_capacity":     c.InitialCapacity,
			"max_capacity":         c.MaxCapacity,
			"soft_max_capacity":    c.SoftMaxCapacity,
			"region_size":          c.RegionSize,
			"medium_regions":       c.MediumRegions,
			"fragmentation_limit":  c.FragmentationLimit,
			"uncommit":             c.UncommitEnabled,
			"uncommit_delay":       c.UncommitDelay.String(),
			"address_space_factor": c.AddressSpaceFactor,
			"regions":              c.RegionCount(),
		})
	}

	data, err := config.Marshal(f)
	if err != nil {
		return err
	}
	if _, err := os.Stdout.Write(data); err != nil {
		return err
	}
	c := f.HeapConfig()
	printVerbose("# %d regions, %s reserved\n",
		c.RegionCount(), humanize.IBytes(uint64(c.RegionCount())*c.RegionSize))
	return nil
}
