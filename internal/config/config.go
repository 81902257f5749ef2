// Package config loads heap configuration files.
//
// Files are YAML. Byte sizes may be written as integers or as human strings
// such as "64MiB" or "256MB"; durations use Go syntax ("5m", "90s").
//
//	backend: mmap
//	heap:
//	  min_capacity: 64MiB
//	  max_capacity: 1GiB
//	  region_size: 2MiB
//	  uncommit_delay: 5m
//	log:
//	  level: debug
package config

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"

	"github.com/joshuapare/heapkit/heap"
	"github.com/joshuapare/heapkit/internal/logger"
	"github.com/joshuapare/heapkit/internal/vmem"
)

// ErrConfig reports a malformed configuration file.
var ErrConfig = errors.New("config: invalid configuration")

// Size is a byte count that reads human strings from YAML.
type Size uint64

// UnmarshalYAML accepts integers and humanize strings.
func (s *Size) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: size must be a scalar: %w", n.Line, ErrConfig)
	}
	v, err := humanize.ParseBytes(n.Value)
	if err != nil {
		return fmt.Errorf("line %d: size %q: %w", n.Line, n.Value, ErrConfig)
	}
	*s = Size(v)
	return nil
}

// MarshalYAML writes the IEC form, e.g. "64 MiB".
func (s Size) MarshalYAML() (any, error) {
	return humanize.IBytes(uint64(s)), nil
}

// Duration is a time.Duration in Go syntax.
type Duration time.Duration

// UnmarshalYAML parses Go duration syntax.
func (d *Duration) UnmarshalYAML(n *yaml.Node) error {
	v, err := time.ParseDuration(n.Value)
	if err != nil {
		return fmt.Errorf("line %d: duration %q: %w", n.Line, n.Value, ErrConfig)
	}
	*d = Duration(v)
	return nil
}

// MarshalYAML writes Go duration syntax.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Heap mirrors heap.Config.
type Heap struct {
	MinCapacity        Size     `yaml:"min_capacity"`
	InitialCapacity    Size     `yaml:"initial_capacity"`
	MaxCapacity        Size     `yaml:"max_capacity"`
	SoftMaxCapacity    Size     `yaml:"soft_max_capacity,omitempty"`
	RegionSize         Size     `yaml:"region_size"`
	MediumRegions      int      `yaml:"medium_regions"`
	FragmentationLimit float64  `yaml:"fragmentation_limit"`
	Uncommit           bool     `yaml:"uncommit"`
	UncommitDelay      Duration `yaml:"uncommit_delay"`
	AddressSpaceFactor int      `yaml:"address_space_factor"`
}

// Log selects the logger setup.
type Log struct {
	Enabled bool   `yaml:"enabled"`
	Level   string `yaml:"level,omitempty"`
	JSON    bool   `yaml:"json,omitempty"`
	Dir     string `yaml:"dir,omitempty"`
}

// File is the on-disk configuration.
type File struct {
	Backend string `yaml:"backend"`
	Heap    Heap   `yaml:"heap"`
	Log     Log    `yaml:"log"`
}

// Default returns the file equivalent of heap.DefaultConfig.
func Default() File {
	c := heap.DefaultConfig()
	return File{
		Backend: vmem.KindMmap.String(),
		Heap: Heap{
			MinCapacity:        Size(c.MinCapacity),
			InitialCapacity:    Size(c.InitialCapacity),
			MaxCapacity:        Size(c.MaxCapacity),
			SoftMaxCapacity:    Size(c.SoftMaxCapacity),
			RegionSize:         Size(c.RegionSize),
			MediumRegions:      c.MediumRegions,
			FragmentationLimit: c.FragmentationLimit,
			Uncommit:           c.UncommitEnabled,
			UncommitDelay:      Duration(c.UncommitDelay),
			AddressSpaceFactor: c.AddressSpaceFactor,
		},
		Log: Log{Level: "info"},
	}
}

// Parse decodes data over the defaults. Unknown keys are rejected.
func Parse(data []byte) (File, error) {
	f := Default()
	if len(bytes.TrimSpace(data)) == 0 {
		return f, nil
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, ErrConfig) {
			return File{}, err
		}
		return File{}, fmt.Errorf("%w: %w", ErrConfig, err)
	}
	return f, nil
}

// Load reads and parses the file at path.
func Load(path string) (File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return File{}, fmt.Errorf("read config: %w", err)
	}
	f, err := Parse(data)
	if err != nil {
		return File{}, fmt.Errorf("%s: %w", path, err)
	}
	return f, nil
}

// Marshal encodes f as YAML.
func Marshal(f File) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(f); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// HeapConfig converts the file to a heap.Config. The logger is left nil.
func (f File) HeapConfig() heap.Config {
	h := f.Heap
	return heap.Config{
		MinCapacity:        uint64(h.MinCapacity),
		InitialCapacity:    uint64(h.InitialCapacity),
		MaxCapacity:        uint64(h.MaxCapacity),
		SoftMaxCapacity:    uint64(h.SoftMaxCapacity),
		RegionSize:         uint64(h.RegionSize),
		MediumRegions:      h.MediumRegions,
		FragmentationLimit: h.FragmentationLimit,
		UncommitEnabled:    h.Uncommit,
		UncommitDelay:      time.Duration(h.UncommitDelay),
		AddressSpaceFactor: h.AddressSpaceFactor,
	}
}

// BackendKind parses the backend name.
func (f File) BackendKind() (vmem.Kind, error) {
	return vmem.ParseKind(f.Backend)
}

// LoggerOptions converts the log section.
func (f File) LoggerOptions() (logger.Options, error) {
	opts := logger.Options{Enabled: f.Log.Enabled, JSON: f.Log.JSON, LogDir: f.Log.Dir}
	if f.Log.Level != "" {
		level, err := logger.ParseLevel(f.Log.Level)
		if err != nil {
			return logger.Options{}, err
		}
		opts.Level = level
	} else {
		opts.Level = slog.LevelInfo
	}
	return opts, nil
}

// Validate checks the heap section, backend and log level.
func (f File) Validate() error {
	if err := f.HeapConfig().Validate(); err != nil {
		return err
	}
	if _, err := f.BackendKind(); err != nil {
		return fmt.Errorf("%w: %w", ErrConfig, err)
	}
	if _, err := f.LoggerOptions(); err != nil {
		return fmt.Errorf("%w: %w", ErrConfig, err)
	}
	return nil
}
