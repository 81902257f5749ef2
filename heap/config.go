package heap

import (
	"fmt"
	"log/slog"
	"time"
)

const (
	// KiB, MiB and GiB are binary size units.
	KiB uint64 = 1 << 10
	MiB uint64 = 1 << 20
	GiB uint64 = 1 << 30

	// minRegionSize is the smallest supported region (one OS page).
	minRegionSize = 4 * KiB

	// objectSizeDivisor bounds the largest object placed in a small or medium
	// run: an eighth of the run.
	objectSizeDivisor = 8
)

// Config holds the scalar heap configuration read once at startup.
// SoftMaxCapacity is the only value that may change later.
type Config struct {
	// MinCapacity is the floor the background uncommit never goes below.
	MinCapacity uint64

	// InitialCapacity is committed at startup and placed in the region cache.
	InitialCapacity uint64

	// MaxCapacity is the absolute maximum of committed memory.
	MaxCapacity uint64

	// SoftMaxCapacity is a pacing target reported to the pacer (0 = MaxCapacity).
	SoftMaxCapacity uint64

	// RegionSize is the size of one region, a power of two.
	RegionSize uint64

	// MediumRegions is the run length of medium allocations.
	MediumRegions int

	// FragmentationLimit is the percentage of garbage a region needs before it
	// is considered for reclamation, and the minimum marginal efficiency
	// required to extend the reclamation set.
	FragmentationLimit float64

	// UncommitEnabled turns on the background uncommitter.
	UncommitEnabled bool

	// UncommitDelay is how long a cached region must stay unused before it is
	// uncommitted. It is also the delay after the last capacity increase.
	UncommitDelay time.Duration

	// AddressSpaceFactor is the reserved address space as a multiple of MaxCapacity.
	AddressSpaceFactor int

	// Logger receives structured log records. Nil uses the package default.
	Logger *slog.Logger
}

// DefaultConfig returns a configuration suitable for small heaps.
func DefaultConfig() Config {
	return Config{
		MinCapacity:        8 * MiB,
		InitialCapacity:    8 * MiB,
		MaxCapacity:        256 * MiB,
		RegionSize:         2 * MiB,
		MediumRegions:      16,
		FragmentationLimit: 25,
		UncommitEnabled:    true,
		UncommitDelay:      5 * time.Minute,
		AddressSpaceFactor: 4,
	}
}

// Validate checks ranges and alignment of every field.
func (c Config) Validate() error {
	if c.RegionSize < minRegionSize || c.RegionSize&(c.RegionSize-1) != 0 {
		return fmt.Errorf("region size %d must be a power of two >= %d: %w",
			c.RegionSize, minRegionSize, ErrInvalidConfig)
	}
	for _, f := range []struct {
		name string
		v    uint64
	}{
		{"min capacity", c.MinCapacity},
		{"initial capacity", c.InitialCapacity},
		{"max capacity", c.MaxCapacity},
		{"soft max capacity", c.SoftMaxCapacity},
	} {
		if f.v%c.RegionSize != 0 {
			return fmt.Errorf("%s %d is not a multiple of the region size %d: %w",
				f.name, f.v, c.RegionSize, ErrInvalidConfig)
		}
	}
	if c.MaxCapacity == 0 {
		return fmt.Errorf("max capacity must be positive: %w", ErrInvalidConfig)
	}
	if c.MinCapacity > c.MaxCapacity || c.InitialCapacity > c.MaxCapacity {
		return fmt.Errorf("min %d and initial %d must not exceed max %d: %w",
			c.MinCapacity, c.InitialCapacity, c.MaxCapacity, ErrInvalidConfig)
	}
	if c.SoftMaxCapacity > c.MaxCapacity {
		return fmt.Errorf("soft max %d exceeds max %d: %w", c.SoftMaxCapacity, c.MaxCapacity, ErrInvalidConfig)
	}
	if c.MediumRegions < 2 {
		return fmt.Errorf("medium regions %d must be at least 2: %w", c.MediumRegions, ErrInvalidConfig)
	}
	if c.FragmentationLimit < 0 || c.FragmentationLimit >= 100 {
		return fmt.Errorf("fragmentation limit %.1f%% outside [0, 100): %w", c.FragmentationLimit, ErrInvalidConfig)
	}
	if c.AddressSpaceFactor < 1 {
		return fmt.Errorf("address space factor %d must be at least 1: %w", c.AddressSpaceFactor, ErrInvalidConfig)
	}
	if c.UncommitEnabled && c.UncommitDelay <= 0 {
		return fmt.Errorf("uncommit delay must be positive: %w", ErrInvalidConfig)
	}
	return nil
}

// RegionCount returns the number of regions in the reserved range.
func (c Config) RegionCount() int {
	return int(c.MaxCapacity/c.RegionSize) * c.AddressSpaceFactor
}

// ClassSize returns the size of a run of the given class (large runs vary; the
// region size is returned for them).
func (c Config) ClassSize(class SizeClass) uint64 {
	if class == ClassMedium {
		return c.RegionSize * uint64(c.MediumRegions)
	}
	return c.RegionSize
}

// MaxObjectSize returns the largest object a small or medium run can hold.
func (c Config) MaxObjectSize(class SizeClass) uint64 {
	return c.ClassSize(class) / objectSizeDivisor
}
