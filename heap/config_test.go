package heap

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func Test_Config_DefaultIsValid(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())
}

func Test_Config_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"region not power of two", func(c *Config) { c.RegionSize = 3 * MiB }},
		{"region too small", func(c *Config) { c.RegionSize = 1024 }},
		{"max unaligned", func(c *Config) { c.MaxCapacity = 255 * MiB }},
		{"max zero", func(c *Config) { c.MaxCapacity = 0; c.MinCapacity = 0; c.InitialCapacity = 0 }},
		{"min above max", func(c *Config) { c.MinCapacity = 512 * MiB }},
		{"soft max above max", func(c *Config) { c.SoftMaxCapacity = 512 * MiB }},
		{"medium too short", func(c *Config) { c.MediumRegions = 1 }},
		{"fragmentation 100", func(c *Config) { c.FragmentationLimit = 100 }},
		{"negative fragmentation", func(c *Config) { c.FragmentationLimit = -1 }},
		{"no address space", func(c *Config) { c.AddressSpaceFactor = 0 }},
		{"zero uncommit delay", func(c *Config) { c.UncommitDelay = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			require.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}
}

func Test_Config_Derived(t *testing.T) {
	cfg := Config{
		MaxCapacity:        256 * MiB,
		RegionSize:         4 * MiB,
		MediumRegions:      8,
		AddressSpaceFactor: 2,
		UncommitDelay:      time.Second,
	}
	require.NoError(t, cfg.Validate())
	require.Equal(t, 128, cfg.RegionCount())
	require.Equal(t, 32*MiB, cfg.ClassSize(ClassMedium))
	require.Equal(t, 512*KiB, cfg.MaxObjectSize(ClassSmall))
	require.Equal(t, 4*MiB, cfg.MaxObjectSize(ClassMedium))
}
