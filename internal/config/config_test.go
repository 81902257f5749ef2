package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/joshuapare/heapkit/heap"
	"github.com/joshuapare/heapkit/internal/vmem"
)

const sample = `
backend: fake
heap:
  min_capacity: 64MiB
  initial_capacity: 0
  max_capacity: 256MiB
  region_size: 4MiB
  medium_regions: 8
  fragmentation_limit: 25
  uncommit: true
  uncommit_delay: 90s
  address_space_factor: 2
log:
  enabled: true
  level: debug
`

func Test_Config_Parse(t *testing.T) {
	f, err := Parse([]byte(sample))
	require.NoError(t, err)
	require.NoError(t, f.Validate())

	c := f.HeapConfig()
	require.Equal(t, 64*heap.MiB, c.MinCapacity)
	require.Equal(t, 256*heap.MiB, c.MaxCapacity)
	require.Equal(t, 4*heap.MiB, c.RegionSize)
	require.Equal(t, 90*time.Second, c.UncommitDelay)
	require.True(t, c.UncommitEnabled)

	kind, err := f.BackendKind()
	require.NoError(t, err)
	require.Equal(t, vmem.KindFake, kind)

	lo, err := f.LoggerOptions()
	require.NoError(t, err)
	require.True(t, lo.Enabled)
	require.Equal(t, "DEBUG", lo.Level.String())
}

func Test_Config_EmptyIsDefault(t *testing.T) {
	f, err := Parse(nil)
	require.NoError(t, err)
	require.Equal(t, heap.DefaultConfig().MaxCapacity, f.HeapConfig().MaxCapacity)
	require.NoError(t, f.Validate())
}

func Test_Config_DecimalSizes(t *testing.T) {
	f, err := Parse([]byte("heap:\n  max_capacity: 256MB\n"))
	require.NoError(t, err)
	require.Equal(t, uint64(256_000_000), f.HeapConfig().MaxCapacity)
	require.ErrorIs(t, f.Validate(), heap.ErrInvalidConfig)
}

func Test_Config_Rejects(t *testing.T) {
	for name, doc := range map[string]string{
		"unknown key":  "heap:\n  maximum: 1GiB\n",
		"bad size":     "heap:\n  max_capacity: lots\n",
		"bad duration": "heap:\n  uncommit_delay: soon\n",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			require.ErrorIs(t, err, ErrConfig)
		})
	}

	f := Default()
	f.Backend = "tape"
	require.ErrorIs(t, f.Validate(), ErrConfig)

	f = Default()
	f.Log.Level = "chatty"
	require.ErrorIs(t, f.Validate(), ErrConfig)
}

func Test_Config_MarshalRoundTrip(t *testing.T) {
	f, err := Parse([]byte(sample))
	require.NoError(t, err)
	data, err := Marshal(f)
	require.NoError(t, err)
	require.Contains(t, string(data), "max_capacity: 256 MiB")
	require.Contains(t, string(data), "uncommit_delay: 1m30s")

	back, err := Parse(data)
	require.NoError(t, err)
	require.Equal(t, f, back)
}

func Test_Config_Load(t *testing.T) {
	path := filepath.Join(t.TempDir(), "heap.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o644))
	f, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "fake", f.Backend)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func Test_Config_WatchReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "heap.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o644))

	f, err := Parse([]byte(sample))
	require.NoError(t, err)
	f.Heap.SoftMaxCapacity = Size(128 * heap.MiB)
	updated, err := Marshal(f)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	got := make(chan File, 16)
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, path, nil, func(f File) {
			select {
			case got <- f:
			default:
			}
		})
	}()

	// The watcher may not be registered yet, so keep rewriting until a
	// reload is observed.
	require.Eventually(t, func() bool {
		_ = os.WriteFile(path, updated, 0o644)
		select {
		case f := <-got:
			return f.HeapConfig().SoftMaxCapacity == 128*heap.MiB
		case <-time.After(50 * time.Millisecond):
			return false
		}
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}
