package main

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSelectCommand(t *testing.T) {
	tests := []struct {
		name           string
		fixture        string
		limit          float64
		wantErr        bool
		wantContain    []string
		wantNotContain []string
		wantJSON       bool
	}{
		{
			name:    "basic fixture",
			fixture: "select/basic.yaml",
			limit:   -1,
			wantContain: []string{
				"Reclamation set: 1 empty, 1 selected, 1 pinned skipped, 0 fresh skipped",
				"empty: 0\n",
				"[small]",
				"regions:",
			},
			wantNotContain: []string{"[medium]"},
		},
		{
			name:        "limit override",
			fixture:     "select/basic.yaml",
			limit:       60,
			wantContain: []string{"1 empty, 0 selected"},
		},
		{
			name:        "basic fixture as JSON",
			fixture:     "select/basic.yaml",
			limit:       -1,
			wantJSON:    true,
			wantContain: []string{`"pinned_skipped": 1`, `"empty": [`},
		},
		{
			name:    "live above 100%",
			fixture: "select/bad_live.yaml",
			limit:   -1,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resetFlags()
			jsonOut = tt.wantJSON
			selectLimit = tt.limit

			args := []string{testdataPath(t, tt.fixture)}

			output, err := captureOutput(t, func() error {
				return runSelect(args)
			})

			if (err != nil) != tt.wantErr {
				t.Errorf("runSelect() error = %v, wantErr %v\nOutput: %s", err, tt.wantErr, output)
				return
			}

			if tt.wantJSON && !tt.wantErr {
				assertJSON(t, output)
			}

			assertContains(t, output, tt.wantContain)
			assertNotContains(t, output, tt.wantNotContain)
		})
	}
}

func TestSelectMissingFixture(t *testing.T) {
	resetFlags()
	_, err := captureOutput(t, func() error {
		return runSelect([]string{"does-not-exist.yaml"})
	})
	require.Error(t, err)
}

func TestLiveBytes(t *testing.T) {
	const size = 4 << 20

	got, err := liveBytes("25%", size)
	require.NoError(t, err)
	require.Equal(t, uint64(1<<20), got)

	got, err = liveBytes("512KiB", size)
	require.NoError(t, err)
	require.Equal(t, uint64(512<<10), got)

	got, err = liveBytes("", size)
	require.NoError(t, err)
	require.Zero(t, got)

	_, err = liveBytes("8MiB", size)
	require.Error(t, err)
	_, err = liveBytes("-1%", size)
	require.Error(t, err)
	_, err = liveBytes("lots", size)
	require.Error(t, err)
}
