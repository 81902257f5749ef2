package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestConfigCommand(t *testing.T) {
	tests := []struct {
		name           string
		file           string
		check          bool
		verbose        bool
		wantErr        bool
		wantContain    []string
		wantNotContain []string
		wantJSON       bool
	}{
		{
			name:        "defaults",
			wantContain: []string{"backend: mmap", "max_capacity: 256 MiB", "region_size: 2.0 MiB"},
		},
		{
			name:        "file",
			file:        "heap.yaml",
			wantContain: []string{"backend: fake", "max_capacity: 64 MiB", "medium_regions: 4"},
		},
		{
			name:        "file verbose",
			file:        "heap.yaml",
			verbose:     true,
			wantContain: []string{"# 32 regions"},
		},
		{
			name:        "file as JSON",
			file:        "heap.yaml",
			wantJSON:    true,
			wantContain: []string{`"backend": "fake"`, `"regions": 32`},
		},
		{
			name:           "check only",
			file:           "heap.yaml",
			check:          true,
			wantNotContain: []string{"backend"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resetFlags()
			jsonOut = tt.wantJSON
			verbose = tt.verbose
			configCheckOnly = tt.check

			var args []string
			if tt.file != "" {
				args = append(args, testdataPath(t, tt.file))
			}

			output, err := captureOutput(t, func() error {
				return runConfig(args)
			})

			if (err != nil) != tt.wantErr {
				t.Errorf("runConfig() error = %v, wantErr %v\nOutput: %s", err, tt.wantErr, output)
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

func TestConfigCommandInvalid(t *testing.T) {
	resetFlags()
	configCheckOnly = true

	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("heap:\n  region_size: 3MiB\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := captureOutput(t, func() error {
		return runConfig([]string{path})
	})
	if err == nil {
		t.Error("expected an error for a non power of two region size")
	}
}
