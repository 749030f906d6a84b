package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/cwbudde/gpumembench/internal/device"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default config invalid: %v", err)
	}
	if cfg.Elements != 134217728 {
		t.Errorf("Expected 134217728 elements, got %d", cfg.Elements)
	}
	if cfg.Repeats != 50 || cfg.ComputeUnits != 120 || cfg.WavefrontPool != 40 {
		t.Errorf("Unexpected sweep defaults %+v", cfg)
	}
	if !cfg.Selection.IsAuto() || !cfg.Verify {
		t.Errorf("Expected auto selection and verification, got %+v", cfg)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bench.yaml")
	data := `
backend: opencl
selection:
  platform: 1
  device: 0
elements: 1048576
kernels: [elementwiseF, elementwiseCopyF]
wavefront_pool: 20
host_memory: 2GiB
`
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	want := Default()
	want.Backend = "opencl"
	want.Selection = device.Selection{Platform: 1, Device: 0}
	want.Elements = 1048576
	want.Kernels = []string{"elementwiseF", "elementwiseCopyF"}
	want.WavefrontPool = 20
	want.HostMemory = 2 << 30

	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Errorf("Config mismatch (-want +got):\n%s", diff)
	}
}

func TestDecodeEmptyKeepsDefaults(t *testing.T) {
	cfg, err := Decode(strings.NewReader(""))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if diff := cmp.Diff(Default(), cfg); diff != "" {
		t.Errorf("Config mismatch (-want +got):\n%s", diff)
	}
}

func TestDecodeRejectsUnknownKeys(t *testing.T) {
	_, err := Decode(strings.NewReader("repeat: 10\n"))
	if err == nil {
		t.Fatal("Expected error for misspelled key")
	}
}

func TestDecodeValidates(t *testing.T) {
	tests := []struct {
		name  string
		yaml  string
		field string
	}{
		{"unknown backend", "backend: vulkan", "backend"},
		{"size too small", "elements: 256", "elements"},
		{"size not multiple of 16", "elements: 1000", "elements"},
		{"unknown kernel", "kernels: [triad]", "kernels"},
		{"zero repeats", "repeats: 0", "repeats"},
		{"zero pool", "wavefront_pool: 0", "wavefront_pool"},
		{"bad selection", "selection: {platform: -3, device: 0}", "selection"},
		{"save without dir", "save: true\ndata_dir: \"\"", "data_dir"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(strings.NewReader(tt.yaml))
			var vErr *ValidationError
			if !errors.As(err, &vErr) {
				t.Fatalf("Expected ValidationError, got %v", err)
			}
			if vErr.Field != tt.field {
				t.Errorf("Expected field %s, got %s", tt.field, vErr.Field)
			}
		})
	}
}

func TestParseSize(t *testing.T) {
	tests := []struct {
		arg     string
		want    uint64
		wantErr bool
	}{
		{"272", 272, false},
		{"16777216", 16777216, false},
		{"256", 0, true},
		{"1000", 0, true},
		{"-512", 0, true},
		{"big", 0, true},
	}

	for _, tt := range tests {
		got, err := ParseSize(tt.arg)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseSize(%q): unexpected error state %v", tt.arg, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseSize(%q): expected %d, got %d", tt.arg, tt.want, got)
		}
	}
}

func TestEncodeRoundTrip(t *testing.T) {
	cfg := Default()
	cfg.HostMemory = 512 << 20
	cfg.Kernels = []string{"elementwiseD"}

	data, err := Encode(cfg)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if !strings.Contains(string(data), "host_memory: 512 MiB") {
		t.Errorf("Expected humanized host memory in\n%s", data)
	}

	back, err := Decode(strings.NewReader(string(data)))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if diff := cmp.Diff(cfg, back); diff != "" {
		t.Errorf("Round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestBackendOptions(t *testing.T) {
	cfg := Default()
	cfg.HostMemory = 1 << 30
	cfg.Workers = 3

	opts := cfg.BackendOptions()
	if opts.MemoryLimit != 1<<30 || opts.Workers != 3 || !opts.Selection.IsAuto() {
		t.Errorf("Unexpected backend options %+v", opts)
	}
}
