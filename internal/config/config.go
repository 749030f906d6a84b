// Package config holds the benchmark run configuration: defaults, an
// optional YAML file and validation.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"

	"github.com/cwbudde/gpumembench/internal/backend"
	"github.com/cwbudde/gpumembench/internal/bench"
	"github.com/cwbudde/gpumembench/internal/device"
	"github.com/cwbudde/gpumembench/internal/kernels"
)

// DefaultElements is 1 GiB of doubles.
const DefaultElements = 1 << 30 / 8

// ByteSize is a byte count that reads either a number or a humanized size
// such as "2GiB" from YAML.
type ByteSize uint64

// UnmarshalYAML implements yaml.Unmarshaler.
func (b *ByteSize) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	n, err := humanize.ParseBytes(raw)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*b = ByteSize(n)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (b ByteSize) MarshalYAML() (any, error) {
	if b == 0 {
		return 0, nil
	}
	return humanize.IBytes(uint64(b)), nil
}

func (b ByteSize) String() string {
	return humanize.IBytes(uint64(b))
}

// Run configures one benchmark run.
type Run struct {
	Backend   string           `yaml:"backend" json:"backend"`
	Selection device.Selection `yaml:"selection" json:"selection"`

	Elements      uint64   `yaml:"elements" json:"elements"`
	Kernels       []string `yaml:"kernels,omitempty" json:"kernels,omitempty"`
	Repeats       int      `yaml:"repeats" json:"repeats"`
	ComputeUnits  uint64   `yaml:"compute_units" json:"computeUnits"`
	WavefrontPool uint64   `yaml:"wavefront_pool" json:"wavefrontPool"`
	Verify        bool     `yaml:"verify" json:"verify"`

	// HostMemory caps the memory the host backend reports.
	HostMemory ByteSize `yaml:"host_memory,omitempty" json:"hostMemory,omitempty"`
	Workers    int      `yaml:"workers,omitempty" json:"workers,omitempty"`

	DataDir string `yaml:"data_dir" json:"-"`
	Save    bool   `yaml:"save" json:"-"`
}

// Default returns the configuration used when nothing is overridden.
func Default() Run {
	return Run{
		Backend:       string(backend.BackendHost),
		Selection:     device.AutoSelection(),
		Elements:      DefaultElements,
		Repeats:       bench.DefaultRepeats,
		ComputeUnits:  bench.DefaultComputeUnits,
		WavefrontPool: bench.DefaultWavefrontPool,
		Verify:        true,
		DataDir:       "./data",
	}
}

// Load reads a YAML file over the defaults. Unknown keys are rejected.
func Load(path string) (Run, error) {
	f, err := os.Open(path)
	if err != nil {
		return Run{}, fmt.Errorf("failed to open config: %w", err)
	}
	defer f.Close()

	cfg, err := Decode(f)
	if err != nil {
		return Run{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Decode reads YAML from r over the defaults and validates the result.
func Decode(r io.Reader) (Run, error) {
	cfg := Default()

	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Run{}, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Run{}, err
	}
	return cfg, nil
}

// Encode writes cfg as YAML.
func Encode(cfg Run) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return nil, fmt.Errorf("failed to encode config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Validate checks every field.
func (c Run) Validate() error {
	b := backend.NormalizeBackend(c.Backend)
	known := false
	for _, s := range backend.SupportedBackends() {
		known = known || s == b
	}
	if !known {
		return &ValidationError{Field: "backend", Reason: fmt.Sprintf("unknown backend %q", c.Backend)}
	}
	if c.Selection.Platform < device.Auto || c.Selection.Device < device.Auto {
		return &ValidationError{Field: "selection", Reason: "indices must be -1 (auto) or non-negative"}
	}
	if err := checkSize(c.Elements); err != nil {
		return &ValidationError{Field: "elements", Reason: err.Error()}
	}
	if _, err := kernels.Select(c.Kernels); err != nil {
		return &ValidationError{Field: "kernels", Reason: err.Error()}
	}
	if c.Repeats <= 0 {
		return &ValidationError{Field: "repeats", Reason: "must be positive"}
	}
	if c.ComputeUnits == 0 {
		return &ValidationError{Field: "compute_units", Reason: "must be positive"}
	}
	if c.WavefrontPool == 0 {
		return &ValidationError{Field: "wavefront_pool", Reason: "must be positive"}
	}
	if c.Workers < 0 {
		return &ValidationError{Field: "workers", Reason: "cannot be negative"}
	}
	if c.Save && c.DataDir == "" {
		return &ValidationError{Field: "data_dir", Reason: "required when saving"}
	}
	return nil
}

// ParseSize parses the positional element count. The count must exceed
// the largest work-group size and be a multiple of 16.
func ParseSize(arg string) (uint64, error) {
	n, err := strconv.ParseUint(arg, 10, 64)
	if err != nil {
		return 0, &ValidationError{Field: "size", Reason: fmt.Sprintf("%q is not a number", arg)}
	}
	if err := checkSize(n); err != nil {
		return 0, &ValidationError{Field: "size", Reason: err.Error()}
	}
	return n, nil
}

func checkSize(n uint64) error {
	if n <= bench.MaxLocalSize {
		return fmt.Errorf("%d must be greater than %d", n, bench.MaxLocalSize)
	}
	if n%16 != 0 {
		return fmt.Errorf("%d must be divisible by 16", n)
	}
	return nil
}

// BackendOptions returns the options to open the configured backend.
func (c Run) BackendOptions() backend.Options {
	return backend.Options{
		Selection:   c.Selection,
		MemoryLimit: uint64(c.HostMemory),
		Workers:     c.Workers,
	}
}

// ValidationError represents an invalid configuration value.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return "invalid config: " + e.Field + " " + e.Reason
}
