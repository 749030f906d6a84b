package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/pflag"

	"github.com/cwbudde/gpumembench/internal/bench"
	"github.com/cwbudde/gpumembench/internal/config"
	"github.com/cwbudde/gpumembench/internal/device"
	"github.com/cwbudde/gpumembench/internal/kernels"
)

// addRunFlags registers the flags that override a run configuration.
// Defaults only document the built-in values; a flag is applied when it
// was set on the command line.
func addRunFlags(fs *pflag.FlagSet) {
	fs.String("backend", "host", "Backend: host or opencl")
	fs.Int("platform", device.Auto, "Platform index (-1 = auto)")
	fs.Int("device", device.Auto, "Device index within the platform (-1 = auto)")
	fs.Uint64("elements", config.DefaultElements, "Requested elements per buffer")
	fs.StringSlice("kernels", nil, fmt.Sprintf("Kernels to run (default all: %v)", kernels.Names()))
	fs.Int("repeats", bench.DefaultRepeats, "Dispatches per configuration")
	fs.Uint64("compute-units", bench.DefaultComputeUnits, "Compute units assumed for strided kernels")
	fs.Uint64("wavefront-pool", bench.DefaultWavefrontPool, "Lanes per compute unit and work-group for strided kernels")
	fs.Bool("verify", true, "Verify kernel output")
	fs.String("host-memory", "", "Memory reported by the host backend (e.g. 8GiB)")
	fs.Int("workers", 0, "Host backend parallelism (0 = GOMAXPROCS)")
	fs.String("data-dir", "./data", "Result store directory")
}

// applyRunFlags copies every flag set on the command line into cfg.
func applyRunFlags(fs *pflag.FlagSet, cfg *config.Run) error {
	var err error
	set := func(name string, apply func() error) {
		if err == nil && fs.Changed(name) {
			if aerr := apply(); aerr != nil {
				err = fmt.Errorf("--%s: %w", name, aerr)
			}
		}
	}

	set("backend", func() (e error) { cfg.Backend, e = fs.GetString("backend"); return })
	set("platform", func() (e error) { cfg.Selection.Platform, e = fs.GetInt("platform"); return })
	set("device", func() (e error) { cfg.Selection.Device, e = fs.GetInt("device"); return })
	set("elements", func() (e error) { cfg.Elements, e = fs.GetUint64("elements"); return })
	set("kernels", func() (e error) { cfg.Kernels, e = fs.GetStringSlice("kernels"); return })
	set("repeats", func() (e error) { cfg.Repeats, e = fs.GetInt("repeats"); return })
	set("compute-units", func() (e error) { cfg.ComputeUnits, e = fs.GetUint64("compute-units"); return })
	set("wavefront-pool", func() (e error) { cfg.WavefrontPool, e = fs.GetUint64("wavefront-pool"); return })
	set("verify", func() (e error) { cfg.Verify, e = fs.GetBool("verify"); return })
	set("workers", func() (e error) { cfg.Workers, e = fs.GetInt("workers"); return })
	set("data-dir", func() (e error) { cfg.DataDir, e = fs.GetString("data-dir"); return })
	set("host-memory", func() error {
		s, err := fs.GetString("host-memory")
		if err != nil {
			return err
		}
		n, err := humanize.ParseBytes(s)
		if err != nil {
			return err
		}
		cfg.HostMemory = config.ByteSize(n)
		return nil
	})
	return err
}

// resolveConfig loads --config, applies the command-line overrides and
// validates the result.
func resolveConfig(fs *pflag.FlagSet) (config.Run, error) {
	cfg, err := loadConfig()
	if err != nil {
		return config.Run{}, err
	}
	if err := applyRunFlags(fs, &cfg); err != nil {
		return config.Run{}, err
	}
	if err := cfg.Validate(); err != nil {
		return config.Run{}, err
	}
	return cfg, nil
}
