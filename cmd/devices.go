package main

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/cwbudde/gpumembench/internal/backend"
	"github.com/cwbudde/gpumembench/internal/device"
)

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List the platforms and devices of a backend",
	Long: `Lists every platform and device the backend can select, with the
capabilities the benchmark sizes its buffers against. The device that
automatic selection would pick is marked with *.`,
	RunE: runDevices,
}

func init() {
	devicesCmd.Flags().String("backend", "host", "Backend: host or opencl")
	rootCmd.AddCommand(devicesCmd)
}

func runDevices(cmd *cobra.Command, args []string) error {
	name, _ := cmd.Flags().GetString("backend")

	platforms, err := backend.Platforms(name, backend.Options{Logger: slog.Default()})
	if err != nil {
		return err
	}

	return writeDevices(cmd.OutOrStdout(), platforms)
}

func writeDevices(w io.Writer, platforms []device.PlatformInfo) error {
	if len(platforms) == 0 {
		_, err := fmt.Fprintln(w, "No platforms found.")
		return err
	}

	autoP, autoD, autoErr := device.Select(platforms, device.AutoSelection())

	for p, platform := range platforms {
		fmt.Fprintf(w, "Platform %d: %s (%s) %s\n", p, platform.Name, platform.Vendor, platform.Version)
		if len(platform.Devices) == 0 {
			fmt.Fprintln(w, "  no devices")
		}
		for d, info := range platform.Devices {
			mark := " "
			if autoErr == nil && p == autoP && d == autoD {
				mark = "*"
			}
			caps := info.Capability
			fmt.Fprintf(w, " %s Device %d: %s\n", mark, d, info)
			fmt.Fprintf(w, "    Type:              %s\n", info.Type)
			fmt.Fprintf(w, "    Version:           %s\n", info.Version)
			fmt.Fprintf(w, "    Compute units:     %d\n", caps.ComputeUnits)
			fmt.Fprintf(w, "    Global memory:     %s\n", humanize.IBytes(caps.TotalMemoryBytes))
			fmt.Fprintf(w, "    Max allocation:    %s\n", humanize.IBytes(caps.MaxAllocBytes))
			fmt.Fprintf(w, "    Cache line:        %d B\n", caps.CacheLineBytes)
			fmt.Fprintf(w, "    Max work-group:    %d\n", caps.MaxWorkGroupSize)
			if caps.DoublePrecision {
				fmt.Fprintln(w, "    Double precision:  yes")
			} else {
				fmt.Fprintln(w, "    Double precision:  no (double kernels will be skipped)")
			}
		}
	}
	return nil
}
