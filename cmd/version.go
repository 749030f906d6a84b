package main

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/cwbudde/gpumembench/internal/device"
)

var version = "0.1.0"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		opencl := "enabled"
		if !device.Built() {
			opencl = "disabled (build with -tags gpu)"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "gpumembench version %s (%s, OpenCL %s)\n", version, runtime.Version(), opencl)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
