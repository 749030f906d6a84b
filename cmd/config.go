package main

import (
	"io"

	"github.com/spf13/cobra"

	"github.com/cwbudde/gpumembench/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective run configuration as YAML",
	Long: `Resolves --config and the run flags the same way run does and prints
the result. The output can be saved and passed back with --config.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := resolveConfig(cmd.Flags())
		if err != nil {
			return err
		}
		return writeConfig(cmd.OutOrStdout(), cfg)
	},
}

func init() {
	addRunFlags(configCmd.Flags())
	rootCmd.AddCommand(configCmd)
}

func writeConfig(w io.Writer, cfg config.Run) error {
	data, err := config.Encode(cfg)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}
