package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/cwbudde/gpumembench/internal/harness"
	"github.com/cwbudde/gpumembench/internal/store"
)

var (
	resultsDataDir string
	keepLast       int
	olderThanDays  int
	forceClean     bool
)

var resultsCmd = &cobra.Command{
	Use:   "results",
	Short: "Manage saved benchmark results",
	Long:  `List, show and clean the reports saved with run --save or by the server.`,
}

var listResultsCmd = &cobra.Command{
	Use:   "list",
	Short: "List saved runs",
	RunE:  runListResults,
}

var showResultsCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Print the report of a saved run",
	Args:  cobra.ExactArgs(1),
	RunE:  runShowResult,
}

var traceResultsCmd = &cobra.Command{
	Use:   "trace <run-id>",
	Short: "Print every measured configuration of a saved run",
	Args:  cobra.ExactArgs(1),
	RunE:  runTraceResult,
}

var cleanResultsCmd = &cobra.Command{
	Use:   "clean",
	Short: "Delete old runs",
	Long: `Delete saved runs based on a retention policy: keep the newest N runs,
delete runs older than N days, or both.`,
	RunE: runCleanResults,
}

func init() {
	rootCmd.AddCommand(resultsCmd)
	resultsCmd.AddCommand(listResultsCmd, showResultsCmd, traceResultsCmd, cleanResultsCmd)

	resultsCmd.PersistentFlags().StringVar(&resultsDataDir, "data-dir", "./data", "Result store directory")

	showResultsCmd.Flags().BoolVar(&jsonOutput, "json", false, "Print the report as JSON")

	cleanResultsCmd.Flags().IntVar(&keepLast, "keep-last", 0, "Keep only the newest N runs (0 = keep all)")
	cleanResultsCmd.Flags().IntVar(&olderThanDays, "older-than", 0, "Delete runs older than N days (0 = no age limit)")
	cleanResultsCmd.Flags().BoolVarP(&forceClean, "force", "f", false, "Skip confirmation prompt")
}

func runListResults(cmd *cobra.Command, args []string) error {
	st, err := store.NewFSStore(resultsDataDir)
	if err != nil {
		return fmt.Errorf("failed to open result store: %w", err)
	}

	infos, err := st.ListReports()
	if err != nil {
		return fmt.Errorf("failed to list results: %w", err)
	}

	return writeResultList(cmd.OutOrStdout(), resultsDataDir, infos)
}

func writeResultList(out io.Writer, dataDir string, infos []store.ReportInfo) error {
	if len(infos) == 0 {
		_, err := fmt.Fprintln(out, "No results found.")
		return err
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RUN ID\tCREATED\tBACKEND\tDEVICE\tBUFFER\tBEST KERNEL\tGIB/S\tSTATUS\tSIZE")
	fmt.Fprintln(w, "------\t-------\t-------\t------\t------\t-----------\t-----\t------\t----")

	for _, info := range infos {
		sizeStr := "unknown"
		if size, err := getDirSize(filepath.Join(dataDir, "runs", info.RunID)); err == nil {
			sizeStr = humanize.IBytes(uint64(size))
		}

		status := "ok"
		if info.Failed {
			status = "FAILED"
		}

		displayID := info.RunID
		if len(displayID) > 12 {
			displayID = displayID[:12] + "..."
		}

		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%.3f\t%s\t%s\n",
			displayID,
			humanize.Time(info.CreatedAt),
			info.Backend,
			info.Device,
			humanize.IBytes(info.BufferBytes),
			info.BestKernel,
			info.BestBandwidth,
			status,
			sizeStr,
		)
	}

	if err := w.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(out, "\nTotal runs: %d\n", len(infos))
	return err
}

func runShowResult(cmd *cobra.Command, args []string) error {
	st, err := store.NewFSStore(resultsDataDir)
	if err != nil {
		return fmt.Errorf("failed to open result store: %w", err)
	}

	report, err := st.LoadReport(args[0])
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if jsonOutput {
		return printReport(out, report)
	}
	fmt.Fprintf(out, "Run %s on %s (%s backend), %s\n\n",
		report.ID, report.Device, report.Backend, report.CreatedAt.Format(time.RFC3339))
	return harness.WriteTable(out, report)
}

func runTraceResult(cmd *cobra.Command, args []string) error {
	reader, err := store.NewTraceReader(resultsDataDir, args[0])
	if err != nil {
		return err
	}
	defer reader.Close()

	entries, err := reader.ReadAll()
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "KERNEL\tLOCAL\tGLOBAL\tTIME (s)\tGIB/S\tFAILURE")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%d\t%d\t%.6f\t%.3f\t%s\n",
			e.Kernel, e.LocalSize, e.GlobalSize, e.Elapsed, e.Bandwidth, e.Failure)
	}
	return w.Flush()
}

func runCleanResults(cmd *cobra.Command, args []string) error {
	if keepLast == 0 && olderThanDays == 0 {
		return fmt.Errorf("must specify either --keep-last or --older-than")
	}

	st, err := store.NewFSStore(resultsDataDir)
	if err != nil {
		return fmt.Errorf("failed to open result store: %w", err)
	}

	infos, err := st.ListReports()
	if err != nil {
		return fmt.Errorf("failed to list results: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(infos) == 0 {
		fmt.Fprintln(out, "No results to clean.")
		return nil
	}

	toDelete := selectReportsForDeletion(infos, keepLast, olderThanDays, time.Now())
	if len(toDelete) == 0 {
		fmt.Fprintln(out, "No results match deletion criteria.")
		return nil
	}

	fmt.Fprintf(out, "Found %d run(s) to delete:\n", len(toDelete))
	for _, info := range toDelete {
		fmt.Fprintf(out, "  - %s (%s, %s)\n", info.RunID, info.Device, info.CreatedAt.Format("2006-01-02 15:04:05"))
	}

	if !forceClean {
		fmt.Fprint(out, "\nProceed with deletion? [y/N]: ")
		var response string
		fmt.Fscanln(cmd.InOrStdin(), &response)
		if response != "y" && response != "Y" {
			fmt.Fprintln(out, "Aborted.")
			return nil
		}
	}

	deleted, failed := 0, 0
	for _, info := range toDelete {
		if err := st.DeleteReport(info.RunID); err != nil {
			slog.Error("Failed to delete run", "run_id", info.RunID, "error", err)
			failed++
			continue
		}
		slog.Info("Deleted run", "run_id", info.RunID)
		deleted++
	}

	fmt.Fprintf(out, "\nDeleted %d run(s), %d failed.\n", deleted, failed)
	return nil
}

// selectReportsForDeletion applies the retention policy: runs older than
// olderThanDays and every run beyond the newest keepLast. The result is
// ordered oldest first without duplicates.
func selectReportsForDeletion(infos []store.ReportInfo, keepLast, olderThanDays int, now time.Time) []store.ReportInfo {
	sorted := make([]store.ReportInfo, len(infos))
	copy(sorted, infos)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].CreatedAt.Before(sorted[j].CreatedAt)
	})

	cutoff := now.AddDate(0, 0, -olderThanDays)
	excess := 0
	if keepLast > 0 && len(sorted) > keepLast {
		excess = len(sorted) - keepLast
	}

	var toDelete []store.ReportInfo
	for i, info := range sorted {
		byAge := olderThanDays > 0 && info.CreatedAt.Before(cutoff)
		byCount := i < excess
		if byAge || byCount {
			toDelete = append(toDelete, info)
		}
	}
	return toDelete
}

// getDirSize calculates the total size of a directory
func getDirSize(path string) (int64, error) {
	var size int64
	err := filepath.Walk(path, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			size += info.Size()
		}
		return nil
	})
	return size, err
}

// encodeJSON is shared by the commands that print machine-readable output.
func encodeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
