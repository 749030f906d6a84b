package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

var serverURL string

var statusCmd = &cobra.Command{
	Use:   "status [run-id]",
	Short: "Query server status or a specific run",
	Long: `Queries the server for run status information.
If no run-id is provided, lists all runs.
If run-id is provided, shows detailed status for that run.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&serverURL, "server", "http://localhost:8080", "Server URL")
	rootCmd.AddCommand(statusCmd)
}

// runSummary is the part of a server run the status command prints.
type runSummary struct {
	ID       string `json:"id"`
	State    string `json:"state"`
	Progress struct {
		Kernel    string `json:"kernel"`
		Completed int    `json:"completed"`
		Total     int    `json:"total"`
	} `json:"progress"`
	Config struct {
		Backend  string   `json:"backend"`
		Elements uint64   `json:"elements"`
		Kernels  []string `json:"kernels"`
		Repeats  int      `json:"repeats"`
	} `json:"config"`
	Failed        bool     `json:"failed"`
	BestKernel    string   `json:"bestKernel"`
	BestBandwidth float64  `json:"bestBandwidth"`
	Elapsed       *float64 `json:"elapsed,omitempty"`
	Error         string   `json:"error"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	if len(args) == 0 {
		return listRuns(out, fmt.Sprintf("%s/api/v1/runs", serverURL))
	}
	runID := args[0]
	return getRunStatus(out, fmt.Sprintf("%s/api/v1/runs/%s", serverURL, runID), runID)
}

func fetchJSON(url string, v any) (int, error) {
	resp, err := http.Get(url)
	if err != nil {
		return 0, fmt.Errorf("failed to connect to server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return resp.StatusCode, fmt.Errorf("server returned error: %s", string(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return resp.StatusCode, fmt.Errorf("failed to decode response: %w", err)
	}
	return resp.StatusCode, nil
}

func listRuns(out io.Writer, url string) error {
	var runs []runSummary
	if _, err := fetchJSON(url, &runs); err != nil {
		return err
	}

	if len(runs) == 0 {
		fmt.Fprintln(out, "No runs found")
		return nil
	}

	fmt.Fprintf(out, "Found %d run(s):\n\n", len(runs))
	for _, run := range runs {
		fmt.Fprintf(out, "Run ID: %s\n", run.ID)
		fmt.Fprintf(out, "  State: %s\n", run.State)
		fmt.Fprintf(out, "  Backend: %s\n", run.Config.Backend)
		fmt.Fprintf(out, "  Progress: %d/%d configurations\n", run.Progress.Completed, run.Progress.Total)
		if run.BestKernel != "" {
			fmt.Fprintf(out, "  Best: %s at %.3f GiB/s\n", run.BestKernel, run.BestBandwidth)
		}
		fmt.Fprintln(out)
	}
	return nil
}

func getRunStatus(out io.Writer, url, runID string) error {
	var run runSummary
	status, err := fetchJSON(url, &run)
	if status == http.StatusNotFound {
		return fmt.Errorf("run not found: %s", runID)
	}
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "Run: %s\n", run.ID)
	fmt.Fprintf(out, "State: %s\n", run.State)
	fmt.Fprintln(out)

	fmt.Fprintln(out, "Configuration:")
	fmt.Fprintf(out, "  Backend: %s\n", run.Config.Backend)
	fmt.Fprintf(out, "  Elements: %d\n", run.Config.Elements)
	fmt.Fprintf(out, "  Repeats: %d\n", run.Config.Repeats)
	if len(run.Config.Kernels) > 0 {
		fmt.Fprintf(out, "  Kernels: %v\n", run.Config.Kernels)
	}
	fmt.Fprintln(out)

	fmt.Fprintln(out, "Progress:")
	fmt.Fprintf(out, "  Configurations: %d/%d\n", run.Progress.Completed, run.Progress.Total)
	if run.Progress.Kernel != "" {
		fmt.Fprintf(out, "  Current kernel: %s\n", run.Progress.Kernel)
	}
	if run.Elapsed != nil {
		elapsed := time.Duration(*run.Elapsed * float64(time.Second))
		fmt.Fprintf(out, "  Elapsed: %s\n", elapsed.Round(time.Millisecond))
	}
	if run.BestKernel != "" {
		fmt.Fprintf(out, "  Best: %s at %.3f GiB/s\n", run.BestKernel, run.BestBandwidth)
	}
	if run.Failed {
		fmt.Fprintln(out, "  Some kernels failed; see the report for details")
	}

	if run.Error != "" {
		fmt.Fprintf(out, "\nError: %s\n", run.Error)
	}
	return nil
}
