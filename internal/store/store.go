package store

import "github.com/cwbudde/gpumembench/internal/harness"

// Store defines the interface for benchmark report persistence.
// Implementations must be thread-safe and handle concurrent access gracefully.
//
// Error handling conventions:
//   - Return nil error on success
//   - Return ErrNotFound if the run doesn't exist (for Load/Delete)
//   - Wrap underlying errors with context using fmt.Errorf("context: %w", err)
type Store interface {
	// SaveReport atomically saves the report of a run, replacing any
	// earlier report with the same ID.
	SaveReport(report *harness.Report) error

	// LoadReport retrieves the report of the given run.
	// Returns ErrNotFound if no report exists for this runID.
	LoadReport(runID string) (*harness.Report, error)

	// ListReports returns summaries of all stored runs, newest first.
	ListReports() ([]ReportInfo, error)

	// DeleteReport removes the run directory, including report.json and
	// trace.jsonl.
	DeleteReport(runID string) error
}

// ErrNotFound is returned when a requested run does not exist.
// Use errors.Is(err, ErrNotFound) to check for this error.
var ErrNotFound = &NotFoundError{}

// NotFoundError represents a missing run.
type NotFoundError struct {
	RunID string
}

func (e *NotFoundError) Error() string {
	if e.RunID != "" {
		return "run not found: " + e.RunID
	}
	return "run not found"
}

func (e *NotFoundError) Is(target error) bool {
	_, ok := target.(*NotFoundError)
	return ok
}
