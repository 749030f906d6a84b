package store

import (
	"time"

	"github.com/cwbudde/gpumembench/internal/harness"
)

// ReportInfo summarises a stored run without its per-configuration samples.
type ReportInfo struct {
	RunID     string    `json:"runId"`
	CreatedAt time.Time `json:"createdAt"`
	Backend   string    `json:"backend"`
	Device    string    `json:"device"`

	// BufferBytes is the size of the largest sanitized buffer.
	BufferBytes uint64 `json:"bufferBytes"`
	Kernels     int    `json:"kernels"`
	Failed      bool   `json:"failed"`

	// BestKernel and BestBandwidth name the fastest kernel in GiB/s.
	BestKernel    string  `json:"bestKernel,omitempty"`
	BestBandwidth float64 `json:"bestBandwidth,omitempty"`
}

// NewReportInfo summarises r.
func NewReportInfo(r *harness.Report) ReportInfo {
	info := ReportInfo{
		RunID:     r.ID,
		CreatedAt: r.CreatedAt,
		Backend:   r.Backend,
		Device:    r.Device.String(),
		Kernels:   len(r.Results),
		Failed:    r.Failed(),
	}
	for _, buf := range r.Buffers {
		info.BufferBytes = max(info.BufferBytes, buf.Bytes)
	}
	if best, ok := r.Best(); ok {
		info.BestKernel = best.Kernel
		info.BestBandwidth = best.Result.Bandwidth
	}
	return info
}

// Validate checks that a report can be stored.
func Validate(r *harness.Report) error {
	if r == nil {
		return &ValidationError{Field: "Report", Reason: "cannot be nil"}
	}
	if r.ID == "" {
		return &ValidationError{Field: "ID", Reason: "cannot be empty"}
	}
	if r.CreatedAt.IsZero() {
		return &ValidationError{Field: "CreatedAt", Reason: "cannot be zero"}
	}
	if r.Backend == "" {
		return &ValidationError{Field: "Backend", Reason: "cannot be empty"}
	}
	for _, kr := range r.Results {
		if kr.Kernel == "" {
			return &ValidationError{Field: "Results", Reason: "kernel name cannot be empty"}
		}
	}
	return nil
}

// ValidationError represents a report validation error.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation error: " + e.Field + " " + e.Reason
}
