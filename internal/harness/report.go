package harness

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/cwbudde/gpumembench/internal/bench"
	"github.com/cwbudde/gpumembench/internal/device"
	"github.com/cwbudde/gpumembench/internal/kernels"
)

// Verification outcomes of a kernel.
const (
	VerificationPassed = "passed"
	VerificationFailed = "failed"
)

// KernelResult is the outcome of one kernel. Result is nil when the kernel
// was skipped or could not be loaded.
type KernelResult struct {
	Kernel       string            `json:"kernel"`
	Precision    kernels.Precision `json:"precision"`
	Result       *bench.Result     `json:"result,omitempty"`
	Verification string            `json:"verification,omitempty"`
	Skipped      string            `json:"skipped,omitempty"`
	Error        string            `json:"error,omitempty"`
}

// Report is the outcome of a benchmark run.
type Report struct {
	ID        string            `json:"id"`
	CreatedAt time.Time         `json:"createdAt"`
	Backend   string            `json:"backend"`
	Device    device.DeviceInfo `json:"device"`
	Repeats   int               `json:"repeats"`
	Buffers   []bench.Buffer    `json:"buffers"`
	Results   []KernelResult    `json:"results"`

	errs error
}

// Err returns the combined kernel failures of a live run, nil if every
// kernel succeeded. Reports read back from disk carry the messages in
// KernelResult.Error instead.
func (r *Report) Err() error {
	return r.errs
}

// Failed reports whether any kernel failed to run or verify.
func (r *Report) Failed() bool {
	for _, kr := range r.Results {
		if kr.Error != "" {
			return true
		}
	}
	return false
}

// Best returns the result with the highest bandwidth.
func (r *Report) Best() (KernelResult, bool) {
	var best KernelResult
	found := false
	for _, kr := range r.Results {
		if kr.Result == nil || kr.Result.Measured == 0 {
			continue
		}
		if !found || kr.Result.Bandwidth > best.Result.Bandwidth {
			best, found = kr, true
		}
	}
	return best, found
}

const rule = "--------------------------------------------------------------------------------------------------------"

// WriteTable prints the results in the classic memory benchmark layout:
// one row per kernel and a rule between kernel families.
func WriteTable(w io.Writer, r *Report) error {
	ew := &errWriter{w: w}

	ew.printf("%s\n", rule)
	ew.printf("Function             Best Rate GB/s   Avg time   Min time   Max time   Best Workgroup Size   Best GFLOPS\n")
	ew.printf("%s\n", rule)

	prev := ""
	for i, kr := range r.Results {
		fam := family(kr.Kernel)
		if i > 0 && fam != prev {
			ew.printf("%s\n", rule)
		}
		prev = fam

		res := kr.Result
		switch {
		case kr.Skipped != "":
			ew.printf("%18s   skipped: %s\n", kr.Kernel, kr.Skipped)
		case res == nil || res.Measured == 0:
			ew.printf("%18s   failed: %s\n", kr.Kernel, kr.Error)
		default:
			ew.printf("%18s   %14.3f   %8.6f   %8.6f   %8.6f   %19d   %11.3f\n",
				kr.Kernel, res.Bandwidth, res.AvgTime, res.BestTime, res.WorstTime, res.BestLocalSize, res.GFLOPS)
		}
	}
	ew.printf("%s\n", rule)

	for _, kr := range r.Results {
		if kr.Verification == VerificationFailed {
			ew.printf("%s: %s\n", kr.Kernel, kr.Error)
		}
	}
	return ew.err
}

// family drops the precision letter: elementwiseDS and elementwiseFS
// share a family, elementwiseD does not.
func family(name string) string {
	suffix := ""
	if strings.HasSuffix(name, "S") {
		name, suffix = name[:len(name)-1], "S"
	}
	if strings.HasSuffix(name, "D") || strings.HasSuffix(name, "F") {
		name = name[:len(name)-1]
	}
	return name + suffix
}

type errWriter struct {
	w   io.Writer
	err error
}

func (e *errWriter) printf(format string, args ...any) {
	if e.err != nil {
		return
	}
	_, e.err = fmt.Fprintf(e.w, format, args...)
}
