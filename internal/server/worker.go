package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cwbudde/gpumembench/internal/backend"
	"github.com/cwbudde/gpumembench/internal/bench"
	"github.com/cwbudde/gpumembench/internal/harness"
	"github.com/cwbudde/gpumembench/internal/kernels"
	"github.com/cwbudde/gpumembench/internal/store"
)

// DeviceOpener opens the backend a run executes on.
type DeviceOpener func(name string, opts backend.Options) (backend.Device, error)

// worker executes queued runs one at a time so the device is never shared.
func (s *Server) worker(ctx context.Context) {
	defer close(s.done)

	for {
		select {
		case <-ctx.Done():
			return
		case id := <-s.queue:
			if err := runJob(ctx, s.jobManager, s.store, s.openDevice, id); err != nil {
				slog.Debug("Run ended with error", "run_id", id, "error", err)
			}
		}
	}
}

// runJob executes a benchmark run. If st is not nil the report and the
// per-configuration trace are persisted under the run ID.
func runJob(parent context.Context, jm *JobManager, st *store.FSStore, open DeviceOpener, runID string) error {
	ctx, ok := jm.start(parent, runID)
	if !ok {
		slog.Info("Skipping run that is no longer pending", "run_id", runID)
		return nil
	}
	defer jm.finish(runID)

	job, _ := jm.GetJob(runID)
	cfg := job.Config

	selected, err := kernels.Select(cfg.Kernels)
	if err != nil {
		markJobFailed(jm, runID, err)
		return err
	}

	slog.Info("Starting run", "run_id", runID, "backend", cfg.Backend, "elements", cfg.Elements)

	dev, err := open(cfg.Backend, cfg.BackendOptions())
	if err != nil {
		err = fmt.Errorf("failed to open backend: %w", err)
		markJobFailed(jm, runID, err)
		return err
	}
	defer func() {
		if err := dev.Close(); err != nil {
			slog.Warn("Failed to release device", "run_id", runID, "error", err)
		}
	}()

	// Double kernels are skipped on devices without fp64 and produce no samples.
	caps := dev.Capability()
	runnable := 0
	for _, desc := range selected {
		if desc.Precision != kernels.Double || caps.DoublePrecision {
			runnable++
		}
	}
	total := runnable * len(bench.LocalSizes(bench.MaxLocalSize))
	jm.UpdateJob(runID, func(j *Job) {
		j.Progress = Progress{Total: total}
	})
	jm.broadcaster.Broadcast(ProgressEvent{
		RunID:     runID,
		State:     StateRunning,
		Progress:  Progress{Total: total},
		Timestamp: time.Now(),
	})

	var trace *store.TraceWriter
	if st != nil {
		trace, err = store.NewTraceWriter(st.BaseDir(), runID, false)
		if err != nil {
			markJobFailed(jm, runID, err)
			return err
		}
		defer func() {
			if err := trace.Close(); err != nil {
				slog.Warn("Failed to close trace", "run_id", runID, "error", err)
			}
		}()
	}

	observer := func(kernel string, sample bench.Sample) {
		if trace != nil {
			trace.Observe(kernel, sample)
		}

		var progress Progress
		jm.UpdateJob(runID, func(j *Job) {
			j.Progress.Kernel = kernel
			j.Progress.Completed++
			progress = j.Progress
		})
		jm.broadcaster.Broadcast(ProgressEvent{
			RunID:     runID,
			State:     StateRunning,
			Progress:  progress,
			Sample:    &sample,
			Timestamp: time.Now(),
		})
	}

	start := time.Now()
	report, err := harness.Run(ctx, dev, harness.Options{
		ID:            runID,
		Backend:       cfg.Backend,
		Elements:      cfg.Elements,
		Kernels:       cfg.Kernels,
		Repeats:       cfg.Repeats,
		ComputeUnits:  cfg.ComputeUnits,
		WavefrontPool: cfg.WavefrontPool,
		Verify:        cfg.Verify,
		Observer:      observer,
	})
	switch {
	case errors.Is(err, context.Canceled):
		markJobCancelled(jm, runID)
		return err
	case err != nil:
		markJobFailed(jm, runID, err)
		return err
	}

	if st != nil {
		if err := st.SaveReport(report); err != nil {
			markJobFailed(jm, runID, err)
			return err
		}
	}

	info := store.NewReportInfo(report)
	endTime := time.Now()
	jm.UpdateJob(runID, func(j *Job) {
		j.State = StateCompleted
		j.Failed = info.Failed
		j.BestKernel = info.BestKernel
		j.BestBandwidth = info.BestBandwidth
		j.EndTime = &endTime
		j.report = report
	})

	slog.Info("Run completed",
		"run_id", runID,
		"elapsed", time.Since(start),
		"best_kernel", info.BestKernel,
		"bandwidth_gib", info.BestBandwidth,
		"failed", info.Failed,
	)

	job, _ = jm.GetJob(runID)
	jm.broadcaster.Broadcast(eventFromJob(job))
	return nil
}

// markJobFailed marks a job as failed with an error message
func markJobFailed(jm *JobManager, runID string, err error) {
	endTime := time.Now()
	jm.UpdateJob(runID, func(j *Job) {
		j.State = StateFailed
		j.Error = err.Error()
		j.EndTime = &endTime
	})
	slog.Error("Run failed", "run_id", runID, "error", err)

	if job, ok := jm.GetJob(runID); ok {
		jm.broadcaster.Broadcast(eventFromJob(job))
	}
}

// markJobCancelled marks a job as cancelled
func markJobCancelled(jm *JobManager, runID string) {
	endTime := time.Now()
	jm.UpdateJob(runID, func(j *Job) {
		j.State = StateCancelled
		j.EndTime = &endTime
	})
	slog.Info("Run cancelled", "run_id", runID)

	if job, ok := jm.GetJob(runID); ok {
		jm.broadcaster.Broadcast(eventFromJob(job))
	}
}
