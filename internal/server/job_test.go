package server

import (
	"context"
	"sync"
	"testing"

	"github.com/cwbudde/gpumembench/internal/config"
)

func TestJobManager_CreateJob(t *testing.T) {
	jm := NewJobManager()

	cfg := config.Default()
	cfg.Kernels = []string{"elementwiseF"}

	job := jm.CreateJob(cfg)

	if job.ID == "" {
		t.Error("Job ID should not be empty")
	}
	if job.State != StatePending {
		t.Errorf("Initial state should be pending, got %s", job.State)
	}
	if len(job.Config.Kernels) != 1 || job.Config.Kernels[0] != "elementwiseF" {
		t.Errorf("Config not set correctly: %+v", job.Config)
	}
}

func TestJobManager_GetJob(t *testing.T) {
	jm := NewJobManager()
	job := jm.CreateJob(config.Default())

	retrieved, exists := jm.GetJob(job.ID)
	if !exists {
		t.Fatal("Job should exist")
	}
	if retrieved.ID != job.ID {
		t.Error("Retrieved wrong job")
	}

	if _, exists := jm.GetJob("nonexistent"); exists {
		t.Error("Should not find nonexistent job")
	}
}

func TestJobManager_ListJobs(t *testing.T) {
	jm := NewJobManager()

	if len(jm.ListJobs()) != 0 {
		t.Error("Should start with no jobs")
	}

	first := jm.CreateJob(config.Default())
	jm.CreateJob(config.Default())

	jobs := jm.ListJobs()
	if len(jobs) != 2 {
		t.Fatalf("Expected 2 jobs, got %d", len(jobs))
	}
	if jobs[0].ID != first.ID {
		t.Error("Expected jobs ordered by start time")
	}
}

func TestJobManager_UpdateJob(t *testing.T) {
	jm := NewJobManager()
	job := jm.CreateJob(config.Default())

	err := jm.UpdateJob(job.ID, func(j *Job) {
		j.State = StateRunning
		j.Progress.Completed = 3
	})
	if err != nil {
		t.Fatalf("UpdateJob failed: %v", err)
	}

	updated, _ := jm.GetJob(job.ID)
	if updated.State != StateRunning {
		t.Errorf("Expected running, got %s", updated.State)
	}
	if updated.Progress.Completed != 3 {
		t.Errorf("Expected 3 completed, got %d", updated.Progress.Completed)
	}

	if err := jm.UpdateJob("nonexistent", func(j *Job) {}); err == nil {
		t.Error("Expected error for nonexistent job")
	}
}

func TestJobManager_SnapshotsAreCopies(t *testing.T) {
	jm := NewJobManager()
	job := jm.CreateJob(config.Default())

	snapshot, _ := jm.GetJob(job.ID)
	snapshot.State = StateFailed

	current, _ := jm.GetJob(job.ID)
	if current.State != StatePending {
		t.Errorf("Mutating a snapshot changed the job: %s", current.State)
	}
}

func TestJobManager_CancelPending(t *testing.T) {
	jm := NewJobManager()
	job := jm.CreateJob(config.Default())

	if err := jm.CancelJob(job.ID); err != nil {
		t.Fatalf("CancelJob failed: %v", err)
	}

	cancelled, _ := jm.GetJob(job.ID)
	if cancelled.State != StateCancelled || cancelled.EndTime == nil {
		t.Errorf("Expected cancelled job with end time, got %+v", cancelled)
	}

	if _, ok := jm.start(context.Background(), job.ID); ok {
		t.Error("A cancelled job must not start")
	}
	if err := jm.CancelJob(job.ID); err == nil {
		t.Error("Expected error cancelling a finished job")
	}
}

func TestJobManager_CancelRunning(t *testing.T) {
	jm := NewJobManager()
	job := jm.CreateJob(config.Default())

	ctx, ok := jm.start(context.Background(), job.ID)
	if !ok {
		t.Fatal("Expected pending job to start")
	}
	if running := jm.GetRunningJobs(); len(running) != 1 {
		t.Fatalf("Expected 1 running job, got %d", len(running))
	}

	if err := jm.CancelJob(job.ID); err != nil {
		t.Fatalf("CancelJob failed: %v", err)
	}
	if ctx.Err() == nil {
		t.Error("Expected run context to be cancelled")
	}
	jm.finish(job.ID)
}

func TestJobManager_ThreadSafety(t *testing.T) {
	jm := NewJobManager()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			job := jm.CreateJob(config.Default())
			jm.UpdateJob(job.ID, func(j *Job) {
				j.Progress.Completed++
			})
			jm.GetJob(job.ID)
			jm.ListJobs()
		}()
	}
	wg.Wait()

	if len(jm.ListJobs()) != 10 {
		t.Errorf("Expected 10 jobs, got %d", len(jm.ListJobs()))
	}
}
