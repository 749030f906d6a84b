package server

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cwbudde/gpumembench/internal/config"
	"github.com/cwbudde/gpumembench/internal/harness"
)

// JobState represents the current state of a job
type JobState string

const (
	StatePending   JobState = "pending"
	StateRunning   JobState = "running"
	StateCompleted JobState = "completed"
	StateFailed    JobState = "failed"
	StateCancelled JobState = "cancelled"
)

// Terminal reports whether the job can no longer change state.
func (s JobState) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// Progress counts the configurations measured so far.
type Progress struct {
	Kernel    string `json:"kernel,omitempty"`
	Completed int    `json:"completed"`
	Total     int    `json:"total"`
}

// Job represents a benchmark run submitted to the server
type Job struct {
	ID       string     `json:"id"`
	State    JobState   `json:"state"`
	Config   config.Run `json:"config"`
	Progress Progress   `json:"progress"`

	// Failed is set when the run finished but a kernel failed to run or verify.
	Failed        bool    `json:"failed"`
	BestKernel    string  `json:"bestKernel,omitempty"`
	BestBandwidth float64 `json:"bestBandwidth,omitempty"`

	StartTime time.Time  `json:"startTime"`
	EndTime   *time.Time `json:"endTime,omitempty"`
	Error     string     `json:"error,omitempty"`

	report *harness.Report
}

// JobManager manages the lifecycle of jobs
type JobManager struct {
	mu          sync.RWMutex
	jobs        map[string]*Job
	cancels     map[string]context.CancelFunc
	broadcaster *EventBroadcaster
}

// NewJobManager creates a new JobManager
func NewJobManager() *JobManager {
	return &JobManager{
		jobs:        make(map[string]*Job),
		cancels:     make(map[string]context.CancelFunc),
		broadcaster: NewEventBroadcaster(),
	}
}

// CreateJob creates a new pending job with the given configuration
func (jm *JobManager) CreateJob(cfg config.Run) *Job {
	jm.mu.Lock()
	defer jm.mu.Unlock()

	job := &Job{
		ID:        uuid.New().String(),
		State:     StatePending,
		Config:    cfg,
		StartTime: time.Now(),
	}

	jm.jobs[job.ID] = job
	return job
}

// GetJob returns a snapshot of the job with the given ID
func (jm *JobManager) GetJob(id string) (Job, bool) {
	jm.mu.RLock()
	defer jm.mu.RUnlock()

	job, exists := jm.jobs[id]
	if !exists {
		return Job{}, false
	}
	return *job, true
}

// ListJobs returns snapshots of all jobs, oldest first
func (jm *JobManager) ListJobs() []Job {
	jm.mu.RLock()
	defer jm.mu.RUnlock()

	jobs := make([]Job, 0, len(jm.jobs))
	for _, job := range jm.jobs {
		jobs = append(jobs, *job)
	}
	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].StartTime.Before(jobs[j].StartTime)
	})
	return jobs
}

// UpdateJob atomically updates a job using the provided function
func (jm *JobManager) UpdateJob(id string, updateFn func(*Job)) error {
	jm.mu.Lock()
	defer jm.mu.Unlock()

	job, exists := jm.jobs[id]
	if !exists {
		return fmt.Errorf("job not found: %s", id)
	}

	updateFn(job)
	return nil
}

// Report returns the report of a finished job.
func (jm *JobManager) Report(id string) (*harness.Report, bool) {
	jm.mu.RLock()
	defer jm.mu.RUnlock()

	job, exists := jm.jobs[id]
	if !exists || job.report == nil {
		return nil, false
	}
	return job.report, true
}

// GetRunningJobs returns all jobs currently in the running state
func (jm *JobManager) GetRunningJobs() []Job {
	jm.mu.RLock()
	defer jm.mu.RUnlock()

	runningJobs := make([]Job, 0)
	for _, job := range jm.jobs {
		if job.State == StateRunning {
			runningJobs = append(runningJobs, *job)
		}
	}
	return runningJobs
}

// start moves a pending job to running and derives its context. It returns
// false when the job was cancelled while it waited in the queue.
func (jm *JobManager) start(parent context.Context, id string) (context.Context, bool) {
	jm.mu.Lock()
	defer jm.mu.Unlock()

	job, exists := jm.jobs[id]
	if !exists || job.State != StatePending {
		return nil, false
	}

	ctx, cancel := context.WithCancel(parent)
	jm.cancels[id] = cancel
	job.State = StateRunning
	return ctx, true
}

// finish releases the context of a job started with start.
func (jm *JobManager) finish(id string) {
	jm.mu.Lock()
	defer jm.mu.Unlock()

	if cancel, ok := jm.cancels[id]; ok {
		cancel()
		delete(jm.cancels, id)
	}
}

// CancelJob cancels a pending or running job. Pending jobs are cancelled
// immediately; running jobs stop after the configuration in flight.
func (jm *JobManager) CancelJob(id string) error {
	jm.mu.Lock()
	defer jm.mu.Unlock()

	job, exists := jm.jobs[id]
	if !exists {
		return fmt.Errorf("job not found: %s", id)
	}

	switch job.State {
	case StatePending:
		endTime := time.Now()
		job.State = StateCancelled
		job.EndTime = &endTime
	case StateRunning:
		if cancel, ok := jm.cancels[id]; ok {
			cancel()
		}
	default:
		return fmt.Errorf("job %s already %s", id, job.State)
	}
	return nil
}
