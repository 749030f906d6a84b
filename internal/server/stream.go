package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/cwbudde/gpumembench/internal/bench"
)

// ProgressEvent is a state change of a run or one measured configuration.
type ProgressEvent struct {
	RunID    string   `json:"runId"`
	State    JobState `json:"state"`
	Progress Progress `json:"progress"`

	// Sample is the configuration that produced this event, nil for
	// state changes.
	Sample *bench.Sample `json:"sample,omitempty"`

	BestKernel    string    `json:"bestKernel,omitempty"`
	BestBandwidth float64   `json:"bestBandwidth,omitempty"`
	Error         string    `json:"error,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// EventBroadcaster manages SSE connections for runs
type EventBroadcaster struct {
	mu        sync.Mutex
	clients   map[string]map[chan ProgressEvent]bool // runID -> set of client channels
	lastEvent map[string]ProgressEvent               // runID -> last event for new clients
}

// NewEventBroadcaster creates a new event broadcaster
func NewEventBroadcaster() *EventBroadcaster {
	return &EventBroadcaster{
		clients:   make(map[string]map[chan ProgressEvent]bool),
		lastEvent: make(map[string]ProgressEvent),
	}
}

// Subscribe adds a client to receive events for a run
func (eb *EventBroadcaster) Subscribe(runID string) chan ProgressEvent {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	// Large enough for a full sweep of one kernel.
	ch := make(chan ProgressEvent, 32)

	if eb.clients[runID] == nil {
		eb.clients[runID] = make(map[chan ProgressEvent]bool)
	}
	eb.clients[runID][ch] = true

	// Replay the last event for reconnecting clients
	if lastEvent, ok := eb.lastEvent[runID]; ok {
		select {
		case ch <- lastEvent:
		default:
		}
	}

	slog.Debug("SSE client subscribed", "run_id", runID, "total_clients", len(eb.clients[runID]))
	return ch
}

// Unsubscribe removes a client from receiving events
func (eb *EventBroadcaster) Unsubscribe(runID string, ch chan ProgressEvent) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if clients, ok := eb.clients[runID]; ok {
		if clients[ch] {
			delete(clients, ch)
			close(ch)
		}

		if len(clients) == 0 {
			delete(eb.clients, runID)
		}
	}

	slog.Debug("SSE client unsubscribed", "run_id", runID)
}

// Broadcast sends an event to all subscribed clients for a run
func (eb *EventBroadcaster) Broadcast(event ProgressEvent) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.lastEvent[event.RunID] = event

	clients, ok := eb.clients[event.RunID]
	if !ok || len(clients) == 0 {
		return
	}

	for ch := range clients {
		select {
		case ch <- event:
		default:
			// Slow client, drop rather than stall the device worker
			slog.Warn("SSE channel full, skipping event", "run_id", event.RunID)
		}
	}
}

// CleanupRun removes all clients and the cached event for a run
func (eb *EventBroadcaster) CleanupRun(runID string) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if clients, ok := eb.clients[runID]; ok {
		for ch := range clients {
			close(ch)
		}
		delete(eb.clients, runID)
	}

	delete(eb.lastEvent, runID)
	slog.Debug("Cleaned up SSE resources", "run_id", runID)
}

// handleRunStream handles SSE connections for run progress. The stream
// ends after the event carrying a terminal state.
func (s *Server) handleRunStream(w http.ResponseWriter, r *http.Request, runID string) {
	job, exists := s.jobManager.GetJob(runID)
	if !exists {
		http.Error(w, "Run not found", http.StatusNotFound)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	eventChan := s.jobManager.broadcaster.Subscribe(runID)
	defer s.jobManager.broadcaster.Unsubscribe(runID, eventChan)

	initial := eventFromJob(job)
	if err := writeSSEEvent(w, initial); err != nil {
		slog.Error("Failed to write initial SSE event", "error", err)
		return
	}
	flusher.Flush()
	if initial.State.Terminal() {
		return
	}

	pingTicker := time.NewTicker(30 * time.Second)
	defer pingTicker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			slog.Debug("SSE client disconnected", "run_id", runID)
			return

		case event, ok := <-eventChan:
			if !ok {
				return
			}

			if err := writeSSEEvent(w, event); err != nil {
				slog.Error("Failed to write SSE event", "error", err)
				return
			}
			flusher.Flush()
			if event.State.Terminal() {
				return
			}

		case <-pingTicker.C:
			fmt.Fprintf(w, ": ping\n\n")
			flusher.Flush()
		}
	}
}

func eventFromJob(job Job) ProgressEvent {
	return ProgressEvent{
		RunID:         job.ID,
		State:         job.State,
		Progress:      job.Progress,
		BestKernel:    job.BestKernel,
		BestBandwidth: job.BestBandwidth,
		Error:         job.Error,
		Timestamp:     time.Now(),
	}
}

// writeSSEEvent writes an event in SSE format
func writeSSEEvent(w http.ResponseWriter, event ProgressEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	_, err = fmt.Fprintf(w, "data: %s\n\n", data)
	return err
}
