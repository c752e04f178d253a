package server

import (
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/cwbudde/govizier/internal/metrics"
	"github.com/cwbudde/govizier/internal/study"
)

// EventKind names what happened to a trial.
type EventKind string

const (
	EventAdded     EventKind = "added"
	EventCompleted EventKind = "completed"
	EventStopped   EventKind = "stopped"
)

// TrialEvent is pushed to subscribers of a study's event stream.
type TrialEvent struct {
	StudyGUID string      `json:"study_guid"`
	Kind      EventKind   `json:"kind"`
	Trial     study.Trial `json:"trial"`
	Timestamp time.Time   `json:"timestamp"`
}

// pingInterval keeps idle SSE connections alive.
var pingInterval = 30 * time.Second

// EventBroadcaster fans trial events out to SSE clients, per study.
type EventBroadcaster struct {
	mu      sync.RWMutex
	clients map[string]map[chan TrialEvent]struct{}
}

func NewEventBroadcaster() *EventBroadcaster {
	return &EventBroadcaster{
		clients: make(map[string]map[chan TrialEvent]struct{}),
	}
}

// Subscribe registers a client for events of a study.
func (eb *EventBroadcaster) Subscribe(guid string) chan TrialEvent {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	ch := make(chan TrialEvent, 64)
	if eb.clients[guid] == nil {
		eb.clients[guid] = make(map[chan TrialEvent]struct{})
	}
	eb.clients[guid][ch] = struct{}{}
	metrics.EventSubscribers.Inc()

	slog.Debug("SSE client subscribed", "study_guid", guid, "total_clients", len(eb.clients[guid]))
	return ch
}

// Unsubscribe removes a client and closes its channel.
func (eb *EventBroadcaster) Unsubscribe(guid string, ch chan TrialEvent) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	clients, ok := eb.clients[guid]
	if !ok {
		return
	}
	if _, ok := clients[ch]; !ok {
		return
	}
	delete(clients, ch)
	close(ch)
	metrics.EventSubscribers.Dec()
	if len(clients) == 0 {
		delete(eb.clients, guid)
	}
	slog.Debug("SSE client unsubscribed", "study_guid", guid)
}

// Broadcast delivers an event to every subscriber of its study. Slow clients
// miss events instead of blocking the caller.
func (eb *EventBroadcaster) Broadcast(event TrialEvent) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	for ch := range eb.clients[event.StudyGUID] {
		select {
		case ch <- event:
		default:
			slog.Warn("SSE channel full, skipping event", "study_guid", event.StudyGUID, "trial_id", event.Trial.ID)
		}
	}
}

// Subscribers returns the number of clients of a study.
func (eb *EventBroadcaster) Subscribers(guid string) int {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	return len(eb.clients[guid])
}

// handleEvents streams trial events of a study as server-sent events.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	guid := chi.URLParam(r, "guid")
	if _, err := s.store.GetStudy(r.Context(), guid); err != nil {
		writeError(w, r, err)
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
	w.WriteHeader(http.StatusOK)

	events := s.broadcaster.Subscribe(guid)
	defer s.broadcaster.Unsubscribe(guid, events)

	// Comment line so clients see the stream is open.
	fmt.Fprintf(w, ": subscribed %s\n\n", guid)
	flusher.Flush()

	ping := time.NewTicker(pingInterval)
	defer ping.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			slog.Debug("SSE client disconnected", "study_guid", guid)
			return
		case <-s.done:
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			if err := writeSSEEvent(w, event); err != nil {
				slog.Error("Failed to write SSE event", "error", err)
				return
			}
			flusher.Flush()
		case <-ping.C:
			fmt.Fprintf(w, ": ping\n\n")
			flusher.Flush()
		}
	}
}

// writeSSEEvent writes one event in SSE framing.
func writeSSEEvent(w http.ResponseWriter, event TrialEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Kind, data)
	return err
}
