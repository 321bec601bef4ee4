// Package backend implements the backend process's client-facing surface:
// SSE event fan-out and the dual-camera WebSocket video stream, plus the
// thin REST wrappers that publish control messages onto the event fabric.
package backend

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
)

// EventKind is the SSE event kind, per spec.md §4.7.
type EventKind string

const (
	EventSuspicion EventKind = "suspicion"
	EventRecording EventKind = "recording"
	EventSuccess   EventKind = "success"
	EventFailure   EventKind = "failure"
)

// sseSubscriberQueue is the bounded, drop-oldest per-subscriber channel
// depth, per spec.md §4.7.
const sseSubscriberQueue = 1000

// Event is one SSE payload.
type Event struct {
	Kind EventKind
	Data any
}

// SSEHub fans out decoded event-fabric messages to HTTP Server-Sent-Events
// subscribers. Grounded on original_source/backend/app/core/services/sse/
// server_side_events.py's single-queue-per-subscriber model, translated
// into the teacher's internal/api.Hub idiom (registration channel, bounded
// per-subscriber channel, one owning goroutine).
type SSEHub struct {
	logger *slog.Logger

	mu          sync.RWMutex
	subscribers map[chan Event]bool

	register   chan chan Event
	unregister chan chan Event
	broadcast  chan Event
}

// NewSSEHub creates a new SSE hub. Call Run in its own goroutine.
func NewSSEHub(logger *slog.Logger) *SSEHub {
	if logger == nil {
		logger = slog.Default()
	}
	return &SSEHub{
		logger:      logger.With("component", "sse-hub"),
		subscribers: make(map[chan Event]bool),
		register:    make(chan chan Event),
		unregister:  make(chan chan Event),
		broadcast:   make(chan Event, 256),
	}
}

// Run is the hub's single owning goroutine and the only writer of
// subscribers; it holds mu around each change and each broadcast.
func (h *SSEHub) Run() {
	for {
		select {
		case sub := <-h.register:
			h.mu.Lock()
			h.subscribers[sub] = true
			h.mu.Unlock()

		case sub := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.subscribers[sub]; ok {
				delete(h.subscribers, sub)
				close(sub)
			}
			h.mu.Unlock()

		case ev := <-h.broadcast:
			h.mu.RLock()
			for sub := range h.subscribers {
				select {
				case sub <- ev:
				default:
					// subscriber buffer full: drop oldest by draining one slot, then push
					select {
					case <-sub:
					default:
					}
					select {
					case sub <- ev:
					default:
					}
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Publish enqueues an event for fan-out to all subscribers.
func (h *SSEHub) Publish(kind EventKind, data any) {
	select {
	case h.broadcast <- Event{Kind: kind, Data: data}:
	default:
		h.logger.Warn("sse broadcast channel full, dropping event", "kind", kind)
	}
}

// ServeHTTP implements the GET /api/sse endpoint.
func (h *SSEHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	sub := make(chan Event, sseSubscriberQueue)
	h.register <- sub
	defer func() { h.unregister <- sub }()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-sub:
			if !ok {
				return
			}
			payload, err := json.Marshal(ev.Data)
			if err != nil {
				h.logger.Error("failed to marshal sse event", "error", err)
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Kind, payload)
			flusher.Flush()
		}
	}
}
