package backend

import (
	"net/http"
	"strconv"

	"github.com/tomeravgil/guardcar/internal/api"
	"github.com/tomeravgil/guardcar/internal/logging"
)

// LogsHandler exposes the process's in-memory log ring buffer over HTTP,
// for operator debugging without needing log aggregation wired up.
type LogsHandler struct {
	buffer *logging.RingBuffer
}

// NewLogsHandler creates a handler backed by buffer.
func NewLogsHandler(buffer *logging.RingBuffer) *LogsHandler {
	return &LogsHandler{buffer: buffer}
}

// ServeHTTP implements GET /api/logs?n=100.
func (h *LogsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	n := 100
	if v := r.URL.Query().Get("n"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			n = parsed
		}
	}
	api.OK(w, h.buffer.GetRecent(n))
}
