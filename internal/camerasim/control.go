package camerasim

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
)

// Control implements the camera gateway's control HTTP API, per spec.md
// §6: idle/recording state with a filename and start time, driven by
// recording.Controller's /start and /stop calls. The frame count reported
// by /status is reset on /start and never advanced, so it always reads 0.
type Control struct {
	sender *Sender

	mu        sync.Mutex
	filename  string
	startedAt time.Time
	frames    int
}

// NewControl creates a control API bound to sender.
func NewControl(sender *Sender) *Control {
	return &Control{sender: sender}
}

// Routes returns the chi router for the control API.
func (c *Control) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/start", c.Start)
	r.Post("/stop", c.Stop)
	r.Get("/status", c.Status)
	r.Get("/health", c.Health)
	return r
}

// Start implements POST /start.
func (c *Control) Start(w http.ResponseWriter, r *http.Request) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sender.Recording() {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "already recording"})
		return
	}

	c.filename = "recording-" + time.Now().UTC().Format("20060102-150405") + ".mp4"
	c.startedAt = time.Now()
	c.frames = 0
	c.sender.SetRecording(true)

	writeJSON(w, http.StatusOK, map[string]string{"message": "recording started"})
}

// Stop implements POST /stop.
func (c *Control) Stop(w http.ResponseWriter, r *http.Request) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.sender.Recording() {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "not recording"})
		return
	}

	c.sender.SetRecording(false)
	writeJSON(w, http.StatusOK, map[string]string{"message": "recording stopped"})
}

// Status implements GET /status.
func (c *Control) Status(w http.ResponseWriter, r *http.Request) {
	c.mu.Lock()
	defer c.mu.Unlock()

	resp := map[string]any{"recording": c.sender.Recording()}
	if c.sender.Recording() {
		resp["filename"] = c.filename
		resp["duration_seconds"] = time.Since(c.startedAt).Seconds()
		resp["frames"] = c.frames
	}
	writeJSON(w, http.StatusOK, resp)
}

// Health implements GET /health.
func (c *Control) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
