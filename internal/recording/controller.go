// Package recording implements the two-state (idle/recording) hysteresis
// controller that starts and stops a camera's recording against its control
// HTTP API, edge-triggered on the tracker's suspicion score.
package recording

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

type state int

const (
	stateIdle state = iota
	stateRecording
)

const (
	httpTimeout = 3 * time.Second
)

// StatusSink publishes RecordingStatus transitions to the event fabric.
type StatusSink interface {
	PublishRecordingStatus(cameraID string, recording bool)
}

// cameraState is one camera's hysteresis state plus its control endpoint.
type cameraState struct {
	mu    sync.Mutex
	state state

	controlURL    string
	threshold     float64
	stopThreshold float64
}

// Controller drives recording start/stop for every camera it's been told
// about, one independent state machine per camera ID.
type Controller struct {
	mu      sync.RWMutex
	cameras map[string]*cameraState
	client  *http.Client
	sink    StatusSink
	logger  *slog.Logger
}

// New constructs a Controller. sink may be nil in tests.
func New(sink StatusSink, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		cameras: make(map[string]*cameraState),
		client:  &http.Client{Timeout: httpTimeout},
		sink:    sink,
		logger:  logger.With("component", "recording"),
	}
}

// Register tells the controller about a camera's control endpoint and
// threshold. stopThreshold defaults to threshold when zero (additive,
// non-breaking resolution of spec.md §9's open question: a single
// threshold remains the default, but callers that want separate start/stop
// thresholds may set one).
func (c *Controller) Register(cameraID, controlURL string, threshold, stopThreshold float64) {
	if stopThreshold == 0 {
		stopThreshold = threshold
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cameras[cameraID] = &cameraState{
		controlURL:    controlURL,
		threshold:     threshold,
		stopThreshold: stopThreshold,
	}
}

// SetThreshold hot-reloads a camera's threshold (and stop threshold, if it
// had been left equal to the old threshold) from a SuspicionConfig control
// message.
func (c *Controller) SetThreshold(cameraID string, threshold float64) {
	c.mu.RLock()
	cam, ok := c.cameras[cameraID]
	c.mu.RUnlock()
	if !ok {
		return
	}

	cam.mu.Lock()
	if cam.stopThreshold == cam.threshold {
		cam.stopThreshold = threshold
	}
	cam.threshold = threshold
	cam.mu.Unlock()
}

// Observe implements the framepump.RecordingHandoff interface: feed the
// latest suspicion score for a camera through its state machine.
func (c *Controller) Observe(cameraID string, score float64) {
	c.mu.RLock()
	cam, ok := c.cameras[cameraID]
	c.mu.RUnlock()
	if !ok {
		return
	}

	cam.mu.Lock()
	var transitioned bool
	var nowRecording bool
	switch cam.state {
	case stateIdle:
		if score >= cam.threshold {
			cam.state = stateRecording
			transitioned = true
			nowRecording = true
		}
	case stateRecording:
		if score < cam.stopThreshold {
			cam.state = stateIdle
			transitioned = true
			nowRecording = false
		}
	}
	controlURL := cam.controlURL
	cam.mu.Unlock()

	if !transitioned {
		return
	}

	path := "/start"
	if !nowRecording {
		path = "/stop"
	}
	c.callControlAPI(context.Background(), cameraID, controlURL, path)

	if c.sink != nil {
		c.sink.PublishRecordingStatus(cameraID, nowRecording)
	}
}

// callControlAPI posts to the camera's control endpoint with a short
// timeout and a single retry. Failures are logged but never revert the
// in-memory state: the camera is treated as eventually consistent.
func (c *Controller) callControlAPI(ctx context.Context, cameraID, controlURL, path string) {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		err := c.post(ctx, controlURL+path)
		if err == nil {
			return
		}
		lastErr = err
	}
	c.logger.Warn("control API call failed", "camera", cameraID, "path", path, "error", lastErr)
}

func (c *Controller) post(ctx context.Context, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(nil))
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var body struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&body)
		return fmt.Errorf("control API %s returned %d: %s", url, resp.StatusCode, body.Error)
	}
	return nil
}

// IsRecording reports a camera's current state, for status endpoints.
func (c *Controller) IsRecording(cameraID string) bool {
	c.mu.RLock()
	cam, ok := c.cameras[cameraID]
	c.mu.RUnlock()
	if !ok {
		return false
	}
	cam.mu.Lock()
	defer cam.mu.Unlock()
	return cam.state == stateRecording
}
