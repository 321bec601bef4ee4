package backend

import (
	"bytes"
	"encoding/json"
	"errors"
	"image"
	"image/jpeg"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var errUncroppable = errors.New("backend: decoded image does not support cropping")

// CameraSelect is the accepted WS control message, per spec.md §4.8.
type CameraSelect int

const (
	CameraLeft  CameraSelect = 0
	CameraRight CameraSelect = 1
	CameraDual  CameraSelect = 2
)

// splitQuality is the JPEG re-encode quality used when slicing the
// combined dual-camera frame into a single half, per spec.md §4.8.
const splitQuality = 85

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 1 << 16,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// VideoHub broadcasts the latest combined-camera JPEG frame to connected
// WebSocket clients, slot-of-one with drop-oldest: only the most recent
// frame is ever queued per client. Adapted from the teacher's
// internal/api.Hub/Client gorilla/websocket pattern, grounded on
// original_source/backend/app/core/use_cases/video_stream.py for the
// per-connection camera-select and horizontal-split semantics.
type VideoHub struct {
	logger *slog.Logger

	mu      sync.RWMutex
	clients map[*videoClient]bool
}

type videoClient struct {
	conn   *websocket.Conn
	frame  chan []byte // capacity 1, drop-oldest
	camera int32       // 0, 1, or 2; mutated only by this client's own control-listener goroutine
	mu     sync.RWMutex
}

func (c *videoClient) setCamera(sel int) {
	c.mu.Lock()
	c.camera = int32(sel)
	c.mu.Unlock()
}

func (c *videoClient) getCamera() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return int(c.camera)
}

// NewVideoHub creates a new video hub.
func NewVideoHub(logger *slog.Logger) *VideoHub {
	if logger == nil {
		logger = slog.Default()
	}
	return &VideoHub{
		logger:  logger.With("component", "video-hub"),
		clients: make(map[*videoClient]bool),
	}
}

// Broadcast publishes a new combined-camera JPEG frame to every connected
// client, dropping each client's previously-queued frame if it hasn't been
// sent yet.
func (h *VideoHub) Broadcast(jpegBytes []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		select {
		case <-c.frame:
		default:
		}
		select {
		case c.frame <- jpegBytes:
		default:
		}
	}
}

// ServeHTTP implements the WS /ws/video endpoint.
func (h *VideoHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	client := &videoClient{
		conn:   conn,
		frame:  make(chan []byte, 1),
		camera: int32(CameraDual),
	}

	h.mu.Lock()
	h.clients[client] = true
	h.mu.Unlock()

	done := make(chan struct{})
	go h.controlListener(client, done)

	h.writeLoop(client, done)

	h.mu.Lock()
	delete(h.clients, client)
	h.mu.Unlock()
	_ = conn.Close()
}

// controlListener reads {"camera":0|1|2} control frames until disconnect.
func (h *VideoHub) controlListener(c *videoClient, done chan struct{}) {
	defer close(done)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var msg struct {
			Camera int `json:"camera"`
		}
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.Camera < 0 || msg.Camera > 2 {
			continue
		}
		c.setCamera(msg.Camera)
	}
}

func (h *VideoHub) writeLoop(c *videoClient, done chan struct{}) {
	for {
		select {
		case <-done:
			return
		case frame := <-c.frame:
			out, err := sliceFrame(frame, CameraSelect(c.getCamera()))
			if err != nil {
				h.logger.Debug("failed to slice video frame", "error", err)
				continue
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := c.conn.WriteMessage(websocket.BinaryMessage, out); err != nil {
				return
			}
		}
	}
}

// sliceFrame returns the raw combined JPEG for CameraDual, or decodes,
// crops to the requested half, and re-encodes at quality 85 for
// CameraLeft/CameraRight.
func sliceFrame(combined []byte, sel CameraSelect) ([]byte, error) {
	if sel == CameraDual {
		return combined, nil
	}

	img, err := jpeg.Decode(bytes.NewReader(combined))
	if err != nil {
		return nil, err
	}

	bounds := img.Bounds()
	half := bounds.Dx() / 2
	var crop image.Rectangle
	if sel == CameraLeft {
		crop = image.Rect(bounds.Min.X, bounds.Min.Y, bounds.Min.X+half, bounds.Max.Y)
	} else {
		crop = image.Rect(bounds.Min.X+half, bounds.Min.Y, bounds.Max.X, bounds.Max.Y)
	}

	sub, ok := img.(interface {
		SubImage(image.Rectangle) image.Image
	})
	if !ok {
		return nil, errUncroppable
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, sub.SubImage(crop), &jpeg.Options{Quality: splitQuality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
