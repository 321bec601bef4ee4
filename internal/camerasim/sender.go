// Package camerasim stands in for the camera gateway firmware that
// spec.md treats as an external collaborator: a TLS framed-JPEG video
// socket plus a small control HTTP API. It exists so the rest of the
// pipeline (cmd/edge) has something real to dial in development and
// integration tests, grounded on
// original_source/VideoContainer/Sender/sender.py's TLS-wrapped socket
// loop and original_source/VideoContainer/Receiver/receiver.py's framing.
package camerasim

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/binary"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"log/slog"
	"math"
	"net"
	"sync"
	"time"
)

// FrameSource produces synthetic combined-camera JPEG frames: two
// side-by-side halves with a bouncing marker, standing in for
// Picamera2.capture_array()+np.hstack in the original sender.
type FrameSource struct {
	width, height int
	quality       int
	tick          int
}

// NewFrameSource creates a generator for width x height JPEG frames.
func NewFrameSource(width, height, quality int) *FrameSource {
	return &FrameSource{width: width, height: height, quality: quality}
}

// Next renders and JPEG-encodes the next synthetic frame.
func (f *FrameSource) Next() ([]byte, error) {
	f.tick++
	img := image.NewRGBA(image.Rect(0, 0, f.width, f.height))
	half := f.width / 2

	markerX := int(float64(half) * (0.5 + 0.4*math.Sin(float64(f.tick)/20)))
	markerY := f.height / 2

	for x := 0; x < f.width; x++ {
		for y := 0; y < f.height; y++ {
			switch {
			case x < half:
				img.Set(x, y, color.RGBA{R: 40, G: 40, B: 60, A: 255})
			default:
				img.Set(x, y, color.RGBA{R: 60, G: 40, B: 40, A: 255})
			}
		}
	}
	drawMarker(img, markerX, markerY, 12, color.RGBA{R: 255, G: 220, B: 0, A: 255})
	drawMarker(img, half+markerX, markerY, 12, color.RGBA{R: 0, G: 220, B: 255, A: 255})

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: f.quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func drawMarker(img *image.RGBA, cx, cy, radius int, c color.RGBA) {
	bounds := img.Bounds()
	for x := cx - radius; x <= cx+radius; x++ {
		for y := cy - radius; y <= cy+radius; y++ {
			if x < bounds.Min.X || x >= bounds.Max.X || y < bounds.Min.Y || y >= bounds.Max.Y {
				continue
			}
			dx, dy := x-cx, y-cy
			if dx*dx+dy*dy <= radius*radius {
				img.Set(x, y, c)
			}
		}
	}
}

// Sender accepts TLS connections and streams framed JPEGs until the
// client disconnects, matching the camera video socket wire format from
// spec.md §6: repeated {u32 big-endian length}{JPEG bytes}.
type Sender struct {
	addr     string
	tlsConf  *tls.Config
	source   *FrameSource
	fps      int
	logger   *slog.Logger
	listener net.Listener

	mu   sync.RWMutex
	recording bool
}

// NewSender creates a Sender bound to addr with the given certificate.
func NewSender(addr string, cert tls.Certificate, fps int, source *FrameSource, logger *slog.Logger) *Sender {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sender{
		addr:    addr,
		tlsConf: &tls.Config{Certificates: []tls.Certificate{cert}},
		source:  source,
		fps:     fps,
		logger:  logger.With("component", "camerasim-sender"),
	}
}

// Run accepts connections until ctx is cancelled, serving each client on
// its own goroutine, so several clients can be connected at once.
func (s *Sender) Run(ctx context.Context) error {
	ln, err := tls.Listen("tcp", s.addr, s.tlsConf)
	if err != nil {
		return fmt.Errorf("camerasim: listen: %w", err)
	}
	s.listener = ln
	s.logger.Info("camerasim video socket listening", "addr", s.addr)

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				s.logger.Error("accept failed", "error", err)
				continue
			}
		}
		s.logger.Info("client connected", "remote", conn.RemoteAddr())
		go s.handleClient(ctx, conn)
	}
}

func (s *Sender) handleClient(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	interval := time.Second / time.Duration(s.fps)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			frame, err := s.source.Next()
			if err != nil {
				s.logger.Error("failed to encode frame", "error", err)
				continue
			}
			header := make([]byte, 4)
			binary.BigEndian.PutUint32(header, uint32(len(frame)))
			if _, err := conn.Write(header); err != nil {
				s.logger.Info("client disconnected", "error", err)
				return
			}
			if _, err := conn.Write(frame); err != nil {
				s.logger.Info("client disconnected", "error", err)
				return
			}
		}
	}
}

// SetRecording mirrors the camera gateway's locally-tracked recording
// state, surfaced by the control API's GET /status.
func (s *Sender) SetRecording(recording bool) {
	s.mu.Lock()
	s.recording = recording
	s.mu.Unlock()
}

// Recording reports the current recording state.
func (s *Sender) Recording() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.recording
}
