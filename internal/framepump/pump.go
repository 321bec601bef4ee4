// Package framepump receives a camera's length-prefixed JPEG stream over
// TLS and drives the per-frame pipeline: mirror publish, decode, Router
// call, suspicion publish, recording controller hand-off.
package framepump

import (
	"bufio"
	"bytes"
	"context"
	"crypto/tls"
	"encoding/binary"
	"fmt"
	"image"
	_ "image/jpeg"
	"io"
	"log/slog"
	"net"
	"sync/atomic"
	"time"

	"github.com/tomeravgil/guardcar/sdk"
)

const mirrorAndScoreTTL = 100 * time.Millisecond

// Router is the subset of internal/router.Router the pump depends on.
type Router interface {
	Process(ctx context.Context, frame *sdk.Frame) (float64, []sdk.Track, error)
}

// Sink publishes frame mirrors and scored suspicion snapshots to the event
// fabric. Implemented by internal/eventfabric.
type Sink interface {
	PublishFrameMirror(cameraID string, jpeg []byte, ttl time.Duration)
	PublishSuspicionFrame(frame sdk.SuspicionFrame, ttl time.Duration)
}

// RecordingHandoff receives the latest suspicion score for a camera,
// implemented by internal/recording.Controller.
type RecordingHandoff interface {
	Observe(cameraID string, score float64)
}

// Config configures a Pump.
type Config struct {
	CameraID   string
	Addr       string
	TLSConfig  *tls.Config
	Router     Router
	Sink       Sink
	Recording  RecordingHandoff
	Logger     *slog.Logger
}

// Pump owns one camera's TCP/TLS connection and frame-processing loop.
type Pump struct {
	cfg      Config
	logger   *slog.Logger
	sequence atomic.Uint64
}

// New constructs a Pump for one camera. Call Run to connect and process
// frames until the context is cancelled or a read error ends the session;
// the caller (an outer supervisor) is responsible for restarting it.
func New(cfg Config) *Pump {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Pump{
		cfg:    cfg,
		logger: logger.With("component", "framepump", "camera", cfg.CameraID),
	}
}

// Run dials the camera, then reads frames until ctx is cancelled or the
// connection ends. It returns nil on clean shutdown, or an error describing
// why the session ended (callers should restart the pump after a backoff).
func (p *Pump) Run(ctx context.Context) error {
	dialer := &net.Dialer{Timeout: 10 * time.Second}
	rawConn, err := dialer.DialContext(ctx, "tcp", p.cfg.Addr)
	if err != nil {
		return fmt.Errorf("framepump: dial %s: %w", p.cfg.Addr, err)
	}

	tlsConfig := p.cfg.TLSConfig
	if tlsConfig == nil {
		tlsConfig = &tls.Config{InsecureSkipVerify: true}
	}
	conn := tls.Client(rawConn, tlsConfig)
	defer conn.Close()

	if err := conn.HandshakeContext(ctx); err != nil {
		return fmt.Errorf("framepump: TLS handshake: %w", err)
	}

	p.logger.Info("connected", "addr", p.cfg.Addr)
	reader := bufio.NewReader(conn)

	go func() {
		<-ctx.Done()
		conn.SetDeadline(time.Now())
	}()

	for {
		jpeg, err := readFrame(reader)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("framepump: read frame: %w", err)
		}
		p.processFrame(ctx, jpeg)
	}
}

// readFrame reads one {u32 big-endian length}{JPEG payload} unit.
func readFrame(r *bufio.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	length := binary.BigEndian.Uint32(lenBuf[:])

	buf := make([]byte, length)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// processFrame runs one frame through the full pipeline. Any failure after
// decoding is logged and the frame is skipped, per spec.md §4.4.
func (p *Pump) processFrame(ctx context.Context, jpeg []byte) {
	seq := p.sequence.Add(1)
	now := time.Now()

	if p.cfg.Sink != nil {
		p.cfg.Sink.PublishFrameMirror(p.cfg.CameraID, jpeg, mirrorAndScoreTTL)
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(jpeg))
	if err != nil {
		p.logger.Warn("failed to decode frame", "error", err)
		return
	}

	frame := &sdk.Frame{
		CameraID:  p.cfg.CameraID,
		Sequence:  seq,
		Timestamp: now,
		Width:     cfg.Width,
		Height:    cfg.Height,
		JPEG:      jpeg,
	}

	score, tracks, err := p.cfg.Router.Process(ctx, frame)
	if err != nil {
		p.logger.Warn("router processing failed", "error", err)
		return
	}

	if p.cfg.Sink != nil {
		p.cfg.Sink.PublishSuspicionFrame(sdk.SuspicionFrame{
			CameraID:  p.cfg.CameraID,
			Timestamp: now,
			Score:     score,
			Tracks:    tracks,
			JPEG:      jpeg,
		}, mirrorAndScoreTTL)
	}

	if p.cfg.Recording != nil {
		p.cfg.Recording.Observe(p.cfg.CameraID, score)
	}
}
