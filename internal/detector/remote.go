package detector

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"

	"github.com/tomeravgil/guardcar/internal/detector/remotewire"
	"github.com/tomeravgil/guardcar/sdk"
)

const (
	outboundQueueSize = 30
	minBackoff        = 500 * time.Millisecond
	maxBackoff        = 10 * time.Second
)

// pendingFrame correlates a sent request with the channel awaiting its
// response.
type pendingFrame struct {
	frame *sdk.Frame
	done  chan *remotewire.DetectionResponse
}

// Remote is a streaming gRPC client detector against a TLS endpoint whose
// server certificate is pinned via config (no hostname verification, per
// the provider-registration contract).
type Remote struct {
	name    string
	addr    string
	certPEM []byte

	mu       sync.Mutex
	ready    bool
	stopped  bool
	conn     *grpc.ClientConn
	stream   remotewire.StreamClient
	outbound chan *remotewire.DetectionRequest
	pending  map[string]*pendingFrame

	logger *slog.Logger
	cancel context.CancelFunc
}

// NewRemote dials a cloud detection provider at addr, pinning the server
// certificate in certPEM (PEM-encoded, converted by the caller from the
// embedded DER the backend persists). The background stream loop starts
// immediately; callers must poll Ready() before sending frames.
func NewRemote(name, addr string, certPEM []byte, logger *slog.Logger) (*Remote, error) {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Remote{
		name:     name,
		addr:     addr,
		certPEM:  certPEM,
		outbound: make(chan *remotewire.DetectionRequest, outboundQueueSize),
		pending:  make(map[string]*pendingFrame),
		logger:   logger.With("component", "detector.remote", "provider", name),
	}

	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	go r.run(ctx)

	return r, nil
}

// Name implements Detector.
func (r *Remote) Name() string { return r.name }

// Ready implements Detector: true only once the TLS handshake and stream
// establishment have both completed.
func (r *Remote) Ready() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ready
}

// WaitReady blocks until the stream is ready or the timeout elapses,
// matching the 5s readiness wait spec.md §4.6 requires of provider
// registration.
func (r *Remote) WaitReady(ctx context.Context) bool {
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if r.Ready() {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(50 * time.Millisecond):
		}
	}
	return r.Ready()
}

func (r *Remote) tlsConfig() (*tls.Config, error) {
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(r.certPEM) {
		return nil, fmt.Errorf("remote detector %s: invalid pinned certificate", r.name)
	}
	return &tls.Config{
		InsecureSkipVerify: true, // server cert is pinned, not hostname-checked
		RootCAs:            pool,
	}, nil
}

// run owns the stream's lifecycle: connect, pump outbound requests, read
// responses, and reconnect with exponential backoff on any stream error.
func (r *Remote) run(ctx context.Context) {
	backoff := minBackoff
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := r.connectAndServe(ctx); err != nil {
			r.logger.Warn("remote detector stream ended", "error", err, "retry_in", backoff)
		}

		r.setReady(false)
		r.clearQueue()

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

func (r *Remote) connectAndServe(ctx context.Context) error {
	tlsCfg, err := r.tlsConfig()
	if err != nil {
		return err
	}

	conn, err := grpc.NewClient(r.addr, grpc.WithTransportCredentials(credentials.NewTLS(tlsCfg)))
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	streamCtx, cancelStream := context.WithCancel(ctx)
	defer cancelStream()

	stream, err := remotewire.NewStreamClient(streamCtx, conn)
	if err != nil {
		return fmt.Errorf("open stream: %w", err)
	}

	r.mu.Lock()
	r.conn = conn
	r.stream = stream
	r.mu.Unlock()
	r.setReady(true)
	r.logger.Info("remote detector connected", "addr", r.addr)

	errCh := make(chan error, 2)
	go r.sendLoop(streamCtx, stream, errCh)
	go r.recvLoop(stream, errCh)

	select {
	case <-streamCtx.Done():
		return streamCtx.Err()
	case err := <-errCh:
		return err
	}
}

func (r *Remote) sendLoop(ctx context.Context, stream remotewire.StreamClient, errCh chan<- error) {
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-r.outbound:
			if err := stream.Send(req); err != nil {
				errCh <- fmt.Errorf("send: %w", err)
				return
			}
		}
	}
}

func (r *Remote) recvLoop(stream remotewire.StreamClient, errCh chan<- error) {
	for {
		resp, err := stream.Recv()
		if err != nil {
			errCh <- fmt.Errorf("recv: %w", err)
			return
		}
		r.deliver(resp)
	}
}

func (r *Remote) deliver(resp *remotewire.DetectionResponse) {
	r.mu.Lock()
	p, ok := r.pending[resp.FrameID]
	if ok {
		delete(r.pending, resp.FrameID)
	}
	r.mu.Unlock()

	if ok {
		p.done <- resp
	}
}

func (r *Remote) setReady(ready bool) {
	r.mu.Lock()
	r.ready = ready
	r.mu.Unlock()
}

// clearQueue drops all outbound requests and fails all pending awaiters,
// matching the "on any stream error, clear queues" requirement.
func (r *Remote) clearQueue() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for {
		select {
		case <-r.outbound:
		default:
			goto drained
		}
	}
drained:
	for id, p := range r.pending {
		close(p.done)
		delete(r.pending, id)
	}
}

// DrainQueue implements QueueDrainer: it lets the Router clear this
// detector's outbound and correlation queues on a per-frame fallback
// (spec.md §4.2 step 2a), not just on the background reconnect loop.
func (r *Remote) DrainQueue() {
	r.clearQueue()
}

// Detect implements Detector: enqueues the frame (drop-oldest on overflow)
// and awaits its correlated response with a 1s per-frame timeout.
func (r *Remote) Detect(ctx context.Context, frame *sdk.Frame) (*sdk.DetectionResult, error) {
	if !r.Ready() {
		return nil, fmt.Errorf("remote detector %s: not ready", r.name)
	}

	frameID := uuid.NewString()
	done := make(chan *remotewire.DetectionResponse, 1)

	r.mu.Lock()
	r.pending[frameID] = &pendingFrame{frame: frame, done: done}
	r.mu.Unlock()

	req := &remotewire.DetectionRequest{
		FrameID:  frameID,
		CameraID: frame.CameraID,
		JPEG:     frame.JPEG,
		Width:    frame.Width,
		Height:   frame.Height,
	}

	select {
	case r.outbound <- req:
	default:
		// drop-oldest: make room and retry once
		select {
		case <-r.outbound:
		default:
		}
		select {
		case r.outbound <- req:
		default:
			r.mu.Lock()
			delete(r.pending, frameID)
			r.mu.Unlock()
			return nil, fmt.Errorf("remote detector %s: outbound queue full", r.name)
		}
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, 1*time.Second)
	defer cancel()

	select {
	case resp, ok := <-done:
		if !ok {
			return nil, fmt.Errorf("remote detector %s: stream reset before response", r.name)
		}
		if resp.Error != "" {
			return nil, fmt.Errorf("remote detector %s: %s", r.name, resp.Error)
		}
		return toDetectionResult(r.name, frame, resp), nil
	case <-timeoutCtx.Done():
		r.mu.Lock()
		delete(r.pending, frameID)
		r.mu.Unlock()
		return nil, fmt.Errorf("remote detector %s: timed out awaiting result", r.name)
	}
}

func toDetectionResult(provider string, frame *sdk.Frame, resp *remotewire.DetectionResponse) *sdk.DetectionResult {
	dets := make([]sdk.Detection, 0, len(resp.Detections))
	for _, d := range resp.Detections {
		dets = append(dets, sdk.Detection{
			ClassID:    d.ClassID,
			ClassName:  d.ClassName,
			Confidence: d.Confidence,
			BoundingBox: sdk.BoundingBox{
				X: d.X, Y: d.Y, Width: d.Width, Height: d.Height,
			},
		})
	}
	return &sdk.DetectionResult{
		CameraID:   frame.CameraID,
		Sequence:   frame.Sequence,
		Timestamp:  time.Now(),
		Provider:   provider,
		Detections: dets,
	}
}

// Stop implements Detector: cancels the background stream loop.
func (r *Remote) Stop() {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.stopped = true
	r.mu.Unlock()

	r.cancel()
	r.clearQueue()
}
