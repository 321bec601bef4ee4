package detector

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tomeravgil/guardcar/sdk"
)

// ModelRunner is the in-process inference backend the Local detector wraps.
// A real ONNX/TensorRT implementation satisfies this; guardcar ships a
// stub so the rest of the pipeline can be exercised without a model file.
type ModelRunner interface {
	// LoadClassMap returns the class-name -> class-id table the model was
	// trained with. Called once at construction; an error here is fatal.
	LoadClassMap() (map[string]int, error)

	// Infer runs detection on a decoded frame and returns raw detections.
	Infer(ctx context.Context, frame *sdk.Frame) ([]sdk.Detection, error)
}

// Local wraps an in-process detection model. Model-load failure at
// construction is fatal; per-frame failures are surfaced as an empty
// DetectionResult, never as a panic.
type Local struct {
	mu       sync.RWMutex
	runner   ModelRunner
	classMap map[string]int
	logger   *slog.Logger

	processedCount int64
	errorCount     int64
}

// NewLocal constructs the Local detector, loading the runner's class map.
// A failure here is fatal: the caller should abort startup.
func NewLocal(runner ModelRunner, logger *slog.Logger) (*Local, error) {
	if logger == nil {
		logger = slog.Default()
	}
	classMap, err := runner.LoadClassMap()
	if err != nil {
		return nil, fmt.Errorf("local detector: load class map: %w", err)
	}

	return &Local{
		runner:   runner,
		classMap: classMap,
		logger:   logger.With("component", "detector.local"),
	}, nil
}

// Name implements Detector.
func (l *Local) Name() string { return "local" }

// Ready implements Detector. The Local detector is always ready once
// constructed.
func (l *Local) Ready() bool { return true }

// ClassMap returns the class-name -> class-id table published by the model,
// used by the router to normalize remote detections.
func (l *Local) ClassMap() map[string]int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make(map[string]int, len(l.classMap))
	for k, v := range l.classMap {
		out[k] = v
	}
	return out
}

// Detect implements Detector. Per-frame inference failures are logged and
// reported as an empty result rather than an error, per spec.
func (l *Local) Detect(ctx context.Context, frame *sdk.Frame) (*sdk.DetectionResult, error) {
	dets, err := l.runner.Infer(ctx, frame)
	now := time.Now()
	if err != nil {
		l.mu.Lock()
		l.errorCount++
		l.mu.Unlock()
		l.logger.Debug("local inference failed", "camera", frame.CameraID, "error", err)
		return &sdk.DetectionResult{
			CameraID:  frame.CameraID,
			Sequence:  frame.Sequence,
			Timestamp: now,
			Provider:  l.Name(),
		}, nil
	}

	l.mu.Lock()
	l.processedCount++
	l.mu.Unlock()

	return &sdk.DetectionResult{
		CameraID:   frame.CameraID,
		Sequence:   frame.Sequence,
		Timestamp:  now,
		Provider:   l.Name(),
		Detections: dets,
	}, nil
}

// Stop implements Detector. The Local detector owns no background
// resources, so this is a no-op.
func (l *Local) Stop() {}
