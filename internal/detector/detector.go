// Package detector implements the Local and Remote object-detection backends
// behind a common Detector interface, selected and supervised by
// internal/router.
package detector

import (
	"context"

	"github.com/tomeravgil/guardcar/sdk"
)

// Detector performs object detection on a single frame. Implementations must
// be safe to call from a single processing goroutine; concurrent calls per
// instance are not required.
type Detector interface {
	// Name identifies the detector in the router's registry ("local" for
	// the embedded detector, otherwise the registered provider name).
	Name() string

	// Ready reports whether the detector can currently accept frames.
	Ready() bool

	// Detect runs detection on frame and returns the result. Per-frame
	// failures should be reported as an error so the router can fall back;
	// they must never panic.
	Detect(ctx context.Context, frame *sdk.Frame) (*sdk.DetectionResult, error)

	// Stop releases the detector's resources. Safe to call more than once.
	Stop()
}

// QueueDrainer is implemented by detectors that hold correlation state
// between a send and its response (the Remote detector's outbound and
// pending-frame maps). The Router drains it on a per-frame fallback, not
// only on full reconnection, per spec.md §4.2 step 2a.
type QueueDrainer interface {
	DrainQueue()
}
