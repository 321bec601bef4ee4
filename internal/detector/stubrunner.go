package detector

import (
	"context"

	"github.com/tomeravgil/guardcar/sdk"
)

// StubRunner is a ModelRunner that returns no detections. It exists so
// cmd/edge can stand up the full pipeline (Local detector, Router,
// Tracker) without a real inference backend wired in; swap it for an
// ONNX/TensorRT-backed ModelRunner in production.
type StubRunner struct {
	classMap map[string]int
}

// NewStubRunner builds a stub with the given class-name -> class-id table.
// A nil map yields the tracker's default weight classes.
func NewStubRunner(classMap map[string]int) *StubRunner {
	if classMap == nil {
		classMap = map[string]int{
			"person": 0, "bicycle": 1, "car": 2,
			"motorcycle": 3, "bus": 5, "truck": 7,
		}
	}
	return &StubRunner{classMap: classMap}
}

// LoadClassMap implements ModelRunner.
func (s *StubRunner) LoadClassMap() (map[string]int, error) {
	return s.classMap, nil
}

// Infer implements ModelRunner, always returning no detections.
func (s *StubRunner) Infer(ctx context.Context, frame *sdk.Frame) ([]sdk.Detection, error) {
	return nil, nil
}
