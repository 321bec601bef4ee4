// Package router owns the detector registry, the active-provider selection,
// and the circuit breaker that falls back from a remote detector to the
// local one.
package router

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/tomeravgil/guardcar/internal/detector"
	"github.com/tomeravgil/guardcar/internal/tracker"
	"github.com/tomeravgil/guardcar/sdk"
)

const localName = "local"

// localDetector is the subset of detector.Local the router relies on beyond
// the Detector interface (its class-name -> id table).
type localDetector interface {
	detector.Detector
	ClassMap() map[string]int
}

// Router owns the provider registry and the single active detector, and
// hands every frame's unified result to the Tracker.
type Router struct {
	mu sync.Mutex

	local     localDetector
	providers map[string]detector.Detector // includes "local"
	order     []string                     // registration order, excluding "local"
	selected  string

	breaker *CircuitBreaker
	tracker *tracker.Tracker
	logger  *slog.Logger
}

// New constructs a Router with local registered and selected.
func New(local localDetector, trk *tracker.Tracker, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		local:     local,
		providers: map[string]detector.Detector{localName: local},
		selected:  localName,
		breaker:   NewCircuitBreaker(),
		tracker:   trk,
		logger:    logger.With("component", "router"),
	}
}

// Register adds a remote provider to the registry without selecting it.
func (r *Router) Register(name string, d detector.Detector) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if name == localName {
		return
	}
	if _, exists := r.providers[name]; !exists {
		r.order = append(r.order, name)
	}
	r.providers[name] = d
}

// Select atomically switches the active provider. It is atomic with respect
// to per-frame processing: Process holds the same lock while reading the
// selected provider.
func (r *Router) Select(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.providers[name]; !ok {
		return fmt.Errorf("router: unknown provider %q", name)
	}
	r.selected = name
	r.breaker = NewCircuitBreaker()
	return nil
}

// Selected returns the name of the currently active provider.
func (r *Router) Selected() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.selected
}

// Remove deregisters a provider, stopping it. If it was selected, the
// router falls back to the next available remote, or local.
func (r *Router) Remove(name string) {
	r.mu.Lock()
	d, ok := r.providers[name]
	if !ok || name == localName {
		r.mu.Unlock()
		return
	}
	delete(r.providers, name)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	wasSelected := r.selected == name
	if wasSelected {
		next := r.findNextRemoteLocked(name)
		r.selected = next
		r.breaker = NewCircuitBreaker()
	}
	r.mu.Unlock()

	d.Stop()
}

// FindNextRemote returns the first registered non-local provider other than
// excluding, or "local" if none remain.
func (r *Router) FindNextRemote(excluding string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.findNextRemoteLocked(excluding)
}

func (r *Router) findNextRemoteLocked(excluding string) string {
	for _, name := range r.order {
		if name != excluding {
			return name
		}
	}
	return localName
}

// Process runs the per-frame algorithm: invoke the selected detector
// through the circuit breaker, falling back to local on failure, normalize
// class names through the local class map, and hand the unified result to
// the Tracker.
func (r *Router) Process(ctx context.Context, frame *sdk.Frame) (float64, []sdk.Track, error) {
	r.mu.Lock()
	selectedName := r.selected
	selected := r.providers[selectedName]
	breaker := r.breaker
	r.mu.Unlock()

	result, usedLocal, err := r.invoke(ctx, selectedName, selected, breaker, frame)
	if err != nil {
		return 0, nil, err
	}

	if !usedLocal {
		r.normalizeClassNames(result)
	}

	score, tracks := r.tracker.Update(frame.CameraID, result, frame.Width, frame.Height)
	return score, tracks, nil
}

// invoke runs the selected detector through the breaker, falling back to
// local on a refused or failed call.
func (r *Router) invoke(ctx context.Context, name string, d detector.Detector, cb *CircuitBreaker, frame *sdk.Frame) (*sdk.DetectionResult, bool, error) {
	if name == localName {
		res, err := r.local.Detect(ctx, frame)
		return res, true, err
	}

	if cb.ShouldCall() {
		// a remote that is not ready at this instant counts as a failure
		// without a Detect call; there is no wait for readiness
		if !d.Ready() {
			cb.RecordFailure()
			r.drainQueue(d)
			return r.fallbackLocal(ctx, frame)
		}

		res, err := d.Detect(ctx, frame)
		if err != nil {
			cb.RecordFailure()
			r.logger.Debug("remote detector failed, falling back", "provider", name, "error", err)
			r.drainQueue(d)
			return r.fallbackLocal(ctx, frame)
		}
		cb.RecordSuccess()
		return res, false, nil
	}

	return r.fallbackLocal(ctx, frame)
}

// drainQueue clears a failed detector's send/frame/processed correlation
// state before falling back, per spec.md §4.2 step 2a, for detectors that
// hold any (the Remote detector's outbound and pending-frame maps).
func (r *Router) drainQueue(d detector.Detector) {
	if drainer, ok := d.(detector.QueueDrainer); ok {
		drainer.DrainQueue()
	}
}

func (r *Router) fallbackLocal(ctx context.Context, frame *sdk.Frame) (*sdk.DetectionResult, bool, error) {
	res, err := r.local.Detect(ctx, frame)
	return res, true, err
}

// normalizeClassNames maps a remote result's class names (lowercased)
// through the local name->id table, leaving class-id unset for unknown
// names rather than dropping the detection.
func (r *Router) normalizeClassNames(result *sdk.DetectionResult) {
	classMap := r.local.ClassMap()
	for i := range result.Detections {
		id, ok := classMap[strings.ToLower(result.Detections[i].ClassName)]
		if ok {
			result.Detections[i].ClassID = id
		}
	}
}
