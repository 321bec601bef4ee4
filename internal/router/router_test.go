package router

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tomeravgil/guardcar/internal/detector"
	"github.com/tomeravgil/guardcar/internal/tracker"
	"github.com/tomeravgil/guardcar/sdk"
)

// fakeLocal is a minimal localDetector used as the router's always-on
// fallback in tests.
type fakeLocal struct {
	calls int
}

func (f *fakeLocal) Name() string { return "local" }
func (f *fakeLocal) Ready() bool  { return true }
func (f *fakeLocal) Stop()        {}
func (f *fakeLocal) ClassMap() map[string]int {
	return map[string]int{"person": 7}
}
func (f *fakeLocal) Detect(ctx context.Context, frame *sdk.Frame) (*sdk.DetectionResult, error) {
	f.calls++
	return &sdk.DetectionResult{CameraID: frame.CameraID, Provider: "local", Timestamp: frame.Timestamp}, nil
}

// fakeRemote is a scriptable remote detector: it fails the first failCount
// calls, then succeeds.
type fakeRemote struct {
	name      string
	ready     bool
	failCount int
	calls     int
	stopped   bool
	drains    int
}

func (f *fakeRemote) Name() string    { return f.name }
func (f *fakeRemote) Ready() bool     { return f.ready }
func (f *fakeRemote) Stop()           { f.stopped = true }
func (f *fakeRemote) DrainQueue()     { f.drains++ }
func (f *fakeRemote) Detect(ctx context.Context, frame *sdk.Frame) (*sdk.DetectionResult, error) {
	f.calls++
	if f.calls <= f.failCount {
		return nil, errors.New("simulated remote timeout")
	}
	return &sdk.DetectionResult{
		CameraID: frame.CameraID,
		Provider: f.name,
		Detections: []sdk.Detection{
			{ClassName: "Person", Confidence: 0.8, BoundingBox: sdk.BoundingBox{X: 0, Y: 0, Width: 10, Height: 10}},
		},
	}, nil
}

var _ detector.Detector = (*fakeRemote)(nil)
var _ detector.QueueDrainer = (*fakeRemote)(nil)

func frame(camera string, seq uint64, ts time.Time) *sdk.Frame {
	return &sdk.Frame{CameraID: camera, Sequence: seq, Timestamp: ts, Width: 640, Height: 480}
}

// P7: after fail_max consecutive remote failures, the breaker opens and the
// next call does not invoke the remote at all.
func TestCircuitOpensAfterFailMax(t *testing.T) {
	local := &fakeLocal{}
	remote := &fakeRemote{name: "cloud", ready: true, failCount: 100}
	trk := tracker.New(nil)
	r := New(local, trk, nil)
	r.Register("cloud", remote)
	if err := r.Select("cloud"); err != nil {
		t.Fatalf("select: %v", err)
	}

	base := time.Unix(0, 0)
	for i := 0; i < failMax; i++ {
		if _, _, err := r.Process(context.Background(), frame("cam0", uint64(i), base.Add(time.Duration(i)*time.Second))); err != nil {
			t.Fatalf("process %d: %v", i, err)
		}
	}
	if remote.calls != failMax {
		t.Fatalf("remote calls = %d, want %d", remote.calls, failMax)
	}

	callsBefore := remote.calls
	if _, _, err := r.Process(context.Background(), frame("cam0", 99, base.Add(10*time.Second))); err != nil {
		t.Fatalf("process after open: %v", err)
	}
	if remote.calls != callsBefore {
		t.Fatalf("remote called again while circuit open: calls went from %d to %d", callsBefore, remote.calls)
	}
	if local.calls == 0 {
		t.Fatal("expected fallback to local while circuit open")
	}
}

// P8: once the recovery window elapses, the next call is a single half-open
// probe against the remote.
func TestHalfOpenProbeAfterRecovery(t *testing.T) {
	local := &fakeLocal{}
	remote := &fakeRemote{name: "cloud", ready: true, failCount: failMax}
	trk := tracker.New(nil)
	r := New(local, trk, nil)
	r.Register("cloud", remote)
	_ = r.Select("cloud")

	// force the breaker directly to avoid a real 5s sleep in the test.
	r.breaker.mu.Lock()
	r.breaker.state = stateOpen
	r.breaker.openedAt = time.Now().Add(-baseRecovery - time.Second)
	r.breaker.mu.Unlock()

	callsBefore := remote.calls
	if _, _, err := r.Process(context.Background(), frame("cam0", 1, time.Now())); err != nil {
		t.Fatalf("process: %v", err)
	}
	if remote.calls != callsBefore+1 {
		t.Fatalf("expected exactly one probe call, remote.calls went from %d to %d", callsBefore, remote.calls)
	}
}

// P9: removing the active provider selects FindNextRemote's result and
// stops the removed detector.
func TestRemoveActiveProviderSelectsNext(t *testing.T) {
	local := &fakeLocal{}
	trk := tracker.New(nil)
	r := New(local, trk, nil)

	cloudA := &fakeRemote{name: "cloudA", ready: true}
	cloudB := &fakeRemote{name: "cloudB", ready: true}
	r.Register("cloudA", cloudA)
	r.Register("cloudB", cloudB)
	_ = r.Select("cloudA")

	r.Remove("cloudA")

	if got := r.Selected(); got != "cloudB" {
		t.Fatalf("selected = %q, want %q", got, "cloudB")
	}
	if !cloudA.stopped {
		t.Fatal("expected removed provider to be stopped")
	}

	r.Remove("cloudB")
	if got := r.Selected(); got != "local" {
		t.Fatalf("selected after removing last remote = %q, want %q", got, "local")
	}
}

// Remote class names are lowercased and mapped through the local class map;
// an unknown class name is kept with class-id left unset.
func TestNormalizeClassNames(t *testing.T) {
	local := &fakeLocal{}
	trk := tracker.New(nil)
	r := New(local, trk, nil)

	result := &sdk.DetectionResult{
		Detections: []sdk.Detection{
			{ClassName: "Person"},
			{ClassName: "Unicorn"},
		},
	}
	r.normalizeClassNames(result)

	if result.Detections[0].ClassID != 7 {
		t.Fatalf("known class: ClassID = %d, want 7", result.Detections[0].ClassID)
	}
	if result.Detections[1].ClassID != 0 {
		t.Fatalf("unknown class: ClassID should be left unset (zero value), got %d", result.Detections[1].ClassID)
	}
}

// Failover scenario (spec.md §8 scenario 2): three consecutive RPC timeouts
// push the third frame's result through local, and the fourth frame (while
// open) never reaches the remote.
func TestFailoverScenario(t *testing.T) {
	local := &fakeLocal{}
	remote := &fakeRemote{name: "cloud", ready: true, failCount: 3}
	trk := tracker.New(nil)
	r := New(local, trk, nil)
	r.Register("cloud", remote)
	_ = r.Select("cloud")

	base := time.Unix(0, 0)
	for i := 0; i < 3; i++ {
		if _, _, err := r.Process(context.Background(), frame("cam0", uint64(i), base.Add(time.Duration(i)*time.Second))); err != nil {
			t.Fatalf("process %d: %v", i, err)
		}
	}
	if r.breaker.State() != "open" {
		t.Fatalf("breaker state = %s, want open", r.breaker.State())
	}

	localCallsBefore := local.calls
	remoteCallsBefore := remote.calls
	if _, _, err := r.Process(context.Background(), frame("cam0", 4, base.Add(4*time.Second))); err != nil {
		t.Fatalf("process 4: %v", err)
	}
	if remote.calls != remoteCallsBefore {
		t.Fatal("remote should not have been called while circuit is open")
	}
	if local.calls != localCallsBefore+1 {
		t.Fatal("expected local fallback on the fourth frame")
	}
}

// spec.md §4.2 step 2a: a per-frame failure drains the remote's
// correlation queues before falling back, not only the background
// reconnect loop.
func TestFallbackDrainsRemoteQueue(t *testing.T) {
	local := &fakeLocal{}
	remote := &fakeRemote{name: "cloud", ready: true, failCount: 1}
	trk := tracker.New(nil)
	r := New(local, trk, nil)
	r.Register("cloud", remote)
	_ = r.Select("cloud")

	if _, _, err := r.Process(context.Background(), frame("cam0", 0, time.Unix(0, 0))); err != nil {
		t.Fatalf("process: %v", err)
	}
	if remote.drains != 1 {
		t.Fatalf("drains = %d, want 1 after a failed call", remote.drains)
	}
}
