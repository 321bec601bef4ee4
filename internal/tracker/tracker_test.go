package tracker

import (
	"testing"
	"time"

	"github.com/tomeravgil/guardcar/sdk"
)

func detAt(classID int, className string, x, y, w, h float64) sdk.Detection {
	return sdk.Detection{
		ClassID:     classID,
		ClassName:   className,
		Confidence:  0.9,
		BoundingBox: sdk.BoundingBox{X: x, Y: y, Width: w, Height: h},
	}
}

// feedConsecutive runs n frames of the same single detection through trk,
// one second apart starting at base, and returns the final score.
func feedConsecutive(trk *Tracker, camera string, n int, base time.Time, det sdk.Detection, frameW, frameH int) float64 {
	var score float64
	for i := 0; i < n; i++ {
		ts := base.Add(time.Duration(i) * time.Second)
		result := &sdk.DetectionResult{
			CameraID:   camera,
			Timestamp:  ts,
			Detections: []sdk.Detection{det},
		}
		score, _ = trk.Update(camera, result, frameW, frameH)
	}
	return score
}

// P1: no tracked objects -> score 0.
func TestEmptyTrackSetScoresZero(t *testing.T) {
	trk := New(nil)
	result := &sdk.DetectionResult{CameraID: "cam0", Timestamp: time.Unix(0, 0)}
	score, tracks := trk.Update("cam0", result, 640, 480)
	if score != 0 {
		t.Fatalf("score = %v, want 0", score)
	}
	if len(tracks) != 0 {
		t.Fatalf("tracks = %v, want none", tracks)
	}
}

// P3: score stays within [0, 100] even for an enormous, long-lived track.
func TestScoreBounded(t *testing.T) {
	trk := New(nil)
	base := time.Unix(0, 0)
	det := detAt(0, "person", 0, 0, 1000, 1000)
	score := feedConsecutive(trk, "cam0", minimumConsecutiveFrames+50, base, det, 1000, 1000)
	if score < 0 || score > 100 {
		t.Fatalf("score = %v, want in [0,100]", score)
	}
}

// P2 (area): larger bounding boxes produce a higher score, duration held
// constant by comparing the scores at the same frame index across two
// independent runs with different box sizes.
func TestScoreMonotonicInArea(t *testing.T) {
	base := time.Unix(0, 0)
	small := detAt(0, "person", 0, 0, 50, 50)   // small area ratio
	large := detAt(0, "person", 0, 0, 400, 400) // large area ratio

	trkSmall := New(nil)
	scoreSmall := feedConsecutive(trkSmall, "cam0", minimumConsecutiveFrames, base, small, 1000, 1000)

	trkLarge := New(nil)
	scoreLarge := feedConsecutive(trkLarge, "cam0", minimumConsecutiveFrames, base, large, 1000, 1000)

	if !(scoreLarge > scoreSmall) {
		t.Fatalf("expected larger-area score (%v) > smaller-area score (%v)", scoreLarge, scoreSmall)
	}
}

// P2 (duration): holding box size constant, a track seen for longer scores
// higher than one just confirmed.
func TestScoreMonotonicInDuration(t *testing.T) {
	base := time.Unix(0, 0)
	det := detAt(0, "person", 0, 0, 200, 200)

	trk := New(nil)
	scoreAtConfirm := feedConsecutive(trk, "cam0", minimumConsecutiveFrames, base, det, 1000, 1000)

	// continue feeding the same track for longer and confirm the score rises.
	var scoreLater float64
	for i := minimumConsecutiveFrames; i < minimumConsecutiveFrames+20; i++ {
		ts := base.Add(time.Duration(i) * time.Second)
		result := &sdk.DetectionResult{
			CameraID:   "cam0",
			Timestamp:  ts,
			Detections: []sdk.Detection{det},
		}
		scoreLater, _ = trk.Update("cam0", result, 1000, 1000)
	}

	if !(scoreLater > scoreAtConfirm) {
		t.Fatalf("expected score to grow with duration: at-confirm=%v later=%v", scoreAtConfirm, scoreLater)
	}
}

// P4: identical detection sequences and timestamps must produce identical
// scores across independent Tracker instances (determinism, no wall-clock
// reads inside score()).
func TestScoreDeterministic(t *testing.T) {
	base := time.Unix(1_700_000_000, 0)
	det := detAt(0, "person", 10, 10, 300, 300)

	run := func() float64 {
		trk := New(nil)
		return feedConsecutive(trk, "cam0", minimumConsecutiveFrames+5, base, det, 1280, 720)
	}

	a := run()
	b := run()
	if a != b {
		t.Fatalf("nondeterministic score: %v != %v", a, b)
	}
}

// P5: track IDs are unique within a process and never reused, even across
// eviction and re-appearance of an object in roughly the same place.
func TestTrackIDsNeverReused(t *testing.T) {
	trk := New(nil)
	base := time.Unix(0, 0)
	det := detAt(0, "person", 0, 0, 100, 100)

	seen := make(map[string]bool)

	// first appearance, confirmed, then evicted by a 2s gap.
	for i := 0; i < minimumConsecutiveFrames; i++ {
		ts := base.Add(time.Duration(i) * time.Second)
		result := &sdk.DetectionResult{CameraID: "cam0", Timestamp: ts, Detections: []sdk.Detection{det}}
		_, tracks := trk.Update("cam0", result, 1000, 1000)
		for _, tr := range tracks {
			seen[tr.ID] = true
		}
	}

	evictTime := base.Add(time.Duration(minimumConsecutiveFrames)*time.Second + 2*time.Second)
	trk.Update("cam0", &sdk.DetectionResult{CameraID: "cam0", Timestamp: evictTime}, 1000, 1000)

	// second appearance of an object at the same location: must get a fresh ID.
	for i := 0; i < minimumConsecutiveFrames; i++ {
		ts := evictTime.Add(time.Duration(i+1) * time.Second)
		result := &sdk.DetectionResult{CameraID: "cam0", Timestamp: ts, Detections: []sdk.Detection{det}}
		_, tracks := trk.Update("cam0", result, 1000, 1000)
		for _, tr := range tracks {
			if seen[tr.ID] {
				t.Fatalf("track id %s reused after eviction", tr.ID)
			}
			seen[tr.ID] = true
		}
	}
}

// Confirms a track is only reported once it has accrued
// minimumConsecutiveFrames consecutive hits, and not before.
func TestConfirmationThreshold(t *testing.T) {
	trk := New(nil)
	base := time.Unix(0, 0)
	det := detAt(0, "person", 0, 0, 100, 100)

	for i := 0; i < minimumConsecutiveFrames-1; i++ {
		ts := base.Add(time.Duration(i) * time.Second)
		result := &sdk.DetectionResult{CameraID: "cam0", Timestamp: ts, Detections: []sdk.Detection{det}}
		_, tracks := trk.Update("cam0", result, 1000, 1000)
		if len(tracks) != 0 {
			t.Fatalf("frame %d: track reported before confirmation threshold", i)
		}
	}

	ts := base.Add(time.Duration(minimumConsecutiveFrames-1) * time.Second)
	result := &sdk.DetectionResult{CameraID: "cam0", Timestamp: ts, Detections: []sdk.Detection{det}}
	_, tracks := trk.Update("cam0", result, 1000, 1000)
	if len(tracks) != 1 {
		t.Fatalf("expected exactly one confirmed track at the threshold frame, got %d", len(tracks))
	}
}

// Hot-reloaded class weights change subsequent scores for the same inputs
// (spec.md scenario 4). class_weights on the wire is class-id keyed
// ({"0":2.0} for person), matching SuspicionConfig's contract.
func TestSetWeightsChangesSubsequentScores(t *testing.T) {
	base := time.Unix(0, 0)
	det := detAt(0, "person", 0, 0, 300, 300)

	before := New(nil)
	scoreBefore := feedConsecutive(before, "cam0", minimumConsecutiveFrames, base, det, 1000, 1000)

	after := New(nil)
	after.SetWeights(map[int]float64{0: 4.0})
	scoreAfter := feedConsecutive(after, "cam0", minimumConsecutiveFrames, base, det, 1000, 1000)

	if !(scoreAfter > scoreBefore) {
		t.Fatalf("expected higher weight to raise the score: before=%v after=%v", scoreBefore, scoreAfter)
	}
}

// Eviction: a track unseen for over 1s is dropped and does not contribute
// to the next frame's score.
func TestStaleTrackEvicted(t *testing.T) {
	trk := New(nil)
	base := time.Unix(0, 0)
	det := detAt(0, "person", 0, 0, 300, 300)

	feedConsecutive(trk, "cam0", minimumConsecutiveFrames, base, det, 1000, 1000)

	farLater := base.Add(time.Duration(minimumConsecutiveFrames)*time.Second + 2*time.Second)
	score, tracks := trk.Update("cam0", &sdk.DetectionResult{CameraID: "cam0", Timestamp: farLater}, 1000, 1000)
	if len(tracks) != 0 {
		t.Fatalf("expected stale track to be evicted, got %d tracks", len(tracks))
	}
	if score != 0 {
		t.Fatalf("score = %v after eviction, want 0", score)
	}
}
