// Package tracker implements IoU-based greedy track association and the
// per-frame suspicion scorer. Update, SetWeights and scoring all run under
// one mutex, so concurrent Update calls (from several cameras' frame pumps)
// are serialized.
package tracker

import (
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tomeravgil/guardcar/sdk"
)

const (
	lostTrackBuffer          = 30 // frames of no sighting before eviction candidacy
	frameRate                = 30
	minimumConsecutiveFrames = 15
	evictionAge              = 1 * time.Second
)

// defaultClassWeights are the per-class-id suspicion weights (k) from
// spec.md §4.3, keyed by the COCO class ids the Local detector's ClassMap
// publishes (person=0, bicycle=1, car=2, motorcycle=3, bus=5, truck=7).
// Unknown class ids use 1.0. SuspicionConfig's class_weights is id-keyed
// (spec.md §4.6: "coerce keys to ints and update tracker weights"), so the
// tracker keys on class-id rather than class-name to match the wire
// contract.
var defaultClassWeights = map[int]float64{
	0: 1.6, // person
	1: 0.6, // bicycle
	2: 1.0, // car
	3: 1.0, // motorcycle
	5: 1.4, // bus
	7: 1.4, // truck
}

type track struct {
	id              string
	classID         int
	className       string
	bbox            sdk.BoundingBox
	firstSeen       time.Time
	lastSeen        time.Time
	consecutiveHits int
	missedFrames    int
}

// Tracker associates detections across frames into tracks and scores each
// frame's overall suspicion level. One Tracker instance is shared across
// cameras, keyed internally by camera ID.
type Tracker struct {
	mu sync.Mutex

	byCamera map[string]map[string]*track // cameraID -> trackID -> track
	weights  map[int]float64              // class-id -> k
	logger   *slog.Logger
}

// New returns a Tracker seeded with the default per-class weights.
func New(logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	weights := make(map[int]float64, len(defaultClassWeights))
	for k, v := range defaultClassWeights {
		weights[k] = v
	}
	return &Tracker{
		byCamera: make(map[string]map[string]*track),
		weights:  weights,
		logger:   logger.With("component", "tracker"),
	}
}

// SetWeights hot-reloads the class-id -> k weight map from a
// SuspicionConfig control message.
func (t *Tracker) SetWeights(weights map[int]float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for k, v := range weights {
		t.weights[k] = v
	}
}

func (t *Tracker) weightFor(classID int) float64 {
	if k, ok := t.weights[classID]; ok {
		return k
	}
	return 1.0
}

// Update associates result's detections into the camera's tracks, evicts
// stale tracks, and returns the frame's suspicion score and the set of
// tracks that have reached the confirmation threshold.
func (t *Tracker) Update(cameraID string, result *sdk.DetectionResult, frameW, frameH int) (float64, []sdk.Track) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := result.Timestamp
	if now.IsZero() {
		now = time.Now()
	}

	tracks, ok := t.byCamera[cameraID]
	if !ok {
		tracks = make(map[string]*track)
		t.byCamera[cameraID] = tracks
	}

	t.associate(tracks, result.Detections, now)
	t.evict(tracks, now)

	confirmed := make([]sdk.Track, 0, len(tracks))
	for _, tr := range tracks {
		if tr.consecutiveHits < minimumConsecutiveFrames {
			continue
		}
		confirmed = append(confirmed, sdk.Track{
			ID:              tr.id,
			CameraID:        cameraID,
			ClassID:         tr.classID,
			ClassName:       tr.className,
			BoundingBox:     tr.bbox,
			FirstSeen:       tr.firstSeen,
			LastSeen:        tr.lastSeen,
			ConsecutiveHits: tr.consecutiveHits,
		})
	}

	score := t.score(confirmed, now, frameW, frameH)
	for i := range confirmed {
		confirmed[i].SuspicionScore = score
	}

	return score, confirmed
}

// associate performs greedy IoU-maximizing assignment of detections to
// existing tracks (byte-association-style: each detection claims its best
// unclaimed track above an IoU floor; unmatched detections spawn new
// tracks, unmatched tracks are marked missed for this frame).
func (t *Tracker) associate(tracks map[string]*track, detections []sdk.Detection, now time.Time) {
	const iouFloor = 0.3

	matchedTracks := make(map[string]bool, len(tracks))
	matchedDets := make(map[int]bool, len(detections))

	type candidate struct {
		trackID string
		detIdx  int
		iou     float64
	}
	var candidates []candidate
	for id, tr := range tracks {
		for i, det := range detections {
			iou := tr.bbox.IoU(det.BoundingBox)
			if iou >= iouFloor {
				candidates = append(candidates, candidate{id, i, iou})
			}
		}
	}

	for {
		best := -1
		for i, c := range candidates {
			if matchedTracks[c.trackID] || matchedDets[c.detIdx] {
				continue
			}
			if best == -1 || c.iou > candidates[best].iou {
				best = i
			}
		}
		if best == -1 {
			break
		}
		c := candidates[best]
		matchedTracks[c.trackID] = true
		matchedDets[c.detIdx] = true

		tr := tracks[c.trackID]
		det := detections[c.detIdx]
		tr.bbox = det.BoundingBox
		tr.classID = det.ClassID
		tr.className = det.ClassName
		tr.lastSeen = now
		tr.consecutiveHits++
		tr.missedFrames = 0
	}

	for id, tr := range tracks {
		if !matchedTracks[id] {
			tr.missedFrames++
			tr.consecutiveHits = 0
		}
	}

	for i, det := range detections {
		if matchedDets[i] {
			continue
		}
		id := uuid.NewString()
		tracks[id] = &track{
			id:              id,
			classID:         det.ClassID,
			className:       det.ClassName,
			bbox:            det.BoundingBox,
			firstSeen:       now,
			lastSeen:        now,
			consecutiveHits: 1,
		}
	}
}

// evict drops tracks unseen for longer than evictionAge or missed for
// longer than lostTrackBuffer frames at frameRate fps.
func (t *Tracker) evict(tracks map[string]*track, now time.Time) {
	missedLimit := float64(lostTrackBuffer) / float64(frameRate) // seconds
	for id, tr := range tracks {
		age := now.Sub(tr.lastSeen)
		if age >= evictionAge || age.Seconds() >= missedLimit {
			delete(tracks, id)
		}
	}
}

// sigmoid computes S(x; m, k, M) = M / (1 + exp(-k*(x - m))).
func sigmoid(x, midpoint, slope, max float64) float64 {
	return max / (1 + math.Exp(-slope*(x-midpoint)))
}

// score implements the softmax-weighted suspicion aggregate of spec.md
// §4.3. It is a pure function of the confirmed tracks and now, so
// determinism (P4) holds: no wall-clock reads occur here.
func (t *Tracker) score(confirmed []sdk.Track, now time.Time, frameW, frameH int) float64 {
	if len(confirmed) == 0 {
		return 0
	}

	frameArea := float64(frameW * frameH)
	baselines := make([]float64, len(confirmed))
	for i, tr := range confirmed {
		k := t.weightFor(tr.ClassID)

		var areaRatioPct float64
		if frameArea > 0 {
			areaRatioPct = 100 * tr.BoundingBox.Area() / frameArea
		}
		durationS := now.Sub(tr.FirstSeen).Seconds()

		areaScore := sigmoid(areaRatioPct, 25, 0.12*k, 60)
		timeScore := sigmoid(durationS, 4, 0.08*k, 40)
		baselines[i] = areaScore + timeScore
	}

	var numerator, denominator float64
	for _, b := range baselines {
		w := math.Exp(b)
		numerator += w * b
		denominator += w
	}
	if denominator == 0 {
		return 0
	}
	score := numerator / denominator
	if score > 100 {
		score = 100
	}
	return score
}
