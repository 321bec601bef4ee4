// Package sdk carries the wire types shared by the detector, tracker, router,
// and event fabric: frames in, detections and tracks out.
package sdk

import "time"

// Frame is a single JPEG-encoded camera frame handed to a Detector.
type Frame struct {
	CameraID  string    `json:"camera_id"`
	Sequence  uint64    `json:"sequence"`
	Timestamp time.Time `json:"timestamp"`
	Width     int       `json:"width"`
	Height    int       `json:"height"`
	JPEG      []byte    `json:"-"`
}

// BoundingBox is an axis-aligned box in frame pixel coordinates.
type BoundingBox struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Area returns the box's area in square pixels.
func (b BoundingBox) Area() float64 {
	if b.Width <= 0 || b.Height <= 0 {
		return 0
	}
	return b.Width * b.Height
}

// Center returns the box's centroid.
func (b BoundingBox) Center() (float64, float64) {
	return b.X + b.Width/2, b.Y + b.Height/2
}

// Intersects reports whether the two boxes overlap.
func (b BoundingBox) Intersects(o BoundingBox) bool {
	return b.X < o.X+o.Width && o.X < b.X+b.Width &&
		b.Y < o.Y+o.Height && o.Y < b.Y+b.Height
}

// IoU returns the intersection-over-union ratio of the two boxes, in [0,1].
func (b BoundingBox) IoU(o BoundingBox) float64 {
	if !b.Intersects(o) {
		return 0
	}
	ix1 := max(b.X, o.X)
	iy1 := max(b.Y, o.Y)
	ix2 := min(b.X+b.Width, o.X+o.Width)
	iy2 := min(b.Y+b.Height, o.Y+o.Height)

	intersection := (ix2 - ix1) * (iy2 - iy1)
	union := b.Area() + o.Area() - intersection
	if union <= 0 {
		return 0
	}
	return intersection / union
}

// Point is a 2D point in frame pixel coordinates.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Polygon is a closed sequence of points describing a detection zone.
type Polygon struct {
	Points []Point `json:"points"`
}

// ContainsPoint reports whether (x, y) lies inside the polygon, via ray casting.
func (p Polygon) ContainsPoint(x, y float64) bool {
	n := len(p.Points)
	if n < 3 {
		return false
	}
	inside := false
	j := n - 1
	for i := 0; i < n; i++ {
		pi, pj := p.Points[i], p.Points[j]
		if (pi.Y > y) != (pj.Y > y) {
			xIntersect := (pj.X-pi.X)*(y-pi.Y)/(pj.Y-pi.Y) + pi.X
			if x < xIntersect {
				inside = !inside
			}
		}
		j = i
	}
	return inside
}

// Zone is a named, optionally object-filtered detection region on one camera.
type Zone struct {
	ID      string   `json:"id"`
	CameraID string  `json:"camera_id"`
	Name    string   `json:"name"`
	Polygon Polygon  `json:"polygon"`
	Classes []string `json:"classes,omitempty"`
}

// ContainsPoint reports whether (x, y) falls within the zone's polygon.
func (z Zone) ContainsPoint(x, y float64) bool {
	return z.Polygon.ContainsPoint(x, y)
}

// Detection is a single per-frame object detection, before track association.
type Detection struct {
	ClassID     int         `json:"class_id"`
	ClassName   string      `json:"class_name"`
	Confidence  float64     `json:"confidence"`
	BoundingBox BoundingBox `json:"bounding_box"`
}

// DetectionResult is a Detector's response for one frame.
type DetectionResult struct {
	CameraID   string      `json:"camera_id"`
	Sequence   uint64      `json:"sequence"`
	Timestamp  time.Time   `json:"timestamp"`
	Provider   string      `json:"provider"`
	Detections []Detection `json:"detections"`
}

// Track is a tracked object persisted across frames, carrying an aggregated
// suspicion score.
type Track struct {
	ID              string      `json:"id"`
	CameraID        string      `json:"camera_id"`
	ClassID         int         `json:"class_id"`
	ClassName       string      `json:"class_name"`
	BoundingBox     BoundingBox `json:"bounding_box"`
	FirstSeen       time.Time   `json:"first_seen"`
	LastSeen        time.Time   `json:"last_seen"`
	ConsecutiveHits int         `json:"consecutive_hits"`
	SuspicionScore  float64     `json:"suspicion_score"`
}

// SuspicionFrame is the suspicion-scored snapshot published to the event
// fabric's suspicion.frame subject: a frame's tracks plus its overall score.
type SuspicionFrame struct {
	CameraID  string    `json:"camera_id"`
	Timestamp time.Time `json:"timestamp"`
	Score     float64   `json:"score"`
	Tracks    []Track   `json:"tracks"`
	JPEG      []byte    `json:"jpeg"`
}
