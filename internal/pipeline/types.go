package pipeline

import (
	"math"
	"time"
)

// State is the frame pipeline lifecycle state
type State string

const (
	// StateRunning - reading and processing frames
	StateRunning State = "running"
	// StateDraining - a stop was requested, finishing the current iteration
	StateDraining State = "draining"
	// StateStopped - loop exited and resources were released
	StateStopped State = "stopped"
)

// ExitReason tells why the frame loop stopped
type ExitReason string

const (
	ExitEndOfStream ExitReason = "end_of_stream"
	ExitUserStop    ExitReason = "user_stop"
	ExitSourceError ExitReason = "source_error"
)

// FrameData represents a captured video frame
type FrameData struct {
	Data      []byte    // JPEG frame data
	Seq       uint64    // Frame sequence number
	Timestamp time.Time // Capture timestamp
	Width     int       // Frame width (if known)
	Height    int       // Frame height (if known)
}

// BBox is a bounding box in center form, pixel coordinates
type BBox struct {
	CX float32 `json:"cx"`
	CY float32 `json:"cy"`
	W  float32 `json:"w"`
	H  float32 `json:"h"`
}

// BBoxFromCorners builds a center-form box from top-left / bottom-right corners
func BBoxFromCorners(x1, y1, x2, y2 float32) BBox {
	return BBox{
		CX: (x1 + x2) / 2,
		CY: (y1 + y2) / 2,
		W:  x2 - x1,
		H:  y2 - y1,
	}
}

// Corners returns the box as x1, y1, x2, y2
func (b BBox) Corners() (x1, y1, x2, y2 float32) {
	return b.CX - b.W/2, b.CY - b.H/2, b.CX + b.W/2, b.CY + b.H/2
}

// Area returns the box area, zero for degenerate boxes
func (b BBox) Area() float32 {
	if b.W <= 0 || b.H <= 0 {
		return 0
	}
	return b.W * b.H
}

// Valid reports whether the box has finite coordinates and positive size
func (b BBox) Valid() bool {
	for _, v := range []float32{b.CX, b.CY, b.W, b.H} {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
	}
	return b.W > 0 && b.H > 0
}

// IoU returns intersection over union of two boxes
func (b BBox) IoU(o BBox) float32 {
	ax1, ay1, ax2, ay2 := b.Corners()
	bx1, by1, bx2, by2 := o.Corners()

	iw := min(ax2, bx2) - max(ax1, bx1)
	ih := min(ay2, by2) - max(ay1, by1)
	if iw <= 0 || ih <= 0 {
		return 0
	}

	inter := iw * ih
	union := b.Area() + o.Area() - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

// Detection represents a single object detection result
type Detection struct {
	BBox       BBox    `json:"bbox"`       // Bounding box
	Confidence float32 `json:"confidence"` // Detection confidence [0-1]
	ClassID    int     `json:"class_id"`   // Detector class id (0 = person for COCO)
}

// DetectionBatch is the column-oriented detector output consumed by trackers
type DetectionBatch struct {
	Boxes    []BBox    `json:"boxes"`
	Scores   []float32 `json:"scores"`
	ClassIDs []int     `json:"class_ids"`
}

// Len returns the number of detections in the batch
func (b *DetectionBatch) Len() int {
	if b == nil {
		return 0
	}
	return len(b.Boxes)
}

// Detections converts the batch back to row form
func (b *DetectionBatch) Detections() []Detection {
	if b == nil {
		return nil
	}
	dets := make([]Detection, 0, len(b.Boxes))
	for i := range b.Boxes {
		dets = append(dets, Detection{
			BBox:       b.Boxes[i],
			Confidence: b.Scores[i],
			ClassID:    b.ClassIDs[i],
		})
	}
	return dets
}

// Track is one tracker-maintained identity present in the current frame
type Track struct {
	ID         int     `json:"track_id"`
	BBox       BBox    `json:"bbox"`
	ClassID    int     `json:"class_id"`
	Confidence float32 `json:"confidence,omitempty"`
}

// FrameResult is the outcome of one frame. Tracks is empty when nothing was tracked.
type FrameResult struct {
	Frame      *FrameData  `json:"-"`
	Detections []Detection `json:"detections"`
	Tracks     []Track     `json:"tracks"`
	WindowSize int         `json:"window_size"` // identities in the current reporting window
}

// TrackIDs returns the identities of the result's tracks
func (r *FrameResult) TrackIDs() []int {
	ids := make([]int, 0, len(r.Tracks))
	for _, t := range r.Tracks {
		ids = append(ids, t.ID)
	}
	return ids
}

// DetectOptions are the detector parameters, fixed for the process lifetime
type DetectOptions struct {
	ConfidenceThreshold float32
	AllowedClassIDs     []int
	InputSize           int
}

// Allows reports whether a class id passes the allowed set. An empty set allows all.
func (o DetectOptions) Allows(classID int) bool {
	if len(o.AllowedClassIDs) == 0 {
		return true
	}
	for _, id := range o.AllowedClassIDs {
		if id == classID {
			return true
		}
	}
	return false
}

// PipelineStats contains frame loop counters
type PipelineStats struct {
	State          State     `json:"state"`
	FramesRead     uint64    `json:"frames_read"`
	FramesEmpty    uint64    `json:"frames_empty"`     // no qualifying detections
	FramesNoTracks uint64    `json:"frames_no_tracks"` // detections but no tracks
	FrameErrors    uint64    `json:"frame_errors"`
	TrackerCalls   uint64    `json:"tracker_calls"`
	IDsInserted    uint64    `json:"ids_inserted"`
	LastFrameTime  time.Time `json:"last_frame_time"`
	StartedAt      time.Time `json:"started_at"`
}
