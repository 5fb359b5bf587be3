package ws

import (
	"time"

	"crowdcount/internal/pipeline"
	"crowdcount/internal/sink"
)

// TracksMessage is broadcast for every processed frame
type TracksMessage struct {
	Type        string      `json:"type"` // "tracks"
	Seq         uint64      `json:"seq"`
	Timestamp   time.Time   `json:"timestamp"`
	FrameWidth  int         `json:"frame_width,omitempty"`
	FrameHeight int         `json:"frame_height,omitempty"`
	Detections  int         `json:"detections"`
	Tracks      []TrackInfo `json:"tracks"`
	WindowSize  int         `json:"window_size"` // identities counted in the current window
}

// TrackInfo represents a single tracked person
type TrackInfo struct {
	ID      int       `json:"track_id"`
	BBox    []float32 `json:"bbox"` // [cx, cy, w, h] in pixels
	ClassID int       `json:"class_id"`
}

// ReportMessage is broadcast when a window is reported
type ReportMessage struct {
	Type   string           `json:"type"` // "report"
	Record sink.CountRecord `json:"record"`
}

// NewTracksMessage creates a tracks message from a frame result
func NewTracksMessage(result *pipeline.FrameResult) *TracksMessage {
	msg := &TracksMessage{
		Type:       "tracks",
		Detections: len(result.Detections),
		Tracks:     make([]TrackInfo, 0, len(result.Tracks)),
		WindowSize: result.WindowSize,
	}
	if f := result.Frame; f != nil {
		msg.Seq = f.Seq
		msg.Timestamp = f.Timestamp
		msg.FrameWidth = f.Width
		msg.FrameHeight = f.Height
	}
	for _, t := range result.Tracks {
		msg.Tracks = append(msg.Tracks, TrackInfo{
			ID:      t.ID,
			BBox:    []float32{t.BBox.CX, t.BBox.CY, t.BBox.W, t.BBox.H},
			ClassID: t.ClassID,
		})
	}
	return msg
}

// NewReportMessage creates a report message
func NewReportMessage(rec sink.CountRecord) *ReportMessage {
	return &ReportMessage{Type: "report", Record: rec}
}
