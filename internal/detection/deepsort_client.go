package detection

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"crowdcount/internal/pipeline"
)

// DeepSortParams configures a remote tracking session
type DeepSortParams struct {
	MaxCosineDistance float64 `json:"max_cosine_dist"`
	NMSMaxOverlap     float64 `json:"nms_max_overlap"`
	MaxIOUDistance    float64 `json:"max_iou_distance"`
	MaxAge            int     `json:"max_age"`
	NInit             int     `json:"n_init"`
	NNBudget          int     `json:"nn_budget"`
	UseCUDA           bool    `json:"use_cuda"`
}

// DeepSortClient drives a DeepSORT tracker hosted by a remote service. The
// service keeps the appearance model and track state per session.
type DeepSortClient struct {
	endpoint string
	client   *http.Client
	params   DeepSortParams

	mu        sync.Mutex
	sessionID string
}

type createSessionRequest struct {
	SessionID string `json:"session_id"`
	DeepSortParams
}

type updateRequest struct {
	FrameSeq uint64       `json:"frame_seq"`
	Boxes    [][4]float32 `json:"boxes"` // [cx, cy, w, h]
	Scores   []float32    `json:"scores"`
	ClassIDs []int        `json:"class_ids"`
	Image    string       `json:"image,omitempty"` // base64 JPEG
}

type remoteTrack struct {
	TrackID int       `json:"track_id"`
	BBox    []float32 `json:"bbox"` // [cx, cy, w, h]
	ClassID int       `json:"class_id"`
}

type updateResponse struct {
	Tracks []remoteTrack `json:"tracks"`
}

// NewDeepSortClient creates a remote tracker client. The session is opened
// lazily on the first update.
func NewDeepSortClient(endpoint string, timeout time.Duration, params DeepSortParams) *DeepSortClient {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &DeepSortClient{
		endpoint: strings.TrimRight(endpoint, "/"),
		client:   &http.Client{Timeout: timeout},
		params:   params,
	}
}

// SessionID returns the active session, empty before the first update
func (c *DeepSortClient) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// Update sends one frame's detections, including empty batches, and returns
// the tracks the service reports for the frame
func (c *DeepSortClient) Update(ctx context.Context, batch *pipeline.DetectionBatch, frame *pipeline.FrameData) ([]pipeline.Track, error) {
	sessionID, err := c.session(ctx)
	if err != nil {
		return nil, err
	}

	body := updateRequest{
		Boxes:    make([][4]float32, 0, batch.Len()),
		Scores:   []float32{},
		ClassIDs: []int{},
	}
	if batch != nil {
		for _, b := range batch.Boxes {
			body.Boxes = append(body.Boxes, [4]float32{b.CX, b.CY, b.W, b.H})
		}
		body.Scores = append(body.Scores, batch.Scores...)
		body.ClassIDs = append(body.ClassIDs, batch.ClassIDs...)
	}
	if frame != nil {
		body.FrameSeq = frame.Seq
		body.Image = base64.StdEncoding.EncodeToString(frame.Data)
	}

	var result updateResponse
	if err := c.post(ctx, "/track/sessions/"+sessionID+"/update", body, &result); err != nil {
		return nil, err
	}

	tracks := make([]pipeline.Track, 0, len(result.Tracks))
	for _, t := range result.Tracks {
		track := pipeline.Track{ID: t.TrackID, ClassID: t.ClassID}
		if len(t.BBox) == 4 {
			track.BBox = pipeline.BBox{CX: t.BBox[0], CY: t.BBox[1], W: t.BBox[2], H: t.BBox[3]}
		}
		tracks = append(tracks, track)
	}
	return tracks, nil
}

// Close deletes the remote session
func (c *DeepSortClient) Close() error {
	c.mu.Lock()
	sessionID := c.sessionID
	c.sessionID = ""
	c.mu.Unlock()

	if sessionID == "" {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.client.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.endpoint+"/track/sessions/"+sessionID, nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("close tracking session: %w", err)
	}
	resp.Body.Close()

	log.Printf("[Tracker] Closed remote session %s", sessionID)
	return nil
}

func (c *DeepSortClient) session(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sessionID != "" {
		return c.sessionID, nil
	}

	id := uuid.New().String()
	req := createSessionRequest{SessionID: id, DeepSortParams: c.params}
	if err := c.post(ctx, "/track/sessions", req, nil); err != nil {
		return "", fmt.Errorf("open tracking session: %w", err)
	}

	c.sessionID = id
	log.Printf("[Tracker] Opened remote session %s", id)
	return id, nil
}

func (c *DeepSortClient) post(ctx context.Context, path string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%s returned %d: %s", path, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}
