package detection

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strconv"
	"strings"
	"sync"
	"time"

	"crowdcount/internal/pipeline"
)

const healthCacheTTL = 30 * time.Second

// YOLOClient runs person detection on a remote YOLO inference service
type YOLOClient struct {
	endpoint string
	client   *http.Client

	mu          sync.Mutex
	healthy     bool
	healthCheck time.Time
}

// yoloDetection is one detection as returned by the inference service
type yoloDetection struct {
	Class      string    `json:"class,omitempty"`
	ClassID    int       `json:"class_id"`
	Confidence float32   `json:"confidence"`
	BBox       []float32 `json:"bbox"` // [cx, cy, w, h]
}

// yoloResponse represents the full detection response
type yoloResponse struct {
	Detections      []yoloDetection `json:"detections"`
	Count           int             `json:"count"`
	InferenceTimeMs float32         `json:"inference_time_ms"`
	Device          string          `json:"device"`
}

// NewYOLOClient creates a detector client. timeout bounds each request.
func NewYOLOClient(endpoint string, timeout time.Duration) *YOLOClient {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &YOLOClient{
		endpoint: strings.TrimRight(endpoint, "/"),
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

// IsHealthy checks if the detection service is available
func (c *YOLOClient) IsHealthy(ctx context.Context) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Cache health check for 30 seconds
	if c.healthy && time.Since(c.healthCheck) < healthCacheTTL {
		return true
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"/health", nil)
	if err != nil {
		c.healthy = false
		return false
	}

	resp, err := c.client.Do(req)
	if err != nil {
		log.Printf("[Detector] Health check failed: %v", err)
		c.healthy = false
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		c.healthCheck = time.Now()
		c.healthy = true
		return true
	}

	log.Printf("[Detector] Health check returned status %d", resp.StatusCode)
	c.healthy = false
	return false
}

// Detect sends one JPEG frame to the inference service
func (c *YOLOClient) Detect(ctx context.Context, frame *pipeline.FrameData, opts pipeline.DetectOptions) ([]pipeline.Detection, error) {
	if frame == nil || len(frame.Data) == 0 {
		return nil, fmt.Errorf("empty frame")
	}
	if !c.IsHealthy(ctx) {
		return nil, fmt.Errorf("detection service unavailable")
	}

	var b bytes.Buffer
	w := multipart.NewWriter(&b)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="frame.jpg"`)
	h.Set("Content-Type", "image/jpeg")
	fw, err := w.CreatePart(h)
	if err != nil {
		return nil, err
	}
	if _, err := fw.Write(frame.Data); err != nil {
		return nil, err
	}

	w.WriteField("conf_threshold", fmt.Sprintf("%.2f", opts.ConfidenceThreshold))
	if len(opts.AllowedClassIDs) > 0 {
		w.WriteField("classes", joinInts(opts.AllowedClassIDs))
	}
	if opts.InputSize > 0 {
		w.WriteField("imgsz", strconv.Itoa(opts.InputSize))
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/detect", &b)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		c.markUnhealthy()
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("detect returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var result yoloResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode detect response: %w", err)
	}

	return convertDetections(result.Detections), nil
}

func (c *YOLOClient) markUnhealthy() {
	c.mu.Lock()
	c.healthy = false
	c.mu.Unlock()
}

// convertDetections maps service detections to pipeline detections. Entries
// with a malformed box are dropped.
func convertDetections(dets []yoloDetection) []pipeline.Detection {
	out := make([]pipeline.Detection, 0, len(dets))
	for _, d := range dets {
		if len(d.BBox) != 4 {
			continue
		}
		out = append(out, pipeline.Detection{
			BBox: pipeline.BBox{
				CX: d.BBox[0],
				CY: d.BBox[1],
				W:  d.BBox[2],
				H:  d.BBox[3],
			},
			Confidence: d.Confidence,
			ClassID:    d.ClassID,
		})
	}
	return out
}

func joinInts(values []int) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, ",")
}
