package stream

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crowdcount/internal/pipeline"
)

func testJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{40, 40, 40, 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return buf.Bytes()
}

func testResult(t *testing.T) *pipeline.FrameResult {
	return &pipeline.FrameResult{
		Frame:      &pipeline.FrameData{Seq: 1, Data: testJPEG(t, 160, 120)},
		Tracks:     []pipeline.Track{{ID: 4, BBox: pipeline.BBox{CX: 80, CY: 60, W: 40, H: 60}}},
		WindowSize: 4,
	}
}

func TestRenderDrawsOverlay(t *testing.T) {
	result := testResult(t)

	out := Render(result, true)
	require.NotNil(t, out)

	img, err := jpeg.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 160, 120), img.Bounds())

	// left edge of the track box is green
	r, g, b, _ := img.At(60, 60).RGBA()
	assert.Greater(t, g>>8, uint32(100))
	assert.Greater(t, g>>8, r>>8+40)
	assert.Greater(t, g>>8, b>>8+40)

	// outside the box and banner the frame is unchanged
	r, g, _, _ = img.At(150, 110).RGBA()
	assert.InDelta(t, 40, float64(r>>8), 12)
	assert.InDelta(t, 40, float64(g>>8), 12)
}

func TestRenderWithoutTracks(t *testing.T) {
	result := testResult(t)
	out := Render(result, false)
	img, err := jpeg.Decode(bytes.NewReader(out))
	require.NoError(t, err)

	_, g, _, _ := img.At(60, 60).RGBA()
	assert.InDelta(t, 40, float64(g>>8), 12)
}

func TestRenderInvalidJPEG(t *testing.T) {
	result := &pipeline.FrameResult{Frame: &pipeline.FrameData{Data: []byte{1, 2, 3}}}
	assert.Equal(t, []byte{1, 2, 3}, Render(result, true))
	assert.Nil(t, Render(nil, true))
}

func TestSnapshotHandler(t *testing.T) {
	preview := NewPreview(true)
	handler := NewSnapshotHandler(preview)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/video/snapshot", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	preview.update(testResult(t))

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/video/snapshot", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/jpeg", rec.Header().Get("Content-Type"))
	_, err := jpeg.Decode(rec.Body)
	require.NoError(t, err)
}

func TestMJPEGStream(t *testing.T) {
	preview := NewPreview(false)
	srv := httptest.NewServer(preview)
	defer srv.Close()

	results := make(chan *pipeline.FrameResult, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go preview.Run(ctx, results)

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "multipart/x-mixed-replace; boundary=frame", resp.Header.Get("Content-Type"))

	require.Eventually(t, func() bool { return preview.ClientCount() == 1 }, time.Second, 5*time.Millisecond)
	results <- testResult(t)

	buf := make([]byte, 64)
	_, err = io.ReadAtLeast(resp.Body, buf, len("--frame"))
	require.NoError(t, err)
	assert.Contains(t, string(buf), "--frame")
}
