//go:build gocv

package capture

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"log"
	"sync"
	"time"

	"gocv.io/x/gocv"

	"crowdcount/internal/pipeline"
)

var (
	clrBox    = color.RGBA{R: 0, G: 0, B: 255, A: 0}
	clrText   = color.RGBA{R: 255, G: 255, B: 255, A: 0}
	clrBanner = color.RGBA{R: 0, G: 0, B: 0, A: 0}
)

// GoCVSource reads frames from a video file with OpenCV
type GoCVSource struct {
	video *gocv.VideoCapture
	img   gocv.Mat
	seq   uint64

	closeOnce sync.Once
	mu        sync.Mutex
	closed    bool
}

// NewGoCVSource opens a video file or device with OpenCV
func NewGoCVSource(input string) (pipeline.VideoSource, error) {
	video, err := gocv.VideoCaptureFile(input)
	if err != nil {
		return nil, fmt.Errorf("open video %s: %w", input, err)
	}
	if !video.IsOpened() {
		video.Close()
		return nil, fmt.Errorf("open video %s: not opened", input)
	}

	log.Printf("[Capture] Opened %s with OpenCV", input)
	return &GoCVSource{
		video: video,
		img:   gocv.NewMat(),
	}, nil
}

// Next reads and JPEG-encodes the next frame. A failed read is end of stream.
func (s *GoCVSource) Next(ctx context.Context) (*pipeline.FrameData, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, pipeline.ErrSourceClosed
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		// read the next frame from the video
		if ok := s.video.Read(&s.img); !ok {
			return nil, pipeline.ErrEndOfStream
		}
		if s.img.Empty() {
			continue
		}

		buf, err := gocv.IMEncode(gocv.JPEGFileExt, s.img)
		if err != nil {
			return nil, fmt.Errorf("encode frame: %w", err)
		}
		data := append([]byte(nil), buf.GetBytes()...)
		buf.Close()

		s.seq++
		return &pipeline.FrameData{
			Data:      data,
			Seq:       s.seq,
			Timestamp: time.Now(),
			Width:     s.img.Cols(),
			Height:    s.img.Rows(),
		}, nil
	}
}

// Close releases the capture handle
func (s *GoCVSource) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		s.img.Close()
		s.video.Close()
	})
	return nil
}

// WindowDisplay shows annotated frames in a native window. Pressing q stops
// the pipeline.
type WindowDisplay struct {
	window *gocv.Window
	draw   bool
	once   sync.Once
}

// NewWindowDisplay opens a preview window
func NewWindowDisplay(name string, draw bool) (pipeline.Display, error) {
	return &WindowDisplay{
		window: gocv.NewWindow(name),
		draw:   draw,
	}, nil
}

// Show renders a frame result and polls the keyboard
func (d *WindowDisplay) Show(result *pipeline.FrameResult) bool {
	if result == nil || result.Frame == nil {
		return false
	}

	img, err := gocv.IMDecode(result.Frame.Data, gocv.IMReadColor)
	if err != nil {
		log.Printf("[Capture] Error decoding frame %d: %v", result.Frame.Seq, err)
		return false
	}
	defer img.Close()

	if d.draw {
		for _, t := range result.Tracks {
			x1, y1, x2, y2 := t.BBox.Corners()
			rect := image.Rect(int(x1), int(y1), int(x2), int(y2))
			gocv.Rectangle(&img, rect, clrBox, 2)
			gocv.PutText(&img, fmt.Sprintf("ID %d", t.ID), image.Pt(int(x1), int(y1)+12),
				gocv.FontHersheyPlain, 0.8, clrText, 1)
		}
	}

	gocv.Rectangle(&img, image.Rect(0, 0, 180, 28), clrBanner, -1)
	gocv.PutText(&img, fmt.Sprintf("People: %d", result.WindowSize), image.Pt(6, 20),
		gocv.FontHersheyDuplex, 0.6, clrText, 1)

	d.window.IMShow(img)
	return d.window.WaitKey(1) == 'q'
}

// Close destroys the window
func (d *WindowDisplay) Close() error {
	var err error
	d.once.Do(func() {
		err = d.window.Close()
	})
	return err
}
