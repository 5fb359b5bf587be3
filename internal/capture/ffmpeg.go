package capture

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"

	"crowdcount/internal/pipeline"
)

// FFmpegBinary is the ffmpeg executable looked up on PATH
var FFmpegBinary = "ffmpeg"

// FFmpegSource decodes a video file, RTSP/HTTP stream or V4L2 device with
// ffmpeg and reads the resulting MJPEG stream from its stdout
type FFmpegSource struct {
	input  string
	cmd    *exec.Cmd
	stream *StreamSource

	stderrMu   sync.Mutex
	lastStderr string
	stderrDone chan struct{}

	closing atomic.Bool

	waitOnce sync.Once
	waitErr  error
}

// NewFFmpegSource starts ffmpeg for input. fps, width and height are applied
// to live inputs; zero keeps the source values.
func NewFFmpegSource(input string, fps, width, height int) (*FFmpegSource, error) {
	if input == "" {
		return nil, errors.New("video input is empty")
	}
	if isLocalFile(input) {
		if _, err := os.Stat(input); err != nil {
			return nil, fmt.Errorf("video input: %w", err)
		}
	}

	path, err := exec.LookPath(FFmpegBinary)
	if err != nil {
		return nil, fmt.Errorf("ffmpeg not found: %w", err)
	}

	cmd := exec.Command(path, ffmpegArgs(input, fps, width, height)...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("error creating stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("error creating stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("error starting ffmpeg: %w", err)
	}

	s := &FFmpegSource{
		input:      input,
		cmd:        cmd,
		stream:     NewStreamSource(stdout, width, height),
		stderrDone: make(chan struct{}),
	}
	go s.consumeStderr(stderr)

	log.Printf("[Capture] Started ffmpeg for %s (pid %d)", input, cmd.Process.Pid)
	return s, nil
}

// Next returns the next decoded frame. End of output is end of stream only
// when ffmpeg exits cleanly; a non-zero exit is a fatal source error.
func (s *FFmpegSource) Next(ctx context.Context) (*pipeline.FrameData, error) {
	frame, err := s.stream.Next(ctx)
	if !errors.Is(err, pipeline.ErrEndOfStream) {
		return frame, err
	}

	select {
	case <-s.stderrDone:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if werr := s.wait(); werr != nil && !s.closing.Load() {
		return nil, fmt.Errorf("ffmpeg exited: %w: %s", werr, s.stderrTail())
	}
	return nil, pipeline.ErrEndOfStream
}

// Close kills ffmpeg and waits for it to exit
func (s *FFmpegSource) Close() error {
	s.closing.Store(true)
	if s.cmd.Process != nil {
		if err := s.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			log.Printf("[Capture] Error killing ffmpeg: %v", err)
		}
	}
	s.stream.Close()
	s.wait()

	log.Printf("[Capture] Stopped ffmpeg for %s", s.input)
	return nil
}

func (s *FFmpegSource) wait() error {
	s.waitOnce.Do(func() {
		s.waitErr = s.cmd.Wait()
	})
	return s.waitErr
}

func (s *FFmpegSource) consumeStderr(r io.Reader) {
	defer close(s.stderrDone)

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		s.stderrMu.Lock()
		s.lastStderr = line
		s.stderrMu.Unlock()
	}
}

func (s *FFmpegSource) stderrTail() string {
	s.stderrMu.Lock()
	defer s.stderrMu.Unlock()
	return s.lastStderr
}

func isLocalFile(input string) bool {
	return !strings.Contains(input, "://") && !strings.HasPrefix(input, "/dev/")
}

// ffmpegArgs builds the ffmpeg command line for an input
func ffmpegArgs(input string, fps, width, height int) []string {
	output := []string{"-f", "image2pipe", "-vcodec", "mjpeg", "-q:v", "5"}

	var args []string
	switch {
	case strings.HasPrefix(input, "rtsp://"):
		args = []string{"-rtsp_transport", "tcp", "-i", input}
		if fps > 0 {
			output = append(output, "-r", fmt.Sprintf("%d", fps))
		}
	case strings.HasPrefix(input, "http://") || strings.HasPrefix(input, "https://"):
		args = []string{"-i", input}
		if fps > 0 {
			output = append(output, "-r", fmt.Sprintf("%d", fps))
		}
	case strings.HasPrefix(input, "/dev/"):
		// V4L2 device (USB camera)
		args = []string{"-f", "v4l2"}
		if width > 0 && height > 0 {
			args = append(args, "-video_size", fmt.Sprintf("%dx%d", width, height))
		}
		if fps > 0 {
			args = append(args, "-framerate", fmt.Sprintf("%d", fps))
		}
		args = append(args, "-i", input)
	default:
		// Video file, every frame is decoded
		args = []string{"-i", input}
	}

	args = append([]string{"-hide_banner", "-loglevel", "error"}, args...)
	args = append(args, output...)
	return append(args, "-")
}
