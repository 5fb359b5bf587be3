//go:build !gocv

package capture

import (
	"crowdcount/internal/pipeline"
)

// NewGoCVSource requires the gocv build tag
func NewGoCVSource(input string) (pipeline.VideoSource, error) {
	return nil, ErrNoGoCV
}

// NewWindowDisplay requires the gocv build tag
func NewWindowDisplay(name string, draw bool) (pipeline.Display, error) {
	return nil, ErrNoGoCV
}
