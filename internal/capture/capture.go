// Package capture provides the video sources feeding the frame pipeline and
// the optional local preview window.
package capture

import (
	"errors"
)

// ErrNoGoCV is returned by the native capture and window constructors when
// the binary was built without the gocv tag
var ErrNoGoCV = errors.New("built without gocv support (rebuild with -tags gocv)")
