package stream

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"crowdcount/internal/pipeline"
)

var (
	trackColor  = color.RGBA{0, 255, 0, 255}
	bannerColor = color.RGBA{255, 255, 255, 255}
	labelBg     = color.RGBA{0, 0, 0, 180}
)

// Render draws the frame result onto its JPEG. Track boxes and ids are drawn
// when drawTracks is set; the window count banner is always drawn. The
// original frame is returned if it cannot be decoded.
func Render(result *pipeline.FrameResult, drawTracks bool) []byte {
	if result == nil || result.Frame == nil {
		return nil
	}
	jpegData := result.Frame.Data

	img, err := jpeg.Decode(bytes.NewReader(jpegData))
	if err != nil {
		return jpegData
	}

	bounds := img.Bounds()
	rgba := image.NewRGBA(bounds)
	draw.Draw(rgba, bounds, img, bounds.Min, draw.Src)

	if drawTracks {
		for _, t := range result.Tracks {
			x1, y1, _, _ := t.BBox.Corners()
			x, y := int(x1), int(y1)
			drawBox(rgba, x, y, int(t.BBox.W), int(t.BBox.H), trackColor, 2)
			drawLabel(rgba, x, y-14, fmt.Sprintf("ID %d", t.ID), trackColor)
		}
	}

	drawLabel(rgba, 4, 4, fmt.Sprintf("People: %d", result.WindowSize), bannerColor)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, rgba, &jpeg.Options{Quality: 85}); err != nil {
		return jpegData
	}
	return buf.Bytes()
}

// drawBox draws a rectangle on the image
func drawBox(img *image.RGBA, x, y, w, h int, c color.RGBA, thickness int) {
	bounds := img.Bounds()

	for t := 0; t < thickness; t++ {
		// Top and bottom edges
		for i := x; i < x+w && i < bounds.Max.X; i++ {
			if i < 0 {
				continue
			}
			if y+t >= 0 && y+t < bounds.Max.Y {
				img.Set(i, y+t, c)
			}
			if y+h-t >= 0 && y+h-t < bounds.Max.Y {
				img.Set(i, y+h-t, c)
			}
		}
		// Left and right edges
		for j := y; j < y+h && j < bounds.Max.Y; j++ {
			if j < 0 {
				continue
			}
			if x+t >= 0 && x+t < bounds.Max.X {
				img.Set(x+t, j, c)
			}
			if x+w-t >= 0 && x+w-t < bounds.Max.X {
				img.Set(x+w-t, j, c)
			}
		}
	}
}

// drawLabel draws text with a dark background, top-left corner at x, y
func drawLabel(img *image.RGBA, x, y int, label string, c color.RGBA) {
	if y < 0 {
		y = 0
	}
	if x < 0 {
		x = 0
	}

	textWidth := len(label) * 7
	for dy := -2; dy < 14; dy++ {
		for dx := -2; dx < textWidth+2; dx++ {
			px, py := x+dx, y+dy
			if px >= 0 && px < img.Bounds().Max.X && py >= 0 && py < img.Bounds().Max.Y {
				img.Set(px, py, labelBg)
			}
		}
	}

	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: basicfont.Face7x13,
		Dot:  fixed.Point26_6{X: fixed.I(x), Y: fixed.I(y + 10)},
	}
	d.DrawString(label)
}
