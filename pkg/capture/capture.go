// Package capture grabs the primary display as JPEG frames.
package capture

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"

	"github.com/kbinani/screenshot"
	"golang.org/x/image/draw"
)

// Grabber produces one JPEG-encoded frame per call. quality is the JPEG
// quality (1-100); scale shrinks the image when < 1.0.
type Grabber interface {
	Capture(quality int, scale float64) ([]byte, error)
}

// Screen captures the primary display.
type Screen struct {
	display int
}

// NewScreen returns a grabber for the primary display.
func NewScreen() (*Screen, error) {
	if screenshot.NumActiveDisplays() == 0 {
		return nil, fmt.Errorf("no active displays")
	}
	return &Screen{display: 0}, nil
}

// Capture grabs the display, optionally downscales it, and encodes JPEG.
func (s *Screen) Capture(quality int, scale float64) ([]byte, error) {
	img, err := screenshot.CaptureRect(screenshot.GetDisplayBounds(s.display))
	if err != nil {
		return nil, fmt.Errorf("capture display %d: %w", s.display, err)
	}

	var src image.Image = img
	if scale > 0 && scale < 1.0 {
		src = downscale(img, scale)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, src, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	return buf.Bytes(), nil
}

// Bounds returns the pixel dimensions of the captured display.
func (s *Screen) Bounds() image.Rectangle {
	return screenshot.GetDisplayBounds(s.display)
}

func downscale(src image.Image, scale float64) image.Image {
	b := src.Bounds()
	w := int(float64(b.Dx()) * scale)
	h := int(float64(b.Dy()) * scale)
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, b, draw.Over, nil)
	return dst
}
