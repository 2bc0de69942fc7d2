package capture

import (
	"fmt"
	"image"
	"image/draw"
)

// ROI proportions per scan mode. The name band occupies the top of the card;
// the set code sits in the bottom-right corner.
const (
	nameBandHeightRatio = 0.30

	setCodeWidthRatio  = 0.50
	setCodeHeightRatio = 0.15
)

// DeriveROI computes the region of interest for a frame of the given
// dimensions. The result always lies fully within the frame bounds.
// Zero-sized frames fail fast rather than producing a degenerate crop.
func DeriveROI(width, height int, mode ScanMode) (image.Rectangle, error) {
	if width <= 0 || height <= 0 {
		return image.Rectangle{}, fmt.Errorf("cannot derive ROI from %dx%d frame", width, height)
	}

	switch mode {
	case ModeName:
		// Full width, top 30% of the frame where the card name is printed.
		h := int(float64(height) * nameBandHeightRatio)
		if h < 1 {
			h = 1
		}
		return image.Rect(0, 0, width, h), nil

	case ModeSetCode:
		// Bottom-right 50% x 15% block holding the alphanumeric set code.
		w := int(float64(width) * setCodeWidthRatio)
		h := int(float64(height) * setCodeHeightRatio)
		if w < 1 {
			w = 1
		}
		if h < 1 {
			h = 1
		}
		return image.Rect(width-w, height-h, width, height), nil

	default:
		return image.Rectangle{}, fmt.Errorf("unknown scan mode %q", mode)
	}
}

// Crop copies the region r of frame into a freshly allocated image. The
// source frame is not retained, so the caller may discard it immediately.
func Crop(frame *image.RGBA, r image.Rectangle) (*image.RGBA, error) {
	if frame == nil {
		return nil, fmt.Errorf("cannot crop nil frame")
	}

	bounds := frame.Bounds()
	if !r.In(bounds) {
		return nil, fmt.Errorf("crop rectangle %v exceeds frame bounds %v", r, bounds)
	}
	if r.Dx() <= 0 || r.Dy() <= 0 {
		return nil, fmt.Errorf("crop rectangle %v has no area", r)
	}

	out := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	draw.Draw(out, out.Bounds(), frame, r.Min, draw.Src)
	return out, nil
}
