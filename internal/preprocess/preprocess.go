/**
 * Image preprocessing for OCR legibility
 *
 * OCR accuracy degrades sharply on low-contrast colored card art; a fixed
 * grayscale + contrast curve is cheap and robust for the bounded ROI content
 * (printed text on a light background).
 */

package preprocess

import (
	"image"
	"math"
)

// Tuned against printed card text; see Apply.
const (
	DefaultContrastFactor   = 2.0
	DefaultBrightnessOffset = 10.0
)

// Apply runs the transform with the tuned contrast and brightness constants.
func Apply(frame *image.RGBA) *image.RGBA {
	return ApplyWith(frame, DefaultContrastFactor, DefaultBrightnessOffset)
}

// ApplyWith converts each pixel to its luminance and applies a contrast and
// brightness adjustment around the midpoint, writing the result back into
// the R, G and B channels. Alpha is left untouched. The returned frame has
// the same dimensions as the input; the input is not modified.
//
// A contrast factor of 1.0 with zero brightness reduces to plain grayscale
// and is idempotent. With the default factor, applying twice is not the same
// as applying once; contrast stacking is expected to diverge.
func ApplyWith(frame *image.RGBA, contrastFactor, brightnessOffset float64) *image.RGBA {
	if frame == nil {
		return nil
	}

	out := image.NewRGBA(frame.Bounds())
	copy(out.Pix, frame.Pix)

	for i := 0; i+3 < len(out.Pix); i += 4 {
		r := float64(out.Pix[i])
		g := float64(out.Pix[i+1])
		b := float64(out.Pix[i+2])

		// ITU-R BT.601 luminance.
		y := 0.299*r + 0.587*g + 0.114*b

		// Rounded, not truncated: truncation would let float error push a
		// neutral (factor 1.0, offset 0) pass off its own grayscale output.
		adjusted := math.Round((y-128)*contrastFactor + 128 + brightnessOffset)
		if adjusted < 0 {
			adjusted = 0
		}
		if adjusted > 255 {
			adjusted = 255
		}

		v := uint8(adjusted)
		out.Pix[i] = v
		out.Pix[i+1] = v
		out.Pix[i+2] = v
		// out.Pix[i+3] (alpha) unchanged
	}

	return out
}
