package capture

import (
	"image"
	"image/color"
	"testing"
)

// TestDeriveROIName checks that the name band spans the full width and the
// top 30% of the frame at a range of resolutions.
func TestDeriveROIName(t *testing.T) {
	testCases := []struct {
		name   string
		width  int
		height int
	}{
		{name: "FullHD", width: 1920, height: 1080},
		{name: "VGA", width: 640, height: 480},
		{name: "Portrait", width: 480, height: 800},
		{name: "Tiny", width: 10, height: 10},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			roi, err := DeriveROI(tc.width, tc.height, ModeName)
			if err != nil {
				t.Fatalf("DeriveROI failed: %v", err)
			}

			frame := image.Rect(0, 0, tc.width, tc.height)
			if !roi.In(frame) {
				t.Errorf("ROI %v not contained in frame %v", roi, frame)
			}
			if roi.Dx() != tc.width {
				t.Errorf("name band width = %d, want full width %d", roi.Dx(), tc.width)
			}
			if roi.Min.Y != 0 {
				t.Errorf("name band must start at the top, got Min.Y=%d", roi.Min.Y)
			}
			wantH := int(float64(tc.height) * 0.30)
			if wantH < 1 {
				wantH = 1
			}
			if roi.Dy() != wantH {
				t.Errorf("name band height = %d, want %d (30%% of %d)", roi.Dy(), wantH, tc.height)
			}
		})
	}
}

// TestDeriveROISetCode checks that the set-code block is anchored to the
// bottom-right corner and covers 50% x 15% of the frame.
func TestDeriveROISetCode(t *testing.T) {
	testCases := []struct {
		name   string
		width  int
		height int
	}{
		{name: "FullHD", width: 1920, height: 1080},
		{name: "VGA", width: 640, height: 480},
		{name: "Tiny", width: 10, height: 10},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			roi, err := DeriveROI(tc.width, tc.height, ModeSetCode)
			if err != nil {
				t.Fatalf("DeriveROI failed: %v", err)
			}

			frame := image.Rect(0, 0, tc.width, tc.height)
			if !roi.In(frame) {
				t.Errorf("ROI %v not contained in frame %v", roi, frame)
			}
			if roi.Max.X != tc.width || roi.Max.Y != tc.height {
				t.Errorf("set-code ROI %v must be anchored to the bottom-right corner of %v", roi, frame)
			}

			wantW := int(float64(tc.width) * 0.50)
			if wantW < 1 {
				wantW = 1
			}
			wantH := int(float64(tc.height) * 0.15)
			if wantH < 1 {
				wantH = 1
			}
			if roi.Dx() != wantW {
				t.Errorf("set-code ROI width = %d, want %d", roi.Dx(), wantW)
			}
			if roi.Dy() != wantH {
				t.Errorf("set-code ROI height = %d, want %d", roi.Dy(), wantH)
			}
		})
	}
}

// TestDeriveROIRejectsDegenerateFrames verifies the fail-fast on frames
// without usable dimensions and on unknown modes.
func TestDeriveROIRejectsDegenerateFrames(t *testing.T) {
	testCases := []struct {
		name   string
		width  int
		height int
		mode   ScanMode
	}{
		{name: "ZeroWidth", width: 0, height: 1080, mode: ModeName},
		{name: "ZeroHeight", width: 1920, height: 0, mode: ModeSetCode},
		{name: "NegativeDims", width: -5, height: -5, mode: ModeName},
		{name: "UnknownMode", width: 640, height: 480, mode: ScanMode("barcode")},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := DeriveROI(tc.width, tc.height, tc.mode); err == nil {
				t.Errorf("DeriveROI(%d, %d, %q) should have failed", tc.width, tc.height, tc.mode)
			}
		})
	}
}

// TestCropCopiesRegion verifies the crop has its own pixel storage and the
// correct content.
func TestCropCopiesRegion(t *testing.T) {
	frame := image.NewRGBA(image.Rect(0, 0, 100, 100))
	marker := color.RGBA{R: 200, G: 10, B: 30, A: 255}
	frame.SetRGBA(60, 70, marker)

	out, err := Crop(frame, image.Rect(50, 50, 100, 100))
	if err != nil {
		t.Fatalf("Crop failed: %v", err)
	}

	if out.Bounds().Dx() != 50 || out.Bounds().Dy() != 50 {
		t.Fatalf("crop size = %dx%d, want 50x50", out.Bounds().Dx(), out.Bounds().Dy())
	}
	if got := out.RGBAAt(10, 20); got != marker {
		t.Errorf("crop pixel (10,20) = %v, want marker %v", got, marker)
	}

	// Mutating the source must not leak into the crop.
	frame.SetRGBA(60, 70, color.RGBA{A: 255})
	if got := out.RGBAAt(10, 20); got != marker {
		t.Errorf("crop shares pixel storage with the source frame")
	}
}

func TestCropRejectsOutOfBounds(t *testing.T) {
	frame := image.NewRGBA(image.Rect(0, 0, 100, 100))

	if _, err := Crop(frame, image.Rect(50, 50, 150, 150)); err == nil {
		t.Error("crop exceeding frame bounds should have failed")
	}
	if _, err := Crop(nil, image.Rect(0, 0, 10, 10)); err == nil {
		t.Error("crop of nil frame should have failed")
	}
}
