package capture

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/draw"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"sync"

	"github.com/vova616/screenshot"
)

// ScreenDevice captures frames from the local display. Used when a card is
// shown to a webcam preview or screen-shared into the worker host.
type ScreenDevice struct {
	mu     sync.Mutex
	opened bool
}

// NewScreenDevice returns a screen-backed imaging device.
func NewScreenDevice() *ScreenDevice {
	return &ScreenDevice{}
}

func (d *ScreenDevice) Name() string { return "screen" }

// RequestAccess opens the device stream. Only one stream may be open at a
// time per device; a second caller is refused until the first closes.
func (d *ScreenDevice) RequestAccess(ctx context.Context) (FrameStream, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.opened {
		return nil, fmt.Errorf("screen device already has an open capture session")
	}

	// Probe once so access problems surface at open time, not mid-scan.
	if _, err := screenshot.CaptureScreen(); err != nil {
		return nil, fmt.Errorf("screen capture access denied: %w", err)
	}

	d.opened = true
	return &screenStream{device: d}, nil
}

type screenStream struct {
	device *ScreenDevice
	closed bool
}

func (s *screenStream) CurrentFrame() (*image.RGBA, error) {
	if s.closed {
		return nil, fmt.Errorf("capture stream is closed")
	}
	return screenshot.CaptureScreen()
}

func (s *screenStream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true

	s.device.mu.Lock()
	s.device.opened = false
	s.device.mu.Unlock()
	return nil
}

// FileDevice serves a single still image, covering the "upload a photo"
// path and batch scan jobs that reference an image on disk.
type FileDevice struct {
	path string
}

// NewFileDevice returns a device backed by an image file (PNG or JPEG).
func NewFileDevice(path string) *FileDevice {
	return &FileDevice{path: path}
}

func (d *FileDevice) Name() string { return "file" }

func (d *FileDevice) RequestAccess(ctx context.Context) (FrameStream, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	data, err := os.ReadFile(d.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read image file: %w", err)
	}

	frame, err := DecodeFrame(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", d.path, err)
	}

	return &stillStream{frame: frame}, nil
}

// BytesDevice serves a single in-memory image, covering queue jobs that
// carry the photo inline in the payload.
type BytesDevice struct {
	data []byte
}

// NewBytesDevice returns a device backed by an encoded image buffer.
func NewBytesDevice(data []byte) *BytesDevice {
	return &BytesDevice{data: data}
}

func (d *BytesDevice) Name() string { return "buffer" }

func (d *BytesDevice) RequestAccess(ctx context.Context) (FrameStream, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	frame, err := DecodeFrame(d.data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image buffer: %w", err)
	}

	return &stillStream{frame: frame}, nil
}

type stillStream struct {
	frame  *image.RGBA
	closed bool
}

func (s *stillStream) CurrentFrame() (*image.RGBA, error) {
	if s.closed {
		return nil, fmt.Errorf("capture stream is closed")
	}
	return s.frame, nil
}

func (s *stillStream) Close() error {
	s.closed = true
	s.frame = nil
	return nil
}

// DecodeFrame decodes an encoded PNG or JPEG into an RGBA frame.
func DecodeFrame(data []byte) (*image.RGBA, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty image data")
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}

	if rgba, ok := img.(*image.RGBA); ok {
		return rgba, nil
	}

	out := image.NewRGBA(img.Bounds())
	draw.Draw(out, out.Bounds(), img, img.Bounds().Min, draw.Src)
	return out, nil
}
