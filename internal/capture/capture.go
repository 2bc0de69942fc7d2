/**
 * Capture & ROI selection for the card scan worker
 *
 * A Session exclusively owns an imaging device handle for its lifetime.
 * ROI geometry is a pure function of frame dimensions and scan mode so it
 * can be unit tested without a real device.
 */

package capture

import (
	"context"
	"fmt"
	"image"
	"time"

	"github.com/google/uuid"

	"github.com/tcgvault/cardscan-worker/internal/errors"
	"github.com/tcgvault/cardscan-worker/internal/logging"
)

// ScanMode selects ROI geometry, OCR charset and the resolution strategy.
// It is set once per scan session and immutable for the duration of a scan.
type ScanMode string

const (
	// ModeName targets the card-name band at the top of the card.
	ModeName ScanMode = "name"
	// ModeSetCode targets the printed set code in the bottom-right corner
	// (e.g. "LOB-EN001").
	ModeSetCode ScanMode = "setcode"
)

// Valid reports whether m is a known scan mode.
func (m ScanMode) Valid() bool {
	return m == ModeName || m == ModeSetCode
}

// FrameStream is a live source of frames owned by an open capture session.
type FrameStream interface {
	// CurrentFrame returns the most recent frame. Streams may legitimately
	// return a zero-sized frame while the device warms up.
	CurrentFrame() (*image.RGBA, error)
	Close() error
}

// Device abstracts an imaging source. Implementations enforce that only one
// stream per device is open at a time.
type Device interface {
	Name() string
	RequestAccess(ctx context.Context) (FrameStream, error)
}

// Session exclusively owns a device stream between OpenSession and Close.
type Session struct {
	id     string
	device Device
	stream FrameStream
	log    *logging.Logger
}

// OpenSession requests access to the device and wraps the stream in a
// session. A device that refuses access surfaces as DEVICE_UNAVAILABLE.
func OpenSession(ctx context.Context, dev Device) (*Session, error) {
	id := uuid.New().String()

	stream, err := dev.RequestAccess(ctx)
	if err != nil {
		return nil, errors.NewDeviceUnavailableError(id, err)
	}

	return &Session{
		id:     id,
		device: dev,
		stream: stream,
		log:    logging.NewLogger("Capture").Named(dev.Name()),
	}, nil
}

// ID returns the session identifier used for correlating logs and errors.
func (s *Session) ID() string { return s.id }

// Capture grabs the current frame. A frame without usable dimensions is a
// DEVICE_NOT_READY error; callers poll or use WaitFrame rather than cropping
// a degenerate frame.
func (s *Session) Capture(ctx context.Context) (*image.RGBA, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	frame, err := s.stream.CurrentFrame()
	if err != nil {
		return nil, errors.NewDeviceUnavailableError(s.id, err)
	}

	if frame == nil || frame.Bounds().Dx() == 0 || frame.Bounds().Dy() == 0 {
		return nil, errors.NewDeviceNotReadyError(s.id)
	}

	return frame, nil
}

// WaitFrame polls the stream until it produces a frame with non-zero
// dimensions or the context is cancelled.
func (s *Session) WaitFrame(ctx context.Context, poll time.Duration) (*image.RGBA, error) {
	if poll <= 0 {
		poll = 100 * time.Millisecond
	}

	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		frame, err := s.Capture(ctx)
		if err == nil {
			return frame, nil
		}
		if !errors.HasCode(err, errors.ErrorDeviceNotReady) {
			return nil, err
		}

		s.log.Debug("Device not ready, polling", "session", s.id, "interval", poll)

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("waiting for device frame: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

// Close releases the device handle. Safe to call after cancellation.
func (s *Session) Close() error {
	if s.stream == nil {
		return nil
	}
	err := s.stream.Close()
	s.stream = nil
	return err
}
