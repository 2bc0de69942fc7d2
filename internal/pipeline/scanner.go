/**
 * Scan pipeline for the card scan worker
 *
 * Orchestrates one scan session end to end:
 *   capture -> ROI crop -> preprocess -> OCR -> normalize -> resolve
 *
 * The stages run as a single logical sequence; capture and OCR are the
 * long-running suspension points and honor the caller's context. Nothing
 * here is retried automatically beyond the two-provider fallback inside
 * set-code resolution; every other failure asks for a caller-initiated
 * re-scan.
 */

package pipeline

import (
	"context"
	"fmt"
	"image"
	"time"

	"github.com/google/uuid"

	"github.com/tcgvault/cardscan-worker/internal/capture"
	"github.com/tcgvault/cardscan-worker/internal/errors"
	"github.com/tcgvault/cardscan-worker/internal/logging"
	"github.com/tcgvault/cardscan-worker/internal/normalize"
	"github.com/tcgvault/cardscan-worker/internal/ocr"
	"github.com/tcgvault/cardscan-worker/internal/preprocess"
	"github.com/tcgvault/cardscan-worker/internal/resolve"
)

// ScanRequest submits one frame for identification. Progress, when set,
// receives OCR milestones so the caller can render feedback.
type ScanRequest struct {
	SessionID string
	Frame     *image.RGBA
	Mode      capture.ScanMode
	Progress  chan<- ocr.Progress
}

// ScanResult is returned to the caller. Exactly one of Match (set-code
// path) or Matches (name path) is populated on success; an empty Matches
// list is a normal outcome asking the user to retry with clearer input.
type ScanResult struct {
	SessionID      string
	Mode           capture.ScanMode
	RecognizedText string
	Confidence     float64
	Candidate      string
	Match          *resolve.CardMatch
	Matches        []resolve.CardMatch
	Duration       time.Duration
}

// Scanner runs scan sessions against a fixed OCR engine and resolver.
type Scanner struct {
	engine   ocr.Engine
	resolver *resolve.Resolver
	log      *logging.Logger
}

// NewScanner creates a scanner.
func NewScanner(engine ocr.Engine, resolver *resolve.Resolver) (*Scanner, error) {
	if engine == nil {
		return nil, fmt.Errorf("ocr engine is required")
	}
	if resolver == nil {
		return nil, fmt.Errorf("resolver is required")
	}
	return &Scanner{
		engine:   engine,
		resolver: resolver,
		log:      logging.NewLogger("Scanner"),
	}, nil
}

// Scan identifies the card in an already-captured frame.
func (s *Scanner) Scan(ctx context.Context, req *ScanRequest) (*ScanResult, error) {
	start := time.Now()

	if req.SessionID == "" {
		req.SessionID = uuid.New().String()
	}
	if !req.Mode.Valid() {
		return nil, fmt.Errorf("unknown scan mode %q", req.Mode)
	}
	if req.Frame == nil || req.Frame.Bounds().Dx() == 0 || req.Frame.Bounds().Dy() == 0 {
		return nil, errors.NewDeviceNotReadyError(req.SessionID)
	}

	bounds := req.Frame.Bounds()
	s.log.Info("Scan started", "session", req.SessionID, "mode", req.Mode,
		"frame", fmt.Sprintf("%dx%d", bounds.Dx(), bounds.Dy()))

	roi, err := capture.DeriveROI(bounds.Dx(), bounds.Dy(), req.Mode)
	if err != nil {
		return nil, err
	}

	cropped, err := capture.Crop(req.Frame, roi)
	if err != nil {
		return nil, err
	}

	// The full frame is owned by the capture step only; from here on the
	// pipeline works with the preprocessed crop.
	prepared := preprocess.Apply(cropped)

	recognized, err := s.engine.Recognize(ctx, prepared, req.Mode, req.Progress)
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		return nil, errors.NewEngineError(req.SessionID, err)
	}

	if recognized.Text == "" {
		return nil, errors.NewEmptyResultError(req.SessionID, string(req.Mode), emptyResultGuidance(req.Mode))
	}

	s.log.Debug("OCR complete", "session", req.SessionID,
		"confidence", recognized.Confidence, "raw_length", len(recognized.Text))

	result := &ScanResult{
		SessionID:      req.SessionID,
		Mode:           req.Mode,
		RecognizedText: recognized.Text,
		Confidence:     recognized.Confidence,
	}

	switch req.Mode {
	case capture.ModeSetCode:
		code, err := normalize.SetCode(recognized.Text)
		if err != nil {
			return nil, err
		}
		result.Candidate = code

		cardMatch, err := s.resolver.ResolveSetCode(ctx, code)
		if err != nil {
			return nil, err
		}
		result.Match = cardMatch

	case capture.ModeName:
		name, err := normalize.Name(recognized.Text)
		if err != nil {
			return nil, err
		}
		result.Candidate = name

		matches, err := s.resolver.ResolveName(ctx, name)
		if err != nil {
			return nil, err
		}
		result.Matches = matches
	}

	result.Duration = time.Since(start)
	s.log.Info("Scan complete", "session", req.SessionID, "mode", req.Mode,
		"candidate", result.Candidate, "duration", result.Duration)
	return result, nil
}

// ScanDevice opens an exclusive session on the device, waits for a usable
// frame, and runs the pipeline on it. The device handle is released before
// returning, including on cancellation.
func (s *Scanner) ScanDevice(ctx context.Context, dev capture.Device, mode capture.ScanMode, progress chan<- ocr.Progress) (*ScanResult, error) {
	session, err := capture.OpenSession(ctx, dev)
	if err != nil {
		return nil, err
	}
	defer session.Close()

	frame, err := session.WaitFrame(ctx, 100*time.Millisecond)
	if err != nil {
		return nil, err
	}

	return s.Scan(ctx, &ScanRequest{
		SessionID: session.ID(),
		Frame:     frame,
		Mode:      mode,
		Progress:  progress,
	})
}

func emptyResultGuidance(mode capture.ScanMode) string {
	if mode == capture.ModeSetCode {
		return "No set code detected, make sure the code (e.g. LOB-EN001) is visible in the frame"
	}
	return "No text detected, capture a clearer photo of the card name"
}
