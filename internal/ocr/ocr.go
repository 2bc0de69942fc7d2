/**
 * OCR engine contract for the card scan worker
 *
 * The engine is an opaque black box: the pipeline is responsible only for
 * supplying a correctly cropped/preprocessed frame and the right per-mode
 * options. Progress is surfaced as a channel rather than a raw callback so
 * cancellation and backpressure stay explicit in the signature.
 */

package ocr

import (
	"context"
	"image"

	"github.com/tcgvault/cardscan-worker/internal/capture"
)

// Progress reports a recognition milestone in [0,100].
type Progress struct {
	Stage   string
	Percent int
}

// Result holds the raw recognized text plus an engine confidence in [0,100].
// It is never persisted; the normalizer consumes it immediately.
type Result struct {
	Text       string
	Confidence float64
}

// Engine recognizes text in a single frame. Implementations must honor
// context cancellation by releasing the underlying engine handle, and may
// emit best-effort progress events on the supplied channel (which may be
// nil). Blank recognized text is returned as an empty Result, not an error;
// the pipeline maps it to a mode-specific "no text detected" outcome.
type Engine interface {
	Name() string
	Recognize(ctx context.Context, frame *image.RGBA, mode capture.ScanMode, progress chan<- Progress) (Result, error)
}

// Per-mode character whitelists. Name mode accepts the characters that occur
// in printed card names; set-code mode accepts only what a print tag can
// contain.
const (
	NameWhitelist    = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789-' ."
	SetCodeWhitelist = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789-"
)

// WhitelistFor returns the recognition charset for a scan mode.
func WhitelistFor(mode capture.ScanMode) string {
	if mode == capture.ModeSetCode {
		return SetCodeWhitelist
	}
	return NameWhitelist
}

func emit(progress chan<- Progress, stage string, percent int) {
	if progress == nil {
		return
	}
	select {
	case progress <- Progress{Stage: stage, Percent: percent}:
	default:
		// Slow consumers never stall recognition.
	}
}
