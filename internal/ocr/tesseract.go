package ocr

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"strings"
	"sync"

	"github.com/otiai10/gosseract/v2"

	"github.com/tcgvault/cardscan-worker/internal/capture"
)

// tessClient is the slice of the gosseract client the engine uses, factored
// out so recognition can be exercised without the native library.
type tessClient interface {
	SetImageFromBytes(data []byte) error
	SetLanguage(languages ...string) error
	SetPageSegMode(mode gosseract.PageSegMode) error
	SetWhitelist(whitelist string) error
	SetTessdataPrefix(prefix string) error
	Text() (string, error)
	GetBoundingBoxes(level gosseract.PageIteratorLevel) ([]gosseract.BoundingBox, error)
	Close() error
}

// TesseractEngine implements Engine using the gosseract client. Both scan
// modes use single-line page segmentation: the ROI is a band expected to
// hold exactly one line of text.
type TesseractEngine struct {
	languages      []string
	tessdataPrefix string
	clientFactory  func() tessClient
}

// NewTesseractEngine constructs a Tesseract-backed OCR engine. An empty
// tessdataPrefix uses the system tessdata directory.
func NewTesseractEngine(languages []string, tessdataPrefix string) *TesseractEngine {
	if len(languages) == 0 {
		languages = []string{"eng"}
	}
	return &TesseractEngine{
		languages:      languages,
		tessdataPrefix: tessdataPrefix,
		clientFactory:  func() tessClient { return gosseract.NewClient() },
	}
}

func (e *TesseractEngine) Name() string { return "tesseract" }

// Recognize performs OCR on a single frame. Cancelling the context closes
// the client, which releases the native engine handle mid-recognition.
func (e *TesseractEngine) Recognize(ctx context.Context, frame *image.RGBA, mode capture.ScanMode, progress chan<- Progress) (Result, error) {
	if frame == nil || frame.Bounds().Dx() == 0 || frame.Bounds().Dy() == 0 {
		return Result{}, fmt.Errorf("cannot recognize empty frame")
	}

	emit(progress, "preparing image", 5)

	var buf bytes.Buffer
	if err := png.Encode(&buf, frame); err != nil {
		return Result{}, fmt.Errorf("encode frame: %w", err)
	}

	client := e.clientFactory()

	// gosseract's Close frees the native TessBaseAPI and is not idempotent,
	// so the cancellation branch and the normal return funnel through one
	// guard that releases the handle exactly once.
	var closeOnce sync.Once
	closeClient := func() {
		closeOnce.Do(func() { client.Close() })
	}
	defer closeClient()

	if e.tessdataPrefix != "" {
		if err := client.SetTessdataPrefix(e.tessdataPrefix); err != nil {
			return Result{}, fmt.Errorf("set tessdata prefix: %w", err)
		}
	}

	if err := client.SetImageFromBytes(buf.Bytes()); err != nil {
		return Result{}, fmt.Errorf("set image: %w", err)
	}
	if err := client.SetLanguage(e.languages...); err != nil {
		return Result{}, fmt.Errorf("set languages: %w", err)
	}

	emit(progress, "configuring engine", 20)

	if err := client.SetPageSegMode(gosseract.PSM_SINGLE_LINE); err != nil {
		return Result{}, fmt.Errorf("set page segmentation mode: %w", err)
	}
	if err := client.SetWhitelist(WhitelistFor(mode)); err != nil {
		return Result{}, fmt.Errorf("set whitelist: %w", err)
	}

	emit(progress, "recognizing text", 40)

	type textResult struct {
		text string
		err  error
	}
	done := make(chan textResult, 1)
	go func() {
		text, err := client.Text()
		done <- textResult{text: text, err: err}
	}()

	select {
	case <-ctx.Done():
		// Closing the client tears down the native handle; the Text
		// goroutine returns an error which is discarded.
		closeClient()
		return Result{}, ctx.Err()
	case res := <-done:
		if res.err != nil {
			return Result{}, fmt.Errorf("tesseract recognition failed: %w", res.err)
		}

		emit(progress, "done", 100)

		return Result{
			Text:       strings.TrimSpace(res.text),
			Confidence: meanWordConfidence(client),
		}, nil
	}
}

// meanWordConfidence averages Tesseract's per-word confidences (0-100).
// Zero when the engine found no words at all.
func meanWordConfidence(client tessClient) float64 {
	boxes, err := client.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil || len(boxes) == 0 {
		return 0
	}
	var sum float64
	for _, b := range boxes {
		sum += b.Confidence
	}
	return sum / float64(len(boxes))
}
