/**
 * Text normalization between noisy OCR output and the resolution strategies
 *
 * Pure string processing, no I/O. This is the boundary that decides whether
 * a scan proceeds to a provider lookup or asks the user to re-scan.
 */

package normalize

import (
	"strings"
	"unicode"

	"github.com/tcgvault/cardscan-worker/internal/errors"
)

const (
	// MinNameLength is the shortest card name worth a corpus search.
	MinNameLength = 3
	// MaxNameLength truncates runaway OCR output to a plausible name size.
	MaxNameLength = 50
	// MinSetCodeLength covers the shortest valid print tags (e.g. "SDK-1").
	MinSetCodeLength = 5
)

// Name cleans raw OCR output into a candidate card name. It keeps only
// alphanumerics, spaces, hyphens and apostrophes, collapses whitespace,
// drops noise tokens (isolated single letters and letterless fragments),
// keeps only the first line, and truncates to MaxNameLength. A result
// shorter than MinNameLength is a TOO_SHORT error.
func Name(raw string) (string, error) {
	// First line only; the card name is the top text band, anything after a
	// line break is flavor text or artifacts from below the band.
	if idx := strings.IndexByte(raw, '\n'); idx >= 0 {
		raw = raw[:idx]
	}

	var b strings.Builder
	for _, r := range raw {
		if isNameRune(r) {
			b.WriteRune(r)
		} else {
			b.WriteByte(' ')
		}
	}

	tokens := strings.Fields(b.String())
	kept := tokens[:0]
	for _, tok := range tokens {
		if isNoiseToken(tok) {
			continue
		}
		kept = append(kept, tok)
	}

	cleaned := strings.Join(kept, " ")
	if len(cleaned) > MaxNameLength {
		cleaned = strings.TrimSpace(cleaned[:MaxNameLength])
	}

	if len(cleaned) < MinNameLength {
		return "", errors.NewTooShortError("card name", len(cleaned), MinNameLength)
	}

	return cleaned, nil
}

// SetCode cleans raw OCR output into a candidate print tag: uppercase, and
// only uppercase letters, digits and hyphens survive. A result shorter than
// MinSetCodeLength is a TOO_SHORT error.
func SetCode(raw string) (string, error) {
	upper := strings.ToUpper(raw)

	var b strings.Builder
	for _, r := range upper {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '-' {
			b.WriteRune(r)
		}
	}

	code := b.String()
	if len(code) < MinSetCodeLength {
		return "", errors.NewTooShortError("set code", len(code), MinSetCodeLength)
	}

	return code, nil
}

func isNameRune(r rune) bool {
	return r == ' ' || r == '-' || r == '\'' ||
		(r >= '0' && r <= '9') ||
		(r >= 'A' && r <= 'Z') ||
		(r >= 'a' && r <= 'z')
}

// isNoiseToken flags fragments OCR commonly invents around a card name:
// isolated single letters, and tokens without any letter at all (stray
// digit runs, lone hyphens and apostrophes).
func isNoiseToken(tok string) bool {
	if len(tok) == 1 && unicode.IsLetter(rune(tok[0])) {
		return true
	}
	for _, r := range tok {
		if unicode.IsLetter(r) {
			return false
		}
	}
	return true
}
