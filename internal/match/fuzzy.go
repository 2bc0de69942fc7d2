/**
 * Fuzzy matching over the card-name corpus
 *
 * OCR-sourced names are too unreliable for exact lookup, so candidates are
 * ranked by string similarity. The similarity metric is an external black
 * box (adrg/strutil); this package owns the indexing, windowing and ranking
 * policy around it.
 */

package match

import (
	"sort"
	"strings"

	"github.com/adrg/strutil"
	"github.com/adrg/strutil/metrics"
)

// Config tunes the index. Threshold is a distance in [0,1] where 0 accepts
// only exact matches and 1 accepts anything; a candidate is kept when its
// distance d satisfies d <= Threshold. Distance bounds how far into a long
// corpus entry a location-agnostic match may start.
type Config struct {
	Threshold      float64
	Distance       int
	MinMatchLength int
	IgnoreLocation bool
}

// DefaultConfig mirrors the tuning the scanner ships with.
func DefaultConfig() Config {
	return Config{
		Threshold:      0.4,
		Distance:       100,
		MinMatchLength: 3,
		IgnoreLocation: true,
	}
}

// Match is one ranked candidate. Score is a similarity (1 - d); higher is
// better.
type Match struct {
	Name  string
	Score float64
}

// Index ranks corpus entries against a query. Safe for concurrent searches
// once built.
type Index struct {
	corpus []string
	lower  []string
	cfg    Config
	metric *metrics.JaroWinkler
}

// NewIndex builds an index over corpus. The corpus slice is copied.
func NewIndex(corpus []string, cfg Config) *Index {
	if cfg.Threshold <= 0 {
		cfg = DefaultConfig()
	}

	names := make([]string, len(corpus))
	lower := make([]string, len(corpus))
	copy(names, corpus)
	for i, n := range names {
		lower[i] = strings.ToLower(n)
	}

	return &Index{
		corpus: names,
		lower:  lower,
		cfg:    cfg,
		metric: metrics.NewJaroWinkler(),
	}
}

// Size returns the number of corpus entries.
func (ix *Index) Size() int { return len(ix.corpus) }

// Search ranks the corpus against query and returns up to limit matches
// whose distance is within the threshold, best first. Queries shorter than
// the minimum match length return nothing. An empty result is a normal
// outcome, not an error.
func (ix *Index) Search(query string, limit int) []Match {
	query = strings.TrimSpace(query)
	if len(query) < ix.cfg.MinMatchLength {
		return nil
	}
	q := strings.ToLower(query)

	matches := make([]Match, 0, limit)
	for i, cand := range ix.lower {
		score := ix.score(q, cand)
		if 1-score > ix.cfg.Threshold {
			continue
		}
		matches = append(matches, Match{Name: ix.corpus[i], Score: score})
	}

	sort.SliceStable(matches, func(a, b int) bool {
		if matches[a].Score != matches[b].Score {
			return matches[a].Score > matches[b].Score
		}
		return len(matches[a].Name) < len(matches[b].Name)
	})

	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	return matches
}

// score computes the similarity of query against a candidate. With
// IgnoreLocation set, the query is also slid across windows of the
// candidate (OCR text is often a fragment offset inside the true string);
// windowed hits carry a small penalty proportional to how much of the
// candidate the query fails to cover, so a full-string match of the same
// quality always outranks a fragment match. Offsets, window sizes and
// coverage are measured in runes so multibyte names are never cut mid-rune.
func (ix *Index) score(query, candidate string) float64 {
	best := strutil.Similarity(query, candidate, ix.metric)

	if !ix.cfg.IgnoreLocation {
		return best
	}

	qr := []rune(query)
	cr := []rune(candidate)
	if len(cr) <= len(qr) {
		return best
	}

	maxOffset := len(cr) - len(qr)
	if maxOffset > ix.cfg.Distance {
		maxOffset = ix.cfg.Distance
	}

	coverage := float64(len(qr)) / float64(len(cr))
	penalty := 0.05 * (1 - coverage)

	for off := 0; off <= maxOffset; off++ {
		window := string(cr[off : off+len(qr)])
		if s := strutil.Similarity(query, window, ix.metric) - penalty; s > best {
			best = s
		}
	}
	return best
}
