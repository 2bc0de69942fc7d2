/**
 * Resolution strategies for normalized scan candidates
 *
 * Set-code path: exact lookup on the primary price provider, falling back
 * to the secondary card database; first hit wins, no retries beyond the
 * two-provider chain.
 *
 * Name path: fuzzy ranking against the full card-name corpus. The top
 * matches are returned for the caller to disambiguate; OCR-sourced names
 * are too unreliable for single-best auto-selection.
 */

package resolve

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/tcgvault/cardscan-worker/internal/cards"
	"github.com/tcgvault/cardscan-worker/internal/errors"
	"github.com/tcgvault/cardscan-worker/internal/logging"
	"github.com/tcgvault/cardscan-worker/internal/match"
)

// MaxNameMatches bounds the ranked list shown for disambiguation.
const MaxNameMatches = 5

// CardMatch is the terminal artifact of a scan.
type CardMatch struct {
	Name string

	// Name-search path: similarity in (0,1], higher is better.
	Score float64

	// Set-code path.
	SetCode string
	SetName string
	Rarity  string
	Price   float64

	// RequestedCode records the code the user scanned when the fallback
	// provider answered for a different printing of it, so the caller can
	// show a warning.
	RequestedCode string
	UsedFallback  bool
}

// Resolver turns normalized candidates into card matches. The fuzzy index
// over the bulk corpus is built lazily and reused until it goes stale.
type Resolver struct {
	client   *cards.Client
	matchCfg match.Config
	indexTTL time.Duration
	log      *logging.Logger

	mu         sync.Mutex
	index      *match.Index
	indexBuilt time.Time
}

// NewResolver creates a resolver on top of the provider client.
func NewResolver(client *cards.Client) *Resolver {
	return &Resolver{
		client:   client,
		matchCfg: match.DefaultConfig(),
		indexTTL: cards.DefaultCacheTTL,
		log:      logging.NewLogger("Resolver"),
	}
}

// ResolveSetCode resolves an exact set code through the two-provider chain.
// A provider timeout or error counts as a miss for fallback purposes; only
// after both providers miss does the caller get NOT_FOUND.
func (r *Resolver) ResolveSetCode(ctx context.Context, code string) (*CardMatch, error) {
	tag, err := r.client.PriceForPrintTag(ctx, code)
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		r.log.Warn("Primary provider lookup failed, trying fallback", "set_code", code, "error", err)
	}
	if tag != nil {
		r.log.Info("Set code resolved by primary provider", "set_code", code, "card", tag.Name)
		return &CardMatch{
			Name:          tag.Name,
			SetCode:       code,
			SetName:       tag.SetName,
			Rarity:        tag.SetRarity,
			Price:         parsePrice(tag.SetPrice),
			RequestedCode: code,
		}, nil
	}

	set, err := r.client.SetInfo(ctx, code)
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		r.log.Warn("Fallback provider lookup failed", "set_code", code, "error", err)
	}
	if set != nil {
		matched := set.SetCode
		if matched == "" {
			matched = code
		}
		r.log.Info("Set code resolved by fallback provider",
			"requested_code", code, "matched_code", matched, "card", set.Name)
		return &CardMatch{
			Name:          set.Name,
			SetCode:       matched,
			SetName:       set.SetName,
			Rarity:        set.SetRarity,
			Price:         parsePrice(set.SetPrice),
			RequestedCode: code,
			UsedFallback:  true,
		}, nil
	}

	return nil, errors.NewNotFoundError(code)
}

// ResolveName ranks the candidate name against the corpus and returns up to
// MaxNameMatches choices, best first. An empty list is a normal terminal
// state meaning "ask the user to retry with clearer input".
func (r *Resolver) ResolveName(ctx context.Context, candidate string) ([]CardMatch, error) {
	index, err := r.corpusIndex(ctx)
	if err != nil {
		return nil, err
	}

	ranked := index.Search(candidate, MaxNameMatches)
	matches := make([]CardMatch, 0, len(ranked))
	for _, m := range ranked {
		matches = append(matches, CardMatch{Name: m.Name, Score: m.Score})
	}

	r.log.Info("Name candidate ranked against corpus",
		"candidate", candidate, "corpus_size", index.Size(), "matches", len(matches))
	return matches, nil
}

// EnrichMatch fills set and price data for a user-selected name match using
// the provider's own name search. Best effort; the match is returned
// unchanged when the provider has nothing.
func (r *Resolver) EnrichMatch(ctx context.Context, m CardMatch) CardMatch {
	found, err := r.client.SearchByName(ctx, m.Name)
	if err != nil || len(found) == 0 {
		return m
	}
	for _, card := range found {
		if card.Name == m.Name {
			m.Price = cards.PriceUSD(card)
			break
		}
	}
	return m
}

// corpusIndex returns the fuzzy index, rebuilding it when absent or stale.
// The corpus fetch itself is served from the client cache within the TTL,
// so a rebuild after restart costs at most one bulk request.
func (r *Resolver) corpusIndex(ctx context.Context) (*match.Index, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.index != nil && time.Since(r.indexBuilt) < r.indexTTL {
		return r.index, nil
	}

	names, err := r.client.AllCardNames(ctx)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	r.index = match.NewIndex(names, r.matchCfg)
	r.indexBuilt = time.Now()
	r.log.Info("Fuzzy index built", "corpus_size", len(names), "duration", time.Since(start))

	return r.index, nil
}

func parsePrice(s string) float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}
