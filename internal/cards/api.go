package cards

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// PrintTag is the primary provider's record for an exact set-code lookup.
type PrintTag struct {
	Name      string `json:"name"`
	SetName   string `json:"set_name"`
	SetRarity string `json:"set_rarity"`
	SetPrice  string `json:"set_price"`
}

type printTagResponse struct {
	Status string    `json:"status"`
	Data   *PrintTag `json:"data"`
}

// CardSet is the secondary provider's record for a set-code lookup.
type CardSet struct {
	Name      string `json:"name"`
	SetName   string `json:"set_name"`
	SetCode   string `json:"set_code"`
	SetRarity string `json:"set_rarity"`
	SetPrice  string `json:"set_price"`
}

// Card is one entry of the secondary provider's card database.
type Card struct {
	ID         int64       `json:"id"`
	Name       string      `json:"name"`
	Type       string      `json:"type"`
	CardPrices []CardPrice `json:"card_prices"`
}

// CardPrice carries marketplace prices as decimal strings.
type CardPrice struct {
	TCGPlayer    string `json:"tcgplayer_price"`
	CardMarket   string `json:"cardmarket_price"`
	Ebay         string `json:"ebay_price"`
	Amazon       string `json:"amazon_price"`
	CoolStuffInc string `json:"coolstuffinc_price"`
}

type cardInfoResponse struct {
	Data []Card `json:"data"`
}

// PriceForPrintTag looks up a set code on the primary price provider.
// A nil result with a nil error means the provider has no data for the code.
func (c *Client) PriceForPrintTag(ctx context.Context, code string) (*PrintTag, error) {
	endpoint := fmt.Sprintf("%s/price_for_print_tag/%s", strings.TrimSuffix(c.cfg.PriceBaseURL, "/"), url.PathEscape(code))

	payload, err := c.Fetch(ctx, endpoint, "price:"+code)
	if err != nil {
		return nil, err
	}
	if payload == nil {
		return nil, nil
	}

	var resp printTagResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse price provider response: %w", err)
	}
	if resp.Status != "success" || resp.Data == nil || resp.Data.Name == "" {
		return nil, nil
	}
	return resp.Data, nil
}

// SetInfo looks up a set code on the secondary card-database provider.
// A nil result with a nil error means the code is unknown there too.
func (c *Client) SetInfo(ctx context.Context, code string) (*CardSet, error) {
	endpoint := fmt.Sprintf("%s/cardsetsinfo.php?setcode=%s", strings.TrimSuffix(c.cfg.CardDBBaseURL, "/"), url.QueryEscape(code))

	payload, err := c.Fetch(ctx, endpoint, "setinfo:"+code)
	if err != nil {
		return nil, err
	}
	if payload == nil {
		return nil, nil
	}

	var set CardSet
	if err := json.Unmarshal(payload, &set); err != nil {
		return nil, fmt.Errorf("failed to parse card set response: %w", err)
	}
	if set.Name == "" {
		return nil, nil
	}
	return &set, nil
}

// SearchByName runs the provider's own fuzzy name search. Used to enrich a
// user-selected match with full card data.
func (c *Client) SearchByName(ctx context.Context, name string) ([]Card, error) {
	name = strings.TrimSpace(name)
	if len(name) < 2 {
		return nil, nil
	}

	endpoint := fmt.Sprintf("%s/cardinfo.php?fname=%s", strings.TrimSuffix(c.cfg.CardDBBaseURL, "/"), url.QueryEscape(name))

	payload, err := c.Fetch(ctx, endpoint, "search:"+strings.ToLower(name))
	if err != nil {
		return nil, err
	}
	if payload == nil {
		return nil, nil
	}

	var resp cardInfoResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse card search response: %w", err)
	}
	return resp.Data, nil
}

// AllCardNames fetches the full corpus of known card names from the bulk
// endpoint. The response is large but cached for the standard TTL, so
// repeated name scans in the same window cost no network dispatch.
func (c *Client) AllCardNames(ctx context.Context) ([]string, error) {
	endpoint := strings.TrimSuffix(c.cfg.CardDBBaseURL, "/") + "/cardinfo.php"

	payload, err := c.Fetch(ctx, endpoint, "cardinfo:all")
	if err != nil {
		return nil, err
	}
	if payload == nil {
		return nil, fmt.Errorf("bulk card endpoint returned no data")
	}

	var resp cardInfoResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse bulk card response: %w", err)
	}

	names := make([]string, 0, len(resp.Data))
	for _, card := range resp.Data {
		if card.Name != "" {
			names = append(names, card.Name)
		}
	}
	return names, nil
}

// PriceUSD extracts a card's market price, preferring marketplaces in order
// TCGPlayer > CardMarket > eBay > Amazon > CoolStuffInc.
func PriceUSD(card Card) float64 {
	if len(card.CardPrices) == 0 {
		return 0
	}

	prices := card.CardPrices[0]
	for _, p := range []string{prices.TCGPlayer, prices.CardMarket, prices.Ebay, prices.Amazon, prices.CoolStuffInc} {
		if p == "" {
			continue
		}
		if v, err := strconv.ParseFloat(p, 64); err == nil && v > 0 {
			return v
		}
	}
	return 0
}
