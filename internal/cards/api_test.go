package cards

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestPriceForPrintTag(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/price_for_print_tag/LOB-EN001" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write([]byte(`{"status":"success","data":{"name":"Dark Magician","set_name":"Legend of Blue Eyes White Dragon","set_rarity":"Ultra Rare","set_price":"42.50"}}`))
	}))
	defer server.Close()

	c := newTestClient(t, server.URL, 20)

	tag, err := c.PriceForPrintTag(context.Background(), "LOB-EN001")
	if err != nil {
		t.Fatalf("PriceForPrintTag failed: %v", err)
	}
	if tag == nil {
		t.Fatal("expected a print tag, got nil")
	}
	if tag.Name != "Dark Magician" {
		t.Errorf("Name = %q, want \"Dark Magician\"", tag.Name)
	}
	if tag.SetRarity != "Ultra Rare" {
		t.Errorf("SetRarity = %q, want \"Ultra Rare\"", tag.SetRarity)
	}
	if tag.SetPrice != "42.50" {
		t.Errorf("SetPrice = %q, want \"42.50\"", tag.SetPrice)
	}
}

// TestPriceForPrintTagMiss covers the two miss shapes the primary provider
// uses: an explicit non-success status and a bare 400.
func TestPriceForPrintTagMiss(t *testing.T) {
	testCases := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{
			name: "FailStatus",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(`{"status":"fail","data":null}`))
			},
		},
		{
			name: "BadRequest",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusBadRequest)
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			server := httptest.NewServer(tc.handler)
			defer server.Close()

			c := newTestClient(t, server.URL, 20)

			tag, err := c.PriceForPrintTag(context.Background(), "XXX-00000")
			if err != nil {
				t.Fatalf("PriceForPrintTag failed: %v", err)
			}
			if tag != nil {
				t.Errorf("tag = %+v, want nil for a provider miss", tag)
			}
		})
	}
}

func TestSetInfo(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/cardsetsinfo.php" || r.URL.Query().Get("setcode") != "LOB-001" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Write([]byte(`{"name":"Dark Magician","set_name":"Legend of Blue Eyes White Dragon","set_code":"LOB-001","set_rarity":"Ultra Rare","set_price":"38.00"}`))
	}))
	defer server.Close()

	c := newTestClient(t, server.URL, 20)
	ctx := context.Background()

	set, err := c.SetInfo(ctx, "LOB-001")
	if err != nil {
		t.Fatalf("SetInfo failed: %v", err)
	}
	if set == nil || set.Name != "Dark Magician" || set.SetCode != "LOB-001" {
		t.Errorf("set = %+v, want Dark Magician / LOB-001", set)
	}

	// Unknown code answers 400, which is a miss rather than an error.
	missing, err := c.SetInfo(ctx, "NOPE-999")
	if err != nil {
		t.Fatalf("SetInfo for unknown code failed: %v", err)
	}
	if missing != nil {
		t.Errorf("set = %+v, want nil for an unknown code", missing)
	}
}

func TestSearchByNameSkipsShortQueries(t *testing.T) {
	var hits int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&hits, 1)
		w.Write([]byte(`{"data":[]}`))
	}))
	defer server.Close()

	c := newTestClient(t, server.URL, 20)

	found, err := c.SearchByName(context.Background(), " a ")
	if err != nil {
		t.Fatalf("SearchByName failed: %v", err)
	}
	if found != nil {
		t.Errorf("found = %v, want nil for a too-short name", found)
	}
	if got := atomic.LoadInt64(&hits); got != 0 {
		t.Errorf("provider hits = %d, want 0 (short queries never dispatch)", got)
	}
}

// TestAllCardNamesCached: the bulk corpus is large, so repeated calls inside
// the TTL must cost exactly one dispatch.
func TestAllCardNamesCached(t *testing.T) {
	var hits int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&hits, 1)
		w.Write([]byte(`{"data":[{"id":1,"name":"Dark Magician"},{"id":2,"name":"Blue-Eyes White Dragon"},{"id":3,"name":""}]}`))
	}))
	defer server.Close()

	c := newTestClient(t, server.URL, 20)
	ctx := context.Background()

	names, err := c.AllCardNames(ctx)
	if err != nil {
		t.Fatalf("AllCardNames failed: %v", err)
	}
	if len(names) != 2 {
		t.Errorf("got %d names, want 2 (blank names are dropped)", len(names))
	}

	if _, err := c.AllCardNames(ctx); err != nil {
		t.Fatalf("second AllCardNames failed: %v", err)
	}
	if got := atomic.LoadInt64(&hits); got != 1 {
		t.Errorf("provider hits = %d, want 1 (bulk corpus must be cached)", got)
	}
}

func TestPriceUSDPriority(t *testing.T) {
	testCases := []struct {
		name   string
		prices CardPrice
		want   float64
	}{
		{
			name:   "TCGPlayerWins",
			prices: CardPrice{TCGPlayer: "1.10", CardMarket: "9.99", Ebay: "5.00"},
			want:   1.10,
		},
		{
			name:   "FallsThroughZeroes",
			prices: CardPrice{TCGPlayer: "0.00", CardMarket: "", Ebay: "3.25"},
			want:   3.25,
		},
		{
			name:   "CoolStuffIncLast",
			prices: CardPrice{CoolStuffInc: "0.75"},
			want:   0.75,
		},
		{
			name:   "AllEmpty",
			prices: CardPrice{},
			want:   0,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			card := Card{Name: "x", CardPrices: []CardPrice{tc.prices}}
			if got := PriceUSD(card); got != tc.want {
				t.Errorf("PriceUSD = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestPriceUSDNoPrices(t *testing.T) {
	if got := PriceUSD(Card{Name: "x"}); got != 0 {
		t.Errorf("PriceUSD = %v, want 0 for a card with no price entries", got)
	}
}

func TestMemoryStoreTTL(t *testing.T) {
	now := time.Now()
	store := NewMemoryStore(time.Minute)
	store.now = func() time.Time { return now }

	ctx := context.Background()
	store.Set(ctx, "k", []byte("v"))

	if _, ok := store.Get(ctx, "k"); !ok {
		t.Fatal("fresh entry should be served")
	}

	now = now.Add(time.Minute)
	if _, ok := store.Get(ctx, "k"); ok {
		t.Error("entry at exactly the TTL age should be stale")
	}
}

func TestMemoryStoreClear(t *testing.T) {
	store := NewMemoryStore(time.Minute)
	ctx := context.Background()

	store.Set(ctx, "a", []byte("1"))
	store.Set(ctx, "b", []byte("2"))
	if err := store.Clear(ctx); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	if _, ok := store.Get(ctx, "a"); ok {
		t.Error("entry survived Clear")
	}
}
