package ingestion

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/signaldigest/signaldigest/internal/models"
)

func TestParseAmountRange(t *testing.T) {
	tests := []struct {
		name   string
		amount string
		want   AmountRange
	}{
		{"lowest bucket", "$1,001 - $15,000", AmountRange{Min: 1001, Max: 15000}},
		{"middle bucket", "$100,001 - $250,000", AmountRange{Min: 100001, Max: 250000}},
		{"top bucket", "$50,000,000+", AmountRange{Min: 50000000, Max: 50000000}},
		{"no spaces around dash", "$15,001-$50,000", AmountRange{Min: 15001, Max: 50000}},
		{"en dash", "$50,001 – $100,000", AmountRange{Min: 50001, Max: 100000}},
		{"em dash", "$250,001 — $500,000", AmountRange{Min: 250001, Max: 500000}},
		{"extra whitespace", "  $1,001   -   $15,000  ", AmountRange{Min: 1001, Max: 15000}},
		{"spaced plus", "$50,000,000 +", AmountRange{Min: 50000000, Max: 50000000}},
		{"unknown bucket", "$2,000 - $3,000", AmountRange{}},
		{"free text", "an unspecified amount", AmountRange{}},
		{"empty", "", AmountRange{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ParseAmountRange(tt.amount); got != tt.want {
				t.Errorf("ParseAmountRange(%q) = %+v, want %+v", tt.amount, got, tt.want)
			}
		})
	}
}

func TestChamberFromDistrict(t *testing.T) {
	tests := []struct {
		district string
		want     string
	}{
		{"TX07", "house"},
		{"CA12", "house"},
		{"NY1", "house"},
		{"TX", "senate"},
		{"CA", "senate"},
		{"", "senate"},
		{" WY ", "senate"},
	}
	for _, tt := range tests {
		if got := ChamberFromDistrict(tt.district); got != tt.want {
			t.Errorf("ChamberFromDistrict(%q) = %q, want %q", tt.district, got, tt.want)
		}
	}
}

func TestTradeExternalID(t *testing.T) {
	trade := congressTrade{
		LegislatorID:    "P000197",
		Ticker:          "NVDA",
		TransactionDate: "2024-04-15",
		TransactionType: "Purchase",
	}
	got := tradeExternalID(trade)
	want := "p000197|nvda|2024-04-15|purchase"
	if got != want {
		t.Errorf("tradeExternalID() = %q, want %q", got, want)
	}

	// Missing legislator ID falls back to a slug of the name.
	trade.LegislatorID = ""
	trade.Politician = "Jane Doe"
	if got := tradeExternalID(trade); got != "jane-doe|nvda|2024-04-15|purchase" {
		t.Errorf("tradeExternalID() fallback = %q", got)
	}
}

func congressFixture() []congressTrade {
	return []congressTrade{
		{
			LegislatorID:    "P000197",
			Politician:      "Jane Doe",
			District:        "CA11",
			Ticker:          "NVDA",
			AssetName:       "NVIDIA Corp",
			TransactionType: "Purchase",
			TransactionDate: "2024-04-15",
			DisclosureDate:  "2024-05-01",
			Amount:          "$15,001 - $50,000",
			Link:            "https://example.gov/disclosure/1",
		},
		{
			LegislatorID:    "S000033",
			Politician:      "John Roe",
			District:        "VT",
			Ticker:          "XOM",
			TransactionType: "Sale",
			TransactionDate: "2024-04-20",
			DisclosureDate:  "2024-05-03",
			Amount:          "$1,001 - $15,000",
		},
	}
}

func serveCongress(t *testing.T, trades []congressTrade) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(trades)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestCongressFetchFiltersByChamber(t *testing.T) {
	srv := serveCongress(t, congressFixture())
	c := NewCongressTradesConnector(testHTTPClient(t), slog.New(slog.NewTextHandler(io.Discard, nil)))

	result, err := c.Fetch(context.Background(), models.FetchParams{
		SourceType: models.SourceTypeCongressTrades,
		Config:     models.Document{"feed_url": srv.URL, "chamber": "senate"},
	})
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if len(result.RawItems) != 1 {
		t.Fatalf("got %d items, want 1", len(result.RawItems))
	}

	var trade congressTrade
	if err := json.Unmarshal(result.RawItems[0], &trade); err != nil {
		t.Fatal(err)
	}
	if trade.Ticker != "XOM" {
		t.Errorf("kept ticker = %q, want the senate trade", trade.Ticker)
	}
}

func TestCongressFetchFiltersByTicker(t *testing.T) {
	srv := serveCongress(t, congressFixture())
	c := NewCongressTradesConnector(testHTTPClient(t), slog.New(slog.NewTextHandler(io.Discard, nil)))

	result, err := c.Fetch(context.Background(), models.FetchParams{
		SourceType: models.SourceTypeCongressTrades,
		Config:     models.Document{"feed_url": srv.URL, "tickers": []any{"nvda"}},
	})
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if len(result.RawItems) != 1 {
		t.Fatalf("got %d items, want 1", len(result.RawItems))
	}
}

func TestCongressFetchAdvancesWatermarkAndDedupes(t *testing.T) {
	srv := serveCongress(t, congressFixture())
	c := NewCongressTradesConnector(testHTTPClient(t), slog.New(slog.NewTextHandler(io.Discard, nil)))

	params := models.FetchParams{
		SourceType: models.SourceTypeCongressTrades,
		Config:     models.Document{"feed_url": srv.URL},
	}
	first, err := c.Fetch(context.Background(), params)
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if len(first.RawItems) != 2 {
		t.Fatalf("got %d items, want 2", len(first.RawItems))
	}

	var cursor congressCursor
	decodeDocument(first.NextCursor, &cursor)
	if cursor.NewestDisclosed != "2024-05-03T00:00:00Z" {
		t.Errorf("newest_disclosed = %q", cursor.NewestDisclosed)
	}

	params.Cursor = first.NextCursor
	second, err := c.Fetch(context.Background(), params)
	if err != nil {
		t.Fatalf("second Fetch() error = %v", err)
	}
	if len(second.RawItems) != 0 {
		t.Errorf("second run emitted %d items, want 0", len(second.RawItems))
	}
}

func TestCongressNormalize(t *testing.T) {
	c := NewCongressTradesConnector(testHTTPClient(t), slog.New(slog.NewTextHandler(io.Discard, nil)))
	raw, _ := json.Marshal(congressFixture()[0])

	draft, err := c.Normalize(raw, models.FetchParams{SourceType: models.SourceTypeCongressTrades})
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}

	if draft.SourceType != models.SourceTypeCongressTrades {
		t.Errorf("source type = %q", draft.SourceType)
	}
	if draft.ExternalID != "p000197|nvda|2024-04-15|purchase" {
		t.Errorf("external id = %q", draft.ExternalID)
	}
	if draft.Author != "Jane Doe" {
		t.Errorf("author = %q", draft.Author)
	}
	if draft.Metadata["chamber"] != "house" {
		t.Errorf("chamber = %v", draft.Metadata["chamber"])
	}
	if draft.Metadata["amount_min"] != float64(15001) || draft.Metadata["amount_max"] != float64(50000) {
		t.Errorf("amount bounds = %v..%v", draft.Metadata["amount_min"], draft.Metadata["amount_max"])
	}
	if draft.PublishedAt == nil {
		t.Error("published at = nil, want disclosure date")
	}
}

func TestCongressNormalizeUnknownAmount(t *testing.T) {
	c := NewCongressTradesConnector(testHTTPClient(t), slog.New(slog.NewTextHandler(io.Discard, nil)))
	trade := congressFixture()[0]
	trade.Amount = "between some and more"
	raw, _ := json.Marshal(trade)

	draft, err := c.Normalize(raw, models.FetchParams{SourceType: models.SourceTypeCongressTrades})
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	// Unmapped range buckets degrade to zero bounds, never an error.
	if draft.Metadata["amount_min"] != float64(0) || draft.Metadata["amount_max"] != float64(0) {
		t.Errorf("amount bounds = %v..%v, want 0..0", draft.Metadata["amount_min"], draft.Metadata["amount_max"])
	}
}
