package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"unicode"

	"github.com/signaldigest/signaldigest/internal/feedparse"
	"github.com/signaldigest/signaldigest/internal/models"
)

// CongressTradesConnector ingests congressional financial-disclosure
// feeds (stock transactions reported by legislators).
type CongressTradesConnector struct {
	http   *HTTPClient
	logger *slog.Logger
}

// NewCongressTradesConnector creates the congressional-trading connector.
func NewCongressTradesConnector(client *HTTPClient, logger *slog.Logger) *CongressTradesConnector {
	return &CongressTradesConnector{http: client, logger: logger}
}

// SourceType implements Connector.
func (c *CongressTradesConnector) SourceType() models.SourceType {
	return models.SourceTypeCongressTrades
}

type congressConfig struct {
	FeedURL     string   `json:"feed_url"`
	Tickers     []string `json:"tickers"`
	Politicians []string `json:"politicians"`
	Chamber     string   `json:"chamber"` // "house", "senate" or empty for both
	RecentIDCap int      `json:"recent_id_cap"`
}

type congressCursor struct {
	SeenIDs         []string `json:"seen_ids"`
	NewestDisclosed string   `json:"newest_disclosed,omitempty"`
}

// congressTrade mirrors one disclosure record from the upstream feed.
type congressTrade struct {
	LegislatorID    string `json:"legislator_id"`
	Politician      string `json:"politician"`
	District        string `json:"district"`
	Ticker          string `json:"ticker"`
	AssetName       string `json:"asset_name"`
	TransactionType string `json:"transaction_type"`
	TransactionDate string `json:"transaction_date"`
	DisclosureDate  string `json:"disclosure_date"`
	Amount          string `json:"amount"`
	Link            string `json:"link"`
}

// AmountRange is the {min,max} dollar bounds of a disclosed range bucket.
type AmountRange struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// amountRanges maps the fixed disclosure buckets to numeric bounds.
// Disclosures report ranges, never exact amounts.
var amountRanges = map[string]AmountRange{
	"$1,001 - $15,000":          {Min: 1001, Max: 15000},
	"$15,001 - $50,000":         {Min: 15001, Max: 50000},
	"$50,001 - $100,000":        {Min: 50001, Max: 100000},
	"$100,001 - $250,000":       {Min: 100001, Max: 250000},
	"$250,001 - $500,000":       {Min: 250001, Max: 500000},
	"$500,001 - $1,000,000":     {Min: 500001, Max: 1000000},
	"$1,000,001 - $5,000,000":   {Min: 1000001, Max: 5000000},
	"$5,000,001 - $25,000,000":  {Min: 5000001, Max: 25000000},
	"$25,000,001 - $50,000,000": {Min: 25000001, Max: 50000000},
	"$50,000,000+":              {Min: 50000000, Max: 50000000},
}

// ParseAmountRange maps a disclosed range string to numeric bounds.
// Unmapped ranges yield {0,0} rather than an error; formatting drift in
// the upstream feed must not fail a run. Dashes and spacing are
// normalized before lookup.
func ParseAmountRange(amount string) AmountRange {
	normalized := strings.ReplaceAll(amount, "–", "-") // en dash
	normalized = strings.ReplaceAll(normalized, "—", "-") // em dash
	normalized = strings.ReplaceAll(normalized, "-", " - ")
	normalized = strings.Join(strings.Fields(normalized), " ")
	// The open-ended top bucket has no separator to canonicalize.
	normalized = strings.TrimSuffix(normalized, " - ")
	if strings.HasSuffix(normalized, " +") {
		normalized = strings.TrimSuffix(normalized, " +") + "+"
	}
	if r, ok := amountRanges[normalized]; ok {
		return r
	}
	return AmountRange{}
}

// ChamberFromDistrict infers the chamber from a district code: house
// districts carry a numeric suffix (e.g. "TX07"), senate seats do not.
func ChamberFromDistrict(district string) string {
	district = strings.TrimSpace(district)
	if district == "" {
		return "senate"
	}
	last := rune(district[len(district)-1])
	if unicode.IsDigit(last) {
		return "house"
	}
	return "senate"
}

// tradeExternalID builds the composite dedup key for one disclosure.
func tradeExternalID(t congressTrade) string {
	legislator := t.LegislatorID
	if legislator == "" {
		legislator = strings.ToLower(strings.ReplaceAll(t.Politician, " ", "-"))
	}
	return strings.ToLower(fmt.Sprintf("%s|%s|%s|%s",
		legislator, t.Ticker, t.TransactionDate, t.TransactionType))
}

// Fetch implements Connector.
func (c *CongressTradesConnector) Fetch(ctx context.Context, params models.FetchParams) (*models.FetchResult, error) {
	var cfg congressConfig
	decodeDocument(params.Config, &cfg)
	if strings.TrimSpace(cfg.FeedURL) == "" {
		return nil, NewConfigError(string(models.SourceTypeCongressTrades), "feed_url", "is required")
	}

	var cursor congressCursor
	decodeDocument(params.Cursor, &cursor)
	window := NewRecentIDWindow(cfg.RecentIDCap, cursor.SeenIDs)

	var trades []congressTrade
	if err := c.http.GetJSON(ctx, cfg.FeedURL, nil, &trades); err != nil {
		return nil, fmt.Errorf("fetch disclosures: %w", err)
	}

	newest := cursor.NewestDisclosed
	items := make([]json.RawMessage, 0, len(trades))
	skippedSeen, skippedFiltered := 0, 0

	for _, trade := range trades {
		externalID := tradeExternalID(trade)
		if window.Contains(externalID) {
			skippedSeen++
			continue
		}
		if !c.matchesFilters(cfg, trade) {
			skippedFiltered++
			continue
		}
		if params.Limits.MaxItems > 0 && len(items) >= params.Limits.MaxItems {
			break
		}

		raw, err := marshalRaw(trade)
		if err != nil {
			continue
		}
		items = append(items, raw)
		window.Add(externalID)
		if disclosed := feedparse.ParseDate(trade.DisclosureDate); disclosed != nil {
			newest = AdvanceWatermark(newest, *disclosed)
		}
	}

	return &models.FetchResult{
		RawItems: items,
		NextCursor: encodeDocument(congressCursor{
			SeenIDs:         window.IDs(),
			NewestDisclosed: newest,
		}),
		Meta: models.Document{
			"disclosures":      len(trades),
			"skipped_seen":     skippedSeen,
			"skipped_filtered": skippedFiltered,
		},
	}, nil
}

func (c *CongressTradesConnector) matchesFilters(cfg congressConfig, trade congressTrade) bool {
	if cfg.Chamber != "" && !strings.EqualFold(cfg.Chamber, ChamberFromDistrict(trade.District)) {
		return false
	}
	if len(cfg.Tickers) > 0 && !containsFold(cfg.Tickers, trade.Ticker) {
		return false
	}
	if len(cfg.Politicians) > 0 {
		matched := false
		for _, p := range cfg.Politicians {
			if strings.EqualFold(strings.TrimSpace(p), strings.TrimSpace(trade.Politician)) ||
				strings.EqualFold(strings.TrimSpace(p), strings.TrimSpace(trade.LegislatorID)) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	return true
}

// Normalize implements Connector.
func (c *CongressTradesConnector) Normalize(raw json.RawMessage, params models.FetchParams) (*models.ContentItemDraft, error) {
	var trade congressTrade
	if err := json.Unmarshal(raw, &trade); err != nil {
		return nil, fmt.Errorf("decode disclosure: %w", err)
	}

	amount := ParseAmountRange(trade.Amount)
	chamber := ChamberFromDistrict(trade.District)

	title := fmt.Sprintf("%s %s %s (%s)",
		trade.Politician, strings.ToLower(trade.TransactionType), trade.Ticker, trade.Amount)

	body := fmt.Sprintf("%s (%s, %s) reported a %s of %s", trade.Politician,
		chamber, trade.District, strings.ToLower(trade.TransactionType), trade.Ticker)
	if trade.AssetName != "" {
		body += " (" + trade.AssetName + ")"
	}
	body += fmt.Sprintf(", amount %s, transacted %s, disclosed %s.",
		trade.Amount, trade.TransactionDate, trade.DisclosureDate)

	draft := &models.ContentItemDraft{
		Title:        title,
		BodyText:     body,
		CanonicalURL: trade.Link,
		SourceType:   models.SourceTypeCongressTrades,
		ExternalID:   tradeExternalID(trade),
		PublishedAt:  feedparse.ParseDate(trade.DisclosureDate),
		Author:       trade.Politician,
		Metadata: map[string]any{
			"ticker":           trade.Ticker,
			"transaction_type": trade.TransactionType,
			"transaction_date": trade.TransactionDate,
			"chamber":          chamber,
			"district":         trade.District,
			"amount_min":       amount.Min,
			"amount_max":       amount.Max,
		},
	}
	draft.SetRawDebug(raw)
	return draft, nil
}

func containsFold(haystack []string, needle string) bool {
	for _, h := range haystack {
		if strings.EqualFold(strings.TrimSpace(h), strings.TrimSpace(needle)) {
			return true
		}
	}
	return false
}
