package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/signaldigest/signaldigest/internal/feedparse"
	"github.com/signaldigest/signaldigest/internal/models"
)

// OptionsFlowConnector ingests unusual-options-activity feeds (sweeps,
// blocks and splits with premium and moneyness data).
type OptionsFlowConnector struct {
	http   *HTTPClient
	logger *slog.Logger
}

// NewOptionsFlowConnector creates the options-flow connector.
func NewOptionsFlowConnector(client *HTTPClient, logger *slog.Logger) *OptionsFlowConnector {
	return &OptionsFlowConnector{http: client, logger: logger}
}

// SourceType implements Connector.
func (c *OptionsFlowConnector) SourceType() models.SourceType {
	return models.SourceTypeOptionsFlow
}

type optionsFlowConfig struct {
	FeedURL     string   `json:"feed_url"`
	Symbols     []string `json:"symbols"`
	ExcludeETFs bool     `json:"exclude_etfs"`
	FlowTypes   []string `json:"flow_types"`
	MinPremium  float64  `json:"min_premium"`
	RecentIDCap int      `json:"recent_id_cap"`
}

type optionsFlowCursor struct {
	SeenIDs        []string `json:"seen_ids"`
	NewestExecuted string   `json:"newest_executed,omitempty"`
}

// optionsFlowEvent mirrors one flow record from the upstream feed.
type optionsFlowEvent struct {
	ID           string  `json:"id"`
	Ticker       string  `json:"ticker"`
	ContractType string  `json:"contract_type"` // call | put
	Strike       float64 `json:"strike"`
	Spot         float64 `json:"spot"`
	Expiry       string  `json:"expiry"`
	FlowType     string  `json:"flow_type"` // sweep | block | split
	Premium      float64 `json:"premium"`
	Sentiment    string  `json:"sentiment,omitempty"`
	ExecutedAt   string  `json:"executed_at"`
}

// etfTickers is the static set used by the optional ETF exclusion filter.
var etfTickers = map[string]bool{
	"SPY": true, "QQQ": true, "IWM": true, "DIA": true, "VXX": true,
	"UVXY": true, "SQQQ": true, "TQQQ": true, "XLF": true, "XLE": true,
	"XLK": true, "XLV": true, "XLI": true, "XLU": true, "XLP": true,
	"GLD": true, "SLV": true, "TLT": true, "HYG": true, "EEM": true,
	"FXI": true, "ARKK": true, "SMH": true, "KRE": true,
}

// IsETF reports whether ticker belongs to the static ETF set.
func IsETF(ticker string) bool {
	return etfTickers[strings.ToUpper(strings.TrimSpace(ticker))]
}

// ClassifySentiment derives flow sentiment from contract type,
// strike-vs-spot moneyness and flow type. It only runs when the upstream
// payload did not already supply a sentiment.
func ClassifySentiment(e optionsFlowEvent) string {
	contract := strings.ToLower(strings.TrimSpace(e.ContractType))
	flow := strings.ToLower(strings.TrimSpace(e.FlowType))

	switch contract {
	case "call":
		otm := e.Spot > 0 && e.Strike > e.Spot
		if flow == "sweep" {
			// A sweep on an out-of-the-money call defaults to bullish;
			// sweeps on in-the-money calls still lean bullish.
			return "bullish"
		}
		if otm {
			return "bullish"
		}
		return "neutral"
	case "put":
		otm := e.Spot > 0 && e.Strike < e.Spot
		if flow == "sweep" {
			return "bearish"
		}
		if otm {
			return "bearish"
		}
		return "neutral"
	default:
		return "neutral"
	}
}

// flowExternalID prefers the upstream ID and falls back to a content hash
// over the fields that identify one execution.
func flowExternalID(e optionsFlowEvent) string {
	if e.ID != "" {
		return e.ID
	}
	return ContentHash(e.Ticker, e.ContractType,
		strconv.FormatFloat(e.Strike, 'f', -1, 64),
		e.Expiry, e.FlowType, e.ExecutedAt,
		strconv.FormatFloat(e.Premium, 'f', -1, 64))
}

// Fetch implements Connector.
func (c *OptionsFlowConnector) Fetch(ctx context.Context, params models.FetchParams) (*models.FetchResult, error) {
	var cfg optionsFlowConfig
	decodeDocument(params.Config, &cfg)
	if strings.TrimSpace(cfg.FeedURL) == "" {
		return nil, NewConfigError(string(models.SourceTypeOptionsFlow), "feed_url", "is required")
	}

	var cursor optionsFlowCursor
	decodeDocument(params.Cursor, &cursor)
	window := NewRecentIDWindow(cfg.RecentIDCap, cursor.SeenIDs)

	var events []optionsFlowEvent
	if err := c.http.GetJSON(ctx, cfg.FeedURL, nil, &events); err != nil {
		return nil, fmt.Errorf("fetch options flow: %w", err)
	}

	newest := cursor.NewestExecuted
	items := make([]json.RawMessage, 0, len(events))
	skippedSeen, skippedFiltered := 0, 0

	for _, event := range events {
		externalID := flowExternalID(event)
		if window.Contains(externalID) {
			skippedSeen++
			continue
		}
		if !c.matchesFilters(cfg, event) {
			skippedFiltered++
			continue
		}
		if params.Limits.MaxItems > 0 && len(items) >= params.Limits.MaxItems {
			break
		}

		raw, err := marshalRaw(event)
		if err != nil {
			continue
		}
		items = append(items, raw)
		window.Add(externalID)
		if executed := feedparse.ParseDate(event.ExecutedAt); executed != nil {
			newest = AdvanceWatermark(newest, *executed)
		}
	}

	return &models.FetchResult{
		RawItems: items,
		NextCursor: encodeDocument(optionsFlowCursor{
			SeenIDs:        window.IDs(),
			NewestExecuted: newest,
		}),
		Meta: models.Document{
			"events":           len(events),
			"skipped_seen":     skippedSeen,
			"skipped_filtered": skippedFiltered,
		},
	}, nil
}

func (c *OptionsFlowConnector) matchesFilters(cfg optionsFlowConfig, e optionsFlowEvent) bool {
	if cfg.ExcludeETFs && IsETF(e.Ticker) {
		return false
	}
	if len(cfg.Symbols) > 0 && !containsFold(cfg.Symbols, e.Ticker) {
		return false
	}
	if len(cfg.FlowTypes) > 0 && !containsFold(cfg.FlowTypes, e.FlowType) {
		return false
	}
	if cfg.MinPremium > 0 && e.Premium < cfg.MinPremium {
		return false
	}
	return true
}

// Normalize implements Connector.
func (c *OptionsFlowConnector) Normalize(raw json.RawMessage, params models.FetchParams) (*models.ContentItemDraft, error) {
	var event optionsFlowEvent
	if err := json.Unmarshal(raw, &event); err != nil {
		return nil, fmt.Errorf("decode options flow event: %w", err)
	}

	sentiment := event.Sentiment
	if sentiment == "" {
		sentiment = ClassifySentiment(event)
	}

	title := fmt.Sprintf("%s %s %s $%.2f exp %s",
		strings.ToUpper(event.Ticker),
		strings.ToLower(event.FlowType),
		strings.ToLower(event.ContractType),
		event.Strike, event.Expiry)

	body := fmt.Sprintf("%s %s on %s: strike $%.2f, spot $%.2f, premium $%.0f, sentiment %s.",
		strings.ToLower(event.FlowType),
		strings.ToLower(event.ContractType),
		strings.ToUpper(event.Ticker),
		event.Strike, event.Spot, event.Premium, sentiment)

	draft := &models.ContentItemDraft{
		Title:       title,
		BodyText:    body,
		SourceType:  models.SourceTypeOptionsFlow,
		ExternalID:  flowExternalID(event),
		PublishedAt: feedparse.ParseDate(event.ExecutedAt),
		Metadata: map[string]any{
			"ticker":        strings.ToUpper(event.Ticker),
			"contract_type": strings.ToLower(event.ContractType),
			"flow_type":     strings.ToLower(event.FlowType),
			"strike":        event.Strike,
			"spot":          event.Spot,
			"expiry":        event.Expiry,
			"premium":       event.Premium,
			"sentiment":     sentiment,
			"is_etf":        IsETF(event.Ticker),
		},
	}
	draft.SetRawDebug(raw)
	return draft, nil
}
