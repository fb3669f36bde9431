package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/signaldigest/signaldigest/internal/feedparse"
	"github.com/signaldigest/signaldigest/internal/models"
)

// WebFeedConnector ingests RSS 2.0 / Atom / RDF feeds, including
// HTML-bearing product and release feeds.
type WebFeedConnector struct {
	http   *HTTPClient
	logger *slog.Logger
}

// NewWebFeedConnector creates the web-feed connector.
func NewWebFeedConnector(client *HTTPClient, logger *slog.Logger) *WebFeedConnector {
	return &WebFeedConnector{http: client, logger: logger}
}

// SourceType implements Connector.
func (c *WebFeedConnector) SourceType() models.SourceType {
	return models.SourceTypeWebFeed
}

type webFeedConfig struct {
	FeedURL       string   `json:"feed_url"`
	Keywords      []string `json:"keywords"`
	PreferContent bool     `json:"prefer_content"`
	RecentIDCap   int      `json:"recent_id_cap"`
}

type webFeedCursor struct {
	SeenIDs         []string `json:"seen_ids"`
	NewestPublished string   `json:"newest_published,omitempty"`
}

// webFeedItem is the raw item shape this connector emits and later
// normalizes.
type webFeedItem struct {
	Entry      feedparse.Entry `json:"entry"`
	ExternalID string          `json:"external_id"`
	FeedURL    string          `json:"feed_url"`
	FeedTitle  string          `json:"feed_title,omitempty"`
}

// Fetch implements Connector.
func (c *WebFeedConnector) Fetch(ctx context.Context, params models.FetchParams) (*models.FetchResult, error) {
	var cfg webFeedConfig
	decodeDocument(params.Config, &cfg)
	if strings.TrimSpace(cfg.FeedURL) == "" {
		return nil, NewConfigError(string(models.SourceTypeWebFeed), "feed_url", "is required")
	}

	var cursor webFeedCursor
	decodeDocument(params.Cursor, &cursor)
	window := NewRecentIDWindow(cfg.RecentIDCap, cursor.SeenIDs)

	body, err := c.http.Get(ctx, cfg.FeedURL, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch feed %s: %w", cfg.FeedURL, err)
	}

	feed := feedparse.Parse(body, feedparse.Options{PreferContent: cfg.PreferContent})
	c.logger.Debug("parsed feed",
		"url", cfg.FeedURL,
		"format", string(feed.Format),
		"entries", len(feed.Entries))

	newest := cursor.NewestPublished
	items := make([]json.RawMessage, 0, len(feed.Entries))
	skippedSeen, skippedFiltered := 0, 0

	for _, entry := range feed.Entries {
		externalID := entry.ExternalID
		if externalID == "" {
			externalID = ContentHash(entry.Link, entry.Title)
		}
		if window.Contains(externalID) {
			skippedSeen++
			continue
		}
		if !matchesKeywords(cfg.Keywords, entry.Title, entry.Body) {
			skippedFiltered++
			continue
		}
		if params.Limits.MaxItems > 0 && len(items) >= params.Limits.MaxItems {
			break
		}

		raw, err := marshalRaw(webFeedItem{
			Entry:      entry,
			ExternalID: externalID,
			FeedURL:    cfg.FeedURL,
			FeedTitle:  feed.Title,
		})
		if err != nil {
			continue
		}
		items = append(items, raw)
		window.Add(externalID)
		if entry.Published != nil {
			newest = AdvanceWatermark(newest, *entry.Published)
		}
	}

	return &models.FetchResult{
		RawItems: items,
		NextCursor: encodeDocument(webFeedCursor{
			SeenIDs:         window.IDs(),
			NewestPublished: newest,
		}),
		Meta: models.Document{
			"format":           string(feed.Format),
			"entries":          len(feed.Entries),
			"skipped_seen":     skippedSeen,
			"skipped_filtered": skippedFiltered,
		},
	}, nil
}

// Normalize implements Connector.
func (c *WebFeedConnector) Normalize(raw json.RawMessage, params models.FetchParams) (*models.ContentItemDraft, error) {
	var item webFeedItem
	if err := json.Unmarshal(raw, &item); err != nil {
		return nil, fmt.Errorf("decode web feed item: %w", err)
	}

	draft := &models.ContentItemDraft{
		Title:        feedparse.StripHTML(item.Entry.Title),
		BodyText:     feedparse.StripHTML(item.Entry.Body),
		CanonicalURL: item.Entry.Link,
		SourceType:   models.SourceTypeWebFeed,
		ExternalID:   item.ExternalID,
		PublishedAt:  item.Entry.Published,
		Author:       item.Entry.Author,
		Metadata: map[string]any{
			"feed_url": item.FeedURL,
		},
	}
	if item.FeedTitle != "" {
		draft.Metadata["feed_title"] = item.FeedTitle
	}
	draft.SetRawDebug(raw)
	return draft, nil
}

// matchesKeywords reports whether any keyword appears in the given texts.
// No keywords configured means everything matches.
func matchesKeywords(keywords []string, texts ...string) bool {
	if len(keywords) == 0 {
		return true
	}
	for _, kw := range keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw == "" {
			continue
		}
		for _, text := range texts {
			if strings.Contains(strings.ToLower(text), kw) {
				return true
			}
		}
	}
	return false
}
