package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/signaldigest/signaldigest/internal/models"
)

const testFeed = `<?xml version="1.0"?>
<rss version="2.0">
  <channel>
    <title>Wire</title>
    <item>
      <title>Chipmaker beats earnings</title>
      <link>https://example.com/chip</link>
      <guid>chip-1</guid>
      <description>Record &lt;b&gt;quarterly&lt;/b&gt; revenue.</description>
      <pubDate>Wed, 01 May 2024 09:00:00 +0000</pubDate>
    </item>
    <item>
      <title>Weather update</title>
      <link>https://example.com/weather</link>
      <guid>weather-1</guid>
      <description>Sunny all week.</description>
      <pubDate>Wed, 01 May 2024 10:00:00 +0000</pubDate>
    </item>
  </channel>
</rss>`

func serveFeed(t *testing.T, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		fmt.Fprint(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func webFeedParams(feedURL string, cursor models.Document) models.FetchParams {
	return models.FetchParams{
		UserID:     "u1",
		SourceID:   "s1",
		SourceType: models.SourceTypeWebFeed,
		Config:     models.Document{"feed_url": feedURL},
		Cursor:     cursor,
	}
}

func TestWebFeedFetchRequiresFeedURL(t *testing.T) {
	c := NewWebFeedConnector(testHTTPClient(t), slog.New(slog.NewTextHandler(io.Discard, nil)))
	_, err := c.Fetch(context.Background(), models.FetchParams{
		SourceType: models.SourceTypeWebFeed,
		Config:     models.Document{},
	})
	if !IsConfigError(err) {
		t.Fatalf("Fetch() error = %v, want ConfigError", err)
	}
}

func TestWebFeedFetchEmitsAndAdvancesCursor(t *testing.T) {
	srv := serveFeed(t, testFeed)
	c := NewWebFeedConnector(testHTTPClient(t), slog.New(slog.NewTextHandler(io.Discard, nil)))

	result, err := c.Fetch(context.Background(), webFeedParams(srv.URL, nil))
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if len(result.RawItems) != 2 {
		t.Fatalf("got %d items, want 2", len(result.RawItems))
	}

	var cursor webFeedCursor
	decodeDocument(result.NextCursor, &cursor)
	if len(cursor.SeenIDs) != 2 {
		t.Errorf("cursor seen_ids = %v", cursor.SeenIDs)
	}
	if cursor.NewestPublished != "2024-05-01T10:00:00Z" {
		t.Errorf("cursor newest_published = %q", cursor.NewestPublished)
	}
}

func TestWebFeedFetchDeduplicatesAcrossRuns(t *testing.T) {
	srv := serveFeed(t, testFeed)
	c := NewWebFeedConnector(testHTTPClient(t), slog.New(slog.NewTextHandler(io.Discard, nil)))

	first, err := c.Fetch(context.Background(), webFeedParams(srv.URL, nil))
	if err != nil {
		t.Fatalf("first Fetch() error = %v", err)
	}

	// Second run with the persisted cursor sees only already-known items.
	second, err := c.Fetch(context.Background(), webFeedParams(srv.URL, first.NextCursor))
	if err != nil {
		t.Fatalf("second Fetch() error = %v", err)
	}
	if len(second.RawItems) != 0 {
		t.Errorf("second run emitted %d items, want 0", len(second.RawItems))
	}
	if second.Meta["skipped_seen"] != 2 {
		t.Errorf("skipped_seen = %v, want 2", second.Meta["skipped_seen"])
	}
}

func TestWebFeedFetchIsDeterministic(t *testing.T) {
	srv := serveFeed(t, testFeed)
	c := NewWebFeedConnector(testHTTPClient(t), slog.New(slog.NewTextHandler(io.Discard, nil)))

	start := models.Document{"seen_ids": []any{"weather-1"}}
	a, err := c.Fetch(context.Background(), webFeedParams(srv.URL, start))
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	b, err := c.Fetch(context.Background(), webFeedParams(srv.URL, start))
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}

	// Same cursor plus identical upstream bytes reproduce the same run.
	if len(a.RawItems) != len(b.RawItems) {
		t.Fatalf("item counts differ: %d vs %d", len(a.RawItems), len(b.RawItems))
	}
	for i := range a.RawItems {
		if string(a.RawItems[i]) != string(b.RawItems[i]) {
			t.Errorf("item %d differs between runs", i)
		}
	}
	ca, _ := json.Marshal(a.NextCursor)
	cb, _ := json.Marshal(b.NextCursor)
	if string(ca) != string(cb) {
		t.Errorf("cursors differ: %s vs %s", ca, cb)
	}
}

func TestWebFeedFetchKeywordFilter(t *testing.T) {
	srv := serveFeed(t, testFeed)
	c := NewWebFeedConnector(testHTTPClient(t), slog.New(slog.NewTextHandler(io.Discard, nil)))

	params := webFeedParams(srv.URL, nil)
	params.Config["keywords"] = []any{"earnings"}

	result, err := c.Fetch(context.Background(), params)
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if len(result.RawItems) != 1 {
		t.Fatalf("got %d items, want 1", len(result.RawItems))
	}
	if result.Meta["skipped_filtered"] != 1 {
		t.Errorf("skipped_filtered = %v, want 1", result.Meta["skipped_filtered"])
	}
}

func TestWebFeedFetchHonorsMaxItems(t *testing.T) {
	srv := serveFeed(t, testFeed)
	c := NewWebFeedConnector(testHTTPClient(t), slog.New(slog.NewTextHandler(io.Discard, nil)))

	params := webFeedParams(srv.URL, nil)
	params.Limits.MaxItems = 1

	result, err := c.Fetch(context.Background(), params)
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if len(result.RawItems) != 1 {
		t.Errorf("got %d items, want 1", len(result.RawItems))
	}
}

func TestWebFeedFetchUnknownFormatYieldsNothing(t *testing.T) {
	srv := serveFeed(t, "<html><body>maintenance page</body></html>")
	c := NewWebFeedConnector(testHTTPClient(t), slog.New(slog.NewTextHandler(io.Discard, nil)))

	result, err := c.Fetch(context.Background(), webFeedParams(srv.URL, nil))
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if len(result.RawItems) != 0 {
		t.Errorf("got %d items, want 0", len(result.RawItems))
	}
	if result.Meta["format"] != "unknown" {
		t.Errorf("meta format = %v", result.Meta["format"])
	}
}

func TestWebFeedNormalizeStripsMarkup(t *testing.T) {
	srv := serveFeed(t, testFeed)
	c := NewWebFeedConnector(testHTTPClient(t), slog.New(slog.NewTextHandler(io.Discard, nil)))
	params := webFeedParams(srv.URL, nil)

	result, err := c.Fetch(context.Background(), params)
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}

	draft, err := c.Normalize(result.RawItems[0], params)
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	if draft.SourceType != models.SourceTypeWebFeed {
		t.Errorf("source type = %q", draft.SourceType)
	}
	if draft.ExternalID != "chip-1" {
		t.Errorf("external id = %q", draft.ExternalID)
	}
	if draft.BodyText != "Record quarterly revenue." {
		t.Errorf("body = %q, want markup stripped", draft.BodyText)
	}
	if draft.CanonicalURL != "https://example.com/chip" {
		t.Errorf("canonical url = %q", draft.CanonicalURL)
	}
	if draft.PublishedAt == nil {
		t.Error("published at = nil")
	}
	if draft.Raw == nil {
		t.Error("raw debug payload not attached")
	}
}

func TestMatchesKeywords(t *testing.T) {
	tests := []struct {
		name     string
		keywords []string
		texts    []string
		want     bool
	}{
		{"no keywords admits all", nil, []string{"anything"}, true},
		{"case-insensitive match", []string{"NVDA"}, []string{"nvda earnings call"}, true},
		{"match in second text", []string{"fed"}, []string{"title", "the fed decided"}, true},
		{"no match", []string{"crypto"}, []string{"equities only"}, false},
		{"blank keywords ignored", []string{"  ", ""}, []string{"text"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := matchesKeywords(tt.keywords, tt.texts...); got != tt.want {
				t.Errorf("matchesKeywords(%v, %v) = %v, want %v", tt.keywords, tt.texts, got, tt.want)
			}
		})
	}
}
