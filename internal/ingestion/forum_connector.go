package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/signaldigest/signaldigest/internal/models"
)

const defaultForumBaseURL = "https://www.reddit.com"

// ForumConnector ingests posts from public forum listing APIs
// (subreddit-style JSON listings).
type ForumConnector struct {
	http   *HTTPClient
	logger *slog.Logger
}

// NewForumConnector creates the forum connector.
func NewForumConnector(client *HTTPClient, logger *slog.Logger) *ForumConnector {
	return &ForumConnector{http: client, logger: logger}
}

// SourceType implements Connector.
func (c *ForumConnector) SourceType() models.SourceType {
	return models.SourceTypeForum
}

type forumConfig struct {
	BaseURL     string   `json:"base_url"`
	Forum       string   `json:"forum"`
	Keywords    []string `json:"keywords"`
	Flairs      []string `json:"flairs"`
	RecentIDCap int      `json:"recent_id_cap"`
	PageSize    int      `json:"page_size"`
}

type forumCursor struct {
	SeenIDs       []string `json:"seen_ids"`
	NewestCreated string   `json:"newest_created,omitempty"`
}

// forumPost mirrors the listing API's per-post payload.
type forumPost struct {
	ID         string  `json:"id"`
	Fullname   string  `json:"name"`
	Title      string  `json:"title"`
	SelfText   string  `json:"selftext"`
	Author     string  `json:"author"`
	Permalink  string  `json:"permalink"`
	URL        string  `json:"url"`
	CreatedUTC float64 `json:"created_utc"`
	Flair      string  `json:"link_flair_text"`
	Forum      string  `json:"subreddit"`
}

type forumListing struct {
	Data struct {
		Children []struct {
			Data forumPost `json:"data"`
		} `json:"children"`
	} `json:"data"`
}

// Fetch implements Connector.
func (c *ForumConnector) Fetch(ctx context.Context, params models.FetchParams) (*models.FetchResult, error) {
	var cfg forumConfig
	decodeDocument(params.Config, &cfg)
	if strings.TrimSpace(cfg.Forum) == "" {
		return nil, NewConfigError(string(models.SourceTypeForum), "forum", "is required")
	}
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = defaultForumBaseURL
	}
	pageSize := cfg.PageSize
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 100
	}

	var cursor forumCursor
	decodeDocument(params.Cursor, &cursor)
	window := NewRecentIDWindow(cfg.RecentIDCap, cursor.SeenIDs)

	url := fmt.Sprintf("%s/r/%s/new.json?limit=%d", base, cfg.Forum, pageSize)
	var listing forumListing
	if err := c.http.GetJSON(ctx, url, nil, &listing); err != nil {
		return nil, fmt.Errorf("fetch forum %s: %w", cfg.Forum, err)
	}

	newest := cursor.NewestCreated
	items := make([]json.RawMessage, 0, len(listing.Data.Children))
	skippedSeen, skippedFiltered := 0, 0

	for _, child := range listing.Data.Children {
		post := child.Data
		externalID := post.Fullname
		if externalID == "" {
			externalID = post.ID
		}
		if externalID == "" {
			externalID = ContentHash(post.Permalink, post.Title)
		}
		if window.Contains(externalID) {
			skippedSeen++
			continue
		}
		if !matchesFlair(cfg.Flairs, post.Flair) ||
			!matchesKeywords(cfg.Keywords, post.Title, post.SelfText) {
			skippedFiltered++
			continue
		}
		if params.Limits.MaxItems > 0 && len(items) >= params.Limits.MaxItems {
			break
		}

		raw, err := marshalRaw(post)
		if err != nil {
			continue
		}
		items = append(items, raw)
		window.Add(externalID)
		if post.CreatedUTC > 0 {
			newest = AdvanceWatermark(newest, time.Unix(int64(post.CreatedUTC), 0).UTC())
		}
	}

	return &models.FetchResult{
		RawItems: items,
		NextCursor: encodeDocument(forumCursor{
			SeenIDs:       window.IDs(),
			NewestCreated: newest,
		}),
		Meta: models.Document{
			"forum":            cfg.Forum,
			"listed":           len(listing.Data.Children),
			"skipped_seen":     skippedSeen,
			"skipped_filtered": skippedFiltered,
		},
	}, nil
}

// Normalize implements Connector.
func (c *ForumConnector) Normalize(raw json.RawMessage, params models.FetchParams) (*models.ContentItemDraft, error) {
	var post forumPost
	if err := json.Unmarshal(raw, &post); err != nil {
		return nil, fmt.Errorf("decode forum post: %w", err)
	}

	externalID := post.Fullname
	if externalID == "" {
		externalID = post.ID
	}
	if externalID == "" {
		externalID = ContentHash(post.Permalink, post.Title)
	}

	canonical := post.Permalink
	if canonical != "" && strings.HasPrefix(canonical, "/") {
		canonical = defaultForumBaseURL + canonical
	}
	if canonical == "" {
		canonical = post.URL
	}

	var published *time.Time
	if post.CreatedUTC > 0 {
		t := time.Unix(int64(post.CreatedUTC), 0).UTC()
		published = &t
	}

	draft := &models.ContentItemDraft{
		Title:        post.Title,
		BodyText:     post.SelfText,
		CanonicalURL: canonical,
		SourceType:   models.SourceTypeForum,
		ExternalID:   externalID,
		PublishedAt:  published,
		Author:       post.Author,
		Metadata: map[string]any{
			"forum": post.Forum,
		},
	}
	if post.Flair != "" {
		draft.Metadata["flair"] = post.Flair
	}
	if post.URL != "" && post.URL != canonical {
		draft.Metadata["linked_url"] = post.URL
	}
	draft.SetRawDebug(raw)
	return draft, nil
}

// matchesFlair reports whether the post flair passes the configured flair
// filter. No filter configured admits everything.
func matchesFlair(flairs []string, flair string) bool {
	if len(flairs) == 0 {
		return true
	}
	for _, f := range flairs {
		if strings.EqualFold(strings.TrimSpace(f), strings.TrimSpace(flair)) {
			return true
		}
	}
	return false
}
