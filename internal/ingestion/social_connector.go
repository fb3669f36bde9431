package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/signaldigest/signaldigest/internal/feedparse"
	"github.com/signaldigest/signaldigest/internal/gensearch"
	"github.com/signaldigest/signaldigest/internal/models"
)

// snowflakeEpochMS is the platform epoch for time-ordered status IDs, in
// Unix milliseconds.
const snowflakeEpochMS = 1288834974657

// SocialSearchConnector ingests social posts through a generative-search
// provider used as a proxy for social-media search.
type SocialSearchConnector struct {
	adapter        *gensearch.Adapter // nil when credentials are missing
	maxCallsPerRun int
	logger         *slog.Logger
	now            func() time.Time
}

// NewSocialSearchConnector creates the social-search connector. A missing
// API key leaves the adapter unset so an unconfigured source fails soft
// at fetch time instead of erroring.
func NewSocialSearchConnector(cfg gensearch.Config, maxCallsPerRun int, logger *slog.Logger) (*SocialSearchConnector, error) {
	conn := &SocialSearchConnector{
		maxCallsPerRun: maxCallsPerRun,
		logger:         logger,
		now:            time.Now,
	}
	if cfg.APIKey == "" {
		logger.Warn("social search credentials not configured, connector will skip fetches")
		return conn, nil
	}
	adapter, err := gensearch.New(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("build gensearch adapter: %w", err)
	}
	conn.adapter = adapter
	return conn, nil
}

// SourceType implements Connector.
func (c *SocialSearchConnector) SourceType() models.SourceType {
	return models.SourceTypeSocialSearch
}

type socialConfig struct {
	Accounts         []string   `json:"accounts"`
	AccountGroups    [][]string `json:"account_groups"`
	BatchMode        string     `json:"batch_mode"`
	BatchSize        int        `json:"batch_size"`
	Keywords         []string   `json:"keywords"`
	RawQueries       []string   `json:"raw_queries"`
	PerAccountTokens int        `json:"per_account_tokens"`
	RecentIDCap      int        `json:"recent_id_cap"`
}

type socialCursor struct {
	SinceTime string   `json:"since_time,omitempty"`
	SeenIDs   []string `json:"seen_ids"`
}

// socialPost is the raw item this connector emits.
type socialPost struct {
	Post       gensearch.Post `json:"post"`
	ExternalID string         `json:"external_id"`
}

// Fetch implements Connector.
func (c *SocialSearchConnector) Fetch(ctx context.Context, params models.FetchParams) (*models.FetchResult, error) {
	var cfg socialConfig
	decodeDocument(params.Config, &cfg)
	if len(cfg.Accounts) == 0 && len(cfg.AccountGroups) == 0 &&
		len(cfg.Keywords) == 0 && len(cfg.RawQueries) == 0 {
		return nil, NewConfigError(string(models.SourceTypeSocialSearch),
			"accounts", "at least one of accounts, account_groups, keywords or raw_queries is required")
	}

	var cursor socialCursor
	decodeDocument(params.Cursor, &cursor)

	if c.adapter == nil {
		return models.EmptyResult(params.Cursor, models.Document{
			"skipped": "missing_credentials",
		}), nil
	}

	since := ParseWatermark(cursor.SinceTime)
	if since == nil && params.WindowStart != nil {
		since = params.WindowStart
	}

	spec := gensearch.SearchSpec{
		Accounts:         cfg.Accounts,
		AccountGroups:    cfg.AccountGroups,
		BatchMode:        gensearch.BatchMode(cfg.BatchMode),
		BatchSize:        cfg.BatchSize,
		Keywords:         cfg.Keywords,
		RawQueries:       cfg.RawQueries,
		Since:            since,
		PerAccountTokens: cfg.PerAccountTokens,
	}

	budget := gensearch.NewCallBudget(runKey(params), c.maxCallsPerRun)
	result := c.adapter.Search(ctx, params.UserID, spec, budget)

	meta := models.Document{
		"calls_attempted": result.Attempted,
		"calls_succeeded": result.Succeeded,
		"provider_calls":  result.Calls,
	}
	if result.AuthFailed {
		meta["auth_failed"] = true
	}
	if len(result.Errors) > 0 {
		meta["errors"] = result.Errors
	}

	// A fully-failed run is retried from the same position next cycle:
	// the watermark only advances when at least one call succeeded.
	if result.Succeeded == 0 {
		return models.EmptyResult(params.Cursor, meta), nil
	}

	window := NewRecentIDWindow(cfg.RecentIDCap, cursor.SeenIDs)
	newest := cursor.SinceTime
	items := make([]json.RawMessage, 0, len(result.Posts))
	skippedSeen := 0

	for _, post := range result.Posts {
		externalID := resolvePostID(post)
		if externalID == "" {
			externalID = ContentHash(post.Handle, post.Text)
		}
		if window.Contains(externalID) {
			skippedSeen++
			continue
		}
		if params.Limits.MaxItems > 0 && len(items) >= params.Limits.MaxItems {
			break
		}

		raw, err := marshalRaw(socialPost{Post: post, ExternalID: externalID})
		if err != nil {
			continue
		}
		items = append(items, raw)
		window.Add(externalID)
		if ts := postTimestamp(post, c.now()); ts != nil {
			newest = AdvanceWatermark(newest, *ts)
		}
	}
	meta["skipped_seen"] = skippedSeen

	return &models.FetchResult{
		RawItems: items,
		NextCursor: encodeDocument(socialCursor{
			SinceTime: newest,
			SeenIDs:   window.IDs(),
		}),
		Meta: meta,
	}, nil
}

// Normalize implements Connector.
func (c *SocialSearchConnector) Normalize(raw json.RawMessage, params models.FetchParams) (*models.ContentItemDraft, error) {
	var item socialPost
	if err := json.Unmarshal(raw, &item); err != nil {
		return nil, fmt.Errorf("decode social post: %w", err)
	}
	post := item.Post

	externalID := item.ExternalID
	if externalID == "" {
		externalID = resolvePostID(post)
	}
	if externalID == "" {
		externalID = ContentHash(post.Handle, post.Text)
	}

	canonical := post.URL
	if canonical == "" && post.Handle != "" {
		if id := resolvePostID(post); id != "" && isNumeric(id) {
			canonical = fmt.Sprintf("https://x.com/%s/status/%s", post.Handle, id)
		}
	}

	author := post.Handle
	if author != "" {
		author = "@" + author
	}

	draft := &models.ContentItemDraft{
		Title:        truncateTitle(post.Text),
		BodyText:     post.Text,
		CanonicalURL: canonical,
		SourceType:   models.SourceTypeSocialSearch,
		ExternalID:   externalID,
		PublishedAt:  postTimestamp(post, c.now()),
		Author:       author,
		Metadata:     map[string]any{},
	}
	if post.Handle != "" {
		draft.Metadata["handle"] = post.Handle
	}
	draft.SetRawDebug(raw)
	return draft, nil
}

var statusURLPattern = regexp.MustCompile(`/status(?:es)?/(\d+)`)

// resolvePostID recovers a stable post identifier, in priority order,
// from the explicit ID field, from a status URL, or from a URL embedded
// in the post body text.
func resolvePostID(post gensearch.Post) string {
	if id := strings.TrimSpace(post.ID); id != "" {
		return id
	}
	if m := statusURLPattern.FindStringSubmatch(post.URL); m != nil {
		return m[1]
	}
	if m := statusURLPattern.FindStringSubmatch(post.Text); m != nil {
		return m[1]
	}
	return ""
}

// postTimestamp returns the post's genuine timestamp: the explicit
// created_at field when parsable, else a bit-level decode of a numeric
// status ID. Absent both, nil; a fetch-time fallback would fabricate
// recency.
func postTimestamp(post gensearch.Post, now time.Time) *time.Time {
	if ts := feedparse.ParseDate(post.CreatedAt); ts != nil {
		return ts
	}
	if id := resolvePostID(post); isNumeric(id) {
		return DecodeSnowflakeTime(id, now)
	}
	return nil
}

// DecodeSnowflakeTime treats a numeric status ID as a time-ordered
// identifier: the creation timestamp sits in the high-order bits (shift
// right 22, add the platform epoch). Decodes outside sanity bounds — not
// before the epoch, not more than one day in the future — are discarded
// and the timestamp stays nil rather than wrong.
func DecodeSnowflakeTime(id string, now time.Time) *time.Time {
	n, err := strconv.ParseUint(id, 10, 64)
	if err != nil {
		return nil
	}
	ms := int64(n>>22) + snowflakeEpochMS
	t := time.UnixMilli(ms).UTC()

	epoch := time.UnixMilli(snowflakeEpochMS).UTC()
	if t.Before(epoch) || t.After(now.Add(24*time.Hour)) {
		return nil
	}
	return &t
}

func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func truncateTitle(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	const maxTitle = 120
	if len(text) <= maxTitle {
		return text
	}
	cut := strings.LastIndexByte(text[:maxTitle], ' ')
	if cut <= 0 {
		cut = maxTitle
	}
	return text[:cut] + "…"
}

// runKey identifies one logical run for call budgeting: same user, same
// window.
func runKey(params models.FetchParams) string {
	window := ""
	if params.WindowStart != nil {
		window = params.WindowStart.UTC().Format(time.RFC3339)
	}
	return params.UserID + "|" + window
}
