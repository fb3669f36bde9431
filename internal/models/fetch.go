package models

import (
	"encoding/json"
	"time"
)

// SourceType identifies which connector owns a source.
type SourceType string

const (
	SourceTypeWebFeed        SourceType = "web_feed"
	SourceTypeForum          SourceType = "forum"
	SourceTypeCongressTrades SourceType = "congress_trades"
	SourceTypeOptionsFlow    SourceType = "options_flow"
	SourceTypeSocialSearch   SourceType = "social_search"
)

// Document is an opaque JSON-like map. Connector configs, cursors and
// result metadata all travel through this shape; only the owning connector
// knows the fields inside.
type Document = map[string]any

// FetchLimits bounds a single fetch invocation.
type FetchLimits struct {
	MaxItems int `json:"max_items"`
}

// FetchParams is the per-invocation input supplied by the scheduler.
// Config and Cursor are connector-defined; the engine never inspects their
// shape outside the owning connector. WindowStart/WindowEnd are advisory
// hints for connectors that page by time, not a hard filter.
type FetchParams struct {
	UserID      string      `json:"user_id"`
	SourceID    string      `json:"source_id"`
	SourceType  SourceType  `json:"source_type"`
	Config      Document    `json:"config"`
	Cursor      Document    `json:"cursor"`
	Limits      FetchLimits `json:"limits"`
	WindowStart *time.Time  `json:"window_start,omitempty"`
	WindowEnd   *time.Time  `json:"window_end,omitempty"`
}

// FetchResult is the outcome of one connector fetch. NextCursor must be
// computable deterministically from the input cursor plus the items
// actually emitted, so a retried run over identical upstream data
// reproduces the same RawItems.
type FetchResult struct {
	RawItems   []json.RawMessage `json:"raw_items"`
	NextCursor Document          `json:"next_cursor"`
	Meta       Document          `json:"meta,omitempty"`
}

// EmptyResult returns a result that emits nothing and leaves the cursor
// unchanged, annotated with a reason. Used for soft skips (e.g. missing
// credentials) and total-failure runs.
func EmptyResult(cursor Document, meta Document) *FetchResult {
	return &FetchResult{
		RawItems:   []json.RawMessage{},
		NextCursor: cursor,
		Meta:       meta,
	}
}
