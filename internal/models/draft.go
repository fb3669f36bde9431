package models

import (
	"encoding/json"
	"time"
)

// maxRawDebugBytes bounds the raw debug payload carried on a draft.
const maxRawDebugBytes = 4096

// ContentItemDraft is the canonical, source-agnostic representation of one
// ingested item, handed to downstream storage and scoring. ExternalID must
// be stable and unique per upstream item within a SourceType; it is the
// dedup key for the downstream store. PublishedAt is nil rather than
// fabricated when the upstream source supplies no genuine timestamp.
type ContentItemDraft struct {
	Title        string          `json:"title"`
	BodyText     string          `json:"body_text"`
	CanonicalURL string          `json:"canonical_url"`
	SourceType   SourceType      `json:"source_type"`
	ExternalID   string          `json:"external_id"`
	PublishedAt  *time.Time      `json:"published_at,omitempty"`
	Author       string          `json:"author,omitempty"`
	Metadata     map[string]any  `json:"metadata,omitempty"`
	Raw          json.RawMessage `json:"raw,omitempty"`
}

// SetRawDebug attaches a bounded copy of the raw upstream payload for
// triage. Oversized payloads are truncated to a JSON string fragment so
// the draft stays a valid document.
func (d *ContentItemDraft) SetRawDebug(raw json.RawMessage) {
	if len(raw) <= maxRawDebugBytes {
		d.Raw = raw
		return
	}
	truncated, err := json.Marshal(string(raw[:maxRawDebugBytes]))
	if err != nil {
		return
	}
	d.Raw = truncated
}
