package ingestion

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// DefaultRecentIDCap bounds the recent-ID window when a connector does not
// choose its own cap.
const DefaultRecentIDCap = 200

// RecentIDWindow is a bounded, ordered set of recently seen external IDs.
// It is the dedup mechanism for feeds whose ordering or pagination cannot
// guarantee a strict watermark: bounded memory in exchange for
// probabilistic rather than absolute dedup. The newest IDs sit at the end
// of the slice; the oldest are evicted first.
type RecentIDWindow struct {
	cap  int
	ids  []string
	seen map[string]struct{}
}

// NewRecentIDWindow restores a window from a persisted ID list, trimming
// to the cap by keeping the most recent entries.
func NewRecentIDWindow(capacity int, existing []string) *RecentIDWindow {
	if capacity <= 0 {
		capacity = DefaultRecentIDCap
	}
	w := &RecentIDWindow{
		cap:  capacity,
		ids:  make([]string, 0, capacity),
		seen: make(map[string]struct{}, capacity),
	}
	start := 0
	if len(existing) > capacity {
		start = len(existing) - capacity
	}
	for _, id := range existing[start:] {
		if id == "" {
			continue
		}
		if _, dup := w.seen[id]; dup {
			continue
		}
		w.ids = append(w.ids, id)
		w.seen[id] = struct{}{}
	}
	return w
}

// Contains reports whether id is in the window.
func (w *RecentIDWindow) Contains(id string) bool {
	_, ok := w.seen[id]
	return ok
}

// Add records id as the newest entry, evicting the oldest when the window
// is full. Re-adding a known ID is a no-op.
func (w *RecentIDWindow) Add(id string) {
	if id == "" || w.Contains(id) {
		return
	}
	w.ids = append(w.ids, id)
	w.seen[id] = struct{}{}
	if len(w.ids) > w.cap {
		evicted := w.ids[0]
		w.ids = w.ids[1:]
		delete(w.seen, evicted)
	}
}

// IDs returns the window contents, oldest first, for persistence.
func (w *RecentIDWindow) IDs() []string {
	out := make([]string, len(w.ids))
	copy(out, w.ids)
	return out
}

// Len returns the current window size.
func (w *RecentIDWindow) Len() int {
	return len(w.ids)
}

// AdvanceWatermark returns the later of current and candidate formatted as
// RFC 3339. Watermarks only move forward; an older candidate leaves the
// current value untouched.
func AdvanceWatermark(current string, candidate time.Time) string {
	if candidate.IsZero() {
		return current
	}
	if current == "" {
		return candidate.UTC().Format(time.RFC3339)
	}
	cur, err := time.Parse(time.RFC3339, current)
	if err != nil {
		return candidate.UTC().Format(time.RFC3339)
	}
	if candidate.After(cur) {
		return candidate.UTC().Format(time.RFC3339)
	}
	return current
}

// ParseWatermark decodes an RFC 3339 watermark, returning nil when the
// value is absent or malformed.
func ParseWatermark(value string) *time.Time {
	if value == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return nil
	}
	utc := t.UTC()
	return &utc
}

// ContentHash derives a stable external ID from item fields when the
// upstream supplies no usable identifier.
func ContentHash(parts ...string) string {
	h := sha256.New()
	for i, p := range parts {
		if i > 0 {
			h.Write([]byte{'|'})
		}
		h.Write([]byte(p))
	}
	return hex.EncodeToString(h.Sum(nil))[:32]
}
