package ingestion

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/signaldigest/signaldigest/internal/models"
)

// Connector is the fetch+normalize unit for one external source type.
//
// Fetch pulls raw items from the upstream service, applying cursoring,
// deduplication and source-specific filtering. Normalize maps one raw item
// emitted by Fetch into a canonical content draft. Both may fail with an
// error the caller must treat as "this source's run failed; cursor
// unchanged."
type Connector interface {
	// SourceType returns the unique source type tag for this connector.
	SourceType() models.SourceType

	// Fetch retrieves new raw items and an updated cursor.
	Fetch(ctx context.Context, params models.FetchParams) (*models.FetchResult, error)

	// Normalize converts one raw item from Fetch into a canonical draft.
	Normalize(raw json.RawMessage, params models.FetchParams) (*models.ContentItemDraft, error)
}

// Registry maps source types to their connectors. Lookup failure is a
// configuration error, not a runtime fault.
type Registry struct {
	connectors map[models.SourceType]Connector
}

// NewRegistry builds a registry from the given connectors. Duplicate
// source types are rejected so wiring mistakes fail at startup.
func NewRegistry(connectors ...Connector) (*Registry, error) {
	reg := &Registry{connectors: make(map[models.SourceType]Connector, len(connectors))}
	for _, c := range connectors {
		st := c.SourceType()
		if _, dup := reg.connectors[st]; dup {
			return nil, fmt.Errorf("duplicate connector for source type %q", st)
		}
		reg.connectors[st] = c
	}
	return reg, nil
}

// Lookup returns the connector for a source type.
func (r *Registry) Lookup(sourceType models.SourceType) (Connector, error) {
	c, ok := r.connectors[sourceType]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSourceType, sourceType)
	}
	return c, nil
}

// SourceTypes lists every registered source type.
func (r *Registry) SourceTypes() []models.SourceType {
	types := make([]models.SourceType, 0, len(r.connectors))
	for st := range r.connectors {
		types = append(types, st)
	}
	return types
}

// decodeDocument maps an opaque document onto a typed struct via a JSON
// round trip. Unknown fields are ignored and type mismatches are treated
// as absent values rather than errors, so a malformed cursor degrades to
// a fresh one instead of failing the run.
func decodeDocument(doc models.Document, out any) {
	if doc == nil {
		return
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return
	}
	// Unmarshal fills every field it can before reporting a type error,
	// which is exactly the defensive behavior cursors need.
	_ = json.Unmarshal(raw, out)
}

// encodeDocument converts a typed cursor back to its opaque form.
func encodeDocument(in any) models.Document {
	raw, err := json.Marshal(in)
	if err != nil {
		return models.Document{}
	}
	var doc models.Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return models.Document{}
	}
	return doc
}

// marshalRaw serializes a typed raw item for the FetchResult. Items must
// round-trip through plain JSON because the scheduler persists them
// opaquely between fetch and normalize.
func marshalRaw(item any) (json.RawMessage, error) {
	raw, err := json.Marshal(item)
	if err != nil {
		return nil, fmt.Errorf("marshal raw item: %w", err)
	}
	return raw, nil
}
