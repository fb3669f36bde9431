package gensearch

import (
	"fmt"
	"strings"
	"time"
)

// BatchMode controls how tracked accounts are grouped into provider
// queries.
type BatchMode string

const (
	// BatchOff queries each account individually.
	BatchOff BatchMode = "off"
	// BatchManual uses explicit user-defined account groups.
	BatchManual BatchMode = "manual"
	// BatchAuto chunks accounts into groups of BatchSize.
	BatchAuto BatchMode = "auto"
)

// SearchSpec is the compiled-from-config input to a search run.
type SearchSpec struct {
	Accounts         []string
	AccountGroups    [][]string
	BatchMode        BatchMode
	BatchSize        int
	Keywords         []string
	RawQueries       []string
	Since            *time.Time
	PerAccountTokens int // optional override of the configured default
}

// Query is one provider query string plus the accounts it covers. An
// empty Accounts slice means a keyword-only or raw query.
type Query struct {
	Text     string
	Accounts []string
}

// CompileQueries turns a search spec into provider query strings. When
// both accounts and keywords are present they combine as
// `from:<account> (<kw1> OR <kw2>)`. Time bounds are injected as a
// `since:<date>` token in the query text instead of the provider's native
// date-range parameter, which was observed to return stale cached
// results. Account groups larger than handleCap are chunked again before
// dispatch regardless of the configured batch size.
func CompileQueries(spec SearchSpec, handleCap int) []Query {
	if handleCap <= 0 {
		handleCap = DefaultHandleCapPerCall
	}

	var queries []Query
	since := sinceToken(spec.Since)
	keywords := keywordClause(spec.Keywords)

	for _, group := range chunkGroups(accountGroups(spec), handleCap) {
		text := accountClause(group)
		if keywords != "" {
			text += " " + keywords
		}
		if since != "" {
			text += " " + since
		}
		queries = append(queries, Query{Text: text, Accounts: group})
	}

	// Keywords with no accounts stand alone as one query.
	if len(spec.Accounts) == 0 && len(spec.AccountGroups) == 0 && keywords != "" {
		text := keywords
		if since != "" {
			text += " " + since
		}
		queries = append(queries, Query{Text: text})
	}

	for _, raw := range spec.RawQueries {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if since != "" && !strings.Contains(raw, "since:") {
			raw += " " + since
		}
		queries = append(queries, Query{Text: raw})
	}

	return queries
}

// accountGroups resolves the batch mode into raw (uncapped) groups.
func accountGroups(spec SearchSpec) [][]string {
	switch spec.BatchMode {
	case BatchManual:
		groups := make([][]string, 0, len(spec.AccountGroups))
		for _, g := range spec.AccountGroups {
			if cleaned := cleanHandles(g); len(cleaned) > 0 {
				groups = append(groups, cleaned)
			}
		}
		return groups
	case BatchAuto:
		accounts := cleanHandles(spec.Accounts)
		size := spec.BatchSize
		if size <= 0 {
			size = DefaultHandleCapPerCall
		}
		var groups [][]string
		for start := 0; start < len(accounts); start += size {
			end := start + size
			if end > len(accounts) {
				end = len(accounts)
			}
			groups = append(groups, accounts[start:end])
		}
		return groups
	default: // BatchOff and anything unrecognized: one account per query
		accounts := cleanHandles(spec.Accounts)
		groups := make([][]string, 0, len(accounts))
		for _, a := range accounts {
			groups = append(groups, []string{a})
		}
		return groups
	}
}

// chunkGroups re-chunks oversized groups to the provider's per-call
// handle cap.
func chunkGroups(groups [][]string, handleCap int) [][]string {
	var out [][]string
	for _, g := range groups {
		for start := 0; start < len(g); start += handleCap {
			end := start + handleCap
			if end > len(g) {
				end = len(g)
			}
			out = append(out, g[start:end])
		}
	}
	return out
}

func cleanHandles(handles []string) []string {
	out := make([]string, 0, len(handles))
	for _, h := range handles {
		h = strings.TrimPrefix(strings.TrimSpace(h), "@")
		if h != "" {
			out = append(out, h)
		}
	}
	return out
}

func accountClause(group []string) string {
	if len(group) == 1 {
		return "from:" + group[0]
	}
	parts := make([]string, len(group))
	for i, a := range group {
		parts[i] = "from:" + a
	}
	return "(" + strings.Join(parts, " OR ") + ")"
}

func keywordClause(keywords []string) string {
	cleaned := make([]string, 0, len(keywords))
	for _, kw := range keywords {
		kw = strings.TrimSpace(kw)
		if kw == "" {
			continue
		}
		if strings.ContainsRune(kw, ' ') {
			kw = fmt.Sprintf("%q", kw)
		}
		cleaned = append(cleaned, kw)
	}
	if len(cleaned) == 0 {
		return ""
	}
	if len(cleaned) == 1 {
		return "(" + cleaned[0] + ")"
	}
	return "(" + strings.Join(cleaned, " OR ") + ")"
}

func sinceToken(since *time.Time) string {
	if since == nil || since.IsZero() {
		return ""
	}
	return "since:" + since.UTC().Format("2006-01-02")
}
