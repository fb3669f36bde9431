package gensearch

import (
	"encoding/json"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// ParseStatus classifies the outcome of response parsing. "empty" means
// the provider answered and reported zero matches; "unparsable" means the
// output fit no recognized encoding. Callers handle the two differently:
// empty advances normally, unparsable is surfaced for triage.
type ParseStatus string

const (
	ParseOK     ParseStatus = "parsed"
	ParseEmpty  ParseStatus = "empty"
	ParseFailed ParseStatus = "unparsable"
)

// Post is one social post extracted from a provider answer. CreatedAt is
// the upstream-reported timestamp text, unparsed; normalization decides
// whether it is trustworthy.
type Post struct {
	ID        string `json:"id,omitempty"`
	Handle    string `json:"handle,omitempty"`
	URL       string `json:"url,omitempty"`
	Text      string `json:"text"`
	CreatedAt string `json:"created_at,omitempty"`
}

// ParseDebug retains head/tail snippets of an unparsable answer so
// failures can be triaged without storing the full payload.
type ParseDebug struct {
	Head   string `json:"head"`
	Tail   string `json:"tail"`
	Length int    `json:"length"`
}

// ParseOutcome is the tagged result of the parsing fallback chain.
type ParseOutcome struct {
	Status   ParseStatus
	Posts    []Post
	Strategy string
	Debug    *ParseDebug
}

// structuredPayload is the schema shared by the tool-call and JSON-text
// encodings.
type structuredPayload struct {
	Posts []Post `json:"posts"`
}

// noResultsMarker is what the prompt asks the provider to emit when the
// search matched nothing.
const noResultsMarker = "NO_RESULTS"

const debugSnippetLen = 200

// ParseMessage attempts each recognized response encoding in priority
// order: structured tool-call arguments, raw or fenced JSON text, then
// tab-delimited POST lines. It never returns an error; universal failure
// yields ParseFailed with debug snippets.
func ParseMessage(msg openai.ChatCompletionMessage) ParseOutcome {
	if outcome, ok := parseToolCalls(msg.ToolCalls); ok {
		return outcome
	}
	content := strings.TrimSpace(msg.Content)
	if outcome, ok := parseJSONText(content); ok {
		return outcome
	}
	if outcome, ok := parseDelimitedLines(content); ok {
		return outcome
	}
	if content == "" || strings.EqualFold(content, noResultsMarker) {
		return ParseOutcome{Status: ParseEmpty, Strategy: "plain"}
	}
	return ParseOutcome{Status: ParseFailed, Debug: snippet(content)}
}

func parseToolCalls(calls []openai.ToolCall) (ParseOutcome, bool) {
	for _, call := range calls {
		if call.Function.Arguments == "" {
			continue
		}
		var payload structuredPayload
		if err := json.Unmarshal([]byte(call.Function.Arguments), &payload); err != nil {
			continue
		}
		return outcomeFor(payload.Posts, "tool_call"), true
	}
	return ParseOutcome{}, false
}

// parseJSONText handles raw and markdown-fenced structured text: either a
// {"posts": [...]} object or a bare post array.
func parseJSONText(content string) (ParseOutcome, bool) {
	body := unfence(content)
	if body == "" {
		return ParseOutcome{}, false
	}

	switch body[0] {
	case '{':
		var payload structuredPayload
		if err := json.Unmarshal([]byte(body), &payload); err != nil {
			return ParseOutcome{}, false
		}
		return outcomeFor(payload.Posts, "json"), true
	case '[':
		var posts []Post
		if err := json.Unmarshal([]byte(body), &posts); err != nil {
			return ParseOutcome{}, false
		}
		return outcomeFor(posts, "json"), true
	default:
		return ParseOutcome{}, false
	}
}

// parseDelimitedLines handles the record-per-line format the prompt
// requests as a token-efficient alternative to structured encoding:
//
//	POST<TAB>handle<TAB>url<TAB>created_at<TAB>text
//
// Lines that are not well-formed POST records are skipped.
func parseDelimitedLines(content string) (ParseOutcome, bool) {
	if !strings.Contains(content, "POST\t") {
		return ParseOutcome{}, false
	}

	var posts []Post
	for _, line := range strings.Split(content, "\n") {
		fields := strings.Split(strings.TrimRight(line, "\r"), "\t")
		if len(fields) < 5 || strings.TrimSpace(fields[0]) != "POST" {
			continue
		}
		text := strings.Join(fields[4:], "\t")
		if strings.TrimSpace(text) == "" {
			continue
		}
		posts = append(posts, Post{
			Handle:    strings.TrimPrefix(strings.TrimSpace(fields[1]), "@"),
			URL:       strings.TrimSpace(fields[2]),
			CreatedAt: strings.TrimSpace(fields[3]),
			Text:      strings.TrimSpace(text),
		})
	}

	if len(posts) == 0 {
		// A POST marker appeared but nothing decoded; let later
		// strategies / failure handling classify it.
		return ParseOutcome{}, false
	}
	return outcomeFor(posts, "tsv"), true
}

func outcomeFor(posts []Post, strategy string) ParseOutcome {
	kept := make([]Post, 0, len(posts))
	for _, p := range posts {
		if strings.TrimSpace(p.Text) != "" {
			kept = append(kept, p)
		}
	}
	if len(kept) == 0 {
		return ParseOutcome{Status: ParseEmpty, Strategy: strategy}
	}
	return ParseOutcome{Status: ParseOK, Posts: kept, Strategy: strategy}
}

// unfence strips a surrounding markdown code fence and leading prose
// before the first JSON bracket.
func unfence(content string) string {
	if idx := strings.Index(content, "```"); idx >= 0 {
		rest := content[idx+3:]
		if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
			// Drop the info string ("json", "txt", ...).
			rest = rest[nl+1:]
		}
		if end := strings.Index(rest, "```"); end >= 0 {
			rest = rest[:end]
		}
		content = strings.TrimSpace(rest)
	}
	start := strings.IndexAny(content, "{[")
	if start < 0 {
		return ""
	}
	return strings.TrimSpace(content[start:])
}

func snippet(content string) *ParseDebug {
	head := content
	if len(head) > debugSnippetLen {
		head = head[:debugSnippetLen]
	}
	tail := content
	if len(tail) > debugSnippetLen {
		tail = tail[len(tail)-debugSnippetLen:]
	}
	return &ParseDebug{Head: head, Tail: tail, Length: len(content)}
}
