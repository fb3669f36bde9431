package gensearch

import (
	"strings"
	"testing"

	openai "github.com/sashabaranov/go-openai"
)

func TestParseMessageToolCall(t *testing.T) {
	msg := openai.ChatCompletionMessage{
		ToolCalls: []openai.ToolCall{
			{
				Function: openai.FunctionCall{
					Name:      "report_posts",
					Arguments: `{"posts":[{"id":"1","handle":"alice","text":"hello","created_at":"2024-04-29T12:00:00Z"}]}`,
				},
			},
		},
	}

	outcome := ParseMessage(msg)
	if outcome.Status != ParseOK {
		t.Fatalf("status = %q, want parsed", outcome.Status)
	}
	if outcome.Strategy != "tool_call" {
		t.Errorf("strategy = %q", outcome.Strategy)
	}
	if len(outcome.Posts) != 1 || outcome.Posts[0].Handle != "alice" {
		t.Errorf("posts = %+v", outcome.Posts)
	}
}

func TestParseMessageToolCallEmptyPosts(t *testing.T) {
	msg := openai.ChatCompletionMessage{
		ToolCalls: []openai.ToolCall{
			{Function: openai.FunctionCall{Arguments: `{"posts":[]}`}},
		},
	}
	if got := ParseMessage(msg).Status; got != ParseEmpty {
		t.Errorf("status = %q, want empty", got)
	}
}

func TestParseMessageJSONObject(t *testing.T) {
	msg := openai.ChatCompletionMessage{
		Content: `{"posts":[{"text":"first"},{"text":"second"}]}`,
	}
	outcome := ParseMessage(msg)
	if outcome.Status != ParseOK || len(outcome.Posts) != 2 {
		t.Fatalf("outcome = %+v", outcome)
	}
	if outcome.Strategy != "json" {
		t.Errorf("strategy = %q", outcome.Strategy)
	}
}

func TestParseMessageJSONArray(t *testing.T) {
	msg := openai.ChatCompletionMessage{
		Content: `[{"text":"a post","handle":"bob"}]`,
	}
	outcome := ParseMessage(msg)
	if outcome.Status != ParseOK || len(outcome.Posts) != 1 {
		t.Fatalf("outcome = %+v", outcome)
	}
}

func TestParseMessageFencedJSON(t *testing.T) {
	msg := openai.ChatCompletionMessage{
		Content: "Here are the results:\n```json\n{\"posts\":[{\"text\":\"fenced\"}]}\n```\n",
	}
	outcome := ParseMessage(msg)
	if outcome.Status != ParseOK || len(outcome.Posts) != 1 || outcome.Posts[0].Text != "fenced" {
		t.Fatalf("outcome = %+v", outcome)
	}
}

func TestParseMessageTSV(t *testing.T) {
	content := strings.Join([]string{
		"POST\t@alice\thttps://x.com/alice/status/1\t2024-04-29T12:00:00Z\tHello world",
		"not a post line",
		"POST\tbob\thttps://x.com/bob/status/2\t2024-04-29T13:00:00Z\ttabs\tin\ttext",
		"POST\tcarol\t\t\t", // blank text skipped
	}, "\n")

	outcome := ParseMessage(openai.ChatCompletionMessage{Content: content})
	if outcome.Status != ParseOK {
		t.Fatalf("status = %q, want parsed", outcome.Status)
	}
	if outcome.Strategy != "tsv" {
		t.Errorf("strategy = %q", outcome.Strategy)
	}
	if len(outcome.Posts) != 2 {
		t.Fatalf("got %d posts, want 2", len(outcome.Posts))
	}
	if outcome.Posts[0].Handle != "alice" {
		t.Errorf("handle = %q, want @ stripped", outcome.Posts[0].Handle)
	}
	// Tabs inside the text column are rejoined.
	if outcome.Posts[1].Text != "tabs\tin\ttext" {
		t.Errorf("text = %q", outcome.Posts[1].Text)
	}
}

func TestParseMessageEmpty(t *testing.T) {
	for _, content := range []string{"", "NO_RESULTS", "no_results", "  NO_RESULTS  "} {
		outcome := ParseMessage(openai.ChatCompletionMessage{Content: content})
		if outcome.Status != ParseEmpty {
			t.Errorf("ParseMessage(%q) status = %q, want empty", content, outcome.Status)
		}
	}
}

func TestParseMessageUnparsable(t *testing.T) {
	content := strings.Repeat("I could not find anything relevant to your query. ", 20)
	outcome := ParseMessage(openai.ChatCompletionMessage{Content: content})

	if outcome.Status != ParseFailed {
		t.Fatalf("status = %q, want unparsable", outcome.Status)
	}
	if outcome.Debug == nil {
		t.Fatal("debug snippets missing")
	}
	if len(outcome.Debug.Head) != 200 || len(outcome.Debug.Tail) != 200 {
		t.Errorf("snippet lengths = %d/%d, want 200/200", len(outcome.Debug.Head), len(outcome.Debug.Tail))
	}
	if outcome.Debug.Length != len(strings.TrimSpace(content)) {
		t.Errorf("debug length = %d", outcome.Debug.Length)
	}
}

func TestParseMessageMalformedJSONFallsThrough(t *testing.T) {
	// Broken JSON containing TSV records still parses via the line format.
	content := "{\"posts\": oops\nPOST\talice\thttps://x.com/alice/status/1\t2024-04-29T12:00:00Z\tStill works"
	outcome := ParseMessage(openai.ChatCompletionMessage{Content: content})
	if outcome.Status != ParseOK || outcome.Strategy != "tsv" {
		t.Fatalf("outcome = %+v, want tsv fallback", outcome)
	}
}

func TestParseMessagePriorityToolCallOverText(t *testing.T) {
	msg := openai.ChatCompletionMessage{
		Content: "POST\ttext\turl\tdate\tshould be ignored",
		ToolCalls: []openai.ToolCall{
			{Function: openai.FunctionCall{Arguments: `{"posts":[{"text":"from tool"}]}`}},
		},
	}
	outcome := ParseMessage(msg)
	if outcome.Strategy != "tool_call" {
		t.Errorf("strategy = %q, want tool_call to win", outcome.Strategy)
	}
	if len(outcome.Posts) != 1 || outcome.Posts[0].Text != "from tool" {
		t.Errorf("posts = %+v", outcome.Posts)
	}
}

func TestParseMessageFiltersEmptyTextPosts(t *testing.T) {
	msg := openai.ChatCompletionMessage{
		Content: `{"posts":[{"text":"  "},{"text":""},{"handle":"x"}]}`,
	}
	if got := ParseMessage(msg).Status; got != ParseEmpty {
		t.Errorf("status = %q, want empty when no post has text", got)
	}
}
