// Package gensearch wraps a generative-search provider used as a proxy
// for social-media search. The provider is an LLM-backed search surface
// exposed through an OpenAI-compatible chat-completions API with no
// guaranteed output schema, so the adapter owns query compilation,
// account batching, token-budget management, layered response parsing and
// per-call cost accounting.
package gensearch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	openai "github.com/sashabaranov/go-openai"

	"github.com/signaldigest/signaldigest/internal/models"
)

// DefaultHandleCapPerCall is the provider-imposed maximum number of
// account handles per call. Observed provider limits have varied, so the
// cap stays a configurable constant rather than a hard-coded magic
// number.
const DefaultHandleCapPerCall = 5

const (
	defaultPerAccountTokens = 800
	defaultHeadroomPct      = 0.20
	defaultHeadroomMin      = 256
	defaultMaxOutputTokens  = 8192
	defaultFlatCostCredits  = 1.0
	defaultTimeout          = 120 * time.Second

	maxCallRetries = 3
	baseRetryDelay = 1 * time.Second
)

// Config configures the provider adapter.
type Config struct {
	APIKey           string
	BaseURL          string
	Model            string
	PerAccountTokens int     // default per-account output-token budget
	HeadroomPct      float64 // headroom margin as a fraction of base
	HeadroomMin      int     // headroom floor in tokens
	MaxOutputTokens  int     // hard ceiling on max output tokens
	HandleCapPerCall int     // provider max handles per call
	FlatCostCredits  float64 // per-call cost estimate when usage is absent
	Timeout          time.Duration
}

func (c Config) withDefaults() Config {
	if c.PerAccountTokens <= 0 {
		c.PerAccountTokens = defaultPerAccountTokens
	}
	if c.HeadroomPct <= 0 {
		c.HeadroomPct = defaultHeadroomPct
	}
	if c.HeadroomMin <= 0 {
		c.HeadroomMin = defaultHeadroomMin
	}
	if c.MaxOutputTokens <= 0 {
		c.MaxOutputTokens = defaultMaxOutputTokens
	}
	if c.HandleCapPerCall <= 0 {
		c.HandleCapPerCall = DefaultHandleCapPerCall
	}
	if c.FlatCostCredits <= 0 {
		c.FlatCostCredits = defaultFlatCostCredits
	}
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
	return c
}

// Adapter is a stateless per-call wrapper around the provider.
type Adapter struct {
	client *openai.Client
	cfg    Config
	logger *slog.Logger
	now    func() time.Time
}

// New builds an adapter. The API key must be present; connectors decide
// the soft-skip policy for unconfigured credentials before constructing
// one.
func New(cfg Config, logger *slog.Logger) (*Adapter, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("gensearch: api key is required")
	}
	if cfg.Model == "" {
		return nil, errors.New("gensearch: model is required")
	}
	cfg = cfg.withDefaults()

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Adapter{
		client: openai.NewClientWithConfig(clientCfg),
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}, nil
}

// HandleCap exposes the effective per-call handle cap.
func (a *Adapter) HandleCap() int { return a.cfg.HandleCapPerCall }

// SearchResult aggregates one search run across all compiled queries.
type SearchResult struct {
	Posts      []Post
	Calls      []models.ProviderCallDraft
	Attempted  int
	Succeeded  int
	AuthFailed bool
	Errors     []string
}

// Search executes the compiled queries sequentially. Sequential dispatch
// is deliberate: a 401/403 on any call aborts the remaining calls in the
// run, and the call budget can short-circuit before a request is made.
// Per-call failures are recorded as failed ProviderCallDrafts and never
// abort the batch.
func (a *Adapter) Search(ctx context.Context, userID string, spec SearchSpec, budget *CallBudget) *SearchResult {
	result := &SearchResult{}
	queries := CompileQueries(spec, a.cfg.HandleCapPerCall)

	for i, query := range queries {
		if budget != nil && !budget.Allow() {
			a.logger.Warn("call budget exhausted, skipping remaining queries",
				"user_id", userID,
				"dispatched", i,
				"remaining", len(queries)-i)
			result.Errors = append(result.Errors, "call budget exhausted")
			break
		}

		result.Attempted++
		tb := ComputeTokenBudget(
			len(query.Accounts),
			spec.PerAccountTokens,
			a.cfg.PerAccountTokens,
			a.cfg.HeadroomPct,
			a.cfg.HeadroomMin,
			a.cfg.MaxOutputTokens,
		)

		outcome, draft, err := a.executeQuery(ctx, userID, query, tb)
		result.Calls = append(result.Calls, draft)

		if err != nil {
			result.Errors = append(result.Errors, err.Error())
			if isAuthError(err) {
				a.logger.Error("provider rejected credentials, aborting run",
					"user_id", userID,
					"dispatched", result.Attempted,
					"abandoned", len(queries)-i-1)
				result.AuthFailed = true
				return result
			}
			continue
		}

		result.Succeeded++
		switch outcome.Status {
		case ParseOK:
			result.Posts = append(result.Posts, outcome.Posts...)
		case ParseFailed:
			a.logger.Warn("provider answer unparsable",
				"user_id", userID,
				"length", outcome.Debug.Length,
				"head", outcome.Debug.Head)
			result.Errors = append(result.Errors, fmt.Sprintf("unparsable answer (%d bytes)", outcome.Debug.Length))
		}
	}

	return result
}

// executeQuery issues one provider call with bounded exponential-backoff
// retries on 429/5xx. A single accounting draft is produced per logical
// call; retries are not recorded as separate failures.
func (a *Adapter) executeQuery(ctx context.Context, userID string, query Query, tb TokenBudget) (ParseOutcome, models.ProviderCallDraft, error) {
	request := openai.ChatCompletionRequest{
		Model:               a.cfg.Model,
		MaxCompletionTokens: tb.MaxOutputTokens,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: searchSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: query.Text},
		},
		Tools: []openai.Tool{reportPostsTool},
	}

	started := a.now()
	var resp openai.ChatCompletionResponse
	var err error

	for attempt := 0; attempt < maxCallRetries; attempt++ {
		if attempt > 0 {
			delay := baseRetryDelay << uint(attempt-1)
			select {
			case <-ctx.Done():
				err = fmt.Errorf("retry cancelled: %w", ctx.Err())
			case <-time.After(delay):
			}
			if ctx.Err() != nil {
				break
			}
		}

		callCtx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
		resp, err = a.client.CreateChatCompletion(callCtx, request)
		cancel()

		if err == nil || !isTransientError(err) {
			break
		}
		a.logger.Warn("transient provider error, retrying",
			"attempt", attempt+1,
			"error", err)
	}
	ended := a.now()

	draft := models.ProviderCallDraft{
		ID:        uuid.NewString(),
		UserID:    userID,
		Purpose:   "social_search",
		Provider:  "gensearch",
		Model:     a.cfg.Model,
		StartedAt: started,
		EndedAt:   ended,
		Meta: map[string]any{
			"query":        query.Text,
			"group_size":   len(query.Accounts),
			"budget_mode":  string(tb.Mode),
			"max_out_toks": tb.MaxOutputTokens,
		},
	}

	if err != nil {
		draft.Status = models.CallStatusError
		draft.Error = err.Error()
		flat := a.cfg.FlatCostCredits
		draft.CostEstimateCredits = &flat
		return ParseOutcome{}, draft, err
	}

	draft.Status = models.CallStatusOK
	a.recordUsage(&draft, resp.Usage)

	if len(resp.Choices) == 0 {
		draft.Meta["parse_status"] = string(ParseEmpty)
		return ParseOutcome{Status: ParseEmpty}, draft, nil
	}

	outcome := ParseMessage(resp.Choices[0].Message)
	draft.Meta["parse_status"] = string(outcome.Status)
	if outcome.Strategy != "" {
		draft.Meta["parse_strategy"] = outcome.Strategy
	}
	if outcome.Debug != nil {
		draft.Meta["debug"] = outcome.Debug
	}
	return outcome, draft, nil
}

// recordUsage fills token and cost fields from the response when usage
// data is present. Absent usage does not fail the call; cost falls back
// to a flat per-call estimate for budgeting.
func (a *Adapter) recordUsage(draft *models.ProviderCallDraft, usage openai.Usage) {
	if usage.TotalTokens == 0 {
		flat := a.cfg.FlatCostCredits
		draft.CostEstimateCredits = &flat
		return
	}
	in, out := usage.PromptTokens, usage.CompletionTokens
	draft.InputTokens = &in
	draft.OutputTokens = &out
	usd := estimateCostUSD(a.cfg.Model, in, out)
	draft.CostEstimateUSD = &usd
}

// estimateCostUSD applies rough per-million-token pricing by model
// family.
func estimateCostUSD(model string, inputTokens, outputTokens int) float64 {
	var inPerM, outPerM float64
	switch model {
	case "grok-3-mini", "grok-3-mini-fast":
		inPerM, outPerM = 0.30, 0.50
	case "grok-3", "grok-3-fast":
		inPerM, outPerM = 3.00, 15.00
	case "grok-4":
		inPerM, outPerM = 3.00, 15.00
	default:
		inPerM, outPerM = 5.00, 15.00
	}
	return (float64(inputTokens)/1_000_000)*inPerM + (float64(outputTokens)/1_000_000)*outPerM
}

// isTransientError reports whether a provider error is worth retrying
// (HTTP 429 or 5xx).
func isTransientError(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == http.StatusTooManyRequests || apiErr.HTTPStatusCode >= 500
	}
	return false
}

// isAuthError reports an authoritative rejection (HTTP 401/403) that must
// abort the remaining calls of the run.
func isAuthError(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == http.StatusUnauthorized || apiErr.HTTPStatusCode == http.StatusForbidden
	}
	return false
}

// searchSystemPrompt asks for the tab-delimited record-per-line encoding,
// which costs fewer output tokens than structured JSON; the parser still
// accepts tool-call and JSON answers from providers that ignore it.
const searchSystemPrompt = `You are a social media search engine. Execute the user's search query and return matching posts.

Output one line per post, tab-separated:
POST	<handle>	<post url>	<ISO 8601 timestamp>	<post text on one line>

Return the posts only, no commentary. If nothing matches, output exactly:
NO_RESULTS`

// reportPostsTool is offered so structured-output-inclined models can
// answer through a function call instead of text.
var reportPostsTool = openai.Tool{
	Type: openai.ToolTypeFunction,
	Function: &openai.FunctionDefinition{
		Name:        "report_posts",
		Description: "Report the social posts matching the search query.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"posts": map[string]any{
					"type": "array",
					"items": map[string]any{
						"type": "object",
						"properties": map[string]any{
							"id":         map[string]any{"type": "string"},
							"handle":     map[string]any{"type": "string"},
							"url":        map[string]any{"type": "string"},
							"text":       map[string]any{"type": "string"},
							"created_at": map[string]any{"type": "string"},
						},
						"required": []string{"text"},
					},
				},
			},
			"required": []string{"posts"},
		},
	},
}
