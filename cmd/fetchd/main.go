// Command fetchd runs one fetch per source definition and emits the
// resulting drafts and updated cursors as JSON. Scheduling stays with the
// external job runner; fetchd is the manual/one-shot driver and the
// operational surface for metrics.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/signaldigest/signaldigest/internal/config"
	"github.com/signaldigest/signaldigest/internal/gensearch"
	"github.com/signaldigest/signaldigest/internal/ingestion"
	"github.com/signaldigest/signaldigest/internal/logging"
	"github.com/signaldigest/signaldigest/internal/metrics"
	"github.com/signaldigest/signaldigest/internal/models"
)

// runOutput is the per-source JSON document written to stdout.
type runOutput struct {
	SourceID   string                     `json:"source_id"`
	SourceType models.SourceType          `json:"source_type"`
	Error      string                     `json:"error,omitempty"`
	NextCursor models.Document            `json:"next_cursor,omitempty"`
	Meta       models.Document            `json:"meta,omitempty"`
	Drafts     []*models.ContentItemDraft `json:"drafts,omitempty"`
}

func main() {
	sourcesPath := flag.String("sources", "", "path to a JSON file with an array of fetch params")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		slog.New(slog.NewJSONHandler(os.Stderr, nil)).Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		slog.New(slog.NewJSONHandler(os.Stderr, nil)).Error("failed to init logger", "error", err)
		os.Exit(1)
	}

	if *sourcesPath == "" {
		logger.Error("missing required -sources flag")
		os.Exit(2)
	}

	if err := run(cfg, logger, *sourcesPath); err != nil {
		logger.Error("run failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger, sourcesPath string) error {
	collector, err := metrics.NewIngestionCollector()
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}
	if cfg.Metrics.Addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", collector.Handler())
		go func() {
			if err := http.ListenAndServe(cfg.Metrics.Addr, mux); err != nil {
				logger.Error("metrics listener stopped", "error", err)
			}
		}()
		logger.Info("serving metrics", "addr", cfg.Metrics.Addr)
	}

	registry, err := buildRegistry(cfg, logger)
	if err != nil {
		return err
	}

	params, err := loadSources(sourcesPath)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	ctx := context.Background()

	for _, p := range params {
		out := fetchOne(ctx, registry, collector, logger, p)
		if err := enc.Encode(out); err != nil {
			return fmt.Errorf("encode output: %w", err)
		}
	}
	return nil
}

func buildRegistry(cfg config.Config, logger *slog.Logger) (*ingestion.Registry, error) {
	client := ingestion.NewHTTPClient(ingestion.HTTPClientOptions{
		Timeout:           cfg.HTTP.Timeout,
		RequestsPerSecond: cfg.HTTP.RequestsPerSecond,
		UserAgent:         cfg.HTTP.UserAgent,
	}, logger)

	social, err := ingestion.NewSocialSearchConnector(gensearch.Config{
		APIKey:           cfg.GenSearch.APIKey,
		BaseURL:          cfg.GenSearch.BaseURL,
		Model:            cfg.GenSearch.Model,
		PerAccountTokens: cfg.GenSearch.PerAccountTokens,
		HeadroomPct:      cfg.GenSearch.HeadroomPct,
		HeadroomMin:      cfg.GenSearch.HeadroomMin,
		MaxOutputTokens:  cfg.GenSearch.MaxOutputTokens,
		HandleCapPerCall: cfg.GenSearch.HandleCapPerCall,
		FlatCostCredits:  cfg.GenSearch.FlatCostCredits,
	}, cfg.GenSearch.MaxCallsPerRun, logger)
	if err != nil {
		return nil, fmt.Errorf("build social connector: %w", err)
	}

	return ingestion.NewRegistry(
		ingestion.NewWebFeedConnector(client, logger),
		ingestion.NewForumConnector(client, logger),
		ingestion.NewCongressTradesConnector(client, logger),
		ingestion.NewOptionsFlowConnector(client, logger),
		social,
	)
}

func loadSources(path string) ([]models.FetchParams, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read sources file: %w", err)
	}
	var params []models.FetchParams
	if err := json.Unmarshal(data, &params); err != nil {
		return nil, fmt.Errorf("parse sources file: %w", err)
	}
	return params, nil
}

func fetchOne(ctx context.Context, registry *ingestion.Registry, collector *metrics.IngestionCollector, logger *slog.Logger, params models.FetchParams) runOutput {
	out := runOutput{SourceID: params.SourceID, SourceType: params.SourceType}

	connector, err := registry.Lookup(params.SourceType)
	if err != nil {
		out.Error = err.Error()
		return out
	}

	started := time.Now()
	result, err := connector.Fetch(ctx, params)
	elapsed := time.Since(started).Seconds()

	if err != nil {
		logger.Error("fetch failed",
			"source_id", params.SourceID,
			"source_type", string(params.SourceType),
			"error", err)
		collector.ObserveFetch(params.SourceType, "error", 0, elapsed)
		out.Error = err.Error()
		return out
	}

	collector.ObserveFetch(params.SourceType, "ok", len(result.RawItems), elapsed)
	observeProviderCalls(collector, result.Meta)

	out.NextCursor = result.NextCursor
	out.Meta = result.Meta
	out.Drafts = make([]*models.ContentItemDraft, 0, len(result.RawItems))

	for _, raw := range result.RawItems {
		draft, err := connector.Normalize(raw, params)
		if err != nil {
			// A single malformed item never aborts the run.
			logger.Warn("normalize failed",
				"source_id", params.SourceID,
				"error", err)
			continue
		}
		out.Drafts = append(out.Drafts, draft)
	}

	logger.Info("fetched source",
		"source_id", params.SourceID,
		"source_type", string(params.SourceType),
		"items", len(result.RawItems),
		"drafts", len(out.Drafts),
		"duration_ms", int(elapsed*1000))
	return out
}

// observeProviderCalls surfaces metered-call accounting placed in the
// fetch meta by provider-backed connectors.
func observeProviderCalls(collector *metrics.IngestionCollector, meta models.Document) {
	calls, ok := meta["provider_calls"].([]models.ProviderCallDraft)
	if !ok {
		return
	}
	for _, call := range calls {
		collector.ObserveProviderCall(call)
	}
}
