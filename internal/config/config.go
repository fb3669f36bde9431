package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"
)

// Config represents runtime configuration derived from environment
// variables.
type Config struct {
	Logging   LoggingConfig
	HTTP      HTTPConfig
	GenSearch GenSearchConfig
	Metrics   MetricsConfig
}

// LoggingConfig represents structured logging configuration.
type LoggingConfig struct {
	Level  slog.Level
	Format string
}

// HTTPConfig holds outbound HTTP client parameters shared by connectors.
type HTTPConfig struct {
	Timeout           time.Duration
	RequestsPerSecond float64
	UserAgent         string
}

// GenSearchConfig configures the generative-search provider adapter.
// Missing credentials are not an error here: the social connector fails
// soft when the key is absent.
type GenSearchConfig struct {
	APIKey           string
	BaseURL          string
	Model            string
	PerAccountTokens int
	HeadroomPct      float64
	HeadroomMin      int
	MaxOutputTokens  int
	HandleCapPerCall int
	MaxCallsPerRun   int
	FlatCostCredits  float64
}

// MetricsConfig holds the metrics listener address; empty disables the
// endpoint.
type MetricsConfig struct {
	Addr string
}

const (
	defaultLogFormat = "json"

	defaultHTTPTimeout = 30 * time.Second
	defaultUserAgent   = "signaldigest/1.0 (+https://github.com/signaldigest/signaldigest)"

	defaultGenSearchBaseURL = "https://api.x.ai/v1"
	defaultGenSearchModel   = "grok-3-mini"
	defaultMaxCallsPerRun   = 25
)

// Load reads configuration from environment variables, applying defaults
// when values are not provided and failing on invalid ones.
func Load() (Config, error) {
	cfg := Config{
		Logging: LoggingConfig{
			Level:  slog.LevelInfo,
			Format: defaultLogFormat,
		},
		HTTP: HTTPConfig{
			Timeout:   defaultHTTPTimeout,
			UserAgent: defaultUserAgent,
		},
		GenSearch: GenSearchConfig{
			APIKey:         genSearchAPIKey(),
			BaseURL:        getEnv("GENSEARCH_BASE_URL", defaultGenSearchBaseURL),
			Model:          getEnv("GENSEARCH_MODEL", defaultGenSearchModel),
			MaxCallsPerRun: defaultMaxCallsPerRun,
		},
		Metrics: MetricsConfig{
			Addr: os.Getenv("METRICS_ADDR"),
		},
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		level, err := parseLogLevel(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid LOG_LEVEL: %w", err)
		}
		cfg.Logging.Level = level
	}

	if v := os.Getenv("LOG_FORMAT"); v != "" {
		switch v {
		case "json", "text":
			cfg.Logging.Format = v
		default:
			return Config{}, fmt.Errorf("invalid LOG_FORMAT: must be 'json' or 'text'")
		}
	}

	if v := os.Getenv("HTTP_TIMEOUT_SECONDS"); v != "" {
		d, err := parseSeconds(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid HTTP_TIMEOUT_SECONDS: %w", err)
		}
		cfg.HTTP.Timeout = d
	}

	if v := os.Getenv("HTTP_REQUESTS_PER_SECOND"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f < 0 {
			return Config{}, fmt.Errorf("invalid HTTP_REQUESTS_PER_SECOND: must be a non-negative number")
		}
		cfg.HTTP.RequestsPerSecond = f
	}

	var err error
	if cfg.GenSearch.PerAccountTokens, err = intEnv("GENSEARCH_PER_ACCOUNT_TOKENS"); err != nil {
		return Config{}, err
	}
	if cfg.GenSearch.HeadroomMin, err = intEnv("GENSEARCH_HEADROOM_MIN"); err != nil {
		return Config{}, err
	}
	if cfg.GenSearch.MaxOutputTokens, err = intEnv("GENSEARCH_MAX_OUTPUT_TOKENS"); err != nil {
		return Config{}, err
	}
	if cfg.GenSearch.HandleCapPerCall, err = intEnv("GENSEARCH_HANDLE_CAP"); err != nil {
		return Config{}, err
	}

	if v := os.Getenv("GENSEARCH_MAX_CALLS_PER_RUN"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return Config{}, fmt.Errorf("invalid GENSEARCH_MAX_CALLS_PER_RUN: must be a non-negative integer")
		}
		cfg.GenSearch.MaxCallsPerRun = n
	}

	if v := os.Getenv("GENSEARCH_HEADROOM_PCT"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f < 0 || f > 1 {
			return Config{}, fmt.Errorf("invalid GENSEARCH_HEADROOM_PCT: must be between 0 and 1")
		}
		cfg.GenSearch.HeadroomPct = f
	}

	if v := os.Getenv("GENSEARCH_FLAT_COST_CREDITS"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f < 0 {
			return Config{}, fmt.Errorf("invalid GENSEARCH_FLAT_COST_CREDITS: must be a non-negative number")
		}
		cfg.GenSearch.FlatCostCredits = f
	}

	return cfg, nil
}

// genSearchAPIKey reads the provider key from the primary variable,
// falling back to the legacy name kept for existing deployments.
func genSearchAPIKey() string {
	if key := os.Getenv("GENSEARCH_API_KEY"); key != "" {
		return key
	}
	return os.Getenv("XAI_API_KEY")
}

func intEnv(name string) (int, error) {
	v := os.Getenv(name)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid %s: must be a non-negative integer", name)
	}
	return n, nil
}

func parseSeconds(raw string) (time.Duration, error) {
	seconds, err := strconv.Atoi(raw)
	if err != nil || seconds < 0 {
		return 0, fmt.Errorf("must be a non-negative integer")
	}
	return time.Duration(seconds) * time.Second, nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func parseLogLevel(raw string) (slog.Level, error) {
	switch raw {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("must be one of debug, info, warn, error")
	}
}
