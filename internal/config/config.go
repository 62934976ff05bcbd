package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

type Config struct {
	DatabaseURL string
	RedisURL    string
	HTTPPort    int
	APIKey      string

	LogLevel  string
	LogFormat string

	TracingEnabled bool
	OTLPEndpoint   string

	KafkaBrokers []string
	KafkaTopic   string

	TelegramBotToken     string
	TelegramReportChatID int64

	ResolvePollSecs     int
	ReportHourUTC       int
	RegimeSymbol        string
	PriceInterval       string
	PriceMaxAgeMins     int
	RecordWorkers       int
	RestoreLookbackDays int

	TuningFile string
	Tuning     Tuning

	// Warnings collects non-fatal problems found while loading. They are
	// logged once the logger exists.
	Warnings []string
}

// Load reads the environment, then overlays the optional tuning file and the
// tuning env overrides on top of the built-in defaults.
func Load() (*Config, error) {
	cfg := &Config{
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		RedisURL:         os.Getenv("REDIS_URL"),
		APIKey:           os.Getenv("API_KEY"),
		TelegramBotToken: os.Getenv("TELEGRAM_BOT_TOKEN"),
		OTLPEndpoint:     strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")),
		TuningFile:       strings.TrimSpace(os.Getenv("ENSEMBLE_TUNING_FILE")),
	}

	if cfg.DatabaseURL == "" {
		cfg.warn("DATABASE_URL not set, predictions will not be persisted")
	}
	if cfg.RedisURL == "" {
		cfg.warn("REDIS_URL not set, defaulting to localhost:6379")
		cfg.RedisURL = "localhost:6379"
	}
	if cfg.APIKey == "" {
		cfg.warn("API_KEY not set, write endpoints are unauthenticated")
	}

	cfg.HTTPPort = cfg.positiveInt("HTTP_PORT", 8080)

	cfg.LogLevel = strings.ToLower(strings.TrimSpace(os.Getenv("LOG_LEVEL")))
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	cfg.LogFormat = strings.ToLower(strings.TrimSpace(os.Getenv("LOG_FORMAT")))
	if cfg.LogFormat != "console" {
		cfg.LogFormat = "json"
	}

	cfg.TracingEnabled = !strings.EqualFold(strings.TrimSpace(os.Getenv("TRACING_ENABLED")), "false")

	if v := strings.TrimSpace(os.Getenv("KAFKA_BROKERS")); v != "" {
		for _, b := range strings.Split(v, ",") {
			if b = strings.TrimSpace(b); b != "" {
				cfg.KafkaBrokers = append(cfg.KafkaBrokers, b)
			}
		}
	}
	cfg.KafkaTopic = strings.TrimSpace(os.Getenv("KAFKA_TOPIC"))
	if cfg.KafkaTopic == "" {
		cfg.KafkaTopic = "ensemble.events"
	}

	if v := strings.TrimSpace(os.Getenv("TELEGRAM_REPORT_CHAT_ID")); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.TelegramReportChatID = n
		} else {
			cfg.warn(fmt.Sprintf("invalid TELEGRAM_REPORT_CHAT_ID=%q, report push disabled", v))
		}
	}

	cfg.ResolvePollSecs = cfg.positiveInt("FEEDBACK_RESOLVE_POLL_SECS", 60)

	cfg.ReportHourUTC = 0
	if v := strings.TrimSpace(os.Getenv("FEEDBACK_REPORT_HOUR_UTC")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 && n <= 23 {
			cfg.ReportHourUTC = n
		} else {
			cfg.warn(fmt.Sprintf("invalid FEEDBACK_REPORT_HOUR_UTC=%q, using 0", v))
		}
	}

	cfg.RegimeSymbol = strings.ToUpper(strings.TrimSpace(os.Getenv("FEEDBACK_REGIME_SYMBOL")))
	if cfg.RegimeSymbol == "" {
		cfg.RegimeSymbol = "BTC"
	}

	cfg.PriceInterval = strings.TrimSpace(os.Getenv("PRICE_INTERVAL"))
	if cfg.PriceInterval == "" {
		cfg.PriceInterval = "5m"
	}
	cfg.PriceMaxAgeMins = cfg.positiveInt("PRICE_MAX_AGE_MINS", 15)
	cfg.RecordWorkers = cfg.positiveInt("RECORD_WORKERS", 8)
	cfg.RestoreLookbackDays = cfg.positiveInt("RESTORE_LOOKBACK_DAYS", 30)

	tuning := DefaultTuning()
	if cfg.TuningFile != "" {
		var err error
		if tuning, err = LoadTuning(cfg.TuningFile); err != nil {
			return nil, err
		}
	}
	if v := strings.TrimSpace(os.Getenv("FEEDBACK_MIN_PREDICTIONS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			tuning.Optimizer.MinPredictions = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("FEEDBACK_MAX_WEIGHT_CHANGE")); v != "" {
		if n, err := strconv.ParseFloat(v, 64); err == nil && n > 0 && n <= 1 {
			tuning.Optimizer.MaxWeightChange = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("ENSEMBLE_PRICE_SCALE")); v != "" {
		if n, err := strconv.ParseFloat(v, 64); err == nil && n > 0 && n < 1 {
			tuning.Ensemble.PriceScale = n
		}
	}
	if err := tuning.Validate(); err != nil {
		return nil, fmt.Errorf("validate tuning: %w", err)
	}
	cfg.Tuning = tuning

	return cfg, nil
}

func (c *Config) warn(msg string) {
	c.Warnings = append(c.Warnings, msg)
}

func (c *Config) positiveInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		c.warn(fmt.Sprintf("invalid %s=%q, using %d", key, v, def))
		return def
	}
	return n
}
