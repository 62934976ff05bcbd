package config

import (
	"os"
	"path/filepath"
	"testing"

	"adaptive-ensemble/internal/domain"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"DATABASE_URL", "REDIS_URL", "HTTP_PORT", "API_KEY", "LOG_LEVEL", "LOG_FORMAT",
		"TRACING_ENABLED", "OTEL_EXPORTER_OTLP_ENDPOINT", "KAFKA_BROKERS", "KAFKA_TOPIC",
		"TELEGRAM_BOT_TOKEN", "TELEGRAM_REPORT_CHAT_ID", "FEEDBACK_RESOLVE_POLL_SECS",
		"FEEDBACK_REPORT_HOUR_UTC", "FEEDBACK_MIN_PREDICTIONS", "FEEDBACK_MAX_WEIGHT_CHANGE",
		"FEEDBACK_REGIME_SYMBOL", "ENSEMBLE_PRICE_SCALE", "ENSEMBLE_TUNING_FILE", "RECORD_WORKERS",
		"PRICE_INTERVAL", "PRICE_MAX_AGE_MINS", "RESTORE_LOOKBACK_DAYS",
	} {
		t.Setenv(k, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.RedisURL != "localhost:6379" || cfg.HTTPPort != 8080 {
		t.Fatalf("unexpected infra defaults: %+v", cfg)
	}
	if cfg.LogLevel != "info" || cfg.LogFormat != "json" || !cfg.TracingEnabled {
		t.Fatalf("unexpected ambient defaults: %+v", cfg)
	}
	if cfg.ResolvePollSecs != 60 || cfg.ReportHourUTC != 0 || cfg.RegimeSymbol != "BTC" || cfg.RecordWorkers != 8 {
		t.Fatalf("unexpected feedback defaults: %+v", cfg)
	}
	if cfg.KafkaTopic != "ensemble.events" || len(cfg.KafkaBrokers) != 0 {
		t.Fatalf("unexpected kafka defaults: %+v", cfg)
	}
	if cfg.Tuning.Optimizer.MinPredictions != 50 || cfg.Tuning.Ensemble.PriceScale != 0.03 {
		t.Fatalf("unexpected tuning defaults: %+v", cfg.Tuning)
	}
	if len(cfg.Warnings) != 3 {
		t.Fatalf("expected warnings for database, redis and api key, got %v", cfg.Warnings)
	}
}

func TestLoadWithEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("DATABASE_URL", "postgres://example")
	t.Setenv("REDIS_URL", "redis:6379")
	t.Setenv("API_KEY", "secret")
	t.Setenv("HTTP_PORT", "9090")
	t.Setenv("LOG_FORMAT", "Console")
	t.Setenv("TRACING_ENABLED", "false")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("TELEGRAM_REPORT_CHAT_ID", "-1001234")
	t.Setenv("FEEDBACK_REPORT_HOUR_UTC", "6")
	t.Setenv("FEEDBACK_REGIME_SYMBOL", "eth")
	t.Setenv("FEEDBACK_MIN_PREDICTIONS", "20")
	t.Setenv("FEEDBACK_MAX_WEIGHT_CHANGE", "0.05")
	t.Setenv("ENSEMBLE_PRICE_SCALE", "0.02")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.HTTPPort != 9090 || cfg.LogFormat != "console" || cfg.TracingEnabled {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if len(cfg.KafkaBrokers) != 2 || cfg.KafkaBrokers[1] != "k2:9092" {
		t.Fatalf("unexpected brokers: %v", cfg.KafkaBrokers)
	}
	if cfg.TelegramReportChatID != -1001234 || cfg.ReportHourUTC != 6 || cfg.RegimeSymbol != "ETH" {
		t.Fatalf("unexpected feedback config: %+v", cfg)
	}
	if cfg.Tuning.Optimizer.MinPredictions != 20 || cfg.Tuning.Optimizer.MaxWeightChange != 0.05 || cfg.Tuning.Ensemble.PriceScale != 0.02 {
		t.Fatalf("env overrides not applied: %+v", cfg.Tuning)
	}
	if len(cfg.Warnings) != 0 {
		t.Fatalf("unexpected warnings: %v", cfg.Warnings)
	}
}

func TestLoadInvalidValuesFallBack(t *testing.T) {
	clearEnv(t)
	t.Setenv("HTTP_PORT", "bad")
	t.Setenv("FEEDBACK_REPORT_HOUR_UTC", "25")
	t.Setenv("FEEDBACK_MAX_WEIGHT_CHANGE", "3")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.HTTPPort != 8080 || cfg.ReportHourUTC != 0 || cfg.Tuning.Optimizer.MaxWeightChange != 0.1 {
		t.Fatalf("invalid values should fall back to defaults: %+v", cfg)
	}
}

func writeTuning(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tuning.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write tuning: %v", err)
	}
	return path
}

func TestLoadTuningOverlay(t *testing.T) {
	path := writeTuning(t, `
model_weights:
  lstm: 0.5
  random_forest: 0.5
regime:
  volatile_threshold: 0.04
optimizer:
  min_predictions: 30
`)
	tuning, err := LoadTuning(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	models, _ := tuning.Models()
	if len(models) != 2 || models[domain.ModelRandomForest] != 0.5 {
		t.Fatalf("model weights should be replaced, got %v", models)
	}
	components, _ := tuning.Components()
	if components[domain.ComponentTechnical] != 0.4 {
		t.Fatalf("component weights should keep defaults, got %v", components)
	}
	if tuning.Regime.VolatileThreshold != 0.04 || tuning.Regime.MinPoints != 20 {
		t.Fatalf("regime overlay wrong: %+v", tuning.Regime)
	}
	if tuning.Optimizer.MinPredictions != 30 || tuning.Optimizer.MaxWeightChange != 0.1 {
		t.Fatalf("optimizer overlay wrong: %+v", tuning.Optimizer)
	}
}

func TestLoadTuningFromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("ENSEMBLE_TUNING_FILE", writeTuning(t, "optimizer:\n  min_predictions: 25\n"))
	t.Setenv("FEEDBACK_MIN_PREDICTIONS", "40")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Tuning.Optimizer.MinPredictions != 40 {
		t.Fatalf("env should win over the tuning file, got %d", cfg.Tuning.Optimizer.MinPredictions)
	}
}

func TestTuningValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Tuning)
	}{
		{"unknown model", func(tu *Tuning) { tu.ModelWeights = map[string]float64{"gru": 1} }},
		{"negative weight", func(tu *Tuning) { tu.ComponentWeights["ml"] = -1 }},
		{"all zero components", func(tu *Tuning) {
			tu.ComponentWeights = map[string]float64{"technical": 0, "sentiment": 0, "ml": 0}
		}},
		{"price scale", func(tu *Tuning) { tu.Ensemble.PriceScale = 0 }},
		{"trend efficiency", func(tu *Tuning) { tu.Regime.TrendEfficiency = 1.5 }},
		{"scorer bounds", func(tu *Tuning) { tu.Scorer.Ceiling = tu.Scorer.Floor }},
		{"max weight change", func(tu *Tuning) { tu.Optimizer.MaxWeightChange = 0 }},
		{"min weight", func(tu *Tuning) { tu.Optimizer.MinWeight = 0.4 }},
		{"component thresholds", func(tu *Tuning) { tu.Feedback.ComponentWeakBelow = 0.7 }},
		{"indicator thresholds", func(tu *Tuning) { tu.Feedback.IndicatorStrongAbove = 0.1 }},
	}
	if err := DefaultTuning().Validate(); err != nil {
		t.Fatalf("defaults must validate: %v", err)
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tu := DefaultTuning()
			tt.mutate(&tu)
			if err := tu.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestLoadTuningErrors(t *testing.T) {
	if _, err := LoadTuning(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected read error")
	}
	if _, err := LoadTuning(writeTuning(t, "model_weights: [1, 2")); err == nil {
		t.Fatal("expected parse error")
	}
	if _, err := LoadTuning(writeTuning(t, "model_weights:\n  gru: 1\n")); err == nil {
		t.Fatal("expected validation error")
	}
}
