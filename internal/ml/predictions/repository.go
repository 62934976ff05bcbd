package predictions

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"adaptive-ensemble/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"go.opentelemetry.io/otel/trace"
)

type pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository persists the prediction ledger, optimized weight snapshots and
// daily reports to Postgres.
type Repository struct {
	pool   pool
	tracer trace.Tracer
}

func NewRepository(pool pool, tracer trace.Tracer) *Repository {
	return &Repository{pool: pool, tracer: tracer}
}

func (r *Repository) Name() string { return "postgres" }

// Save dispatches on entity type so the repository can sit behind a best-effort sink.
func (r *Repository) Save(ctx context.Context, entity any) error {
	switch e := entity.(type) {
	case domain.PredictionRecord:
		return r.UpsertPrediction(ctx, e)
	case domain.OptimizedWeights:
		return r.InsertWeights(ctx, e)
	case domain.DailyReport:
		return r.UpsertReport(ctx, e)
	default:
		return fmt.Errorf("postgres sink: unsupported entity %T", entity)
	}
}

const predictionColumns = `id, symbol, market_type, timeframe,
       predicted_direction, predicted_price, current_price, confidence_score,
       technical_signal, sentiment_signal, ml_signal,
       indicator_signals, weights_used, market_regime,
       created_at, expires_at, status,
       actual_price, actual_direction, direction_correct, price_error_percent, resolved_at`

// UpsertPrediction writes a record. A row that is already resolved is never
// overwritten.
func (r *Repository) UpsertPrediction(ctx context.Context, rec domain.PredictionRecord) error {
	ctx, span := r.tracer.Start(ctx, "predictions.upsert")
	defer span.End()

	indicators, err := json.Marshal(nonNilIndicators(rec.IndicatorSignals))
	if err != nil {
		return err
	}
	weights, err := json.Marshal(nonNilWeights(rec.WeightsUsed))
	if err != nil {
		return err
	}
	var actualDir *string
	if rec.ActualDirection != nil {
		s := string(*rec.ActualDirection)
		actualDir = &s
	}

	_, err = r.pool.Exec(ctx, `
INSERT INTO predictions (
    id, symbol, market_type, timeframe,
    predicted_direction, predicted_price, current_price, confidence_score,
    technical_signal, sentiment_signal, ml_signal,
    indicator_signals, weights_used, market_regime,
    created_at, expires_at, status,
    actual_price, actual_direction, direction_correct, price_error_percent, resolved_at
) VALUES (
    $1, $2, $3, $4,
    $5, $6, $7, $8,
    $9, $10, $11,
    $12, $13, $14,
    $15, $16, $17,
    $18, $19, $20, $21, $22
)
ON CONFLICT (id) DO UPDATE SET
    status = EXCLUDED.status,
    actual_price = EXCLUDED.actual_price,
    actual_direction = EXCLUDED.actual_direction,
    direction_correct = EXCLUDED.direction_correct,
    price_error_percent = EXCLUDED.price_error_percent,
    resolved_at = EXCLUDED.resolved_at
WHERE predictions.resolved_at IS NULL`,
		rec.ID,
		rec.Symbol,
		rec.MarketType,
		rec.Timeframe,
		string(rec.PredictedDirection),
		rec.PredictedPrice,
		rec.CurrentPrice,
		rec.ConfidenceScore,
		rec.TechnicalSignal,
		rec.SentimentSignal,
		rec.MLSignal,
		indicators,
		weights,
		string(rec.MarketRegime),
		rec.CreatedAt.UTC(),
		rec.ExpiresAt.UTC(),
		string(rec.Status),
		rec.ActualPrice,
		actualDir,
		rec.DirectionCorrect,
		rec.PriceErrorPercent,
		utcPtr(rec.ResolvedAt),
	)
	return err
}

// ListSince loads records created at or after since, oldest first, to seed the
// in-memory ledger on startup.
func (r *Repository) ListSince(ctx context.Context, since time.Time, limit int) ([]domain.PredictionRecord, error) {
	ctx, span := r.tracer.Start(ctx, "predictions.list-since")
	defer span.End()

	if limit <= 0 {
		limit = 5000
	}
	rows, err := r.pool.Query(ctx, `
SELECT `+predictionColumns+`
FROM predictions
WHERE created_at >= $1
ORDER BY created_at ASC
LIMIT $2`, since.UTC(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.PredictionRecord, 0)
	for rows.Next() {
		rec, err := scanPredictionRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (r *Repository) GetPrediction(ctx context.Context, id string) (domain.PredictionRecord, error) {
	ctx, span := r.tracer.Start(ctx, "predictions.get")
	defer span.End()

	row := r.pool.QueryRow(ctx, `SELECT `+predictionColumns+` FROM predictions WHERE id = $1`, id)
	return scanPredictionRow(row)
}

func (r *Repository) InsertWeights(ctx context.Context, w domain.OptimizedWeights) error {
	ctx, span := r.tracer.Start(ctx, "predictions.insert-weights")
	defer span.End()

	weights, err := json.Marshal(nonNilWeights(w.ComponentWeights))
	if err != nil {
		return err
	}
	ts := w.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	_, err = r.pool.Exec(ctx, `
INSERT INTO optimized_weights (component_weights, market_regime, optimization_confidence, sample_size, created_at)
VALUES ($1, $2, $3, $4, $5)`,
		weights, string(w.MarketRegime), w.OptimizationConfidence, w.SampleSize, ts.UTC())
	return err
}

// LatestWeights returns the most recent weight snapshot, or pgx.ErrNoRows.
func (r *Repository) LatestWeights(ctx context.Context) (domain.OptimizedWeights, error) {
	ctx, span := r.tracer.Start(ctx, "predictions.latest-weights")
	defer span.End()

	var (
		out    domain.OptimizedWeights
		raw    []byte
		regime string
	)
	err := r.pool.QueryRow(ctx, `
SELECT component_weights, market_regime, optimization_confidence, sample_size, created_at
FROM optimized_weights
ORDER BY created_at DESC
LIMIT 1`).Scan(&raw, &regime, &out.OptimizationConfidence, &out.SampleSize, &out.Timestamp)
	if err != nil {
		return domain.OptimizedWeights{}, err
	}
	if err := json.Unmarshal(raw, &out.ComponentWeights); err != nil {
		return domain.OptimizedWeights{}, fmt.Errorf("decode component weights: %w", err)
	}
	out.MarketRegime = domain.Regime(regime)
	out.Timestamp = out.Timestamp.UTC()
	return out, nil
}

func (r *Repository) UpsertReport(ctx context.Context, report domain.DailyReport) error {
	ctx, span := r.tracer.Start(ctx, "predictions.upsert-report")
	defer span.End()

	payload, err := json.Marshal(report)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `
INSERT INTO daily_reports (report_date, status, payload, generated_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (report_date) DO UPDATE SET
    status = EXCLUDED.status,
    payload = EXCLUDED.payload,
    generated_at = EXCLUDED.generated_at`,
		report.Date, string(report.Status), payload, report.GeneratedAt.UTC())
	return err
}

// GetReport returns a stored report for a YYYY-MM-DD date, or pgx.ErrNoRows.
func (r *Repository) GetReport(ctx context.Context, date string) (domain.DailyReport, error) {
	ctx, span := r.tracer.Start(ctx, "predictions.get-report")
	defer span.End()

	var raw []byte
	if err := r.pool.QueryRow(ctx, `SELECT payload FROM daily_reports WHERE report_date = $1`, date).Scan(&raw); err != nil {
		return domain.DailyReport{}, err
	}
	var out domain.DailyReport
	if err := json.Unmarshal(raw, &out); err != nil {
		return domain.DailyReport{}, fmt.Errorf("decode report %s: %w", date, err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPredictionRow(s scanner) (domain.PredictionRecord, error) {
	var (
		out                       domain.PredictionRecord
		predicted, regime, status string
		technical, sentiment, ml  pgtype.Float8
		indicators, weights       []byte
		actualPrice, priceErr     pgtype.Float8
		actualDir                 pgtype.Text
		correct                   pgtype.Bool
		resolvedAt                pgtype.Timestamptz
	)
	if err := s.Scan(
		&out.ID,
		&out.Symbol,
		&out.MarketType,
		&out.Timeframe,
		&predicted,
		&out.PredictedPrice,
		&out.CurrentPrice,
		&out.ConfidenceScore,
		&technical,
		&sentiment,
		&ml,
		&indicators,
		&weights,
		&regime,
		&out.CreatedAt,
		&out.ExpiresAt,
		&status,
		&actualPrice,
		&actualDir,
		&correct,
		&priceErr,
		&resolvedAt,
	); err != nil {
		return domain.PredictionRecord{}, err
	}

	out.PredictedDirection = domain.Direction(predicted)
	out.MarketRegime = domain.Regime(regime)
	out.Status = domain.PredictionStatus(status)
	out.CreatedAt = out.CreatedAt.UTC()
	out.ExpiresAt = out.ExpiresAt.UTC()
	out.TechnicalSignal = floatPtr(technical)
	out.SentimentSignal = floatPtr(sentiment)
	out.MLSignal = floatPtr(ml)
	out.ActualPrice = floatPtr(actualPrice)
	out.PriceErrorPercent = floatPtr(priceErr)

	if len(indicators) > 0 {
		if err := json.Unmarshal(indicators, &out.IndicatorSignals); err != nil {
			return domain.PredictionRecord{}, fmt.Errorf("decode indicator signals: %w", err)
		}
	}
	if len(weights) > 0 {
		if err := json.Unmarshal(weights, &out.WeightsUsed); err != nil {
			return domain.PredictionRecord{}, fmt.Errorf("decode weights used: %w", err)
		}
	}
	if actualDir.Valid {
		d := domain.Direction(actualDir.String)
		out.ActualDirection = &d
	}
	if correct.Valid {
		v := correct.Bool
		out.DirectionCorrect = &v
	}
	if resolvedAt.Valid {
		t := resolvedAt.Time.UTC()
		out.ResolvedAt = &t
	}
	return out, nil
}

func floatPtr(v pgtype.Float8) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

func nonNilIndicators(m map[string]float64) map[string]float64 {
	if m == nil {
		return map[string]float64{}
	}
	return m
}

func nonNilWeights(m map[domain.SignalKey]float64) map[domain.SignalKey]float64 {
	if m == nil {
		return map[domain.SignalKey]float64{}
	}
	return m
}
