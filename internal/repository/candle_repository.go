package repository

import (
	"context"
	"errors"
	"time"

	"adaptive-ensemble/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel/trace"
)

// ErrNoStore is returned when the repository was built without a database.
var ErrNoStore = errors.New("candle store not configured")

type PgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// CandleRepository reads and writes OHLCV candles. Closes back both realized
// prices for expired predictions and the series used for regime detection.
type CandleRepository struct {
	pool   PgxPool
	tracer trace.Tracer
}

func NewCandleRepository(pool PgxPool, tracer trace.Tracer) *CandleRepository {
	return &CandleRepository{pool: pool, tracer: tracer}
}

func (r *CandleRepository) UpsertCandles(ctx context.Context, candles []*domain.Candle) error {
	if len(candles) == 0 {
		return nil
	}
	if r.pool == nil {
		return ErrNoStore
	}

	ctx, span := r.tracer.Start(ctx, "candle-repo.upsert-candles")
	defer span.End()

	batch := &pgx.Batch{}
	for _, c := range candles {
		batch.Queue(
			`INSERT INTO candles (symbol, interval, open_time, open, high, low, close, volume)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			 ON CONFLICT (symbol, interval, open_time) DO UPDATE SET
			     open = EXCLUDED.open,
			     high = EXCLUDED.high,
			     low = EXCLUDED.low,
			     close = EXCLUDED.close,
			     volume = EXCLUDED.volume`,
			c.Symbol, c.Interval, c.OpenTime.UTC(), c.Open, c.High, c.Low, c.Close, c.Volume,
		)
	}

	br := r.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range candles {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

// GetCandles returns the most recent candles, newest first.
func (r *CandleRepository) GetCandles(ctx context.Context, symbol, interval string, limit int) ([]*domain.Candle, error) {
	if r.pool == nil {
		return nil, ErrNoStore
	}
	ctx, span := r.tracer.Start(ctx, "candle-repo.get-candles")
	defer span.End()

	rows, err := r.pool.Query(ctx,
		`SELECT symbol, interval, open_time, open, high, low, close, volume
		 FROM candles
		 WHERE symbol = $1 AND interval = $2
		 ORDER BY open_time DESC
		 LIMIT $3`,
		symbol, interval, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var candles []*domain.Candle
	for rows.Next() {
		c := &domain.Candle{}
		if err := rows.Scan(&c.Symbol, &c.Interval, &c.OpenTime, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume); err != nil {
			return nil, err
		}
		candles = append(candles, c)
	}
	return candles, rows.Err()
}

// RecentCloses returns up to limit closes in chronological order.
func (r *CandleRepository) RecentCloses(ctx context.Context, symbol, interval string, limit int) ([]float64, error) {
	candles, err := r.GetCandles(ctx, symbol, interval, limit)
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[len(candles)-1-i] = c.Close
	}
	return out, nil
}

// CloseAt returns the close of the latest candle opened at or before at and no
// earlier than at-maxAge. ok=false when no such candle exists.
func (r *CandleRepository) CloseAt(ctx context.Context, symbol, interval string, at time.Time, maxAge time.Duration) (float64, bool, error) {
	if r.pool == nil {
		return 0, false, ErrNoStore
	}
	ctx, span := r.tracer.Start(ctx, "candle-repo.close-at")
	defer span.End()

	var closePrice float64
	err := r.pool.QueryRow(ctx,
		`SELECT close
		 FROM candles
		 WHERE symbol = $1 AND interval = $2 AND open_time <= $3 AND open_time >= $4
		 ORDER BY open_time DESC
		 LIMIT 1`,
		symbol, interval, at.UTC(), at.Add(-maxAge).UTC(),
	).Scan(&closePrice)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return closePrice, true, nil
}
