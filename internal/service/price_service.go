package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"adaptive-ensemble/internal/domain"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	closesCacheTTL = 90 * time.Second
	actualCacheTTL = 24 * time.Hour

	defaultPriceInterval = "5m"
	defaultPriceMaxAge   = 15 * time.Minute
)

type CandleRepository interface {
	UpsertCandles(ctx context.Context, candles []*domain.Candle) error
	RecentCloses(ctx context.Context, symbol, interval string, limit int) ([]float64, error)
	CloseAt(ctx context.Context, symbol, interval string, at time.Time, maxAge time.Duration) (float64, bool, error)
}

type RedisClient interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
}

// PriceService resolves realized prices and recent price series from stored
// candles, with a Redis read-through cache in front.
type PriceService struct {
	tracer   trace.Tracer
	repo     CandleRepository
	redis    RedisClient
	log      zerolog.Logger
	interval string
	maxAge   time.Duration
}

func NewPriceService(
	tracer trace.Tracer,
	repo CandleRepository,
	redisClient RedisClient,
	log zerolog.Logger,
	interval string,
	maxAge time.Duration,
) *PriceService {
	if strings.TrimSpace(interval) == "" {
		interval = defaultPriceInterval
	}
	if maxAge <= 0 {
		maxAge = defaultPriceMaxAge
	}
	return &PriceService{
		tracer:   tracer,
		repo:     repo,
		redis:    redisClient,
		log:      log,
		interval: interval,
		maxAge:   maxAge,
	}
}

// FetchActualPrice returns the close nearest to (and not after) at. ok=false
// when no candle covers that moment yet.
func (s *PriceService) FetchActualPrice(ctx context.Context, symbol string, at time.Time) (float64, bool, error) {
	ctx, span := s.tracer.Start(ctx, "price-service.fetch-actual-price")
	defer span.End()

	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	span.SetAttributes(attribute.String("symbol", symbol))
	key := fmt.Sprintf("actual:%s:%s:%d", symbol, s.interval, at.UTC().Unix())

	if s.redis != nil {
		var cached float64
		hit, err := s.getCache(ctx, key, &cached)
		if err != nil {
			s.log.Warn().Err(err).Str("key", key).Msg("redis cache read error")
		}
		if hit {
			return cached, true, nil
		}
	}

	price, ok, err := s.repo.CloseAt(ctx, symbol, s.interval, at, s.maxAge)
	if err != nil {
		return 0, false, fmt.Errorf("close at %s for %s: %w", at.UTC().Format(time.RFC3339), symbol, err)
	}
	if !ok {
		return 0, false, nil
	}
	if s.redis != nil {
		if err := s.setCache(ctx, key, price, actualCacheTTL); err != nil {
			s.log.Warn().Err(err).Str("key", key).Msg("redis cache write error")
		}
	}
	return price, true, nil
}

// RecentCloses returns up to limit closes in chronological order.
func (s *PriceService) RecentCloses(ctx context.Context, symbol string, limit int) ([]float64, error) {
	ctx, span := s.tracer.Start(ctx, "price-service.recent-closes")
	defer span.End()

	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	key := fmt.Sprintf("closes:%s:%s:%d", symbol, s.interval, limit)
	if s.redis != nil {
		var cached []float64
		hit, err := s.getCache(ctx, key, &cached)
		if err != nil {
			s.log.Warn().Err(err).Str("key", key).Msg("redis cache read error")
		}
		if hit {
			return cached, nil
		}
	}

	closes, err := s.repo.RecentCloses(ctx, symbol, s.interval, limit)
	if err != nil {
		return nil, err
	}
	if s.redis != nil && len(closes) > 0 {
		_ = s.setCache(ctx, key, closes, closesCacheTTL)
	}
	return closes, nil
}

// IngestCandles stores externally supplied candles.
func (s *PriceService) IngestCandles(ctx context.Context, candles []*domain.Candle) error {
	ctx, span := s.tracer.Start(ctx, "price-service.ingest-candles")
	defer span.End()

	for _, c := range candles {
		c.Symbol = strings.ToUpper(strings.TrimSpace(c.Symbol))
		if c.Interval == "" {
			c.Interval = s.interval
		}
	}
	if err := s.repo.UpsertCandles(ctx, candles); err != nil {
		return fmt.Errorf("upsert candles: %w", err)
	}
	s.log.Debug().Int("candles", len(candles)).Msg("ingested candles")
	return nil
}

func (s *PriceService) setCache(ctx context.Context, key string, v any, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.redis.Set(ctx, key, data, ttl).Err()
}

func (s *PriceService) getCache(ctx context.Context, key string, dst any) (bool, error) {
	data, err := s.redis.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return false, err
	}
	return true, nil
}
