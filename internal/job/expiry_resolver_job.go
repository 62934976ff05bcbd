package job

import (
	"context"
	"time"

	"adaptive-ensemble/internal/domain"
	"adaptive-ensemble/internal/ml/optimizer"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

type ExpiryResolver interface {
	CheckAndResolveExpired(ctx context.Context) int
	MaybeOptimizeWeights(ctx context.Context, prices func(context.Context) []float64, f optimizer.Filter) (domain.OptimizedWeights, bool)
}

type PendingLedger interface {
	PendingDue(asOf time.Time) []domain.PredictionRecord
}

type CloseHistory interface {
	RecentCloses(ctx context.Context, symbol string, limit int) ([]float64, error)
}

type ResolverMetrics interface {
	SetPending(n int)
	ObserveResolverRun(seconds float64)
}

type ExpiryResolverConfig struct {
	PollInterval time.Duration
	// RegimeSymbol supplies the price series used to classify the market regime
	// when weights are re-optimized. Empty means regime unknown.
	RegimeSymbol  string
	RegimeHistory int
}

// ExpiryResolverJob resolves expired predictions on a fixed interval and lets
// accumulated evidence trigger a weight re-optimization.
type ExpiryResolverJob struct {
	tracer  trace.Tracer
	loop    ExpiryResolver
	ledger  PendingLedger
	history CloseHistory
	metrics ResolverMetrics
	log     zerolog.Logger
	cfg     ExpiryResolverConfig
	now     func() time.Time
}

func NewExpiryResolverJob(tracer trace.Tracer, loop ExpiryResolver, ledger PendingLedger, history CloseHistory, metrics ResolverMetrics, log zerolog.Logger, cfg ExpiryResolverConfig) *ExpiryResolverJob {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Minute
	}
	if cfg.RegimeHistory <= 0 {
		cfg.RegimeHistory = 100
	}
	return &ExpiryResolverJob{
		tracer:  tracer,
		loop:    loop,
		ledger:  ledger,
		history: history,
		metrics: metrics,
		log:     log,
		cfg:     cfg,
		now:     time.Now,
	}
}

func (j *ExpiryResolverJob) Start(ctx context.Context) {
	if j.loop == nil {
		j.log.Info().Msg("expiry resolver job disabled: no feedback loop")
		<-ctx.Done()
		return
	}
	j.runOnce(ctx)
	ticker := time.NewTicker(j.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.runOnce(ctx)
		}
	}
}

func (j *ExpiryResolverJob) runOnce(ctx context.Context) {
	ctx, span := j.tracer.Start(ctx, "expiry-resolver-job.run-once")
	defer span.End()
	start := j.now()

	resolved := j.loop.CheckAndResolveExpired(ctx)
	span.SetAttributes(attribute.Int("resolved", resolved))
	if resolved > 0 {
		j.log.Info().Int("resolved", resolved).Msg("expired predictions resolved")
	}

	if w, ok := j.loop.MaybeOptimizeWeights(ctx, j.regimePrices, optimizer.Filter{}); ok {
		j.log.Info().
			Str("regime", string(w.MarketRegime)).
			Int("samples", w.SampleSize).
			Float64("confidence", w.OptimizationConfidence).
			Msg("component weights re-optimized")
	}

	if j.metrics != nil {
		if j.ledger != nil {
			j.metrics.SetPending(len(j.ledger.PendingDue(j.now())))
		}
		j.metrics.ObserveResolverRun(j.now().Sub(start).Seconds())
	}
}

func (j *ExpiryResolverJob) regimePrices(ctx context.Context) []float64 {
	if j.history == nil || j.cfg.RegimeSymbol == "" {
		return nil
	}
	closes, err := j.history.RecentCloses(ctx, j.cfg.RegimeSymbol, j.cfg.RegimeHistory)
	if err != nil {
		j.log.Warn().Err(err).Str("symbol", j.cfg.RegimeSymbol).Msg("regime history unavailable")
		return nil
	}
	return closes
}
