package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"adaptive-ensemble/internal/bot"
	"adaptive-ensemble/internal/cache"
	"adaptive-ensemble/internal/config"
	"adaptive-ensemble/internal/db"
	"adaptive-ensemble/internal/domain"
	"adaptive-ensemble/internal/handler"
	"adaptive-ensemble/internal/job"
	"adaptive-ensemble/internal/ml/ensemble"
	"adaptive-ensemble/internal/ml/feedback"
	"adaptive-ensemble/internal/ml/optimizer"
	"adaptive-ensemble/internal/ml/predictions"
	"adaptive-ensemble/internal/ml/regime"
	"adaptive-ensemble/internal/ml/scorer"
	"adaptive-ensemble/internal/ml/tracker"
	"adaptive-ensemble/internal/repository"
	"adaptive-ensemble/internal/service"
	"adaptive-ensemble/internal/sink"
	"adaptive-ensemble/pkg/kafka"
	"adaptive-ensemble/pkg/logger"
	"adaptive-ensemble/pkg/metrics"
	"adaptive-ensemble/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	tele "gopkg.in/telebot.v3"

	_ "adaptive-ensemble/docs"
)

const (
	version      = "1.0.0"
	restoreLimit = 20000
)

// eventSink is the Kafka producer as seen by the composition root.
type eventSink interface {
	sink.Sink
	Close() error
}

var (
	loadEnvFunc      = godotenv.Load
	loadConfigFunc   = config.Load
	newLoggerFunc    = logger.New
	initTracerFunc   = tracing.InitTracer
	initPostgresFunc = db.InitPostgres
	initRedisFunc    = cache.InitRedis
	newProducerFunc  = func(brokers []string, topic string) (eventSink, error) {
		return kafka.NewProducer(kafka.WithBrokers(brokers), kafka.WithTopic(topic), kafka.WithAsync(true))
	}
	startTelegramBotFunc   = bot.StartTelegramBot
	newReportNotifierFunc  = bot.NewReportNotifier
	startJobFunc           = func(ctx context.Context, j interface{ Start(context.Context) }) { go j.Start(ctx) }
	newRouterFunc          = gin.New
	setupSignalNotify      = signal.Notify
	waitForSignalFunc      = func(quit <-chan os.Signal) { <-quit }
	startHTTPServerFunc    = func(srv *http.Server) error { return srv.ListenAndServe() }
	shutdownHTTPServerFunc = func(srv *http.Server, ctx context.Context) error { return srv.Shutdown(ctx) }
)

// @title           Adaptive Ensemble API
// @version         1.0
// @description     Ensemble forecasts with outcome tracking and adaptive component weights.

// @host      localhost:8080
// @BasePath  /

// @securityDefinitions.apikey  ApiKeyAuth
// @in                          header
// @name                        X-API-Key
func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "adaptive-ensemble: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	_ = loadEnvFunc()

	cfg, err := loadConfigFunc()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := newLoggerFunc(logger.Config{
		Level:   cfg.LogLevel,
		Format:  cfg.LogFormat,
		Service: tracing.ServiceName,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	for _, w := range cfg.Warnings {
		log.Warn().Msg(w)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tp, tracer, err := initTracerFunc(ctx, tracing.Options{
		Enabled:  cfg.TracingEnabled,
		Endpoint: cfg.OTLPEndpoint,
		Version:  version,
	})
	if err != nil {
		return fmt.Errorf("init tracer: %w", err)
	}
	defer func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			log.Error().Err(err).Msg("error shutting down tracer provider")
		}
	}()

	// Postgres and Redis are both optional: the service degrades to
	// in-memory state without them.
	var pool *pgxpool.Pool
	if cfg.DatabaseURL != "" {
		pool, err = initPostgresFunc(ctx, cfg.DatabaseURL, log)
		if err != nil {
			log.Error().Err(err).Msg("postgres unavailable, continuing without persistence")
			pool = nil
		}
	}
	if pool != nil {
		defer pool.Close()
	}

	var rdb *redis.Client
	if rdb, err = initRedisFunc(ctx, cfg.RedisURL, log); err != nil {
		log.Error().Err(err).Msg("redis unavailable, continuing without cache")
		rdb = nil
	}
	if rdb != nil {
		defer rdb.Close()
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	recorder := metrics.New(registry)

	// Storage.
	var candlePool repository.PgxPool
	if pool != nil {
		candlePool = pool
	}
	candleRepo := repository.NewCandleRepository(candlePool, tracer)

	var priceCache service.RedisClient
	var weightsStore *cache.WeightsStore
	if rdb != nil {
		priceCache = rdb
		weightsStore = cache.NewWeightsStore(rdb, cache.DefaultWeightsKey)
	}
	priceService := service.NewPriceService(tracer, candleRepo, priceCache, log,
		cfg.PriceInterval, time.Duration(cfg.PriceMaxAgeMins)*time.Minute)

	var predictionRepo *predictions.Repository
	if pool != nil {
		predictionRepo = predictions.NewRepository(pool, tracer)
	}

	var producer eventSink
	if len(cfg.KafkaBrokers) > 0 {
		if producer, err = newProducerFunc(cfg.KafkaBrokers, cfg.KafkaTopic); err != nil {
			log.Error().Err(err).Msg("kafka producer unavailable, events will not be published")
			producer = nil
		}
	}
	if producer != nil {
		defer func() {
			if err := producer.Close(); err != nil {
				log.Warn().Err(err).Msg("error closing kafka producer")
			}
		}()
	}

	sinks := make([]sink.Sink, 0, 3)
	if predictionRepo != nil {
		sinks = append(sinks, predictionRepo)
	}
	if weightsStore != nil {
		sinks = append(sinks, weightsStore)
	}
	if producer != nil {
		sinks = append(sinks, producer)
	}
	persister := sink.NewBestEffort(log, sinks...)
	persister.OnFailure = recorder.PersistFailed
	log.Info().Int("sinks", persister.Len()).Msg("persistence sinks configured")

	// Forecasting core.
	models, err := cfg.Tuning.Models()
	if err != nil {
		return fmt.Errorf("model weights: %w", err)
	}
	components, err := cfg.Tuning.Components()
	if err != nil {
		return fmt.Errorf("component weights: %w", err)
	}

	ledger := tracker.New()
	indicatorScorer := scorer.New(cfg.Tuning.Scorer)
	detector := regime.NewDetector(cfg.Tuning.Regime)
	weightOptimizer := optimizer.New(cfg.Tuning.Optimizer, ledger, indicatorScorer, detector, components, log, tracer)

	since := time.Now().AddDate(0, 0, -cfg.RestoreLookbackDays)
	if predictionRepo != nil {
		restoreLedger(ctx, predictionRepo, ledger, since, log)
	}
	restoreWeights(ctx, weightOptimizer, weightsCandidates(weightsStore, predictionRepo), log)

	loop := feedback.NewLoop(cfg.Tuning.Feedback, feedback.Deps{
		Ledger:    ledger,
		Scorer:    indicatorScorer,
		Optimizer: weightOptimizer,
		Prices:    priceService,
		Persister: persister,
		Observer:  recorder,
		Log:       log,
		Tracer:    tracer,
	})

	predictionService := service.NewPredictionService(service.PredictionDeps{
		Ensemble:     ensemble.NewAggregator(cfg.Tuning.Ensemble, log, tracer),
		Recorder:     loop,
		Weights:      weightOptimizer,
		Indicators:   indicatorScorer,
		Detector:     detector,
		History:      priceService,
		ModelWeights: models,
		Workers:      cfg.RecordWorkers,
		Log:          log,
		Tracer:       tracer,
	})

	// Background jobs, stopped by ctx cancel.
	startJobFunc(ctx, job.NewExpiryResolverJob(tracer, loop, ledger, priceService, recorder, log, job.ExpiryResolverConfig{
		PollInterval: time.Duration(cfg.ResolvePollSecs) * time.Second,
		RegimeSymbol: cfg.RegimeSymbol,
	}))

	notifier, err := newReportNotifierFunc(cfg.TelegramBotToken, cfg.TelegramReportChatID, log)
	if err != nil {
		log.Warn().Err(err).Msg("telegram report notifier disabled")
		notifier = nil
	}
	startJobFunc(ctx, job.NewDailyReportJob(tracer, loop, notifier, log, cfg.ReportHourUTC))

	telegram, err := startTelegramBotFunc(cfg.TelegramBotToken, ledger, weightOptimizer, log)
	if err != nil {
		log.Warn().Err(err).Msg("telegram bot disabled")
	}

	h := handler.New(handler.Deps{
		Tracer:     tracer,
		Predictor:  predictionService,
		Ledger:     ledger,
		Indicators: indicatorScorer,
		Weights:    weightOptimizer,
		Feedback:   loop,
		Prices:     priceService,
		Gatherer:   registry,
		APIKey:     cfg.APIKey,
	})

	r := newRouterFunc()
	r.Use(gin.Recovery(), handler.RequestLogger(log), otelgin.Middleware(tracing.ServiceName))
	h.RegisterRoutes(r)
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	srv := &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.HTTPPort),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("http server listening")
		if err := startHTTPServerFunc(srv); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	setupSignalNotify(quit, syscall.SIGINT, syscall.SIGTERM)
	waitForSignalFunc(quit)
	log.Info().Msg("shutting down server")

	cancel()
	stopBot(telegram)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := shutdownHTTPServerFunc(srv, shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	if err := predictionService.Close(); err != nil {
		log.Warn().Err(err).Msg("pending prediction writes failed")
	}

	select {
	case err := <-serveErr:
		return fmt.Errorf("listen: %w", err)
	default:
	}

	log.Info().Msg("server exiting")
	return nil
}

type recordSource interface {
	ListSince(ctx context.Context, since time.Time, limit int) ([]domain.PredictionRecord, error)
}

// restoreLedger reloads recent records so pending predictions still resolve
// after a restart.
func restoreLedger(ctx context.Context, src recordSource, ledger *tracker.Tracker, since time.Time, log zerolog.Logger) {
	records, err := src.ListSince(ctx, since, restoreLimit)
	if err != nil {
		log.Warn().Err(err).Msg("ledger restore failed, starting empty")
		return
	}
	loaded := ledger.Load(records)
	log.Info().Int("loaded", loaded).Int("read", len(records)).Time("since", since).Msg("ledger restored")
}

// weightsLoader reads one persisted weight snapshot. ok=false means none stored.
type weightsLoader func(ctx context.Context) (domain.OptimizedWeights, bool, error)

type weightsCandidate struct {
	name string
	load weightsLoader
}

// weightsCandidates lists snapshot sources in preference order: the Redis
// current-weights key, then the latest Postgres row.
func weightsCandidates(store *cache.WeightsStore, repo *predictions.Repository) []weightsCandidate {
	var out []weightsCandidate
	if store != nil {
		out = append(out, weightsCandidate{name: store.Name(), load: store.Load})
	}
	if repo != nil {
		out = append(out, weightsCandidate{name: repo.Name(), load: func(ctx context.Context) (domain.OptimizedWeights, bool, error) {
			w, err := repo.LatestWeights(ctx)
			if errors.Is(err, pgx.ErrNoRows) {
				return domain.OptimizedWeights{}, false, nil
			}
			return w, err == nil, err
		}})
	}
	return out
}

type weightsRestorer interface {
	Restore(w domain.OptimizedWeights) error
}

func restoreWeights(ctx context.Context, opt weightsRestorer, candidates []weightsCandidate, log zerolog.Logger) {
	for _, c := range candidates {
		w, ok, err := c.load(ctx)
		if err != nil {
			log.Warn().Err(err).Str("source", c.name).Msg("weights restore failed")
			continue
		}
		if !ok {
			continue
		}
		if err := opt.Restore(w); err != nil {
			log.Warn().Err(err).Str("source", c.name).Msg("stored weights rejected")
			continue
		}
		log.Info().Str("source", c.name).Str("regime", string(w.MarketRegime)).Msg("component weights restored")
		return
	}
	log.Info().Msg("no stored weights, using configured defaults")
}

func stopBot(b *tele.Bot) {
	if b != nil {
		b.Stop()
	}
}
