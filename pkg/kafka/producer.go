package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"adaptive-ensemble/internal/domain"

	"github.com/segmentio/kafka-go"
)

const (
	EventPredictionRecorded = "prediction.recorded"
	EventPredictionResolved = "prediction.resolved"
	EventWeightsOptimized   = "weights.optimized"
	EventReportGenerated    = "report.generated"
)

var ErrUnsupportedEntity = errors.New("kafka: unsupported entity")

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Event is the envelope published for every feedback-loop entity.
type Event struct {
	Type       string          `json:"type"`
	OccurredAt time.Time       `json:"occurred_at"`
	Payload    json.RawMessage `json:"payload"`
}

// Producer publishes feedback-loop entities as events on one topic.
type Producer struct {
	writer messageWriter
	topic  string
	now    func() time.Time
}

func NewProducer(opts ...ProducerOption) (*Producer, error) {
	cfg := &ProducerConfig{
		Topic:        "ensemble.events",
		Compression:  "gzip",
		MaxAttempts:  3,
		WriteTimeout: 10 * time.Second,
		BatchTimeout: 100 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("brokers are required")
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: kafka.RequireAll,
		Compression:  parseCompression(cfg.Compression),
		MaxAttempts:  cfg.MaxAttempts,
		WriteTimeout: cfg.WriteTimeout,
		BatchTimeout: cfg.BatchTimeout,
		Async:        cfg.Async,
	}
	return newProducer(writer, cfg.Topic), nil
}

func newProducer(w messageWriter, topic string) *Producer {
	return &Producer{writer: w, topic: topic, now: time.Now}
}

func (p *Producer) Name() string { return "kafka" }

// Save publishes entity as an event keyed so that updates of one entity land
// on the same partition.
func (p *Producer) Save(ctx context.Context, entity any) error {
	kind, key, err := classify(entity)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(entity)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", kind, err)
	}
	value, err := json.Marshal(Event{Type: kind, OccurredAt: p.now().UTC(), Payload: payload})
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:     []byte(key),
		Value:   value,
		Headers: []kafka.Header{{Key: "event-type", Value: []byte(kind)}},
		Time:    p.now(),
	})
}

func classify(entity any) (kind, key string, err error) {
	switch e := entity.(type) {
	case domain.PredictionRecord:
		if e.Resolved() {
			return EventPredictionResolved, e.ID, nil
		}
		return EventPredictionRecorded, e.ID, nil
	case domain.OptimizedWeights:
		return EventWeightsOptimized, string(e.MarketRegime), nil
	case domain.DailyReport:
		return EventReportGenerated, e.Date, nil
	default:
		return "", "", fmt.Errorf("%w: %T", ErrUnsupportedEntity, entity)
	}
}

func (p *Producer) Close() error {
	if p.writer != nil {
		return p.writer.Close()
	}
	return nil
}

func parseCompression(s string) kafka.Compression {
	switch s {
	case "snappy":
		return kafka.Snappy
	case "lz4":
		return kafka.Lz4
	case "zstd":
		return kafka.Zstd
	default:
		return kafka.Gzip
	}
}
