package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"adaptive-ensemble/internal/domain"

	"github.com/redis/go-redis/v9"
)

type fakeKV struct {
	data   map[string][]byte
	getErr error
}

func (f *fakeKV) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	switch v := value.(type) {
	case []byte:
		f.data[key] = append([]byte(nil), v...)
	case string:
		f.data[key] = []byte(v)
	}
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeKV) Get(ctx context.Context, key string) *redis.StringCmd {
	if f.getErr != nil {
		return redis.NewStringResult("", f.getErr)
	}
	if v, ok := f.data[key]; ok {
		return redis.NewStringResult(string(v), nil)
	}
	return redis.NewStringResult("", redis.Nil)
}

func TestWeightsStoreRoundTrip(t *testing.T) {
	kv := &fakeKV{data: map[string][]byte{}}
	store := NewWeightsStore(kv, "")
	ctx := context.Background()

	if _, ok, err := store.Load(ctx); ok || err != nil {
		t.Fatalf("expected empty store, got ok=%v err=%v", ok, err)
	}

	w := domain.OptimizedWeights{
		ComponentWeights: map[domain.SignalKey]float64{
			domain.ComponentTechnical: 0.5,
			domain.ComponentSentiment: 0.1,
			domain.ComponentML:        0.4,
		},
		MarketRegime:           domain.RegimeTrending,
		OptimizationConfidence: 0.75,
		SampleSize:             150,
		Timestamp:              time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC),
	}
	if err := store.Save(ctx, w); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, ok := kv.data[DefaultWeightsKey]; !ok {
		t.Fatalf("expected snapshot under %s", DefaultWeightsKey)
	}

	got, ok, err := store.Load(ctx)
	if err != nil || !ok {
		t.Fatalf("load: ok=%v err=%v", ok, err)
	}
	if got.ComponentWeights[domain.ComponentTechnical] != 0.5 || got.SampleSize != 150 || !got.Timestamp.Equal(w.Timestamp) {
		t.Fatalf("unexpected snapshot: %+v", got)
	}
}

func TestWeightsStoreIgnoresOtherEntities(t *testing.T) {
	kv := &fakeKV{data: map[string][]byte{}}
	store := NewWeightsStore(kv, "custom")

	if err := store.Save(context.Background(), domain.PredictionRecord{ID: "p1"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(kv.data) != 0 {
		t.Fatalf("expected nothing stored, got %v", kv.data)
	}
}

func TestWeightsStoreLoadErrors(t *testing.T) {
	kv := &fakeKV{data: map[string][]byte{}, getErr: errors.New("timeout")}
	if _, _, err := NewWeightsStore(kv, "").Load(context.Background()); err == nil {
		t.Fatal("expected get error")
	}

	kv = &fakeKV{data: map[string][]byte{DefaultWeightsKey: []byte("{not json")}}
	if _, _, err := NewWeightsStore(kv, "").Load(context.Background()); err == nil {
		t.Fatal("expected decode error")
	}
}
