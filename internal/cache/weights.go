package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"adaptive-ensemble/internal/domain"

	"github.com/redis/go-redis/v9"
)

const DefaultWeightsKey = "ensemble:weights:current"

type KV interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
}

// WeightsStore keeps a snapshot of the latest optimized component weights so a
// restarted process resumes from them instead of the defaults.
type WeightsStore struct {
	kv  KV
	key string
}

func NewWeightsStore(kv KV, key string) *WeightsStore {
	if key == "" {
		key = DefaultWeightsKey
	}
	return &WeightsStore{kv: kv, key: key}
}

func (s *WeightsStore) Name() string { return "redis" }

// Save stores OptimizedWeights; any other entity is ignored.
func (s *WeightsStore) Save(ctx context.Context, entity any) error {
	w, ok := entity.(domain.OptimizedWeights)
	if !ok {
		return nil
	}
	b, err := json.Marshal(w)
	if err != nil {
		return fmt.Errorf("marshal weights: %w", err)
	}
	return s.kv.Set(ctx, s.key, b, 0).Err()
}

// Load returns the stored snapshot. ok is false when nothing was stored yet.
func (s *WeightsStore) Load(ctx context.Context) (domain.OptimizedWeights, bool, error) {
	raw, err := s.kv.Get(ctx, s.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.OptimizedWeights{}, false, nil
	}
	if err != nil {
		return domain.OptimizedWeights{}, false, err
	}
	var w domain.OptimizedWeights
	if err := json.Unmarshal(raw, &w); err != nil {
		return domain.OptimizedWeights{}, false, fmt.Errorf("decode weights snapshot: %w", err)
	}
	return w, true, nil
}
