package sink

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
)

// Sink durably stores or publishes an entity.
type Sink interface {
	Name() string
	Save(ctx context.Context, entity any) error
}

// BestEffort fans an entity out to every sink. Failures are logged and
// reported through OnFailure; they never reach the caller.
type BestEffort struct {
	sinks     []Sink
	log       zerolog.Logger
	OnFailure func(sink string)
}

func NewBestEffort(log zerolog.Logger, sinks ...Sink) *BestEffort {
	out := &BestEffort{log: log}
	for _, s := range sinks {
		if s != nil {
			out.sinks = append(out.sinks, s)
		}
	}
	return out
}

func (b *BestEffort) Persist(ctx context.Context, entity any) {
	for _, s := range b.sinks {
		if err := b.save(ctx, s, entity); err != nil {
			b.log.Warn().Err(err).Str("sink", s.Name()).Str("entity", fmt.Sprintf("%T", entity)).Msg("persist failed")
			if b.OnFailure != nil {
				b.OnFailure(s.Name())
			}
		}
	}
}

func (b *BestEffort) save(ctx context.Context, s Sink, entity any) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sink panicked: %v", r)
		}
	}()
	return s.Save(ctx, entity)
}

// Len reports how many sinks are attached.
func (b *BestEffort) Len() int { return len(b.sinks) }
