package ensemble

import "context"

// SignalSource yields one directional reading in [-1, 1]. present=false means
// the producer has nothing for this round; err marks a failed producer.
type SignalSource interface {
	Signal(ctx context.Context) (value float64, present bool, err error)
}

// Func adapts a plain function to SignalSource.
type Func func(ctx context.Context) (float64, bool, error)

func (f Func) Signal(ctx context.Context) (float64, bool, error) { return f(ctx) }

type static float64

func (s static) Signal(context.Context) (float64, bool, error) { return float64(s), true, nil }

// Static always reports v.
func Static(v float64) SignalSource { return static(v) }

type absent struct{}

func (absent) Signal(context.Context) (float64, bool, error) { return 0, false, nil }

// Absent never reports a signal.
func Absent() SignalSource { return absent{} }

// FromOptional maps a nil pointer to Absent and anything else to Static.
func FromOptional(v *float64) SignalSource {
	if v == nil {
		return Absent()
	}
	return Static(*v)
}
