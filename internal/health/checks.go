package health

import (
	"context"

	"github.com/rivora/rivora/internal/model"
)

// Pinger is anything that can prove an upstream is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// Upstream reports an upstream service healthy when Ping succeeds.
func Upstream(name string, p Pinger) Checker {
	return func(ctx context.Context) Status {
		if err := p.Ping(ctx); err != nil {
			return Status{Name: name, Healthy: false, Detail: err.Error()}
		}
		return Status{Name: name, Healthy: true}
	}
}

// ModelStater exposes the model registry state.
type ModelStater interface {
	State() model.State
}

// Model reports the learned-model state. An empty registry is still healthy
// because scoring falls back to the rule scorer.
func Model(s ModelStater) Checker {
	return func(context.Context) Status {
		state := s.State()
		st := Status{Name: "model", Healthy: true, Detail: state.String()}
		if state != model.StateLoaded {
			st.Detail += ", rule scoring"
		}
		return st
	}
}
