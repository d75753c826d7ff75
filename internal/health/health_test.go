package health

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rivora/rivora/internal/model"
)

func TestRegistryEmpty(t *testing.T) {
	r := NewRegistry()
	healthy, statuses := r.CheckAll(context.Background())
	if !healthy {
		t.Fatal("empty registry should be healthy")
	}
	if len(statuses) != 0 {
		t.Fatalf("expected 0 statuses, got %d", len(statuses))
	}
}

func TestRegistryAllHealthy(t *testing.T) {
	r := NewRegistry()
	r.Register("horizon", func(_ context.Context) Status {
		return Status{Name: "horizon", Healthy: true}
	})
	r.Register("model", func(_ context.Context) Status {
		return Status{Name: "model", Healthy: true, Detail: "loaded"}
	})

	healthy, statuses := r.CheckAll(context.Background())
	if !healthy {
		t.Fatal("all-healthy registry should report healthy")
	}
	if len(statuses) != 2 {
		t.Fatalf("expected 2 statuses, got %d", len(statuses))
	}
}

func TestRegistryOneUnhealthy(t *testing.T) {
	r := NewRegistry()
	r.Register("database", func(_ context.Context) Status {
		return Status{Name: "database", Healthy: true}
	})
	r.Register("horizon", func(_ context.Context) Status {
		return Status{Name: "horizon", Healthy: false, Detail: "connection refused"}
	})

	healthy, statuses := r.CheckAll(context.Background())
	if healthy {
		t.Fatal("registry with unhealthy checker should report unhealthy")
	}
	if len(statuses) != 2 {
		t.Fatalf("expected 2 statuses, got %d", len(statuses))
	}
	if statuses[1].Detail != "connection refused" {
		t.Fatalf("expected detail 'connection refused', got %q", statuses[1].Detail)
	}
}

func TestRegistryConcurrentRegisterAndCheck(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup

	// Register concurrently
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			r.Register("checker", func(_ context.Context) Status {
				return Status{Name: "checker", Healthy: true}
			})
		}(i)
	}

	// Check concurrently
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.CheckAll(context.Background())
		}()
	}

	wg.Wait()
}

func TestRegistryTimeoutAndName(t *testing.T) {
	r := NewRegistry()
	r.SetTimeout(10 * time.Millisecond)
	r.Register("horizon", func(ctx context.Context) Status {
		<-ctx.Done()
		return Status{Healthy: false, Detail: ctx.Err().Error()}
	})

	healthy, statuses := r.CheckAll(context.Background())
	if healthy {
		t.Fatal("timed out checker should be unhealthy")
	}
	if statuses[0].Name != "horizon" {
		t.Fatalf("expected registered name to fill in, got %q", statuses[0].Name)
	}
}

func TestUpstream(t *testing.T) {
	ok := Upstream("horizon", PingFunc(func(context.Context) error { return nil }))(context.Background())
	if !ok.Healthy || ok.Name != "horizon" {
		t.Fatalf("unexpected status %+v", ok)
	}

	bad := Upstream("soroban", PingFunc(func(context.Context) error { return errors.New("dial tcp: refused") }))(context.Background())
	if bad.Healthy {
		t.Fatal("failing ping should be unhealthy")
	}
	if bad.Detail != "dial tcp: refused" {
		t.Fatalf("unexpected detail %q", bad.Detail)
	}
}

type fixedState model.State

func (s fixedState) State() model.State { return model.State(s) }

func TestModel(t *testing.T) {
	loaded := Model(fixedState(model.StateLoaded))(context.Background())
	if !loaded.Healthy || loaded.Detail != "loaded" {
		t.Fatalf("unexpected status %+v", loaded)
	}

	empty := Model(fixedState(model.StateEmpty))(context.Background())
	if !empty.Healthy {
		t.Fatal("empty model registry should not fail health")
	}
	if empty.Detail != "empty, rule scoring" {
		t.Fatalf("unexpected detail %q", empty.Detail)
	}
}
