package strategy

import (
	"context"
	"errors"
	"testing"

	"quantdash/internal/domain"
)

// stubStrategy is a minimal Strategy implementation used in registry tests.
type stubStrategy struct {
	name string
	n    int // points to emit; -1 means one per observation
}

func (s *stubStrategy) Name() string { return s.name }
func (s *stubStrategy) Score(series *domain.PriceSeries) []domain.SignalPoint {
	n := s.n
	if n < 0 {
		n = series.Len()
	}
	return make([]domain.SignalPoint, n)
}

func stubFactory(name string) Factory {
	return func(domain.Params) (Strategy, error) { return &stubStrategy{name: name, n: -1}, nil }
}

func TestRegistryRegisterAndGet(t *testing.T) {
	r := NewRegistry()
	r.Register("test-strategy", stubFactory("test-strategy"))

	f, ok := r.Get("test-strategy")
	if !ok {
		t.Fatal("Get returned false for registered strategy")
	}
	s, err := f(domain.DefaultParams())
	if err != nil {
		t.Fatalf("factory: %v", err)
	}
	if s.Name() != "test-strategy" {
		t.Errorf("Get returned strategy with Name() = %q, want %q", s.Name(), "test-strategy")
	}
}

func TestRegistryGet_NotFound(t *testing.T) {
	r := NewRegistry()
	_, ok := r.Get("nonexistent")
	if ok {
		t.Error("Get returned true for unregistered strategy")
	}

	p := domain.DefaultParams()
	p.Signal = "nonexistent"
	_, err := r.Build(p)
	var pe *domain.ParamError
	if !errors.As(err, &pe) || pe.Field != "signal" {
		t.Errorf("Build unknown signal = %v, want ParamError on signal", err)
	}
}

func TestRegistryList(t *testing.T) {
	r := NewRegistry()
	r.Register("beta", stubFactory("beta"))
	r.Register("alpha", stubFactory("alpha"))

	names := r.List()
	if len(names) != 2 {
		t.Fatalf("List returned %d names, want 2", len(names))
	}
	// List returns sorted names.
	if names[0] != "alpha" || names[1] != "beta" {
		t.Errorf("List returned %v, want [alpha beta]", names)
	}
}

func TestComputeSignalsLengthMismatch(t *testing.T) {
	p := &domain.Panel{
		Series: map[string]*domain.PriceSeries{
			"A": {Ticker: "A", Points: []domain.PricePoint{{Ticker: "A", Close: 1}, {Ticker: "A", Close: 2}}},
		},
		Tickers: []string{"A"},
	}
	_, err := ComputeSignals(context.Background(), &stubStrategy{name: "short", n: 1}, p, 2)
	if err == nil {
		t.Fatal("ComputeSignals should reject a strategy that drops points")
	}

	got, err := ComputeSignals(context.Background(), &stubStrategy{name: "ok", n: -1}, p, 0)
	if err != nil {
		t.Fatalf("ComputeSignals: %v", err)
	}
	if len(got["A"]) != 2 {
		t.Errorf("signals for A = %d, want 2", len(got["A"]))
	}
}

func TestComputeSignalsCancelled(t *testing.T) {
	p := &domain.Panel{
		Series:  map[string]*domain.PriceSeries{"A": {Ticker: "A"}},
		Tickers: []string{"A"},
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := ComputeSignals(ctx, &stubStrategy{name: "x", n: -1}, p, 1); !errors.Is(err, context.Canceled) {
		t.Errorf("ComputeSignals on cancelled ctx = %v, want context.Canceled", err)
	}
}
