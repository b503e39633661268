package llm

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

var errQuota = errors.New("429 quota")

type scriptedBackend struct {
	name string

	mu      sync.Mutex
	results []Result
	calls   int
	prompts []string
}

func (b *scriptedBackend) Name() string { return b.name }

func (b *scriptedBackend) Generate(_ context.Context, prompt string) Result {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.prompts = append(b.prompts, prompt)
	i := b.calls
	b.calls++
	if len(b.results) == 0 {
		return Success(b.name)
	}
	if i >= len(b.results) {
		i = len(b.results) - 1
	}
	return b.results[i]
}

func (b *scriptedBackend) callCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls
}

type recordingObserver struct {
	mu          sync.Mutex
	generations []string
	fallbacks   []string
}

func (o *recordingObserver) ObserveGeneration(backend string, outcome Outcome, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.generations = append(o.generations, backend+"="+outcome.String())
}

func (o *recordingObserver) ObserveFallback(from, to string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.fallbacks = append(o.fallbacks, from+"->"+to)
}

func newBackends(n int) []*scriptedBackend {
	out := make([]*scriptedBackend, n)
	for i := range out {
		out[i] = &scriptedBackend{name: fmt.Sprintf("m%d", i)}
	}
	return out
}

func asBackends(bs []*scriptedBackend) []Backend {
	out := make([]Backend, len(bs))
	for i, b := range bs {
		out[i] = b
	}
	return out
}

func TestFallbackClientAdvancesPastQuotaBackends(t *testing.T) {
	const n = 8
	for k := 0; k < n; k++ {
		t.Run(fmt.Sprintf("quota_on_first_%d", k), func(t *testing.T) {
			bs := newBackends(n)
			for i := 0; i < k; i++ {
				bs[i].results = []Result{QuotaExceeded(errQuota)}
			}

			client := NewFallbackClient(asBackends(bs), WithMaxRetries(n))
			got, err := client.Generate(context.Background(), "same prompt")
			if err != nil {
				t.Fatalf("Generate() error = %v", err)
			}
			if want := fmt.Sprintf("m%d", k); got != want {
				t.Fatalf("Generate() = %q, want %q", got, want)
			}

			for i, b := range bs {
				want := 0
				if i <= k {
					want = 1
				}
				if b.callCount() != want {
					t.Fatalf("backend %d called %d times, want %d", i, b.callCount(), want)
				}
				for _, p := range b.prompts {
					if p != "same prompt" {
						t.Fatalf("backend %d got prompt %q", i, p)
					}
				}
			}

			if idx, _ := client.Current(); idx != k {
				t.Fatalf("Current() = %d, want %d", idx, k)
			}
		})
	}
}

func TestFallbackClientAllBackendsExhausted(t *testing.T) {
	bs := newBackends(3)
	for _, b := range bs {
		b.results = []Result{QuotaExceeded(errQuota)}
	}
	client := NewFallbackClient(asBackends(bs), WithMaxRetries(10))

	_, err := client.Generate(context.Background(), "p")
	if !errors.Is(err, ErrAllBackendsExhausted) {
		t.Fatalf("Generate() error = %v, want ErrAllBackendsExhausted", err)
	}
	for i, b := range bs {
		if b.callCount() != 1 {
			t.Fatalf("backend %d called %d times, want exactly 1", i, b.callCount())
		}
	}

	_, err = client.Generate(context.Background(), "again")
	if !errors.Is(err, ErrAllBackendsExhausted) {
		t.Fatalf("second Generate() error = %v, want ErrAllBackendsExhausted", err)
	}
	for i, b := range bs {
		if b.callCount() != 1 {
			t.Fatalf("backend %d retried after exhaustion (%d calls)", i, b.callCount())
		}
	}
}

func TestFallbackClientRetryBudget(t *testing.T) {
	bs := newBackends(5)
	for _, b := range bs {
		b.results = []Result{QuotaExceeded(errQuota)}
	}
	client := NewFallbackClient(asBackends(bs))

	_, err := client.Generate(context.Background(), "p")
	if !errors.Is(err, ErrRetriesExhausted) {
		t.Fatalf("Generate() error = %v, want ErrRetriesExhausted", err)
	}
	if bs[3].callCount() != 0 || bs[4].callCount() != 0 {
		t.Fatalf("backends beyond the retry budget were called")
	}

	// The pointer stays where the budget left it.
	bs[3].results = nil
	got, err := client.Generate(context.Background(), "p")
	if err != nil {
		t.Fatalf("Generate() after budget error = %v", err)
	}
	if got != "m3" {
		t.Fatalf("Generate() = %q, want m3", got)
	}
	for i := 0; i < 3; i++ {
		if bs[i].callCount() != 1 {
			t.Fatalf("backend %d retried after it ran out of quota", i)
		}
	}
}

func TestFallbackClientDoesNotRetryFailures(t *testing.T) {
	boom := errors.New("bad request")
	bs := newBackends(3)
	bs[0].results = []Result{Failure(boom)}
	client := NewFallbackClient(asBackends(bs))

	_, err := client.Generate(context.Background(), "p")
	if !errors.Is(err, boom) {
		t.Fatalf("Generate() error = %v, want %v", err, boom)
	}
	if bs[1].callCount() != 0 {
		t.Fatalf("hard failure moved to the next backend")
	}
	if idx, _ := client.Current(); idx != 0 {
		t.Fatalf("Current() = %d, want 0", idx)
	}
}

func TestFallbackClientStickyAcrossCalls(t *testing.T) {
	bs := newBackends(3)
	bs[0].results = []Result{QuotaExceeded(errQuota), Success("recovered")}
	client := NewFallbackClient(asBackends(bs))

	for i := 0; i < 3; i++ {
		got, err := client.Generate(context.Background(), "p")
		if err != nil {
			t.Fatalf("Generate() error = %v", err)
		}
		if got != "m1" {
			t.Fatalf("call %d served by %q, want m1", i, got)
		}
	}
	if bs[0].callCount() != 1 {
		t.Fatalf("exhausted backend called %d times", bs[0].callCount())
	}
}

func TestFallbackClientObserver(t *testing.T) {
	bs := newBackends(2)
	bs[0].results = []Result{QuotaExceeded(errQuota)}
	obs := &recordingObserver{}
	client := NewFallbackClient(asBackends(bs), WithObserver(obs))

	if _, err := client.Generate(context.Background(), "p"); err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	if len(obs.fallbacks) != 1 || obs.fallbacks[0] != "m0->m1" {
		t.Fatalf("fallbacks = %v", obs.fallbacks)
	}
	want := []string{"m0=quota_exceeded", "m1=success"}
	if len(obs.generations) != len(want) {
		t.Fatalf("generations = %v, want %v", obs.generations, want)
	}
	for i := range want {
		if obs.generations[i] != want[i] {
			t.Fatalf("generations = %v, want %v", obs.generations, want)
		}
	}
}

func TestFallbackClientNoBackends(t *testing.T) {
	client := NewFallbackClient(nil)
	if _, err := client.Generate(context.Background(), "p"); !errors.Is(err, ErrNoBackend) {
		t.Fatalf("Generate() error = %v, want ErrNoBackend", err)
	}
}

func TestFallbackClientCancelledContext(t *testing.T) {
	bs := newBackends(1)
	client := NewFallbackClient(asBackends(bs))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := client.Generate(ctx, "p"); !errors.Is(err, context.Canceled) {
		t.Fatalf("Generate() error = %v, want context.Canceled", err)
	}
	if bs[0].callCount() != 0 {
		t.Fatalf("backend called with cancelled context")
	}
}

func TestFallbackClientConcurrentQuota(t *testing.T) {
	bs := newBackends(4)
	bs[0].results = []Result{QuotaExceeded(errQuota)}
	client := NewFallbackClient(asBackends(bs))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := client.Generate(context.Background(), "p"); err != nil {
				t.Errorf("Generate() error = %v", err)
			}
		}()
	}
	wg.Wait()

	if idx, _ := client.Current(); idx != 1 {
		t.Fatalf("Current() = %d, want 1 (one quota event advances once)", idx)
	}
}
