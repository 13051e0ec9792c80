package resilience

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

var errDial = errors.New("dial failed")

func failing(ctx context.Context) error { return errDial }
func succeeding(ctx context.Context) error { return nil }

func TestCircuitBreaker_StateClosed(t *testing.T) {
	cb := NewCircuitBreaker("asr", 3, time.Second)

	if cb.GetState() != StateClosed {
		t.Errorf("Expected initial state to be closed, got %s", cb.GetState())
	}
	if !cb.allowRequest() {
		t.Error("Expected to allow request in closed state")
	}
}

func TestCircuitBreaker_OpenAfterFailures(t *testing.T) {
	cb := NewCircuitBreaker("asr", 3, time.Second)
	ctx := context.Background()

	cb.Call(ctx, failing)
	cb.Call(ctx, failing)
	if cb.GetState() != StateClosed {
		t.Error("Expected state to still be closed after 2 failures")
	}

	err := cb.Call(ctx, failing)
	if !errors.Is(err, errDial) {
		t.Errorf("Expected the dial error to pass through, got %v", err)
	}
	if cb.GetState() != StateOpen {
		t.Error("Expected state to be open after 3 failures")
	}

	called := false
	err = cb.Call(ctx, func(ctx context.Context) error {
		called = true
		return nil
	})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("Expected ErrCircuitOpen, got %v", err)
	}
	if called {
		t.Error("Expected fn not to run while open")
	}
}

func TestCircuitBreaker_SuccessResetsFailureCount(t *testing.T) {
	cb := NewCircuitBreaker("asr", 2, time.Second)
	ctx := context.Background()

	cb.Call(ctx, failing)
	cb.Call(ctx, succeeding)
	cb.Call(ctx, failing)

	if cb.GetState() != StateClosed {
		t.Error("Expected non-consecutive failures to keep the circuit closed")
	}
}

func TestCircuitBreaker_HalfOpenTrial(t *testing.T) {
	cb := NewCircuitBreaker("asr", 1, 50*time.Millisecond)
	ctx := context.Background()

	cb.Call(ctx, failing)
	if cb.GetState() != StateOpen {
		t.Fatal("Expected circuit to be open")
	}

	time.Sleep(80 * time.Millisecond)

	trialStarted := make(chan struct{})
	release := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		cb.Call(ctx, func(ctx context.Context) error {
			close(trialStarted)
			<-release
			return nil
		})
	}()

	<-trialStarted
	if cb.GetState() != StateHalfOpen {
		t.Errorf("Expected half-open during trial, got %s", cb.GetState())
	}
	if err := cb.Call(ctx, succeeding); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("Expected concurrent request to be rejected during trial, got %v", err)
	}

	close(release)
	wg.Wait()

	if cb.GetState() != StateClosed {
		t.Errorf("Expected closed after successful trial, got %s", cb.GetState())
	}
}

func TestCircuitBreaker_OpenAfterFailureInHalfOpen(t *testing.T) {
	cb := NewCircuitBreaker("asr", 1, 50*time.Millisecond)
	ctx := context.Background()

	cb.Call(ctx, failing)
	time.Sleep(80 * time.Millisecond)

	cb.Call(ctx, failing)
	if cb.GetState() != StateOpen {
		t.Errorf("Expected open after failed trial, got %s", cb.GetState())
	}
}

func TestCircuitBreaker_CancellationNotCounted(t *testing.T) {
	cb := NewCircuitBreaker("asr", 1, time.Second)
	ctx, cancel := context.WithCancel(context.Background())

	err := cb.Call(ctx, func(ctx context.Context) error {
		cancel()
		return ctx.Err()
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	if cb.GetState() != StateClosed {
		t.Error("Expected cancellation not to open the circuit")
	}

	if err := cb.Call(ctx, succeeding); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected cancelled context to short-circuit, got %v", err)
	}
}

func TestCircuitBreaker_StateChangeHook(t *testing.T) {
	cb := NewCircuitBreaker("asr", 1, 20*time.Millisecond)

	var mu sync.Mutex
	var transitions []CircuitState
	cb.OnStateChange(func(name string, from, to CircuitState) {
		if name != "asr" {
			t.Errorf("Expected name asr, got %s", name)
		}
		mu.Lock()
		transitions = append(transitions, to)
		mu.Unlock()
	})

	ctx := context.Background()
	cb.Call(ctx, failing)
	time.Sleep(40 * time.Millisecond)
	cb.Call(ctx, succeeding)

	expected := []CircuitState{StateOpen, StateHalfOpen, StateClosed}
	mu.Lock()
	defer mu.Unlock()
	if len(transitions) != len(expected) {
		t.Fatalf("Expected %d transitions, got %v", len(expected), transitions)
	}
	for i := range expected {
		if transitions[i] != expected[i] {
			t.Errorf("Transition %d: expected %s, got %s", i, expected[i], transitions[i])
		}
	}
}

func TestCircuitBreaker_GetStats(t *testing.T) {
	cb := NewCircuitBreaker("asr", 3, time.Second)

	cb.RecordResult(true)
	cb.RecordResult(true)
	cb.RecordResult(false)

	state, requests, failures, rate := cb.GetStats()

	if state != StateClosed {
		t.Errorf("Expected closed state, got %s", state)
	}
	if requests != 3 {
		t.Errorf("Expected 3 requests, got %d", requests)
	}
	if failures != 1 {
		t.Errorf("Expected 1 failure, got %d", failures)
	}
	expectedRate := 100.0 / 3.0
	if rate < expectedRate-0.01 || rate > expectedRate+0.01 {
		t.Errorf("Expected failure rate %.2f, got %.2f", expectedRate, rate)
	}
}

func TestCircuitBreaker_Reset(t *testing.T) {
	cb := NewCircuitBreaker("asr", 1, time.Hour)
	cb.RecordResult(false)
	if cb.GetState() != StateOpen {
		t.Fatal("Expected open")
	}

	cb.Reset()
	if cb.GetState() != StateClosed {
		t.Errorf("Expected closed after reset, got %s", cb.GetState())
	}
	if err := cb.Call(context.Background(), succeeding); err != nil {
		t.Errorf("Expected call to succeed after reset, got %v", err)
	}
}
