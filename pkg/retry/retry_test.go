package retry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

// fakeClock records sleeps and advances virtual time instead of blocking.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
	return nil
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// statusErr is a minimal error carrying an HTTP status.
type statusErr int

func (s statusErr) Error() string   { return fmt.Sprintf("status %d", int(s)) }
func (s statusErr) HTTPStatus() int { return int(s) }

func testPolicy() Policy {
	return Policy{
		MaxAttempts:  3,
		InitialDelay: 10 * time.Millisecond,
		MaxDelay:     time.Second,
		Multiplier:   2.0,
	}
}

func TestDefaultPolicy(t *testing.T) {
	p := DefaultPolicy()

	if p.MaxAttempts != 3 {
		t.Errorf("MaxAttempts = %d, want 3", p.MaxAttempts)
	}
	if p.InitialDelay != 500*time.Millisecond {
		t.Errorf("InitialDelay = %v, want 500ms", p.InitialDelay)
	}
	if p.MaxDelay != 30*time.Second {
		t.Errorf("MaxDelay = %v, want 30s", p.MaxDelay)
	}
	if p.Multiplier != 2.0 {
		t.Errorf("Multiplier = %v, want 2.0", p.Multiplier)
	}
	if p.MaxElapsed != 120*time.Second {
		t.Errorf("MaxElapsed = %v, want 120s", p.MaxElapsed)
	}
	if err := p.Validate(); err != nil {
		t.Errorf("Validate() = %v, want nil", err)
	}
}

func TestPolicy_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Policy)
		wantErr bool
	}{
		{name: "default", mutate: func(*Policy) {}},
		{name: "zero attempts", mutate: func(p *Policy) { p.MaxAttempts = 0 }, wantErr: true},
		{name: "negative initial delay", mutate: func(p *Policy) { p.InitialDelay = -time.Second }, wantErr: true},
		{name: "max below initial", mutate: func(p *Policy) { p.MaxDelay = p.InitialDelay / 2 }, wantErr: true},
		{name: "multiplier below one", mutate: func(p *Policy) { p.Multiplier = 0.5 }, wantErr: true},
		{name: "negative max elapsed", mutate: func(p *Policy) { p.MaxElapsed = -1 }, wantErr: true},
		{name: "no elapsed bound", mutate: func(p *Policy) { p.MaxElapsed = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := DefaultPolicy()
			tt.mutate(&p)
			err := p.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidPolicy) {
				t.Errorf("Validate() error = %v, want ErrInvalidPolicy", err)
			}
		})
	}
}

func TestPolicy_Delays(t *testing.T) {
	p := Policy{
		MaxAttempts:  7,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     time.Second,
		Multiplier:   3.0,
	}

	want := []time.Duration{
		100 * time.Millisecond,
		300 * time.Millisecond,
		900 * time.Millisecond,
		time.Second,
		time.Second,
		time.Second,
	}
	got := p.Delays()
	if len(got) != len(want) {
		t.Fatalf("len(Delays()) = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Delays()[%d] = %v, want %v", i, got[i], want[i])
		}
		if i > 0 && got[i] < got[i-1] {
			t.Errorf("Delays() not non-decreasing at %d: %v < %v", i, got[i], got[i-1])
		}
	}
}

func TestPolicy_DelaysMultiplierOne(t *testing.T) {
	p := Policy{MaxAttempts: 4, InitialDelay: 50 * time.Millisecond, MaxDelay: time.Second, Multiplier: 1}
	for i, d := range p.Delays() {
		if d != 50*time.Millisecond {
			t.Errorf("Delays()[%d] = %v, want 50ms", i, d)
		}
	}
}

func TestDo_Success(t *testing.T) {
	clock := newFakeClock()
	calls := 0

	got, err := Do(context.Background(), testPolicy(), func(ctx context.Context) (int, error) {
		calls++
		return 7, nil
	}, WithClock(clock))

	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if got != 7 {
		t.Errorf("Do() = %d, want 7", got)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	if len(clock.sleeps) != 0 {
		t.Errorf("sleeps = %v, want none", clock.sleeps)
	}
}

func TestDo_SuccessOnNthAttempt(t *testing.T) {
	for n := 1; n <= 5; n++ {
		t.Run(fmt.Sprintf("attempt_%d", n), func(t *testing.T) {
			clock := newFakeClock()
			policy := testPolicy()
			policy.MaxAttempts = 5
			calls := 0

			got, err := Do(context.Background(), policy, func(ctx context.Context) (string, error) {
				calls++
				if calls < n {
					return "", statusErr(503)
				}
				return "ok", nil
			}, WithClock(clock))

			if err != nil {
				t.Fatalf("Do() error = %v", err)
			}
			if got != "ok" {
				t.Errorf("Do() = %q, want ok", got)
			}
			if calls != n {
				t.Errorf("calls = %d, want %d", calls, n)
			}
			if len(clock.sleeps) != n-1 {
				t.Errorf("sleeps = %d, want %d", len(clock.sleeps), n-1)
			}
		})
	}
}

func TestDo_FatalErrorNoRetry(t *testing.T) {
	fatal := []error{
		statusErr(400),
		statusErr(401),
		statusErr(403),
		statusErr(404),
		fmt.Errorf("token: %w", ErrCredentialsExpired),
		errors.New("decode failure"),
	}

	for _, testErr := range fatal {
		t.Run(testErr.Error(), func(t *testing.T) {
			clock := newFakeClock()
			calls := 0

			_, err := Do(context.Background(), testPolicy(), func(ctx context.Context) (int, error) {
				calls++
				return 0, testErr
			}, WithClock(clock))

			if !errors.Is(err, testErr) {
				t.Errorf("Do() error = %v, want %v", err, testErr)
			}
			if calls != 1 {
				t.Errorf("calls = %d, want 1", calls)
			}
			if len(clock.sleeps) != 0 {
				t.Errorf("sleeps = %v, want none", clock.sleeps)
			}
		})
	}
}

func TestDo_TransientExhausted(t *testing.T) {
	transient := []error{statusErr(429), statusErr(500), statusErr(599)}

	for _, testErr := range transient {
		t.Run(testErr.Error(), func(t *testing.T) {
			clock := newFakeClock()
			policy := testPolicy()
			policy.MaxAttempts = 4
			calls := 0

			_, err := Do(context.Background(), policy, func(ctx context.Context) (int, error) {
				calls++
				return 0, testErr
			}, WithClock(clock))

			if err == nil {
				t.Fatal("Do() error = nil, want error")
			}
			if calls != policy.MaxAttempts {
				t.Errorf("calls = %d, want %d", calls, policy.MaxAttempts)
			}
			if len(clock.sleeps) != policy.MaxAttempts-1 {
				t.Errorf("sleeps = %d, want %d", len(clock.sleeps), policy.MaxAttempts-1)
			}
		})
	}
}

func TestDo_ReturnsLatestError(t *testing.T) {
	clock := newFakeClock()
	calls := 0
	var last error

	_, err := Do(context.Background(), testPolicy(), func(ctx context.Context) (int, error) {
		calls++
		last = fmt.Errorf("attempt %d: %w", calls, statusErr(502))
		return 0, last
	}, WithClock(clock))

	if err != last {
		t.Errorf("Do() error = %v, want latest error %v", err, last)
	}
}

func TestDo_ExampleScenario(t *testing.T) {
	clock := newFakeClock()
	policy := Policy{MaxAttempts: 3, InitialDelay: 10 * time.Millisecond, MaxDelay: time.Second, Multiplier: 2.0}
	calls := 0

	got, err := Do(context.Background(), policy, func(ctx context.Context) (int, error) {
		calls++
		if calls <= 2 {
			return 0, statusErr(500)
		}
		return 42, nil
	}, WithClock(clock))

	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if got != 42 {
		t.Errorf("Do() = %d, want 42", got)
	}
	want := []time.Duration{10 * time.Millisecond, 20 * time.Millisecond}
	if len(clock.sleeps) != len(want) {
		t.Fatalf("sleeps = %v, want %v", clock.sleeps, want)
	}
	for i := range want {
		if clock.sleeps[i] != want[i] {
			t.Errorf("sleeps[%d] = %v, want %v", i, clock.sleeps[i], want[i])
		}
	}
}

func TestDo_BackoffCapped(t *testing.T) {
	clock := newFakeClock()
	policy := Policy{MaxAttempts: 6, InitialDelay: 100 * time.Millisecond, MaxDelay: 250 * time.Millisecond, Multiplier: 2.0}

	_, _ = Do(context.Background(), policy, func(ctx context.Context) (int, error) {
		return 0, statusErr(503)
	}, WithClock(clock))

	want := policy.Delays()
	if len(clock.sleeps) != len(want) {
		t.Fatalf("sleeps = %v, want %v", clock.sleeps, want)
	}
	for i := range want {
		if clock.sleeps[i] != want[i] {
			t.Errorf("sleeps[%d] = %v, want %v", i, clock.sleeps[i], want[i])
		}
		if clock.sleeps[i] > policy.MaxDelay {
			t.Errorf("sleeps[%d] = %v exceeds max delay", i, clock.sleeps[i])
		}
	}
}

func TestDo_MaxElapsed(t *testing.T) {
	clock := newFakeClock()
	policy := Policy{
		MaxAttempts:  10,
		InitialDelay: 10 * time.Millisecond,
		MaxDelay:     time.Second,
		Multiplier:   1.0,
		MaxElapsed:   time.Second,
	}
	calls := 0

	_, err := Do(context.Background(), policy, func(ctx context.Context) (int, error) {
		calls++
		// each attempt takes 400ms of wall time
		clock.advance(400 * time.Millisecond)
		return 0, statusErr(500)
	}, WithClock(clock))

	if err == nil {
		t.Fatal("Do() error = nil, want error")
	}
	// elapsed after attempts: 400, 810, 1220 -> third attempt exceeds 1s
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
	if len(clock.sleeps) != 2 {
		t.Errorf("sleeps = %d, want 2", len(clock.sleeps))
	}
}

func TestDo_ElapsedAndAttemptsSameAttempt(t *testing.T) {
	clock := newFakeClock()
	policy := Policy{
		MaxAttempts:  2,
		InitialDelay: 10 * time.Millisecond,
		MaxDelay:     time.Second,
		Multiplier:   1.0,
		MaxElapsed:   100 * time.Millisecond,
	}
	calls := 0
	var last error

	_, err := Do(context.Background(), policy, func(ctx context.Context) (int, error) {
		calls++
		clock.advance(60 * time.Millisecond)
		last = fmt.Errorf("call %d: %w", calls, statusErr(500))
		return 0, last
	}, WithClock(clock))

	// second attempt hits both the attempt limit and the time budget
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
	if err != last {
		t.Errorf("Do() error = %v, want %v", err, last)
	}
}

func TestDo_ContextCancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	policy := Policy{MaxAttempts: 5, InitialDelay: time.Hour, MaxDelay: time.Hour, Multiplier: 1}
	calls := 0
	testErr := statusErr(503)

	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := Do(ctx, policy, func(ctx context.Context) (int, error) {
		calls++
		return 0, testErr
	})

	if time.Since(start) > 5*time.Second {
		t.Fatal("Do() did not abort the backoff sleep")
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Do() error = %v, want context.Canceled", err)
	}
	if !errors.Is(err, testErr) {
		t.Errorf("Do() error = %v, want latest operation error", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestDo_InvalidPolicy(t *testing.T) {
	calls := 0
	_, err := Do(context.Background(), Policy{}, func(ctx context.Context) (int, error) {
		calls++
		return 1, nil
	})

	if !errors.Is(err, ErrInvalidPolicy) {
		t.Errorf("Do() error = %v, want ErrInvalidPolicy", err)
	}
	if calls != 0 {
		t.Errorf("calls = %d, want 0", calls)
	}
}

func TestDo_OnRetryHook(t *testing.T) {
	clock := newFakeClock()
	var kinds []ErrorKind
	var attempts []int

	_, _ = Do(context.Background(), testPolicy(), func(ctx context.Context) (int, error) {
		return 0, statusErr(429)
	}, WithClock(clock), WithOnRetry(func(attempt int, kind ErrorKind, err error, delay time.Duration) {
		attempts = append(attempts, attempt)
		kinds = append(kinds, kind)
	}))

	if len(attempts) != 2 || attempts[0] != 1 || attempts[1] != 2 {
		t.Errorf("attempts = %v, want [1 2]", attempts)
	}
	for _, k := range kinds {
		if k != KindTransientRateLimited {
			t.Errorf("kind = %v, want %v", k, KindTransientRateLimited)
		}
	}
}

func TestDo_CustomClassifier(t *testing.T) {
	clock := newFakeClock()
	calls := 0

	_, _ = Do(context.Background(), testPolicy(), func(ctx context.Context) (int, error) {
		calls++
		return 0, errors.New("flaky")
	}, WithClock(clock), WithClassifier(func(error) ErrorKind { return KindTransientServer }))

	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestDoErr(t *testing.T) {
	clock := newFakeClock()
	calls := 0

	err := DoErr(context.Background(), testPolicy(), func(ctx context.Context) error {
		calls++
		if calls == 1 {
			return statusErr(500)
		}
		return nil
	}, WithClock(clock))

	if err != nil {
		t.Errorf("DoErr() error = %v", err)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}
