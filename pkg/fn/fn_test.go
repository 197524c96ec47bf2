package fn

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestResult(t *testing.T) {
	r := Ok(42)
	if !r.IsOk() || r.IsErr() {
		t.Fatal("expected ok")
	}
	if v, err := r.Unwrap(); v != 42 || err != nil {
		t.Fatalf("unexpected %v %v", v, err)
	}

	boom := errors.New("boom")
	e := Err[int](boom)
	if e.IsOk() || !e.IsErr() {
		t.Fatal("expected err")
	}
	if _, err := e.Unwrap(); !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
}

func TestFromPair(t *testing.T) {
	if v, err := FromPair("x", nil).Unwrap(); v != "x" || err != nil {
		t.Fatalf("unexpected %q %v", v, err)
	}
	if FromPair("x", errors.New("bad")).IsOk() {
		t.Fatal("expected error result")
	}
}

func TestMap(t *testing.T) {
	n := Map(Ok("thrift"), func(s string) int { return len(s) })
	if v, err := n.Unwrap(); v != 6 || err != nil {
		t.Fatalf("unexpected %d %v", v, err)
	}

	boom := errors.New("boom")
	called := false
	failed := Map(Err[string](boom), func(s string) int { called = true; return len(s) })
	if !errors.Is(failed.Error(), boom) || called {
		t.Fatalf("expected boom without calling f, got %v (called=%v)", failed.Error(), called)
	}
}

func TestThen(t *testing.T) {
	double := Stage[int, int](func(_ context.Context, n int) Result[int] { return Ok(n * 2) })
	label := Stage[int, string](func(_ context.Context, n int) Result[string] {
		if n > 10 {
			return Err[string](errors.New("too big"))
		}
		return Ok("small")
	})
	p := Then(double, label)

	if v, err := p(context.Background(), 3).Unwrap(); v != "small" || err != nil {
		t.Fatalf("unexpected %q %v", v, err)
	}
	if _, err := p(context.Background(), 6).Unwrap(); err == nil {
		t.Fatal("expected error from second stage")
	}
}

func TestThen_ShortCircuits(t *testing.T) {
	called := false
	fail := Stage[int, int](func(context.Context, int) Result[int] { return Err[int](errors.New("first")) })
	next := Stage[int, int](func(_ context.Context, n int) Result[int] { called = true; return Ok(n) })

	if _, err := Then(fail, next)(context.Background(), 1).Unwrap(); err == nil || err.Error() != "first" {
		t.Fatalf("expected first error, got %v", err)
	}
	if called {
		t.Fatal("second stage should not run")
	}
}

func TestTracedStage(t *testing.T) {
	s := TracedStage("test", Stage[int, int](func(_ context.Context, n int) Result[int] {
		if n < 0 {
			return Err[int](errors.New("negative"))
		}
		return Ok(n + 1)
	}))
	if v, _ := s(context.Background(), 1).Unwrap(); v != 2 {
		t.Fatalf("expected 2, got %d", v)
	}
	if s(context.Background(), -1).IsOk() {
		t.Fatal("expected error to pass through")
	}
}

func TestRetry(t *testing.T) {
	attempts := 0
	r := Retry(context.Background(), RetryOpts{MaxAttempts: 3, InitialWait: time.Millisecond, MaxWait: 5 * time.Millisecond},
		func(context.Context) Result[string] {
			attempts++
			if attempts < 3 {
				return Err[string](errors.New("transient"))
			}
			return Ok("done")
		})
	if v, err := r.Unwrap(); v != "done" || err != nil {
		t.Fatalf("unexpected %q %v", v, err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestRetry_Exhausted(t *testing.T) {
	attempts := 0
	r := Retry(context.Background(), RetryOpts{MaxAttempts: 2, InitialWait: time.Millisecond, MaxWait: time.Millisecond, Jitter: true},
		func(context.Context) Result[int] {
			attempts++
			return Err[int](errors.New("down"))
		})
	if _, err := r.Unwrap(); err == nil || err.Error() != "down" {
		t.Fatalf("expected last error, got %v", err)
	}
	if attempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", attempts)
	}
}

func TestRetry_ZeroAttemptsCallsOnce(t *testing.T) {
	attempts := 0
	r := Retry(context.Background(), RetryOpts{}, func(context.Context) Result[int] {
		attempts++
		return Ok(1)
	})
	if attempts != 1 || r.IsErr() {
		t.Fatalf("expected one successful call, got %d attempts", attempts)
	}
}

func TestRetry_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	r := Retry(ctx, RetryOpts{MaxAttempts: 5, InitialWait: time.Hour, MaxWait: time.Hour},
		func(context.Context) Result[int] {
			attempts++
			cancel()
			return Err[int](errors.New("fail"))
		})
	if _, err := r.Unwrap(); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if attempts != 1 {
		t.Fatalf("expected 1 attempt, got %d", attempts)
	}
}

func TestRetry_StopsOnPermanentError(t *testing.T) {
	permanent := errors.New("bad vector")
	attempts := 0
	opts := RetryOpts{
		MaxAttempts: 5,
		InitialWait: time.Millisecond,
		Retryable:   func(err error) bool { return !errors.Is(err, permanent) },
	}
	r := Retry(context.Background(), opts, func(context.Context) Result[int] {
		attempts++
		if attempts == 1 {
			return Err[int](errors.New("transient"))
		}
		return Err[int](permanent)
	})
	if !errors.Is(r.Error(), permanent) {
		t.Fatalf("expected permanent error, got %v", r.Error())
	}
	if attempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", attempts)
	}
}

func TestRetryOpts_Delay(t *testing.T) {
	o := RetryOpts{InitialWait: 100 * time.Millisecond, MaxWait: time.Second}
	want := []time.Duration{100, 200, 400, 800, 1000, 1000}
	for n, w := range want {
		if got := o.delay(n); got != w*time.Millisecond {
			t.Fatalf("delay(%d) = %v, want %v", n, got, w*time.Millisecond)
		}
	}

	o.Multiplier = 3
	if got := o.delay(2); got != 900*time.Millisecond {
		t.Fatalf("delay(2) with multiplier 3 = %v", got)
	}

	o.Jitter = true
	for range 50 {
		if got := o.delay(1); got < 100*time.Millisecond || got >= 200*time.Millisecond {
			t.Fatalf("jittered delay %v outside [100ms, 200ms)", got)
		}
	}
}
