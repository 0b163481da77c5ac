package backoff

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestRetry(t *testing.T) {
	n := 0
	try := func() error {
		n++
		if n < 5 {
			return fmt.Errorf("test error %d", n)
		}
		return nil
	}
	c := Config{MinWait: time.Millisecond, MaxWait: 2 * time.Millisecond}
	if err := c.Retry(context.Background(), try); err != nil {
		t.Fatal(err)
	}
	if n != 5 {
		t.Fatalf("expected 5 tries, got %d", n)
	}
}

func TestRetry_MaxAttempts(t *testing.T) {
	n := 0
	boom := errors.New("boom")
	c := Config{MinWait: time.Millisecond, MaxAttempts: 3}
	err := c.Retry(context.Background(), func() error {
		n++
		return boom
	})
	if !errors.Is(err, ErrGaveUp) || !errors.Is(err, boom) {
		t.Fatalf("expected ErrGaveUp wrapping boom, got %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 tries, got %d", n)
	}
}

func TestRetry_ReportAborts(t *testing.T) {
	permanent := errors.New("permanent")
	reported := 0
	c := Config{
		MinWait: time.Millisecond,
		Report: func(attempt int, err error) error {
			reported++
			return permanent
		},
	}
	err := c.Retry(context.Background(), func() error { return errors.New("fail") })
	if !errors.Is(err, permanent) || reported != 1 {
		t.Fatalf("expected abort after one report, got %v after %d", err, reported)
	}
}

func TestRetry_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	called := false
	err := Config{}.Retry(ctx, func() error {
		called = true
		return nil
	})
	if !errors.Is(err, context.Canceled) || called {
		t.Fatalf("expected immediate cancel without calling try, got %v (called %v)", err, called)
	}
}
