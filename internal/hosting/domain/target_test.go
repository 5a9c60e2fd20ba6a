package domain

import (
	"context"
	"errors"
	"testing"
	"time"
)

type noSleep struct{ slept int }

func (s *noSleep) Sleep(time.Duration) { s.slept++ }

func TestPollReturnsReadyURL(t *testing.T) {
	calls := 0
	check := func(ctx context.Context) (DeployState, string, error) {
		calls++
		if calls < 3 {
			return StatePending, "", nil
		}
		return StateReady, "https://live.example.com", nil
	}

	result, err := Poll(context.Background(), &noSleep{}, RetryPolicy{MaxAttempts: 10, Interval: time.Millisecond}, "https://guess.example.com", check)
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if result.URL != "https://live.example.com" {
		t.Fatalf("expected live URL, got %q", result.URL)
	}
	if result.Attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", result.Attempts)
	}
	if result.TimedOut {
		t.Fatalf("expected no timeout")
	}
}

func TestPollStopsImmediatelyOnTerminalError(t *testing.T) {
	calls := 0
	check := func(ctx context.Context) (DeployState, string, error) {
		calls++
		return StateError, "", nil
	}

	_, err := Poll(context.Background(), &noSleep{}, RetryPolicy{MaxAttempts: 10}, "u", check)
	if !errors.Is(err, ErrPublishRuntime) {
		t.Fatalf("expected ErrPublishRuntime, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected a single check, got %d", calls)
	}
}

func TestPollExhaustionReturnsCandidateURL(t *testing.T) {
	check := func(ctx context.Context) (DeployState, string, error) {
		return StatePending, "", nil
	}

	sleeper := &noSleep{}
	result, err := Poll(context.Background(), sleeper, RetryPolicy{MaxAttempts: 5, Interval: time.Second}, "https://guess.example.com", check)
	if err != nil {
		t.Fatalf("expected exhaustion to succeed, got %v", err)
	}
	if !result.TimedOut {
		t.Fatalf("expected timeout flag")
	}
	if result.URL != "https://guess.example.com" {
		t.Fatalf("expected candidate URL, got %q", result.URL)
	}
	if result.Attempts != 5 {
		t.Fatalf("expected 5 attempts, got %d", result.Attempts)
	}
	if sleeper.slept != 4 {
		t.Fatalf("expected 4 sleeps between 5 attempts, got %d", sleeper.slept)
	}
}

func TestPollTreatsTransientErrorsAsPending(t *testing.T) {
	calls := 0
	check := func(ctx context.Context) (DeployState, string, error) {
		calls++
		if calls == 1 {
			return "", "", errors.New("connection reset")
		}
		return StateReady, "https://live.example.com", nil
	}

	result, err := Poll(context.Background(), &noSleep{}, RetryPolicy{MaxAttempts: 3}, "u", check)
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if result.URL != "https://live.example.com" {
		t.Fatalf("expected recovery after transient error, got %q", result.URL)
	}
}
