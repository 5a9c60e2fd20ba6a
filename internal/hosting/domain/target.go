// Package domain defines the hosting target contract: push one code
// snapshot to a provider and wait until it serves a live URL.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	appdomain "github.com/smallbiznis/shipyard/internal/app/domain"
)

var (
	ErrPublishSubmit  = errors.New("publish_submit_failed")
	ErrPublishRuntime = errors.New("publish_runtime_failed")
)

// RetryPolicy bounds the readiness poll. Tests inject zero-interval
// policies instead of sleeping.
type RetryPolicy struct {
	MaxAttempts int
	Interval    time.Duration
}

// DefaultRetryPolicy polls every 5s for up to 24 attempts, about two
// minutes of waiting.
var DefaultRetryPolicy = RetryPolicy{MaxAttempts: 24, Interval: 5 * time.Second}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultRetryPolicy.MaxAttempts
	}
	if p.Interval < 0 {
		p.Interval = DefaultRetryPolicy.Interval
	}
	return p
}

// PublishRequest carries one snapshot to push live.
type PublishRequest struct {
	AppID   snowflake.ID
	UserID  snowflake.ID
	AppName string
	Code    appdomain.CodeSnapshot
	EnvVars map[string]string
}

// Deployment references a submitted, not-necessarily-ready deployment.
type Deployment struct {
	ID          string
	URL         string
	ProjectName string
}

// Target is one hosting provider, selected once at configuration time.
type Target interface {
	Provider() string

	// Publish submits the snapshot and returns a deployment handle whose
	// URL may not resolve yet.
	Publish(ctx context.Context, req PublishRequest) (Deployment, error)

	// AwaitReady polls until the deployment reports ready or a terminal
	// error. Exhausting the poll budget returns the candidate URL rather
	// than failing: slow-to-report deployments that eventually succeed
	// must not be treated as failures.
	AwaitReady(ctx context.Context, deploymentID, candidateURL string) (string, error)

	// Teardown removes a live deployment. Already-gone is success.
	Teardown(ctx context.Context, deploymentID string) error
}

// DeployState is a provider-neutral readiness state.
type DeployState string

const (
	StatePending DeployState = "pending"
	StateReady   DeployState = "ready"
	StateError   DeployState = "error"
)

// Sleeper is the subset of clock behavior polling needs.
type Sleeper interface {
	Sleep(d time.Duration)
}

// CheckFunc reports the deployment's current state and best-known URL.
type CheckFunc func(ctx context.Context) (DeployState, string, error)

// PollResult carries the outcome of a readiness poll.
type PollResult struct {
	URL      string
	Attempts int
	TimedOut bool
}

// Poll drives a readiness check under the policy. Transient check errors
// consume an attempt and keep polling; a terminal error state stops
// immediately with ErrPublishRuntime.
func Poll(ctx context.Context, sleeper Sleeper, policy RetryPolicy, candidateURL string, check CheckFunc) (PollResult, error) {
	policy = policy.withDefaults()

	result := PollResult{URL: candidateURL}
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		result.Attempts = attempt
		if err := ctx.Err(); err != nil {
			return result, err
		}

		state, url, err := check(ctx)
		if err == nil {
			switch state {
			case StateReady:
				if url != "" {
					result.URL = url
				}
				return result, nil
			case StateError:
				return result, ErrPublishRuntime
			}
		}

		if attempt < policy.MaxAttempts && policy.Interval > 0 {
			sleeper.Sleep(policy.Interval)
		}
	}

	result.TimedOut = true
	return result, nil
}
