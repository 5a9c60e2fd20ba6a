// Package netlify publishes snapshots through the Netlify deploys API.
package netlify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/shipyard/internal/clock"
	"github.com/smallbiznis/shipyard/internal/config"
	"github.com/smallbiznis/shipyard/internal/hosting/domain"
	"github.com/smallbiznis/shipyard/internal/observability/tracing"
	"go.uber.org/zap"
)

const (
	defaultBaseURL = "https://api.netlify.com/api/v1"
	shortIDLen     = 8
)

type Target struct {
	baseURL    string
	token      string
	httpClient *http.Client
	policy     domain.RetryPolicy
	clk        clock.Clock
	log        *zap.Logger
}

func NewTarget(cfg config.Config, clk clock.Clock, log *zap.Logger) *Target {
	return &Target{
		baseURL:    defaultBaseURL,
		token:      cfg.NetlifyToken,
		httpClient: tracing.WrapHTTPClient(&http.Client{}),
		policy: domain.RetryPolicy{
			MaxAttempts: cfg.PollMaxAttempts,
			Interval:    cfg.PollInterval,
		},
		clk: clk,
		log: log.Named("hosting.netlify"),
	}
}

func (t *Target) Provider() string { return "netlify" }

type site struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	URL  string `json:"ssl_url"`
}

type deploy struct {
	ID     string `json:"id"`
	State  string `json:"state"`
	SiteID string `json:"site_id"`
	URL    string `json:"ssl_url"`
}

// Publish creates a site named from the truncated app id plus a timestamp
// suffix, then uploads every frontend file into a new deploy.
func (t *Target) Publish(ctx context.Context, req domain.PublishRequest) (domain.Deployment, error) {
	name := siteName(req.AppID, time.Now().UTC())

	var created site
	if err := t.doJSON(ctx, http.MethodPost, "/sites", map[string]any{"name": name}, &created); err != nil {
		return domain.Deployment{}, fmt.Errorf("%w: %s", domain.ErrPublishSubmit, err)
	}

	var dep deploy
	if err := t.doJSON(ctx, http.MethodPost, "/sites/"+created.ID+"/deploys", map[string]any{}, &dep); err != nil {
		return domain.Deployment{}, fmt.Errorf("%w: %s", domain.ErrPublishSubmit, err)
	}

	for _, file := range req.Code.Frontend {
		path := "/" + strings.TrimPrefix(file.Path, "/")
		if err := t.uploadFile(ctx, dep.ID, path, file.Content); err != nil {
			return domain.Deployment{}, fmt.Errorf("%w: upload %s: %s", domain.ErrPublishSubmit, path, err)
		}
	}

	url := dep.URL
	if url == "" {
		url = created.URL
	}
	return domain.Deployment{ID: dep.ID, URL: url, ProjectName: name}, nil
}

// AwaitReady polls the deploy until Netlify reports ready or a terminal
// error, bounded by the retry policy.
func (t *Target) AwaitReady(ctx context.Context, deploymentID, candidateURL string) (string, error) {
	result, err := domain.Poll(ctx, t.clk, t.policy, candidateURL, func(ctx context.Context) (domain.DeployState, string, error) {
		var dep deploy
		if err := t.doJSON(ctx, http.MethodGet, "/deploys/"+deploymentID, nil, &dep); err != nil {
			return "", "", err
		}
		switch dep.State {
		case "ready", "current":
			return domain.StateReady, dep.URL, nil
		case "error":
			return domain.StateError, "", nil
		default:
			return domain.StatePending, "", nil
		}
	})
	if err != nil {
		return "", err
	}
	if result.TimedOut {
		t.log.Warn("deploy readiness poll exhausted, assuming eventual success",
			zap.String("deploy_id", deploymentID),
			zap.Int("attempts", result.Attempts),
		)
	}
	return result.URL, nil
}

// Teardown deletes the deploy's site; already-gone counts as success.
func (t *Target) Teardown(ctx context.Context, deploymentID string) error {
	var dep deploy
	err := t.doJSON(ctx, http.MethodGet, "/deploys/"+deploymentID, nil, &dep)
	var apiErr *apiError
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
		return nil
	}
	if err != nil {
		return err
	}

	err = t.doJSON(ctx, http.MethodDelete, "/sites/"+dep.SiteID, nil, nil)
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
		return nil
	}
	return err
}

type apiError struct {
	Status  int
	Message string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("netlify api %d: %s", e.Status, e.Message)
}

func (t *Target) doJSON(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, t.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+t.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &apiError{Status: resp.StatusCode, Message: string(raw)}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (t *Target) uploadFile(ctx context.Context, deployID, path, content string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, t.baseURL+"/deploys/"+deployID+"/files"+path, strings.NewReader(content))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+t.token)
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &apiError{Status: resp.StatusCode, Message: string(raw)}
	}
	return nil
}

func siteName(appID snowflake.ID, now time.Time) string {
	id := appID.String()
	if len(id) > shortIDLen {
		id = id[:shortIDLen]
	}
	return strings.ToLower(fmt.Sprintf("app-%s-%d", id, now.Unix()))
}
