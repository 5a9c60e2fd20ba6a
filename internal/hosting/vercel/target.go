// Package vercel publishes snapshots through the Vercel deployments API.
package vercel

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/shipyard/internal/clock"
	"github.com/smallbiznis/shipyard/internal/config"
	"github.com/smallbiznis/shipyard/internal/hosting/domain"
	"go.uber.org/zap"
)

const shortIDLen = 8

type Target struct {
	transport *transport
	policy    domain.RetryPolicy
	clk       clock.Clock
	log       *zap.Logger
}

func NewTarget(cfg config.Config, clk clock.Clock, log *zap.Logger) *Target {
	return &Target{
		transport: newTransport("", cfg.VercelToken, cfg.VercelTeamID),
		policy: domain.RetryPolicy{
			MaxAttempts: cfg.PollMaxAttempts,
			Interval:    cfg.PollInterval,
		},
		clk: clk,
		log: log.Named("hosting.vercel"),
	}
}

func (t *Target) Provider() string { return "vercel" }

type deploymentFile struct {
	File string `json:"file"`
	Data string `json:"data"`
}

type envVar struct {
	Key    string   `json:"key"`
	Value  string   `json:"value"`
	Target []string `json:"target"`
}

type createDeploymentRequest struct {
	Name            string           `json:"name"`
	Files           []deploymentFile `json:"files"`
	Target          string           `json:"target"`
	ProjectSettings struct {
		Framework       string `json:"framework"`
		BuildCommand    string `json:"buildCommand"`
		OutputDirectory string `json:"outputDirectory"`
		InstallCommand  string `json:"installCommand"`
		NodeVersion     string `json:"nodeVersion"`
	} `json:"projectSettings"`
	Env []envVar `json:"env,omitempty"`
}

type deploymentResponse struct {
	ID         string `json:"id"`
	URL        string `json:"url"`
	ReadyState string `json:"readyState"`
}

// Publish serializes the frontend tier into Vercel's inline-file format and
// submits a production deployment.
func (t *Target) Publish(ctx context.Context, req domain.PublishRequest) (domain.Deployment, error) {
	projectName := projectName(req.AppID, time.Now().UTC())

	body := createDeploymentRequest{
		Name:   projectName,
		Target: "production",
	}
	body.ProjectSettings.Framework = "vite"
	body.ProjectSettings.BuildCommand = "npm run build"
	body.ProjectSettings.OutputDirectory = "dist"
	body.ProjectSettings.InstallCommand = "npm install"
	body.ProjectSettings.NodeVersion = "20.x"

	for _, file := range req.Code.Frontend {
		body.Files = append(body.Files, deploymentFile{
			File: strings.TrimPrefix(file.Path, "/"),
			Data: file.Content,
		})
	}
	for key, value := range req.EnvVars {
		body.Env = append(body.Env, envVar{Key: key, Value: value, Target: []string{"production"}})
	}

	var resp deploymentResponse
	if err := t.transport.do(ctx, http.MethodPost, "/v13/deployments", body, &resp); err != nil {
		return domain.Deployment{}, fmt.Errorf("%w: %s", domain.ErrPublishSubmit, err)
	}

	return domain.Deployment{
		ID:          resp.ID,
		URL:         normalizeURL(resp.URL),
		ProjectName: projectName,
	}, nil
}

// AwaitReady polls the deployment until Vercel reports READY, a terminal
// error state, or the poll budget runs out.
func (t *Target) AwaitReady(ctx context.Context, deploymentID, candidateURL string) (string, error) {
	result, err := domain.Poll(ctx, t.clk, t.policy, candidateURL, func(ctx context.Context) (domain.DeployState, string, error) {
		var resp deploymentResponse
		if err := t.transport.do(ctx, http.MethodGet, "/v13/deployments/"+deploymentID, nil, &resp); err != nil {
			return "", "", err
		}
		switch resp.ReadyState {
		case "READY":
			return domain.StateReady, normalizeURL(resp.URL), nil
		case "ERROR", "CANCELED":
			return domain.StateError, "", nil
		default:
			return domain.StatePending, "", nil
		}
	})
	if err != nil {
		return "", err
	}
	if result.TimedOut {
		t.log.Warn("deployment readiness poll exhausted, assuming eventual success",
			zap.String("deployment_id", deploymentID),
			zap.Int("attempts", result.Attempts),
		)
	}
	return result.URL, nil
}

// Teardown deletes the deployment; an already-deleted deployment counts as
// success.
func (t *Target) Teardown(ctx context.Context, deploymentID string) error {
	err := t.transport.do(ctx, http.MethodDelete, "/v13/deployments/"+deploymentID, nil, nil)
	var apiErr *apiError
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
		return nil
	}
	return err
}

// normalizeURL prefixes the scheme Vercel omits.
func normalizeURL(url string) string {
	if url == "" || strings.Contains(url, "://") {
		return url
	}
	return "https://" + url
}

// projectName derives the hosting project name from the truncated app id
// and a timestamp suffix, lowercased.
func projectName(appID snowflake.ID, now time.Time) string {
	id := appID.String()
	if len(id) > shortIDLen {
		id = id[:shortIDLen]
	}
	return strings.ToLower(fmt.Sprintf("app-%s-%d", id, now.Unix()))
}
