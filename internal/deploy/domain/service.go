// Package domain defines the deployment orchestrator contract. The
// orchestrator owns every write to an app's deployment_status; route
// handlers and the billing worker never touch it directly.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	appdomain "github.com/smallbiznis/shipyard/internal/app/domain"
)

var (
	ErrNoVersions    = errors.New("app_has_no_versions")
	ErrNotDeployed   = errors.New("app_not_deployed")
	ErrEmptySnapshot = errors.New("empty_code_snapshot")
)

// DeployResult reports a successful first deploy.
type DeployResult struct {
	URL          string                 `json:"url"`
	ArchiveURL   string                 `json:"archive_url"`
	DeploymentID string                 `json:"deployment_id"`
	Version      appdomain.VersionLabel `json:"-"`
}

// UpdateResult reports a successful update deploy.
type UpdateResult struct {
	Version      appdomain.VersionLabel `json:"-"`
	URL          string                 `json:"url"`
	DeploymentID string                 `json:"deployment_id"`
}

// RollbackResult reports a successful rollback.
type RollbackResult struct {
	Version appdomain.VersionLabel `json:"-"`
	URL     string                 `json:"url"`
}

// SuspendResult reports a completed suspension.
type SuspendResult struct {
	Message string `json:"message"`
}

// ReactivateResult reports a successful reactivation.
type ReactivateResult struct {
	URL string `json:"url"`
}

// StatusResult is the read-only deployment view of an app.
type StatusResult struct {
	Status         appdomain.DeploymentStatus `json:"status"`
	URL            string                     `json:"url"`
	DeploymentID   string                     `json:"deployment_id"`
	CurrentVersion string                     `json:"current_version"`
	UpdatedAt      time.Time                  `json:"updated_at"`
}

type Service interface {
	// DeployApp archives and publishes the app's latest stored version as
	// v1.0. Archive creation strictly precedes publish.
	DeployApp(ctx context.Context, appID, userID snowflake.ID) (DeployResult, error)

	// UpdateApp archives the new snapshot into the existing archive, records
	// it as a new immutable version, and publishes it under the next minor
	// label. The version row survives a failed publish.
	UpdateApp(ctx context.Context, appID, userID snowflake.ID, code appdomain.CodeSnapshot, description string) (UpdateResult, error)

	// RollbackApp republishes a prior version fetched from the archive, the
	// durable source, not from the version table. History is reused, never
	// extended.
	RollbackApp(ctx context.Context, appID, userID snowflake.ID, target appdomain.VersionLabel) (RollbackResult, error)

	// SuspendApp tears down the live deployment and marks the app
	// suspended. Idempotent; teardown failure does not block suspension.
	SuspendApp(ctx context.Context, appID, userID snowflake.ID, reason string) (SuspendResult, error)

	// ReactivateApp republishes the latest stored version, which may be
	// newer than what was live before suspension.
	ReactivateApp(ctx context.Context, appID, userID snowflake.ID) (ReactivateResult, error)

	// GetDeploymentStatus returns the app's current deployment view.
	GetDeploymentStatus(ctx context.Context, appID snowflake.ID) (StatusResult, error)
}
