package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

var (
	ErrAppNotFound     = errors.New("app_not_found")
	ErrVersionNotFound = errors.New("version_not_found")
)

// DeploymentUpdate carries the fields rewritten after a successful publish.
type DeploymentUpdate struct {
	Status              DeploymentStatus
	CurrentVersion      string
	DeployURL           string
	HostingProjectName  string
	HostingDeploymentID string
	ArchiveRepoName     string
	ArchiveRepoURL      string
	ClearSuspension     bool
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, app *App) error
	Find(ctx context.Context, db *gorm.DB, appID snowflake.ID) (*App, error)
	FindOwned(ctx context.Context, db *gorm.DB, appID, userID snowflake.ID) (*App, error)
	ListByUserAndStatus(ctx context.Context, db *gorm.DB, userID snowflake.ID, statuses ...DeploymentStatus) ([]*App, error)
	UpdateStatus(ctx context.Context, db *gorm.DB, appID snowflake.ID, status DeploymentStatus) error
	SaveDeployment(ctx context.Context, db *gorm.DB, appID snowflake.ID, update DeploymentUpdate) error
	// SaveArchiveHandle persists the archive reference on its own. Archive
	// creation is not idempotent, so the handle must survive even when the
	// publish that follows fails.
	SaveArchiveHandle(ctx context.Context, db *gorm.DB, appID snowflake.ID, repoName, repoURL string) error
	MarkSuspended(ctx context.Context, db *gorm.DB, appID snowflake.ID, at time.Time) error
	SetBillingStatus(ctx context.Context, db *gorm.DB, userID snowflake.ID, status string) error
	CountByStatus(ctx context.Context, db *gorm.DB, status DeploymentStatus) (int64, error)

	InsertVersion(ctx context.Context, db *gorm.DB, version *AppVersion) error
	LatestVersion(ctx context.Context, db *gorm.DB, appID snowflake.ID) (*AppVersion, error)
	FindVersion(ctx context.Context, db *gorm.DB, appID snowflake.ID, version int) (*AppVersion, error)
}
