// Package domain contains persistence models for generated apps and their
// deployment history.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// DeploymentStatus is the single authoritative field describing where an app
// sits in the deployment state machine.
type DeploymentStatus string

const (
	StatusNone        DeploymentStatus = "none"
	StatusDeploying   DeploymentStatus = "deploying"
	StatusUpdating    DeploymentStatus = "updating"
	StatusRollingBack DeploymentStatus = "rolling_back"
	StatusDeployed    DeploymentStatus = "deployed"
	StatusSuspended   DeploymentStatus = "suspended"
	StatusFailed      DeploymentStatus = "failed"
)

const (
	BillingStatusActive  = "active"
	BillingStatusPastDue = "past_due"
)

// App is one generated application and its current deployment state.
type App struct {
	ID                  snowflake.ID     `gorm:"primaryKey" json:"id"`
	UserID              snowflake.ID     `gorm:"not null;index" json:"user_id"`
	Name                string           `gorm:"type:text;not null" json:"name"`
	DeploymentStatus    DeploymentStatus `gorm:"type:text;not null;default:none" json:"deployment_status"`
	CurrentVersion      string           `gorm:"type:text;not null;default:''" json:"current_version"`
	DeployURL           string           `gorm:"type:text;not null;default:''" json:"deploy_url"`
	ArchiveRepoName     string           `gorm:"type:text;not null;default:''" json:"archive_repo_name"`
	ArchiveRepoURL      string           `gorm:"type:text;not null;default:''" json:"archive_repo_url"`
	HostingProjectName  string           `gorm:"type:text;not null;default:''" json:"hosting_project_name"`
	HostingDeploymentID string           `gorm:"type:text;not null;default:''" json:"hosting_deployment_id"`
	BillingStatus       string           `gorm:"type:text;not null;default:active" json:"billing_status"`
	SuspendedAt         *time.Time       `gorm:"" json:"suspended_at,omitempty"`
	CreatedAt           time.Time        `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt           time.Time        `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (App) TableName() string { return "apps" }

// AppVersion is one immutable snapshot of generated source code. Rows are
// append-only: version numbers per app are gapless from 1 and never reused.
type AppVersion struct {
	ID               snowflake.ID   `gorm:"primaryKey" json:"id"`
	AppID            snowflake.ID   `gorm:"not null;index;uniqueIndex:ux_app_versions_app_version,priority:1" json:"app_id"`
	Version          int            `gorm:"not null;uniqueIndex:ux_app_versions_app_version,priority:2" json:"version"`
	Code             datatypes.JSON `gorm:"type:jsonb;not null" json:"-"`
	Description      string         `gorm:"type:text;not null;default:''" json:"description"`
	GenerationTimeMS int64          `gorm:"not null;default:0" json:"generation_time_ms"`
	TokensUsed       int64          `gorm:"not null;default:0" json:"tokens_used"`
	CreatedAt        time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

// TableName sets the database table name.
func (AppVersion) TableName() string { return "app_versions" }
