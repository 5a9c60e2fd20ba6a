package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Level grades a deployment log entry.
type Level string

const (
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// DeploymentLog is an immutable audit record written on every deployment
// state transition. It feeds diagnostics and the user activity feed; the
// apps table stays authoritative.
type DeploymentLog struct {
	ID        snowflake.ID      `gorm:"primaryKey" json:"id"`
	UserID    snowflake.ID      `gorm:"not null" json:"user_id"`
	AppID     snowflake.ID      `gorm:"not null;index" json:"app_id"`
	Level     Level             `gorm:"type:text;not null" json:"level"`
	Message   string            `gorm:"type:text;not null" json:"message"`
	Metadata  datatypes.JSONMap `gorm:"type:jsonb;not null;default:'{}'" json:"metadata"`
	CreatedAt time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

// TableName sets the database table name.
func (DeploymentLog) TableName() string { return "deployment_logs" }
