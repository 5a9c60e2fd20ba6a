package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type ListFilter struct {
	AppID snowflake.ID
	Level Level
	Limit int
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, entry *DeploymentLog) error
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]*DeploymentLog, error)
}

// Service records deployment transitions. Write failures must never abort
// the operation being logged.
type Service interface {
	Log(ctx context.Context, userID, appID snowflake.ID, level Level, message string, metadata map[string]any)
	ListForApp(ctx context.Context, appID snowflake.ID, limit int) ([]*DeploymentLog, error)
}
