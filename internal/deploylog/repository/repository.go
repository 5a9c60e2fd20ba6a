package repository

import (
	"context"

	"github.com/smallbiznis/shipyard/internal/deploylog/domain"
	"gorm.io/gorm"
)

const defaultListLimit = 50

type repository struct{}

// Provide constructs the gorm-backed deployment log repository.
func Provide() domain.Repository {
	return &repository{}
}

func (r *repository) Insert(ctx context.Context, db *gorm.DB, entry *domain.DeploymentLog) error {
	return db.WithContext(ctx).Create(entry).Error
}

func (r *repository) List(ctx context.Context, db *gorm.DB, filter domain.ListFilter) ([]*domain.DeploymentLog, error) {
	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = defaultListLimit
	}
	query := db.WithContext(ctx).Where("app_id = ?", filter.AppID)
	if filter.Level != "" {
		query = query.Where("level = ?", filter.Level)
	}
	var entries []*domain.DeploymentLog
	err := query.Order("created_at DESC, id DESC").Limit(limit).Find(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}
