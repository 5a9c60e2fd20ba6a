package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/shipyard/internal/app/domain"
	"gorm.io/gorm"
)

type repository struct{}

// Provide constructs the gorm-backed app repository.
func Provide() domain.Repository {
	return &repository{}
}

func (r *repository) Insert(ctx context.Context, db *gorm.DB, app *domain.App) error {
	return db.WithContext(ctx).Create(app).Error
}

func (r *repository) Find(ctx context.Context, db *gorm.DB, appID snowflake.ID) (*domain.App, error) {
	var app domain.App
	err := db.WithContext(ctx).First(&app, "id = ?", appID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrAppNotFound
	}
	if err != nil {
		return nil, err
	}
	return &app, nil
}

func (r *repository) FindOwned(ctx context.Context, db *gorm.DB, appID, userID snowflake.ID) (*domain.App, error) {
	var app domain.App
	err := db.WithContext(ctx).First(&app, "id = ? AND user_id = ?", appID, userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrAppNotFound
	}
	if err != nil {
		return nil, err
	}
	return &app, nil
}

func (r *repository) ListByUserAndStatus(ctx context.Context, db *gorm.DB, userID snowflake.ID, statuses ...domain.DeploymentStatus) ([]*domain.App, error) {
	query := db.WithContext(ctx).Where("user_id = ?", userID)
	if len(statuses) > 0 {
		query = query.Where("deployment_status IN ?", statuses)
	}
	var apps []*domain.App
	if err := query.Order("id").Find(&apps).Error; err != nil {
		return nil, err
	}
	return apps, nil
}

func (r *repository) UpdateStatus(ctx context.Context, db *gorm.DB, appID snowflake.ID, status domain.DeploymentStatus) error {
	result := db.WithContext(ctx).Exec(
		`UPDATE apps SET deployment_status = ?, updated_at = ? WHERE id = ?`,
		status,
		time.Now().UTC(),
		appID,
	)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrAppNotFound
	}
	return nil
}

func (r *repository) SaveDeployment(ctx context.Context, db *gorm.DB, appID snowflake.ID, update domain.DeploymentUpdate) error {
	values := map[string]any{
		"deployment_status": update.Status,
		"updated_at":        time.Now().UTC(),
	}
	if update.CurrentVersion != "" {
		values["current_version"] = update.CurrentVersion
	}
	if update.DeployURL != "" {
		values["deploy_url"] = update.DeployURL
	}
	if update.HostingProjectName != "" {
		values["hosting_project_name"] = update.HostingProjectName
	}
	if update.HostingDeploymentID != "" {
		values["hosting_deployment_id"] = update.HostingDeploymentID
	}
	if update.ArchiveRepoName != "" {
		values["archive_repo_name"] = update.ArchiveRepoName
	}
	if update.ArchiveRepoURL != "" {
		values["archive_repo_url"] = update.ArchiveRepoURL
	}
	if update.ClearSuspension {
		values["suspended_at"] = nil
	}
	result := db.WithContext(ctx).Model(&domain.App{}).Where("id = ?", appID).Updates(values)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrAppNotFound
	}
	return nil
}

func (r *repository) SaveArchiveHandle(ctx context.Context, db *gorm.DB, appID snowflake.ID, repoName, repoURL string) error {
	result := db.WithContext(ctx).Exec(
		`UPDATE apps SET archive_repo_name = ?, archive_repo_url = ?, updated_at = ? WHERE id = ?`,
		repoName,
		repoURL,
		time.Now().UTC(),
		appID,
	)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrAppNotFound
	}
	return nil
}

func (r *repository) MarkSuspended(ctx context.Context, db *gorm.DB, appID snowflake.ID, at time.Time) error {
	result := db.WithContext(ctx).Exec(
		`UPDATE apps
		 SET deployment_status = ?, suspended_at = COALESCE(suspended_at, ?), updated_at = ?
		 WHERE id = ?`,
		domain.StatusSuspended,
		at,
		at,
		appID,
	)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrAppNotFound
	}
	return nil
}

func (r *repository) SetBillingStatus(ctx context.Context, db *gorm.DB, userID snowflake.ID, status string) error {
	return db.WithContext(ctx).Exec(
		`UPDATE apps SET billing_status = ?, updated_at = ? WHERE user_id = ?`,
		status,
		time.Now().UTC(),
		userID,
	).Error
}

func (r *repository) CountByStatus(ctx context.Context, db *gorm.DB, status domain.DeploymentStatus) (int64, error) {
	var count int64
	err := db.WithContext(ctx).Model(&domain.App{}).
		Where("deployment_status = ?", status).
		Count(&count).Error
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (r *repository) InsertVersion(ctx context.Context, db *gorm.DB, version *domain.AppVersion) error {
	return db.WithContext(ctx).Create(version).Error
}

func (r *repository) LatestVersion(ctx context.Context, db *gorm.DB, appID snowflake.ID) (*domain.AppVersion, error) {
	var version domain.AppVersion
	err := db.WithContext(ctx).
		Where("app_id = ?", appID).
		Order("version DESC").
		First(&version).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrVersionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &version, nil
}

func (r *repository) FindVersion(ctx context.Context, db *gorm.DB, appID snowflake.ID, number int) (*domain.AppVersion, error) {
	var version domain.AppVersion
	err := db.WithContext(ctx).
		Where("app_id = ? AND version = ?", appID, number).
		First(&version).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrVersionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &version, nil
}
