// Package applock serializes deployment operations per app via lease rows.
// Two concurrent updates to the same app would otherwise race on the
// version counter and clobber each other's hosting deployment.
package applock

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var ErrAppBusy = errors.New("app_operation_in_progress")

// DefaultLeaseTTL bounds how long a crashed holder can block an app.
const DefaultLeaseTTL = 10 * time.Minute

type Manager struct {
	db       *gorm.DB
	log      *zap.Logger
	leaseTTL time.Duration
}

func NewManager(db *gorm.DB, log *zap.Logger) *Manager {
	return &Manager{
		db:       db,
		log:      log.Named("applock"),
		leaseTTL: DefaultLeaseTTL,
	}
}

// Acquire claims the app's lease row. It returns ErrAppBusy when another
// operation holds a live lease. The returned release func is safe to defer
// and idempotent.
func (m *Manager) Acquire(ctx context.Context, appID snowflake.ID) (func(), error) {
	owner := uuid.NewString()
	now := time.Now().UTC()
	cutoff := now.Add(-m.leaseTTL)

	result := m.db.WithContext(ctx).Exec(
		`INSERT INTO app_locks (app_id, lock_owner, locked_at)
		 VALUES (?, ?, ?)
		 ON CONFLICT (app_id) DO UPDATE
		 SET lock_owner = excluded.lock_owner, locked_at = excluded.locked_at
		 WHERE app_locks.locked_at < ?`,
		appID,
		owner,
		now,
		cutoff,
	)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, ErrAppBusy
	}

	released := false
	release := func() {
		if released {
			return
		}
		released = true
		if err := m.db.Exec(
			`DELETE FROM app_locks WHERE app_id = ? AND lock_owner = ?`,
			appID,
			owner,
		).Error; err != nil {
			m.log.Warn("failed to release app lock",
				zap.String("app_id", appID.String()),
				zap.Error(err),
			)
		}
	}
	return release, nil
}
