// Package outbox stores webhook deliveries for async processing. The HTTP
// handler acknowledges the provider before any side effect runs; the worker
// drains the table afterwards.
package outbox

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/shipyard/internal/billing/domain"
	"gorm.io/gorm"
)

type repository struct{}

// Provide constructs the gorm-backed webhook outbox repository.
func Provide() domain.OutboxRepository {
	return &repository{}
}

func (r *repository) Insert(ctx context.Context, db *gorm.DB, event *domain.WebhookEvent) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`INSERT INTO billing_webhook_events
		   (id, provider, provider_event_id, event_type, customer_ref, user_id, payload, received_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (provider, provider_event_id) DO NOTHING`,
		event.ID,
		event.Provider,
		event.ProviderEventID,
		event.EventType,
		event.CustomerRef,
		event.UserID,
		event.Payload,
		event.ReceivedAt,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repository) LockUnprocessed(ctx context.Context, tx *gorm.DB, limit int) ([]*domain.WebhookEvent, error) {
	query := `SELECT id, provider, provider_event_id, event_type, customer_ref, user_id, payload, received_at, processed_at, last_error
		 FROM billing_webhook_events
		 WHERE processed_at IS NULL
		 ORDER BY received_at ASC, id ASC`
	// sqlite in tests has no row locking; single-writer semantics make it
	// unnecessary there.
	if tx.Dialector.Name() == "postgres" {
		query += "\n\t\t FOR UPDATE SKIP LOCKED"
	}
	query += "\n\t\t LIMIT ?"

	var events []*domain.WebhookEvent
	if err := tx.WithContext(ctx).Raw(query, limit).Scan(&events).Error; err != nil {
		return nil, err
	}
	return events, nil
}

func (r *repository) MarkProcessed(ctx context.Context, tx *gorm.DB, id snowflake.ID, at time.Time) error {
	return tx.WithContext(ctx).Exec(
		`UPDATE billing_webhook_events SET processed_at = ?, last_error = NULL WHERE id = ?`,
		at,
		id,
	).Error
}

func (r *repository) MarkFailed(ctx context.Context, tx *gorm.DB, id snowflake.ID, at time.Time, reason string) error {
	return tx.WithContext(ctx).Exec(
		`UPDATE billing_webhook_events SET processed_at = ?, last_error = ? WHERE id = ?`,
		at,
		reason,
		id,
	).Error
}
