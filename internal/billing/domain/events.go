// Package domain defines billing webhook processing: provider events are
// verified, stored, and later translated into bulk suspend/reactivate calls.
// The billing provider owns subscription state; this service is a consumer
// and must tolerate duplicate and out-of-order delivery.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var (
	ErrInvalidSignature = errors.New("invalid_webhook_signature")
	ErrUnknownProvider  = errors.New("unknown_billing_provider")
	ErrMalformedPayload = errors.New("malformed_webhook_payload")
)

const (
	EventCheckoutCompleted   = "checkout.session.completed"
	EventSubscriptionDeleted = "customer.subscription.deleted"
	EventPaymentFailed       = "invoice.payment_failed"
	EventPaymentSucceeded    = "invoice.payment_succeeded"
	EventInvoicePaid         = "invoice.paid"
)

// SubscriptionEvent is one verified provider notification.
type SubscriptionEvent struct {
	ProviderEventID string
	Type            string
	CustomerRef     string
	UserID          snowflake.ID
	Payload         []byte
}

// Adapter verifies and parses one provider's webhook deliveries.
type Adapter interface {
	Provider() string
	VerifyAndParse(payload []byte, signature string) (SubscriptionEvent, error)
}

// WebhookEvent is one stored delivery awaiting async processing. The
// (provider, provider_event_id) unique key makes redelivery a no-op.
type WebhookEvent struct {
	ID              snowflake.ID   `gorm:"primaryKey"`
	Provider        string         `gorm:"type:text;not null"`
	ProviderEventID string         `gorm:"type:text;not null"`
	EventType       string         `gorm:"type:text;not null"`
	CustomerRef     string         `gorm:"type:text;not null;default:''"`
	UserID          snowflake.ID   `gorm:"not null;default:0"`
	Payload         datatypes.JSON `gorm:"type:jsonb;not null"`
	ReceivedAt      time.Time      `gorm:"not null"`
	ProcessedAt     *time.Time     `gorm:""`
	LastError       *string        `gorm:"type:text"`
}

// TableName sets the database table name.
func (WebhookEvent) TableName() string { return "billing_webhook_events" }

type OutboxRepository interface {
	// Insert stores a delivery. Returns false without error when the event
	// was already stored by an earlier delivery.
	Insert(ctx context.Context, db *gorm.DB, event *WebhookEvent) (bool, error)

	// LockUnprocessed claims up to limit unprocessed events for the calling
	// transaction, oldest first.
	LockUnprocessed(ctx context.Context, tx *gorm.DB, limit int) ([]*WebhookEvent, error)

	MarkProcessed(ctx context.Context, tx *gorm.DB, id snowflake.ID, at time.Time) error
	MarkFailed(ctx context.Context, tx *gorm.DB, id snowflake.ID, at time.Time, reason string) error
}

// ProcessSummary reports one event's bulk outcome.
type ProcessSummary struct {
	EventType string
	Affected  int
	Failed    int
}

// Service applies one stored event's side effects across the user's apps.
type Service interface {
	ProcessEvent(ctx context.Context, event *WebhookEvent) (ProcessSummary, error)
}
