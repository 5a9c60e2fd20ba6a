package outbox

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/shipyard/internal/billing/domain"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func setupOutboxDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.Exec(
		`CREATE TABLE billing_webhook_events (
			id BIGINT PRIMARY KEY,
			provider TEXT NOT NULL,
			provider_event_id TEXT NOT NULL,
			event_type TEXT NOT NULL,
			customer_ref TEXT NOT NULL DEFAULT '',
			user_id BIGINT NOT NULL DEFAULT 0,
			payload TEXT NOT NULL,
			received_at TIMESTAMP NOT NULL,
			processed_at TIMESTAMP,
			last_error TEXT,
			UNIQUE (provider, provider_event_id)
		)`,
	).Error; err != nil {
		t.Fatalf("create billing_webhook_events: %v", err)
	}
	return db
}

func storedEvent(id snowflake.ID, providerEventID string) *domain.WebhookEvent {
	return &domain.WebhookEvent{
		ID:              id,
		Provider:        "stripe",
		ProviderEventID: providerEventID,
		EventType:       domain.EventSubscriptionDeleted,
		UserID:          7,
		Payload:         []byte(`{}`),
		ReceivedAt:      time.Now().UTC(),
	}
}

func TestInsertDeduplicatesRedelivery(t *testing.T) {
	db := setupOutboxDB(t)
	repo := Provide()
	ctx := context.Background()

	inserted, err := repo.Insert(ctx, db, storedEvent(1, "evt_1"))
	if err != nil {
		t.Fatalf("first insert: %v", err)
	}
	if !inserted {
		t.Fatal("first insert reported duplicate")
	}

	inserted, err = repo.Insert(ctx, db, storedEvent(2, "evt_1"))
	if err != nil {
		t.Fatalf("second insert: %v", err)
	}
	if inserted {
		t.Fatal("redelivered event was stored twice")
	}

	var count int64
	if err := db.Raw(`SELECT COUNT(*) FROM billing_webhook_events`).Scan(&count).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Errorf("rows = %d, want 1", count)
	}
}

type countingService struct {
	processed []string
	failFor   map[string]error
}

func (s *countingService) ProcessEvent(ctx context.Context, event *domain.WebhookEvent) (domain.ProcessSummary, error) {
	if err := s.failFor[event.ProviderEventID]; err != nil {
		return domain.ProcessSummary{}, err
	}
	s.processed = append(s.processed, event.ProviderEventID)
	return domain.ProcessSummary{EventType: event.EventType, Affected: 1}, nil
}

func TestRunOnceDrainsAndMarksProcessed(t *testing.T) {
	db := setupOutboxDB(t)
	repo := Provide()
	svc := &countingService{failFor: map[string]error{}}
	worker := NewWorker(WorkerParams{DB: db, Log: zap.NewNop(), Repo: repo, Service: svc})
	ctx := context.Background()

	for i, eventID := range []string{"evt_1", "evt_2"} {
		if _, err := repo.Insert(ctx, db, storedEvent(snowflake.ID(i+1), eventID)); err != nil {
			t.Fatalf("insert %s: %v", eventID, err)
		}
	}

	processed, err := worker.RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if processed != 2 {
		t.Errorf("processed = %d, want 2", processed)
	}
	if len(svc.processed) != 2 {
		t.Errorf("service saw %v, want both events", svc.processed)
	}

	processed, err = worker.RunOnce(ctx)
	if err != nil {
		t.Fatalf("second RunOnce: %v", err)
	}
	if processed != 0 {
		t.Errorf("second drain processed = %d, want 0", processed)
	}
}

func TestRunOnceRecordsFailureAndContinues(t *testing.T) {
	db := setupOutboxDB(t)
	repo := Provide()
	svc := &countingService{failFor: map[string]error{
		"evt_1": errors.New("transient downstream failure"),
	}}
	worker := NewWorker(WorkerParams{DB: db, Log: zap.NewNop(), Repo: repo, Service: svc})
	ctx := context.Background()

	for i, eventID := range []string{"evt_1", "evt_2"} {
		if _, err := repo.Insert(ctx, db, storedEvent(snowflake.ID(i+1), eventID)); err != nil {
			t.Fatalf("insert %s: %v", eventID, err)
		}
	}

	processed, err := worker.RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if processed != 1 {
		t.Errorf("processed = %d, want 1 (failing event recorded, not retried)", processed)
	}

	var lastError string
	if err := db.Raw(`SELECT last_error FROM billing_webhook_events WHERE provider_event_id = 'evt_1'`).Scan(&lastError).Error; err != nil {
		t.Fatalf("read last_error: %v", err)
	}
	if lastError == "" {
		t.Error("failure not recorded on the event row")
	}

	var unprocessed int64
	if err := db.Raw(`SELECT COUNT(*) FROM billing_webhook_events WHERE processed_at IS NULL`).Scan(&unprocessed).Error; err != nil {
		t.Fatalf("count unprocessed: %v", err)
	}
	if unprocessed != 0 {
		t.Errorf("unprocessed = %d, want 0", unprocessed)
	}
}
