package outbox

import (
	"context"
	"time"

	"github.com/smallbiznis/shipyard/internal/billing/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Config tunes the webhook drain loop.
type Config struct {
	PollInterval time.Duration
	BatchSize    int
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = 5 * time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 20
	}
	return c
}

type WorkerParams struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	Repo    domain.OutboxRepository
	Service domain.Service
	Config  Config `optional:"true"`
}

// Worker drains stored webhook events and applies their side effects.
type Worker struct {
	db      *gorm.DB
	log     *zap.Logger
	repo    domain.OutboxRepository
	service domain.Service
	cfg     Config
}

func NewWorker(p WorkerParams) *Worker {
	return &Worker{
		db:      p.DB,
		log:     p.Log.Named("billing.outbox"),
		repo:    p.Repo,
		service: p.Service,
		cfg:     p.Config.withDefaults(),
	}
}

func (w *Worker) RunForever(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if _, err := w.RunOnce(ctx); err != nil {
			w.log.Warn("webhook drain failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RunOnce claims one batch of unprocessed events and processes each. An
// event's processing failure is recorded on the row and does not abort the
// batch.
func (w *Worker) RunOnce(ctx context.Context) (int, error) {
	processed := 0
	err := w.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		events, err := w.repo.LockUnprocessed(ctx, tx, w.cfg.BatchSize)
		if err != nil {
			return err
		}
		now := time.Now().UTC()
		for _, event := range events {
			summary, err := w.service.ProcessEvent(ctx, event)
			if err != nil {
				w.log.Warn("webhook event processing failed",
					zap.String("provider_event_id", event.ProviderEventID),
					zap.String("event_type", event.EventType),
					zap.Error(err),
				)
				if err := w.repo.MarkFailed(ctx, tx, event.ID, now, err.Error()); err != nil {
					return err
				}
				continue
			}
			if err := w.repo.MarkProcessed(ctx, tx, event.ID, now); err != nil {
				return err
			}
			w.log.Info("webhook event processed",
				zap.String("event_type", summary.EventType),
				zap.Int("affected", summary.Affected),
				zap.Int("failed", summary.Failed),
			)
			processed++
		}
		return nil
	})
	return processed, err
}
