package service

import (
	"context"
	"fmt"

	appdomain "github.com/smallbiznis/shipyard/internal/app/domain"
	"github.com/smallbiznis/shipyard/internal/billing/domain"
	deploydomain "github.com/smallbiznis/shipyard/internal/deploy/domain"
	logdomain "github.com/smallbiznis/shipyard/internal/deploylog/domain"
	"github.com/smallbiznis/shipyard/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB     *gorm.DB
	Log    *zap.Logger
	Apps   appdomain.Repository
	Deploy deploydomain.Service
	Logs   logdomain.Service
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	apps    appdomain.Repository
	deploy  deploydomain.Service
	logs    logdomain.Service
	metrics *metrics.DeploymentMetrics
}

func NewService(p Params) domain.Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("billing.service"),
		apps:    p.Apps,
		deploy:  p.Deploy,
		logs:    p.Logs,
		metrics: metrics.Deployment(),
	}
}

// ProcessEvent applies one stored webhook event. Suspend and reactivate are
// both idempotent, so redelivered events converge to the same state.
func (s *Service) ProcessEvent(ctx context.Context, event *domain.WebhookEvent) (domain.ProcessSummary, error) {
	summary := domain.ProcessSummary{EventType: event.EventType}

	if event.UserID == 0 {
		s.log.Warn("webhook event carries no resolvable user, skipping",
			zap.String("provider_event_id", event.ProviderEventID),
			zap.String("event_type", event.EventType),
		)
		s.metrics.IncWebhookEvent(event.EventType, "ignored")
		return summary, nil
	}

	var err error
	switch event.EventType {
	case domain.EventSubscriptionDeleted:
		summary, err = s.bulkSuspend(ctx, event, "Subscription canceled")

	case domain.EventPaymentFailed:
		if err = s.apps.SetBillingStatus(ctx, s.db, event.UserID, appdomain.BillingStatusPastDue); err != nil {
			break
		}
		summary, err = s.bulkSuspend(ctx, event, "Subscription payment failed")

	case domain.EventPaymentSucceeded, domain.EventInvoicePaid:
		if err = s.apps.SetBillingStatus(ctx, s.db, event.UserID, appdomain.BillingStatusActive); err != nil {
			break
		}
		summary, err = s.bulkReactivate(ctx, event)

	case domain.EventCheckoutCompleted:
		// Plan bookkeeping lives elsewhere; only the billing flag matters
		// for later suspend/reactivate eligibility.
		err = s.apps.SetBillingStatus(ctx, s.db, event.UserID, appdomain.BillingStatusActive)

	default:
		s.metrics.IncWebhookEvent(event.EventType, "ignored")
		return summary, nil
	}

	if err != nil {
		s.metrics.IncWebhookEvent(event.EventType, "failed")
		return summary, err
	}
	s.metrics.IncWebhookEvent(event.EventType, "processed")
	s.updateSuspendedGauge(ctx)
	return summary, nil
}

// bulkSuspend suspends every deployed app of the user. One app's failure is
// logged and the batch continues; a summary entry records the counts.
func (s *Service) bulkSuspend(ctx context.Context, event *domain.WebhookEvent, reason string) (domain.ProcessSummary, error) {
	summary := domain.ProcessSummary{EventType: event.EventType}

	apps, err := s.apps.ListByUserAndStatus(ctx, s.db, event.UserID, appdomain.StatusDeployed)
	if err != nil {
		return summary, err
	}

	for _, app := range apps {
		if _, err := s.deploy.SuspendApp(ctx, app.ID, event.UserID, reason); err != nil {
			summary.Failed++
			s.log.Warn("suspension failed for app",
				zap.String("app_id", app.ID.String()),
				zap.Error(err),
			)
			s.logs.Log(ctx, event.UserID, app.ID, logdomain.LevelError, "Suspension failed", map[string]any{
				"reason": reason,
				"error":  err.Error(),
			})
			continue
		}
		summary.Affected++
	}

	s.logs.Log(ctx, event.UserID, 0, logdomain.LevelInfo, fmt.Sprintf("Suspended %d of %d apps", summary.Affected, len(apps)), map[string]any{
		"event_type": event.EventType,
		"reason":     reason,
		"suspended":  summary.Affected,
		"failed":     summary.Failed,
	})
	return summary, nil
}

// bulkReactivate republishes every suspended app of the user, isolating
// per-app failures.
func (s *Service) bulkReactivate(ctx context.Context, event *domain.WebhookEvent) (domain.ProcessSummary, error) {
	summary := domain.ProcessSummary{EventType: event.EventType}

	apps, err := s.apps.ListByUserAndStatus(ctx, s.db, event.UserID, appdomain.StatusSuspended)
	if err != nil {
		return summary, err
	}

	for _, app := range apps {
		if _, err := s.deploy.ReactivateApp(ctx, app.ID, event.UserID); err != nil {
			summary.Failed++
			s.log.Warn("reactivation failed for app",
				zap.String("app_id", app.ID.String()),
				zap.Error(err),
			)
			s.logs.Log(ctx, event.UserID, app.ID, logdomain.LevelError, "Reactivation failed", map[string]any{
				"error": err.Error(),
			})
			continue
		}
		summary.Affected++
	}

	s.logs.Log(ctx, event.UserID, 0, logdomain.LevelInfo, fmt.Sprintf("Reactivated %d of %d apps", summary.Affected, len(apps)), map[string]any{
		"event_type":  event.EventType,
		"reactivated": summary.Affected,
		"failed":      summary.Failed,
	})
	return summary, nil
}

func (s *Service) updateSuspendedGauge(ctx context.Context) {
	count, err := s.apps.CountByStatus(ctx, s.db, appdomain.StatusSuspended)
	if err != nil {
		s.log.Warn("failed to count suspended apps", zap.Error(err))
		return
	}
	s.metrics.SetSuspendedApps(int(count))
}
