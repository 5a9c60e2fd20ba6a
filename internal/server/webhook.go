package server

import (
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	billingdomain "github.com/smallbiznis/shipyard/internal/billing/domain"
	"go.uber.org/zap"
)

const maxWebhookBody = 1 << 20

// BillingWebhook verifies and stores a provider delivery, then acknowledges
// immediately. Side effects run asynchronously from the outbox so provider
// retry-on-timeout never duplicates user-visible work.
func (s *Server) BillingWebhook(c *gin.Context) {
	provider := c.Param("provider")
	if s.adapter == nil || provider != s.adapter.Provider() {
		AbortWithError(c, billingdomain.ErrUnknownProvider)
		return
	}

	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	event, err := s.adapter.VerifyAndParse(payload, c.GetHeader("Stripe-Signature"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	stored := &billingdomain.WebhookEvent{
		ID:              s.genID.Generate(),
		Provider:        provider,
		ProviderEventID: event.ProviderEventID,
		EventType:       event.Type,
		CustomerRef:     event.CustomerRef,
		UserID:          event.UserID,
		Payload:         event.Payload,
		ReceivedAt:      time.Now().UTC(),
	}
	inserted, err := s.outbox.Insert(c.Request.Context(), s.db, stored)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if !inserted {
		s.log.Info("duplicate webhook delivery ignored",
			zap.String("provider", provider),
			zap.String("provider_event_id", event.ProviderEventID),
		)
	}

	c.JSON(http.StatusOK, gin.H{"received": true})
}
