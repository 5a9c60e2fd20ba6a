// Package stripe adapts Stripe webhook deliveries to billing events.
package stripe

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/shipyard/internal/billing/domain"
	stripeapi "github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/webhook"
)

type Adapter struct {
	webhookSecret string
}

func NewAdapter(webhookSecret string) *Adapter {
	return &Adapter{webhookSecret: webhookSecret}
}

func (a *Adapter) Provider() string { return "stripe" }

// VerifyAndParse checks the Stripe-Signature header against the endpoint
// secret and extracts the affected customer and user.
func (a *Adapter) VerifyAndParse(payload []byte, signature string) (domain.SubscriptionEvent, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signature, a.webhookSecret, webhook.ConstructEventOptions{
		// Dashboard-configured endpoints send the account's API version,
		// which drifts from the SDK's pinned one.
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return domain.SubscriptionEvent{}, fmt.Errorf("%w: %s", domain.ErrInvalidSignature, err)
	}
	return parseEvent(event)
}

func parseEvent(event stripeapi.Event) (domain.SubscriptionEvent, error) {
	var object struct {
		Customer          string            `json:"customer"`
		ClientReferenceID string            `json:"client_reference_id"`
		Metadata          map[string]string `json:"metadata"`
	}
	if err := json.Unmarshal(event.Data.Raw, &object); err != nil {
		return domain.SubscriptionEvent{}, fmt.Errorf("%w: %s", domain.ErrMalformedPayload, err)
	}

	return domain.SubscriptionEvent{
		ProviderEventID: event.ID,
		Type:            string(event.Type),
		CustomerRef:     object.Customer,
		UserID:          extractUserID(object.Metadata, object.ClientReferenceID),
		Payload:         event.Data.Raw,
	}, nil
}

// extractUserID reads the user reference stamped into Stripe metadata at
// checkout time, falling back to the checkout session's client reference.
// Zero means the event carries no resolvable user and is skipped downstream.
func extractUserID(metadata map[string]string, clientRef string) snowflake.ID {
	candidate := metadata["user_id"]
	if candidate == "" {
		candidate = clientRef
	}
	if candidate == "" {
		return 0
	}
	parsed, err := strconv.ParseInt(candidate, 10, 64)
	if err != nil || parsed <= 0 {
		return 0
	}
	return snowflake.ID(parsed)
}
