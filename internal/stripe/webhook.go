package stripe

import (
	"encoding/json"
	"fmt"

	stripego "github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/webhook"

	"github.com/Dhoini/Billing-microservice/internal/domain"
)

// Типы событий, которые мы обрабатываем
const (
	EventCheckoutSessionCompleted    = "checkout.session.completed"
	EventCustomerSubscriptionUpdated = "customer.subscription.updated"
	EventCustomerSubscriptionDeleted = "customer.subscription.deleted"
)

// Event - проверенное событие вебхука
type Event struct {
	ID      string
	Type    string
	Created int64
	Raw     json.RawMessage
}

// VerifyWebhook проверяет подпись на сыром теле запроса и только потом
// разбирает событие. Расхождение версии API игнорируется.
func VerifyWebhook(payload []byte, signature, secret string) (*Event, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signature, secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrWebhookValidationFailed, err)
	}
	out := &Event{ID: event.ID, Type: string(event.Type), Created: event.Created}
	if event.Data != nil {
		out.Raw = event.Data.Raw
	}
	return out, nil
}

// CheckoutSession - поля checkout.session, нужные для синхронизации
type CheckoutSession struct {
	ID           string            `json:"id"`
	Customer     string            `json:"customer"`
	Subscription string            `json:"subscription"`
	Metadata     map[string]string `json:"metadata"`
}

// ParseCheckoutSession разбирает data.object события checkout.session.*
func ParseCheckoutSession(raw json.RawMessage) (*CheckoutSession, error) {
	var s CheckoutSession
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("decode checkout.session: %w", err)
	}
	return &s, nil
}

// ParseSubscription разбирает data.object события customer.subscription.*
func ParseSubscription(raw json.RawMessage) (*Subscription, error) {
	var s stripego.Subscription
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("decode subscription: %w", err)
	}
	if s.ID == "" {
		return nil, fmt.Errorf("decode subscription: missing id")
	}
	return fromStripeSubscription(&s), nil
}
