package service

import (
	"context"
	"fmt"
	"time"

	"github.com/Dhoini/Billing-microservice/internal/domain"
	"github.com/Dhoini/Billing-microservice/pkg/logger"
)

// EventPublisher публикует события биллинга для внешних потребителей
type EventPublisher interface {
	PublishBillingEvent(ctx context.Context, event domain.BillingEvent) error
}

// InvitationSender доставляет приглашение получателю
type InvitationSender interface {
	SendInvitation(ctx context.Context, inv domain.Invitation) error
}

// NopPublisher отбрасывает события (Kafka не настроена)
type NopPublisher struct{}

func (NopPublisher) PublishBillingEvent(context.Context, domain.BillingEvent) error { return nil }

// BillingWarning - неудача биллинга, которая не отменяет операцию.
// Возвращается путем освобождения квоты после того, как удаление уже
// зафиксировано в базе.
type BillingWarning struct {
	Resource domain.ResourceType
	Message  string
	Err      error
}

func (w *BillingWarning) Error() string {
	if w.Err != nil {
		return fmt.Sprintf("%s billing adjustment failed: %s: %v", w.Resource, w.Message, w.Err)
	}
	return fmt.Sprintf("%s billing adjustment failed: %s", w.Resource, w.Message)
}

func (w *BillingWarning) Unwrap() error { return w.Err }

// publish отправляет событие; ошибка только логируется
func publish(ctx context.Context, p EventPublisher, log *logger.Logger, ev domain.BillingEvent) {
	if p == nil {
		return
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	if err := p.PublishBillingEvent(ctx, ev); err != nil {
		log.Warnw("Failed to publish billing event", "type", ev.Type, "companyID", ev.CompanyID, "error", err)
	}
}

func int64Ptr(v int64) *int64 { return &v }

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
