package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/Dhoini/Billing-microservice/internal/domain"
	"github.com/Dhoini/Billing-microservice/internal/metrics"
	"github.com/Dhoini/Billing-microservice/pkg/logger"
)

const (
	invitationTokenBytes = 32
	defaultNotifyTimeout = 5 * time.Second
)

// NotifyResult - итог отправки уведомления. Ошибка доставки не является
// ошибкой запроса: вызывающий только логирует результат.
type NotifyResult struct {
	Delivered bool          `json:"delivered"`
	Skipped   bool          `json:"skipped,omitempty"`
	Error     string        `json:"error,omitempty"`
	Duration  time.Duration `json:"-"`
}

// InvitationNotifier отправляет приглашения в режиме best-effort
type InvitationNotifier struct {
	sender  InvitationSender
	metrics metrics.BillingMetrics
	timeout time.Duration
	log     *logger.Logger
}

// NewInvitationNotifier создает отправителя приглашений. sender может быть nil.
func NewInvitationNotifier(sender InvitationSender, m metrics.BillingMetrics, log *logger.Logger) *InvitationNotifier {
	return &InvitationNotifier{sender: sender, metrics: m, timeout: defaultNotifyTimeout, log: log}
}

// Notify пытается доставить приглашение за ограниченное время. Отмена
// контекста запроса не прерывает отправку.
func (n *InvitationNotifier) Notify(ctx context.Context, inv domain.Invitation) NotifyResult {
	if n.sender == nil {
		n.metrics.IncNotification(metrics.OutcomeSkipped)
		return NotifyResult{Skipped: true}
	}

	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), n.timeout)
	defer cancel()

	start := time.Now()
	err := n.sender.SendInvitation(sendCtx, inv)
	res := NotifyResult{Delivered: err == nil, Duration: time.Since(start)}
	if err != nil {
		res.Error = err.Error()
		n.metrics.IncNotification(metrics.OutcomeFailure)
		return res
	}
	n.metrics.IncNotification(metrics.OutcomeSuccess)
	return res
}

// newInvitationToken - 32 случайных байта в hex
func newInvitationToken() (string, error) {
	b := make([]byte, invitationTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate invitation token: %w", err)
	}
	return hex.EncodeToString(b), nil
}
