package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Dhoini/Billing-microservice/internal/stripe"
	"github.com/Dhoini/Billing-microservice/pkg/logger"
	"github.com/Dhoini/Billing-microservice/pkg/res"
)

const (
	// Ограничение на размер тела запроса вебхука (Stripe рекомендует ~65kb)
	maxRequestBodySize = int64(65536)
)

// EventProcessor применяет проверенное событие провайдера
type EventProcessor interface {
	HandleEvent(ctx context.Context, ev *stripe.Event) error
}

// WebhookHandler обрабатывает входящие вебхуки от Stripe.
type WebhookHandler struct {
	processor     EventProcessor
	log           *logger.Logger
	webhookSecret string
}

// NewWebhookHandler создает новый экземпляр WebhookHandler.
func NewWebhookHandler(webhookSecret string, processor EventProcessor, log *logger.Logger) (*WebhookHandler, error) {
	if webhookSecret == "" {
		log.Errorw("Stripe webhook secret is not configured")
		return nil, errors.New("stripe webhook secret is not configured")
	}
	return &WebhookHandler{
		processor:     processor,
		log:           log.With("handler", "stripe_webhook"),
		webhookSecret: webhookSecret,
	}, nil
}

// HandleStripeWebhook - обработчик для Gin, принимающий вебхуки Stripe.
func (h *WebhookHandler) HandleStripeWebhook(c *gin.Context) {
	// Подпись считается по сырому телу, поэтому читаем его один раз и целиком
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxRequestBodySize)
	payload, err := io.ReadAll(c.Request.Body)
	//goland:noinspection GoUnhandledErrorResult
	defer c.Request.Body.Close()

	if err != nil {
		h.log.Errorw("Failed to read webhook request body", "error", err)
		abortWithError(c, http.StatusBadRequest, res.ErrorResponse{Error: "Cannot read request body"})
		return
	}

	sigHeader := c.GetHeader("Stripe-Signature")
	if sigHeader == "" {
		h.log.Warnw("Missing Stripe-Signature header")
		abortWithError(c, http.StatusBadRequest, res.ErrorResponse{Error: "Missing Stripe-Signature header", ErrorCode: res.CodeInvalidSignature})
		return
	}

	event, err := stripe.VerifyWebhook(payload, sigHeader, h.webhookSecret)
	if err != nil {
		h.log.Errorw("Webhook signature verification failed", "error", err)
		abortWithError(c, http.StatusBadRequest, res.ErrorResponse{Error: "Webhook signature verification failed", ErrorCode: res.CodeInvalidSignature})
		return
	}

	h.log.Infow("Received Stripe webhook event", "eventID", event.ID, "eventType", event.Type)

	// Ошибка обработки -> 500, Stripe повторит доставку
	if err := h.processor.HandleEvent(c.Request.Context(), event); err != nil {
		h.log.Errorw("Failed to process webhook event", "eventID", event.ID, "eventType", event.Type, "error", err)
		abortWithError(c, http.StatusInternalServerError, res.ErrorResponse{Error: "Webhook processing failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"received": true})
}
