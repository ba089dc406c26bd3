package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Dhoini/Billing-microservice/internal/domain"
	"github.com/Dhoini/Billing-microservice/internal/middleware"
	"github.com/Dhoini/Billing-microservice/internal/service"
	"github.com/Dhoini/Billing-microservice/pkg/logger"
	"github.com/Dhoini/Billing-microservice/pkg/req"
)

// PlanManager - смена плана и портал самообслуживания
type PlanManager interface {
	ChangePlan(ctx context.Context, in service.ChangePlanInput) (*service.PlanChangeResult, error)
	CreatePortalSession(ctx context.Context, companyID, returnURL string) (string, error)
}

// CompanyAuthorizer проверяет доступ пользователя к компании из тела запроса
type CompanyAuthorizer interface {
	Authorize(c *gin.Context, companyID string) bool
}

// CheckoutRequest - запрос на оформление или смену плана
type CheckoutRequest struct {
	CompanyID string `json:"companyId" validate:"required"`
	PlanID    string `json:"planId" validate:"required"`
	Interval  string `json:"interval" validate:"omitempty,oneof=month year"`
}

// PortalRequest - запрос ссылки на портал
type PortalRequest struct {
	CompanyID string `json:"companyId" validate:"required"`
	ReturnURL string `json:"returnUrl" validate:"omitempty,url"`
}

// BillingHandler обслуживает маршруты /stripe
type BillingHandler struct {
	plans PlanManager
	auth  CompanyAuthorizer
	log   *logger.Logger
	debug bool
}

func NewBillingHandler(plans PlanManager, auth CompanyAuthorizer, log *logger.Logger, debug bool) *BillingHandler {
	return &BillingHandler{
		plans: plans,
		auth:  auth,
		log:   log.With("handler", "billing"),
		debug: debug,
	}
}

// Checkout - POST /stripe/checkout
func (h *BillingHandler) Checkout(c *gin.Context) {
	body, err := req.DecodeAndValidate[CheckoutRequest](c.Request.Body)
	if err != nil {
		respondBadRequest(c, h.log, err)
		return
	}
	if !h.auth.Authorize(c, body.CompanyID) {
		return
	}

	interval := domain.BillingInterval(body.Interval)
	if interval == "" {
		interval = domain.IntervalMonth
	}

	result, err := h.plans.ChangePlan(c.Request.Context(), service.ChangePlanInput{
		CompanyID:     body.CompanyID,
		PlanKey:       body.PlanID,
		Interval:      interval,
		CustomerEmail: middleware.UserEmail(c),
	})
	if err != nil {
		respondError(c, h.log, err, h.debug)
		return
	}

	h.log.Infow("Plan change processed", "companyID", body.CompanyID, "plan", body.PlanID, "kind", result.Kind.String())
	c.JSON(http.StatusOK, result)
}

// Portal - POST /stripe/portal
func (h *BillingHandler) Portal(c *gin.Context) {
	body, err := req.DecodeAndValidate[PortalRequest](c.Request.Body)
	if err != nil {
		respondBadRequest(c, h.log, err)
		return
	}
	if !h.auth.Authorize(c, body.CompanyID) {
		return
	}

	url, err := h.plans.CreatePortalSession(c.Request.Context(), body.CompanyID, body.ReturnURL)
	if err != nil {
		respondError(c, h.log, err, h.debug)
		return
	}
	c.JSON(http.StatusOK, gin.H{"url": url})
}
