package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Dhoini/Billing-microservice/internal/domain"
	"github.com/Dhoini/Billing-microservice/pkg/logger"
	"github.com/Dhoini/Billing-microservice/pkg/req"
	"github.com/Dhoini/Billing-microservice/pkg/res"
)

// entitlementDetails - данные для предложения апгрейда
type entitlementDetails struct {
	Limit   *int `json:"limit"`
	Current int  `json:"current"`
}

// abortWithError пишет ответ об ошибке и прерывает обработку в Gin
func abortWithError(c *gin.Context, status int, body res.ErrorResponse) {
	res.JsonResponse(c.Writer, body, status)
	c.Abort()
}

// respondError сопоставляет ошибку сервиса с HTTP-статусом
func respondError(c *gin.Context, log *logger.Logger, err error, debug bool) {
	body := res.ErrorResponse{Error: err.Error()}
	status := http.StatusInternalServerError

	var entErr *domain.EntitlementError
	var billErr *domain.BillingError

	switch {
	case errors.As(err, &entErr):
		status = http.StatusForbidden
		body.Error = entErr.Reason
		body.ErrorCode = res.CodeLimitReached
		body.Details = entitlementDetails{Limit: entErr.Limit, Current: entErr.Current}
	case errors.As(err, &billErr) && billErr.StatusCode == http.StatusPaymentRequired:
		status = http.StatusPaymentRequired
		body.Error = domain.PaymentFailedMessage
		body.ErrorCode = billErr.Code
	case errors.Is(err, domain.ErrPaymentRequired):
		status = http.StatusPaymentRequired
		body.Error = domain.PaymentFailedMessage
		body.ErrorCode = res.CodePaymentRequired
	case errors.Is(err, domain.ErrNoActivePlan):
		status = http.StatusForbidden
		body.ErrorCode = res.CodeNoActivePlan
	case errors.Is(err, domain.ErrAlreadyOnPlan):
		status = http.StatusBadRequest
		body.ErrorCode = res.CodeAlreadyOnPlan
	case errors.Is(err, domain.ErrInvalidPlan):
		status = http.StatusBadRequest
		body.ErrorCode = res.CodeInvalidPlan
	case errors.Is(err, domain.ErrInvalidInput):
		status = http.StatusBadRequest
		body.ErrorCode = res.CodeInvalidInput
	case errors.Is(err, domain.ErrNoBillingAccount):
		status = http.StatusNotFound
		body.ErrorCode = res.CodeNoBillingAccount
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
		body.ErrorCode = res.CodeNotFound
	case errors.Is(err, domain.ErrDuplicate):
		status = http.StatusConflict
		body.ErrorCode = res.CodeDuplicate
	case errors.Is(err, domain.ErrTenantBusy):
		status = http.StatusConflict
		body.ErrorCode = res.CodeTenantBusy
	case errors.Is(err, domain.ErrWebhookValidationFailed):
		status = http.StatusBadRequest
		body.ErrorCode = res.CodeInvalidSignature
	}

	if status >= http.StatusInternalServerError {
		log.Errorw("Request failed", "path", c.Request.URL.Path, "error", err)
		body.Error = "Internal server error"
	} else {
		log.Warnw("Request rejected", "path", c.Request.URL.Path, "status", status, "error", err)
	}
	if debug {
		body.DebugInfo = err.Error()
	}
	abortWithError(c, status, body)
}

// respondBadRequest - ответ на тело, не прошедшее разбор или валидацию
func respondBadRequest(c *gin.Context, log *logger.Logger, err error) {
	log.Warnw("Invalid request body", "path", c.Request.URL.Path, "error", err)
	body := res.ErrorResponse{Error: "Invalid request body", ErrorCode: res.CodeValidationFailed}
	if details := req.ValidationDetails(err); details != nil {
		body.Details = details
	}
	abortWithError(c, http.StatusBadRequest, body)
}
