package res

import (
	"encoding/json"
	"net/http"
)

// Коды ошибок API. Клиент ветвится по коду, а не по тексту сообщения.
const (
	CodeValidationFailed = "validation_failed"
	CodeLimitReached     = "limit_reached"
	CodePaymentRequired  = "payment_required"
	CodeNoActivePlan     = "no_active_plan"
	CodeAlreadyOnPlan    = "already_on_plan"
	CodeInvalidPlan      = "invalid_plan"
	CodeInvalidInput     = "invalid_input"
	CodeNoBillingAccount = "no_billing_account"
	CodeNotFound         = "not_found"
	CodeDuplicate        = "duplicate"
	CodeTenantBusy       = "tenant_busy"
	CodeInvalidSignature = "invalid_signature"
)

// ErrorResponse - тело ответа с ошибкой.
// Details для limit_reached несет {limit, current}, для validation_failed -
// ошибки по полям. DebugInfo заполняется только вне production.
type ErrorResponse struct {
	Error     string `json:"error"`
	ErrorCode string `json:"error_code,omitempty"`
	Details   any    `json:"details,omitempty"`
	DebugInfo string `json:"debug_info,omitempty"`
}

// JsonResponse отправляет JSON-ответ с заданным статусом.
func JsonResponse(w http.ResponseWriter, data any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// Fail отправляет ErrorResponse с сообщением и кодом
func Fail(w http.ResponseWriter, status int, message, code string) {
	JsonResponse(w, ErrorResponse{Error: message, ErrorCode: code}, status)
}
