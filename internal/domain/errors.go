package domain

import (
	"errors"
	"fmt"
	"net/http"
)

// Application errors
var (
	// ErrNotFound запись не найдена
	ErrNotFound = errors.New("record not found")

	// ErrDuplicate дубликат записи
	ErrDuplicate = errors.New("duplicate record")

	// ErrInvalidInput неверные входные данные
	ErrInvalidInput = errors.New("invalid input data")

	// ErrUnauthorized нет сессии или пользователь не состоит в компании
	ErrUnauthorized = errors.New("unauthorized")

	// ErrNoActivePlan у компании нет активной подписки
	ErrNoActivePlan = errors.New("no active subscription")

	// ErrPaymentRequired не удалось провести изменение в биллинге
	ErrPaymentRequired = errors.New("payment required")

	// ErrAlreadyOnPlan запрошен тот же план и тот же интервал
	ErrAlreadyOnPlan = errors.New("already on this plan")

	// ErrInvalidPlan неизвестный план или интервал
	ErrInvalidPlan = errors.New("invalid plan")

	// ErrNoBillingAccount у компании нет клиента в платежной системе
	ErrNoBillingAccount = errors.New("no billing account")

	// ErrWebhookValidationFailed не удалось проверить подпись вебхука
	ErrWebhookValidationFailed = errors.New("webhook validation failed")

	// ErrTenantBusy биллинг компании сейчас меняет другой запрос
	ErrTenantBusy = errors.New("billing update in progress, retry later")
)

// PaymentFailedMessage - текст, который видит пользователь при 402
const PaymentFailedMessage = "Payment failed. Please check your billing details."

// BillingError представляет ошибку при изменении подписки у провайдера
type BillingError struct {
	Code           string
	Message        string
	SubscriptionID string
	StatusCode     int
	OriginalErr    error
}

// Error реализует интерфейс error
func (e *BillingError) Error() string {
	if e.OriginalErr != nil {
		return fmt.Sprintf("billing error [%s]: %s: %v (subscription_id: %s)", e.Code, e.Message, e.OriginalErr, e.SubscriptionID)
	}
	return fmt.Sprintf("billing error [%s]: %s (subscription_id: %s)", e.Code, e.Message, e.SubscriptionID)
}

// Unwrap возвращает оригинальную ошибку
func (e *BillingError) Unwrap() error {
	return e.OriginalErr
}

// Is позволяет проверять ошибку через errors.Is(err, ErrPaymentRequired)
func (e *BillingError) Is(target error) bool {
	return target == ErrPaymentRequired && e.StatusCode == http.StatusPaymentRequired
}

// NewPaymentRequiredError создает ошибку 402 с сообщением для пользователя
func NewPaymentRequiredError(subscriptionID string, err error) *BillingError {
	return &BillingError{
		Code:           "payment_required",
		Message:        PaymentFailedMessage,
		SubscriptionID: subscriptionID,
		StatusCode:     http.StatusPaymentRequired,
		OriginalErr:    err,
	}
}

// EntitlementError - отказ в создании ресурса. Несет лимит и текущее
// количество, чтобы клиент мог показать предложение апгрейда.
type EntitlementError struct {
	Resource ResourceType
	Reason   string
	Limit    *int
	Current  int
}

func (e *EntitlementError) Error() string {
	return fmt.Sprintf("%s creation rejected: %s", e.Resource, e.Reason)
}

// Is сопоставляет отказ с ErrNoActivePlan
func (e *EntitlementError) Is(target error) bool {
	return target == ErrNoActivePlan
}

// NotFoundError представляет ошибку "не найдено"
type NotFoundError struct {
	Entity string
	ID     string
}

// Error реализует интерфейс error
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s with ID %s not found", e.Entity, e.ID)
}

// Is проверяет, является ли ошибка ошибкой типа "не найдено"
func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// NewNotFoundError создает новую ошибку "не найдено"
func NewNotFoundError(entity, id string) *NotFoundError {
	return &NotFoundError{
		Entity: entity,
		ID:     id,
	}
}
