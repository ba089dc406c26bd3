package repository

import (
	"context"
	"time"

	"github.com/Dhoini/Billing-microservice/internal/domain"
)

// CompanyRepository - биллинговые поля тенанта
type CompanyRepository interface {
	GetByID(ctx context.Context, id string) (*domain.Company, error)
	GetByCustomerID(ctx context.Context, customerID string) (*domain.Company, error)

	// ActivatePlan - checkout завершен: план, клиент и статус подписки
	ActivatePlan(ctx context.Context, companyID, plan, customerID, status string) error
	SetCustomerID(ctx context.Context, companyID, customerID string) error
	SetCurrentPlan(ctx context.Context, companyID, plan string) error
	SetSubscriptionStatus(ctx context.Context, companyID, status string) error

	// ScheduleChange сохраняет отложенный даунгрейд
	ScheduleChange(ctx context.Context, companyID, plan string, at time.Time) error
	// PromoteScheduledPlan делает plan текущим и очищает отложенное изменение
	PromoteScheduledPlan(ctx context.Context, companyID, plan string) error
}

// SubscriptionState - состояние подписки у провайдера для синхронизации
type SubscriptionState struct {
	StripeSubscriptionID string
	StripePriceID        *string
	PlanName             *string
	Status               string
	IsActive             bool
	CurrentPeriodStart   *time.Time
	CurrentPeriodEnd     *time.Time
	CancelAtPeriodEnd    bool
	// BillingInterval - интервал базовой позиции; пустой не меняет строку
	BillingInterval domain.BillingInterval
	// EventAt - время события у провайдера, более старые события не применяются
	EventAt time.Time
	// ItemIDs - если не nil, перезаписывает закешированные id позиций
	ItemIDs map[domain.ResourceType]*string
}

// SubscriptionRepository - локальные копии подписок
type SubscriptionRepository interface {
	// ListActiveByCompany - активные подписки, базовая первой
	ListActiveByCompany(ctx context.Context, companyID string) ([]domain.Subscription, error)
	GetByStripeID(ctx context.Context, stripeSubscriptionID string) (*domain.Subscription, error)

	// Upsert идемпотентен по stripe_subscription_id
	Upsert(ctx context.Context, sub *domain.Subscription) error

	// SetItemID обновляет закешированный id позиции. Пустой itemID очищает поле.
	SetItemID(ctx context.Context, companyID, subscriptionID string, resource domain.ResourceType, itemID string) error

	// ApplyState применяет состояние из вебхука. Возвращает false, если строка
	// не найдена или событие старее уже примененного.
	ApplyState(ctx context.Context, companyID string, state SubscriptionState) (bool, error)

	// SetBillingInterval фиксирует интервал после смены цены базовой позиции
	SetBillingInterval(ctx context.Context, companyID, stripeSubscriptionID string, interval domain.BillingInterval) error

	// Deactivate помечает подписку неактивной (строки не удаляются). at
	// становится last_event_at, поэтому более старые события ее не оживят.
	Deactivate(ctx context.Context, companyID, stripeSubscriptionID, status string, at time.Time) error
}

// MemberRepository - участники компании. Создание, удаление и смена статуса
// меняют employee_count в той же транзакции.
type MemberRepository interface {
	Create(ctx context.Context, m *domain.Member) error
	Get(ctx context.Context, companyID, memberID string) (*domain.Member, error)
	GetByUser(ctx context.Context, companyID, userID string) (*domain.Member, error)
	List(ctx context.Context, companyID string) ([]domain.Member, error)
	Delete(ctx context.Context, companyID, memberID string) (*domain.Member, error)
	// Update меняет статус и роль; возвращает состояние до изменения
	Update(ctx context.Context, companyID, memberID string, status domain.MemberStatus, role domain.MemberRole) (before *domain.Member, after *domain.Member, err error)
	// FindUserIDByEmail ищет зарегистрированного пользователя по email
	FindUserIDByEmail(ctx context.Context, email string) (string, error)
	// GetUserEmail возвращает email профиля пользователя
	GetUserEmail(ctx context.Context, userID string) (string, error)
}

// LocationRepository - точки компании. Изменения меняют location_count в той же транзакции.
type LocationRepository interface {
	Create(ctx context.Context, l *domain.Location) error
	List(ctx context.Context, companyID string) ([]domain.Location, error)
	Delete(ctx context.Context, companyID, locationID string) (*domain.Location, error)
}

// CountDrift - расхождение счетчика с фактическим количеством
type CountDrift struct {
	CompanyID   string `db:"company_id" json:"company_id"`
	Resource    string `db:"resource" json:"resource"`
	StoredCount int    `db:"stored_count" json:"stored_count"`
	ActualCount int    `db:"actual_count" json:"actual_count"`
}

// CounterRepository пересчитывает материализованные счетчики
type CounterRepository interface {
	// Recalculate перезаписывает счетчики фактическими значениями и
	// возвращает исправленные расхождения
	Recalculate(ctx context.Context) ([]CountDrift, error)
}
