package domain

import "time"

// SubscriptionType определяет роль подписки у компании
type SubscriptionType string

const (
	// SubscriptionTypeBase - подписка с абонентской платой по плану
	SubscriptionTypeBase SubscriptionType = "base"
	// SubscriptionTypeUsageSidecar - вспомогательная месячная подписка для
	// метрируемых позиций, когда базовая подписка годовая
	SubscriptionTypeUsageSidecar SubscriptionType = "usage_sidecar"
)

// BillingInterval определяет период оплаты
type BillingInterval string

const (
	IntervalMonth BillingInterval = "month"
	IntervalYear  BillingInterval = "year"
)

// Valid проверяет, что интервал поддерживается
func (i BillingInterval) Valid() bool {
	return i == IntervalMonth || i == IntervalYear
}

// Subscription - локальная копия подписки у провайдера
type Subscription struct {
	ID                   string           `db:"id" json:"id"`
	CompanyID            string           `db:"company_id" json:"company_id"`
	StripeSubscriptionID string           `db:"stripe_subscription_id" json:"stripe_subscription_id"`
	StripePriceID        *string          `db:"stripe_price_id" json:"stripe_price_id,omitempty"`
	Type                 SubscriptionType `db:"type" json:"type"`
	PlanName             *string          `db:"plan_name" json:"plan_name,omitempty"`
	Status               string           `db:"status" json:"status"`
	IsActive             bool             `db:"is_active" json:"is_active"`
	BillingInterval      BillingInterval  `db:"billing_interval" json:"billing_interval"`
	CurrentPeriodStart   *time.Time       `db:"current_period_start" json:"current_period_start,omitempty"`
	CurrentPeriodEnd     *time.Time       `db:"current_period_end" json:"current_period_end,omitempty"`
	CancelAtPeriodEnd    bool             `db:"cancel_at_period_end" json:"cancel_at_period_end"`
	StripeItemIDEmployee *string          `db:"stripe_item_id_employee" json:"stripe_item_id_employee,omitempty"`
	StripeItemIDLocation *string          `db:"stripe_item_id_location" json:"stripe_item_id_location,omitempty"`
	ParentSubscriptionID *string          `db:"parent_subscription_id" json:"parent_subscription_id,omitempty"`
	LastEventAt          *time.Time       `db:"last_event_at" json:"-"`
	CreatedAt            time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt            time.Time        `db:"updated_at" json:"updated_at"`
}

// ItemID возвращает закешированный id метрируемой позиции для ресурса
func (s *Subscription) ItemID(r ResourceType) string {
	p := s.StripeItemIDEmployee
	if r == ResourceLocation {
		p = s.StripeItemIDLocation
	}
	if p == nil {
		return ""
	}
	return *p
}

// SetItemID обновляет закешированный id позиции (пустая строка очищает)
func (s *Subscription) SetItemID(r ResourceType, id string) {
	var p *string
	if id != "" {
		p = &id
	}
	if r == ResourceLocation {
		s.StripeItemIDLocation = p
		return
	}
	s.StripeItemIDEmployee = p
}
