package domain

import "time"

// SubscriptionStatus - статус подписки у провайдера (как его видит компания)
type SubscriptionStatus string

const (
	StatusActive     SubscriptionStatus = "active"
	StatusTrialing   SubscriptionStatus = "trialing"
	StatusPastDue    SubscriptionStatus = "past_due"
	StatusCanceled   SubscriptionStatus = "canceled"
	StatusIncomplete SubscriptionStatus = "incomplete"
	StatusUnpaid     SubscriptionStatus = "unpaid"
)

// Live: подписка дает доступ (active или trialing)
func (s SubscriptionStatus) Live() bool {
	return s == StatusActive || s == StatusTrialing
}

// Company - тенант, единица биллинга и изоляции ресурсов
type Company struct {
	ID                  string     `db:"id" json:"id"`
	Name                string     `db:"name" json:"name"`
	Slug                string     `db:"slug" json:"slug"`
	CurrentPlan         *string    `db:"current_plan" json:"current_plan"`
	SubscriptionStatus  *string    `db:"subscription_status" json:"subscription_status"`
	EmployeeCount       int        `db:"employee_count" json:"employee_count"`
	LocationCount       int        `db:"location_count" json:"location_count"`
	StripeCustomerID    *string    `db:"stripe_customer_id" json:"stripe_customer_id,omitempty"`
	ScheduledPlanChange *string    `db:"scheduled_plan_change" json:"scheduled_plan_change"`
	ScheduledChangeDate *time.Time `db:"scheduled_change_date" json:"scheduled_change_date"`
	CreatedAt           time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt           time.Time  `db:"updated_at" json:"updated_at"`
}

// Plan возвращает ключ текущего плана или пустую строку
func (c *Company) Plan() string {
	if c.CurrentPlan == nil {
		return ""
	}
	return *c.CurrentPlan
}

// Status возвращает статус подписки или пустую строку
func (c *Company) Status() string {
	if c.SubscriptionStatus == nil {
		return ""
	}
	return *c.SubscriptionStatus
}

// Count возвращает значение счетчика для типа ресурса
func (c *Company) Count(r ResourceType) int {
	if r == ResourceLocation {
		return c.LocationCount
	}
	return c.EmployeeCount
}

// CustomerID возвращает id клиента у провайдера или пустую строку
func (c *Company) CustomerID() string {
	if c.StripeCustomerID == nil {
		return ""
	}
	return *c.StripeCustomerID
}
