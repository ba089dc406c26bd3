package plans

import (
	"fmt"

	"github.com/Dhoini/Billing-microservice/internal/domain"
)

const (
	ReasonNoActivePlan = "No active subscription. Please upgrade to create resources."
	ReasonInvalidPlan  = "Invalid plan configuration"
)

// Decision - результат проверки лимита
type Decision struct {
	Allowed            bool    `json:"allowed"`
	Limit              *int    `json:"limit"`
	Reason             string  `json:"reason,omitempty"`
	WillTriggerOverage bool    `json:"will_trigger_overage"`
	OverageCost        float64 `json:"overage_cost,omitempty"`
	PlanName           string  `json:"plan_name,omitempty"`
}

// HasActivePlan: план задан и статус active или trialing
func HasActivePlan(planKey, status string) bool {
	if planKey == "" {
		return false
	}
	return domain.SubscriptionStatus(status).Live()
}

// Evaluate решает, можно ли создать ещё один ресурс. Жесткого потолка нет:
// при count >= limit ресурс разрешен, но помечен как платный сверх квоты.
// Функция чистая, ее нужно вызывать повторно на сервере перед списанием.
func (c *Catalog) Evaluate(resource domain.ResourceType, count int, planKey, status string) Decision {
	if !HasActivePlan(planKey, status) {
		return Decision{Reason: ReasonNoActivePlan}
	}

	p, ok := c.plans[planKey]
	if !ok {
		return Decision{Reason: ReasonInvalidPlan}
	}

	limit := p.Limit(resource)
	if count >= limit {
		return Decision{
			Allowed:            true,
			Limit:              &limit,
			WillTriggerOverage: true,
			OverageCost:        p.UnitCost(resource),
			PlanName:           p.Name,
			Reason:             limitReachedReason(resource, p.Name, limit),
		}
	}

	return Decision{Allowed: true, Limit: &limit}
}

func limitReachedReason(resource domain.ResourceType, planName string, limit int) string {
	noun := string(resource)
	if limit > 1 {
		noun += "s"
	}
	return fmt.Sprintf("You've reached the %s limit for the %s plan (%d %s).", resource, planName, limit, noun)
}

// LockReason - пояснение для UI, почему функциональность недоступна
func LockReason(planKey, status string) string {
	switch {
	case planKey == "" || status == string(domain.StatusIncomplete):
		return "This feature requires an active subscription. Please choose a plan to continue."
	case status == string(domain.StatusPastDue):
		return "Your subscription payment is past due. Please update your payment method to regain access."
	case status == string(domain.StatusCanceled):
		return "Your subscription has been canceled. Reactivate your subscription to access this feature."
	default:
		return "This feature is not available on your current plan."
	}
}

// OverageQuantity - сколько единиц сверх квоты будет после добавления
// ресурса к count существующим. Ноль, если квота не превышена.
func OverageQuantity(count, limit int) int64 {
	if count < limit {
		return 0
	}
	return int64(count + 1 - limit)
}

// ReleasedQuantity - количество единиц сверх квоты после удаления одного
// ресурса из oldCount, не меньше нуля.
func ReleasedQuantity(oldCount, limit int) int64 {
	q := oldCount - 1 - limit
	if q < 0 {
		return 0
	}
	return int64(q)
}
