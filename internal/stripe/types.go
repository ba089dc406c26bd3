package stripe

import (
	"time"

	"github.com/Dhoini/Billing-microservice/internal/domain"
)

// Ключи метаданных, которые мы пишем в объекты Stripe
const (
	MetadataCompanyID = "companyId"
	MetadataPlanID    = "planId"
	MetadataInterval  = "interval"
	MetadataType      = "type"
	MetadataParentID  = "parent_base_id"
)

// Item - позиция подписки
type Item struct {
	ID       string
	PriceID  string
	Quantity int64
	Interval domain.BillingInterval
}

// Subscription - то, что сервису нужно знать о подписке провайдера
type Subscription struct {
	ID                string
	CustomerID        string
	Status            string
	Interval          domain.BillingInterval
	PeriodStart       time.Time
	PeriodEnd         time.Time
	CancelAtPeriodEnd bool
	Items             []Item
	Metadata          map[string]string
}

// FindItemByPrice ищет позицию с заданной ценой
func (s *Subscription) FindItemByPrice(priceID string) (Item, bool) {
	for _, it := range s.Items {
		if it.PriceID == priceID {
			return it, true
		}
	}
	return Item{}, false
}

// IsUsageSidecar - подписка создана только под метрируемые позиции
func (s *Subscription) IsUsageSidecar() bool {
	return s.Metadata[MetadataType] == string(domain.SubscriptionTypeUsageSidecar)
}

// PhaseItem - позиция фазы расписания
type PhaseItem struct {
	PriceID  string
	Quantity int64
}

// CheckoutParams - параметры hosted checkout для новой подписки
type CheckoutParams struct {
	CustomerID string
	PriceID    string
	CompanyID  string
	PlanKey    string
	Interval   domain.BillingInterval
	SuccessURL string
	CancelURL  string
}

// UsageSubscriptionResult - созданная sidecar-подписка и ее позиция
type UsageSubscriptionResult struct {
	Subscription *Subscription
	ItemID       string
}
