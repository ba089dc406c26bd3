package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Dhoini/Billing-microservice/internal/domain"
	"github.com/Dhoini/Billing-microservice/internal/metrics"
	"github.com/Dhoini/Billing-microservice/internal/plans"
	"github.com/Dhoini/Billing-microservice/internal/repository"
	"github.com/Dhoini/Billing-microservice/internal/stripe"
	"github.com/Dhoini/Billing-microservice/pkg/logger"
)

// PlanChangeKind - вариант смены плана
type PlanChangeKind int

const (
	ChangeNoSubscription PlanChangeKind = iota
	ChangeSamePlanSameInterval
	ChangeIntervalSwitch
	ChangeUpgrade
	ChangeDowngrade
)

func (k PlanChangeKind) String() string {
	switch k {
	case ChangeNoSubscription:
		return "new_subscription"
	case ChangeSamePlanSameInterval:
		return "no_op"
	case ChangeIntervalSwitch:
		return "interval_switch"
	case ChangeUpgrade:
		return "upgrade"
	case ChangeDowngrade:
		return "downgrade"
	default:
		return "unknown"
	}
}

// ActivePlan - текущая базовая подписка компании
type ActivePlan struct {
	PlanKey      string
	Interval     domain.BillingInterval
	Subscription *domain.Subscription
}

// PlanChange - классифицированный запрос смены плана
type PlanChange struct {
	Kind     PlanChangeKind
	From     *ActivePlan
	To       plans.Plan
	Interval domain.BillingInterval
}

// ClassifyPlanChange определяет вариант смены плана. Ранги планов уникальны,
// поэтому разные планы всегда дают Upgrade или Downgrade.
func ClassifyPlanChange(catalog *plans.Catalog, current *ActivePlan, targetKey string, interval domain.BillingInterval) (PlanChange, error) {
	target, ok := catalog.Get(targetKey)
	if !ok || !interval.Valid() {
		return PlanChange{}, fmt.Errorf("%w: %q/%q", domain.ErrInvalidPlan, targetKey, interval)
	}

	change := PlanChange{From: current, To: target, Interval: interval}
	if current == nil {
		change.Kind = ChangeNoSubscription
		return change, nil
	}

	if current.PlanKey == targetKey {
		if current.Interval == interval {
			change.Kind = ChangeSamePlanSameInterval
		} else {
			change.Kind = ChangeIntervalSwitch
		}
		return change, nil
	}

	cmp, err := catalog.Compare(current.PlanKey, targetKey)
	if err != nil {
		return PlanChange{}, err
	}
	if cmp > 0 {
		change.Kind = ChangeUpgrade
	} else {
		change.Kind = ChangeDowngrade
	}
	return change, nil
}

// ChangePlanInput - запрос на смену плана
type ChangePlanInput struct {
	CompanyID     string
	PlanKey       string
	Interval      domain.BillingInterval
	CustomerEmail string
}

// PlanChangeResult - URL checkout либо сообщение о смене на месте
type PlanChangeResult struct {
	Kind        PlanChangeKind `json:"-"`
	URL         string         `json:"url,omitempty"`
	Message     string         `json:"message,omitempty"`
	EffectiveAt *time.Time     `json:"effective_at,omitempty"`
}

// PlanService - смена плана, checkout и billing portal
type PlanService struct {
	catalog   *plans.Catalog
	companies repository.CompanyRepository
	subs      repository.SubscriptionRepository
	provider  stripe.Provider
	metrics   metrics.BillingMetrics
	events    EventPublisher
	baseURL   string
	log       *logger.Logger
}

// NewPlanService создает сервис планов
func NewPlanService(
	catalog *plans.Catalog,
	companies repository.CompanyRepository,
	subs repository.SubscriptionRepository,
	provider stripe.Provider,
	m metrics.BillingMetrics,
	events EventPublisher,
	baseURL string,
	log *logger.Logger,
) *PlanService {
	return &PlanService{
		catalog:   catalog,
		companies: companies,
		subs:      subs,
		provider:  provider,
		metrics:   m,
		events:    events,
		baseURL:   strings.TrimRight(baseURL, "/"),
		log:       log.With("component", "plan_service"),
	}
}

// currentPlan возвращает активную базовую подписку компании или nil
func (s *PlanService) currentPlan(ctx context.Context, company *domain.Company) (*ActivePlan, error) {
	subs, err := s.subs.ListActiveByCompany(ctx, company.ID)
	if err != nil {
		return nil, err
	}
	base := baseSubscription(subs)
	if base == nil {
		return nil, nil
	}

	key := company.Plan()
	if key == "" && base.PlanName != nil {
		key = *base.PlanName
	}
	return &ActivePlan{PlanKey: key, Interval: base.BillingInterval, Subscription: base}, nil
}

// ChangePlan классифицирует запрос и выполняет соответствующий вариант
func (s *PlanService) ChangePlan(ctx context.Context, in ChangePlanInput) (*PlanChangeResult, error) {
	company, err := s.companies.GetByID(ctx, in.CompanyID)
	if err != nil {
		return nil, err
	}

	current, err := s.currentPlan(ctx, company)
	if err != nil {
		return nil, err
	}

	change, err := ClassifyPlanChange(s.catalog, current, in.PlanKey, in.Interval)
	if err != nil {
		s.metrics.IncPlanChange("invalid", metrics.OutcomeFailure)
		return nil, err
	}

	s.log.Infow("Plan change requested", "companyID", company.ID, "kind", change.Kind.String(),
		"target", change.To.Key, "interval", change.Interval)

	var res *PlanChangeResult
	switch change.Kind {
	case ChangeNoSubscription:
		res, err = s.startCheckout(ctx, company, change, in.CustomerEmail)
	case ChangeSamePlanSameInterval:
		err = domain.ErrAlreadyOnPlan
	case ChangeIntervalSwitch:
		res, err = s.switchInterval(ctx, company, change, in.CustomerEmail)
	case ChangeUpgrade:
		res, err = s.upgrade(ctx, company, change)
	case ChangeDowngrade:
		res, err = s.scheduleDowngrade(ctx, company, change)
	default:
		err = fmt.Errorf("unhandled plan change kind %d", change.Kind)
	}

	if err != nil {
		s.metrics.IncPlanChange(change.Kind.String(), metrics.OutcomeFailure)
		return nil, err
	}
	s.metrics.IncPlanChange(change.Kind.String(), metrics.OutcomeSuccess)
	res.Kind = change.Kind
	return res, nil
}

func (s *PlanService) startCheckout(ctx context.Context, company *domain.Company, change PlanChange, email string) (*PlanChangeResult, error) {
	customerID := company.CustomerID()
	if customerID == "" {
		id, err := s.provider.CreateCustomer(ctx, company.ID, company.Name, email)
		if err != nil {
			return nil, fmt.Errorf("create billing customer: %w", err)
		}
		if err := s.companies.SetCustomerID(ctx, company.ID, id); err != nil {
			return nil, err
		}
		customerID = id
	}

	url, err := s.provider.CreateCheckoutSession(ctx, stripe.CheckoutParams{
		CustomerID: customerID,
		PriceID:    change.To.BasePrice(change.Interval),
		CompanyID:  company.ID,
		PlanKey:    change.To.Key,
		Interval:   change.Interval,
		SuccessURL: s.baseURL + "/dashboard/billing?success=true",
		CancelURL:  s.baseURL + "/dashboard/billing?canceled=true",
	})
	if err != nil {
		return nil, fmt.Errorf("create checkout session: %w", err)
	}
	return &PlanChangeResult{URL: url}, nil
}

// switchInterval: текущая подписка отменяется сразу, новая оформляется через checkout
func (s *PlanService) switchInterval(ctx context.Context, company *domain.Company, change PlanChange, email string) (*PlanChangeResult, error) {
	sub := change.From.Subscription
	if err := s.provider.CancelSubscription(ctx, sub.StripeSubscriptionID); err != nil {
		return nil, fmt.Errorf("cancel subscription for interval switch: %w", err)
	}
	if err := s.subs.Deactivate(ctx, company.ID, sub.StripeSubscriptionID, string(domain.StatusCanceled), time.Now().UTC()); err != nil {
		return nil, err
	}
	s.log.Infow("Subscription canceled for interval switch",
		"companyID", company.ID, "subscriptionID", sub.StripeSubscriptionID, "from", change.From.Interval, "to", change.Interval)

	return s.startCheckout(ctx, company, change, email)
}

func (s *PlanService) upgrade(ctx context.Context, company *domain.Company, change PlanChange) (*PlanChangeResult, error) {
	sub := change.From.Subscription
	live, err := s.provider.GetSubscription(ctx, sub.StripeSubscriptionID)
	if err != nil {
		return nil, domain.NewPaymentRequiredError(sub.StripeSubscriptionID, err)
	}

	item, ok := findBaseItem(s.catalog, live)
	if !ok {
		return nil, fmt.Errorf("subscription %s has no base plan item", sub.StripeSubscriptionID)
	}

	if err := s.provider.SwapPrice(ctx, sub.StripeSubscriptionID, item.ID, change.To.BasePrice(change.Interval)); err != nil {
		s.metrics.IncProviderError("swap_price")
		return nil, domain.NewPaymentRequiredError(sub.StripeSubscriptionID, err)
	}

	if err := s.companies.SetCurrentPlan(ctx, company.ID, change.To.Key); err != nil {
		// провайдер уже переключен; вебхук subscription.updated допишет план
		s.log.Warnw("Upgrade applied at provider but local plan update failed", "companyID", company.ID, "error", err)
	}
	// Базовая позиция сменила интервал: от него зависит, куда пойдут метрируемые позиции
	if change.Interval != change.From.Interval {
		if err := s.subs.SetBillingInterval(ctx, company.ID, sub.StripeSubscriptionID, change.Interval); err != nil {
			s.log.Warnw("Upgrade changed billing interval but local row update failed",
				"companyID", company.ID, "interval", change.Interval, "error", err)
		}
	}

	publish(ctx, s.events, s.log, domain.BillingEvent{
		Type:      domain.EventPlanChanged,
		CompanyID: company.ID,
		Plan:      change.To.Key,
		Attrs:     map[string]string{"kind": change.Kind.String(), "from": change.From.PlanKey},
	})

	return &PlanChangeResult{Message: fmt.Sprintf("Upgraded to %s plan.", change.To.Name)}, nil
}

// scheduleDowngrade: фаза 1 - текущие позиции до конца периода, фаза 2 -
// базовая цена целевого плана и, для месячной базы, метрируемые позиции с
// количеством сверх новых лимитов
func (s *PlanService) scheduleDowngrade(ctx context.Context, company *domain.Company, change PlanChange) (*PlanChangeResult, error) {
	sub := change.From.Subscription

	next := []stripe.PhaseItem{{PriceID: change.To.BasePrice(change.Interval), Quantity: 1}}
	if change.Interval == domain.IntervalMonth {
		for _, r := range []domain.ResourceType{domain.ResourceEmployee, domain.ResourceLocation} {
			over := company.Count(r) - change.To.Limit(r)
			if over > 0 {
				next = append(next, stripe.PhaseItem{PriceID: change.To.UsagePrice(r), Quantity: int64(over)})
			}
		}
	}

	at, err := s.provider.ScheduleDowngrade(ctx, sub.StripeSubscriptionID, next)
	if err != nil {
		s.metrics.IncProviderError("schedule_downgrade")
		return nil, fmt.Errorf("schedule downgrade: %w", err)
	}

	if err := s.companies.ScheduleChange(ctx, company.ID, change.To.Key, at); err != nil {
		return nil, err
	}

	publish(ctx, s.events, s.log, domain.BillingEvent{
		Type:      domain.EventPlanChanged,
		CompanyID: company.ID,
		Plan:      change.To.Key,
		Attrs: map[string]string{
			"kind":         change.Kind.String(),
			"from":         change.From.PlanKey,
			"effective_at": at.UTC().Format(time.RFC3339),
		},
	})

	return &PlanChangeResult{
		Message:     fmt.Sprintf("Your plan will change to %s on %s.", change.To.Name, at.UTC().Format("January 2, 2006")),
		EffectiveAt: &at,
	}, nil
}

// findBaseItem - позиция подписки с базовой ценой любого плана
func findBaseItem(catalog *plans.Catalog, live *stripe.Subscription) (stripe.Item, bool) {
	for _, it := range live.Items {
		if ref, ok := catalog.LookupPrice(it.PriceID); ok && ref.IsBase() {
			return it, true
		}
	}
	return stripe.Item{}, false
}

// CreatePortalSession возвращает URL billing portal
func (s *PlanService) CreatePortalSession(ctx context.Context, companyID, returnURL string) (string, error) {
	company, err := s.companies.GetByID(ctx, companyID)
	if err != nil {
		return "", err
	}
	customerID := company.CustomerID()
	if customerID == "" {
		return "", domain.ErrNoBillingAccount
	}
	if returnURL == "" {
		returnURL = s.baseURL + "/dashboard/billing"
	}
	return s.provider.CreatePortalSession(ctx, customerID, returnURL)
}

// ResourceUsage - использование ресурса относительно квоты
type ResourceUsage struct {
	Count    int     `json:"count"`
	Limit    *int    `json:"limit"`
	Overage  int64   `json:"overage"`
	UnitCost float64 `json:"unit_cost,omitempty"`
}

// BillingOverview - состояние биллинга компании для UI
type BillingOverview struct {
	CompanyID           string                                `json:"company_id"`
	Plan                string                                `json:"plan,omitempty"`
	PlanName            string                                `json:"plan_name,omitempty"`
	Status              string                                `json:"status,omitempty"`
	HasActivePlan       bool                                  `json:"has_active_plan"`
	LockReason          string                                `json:"lock_reason,omitempty"`
	Usage               map[domain.ResourceType]ResourceUsage `json:"usage"`
	ScheduledPlanChange *string                               `json:"scheduled_plan_change,omitempty"`
	ScheduledChangeDate *time.Time                            `json:"scheduled_change_date,omitempty"`
	Subscriptions       []domain.Subscription                 `json:"subscriptions"`
}

// Overview собирает состояние биллинга компании
func (s *PlanService) Overview(ctx context.Context, companyID string) (*BillingOverview, error) {
	company, err := s.companies.GetByID(ctx, companyID)
	if err != nil {
		return nil, err
	}
	subs, err := s.subs.ListActiveByCompany(ctx, companyID)
	if err != nil {
		return nil, err
	}

	ov := &BillingOverview{
		CompanyID:           company.ID,
		Plan:                company.Plan(),
		Status:              company.Status(),
		HasActivePlan:       plans.HasActivePlan(company.Plan(), company.Status()),
		Usage:               map[domain.ResourceType]ResourceUsage{},
		ScheduledPlanChange: company.ScheduledPlanChange,
		ScheduledChangeDate: company.ScheduledChangeDate,
		Subscriptions:       subs,
	}
	if !ov.HasActivePlan {
		ov.LockReason = plans.LockReason(company.Plan(), company.Status())
	}

	plan, known := s.catalog.Get(company.Plan())
	if known {
		ov.PlanName = plan.Name
	}
	for _, r := range []domain.ResourceType{domain.ResourceEmployee, domain.ResourceLocation} {
		u := ResourceUsage{Count: company.Count(r)}
		if known {
			limit := plan.Limit(r)
			u.Limit = &limit
			u.UnitCost = plan.UnitCost(r)
			if u.Count > limit {
				u.Overage = int64(u.Count - limit)
			}
		}
		ov.Usage[r] = u
	}
	return ov, nil
}
