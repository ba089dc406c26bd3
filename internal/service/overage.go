package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/Dhoini/Billing-microservice/internal/domain"
	"github.com/Dhoini/Billing-microservice/internal/metrics"
	"github.com/Dhoini/Billing-microservice/internal/plans"
	"github.com/Dhoini/Billing-microservice/internal/repository"
	"github.com/Dhoini/Billing-microservice/internal/stripe"
	"github.com/Dhoini/Billing-microservice/pkg/logger"
)

// OverageCharge - выставленное провайдеру превышение квоты
type OverageCharge struct {
	Resource       domain.ResourceType `json:"resource"`
	Quantity       int64               `json:"quantity"`
	UnitCost       float64             `json:"unit_cost"`
	PlanName       string              `json:"plan_name"`
	ItemID         string              `json:"-"`
	SubscriptionID string              `json:"-"`
}

// Admission - решение о создании ресурса и, при превышении, выставленный счет
type Admission struct {
	Decision plans.Decision
	Charge   *OverageCharge
}

// UsageReconciler синхронизирует метрируемые позиции подписок со
// счетчиками ресурсов компании
type UsageReconciler struct {
	catalog  *plans.Catalog
	subs     repository.SubscriptionRepository
	provider stripe.Provider
	metrics  metrics.BillingMetrics
	events   EventPublisher
	log      *logger.Logger
}

// NewUsageReconciler создает сервис сверки превышений
func NewUsageReconciler(
	catalog *plans.Catalog,
	subs repository.SubscriptionRepository,
	provider stripe.Provider,
	m metrics.BillingMetrics,
	events EventPublisher,
	log *logger.Logger,
) *UsageReconciler {
	return &UsageReconciler{
		catalog:  catalog,
		subs:     subs,
		provider: provider,
		metrics:  m,
		events:   events,
		log:      log.With("component", "usage_reconciler"),
	}
}

// located - найденная метрируемая позиция и подписка, к которой она привязана
type located struct {
	sub    domain.Subscription
	itemID string
}

// ReserveOverage проверяет лимит по счетчику компании и, если новый ресурс
// выходит за квоту, выставляет провайдеру новое количество с немедленным
// счетом. Любая ошибка провайдера возвращается как ErrPaymentRequired:
// вызывающий не должен создавать ресурс.
func (r *UsageReconciler) ReserveOverage(ctx context.Context, company *domain.Company, resource domain.ResourceType) (*Admission, error) {
	decision, err := r.CheckEntitlement(company, resource)
	if err != nil {
		return nil, err
	}
	count := company.Count(resource)

	adm := &Admission{Decision: decision}
	if !decision.WillTriggerOverage {
		return adm, nil
	}

	plan, _ := r.catalog.Get(company.Plan())
	quantity := plans.OverageQuantity(count, plan.Limit(resource))

	r.log.Infow("Resource exceeds plan quota, charging overage",
		"companyID", company.ID, "resource", resource, "count", count, "quantity", quantity)

	charge, err := r.chargeOverage(ctx, company, plan, resource, quantity)
	if err != nil {
		r.metrics.IncProviderError("reserve_overage")
		r.log.Errorw("Overage charge failed, resource will not be created",
			"companyID", company.ID, "resource", resource, "error", err)
		return nil, err
	}

	r.metrics.ObserveOverageQuantity(string(resource), quantity)
	publish(ctx, r.events, r.log, domain.BillingEvent{
		Type:      domain.EventOverageUpdated,
		CompanyID: company.ID,
		Resource:  resource,
		Quantity:  int64Ptr(quantity),
		Plan:      plan.Key,
		Attrs:     map[string]string{"direction": "up"},
	})

	adm.Charge = charge
	return adm, nil
}

// CheckEntitlement - проверка лимита без обращения к провайдеру
func (r *UsageReconciler) CheckEntitlement(company *domain.Company, resource domain.ResourceType) (plans.Decision, error) {
	count := company.Count(resource)
	decision := r.catalog.Evaluate(resource, count, company.Plan(), company.Status())
	if !decision.Allowed {
		r.log.Infow("Resource creation rejected", "companyID", company.ID, "resource", resource, "reason", decision.Reason)
		return decision, &domain.EntitlementError{
			Resource: resource,
			Reason:   decision.Reason,
			Limit:    decision.Limit,
			Current:  count,
		}
	}
	return decision, nil
}

// RevertOverage возвращает количество, выставленное ReserveOverage, если
// ресурс так и не был записан в базу
func (r *UsageReconciler) RevertOverage(ctx context.Context, company *domain.Company, resource domain.ResourceType) *BillingWarning {
	charged := *company
	switch resource {
	case domain.ResourceEmployee:
		charged.EmployeeCount++
	case domain.ResourceLocation:
		charged.LocationCount++
	}
	return r.ReleaseOverage(ctx, &charged, resource)
}

func (r *UsageReconciler) chargeOverage(ctx context.Context, company *domain.Company, plan plans.Plan, resource domain.ResourceType, quantity int64) (*OverageCharge, error) {
	charge := &OverageCharge{
		Resource: resource,
		Quantity: quantity,
		UnitCost: plan.UnitCost(resource),
		PlanName: plan.Name,
	}

	subs, err := r.subs.ListActiveByCompany(ctx, company.ID)
	if err != nil {
		return nil, fmt.Errorf("load subscriptions: %w", err)
	}

	loc, err := r.locateItem(ctx, subs, resource)
	if err != nil {
		return nil, domain.NewPaymentRequiredError("", err)
	}

	if loc != nil {
		err := r.provider.UpdateItemQuantity(ctx, loc.itemID, quantity)
		if err == nil {
			r.metrics.IncOverageMutation(string(resource), "update", metrics.OutcomeSuccess)
			charge.ItemID, charge.SubscriptionID = loc.itemID, loc.sub.StripeSubscriptionID
			return charge, nil
		}
		if !stripe.IsResourceMissing(err) {
			r.metrics.IncOverageMutation(string(resource), "update", metrics.OutcomeFailure)
			return nil, domain.NewPaymentRequiredError(loc.sub.StripeSubscriptionID, err)
		}

		// Закешированная позиция удалена у провайдера вне сервиса
		r.log.Warnw("Cached overage item is gone at provider, creating a new one",
			"companyID", company.ID, "itemID", loc.itemID)
		r.clearItemID(ctx, company.ID, loc.sub, resource)
	}

	base := baseSubscription(subs)
	if base == nil {
		return nil, domain.NewPaymentRequiredError("", errors.New("no active base subscription"))
	}

	priceID := plan.UsagePrice(resource)

	if base.BillingInterval == domain.IntervalMonth {
		itemID, err := r.provider.CreateItem(ctx, base.StripeSubscriptionID, priceID, quantity)
		if err != nil {
			r.metrics.IncOverageMutation(string(resource), "create", metrics.OutcomeFailure)
			return nil, domain.NewPaymentRequiredError(base.StripeSubscriptionID, err)
		}
		r.metrics.IncOverageMutation(string(resource), "create", metrics.OutcomeSuccess)
		r.cacheItemID(ctx, company.ID, base, resource, itemID)
		charge.ItemID, charge.SubscriptionID = itemID, base.StripeSubscriptionID
		return charge, nil
	}

	// Годовая база: метрируемые позиции живут в месячной sidecar-подписке
	if sidecar := sidecarSubscription(subs); sidecar != nil {
		itemID, err := r.provider.CreateItem(ctx, sidecar.StripeSubscriptionID, priceID, quantity)
		if err != nil {
			r.metrics.IncOverageMutation(string(resource), "create", metrics.OutcomeFailure)
			return nil, domain.NewPaymentRequiredError(sidecar.StripeSubscriptionID, err)
		}
		r.metrics.IncOverageMutation(string(resource), "create", metrics.OutcomeSuccess)
		r.cacheItemID(ctx, company.ID, sidecar, resource, itemID)
		charge.ItemID, charge.SubscriptionID = itemID, sidecar.StripeSubscriptionID
		return charge, nil
	}

	customerID := company.CustomerID()
	if customerID == "" {
		return nil, domain.NewPaymentRequiredError(base.StripeSubscriptionID, domain.ErrNoBillingAccount)
	}

	res, err := r.provider.CreateUsageSubscription(ctx, customerID, priceID, quantity, base.StripeSubscriptionID)
	if err != nil {
		r.metrics.IncOverageMutation(string(resource), "sidecar", metrics.OutcomeFailure)
		return nil, domain.NewPaymentRequiredError(base.StripeSubscriptionID, err)
	}
	r.metrics.IncOverageMutation(string(resource), "sidecar", metrics.OutcomeSuccess)

	r.persistSidecar(ctx, company, plan, base, res, resource)
	charge.ItemID, charge.SubscriptionID = res.ItemID, res.Subscription.ID
	return charge, nil
}

// ReleaseOverage вызывается после того, как удаление ресурса зафиксировано.
// before - состояние компании до удаления. Ошибки провайдера не отменяют
// удаление и возвращаются как BillingWarning.
func (r *UsageReconciler) ReleaseOverage(ctx context.Context, before *domain.Company, resource domain.ResourceType) *BillingWarning {
	plan, ok := r.catalog.Get(before.Plan())
	if !ok {
		return nil
	}

	oldCount := before.Count(resource)
	limit := plan.Limit(resource)
	if oldCount <= limit {
		return nil
	}

	quantity := plans.ReleasedQuantity(oldCount, limit)
	warn := func(msg string, err error) *BillingWarning {
		r.metrics.IncProviderError("release_overage")
		r.log.Errorw("Overage release failed, deletion is kept",
			"companyID", before.ID, "resource", resource, "quantity", quantity, "error", err)
		return &BillingWarning{Resource: resource, Message: msg, Err: err}
	}

	subs, err := r.subs.ListActiveByCompany(ctx, before.ID)
	if err != nil {
		return warn("could not load subscriptions", err)
	}

	loc, err := r.locateItem(ctx, subs, resource)
	if err != nil {
		return warn("could not look up overage item", err)
	}
	if loc == nil {
		r.metrics.IncOverageMutation(string(resource), "delete", metrics.OutcomeSkipped)
		return warn("overage item not found", errors.New("no metered item for resource"))
	}

	if quantity == 0 {
		if err := r.provider.DeleteItem(ctx, loc.itemID); err != nil {
			r.metrics.IncOverageMutation(string(resource), "delete", metrics.OutcomeFailure)
			return warn("could not remove overage item", err)
		}
		r.metrics.IncOverageMutation(string(resource), "delete", metrics.OutcomeSuccess)
		r.clearItemID(ctx, before.ID, loc.sub, resource)
	} else {
		if err := r.provider.UpdateItemQuantity(ctx, loc.itemID, quantity); err != nil {
			r.metrics.IncOverageMutation(string(resource), "update", metrics.OutcomeFailure)
			return warn("could not reduce overage quantity", err)
		}
		r.metrics.IncOverageMutation(string(resource), "update", metrics.OutcomeSuccess)
	}

	r.metrics.ObserveOverageQuantity(string(resource), quantity)
	publish(ctx, r.events, r.log, domain.BillingEvent{
		Type:      domain.EventOverageUpdated,
		CompanyID: before.ID,
		Resource:  resource,
		Quantity:  int64Ptr(quantity),
		Plan:      plan.Key,
		Attrs:     map[string]string{"direction": "down"},
	})

	r.log.Infow("Overage released", "companyID", before.ID, "resource", resource, "quantity", quantity)
	return nil
}

// locateItem ищет метрируемую позицию ресурса: сначала закешированный id
// на активных подписках, затем живые позиции у провайдера с сохранением
// найденного id в кеш. nil без ошибки - позиции еще нет.
func (r *UsageReconciler) locateItem(ctx context.Context, subs []domain.Subscription, resource domain.ResourceType) (*located, error) {
	for _, sub := range subs {
		if id := sub.ItemID(resource); id != "" {
			return &located{sub: sub, itemID: id}, nil
		}
	}

	for _, sub := range subs {
		live, err := r.provider.GetSubscription(ctx, sub.StripeSubscriptionID)
		if err != nil {
			if stripe.IsResourceMissing(err) {
				continue
			}
			return nil, fmt.Errorf("retrieve subscription %s: %w", sub.StripeSubscriptionID, err)
		}
		for _, it := range live.Items {
			if r.isUsageItem(it.PriceID, resource) {
				r.log.Infow("Overage item found at provider, backfilling cache",
					"companyID", sub.CompanyID, "subscriptionID", sub.StripeSubscriptionID, "itemID", it.ID)
				r.cacheItemID(ctx, sub.CompanyID, &sub, resource, it.ID)
				return &located{sub: sub, itemID: it.ID}, nil
			}
		}
	}
	return nil, nil
}

// isUsageItem - цена является метрируемой ценой ресурса любого плана
func (r *UsageReconciler) isUsageItem(priceID string, resource domain.ResourceType) bool {
	ref, ok := r.catalog.LookupPrice(priceID)
	if !ok {
		return false
	}
	switch resource {
	case domain.ResourceEmployee:
		return ref.Kind == plans.PriceEmployeeUsage
	case domain.ResourceLocation:
		return ref.Kind == plans.PriceLocationUsage
	}
	return false
}

func (r *UsageReconciler) cacheItemID(ctx context.Context, companyID string, sub *domain.Subscription, resource domain.ResourceType, itemID string) {
	if err := r.subs.SetItemID(ctx, companyID, sub.ID, resource, itemID); err != nil {
		r.log.Warnw("Failed to cache overage item id", "subscriptionID", sub.StripeSubscriptionID, "itemID", itemID, "error", err)
	}
}

func (r *UsageReconciler) clearItemID(ctx context.Context, companyID string, sub domain.Subscription, resource domain.ResourceType) {
	if err := r.subs.SetItemID(ctx, companyID, sub.ID, resource, ""); err != nil {
		r.log.Warnw("Failed to clear overage item id", "subscriptionID", sub.StripeSubscriptionID, "error", err)
	}
}

func (r *UsageReconciler) persistSidecar(ctx context.Context, company *domain.Company, plan plans.Plan, base *domain.Subscription, res *stripe.UsageSubscriptionResult, resource domain.ResourceType) {
	live := res.Subscription
	row := &domain.Subscription{
		CompanyID:            company.ID,
		StripeSubscriptionID: live.ID,
		Type:                 domain.SubscriptionTypeUsageSidecar,
		PlanName:             strPtr(plan.Key),
		Status:               live.Status,
		IsActive:             true,
		BillingInterval:      domain.IntervalMonth,
		CancelAtPeriodEnd:    live.CancelAtPeriodEnd,
		ParentSubscriptionID: strPtr(base.StripeSubscriptionID),
	}
	if !live.PeriodStart.IsZero() {
		start, end := live.PeriodStart, live.PeriodEnd
		row.CurrentPeriodStart, row.CurrentPeriodEnd = &start, &end
	}
	row.SetItemID(resource, res.ItemID)

	if err := r.subs.Upsert(ctx, row); err != nil {
		r.log.Warnw("Failed to persist usage sidecar subscription",
			"companyID", company.ID, "subscriptionID", live.ID, "error", err)
		return
	}
	r.log.Infow("Usage sidecar subscription created",
		"companyID", company.ID, "subscriptionID", live.ID, "parent", base.StripeSubscriptionID)
}

func baseSubscription(subs []domain.Subscription) *domain.Subscription {
	for i := range subs {
		if subs[i].Type == domain.SubscriptionTypeBase {
			return &subs[i]
		}
	}
	return nil
}

func sidecarSubscription(subs []domain.Subscription) *domain.Subscription {
	for i := range subs {
		if subs[i].Type == domain.SubscriptionTypeUsageSidecar {
			return &subs[i]
		}
	}
	return nil
}
