package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Dhoini/Billing-microservice/internal/domain"
	"github.com/Dhoini/Billing-microservice/internal/metrics"
	"github.com/Dhoini/Billing-microservice/internal/plans"
	"github.com/Dhoini/Billing-microservice/internal/repository"
	"github.com/Dhoini/Billing-microservice/internal/stripe"
	"github.com/Dhoini/Billing-microservice/pkg/logger"
)

// WebhookService синхронизирует локальное состояние с событиями провайдера
type WebhookService struct {
	catalog   *plans.Catalog
	companies repository.CompanyRepository
	subs      repository.SubscriptionRepository
	provider  stripe.Provider
	metrics   metrics.BillingMetrics
	events    EventPublisher
	now       func() time.Time
	log       *logger.Logger
}

// NewWebhookService создает обработчик событий провайдера
func NewWebhookService(
	catalog *plans.Catalog,
	companies repository.CompanyRepository,
	subs repository.SubscriptionRepository,
	provider stripe.Provider,
	m metrics.BillingMetrics,
	events EventPublisher,
	log *logger.Logger,
) *WebhookService {
	return &WebhookService{
		catalog:   catalog,
		companies: companies,
		subs:      subs,
		provider:  provider,
		metrics:   m,
		events:    events,
		now:       time.Now,
		log:       log.With("component", "webhook_service"),
	}
}

// HandleEvent обрабатывает проверенное событие. Ошибка означает, что событие
// нужно повторить (обработчик отвечает 500).
func (s *WebhookService) HandleEvent(ctx context.Context, ev *stripe.Event) error {
	s.log.Infow("Webhook event received", "eventID", ev.ID, "type", ev.Type)

	var (
		outcome = metrics.OutcomeSuccess
		err     error
	)
	switch ev.Type {
	case stripe.EventCheckoutSessionCompleted:
		outcome, err = s.handleCheckoutCompleted(ctx, ev)
	case stripe.EventCustomerSubscriptionUpdated:
		outcome, err = s.handleSubscriptionUpdated(ctx, ev)
	case stripe.EventCustomerSubscriptionDeleted:
		outcome, err = s.handleSubscriptionDeleted(ctx, ev)
	default:
		s.log.Debugw("Unhandled webhook event type", "type", ev.Type)
		outcome = metrics.OutcomeSkipped
	}

	if err != nil {
		s.metrics.IncWebhookEvent(ev.Type, metrics.OutcomeFailure)
		s.log.Errorw("Webhook event processing failed", "eventID", ev.ID, "type", ev.Type, "error", err)
		return err
	}
	s.metrics.IncWebhookEvent(ev.Type, outcome)
	return nil
}

func (s *WebhookService) eventTime(ev *stripe.Event) time.Time {
	if ev.Created > 0 {
		return time.Unix(ev.Created, 0).UTC()
	}
	return s.now().UTC()
}

func (s *WebhookService) handleCheckoutCompleted(ctx context.Context, ev *stripe.Event) (string, error) {
	session, err := stripe.ParseCheckoutSession(ev.Raw)
	if err != nil {
		return "", err
	}

	companyID := session.Metadata[stripe.MetadataCompanyID]
	planKey := session.Metadata[stripe.MetadataPlanID]
	if companyID == "" || planKey == "" || session.Subscription == "" {
		s.log.Warnw("Checkout session without company or plan metadata, ignoring", "sessionID", session.ID)
		return metrics.OutcomeSkipped, nil
	}

	live, err := s.provider.GetSubscription(ctx, session.Subscription)
	if err != nil {
		return "", fmt.Errorf("retrieve subscription %s: %w", session.Subscription, err)
	}

	interval := domain.BillingInterval(session.Metadata[stripe.MetadataInterval])
	if !interval.Valid() {
		interval = live.Interval
	}

	isLive := domain.SubscriptionStatus(live.Status).Live()
	row := &domain.Subscription{
		CompanyID:            companyID,
		StripeSubscriptionID: live.ID,
		Type:                 domain.SubscriptionTypeBase,
		PlanName:             strPtr(planKey),
		Status:               live.Status,
		IsActive:             isLive,
		BillingInterval:      interval,
		CancelAtPeriodEnd:    live.CancelAtPeriodEnd,
	}
	if item, ok := findBaseItem(s.catalog, live); ok {
		row.StripePriceID = strPtr(item.PriceID)
	} else if len(live.Items) > 0 {
		row.StripePriceID = strPtr(live.Items[0].PriceID)
	}
	if !live.PeriodStart.IsZero() {
		start, end := live.PeriodStart, live.PeriodEnd
		row.CurrentPeriodStart, row.CurrentPeriodEnd = &start, &end
	}
	for r, id := range s.usageItems(live) {
		row.SetItemID(r, *id)
	}
	at := s.eventTime(ev)
	row.LastEventAt = &at

	if err := s.subs.Upsert(ctx, row); err != nil {
		return "", err
	}

	customerID := session.Customer
	if customerID == "" {
		customerID = live.CustomerID
	}

	// Повторная доставка после отмены подписки не возвращает доступ.
	// Неоплаченную подписку активирует subscription.updated.
	if !isLive {
		s.log.Warnw("Checkout completed for a subscription that is not live, plan not activated",
			"companyID", companyID, "subscriptionID", live.ID, "status", live.Status)
		if customerID != "" {
			if err := s.companies.SetCustomerID(ctx, companyID, customerID); err != nil {
				return "", err
			}
		}
		return metrics.OutcomeSkipped, nil
	}

	if err := s.companies.ActivatePlan(ctx, companyID, planKey, customerID, live.Status); err != nil {
		return "", err
	}

	s.log.Infow("Checkout completed, plan activated",
		"companyID", companyID, "plan", planKey, "interval", interval, "subscriptionID", live.ID)
	publish(ctx, s.events, s.log, domain.BillingEvent{
		Type:      domain.EventSubscriptionSynced,
		CompanyID: companyID,
		Plan:      planKey,
		Attrs:     map[string]string{"event": ev.Type, "status": live.Status},
	})
	return metrics.OutcomeSuccess, nil
}

func (s *WebhookService) handleSubscriptionUpdated(ctx context.Context, ev *stripe.Event) (string, error) {
	live, err := stripe.ParseSubscription(ev.Raw)
	if err != nil {
		return "", err
	}

	row, err := s.subs.GetByStripeID(ctx, live.ID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			s.log.Warnw("Update for unknown subscription, ignoring", "subscriptionID", live.ID)
			return metrics.OutcomeSkipped, nil
		}
		return "", err
	}

	state := repository.SubscriptionState{
		StripeSubscriptionID: live.ID,
		Status:               live.Status,
		IsActive:             domain.SubscriptionStatus(live.Status).Live(),
		CancelAtPeriodEnd:    live.CancelAtPeriodEnd,
		EventAt:              s.eventTime(ev),
		ItemIDs:              s.usageItems(live),
	}
	if !live.PeriodStart.IsZero() {
		start, end := live.PeriodStart, live.PeriodEnd
		state.CurrentPeriodStart, state.CurrentPeriodEnd = &start, &end
	}

	// Reverse lookup: ключ плана по цене базовой позиции
	var planKey string
	isBase := row.Type == domain.SubscriptionTypeBase && !live.IsUsageSidecar()
	if isBase {
		if item, ok := findBaseItem(s.catalog, live); ok {
			ref, _ := s.catalog.LookupPrice(item.PriceID)
			planKey = ref.PlanKey
			state.PlanName = strPtr(planKey)
			state.StripePriceID = strPtr(item.PriceID)
			state.BillingInterval = item.Interval
			if !state.BillingInterval.Valid() {
				state.BillingInterval = live.Interval
			}
		} else {
			s.log.Warnw("Subscription has no known plan price", "subscriptionID", live.ID)
		}
	}

	applied, err := s.subs.ApplyState(ctx, row.CompanyID, state)
	if err != nil {
		return "", err
	}
	if !applied {
		s.log.Infow("Stale subscription event skipped", "subscriptionID", live.ID, "eventID", ev.ID)
		return metrics.OutcomeSkipped, nil
	}

	if isBase {
		if err := s.syncCompanyPlan(ctx, row.CompanyID, planKey, live.Status); err != nil {
			return "", err
		}
	}

	s.log.Infow("Subscription synced", "companyID", row.CompanyID, "subscriptionID", live.ID,
		"type", row.Type, "status", live.Status, "plan", planKey)
	publish(ctx, s.events, s.log, domain.BillingEvent{
		Type:      domain.EventSubscriptionSynced,
		CompanyID: row.CompanyID,
		Plan:      planKey,
		Attrs:     map[string]string{"event": ev.Type, "status": live.Status, "type": string(row.Type)},
	})
	return metrics.OutcomeSuccess, nil
}

// syncCompanyPlan переносит на компанию план и статус базовой подписки.
// Наступивший запланированный даунгрейд продвигается и очищается.
func (s *WebhookService) syncCompanyPlan(ctx context.Context, companyID, planKey, status string) error {
	company, err := s.companies.GetByID(ctx, companyID)
	if err != nil {
		return err
	}

	if company.Status() != status {
		if err := s.companies.SetSubscriptionStatus(ctx, companyID, status); err != nil {
			return err
		}
	}

	if planKey == "" {
		return nil
	}

	scheduled := company.ScheduledPlanChange
	if scheduled != nil && *scheduled == planKey &&
		company.ScheduledChangeDate != nil && !company.ScheduledChangeDate.After(s.now()) {
		if err := s.companies.PromoteScheduledPlan(ctx, companyID, planKey); err != nil {
			return err
		}
		s.log.Infow("Scheduled plan change applied", "companyID", companyID, "plan", planKey)
		publish(ctx, s.events, s.log, domain.BillingEvent{
			Type:      domain.EventPlanChanged,
			CompanyID: companyID,
			Plan:      planKey,
			Attrs:     map[string]string{"kind": ChangeDowngrade.String(), "from": company.Plan()},
		})
		return nil
	}

	if company.Plan() != planKey {
		return s.companies.SetCurrentPlan(ctx, companyID, planKey)
	}
	return nil
}

func (s *WebhookService) handleSubscriptionDeleted(ctx context.Context, ev *stripe.Event) (string, error) {
	live, err := stripe.ParseSubscription(ev.Raw)
	if err != nil {
		return "", err
	}

	row, err := s.subs.GetByStripeID(ctx, live.ID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			s.log.Warnw("Deletion of unknown subscription, ignoring", "subscriptionID", live.ID)
			return metrics.OutcomeSkipped, nil
		}
		return "", err
	}

	status := live.Status
	if status == "" {
		status = string(domain.StatusCanceled)
	}
	if err := s.subs.Deactivate(ctx, row.CompanyID, live.ID, status, s.eventTime(ev)); err != nil {
		return "", err
	}

	// Отмена sidecar не отменяет тариф компании
	if row.Type == domain.SubscriptionTypeBase {
		replaced, err := s.hasOtherActiveBase(ctx, row.CompanyID, live.ID)
		if err != nil {
			return "", err
		}
		if replaced {
			s.log.Infow("Deleted base subscription already replaced, company status kept",
				"companyID", row.CompanyID, "subscriptionID", live.ID)
		} else if err := s.companies.SetSubscriptionStatus(ctx, row.CompanyID, string(domain.StatusCanceled)); err != nil {
			return "", err
		}
	}

	s.log.Infow("Subscription deleted", "companyID", row.CompanyID, "subscriptionID", live.ID, "type", row.Type)
	publish(ctx, s.events, s.log, domain.BillingEvent{
		Type:      domain.EventSubscriptionSynced,
		CompanyID: row.CompanyID,
		Attrs:     map[string]string{"event": ev.Type, "status": status, "type": string(row.Type)},
	})
	return metrics.OutcomeSuccess, nil
}

// hasOtherActiveBase: у компании есть активная базовая подписка, кроме
// stripeSubscriptionID (смена интервала оформила новую)
func (s *WebhookService) hasOtherActiveBase(ctx context.Context, companyID, stripeSubscriptionID string) (bool, error) {
	subs, err := s.subs.ListActiveByCompany(ctx, companyID)
	if err != nil {
		return false, err
	}
	for _, sub := range subs {
		if sub.Type == domain.SubscriptionTypeBase && sub.StripeSubscriptionID != stripeSubscriptionID {
			return true, nil
		}
	}
	return false, nil
}

// usageItems - id метрируемых позиций подписки по ресурсам; отсутствующий
// ресурс дает nil, чтобы очистить устаревший кеш
func (s *WebhookService) usageItems(live *stripe.Subscription) map[domain.ResourceType]*string {
	out := map[domain.ResourceType]*string{}
	for _, it := range live.Items {
		ref, ok := s.catalog.LookupPrice(it.PriceID)
		if !ok {
			continue
		}
		id := it.ID
		switch ref.Kind {
		case plans.PriceEmployeeUsage:
			out[domain.ResourceEmployee] = &id
		case plans.PriceLocationUsage:
			out[domain.ResourceLocation] = &id
		}
	}
	return out
}
