package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Dhoini/Billing-microservice/internal/domain"
	"github.com/Dhoini/Billing-microservice/internal/stripe"
)

func checkoutEvent(t *testing.T, metadata map[string]string) *stripe.Event {
	t.Helper()
	raw, err := json.Marshal(map[string]any{
		"id":           "cs_test_1",
		"object":       "checkout.session",
		"customer":     "cus_new",
		"subscription": "sub_new",
		"metadata":     metadata,
	})
	require.NoError(t, err)
	return &stripe.Event{ID: "evt_checkout", Type: stripe.EventCheckoutSessionCompleted, Created: time.Now().Unix(), Raw: raw}
}

type wireItem struct {
	id, price string
	interval  domain.BillingInterval
}

func subscriptionEvent(t *testing.T, eventType string, created time.Time, subID, status string, items []wireItem, metadata map[string]string) *stripe.Event {
	t.Helper()
	data := make([]map[string]any, 0, len(items))
	for _, it := range items {
		data = append(data, map[string]any{
			"id":       it.id,
			"object":   "subscription_item",
			"quantity": 1,
			"price": map[string]any{
				"id":        it.price,
				"object":    "price",
				"recurring": map[string]any{"interval": string(it.interval)},
			},
		})
	}
	raw, err := json.Marshal(map[string]any{
		"id":                   subID,
		"object":               "subscription",
		"customer":             "cus_c1",
		"status":               status,
		"current_period_start": created.Unix(),
		"current_period_end":   created.AddDate(0, 1, 0).Unix(),
		"items":                map[string]any{"object": "list", "data": data},
		"metadata":             metadata,
	})
	require.NoError(t, err)
	return &stripe.Event{ID: "evt_" + eventType, Type: eventType, Created: created.Unix(), Raw: raw}
}

func TestWebhook_CheckoutCompletedIsIdempotent(t *testing.T) {
	h := newHarness(t)
	h.seedCompany("c1", "", "")
	growth, _ := h.catalog.Get("growth")
	h.provider.addSubscription(&stripe.Subscription{
		ID:          "sub_new",
		CustomerID:  "cus_new",
		Status:      string(domain.StatusActive),
		Interval:    domain.IntervalMonth,
		PeriodStart: time.Now().UTC(),
		PeriodEnd:   time.Now().UTC().AddDate(0, 1, 0),
		Items:       []stripe.Item{{ID: "si_growth", PriceID: growth.Prices.Monthly, Quantity: 1, Interval: domain.IntervalMonth}},
	})
	ev := checkoutEvent(t, map[string]string{"companyId": "c1", "planId": "growth", "interval": "month"})
	ctx := context.Background()

	require.NoError(t, h.webhooks.HandleEvent(ctx, ev))
	require.NoError(t, h.webhooks.HandleEvent(ctx, ev))

	rows := h.store.subscriptionRows()
	require.Len(t, rows, 1)
	assert.Equal(t, "sub_new", rows[0].StripeSubscriptionID)
	assert.Equal(t, domain.SubscriptionTypeBase, rows[0].Type)
	assert.Equal(t, domain.IntervalMonth, rows[0].BillingInterval)
	require.NotNil(t, rows[0].StripePriceID)
	assert.Equal(t, growth.Prices.Monthly, *rows[0].StripePriceID)

	c := h.store.company("c1")
	assert.Equal(t, "growth", c.Plan())
	assert.Equal(t, "active", c.Status())
	assert.Equal(t, "cus_new", c.CustomerID())
	assert.Len(t, h.events.ofType(domain.EventSubscriptionSynced), 2)
}

func TestWebhook_CheckoutRedeliveredAfterDeletionKeepsCanceled(t *testing.T) {
	h := newHarness(t)
	h.seedCompany("c1", "", "")
	growth, _ := h.catalog.Get("growth")
	h.provider.addSubscription(&stripe.Subscription{
		ID:         "sub_new",
		CustomerID: "cus_new",
		Status:     string(domain.StatusActive),
		Interval:   domain.IntervalMonth,
		Items:      []stripe.Item{{ID: "si_growth", PriceID: growth.Prices.Monthly, Quantity: 1, Interval: domain.IntervalMonth}},
	})
	checkout := checkoutEvent(t, map[string]string{"companyId": "c1", "planId": "growth", "interval": "month"})
	ctx := context.Background()

	require.NoError(t, h.webhooks.HandleEvent(ctx, checkout))
	require.Equal(t, "active", h.store.company("c1").Status())

	require.NoError(t, h.provider.CancelSubscription(ctx, "sub_new"))
	deleted := subscriptionEvent(t, stripe.EventCustomerSubscriptionDeleted, time.Now().Add(time.Minute), "sub_new", "canceled", nil, nil)
	require.NoError(t, h.webhooks.HandleEvent(ctx, deleted))
	require.Equal(t, "canceled", h.store.company("c1").Status())

	require.NoError(t, h.webhooks.HandleEvent(ctx, checkout))

	rows := h.store.subscriptionRows()
	require.Len(t, rows, 1)
	assert.False(t, rows[0].IsActive)
	assert.Equal(t, "canceled", rows[0].Status)
	assert.Equal(t, "canceled", h.store.company("c1").Status())
}

func TestWebhook_CheckoutForIncompleteSubscriptionDoesNotActivate(t *testing.T) {
	h := newHarness(t)
	h.seedCompany("c1", "", "")
	lite, _ := h.catalog.Get("lite")
	h.provider.addSubscription(&stripe.Subscription{
		ID:         "sub_new",
		CustomerID: "cus_new",
		Status:     string(domain.StatusIncomplete),
		Interval:   domain.IntervalMonth,
		Items:      []stripe.Item{{ID: "si_lite", PriceID: lite.Prices.Monthly, Quantity: 1, Interval: domain.IntervalMonth}},
	})

	err := h.webhooks.HandleEvent(context.Background(),
		checkoutEvent(t, map[string]string{"companyId": "c1", "planId": "lite", "interval": "month"}))

	require.NoError(t, err)
	rows := h.store.subscriptionRows()
	require.Len(t, rows, 1)
	assert.False(t, rows[0].IsActive)
	c := h.store.company("c1")
	assert.Equal(t, "", c.Plan())
	assert.Equal(t, "cus_new", c.CustomerID())
	assert.Empty(t, h.events.ofType(domain.EventSubscriptionSynced))
}

func TestWebhook_CheckoutWithoutMetadataIsAcknowledged(t *testing.T) {
	h := newHarness(t)
	h.seedCompany("c1", "", "")

	err := h.webhooks.HandleEvent(context.Background(), checkoutEvent(t, map[string]string{"companyId": "c1"}))

	require.NoError(t, err)
	assert.Empty(t, h.store.subscriptionRows())
	assert.Empty(t, h.provider.ops())
	assert.Equal(t, 1.0, counterValue(t, h.registry, "billing_webhook_events_total", "skipped"))
}

func TestWebhook_CheckoutProviderFailureIsRetried(t *testing.T) {
	h := newHarness(t)
	h.seedCompany("c1", "", "")

	err := h.webhooks.HandleEvent(context.Background(),
		checkoutEvent(t, map[string]string{"companyId": "c1", "planId": "lite"}))

	require.Error(t, err)
	assert.Equal(t, "", h.store.company("c1").Plan())
}

func TestWebhook_UpdatedPromotesDueScheduledPlan(t *testing.T) {
	h := newHarness(t)
	h.seedCompany("c1", "starter", domain.IntervalMonth)
	past := time.Now().Add(-time.Hour)
	require.NoError(t, memCompanies{h.store}.ScheduleChange(context.Background(), "c1", "lite", past))
	lite, _ := h.catalog.Get("lite")

	ev := subscriptionEvent(t, stripe.EventCustomerSubscriptionUpdated, time.Now(), "sub_base_c1", "active",
		[]wireItem{{"si_base_c1", lite.Prices.Monthly, domain.IntervalMonth}}, nil)
	require.NoError(t, h.webhooks.HandleEvent(context.Background(), ev))

	c := h.store.company("c1")
	assert.Equal(t, "lite", c.Plan())
	assert.Nil(t, c.ScheduledPlanChange)
	assert.Nil(t, c.ScheduledChangeDate)

	row := h.baseRow("c1")
	require.NotNil(t, row.PlanName)
	assert.Equal(t, "lite", *row.PlanName)
	assert.True(t, row.IsActive)
	require.Len(t, h.events.ofType(domain.EventPlanChanged), 1)
}

func TestWebhook_UpdatedSyncsStatusAndItems(t *testing.T) {
	h := newHarness(t)
	h.seedCompany("c1", "lite", domain.IntervalMonth)
	lite, _ := h.catalog.Get("lite")

	ev := subscriptionEvent(t, stripe.EventCustomerSubscriptionUpdated, time.Now(), "sub_base_c1", "past_due",
		[]wireItem{
			{"si_base_c1", lite.Prices.Monthly, domain.IntervalMonth},
			{"si_emp", lite.Prices.EmployeeUsage, domain.IntervalMonth},
		}, nil)
	require.NoError(t, h.webhooks.HandleEvent(context.Background(), ev))

	row := h.baseRow("c1")
	assert.Equal(t, "past_due", row.Status)
	assert.False(t, row.IsActive)
	assert.Equal(t, "si_emp", row.ItemID(domain.ResourceEmployee))
	assert.Empty(t, row.ItemID(domain.ResourceLocation))
	assert.Equal(t, "past_due", h.store.company("c1").Status())
	assert.Equal(t, "lite", h.store.company("c1").Plan())
}

func TestWebhook_StaleUpdateIsSkipped(t *testing.T) {
	h := newHarness(t)
	h.seedCompany("c1", "lite", domain.IntervalMonth)
	latest := time.Now().UTC()
	h.store.subs["sub_base_c1"].LastEventAt = &latest
	lite, _ := h.catalog.Get("lite")

	ev := subscriptionEvent(t, stripe.EventCustomerSubscriptionUpdated, latest.Add(-time.Hour), "sub_base_c1", "past_due",
		[]wireItem{{"si_base_c1", lite.Prices.Monthly, domain.IntervalMonth}}, nil)
	require.NoError(t, h.webhooks.HandleEvent(context.Background(), ev))

	assert.Equal(t, "active", h.baseRow("c1").Status)
	assert.Equal(t, "active", h.store.company("c1").Status())
	assert.Empty(t, h.events.ofType(domain.EventSubscriptionSynced))
}

func TestWebhook_UpdateForUnknownSubscriptionIsAcknowledged(t *testing.T) {
	h := newHarness(t)

	ev := subscriptionEvent(t, stripe.EventCustomerSubscriptionUpdated, time.Now(), "sub_elsewhere", "active", nil, nil)

	assert.NoError(t, h.webhooks.HandleEvent(context.Background(), ev))
}

func TestWebhook_DeletedBaseCancelsCompany(t *testing.T) {
	h := newHarness(t)
	h.seedCompany("c1", "lite", domain.IntervalMonth)

	ev := subscriptionEvent(t, stripe.EventCustomerSubscriptionDeleted, time.Now(), "sub_base_c1", "canceled", nil, nil)
	require.NoError(t, h.webhooks.HandleEvent(context.Background(), ev))

	assert.False(t, h.baseRow("c1").IsActive)
	assert.Equal(t, "canceled", h.baseRow("c1").Status)
	assert.Equal(t, "canceled", h.store.company("c1").Status())
}

func TestWebhook_LateDeletionAfterIntervalSwitchKeepsCompanyActive(t *testing.T) {
	h := newHarness(t)
	h.seedCompany("c1", "lite", domain.IntervalMonth)
	lite, _ := h.catalog.Get("lite")
	ctx := context.Background()

	_, err := h.plans.ChangePlan(ctx, ChangePlanInput{CompanyID: "c1", PlanKey: "lite", Interval: domain.IntervalYear})
	require.NoError(t, err)

	h.provider.addSubscription(&stripe.Subscription{
		ID:         "sub_new",
		CustomerID: "cus_c1",
		Status:     string(domain.StatusActive),
		Interval:   domain.IntervalYear,
		Items:      []stripe.Item{{ID: "si_lite_year", PriceID: lite.Prices.Yearly, Quantity: 1, Interval: domain.IntervalYear}},
	})
	require.NoError(t, h.webhooks.HandleEvent(ctx,
		checkoutEvent(t, map[string]string{"companyId": "c1", "planId": "lite", "interval": "year"})))

	// отмена старой базы доставлена после checkout новой
	deleted := subscriptionEvent(t, stripe.EventCustomerSubscriptionDeleted, time.Now().Add(time.Minute), "sub_base_c1", "canceled", nil, nil)
	require.NoError(t, h.webhooks.HandleEvent(ctx, deleted))

	assert.False(t, h.baseRow("c1").IsActive)
	assert.True(t, h.store.subs["sub_new"].IsActive)
	assert.Equal(t, domain.IntervalYear, h.store.subs["sub_new"].BillingInterval)
	c := h.store.company("c1")
	assert.Equal(t, "active", c.Status())
	assert.Equal(t, "lite", c.Plan())
}

func TestWebhook_UpdatedSyncsBillingInterval(t *testing.T) {
	h := newHarness(t)
	h.seedCompany("c1", "lite", domain.IntervalMonth)
	h.seedMembers(t, "c1", 10)
	starter, _ := h.catalog.Get("starter")
	ctx := context.Background()

	// смена плана и интервала через billing portal
	ev := subscriptionEvent(t, stripe.EventCustomerSubscriptionUpdated, time.Now(), "sub_base_c1", "active",
		[]wireItem{{"si_base_c1", starter.Prices.Yearly, domain.IntervalYear}}, nil)
	require.NoError(t, h.webhooks.HandleEvent(ctx, ev))

	assert.Equal(t, domain.IntervalYear, h.baseRow("c1").BillingInterval)
	assert.Equal(t, "starter", h.store.company("c1").Plan())

	_, err := h.members.Add(ctx, "c1", invite("eleventh@example.test"))
	require.NoError(t, err)
	assert.Empty(t, h.provider.callsOf("CreateItem"))
	assert.Len(t, h.provider.callsOf("CreateUsageSubscription"), 1)
}

func TestWebhook_DeletedSidecarKeepsCompanyActive(t *testing.T) {
	h := newHarness(t)
	h.seedCompany("c1", "lite", domain.IntervalYear)
	h.store.subs["sub_usage"] = &domain.Subscription{
		ID:                   "row-usage",
		CompanyID:            "c1",
		StripeSubscriptionID: "sub_usage",
		Type:                 domain.SubscriptionTypeUsageSidecar,
		Status:               "active",
		IsActive:             true,
		BillingInterval:      domain.IntervalMonth,
	}

	ev := subscriptionEvent(t, stripe.EventCustomerSubscriptionDeleted, time.Now(), "sub_usage", "canceled", nil,
		map[string]string{"type": "usage_sidecar"})
	require.NoError(t, h.webhooks.HandleEvent(context.Background(), ev))

	assert.False(t, h.store.subs["sub_usage"].IsActive)
	assert.True(t, h.baseRow("c1").IsActive)
	assert.Equal(t, "active", h.store.company("c1").Status())
}

func TestWebhook_UnknownEventTypeIsAcknowledged(t *testing.T) {
	h := newHarness(t)

	err := h.webhooks.HandleEvent(context.Background(), &stripe.Event{ID: "evt_1", Type: "invoice.paid", Raw: json.RawMessage(`{}`)})

	assert.NoError(t, err)
	assert.Empty(t, h.provider.ops())
	assert.Equal(t, 1.0, counterValue(t, h.registry, "billing_webhook_events_total", "skipped"))
}
