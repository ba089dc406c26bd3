package plans

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Dhoini/Billing-microservice/internal/domain"
)

func TestEvaluate(t *testing.T) {
	c := MustCatalog(Default)

	tests := []struct {
		name         string
		resource     domain.ResourceType
		count        int
		plan, status string
		wantAllowed  bool
		wantOverage  bool
		wantLimit    *int
		wantReason   string
	}{
		{name: "no plan", resource: domain.ResourceEmployee, count: 0, plan: "", status: "active", wantReason: ReasonNoActivePlan},
		{name: "no plan with huge count", resource: domain.ResourceLocation, count: 1000, plan: "", status: "", wantReason: ReasonNoActivePlan},
		{name: "incomplete checkout", resource: domain.ResourceEmployee, count: 0, plan: "lite", status: "incomplete", wantReason: ReasonNoActivePlan},
		{name: "past due", resource: domain.ResourceEmployee, count: 0, plan: "lite", status: "past_due", wantReason: ReasonNoActivePlan},
		{name: "unknown plan", resource: domain.ResourceEmployee, count: 0, plan: "platinum", status: "active", wantReason: ReasonInvalidPlan},
		{name: "under limit", resource: domain.ResourceEmployee, count: 4, plan: "lite", status: "active", wantAllowed: true, wantLimit: intPtr(5)},
		{name: "trialing under limit", resource: domain.ResourceLocation, count: 2, plan: "starter", status: "trialing", wantAllowed: true, wantLimit: intPtr(3)},
		{
			name: "at limit triggers overage", resource: domain.ResourceEmployee, count: 5, plan: "lite", status: "active",
			wantAllowed: true, wantOverage: true, wantLimit: intPtr(5),
			wantReason: "You've reached the employee limit for the Lite plan (5 employees).",
		},
		{
			name: "singular noun", resource: domain.ResourceLocation, count: 1, plan: "lite", status: "active",
			wantAllowed: true, wantOverage: true, wantLimit: intPtr(1),
			wantReason: "You've reached the location limit for the Lite plan (1 location).",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := c.Evaluate(tt.resource, tt.count, tt.plan, tt.status)
			assert.Equal(t, tt.wantAllowed, d.Allowed)
			assert.Equal(t, tt.wantOverage, d.WillTriggerOverage)
			assert.Equal(t, tt.wantLimit, d.Limit)
			assert.Equal(t, tt.wantReason, d.Reason)
		})
	}
}

func TestEvaluate_OverageCarriesCostAndPlanName(t *testing.T) {
	c := MustCatalog(Default)
	d := c.Evaluate(domain.ResourceLocation, 3, "starter", "active")
	require.True(t, d.WillTriggerOverage)
	assert.Equal(t, 10.0, d.OverageCost)
	assert.Equal(t, "Starter", d.PlanName)
}

func TestNewCatalog_RejectsDuplicateRank(t *testing.T) {
	list := append([]Plan(nil), Default...)
	list[1].Rank = list[0].Rank

	_, err := NewCatalog(list)
	assert.ErrorIs(t, err, ErrDuplicateRank)
}

func TestNewCatalog_RejectsDuplicatePrice(t *testing.T) {
	list := append([]Plan(nil), Default...)
	list[1].Prices.Monthly = list[0].Prices.Monthly

	_, err := NewCatalog(list)
	assert.ErrorIs(t, err, ErrDuplicatePrice)
}

func TestLookupPrice(t *testing.T) {
	c := MustCatalog(Default)

	ref, ok := c.LookupPrice("price_1Sed8X4ofjjgqRAv6W23Ywk3")
	require.True(t, ok)
	assert.Equal(t, PriceRef{PlanKey: "starter", Kind: PriceYearly}, ref)
	assert.True(t, ref.IsBase())

	ref, ok = c.LookupPrice("price_1SedTm4ofjjgqRAvExQL4Jh8")
	require.True(t, ok)
	assert.Equal(t, "scale", ref.PlanKey)
	assert.False(t, ref.IsBase())

	_, ok = c.LookupPrice("price_unknown")
	assert.False(t, ok)
}

func TestCompare(t *testing.T) {
	c := MustCatalog(Default)

	up, err := c.Compare("lite", "starter")
	require.NoError(t, err)
	assert.Equal(t, 1, up)

	down, err := c.Compare("starter", "lite")
	require.NoError(t, err)
	assert.Equal(t, -1, down)

	_, err = c.Compare("lite", "gold")
	assert.ErrorIs(t, err, domain.ErrInvalidPlan)
}

func TestAllOrderedByRank(t *testing.T) {
	c := MustCatalog(Default)
	var keys []string
	for _, p := range c.All() {
		keys = append(keys, p.Key)
	}
	assert.Equal(t, []string{"lite", "starter", "growth", "scale"}, keys)
}

func TestQuantities(t *testing.T) {
	assert.EqualValues(t, 0, OverageQuantity(4, 5))
	assert.EqualValues(t, 1, OverageQuantity(5, 5))
	assert.EqualValues(t, 3, OverageQuantity(7, 5))

	assert.EqualValues(t, 0, ReleasedQuantity(6, 5))
	assert.EqualValues(t, 2, ReleasedQuantity(8, 5))
	assert.EqualValues(t, 0, ReleasedQuantity(2, 5))
}

func TestLockReason(t *testing.T) {
	assert.Contains(t, LockReason("", ""), "requires an active subscription")
	assert.Contains(t, LockReason("lite", "past_due"), "past due")
	assert.Contains(t, LockReason("lite", "canceled"), "canceled")
}

func intPtr(v int) *int { return &v }
