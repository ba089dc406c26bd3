package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	stripego "github.com/stripe/stripe-go/v78"

	"github.com/Dhoini/Billing-microservice/internal/domain"
	"github.com/Dhoini/Billing-microservice/internal/repository"
	"github.com/Dhoini/Billing-microservice/internal/stripe"
)

// ---- провайдер ----

type providerCall struct {
	Op   string
	Args []any
}

type fakeProvider struct {
	mu         sync.Mutex
	calls      []providerCall
	subs       map[string]*stripe.Subscription
	fail       map[string]error
	scheduleAt time.Time
	seq        int
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		subs:       map[string]*stripe.Subscription{},
		fail:       map[string]error{},
		scheduleAt: time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func missingErr() error {
	return &stripego.Error{Code: stripego.ErrorCodeResourceMissing, HTTPStatusCode: 404}
}

func cardErr() error {
	return &stripego.Error{Type: stripego.ErrorTypeCard, HTTPStatusCode: 402, Msg: "Your card was declined."}
}

func (p *fakeProvider) record(op string, args ...any) error {
	p.calls = append(p.calls, providerCall{Op: op, Args: args})
	return p.fail[op]
}

func (p *fakeProvider) nextID(prefix string) string {
	p.seq++
	return fmt.Sprintf("%s_%d", prefix, p.seq)
}

func (p *fakeProvider) ops() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.calls))
	for _, c := range p.calls {
		out = append(out, c.Op)
	}
	return out
}

func (p *fakeProvider) callsOf(op string) []providerCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []providerCall
	for _, c := range p.calls {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

func (p *fakeProvider) addSubscription(s *stripe.Subscription) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subs[s.ID] = s
}

func (p *fakeProvider) findItem(itemID string) (*stripe.Subscription, int) {
	for _, s := range p.subs {
		for i, it := range s.Items {
			if it.ID == itemID {
				return s, i
			}
		}
	}
	return nil, -1
}

func (p *fakeProvider) GetSubscription(_ context.Context, id string) (*stripe.Subscription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record("GetSubscription", id); err != nil {
		return nil, err
	}
	s, ok := p.subs[id]
	if !ok {
		return nil, missingErr()
	}
	cp := *s
	cp.Items = append([]stripe.Item(nil), s.Items...)
	return &cp, nil
}

func (p *fakeProvider) UpdateItemQuantity(_ context.Context, itemID string, q int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record("UpdateItemQuantity", itemID, q); err != nil {
		return err
	}
	s, i := p.findItem(itemID)
	if s == nil {
		return missingErr()
	}
	s.Items[i].Quantity = q
	return nil
}

func (p *fakeProvider) CreateItem(_ context.Context, subID, priceID string, q int64) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record("CreateItem", subID, priceID, q); err != nil {
		return "", err
	}
	s, ok := p.subs[subID]
	if !ok {
		return "", missingErr()
	}
	id := p.nextID("si")
	s.Items = append(s.Items, stripe.Item{ID: id, PriceID: priceID, Quantity: q, Interval: domain.IntervalMonth})
	return id, nil
}

func (p *fakeProvider) DeleteItem(_ context.Context, itemID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record("DeleteItem", itemID); err != nil {
		return err
	}
	s, i := p.findItem(itemID)
	if s == nil {
		return missingErr()
	}
	s.Items = append(s.Items[:i], s.Items[i+1:]...)
	return nil
}

func (p *fakeProvider) CreateUsageSubscription(_ context.Context, customerID, priceID string, q int64, parentID string) (*stripe.UsageSubscriptionResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record("CreateUsageSubscription", customerID, priceID, q, parentID); err != nil {
		return nil, err
	}
	itemID := p.nextID("si")
	s := &stripe.Subscription{
		ID:         p.nextID("sub_usage"),
		CustomerID: customerID,
		Status:     string(domain.StatusActive),
		Interval:   domain.IntervalMonth,
		Items:      []stripe.Item{{ID: itemID, PriceID: priceID, Quantity: q, Interval: domain.IntervalMonth}},
		Metadata: map[string]string{
			stripe.MetadataType:     string(domain.SubscriptionTypeUsageSidecar),
			stripe.MetadataParentID: parentID,
		},
	}
	p.subs[s.ID] = s
	cp := *s
	return &stripe.UsageSubscriptionResult{Subscription: &cp, ItemID: itemID}, nil
}

func (p *fakeProvider) CancelSubscription(_ context.Context, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record("CancelSubscription", id); err != nil {
		return err
	}
	if s, ok := p.subs[id]; ok {
		s.Status = string(domain.StatusCanceled)
	}
	return nil
}

func (p *fakeProvider) SwapPrice(_ context.Context, subID, itemID, priceID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record("SwapPrice", subID, itemID, priceID); err != nil {
		return err
	}
	s, i := p.findItem(itemID)
	if s == nil {
		return missingErr()
	}
	s.Items[i].PriceID = priceID
	return nil
}

func (p *fakeProvider) ScheduleDowngrade(_ context.Context, subID string, next []stripe.PhaseItem) (time.Time, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record("ScheduleDowngrade", subID, next); err != nil {
		return time.Time{}, err
	}
	return p.scheduleAt, nil
}

func (p *fakeProvider) CreateCustomer(_ context.Context, companyID, name, email string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record("CreateCustomer", companyID, name, email); err != nil {
		return "", err
	}
	return p.nextID("cus"), nil
}

func (p *fakeProvider) CreateCheckoutSession(_ context.Context, cp stripe.CheckoutParams) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record("CreateCheckoutSession", cp); err != nil {
		return "", err
	}
	return "https://checkout.test/" + cp.PriceID, nil
}

func (p *fakeProvider) CreatePortalSession(_ context.Context, customerID, returnURL string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record("CreatePortalSession", customerID, returnURL); err != nil {
		return "", err
	}
	return "https://portal.test/" + customerID, nil
}

// ---- хранилище ----

type memStore struct {
	mu        sync.Mutex
	seq       int
	companies map[string]*domain.Company
	subs      map[string]*domain.Subscription
	members   map[string]*domain.Member
	locations map[string]*domain.Location
	users     map[string]string // user id -> email
}

func newMemStore() *memStore {
	return &memStore{
		companies: map[string]*domain.Company{},
		subs:      map[string]*domain.Subscription{},
		members:   map[string]*domain.Member{},
		locations: map[string]*domain.Location{},
		users:     map[string]string{},
	}
}

func (s *memStore) id(prefix string) string {
	s.seq++
	return fmt.Sprintf("%s-%d", prefix, s.seq)
}

func (s *memStore) company(id string) *domain.Company {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *s.companies[id]
	return &c
}

func (s *memStore) subscriptionRows() []domain.Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Subscription, 0, len(s.subs))
	for _, sub := range s.subs {
		out = append(out, *sub)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (s *memStore) billableMembers(companyID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, m := range s.members {
		if m.CompanyID == companyID && m.Status.Billable() {
			n++
		}
	}
	return n
}

func (s *memStore) adjust(companyID string, r domain.ResourceType, delta int) {
	c := s.companies[companyID]
	if r == domain.ResourceLocation {
		c.LocationCount = max(c.LocationCount+delta, 0)
		return
	}
	c.EmployeeCount = max(c.EmployeeCount+delta, 0)
}

type memCompanies struct{ *memStore }

func (r memCompanies) get(id string) (*domain.Company, error) {
	c, ok := r.companies[id]
	if !ok {
		return nil, domain.NewNotFoundError("company", id)
	}
	return c, nil
}

func (r memCompanies) GetByID(_ context.Context, id string) (*domain.Company, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, err := r.get(id)
	if err != nil {
		return nil, err
	}
	cp := *c
	return &cp, nil
}

func (r memCompanies) GetByCustomerID(_ context.Context, customerID string) (*domain.Company, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.companies {
		if c.CustomerID() == customerID {
			cp := *c
			return &cp, nil
		}
	}
	return nil, domain.NewNotFoundError("company", customerID)
}

func (r memCompanies) update(id string, fn func(c *domain.Company)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, err := r.get(id)
	if err != nil {
		return err
	}
	fn(c)
	return nil
}

func (r memCompanies) ActivatePlan(_ context.Context, companyID, plan, customerID, status string) error {
	return r.update(companyID, func(c *domain.Company) {
		c.CurrentPlan = &plan
		c.SubscriptionStatus = &status
		if customerID != "" {
			c.StripeCustomerID = &customerID
		}
	})
}

func (r memCompanies) SetCustomerID(_ context.Context, companyID, customerID string) error {
	return r.update(companyID, func(c *domain.Company) { c.StripeCustomerID = &customerID })
}

func (r memCompanies) SetCurrentPlan(_ context.Context, companyID, plan string) error {
	return r.update(companyID, func(c *domain.Company) { c.CurrentPlan = &plan })
}

func (r memCompanies) SetSubscriptionStatus(_ context.Context, companyID, status string) error {
	return r.update(companyID, func(c *domain.Company) { c.SubscriptionStatus = &status })
}

func (r memCompanies) ScheduleChange(_ context.Context, companyID, plan string, at time.Time) error {
	return r.update(companyID, func(c *domain.Company) {
		c.ScheduledPlanChange = &plan
		c.ScheduledChangeDate = &at
	})
}

func (r memCompanies) PromoteScheduledPlan(_ context.Context, companyID, plan string) error {
	return r.update(companyID, func(c *domain.Company) {
		c.CurrentPlan = &plan
		c.ScheduledPlanChange = nil
		c.ScheduledChangeDate = nil
	})
}

type memSubs struct{ *memStore }

func (r memSubs) ListActiveByCompany(_ context.Context, companyID string) ([]domain.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Subscription
	for _, s := range r.subs {
		if s.CompanyID == companyID && s.IsActive {
			out = append(out, *s)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		bi, bj := out[i].Type == domain.SubscriptionTypeBase, out[j].Type == domain.SubscriptionTypeBase
		if bi != bj {
			return bi
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (r memSubs) GetByStripeID(_ context.Context, id string) (*domain.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.subs[id]
	if !ok {
		return nil, domain.NewNotFoundError("subscription", id)
	}
	cp := *s
	return &cp, nil
}

func (r memSubs) Upsert(_ context.Context, sub *domain.Subscription) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.subs[sub.StripeSubscriptionID]; ok {
		if cur.LastEventAt != nil && sub.LastEventAt != nil && cur.LastEventAt.After(*sub.LastEventAt) {
			sub.ID = cur.ID
			return nil
		}
		next := *sub
		next.ID, next.CreatedAt = cur.ID, cur.CreatedAt
		if next.StripeItemIDEmployee == nil {
			next.StripeItemIDEmployee = cur.StripeItemIDEmployee
		}
		if next.StripeItemIDLocation == nil {
			next.StripeItemIDLocation = cur.StripeItemIDLocation
		}
		if next.ParentSubscriptionID == nil {
			next.ParentSubscriptionID = cur.ParentSubscriptionID
		}
		if cur.LastEventAt != nil && (next.LastEventAt == nil || cur.LastEventAt.After(*next.LastEventAt)) {
			next.LastEventAt = cur.LastEventAt
		}
		*cur = next
		sub.ID = cur.ID
		return nil
	}
	cp := *sub
	cp.ID = r.id("row")
	cp.CreatedAt = time.Now().Add(time.Duration(r.seq) * time.Millisecond)
	r.subs[cp.StripeSubscriptionID] = &cp
	sub.ID = cp.ID
	return nil
}

func (r memSubs) SetItemID(_ context.Context, companyID, rowID string, resource domain.ResourceType, itemID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.subs {
		if s.ID == rowID && s.CompanyID == companyID {
			s.SetItemID(resource, itemID)
			return nil
		}
	}
	return domain.NewNotFoundError("subscription", rowID)
}

func (r memSubs) ApplyState(_ context.Context, _ string, st repository.SubscriptionState) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.subs[st.StripeSubscriptionID]
	if !ok || (s.LastEventAt != nil && s.LastEventAt.After(st.EventAt)) {
		return false, nil
	}
	s.Status, s.IsActive, s.CancelAtPeriodEnd = st.Status, st.IsActive, st.CancelAtPeriodEnd
	if st.CurrentPeriodStart != nil {
		s.CurrentPeriodStart, s.CurrentPeriodEnd = st.CurrentPeriodStart, st.CurrentPeriodEnd
	}
	if st.PlanName != nil {
		s.PlanName = st.PlanName
	}
	if st.StripePriceID != nil {
		s.StripePriceID = st.StripePriceID
	}
	if st.BillingInterval != "" {
		s.BillingInterval = st.BillingInterval
	}
	if st.ItemIDs != nil {
		s.StripeItemIDEmployee = st.ItemIDs[domain.ResourceEmployee]
		s.StripeItemIDLocation = st.ItemIDs[domain.ResourceLocation]
	}
	at := st.EventAt
	s.LastEventAt = &at
	return true, nil
}

func (r memSubs) SetBillingInterval(_ context.Context, companyID, id string, interval domain.BillingInterval) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.subs[id]
	if !ok || s.CompanyID != companyID {
		return domain.NewNotFoundError("subscription", id)
	}
	s.BillingInterval = interval
	return nil
}

func (r memSubs) Deactivate(_ context.Context, companyID, id, status string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.subs[id]
	if !ok || s.CompanyID != companyID {
		return domain.NewNotFoundError("subscription", id)
	}
	s.IsActive, s.Status = false, status
	if s.LastEventAt == nil || at.After(*s.LastEventAt) {
		s.LastEventAt = &at
	}
	return nil
}

type memMembers struct {
	*memStore
	failCreate error
}

func (r *memMembers) Create(_ context.Context, m *domain.Member) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failCreate != nil {
		return r.failCreate
	}
	for _, cur := range r.members {
		if cur.CompanyID == m.CompanyID && strings.EqualFold(cur.Email, m.Email) {
			return repository.ErrDuplicate
		}
	}
	m.ID = r.id("member")
	cp := *m
	r.members[m.ID] = &cp
	if m.Status.Billable() {
		r.adjust(m.CompanyID, domain.ResourceEmployee, 1)
	}
	return nil
}

func (r *memMembers) Get(_ context.Context, companyID, memberID string) (*domain.Member, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.members[memberID]
	if !ok || m.CompanyID != companyID {
		return nil, domain.NewNotFoundError("member", memberID)
	}
	cp := *m
	return &cp, nil
}

func (r *memMembers) GetByUser(_ context.Context, companyID, userID string) (*domain.Member, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.members {
		if m.CompanyID == companyID && m.UserID != nil && *m.UserID == userID {
			cp := *m
			return &cp, nil
		}
	}
	return nil, domain.NewNotFoundError("member", userID)
}

func (r *memMembers) List(_ context.Context, companyID string) ([]domain.Member, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Member
	for _, m := range r.members {
		if m.CompanyID == companyID {
			out = append(out, *m)
		}
	}
	return out, nil
}

func (r *memMembers) Delete(_ context.Context, companyID, memberID string) (*domain.Member, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.members[memberID]
	if !ok || m.CompanyID != companyID {
		return nil, domain.NewNotFoundError("member", memberID)
	}
	delete(r.members, memberID)
	if m.Status.Billable() {
		r.adjust(companyID, domain.ResourceEmployee, -1)
	}
	return m, nil
}

func (r *memMembers) Update(_ context.Context, companyID, memberID string, status domain.MemberStatus, role domain.MemberRole) (*domain.Member, *domain.Member, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.members[memberID]
	if !ok || m.CompanyID != companyID {
		return nil, nil, domain.NewNotFoundError("member", memberID)
	}
	before := *m
	if status != "" {
		m.Status = status
	}
	if role != "" {
		m.Role = role
	}
	switch {
	case !before.Status.Billable() && m.Status.Billable():
		r.adjust(companyID, domain.ResourceEmployee, 1)
	case before.Status.Billable() && !m.Status.Billable():
		r.adjust(companyID, domain.ResourceEmployee, -1)
	}
	after := *m
	return &before, &after, nil
}

func (r *memMembers) FindUserIDByEmail(_ context.Context, email string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, e := range r.users {
		if strings.EqualFold(e, email) {
			return id, nil
		}
	}
	return "", domain.NewNotFoundError("user", email)
}

func (r *memMembers) GetUserEmail(_ context.Context, userID string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.users[userID]
	if !ok {
		return "", domain.NewNotFoundError("user", userID)
	}
	return e, nil
}

type memLocations struct{ *memStore }

func (r memLocations) Create(_ context.Context, l *domain.Location) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, cur := range r.locations {
		if cur.CompanyID == l.CompanyID && cur.Slug == l.Slug {
			return repository.ErrDuplicate
		}
	}
	l.ID = r.id("location")
	if l.Timezone == "" {
		l.Timezone = "UTC"
	}
	cp := *l
	r.locations[l.ID] = &cp
	r.adjust(l.CompanyID, domain.ResourceLocation, 1)
	return nil
}

func (r memLocations) List(_ context.Context, companyID string) ([]domain.Location, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Location
	for _, l := range r.locations {
		if l.CompanyID == companyID {
			out = append(out, *l)
		}
	}
	return out, nil
}

func (r memLocations) Delete(_ context.Context, companyID, locationID string) (*domain.Location, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.locations[locationID]
	if !ok || l.CompanyID != companyID {
		return nil, domain.NewNotFoundError("location", locationID)
	}
	delete(r.locations, locationID)
	r.adjust(companyID, domain.ResourceLocation, -1)
	return l, nil
}

// ---- прочее ----

type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.BillingEvent
}

func (p *recordingPublisher) PublishBillingEvent(_ context.Context, ev domain.BillingEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) ofType(t domain.BillingEventType) []domain.BillingEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []domain.BillingEvent
	for _, ev := range p.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

type fakeSender struct {
	err  error
	sent []domain.Invitation
}

func (s *fakeSender) SendInvitation(_ context.Context, inv domain.Invitation) error {
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, inv)
	return nil
}

type busyLocker struct{}

func (busyLocker) Acquire(context.Context, string) (func(), error) {
	return nil, repository.ErrLockNotAcquired
}
