package repository

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Dhoini/Billing-microservice/internal/domain"
	"github.com/Dhoini/Billing-microservice/pkg/logger"
)

func newTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client, mr
}

// countingSubs - SubscriptionRepository, считающий обращения к списку
type countingSubs struct {
	SubscriptionRepository
	mu    sync.Mutex
	lists int
	subs  []domain.Subscription
}

func (c *countingSubs) ListActiveByCompany(context.Context, string) ([]domain.Subscription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lists++
	return c.subs, nil
}

func (c *countingSubs) SetItemID(context.Context, string, string, domain.ResourceType, string) error {
	return nil
}

func (c *countingSubs) ApplyState(context.Context, string, SubscriptionState) (bool, error) {
	return false, nil
}

func TestCachedSubscriptionRepository_ListUsesCache(t *testing.T) {
	client, _ := newTestRedis(t)
	inner := &countingSubs{subs: []domain.Subscription{{ID: "s1", CompanyID: "c1", Type: domain.SubscriptionTypeBase}}}
	repo := NewCachedSubscriptionRepository(inner, NewRedisCache(client, time.Minute, logger.Nop()), logger.Nop())
	ctx := context.Background()

	first, err := repo.ListActiveByCompany(ctx, "c1")
	require.NoError(t, err)
	second, err := repo.ListActiveByCompany(ctx, "c1")
	require.NoError(t, err)

	require.Len(t, second, 1)
	assert.Equal(t, first[0].ID, second[0].ID)
	assert.Equal(t, 1, inner.lists)
}

func TestCachedSubscriptionRepository_WriteInvalidates(t *testing.T) {
	client, mr := newTestRedis(t)
	inner := &countingSubs{}
	repo := NewCachedSubscriptionRepository(inner, NewRedisCache(client, time.Minute, logger.Nop()), logger.Nop())
	ctx := context.Background()

	_, err := repo.ListActiveByCompany(ctx, "c1")
	require.NoError(t, err)
	assert.True(t, mr.Exists("billing:subs:c1"))

	require.NoError(t, repo.SetItemID(ctx, "c1", "s1", domain.ResourceEmployee, "si_1"))
	assert.False(t, mr.Exists("billing:subs:c1"))

	_, err = repo.ListActiveByCompany(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, 2, inner.lists)
}

func TestCachedSubscriptionRepository_StaleApplyKeepsCache(t *testing.T) {
	client, mr := newTestRedis(t)
	repo := NewCachedSubscriptionRepository(&countingSubs{}, NewRedisCache(client, time.Minute, logger.Nop()), logger.Nop())
	ctx := context.Background()

	_, err := repo.ListActiveByCompany(ctx, "c1")
	require.NoError(t, err)

	applied, err := repo.ApplyState(ctx, "c1", SubscriptionState{StripeSubscriptionID: "sub_1"})
	require.NoError(t, err)
	assert.False(t, applied)
	assert.True(t, mr.Exists("billing:subs:c1"))
}

func TestRedisCache_TTL(t *testing.T) {
	client, mr := newTestRedis(t)
	cache := NewRedisCache(client, time.Minute, logger.Nop())
	ctx := context.Background()

	require.NoError(t, cache.CacheCompanySubscriptions(ctx, "c1", []domain.Subscription{}))
	assert.Equal(t, time.Minute, mr.TTL("billing:subs:c1"))

	mr.FastForward(2 * time.Minute)
	_, found, err := cache.GetCompanySubscriptions(ctx, "c1")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestRedisLocker_Exclusive(t *testing.T) {
	client, mr := newTestRedis(t)
	locker := NewRedisLocker(client, time.Second, 100*time.Millisecond, logger.Nop())
	ctx := context.Background()
	key := TenantLockKey("c1", "employee")

	release, err := locker.Acquire(ctx, key)
	require.NoError(t, err)
	assert.True(t, mr.Exists(key))

	_, err = locker.Acquire(ctx, key)
	assert.Error(t, err)

	release()
	assert.False(t, mr.Exists(key))

	release2, err := locker.Acquire(ctx, key)
	require.NoError(t, err)
	release2()
}

func TestRedisLocker_ReleaseKeepsForeignLock(t *testing.T) {
	client, mr := newTestRedis(t)
	locker := NewRedisLocker(client, time.Second, 50*time.Millisecond, logger.Nop())
	key := TenantLockKey("c1", "location")

	release, err := locker.Acquire(context.Background(), key)
	require.NoError(t, err)

	// Блокировка истекла и была взята другим владельцем
	require.NoError(t, mr.Set(key, "someone-else"))
	release()

	got, err := mr.Get(key)
	require.NoError(t, err)
	assert.Equal(t, "someone-else", got)
}

func TestNoopLocker(t *testing.T) {
	release, err := NoopLocker{}.Acquire(context.Background(), "k")
	require.NoError(t, err)
	release()
}
