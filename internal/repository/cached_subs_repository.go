package repository

import (
	"context"
	"time"

	"github.com/Dhoini/Billing-microservice/internal/domain"
	"github.com/Dhoini/Billing-microservice/pkg/logger"
)

// CachedSubscriptionRepository кеширует ListActiveByCompany и сбрасывает
// кеш компании после любой записи
type CachedSubscriptionRepository struct {
	repo  SubscriptionRepository
	cache *RedisCache
	log   *logger.Logger
}

// NewCachedSubscriptionRepository оборачивает репозиторий кешем
func NewCachedSubscriptionRepository(repo SubscriptionRepository, cache *RedisCache, log *logger.Logger) SubscriptionRepository {
	return &CachedSubscriptionRepository{repo: repo, cache: cache, log: log}
}

func (r *CachedSubscriptionRepository) ListActiveByCompany(ctx context.Context, companyID string) ([]domain.Subscription, error) {
	cached, found, err := r.cache.GetCompanySubscriptions(ctx, companyID)
	if err != nil {
		r.log.Warnw("Error getting subscriptions from cache", "error", err, "companyID", companyID)
	}
	if found {
		return cached, nil
	}

	subs, err := r.repo.ListActiveByCompany(ctx, companyID)
	if err != nil {
		return nil, err
	}

	if err := r.cache.CacheCompanySubscriptions(ctx, companyID, subs); err != nil {
		r.log.Warnw("Failed to cache company subscriptions", "error", err, "companyID", companyID)
	}
	return subs, nil
}

func (r *CachedSubscriptionRepository) GetByStripeID(ctx context.Context, stripeSubscriptionID string) (*domain.Subscription, error) {
	return r.repo.GetByStripeID(ctx, stripeSubscriptionID)
}

func (r *CachedSubscriptionRepository) Upsert(ctx context.Context, sub *domain.Subscription) error {
	if err := r.repo.Upsert(ctx, sub); err != nil {
		return err
	}
	r.invalidate(ctx, sub.CompanyID)
	return nil
}

func (r *CachedSubscriptionRepository) SetItemID(ctx context.Context, companyID, subscriptionID string, resource domain.ResourceType, itemID string) error {
	if err := r.repo.SetItemID(ctx, companyID, subscriptionID, resource, itemID); err != nil {
		return err
	}
	r.invalidate(ctx, companyID)
	return nil
}

func (r *CachedSubscriptionRepository) ApplyState(ctx context.Context, companyID string, state SubscriptionState) (bool, error) {
	applied, err := r.repo.ApplyState(ctx, companyID, state)
	if err != nil {
		return false, err
	}
	if applied {
		r.invalidate(ctx, companyID)
	}
	return applied, nil
}

func (r *CachedSubscriptionRepository) SetBillingInterval(ctx context.Context, companyID, stripeSubscriptionID string, interval domain.BillingInterval) error {
	if err := r.repo.SetBillingInterval(ctx, companyID, stripeSubscriptionID, interval); err != nil {
		return err
	}
	r.invalidate(ctx, companyID)
	return nil
}

func (r *CachedSubscriptionRepository) Deactivate(ctx context.Context, companyID, stripeSubscriptionID, status string, at time.Time) error {
	if err := r.repo.Deactivate(ctx, companyID, stripeSubscriptionID, status, at); err != nil {
		return err
	}
	r.invalidate(ctx, companyID)
	return nil
}

func (r *CachedSubscriptionRepository) invalidate(ctx context.Context, companyID string) {
	if companyID == "" {
		return
	}
	if err := r.cache.InvalidateCompany(ctx, companyID); err != nil {
		r.log.Warnw("Failed to invalidate company subscriptions cache", "error", err, "companyID", companyID)
	}
}
