package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Dhoini/Billing-microservice/internal/domain"
	"github.com/Dhoini/Billing-microservice/pkg/logger"
)

const (
	// Префикс ключей списка активных подписок компании
	companySubscriptionsKeyPrefix = "billing:subs:"

	defaultCacheTTL = 15 * time.Minute
)

// RedisCache кеширует активные подписки компаний в Redis
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
	log    *logger.Logger
}

// NewRedisClient подключается к Redis и проверяет соединение
func NewRedisClient(ctx context.Context, addr, password string, db int, log *logger.Logger) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		log.Errorw("Failed to connect to Redis", "error", err)
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	log.Infow("Connected to Redis successfully", "addr", addr)
	return client, nil
}

// NewRedisCache создает кеш поверх готового клиента
func NewRedisCache(client *redis.Client, ttl time.Duration, log *logger.Logger) *RedisCache {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &RedisCache{client: client, ttl: ttl, log: log}
}

func companySubscriptionsKey(companyID string) string {
	return companySubscriptionsKeyPrefix + companyID
}

// CacheCompanySubscriptions сохраняет список подписок компании (пустой список тоже)
func (c *RedisCache) CacheCompanySubscriptions(ctx context.Context, companyID string, subs []domain.Subscription) error {
	data, err := json.Marshal(subs)
	if err != nil {
		return fmt.Errorf("failed to marshal subscriptions: %w", err)
	}

	if err := c.client.Set(ctx, companySubscriptionsKey(companyID), data, c.ttl).Err(); err != nil {
		c.log.Errorw("Failed to cache company subscriptions", "error", err, "companyID", companyID)
		return fmt.Errorf("failed to cache subscriptions: %w", err)
	}

	c.log.Debugw("Company subscriptions cached", "companyID", companyID, "count", len(subs))
	return nil
}

// GetCompanySubscriptions возвращает список из кеша. found=false при промахе.
func (c *RedisCache) GetCompanySubscriptions(ctx context.Context, companyID string) (subs []domain.Subscription, found bool, err error) {
	data, err := c.client.Get(ctx, companySubscriptionsKey(companyID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			c.log.Debugw("Company subscriptions not found in cache", "companyID", companyID)
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to get subscriptions from cache: %w", err)
	}

	if err := json.Unmarshal(data, &subs); err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal cached subscriptions: %w", err)
	}
	return subs, true, nil
}

// InvalidateCompany удаляет кеш подписок компании
func (c *RedisCache) InvalidateCompany(ctx context.Context, companyID string) error {
	if err := c.client.Del(ctx, companySubscriptionsKey(companyID)).Err(); err != nil {
		return fmt.Errorf("failed to invalidate subscriptions cache: %w", err)
	}
	c.log.Debugw("Company subscriptions cache invalidated", "companyID", companyID)
	return nil
}
