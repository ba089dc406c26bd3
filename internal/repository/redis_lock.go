package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/Dhoini/Billing-microservice/pkg/logger"
)

// ErrLockNotAcquired - блокировку не удалось взять до истечения контекста
var ErrLockNotAcquired = errors.New("lock not acquired")

// TenantLocker сериализует изменения биллинга одного ресурса компании
type TenantLocker interface {
	// Acquire блокирует ключ и возвращает функцию освобождения
	Acquire(ctx context.Context, key string) (release func(), err error)
}

// TenantLockKey - ключ блокировки для пары (компания, ресурс)
func TenantLockKey(companyID, resource string) string {
	return "billing:lock:" + companyID + ":" + resource
}

// Удаляет ключ, только если он все еще принадлежит владельцу токена
var releaseLockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker - блокировка SET NX PX с ожиданием через backoff
type RedisLocker struct {
	client  *redis.Client
	ttl     time.Duration
	maxWait time.Duration
	log     *logger.Logger
}

// NewRedisLocker создает блокировщик. ttl ограничивает время владения,
// maxWait - время ожидания чужой блокировки.
func NewRedisLocker(client *redis.Client, ttl, maxWait time.Duration, log *logger.Logger) *RedisLocker {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if maxWait <= 0 {
		maxWait = 10 * time.Second
	}
	return &RedisLocker{client: client, ttl: ttl, maxWait: maxWait, log: log}
}

func (l *RedisLocker) Acquire(ctx context.Context, key string) (func(), error) {
	token := uuid.NewString()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 25 * time.Millisecond
	b.MaxInterval = 500 * time.Millisecond
	b.MaxElapsedTime = l.maxWait

	err := backoff.Retry(func() error {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return backoff.Permanent(err)
		}
		if !ok {
			return ErrLockNotAcquired
		}
		return nil
	}, backoff.WithContext(b, ctx))
	if err != nil {
		l.log.Warnw("Failed to acquire tenant lock", "key", key, "error", err)
		return nil, fmt.Errorf("acquire lock %s: %w", key, err)
	}

	release := func() {
		// Освобождаем даже если контекст запроса уже отменен
		if err := releaseLockScript.Run(context.WithoutCancel(ctx), l.client, []string{key}, token).Err(); err != nil {
			l.log.Warnw("Failed to release tenant lock", "key", key, "error", err)
		}
	}
	return release, nil
}

// NoopLocker используется, когда Redis не настроен
type NoopLocker struct{}

func (NoopLocker) Acquire(context.Context, string) (func(), error) {
	return func() {}, nil
}
