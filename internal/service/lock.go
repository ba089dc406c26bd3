package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/Dhoini/Billing-microservice/internal/domain"
	"github.com/Dhoini/Billing-microservice/internal/repository"
	"github.com/Dhoini/Billing-microservice/pkg/logger"
)

// lockTenant берет блокировку (компания, ресурс). Занятый ключ дает
// ErrTenantBusy; недоступный Redis не блокирует запрос.
func lockTenant(ctx context.Context, locker repository.TenantLocker, log *logger.Logger, companyID string, resource domain.ResourceType) (func(), error) {
	if locker == nil {
		return func() {}, nil
	}
	release, err := locker.Acquire(ctx, repository.TenantLockKey(companyID, string(resource)))
	if err == nil {
		return release, nil
	}
	if errors.Is(err, repository.ErrLockNotAcquired) {
		return nil, fmt.Errorf("%w: %s", domain.ErrTenantBusy, resource)
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	log.Warnw("Tenant lock unavailable, continuing without it", "companyID", companyID, "resource", resource, "error", err)
	return func() {}, nil
}
