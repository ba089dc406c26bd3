package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/Dhoini/Billing-microservice/internal/domain"
	"github.com/Dhoini/Billing-microservice/internal/repository"
	"github.com/Dhoini/Billing-microservice/pkg/logger"
)

const subscriptionColumns = `id, company_id, stripe_subscription_id, stripe_price_id, type, plan_name, status, is_active,
	billing_interval, current_period_start, current_period_end, cancel_at_period_end,
	stripe_item_id_employee, stripe_item_id_location, parent_subscription_id, last_event_at, created_at, updated_at`

// subscriptionRepo реализует SubscriptionRepository для PostgreSQL.
type subscriptionRepo struct {
	db  *sqlx.DB
	log *logger.Logger
}

// NewSubscriptionRepository создает новый экземпляр репозитория для PostgreSQL.
func NewSubscriptionRepository(db *sqlx.DB, log *logger.Logger) repository.SubscriptionRepository {
	return &subscriptionRepo{db: db, log: log}
}

func (r *subscriptionRepo) ListActiveByCompany(ctx context.Context, companyID string) ([]domain.Subscription, error) {
	subs := []domain.Subscription{}
	query := `
		SELECT ` + subscriptionColumns + `
		FROM subscriptions
		WHERE company_id = $1 AND is_active
		ORDER BY (type = 'base') DESC, created_at`

	if err := r.db.SelectContext(ctx, &subs, query, companyID); err != nil {
		r.log.Errorw("Failed to list active subscriptions", "error", err, "companyID", companyID)
		return nil, fmt.Errorf("repository: failed to list subscriptions: %w", err)
	}
	return subs, nil
}

func (r *subscriptionRepo) GetByStripeID(ctx context.Context, stripeSubscriptionID string) (*domain.Subscription, error) {
	var sub domain.Subscription
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE stripe_subscription_id = $1`

	if err := r.db.GetContext(ctx, &sub, query, stripeSubscriptionID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.NewNotFoundError("subscription", stripeSubscriptionID)
		}
		r.log.Errorw("Failed to get subscription by stripe ID", "error", err, "stripeSubscriptionID", stripeSubscriptionID)
		return nil, fmt.Errorf("repository: failed to get subscription: %w", err)
	}
	return &sub, nil
}

// Upsert вставляет подписку или перезаписывает ее по stripe_subscription_id.
// Закешированные id позиций не затираются значением NULL. Строка, уже
// получившая более позднее событие, не перезаписывается.
func (r *subscriptionRepo) Upsert(ctx context.Context, sub *domain.Subscription) error {
	if sub.ID == "" {
		sub.ID = uuid.NewString()
	}

	query := `
		INSERT INTO subscriptions (
			id, company_id, stripe_subscription_id, stripe_price_id, type, plan_name, status, is_active,
			billing_interval, current_period_start, current_period_end, cancel_at_period_end,
			stripe_item_id_employee, stripe_item_id_location, parent_subscription_id, last_event_at
		) VALUES (
			:id, :company_id, :stripe_subscription_id, :stripe_price_id, :type, :plan_name, :status, :is_active,
			:billing_interval, :current_period_start, :current_period_end, :cancel_at_period_end,
			:stripe_item_id_employee, :stripe_item_id_location, :parent_subscription_id, :last_event_at
		)
		ON CONFLICT (stripe_subscription_id) DO UPDATE SET
			company_id = EXCLUDED.company_id,
			stripe_price_id = EXCLUDED.stripe_price_id,
			type = EXCLUDED.type,
			plan_name = EXCLUDED.plan_name,
			status = EXCLUDED.status,
			is_active = EXCLUDED.is_active,
			billing_interval = EXCLUDED.billing_interval,
			current_period_start = EXCLUDED.current_period_start,
			current_period_end = EXCLUDED.current_period_end,
			cancel_at_period_end = EXCLUDED.cancel_at_period_end,
			stripe_item_id_employee = COALESCE(EXCLUDED.stripe_item_id_employee, subscriptions.stripe_item_id_employee),
			stripe_item_id_location = COALESCE(EXCLUDED.stripe_item_id_location, subscriptions.stripe_item_id_location),
			parent_subscription_id = COALESCE(EXCLUDED.parent_subscription_id, subscriptions.parent_subscription_id),
			last_event_at = GREATEST(EXCLUDED.last_event_at, subscriptions.last_event_at),
			updated_at = NOW()
		WHERE subscriptions.last_event_at IS NULL
		   OR EXCLUDED.last_event_at IS NULL
		   OR subscriptions.last_event_at <= EXCLUDED.last_event_at`

	if _, err := r.db.NamedExecContext(ctx, query, sub); err != nil {
		r.log.Errorw("Failed to upsert subscription", "error", err, "stripeSubscriptionID", sub.StripeSubscriptionID)
		return fmt.Errorf("repository: failed to upsert subscription: %w", err)
	}

	r.log.Debugw("Subscription upserted", "stripeSubscriptionID", sub.StripeSubscriptionID, "companyID", sub.CompanyID)
	return nil
}

func (r *subscriptionRepo) SetItemID(ctx context.Context, companyID, subscriptionID string, resource domain.ResourceType, itemID string) error {
	query := `UPDATE subscriptions SET stripe_item_id_employee = NULLIF($2, ''), updated_at = NOW() WHERE id = $1 AND company_id = $3`
	if resource == domain.ResourceLocation {
		query = `UPDATE subscriptions SET stripe_item_id_location = NULLIF($2, ''), updated_at = NOW() WHERE id = $1 AND company_id = $3`
	}

	res, err := r.db.ExecContext(ctx, query, subscriptionID, itemID, companyID)
	if err != nil {
		r.log.Errorw("Failed to set cached item id", "error", err, "subscriptionID", subscriptionID, "resource", resource)
		return fmt.Errorf("repository: failed to set item id: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return domain.NewNotFoundError("subscription", subscriptionID)
	}
	return nil
}

// ApplyState применяет состояние подписки из вебхука. Событие, которое
// старше последнего примененного, пропускается (last-write-wins по времени события).
func (r *subscriptionRepo) ApplyState(ctx context.Context, companyID string, st repository.SubscriptionState) (bool, error) {
	var (
		overwriteItems   bool
		itemEmp, itemLoc *string
	)
	if st.ItemIDs != nil {
		overwriteItems = true
		itemEmp = st.ItemIDs[domain.ResourceEmployee]
		itemLoc = st.ItemIDs[domain.ResourceLocation]
	}

	query := `
		UPDATE subscriptions SET
			status = $2,
			is_active = $3,
			current_period_start = COALESCE($4, current_period_start),
			current_period_end = COALESCE($5, current_period_end),
			cancel_at_period_end = $6,
			plan_name = COALESCE($7, plan_name),
			stripe_price_id = COALESCE($8, stripe_price_id),
			stripe_item_id_employee = CASE WHEN $9 THEN $10 ELSE stripe_item_id_employee END,
			stripe_item_id_location = CASE WHEN $9 THEN $11 ELSE stripe_item_id_location END,
			billing_interval = COALESCE(NULLIF($13, ''), billing_interval),
			last_event_at = $12,
			updated_at = NOW()
		WHERE stripe_subscription_id = $1
		  AND (last_event_at IS NULL OR last_event_at <= $12)`

	res, err := r.db.ExecContext(ctx, query,
		st.StripeSubscriptionID, st.Status, st.IsActive,
		st.CurrentPeriodStart, st.CurrentPeriodEnd, st.CancelAtPeriodEnd,
		st.PlanName, st.StripePriceID,
		overwriteItems, itemEmp, itemLoc,
		st.EventAt, string(st.BillingInterval),
	)
	if err != nil {
		r.log.Errorw("Failed to apply subscription state", "error", err, "stripeSubscriptionID", st.StripeSubscriptionID)
		return false, fmt.Errorf("repository: failed to apply subscription state: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("repository: rows affected: %w", err)
	}
	return n > 0, nil
}

func (r *subscriptionRepo) SetBillingInterval(ctx context.Context, companyID, stripeSubscriptionID string, interval domain.BillingInterval) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE subscriptions SET billing_interval = $2, updated_at = NOW()
		WHERE stripe_subscription_id = $1 AND company_id = $3`,
		stripeSubscriptionID, string(interval), companyID)
	if err != nil {
		r.log.Errorw("Failed to set billing interval", "error", err, "stripeSubscriptionID", stripeSubscriptionID)
		return fmt.Errorf("repository: failed to set billing interval: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return domain.NewNotFoundError("subscription", stripeSubscriptionID)
	}
	return nil
}

func (r *subscriptionRepo) Deactivate(ctx context.Context, companyID, stripeSubscriptionID, status string, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE subscriptions SET
			is_active = FALSE,
			status = $2,
			last_event_at = GREATEST(last_event_at, $4),
			updated_at = NOW()
		WHERE stripe_subscription_id = $1 AND company_id = $3`,
		stripeSubscriptionID, status, companyID, at)
	if err != nil {
		r.log.Errorw("Failed to deactivate subscription", "error", err, "stripeSubscriptionID", stripeSubscriptionID)
		return fmt.Errorf("repository: failed to deactivate subscription: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return domain.NewNotFoundError("subscription", stripeSubscriptionID)
	}
	r.log.Infow("Subscription marked inactive", "stripeSubscriptionID", stripeSubscriptionID, "status", status)
	return nil
}
