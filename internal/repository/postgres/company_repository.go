package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/Dhoini/Billing-microservice/internal/domain"
	"github.com/Dhoini/Billing-microservice/internal/repository"
	"github.com/Dhoini/Billing-microservice/pkg/logger"
)

const companyColumns = `id, name, slug, current_plan, subscription_status, employee_count, location_count,
	stripe_customer_id, scheduled_plan_change, scheduled_change_date, created_at, updated_at`

// companyRepo реализует CompanyRepository для PostgreSQL.
type companyRepo struct {
	db  *sqlx.DB
	log *logger.Logger
}

// NewCompanyRepository создает репозиторий компаний
func NewCompanyRepository(db *sqlx.DB, log *logger.Logger) repository.CompanyRepository {
	return &companyRepo{db: db, log: log}
}

func (r *companyRepo) GetByID(ctx context.Context, id string) (*domain.Company, error) {
	return r.getOne(ctx, `SELECT `+companyColumns+` FROM companies WHERE id = $1`, id)
}

func (r *companyRepo) GetByCustomerID(ctx context.Context, customerID string) (*domain.Company, error) {
	return r.getOne(ctx, `SELECT `+companyColumns+` FROM companies WHERE stripe_customer_id = $1`, customerID)
}

func (r *companyRepo) getOne(ctx context.Context, query, key string) (*domain.Company, error) {
	var c domain.Company
	if err := r.db.GetContext(ctx, &c, query, key); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.NewNotFoundError("company", key)
		}
		r.log.Errorw("Failed to get company from DB", "error", err, "key", key)
		return nil, fmt.Errorf("repository: failed to get company: %w", err)
	}
	return &c, nil
}

func (r *companyRepo) ActivatePlan(ctx context.Context, companyID, plan, customerID, status string) error {
	return r.exec(ctx, "ActivatePlan", companyID, `
		UPDATE companies SET
			current_plan = $2,
			stripe_customer_id = COALESCE(NULLIF($3, ''), stripe_customer_id),
			subscription_status = $4,
			updated_at = NOW()
		WHERE id = $1`, companyID, plan, customerID, status)
}

func (r *companyRepo) SetCustomerID(ctx context.Context, companyID, customerID string) error {
	return r.exec(ctx, "SetCustomerID", companyID,
		`UPDATE companies SET stripe_customer_id = $2, updated_at = NOW() WHERE id = $1`, companyID, customerID)
}

func (r *companyRepo) SetCurrentPlan(ctx context.Context, companyID, plan string) error {
	return r.exec(ctx, "SetCurrentPlan", companyID,
		`UPDATE companies SET current_plan = $2, updated_at = NOW() WHERE id = $1`, companyID, plan)
}

func (r *companyRepo) SetSubscriptionStatus(ctx context.Context, companyID, status string) error {
	return r.exec(ctx, "SetSubscriptionStatus", companyID,
		`UPDATE companies SET subscription_status = $2, updated_at = NOW() WHERE id = $1`, companyID, status)
}

func (r *companyRepo) ScheduleChange(ctx context.Context, companyID, plan string, at time.Time) error {
	return r.exec(ctx, "ScheduleChange", companyID, `
		UPDATE companies SET
			scheduled_plan_change = $2,
			scheduled_change_date = $3,
			updated_at = NOW()
		WHERE id = $1`, companyID, plan, at)
}

func (r *companyRepo) PromoteScheduledPlan(ctx context.Context, companyID, plan string) error {
	return r.exec(ctx, "PromoteScheduledPlan", companyID, `
		UPDATE companies SET
			current_plan = $2,
			scheduled_plan_change = NULL,
			scheduled_change_date = NULL,
			updated_at = NOW()
		WHERE id = $1`, companyID, plan)
}

func (r *companyRepo) exec(ctx context.Context, op, companyID, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		r.log.Errorw("Failed to update company", "operation", op, "error", err, "companyID", companyID)
		return fmt.Errorf("repository: %s: %w", op, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return domain.NewNotFoundError("company", companyID)
	}
	r.log.Debugw("Company updated", "operation", op, "companyID", companyID)
	return nil
}
