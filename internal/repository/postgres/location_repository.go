package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/Dhoini/Billing-microservice/internal/domain"
	"github.com/Dhoini/Billing-microservice/internal/repository"
	"github.com/Dhoini/Billing-microservice/pkg/logger"
)

const locationColumns = `id, company_id, name, slug, description, address, timezone, is_active, created_at, updated_at`

type locationRepo struct {
	db  *sqlx.DB
	log *logger.Logger
}

// NewLocationRepository создает репозиторий точек
func NewLocationRepository(db *sqlx.DB, log *logger.Logger) repository.LocationRepository {
	return &locationRepo{db: db, log: log}
}

func adjustLocationCount(ctx context.Context, tx *sqlx.Tx, companyID string, delta int) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE companies SET location_count = GREATEST(location_count + $2, 0), updated_at = NOW()
		WHERE id = $1`, companyID, delta)
	if err != nil {
		return fmt.Errorf("failed to adjust location_count: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return domain.NewNotFoundError("company", companyID)
	}
	return nil
}

func (r *locationRepo) Create(ctx context.Context, l *domain.Location) error {
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	if l.Timezone == "" {
		l.Timezone = "UTC"
	}

	err := withTx(ctx, r.db, r.log, func(tx *sqlx.Tx) error {
		query := `
			INSERT INTO locations (id, company_id, name, slug, description, address, timezone, is_active)
			VALUES (:id, :company_id, :name, :slug, :description, :address, :timezone, :is_active)`
		if _, err := tx.NamedExecContext(ctx, query, l); err != nil {
			if isUniqueViolation(err) {
				return repository.ErrDuplicate
			}
			return fmt.Errorf("failed to insert location: %w", err)
		}
		return adjustLocationCount(ctx, tx, l.CompanyID, 1)
	})
	if err != nil {
		if !errors.Is(err, repository.ErrDuplicate) {
			r.log.Errorw("Failed to create location", "error", err, "companyID", l.CompanyID)
		}
		return fmt.Errorf("repository: create location: %w", err)
	}

	r.log.Infow("Location created", "locationID", l.ID, "companyID", l.CompanyID)
	return nil
}

func (r *locationRepo) List(ctx context.Context, companyID string) ([]domain.Location, error) {
	locations := []domain.Location{}
	err := r.db.SelectContext(ctx, &locations,
		`SELECT `+locationColumns+` FROM locations WHERE company_id = $1 ORDER BY created_at`, companyID)
	if err != nil {
		r.log.Errorw("Failed to list locations", "error", err, "companyID", companyID)
		return nil, fmt.Errorf("repository: list locations: %w", err)
	}
	return locations, nil
}

func (r *locationRepo) Delete(ctx context.Context, companyID, locationID string) (*domain.Location, error) {
	var deleted domain.Location
	err := withTx(ctx, r.db, r.log, func(tx *sqlx.Tx) error {
		err := tx.GetContext(ctx, &deleted, `
			DELETE FROM locations WHERE company_id = $1 AND id = $2
			RETURNING `+locationColumns, companyID, locationID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return domain.NewNotFoundError("location", locationID)
			}
			return fmt.Errorf("failed to delete location: %w", err)
		}
		return adjustLocationCount(ctx, tx, companyID, -1)
	})
	if err != nil {
		return nil, fmt.Errorf("repository: delete location: %w", err)
	}

	r.log.Infow("Location deleted", "locationID", locationID, "companyID", companyID)
	return &deleted, nil
}
