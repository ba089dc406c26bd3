package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/Dhoini/Billing-microservice/internal/repository"
	"github.com/Dhoini/Billing-microservice/pkg/logger"
)

// Прежнее значение счетчика читается из CTE old под FOR UPDATE.
const recalculateEmployeesSQL = `
	WITH actual AS (
		SELECT c.id AS company_id, COUNT(m.id)::int AS cnt
		FROM companies c
		LEFT JOIN company_members m ON m.company_id = c.id AND m.status IN ('active', 'pending')
		GROUP BY c.id
	), old AS (
		SELECT id, employee_count FROM companies FOR UPDATE
	)
	UPDATE companies c SET employee_count = a.cnt, updated_at = NOW()
	FROM actual a, old o
	WHERE c.id = a.company_id AND o.id = c.id AND c.employee_count <> a.cnt
	RETURNING c.id AS company_id, 'employee' AS resource, o.employee_count AS stored_count, a.cnt AS actual_count`

const recalculateLocationsSQL = `
	WITH actual AS (
		SELECT c.id AS company_id, COUNT(l.id)::int AS cnt
		FROM companies c
		LEFT JOIN locations l ON l.company_id = c.id
		GROUP BY c.id
	), old AS (
		SELECT id, location_count FROM companies FOR UPDATE
	)
	UPDATE companies c SET location_count = a.cnt, updated_at = NOW()
	FROM actual a, old o
	WHERE c.id = a.company_id AND o.id = c.id AND c.location_count <> a.cnt
	RETURNING c.id AS company_id, 'location' AS resource, o.location_count AS stored_count, a.cnt AS actual_count`

type counterRepo struct {
	db  *sqlx.DB
	log *logger.Logger
}

// NewCounterRepository создает репозиторий пересчета счетчиков
func NewCounterRepository(db *sqlx.DB, log *logger.Logger) repository.CounterRepository {
	return &counterRepo{db: db, log: log}
}

func (r *counterRepo) Recalculate(ctx context.Context) ([]repository.CountDrift, error) {
	drifts := []repository.CountDrift{}
	err := withTx(ctx, r.db, r.log, func(tx *sqlx.Tx) error {
		for _, q := range []string{recalculateEmployeesSQL, recalculateLocationsSQL} {
			var part []repository.CountDrift
			if err := tx.SelectContext(ctx, &part, q); err != nil {
				return fmt.Errorf("failed to recalculate counters: %w", err)
			}
			drifts = append(drifts, part...)
		}
		return nil
	})
	if err != nil {
		r.log.Errorw("Counter recalculation failed", "error", err)
		return nil, fmt.Errorf("repository: recalculate: %w", err)
	}

	for _, d := range drifts {
		r.log.Warnw("Counter drift corrected",
			"companyID", d.CompanyID, "resource", d.Resource,
			"stored", d.StoredCount, "actual", d.ActualCount)
	}
	return drifts, nil
}
