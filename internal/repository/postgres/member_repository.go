package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/Dhoini/Billing-microservice/internal/domain"
	"github.com/Dhoini/Billing-microservice/internal/repository"
	"github.com/Dhoini/Billing-microservice/pkg/logger"
)

const memberColumns = `id, company_id, user_id, email, role, status, primary_location_id,
	invitation_token, invitation_expires_at, created_at, updated_at`

// memberRepo реализует MemberRepository для PostgreSQL
type memberRepo struct {
	db  *sqlx.DB
	log *logger.Logger
}

// NewMemberRepository создает репозиторий участников
func NewMemberRepository(db *sqlx.DB, log *logger.Logger) repository.MemberRepository {
	return &memberRepo{db: db, log: log}
}

// adjustEmployeeCount меняет счетчик компании на delta, не опуская его ниже нуля
func adjustEmployeeCount(ctx context.Context, tx *sqlx.Tx, companyID string, delta int) error {
	if delta == 0 {
		return nil
	}
	res, err := tx.ExecContext(ctx, `
		UPDATE companies SET employee_count = GREATEST(employee_count + $2, 0), updated_at = NOW()
		WHERE id = $1`, companyID, delta)
	if err != nil {
		return fmt.Errorf("failed to adjust employee_count: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return domain.NewNotFoundError("company", companyID)
	}
	return nil
}

func (r *memberRepo) Create(ctx context.Context, m *domain.Member) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	m.Email = strings.TrimSpace(m.Email)

	err := withTx(ctx, r.db, r.log, func(tx *sqlx.Tx) error {
		query := `
			INSERT INTO company_members (
				id, company_id, user_id, email, role, status, primary_location_id,
				invitation_token, invitation_expires_at
			) VALUES (
				:id, :company_id, :user_id, :email, :role, :status, :primary_location_id,
				:invitation_token, :invitation_expires_at
			)`
		if _, err := tx.NamedExecContext(ctx, query, m); err != nil {
			if isUniqueViolation(err) {
				return repository.ErrDuplicate
			}
			return fmt.Errorf("failed to insert member: %w", err)
		}
		if m.Status.Billable() {
			return adjustEmployeeCount(ctx, tx, m.CompanyID, 1)
		}
		return nil
	})
	if err != nil {
		if !errors.Is(err, repository.ErrDuplicate) {
			r.log.Errorw("Failed to create member", "error", err, "companyID", m.CompanyID)
		}
		return fmt.Errorf("repository: create member: %w", err)
	}

	r.log.Infow("Member created", "memberID", m.ID, "companyID", m.CompanyID, "status", m.Status)
	return nil
}

func (r *memberRepo) Get(ctx context.Context, companyID, memberID string) (*domain.Member, error) {
	var m domain.Member
	err := r.db.GetContext(ctx, &m,
		`SELECT `+memberColumns+` FROM company_members WHERE company_id = $1 AND id = $2`, companyID, memberID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.NewNotFoundError("member", memberID)
		}
		r.log.Errorw("Failed to get member", "error", err, "memberID", memberID)
		return nil, fmt.Errorf("repository: get member: %w", err)
	}
	return &m, nil
}

func (r *memberRepo) GetByUser(ctx context.Context, companyID, userID string) (*domain.Member, error) {
	var m domain.Member
	err := r.db.GetContext(ctx, &m,
		`SELECT `+memberColumns+` FROM company_members WHERE company_id = $1 AND user_id = $2`, companyID, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.NewNotFoundError("member", userID)
		}
		r.log.Errorw("Failed to get member by user", "error", err, "userID", userID)
		return nil, fmt.Errorf("repository: get member by user: %w", err)
	}
	return &m, nil
}

func (r *memberRepo) List(ctx context.Context, companyID string) ([]domain.Member, error) {
	members := []domain.Member{}
	err := r.db.SelectContext(ctx, &members,
		`SELECT `+memberColumns+` FROM company_members WHERE company_id = $1 ORDER BY created_at`, companyID)
	if err != nil {
		r.log.Errorw("Failed to list members", "error", err, "companyID", companyID)
		return nil, fmt.Errorf("repository: list members: %w", err)
	}
	return members, nil
}

func (r *memberRepo) Delete(ctx context.Context, companyID, memberID string) (*domain.Member, error) {
	var deleted domain.Member
	err := withTx(ctx, r.db, r.log, func(tx *sqlx.Tx) error {
		err := tx.GetContext(ctx, &deleted, `
			DELETE FROM company_members WHERE company_id = $1 AND id = $2
			RETURNING `+memberColumns, companyID, memberID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return domain.NewNotFoundError("member", memberID)
			}
			return fmt.Errorf("failed to delete member: %w", err)
		}
		if deleted.Status.Billable() {
			return adjustEmployeeCount(ctx, tx, companyID, -1)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("repository: delete member: %w", err)
	}

	r.log.Infow("Member deleted", "memberID", memberID, "companyID", companyID)
	return &deleted, nil
}

func (r *memberRepo) Update(ctx context.Context, companyID, memberID string, status domain.MemberStatus, role domain.MemberRole) (*domain.Member, *domain.Member, error) {
	var before, after domain.Member
	err := withTx(ctx, r.db, r.log, func(tx *sqlx.Tx) error {
		err := tx.GetContext(ctx, &before, `
			SELECT `+memberColumns+` FROM company_members
			WHERE company_id = $1 AND id = $2
			FOR UPDATE`, companyID, memberID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return domain.NewNotFoundError("member", memberID)
			}
			return fmt.Errorf("failed to lock member: %w", err)
		}

		if status == "" {
			status = before.Status
		}
		if role == "" {
			role = before.Role
		}

		err = tx.GetContext(ctx, &after, `
			UPDATE company_members SET status = $3, role = $4, updated_at = NOW()
			WHERE company_id = $1 AND id = $2
			RETURNING `+memberColumns, companyID, memberID, status, role)
		if err != nil {
			return fmt.Errorf("failed to update member: %w", err)
		}

		delta := 0
		switch {
		case before.Status.Billable() && !after.Status.Billable():
			delta = -1
		case !before.Status.Billable() && after.Status.Billable():
			delta = 1
		}
		return adjustEmployeeCount(ctx, tx, companyID, delta)
	})
	if err != nil {
		return nil, nil, fmt.Errorf("repository: update member: %w", err)
	}

	r.log.Infow("Member updated", "memberID", memberID, "from", before.Status, "to", after.Status)
	return &before, &after, nil
}

func (r *memberRepo) FindUserIDByEmail(ctx context.Context, email string) (string, error) {
	var id string
	err := r.db.GetContext(ctx, &id, `SELECT id FROM profiles WHERE lower(email) = lower($1)`, strings.TrimSpace(email))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", domain.NewNotFoundError("profile", email)
		}
		return "", fmt.Errorf("repository: find user by email: %w", err)
	}
	return id, nil
}

func (r *memberRepo) GetUserEmail(ctx context.Context, userID string) (string, error) {
	var email string
	if err := r.db.GetContext(ctx, &email, `SELECT email FROM profiles WHERE id = $1`, userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", domain.NewNotFoundError("profile", userID)
		}
		return "", fmt.Errorf("repository: get user email: %w", err)
	}
	return email, nil
}
