package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Dhoini/Billing-microservice/internal/domain"
	"github.com/Dhoini/Billing-microservice/internal/repository"
	"github.com/Dhoini/Billing-microservice/pkg/logger"
)

const defaultInvitationTTL = 7 * 24 * time.Hour

// AddMemberInput - приглашение по email или прямое добавление по user_id
type AddMemberInput struct {
	Email             string
	UserID            string
	Role              domain.MemberRole
	Status            domain.MemberStatus
	PrimaryLocationID *string
}

// AddMemberResult - созданный участник и побочные результаты
type AddMemberResult struct {
	Member     *domain.Member
	Invitation *domain.Invitation
	Charge     *OverageCharge
	Notify     *NotifyResult
}

// UpdateMemberInput - новые статус и/или роль
type UpdateMemberInput struct {
	Status domain.MemberStatus
	Role   domain.MemberRole
}

// UpdateMemberResult - участник после изменения
type UpdateMemberResult struct {
	Member  *domain.Member
	Charge  *OverageCharge
	Warning *BillingWarning
}

// MemberService управляет участниками компании с учетом биллинга
type MemberService struct {
	companies     repository.CompanyRepository
	members       repository.MemberRepository
	reconciler    *UsageReconciler
	locker        repository.TenantLocker
	notifier      *InvitationNotifier
	invitationTTL time.Duration
	baseURL       string
	log           *logger.Logger
}

// MemberServiceConfig - настройки приглашений
type MemberServiceConfig struct {
	InvitationTTL time.Duration
	BaseURL       string
}

// NewMemberService создает сервис участников
func NewMemberService(
	companies repository.CompanyRepository,
	members repository.MemberRepository,
	reconciler *UsageReconciler,
	locker repository.TenantLocker,
	notifier *InvitationNotifier,
	cfg MemberServiceConfig,
	log *logger.Logger,
) *MemberService {
	if cfg.InvitationTTL <= 0 {
		cfg.InvitationTTL = defaultInvitationTTL
	}
	return &MemberService{
		companies:     companies,
		members:       members,
		reconciler:    reconciler,
		locker:        locker,
		notifier:      notifier,
		invitationTTL: cfg.InvitationTTL,
		baseURL:       strings.TrimRight(cfg.BaseURL, "/"),
		log:           log.With("component", "member_service"),
	}
}

// IsMember проверяет, что пользователь состоит в компании (активно или по приглашению)
func (s *MemberService) IsMember(ctx context.Context, companyID, userID string) (bool, error) {
	m, err := s.members.GetByUser(ctx, companyID, userID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return m.Status == domain.MemberActive, nil
}

// List возвращает участников компании
func (s *MemberService) List(ctx context.Context, companyID string) ([]domain.Member, error) {
	return s.members.List(ctx, companyID)
}

// Add приглашает (email) или добавляет (user_id) участника. Если участник
// выходит за квоту плана, превышение выставляется до записи в базу.
func (s *MemberService) Add(ctx context.Context, companyID string, in AddMemberInput) (*AddMemberResult, error) {
	invite := strings.TrimSpace(in.Email) != ""
	if !invite && in.UserID == "" {
		return nil, fmt.Errorf("%w: email or user_id is required", domain.ErrInvalidInput)
	}
	if in.Role == "" {
		in.Role = domain.RoleEmployee
	}
	if !validRole(in.Role) {
		return nil, fmt.Errorf("%w: unknown role %q", domain.ErrInvalidInput, in.Role)
	}

	status := domain.MemberPending
	if !invite {
		status = in.Status
		if status == "" {
			status = domain.MemberActive
		}
		if status != domain.MemberActive && status != domain.MemberPending && status != domain.MemberInactive {
			return nil, fmt.Errorf("%w: unsupported status %q", domain.ErrInvalidInput, status)
		}
	}

	release, err := lockTenant(ctx, s.locker, s.log, companyID, domain.ResourceEmployee)
	if err != nil {
		return nil, err
	}
	defer release()

	company, err := s.companies.GetByID(ctx, companyID)
	if err != nil {
		return nil, err
	}

	member := &domain.Member{
		CompanyID:         companyID,
		Role:              in.Role,
		Status:            status,
		PrimaryLocationID: in.PrimaryLocationID,
	}

	var invitation *domain.Invitation
	if invite {
		member.Email = strings.ToLower(strings.TrimSpace(in.Email))
		if uid, err := s.members.FindUserIDByEmail(ctx, member.Email); err == nil {
			member.UserID = &uid
		} else if !errors.Is(err, domain.ErrNotFound) {
			s.log.Warnw("User lookup by email failed, inviting as new user", "error", err)
		}

		token, err := newInvitationToken()
		if err != nil {
			return nil, err
		}
		expires := time.Now().UTC().Add(s.invitationTTL)
		member.InvitationToken = &token
		member.InvitationExpiresAt = &expires
	} else {
		email, err := s.members.GetUserEmail(ctx, in.UserID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return nil, fmt.Errorf("%w: unknown user %s", domain.ErrInvalidInput, in.UserID)
			}
			return nil, err
		}
		uid := in.UserID
		member.UserID = &uid
		member.Email = strings.ToLower(email)
	}

	result := &AddMemberResult{Member: member}

	if member.Status.Billable() {
		adm, err := s.reconciler.ReserveOverage(ctx, company, domain.ResourceEmployee)
		if err != nil {
			return nil, err
		}
		result.Charge = adm.Charge
	} else if _, err := s.reconciler.CheckEntitlement(company, domain.ResourceEmployee); err != nil {
		return nil, err
	}

	if err := s.members.Create(ctx, member); err != nil {
		if result.Charge != nil {
			if w := s.reconciler.RevertOverage(ctx, company, domain.ResourceEmployee); w != nil {
				s.log.Errorw("Could not revert overage after failed insert", "companyID", companyID, "warning", w.Error())
			}
		}
		return nil, err
	}

	if invite {
		invitation = &domain.Invitation{
			MemberID:    member.ID,
			CompanyID:   companyID,
			CompanyName: company.Name,
			Email:       member.Email,
			Role:        member.Role,
			Token:       *member.InvitationToken,
			Link:        fmt.Sprintf("%s/invite/%s", s.baseURL, *member.InvitationToken),
			ExpiresAt:   *member.InvitationExpiresAt,
		}
		res := s.notifier.Notify(ctx, *invitation)
		if res.Delivered {
			s.log.Infow("Invitation sent", "memberID", member.ID, "companyID", companyID)
		} else {
			s.log.Warnw("Invitation created but notification was not delivered",
				"memberID", member.ID, "companyID", companyID, "skipped", res.Skipped, "error", res.Error)
		}
		result.Invitation = invitation
		result.Notify = &res
	}

	return result, nil
}

// Delete удаляет участника. Удаление фиксируется до обращения к
// провайдеру; неудачный возврат превышения возвращается как предупреждение.
func (s *MemberService) Delete(ctx context.Context, companyID, memberID string) (*domain.Member, *BillingWarning, error) {
	release, err := lockTenant(ctx, s.locker, s.log, companyID, domain.ResourceEmployee)
	if err != nil {
		return nil, nil, err
	}
	defer release()

	before, err := s.companies.GetByID(ctx, companyID)
	if err != nil {
		return nil, nil, err
	}

	deleted, err := s.members.Delete(ctx, companyID, memberID)
	if err != nil {
		return nil, nil, err
	}

	if !deleted.Status.Billable() {
		return deleted, nil, nil
	}
	return deleted, s.reconciler.ReleaseOverage(ctx, before, domain.ResourceEmployee), nil
}

// Update меняет статус или роль. Переход в тарифицируемый статус проходит
// через выставление превышения, выход из него - через возврат.
func (s *MemberService) Update(ctx context.Context, companyID, memberID string, in UpdateMemberInput) (*UpdateMemberResult, error) {
	if in.Status != "" && !in.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", domain.ErrInvalidInput, in.Status)
	}
	if in.Role != "" && !validRole(in.Role) {
		return nil, fmt.Errorf("%w: unknown role %q", domain.ErrInvalidInput, in.Role)
	}

	release, err := lockTenant(ctx, s.locker, s.log, companyID, domain.ResourceEmployee)
	if err != nil {
		return nil, err
	}
	defer release()

	company, err := s.companies.GetByID(ctx, companyID)
	if err != nil {
		return nil, err
	}
	current, err := s.members.Get(ctx, companyID, memberID)
	if err != nil {
		return nil, err
	}

	target := in.Status
	if target == "" {
		target = current.Status
	}
	entering := !current.Status.Billable() && target.Billable()
	leaving := current.Status.Billable() && !target.Billable()

	result := &UpdateMemberResult{}
	if entering {
		adm, err := s.reconciler.ReserveOverage(ctx, company, domain.ResourceEmployee)
		if err != nil {
			return nil, err
		}
		result.Charge = adm.Charge
	}

	_, after, err := s.members.Update(ctx, companyID, memberID, in.Status, in.Role)
	if err != nil {
		if result.Charge != nil {
			if w := s.reconciler.RevertOverage(ctx, company, domain.ResourceEmployee); w != nil {
				s.log.Errorw("Could not revert overage after failed update", "companyID", companyID, "warning", w.Error())
			}
		}
		return nil, err
	}
	result.Member = after

	if leaving {
		result.Warning = s.reconciler.ReleaseOverage(ctx, company, domain.ResourceEmployee)
	}
	return result, nil
}

func validRole(r domain.MemberRole) bool {
	switch r {
	case domain.RoleOwner, domain.RoleManager, domain.RoleEmployee:
		return true
	}
	return false
}
