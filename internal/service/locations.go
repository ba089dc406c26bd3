package service

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/Dhoini/Billing-microservice/internal/domain"
	"github.com/Dhoini/Billing-microservice/internal/repository"
	"github.com/Dhoini/Billing-microservice/pkg/logger"
)

// CreateLocationInput - данные новой точки
type CreateLocationInput struct {
	Name        string
	Slug        string
	Description *string
	Address     *string
	Timezone    string
}

// LocationService управляет точками компании с учетом биллинга
type LocationService struct {
	companies  repository.CompanyRepository
	locations  repository.LocationRepository
	reconciler *UsageReconciler
	locker     repository.TenantLocker
	log        *logger.Logger
}

// NewLocationService создает сервис точек
func NewLocationService(
	companies repository.CompanyRepository,
	locations repository.LocationRepository,
	reconciler *UsageReconciler,
	locker repository.TenantLocker,
	log *logger.Logger,
) *LocationService {
	return &LocationService{
		companies:  companies,
		locations:  locations,
		reconciler: reconciler,
		locker:     locker,
		log:        log.With("component", "location_service"),
	}
}

// List возвращает точки компании
func (s *LocationService) List(ctx context.Context, companyID string) ([]domain.Location, error) {
	return s.locations.List(ctx, companyID)
}

// Create создает точку. Превышение квоты выставляется провайдеру до записи.
func (s *LocationService) Create(ctx context.Context, companyID string, in CreateLocationInput) (*domain.Location, *OverageCharge, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, nil, fmt.Errorf("%w: name is required", domain.ErrInvalidInput)
	}
	slug := strings.TrimSpace(in.Slug)
	if slug == "" {
		slug = slugify(name)
	}
	if slug == "" {
		return nil, nil, fmt.Errorf("%w: slug is empty", domain.ErrInvalidInput)
	}
	if in.Timezone != "" {
		if _, err := time.LoadLocation(in.Timezone); err != nil {
			return nil, nil, fmt.Errorf("%w: unknown timezone %q", domain.ErrInvalidInput, in.Timezone)
		}
	}

	release, err := lockTenant(ctx, s.locker, s.log, companyID, domain.ResourceLocation)
	if err != nil {
		return nil, nil, err
	}
	defer release()

	company, err := s.companies.GetByID(ctx, companyID)
	if err != nil {
		return nil, nil, err
	}

	adm, err := s.reconciler.ReserveOverage(ctx, company, domain.ResourceLocation)
	if err != nil {
		return nil, nil, err
	}

	loc := &domain.Location{
		CompanyID:   companyID,
		Name:        name,
		Slug:        slug,
		Description: in.Description,
		Address:     in.Address,
		Timezone:    in.Timezone,
		IsActive:    true,
	}
	if err := s.locations.Create(ctx, loc); err != nil {
		if adm.Charge != nil {
			if w := s.reconciler.RevertOverage(ctx, company, domain.ResourceLocation); w != nil {
				s.log.Errorw("Could not revert overage after failed insert", "companyID", companyID, "warning", w.Error())
			}
		}
		return nil, nil, err
	}

	return loc, adm.Charge, nil
}

// Delete удаляет точку; возврат превышения не влияет на результат удаления
func (s *LocationService) Delete(ctx context.Context, companyID, locationID string) (*domain.Location, *BillingWarning, error) {
	release, err := lockTenant(ctx, s.locker, s.log, companyID, domain.ResourceLocation)
	if err != nil {
		return nil, nil, err
	}
	defer release()

	before, err := s.companies.GetByID(ctx, companyID)
	if err != nil {
		return nil, nil, err
	}

	deleted, err := s.locations.Delete(ctx, companyID, locationID)
	if err != nil {
		return nil, nil, err
	}

	return deleted, s.reconciler.ReleaseOverage(ctx, before, domain.ResourceLocation), nil
}

// slugify: строчные буквы и цифры, остальное схлопывается в дефис
func slugify(s string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}
