package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Dhoini/Billing-microservice/internal/domain"
	"github.com/Dhoini/Billing-microservice/internal/service"
	"github.com/Dhoini/Billing-microservice/pkg/logger"
	"github.com/Dhoini/Billing-microservice/pkg/req"
	"github.com/Dhoini/Billing-microservice/pkg/res"
)

// MemberManager - операции над участниками компании
type MemberManager interface {
	Add(ctx context.Context, companyID string, in service.AddMemberInput) (*service.AddMemberResult, error)
	Update(ctx context.Context, companyID, memberID string, in service.UpdateMemberInput) (*service.UpdateMemberResult, error)
	Delete(ctx context.Context, companyID, memberID string) (*domain.Member, *service.BillingWarning, error)
}

// LocationManager - операции над точками компании
type LocationManager interface {
	Create(ctx context.Context, companyID string, in service.CreateLocationInput) (*domain.Location, *service.OverageCharge, error)
	Delete(ctx context.Context, companyID, locationID string) (*domain.Location, *service.BillingWarning, error)
}

// BillingReader отдает сводку биллинга компании
type BillingReader interface {
	Overview(ctx context.Context, companyID string) (*service.BillingOverview, error)
}

// AddMemberRequest - приглашение по email или добавление существующего пользователя
type AddMemberRequest struct {
	Email             string  `json:"email" validate:"required_without=UserID,omitempty,email"`
	UserID            string  `json:"user_id" validate:"required_without=Email"`
	Role              string  `json:"role" validate:"omitempty,oneof=owner manager employee"`
	Status            string  `json:"status" validate:"omitempty,oneof=active pending inactive"`
	PrimaryLocationID *string `json:"primary_location_id"`
}

// UpdateMemberRequest - новые статус и/или роль
type UpdateMemberRequest struct {
	Status string `json:"status" validate:"required_without=Role,omitempty,oneof=active pending inactive"`
	Role   string `json:"role" validate:"required_without=Status,omitempty,oneof=owner manager employee"`
}

// CreateLocationRequest - данные новой точки
type CreateLocationRequest struct {
	Name        string  `json:"name" validate:"required,max=200"`
	Slug        string  `json:"slug" validate:"omitempty,max=200"`
	Description *string `json:"description"`
	Address     *string `json:"address"`
	Timezone    string  `json:"timezone" validate:"omitempty,timezone"`
}

// CompanyHandler обслуживает ресурсы компании, влияющие на биллинг
type CompanyHandler struct {
	members   MemberManager
	locations LocationManager
	billing   BillingReader
	log       *logger.Logger
	debug     bool
}

// NewCompanyHandler создает обработчик ресурсов компании
func NewCompanyHandler(members MemberManager, locations LocationManager, billing BillingReader, log *logger.Logger, debug bool) *CompanyHandler {
	return &CompanyHandler{
		members:   members,
		locations: locations,
		billing:   billing,
		log:       log.With("handler", "company"),
		debug:     debug,
	}
}

// AddMember - POST /companies/:id/members
func (h *CompanyHandler) AddMember(c *gin.Context) {
	body, err := req.DecodeAndValidate[AddMemberRequest](c.Request.Body)
	if err != nil {
		respondBadRequest(c, h.log, err)
		return
	}

	result, err := h.members.Add(c.Request.Context(), c.Param("id"), service.AddMemberInput{
		Email:             body.Email,
		UserID:            body.UserID,
		Role:              domain.MemberRole(body.Role),
		Status:            domain.MemberStatus(body.Status),
		PrimaryLocationID: body.PrimaryLocationID,
	})
	if err != nil {
		respondError(c, h.log, err, h.debug)
		return
	}

	out := gin.H{}
	if result.Invitation != nil {
		out["invitation"] = gin.H{
			"id":         result.Member.ID,
			"email":      result.Invitation.Email,
			"role":       result.Invitation.Role,
			"expires_at": result.Invitation.ExpiresAt,
			"link":       result.Invitation.Link,
		}
		if result.Notify != nil {
			out["notification_sent"] = result.Notify.Delivered
		}
	} else {
		out["member"] = result.Member
	}
	if result.Charge != nil {
		out["overage"] = result.Charge
	}
	c.JSON(http.StatusCreated, out)
}

// UpdateMember - PATCH /companies/:id/members/:mid
func (h *CompanyHandler) UpdateMember(c *gin.Context) {
	body, err := req.DecodeAndValidate[UpdateMemberRequest](c.Request.Body)
	if err != nil {
		respondBadRequest(c, h.log, err)
		return
	}

	result, err := h.members.Update(c.Request.Context(), c.Param("id"), c.Param("mid"), service.UpdateMemberInput{
		Status: domain.MemberStatus(body.Status),
		Role:   domain.MemberRole(body.Role),
	})
	if err != nil {
		respondError(c, h.log, err, h.debug)
		return
	}

	out := gin.H{"member": result.Member}
	if result.Charge != nil {
		out["overage"] = result.Charge
	}
	h.attachWarning(out, result.Warning)
	c.JSON(http.StatusOK, out)
}

// DeleteMember - DELETE /companies/:id/members/:mid
func (h *CompanyHandler) DeleteMember(c *gin.Context) {
	_, warning, err := h.members.Delete(c.Request.Context(), c.Param("id"), c.Param("mid"))
	if err != nil {
		respondError(c, h.log, err, h.debug)
		return
	}

	out := gin.H{"success": true}
	h.attachWarning(out, warning)
	c.JSON(http.StatusOK, out)
}

// CreateLocation - POST /companies/:id/locations
func (h *CompanyHandler) CreateLocation(c *gin.Context) {
	body, err := req.DecodeAndValidate[CreateLocationRequest](c.Request.Body)
	if err != nil {
		respondBadRequest(c, h.log, err)
		return
	}

	loc, charge, err := h.locations.Create(c.Request.Context(), c.Param("id"), service.CreateLocationInput{
		Name:        body.Name,
		Slug:        body.Slug,
		Description: body.Description,
		Address:     body.Address,
		Timezone:    body.Timezone,
	})
	if err != nil {
		respondError(c, h.log, err, h.debug)
		return
	}

	out := gin.H{"location": loc}
	if charge != nil {
		out["overage"] = charge
	}
	c.JSON(http.StatusCreated, out)
}

// DeleteLocation - DELETE /companies/:id/locations/:lid
func (h *CompanyHandler) DeleteLocation(c *gin.Context) {
	_, warning, err := h.locations.Delete(c.Request.Context(), c.Param("id"), c.Param("lid"))
	if err != nil {
		respondError(c, h.log, err, h.debug)
		return
	}

	out := gin.H{"message": "Location deleted"}
	h.attachWarning(out, warning)
	c.JSON(http.StatusOK, out)
}

// GetBilling - GET /companies/:id/billing
func (h *CompanyHandler) GetBilling(c *gin.Context) {
	overview, err := h.billing.Overview(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, h.log, err, h.debug)
		return
	}
	res.JsonResponse(c.Writer, overview, http.StatusOK)
}

func (h *CompanyHandler) attachWarning(out gin.H, w *service.BillingWarning) {
	if w == nil {
		return
	}
	h.log.Warnw("Billing adjustment failed after commit", "resource", w.Resource, "error", w.Error())
	out["billing_warning"] = w.Message
}
