package domain

import "time"

// ResourceType - тип тарифицируемого ресурса
type ResourceType string

const (
	ResourceEmployee ResourceType = "employee"
	ResourceLocation ResourceType = "location"
)

// MemberRole - роль участника в компании
type MemberRole string

const (
	RoleOwner    MemberRole = "owner"
	RoleManager  MemberRole = "manager"
	RoleEmployee MemberRole = "employee"
)

// MemberStatus - статус участника
type MemberStatus string

const (
	MemberActive   MemberStatus = "active"
	MemberPending  MemberStatus = "pending"
	MemberInactive MemberStatus = "inactive"
	MemberDeclined MemberStatus = "declined"
	MemberRemoved  MemberStatus = "removed"
)

// Billable - участник учитывается в employee_count
func (s MemberStatus) Billable() bool {
	return s == MemberActive || s == MemberPending
}

// Valid проверяет, что статус известен
func (s MemberStatus) Valid() bool {
	switch s {
	case MemberActive, MemberPending, MemberInactive, MemberDeclined, MemberRemoved:
		return true
	}
	return false
}

// Member - членство пользователя в компании
type Member struct {
	ID                  string       `db:"id" json:"id"`
	CompanyID           string       `db:"company_id" json:"company_id"`
	UserID              *string      `db:"user_id" json:"user_id,omitempty"`
	Email               string       `db:"email" json:"email"`
	Role                MemberRole   `db:"role" json:"role"`
	Status              MemberStatus `db:"status" json:"status"`
	PrimaryLocationID   *string      `db:"primary_location_id" json:"primary_location_id,omitempty"`
	InvitationToken     *string      `db:"invitation_token" json:"-"`
	InvitationExpiresAt *time.Time   `db:"invitation_expires_at" json:"invitation_expires_at,omitempty"`
	CreatedAt           time.Time    `db:"created_at" json:"created_at"`
	UpdatedAt           time.Time    `db:"updated_at" json:"updated_at"`
}

// Location - точка (филиал) компании. Все строки тарифицируются.
type Location struct {
	ID          string    `db:"id" json:"id"`
	CompanyID   string    `db:"company_id" json:"company_id"`
	Name        string    `db:"name" json:"name"`
	Slug        string    `db:"slug" json:"slug"`
	Description *string   `db:"description" json:"description,omitempty"`
	Address     *string   `db:"address" json:"address,omitempty"`
	Timezone    string    `db:"timezone" json:"timezone"`
	IsActive    bool      `db:"is_active" json:"is_active"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}
