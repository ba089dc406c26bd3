package domain

import "time"

// BillingEventType тип события биллинга, публикуемого в Kafka
type BillingEventType string

const (
	EventOverageUpdated     BillingEventType = "billing.overage.updated"
	EventPlanChanged        BillingEventType = "billing.plan.changed"
	EventSubscriptionSynced BillingEventType = "billing.subscription.synced"
	EventMemberInvited      BillingEventType = "billing.member.invited"
)

// BillingEvent - событие для внешних потребителей (аналитика, уведомления)
type BillingEvent struct {
	Type      BillingEventType  `json:"type"`
	CompanyID string            `json:"company_id"`
	Resource  ResourceType      `json:"resource,omitempty"`
	Quantity  *int64            `json:"quantity,omitempty"`
	Plan      string            `json:"plan,omitempty"`
	Attrs     map[string]string `json:"attrs,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// Invitation - приглашение участника, отправляется получателю по email
type Invitation struct {
	MemberID    string     `json:"member_id"`
	CompanyID   string     `json:"company_id"`
	CompanyName string     `json:"company_name"`
	Email       string     `json:"email"`
	Role        MemberRole `json:"role"`
	Token       string     `json:"token"`
	Link        string     `json:"link"`
	ExpiresAt   time.Time  `json:"expires_at"`
}
