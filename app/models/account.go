package models

import (
	"time"
)

// Subscription statuses for an account. Transitions are driven only by the
// billing service, keyed on the latest billing event timestamp seen.
const (
	SubscriptionFree      = "free"
	SubscriptionPremium   = "premium"
	SubscriptionCancelled = "cancelled"
)

// Account is the per-owner record that carries subscription state and the
// external billing identifiers.
type Account struct {
	ID                 uint       `gorm:"primaryKey" json:"-"`
	OwnerID            string     `gorm:"type:varchar(128);uniqueIndex;not null" json:"owner_id"`
	Email              string     `gorm:"type:varchar(255);index" json:"email"`
	SubscriptionStatus string     `gorm:"type:varchar(20);default:free;index" json:"subscription_status"`
	CustomerID         string     `gorm:"type:varchar(128)" json:"customer_id,omitempty"`
	SubscriptionID     string     `gorm:"type:varchar(128)" json:"subscription_id,omitempty"`
	SubscriptionEnd    *time.Time `json:"subscription_end,omitempty"`
	// BillingEventAt is the timestamp of the newest billing event applied to
	// this account. Older or duplicate events must not regress state.
	// Stored with millisecond precision: provider events for one owner can
	// land inside the same second and must still compare as distinct.
	BillingEventAt *time.Time `gorm:"type:datetime(3)" json:"billing_event_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// IsPremium reports whether the account currently holds premium entitlement.
func (a *Account) IsPremium() bool {
	return a.SubscriptionStatus == SubscriptionPremium
}
