package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/wayfarerhq/wayfarer-backend/pkg/enums"
)

// Subscription binds a user to a price over time. The Stripe reference stays
// nil until the first successful checkout; rows are never hard-deleted,
// cancellation is a status transition.
type Subscription struct {
	ID                   uuid.UUID                `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	UserID               uuid.UUID                `gorm:"column:user_id;type:uuid;not null;index"`
	PriceID              uuid.UUID                `gorm:"column:price_id;type:uuid;not null"`
	StripeSubscriptionID *string                  `gorm:"column:stripe_subscription_id;uniqueIndex"`
	Status               enums.SubscriptionStatus `gorm:"column:status;not null;default:'incomplete'"`
	CurrentPeriodStart   *time.Time               `gorm:"column:current_period_start"`
	CurrentPeriodEnd     *time.Time               `gorm:"column:current_period_end"`
	CancelAtPeriodEnd    bool                     `gorm:"column:cancel_at_period_end;not null;default:false"`
	CancelAt             *time.Time               `gorm:"column:cancel_at"`
	TrialEnd             *time.Time               `gorm:"column:trial_end"`
	ScheduledPriceID     *uuid.UUID               `gorm:"column:scheduled_price_id;type:uuid"`
	Metadata             json.RawMessage          `gorm:"column:metadata;type:jsonb"`
	CreatedAt            time.Time                `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt            time.Time                `gorm:"column:updated_at;autoUpdateTime"`

	Price *Price `gorm:"foreignKey:PriceID"`
}

// StripeID returns the external reference or empty when unset.
func (s *Subscription) StripeID() string {
	if s == nil || s.StripeSubscriptionID == nil {
		return ""
	}
	return *s.StripeSubscriptionID
}
