package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/wayfarerhq/wayfarer-backend/pkg/enums"
)

// Price is a purchasable unit of a Plan. The Stripe price reference is
// globally unique; many prices may point at one plan (monthly/annual).
type Price struct {
	ID            uuid.UUID             `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	PlanID        string                `gorm:"column:plan_id;not null;index"`
	StripePriceID string                `gorm:"column:stripe_price_id;not null;uniqueIndex"`
	Interval      enums.BillingInterval `gorm:"column:interval;not null"`
	IntervalCount int                   `gorm:"column:interval_count;not null;default:1"`
	AmountCents   int64                 `gorm:"column:amount_cents;not null"`
	Currency      string                `gorm:"column:currency;not null;default:'usd'"`
	IsActive      bool                  `gorm:"column:is_active;not null;default:true"`
	CreatedAt     time.Time             `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time             `gorm:"column:updated_at;autoUpdateTime"`

	Plan *Plan `gorm:"foreignKey:PlanID"`
}
