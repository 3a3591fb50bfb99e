package models

import (
	"time"

	"github.com/google/uuid"
)

// Addon is a one-time purchasable extra (featured listing slots, extra
// vehicle capacity, photography credits) gated by a minimum plan level.
type Addon struct {
	ID            uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	Name          string    `gorm:"column:name;not null"`
	StripePriceID string    `gorm:"column:stripe_price_id;not null;uniqueIndex"`
	LevelRequired int       `gorm:"column:level_required;not null;default:0"`
	AmountCents   int64     `gorm:"column:amount_cents;not null"`
	Currency      string    `gorm:"column:currency;not null;default:'usd'"`
	IsActive      bool      `gorm:"column:is_active;not null;default:true"`
	CreatedAt     time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
