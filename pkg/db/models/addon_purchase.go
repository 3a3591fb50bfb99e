package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AddonPurchase records a fulfilled one-time payment. The payment intent
// reference keeps fulfillment idempotent under webhook redelivery.
type AddonPurchase struct {
	ID                    uuid.UUID       `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	UserID                uuid.UUID       `gorm:"column:user_id;type:uuid;not null;index"`
	AddonID               *uuid.UUID      `gorm:"column:addon_id;type:uuid"`
	StripePaymentIntentID string          `gorm:"column:stripe_payment_intent_id;not null;uniqueIndex"`
	Amount                decimal.Decimal `gorm:"column:amount;type:numeric(12,2);not null"`
	Currency              string          `gorm:"column:currency;not null;default:'usd'"`
	FulfilledAt           time.Time       `gorm:"column:fulfilled_at;not null"`
	CreatedAt             time.Time       `gorm:"column:created_at;autoCreateTime"`
}
