package models

import (
	"time"

	"github.com/google/uuid"
)

// User represents a tour operator account. Identity (passwords, sessions) is
// owned by the external provider; this row carries billing linkage only.
type User struct {
	ID               uuid.UUID  `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	Email            string     `gorm:"type:text;not null;uniqueIndex"`
	CompanyName      string     `gorm:"column:company_name;not null"`
	ContactName      string     `gorm:"column:contact_name;not null"`
	StripeCustomerID *string    `gorm:"column:stripe_customer_id;uniqueIndex"`
	IsActive         bool       `gorm:"column:is_active;not null;default:true"`
	CreatedAt        time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}
