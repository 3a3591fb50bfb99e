package models

import (
	"time"

	"github.com/lib/pq"
)

// Plan is a subscription tier. Level strictly orders tiers; a higher level is
// a more capable plan. Rows are never deleted while a Price references them.
type Plan struct {
	ID        string         `gorm:"column:id;primaryKey"`
	Name      string         `gorm:"column:name;not null"`
	Level     int            `gorm:"column:level;not null;uniqueIndex"`
	IsActive  bool           `gorm:"column:is_active;not null;default:true"`
	IsPrivate bool           `gorm:"column:is_private;not null;default:false"`
	Features  pq.StringArray `gorm:"column:features;type:text[];default:ARRAY[]::text[]"`
	CreatedAt time.Time      `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time      `gorm:"column:updated_at;autoUpdateTime"`
}
