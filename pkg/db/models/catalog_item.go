package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/resale-ledger/pkg/enums"
)

// CatalogItem is owned by the external catalog registry and only read here.
type CatalogItem struct {
	ID            uuid.UUID           `gorm:"column:id;type:uuid;primaryKey"`
	Name          string              `gorm:"column:name;not null"`
	Category      string              `gorm:"column:category"`
	CostingPolicy enums.CostingPolicy `gorm:"column:costing_policy;type:costing_policy;not null"`
	CreatedAt     time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}
