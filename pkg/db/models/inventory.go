package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Inventory is the running stock and cost aggregate for one (item, condition) pair.
type Inventory struct {
	ID                         uuid.UUID  `gorm:"column:id;type:uuid;primaryKey"`
	ItemID                     uuid.UUID  `gorm:"column:item_id;type:uuid;not null;uniqueIndex:ux_inventories_item_condition,priority:1"`
	Condition                  string     `gorm:"column:condition;not null;uniqueIndex:ux_inventories_item_condition,priority:2"`
	Quantity                   int        `gorm:"column:quantity;not null"`
	AveragePurchasePriceCents  int64      `gorm:"column:average_purchase_price_cents;not null"`
	TotalPurchased             int        `gorm:"column:total_purchased;not null"`
	TotalPurchaseCostCents     int64      `gorm:"column:total_purchase_cost_cents;not null"`
	TotalExpensesCents         int64      `gorm:"column:total_expenses_cents;not null"`
	AverageExpensePerUnitCents int64      `gorm:"column:average_expense_per_unit_cents;not null"`
	MarketPriceCents           *int64     `gorm:"column:market_price_cents"`
	LastTransactionAt          *time.Time `gorm:"column:last_transaction_at"`
	CreatedAt                  time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt                  time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

func (Inventory) TableName() string { return "inventories" }

func (i *Inventory) BeforeCreate(*gorm.DB) error {
	ensureID(&i.ID)
	return nil
}
