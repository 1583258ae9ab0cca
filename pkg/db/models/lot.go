package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Lot is a batch of units bought together at one price for lot-costed items.
type Lot struct {
	ID               uuid.UUID  `gorm:"column:id;type:uuid;primaryKey"`
	InventoryID      uuid.UUID  `gorm:"column:inventory_id;type:uuid;not null;index"`
	PurchaseEntryID  *uuid.UUID `gorm:"column:purchase_entry_id;type:uuid"`
	Label            string     `gorm:"column:label;not null"`
	UnitCostCents    int64      `gorm:"column:unit_cost_cents;not null"`
	UnitExpenseCents int64      `gorm:"column:unit_expense_cents;not null"`
	InitialQty       int        `gorm:"column:initial_qty;not null"`
	RemainingQty     int        `gorm:"column:remaining_qty;not null"`
	CreatedAt        time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

func (l *Lot) BeforeCreate(*gorm.DB) error {
	ensureID(&l.ID)
	return nil
}
