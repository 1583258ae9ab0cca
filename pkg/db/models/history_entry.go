package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/resale-ledger/pkg/enums"
)

// HistoryEntry is an append-only audit row for a quantity-affecting action.
type HistoryEntry struct {
	ID             uuid.UUID           `gorm:"column:id;type:uuid;primaryKey"`
	InventoryID    uuid.UUID           `gorm:"column:inventory_id;type:uuid;not null;index"`
	Action         enums.HistoryAction `gorm:"column:action_type;type:history_action;not null"`
	QuantityChange int                 `gorm:"column:quantity_change;not null"`
	QuantityBefore int                 `gorm:"column:quantity_before;not null"`
	QuantityAfter  int                 `gorm:"column:quantity_after;not null"`
	LedgerEntryID  *uuid.UUID          `gorm:"column:ledger_entry_id;type:uuid;index"`
	CheckoutItemID *uuid.UUID          `gorm:"column:checkout_item_id;type:uuid"`
	IsModification bool                `gorm:"column:is_modification;not null"`
	Notes          *string             `gorm:"column:notes"`
	CreatedAt      time.Time           `gorm:"column:created_at;autoCreateTime"`
}

func (HistoryEntry) TableName() string { return "inventory_history" }

func (h *HistoryEntry) BeforeCreate(*gorm.DB) error {
	ensureID(&h.ID)
	return nil
}
