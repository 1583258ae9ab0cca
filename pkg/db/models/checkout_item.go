package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/resale-ledger/pkg/enums"
)

// CheckoutItem is a hold on units withdrawn from an aggregate. The unit cost
// and expense are snapshotted at withdrawal and never change afterwards.
type CheckoutItem struct {
	ID                   uuid.UUID                `gorm:"column:id;type:uuid;primaryKey"`
	FolderID             uuid.UUID                `gorm:"column:folder_id;type:uuid;not null;index"`
	InventoryID          uuid.UUID                `gorm:"column:inventory_id;type:uuid;not null;index"`
	LotID                *uuid.UUID               `gorm:"column:lot_id;type:uuid"`
	ParentItemID         *uuid.UUID               `gorm:"column:parent_item_id;type:uuid"`
	Quantity             int                      `gorm:"column:quantity;not null"`
	UnitCostCents        int64                    `gorm:"column:unit_cost_cents;not null"`
	UnitExpenseCents     int64                    `gorm:"column:unit_expense_cents;not null"`
	Status               enums.CheckoutItemStatus `gorm:"column:status;type:checkout_item_status;not null"`
	SalePriceCents       *int64                   `gorm:"column:sale_price_cents"`
	ProfitCents          *int64                   `gorm:"column:profit_cents"`
	ProfitRate           decimal.NullDecimal      `gorm:"column:profit_rate;type:numeric(12,2)"`
	LedgerEntryID        *uuid.UUID               `gorm:"column:ledger_entry_id;type:uuid"`
	ConvertedInventoryID *uuid.UUID               `gorm:"column:converted_inventory_id;type:uuid"`
	ConvertedLotID       *uuid.UUID               `gorm:"column:converted_lot_id;type:uuid"`
	ResolvedAt           *time.Time               `gorm:"column:resolved_at"`
	Notes                *string                  `gorm:"column:notes"`
	CreatedAt            time.Time                `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt            time.Time                `gorm:"column:updated_at;autoUpdateTime"`
}

func (i *CheckoutItem) BeforeCreate(*gorm.DB) error {
	ensureID(&i.ID)
	return nil
}
