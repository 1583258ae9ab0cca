package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/resale-ledger/pkg/enums"
)

// LedgerEntry is one purchase or sale of an inventory aggregate.
type LedgerEntry struct {
	ID                   uuid.UUID             `gorm:"column:id;type:uuid;primaryKey"`
	InventoryID          uuid.UUID             `gorm:"column:inventory_id;type:uuid;not null;index"`
	Type                 enums.LedgerEntryType `gorm:"column:type;type:ledger_entry_type;not null"`
	Quantity             int                   `gorm:"column:quantity;not null"`
	UnitPriceCents       int64                 `gorm:"column:unit_price_cents;not null"`
	TotalPriceCents      int64                 `gorm:"column:total_price_cents;not null"`
	ExpensesCents        int64                 `gorm:"column:expenses_cents;not null"`
	ProfitCents          int64                 `gorm:"column:profit_cents;not null"`
	ProfitRate           decimal.Decimal       `gorm:"column:profit_rate;type:numeric(12,2);not null"`
	TransactionDate      time.Time             `gorm:"column:transaction_date;not null;index"`
	LotID                *uuid.UUID            `gorm:"column:lot_id;type:uuid"`
	IsCheckoutOriginated bool                  `gorm:"column:is_checkout_originated;not null"`
	CheckoutItemID       *uuid.UUID            `gorm:"column:checkout_item_id;type:uuid"`
	Notes                *string               `gorm:"column:notes"`
	CreatedAt            time.Time             `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt            time.Time             `gorm:"column:updated_at;autoUpdateTime"`
}

func (e *LedgerEntry) BeforeCreate(*gorm.DB) error {
	ensureID(&e.ID)
	return nil
}

func (e LedgerEntry) IsPurchase() bool { return e.Type == enums.LedgerEntryTypePurchase }

func (e LedgerEntry) IsSale() bool { return e.Type == enums.LedgerEntryTypeSale }
