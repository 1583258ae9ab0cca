package payloads

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/resale-ledger/pkg/enums"
)

// InventorySnapshot carries the aggregate figures after a mutation.
type InventorySnapshot struct {
	InventoryID                uuid.UUID `json:"inventory_id"`
	ItemID                     uuid.UUID `json:"item_id"`
	Condition                  string    `json:"condition"`
	Quantity                   int       `json:"quantity"`
	AveragePurchasePriceCents  int64     `json:"average_purchase_price_cents"`
	TotalPurchased             int       `json:"total_purchased"`
	AverageExpensePerUnitCents int64     `json:"average_expense_per_unit_cents"`
}

// LedgerEntryRecordedEvent is emitted for a purchase or direct sale.
type LedgerEntryRecordedEvent struct {
	EntryID         uuid.UUID             `json:"entry_id"`
	Type            enums.LedgerEntryType `json:"type"`
	Quantity        int                   `json:"quantity"`
	UnitPriceCents  int64                 `json:"unit_price_cents"`
	ProfitCents     int64                 `json:"profit_cents,omitempty"`
	LotID           *uuid.UUID            `json:"lot_id,omitempty"`
	TransactionDate time.Time             `json:"transaction_date"`
	Backdated       bool                  `json:"backdated,omitempty"`
	Inventory       InventorySnapshot     `json:"inventory"`
}

// LedgerEntryChangedEvent is emitted when a historical entry is edited or deleted.
type LedgerEntryChangedEvent struct {
	EntryID   uuid.UUID         `json:"entry_id"`
	Deleted   bool              `json:"deleted"`
	Inventory InventorySnapshot `json:"inventory"`
}

// InventoryReconciledEvent is emitted after a manual replay rewrote the aggregate.
type InventoryReconciledEvent struct {
	Inventory      InventorySnapshot `json:"inventory"`
	QuantityBefore int               `json:"quantity_before"`
	RestatedSales  int               `json:"restated_sales"`
	ReconciledAt   time.Time         `json:"reconciled_at"`
}

// MarketPriceUpdatedEvent mirrors an externally supplied market price change.
type MarketPriceUpdatedEvent struct {
	InventoryID      uuid.UUID `json:"inventory_id"`
	MarketPriceCents *int64    `json:"market_price_cents"`
}

// CheckoutItemEvent describes a hold lifecycle change.
type CheckoutItemEvent struct {
	CheckoutItemID uuid.UUID                `json:"checkout_item_id"`
	FolderID       uuid.UUID                `json:"folder_id"`
	InventoryID    uuid.UUID                `json:"inventory_id"`
	LotID          *uuid.UUID               `json:"lot_id,omitempty"`
	ParentItemID   *uuid.UUID               `json:"parent_item_id,omitempty"`
	Quantity       int                      `json:"quantity"`
	Status         enums.CheckoutItemStatus `json:"status"`
	PreviousStatus enums.CheckoutItemStatus `json:"previous_status,omitempty"`
	LedgerEntryID  *uuid.UUID               `json:"ledger_entry_id,omitempty"`
}

// CheckoutFolderEvent is emitted when a folder closes or reopens.
type CheckoutFolderEvent struct {
	FolderID uuid.UUID                  `json:"folder_id"`
	Status   enums.CheckoutFolderStatus `json:"status"`
	At       time.Time                  `json:"at"`
}
