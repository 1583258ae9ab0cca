package controllers

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/resale-ledger/internal/ledger"
	"github.com/angelmondragon/resale-ledger/pkg/db/models"
)

type inventoryDTO struct {
	ID                         uuid.UUID  `json:"id"`
	ItemID                     uuid.UUID  `json:"item_id"`
	Condition                  string     `json:"condition"`
	Quantity                   int        `json:"quantity"`
	AveragePurchasePriceCents  int64      `json:"average_purchase_price_cents"`
	TotalPurchased             int        `json:"total_purchased"`
	TotalPurchaseCostCents     int64      `json:"total_purchase_cost_cents"`
	TotalExpensesCents         int64      `json:"total_expenses_cents"`
	AverageExpensePerUnitCents int64      `json:"average_expense_per_unit_cents"`
	MarketPriceCents           *int64     `json:"market_price_cents,omitempty"`
	LastTransactionAt          *time.Time `json:"last_transaction_at,omitempty"`
	Lots                       []lotDTO   `json:"lots,omitempty"`
}

type lotDTO struct {
	ID               uuid.UUID  `json:"id"`
	PurchaseEntryID  *uuid.UUID `json:"purchase_entry_id,omitempty"`
	Label            string     `json:"label"`
	UnitCostCents    int64      `json:"unit_cost_cents"`
	UnitExpenseCents int64      `json:"unit_expense_cents"`
	InitialQty       int        `json:"initial_quantity"`
	RemainingQty     int        `json:"remaining_quantity"`
}

type ledgerEntryDTO struct {
	ID                   uuid.UUID  `json:"id"`
	InventoryID          uuid.UUID  `json:"inventory_id"`
	Type                 string     `json:"type"`
	Quantity             int        `json:"quantity"`
	UnitPriceCents       int64      `json:"unit_price_cents"`
	TotalPriceCents      int64      `json:"total_price_cents"`
	ExpensesCents        int64      `json:"expenses_cents"`
	ProfitCents          int64      `json:"profit_cents"`
	ProfitRate           string     `json:"profit_rate"`
	TransactionDate      time.Time  `json:"transaction_date"`
	LotID                *uuid.UUID `json:"lot_id,omitempty"`
	IsCheckoutOriginated bool       `json:"is_checkout_originated"`
	CheckoutItemID       *uuid.UUID `json:"checkout_item_id,omitempty"`
	Notes                *string    `json:"notes,omitempty"`
}

type historyDTO struct {
	ID             uuid.UUID  `json:"id"`
	Action         string     `json:"action"`
	QuantityChange int        `json:"quantity_change"`
	QuantityBefore int        `json:"quantity_before"`
	QuantityAfter  int        `json:"quantity_after"`
	LedgerEntryID  *uuid.UUID `json:"ledger_entry_id,omitempty"`
	CheckoutItemID *uuid.UUID `json:"checkout_item_id,omitempty"`
	IsModification bool       `json:"is_modification"`
	Notes          *string    `json:"notes,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

type folderDTO struct {
	ID        uuid.UUID         `json:"id"`
	Name      string            `json:"name"`
	Status    string            `json:"status"`
	Notes     *string           `json:"notes,omitempty"`
	ClosedAt  *time.Time        `json:"closed_at,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	Items     []checkoutItemDTO `json:"items,omitempty"`
}

type checkoutItemDTO struct {
	ID                   uuid.UUID  `json:"id"`
	FolderID             uuid.UUID  `json:"folder_id"`
	InventoryID          uuid.UUID  `json:"inventory_id"`
	LotID                *uuid.UUID `json:"lot_id,omitempty"`
	ParentItemID         *uuid.UUID `json:"parent_item_id,omitempty"`
	Quantity             int        `json:"quantity"`
	UnitCostCents        int64      `json:"unit_cost_cents"`
	UnitExpenseCents     int64      `json:"unit_expense_cents"`
	Status               string     `json:"status"`
	SalePriceCents       *int64     `json:"sale_price_cents,omitempty"`
	ProfitCents          *int64     `json:"profit_cents,omitempty"`
	ProfitRate           *string    `json:"profit_rate,omitempty"`
	LedgerEntryID        *uuid.UUID `json:"ledger_entry_id,omitempty"`
	ConvertedInventoryID *uuid.UUID `json:"converted_inventory_id,omitempty"`
	ConvertedLotID       *uuid.UUID `json:"converted_lot_id,omitempty"`
	ResolvedAt           *time.Time `json:"resolved_at,omitempty"`
	Notes                *string    `json:"notes,omitempty"`
}

// ledgerResultDTO answers purchase and sale bookings.
type ledgerResultDTO struct {
	Entry     ledgerEntryDTO `json:"entry"`
	Inventory inventoryDTO   `json:"inventory"`
	Lot       *lotDTO        `json:"lot,omitempty"`
	Backdated bool           `json:"backdated"`
}

func newInventoryDTO(inv *models.Inventory, lots []models.Lot) inventoryDTO {
	out := inventoryDTO{
		ID:                         inv.ID,
		ItemID:                     inv.ItemID,
		Condition:                  inv.Condition,
		Quantity:                   inv.Quantity,
		AveragePurchasePriceCents:  inv.AveragePurchasePriceCents,
		TotalPurchased:             inv.TotalPurchased,
		TotalPurchaseCostCents:     inv.TotalPurchaseCostCents,
		TotalExpensesCents:         inv.TotalExpensesCents,
		AverageExpensePerUnitCents: inv.AverageExpensePerUnitCents,
		MarketPriceCents:           inv.MarketPriceCents,
		LastTransactionAt:          inv.LastTransactionAt,
	}
	for i := range lots {
		out.Lots = append(out.Lots, newLotDTO(&lots[i]))
	}
	return out
}

func newLotDTO(lot *models.Lot) lotDTO {
	return lotDTO{
		ID:               lot.ID,
		PurchaseEntryID:  lot.PurchaseEntryID,
		Label:            lot.Label,
		UnitCostCents:    lot.UnitCostCents,
		UnitExpenseCents: lot.UnitExpenseCents,
		InitialQty:       lot.InitialQty,
		RemainingQty:     lot.RemainingQty,
	}
}

func newLedgerEntryDTO(e *models.LedgerEntry) ledgerEntryDTO {
	return ledgerEntryDTO{
		ID:                   e.ID,
		InventoryID:          e.InventoryID,
		Type:                 string(e.Type),
		Quantity:             e.Quantity,
		UnitPriceCents:       e.UnitPriceCents,
		TotalPriceCents:      e.TotalPriceCents,
		ExpensesCents:        e.ExpensesCents,
		ProfitCents:          e.ProfitCents,
		ProfitRate:           e.ProfitRate.StringFixed(2),
		TransactionDate:      e.TransactionDate,
		LotID:                e.LotID,
		IsCheckoutOriginated: e.IsCheckoutOriginated,
		CheckoutItemID:       e.CheckoutItemID,
		Notes:                e.Notes,
	}
}

func newLedgerResultDTO(res *ledger.Result) ledgerResultDTO {
	out := ledgerResultDTO{
		Entry:     newLedgerEntryDTO(res.Entry),
		Inventory: newInventoryDTO(res.Inventory, nil),
		Backdated: res.Backdated,
	}
	if res.Lot != nil {
		lot := newLotDTO(res.Lot)
		out.Lot = &lot
	}
	return out
}

func newHistoryDTO(h *models.HistoryEntry) historyDTO {
	return historyDTO{
		ID:             h.ID,
		Action:         string(h.Action),
		QuantityChange: h.QuantityChange,
		QuantityBefore: h.QuantityBefore,
		QuantityAfter:  h.QuantityAfter,
		LedgerEntryID:  h.LedgerEntryID,
		CheckoutItemID: h.CheckoutItemID,
		IsModification: h.IsModification,
		Notes:          h.Notes,
		CreatedAt:      h.CreatedAt,
	}
}

func newFolderDTO(f *models.CheckoutFolder) folderDTO {
	out := folderDTO{
		ID:        f.ID,
		Name:      f.Name,
		Status:    string(f.Status),
		Notes:     f.Notes,
		ClosedAt:  f.ClosedAt,
		CreatedAt: f.CreatedAt,
	}
	for i := range f.Items {
		out.Items = append(out.Items, newCheckoutItemDTO(&f.Items[i]))
	}
	return out
}

func newCheckoutItemDTO(item *models.CheckoutItem) checkoutItemDTO {
	out := checkoutItemDTO{
		ID:                   item.ID,
		FolderID:             item.FolderID,
		InventoryID:          item.InventoryID,
		LotID:                item.LotID,
		ParentItemID:         item.ParentItemID,
		Quantity:             item.Quantity,
		UnitCostCents:        item.UnitCostCents,
		UnitExpenseCents:     item.UnitExpenseCents,
		Status:               string(item.Status),
		SalePriceCents:       item.SalePriceCents,
		ProfitCents:          item.ProfitCents,
		LedgerEntryID:        item.LedgerEntryID,
		ConvertedInventoryID: item.ConvertedInventoryID,
		ConvertedLotID:       item.ConvertedLotID,
		ResolvedAt:           item.ResolvedAt,
		Notes:                item.Notes,
	}
	if item.ProfitRate.Valid {
		rate := item.ProfitRate.Decimal.StringFixed(2)
		out.ProfitRate = &rate
	}
	return out
}
