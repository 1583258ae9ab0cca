package ledger

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/resale-ledger/internal/history"
	"github.com/angelmondragon/resale-ledger/internal/inventory"
	"github.com/angelmondragon/resale-ledger/pkg/db/models"
	"github.com/angelmondragon/resale-ledger/pkg/enums"
	pkgerrors "github.com/angelmondragon/resale-ledger/pkg/errors"
)

func (s *service) RecordPurchase(ctx context.Context, input PurchaseInput) (result *Result, err error) {
	defer func() { s.finish(ctx, "record_purchase", err) }()

	if err := validatePurchase(input); err != nil {
		return nil, err
	}
	policy, err := s.policyFor(ctx, input.ItemID)
	if err != nil {
		return nil, err
	}
	if err := validateLotDetails(policy, input); err != nil {
		return nil, err
	}

	err = s.withLock(ctx, inventory.LockKey(input.ItemID, input.Condition), func() error {
		return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			var txErr error
			result, txErr = s.purchaseInTx(ctx, tx, input, policy)
			return txErr
		})
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// RecordPurchaseTx takes the costing policy from the caller. Everything it
// reads goes through tx, so it never waits on a second pooled connection
// while tx holds one.
func (s *service) RecordPurchaseTx(ctx context.Context, tx *gorm.DB, input PurchaseInput, policy enums.CostingPolicy) (*Result, error) {
	if tx == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction required")
	}
	if !policy.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "costing policy required").
			WithDetails(map[string]any{"item_id": input.ItemID, "policy": policy})
	}
	if err := validatePurchase(input); err != nil {
		return nil, err
	}
	if err := validateLotDetails(policy, input); err != nil {
		return nil, err
	}
	return s.purchaseInTx(ctx, tx, input, policy)
}

func (s *service) purchaseInTx(ctx context.Context, tx *gorm.DB, input PurchaseInput, policy enums.CostingPolicy) (*Result, error) {
	invRepo := s.inventories.WithTx(tx)
	inv, err := invRepo.FindByKeyForUpdate(ctx, input.ItemID, input.Condition)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		inv = &models.Inventory{ItemID: input.ItemID, Condition: input.Condition}
		if err := invRepo.Create(ctx, inv); err != nil {
			return nil, storageError(err, "create inventory")
		}
	} else if err != nil {
		return nil, storageError(err, "load inventory")
	}

	at := s.transactionDate(input.TransactionDate)
	backdated := isBackdated(inv, at)
	expenses := input.ExpensesCents
	if input.Lot != nil && input.Lot.UnitExpenseCents != nil {
		expenses = *input.Lot.UnitExpenseCents * int64(input.Quantity)
	}

	entry := &models.LedgerEntry{
		InventoryID:          inv.ID,
		Type:                 enums.LedgerEntryTypePurchase,
		Quantity:             input.Quantity,
		UnitPriceCents:       input.UnitPriceCents,
		TotalPriceCents:      input.UnitPriceCents * int64(input.Quantity),
		ExpensesCents:        expenses,
		TransactionDate:      at,
		IsCheckoutOriginated: input.CheckoutItemID != nil,
		CheckoutItemID:       input.CheckoutItemID,
		Notes:                input.Notes,
	}

	var lot *models.Lot
	if policy == enums.CostingPolicyLot {
		lot = newLot(inv, input, expenses, at)
		if err := s.lots.WithTx(tx).Create(ctx, lot); err != nil {
			return nil, storageError(err, "create lot")
		}
		entry.LotID = &lot.ID
	}
	if err := s.entries.WithTx(tx).Create(ctx, entry); err != nil {
		return nil, storageError(err, "create ledger entry")
	}
	if lot != nil {
		lot.PurchaseEntryID = &entry.ID
		if err := s.lots.WithTx(tx).Save(ctx, lot); err != nil {
			return nil, storageError(err, "link lot to purchase")
		}
	}

	before := inv.Quantity
	if backdated {
		res, err := s.reconciler.Apply(ctx, tx, inv.ID)
		if err != nil {
			return nil, err
		}
		inv = res.After
		if lot != nil {
			lot = findLot(res.Lots, lot.ID, lot)
		}
	} else {
		inventory.ApplyPurchase(inv, input.Quantity, input.UnitPriceCents, expenses)
		advanceLastTransaction(inv, at)
		if err := invRepo.Save(ctx, inv); err != nil {
			return nil, storageError(err, "save inventory")
		}
	}

	if err := history.Record(ctx, s.history.WithTx(tx), history.Change{
		InventoryID:    inv.ID,
		Action:         enums.HistoryActionPurchase,
		Before:         before,
		After:          inv.Quantity,
		LedgerEntryID:  &entry.ID,
		CheckoutItemID: input.CheckoutItemID,
		IsModification: backdated,
		Notes:          input.Notes,
	}); err != nil {
		return nil, storageError(err, "append history")
	}
	if err := s.emit(ctx, tx, enums.EventPurchaseRecorded, enums.AggregateLedgerEntry, entry.ID, entryEvent(entry, inv, backdated)); err != nil {
		return nil, err
	}
	return &Result{Entry: entry, Inventory: inv, Lot: lot, Backdated: backdated}, nil
}

func newLot(inv *models.Inventory, input PurchaseInput, expenses int64, at time.Time) *models.Lot {
	unitExpense := inventory.RoundDiv(expenses, int64(input.Quantity))
	label := ""
	if input.Lot != nil {
		if input.Lot.UnitExpenseCents != nil {
			unitExpense = *input.Lot.UnitExpenseCents
		}
		label = strings.TrimSpace(input.Lot.Label)
	}
	if label == "" {
		label = "Lot " + at.Format("2006-01-02")
	}
	return &models.Lot{
		InventoryID:      inv.ID,
		Label:            label,
		UnitCostCents:    input.UnitPriceCents,
		UnitExpenseCents: unitExpense,
		InitialQty:       input.Quantity,
		RemainingQty:     input.Quantity,
	}
}

func findLot(lots []models.Lot, id uuid.UUID, fallback *models.Lot) *models.Lot {
	for i := range lots {
		if lots[i].ID == id {
			return &lots[i]
		}
	}
	return fallback
}

func validatePurchase(input PurchaseInput) error {
	details := map[string]any{}
	if input.ItemID == uuid.Nil {
		details["item_id"] = "required"
	}
	if strings.TrimSpace(input.Condition) == "" {
		details["condition"] = "required"
	}
	if input.Quantity <= 0 {
		details["quantity"] = "must be greater than zero"
	}
	if input.UnitPriceCents < 0 {
		details["unit_price_cents"] = "must not be negative"
	}
	if input.ExpensesCents < 0 {
		details["expenses_cents"] = "must not be negative"
	}
	if input.Lot != nil && input.Lot.UnitExpenseCents != nil && *input.Lot.UnitExpenseCents < 0 {
		details["lot.unit_expense_cents"] = "must not be negative"
	}
	if len(details) > 0 {
		return pkgerrors.Invalid("invalid purchase", details)
	}
	return nil
}

func validateLotDetails(policy enums.CostingPolicy, input PurchaseInput) error {
	if input.Lot == nil {
		return nil
	}
	if policy != enums.CostingPolicyLot {
		return pkgerrors.Invalid("lot details not allowed for average-costed items", map[string]any{
			"item_id": input.ItemID,
		})
	}
	if ue := input.Lot.UnitExpenseCents; ue != nil && input.ExpensesCents != 0 && input.ExpensesCents != *ue*int64(input.Quantity) {
		return pkgerrors.Invalid("expenses do not match the lot unit expense", map[string]any{
			"expenses_cents":         input.ExpensesCents,
			"lot.unit_expense_cents": *ue,
			"quantity":               input.Quantity,
		})
	}
	return nil
}
