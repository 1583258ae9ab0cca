package ledger

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/resale-ledger/internal/history"
	"github.com/angelmondragon/resale-ledger/internal/inventory"
	"github.com/angelmondragon/resale-ledger/pkg/db/models"
	"github.com/angelmondragon/resale-ledger/pkg/enums"
	pkgerrors "github.com/angelmondragon/resale-ledger/pkg/errors"
)

func (s *service) RecordSale(ctx context.Context, input SaleInput) (result *Result, err error) {
	defer func() { s.finish(ctx, "record_sale", err) }()

	if err := validateSale(input); err != nil {
		return nil, err
	}
	current, err := s.loadInventory(ctx, input.InventoryID)
	if err != nil {
		return nil, err
	}
	policy, err := s.policyFor(ctx, current.ItemID)
	if err != nil {
		return nil, err
	}
	ctx = s.logg.WithInventoryID(ctx, current.ID.String())

	err = s.withLock(ctx, inventory.LockKey(current.ItemID, current.Condition), func() error {
		return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			var txErr error
			result, txErr = s.saleInTx(ctx, tx, input, policy)
			return txErr
		})
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *service) saleInTx(ctx context.Context, tx *gorm.DB, input SaleInput, policy enums.CostingPolicy) (*Result, error) {
	invRepo := s.inventories.WithTx(tx)
	inv, err := invRepo.FindByIDForUpdate(ctx, input.InventoryID)
	if err != nil {
		return nil, inventory.MapLoadError(err, input.InventoryID)
	}
	if inv.Quantity < input.Quantity {
		return nil, inventory.InsufficientStock(inv, input.Quantity)
	}
	strategy, err := inventory.NewStrategy(policy, s.lots.WithTx(tx))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "select costing strategy")
	}
	basis, err := strategy.CostBasis(ctx, inv, input.Quantity, input.LotID)
	if err != nil {
		return nil, err
	}

	at := s.transactionDate(input.TransactionDate)
	backdated := isBackdated(inv, at)
	figures := inventory.ComputeSale(basis, input.UnitPriceCents, input.Quantity)
	entry := &models.LedgerEntry{
		InventoryID:     inv.ID,
		Type:            enums.LedgerEntryTypeSale,
		Quantity:        input.Quantity,
		UnitPriceCents:  input.UnitPriceCents,
		TotalPriceCents: input.UnitPriceCents * int64(input.Quantity),
		ExpensesCents:   figures.ExpensesCents,
		ProfitCents:     figures.ProfitCents,
		ProfitRate:      figures.ProfitRate,
		TransactionDate: at,
		LotID:           basis.LotID(),
		Notes:           input.Notes,
	}
	entries := s.entries.WithTx(tx)
	if err := entries.Create(ctx, entry); err != nil {
		return nil, storageError(err, "create ledger entry")
	}

	before := inv.Quantity
	lot := basis.Lot
	if backdated {
		res, err := s.reconciler.Apply(ctx, tx, inv.ID, entry.ID)
		if err != nil {
			return nil, err
		}
		inv = res.After
		if lot != nil {
			lot = findLot(res.Lots, lot.ID, lot)
		}
		if entry, err = entries.FindByID(ctx, entry.ID); err != nil {
			return nil, storageError(err, "reload ledger entry")
		}
	} else {
		if err := inventory.ApplySale(inv, input.Quantity); err != nil {
			return nil, err
		}
		if lot != nil {
			lot.RemainingQty -= input.Quantity
			if err := s.lots.WithTx(tx).Save(ctx, lot); err != nil {
				return nil, storageError(err, "save lot")
			}
		}
		advanceLastTransaction(inv, at)
		if err := invRepo.Save(ctx, inv); err != nil {
			return nil, storageError(err, "save inventory")
		}
	}

	if err := history.Record(ctx, s.history.WithTx(tx), history.Change{
		InventoryID:    inv.ID,
		Action:         enums.HistoryActionSale,
		Before:         before,
		After:          inv.Quantity,
		LedgerEntryID:  &entry.ID,
		IsModification: backdated,
		Notes:          input.Notes,
	}); err != nil {
		return nil, storageError(err, "append history")
	}
	if err := s.emit(ctx, tx, enums.EventSaleRecorded, enums.AggregateLedgerEntry, entry.ID, entryEvent(entry, inv, backdated)); err != nil {
		return nil, err
	}
	return &Result{Entry: entry, Inventory: inv, Lot: lot, Backdated: backdated}, nil
}

func validateSale(input SaleInput) error {
	details := map[string]any{}
	if input.InventoryID == uuid.Nil {
		details["inventory_id"] = "required"
	}
	if input.Quantity <= 0 {
		details["quantity"] = "must be greater than zero"
	}
	if input.UnitPriceCents < 0 {
		details["unit_price_cents"] = "must not be negative"
	}
	if len(details) > 0 {
		return pkgerrors.Invalid("invalid sale", details)
	}
	return nil
}
