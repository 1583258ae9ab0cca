package ledger

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/resale-ledger/internal/history"
	"github.com/angelmondragon/resale-ledger/internal/inventory"
	"github.com/angelmondragon/resale-ledger/internal/reconcile"
	"github.com/angelmondragon/resale-ledger/pkg/db/models"
	"github.com/angelmondragon/resale-ledger/pkg/enums"
	pkgerrors "github.com/angelmondragon/resale-ledger/pkg/errors"
	"github.com/angelmondragon/resale-ledger/pkg/outbox/payloads"
)

func (s *service) EditLedgerEntry(ctx context.Context, id uuid.UUID, input EditInput) (result *models.Inventory, err error) {
	defer func() { s.finish(ctx, "edit_ledger_entry", err) }()

	if err := validateEdit(id, input); err != nil {
		return nil, err
	}
	entry, err := s.loadEntry(ctx, id)
	if err != nil {
		return nil, err
	}
	if entry.IsCheckoutOriginated {
		return nil, checkoutManaged(entry)
	}
	current, err := s.loadInventory(ctx, entry.InventoryID)
	if err != nil {
		return nil, err
	}
	ctx = s.logg.WithInventoryID(ctx, current.ID.String())

	err = s.withLock(ctx, inventory.LockKey(current.ItemID, current.Condition), func() error {
		return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			entries := s.entries.WithTx(tx)
			locked, err := entries.FindByIDForUpdate(ctx, id)
			if err != nil {
				return mapEntryError(err, id)
			}
			if locked.IsCheckoutOriginated {
				return checkoutManaged(locked)
			}
			input.apply(locked)
			if err := entries.Save(ctx, locked); err != nil {
				return storageError(err, "save ledger entry")
			}

			res, err := s.reconciler.Apply(ctx, tx, locked.InventoryID, locked.ID)
			if err != nil {
				return err
			}
			if err := s.recordCorrection(ctx, tx, res, enums.HistoryActionLedgerEdit, &locked.ID, nil); err != nil {
				return err
			}
			if err := s.emit(ctx, tx, enums.EventLedgerEdited, enums.AggregateLedgerEntry, locked.ID, payloads.LedgerEntryChangedEvent{
				EntryID:   locked.ID,
				Inventory: inventory.Snapshot(res.After),
			}); err != nil {
				return err
			}
			result = res.After
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *service) DeleteLedgerEntry(ctx context.Context, id uuid.UUID) (result *models.Inventory, err error) {
	defer func() { s.finish(ctx, "delete_ledger_entry", err) }()

	if id == uuid.Nil {
		return nil, pkgerrors.Invalid("ledger entry id required", nil)
	}
	entry, err := s.loadEntry(ctx, id)
	if err != nil {
		return nil, err
	}
	if entry.IsCheckoutOriginated {
		return nil, checkoutManaged(entry)
	}
	current, err := s.loadInventory(ctx, entry.InventoryID)
	if err != nil {
		return nil, err
	}
	ctx = s.logg.WithInventoryID(ctx, current.ID.String())

	err = s.withLock(ctx, inventory.LockKey(current.ItemID, current.Condition), func() error {
		return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			entries := s.entries.WithTx(tx)
			locked, err := entries.FindByIDForUpdate(ctx, id)
			if err != nil {
				return mapEntryError(err, id)
			}
			if locked.IsCheckoutOriginated {
				return checkoutManaged(locked)
			}
			if err := entries.Delete(ctx, id); err != nil {
				return mapEntryError(err, id)
			}

			res, err := s.reconciler.Apply(ctx, tx, locked.InventoryID)
			if err != nil {
				return err
			}
			note := fmt.Sprintf("deleted %s entry %s", locked.Type, locked.ID)
			if err := s.recordCorrection(ctx, tx, res, enums.HistoryActionLedgerDelete, nil, &note); err != nil {
				return err
			}
			if err := s.emit(ctx, tx, enums.EventLedgerDeleted, enums.AggregateLedgerEntry, locked.ID, payloads.LedgerEntryChangedEvent{
				EntryID:   locked.ID,
				Deleted:   true,
				Inventory: inventory.Snapshot(res.After),
			}); err != nil {
				return err
			}
			result = res.After
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Reconcile replays an aggregate on demand and stores the result.
func (s *service) Reconcile(ctx context.Context, inventoryID uuid.UUID) (result *reconcile.Result, err error) {
	defer func() { s.finish(ctx, "reconcile", err) }()

	current, err := s.loadInventory(ctx, inventoryID)
	if err != nil {
		return nil, err
	}
	ctx = s.logg.WithInventoryID(ctx, current.ID.String())

	err = s.withLock(ctx, inventory.LockKey(current.ItemID, current.Condition), func() error {
		return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			res, err := s.reconciler.Apply(ctx, tx, inventoryID)
			if err != nil {
				return err
			}
			note := fmt.Sprintf("manual reconcile restated %d sales", res.RestatedSales)
			if err := s.recordCorrection(ctx, tx, res, enums.HistoryActionReconcile, nil, &note); err != nil {
				return err
			}
			if err := s.emit(ctx, tx, enums.EventInventoryReconciled, enums.AggregateInventory, inventoryID, payloads.InventoryReconciledEvent{
				Inventory:      inventory.Snapshot(res.After),
				QuantityBefore: res.Before.Quantity,
				RestatedSales:  res.RestatedSales,
				ReconciledAt:   s.now().UTC(),
			}); err != nil {
				return err
			}
			result = res
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if !reconcile.SameFigures(result.Before, *result.After) {
		s.logg.Info(s.logg.WithFields(ctx, map[string]any{
			"quantity_before": result.Before.Quantity,
			"quantity_after":  result.After.Quantity,
			"restated_sales":  result.RestatedSales,
		}), "inventory drift corrected")
	}
	return result, nil
}

// SetMarketPrice stores the externally supplied market price. A nil price
// clears it.
func (s *service) SetMarketPrice(ctx context.Context, inventoryID uuid.UUID, marketPriceCents *int64) (result *models.Inventory, err error) {
	defer func() { s.finish(ctx, "set_market_price", err) }()

	if marketPriceCents != nil && *marketPriceCents < 0 {
		return nil, pkgerrors.Invalid("market price must not be negative", nil)
	}
	current, err := s.loadInventory(ctx, inventoryID)
	if err != nil {
		return nil, err
	}

	err = s.withLock(ctx, inventory.LockKey(current.ItemID, current.Condition), func() error {
		return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			invRepo := s.inventories.WithTx(tx)
			inv, err := invRepo.FindByIDForUpdate(ctx, inventoryID)
			if err != nil {
				return inventory.MapLoadError(err, inventoryID)
			}
			inv.MarketPriceCents = marketPriceCents
			if err := invRepo.Save(ctx, inv); err != nil {
				return storageError(err, "save inventory")
			}
			if err := s.emit(ctx, tx, enums.EventMarketPriceUpdated, enums.AggregateInventory, inv.ID, payloads.MarketPriceUpdatedEvent{
				InventoryID:      inv.ID,
				MarketPriceCents: marketPriceCents,
			}); err != nil {
				return err
			}
			result = inv
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *service) recordCorrection(ctx context.Context, tx *gorm.DB, res *reconcile.Result, action enums.HistoryAction, entryID *uuid.UUID, notes *string) error {
	if err := history.Record(ctx, s.history.WithTx(tx), history.Change{
		InventoryID:    res.After.ID,
		Action:         action,
		Before:         res.Before.Quantity,
		After:          res.After.Quantity,
		LedgerEntryID:  entryID,
		IsModification: true,
		Notes:          notes,
	}); err != nil {
		return storageError(err, "append history")
	}
	return nil
}

func (in EditInput) apply(entry *models.LedgerEntry) {
	if in.Quantity != nil {
		entry.Quantity = *in.Quantity
	}
	if in.UnitPriceCents != nil {
		entry.UnitPriceCents = *in.UnitPriceCents
	}
	if in.ExpensesCents != nil && entry.IsPurchase() {
		entry.ExpensesCents = *in.ExpensesCents
	}
	if in.TransactionDate != nil {
		entry.TransactionDate = in.TransactionDate.UTC()
	}
	if in.Notes != nil {
		entry.Notes = in.Notes
	}
	entry.TotalPriceCents = entry.UnitPriceCents * int64(entry.Quantity)
}

func validateEdit(id uuid.UUID, input EditInput) error {
	details := map[string]any{}
	if id == uuid.Nil {
		details["id"] = "required"
	}
	if input.empty() {
		details["fields"] = "at least one field must be provided"
	}
	if input.Quantity != nil && *input.Quantity <= 0 {
		details["quantity"] = "must be greater than zero"
	}
	if input.UnitPriceCents != nil && *input.UnitPriceCents < 0 {
		details["unit_price_cents"] = "must not be negative"
	}
	if input.ExpensesCents != nil && *input.ExpensesCents < 0 {
		details["expenses_cents"] = "must not be negative"
	}
	if input.TransactionDate != nil && input.TransactionDate.IsZero() {
		details["transaction_date"] = "must be a valid date"
	}
	if len(details) > 0 {
		return pkgerrors.Invalid("invalid ledger edit", details)
	}
	return nil
}
