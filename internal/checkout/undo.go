package checkout

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/resale-ledger/internal/history"
	"github.com/angelmondragon/resale-ledger/internal/inventory"
	"github.com/angelmondragon/resale-ledger/pkg/db/models"
	"github.com/angelmondragon/resale-ledger/pkg/enums"
	pkgerrors "github.com/angelmondragon/resale-ledger/pkg/errors"
)

// UndoCheckoutItem puts a resolved item back to pending. Split siblings are
// not merged back.
func (s *service) UndoCheckoutItem(ctx context.Context, id uuid.UUID) (result *models.CheckoutItem, err error) {
	defer func() { s.finish(ctx, "undo_checkout_item", err) }()

	item, source, err := s.prepare(ctx, id)
	if err != nil {
		return nil, err
	}
	ctx = s.logg.WithCheckoutItemID(s.logg.WithInventoryID(ctx, source.ID.String()), item.ID.String())

	keys := []string{inventory.LockKey(source.ItemID, source.Condition)}
	if item.Status == enums.CheckoutItemStatusConverted && item.ConvertedInventoryID != nil {
		target, err := s.loadInventory(ctx, *item.ConvertedInventoryID)
		if err != nil {
			return nil, err
		}
		keys = append(keys, inventory.LockKey(target.ItemID, target.Condition))
	}

	err = s.withLock(ctx, keys, func() error {
		return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			repo := s.repo.WithTx(tx)
			locked, err := repo.FindItemForUpdate(ctx, id)
			if err != nil {
				return mapItemError(err, id)
			}
			folder, err := repo.FindFolderForUpdate(ctx, locked.FolderID)
			if err != nil {
				return mapFolderError(err, locked.FolderID)
			}
			if !folder.IsOpen() {
				return folderClosed(folder)
			}
			if !locked.Status.IsTerminal() {
				return pkgerrors.Conflict(pkgerrors.ReasonInvalidTransition, "only resolved checkout items can be undone", map[string]any{
					"checkout_item_id": locked.ID,
					"status":           locked.Status,
				})
			}

			invRepo := s.inventories.WithTx(tx)
			inv, err := invRepo.FindByIDForUpdate(ctx, locked.InventoryID)
			if err != nil {
				return inventory.MapLoadError(err, locked.InventoryID)
			}
			before := inv.Quantity
			previous := locked.Status

			switch previous {
			case enums.CheckoutItemStatusReturned:
				err = s.undoReturn(ctx, tx, locked, inv)
			case enums.CheckoutItemStatusSold:
				err = s.undoSale(ctx, tx, locked)
			case enums.CheckoutItemStatusConverted:
				err = s.undoConversion(ctx, tx, locked)
			}
			if err != nil {
				return err
			}

			locked.Status = enums.CheckoutItemStatusPending
			locked.ResolvedAt = nil
			if err := repo.SaveItem(ctx, locked); err != nil {
				return storageError(err, "save checkout item")
			}
			note := "undo " + string(previous)
			if err := s.recordHistory(ctx, tx, history.Change{
				InventoryID:    inv.ID,
				Action:         enums.HistoryActionCheckoutUndo,
				Before:         before,
				After:          inv.Quantity,
				CheckoutItemID: &locked.ID,
				IsModification: true,
				Notes:          &note,
			}); err != nil {
				return err
			}
			if err := s.emit(ctx, tx, enums.EventCheckoutItemUndone, enums.AggregateCheckoutItem, locked.ID, itemEvent(locked, previous)); err != nil {
				return err
			}
			result = locked
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// undoReturn takes the returned units off the shelf again, provided they are
// still there.
func (s *service) undoReturn(ctx context.Context, tx *gorm.DB, item *models.CheckoutItem, inv *models.Inventory) error {
	if inv.Quantity < item.Quantity {
		return insufficientForUndo(item, inv.Quantity)
	}
	lots := s.lots.WithTx(tx)
	var lot *models.Lot
	if item.LotID != nil {
		found, err := lots.FindByIDForUpdate(ctx, *item.LotID)
		if err != nil {
			return storageError(err, "load lot")
		}
		if found.RemainingQty < item.Quantity {
			return insufficientForUndo(item, found.RemainingQty)
		}
		lot = found
	}

	inv.Quantity -= item.Quantity
	if err := s.inventories.WithTx(tx).Save(ctx, inv); err != nil {
		return storageError(err, "save inventory")
	}
	if lot != nil {
		lot.RemainingQty -= item.Quantity
		if err := lots.Save(ctx, lot); err != nil {
			return storageError(err, "save lot")
		}
	}
	return nil
}

// undoSale removes the checkout sale entry and its audit rows. The source
// aggregate is untouched since sold units were already off the shelf.
func (s *service) undoSale(ctx context.Context, tx *gorm.DB, item *models.CheckoutItem) error {
	if err := s.removeEntry(ctx, tx, item.LedgerEntryID); err != nil {
		return err
	}
	item.SalePriceCents = nil
	item.ProfitCents = nil
	item.ProfitRate.Valid = false
	item.LedgerEntryID = nil
	return nil
}

// undoConversion deletes the purchase booked on the target aggregate and
// replays it. The replay fails when converted units have since been sold or
// withdrawn from the target.
func (s *service) undoConversion(ctx context.Context, tx *gorm.DB, item *models.CheckoutItem) error {
	if err := s.removeEntry(ctx, tx, item.LedgerEntryID); err != nil {
		return err
	}
	if item.ConvertedInventoryID != nil {
		if _, err := s.reconciler.Apply(ctx, tx, *item.ConvertedInventoryID); err != nil {
			if pkgerrors.HasReason(err, pkgerrors.ReasonWouldGoNegative) {
				return pkgerrors.Wrap(pkgerrors.CodeStateConflict, err, "converted units already left the target inventory").
					WithReason(pkgerrors.ReasonInsufficientStockForUndo).
					WithDetails(map[string]any{
						"checkout_item_id":       item.ID,
						"converted_inventory_id": *item.ConvertedInventoryID,
						"requested":              item.Quantity,
					})
			}
			return err
		}
	}
	item.LedgerEntryID = nil
	item.ConvertedInventoryID = nil
	item.ConvertedLotID = nil
	return nil
}

func (s *service) removeEntry(ctx context.Context, tx *gorm.DB, entryID *uuid.UUID) error {
	if entryID == nil {
		return nil
	}
	if _, err := s.history.WithTx(tx).DeleteByLedgerEntry(ctx, *entryID); err != nil {
		return storageError(err, "delete history rows")
	}
	if err := s.entries.WithTx(tx).Delete(ctx, *entryID); err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return storageError(err, "delete ledger entry")
	}
	return nil
}

func insufficientForUndo(item *models.CheckoutItem, available int) error {
	return pkgerrors.Conflict(pkgerrors.ReasonInsufficientStockForUndo, "not enough stock left to undo the return", map[string]any{
		"checkout_item_id": item.ID,
		"available":        available,
		"requested":        item.Quantity,
	})
}
