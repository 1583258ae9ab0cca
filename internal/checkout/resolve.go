package checkout

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/resale-ledger/internal/history"
	"github.com/angelmondragon/resale-ledger/internal/inventory"
	"github.com/angelmondragon/resale-ledger/internal/ledger"
	"github.com/angelmondragon/resale-ledger/pkg/db/models"
	"github.com/angelmondragon/resale-ledger/pkg/enums"
	pkgerrors "github.com/angelmondragon/resale-ledger/pkg/errors"
)

func (s *service) ReturnCheckoutItem(ctx context.Context, id uuid.UUID, qty *int, notes *string) (result *models.CheckoutItem, err error) {
	defer func() { s.finish(ctx, "return_checkout_item", err) }()

	item, source, err := s.prepare(ctx, id)
	if err != nil {
		return nil, err
	}
	ctx = s.logg.WithInventoryID(ctx, source.ID.String())

	err = s.withLock(ctx, []string{inventory.LockKey(source.ItemID, source.Condition)}, func() error {
		return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			repo := s.repo.WithTx(tx)
			locked, err := s.lockPending(ctx, repo, item.ID)
			if err != nil {
				return err
			}
			q, err := resolveQuantity(locked, qty)
			if err != nil {
				return err
			}

			invRepo := s.inventories.WithTx(tx)
			inv, err := invRepo.FindByIDForUpdate(ctx, locked.InventoryID)
			if err != nil {
				return inventory.MapLoadError(err, locked.InventoryID)
			}
			before := inv.Quantity
			inv.Quantity += q
			if err := invRepo.Save(ctx, inv); err != nil {
				return storageError(err, "save inventory")
			}
			if err := s.adjustLot(ctx, tx, locked.LotID, q); err != nil {
				return err
			}

			resolved, err := s.resolve(ctx, repo, locked, q, enums.CheckoutItemStatusReturned, notes)
			if err != nil {
				return err
			}
			if err := repo.SaveItem(ctx, resolved); err != nil {
				return storageError(err, "save checkout item")
			}
			if err := s.recordHistory(ctx, tx, history.Change{
				InventoryID:    inv.ID,
				Action:         enums.HistoryActionCheckoutReturn,
				Before:         before,
				After:          inv.Quantity,
				CheckoutItemID: &resolved.ID,
				Notes:          notes,
			}); err != nil {
				return err
			}
			if err := s.emit(ctx, tx, enums.EventCheckoutItemResolved, enums.AggregateCheckoutItem, resolved.ID, itemEvent(resolved, enums.CheckoutItemStatusPending)); err != nil {
				return err
			}
			result = resolved
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// SellCheckoutItem books a sale of held units. The source aggregate already
// gave the units up at withdrawal, so only a ledger entry is written.
func (s *service) SellCheckoutItem(ctx context.Context, id uuid.UUID, input SellInput) (result *models.LedgerEntry, err error) {
	defer func() { s.finish(ctx, "sell_checkout_item", err) }()

	if input.SalePriceCents < 0 {
		return nil, pkgerrors.Invalid("invalid checkout sale", map[string]any{"sale_price_cents": "must not be negative"})
	}
	item, source, err := s.prepare(ctx, id)
	if err != nil {
		return nil, err
	}
	ctx = s.logg.WithInventoryID(ctx, source.ID.String())

	err = s.withLock(ctx, []string{inventory.LockKey(source.ItemID, source.Condition)}, func() error {
		return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			repo := s.repo.WithTx(tx)
			locked, err := s.lockPending(ctx, repo, item.ID)
			if err != nil {
				return err
			}
			q, err := resolveQuantity(locked, input.Quantity)
			if err != nil {
				return err
			}
			inv, err := s.inventories.WithTx(tx).FindByIDForUpdate(ctx, locked.InventoryID)
			if err != nil {
				return inventory.MapLoadError(err, locked.InventoryID)
			}

			resolved, err := s.resolve(ctx, repo, locked, q, enums.CheckoutItemStatusSold, input.Notes)
			if err != nil {
				return err
			}
			figures := inventory.ComputeSale(inventory.Basis{
				UnitCostCents:    resolved.UnitCostCents,
				UnitExpenseCents: resolved.UnitExpenseCents,
			}, input.SalePriceCents, q)
			soldAt := input.SoldAt
			if soldAt.IsZero() {
				soldAt = s.now()
			}
			entry := &models.LedgerEntry{
				InventoryID:          resolved.InventoryID,
				Type:                 enums.LedgerEntryTypeSale,
				Quantity:             q,
				UnitPriceCents:       input.SalePriceCents,
				TotalPriceCents:      input.SalePriceCents * int64(q),
				ExpensesCents:        figures.ExpensesCents,
				ProfitCents:          figures.ProfitCents,
				ProfitRate:           figures.ProfitRate,
				TransactionDate:      soldAt.UTC(),
				LotID:                resolved.LotID,
				IsCheckoutOriginated: true,
				CheckoutItemID:       &resolved.ID,
				Notes:                input.Notes,
			}
			if err := s.entries.WithTx(tx).Create(ctx, entry); err != nil {
				return storageError(err, "create ledger entry")
			}

			price := input.SalePriceCents
			profit := figures.ProfitCents
			resolved.SalePriceCents = &price
			resolved.ProfitCents = &profit
			resolved.ProfitRate = decimal.NewNullDecimal(figures.ProfitRate)
			resolved.LedgerEntryID = &entry.ID
			if err := repo.SaveItem(ctx, resolved); err != nil {
				return storageError(err, "save checkout item")
			}
			if err := s.recordHistory(ctx, tx, history.Change{
				InventoryID:    inv.ID,
				Action:         enums.HistoryActionCheckoutSell,
				Before:         inv.Quantity,
				After:          inv.Quantity,
				LedgerEntryID:  &entry.ID,
				CheckoutItemID: &resolved.ID,
				Notes:          input.Notes,
			}); err != nil {
				return err
			}
			if err := s.emit(ctx, tx, enums.EventCheckoutItemResolved, enums.AggregateCheckoutItem, resolved.ID, itemEvent(resolved, enums.CheckoutItemStatusPending)); err != nil {
				return err
			}
			result = entry
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ConvertCheckoutItem moves held units into another condition of the same
// item. The target aggregate receives a purchase at the snapshotted cost.
func (s *service) ConvertCheckoutItem(ctx context.Context, id uuid.UUID, input ConvertInput) (result *models.CheckoutItem, err error) {
	defer func() { s.finish(ctx, "convert_checkout_item", err) }()

	target := inventory.NormalizeCondition(input.TargetCondition)
	if target == "" {
		return nil, pkgerrors.Invalid("invalid conversion", map[string]any{"target_condition": "required"})
	}
	item, source, err := s.prepare(ctx, id)
	if err != nil {
		return nil, err
	}
	if target == source.Condition {
		return nil, pkgerrors.Invalid("target condition must differ from the source condition", map[string]any{
			"target_condition": target,
		})
	}
	policy, err := s.policyFor(ctx, source.ItemID)
	if err != nil {
		return nil, err
	}
	ctx = s.logg.WithInventoryID(ctx, source.ID.String())

	keys := []string{
		inventory.LockKey(source.ItemID, source.Condition),
		inventory.LockKey(source.ItemID, target),
	}
	err = s.withLock(ctx, keys, func() error {
		return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			repo := s.repo.WithTx(tx)
			locked, err := s.lockPending(ctx, repo, item.ID)
			if err != nil {
				return err
			}
			q, err := resolveQuantity(locked, input.Quantity)
			if err != nil {
				return err
			}
			inv, err := s.inventories.WithTx(tx).FindByIDForUpdate(ctx, locked.InventoryID)
			if err != nil {
				return inventory.MapLoadError(err, locked.InventoryID)
			}

			resolved, err := s.resolve(ctx, repo, locked, q, enums.CheckoutItemStatusConverted, input.Notes)
			if err != nil {
				return err
			}
			purchase := ledger.PurchaseInput{
				ItemID:          inv.ItemID,
				Condition:       target,
				Quantity:        q,
				UnitPriceCents:  resolved.UnitCostCents,
				ExpensesCents:   resolved.UnitExpenseCents * int64(q),
				TransactionDate: s.now().UTC(),
				Notes:           input.Notes,
				CheckoutItemID:  &resolved.ID,
			}
			if policy == enums.CostingPolicyLot {
				unitExpense := resolved.UnitExpenseCents
				purchase.Lot = &ledger.LotDetails{
					Label:            "Converted from " + inv.Condition,
					UnitExpenseCents: &unitExpense,
				}
			}
			booked, err := s.ledger.RecordPurchaseTx(ctx, tx, purchase, policy)
			if err != nil {
				return err
			}

			resolved.LedgerEntryID = &booked.Entry.ID
			resolved.ConvertedInventoryID = &booked.Inventory.ID
			if booked.Lot != nil {
				lotID := booked.Lot.ID
				resolved.ConvertedLotID = &lotID
			}
			if err := repo.SaveItem(ctx, resolved); err != nil {
				return storageError(err, "save checkout item")
			}
			note := "converted to " + target
			if err := s.recordHistory(ctx, tx, history.Change{
				InventoryID:    inv.ID,
				Action:         enums.HistoryActionCheckoutConvert,
				Before:         inv.Quantity,
				After:          inv.Quantity,
				CheckoutItemID: &resolved.ID,
				Notes:          &note,
			}); err != nil {
				return err
			}
			if err := s.emit(ctx, tx, enums.EventCheckoutItemResolved, enums.AggregateCheckoutItem, resolved.ID, itemEvent(resolved, enums.CheckoutItemStatusPending)); err != nil {
				return err
			}
			result = resolved
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// prepare reads the item and its source aggregate without locks so the
// caller can derive the lock keys.
func (s *service) prepare(ctx context.Context, id uuid.UUID) (*models.CheckoutItem, *models.Inventory, error) {
	if id == uuid.Nil {
		return nil, nil, pkgerrors.Invalid("checkout item id required", nil)
	}
	item, err := s.GetItem(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	source, err := s.loadInventory(ctx, item.InventoryID)
	if err != nil {
		return nil, nil, err
	}
	return item, source, nil
}

// lockPending re-reads the item under lock and checks it can still be resolved.
func (s *service) lockPending(ctx context.Context, repo Repository, id uuid.UUID) (*models.CheckoutItem, error) {
	item, err := repo.FindItemForUpdate(ctx, id)
	if err != nil {
		return nil, mapItemError(err, id)
	}
	if item.Status.IsTerminal() {
		return nil, pkgerrors.Conflict(pkgerrors.ReasonAlreadyResolved, "checkout item already resolved", map[string]any{
			"checkout_item_id": item.ID,
			"status":           item.Status,
		})
	}
	// the folder row lock orders this against CloseFolder's pending count
	folder, err := repo.FindFolderForUpdate(ctx, item.FolderID)
	if err != nil {
		return nil, mapFolderError(err, item.FolderID)
	}
	if !folder.IsOpen() {
		return nil, folderClosed(folder)
	}
	return item, nil
}

// resolve moves qty units of a pending item to status. A partial resolution
// keeps the remainder pending on the original row and puts the resolved
// units on a new child row with the same cost snapshot. The caller saves the
// returned row.
func (s *service) resolve(ctx context.Context, repo Repository, item *models.CheckoutItem, qty int, status enums.CheckoutItemStatus, notes *string) (*models.CheckoutItem, error) {
	resolvedAt := s.now().UTC()
	if qty == item.Quantity {
		item.Status = status
		item.ResolvedAt = &resolvedAt
		if notes != nil {
			item.Notes = notes
		}
		return item, nil
	}

	item.Quantity -= qty
	if err := repo.SaveItem(ctx, item); err != nil {
		return nil, storageError(err, "save checkout item")
	}
	parentID := item.ID
	child := &models.CheckoutItem{
		FolderID:         item.FolderID,
		InventoryID:      item.InventoryID,
		LotID:            item.LotID,
		ParentItemID:     &parentID,
		Quantity:         qty,
		UnitCostCents:    item.UnitCostCents,
		UnitExpenseCents: item.UnitExpenseCents,
		Status:           status,
		ResolvedAt:       &resolvedAt,
		Notes:            notes,
	}
	if err := repo.CreateItem(ctx, child); err != nil {
		return nil, storageError(err, "split checkout item")
	}
	return child, nil
}

// adjustLot moves delta units into (positive) or out of (negative) a lot.
func (s *service) adjustLot(ctx context.Context, tx *gorm.DB, lotID *uuid.UUID, delta int) error {
	if lotID == nil {
		return nil
	}
	lots := s.lots.WithTx(tx)
	lot, err := lots.FindByIDForUpdate(ctx, *lotID)
	if err != nil {
		return storageError(err, "load lot")
	}
	lot.RemainingQty += delta
	if err := lots.Save(ctx, lot); err != nil {
		return storageError(err, "save lot")
	}
	return nil
}

func resolveQuantity(item *models.CheckoutItem, qty *int) (int, error) {
	if qty == nil {
		return item.Quantity, nil
	}
	if *qty <= 0 || *qty > item.Quantity {
		return 0, pkgerrors.Invalid("quantity must be between 1 and the held quantity", map[string]any{
			"requested": *qty,
			"held":      item.Quantity,
		})
	}
	return *qty, nil
}
