package checkout

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/angelmondragon/resale-ledger/internal/history"
	"github.com/angelmondragon/resale-ledger/internal/inventory"
	"github.com/angelmondragon/resale-ledger/pkg/db/models"
	"github.com/angelmondragon/resale-ledger/pkg/enums"
	pkgerrors "github.com/angelmondragon/resale-ledger/pkg/errors"
	"github.com/angelmondragon/resale-ledger/pkg/metrics"
)

// withdrawal is the committed stock decrement of step one, kept so it can be
// undone if the hold cannot be recorded.
type withdrawal struct {
	inventoryID uuid.UUID
	lotID       *uuid.UUID
	quantity    int
	basis       inventory.Basis
	before      int
	after       int
}

// WithdrawToFolder takes units off the shelf into a folder. The decrement and
// the hold are two commits; a failure after the first is compensated.
func (s *service) WithdrawToFolder(ctx context.Context, input WithdrawInput) (result *models.CheckoutItem, err error) {
	defer func() { s.finish(ctx, "withdraw_to_folder", err) }()

	if err := validateWithdraw(input); err != nil {
		return nil, err
	}
	folder, err := s.loadFolder(ctx, input.FolderID)
	if err != nil {
		return nil, err
	}
	if !folder.IsOpen() {
		return nil, folderClosed(folder)
	}
	current, err := s.loadInventory(ctx, input.InventoryID)
	if err != nil {
		return nil, err
	}
	policy, err := s.policyFor(ctx, current.ItemID)
	if err != nil {
		return nil, err
	}
	ctx = s.logg.WithInventoryID(s.logg.WithFolderID(ctx, folder.ID.String()), current.ID.String())

	err = s.withLock(ctx, []string{inventory.LockKey(current.ItemID, current.Condition)}, func() error {
		taken, err := s.takeStock(ctx, input, policy)
		if err != nil {
			return err
		}
		item, err := s.recordHold(ctx, input, taken)
		if err != nil {
			return s.compensate(ctx, taken, err)
		}
		result = item
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *service) takeStock(ctx context.Context, input WithdrawInput, policy enums.CostingPolicy) (*withdrawal, error) {
	var taken *withdrawal
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		invRepo := s.inventories.WithTx(tx)
		inv, err := invRepo.FindByIDForUpdate(ctx, input.InventoryID)
		if err != nil {
			return inventory.MapLoadError(err, input.InventoryID)
		}
		if inv.Quantity < input.Quantity {
			return inventory.InsufficientStock(inv, input.Quantity)
		}
		lots := s.lots.WithTx(tx)
		strategy, err := inventory.NewStrategy(policy, lots)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "select costing strategy")
		}
		basis, err := strategy.CostBasis(ctx, inv, input.Quantity, input.LotID)
		if err != nil {
			return err
		}

		before := inv.Quantity
		if err := inventory.ApplySale(inv, input.Quantity); err != nil {
			return err
		}
		if err := invRepo.Save(ctx, inv); err != nil {
			return storageError(err, "save inventory")
		}
		if basis.Lot != nil {
			basis.Lot.RemainingQty -= input.Quantity
			if err := lots.Save(ctx, basis.Lot); err != nil {
				return storageError(err, "save lot")
			}
		}
		taken = &withdrawal{
			inventoryID: inv.ID,
			lotID:       basis.LotID(),
			quantity:    input.Quantity,
			basis:       basis,
			before:      before,
			after:       inv.Quantity,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return taken, nil
}

func (s *service) recordHold(ctx context.Context, input WithdrawInput, taken *withdrawal) (*models.CheckoutItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "withdrawal interrupted")
	}
	var item *models.CheckoutItem
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		folder, err := repo.FindFolderForUpdate(ctx, input.FolderID)
		if err != nil {
			return mapFolderError(err, input.FolderID)
		}
		if !folder.IsOpen() {
			return folderClosed(folder)
		}
		item = &models.CheckoutItem{
			FolderID:         folder.ID,
			InventoryID:      taken.inventoryID,
			LotID:            taken.lotID,
			Quantity:         taken.quantity,
			UnitCostCents:    taken.basis.UnitCostCents,
			UnitExpenseCents: taken.basis.UnitExpenseCents,
			Status:           enums.CheckoutItemStatusPending,
			Notes:            input.Notes,
		}
		if err := repo.CreateItem(ctx, item); err != nil {
			return storageError(err, "create checkout item")
		}
		if err := s.recordHistory(ctx, tx, history.Change{
			InventoryID:    taken.inventoryID,
			Action:         enums.HistoryActionCheckoutWithdraw,
			Before:         taken.before,
			After:          taken.after,
			CheckoutItemID: &item.ID,
			Notes:          input.Notes,
		}); err != nil {
			return err
		}
		return s.emit(ctx, tx, enums.EventCheckoutItemWithdrawn, enums.AggregateCheckoutItem, item.ID, itemEvent(item, ""))
	})
	if err != nil {
		return nil, err
	}
	return item, nil
}

// compensate restores the units taken in step one. It runs on a context that
// ignores the caller's cancellation. The original error is returned when the
// restore succeeds; otherwise a consistency alarm carrying both errors.
func (s *service) compensate(ctx context.Context, taken *withdrawal, cause error) error {
	ctx = context.WithoutCancel(ctx)
	fields := map[string]any{
		"quantity": taken.quantity,
		"cause":    cause.Error(),
	}
	if taken.lotID != nil {
		fields["lot_id"] = taken.lotID.String()
	}

	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		invRepo := s.inventories.WithTx(tx)
		inv, err := invRepo.FindByIDForUpdate(ctx, taken.inventoryID)
		if err != nil {
			return err
		}
		inv.Quantity += taken.quantity
		if err := invRepo.Save(ctx, inv); err != nil {
			return err
		}
		if taken.lotID == nil {
			return nil
		}
		lots := s.lots.WithTx(tx)
		lot, err := lots.FindByIDForUpdate(ctx, *taken.lotID)
		if err != nil {
			return err
		}
		lot.RemainingQty += taken.quantity
		return lots.Save(ctx, lot)
	})
	if err != nil {
		combined := multierr.Combine(cause, err)
		s.metrics.IncCompensation(metrics.CompensationFailed)
		s.metrics.IncConsistencyAlarm()
		s.logg.Error(s.logg.WithFields(ctx, fields), "withdrawal compensation failed, stock may be inconsistent", combined)
		return pkgerrors.Wrap(pkgerrors.CodeConsistency, combined, "withdrawal compensation failed").
			WithReason(pkgerrors.ReasonCompensationFailed).
			WithDetails(map[string]any{
				"inventory_id": taken.inventoryID,
				"quantity":     taken.quantity,
			})
	}
	s.metrics.IncCompensation(metrics.CompensationSucceeded)
	s.logg.Warn(s.logg.WithFields(ctx, fields), "withdrawal compensated")
	return cause
}

func validateWithdraw(input WithdrawInput) error {
	details := map[string]any{}
	if input.FolderID == uuid.Nil {
		details["folder_id"] = "required"
	}
	if input.InventoryID == uuid.Nil {
		details["inventory_id"] = "required"
	}
	if input.Quantity <= 0 {
		details["quantity"] = "must be greater than zero"
	}
	if len(details) > 0 {
		return pkgerrors.Invalid("invalid withdrawal", details)
	}
	return nil
}
