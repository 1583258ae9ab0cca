// Package reconcile rebuilds an inventory aggregate and its lots from the
// ledger plus the checkout holds still counted against it.
package reconcile

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/resale-ledger/internal/inventory"
	"github.com/angelmondragon/resale-ledger/pkg/db/models"
	"github.com/angelmondragon/resale-ledger/pkg/enums"
	pkgerrors "github.com/angelmondragon/resale-ledger/pkg/errors"
)

// Input is everything a replay reads. Replay never mutates it.
type Input struct {
	Inventory *models.Inventory
	Entries   []models.LedgerEntry
	Lots      []models.Lot
	// Holds are checkout items drawn from the inventory in any status;
	// only holding statuses are subtracted.
	Holds []models.CheckoutItem
}

type Options struct {
	// RestateProfit rewrites the figures of every replayed sale that drifted.
	RestateProfit bool
	// Force lists sale entries whose figures are rewritten even when
	// restatement is off, such as the entry being edited.
	Force map[uuid.UUID]struct{}
}

// Plan is the outcome of a replay.
type Plan struct {
	Inventory models.Inventory
	Lots      []models.Lot
	// Restated holds sale entries whose stored figures differ from the replay
	// and will be written back.
	Restated []models.LedgerEntry
	// Stale counts drifted sales whether or not they are restated.
	Stale   int
	HeldQty int
}

type lotState struct {
	lot       models.Lot
	purchased bool
}

// Replay folds the ledger in (transaction date, creation order) and returns
// the aggregate it implies. It fails with WouldGoNegative when any replayed
// sale or the final figures would need negative stock.
func Replay(in Input, opts Options) (*Plan, error) {
	if in.Inventory == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "replay requires an inventory")
	}
	inv := resetInventory(*in.Inventory)

	lots := make(map[uuid.UUID]*lotState, len(in.Lots))
	order := make([]uuid.UUID, 0, len(in.Lots))
	for _, lot := range in.Lots {
		reset := lot
		reset.InitialQty = 0
		reset.RemainingQty = 0
		lots[lot.ID] = &lotState{lot: reset}
		order = append(order, lot.ID)
	}

	entries := append([]models.LedgerEntry(nil), in.Entries...)
	sort.SliceStable(entries, func(i, j int) bool {
		return entryBefore(entries[i], entries[j])
	})

	plan := &Plan{}
	var last *time.Time
	for _, entry := range entries {
		if last == nil || entry.TransactionDate.After(*last) {
			at := entry.TransactionDate
			last = &at
		}
		switch entry.Type {
		case enums.LedgerEntryTypePurchase:
			inventory.ApplyPurchase(&inv, entry.Quantity, entry.UnitPriceCents, entry.ExpensesCents)
			if state := lotFor(lots, entry.LotID); state != nil {
				if !state.purchased {
					state.lot.UnitCostCents = entry.UnitPriceCents
					state.lot.UnitExpenseCents = inventory.RoundDiv(entry.ExpensesCents, int64(entry.Quantity))
					state.purchased = true
				}
				state.lot.InitialQty += entry.Quantity
				state.lot.RemainingQty += entry.Quantity
			}
		case enums.LedgerEntryTypeSale:
			if entry.IsCheckoutOriginated {
				continue
			}
			basis, err := replaySale(&inv, lots, entry)
			if err != nil {
				return nil, err
			}
			figures := inventory.ComputeSale(basis, entry.UnitPriceCents, entry.Quantity)
			if !figuresMatch(entry, figures) {
				plan.Stale++
				_, forced := opts.Force[entry.ID]
				if opts.RestateProfit || forced {
					restated := entry
					restated.ProfitCents = figures.ProfitCents
					restated.ProfitRate = figures.ProfitRate
					restated.ExpensesCents = figures.ExpensesCents
					plan.Restated = append(plan.Restated, restated)
				}
			}
		}
	}

	lotHeld := map[uuid.UUID]int{}
	for _, hold := range in.Holds {
		if !hold.Status.HoldsStock() {
			continue
		}
		plan.HeldQty += hold.Quantity
		if hold.LotID != nil {
			lotHeld[*hold.LotID] += hold.Quantity
		}
	}
	if inv.Quantity < plan.HeldQty {
		return nil, wouldGoNegative(inv.ID, nil, inv.Quantity, plan.HeldQty)
	}
	inv.Quantity -= plan.HeldQty
	inv.LastTransactionAt = last

	for _, id := range order {
		state := lots[id]
		held := lotHeld[id]
		if state.lot.RemainingQty < held {
			return nil, pkgerrors.Conflict(pkgerrors.ReasonWouldGoNegative, "change would drive lot stock negative", map[string]any{
				"inventory_id": inv.ID,
				"lot_id":       id,
				"available":    state.lot.RemainingQty,
				"requested":    held,
			})
		}
		state.lot.RemainingQty -= held
		plan.Lots = append(plan.Lots, state.lot)
	}

	plan.Inventory = inv
	return plan, nil
}

func replaySale(inv *models.Inventory, lots map[uuid.UUID]*lotState, entry models.LedgerEntry) (inventory.Basis, error) {
	if inv.Quantity < entry.Quantity {
		return inventory.Basis{}, wouldGoNegative(inv.ID, &entry.ID, inv.Quantity, entry.Quantity)
	}
	basis := inventory.AverageBasis(inv)
	if entry.LotID != nil {
		state := lotFor(lots, entry.LotID)
		if state == nil {
			return inventory.Basis{}, inventory.LotNotFound(*entry.LotID)
		}
		if state.lot.RemainingQty < entry.Quantity {
			return inventory.Basis{}, wouldGoNegative(inv.ID, &entry.ID, state.lot.RemainingQty, entry.Quantity)
		}
		state.lot.RemainingQty -= entry.Quantity
		basis = inventory.Basis{
			UnitCostCents:    state.lot.UnitCostCents,
			UnitExpenseCents: state.lot.UnitExpenseCents,
		}
	}
	inv.Quantity -= entry.Quantity
	return basis, nil
}

func resetInventory(inv models.Inventory) models.Inventory {
	inv.Quantity = 0
	inv.AveragePurchasePriceCents = 0
	inv.TotalPurchased = 0
	inv.TotalPurchaseCostCents = 0
	inv.TotalExpensesCents = 0
	inv.AverageExpensePerUnitCents = 0
	inv.LastTransactionAt = nil
	return inv
}

func lotFor(lots map[uuid.UUID]*lotState, id *uuid.UUID) *lotState {
	if id == nil {
		return nil
	}
	return lots[*id]
}

func entryBefore(a, b models.LedgerEntry) bool {
	if !a.TransactionDate.Equal(b.TransactionDate) {
		return a.TransactionDate.Before(b.TransactionDate)
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID.String() < b.ID.String()
}

func figuresMatch(entry models.LedgerEntry, figures inventory.SaleFigures) bool {
	return entry.ProfitCents == figures.ProfitCents &&
		entry.ExpensesCents == figures.ExpensesCents &&
		entry.ProfitRate.Round(2).Equal(figures.ProfitRate)
}

func wouldGoNegative(inventoryID uuid.UUID, entryID *uuid.UUID, available, requested int) *pkgerrors.Error {
	details := map[string]any{
		"inventory_id": inventoryID,
		"available":    available,
		"requested":    requested,
	}
	if entryID != nil {
		details["entry_id"] = *entryID
	}
	return pkgerrors.Conflict(pkgerrors.ReasonWouldGoNegative, "change would drive stock negative", details)
}

// SameFigures reports whether two aggregates carry identical derived fields.
func SameFigures(a, b models.Inventory) bool {
	return a.Quantity == b.Quantity &&
		a.AveragePurchasePriceCents == b.AveragePurchasePriceCents &&
		a.TotalPurchased == b.TotalPurchased &&
		a.TotalPurchaseCostCents == b.TotalPurchaseCostCents &&
		a.TotalExpensesCents == b.TotalExpensesCents &&
		a.AverageExpensePerUnitCents == b.AverageExpensePerUnitCents
}
