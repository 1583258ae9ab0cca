package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/resale-ledger/internal/inventory"
	"github.com/angelmondragon/resale-ledger/pkg/db/models"
	"github.com/angelmondragon/resale-ledger/pkg/enums"
	pkgerrors "github.com/angelmondragon/resale-ledger/pkg/errors"
	"github.com/angelmondragon/resale-ledger/pkg/metrics"
)

// Engine loads replay inputs and persists the resulting plan.
type Engine struct {
	db          *gorm.DB
	inventories inventory.Repository
	lots        inventory.LotRepository
	restate     bool
	metrics     *metrics.LedgerMetrics
}

type EngineOptions struct {
	RestateProfit bool
	Metrics       *metrics.LedgerMetrics
}

func NewEngine(conn *gorm.DB, inventories inventory.Repository, lots inventory.LotRepository, opts EngineOptions) (*Engine, error) {
	if conn == nil {
		return nil, fmt.Errorf("database required")
	}
	if inventories == nil {
		return nil, fmt.Errorf("inventory repository required")
	}
	if lots == nil {
		return nil, fmt.Errorf("lot repository required")
	}
	return &Engine{
		db:          conn,
		inventories: inventories,
		lots:        lots,
		restate:     opts.RestateProfit,
		metrics:     opts.Metrics,
	}, nil
}

// Result describes an applied replay.
type Result struct {
	Before        models.Inventory
	After         *models.Inventory
	Lots          []models.Lot
	RestatedSales int
}

// Apply replays the inventory inside tx and writes the result. On any error
// nothing has been written, so the caller only needs to roll back tx. Sale
// entries listed in force get their figures rewritten regardless of the
// restatement setting.
func (e *Engine) Apply(ctx context.Context, tx *gorm.DB, inventoryID uuid.UUID, force ...uuid.UUID) (*Result, error) {
	started := time.Now()
	defer func() { e.metrics.ObserveReconcile(time.Since(started)) }()

	inv, err := e.inventories.WithTx(tx).FindByIDForUpdate(ctx, inventoryID)
	if err != nil {
		return nil, inventory.MapLoadError(err, inventoryID)
	}
	input, err := e.load(ctx, tx, inv)
	if err != nil {
		return nil, err
	}

	opts := Options{RestateProfit: e.restate, Force: make(map[uuid.UUID]struct{}, len(force))}
	for _, id := range force {
		opts.Force[id] = struct{}{}
	}
	plan, err := Replay(input, opts)
	if err != nil {
		return nil, err
	}

	after := plan.Inventory
	if err := e.inventories.WithTx(tx).Save(ctx, &after); err != nil {
		return nil, wrapWrite(err, "save reconciled inventory")
	}
	lots := e.lots.WithTx(tx)
	for i := range plan.Lots {
		if err := lots.Save(ctx, &plan.Lots[i]); err != nil {
			return nil, wrapWrite(err, "save reconciled lot")
		}
	}
	for _, entry := range plan.Restated {
		if err := saveSaleFigures(ctx, tx, entry); err != nil {
			return nil, wrapWrite(err, "restate sale entry")
		}
	}

	return &Result{
		Before:        *inv,
		After:         &after,
		Lots:          plan.Lots,
		RestatedSales: len(plan.Restated),
	}, nil
}

// Drift is one field whose stored value differs from the replay.
type Drift struct {
	Field    string `json:"field"`
	Stored   int64  `json:"stored"`
	Replayed int64  `json:"replayed"`
}

// LotDrift reports a lot whose remaining quantity differs from the replay.
type LotDrift struct {
	LotID    uuid.UUID `json:"lot_id"`
	Stored   int       `json:"stored"`
	Replayed int       `json:"replayed"`
}

// Report is the read-only comparison produced by Check.
type Report struct {
	InventoryID uuid.UUID  `json:"inventory_id"`
	InSync      bool       `json:"in_sync"`
	Fields      []Drift    `json:"fields,omitempty"`
	Lots        []LotDrift `json:"lots,omitempty"`
	StaleSales  int        `json:"stale_sales"`
	HeldQty     int        `json:"held_quantity"`
	Replayable  bool       `json:"replayable"`
	Violation   string     `json:"violation,omitempty"`
}

// Check compares the stored aggregate with a fresh replay without writing.
// An unreplayable ledger is reported rather than returned as an error.
func (e *Engine) Check(ctx context.Context, inventoryID uuid.UUID) (*Report, error) {
	inv, err := e.inventories.FindByID(ctx, inventoryID)
	if err != nil {
		return nil, inventory.MapLoadError(err, inventoryID)
	}
	input, err := e.load(ctx, e.db, inv)
	if err != nil {
		return nil, err
	}

	report := &Report{InventoryID: inv.ID}
	plan, err := Replay(input, Options{})
	if err != nil {
		if typed := pkgerrors.As(err); typed != nil && typed.Reason() == pkgerrors.ReasonWouldGoNegative {
			report.Violation = typed.Message()
			return report, nil
		}
		return nil, err
	}
	report.Replayable = true
	report.StaleSales = plan.Stale
	report.HeldQty = plan.HeldQty
	report.Fields = diffInventory(*inv, plan.Inventory)

	stored := make(map[uuid.UUID]int, len(input.Lots))
	for _, lot := range input.Lots {
		stored[lot.ID] = lot.RemainingQty
	}
	for _, lot := range plan.Lots {
		if stored[lot.ID] != lot.RemainingQty {
			report.Lots = append(report.Lots, LotDrift{LotID: lot.ID, Stored: stored[lot.ID], Replayed: lot.RemainingQty})
		}
	}
	report.InSync = len(report.Fields) == 0 && len(report.Lots) == 0 && report.StaleSales == 0
	return report, nil
}

func (e *Engine) load(ctx context.Context, conn *gorm.DB, inv *models.Inventory) (Input, error) {
	lots, err := e.lots.WithTx(conn).ListByInventory(ctx, inv.ID)
	if err != nil {
		return Input{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load lots")
	}
	var entries []models.LedgerEntry
	if err := conn.WithContext(ctx).
		Where("inventory_id = ?", inv.ID).
		Order("transaction_date ASC, created_at ASC, id ASC").
		Find(&entries).Error; err != nil {
		return Input{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load ledger entries")
	}
	var holds []models.CheckoutItem
	if err := conn.WithContext(ctx).
		Where("inventory_id = ? AND status IN ?", inv.ID, enums.HoldingCheckoutStatuses()).
		Find(&holds).Error; err != nil {
		return Input{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load checkout holds")
	}
	return Input{Inventory: inv, Entries: entries, Lots: lots, Holds: holds}, nil
}

func saveSaleFigures(ctx context.Context, tx *gorm.DB, entry models.LedgerEntry) error {
	return tx.WithContext(ctx).
		Model(&models.LedgerEntry{}).
		Where("id = ?", entry.ID).
		Updates(map[string]any{
			"profit_cents":   entry.ProfitCents,
			"profit_rate":    entry.ProfitRate,
			"expenses_cents": entry.ExpensesCents,
		}).Error
}

func diffInventory(stored, replayed models.Inventory) []Drift {
	pairs := []struct {
		field string
		a, b  int64
	}{
		{"quantity", int64(stored.Quantity), int64(replayed.Quantity)},
		{"average_purchase_price_cents", stored.AveragePurchasePriceCents, replayed.AveragePurchasePriceCents},
		{"total_purchased", int64(stored.TotalPurchased), int64(replayed.TotalPurchased)},
		{"total_purchase_cost_cents", stored.TotalPurchaseCostCents, replayed.TotalPurchaseCostCents},
		{"total_expenses_cents", stored.TotalExpensesCents, replayed.TotalExpensesCents},
		{"average_expense_per_unit_cents", stored.AverageExpensePerUnitCents, replayed.AverageExpensePerUnitCents},
	}
	var drift []Drift
	for _, p := range pairs {
		if p.a != p.b {
			drift = append(drift, Drift{Field: p.field, Stored: p.a, Replayed: p.b})
		}
	}
	return drift
}

func wrapWrite(err error, msg string) error {
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, msg)
}
