package checkout

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/angelmondragon/resale-ledger/internal/catalog"
	"github.com/angelmondragon/resale-ledger/internal/history"
	"github.com/angelmondragon/resale-ledger/internal/inventory"
	"github.com/angelmondragon/resale-ledger/internal/ledger"
	"github.com/angelmondragon/resale-ledger/internal/reconcile"
	"github.com/angelmondragon/resale-ledger/pkg/db"
	"github.com/angelmondragon/resale-ledger/pkg/db/models"
	"github.com/angelmondragon/resale-ledger/pkg/enums"
	pkgerrors "github.com/angelmondragon/resale-ledger/pkg/errors"
	"github.com/angelmondragon/resale-ledger/pkg/lock"
	"github.com/angelmondragon/resale-ledger/pkg/logger"
	"github.com/angelmondragon/resale-ledger/pkg/metrics"
	"github.com/angelmondragon/resale-ledger/pkg/migrate"
	"github.com/angelmondragon/resale-ledger/pkg/outbox"
)

var (
	base     = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	errOops  = errors.New("broker unavailable")
	errReset = errors.New("connection reset by peer")
)

type harness struct {
	conn     *gorm.DB
	ledger   ledger.Service
	checkout Service
	engine   *reconcile.Engine
	registry *prometheus.Registry
}

func newHarness(t *testing.T, overrides ...func(*ServiceParams)) *harness {
	t.Helper()
	dsn := "file:checkout_" + uuid.NewString() + "?mode=memory&cache=shared"
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := conn.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, migrate.AutoMigrate(conn))

	logg := logger.New(logger.Options{ServiceName: "checkout-test", Output: io.Discard})
	registry := prometheus.NewRegistry()
	ledgerMetrics := metrics.NewLedgerMetrics(registry)
	client := db.Wrap(conn)
	entries := ledger.NewRepository(conn)
	inventories := inventory.NewRepository(conn)
	lots := inventory.NewLotRepository(conn)
	historyRepo := history.NewRepository(conn)
	registryRepo := catalog.NewRepository(conn)
	locker := lock.NewKeyedMutex()
	events := outbox.NewService(outbox.NewRepository(conn), logg)
	now := func() time.Time { return base.AddDate(0, 0, 10) }

	engine, err := reconcile.NewEngine(conn, inventories, lots, reconcile.EngineOptions{RestateProfit: true, Metrics: ledgerMetrics})
	require.NoError(t, err)
	ledgerSvc, err := ledger.NewService(ledger.ServiceParams{
		Tx:          client,
		Entries:     entries,
		Inventories: inventories,
		Lots:        lots,
		History:     historyRepo,
		Catalog:     registryRepo,
		Reconciler:  engine,
		Locker:      locker,
		Outbox:      events,
		Metrics:     ledgerMetrics,
		Logger:      logg,
		Now:         now,
	})
	require.NoError(t, err)

	params := ServiceParams{
		Tx:          client,
		Repo:        NewRepository(conn),
		Entries:     entries,
		Inventories: inventories,
		Lots:        lots,
		History:     historyRepo,
		Catalog:     registryRepo,
		Ledger:      ledgerSvc,
		Reconciler:  engine,
		Locker:      locker,
		Outbox:      events,
		Metrics:     ledgerMetrics,
		Logger:      logg,
		Now:         now,
	}
	for _, override := range overrides {
		override(&params)
	}
	svc, err := NewService(params)
	require.NoError(t, err)
	return &harness{conn: conn, ledger: ledgerSvc, checkout: svc, engine: engine, registry: registry}
}

// stock books qty units of a fresh catalog item and returns the aggregate.
func (h *harness) stock(t *testing.T, policy enums.CostingPolicy, qty int, price int64) *ledger.Result {
	t.Helper()
	item := models.CatalogItem{ID: uuid.New(), Name: "Vinyl record", CostingPolicy: policy}
	require.NoError(t, h.conn.Create(&item).Error)
	res, err := h.ledger.RecordPurchase(context.Background(), ledger.PurchaseInput{
		ItemID:          item.ID,
		Condition:       "used",
		Quantity:        qty,
		UnitPriceCents:  price,
		ExpensesCents:   int64(qty) * 10,
		TransactionDate: base,
	})
	require.NoError(t, err)
	return res
}

func (h *harness) folder(t *testing.T) *models.CheckoutFolder {
	t.Helper()
	folder, err := h.checkout.CreateFolder(context.Background(), CreateFolderInput{Name: "Weekend market"})
	require.NoError(t, err)
	return folder
}

func (h *harness) withdraw(t *testing.T, folderID, inventoryID uuid.UUID, qty int) *models.CheckoutItem {
	t.Helper()
	item, err := h.checkout.WithdrawToFolder(context.Background(), WithdrawInput{
		FolderID:    folderID,
		InventoryID: inventoryID,
		Quantity:    qty,
	})
	require.NoError(t, err)
	return item
}

func (h *harness) quantity(t *testing.T, inventoryID uuid.UUID) int {
	t.Helper()
	var inv models.Inventory
	require.NoError(t, h.conn.First(&inv, "id = ?", inventoryID).Error)
	return inv.Quantity
}

func (h *harness) assertInSync(t *testing.T, inventoryID uuid.UUID) {
	t.Helper()
	report, err := h.engine.Check(context.Background(), inventoryID)
	require.NoError(t, err)
	assert.True(t, report.InSync, "stored aggregate drifted from the ledger: %+v", report.Fields)
}

func (h *harness) counter(t *testing.T, name, label string) float64 {
	t.Helper()
	families, err := h.registry.Gather()
	require.NoError(t, err)
	return counterValue(families, name, label)
}

func counterValue(families []*dto.MetricFamily, name, label string) float64 {
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
		for _, metric := range family.GetMetric() {
			if label == "" {
				return metric.GetCounter().GetValue()
			}
			for _, pair := range metric.GetLabel() {
				if pair.GetValue() == label {
					return metric.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func ptr[T any](v T) *T { return &v }

func TestWithdrawAndPartialReturn(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	stocked := h.stock(t, enums.CostingPolicyAverage, 10, 100)
	invID := stocked.Inventory.ID
	folder := h.folder(t)

	item := h.withdraw(t, folder.ID, invID, 4)
	assert.Equal(t, enums.CheckoutItemStatusPending, item.Status)
	assert.Equal(t, int64(100), item.UnitCostCents)
	assert.Equal(t, int64(10), item.UnitExpenseCents)
	assert.Equal(t, 6, h.quantity(t, invID))

	returned, err := h.checkout.ReturnCheckoutItem(ctx, item.ID, ptr(1), nil)
	require.NoError(t, err)
	assert.Equal(t, enums.CheckoutItemStatusReturned, returned.Status)
	assert.Equal(t, 1, returned.Quantity)
	require.NotNil(t, returned.ParentItemID)
	assert.Equal(t, item.ID, *returned.ParentItemID)
	assert.Equal(t, int64(100), returned.UnitCostCents)

	original, err := h.checkout.GetItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, original.Quantity)
	assert.Equal(t, enums.CheckoutItemStatusPending, original.Status)
	assert.Equal(t, 7, h.quantity(t, invID))
	h.assertInSync(t, invID)

	loaded, err := h.checkout.GetFolder(ctx, folder.ID)
	require.NoError(t, err)
	assert.Len(t, loaded.Items, 2)
}

func TestWithdrawRejections(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	stocked := h.stock(t, enums.CostingPolicyAverage, 3, 100)
	invID := stocked.Inventory.ID
	folder := h.folder(t)

	_, err := h.checkout.WithdrawToFolder(ctx, WithdrawInput{FolderID: folder.ID, InventoryID: invID, Quantity: 5})
	assert.True(t, pkgerrors.HasReason(err, pkgerrors.ReasonInsufficientStock))

	_, err = h.checkout.WithdrawToFolder(ctx, WithdrawInput{FolderID: folder.ID, InventoryID: invID})
	assert.True(t, pkgerrors.HasReason(err, pkgerrors.ReasonInvalidInput))

	_, err = h.checkout.CloseFolder(ctx, folder.ID)
	require.NoError(t, err)
	_, err = h.checkout.WithdrawToFolder(ctx, WithdrawInput{FolderID: folder.ID, InventoryID: invID, Quantity: 1})
	assert.True(t, pkgerrors.HasReason(err, pkgerrors.ReasonFolderClosed))

	lotted := h.stock(t, enums.CostingPolicyLot, 2, 500)
	open := h.folder(t)
	_, err = h.checkout.WithdrawToFolder(ctx, WithdrawInput{FolderID: open.ID, InventoryID: lotted.Inventory.ID, Quantity: 1})
	assert.True(t, pkgerrors.HasReason(err, pkgerrors.ReasonLotRequired))

	assert.Equal(t, 3, h.quantity(t, invID))
	assert.Equal(t, 2, h.quantity(t, lotted.Inventory.ID))
}

func TestWithdrawFromLot(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	stocked := h.stock(t, enums.CostingPolicyLot, 5, 400)
	require.NotNil(t, stocked.Lot)
	folder := h.folder(t)

	item, err := h.checkout.WithdrawToFolder(ctx, WithdrawInput{
		FolderID:    folder.ID,
		InventoryID: stocked.Inventory.ID,
		Quantity:    2,
		LotID:       &stocked.Lot.ID,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(400), item.UnitCostCents)
	require.NotNil(t, item.LotID)

	var lot models.Lot
	require.NoError(t, h.conn.First(&lot, "id = ?", stocked.Lot.ID).Error)
	assert.Equal(t, 3, lot.RemainingQty)

	_, err = h.checkout.ReturnCheckoutItem(ctx, item.ID, nil, nil)
	require.NoError(t, err)
	require.NoError(t, h.conn.First(&lot, "id = ?", stocked.Lot.ID).Error)
	assert.Equal(t, 5, lot.RemainingQty)
	h.assertInSync(t, stocked.Inventory.ID)
}

func TestSellThenUndoRemovesEntry(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	stocked := h.stock(t, enums.CostingPolicyAverage, 10, 100)
	invID := stocked.Inventory.ID
	folder := h.folder(t)
	item := h.withdraw(t, folder.ID, invID, 4)

	entry, err := h.checkout.SellCheckoutItem(ctx, item.ID, SellInput{SalePriceCents: 150})
	require.NoError(t, err)
	assert.True(t, entry.IsCheckoutOriginated)
	assert.Equal(t, int64(200), entry.ProfitCents)
	assert.Equal(t, "50.00", entry.ProfitRate.StringFixed(2))
	assert.Equal(t, int64(40), entry.ExpensesCents)
	assert.Equal(t, 6, h.quantity(t, invID))
	h.assertInSync(t, invID)

	_, err = h.ledger.DeleteLedgerEntry(ctx, entry.ID)
	assert.True(t, pkgerrors.HasReason(err, pkgerrors.ReasonCheckoutManaged))

	undone, err := h.checkout.UndoCheckoutItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.CheckoutItemStatusPending, undone.Status)
	assert.Nil(t, undone.LedgerEntryID)
	assert.Nil(t, undone.SalePriceCents)
	assert.False(t, undone.ProfitRate.Valid)
	assert.Equal(t, 6, h.quantity(t, invID))

	var entries, rows int64
	require.NoError(t, h.conn.Model(&models.LedgerEntry{}).Where("id = ?", entry.ID).Count(&entries).Error)
	require.NoError(t, h.conn.Model(&models.HistoryEntry{}).Where("ledger_entry_id = ?", entry.ID).Count(&rows).Error)
	assert.Zero(t, entries)
	assert.Zero(t, rows)
	h.assertInSync(t, invID)
}

func TestResolveAlreadyResolved(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	stocked := h.stock(t, enums.CostingPolicyAverage, 5, 100)
	item := h.withdraw(t, h.folder(t).ID, stocked.Inventory.ID, 2)

	_, err := h.checkout.ReturnCheckoutItem(ctx, item.ID, ptr(3), nil)
	assert.True(t, pkgerrors.HasReason(err, pkgerrors.ReasonInvalidInput))

	_, err = h.checkout.ReturnCheckoutItem(ctx, item.ID, nil, nil)
	require.NoError(t, err)
	_, err = h.checkout.SellCheckoutItem(ctx, item.ID, SellInput{SalePriceCents: 120})
	assert.True(t, pkgerrors.HasReason(err, pkgerrors.ReasonAlreadyResolved))
	assert.Equal(t, 5, h.quantity(t, stocked.Inventory.ID))
}

func TestUndoReturnNeedsStock(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	stocked := h.stock(t, enums.CostingPolicyAverage, 10, 100)
	invID := stocked.Inventory.ID
	item := h.withdraw(t, h.folder(t).ID, invID, 4)
	_, err := h.checkout.ReturnCheckoutItem(ctx, item.ID, nil, nil)
	require.NoError(t, err)

	_, err = h.ledger.RecordSale(ctx, ledger.SaleInput{InventoryID: invID, Quantity: 8, UnitPriceCents: 150})
	require.NoError(t, err)

	_, err = h.checkout.UndoCheckoutItem(ctx, item.ID)
	require.Error(t, err)
	assert.True(t, pkgerrors.HasReason(err, pkgerrors.ReasonInsufficientStockForUndo))
	assert.Equal(t, 2, h.quantity(t, invID))

	_, err = h.ledger.RecordPurchase(ctx, ledger.PurchaseInput{
		ItemID:         stocked.Inventory.ItemID,
		Condition:      "used",
		Quantity:       2,
		UnitPriceCents: 100,
	})
	require.NoError(t, err)
	undone, err := h.checkout.UndoCheckoutItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.CheckoutItemStatusPending, undone.Status)
	assert.Equal(t, 0, h.quantity(t, invID))
	h.assertInSync(t, invID)
}

func TestFolderLifecycle(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	stocked := h.stock(t, enums.CostingPolicyAverage, 5, 100)
	folder := h.folder(t)
	item := h.withdraw(t, folder.ID, stocked.Inventory.ID, 2)

	_, err := h.checkout.UndoCheckoutItem(ctx, item.ID)
	assert.True(t, pkgerrors.HasReason(err, pkgerrors.ReasonInvalidTransition))

	_, err = h.checkout.CloseFolder(ctx, folder.ID)
	require.Error(t, err)
	assert.True(t, pkgerrors.HasReason(err, pkgerrors.ReasonPendingItemsExist))
	details := pkgerrors.As(err).Details().(map[string]any)
	assert.Equal(t, int64(1), details["pending_items"])

	_, err = h.checkout.ReturnCheckoutItem(ctx, item.ID, nil, nil)
	require.NoError(t, err)
	closed, err := h.checkout.CloseFolder(ctx, folder.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.CheckoutFolderStatusClosed, closed.Status)
	require.NotNil(t, closed.ClosedAt)

	_, err = h.checkout.UndoCheckoutItem(ctx, item.ID)
	assert.True(t, pkgerrors.HasReason(err, pkgerrors.ReasonFolderClosed))

	reopened, err := h.checkout.ReopenFolder(ctx, folder.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.CheckoutFolderStatusOpen, reopened.Status)
	assert.Nil(t, reopened.ClosedAt)

	_, err = h.checkout.UndoCheckoutItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, h.quantity(t, stocked.Inventory.ID))

	open, err := h.checkout.ListFolders(ctx, FolderFilter{Status: enums.CheckoutFolderStatusOpen})
	require.NoError(t, err)
	assert.Len(t, open, 1)
	_, err = h.checkout.ListFolders(ctx, FolderFilter{Status: "archived"})
	assert.True(t, pkgerrors.HasReason(err, pkgerrors.ReasonInvalidInput))
}

func TestConvertAndUndo(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	stocked := h.stock(t, enums.CostingPolicyAverage, 10, 100)
	sourceID := stocked.Inventory.ID
	item := h.withdraw(t, h.folder(t).ID, sourceID, 4)

	converted, err := h.checkout.ConvertCheckoutItem(ctx, item.ID, ConvertInput{Quantity: ptr(2), TargetCondition: " refurbished "})
	require.NoError(t, err)
	assert.Equal(t, enums.CheckoutItemStatusConverted, converted.Status)
	require.NotNil(t, converted.ConvertedInventoryID)
	require.NotNil(t, converted.LedgerEntryID)
	targetID := *converted.ConvertedInventoryID

	var target models.Inventory
	require.NoError(t, h.conn.First(&target, "id = ?", targetID).Error)
	assert.Equal(t, "refurbished", target.Condition)
	assert.Equal(t, 2, target.Quantity)
	assert.Equal(t, int64(100), target.AveragePurchasePriceCents)
	assert.Equal(t, int64(10), target.AverageExpensePerUnitCents)
	assert.Equal(t, 6, h.quantity(t, sourceID))
	h.assertInSync(t, sourceID)
	h.assertInSync(t, targetID)

	qty := 1
	_, err = h.ledger.EditLedgerEntry(ctx, *converted.LedgerEntryID, ledger.EditInput{Quantity: &qty})
	assert.True(t, pkgerrors.HasReason(err, pkgerrors.ReasonCheckoutManaged))

	undone, err := h.checkout.UndoCheckoutItem(ctx, converted.ID)
	require.NoError(t, err)
	assert.Nil(t, undone.ConvertedInventoryID)
	assert.Equal(t, 0, h.quantity(t, targetID))
	assert.Equal(t, 6, h.quantity(t, sourceID))

	_, err = h.checkout.ConvertCheckoutItem(ctx, item.ID, ConvertInput{TargetCondition: "used"})
	assert.True(t, pkgerrors.HasReason(err, pkgerrors.ReasonInvalidInput))
}

func TestUndoConvertAfterTargetSold(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	stocked := h.stock(t, enums.CostingPolicyAverage, 5, 100)
	item := h.withdraw(t, h.folder(t).ID, stocked.Inventory.ID, 2)

	converted, err := h.checkout.ConvertCheckoutItem(ctx, item.ID, ConvertInput{TargetCondition: "mint"})
	require.NoError(t, err)
	targetID := *converted.ConvertedInventoryID
	_, err = h.ledger.RecordSale(ctx, ledger.SaleInput{InventoryID: targetID, Quantity: 2, UnitPriceCents: 300})
	require.NoError(t, err)

	_, err = h.checkout.UndoCheckoutItem(ctx, converted.ID)
	require.Error(t, err)
	assert.True(t, pkgerrors.HasReason(err, pkgerrors.ReasonInsufficientStockForUndo))

	reloaded, err := h.checkout.GetItem(ctx, converted.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.CheckoutItemStatusConverted, reloaded.Status)
	var entries int64
	require.NoError(t, h.conn.Model(&models.LedgerEntry{}).Where("id = ?", *converted.LedgerEntryID).Count(&entries).Error)
	assert.Equal(t, int64(1), entries)
}

func TestConvertLotItemOpensLot(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	stocked := h.stock(t, enums.CostingPolicyLot, 3, 700)
	item, err := h.checkout.WithdrawToFolder(ctx, WithdrawInput{
		FolderID:    h.folder(t).ID,
		InventoryID: stocked.Inventory.ID,
		Quantity:    3,
		LotID:       &stocked.Lot.ID,
	})
	require.NoError(t, err)

	converted, err := h.checkout.ConvertCheckoutItem(ctx, item.ID, ConvertInput{TargetCondition: "parts"})
	require.NoError(t, err)
	require.NotNil(t, converted.ConvertedLotID)

	var lot models.Lot
	require.NoError(t, h.conn.First(&lot, "id = ?", *converted.ConvertedLotID).Error)
	assert.Equal(t, int64(700), lot.UnitCostCents)
	assert.Equal(t, int64(10), lot.UnitExpenseCents)
	assert.Equal(t, 3, lot.RemainingQty)
	assert.Equal(t, "Converted from used", lot.Label)
}

func TestConvertLotItemPartiallyThenUndo(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	stocked := h.stock(t, enums.CostingPolicyLot, 4, 700)
	sourceID := stocked.Inventory.ID
	item, err := h.checkout.WithdrawToFolder(ctx, WithdrawInput{
		FolderID:    h.folder(t).ID,
		InventoryID: sourceID,
		Quantity:    4,
		LotID:       &stocked.Lot.ID,
	})
	require.NoError(t, err)

	converted, err := h.checkout.ConvertCheckoutItem(ctx, item.ID, ConvertInput{Quantity: ptr(2), TargetCondition: "parts"})
	require.NoError(t, err)
	require.NotNil(t, converted.ConvertedInventoryID)
	require.NotNil(t, converted.ConvertedLotID)
	targetID := *converted.ConvertedInventoryID
	assert.Equal(t, 2, h.quantity(t, targetID))
	assert.Equal(t, 0, h.quantity(t, sourceID))
	h.assertInSync(t, sourceID)
	h.assertInSync(t, targetID)

	remainder, err := h.checkout.GetItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.CheckoutItemStatusPending, remainder.Status)
	assert.Equal(t, 2, remainder.Quantity)

	_, err = h.checkout.UndoCheckoutItem(ctx, converted.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, h.quantity(t, targetID))
	assert.Equal(t, 0, h.quantity(t, sourceID))
	h.assertInSync(t, sourceID)
	h.assertInSync(t, targetID)

	var targetLot models.Lot
	require.NoError(t, h.conn.First(&targetLot, "id = ?", *converted.ConvertedLotID).Error)
	assert.Equal(t, 0, targetLot.RemainingQty)
	var sourceLot models.Lot
	require.NoError(t, h.conn.First(&sourceLot, "id = ?", stocked.Lot.ID).Error)
	assert.Equal(t, 0, sourceLot.RemainingQty)
}

func TestConvertConditionIsCaseSensitive(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	stocked := h.stock(t, enums.CostingPolicyAverage, 3, 100)
	item := h.withdraw(t, h.folder(t).ID, stocked.Inventory.ID, 1)

	converted, err := h.checkout.ConvertCheckoutItem(ctx, item.ID, ConvertInput{TargetCondition: "Used"})
	require.NoError(t, err)
	require.NotNil(t, converted.ConvertedInventoryID)
	assert.NotEqual(t, stocked.Inventory.ID, *converted.ConvertedInventoryID)

	var target models.Inventory
	require.NoError(t, h.conn.First(&target, "id = ?", *converted.ConvertedInventoryID).Error)
	assert.Equal(t, "Used", target.Condition)
	assert.Equal(t, 1, target.Quantity)
	assert.Equal(t, 2, h.quantity(t, stocked.Inventory.ID))
}

func TestConcurrentWithdrawalsNeverOversell(t *testing.T) {
	h := newHarness(t)
	stocked := h.stock(t, enums.CostingPolicyAverage, 3, 100)
	invID := stocked.Inventory.ID
	folder := h.folder(t)

	const callers = 8
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = h.checkout.WithdrawToFolder(context.Background(), WithdrawInput{
				FolderID:    folder.ID,
				InventoryID: invID,
				Quantity:    1,
			})
		}(i)
	}
	wg.Wait()

	held := 0
	for _, err := range errs {
		if err == nil {
			held++
			continue
		}
		assert.True(t, pkgerrors.HasReason(err, pkgerrors.ReasonInsufficientStock), "unexpected error: %v", err)
	}
	assert.Equal(t, 3, held)
	assert.Equal(t, 0, h.quantity(t, invID))

	var pending int64
	require.NoError(t, h.conn.Model(&models.CheckoutItem{}).
		Where("inventory_id = ? AND status = ?", invID, enums.CheckoutItemStatusPending).
		Count(&pending).Error)
	assert.Equal(t, int64(3), pending)
	h.assertInSync(t, invID)
}

// folderReads counts folder lookups made inside a transaction.
type folderReads struct {
	locked   int
	unlocked int
}

type folderSpy struct {
	Repository
	inTx  bool
	reads *folderReads
}

func (s *folderSpy) WithTx(tx *gorm.DB) Repository {
	return &folderSpy{Repository: s.Repository.WithTx(tx), inTx: true, reads: s.reads}
}

func (s *folderSpy) FindFolder(ctx context.Context, id uuid.UUID) (*models.CheckoutFolder, error) {
	if s.inTx {
		s.reads.unlocked++
	}
	return s.Repository.FindFolder(ctx, id)
}

func (s *folderSpy) FindFolderForUpdate(ctx context.Context, id uuid.UUID) (*models.CheckoutFolder, error) {
	if s.inTx {
		s.reads.locked++
	}
	return s.Repository.FindFolderForUpdate(ctx, id)
}

func TestResolveAndUndoLockTheFolderRow(t *testing.T) {
	reads := &folderReads{}
	h := newHarness(t, func(p *ServiceParams) {
		p.Repo = &folderSpy{Repository: p.Repo, reads: reads}
	})
	ctx := context.Background()
	stocked := h.stock(t, enums.CostingPolicyAverage, 6, 100)
	item := h.withdraw(t, h.folder(t).ID, stocked.Inventory.ID, 3)

	sold, err := h.checkout.SellCheckoutItem(ctx, item.ID, SellInput{Quantity: ptr(1), SalePriceCents: 250})
	require.NoError(t, err)
	_, err = h.checkout.ReturnCheckoutItem(ctx, item.ID, ptr(1), nil)
	require.NoError(t, err)
	_, err = h.checkout.ConvertCheckoutItem(ctx, item.ID, ConvertInput{TargetCondition: "mint"})
	require.NoError(t, err)
	require.NotNil(t, sold.CheckoutItemID)
	_, err = h.checkout.UndoCheckoutItem(ctx, *sold.CheckoutItemID)
	require.NoError(t, err)

	assert.Equal(t, 0, reads.unlocked)
	assert.Equal(t, 5, reads.locked)
	h.assertInSync(t, stocked.Inventory.ID)
}

type failingOutbox struct {
	next  outboxPublisher
	event enums.OutboxEventType
}

func (f failingOutbox) Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error {
	if event.EventType == f.event {
		return errOops
	}
	return f.next.Emit(ctx, tx, event)
}

// flakyInventories fails every locking read from the nth call on.
type flakyInventories struct {
	inventory.Repository
	failFrom int
	calls    *int
}

func (f flakyInventories) WithTx(tx *gorm.DB) inventory.Repository {
	return flakyInventories{Repository: f.Repository.WithTx(tx), failFrom: f.failFrom, calls: f.calls}
}

func (f flakyInventories) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Inventory, error) {
	*f.calls++
	if *f.calls >= f.failFrom {
		return nil, errReset
	}
	return f.Repository.FindByIDForUpdate(ctx, id)
}

func TestWithdrawCompensatesWhenHoldFails(t *testing.T) {
	h := newHarness(t, func(p *ServiceParams) {
		p.Outbox = failingOutbox{next: p.Outbox, event: enums.EventCheckoutItemWithdrawn}
	})
	stocked := h.stock(t, enums.CostingPolicyAverage, 10, 100)
	invID := stocked.Inventory.ID
	folder := h.folder(t)

	_, err := h.checkout.WithdrawToFolder(context.Background(), WithdrawInput{FolderID: folder.ID, InventoryID: invID, Quantity: 4})
	require.Error(t, err)
	assert.ErrorIs(t, err, errOops)
	assert.Equal(t, pkgerrors.CodeDependency, pkgerrors.As(err).Code())

	assert.Equal(t, 10, h.quantity(t, invID))
	var items int64
	require.NoError(t, h.conn.Model(&models.CheckoutItem{}).Count(&items).Error)
	assert.Zero(t, items)
	assert.Equal(t, float64(1), h.counter(t, "inventory_compensations_total", metrics.CompensationSucceeded))
	assert.Zero(t, h.counter(t, "inventory_consistency_alarms_total", ""))
	h.assertInSync(t, invID)
}

func TestWithdrawRaisesAlarmWhenCompensationFails(t *testing.T) {
	calls := 0
	h := newHarness(t, func(p *ServiceParams) {
		p.Outbox = failingOutbox{next: p.Outbox, event: enums.EventCheckoutItemWithdrawn}
		p.Inventories = flakyInventories{Repository: p.Inventories, failFrom: 2, calls: &calls}
	})
	stocked := h.stock(t, enums.CostingPolicyAverage, 10, 100)
	invID := stocked.Inventory.ID
	folder := h.folder(t)

	_, err := h.checkout.WithdrawToFolder(context.Background(), WithdrawInput{FolderID: folder.ID, InventoryID: invID, Quantity: 4})
	require.Error(t, err)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeConsistency, typed.Code())
	assert.True(t, pkgerrors.HasReason(err, pkgerrors.ReasonCompensationFailed))
	assert.ErrorIs(t, err, errOops)
	assert.ErrorIs(t, err, errReset)

	assert.Equal(t, 6, h.quantity(t, invID))
	assert.Equal(t, float64(1), h.counter(t, "inventory_compensations_total", metrics.CompensationFailed))
	assert.Equal(t, float64(1), h.counter(t, "inventory_consistency_alarms_total", ""))
}

func TestNewServiceRequiresDependencies(t *testing.T) {
	_, err := NewService(ServiceParams{})
	assert.Error(t, err)
}
