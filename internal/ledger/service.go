// Package ledger records purchases and sales against inventory aggregates and
// routes corrections of history through the reconciliation engine.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/resale-ledger/internal/catalog"
	"github.com/angelmondragon/resale-ledger/internal/history"
	"github.com/angelmondragon/resale-ledger/internal/inventory"
	"github.com/angelmondragon/resale-ledger/internal/reconcile"
	"github.com/angelmondragon/resale-ledger/pkg/db/models"
	"github.com/angelmondragon/resale-ledger/pkg/enums"
	pkgerrors "github.com/angelmondragon/resale-ledger/pkg/errors"
	"github.com/angelmondragon/resale-ledger/pkg/lock"
	"github.com/angelmondragon/resale-ledger/pkg/logger"
	"github.com/angelmondragon/resale-ledger/pkg/metrics"
	"github.com/angelmondragon/resale-ledger/pkg/outbox"
	"github.com/angelmondragon/resale-ledger/pkg/outbox/payloads"
)

const actorSource = "ledger"

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type reconciler interface {
	Apply(ctx context.Context, tx *gorm.DB, inventoryID uuid.UUID, force ...uuid.UUID) (*reconcile.Result, error)
	Check(ctx context.Context, inventoryID uuid.UUID) (*reconcile.Report, error)
}

// Service defines the ledger operations exposed to callers.
type Service interface {
	RecordPurchase(ctx context.Context, input PurchaseInput) (*Result, error)
	// RecordPurchaseTx books a purchase inside tx. The caller must already
	// hold the lock for the target (item, condition) and supply the item's
	// costing policy.
	RecordPurchaseTx(ctx context.Context, tx *gorm.DB, input PurchaseInput, policy enums.CostingPolicy) (*Result, error)
	RecordSale(ctx context.Context, input SaleInput) (*Result, error)
	EditLedgerEntry(ctx context.Context, id uuid.UUID, input EditInput) (*models.Inventory, error)
	DeleteLedgerEntry(ctx context.Context, id uuid.UUID) (*models.Inventory, error)
	ListEntries(ctx context.Context, inventoryID uuid.UUID, opts ListOptions) ([]models.LedgerEntry, error)
	GetInventory(ctx context.Context, inventoryID uuid.UUID) (*InventoryView, error)
	SetMarketPrice(ctx context.Context, inventoryID uuid.UUID, marketPriceCents *int64) (*models.Inventory, error)
	Reconcile(ctx context.Context, inventoryID uuid.UUID) (*reconcile.Result, error)
	Check(ctx context.Context, inventoryID uuid.UUID) (*reconcile.Report, error)
	ListHistory(ctx context.Context, inventoryID uuid.UUID, limit int) ([]models.HistoryEntry, error)
}

// LotDetails describes the lot opened by a purchase of a lot-costed item.
type LotDetails struct {
	Label string
	// UnitExpenseCents overrides the per-unit expense; entry expenses then
	// become UnitExpenseCents × quantity.
	UnitExpenseCents *int64
}

type PurchaseInput struct {
	ItemID          uuid.UUID
	Condition       string
	Quantity        int
	UnitPriceCents  int64
	ExpensesCents   int64
	TransactionDate time.Time
	Lot             *LotDetails
	Notes           *string
	// CheckoutItemID marks purchases booked by a checkout conversion. Such
	// entries are managed by the checkout workflow and cannot be edited.
	CheckoutItemID *uuid.UUID
}

type SaleInput struct {
	InventoryID     uuid.UUID
	Quantity        int
	UnitPriceCents  int64
	LotID           *uuid.UUID
	TransactionDate time.Time
	Notes           *string
}

// EditInput carries the fields to overwrite; nil fields are kept.
type EditInput struct {
	Quantity        *int
	UnitPriceCents  *int64
	ExpensesCents   *int64
	TransactionDate *time.Time
	Notes           *string
}

func (in EditInput) empty() bool {
	return in.Quantity == nil && in.UnitPriceCents == nil && in.ExpensesCents == nil &&
		in.TransactionDate == nil && in.Notes == nil
}

// Result is the booked entry and the aggregate right after it.
type Result struct {
	Entry     *models.LedgerEntry
	Inventory *models.Inventory
	Lot       *models.Lot
	Backdated bool
}

// InventoryView is an aggregate with its lots.
type InventoryView struct {
	Inventory *models.Inventory
	Lots      []models.Lot
}

// ServiceParams bundles the dependencies required to build a ledger service.
type ServiceParams struct {
	Tx           txRunner
	Entries      Repository
	Inventories  inventory.Repository
	Lots         inventory.LotRepository
	History      history.Repository
	Catalog      catalog.Registry
	Reconciler   reconciler
	Locker       lock.Locker
	Outbox       outboxPublisher
	Metrics      *metrics.LedgerMetrics
	Logger       *logger.Logger
	HistoryLimit int
	Now          func() time.Time
}

type service struct {
	tx           txRunner
	entries      Repository
	inventories  inventory.Repository
	lots         inventory.LotRepository
	history      history.Repository
	catalog      catalog.Registry
	reconciler   reconciler
	locker       lock.Locker
	outbox       outboxPublisher
	metrics      *metrics.LedgerMetrics
	logg         *logger.Logger
	historyLimit int
	now          func() time.Time
}

// NewService wires a ledger service with the provided dependencies.
func NewService(params ServiceParams) (Service, error) {
	if params.Tx == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	if params.Entries == nil {
		return nil, fmt.Errorf("ledger repository required")
	}
	if params.Inventories == nil {
		return nil, fmt.Errorf("inventory repository required")
	}
	if params.Lots == nil {
		return nil, fmt.Errorf("lot repository required")
	}
	if params.History == nil {
		return nil, fmt.Errorf("history repository required")
	}
	if params.Catalog == nil {
		return nil, fmt.Errorf("catalog registry required")
	}
	if params.Reconciler == nil {
		return nil, fmt.Errorf("reconciler required")
	}
	if params.Locker == nil {
		return nil, fmt.Errorf("locker required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &service{
		tx:           params.Tx,
		entries:      params.Entries,
		inventories:  params.Inventories,
		lots:         params.Lots,
		history:      params.History,
		catalog:      params.Catalog,
		reconciler:   params.Reconciler,
		locker:       params.Locker,
		outbox:       params.Outbox,
		metrics:      params.Metrics,
		logg:         params.Logger,
		historyLimit: params.HistoryLimit,
		now:          now,
	}, nil
}

// withLock runs fn while holding the aggregate's critical section.
func (s *service) withLock(ctx context.Context, key string, fn func() error) error {
	lease, err := s.locker.Acquire(ctx, key)
	if err != nil {
		return err
	}
	defer func() {
		if releaseErr := lease.Release(context.WithoutCancel(ctx)); releaseErr != nil {
			s.logg.Error(s.logg.WithField(ctx, "lock_key", key), "release inventory lock", releaseErr)
		}
	}()
	return fn()
}

// finish records the outcome of an operation. Rejections are logged at warn
// level, storage faults at error level.
func (s *service) finish(ctx context.Context, operation string, err error) {
	s.metrics.ObserveOperation(operation, err)
	if err == nil {
		return
	}
	ctx = s.logg.WithField(ctx, "operation", operation)
	typed := pkgerrors.As(err)
	if typed != nil && typed.Code() != pkgerrors.CodeInternal && typed.Code() != pkgerrors.CodeDependency {
		s.logg.Warn(s.logg.WithField(ctx, "reason", string(typed.Reason())), typed.Error())
		return
	}
	s.logg.Error(ctx, operation+" failed", err)
}

func (s *service) transactionDate(at time.Time) time.Time {
	if at.IsZero() {
		return s.now().UTC()
	}
	return at.UTC()
}

func (s *service) loadInventory(ctx context.Context, id uuid.UUID) (*models.Inventory, error) {
	inv, err := s.inventories.FindByID(ctx, id)
	if err != nil {
		return nil, inventory.MapLoadError(err, id)
	}
	return inv, nil
}

func (s *service) loadEntry(ctx context.Context, id uuid.UUID) (*models.LedgerEntry, error) {
	entry, err := s.entries.FindByID(ctx, id)
	if err != nil {
		return nil, mapEntryError(err, id)
	}
	return entry, nil
}

func (s *service) policyFor(ctx context.Context, itemID uuid.UUID) (enums.CostingPolicy, error) {
	item, err := s.catalog.GetItem(ctx, itemID)
	if err != nil {
		return "", err
	}
	return item.CostingPolicy, nil
}

func (s *service) emit(ctx context.Context, tx *gorm.DB, eventType enums.OutboxEventType, aggregateType enums.OutboxAggregateType, aggregateID uuid.UUID, data any) error {
	err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     eventType,
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		Actor:         &outbox.ActorRef{Source: actorSource},
		Data:          data,
	})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "queue domain event")
	}
	return nil
}

func mapEntryError(err error, id uuid.UUID) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.NotFound(pkgerrors.ReasonNotFound, fmt.Sprintf("ledger entry %s not found", id))
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load ledger entry")
}

func checkoutManaged(entry *models.LedgerEntry) error {
	return pkgerrors.Conflict(pkgerrors.ReasonCheckoutManaged, "entry is managed by a checkout item; undo the checkout resolution instead", map[string]any{
		"entry_id":         entry.ID,
		"checkout_item_id": entry.CheckoutItemID,
	})
}

func storageError(err error, msg string) error {
	if pkgerrors.As(err) != nil {
		return err
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, msg)
}

func entryEvent(entry *models.LedgerEntry, inv *models.Inventory, backdated bool) payloads.LedgerEntryRecordedEvent {
	return payloads.LedgerEntryRecordedEvent{
		EntryID:         entry.ID,
		Type:            entry.Type,
		Quantity:        entry.Quantity,
		UnitPriceCents:  entry.UnitPriceCents,
		ProfitCents:     entry.ProfitCents,
		LotID:           entry.LotID,
		TransactionDate: entry.TransactionDate,
		Backdated:       backdated,
		Inventory:       inventory.Snapshot(inv),
	}
}

func isBackdated(inv *models.Inventory, at time.Time) bool {
	return inv.LastTransactionAt != nil && at.Before(*inv.LastTransactionAt)
}

func advanceLastTransaction(inv *models.Inventory, at time.Time) {
	if inv.LastTransactionAt == nil || at.After(*inv.LastTransactionAt) {
		t := at
		inv.LastTransactionAt = &t
	}
}
