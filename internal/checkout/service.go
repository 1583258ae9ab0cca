// Package checkout manages holds on stock taken out of inventory for offline
// handling and resolves them into returns, sales or condition conversions.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/resale-ledger/internal/catalog"
	"github.com/angelmondragon/resale-ledger/internal/history"
	"github.com/angelmondragon/resale-ledger/internal/inventory"
	"github.com/angelmondragon/resale-ledger/internal/ledger"
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

const actorSource = "checkout"

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type purchaser interface {
	RecordPurchaseTx(ctx context.Context, tx *gorm.DB, input ledger.PurchaseInput, policy enums.CostingPolicy) (*ledger.Result, error)
}

type reconciler interface {
	Apply(ctx context.Context, tx *gorm.DB, inventoryID uuid.UUID, force ...uuid.UUID) (*reconcile.Result, error)
}

// Service executes the checkout workflow.
type Service interface {
	CreateFolder(ctx context.Context, input CreateFolderInput) (*models.CheckoutFolder, error)
	GetFolder(ctx context.Context, id uuid.UUID) (*models.CheckoutFolder, error)
	ListFolders(ctx context.Context, filter FolderFilter) ([]models.CheckoutFolder, error)
	CloseFolder(ctx context.Context, id uuid.UUID) (*models.CheckoutFolder, error)
	ReopenFolder(ctx context.Context, id uuid.UUID) (*models.CheckoutFolder, error)
	GetItem(ctx context.Context, id uuid.UUID) (*models.CheckoutItem, error)
	WithdrawToFolder(ctx context.Context, input WithdrawInput) (*models.CheckoutItem, error)
	// ReturnCheckoutItem puts qty units back on the shelf. A nil qty returns
	// the whole item.
	ReturnCheckoutItem(ctx context.Context, id uuid.UUID, qty *int, notes *string) (*models.CheckoutItem, error)
	SellCheckoutItem(ctx context.Context, id uuid.UUID, input SellInput) (*models.LedgerEntry, error)
	ConvertCheckoutItem(ctx context.Context, id uuid.UUID, input ConvertInput) (*models.CheckoutItem, error)
	UndoCheckoutItem(ctx context.Context, id uuid.UUID) (*models.CheckoutItem, error)
}

type CreateFolderInput struct {
	Name  string
	Notes *string
}

type WithdrawInput struct {
	FolderID    uuid.UUID
	InventoryID uuid.UUID
	Quantity    int
	LotID       *uuid.UUID
	Notes       *string
}

type SellInput struct {
	Quantity       *int
	SalePriceCents int64
	SoldAt         time.Time
	Notes          *string
}

type ConvertInput struct {
	Quantity        *int
	TargetCondition string
	Notes           *string
}

// ServiceParams bundles the dependencies required to build a checkout service.
type ServiceParams struct {
	Tx          txRunner
	Repo        Repository
	Entries     ledger.Repository
	Inventories inventory.Repository
	Lots        inventory.LotRepository
	History     history.Repository
	Catalog     catalog.Registry
	Ledger      purchaser
	Reconciler  reconciler
	Locker      lock.Locker
	Outbox      outboxPublisher
	Metrics     *metrics.LedgerMetrics
	Logger      *logger.Logger
	Now         func() time.Time
}

type service struct {
	tx          txRunner
	repo        Repository
	entries     ledger.Repository
	inventories inventory.Repository
	lots        inventory.LotRepository
	history     history.Repository
	catalog     catalog.Registry
	ledger      purchaser
	reconciler  reconciler
	locker      lock.Locker
	outbox      outboxPublisher
	metrics     *metrics.LedgerMetrics
	logg        *logger.Logger
	now         func() time.Time
}

// NewService builds the checkout service.
func NewService(params ServiceParams) (Service, error) {
	if params.Tx == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	if params.Repo == nil {
		return nil, fmt.Errorf("checkout repository required")
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
	if params.Ledger == nil {
		return nil, fmt.Errorf("ledger service required")
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
		tx:          params.Tx,
		repo:        params.Repo,
		entries:     params.Entries,
		inventories: params.Inventories,
		lots:        params.Lots,
		history:     params.History,
		catalog:     params.Catalog,
		ledger:      params.Ledger,
		reconciler:  params.Reconciler,
		locker:      params.Locker,
		outbox:      params.Outbox,
		metrics:     params.Metrics,
		logg:        params.Logger,
		now:         now,
	}, nil
}

func (s *service) CreateFolder(ctx context.Context, input CreateFolderInput) (result *models.CheckoutFolder, err error) {
	defer func() { s.finish(ctx, "create_folder", err) }()

	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, pkgerrors.Invalid("folder name required", map[string]any{"name": "required"})
	}
	folder := &models.CheckoutFolder{
		Name:   name,
		Status: enums.CheckoutFolderStatusOpen,
		Notes:  input.Notes,
	}
	if err := s.repo.CreateFolder(ctx, folder); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create checkout folder")
	}
	return folder, nil
}

func (s *service) GetFolder(ctx context.Context, id uuid.UUID) (*models.CheckoutFolder, error) {
	folder, err := s.repo.FindFolderWithItems(ctx, id)
	if err != nil {
		return nil, mapFolderError(err, id)
	}
	return folder, nil
}

func (s *service) ListFolders(ctx context.Context, filter FolderFilter) ([]models.CheckoutFolder, error) {
	if filter.Status != "" && !filter.Status.IsValid() {
		return nil, pkgerrors.Invalid("invalid folder status", map[string]any{"status": filter.Status})
	}
	folders, err := s.repo.ListFolders(ctx, filter)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list checkout folders")
	}
	return folders, nil
}

// CloseFolder closes a folder once every hold in it is resolved. Closing a
// closed folder is a no-op.
func (s *service) CloseFolder(ctx context.Context, id uuid.UUID) (result *models.CheckoutFolder, err error) {
	defer func() { s.finish(ctx, "close_folder", err) }()

	ctx = s.logg.WithFolderID(ctx, id.String())
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		folder, err := repo.FindFolderForUpdate(ctx, id)
		if err != nil {
			return mapFolderError(err, id)
		}
		result = folder
		if !folder.IsOpen() {
			return nil
		}
		pending, err := repo.CountPending(ctx, id)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "count pending items")
		}
		if pending > 0 {
			return pkgerrors.Conflict(pkgerrors.ReasonPendingItemsExist, "folder still has pending items", map[string]any{
				"folder_id":     id,
				"pending_items": pending,
			})
		}
		closedAt := s.now().UTC()
		folder.Status = enums.CheckoutFolderStatusClosed
		folder.ClosedAt = &closedAt
		if err := repo.SaveFolder(ctx, folder); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "save checkout folder")
		}
		return s.emit(ctx, tx, enums.EventCheckoutFolderClosed, enums.AggregateCheckoutFolder, folder.ID, payloads.CheckoutFolderEvent{
			FolderID: folder.ID,
			Status:   folder.Status,
			At:       closedAt,
		})
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *service) ReopenFolder(ctx context.Context, id uuid.UUID) (result *models.CheckoutFolder, err error) {
	defer func() { s.finish(ctx, "reopen_folder", err) }()

	ctx = s.logg.WithFolderID(ctx, id.String())
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		folder, err := repo.FindFolderForUpdate(ctx, id)
		if err != nil {
			return mapFolderError(err, id)
		}
		result = folder
		if folder.IsOpen() {
			return nil
		}
		folder.Status = enums.CheckoutFolderStatusOpen
		folder.ClosedAt = nil
		if err := repo.SaveFolder(ctx, folder); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "save checkout folder")
		}
		return s.emit(ctx, tx, enums.EventCheckoutFolderReopened, enums.AggregateCheckoutFolder, folder.ID, payloads.CheckoutFolderEvent{
			FolderID: folder.ID,
			Status:   folder.Status,
			At:       s.now().UTC(),
		})
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *service) GetItem(ctx context.Context, id uuid.UUID) (*models.CheckoutItem, error) {
	item, err := s.repo.FindItem(ctx, id)
	if err != nil {
		return nil, mapItemError(err, id)
	}
	return item, nil
}

// withLock holds every key for the duration of fn. Keys are taken in sorted order.
func (s *service) withLock(ctx context.Context, keys []string, fn func() error) error {
	lease, err := lock.AcquireAll(ctx, s.locker, keys...)
	if err != nil {
		return err
	}
	defer func() {
		if releaseErr := lease.Release(context.WithoutCancel(ctx)); releaseErr != nil {
			s.logg.Error(s.logg.WithField(ctx, "lock_keys", keys), "release inventory locks", releaseErr)
		}
	}()
	return fn()
}

func (s *service) finish(ctx context.Context, operation string, err error) {
	s.metrics.ObserveOperation(operation, err)
	if err == nil {
		return
	}
	ctx = s.logg.WithField(ctx, "operation", operation)
	typed := pkgerrors.As(err)
	switch {
	case pkgerrors.IsCode(err, pkgerrors.CodeConsistency):
		// already logged with full context where the alarm was raised
	case typed != nil && typed.Code() != pkgerrors.CodeInternal && typed.Code() != pkgerrors.CodeDependency:
		s.logg.Warn(s.logg.WithField(ctx, "reason", string(typed.Reason())), typed.Error())
	default:
		s.logg.Error(ctx, operation+" failed", err)
	}
}

func (s *service) loadFolder(ctx context.Context, id uuid.UUID) (*models.CheckoutFolder, error) {
	folder, err := s.repo.FindFolder(ctx, id)
	if err != nil {
		return nil, mapFolderError(err, id)
	}
	return folder, nil
}

func (s *service) loadInventory(ctx context.Context, id uuid.UUID) (*models.Inventory, error) {
	inv, err := s.inventories.FindByID(ctx, id)
	if err != nil {
		return nil, inventory.MapLoadError(err, id)
	}
	return inv, nil
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

func itemEvent(item *models.CheckoutItem, previous enums.CheckoutItemStatus) payloads.CheckoutItemEvent {
	return payloads.CheckoutItemEvent{
		CheckoutItemID: item.ID,
		FolderID:       item.FolderID,
		InventoryID:    item.InventoryID,
		LotID:          item.LotID,
		ParentItemID:   item.ParentItemID,
		Quantity:       item.Quantity,
		Status:         item.Status,
		PreviousStatus: previous,
		LedgerEntryID:  item.LedgerEntryID,
	}
}

func (s *service) recordHistory(ctx context.Context, tx *gorm.DB, change history.Change) error {
	if err := history.Record(ctx, s.history.WithTx(tx), change); err != nil {
		return storageError(err, "append history")
	}
	return nil
}

func mapFolderError(err error, id uuid.UUID) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.NotFound(pkgerrors.ReasonNotFound, fmt.Sprintf("checkout folder %s not found", id))
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load checkout folder")
}

func mapItemError(err error, id uuid.UUID) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.NotFound(pkgerrors.ReasonNotFound, fmt.Sprintf("checkout item %s not found", id))
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load checkout item")
}

func folderClosed(folder *models.CheckoutFolder) error {
	return pkgerrors.Conflict(pkgerrors.ReasonFolderClosed, "checkout folder is closed", map[string]any{
		"folder_id": folder.ID,
	})
}

func storageError(err error, msg string) error {
	if pkgerrors.As(err) != nil {
		return err
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, msg)
}
