// Package history stores the append-only audit trail of quantity changes.
package history

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/resale-ledger/pkg/db/models"
	"github.com/angelmondragon/resale-ledger/pkg/enums"
)

const defaultListLimit = 200

type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Append(ctx context.Context, entry *models.HistoryEntry) error
	ListByInventory(ctx context.Context, inventoryID uuid.UUID, limit int) ([]models.HistoryEntry, error)
	// DeleteByLedgerEntry removes the rows written for one ledger entry. It is
	// the only deletion path and is used when a checkout sale or conversion is
	// undone.
	DeleteByLedgerEntry(ctx context.Context, ledgerEntryID uuid.UUID) (int64, error)
}

type repository struct {
	db *gorm.DB
}

func NewRepository(conn *gorm.DB) Repository {
	return &repository{db: conn}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Append(ctx context.Context, entry *models.HistoryEntry) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

func (r *repository) ListByInventory(ctx context.Context, inventoryID uuid.UUID, limit int) ([]models.HistoryEntry, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	var rows []models.HistoryEntry
	if err := r.db.WithContext(ctx).
		Where("inventory_id = ?", inventoryID).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repository) DeleteByLedgerEntry(ctx context.Context, ledgerEntryID uuid.UUID) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("ledger_entry_id = ?", ledgerEntryID).
		Delete(&models.HistoryEntry{})
	return res.RowsAffected, res.Error
}

// Change describes one quantity movement to record.
type Change struct {
	InventoryID    uuid.UUID
	Action         enums.HistoryAction
	Before         int
	After          int
	LedgerEntryID  *uuid.UUID
	CheckoutItemID *uuid.UUID
	IsModification bool
	Notes          *string
}

// Entry builds the audit row for a change.
func (c Change) Entry() *models.HistoryEntry {
	return &models.HistoryEntry{
		InventoryID:    c.InventoryID,
		Action:         c.Action,
		QuantityChange: c.After - c.Before,
		QuantityBefore: c.Before,
		QuantityAfter:  c.After,
		LedgerEntryID:  c.LedgerEntryID,
		CheckoutItemID: c.CheckoutItemID,
		IsModification: c.IsModification,
		Notes:          c.Notes,
	}
}

// Record appends the audit row for a change.
func Record(ctx context.Context, repo Repository, change Change) error {
	return repo.Append(ctx, change.Entry())
}
