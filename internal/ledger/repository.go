package ledger

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/resale-ledger/pkg/db"
	"github.com/angelmondragon/resale-ledger/pkg/db/models"
	"github.com/angelmondragon/resale-ledger/pkg/enums"
	"github.com/angelmondragon/resale-ledger/pkg/pagination"
)

var entryPages = pagination.Bounds{Default: 50, Max: 500}

// ListOptions pages through an inventory's ledger, oldest first.
type ListOptions struct {
	Type   enums.LedgerEntryType
	Limit  int
	Offset int
}

func (o ListOptions) normalized() ListOptions {
	o.Limit, o.Offset = entryPages.Apply(o.Limit, o.Offset)
	return o
}

// Repository manages persistence for ledger entries.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, entry *models.LedgerEntry) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.LedgerEntry, error)
	FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.LedgerEntry, error)
	Save(ctx context.Context, entry *models.LedgerEntry) error
	Delete(ctx context.Context, id uuid.UUID) error
	ListByInventory(ctx context.Context, inventoryID uuid.UUID, opts ListOptions) ([]models.LedgerEntry, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a ledger repository bound to the provided database.
func NewRepository(conn *gorm.DB) Repository {
	return &repository{db: conn}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, entry *models.LedgerEntry) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.LedgerEntry, error) {
	var entry models.LedgerEntry
	if err := r.db.WithContext(ctx).First(&entry, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &entry, nil
}

func (r *repository) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.LedgerEntry, error) {
	var entry models.LedgerEntry
	if err := db.ForUpdate(r.db.WithContext(ctx)).First(&entry, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &entry, nil
}

func (r *repository) Save(ctx context.Context, entry *models.LedgerEntry) error {
	return r.db.WithContext(ctx).Save(entry).Error
}

func (r *repository) Delete(ctx context.Context, id uuid.UUID) error {
	res := r.db.WithContext(ctx).Delete(&models.LedgerEntry{}, "id = ?", id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *repository) ListByInventory(ctx context.Context, inventoryID uuid.UUID, opts ListOptions) ([]models.LedgerEntry, error) {
	opts = opts.normalized()
	query := r.db.WithContext(ctx).Where("inventory_id = ?", inventoryID)
	if opts.Type != "" {
		query = query.Where("type = ?", opts.Type)
	}
	var entries []models.LedgerEntry
	if err := query.
		Order("transaction_date ASC, created_at ASC, id ASC").
		Limit(opts.Limit).
		Offset(opts.Offset).
		Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}
