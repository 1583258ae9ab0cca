package inventory

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/resale-ledger/pkg/db"
	"github.com/angelmondragon/resale-ledger/pkg/db/models"
)

// Repository persists inventory aggregates.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindByID(ctx context.Context, id uuid.UUID) (*models.Inventory, error)
	FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Inventory, error)
	FindByKeyForUpdate(ctx context.Context, itemID uuid.UUID, condition string) (*models.Inventory, error)
	ListByItem(ctx context.Context, itemID uuid.UUID) ([]models.Inventory, error)
	Create(ctx context.Context, inv *models.Inventory) error
	Save(ctx context.Context, inv *models.Inventory) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns an inventory repository bound to the provided database.
func NewRepository(conn *gorm.DB) Repository {
	return &repository{db: conn}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Inventory, error) {
	var inv models.Inventory
	if err := r.db.WithContext(ctx).First(&inv, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &inv, nil
}

func (r *repository) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Inventory, error) {
	var inv models.Inventory
	if err := db.ForUpdate(r.db.WithContext(ctx)).First(&inv, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &inv, nil
}

func (r *repository) FindByKeyForUpdate(ctx context.Context, itemID uuid.UUID, condition string) (*models.Inventory, error) {
	var inv models.Inventory
	err := db.ForUpdate(r.db.WithContext(ctx)).
		Where("item_id = ? AND condition = ?", itemID, NormalizeCondition(condition)).
		First(&inv).Error
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

func (r *repository) ListByItem(ctx context.Context, itemID uuid.UUID) ([]models.Inventory, error) {
	var rows []models.Inventory
	if err := r.db.WithContext(ctx).
		Where("item_id = ?", itemID).
		Order("condition ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repository) Create(ctx context.Context, inv *models.Inventory) error {
	inv.Condition = NormalizeCondition(inv.Condition)
	return r.db.WithContext(ctx).Create(inv).Error
}

func (r *repository) Save(ctx context.Context, inv *models.Inventory) error {
	return r.db.WithContext(ctx).Save(inv).Error
}

// NormalizeCondition trims the free-form condition label. Conditions are
// compared case-sensitively once trimmed.
func NormalizeCondition(condition string) string {
	return strings.TrimSpace(condition)
}
