package inventory

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/resale-ledger/pkg/db"
	"github.com/angelmondragon/resale-ledger/pkg/db/models"
)

// LotRepository persists purchase lots of lot-costed aggregates.
type LotRepository interface {
	WithTx(tx *gorm.DB) LotRepository
	FindByID(ctx context.Context, id uuid.UUID) (*models.Lot, error)
	FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Lot, error)
	ListByInventory(ctx context.Context, inventoryID uuid.UUID) ([]models.Lot, error)
	Create(ctx context.Context, lot *models.Lot) error
	Save(ctx context.Context, lot *models.Lot) error
}

type lotRepository struct {
	db *gorm.DB
}

func NewLotRepository(conn *gorm.DB) LotRepository {
	return &lotRepository{db: conn}
}

func (r *lotRepository) WithTx(tx *gorm.DB) LotRepository {
	if tx == nil {
		return r
	}
	return &lotRepository{db: tx}
}

func (r *lotRepository) FindByID(ctx context.Context, id uuid.UUID) (*models.Lot, error) {
	var lot models.Lot
	if err := r.db.WithContext(ctx).First(&lot, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &lot, nil
}

func (r *lotRepository) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Lot, error) {
	var lot models.Lot
	if err := db.ForUpdate(r.db.WithContext(ctx)).First(&lot, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &lot, nil
}

func (r *lotRepository) ListByInventory(ctx context.Context, inventoryID uuid.UUID) ([]models.Lot, error) {
	var lots []models.Lot
	if err := r.db.WithContext(ctx).
		Where("inventory_id = ?", inventoryID).
		Order("created_at ASC, id ASC").
		Find(&lots).Error; err != nil {
		return nil, err
	}
	return lots, nil
}

func (r *lotRepository) Create(ctx context.Context, lot *models.Lot) error {
	return r.db.WithContext(ctx).Create(lot).Error
}

func (r *lotRepository) Save(ctx context.Context, lot *models.Lot) error {
	return r.db.WithContext(ctx).Save(lot).Error
}
