package checkout

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/resale-ledger/pkg/db"
	"github.com/angelmondragon/resale-ledger/pkg/db/models"
	"github.com/angelmondragon/resale-ledger/pkg/enums"
	"github.com/angelmondragon/resale-ledger/pkg/pagination"
)

var folderPages = pagination.Bounds{Default: 50, Max: 200}

// FolderFilter narrows ListFolders. An empty status lists every folder.
type FolderFilter struct {
	Status enums.CheckoutFolderStatus
	Limit  int
	Offset int
}

func (f FolderFilter) normalized() FolderFilter {
	f.Limit, f.Offset = folderPages.Apply(f.Limit, f.Offset)
	return f
}

// Repository persists checkout folders and the holds inside them.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	CreateFolder(ctx context.Context, folder *models.CheckoutFolder) error
	FindFolder(ctx context.Context, id uuid.UUID) (*models.CheckoutFolder, error)
	FindFolderWithItems(ctx context.Context, id uuid.UUID) (*models.CheckoutFolder, error)
	FindFolderForUpdate(ctx context.Context, id uuid.UUID) (*models.CheckoutFolder, error)
	ListFolders(ctx context.Context, filter FolderFilter) ([]models.CheckoutFolder, error)
	SaveFolder(ctx context.Context, folder *models.CheckoutFolder) error
	CountPending(ctx context.Context, folderID uuid.UUID) (int64, error)
	CreateItem(ctx context.Context, item *models.CheckoutItem) error
	FindItem(ctx context.Context, id uuid.UUID) (*models.CheckoutItem, error)
	FindItemForUpdate(ctx context.Context, id uuid.UUID) (*models.CheckoutItem, error)
	SaveItem(ctx context.Context, item *models.CheckoutItem) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds a checkout repository backed by the provided DB.
func NewRepository(conn *gorm.DB) Repository {
	if conn == nil {
		return nil
	}
	return &repository{db: conn}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) CreateFolder(ctx context.Context, folder *models.CheckoutFolder) error {
	return r.db.WithContext(ctx).Create(folder).Error
}

func (r *repository) FindFolder(ctx context.Context, id uuid.UUID) (*models.CheckoutFolder, error) {
	var folder models.CheckoutFolder
	if err := r.db.WithContext(ctx).First(&folder, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &folder, nil
}

func (r *repository) FindFolderWithItems(ctx context.Context, id uuid.UUID) (*models.CheckoutFolder, error) {
	var folder models.CheckoutFolder
	err := r.db.WithContext(ctx).
		Preload("Items", func(tx *gorm.DB) *gorm.DB {
			return tx.Order("created_at ASC, id ASC")
		}).
		First(&folder, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &folder, nil
}

func (r *repository) FindFolderForUpdate(ctx context.Context, id uuid.UUID) (*models.CheckoutFolder, error) {
	var folder models.CheckoutFolder
	if err := db.ForUpdate(r.db.WithContext(ctx)).First(&folder, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &folder, nil
}

func (r *repository) ListFolders(ctx context.Context, filter FolderFilter) ([]models.CheckoutFolder, error) {
	filter = filter.normalized()
	query := r.db.WithContext(ctx).Model(&models.CheckoutFolder{})
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	var folders []models.CheckoutFolder
	if err := query.
		Order("created_at DESC, id DESC").
		Limit(filter.Limit).
		Offset(filter.Offset).
		Find(&folders).Error; err != nil {
		return nil, err
	}
	return folders, nil
}

func (r *repository) SaveFolder(ctx context.Context, folder *models.CheckoutFolder) error {
	return r.db.WithContext(ctx).Omit("Items").Save(folder).Error
}

func (r *repository) CountPending(ctx context.Context, folderID uuid.UUID) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.CheckoutItem{}).
		Where("folder_id = ? AND status = ?", folderID, enums.CheckoutItemStatusPending).
		Count(&count).Error
	return count, err
}

func (r *repository) CreateItem(ctx context.Context, item *models.CheckoutItem) error {
	return r.db.WithContext(ctx).Create(item).Error
}

func (r *repository) FindItem(ctx context.Context, id uuid.UUID) (*models.CheckoutItem, error) {
	var item models.CheckoutItem
	if err := r.db.WithContext(ctx).First(&item, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &item, nil
}

func (r *repository) FindItemForUpdate(ctx context.Context, id uuid.UUID) (*models.CheckoutItem, error) {
	var item models.CheckoutItem
	if err := db.ForUpdate(r.db.WithContext(ctx)).First(&item, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &item, nil
}

func (r *repository) SaveItem(ctx context.Context, item *models.CheckoutItem) error {
	return r.db.WithContext(ctx).Save(item).Error
}
