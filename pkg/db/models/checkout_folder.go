package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/resale-ledger/pkg/enums"
)

// CheckoutFolder groups checkout items handled together offline.
type CheckoutFolder struct {
	ID        uuid.UUID                  `gorm:"column:id;type:uuid;primaryKey"`
	Name      string                     `gorm:"column:name;not null"`
	Status    enums.CheckoutFolderStatus `gorm:"column:status;type:checkout_folder_status;not null"`
	Notes     *string                    `gorm:"column:notes"`
	ClosedAt  *time.Time                 `gorm:"column:closed_at"`
	CreatedAt time.Time                  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time                  `gorm:"column:updated_at;autoUpdateTime"`
	Items     []CheckoutItem             `gorm:"foreignKey:FolderID;references:ID"`
}

func (f *CheckoutFolder) BeforeCreate(*gorm.DB) error {
	ensureID(&f.ID)
	return nil
}

func (f CheckoutFolder) IsOpen() bool {
	return f.Status == enums.CheckoutFolderStatusOpen
}
