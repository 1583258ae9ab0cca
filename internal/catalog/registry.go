// Package catalog reads item identity and costing policy from the external
// catalog registry. The ledger never writes catalog rows.
package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/resale-ledger/pkg/db/models"
	"github.com/angelmondragon/resale-ledger/pkg/enums"
	pkgerrors "github.com/angelmondragon/resale-ledger/pkg/errors"
)

// Item is the slice of a catalog entry the ledger depends on.
type Item struct {
	ID            uuid.UUID           `json:"id"`
	Name          string              `json:"name"`
	CostingPolicy enums.CostingPolicy `json:"costing_policy"`
}

// Registry resolves catalog items.
type Registry interface {
	GetItem(ctx context.Context, itemID uuid.UUID) (*Item, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository reads catalog items from the shared catalog_items table.
func NewRepository(conn *gorm.DB) Registry {
	return &repository{db: conn}
}

func (r *repository) GetItem(ctx context.Context, itemID uuid.UUID) (*Item, error) {
	var row models.CatalogItem
	if err := r.db.WithContext(ctx).First(&row, "id = ?", itemID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.NotFound(pkgerrors.ReasonNotFound, fmt.Sprintf("catalog item %s not found", itemID))
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load catalog item")
	}
	policy, err := enums.ParseCostingPolicy(string(row.CostingPolicy))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "catalog item has an unknown costing policy")
	}
	return &Item{ID: row.ID, Name: row.Name, CostingPolicy: policy}, nil
}
