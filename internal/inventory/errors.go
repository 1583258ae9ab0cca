package inventory

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/resale-ledger/pkg/db/models"
	pkgerrors "github.com/angelmondragon/resale-ledger/pkg/errors"
)

func InsufficientStock(inv *models.Inventory, requested int) error {
	return pkgerrors.Conflict(pkgerrors.ReasonInsufficientStock, "insufficient stock", map[string]any{
		"inventory_id": inv.ID,
		"available":    inv.Quantity,
		"requested":    requested,
	})
}

func NotFound(id uuid.UUID) error {
	return pkgerrors.NotFound(pkgerrors.ReasonNotFound, fmt.Sprintf("inventory %s not found", id))
}

func LotNotFound(id uuid.UUID) error {
	return pkgerrors.NotFound(pkgerrors.ReasonLotNotFound, fmt.Sprintf("lot %s not found", id))
}

// MapLoadError turns a repository error into a typed not-found or dependency error.
func MapLoadError(err error, id uuid.UUID) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return NotFound(id)
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load inventory")
}

// LockKey names the critical section guarding one (item, condition) aggregate.
func LockKey(itemID uuid.UUID, condition string) string {
	return "inventory:" + itemID.String() + ":" + NormalizeCondition(condition)
}
