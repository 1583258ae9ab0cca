package inventory

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

// Basis is the per-unit cost attributed to units leaving stock.
type Basis struct {
	UnitCostCents    int64
	UnitExpenseCents int64
	// Lot is the locked lot row for lot-costed items, nil otherwise.
	Lot *models.Lot
}

// LotID returns the id of the attributed lot, if any.
func (b Basis) LotID() *uuid.UUID {
	if b.Lot == nil {
		return nil
	}
	id := b.Lot.ID
	return &id
}

// CostingStrategy resolves the cost basis for qty units of an aggregate.
// All validation happens here, before the caller mutates anything.
type CostingStrategy interface {
	Policy() enums.CostingPolicy
	CostBasis(ctx context.Context, inv *models.Inventory, qty int, lotID *uuid.UUID) (Basis, error)
}

// NewStrategy picks the strategy for a costing policy. The lot repository
// must be bound to the caller's transaction.
func NewStrategy(policy enums.CostingPolicy, lots LotRepository) (CostingStrategy, error) {
	switch policy {
	case enums.CostingPolicyAverage:
		return averageCosting{}, nil
	case enums.CostingPolicyLot:
		if lots == nil {
			return nil, fmt.Errorf("lot repository required")
		}
		return lotCosting{lots: lots}, nil
	default:
		return nil, fmt.Errorf("unsupported costing policy %q", policy)
	}
}

type averageCosting struct{}

func (averageCosting) Policy() enums.CostingPolicy { return enums.CostingPolicyAverage }

func (averageCosting) CostBasis(_ context.Context, inv *models.Inventory, _ int, lotID *uuid.UUID) (Basis, error) {
	if lotID != nil {
		return Basis{}, pkgerrors.Invalid("lot id not allowed for average-costed items", map[string]any{
			"inventory_id": inv.ID,
		})
	}
	return AverageBasis(inv), nil
}

type lotCosting struct {
	lots LotRepository
}

func (lotCosting) Policy() enums.CostingPolicy { return enums.CostingPolicyLot }

func (s lotCosting) CostBasis(ctx context.Context, inv *models.Inventory, qty int, lotID *uuid.UUID) (Basis, error) {
	if lotID == nil || *lotID == uuid.Nil {
		return Basis{}, pkgerrors.Conflict(pkgerrors.ReasonLotRequired, "lot id required for lot-costed items", map[string]any{
			"inventory_id": inv.ID,
		})
	}
	lot, err := s.lots.FindByIDForUpdate(ctx, *lotID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Basis{}, LotNotFound(*lotID)
		}
		return Basis{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load lot")
	}
	if lot.InventoryID != inv.ID {
		return Basis{}, LotNotFound(*lotID)
	}
	if lot.RemainingQty < qty {
		return Basis{}, pkgerrors.Conflict(pkgerrors.ReasonLotInsufficient, "lot has insufficient remaining quantity", map[string]any{
			"lot_id":    lot.ID,
			"available": lot.RemainingQty,
			"requested": qty,
		})
	}
	return Basis{
		UnitCostCents:    lot.UnitCostCents,
		UnitExpenseCents: lot.UnitExpenseCents,
		Lot:              lot,
	}, nil
}
