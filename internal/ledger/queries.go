package ledger

import (
	"context"

	"github.com/google/uuid"

	"github.com/angelmondragon/resale-ledger/internal/reconcile"
	"github.com/angelmondragon/resale-ledger/pkg/db/models"
	pkgerrors "github.com/angelmondragon/resale-ledger/pkg/errors"
)

func (s *service) ListEntries(ctx context.Context, inventoryID uuid.UUID, opts ListOptions) ([]models.LedgerEntry, error) {
	if opts.Type != "" && !opts.Type.IsValid() {
		return nil, pkgerrors.Invalid("invalid ledger entry type", map[string]any{"type": opts.Type})
	}
	if _, err := s.loadInventory(ctx, inventoryID); err != nil {
		return nil, err
	}
	entries, err := s.entries.ListByInventory(ctx, inventoryID, opts)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list ledger entries")
	}
	return entries, nil
}

func (s *service) GetInventory(ctx context.Context, inventoryID uuid.UUID) (*InventoryView, error) {
	inv, err := s.loadInventory(ctx, inventoryID)
	if err != nil {
		return nil, err
	}
	lots, err := s.lots.ListByInventory(ctx, inventoryID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list lots")
	}
	return &InventoryView{Inventory: inv, Lots: lots}, nil
}

// Check reports drift between the stored aggregate and a replay. It never writes.
func (s *service) Check(ctx context.Context, inventoryID uuid.UUID) (*reconcile.Report, error) {
	report, err := s.reconciler.Check(ctx, inventoryID)
	if err != nil {
		return nil, err
	}
	if !report.InSync {
		s.logg.Warn(s.logg.WithInventoryID(ctx, inventoryID.String()), "inventory drift detected")
	}
	return report, nil
}

func (s *service) ListHistory(ctx context.Context, inventoryID uuid.UUID, limit int) ([]models.HistoryEntry, error) {
	if _, err := s.loadInventory(ctx, inventoryID); err != nil {
		return nil, err
	}
	if limit <= 0 || (s.historyLimit > 0 && limit > s.historyLimit) {
		limit = s.historyLimit
	}
	rows, err := s.history.ListByInventory(ctx, inventoryID, limit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list history")
	}
	return rows, nil
}
