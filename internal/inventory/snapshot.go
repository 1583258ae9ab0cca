package inventory

import (
	"github.com/angelmondragon/resale-ledger/pkg/db/models"
	"github.com/angelmondragon/resale-ledger/pkg/outbox/payloads"
)

// Snapshot copies the figures published with inventory events.
func Snapshot(inv *models.Inventory) payloads.InventorySnapshot {
	return payloads.InventorySnapshot{
		InventoryID:                inv.ID,
		ItemID:                     inv.ItemID,
		Condition:                  inv.Condition,
		Quantity:                   inv.Quantity,
		AveragePurchasePriceCents:  inv.AveragePurchasePriceCents,
		TotalPurchased:             inv.TotalPurchased,
		AverageExpensePerUnitCents: inv.AverageExpensePerUnitCents,
	}
}
