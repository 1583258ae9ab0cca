package inventory

import (
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/resale-ledger/pkg/db/models"
)

var (
	rateScale = decimal.NewFromInt(10000)
	half      = decimal.New(5, -1)
)

// RoundDiv divides num by den rounding half away from zero. Only the final
// division of a computation goes through here so intermediate sums stay exact.
func RoundDiv(num, den int64) int64 {
	if den == 0 {
		return 0
	}
	if den < 0 {
		num, den = -num, -den
	}
	if num < 0 {
		return -((-num + den/2) / den)
	}
	return (num + den/2) / den
}

// ApplyPurchase folds a purchase of qty units at unitPrice into the aggregate.
func ApplyPurchase(inv *models.Inventory, qty int, unitPriceCents, expensesCents int64) {
	newTotal := inv.TotalPurchased + qty
	if inv.TotalPurchased == 0 {
		inv.AveragePurchasePriceCents = unitPriceCents
	} else {
		weighted := inv.AveragePurchasePriceCents*int64(inv.TotalPurchased) + unitPriceCents*int64(qty)
		inv.AveragePurchasePriceCents = RoundDiv(weighted, int64(newTotal))
	}
	inv.TotalPurchased = newTotal
	inv.TotalPurchaseCostCents += unitPriceCents * int64(qty)
	inv.TotalExpensesCents += expensesCents
	inv.AverageExpensePerUnitCents = RoundDiv(inv.TotalExpensesCents, int64(inv.TotalPurchased))
	inv.Quantity += qty
}

// ApplySale removes qty units from the aggregate. Nothing changes when the
// stock is short.
func ApplySale(inv *models.Inventory, qty int) error {
	if inv.Quantity < qty {
		return InsufficientStock(inv, qty)
	}
	inv.Quantity -= qty
	return nil
}

// SaleFigures are the derived numbers booked on a sale entry.
type SaleFigures struct {
	ProfitCents   int64
	ProfitRate    decimal.Decimal
	ExpensesCents int64
}

// ComputeSale prices a sale of qty units against a cost basis.
func ComputeSale(basis Basis, salePriceCents int64, qty int) SaleFigures {
	return SaleFigures{
		ProfitCents:   (salePriceCents - basis.UnitCostCents) * int64(qty),
		ProfitRate:    ProfitRate(salePriceCents, basis.UnitCostCents),
		ExpensesCents: basis.UnitExpenseCents * int64(qty),
	}
}

// ProfitRate returns the margin over cost as a percentage with two decimals.
// Halves round toward positive infinity, so a -0.005% margin reports 0.00.
func ProfitRate(salePriceCents, unitCostCents int64) decimal.Decimal {
	if unitCostCents == 0 {
		return decimal.Zero
	}
	margin := decimal.NewFromInt(salePriceCents - unitCostCents)
	return margin.Mul(rateScale).
		Div(decimal.NewFromInt(unitCostCents)).
		Add(half).
		Floor().
		Shift(-2)
}

// AverageBasis is the cost basis of an average-costed aggregate.
func AverageBasis(inv *models.Inventory) Basis {
	return Basis{
		UnitCostCents:    inv.AveragePurchasePriceCents,
		UnitExpenseCents: inv.AverageExpensePerUnitCents,
	}
}
