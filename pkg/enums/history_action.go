package enums

import "fmt"

// HistoryAction labels an inventory_history row.
type HistoryAction string

const (
	HistoryActionPurchase         HistoryAction = "purchase"
	HistoryActionSale             HistoryAction = "sale"
	HistoryActionLedgerEdit       HistoryAction = "ledger_edit"
	HistoryActionLedgerDelete     HistoryAction = "ledger_delete"
	HistoryActionReconcile        HistoryAction = "reconcile"
	HistoryActionCheckoutWithdraw HistoryAction = "checkout_withdraw"
	HistoryActionCheckoutReturn   HistoryAction = "checkout_return"
	HistoryActionCheckoutSell     HistoryAction = "checkout_sell"
	HistoryActionCheckoutConvert  HistoryAction = "checkout_convert"
	HistoryActionCheckoutUndo     HistoryAction = "checkout_undo"
	HistoryActionMarketPrice      HistoryAction = "market_price"
)

var validHistoryActions = []HistoryAction{
	HistoryActionPurchase,
	HistoryActionSale,
	HistoryActionLedgerEdit,
	HistoryActionLedgerDelete,
	HistoryActionReconcile,
	HistoryActionCheckoutWithdraw,
	HistoryActionCheckoutReturn,
	HistoryActionCheckoutSell,
	HistoryActionCheckoutConvert,
	HistoryActionCheckoutUndo,
	HistoryActionMarketPrice,
}

func (a HistoryAction) IsValid() bool {
	for _, candidate := range validHistoryActions {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseHistoryAction converts raw input into HistoryAction.
func ParseHistoryAction(value string) (HistoryAction, error) {
	for _, candidate := range validHistoryActions {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid history action %q", value)
}
