package enums

import "fmt"

// CheckoutFolderStatus maps to the checkout_folder_status enum in Postgres.
type CheckoutFolderStatus string

const (
	CheckoutFolderStatusOpen   CheckoutFolderStatus = "open"
	CheckoutFolderStatusClosed CheckoutFolderStatus = "closed"
)

func (s CheckoutFolderStatus) IsValid() bool {
	return s == CheckoutFolderStatusOpen || s == CheckoutFolderStatusClosed
}

// ParseCheckoutFolderStatus converts raw input into CheckoutFolderStatus.
func ParseCheckoutFolderStatus(value string) (CheckoutFolderStatus, error) {
	status := CheckoutFolderStatus(value)
	if !status.IsValid() {
		return "", fmt.Errorf("invalid checkout folder status %q", value)
	}
	return status, nil
}

// CheckoutItemStatus maps to the checkout_item_status enum in Postgres.
type CheckoutItemStatus string

const (
	CheckoutItemStatusPending   CheckoutItemStatus = "pending"
	CheckoutItemStatusReturned  CheckoutItemStatus = "returned"
	CheckoutItemStatusSold      CheckoutItemStatus = "sold"
	CheckoutItemStatusConverted CheckoutItemStatus = "converted"
)

var validCheckoutItemStatuses = []CheckoutItemStatus{
	CheckoutItemStatusPending,
	CheckoutItemStatusReturned,
	CheckoutItemStatusSold,
	CheckoutItemStatusConverted,
}

// IsValid reports whether the value matches the canonical checkout item enum.
func (s CheckoutItemStatus) IsValid() bool {
	for _, candidate := range validCheckoutItemStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the item has been resolved.
func (s CheckoutItemStatus) IsTerminal() bool {
	return s == CheckoutItemStatusReturned || s == CheckoutItemStatusSold || s == CheckoutItemStatusConverted
}

// HoldsStock reports whether units in this status are still off the shelf
// from the source aggregate's point of view.
func (s CheckoutItemStatus) HoldsStock() bool {
	return s == CheckoutItemStatusPending || s == CheckoutItemStatusSold || s == CheckoutItemStatusConverted
}

// HoldingCheckoutStatuses lists the statuses counted against source stock.
func HoldingCheckoutStatuses() []CheckoutItemStatus {
	return []CheckoutItemStatus{
		CheckoutItemStatusPending,
		CheckoutItemStatusSold,
		CheckoutItemStatusConverted,
	}
}

// ParseCheckoutItemStatus converts raw input into CheckoutItemStatus.
func ParseCheckoutItemStatus(value string) (CheckoutItemStatus, error) {
	for _, candidate := range validCheckoutItemStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid checkout item status %q", value)
}
