package enums

import (
	"slices"
	"strings"
)

// OutboxAggregateType names the row an outbox event is about. Values match
// the aggregate_type_enum Postgres type.
type OutboxAggregateType string

const (
	AggregateInventory      OutboxAggregateType = "inventory"
	AggregateLedgerEntry    OutboxAggregateType = "ledger_entry"
	AggregateCheckoutFolder OutboxAggregateType = "checkout_folder"
	AggregateCheckoutItem   OutboxAggregateType = "checkout_item"
)

var aggregateTypes = []OutboxAggregateType{
	AggregateInventory,
	AggregateLedgerEntry,
	AggregateCheckoutFolder,
	AggregateCheckoutItem,
}

func (a OutboxAggregateType) IsValid() bool {
	return slices.Contains(aggregateTypes, a)
}

// OutboxEventType is "<domain>.<what happened>", matching event_type_enum.
type OutboxEventType string

const (
	EventPurchaseRecorded    OutboxEventType = "inventory.purchase_recorded"
	EventSaleRecorded        OutboxEventType = "inventory.sale_recorded"
	EventLedgerEdited        OutboxEventType = "inventory.ledger_edited"
	EventLedgerDeleted       OutboxEventType = "inventory.ledger_deleted"
	EventInventoryReconciled OutboxEventType = "inventory.reconciled"
	EventMarketPriceUpdated  OutboxEventType = "inventory.market_price_updated"

	EventCheckoutItemWithdrawn  OutboxEventType = "checkout.item_withdrawn"
	EventCheckoutItemResolved   OutboxEventType = "checkout.item_resolved"
	EventCheckoutItemUndone     OutboxEventType = "checkout.item_undone"
	EventCheckoutFolderClosed   OutboxEventType = "checkout.folder_closed"
	EventCheckoutFolderReopened OutboxEventType = "checkout.folder_reopened"
)

var eventTypes = []OutboxEventType{
	EventPurchaseRecorded,
	EventSaleRecorded,
	EventLedgerEdited,
	EventLedgerDeleted,
	EventInventoryReconciled,
	EventMarketPriceUpdated,
	EventCheckoutItemWithdrawn,
	EventCheckoutItemResolved,
	EventCheckoutItemUndone,
	EventCheckoutFolderClosed,
	EventCheckoutFolderReopened,
}

// OutboxEventTypes lists every event type in declaration order.
func OutboxEventTypes() []OutboxEventType {
	return slices.Clone(eventTypes)
}

func (e OutboxEventType) IsValid() bool {
	return slices.Contains(eventTypes, e)
}

// Domain is the part before the dot, "inventory" or "checkout".
func (e OutboxEventType) Domain() string {
	domain, _, _ := strings.Cut(string(e), ".")
	return domain
}

// OutboxDLQErrorReason records why a row was moved to outbox_dlq.
type OutboxDLQErrorReason string

const (
	OutboxDLQReasonMaxAttempts  OutboxDLQErrorReason = "max_attempts"
	OutboxDLQReasonNonRetryable OutboxDLQErrorReason = "non_retryable"
)

func (r OutboxDLQErrorReason) IsValid() bool {
	return r == OutboxDLQReasonMaxAttempts || r == OutboxDLQReasonNonRetryable
}
