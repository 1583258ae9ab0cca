package registry

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/angelmondragon/resale-ledger/pkg/config"
	"github.com/angelmondragon/resale-ledger/pkg/db/models"
	"github.com/angelmondragon/resale-ledger/pkg/enums"
	"github.com/angelmondragon/resale-ledger/pkg/outbox"
	"github.com/angelmondragon/resale-ledger/pkg/outbox/payloads"
)

// EventDescriptor links an event type to its aggregate, topic and payload type.
type EventDescriptor struct {
	EventType      enums.OutboxEventType
	AggregateType  enums.OutboxAggregateType
	Topic          string
	PayloadFactory func() any
}

// ResolvedEvent is a validated outbox row with its payload decoded.
type ResolvedEvent struct {
	Descriptor EventDescriptor
	Envelope   outbox.PayloadEnvelope
	Payload    any
}

// NonRetryableError marks a row that will fail the same way on every attempt.
type NonRetryableError struct {
	Err error
}

func NewNonRetryableError(err error) NonRetryableError {
	return NonRetryableError{Err: err}
}

func (e NonRetryableError) Error() string {
	if e.Err == nil {
		return "non-retryable error"
	}
	return e.Err.Error()
}

func (e NonRetryableError) Unwrap() error { return e.Err }

func payload[T any]() func() any {
	return func() any { return new(T) }
}

type family struct {
	aggregate enums.OutboxAggregateType
	factory   func() any
	events    []enums.OutboxEventType
}

// families groups event types sharing an aggregate and payload shape.
var families = []family{
	{enums.AggregateLedgerEntry, payload[payloads.LedgerEntryRecordedEvent](),
		[]enums.OutboxEventType{enums.EventPurchaseRecorded, enums.EventSaleRecorded}},
	{enums.AggregateLedgerEntry, payload[payloads.LedgerEntryChangedEvent](),
		[]enums.OutboxEventType{enums.EventLedgerEdited, enums.EventLedgerDeleted}},
	{enums.AggregateInventory, payload[payloads.InventoryReconciledEvent](),
		[]enums.OutboxEventType{enums.EventInventoryReconciled}},
	{enums.AggregateInventory, payload[payloads.MarketPriceUpdatedEvent](),
		[]enums.OutboxEventType{enums.EventMarketPriceUpdated}},
	{enums.AggregateCheckoutItem, payload[payloads.CheckoutItemEvent](),
		[]enums.OutboxEventType{enums.EventCheckoutItemWithdrawn, enums.EventCheckoutItemResolved, enums.EventCheckoutItemUndone}},
	{enums.AggregateCheckoutFolder, payload[payloads.CheckoutFolderEvent](),
		[]enums.OutboxEventType{enums.EventCheckoutFolderClosed, enums.EventCheckoutFolderReopened}},
}

// EventRegistry maps each event type to its descriptor. Every event type in
// pkg/enums must have one, so an emitted row can always be resolved.
type EventRegistry struct {
	entries map[enums.OutboxEventType]EventDescriptor
}

// NewEventRegistry routes every event to the domain topic.
func NewEventRegistry(cfg config.PubSubConfig) (*EventRegistry, error) {
	if cfg.DomainTopic == "" {
		return nil, errors.New("domain topic is required")
	}
	reg := &EventRegistry{entries: map[enums.OutboxEventType]EventDescriptor{}}
	for _, fam := range families {
		for _, eventType := range fam.events {
			reg.entries[eventType] = EventDescriptor{
				EventType:      eventType,
				AggregateType:  fam.aggregate,
				Topic:          cfg.DomainTopic,
				PayloadFactory: fam.factory,
			}
		}
	}
	for _, eventType := range enums.OutboxEventTypes() {
		if _, ok := reg.entries[eventType]; !ok {
			return nil, fmt.Errorf("event type %s has no descriptor", eventType)
		}
	}
	return reg, nil
}

// Descriptor looks up the routing for an event type.
func (r *EventRegistry) Descriptor(eventType enums.OutboxEventType) (EventDescriptor, bool) {
	desc, ok := r.entries[eventType]
	return desc, ok
}

// Resolve validates the row and decodes its typed payload. Every failure is
// non-retryable: the row will not change between attempts.
func (r *EventRegistry) Resolve(event models.OutboxEvent) (*ResolvedEvent, error) {
	desc, ok := r.entries[event.EventType]
	switch {
	case !ok:
		return nil, NewNonRetryableError(fmt.Errorf("unsupported event type %s", event.EventType))
	case desc.AggregateType != event.AggregateType:
		return nil, NewNonRetryableError(fmt.Errorf("aggregate mismatch: expected %s got %s", desc.AggregateType, event.AggregateType))
	case event.AggregateID == uuid.Nil:
		return nil, NewNonRetryableError(errors.New("missing aggregate_id"))
	}

	envelope, err := outbox.DecodeEnvelope(event.Payload)
	if err != nil {
		return nil, NewNonRetryableError(fmt.Errorf("%s: %w", event.EventType, err))
	}
	body := desc.PayloadFactory()
	if err := json.Unmarshal(envelope.Data, body); err != nil {
		return nil, NewNonRetryableError(fmt.Errorf("decode %s payload: %w", event.EventType, err))
	}
	return &ResolvedEvent{Descriptor: desc, Envelope: envelope, Payload: body}, nil
}
