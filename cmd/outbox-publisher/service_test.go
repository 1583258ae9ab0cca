package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"

	"github.com/angelmondragon/resale-ledger/pkg/config"
	"github.com/angelmondragon/resale-ledger/pkg/db/models"
	"github.com/angelmondragon/resale-ledger/pkg/enums"
	"github.com/angelmondragon/resale-ledger/pkg/logger"
	"github.com/angelmondragon/resale-ledger/pkg/metrics"
	"github.com/angelmondragon/resale-ledger/pkg/outbox"
	"github.com/angelmondragon/resale-ledger/pkg/outbox/payloads"
	"github.com/angelmondragon/resale-ledger/pkg/outbox/registry"
)

func TestServiceProcessBatchContinuesAfterFailure(t *testing.T) {
	repo := &fakeRepo{
		events: []models.OutboxEvent{
			saleEvent(t, "event-one", 0),
			saleEvent(t, "event-two", 0),
		},
	}
	pub := &fakePublisher{
		results: []publishResult{
			fakePublishResult{err: errors.New("transient")},
			fakePublishResult{},
		},
	}
	dlqRepo := &fakeDLQRepo{}
	service, reg := newTestService(t, repo, pub, saleRegistry(), dlqRepo, nil)

	processed, err := service.processBatch(context.Background())
	if err != nil {
		t.Fatalf("process batch returned error: %v", err)
	}
	if !processed {
		t.Fatalf("expected batch to report processed")
	}
	if got := len(repo.failed); got != 1 {
		t.Fatalf("unexpected number of failed rows: %d", got)
	}
	if got := len(repo.published); got != 1 {
		t.Fatalf("unexpected number of published rows: %d", got)
	}
	if repo.failed[0] != repo.events[0].ID {
		t.Fatalf("failed row recorded wrong ID")
	}
	if repo.published[0] != repo.events[1].ID {
		t.Fatalf("published row recorded wrong ID")
	}
	if len(dlqRepo.entries) != 0 {
		t.Fatalf("transient failure should not dead-letter")
	}

	eventType := string(enums.EventSaleRecorded)
	if got := counterValue(t, reg, "outbox_events_published_total", map[string]string{"event_type": eventType}); got != 1 {
		t.Fatalf("expected published=1, got %f", got)
	}
	if got := counterValue(t, reg, "outbox_publish_failures_total", map[string]string{"event_type": eventType}); got != 1 {
		t.Fatalf("expected failed=1, got %f", got)
	}
}

func TestServiceOrderingHoldsBackFailedAggregate(t *testing.T) {
	first := saleEvent(t, "event-one", 0)
	second := saleEvent(t, "event-two", 0)
	second.AggregateID = first.AggregateID
	other := saleEvent(t, "event-three", 0)

	repo := &fakeRepo{events: []models.OutboxEvent{first, second, other}}
	pub := &fakePublisher{results: []publishResult{
		fakePublishResult{err: errors.New("transient")},
		fakePublishResult{},
	}}
	service, _ := newTestService(t, repo, pub, saleRegistry(), &fakeDLQRepo{}, &config.OutboxConfig{BatchSize: 10, MaxAttempts: 5})
	service.ordering = true

	if _, err := service.processBatch(context.Background()); err != nil {
		t.Fatalf("process batch returned error: %v", err)
	}
	if len(pub.sent) != 2 {
		t.Fatalf("expected the held row to be skipped, sent %d messages", len(pub.sent))
	}
	if pub.sent[0].OrderingKey != first.AggregateID.String() {
		t.Fatalf("expected aggregate ordering key, got %q", pub.sent[0].OrderingKey)
	}
	if len(pub.resumed) != 1 || pub.resumed[0] != first.AggregateID.String() {
		t.Fatalf("expected the failed key to be resumed, got %v", pub.resumed)
	}
	if len(repo.failed) != 1 || repo.failed[0] != first.ID {
		t.Fatalf("expected only the first row marked failed, got %v", repo.failed)
	}
	if len(repo.published) != 1 || repo.published[0] != other.ID {
		t.Fatalf("expected the unrelated aggregate to publish, got %v", repo.published)
	}
}

func TestServiceWithoutOrderingLeavesKeyEmpty(t *testing.T) {
	pub := &fakePublisher{results: []publishResult{fakePublishResult{}}}
	service, _ := newTestService(t, &fakeRepo{events: []models.OutboxEvent{saleEvent(t, "event-one", 0)}}, pub, saleRegistry(), &fakeDLQRepo{}, nil)

	if _, err := service.processBatch(context.Background()); err != nil {
		t.Fatalf("process batch returned error: %v", err)
	}
	if len(pub.sent) != 1 || pub.sent[0].OrderingKey != "" {
		t.Fatalf("expected one unordered message, got %+v", pub.sent)
	}
}

func TestServiceProcessBatchReportsIdleWhenEmpty(t *testing.T) {
	service, _ := newTestService(t, &fakeRepo{}, &fakePublisher{}, saleRegistry(), &fakeDLQRepo{}, nil)

	processed, err := service.processBatch(context.Background())
	if err != nil {
		t.Fatalf("process batch returned error: %v", err)
	}
	if processed {
		t.Fatalf("empty batch should not report processed")
	}
}

func TestServicePublishSetsRoutingAttributes(t *testing.T) {
	inventoryID := uuid.New()
	event := models.OutboxEvent{
		ID:            uuid.New(),
		EventType:     enums.EventPurchaseRecorded,
		AggregateType: enums.AggregateInventory,
		AggregateID:   inventoryID,
		Payload:       mustEnvelopePayload(t, "purchase"),
		CreatedAt:     time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	pub := &fakePublisher{results: []publishResult{fakePublishResult{}}}
	resolver := &fakeRegistry{resolved: &registry.ResolvedEvent{
		Descriptor: registry.EventDescriptor{Topic: "ledger-domain"},
		Envelope: outbox.PayloadEnvelope{
			Actor: &outbox.ActorRef{Source: "api", RequestID: "req-1"},
		},
		Payload: &payloads.LedgerEntryRecordedEvent{},
	}}
	service, _ := newTestService(t, &fakeRepo{events: []models.OutboxEvent{event}}, pub, resolver, &fakeDLQRepo{}, nil)
	var topics []string
	service.publisherFactory = func(topic string) publisher {
		topics = append(topics, topic)
		return pub
	}

	if _, err := service.processBatch(context.Background()); err != nil {
		t.Fatalf("process batch returned error: %v", err)
	}
	if len(topics) != 1 || topics[0] != "ledger-domain" {
		t.Fatalf("unexpected topics %v", topics)
	}
	if len(pub.sent) != 1 {
		t.Fatalf("expected one message, got %d", len(pub.sent))
	}
	msg := pub.sent[0]
	if !bytes.Equal(msg.Data, event.Payload) {
		t.Fatalf("message data should be the stored envelope")
	}
	want := map[string]string{
		"event_type":     string(enums.EventPurchaseRecorded),
		"domain":         "inventory",
		"aggregate_type": string(enums.AggregateInventory),
		"aggregate_id":   inventoryID.String(),
		"inventory_id":   inventoryID.String(),
		"source":         messageSource,
		"actor":          "api",
		"created_at":     "2026-03-01T12:00:00Z",
	}
	for key, value := range want {
		if msg.Attributes[key] != value {
			t.Fatalf("attribute %s = %q, want %q", key, msg.Attributes[key], value)
		}
	}
}

func TestServiceProcessBatchWritesDLQOnNonRetryable(t *testing.T) {
	event := models.OutboxEvent{
		ID:            uuid.New(),
		EventType:     enums.EventCheckoutItemWithdrawn,
		AggregateType: enums.AggregateCheckoutItem,
		AggregateID:   uuid.New(),
		Payload:       mustEnvelopePayload(t, "nonretryable"),
	}
	repo := &fakeRepo{events: []models.OutboxEvent{event}}
	resolver := &fakeRegistry{err: registry.NewNonRetryableError(errors.New("invalid payload"))}
	dlqRepo := &fakeDLQRepo{}
	service, reg := newTestService(t, repo, &fakePublisher{}, resolver, dlqRepo, nil)

	processed, err := service.processBatch(context.Background())
	if err != nil {
		t.Fatalf("process batch returned error: %v", err)
	}
	if !processed {
		t.Fatalf("expected batch to report processed")
	}
	if got := len(dlqRepo.entries); got != 1 {
		t.Fatalf("expected dlq entry, got %d", got)
	}
	entry := dlqRepo.entries[0]
	if entry.EventID != event.ID {
		t.Fatalf("dlq event_id mismatch: %s", entry.EventID)
	}
	if entry.Payload == nil || !bytes.Equal(entry.Payload, event.Payload) {
		t.Fatalf("dlq payload mismatch")
	}
	if entry.ErrorReason != enums.OutboxDLQReasonNonRetryable {
		t.Fatalf("unexpected error reason: %s", entry.ErrorReason)
	}
	if entry.ErrorMessage == nil || *entry.ErrorMessage == "" {
		t.Fatalf("expected dlq error message")
	}
	if len(repo.terminal) != 1 || repo.terminal[0] != event.ID {
		t.Fatalf("expected row marked terminal")
	}
	got := counterValue(t, reg, "outbox_events_dead_lettered_total", map[string]string{
		"event_type": string(enums.EventCheckoutItemWithdrawn),
		"reason":     string(enums.OutboxDLQReasonNonRetryable),
	})
	if got != 1 {
		t.Fatalf("expected dead_lettered=1, got %f", got)
	}
}

func TestServiceProcessBatchWritesDLQOnMaxAttempts(t *testing.T) {
	event := saleEvent(t, "max-attempts", 1)
	repo := &fakeRepo{events: []models.OutboxEvent{event}}
	pub := &fakePublisher{
		results: []publishResult{
			fakePublishResult{err: errors.New("transient")},
		},
	}
	dlqRepo := &fakeDLQRepo{}
	service, _ := newTestService(t, repo, pub, saleRegistry(), dlqRepo, &config.OutboxConfig{
		BatchSize:      1,
		PollIntervalMS: 100,
		MaxAttempts:    2,
	})

	processed, err := service.processBatch(context.Background())
	if err != nil {
		t.Fatalf("process batch returned error: %v", err)
	}
	if !processed {
		t.Fatalf("expected batch to report processed")
	}
	if got := len(dlqRepo.entries); got != 1 {
		t.Fatalf("expected dlq entry, got %d", got)
	}
	entry := dlqRepo.entries[0]
	if entry.EventID != event.ID {
		t.Fatalf("dlq event_id mismatch: %s", entry.EventID)
	}
	if entry.ErrorReason != enums.OutboxDLQReasonMaxAttempts {
		t.Fatalf("unexpected error reason: %s", entry.ErrorReason)
	}
	if len(repo.failed) != 0 {
		t.Fatalf("terminal row should not be marked as retryable failure")
	}
}

func TestServiceProcessBatchPropagatesBookkeepingErrors(t *testing.T) {
	repo := &fakeRepo{
		events:     []models.OutboxEvent{saleEvent(t, "bookkeeping", 0)},
		publishErr: errors.New("db gone"),
	}
	pub := &fakePublisher{results: []publishResult{fakePublishResult{}}}
	service, _ := newTestService(t, repo, pub, saleRegistry(), &fakeDLQRepo{}, nil)

	if _, err := service.processBatch(context.Background()); err == nil {
		t.Fatalf("expected mark published failure to abort the batch")
	}
}

func TestNextBackoffCapsAtMax(t *testing.T) {
	base := 100 * time.Millisecond
	if got := nextBackoff(0, base, time.Second); got != 200*time.Millisecond {
		t.Fatalf("unexpected first backoff %s", got)
	}
	if got := nextBackoff(800*time.Millisecond, base, time.Second); got != time.Second {
		t.Fatalf("expected cap, got %s", got)
	}
}

func TestNewServiceRequiresDLQRepository(t *testing.T) {
	_, err := NewService(ServiceParams{
		Config:     &config.Config{},
		Logger:     logger.New(logger.Options{Output: io.Discard}),
		DB:         &fakeDB{},
		PubSub:     &fakePubSubClient{},
		Repository: &fakeRepo{},
		Registry:   &fakeRegistry{},
	})
	if err == nil {
		t.Fatalf("expected missing dlq repository to fail")
	}
}

// counterValue reads one series back from the registry; missing series read
// as zero.
func counterValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
	next:
		for _, metric := range mf.GetMetric() {
			for _, pair := range metric.GetLabel() {
				if labels[pair.GetName()] != pair.GetValue() {
					continue next
				}
			}
			return metric.GetCounter().GetValue()
		}
	}
	return 0
}

func newTestService(t *testing.T, repo outboxRepository, pub publisher, resolver registryResolver, dlq dlqRepository, outboxCfgOverride *config.OutboxConfig) (*Service, *prometheus.Registry) {
	outboxCfg := config.OutboxConfig{
		BatchSize:      2,
		PollIntervalMS: 100,
		MaxAttempts:    5,
	}
	if outboxCfgOverride != nil {
		outboxCfg = *outboxCfgOverride
	}
	cfg := &config.Config{
		Outbox: outboxCfg,
	}
	logg := logger.New(logger.Options{
		ServiceName: "outbox-publisher-test",
		Output:      io.Discard,
	})
	reg := prometheus.NewRegistry()
	service, err := NewService(ServiceParams{
		Config:           cfg,
		Logger:           logg,
		DB:               &fakeDB{},
		PubSub:           &fakePubSubClient{},
		Repository:       repo,
		Registry:         resolver,
		PublisherFactory: func(_ string) publisher { return pub },
		DLQRepository:    dlq,
		Metrics:          metrics.NewPublisherMetrics(reg),
		Now:              func() time.Time { return time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC) },
	})
	if err != nil {
		t.Fatalf("failed to construct service: %v", err)
	}
	return service, reg
}

func saleEvent(tb testing.TB, eventID string, attempts int) models.OutboxEvent {
	return models.OutboxEvent{
		ID:            uuid.New(),
		EventType:     enums.EventSaleRecorded,
		AggregateType: enums.AggregateLedgerEntry,
		AggregateID:   uuid.New(),
		Payload:       mustEnvelopePayload(tb, eventID),
		AttemptCount:  attempts,
	}
}

func saleRegistry() *fakeRegistry {
	return &fakeRegistry{resolved: &registry.ResolvedEvent{
		Descriptor: registry.EventDescriptor{
			Topic:         "ledger-domain",
			AggregateType: enums.AggregateLedgerEntry,
		},
		Payload: &payloads.LedgerEntryRecordedEvent{},
	}}
}

func mustEnvelopePayload(tb testing.TB, eventID string) json.RawMessage {
	tb.Helper()
	env := outbox.PayloadEnvelope{
		Version:    1,
		EventID:    eventID,
		OccurredAt: time.Now(),
		Data:       json.RawMessage(`{}`),
	}
	payload, err := json.Marshal(env)
	if err != nil {
		tb.Fatalf("marshal envelope: %v", err)
	}
	return payload
}

type fakeRepo struct {
	events     []models.OutboxEvent
	published  []uuid.UUID
	failed     []uuid.UUID
	terminal   []uuid.UUID
	publishErr error
}

func (f *fakeRepo) FetchUnpublishedForPublish(tx *gorm.DB, limit, maxAttempts int) ([]models.OutboxEvent, error) {
	return f.events, nil
}

func (f *fakeRepo) MarkPublishedTx(tx *gorm.DB, id uuid.UUID) error {
	if f.publishErr != nil {
		return f.publishErr
	}
	f.published = append(f.published, id)
	return nil
}

func (f *fakeRepo) MarkFailedTx(tx *gorm.DB, id uuid.UUID, err error) error {
	f.failed = append(f.failed, id)
	return nil
}

func (f *fakeRepo) MarkTerminalTx(tx *gorm.DB, id uuid.UUID, err error, terminalAttempts int) error {
	f.terminal = append(f.terminal, id)
	return nil
}

type fakeDB struct{}

func (f *fakeDB) Ping(context.Context) error {
	return nil
}

func (f *fakeDB) WithTx(_ context.Context, fn func(*gorm.DB) error) error {
	return fn(nil)
}

type fakePubSubClient struct{}

func (f *fakePubSubClient) Ping(context.Context) error {
	return nil
}

func (f *fakePubSubClient) Publisher(name string) *gcppubsub.Publisher {
	return nil
}

type fakePublisher struct {
	results []publishResult
	sent    []*gcppubsub.Message
	resumed []string
}

func (f *fakePublisher) ResumePublish(key string) {
	f.resumed = append(f.resumed, key)
}

func (f *fakePublisher) Publish(_ context.Context, msg *gcppubsub.Message) publishResult {
	f.sent = append(f.sent, msg)
	if len(f.results) == 0 {
		return nil
	}
	result := f.results[0]
	f.results = f.results[1:]
	return result
}

type fakePublishResult struct {
	err error
}

func (f fakePublishResult) Get(context.Context) (string, error) {
	return "", f.err
}

type fakeRegistry struct {
	resolved *registry.ResolvedEvent
	err      error
}

func (f *fakeRegistry) Resolve(event models.OutboxEvent) (*registry.ResolvedEvent, error) {
	if f.resolved == nil {
		return nil, f.err
	}
	resolved := *f.resolved
	resolved.Descriptor.AggregateType = event.AggregateType
	resolved.Envelope.EventID = event.ID.String()
	resolved.Envelope.OccurredAt = time.Now()
	return &resolved, f.err
}

type fakeDLQRepo struct {
	entries []models.OutboxDLQ
}

func (f *fakeDLQRepo) InsertTx(tx *gorm.DB, entry models.OutboxDLQ) error {
	f.entries = append(f.entries, entry)
	return nil
}
