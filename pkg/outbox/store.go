package outbox

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/resale-ledger/pkg/db/models"
	"github.com/angelmondragon/resale-ledger/pkg/enums"
)

// maxErrorLen bounds last_error and the DLQ error_message columns.
const maxErrorLen = 1024

var errTxRequired = errors.New("transaction required")

func requireTx(tx *gorm.DB) error {
	if tx == nil {
		return errTxRequired
	}
	return nil
}

// oldestFirst is the order rows are published in.
func oldestFirst(q *gorm.DB) *gorm.DB {
	return q.Order("created_at ASC").Order("id ASC")
}

func truncate(msg string) string {
	if len(msg) > maxErrorLen {
		return msg[:maxErrorLen]
	}
	return msg
}

// Repository reads and updates outbox_events.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Insert(tx *gorm.DB, event models.OutboxEvent) error {
	if err := requireTx(tx); err != nil {
		return err
	}
	return tx.Create(&event).Error
}

// ListPending returns unpublished rows oldest first, terminal ones included.
func (r *Repository) ListPending(limit int) ([]models.OutboxEvent, error) {
	var rows []models.OutboxEvent
	err := oldestFirst(r.db.Where("published_at IS NULL")).Limit(limit).Find(&rows).Error
	return rows, err
}

// FetchUnpublishedForPublish claims a batch of rows inside tx. On Postgres the
// rows are locked with SKIP LOCKED so parallel publishers never share a row.
func (r *Repository) FetchUnpublishedForPublish(tx *gorm.DB, limit, maxAttempts int) ([]models.OutboxEvent, error) {
	if err := requireTx(tx); err != nil {
		return nil, err
	}
	q := tx.Where("published_at IS NULL")
	if maxAttempts > 0 {
		q = q.Where("attempt_count < ?", maxAttempts)
	}
	if tx.Dialector != nil && tx.Dialector.Name() == "postgres" {
		q = q.Clauses(clause.Locking{Strength: clause.LockingStrengthUpdate, Options: clause.LockingOptionsSkipLocked})
	}
	var rows []models.OutboxEvent
	err := oldestFirst(q).Limit(limit).Find(&rows).Error
	return rows, err
}

func (r *Repository) MarkPublishedTx(tx *gorm.DB, id uuid.UUID) error {
	return r.update(tx, id, map[string]any{"published_at": time.Now().UTC()})
}

// MarkFailedTx records a retryable failure and counts the attempt.
func (r *Repository) MarkFailedTx(tx *gorm.DB, id uuid.UUID, err error) error {
	return r.update(tx, id, map[string]any{
		"last_error":    errorText(err),
		"attempt_count": gorm.Expr("attempt_count + 1"),
	})
}

// MarkTerminalTx parks the row at terminalAttempts so it is never fetched again.
func (r *Repository) MarkTerminalTx(tx *gorm.DB, id uuid.UUID, err error, terminalAttempts int) error {
	return r.update(tx, id, map[string]any{
		"last_error":    errorText(err),
		"attempt_count": terminalAttempts,
	})
}

// ListByAggregate returns the events of one aggregate in emission order.
func (r *Repository) ListByAggregate(aggregateType enums.OutboxAggregateType, aggregateID uuid.UUID) ([]models.OutboxEvent, error) {
	var rows []models.OutboxEvent
	q := r.db.Where("aggregate_type = ? AND aggregate_id = ?", aggregateType, aggregateID)
	err := oldestFirst(q).Find(&rows).Error
	return rows, err
}

func (r *Repository) update(tx *gorm.DB, id uuid.UUID, values map[string]any) error {
	if err := requireTx(tx); err != nil {
		return err
	}
	return tx.Model(&models.OutboxEvent{}).Where("id = ?", id).Updates(values).Error
}

func errorText(err error) *string {
	if err == nil {
		return nil
	}
	msg := truncate(err.Error())
	return &msg
}

// DLQRepository stores events the publisher gave up on.
type DLQRepository struct {
	db *gorm.DB
}

func NewDLQRepository(db *gorm.DB) *DLQRepository {
	return &DLQRepository{db: db}
}

func (r *DLQRepository) InsertTx(tx *gorm.DB, entry models.OutboxDLQ) error {
	if err := requireTx(tx); err != nil {
		return err
	}
	if entry.ErrorMessage != nil {
		msg := truncate(*entry.ErrorMessage)
		entry.ErrorMessage = &msg
	}
	return tx.Create(&entry).Error
}

// FindByEventID returns nil without error when the event was never dead-lettered.
func (r *DLQRepository) FindByEventID(ctx context.Context, eventID uuid.UUID) (*models.OutboxDLQ, error) {
	var entry models.OutboxDLQ
	err := r.db.WithContext(ctx).Where("event_id = ?", eventID).First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}
