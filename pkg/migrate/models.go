package migrate

import (
	"gorm.io/gorm"

	"github.com/angelmondragon/resale-ledger/pkg/db/models"
)

// Models lists every persisted model in dependency order.
func Models() []any {
	return []any{
		&models.CatalogItem{},
		&models.Inventory{},
		&models.Lot{},
		&models.LedgerEntry{},
		&models.CheckoutFolder{},
		&models.CheckoutItem{},
		&models.HistoryEntry{},
		&models.OutboxEvent{},
		&models.OutboxDLQ{},
	}
}

// AutoMigrate creates the schema from the models. Used for the sqlite driver
// and tests; Postgres deployments run the goose SQL files.
func AutoMigrate(conn *gorm.DB) error {
	return conn.AutoMigrate(Models()...)
}
