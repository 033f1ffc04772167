package db

import (
	"errors"
	"fmt"

	"github.com/Kodeloom/spacovers-admin/internal/config"
	"github.com/Kodeloom/spacovers-admin/internal/models"
	migrate "github.com/golang-migrate/migrate/v4"
	// The following blank imports register the postgres driver and file source for golang-migrate.
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"gorm.io/gorm"
)

// openLogIndex enforces at most one open processing log per order item.
const openLogIndex = `CREATE UNIQUE INDEX IF NOT EXISTS idx_item_processing_logs_open
	ON item_processing_logs (order_item_id) WHERE end_time IS NULL`

// Migrate applies gorm AutoMigrate for every model, then the indexes gorm
// tags cannot express.
func Migrate(db *gorm.DB) error {
	for _, m := range models.All() {
		if err := db.AutoMigrate(m); err != nil {
			return fmt.Errorf("automigrate %T: %w", m, err)
		}
	}
	if err := db.Exec(openLogIndex).Error; err != nil {
		return fmt.Errorf("create open log index: %w", err)
	}
	for _, table := range []string{"orders", "order_items", "item_processing_logs", "print_queue", "quickbooks_tokens"} {
		if !db.Migrator().HasTable(table) {
			return errors.New("missing table after migration: " + table)
		}
	}
	return nil
}

// RunSQLMigrations executes the versioned migrations in dir (e.g.
// "file://migrations") against a postgres URL using golang-migrate.
func RunSQLMigrations(sourceURL, databaseURL string) error {
	m, err := migrate.New(sourceURL, databaseURL)
	if err != nil {
		return fmt.Errorf("init migrations: %w", err)
	}
	defer m.Close()
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// Apply runs RunSQLMigrations when versioned migrations are enabled on
// postgres, and Migrate otherwise.
func Apply(cfg *config.Config, conn *gorm.DB, sourceURL string) error {
	if cfg.App.Migrations && cfg.Database.Driver != "sqlite" {
		return RunSQLMigrations(sourceURL, cfg.Database.URL())
	}
	return Migrate(conn)
}
