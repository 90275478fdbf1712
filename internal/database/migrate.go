package database

import (
	"context"

	"github.com/jmylchreest/camstreamd/internal/database/migrations"
)

// Migrator returns a migrator loaded with every schema migration.
func (db *DB) Migrator() *migrations.Migrator {
	m := migrations.NewMigrator(db.DB, db.logger)
	m.Register(migrations.AllMigrations()...)
	return m
}

// Migrate applies all pending schema migrations.
func (db *DB) Migrate(ctx context.Context) error {
	return db.Migrator().Up(ctx)
}
