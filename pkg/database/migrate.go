package database

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/olympiad-registration-bot/pkg/config"
)

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS registrations (
		id BIGSERIAL PRIMARY KEY,
		account_ref BIGINT NOT NULL,
		account_handle TEXT NULL,
		guardian_name TEXT NOT NULL,
		contact_email TEXT NOT NULL,
		contact_phone TEXT NOT NULL,
		participant_surname TEXT NOT NULL,
		participant_given_name TEXT NOT NULL,
		grade INTEGER NOT NULL,
		school TEXT NOT NULL,
		charge_reference TEXT NULL UNIQUE,
		language_tag VARCHAR(8) NOT NULL,
		payment_confirmed BOOLEAN NOT NULL DEFAULT FALSE,
		proof_image_ref TEXT NULL,
		attempt_id TEXT NULL UNIQUE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		paid_at TIMESTAMPTZ NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_registrations_account_ref ON registrations (account_ref)`,
	`CREATE INDEX IF NOT EXISTS idx_registrations_created_at ON registrations (created_at DESC)`,
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS registrations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		account_ref INTEGER NOT NULL,
		account_handle TEXT NULL,
		guardian_name TEXT NOT NULL,
		contact_email TEXT NOT NULL,
		contact_phone TEXT NOT NULL,
		participant_surname TEXT NOT NULL,
		participant_given_name TEXT NOT NULL,
		grade INTEGER NOT NULL,
		school TEXT NOT NULL,
		charge_reference TEXT NULL UNIQUE,
		language_tag TEXT NOT NULL,
		payment_confirmed BOOLEAN NOT NULL DEFAULT 0,
		proof_image_ref TEXT NULL,
		attempt_id TEXT NULL UNIQUE,
		created_at TIMESTAMP NOT NULL,
		paid_at TIMESTAMP NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_registrations_account_ref ON registrations (account_ref)`,
	`CREATE INDEX IF NOT EXISTS idx_registrations_created_at ON registrations (created_at DESC)`,
}

// Open connects to the configured SQL driver. It returns nil for the memory
// driver, which has no SQL backing.
func Open(cfg config.DatabaseConfig) (*sqlx.DB, error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		return NewPostgres(cfg)
	case config.DriverSQLite:
		return NewSQLite(cfg)
	case config.DriverMemory:
		return nil, nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

// Migrate creates the registrations schema for the connection's driver.
func Migrate(ctx context.Context, db *sqlx.DB) error {
	statements := sqliteSchema
	if db.DriverName() != sqliteDriver {
		statements = postgresSchema
	}
	for _, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate registrations: %w", err)
		}
	}
	return nil
}
