// ./internal/state/db.go
package state

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/rs/zerolog/log"
)

// DB is a global database connection pool.
var DB *sql.DB

// DBConfig holds database connection parameters.
type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string // "disable", "require", "verify-full", etc.
}

// InitDB initializes the database connection pool.
func InitDB(cfg DBConfig) error {
	psqlInfo := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, cfg.SSLMode)

	var err error
	DB, err = sql.Open("postgres", psqlInfo)
	if err != nil {
		return fmt.Errorf("failed to open database connection: %w", err)
	}

	DB.SetMaxOpenConns(25)
	DB.SetMaxIdleConns(25)
	DB.SetConnMaxLifetime(5 * time.Minute)

	err = DB.Ping()
	if err != nil {
		DB.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	log.Info().Msg("Successfully connected to the PostgreSQL database!")
	return nil
}

// CloseDB closes the database connection pool.
func CloseDB() {
	if DB != nil {
		log.Info().Msg("Closing database connection...")
		if err := DB.Close(); err != nil {
			log.Error().Err(err).Msg("Error closing database connection")
		}
	}
}

// EnsureSchema applies the necessary DDL to create tables if they don't exist.
func EnsureSchema() error {
	if DB == nil {
		return fmt.Errorf("database not initialized")
	}

	schemaSQL := `
		CREATE TABLE IF NOT EXISTS tranche_parameters (
			params_id SERIAL PRIMARY KEY,
			version INTEGER NOT NULL DEFAULT 1,
			config_name VARCHAR(255) NOT NULL DEFAULT 'default',
			is_active BOOLEAN NOT NULL DEFAULT FALSE,
			activated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			parameters JSONB NOT NULL,
			CONSTRAINT uq_tranche_parameters_config_version UNIQUE (config_name, version)
		);
		CREATE INDEX IF NOT EXISTS idx_tranche_parameters_config_active ON tranche_parameters(config_name, is_active, activated_at DESC);

		CREATE TABLE IF NOT EXISTS solvency_snapshots (
			snapshot_id SERIAL PRIMARY KEY,
			cycle_number INTEGER NOT NULL,
			snapshot_timestamp TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,

			-- Pool aggregates, smallest currency unit, stored as NUMERIC to
			-- survive 256-bit amounts
			total_capital NUMERIC(78, 0) NOT NULL,
			effective_capital NUMERIC(78, 0) NOT NULL,
			coverage_sold NUMERIC(78, 0) NOT NULL,
			accumulated_losses NUMERIC(78, 0) NOT NULL,
			vault_utilization DECIMAL(20, 8) NOT NULL,
			solvent BOOLEAN NOT NULL,
			active_policies INTEGER NOT NULL,

			-- Full per-tranche vault snapshot
			tranches JSONB NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_solvency_snapshots_timestamp ON solvency_snapshots(snapshot_timestamp DESC);
		CREATE INDEX IF NOT EXISTS idx_solvency_snapshots_cycle ON solvency_snapshots(cycle_number DESC);

		CREATE TABLE IF NOT EXISTS cascade_receipts (
			id SERIAL PRIMARY KEY,
			receipt_id VARCHAR(64) NOT NULL UNIQUE,
			kind VARCHAR(16) NOT NULL,
			receipt_timestamp TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			amount NUMERIC(78, 0) NOT NULL,
			remaining NUMERIC(78, 0) NOT NULL,
			tranche_deltas JSONB NOT NULL,
			wiped_tranches TEXT[],
			insolvency BOOLEAN NOT NULL DEFAULT FALSE
		);
		CREATE INDEX IF NOT EXISTS idx_cascade_receipts_timestamp ON cascade_receipts(receipt_timestamp DESC);
		CREATE INDEX IF NOT EXISTS idx_cascade_receipts_kind ON cascade_receipts(kind);

		-- Reconciliation counter table for persistent global cycle tracking
		CREATE TABLE IF NOT EXISTS reconciliation_counter (
			id INTEGER PRIMARY KEY DEFAULT 1,
			current_cycle INTEGER NOT NULL DEFAULT 0,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			CONSTRAINT single_row_check CHECK (id = 1)
		);

		-- Insert initial row if it doesn't exist
		INSERT INTO reconciliation_counter (id, current_cycle)
		VALUES (1, 0)
		ON CONFLICT (id) DO NOTHING;
	`
	_, err := DB.Exec(schemaSQL)
	if err != nil {
		return fmt.Errorf("failed to execute schema DDL: %w", err)
	}
	log.Info().Msg("Database schema ensured.")
	return nil
}

// TestDBConnection tests if the database connection is healthy
func TestDBConnection() error {
	if DB == nil {
		return fmt.Errorf("database connection is nil")
	}

	// Use a short timeout context for health checks
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := DB.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	return nil
}
