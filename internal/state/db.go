// ./internal/state/db.go
package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/elys-network/yield-router/internal/logger"
	_ "github.com/lib/pq" // PostgreSQL driver
)

// DB is a global database connection pool.
var DB *sql.DB

var ErrDBNotInitialized = errors.New("database not initialized")

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
	dbLogger := logger.GetForComponent("state")

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
		DB = nil
		return fmt.Errorf("failed to ping database: %w", err)
	}

	dbLogger.Info().Str("host", cfg.Host).Str("database", cfg.DBName).Msg("Successfully connected to the PostgreSQL database!")
	return nil
}

// CloseDB closes the database connection pool.
func CloseDB() {
	if DB != nil {
		dbLogger := logger.GetForComponent("state")
		dbLogger.Info().Msg("Closing database connection...")
		if err := DB.Close(); err != nil {
			dbLogger.Error().Err(err).Msg("Error closing database connection")
		}
		DB = nil
	}
}

const schemaSQL = `
	CREATE TABLE IF NOT EXISTS strategy_parameters (
		params_id SERIAL PRIMARY KEY,
		config_name VARCHAR(255) NOT NULL DEFAULT 'default',
		version INTEGER NOT NULL DEFAULT 1,
		is_active BOOLEAN NOT NULL DEFAULT FALSE,
		activated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
		created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
		params JSONB NOT NULL,
		CONSTRAINT uq_strategy_parameters_config_version UNIQUE (config_name, version)
	);
	CREATE INDEX IF NOT EXISTS idx_strategy_parameters_config_active ON strategy_parameters(config_name, is_active, activated_at DESC);

	CREATE TABLE IF NOT EXISTS cycle_snapshots (
		snapshot_id BIGSERIAL PRIMARY KEY,
		cycle_number INTEGER NOT NULL,
		cycle_id VARCHAR(64) NOT NULL,
		snapshot_timestamp TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
		params_version INTEGER NOT NULL DEFAULT 0,
		status VARCHAR(32) NOT NULL,
		error_message TEXT,

		-- Data
		fell_back BOOLEAN NOT NULL DEFAULT FALSE,
		opportunities_fetched INTEGER NOT NULL DEFAULT 0,
		opportunities_eligible INTEGER NOT NULL DEFAULT 0,
		sources JSONB,

		-- Plan
		total_investable_usd DECIMAL(20, 6) NOT NULL DEFAULT 0,
		remaining_usd DECIMAL(20, 6) NOT NULL DEFAULT 0,
		transfer_volume_usd DECIMAL(20, 6) NOT NULL DEFAULT 0,
		chains TEXT[],
		initial_balances JSONB,
		allocation JSONB,
		target_by_chain JSONB,
		transfers JSONB,
		deployments JSONB,

		-- Outcome
		transfer_receipts JSONB,
		allocate_receipts JSONB,
		final_balances JSONB,
		duration_ms BIGINT NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_cycle_snapshots_timestamp ON cycle_snapshots(snapshot_timestamp DESC);
	CREATE INDEX IF NOT EXISTS idx_cycle_snapshots_cycle ON cycle_snapshots(cycle_number DESC);
	CREATE INDEX IF NOT EXISTS idx_cycle_snapshots_status ON cycle_snapshots(status);

	-- Cycle counter table for persistent global cycle tracking
	CREATE TABLE IF NOT EXISTS cycle_counter (
		id INTEGER PRIMARY KEY DEFAULT 1,
		current_cycle INTEGER NOT NULL DEFAULT 0,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
		CONSTRAINT single_row_check CHECK (id = 1)
	);

	INSERT INTO cycle_counter (id, current_cycle)
	VALUES (1, 0)
	ON CONFLICT (id) DO NOTHING;
`

// EnsureSchema applies the necessary DDL to create tables if they don't exist.
func EnsureSchema() error {
	if DB == nil {
		return ErrDBNotInitialized
	}

	if _, err := DB.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema DDL: %w", err)
	}
	schemaLogger := logger.GetForComponent("state")
	schemaLogger.Info().Msg("Database schema ensured.")
	return nil
}

// TestDBConnection tests if the database connection is healthy
func TestDBConnection() error {
	if DB == nil {
		return errors.New("database connection is nil")
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
