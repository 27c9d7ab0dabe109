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
		CREATE TABLE IF NOT EXISTS pipeline_parameters (
			params_id SERIAL PRIMARY KEY,
			version INTEGER NOT NULL DEFAULT 1,
			config_name VARCHAR(255) NOT NULL DEFAULT 'default',
			is_active BOOLEAN NOT NULL DEFAULT FALSE,
			activated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			cooldown_seconds BIGINT NOT NULL,
			size_coefficient DECIMAL(10, 4) NOT NULL,
			utilization_coefficient DECIMAL(10, 4) NOT NULL,
			range_coefficient DECIMAL(10, 4) NOT NULL,
			max_activity_score DECIMAL(20, 8) NOT NULL,
			batch_size INTEGER NOT NULL,
			automation_interval_seconds BIGINT NOT NULL,
			decay_period_seconds BIGINT NOT NULL,
			decay_percentage DECIMAL(10, 8) NOT NULL,
			max_decay_periods INTEGER NOT NULL,
			mint_ratio DECIMAL(10, 8) NOT NULL,
			global_issuance_ceiling DECIMAL(30, 8) NOT NULL,
			dispatch_fee DECIMAL(20, 8) NOT NULL,
			base_fee_bps INTEGER NOT NULL,
			max_fee_discount_bps INTEGER NOT NULL,
			points_per_discount_bp DECIMAL(20, 8) NOT NULL,
			CONSTRAINT uq_pipeline_parameters_config_version UNIQUE (config_name, version)
		);
		CREATE INDEX IF NOT EXISTS idx_pipeline_parameters_config_active ON pipeline_parameters(config_name, is_active, activated_at DESC);

		CREATE TABLE IF NOT EXISTS user_reputation (
			user_id VARCHAR(128) PRIMARY KEY,
			pro_points DECIMAL(40, 18) NOT NULL,
			ro_points DECIMAL(40, 18) NOT NULL,
			last_update TIMESTAMPTZ NOT NULL,
			identity_hash CHAR(64) NOT NULL
		);

		CREATE TABLE IF NOT EXISTS issuance_counter (
			id INTEGER PRIMARY KEY DEFAULT 1,
			minted_total DECIMAL(40, 18) NOT NULL DEFAULT 0,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			CONSTRAINT single_row_check_issuance CHECK (id = 1)
		);
		INSERT INTO issuance_counter (id, minted_total)
		VALUES (1, 0)
		ON CONFLICT (id) DO NOTHING;

		CREATE TABLE IF NOT EXISTS batch_data (
			batch_id CHAR(64) PRIMARY KEY,
			nonce BIGINT NOT NULL,
			issuer VARCHAR(128) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			contents JSONB NOT NULL
		);

		CREATE TABLE IF NOT EXISTS pending_requests (
			request_id CHAR(64) PRIMARY KEY,
			batch_id CHAR(64) NOT NULL REFERENCES batch_data(batch_id) ON DELETE CASCADE,
			nonce BIGINT NOT NULL,
			issuer VARCHAR(128) NOT NULL,
			dispatched_at TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_pending_requests_dispatched ON pending_requests(dispatched_at);

		-- Sequence counter table for the persistent block-height-like counter
		CREATE TABLE IF NOT EXISTS sequence_counter (
			id INTEGER PRIMARY KEY DEFAULT 1,
			current_height BIGINT NOT NULL DEFAULT 0,
			batch_counter BIGINT NOT NULL DEFAULT 0,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			CONSTRAINT single_row_check CHECK (id = 1)
		);
		INSERT INTO sequence_counter (id, current_height, batch_counter)
		VALUES (1, 0, 0)
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
