package main

import (
	"context"
	"os"

	"github.com/elys-network/yield-router/internal/config"
	"github.com/elys-network/yield-router/internal/logger"
	"github.com/elys-network/yield-router/internal/state"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

func main() {
	// Initialize logger
	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "info"
	}
	logger.Initialize(logLevel, false)
	log.Info().Msg("Starting database reset script...")

	// Load environment variables from .env file
	err := godotenv.Load()
	if err != nil {
		log.Warn().Msg("Warning: .env file not found or error loading .env file. Relying on OS environment variables.")
	}

	host, port, user, password, name, sslMode := config.DBConfigFromEnv()
	if user == "" {
		log.Fatal().Msg("DB_USER environment variable not set.")
	}
	if name == "" {
		log.Fatal().Msg("DB_NAME environment variable not set.")
	}

	dbCfg := state.DBConfig{
		Host:     host,
		Port:     port,
		User:     user,
		Password: password,
		DBName:   name,
		SSLMode:  sslMode,
	}

	log.Info().
		Str("host", dbCfg.Host).
		Int("port", dbCfg.Port).
		Str("user", dbCfg.User).
		Str("dbname", dbCfg.DBName).
		Msg("Connecting to database")

	if err := state.InitDB(dbCfg); err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database connection")
	}
	defer state.CloseDB()

	log.Info().Msg("Connected to database. Attempting to drop all tables...")

	// Drop all tables - this is the "reset" part
	dropTablesQuery := `
		DROP TABLE IF EXISTS cycle_snapshots CASCADE;
		DROP TABLE IF EXISTS strategy_parameters CASCADE;
		DROP TABLE IF EXISTS cycle_counter CASCADE;
	`

	if _, err := state.DB.Exec(dropTablesQuery); err != nil {
		log.Fatal().Err(err).Msg("Failed to drop tables")
	}
	log.Info().Msg("Successfully dropped all tables")

	// Recreate the schema
	log.Info().Msg("Recreating database schema...")
	if err := state.EnsureSchema(); err != nil {
		log.Fatal().Err(err).Msg("Failed to recreate database schema")
	}

	// EnsureSchema seeds the counter; make the restart explicit.
	if err := state.ResetCycleNumber(context.Background(), 0); err != nil {
		log.Fatal().Err(err).Msg("Failed to reset cycle counter")
	}
	log.Info().Msg("Database schema successfully recreated")

	log.Info().Msg("Database reset complete!")
}
