package main

import (
	"errors"
	"fmt"

	"github.com/elys-network/yield-router/internal/config"
	"github.com/elys-network/yield-router/internal/logger"
	"github.com/elys-network/yield-router/internal/state"
	"github.com/spf13/cobra"
)

func newMigrateCmd() *cobra.Command {
	var strategyFile string
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema and seed strategy parameters when none are active",
		RunE: func(cmd *cobra.Command, args []string) error {
			migrateLogger := logger.GetForComponent("migrate")

			host, port, user, password, name, sslMode := config.DBConfigFromEnv()
			if err := state.InitDB(state.DBConfig{Host: host, Port: port, User: user, Password: password, DBName: name, SSLMode: sslMode}); err != nil {
				return fmt.Errorf("initialize database: %w", err)
			}
			defer state.CloseDB()

			if err := state.EnsureSchema(); err != nil {
				return fmt.Errorf("ensure database schema: %w", err)
			}
			migrateLogger.Info().Msg("Database schema is up to date")

			_, version, err := state.LoadActiveStrategyParameters(cmd.Context(), config.DefaultStrategyConfigName)
			if err == nil {
				migrateLogger.Info().Int("version", version).Msg("Active strategy parameters already present")
				return nil
			}
			if !errors.Is(err, state.ErrNoActiveParameters) {
				return err
			}

			params, err := config.LoadStrategyParameters(strategyFile)
			if err != nil {
				return err
			}
			_, err = saveAsNextVersion(cmd.Context(), params)
			return err
		},
	}
	cmd.Flags().StringVar(&strategyFile, "strategy", "", "strategy parameters file to seed (defaults are used when empty)")
	return cmd
}
