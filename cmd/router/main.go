package main

import (
	"os"
	"strconv"

	"github.com/elys-network/yield-router/internal/logger"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// main is the entry point for the yield router.
func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var logLevel string
	var jsonLogs bool

	root := &cobra.Command{
		Use:           "router",
		Short:         "Routes treasury USDC to the best risk-adjusted yield across EVM chains",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if err := godotenv.Load(); err != nil {
				log.Warn().Msg("Warning: .env file not found. Relying on OS environment variables.")
			}
			if logLevel == "" {
				logLevel = os.Getenv("LOG_LEVEL")
			}
			envJSON, _ := strconv.ParseBool(os.Getenv("LOG_JSON"))
			logger.Initialize(logLevel, jsonLogs || envJSON)
		},
	}
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "debug, info, warn or error (defaults to LOG_LEVEL)")
	root.PersistentFlags().BoolVar(&jsonLogs, "json-logs", false, "emit JSON logs instead of console output")

	root.AddCommand(newRunCmd(), newOnceCmd(), newPlanCmd(), newMigrateCmd())
	return root
}
