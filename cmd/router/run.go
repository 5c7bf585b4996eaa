package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/elys-network/yield-router/internal/config"
	"github.com/elys-network/yield-router/internal/datafetcher"
	"github.com/elys-network/yield-router/internal/datafetcher/cache"
	"github.com/elys-network/yield-router/internal/logger"
	"github.com/elys-network/yield-router/internal/metrics"
	"github.com/elys-network/yield-router/internal/router"
	"github.com/elys-network/yield-router/internal/state"
	"github.com/elys-network/yield-router/internal/types"
	"github.com/elys-network/yield-router/internal/vault"
	"github.com/elys-network/yield-router/internal/wallet"
	"github.com/elys-network/yield-router/internal/web"
	"github.com/spf13/cobra"
)

const (
	httpClientTimeout = 30 * time.Second
	sourceRPS         = 2
	sourceBurst       = 4
)

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run routing cycles on LOOP_INTERVAL and serve the dashboard API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			rt, err := bootstrap(ctx)
			if err != nil {
				return err
			}
			defer rt.close()

			webServer := web.NewWebServer(config.WebPort, state.Reader{ConfigName: config.DefaultStrategyConfigName}, rt.metrics.Handler())
			go func() {
				if err := webServer.Start(ctx); err != nil {
					webLogger := logger.GetForComponent("main")
					webLogger.Error().Err(err).Msg("Web server failed")
				}
			}()

			mainLogger := logger.GetForComponent("main")
			mainLogger.Info().Str("interval", config.LoopInterval.String()).Msg("Starting router main loop")
			rt.router.RunLoop(ctx, config.LoopInterval)
			return nil
		},
	}
}

func newOnceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "once",
		Short: "Run a single routing cycle and print its snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := bootstrap(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.close()

			snapshot, cycleErr := rt.router.RunCycle(cmd.Context())
			if err := printJSON(cmd, snapshot); err != nil {
				return err
			}
			return cycleErr
		},
	}
}

// app is everything a live cycle needs.
type app struct {
	router   *router.Router
	metrics  *metrics.Registry
	balances *wallet.BalanceReader
	executor vault.Executor
	closers  []func()
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// bootstrap loads configuration and wires the database, sources, balances and executor.
func bootstrap(ctx context.Context) (*app, error) {
	mainLogger := logger.GetForComponent("main")

	// --- 1. Initialization Phase ---
	if err := config.LoadConfig(); err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}
	mainLogger.Info().Msg("Yield router starting...")

	a := &app{metrics: metrics.New()}

	host, port, user, password, name, sslMode := config.DBConfigFromEnv()
	if err := state.InitDB(state.DBConfig{Host: host, Port: port, User: user, Password: password, DBName: name, SSLMode: sslMode}); err != nil {
		return nil, fmt.Errorf("initialize database: %w", err)
	}
	a.closers = append(a.closers, state.CloseDB)
	if err := state.EnsureSchema(); err != nil {
		a.close()
		return nil, fmt.Errorf("ensure database schema: %w", err)
	}

	params, version, err := loadParameters(ctx)
	if err != nil {
		a.close()
		return nil, err
	}

	// --- 2. Data sources ---
	fetcher, err := buildAggregator(ctx, a)
	if err != nil {
		a.close()
		return nil, err
	}

	// --- 3. Balances and execution ---
	a.balances, err = wallet.DialBalanceReader(ctx, config.ChainEndpoints)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("connect chain RPCs: %w", err)
	}
	a.closers = append(a.closers, a.balances.Close)

	mainLogger.Warn().Str("mode", config.RouterMode).Msg("Transfers and deposits are simulated; nothing is broadcast")
	a.executor = vault.NewDryRunExecutor()
	a.closers = append(a.closers, func() { _ = a.executor.Close() })

	// --- 4. Router with dependency injection ---
	a.router, err = router.NewRouter(router.Config{
		Fetcher:       fetcher,
		Balances:      a.balances,
		Executor:      a.executor,
		Recorder:      state.PostgresRecorder{},
		Metrics:       a.metrics,
		Owner:         config.VaultAddress,
		Params:        params,
		ParamsVersion: version,
	})
	if err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

// loadParameters prefers the active database row. A STRATEGY_FILE or the defaults are saved
// as a new version unless the active row already holds the same parameters.
func loadParameters(ctx context.Context) (types.StrategyParameters, int, error) {
	mainLogger := logger.GetForComponent("main")

	if config.StrategyFile == "" {
		params, version, err := state.LoadActiveStrategyParameters(ctx, config.DefaultStrategyConfigName)
		if err == nil {
			mainLogger.Info().Int("version", version).Msg("Strategy parameters loaded from database")
			return *params, version, nil
		}
		if !errors.Is(err, state.ErrNoActiveParameters) {
			return types.StrategyParameters{}, 0, fmt.Errorf("load strategy parameters: %w", err)
		}
		mainLogger.Warn().Msg("No active strategy parameters, using defaults and saving.")
	}

	params, err := config.LoadStrategyParameters(config.StrategyFile)
	if err != nil {
		return types.StrategyParameters{}, 0, err
	}
	version, err := activateParameters(ctx, params, dbParameterStore{})
	if err != nil {
		return types.StrategyParameters{}, 0, err
	}
	return params, version, nil
}

func saveAsNextVersion(ctx context.Context, params types.StrategyParameters) (int, error) {
	latest, err := state.GetLatestStrategyVersion(ctx, config.DefaultStrategyConfigName)
	if err != nil {
		return 0, fmt.Errorf("read latest strategy version: %w", err)
	}
	version := latest + 1
	if _, err := state.SaveStrategyParameters(ctx, params, config.DefaultStrategyConfigName, version, true); err != nil {
		return 0, fmt.Errorf("save strategy parameters: %w", err)
	}
	mainLogger := logger.GetForComponent("main")
	mainLogger.Info().Int("version", version).Msg("Strategy parameters saved and activated")
	return version, nil
}

func buildAggregator(ctx context.Context, a *app) (*datafetcher.Aggregator, error) {
	client := &http.Client{Timeout: httpClientTimeout}
	limiter := datafetcher.NewHostLimiter(sourceRPS, sourceBurst)

	sources := []datafetcher.Source{datafetcher.NewDefiLlamaSource(config.DefiLlamaYieldsURL, client, limiter)}
	for _, endpoint := range config.SubgraphEndpoints {
		sources = append(sources, datafetcher.NewSubgraphSource(endpoint, client, limiter))
	}

	cfg := datafetcher.AggregatorConfig{Sources: sources}
	if config.FallbackOpportunitiesFile != "" {
		cfg.Fallback = datafetcher.NewFixtureSource(config.FallbackOpportunitiesFile)
	}
	for _, endpoint := range config.ChainEndpoints {
		cfg.Chains = append(cfg.Chains, endpoint.Chain)
	}

	if config.RedisAddr != "" {
		redisClient, err := cache.DialRedis(ctx, config.RedisAddr)
		if err != nil {
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		a.closers = append(a.closers, func() { _ = redisClient.Close() })
		cfg.Cache = cache.NewRedis(redisClient)
	} else {
		cfg.Cache = cache.NewMemory()
	}

	mainLogger := logger.GetForComponent("main")
	mainLogger.Info().
		Int("sources", len(sources)).
		Bool("fallback", cfg.Fallback != nil).
		Bool("redis", config.RedisAddr != "").
		Strs("chains", cfg.Chains).
		Msg("Data sources configured")
	return datafetcher.NewAggregator(cfg), nil
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}
