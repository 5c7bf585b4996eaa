package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/elys-network/yield-router/internal/logger"
	"github.com/elys-network/yield-router/internal/state"
	"github.com/elys-network/yield-router/internal/types"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

// Store is the read side of the router's persisted state.
type Store interface {
	RecentCycles(ctx context.Context, limit int) ([]types.CycleSnapshot, error)
	LatestCycle(ctx context.Context) (*types.CycleSnapshot, error)
	CycleByID(ctx context.Context, id int64) (*types.CycleSnapshot, error)
	CyclesByChain(ctx context.Context, chain string, limit int) ([]int64, error)
	ActiveParameters(ctx context.Context) (*types.StrategyParameters, int, error)
	PerformanceSummary(ctx context.Context) (*state.PerformanceSummary, error)
	Ping() error
}

// WebServer serves the router's cycle history and metrics over HTTP
type WebServer struct {
	router  *mux.Router
	port    string
	store   Store
	started time.Time
	logger  zerolog.Logger
}

// NewWebServer creates a new web server instance. metricsHandler may be nil.
func NewWebServer(port string, store Store, metricsHandler http.Handler) *WebServer {
	if port == "" {
		port = "8080"
	}

	server := &WebServer{
		router:  mux.NewRouter(),
		port:    port,
		store:   store,
		started: time.Now(),
		logger:  logger.GetForComponent("web_server"),
	}

	server.setupRoutes(metricsHandler)
	return server
}

// setupRoutes configures all HTTP routes
func (ws *WebServer) setupRoutes(metricsHandler http.Handler) {
	// Health endpoint (direct route)
	ws.router.HandleFunc("/health", ws.handleHealth).Methods("GET", "OPTIONS")
	if metricsHandler != nil {
		ws.router.Handle("/metrics", metricsHandler).Methods("GET", "OPTIONS")
	}

	// API endpoints
	api := ws.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/health", ws.handleHealth).Methods("GET", "OPTIONS")
	api.HandleFunc("/cycles", ws.handleGetCycles).Methods("GET", "OPTIONS")
	api.HandleFunc("/cycles/latest", ws.handleGetLatestCycle).Methods("GET", "OPTIONS")
	api.HandleFunc("/cycles/{id:[0-9]+}", ws.handleGetCycle).Methods("GET", "OPTIONS")
	api.HandleFunc("/chains/{chain}/cycles", ws.handleGetChainCycles).Methods("GET", "OPTIONS")
	api.HandleFunc("/parameters", ws.handleGetParameters).Methods("GET", "OPTIONS")
	api.HandleFunc("/summary", ws.handleGetSummary).Methods("GET", "OPTIONS")

	// Add CORS middleware
	ws.router.Use(ws.corsMiddleware)
	ws.router.Use(ws.loggingMiddleware)
}

// Handler exposes the route tree, mainly for tests.
func (ws *WebServer) Handler() http.Handler {
	return ws.router
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (ws *WebServer) Start(ctx context.Context) error {
	ws.logger.Info().Str("port", ws.port).Msg("Starting web server")

	server := &http.Server{
		Addr:         ":" + ws.port,
		Handler:      ws.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// handleHealth reports database connectivity and the outcome of the latest cycle
func (ws *WebServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	hasErrors := false
	var cycleInfo map[string]interface{}
	latest, err := ws.store.LatestCycle(r.Context())
	if err == nil {
		cycleInfo = map[string]interface{}{
			"current_cycle":     latest.CycleNumber,
			"last_cycle_time":   latest.Timestamp,
			"last_cycle_status": latest.Status,
			"fell_back":         latest.FellBack,
			"transfers":         len(latest.Transfers),
		}
		hasErrors = latest.Status == types.CycleFailed || latest.Status == types.CycleAborted
	} else {
		cycleInfo = map[string]interface{}{
			"current_cycle":     0,
			"last_cycle_time":   nil,
			"last_cycle_status": "unknown",
			"transfers":         0,
		}
		hasErrors = true // No cycle data available indicates an issue
	}

	dbHealthy := ws.store.Ping() == nil
	if !dbHealthy {
		hasErrors = true
	}

	overallStatus := "OK"
	statusCode := http.StatusOK
	if hasErrors {
		overallStatus = "DEGRADED"
		statusCode = http.StatusServiceUnavailable
	}

	response := map[string]interface{}{
		"status":    overallStatus,
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		"system": map[string]interface{}{
			"version":          runtime.Version(),
			"goroutines_count": runtime.NumGoroutine(),
			"alloc_bytes":      memStats.Alloc,
			"sys_bytes":        memStats.Sys,
			"gc_cycles":        memStats.NumGC,
			"uptime_seconds":   int64(time.Since(ws.started).Seconds()),
		},
		"component": map[string]interface{}{
			"name":    "yield-router",
			"version": "1.0.0",
		},
		"router_status": map[string]interface{}{
			"database_healthy":  dbHealthy,
			"has_recent_errors": hasErrors,
			"cycle_info":        cycleInfo,
		},
	}

	ws.writeJSONResponse(w, statusCode, response)
}

func parseLimit(r *http.Request) int {
	limit := 20
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if parsedLimit, err := strconv.Atoi(limitStr); err == nil && parsedLimit > 0 && parsedLimit <= 100 {
			limit = parsedLimit
		}
	}
	return limit
}

// handleGetCycles returns recent cycles, newest first
func (ws *WebServer) handleGetCycles(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r)
	cycles, err := ws.store.RecentCycles(r.Context(), limit)
	if err != nil {
		ws.logger.Error().Err(err).Msg("Failed to get recent cycles")
		ws.writeErrorResponse(w, http.StatusInternalServerError, "Failed to retrieve cycles")
		return
	}

	response := map[string]interface{}{
		"cycles": cycles,
		"count":  len(cycles),
		"limit":  limit,
	}
	ws.writeJSONResponse(w, http.StatusOK, response)
}

// handleGetCycle returns a specific cycle by snapshot ID
func (ws *WebServer) handleGetCycle(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		ws.writeErrorResponse(w, http.StatusBadRequest, "Invalid cycle ID")
		return
	}

	cycle, err := ws.store.CycleByID(r.Context(), id)
	if err != nil {
		ws.writeStoreError(w, err, "Cycle not found", "Failed to retrieve cycle")
		return
	}
	ws.writeJSONResponse(w, http.StatusOK, cycle)
}

// handleGetLatestCycle returns the most recent cycle
func (ws *WebServer) handleGetLatestCycle(w http.ResponseWriter, r *http.Request) {
	cycle, err := ws.store.LatestCycle(r.Context())
	if err != nil {
		ws.writeStoreError(w, err, "No cycles found", "Failed to retrieve latest cycle")
		return
	}
	ws.writeJSONResponse(w, http.StatusOK, cycle)
}

func (ws *WebServer) handleGetChainCycles(w http.ResponseWriter, r *http.Request) {
	chain := mux.Vars(r)["chain"]
	ids, err := ws.store.CyclesByChain(r.Context(), chain, parseLimit(r))
	if err != nil {
		ws.logger.Error().Err(err).Str("chain", chain).Msg("Failed to get cycles for chain")
		ws.writeErrorResponse(w, http.StatusInternalServerError, "Failed to retrieve cycles")
		return
	}
	if ids == nil {
		ids = []int64{}
	}
	ws.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"chain":        chain,
		"snapshot_ids": ids,
	})
}

// handleGetParameters returns the active strategy parameters
func (ws *WebServer) handleGetParameters(w http.ResponseWriter, r *http.Request) {
	params, version, err := ws.store.ActiveParameters(r.Context())
	if err != nil {
		ws.writeStoreError(w, err, "No active strategy parameters", "Failed to retrieve strategy parameters")
		return
	}

	response := map[string]interface{}{
		"parameters": params,
		"version":    version,
		"timestamp":  time.Now().UTC(),
	}
	ws.writeJSONResponse(w, http.StatusOK, response)
}

func (ws *WebServer) handleGetSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := ws.store.PerformanceSummary(r.Context())
	if err != nil {
		ws.logger.Error().Err(err).Msg("Failed to get performance summary")
		ws.writeErrorResponse(w, http.StatusInternalServerError, "Failed to retrieve performance summary")
		return
	}
	ws.writeJSONResponse(w, http.StatusOK, summary)
}

// writeStoreError maps not-found errors to 404 and everything else to 500.
func (ws *WebServer) writeStoreError(w http.ResponseWriter, err error, notFound, failed string) {
	if errors.Is(err, state.ErrCycleNotFound) || errors.Is(err, state.ErrNoActiveParameters) {
		ws.writeErrorResponse(w, http.StatusNotFound, notFound)
		return
	}
	ws.logger.Error().Err(err).Msg(failed)
	ws.writeErrorResponse(w, http.StatusInternalServerError, failed)
}

// writeJSONResponse writes a JSON response
func (ws *WebServer) writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		ws.logger.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeErrorResponse writes an error response
func (ws *WebServer) writeErrorResponse(w http.ResponseWriter, statusCode int, message string) {
	response := map[string]interface{}{
		"error":     true,
		"message":   message,
		"timestamp": time.Now().UTC(),
	}

	ws.writeJSONResponse(w, statusCode, response)
}

// corsMiddleware adds CORS headers
func (ws *WebServer) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware logs HTTP requests
func (ws *WebServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// Create a response writer wrapper to capture status code
		wrapper := &responseWriterWrapper{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapper, r)

		ws.logger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("remote_addr", r.RemoteAddr).
			Int("status", wrapper.statusCode).
			Dur("duration", time.Since(start)).
			Msg("HTTP request")
	})
}

// responseWriterWrapper wraps http.ResponseWriter to capture status code
type responseWriterWrapper struct {
	http.ResponseWriter
	statusCode int
}

func (w *responseWriterWrapper) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}
