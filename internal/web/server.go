package web

import (
	"encoding/json"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"cosmossdk.io/math"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tonsurance/solvency-engine/internal/config"
	"github.com/tonsurance/solvency-engine/internal/engine"
	"github.com/tonsurance/solvency-engine/internal/logger"
	"github.com/tonsurance/solvency-engine/internal/state"
	"github.com/tonsurance/solvency-engine/internal/types"
	"github.com/tonsurance/solvency-engine/internal/utilization"
	"github.com/tonsurance/solvency-engine/internal/utils"
)

var webLogger = logger.GetForComponent("web_server")

// WebServer exposes the solvency dashboard API.
type WebServer struct {
	router  *mux.Router
	port    string
	engine  *engine.Engine
	tracker *utilization.Tracker
}

// NewWebServer creates a new web server instance
func NewWebServer(port string, eng *engine.Engine, tracker *utilization.Tracker) *WebServer {
	if port == "" {
		port = "8080"
	}

	server := &WebServer{
		router:  mux.NewRouter(),
		port:    port,
		engine:  eng,
		tracker: tracker,
	}

	server.setupRoutes()
	return server
}

// setupRoutes configures all HTTP routes
func (ws *WebServer) setupRoutes() {
	// Health endpoint (direct route)
	ws.router.HandleFunc("/health", ws.handleHealth).Methods("GET")

	// Prometheus scrape endpoint
	ws.router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	// API endpoints
	api := ws.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/health", ws.handleHealth).Methods("GET")
	api.HandleFunc("/solvency", ws.handleGetSolvency).Methods("GET")
	api.HandleFunc("/solvency/history", ws.handleGetSnapshotHistory).Methods("GET")
	api.HandleFunc("/solvency/history/{id}", ws.handleGetSnapshot).Methods("GET")
	api.HandleFunc("/tranches", ws.handleGetTranches).Methods("GET")
	api.HandleFunc("/tranches/{tranche}", ws.handleGetTranche).Methods("GET")
	api.HandleFunc("/underwrite/check", ws.handleCheckUnderwrite).Methods("POST")
	api.HandleFunc("/receipts", ws.handleGetReceipts).Methods("GET")
	api.HandleFunc("/pool/summary", ws.handleGetPoolSummary).Methods("GET")
	api.HandleFunc("/cascades", ws.handleGetCascadeMetrics).Methods("GET")
	api.HandleFunc("/report", ws.handleGetReport).Methods("GET")

	// Add CORS middleware
	ws.router.Use(ws.corsMiddleware)
	ws.router.Use(ws.loggingMiddleware)
}

// Start starts the web server
func (ws *WebServer) Start() error {
	webLogger.Info().Str("port", ws.port).Msg("Starting web server")

	server := &http.Server{
		Addr:         ":" + ws.port,
		Handler:      ws.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return server.ListenAndServe()
}

// handleHealth returns server health status plus pool solvency at a glance
func (ws *WebServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	dbHealthy := true
	if err := state.TestDBConnection(); err != nil {
		dbHealthy = false
	}

	snapshot := ws.engine.Snapshot()
	solvent := ws.engine.IsSolvent()

	overallStatus := "OK"
	if !dbHealthy {
		overallStatus = "DEGRADED"
	}
	if snapshot.Insolvent() {
		overallStatus = "INSOLVENT"
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
		},
		"component": map[string]interface{}{
			"name":    "solvency-engine",
			"version": "1.0.0",
		},
		"pool_status": map[string]interface{}{
			"database_healthy": dbHealthy,
			"solvent":          solvent,
			"insolvent":        snapshot.Insolvent(),
			"total_capital":    snapshot.TotalCapital().String(),
			"coverage_sold":    snapshot.TotalCoverageSold.String(),
			"active_policies":  len(snapshot.ActivePolicies),
		},
	}

	statusCode := http.StatusOK
	if !dbHealthy || snapshot.Insolvent() {
		statusCode = http.StatusServiceUnavailable
	}

	ws.writeJSONResponse(w, statusCode, response)
}

// handleGetSolvency returns the live pool-level solvency view
func (ws *WebServer) handleGetSolvency(w http.ResponseWriter, r *http.Request) {
	snapshot := ws.engine.Snapshot()

	response := map[string]interface{}{
		"timestamp":                 time.Now().UTC(),
		"total_capital":             snapshot.TotalCapital().String(),
		"total_capital_display":     displayAmount(snapshot.TotalCapital()),
		"effective_capital":         ws.engine.EffectiveCapital().String(),
		"effective_capital_display": displayAmount(ws.engine.EffectiveCapital()),
		"coverage_sold":             snapshot.TotalCoverageSold.String(),
		"coverage_sold_display":     displayAmount(snapshot.TotalCoverageSold),
		"accumulated_losses":        snapshot.AccumulatedLosses.String(),
		"solvent":                   ws.engine.IsSolvent(),
		"insolvent":                 snapshot.Insolvent(),
		"active_policies":           len(snapshot.ActivePolicies),
	}

	ws.writeJSONResponse(w, http.StatusOK, response)
}

// handleGetSnapshotHistory returns persisted solvency snapshots
func (ws *WebServer) handleGetSnapshotHistory(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if parsedLimit, err := strconv.Atoi(limitStr); err == nil && parsedLimit > 0 && parsedLimit <= 100 {
			limit = parsedLimit
		}
	}

	snapshots, err := state.GetRecentSnapshots(limit)
	if err != nil {
		webLogger.Error().Err(err).Msg("Failed to get recent snapshots")
		ws.writeErrorResponse(w, http.StatusInternalServerError, "Failed to retrieve snapshots")
		return
	}

	response := map[string]interface{}{
		"snapshots": snapshots,
		"count":     len(snapshots),
		"limit":     limit,
	}

	ws.writeJSONResponse(w, http.StatusOK, response)
}

// handleGetSnapshot returns a specific persisted snapshot by ID
func (ws *WebServer) handleGetSnapshot(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	idStr := vars["id"]

	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		ws.writeErrorResponse(w, http.StatusBadRequest, "Invalid snapshot ID")
		return
	}

	snapshot, err := state.GetSnapshotByID(id)
	if err != nil {
		webLogger.Error().Err(err).Int64("snapshotId", id).Msg("Failed to get snapshot")
		ws.writeErrorResponse(w, http.StatusNotFound, "Snapshot not found")
		return
	}

	ws.writeJSONResponse(w, http.StatusOK, snapshot)
}

// handleGetTranches returns the per-tranche utilization view, senior to junior
func (ws *WebServer) handleGetTranches(w http.ResponseWriter, r *http.Request) {
	reports := ws.engine.TrancheUtilizations()

	response := map[string]interface{}{
		"tranches":  reports,
		"timestamp": time.Now().UTC(),
	}

	ws.writeJSONResponse(w, http.StatusOK, response)
}

// handleGetTranche returns the cached record for one tranche
func (ws *WebServer) handleGetTranche(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id, err := types.TrancheIDFromString(vars["tranche"])
	if err != nil {
		ws.writeErrorResponse(w, http.StatusBadRequest, "Unknown tranche")
		return
	}

	record, ok := ws.tracker.Get(id)
	if !ok {
		ws.writeErrorResponse(w, http.StatusNotFound, "Tranche not yet synced")
		return
	}

	capacity := ws.tracker.AvailableCapacity(id)
	response := map[string]interface{}{
		"record":                     record,
		"capital_display":            displayAmount(record.TotalCapital),
		"coverage_display":           displayAmount(record.CoverageSold),
		"available_capacity":         capacity.String(),
		"available_capacity_display": displayAmount(capacity),
	}

	ws.writeJSONResponse(w, http.StatusOK, response)
}

// underwriteCheckRequest is the body of POST /api/underwrite/check. Coverage
// arrives either as a raw amount in the smallest currency unit or as a
// display-unit float; the raw amount wins when both are set.
type underwriteCheckRequest struct {
	CoverageAmount  math.Int `json:"coverage_amount"`
	CoverageDisplay float64  `json:"coverage_display"`
}

// handleCheckUnderwrite runs a read-only underwriting decision. Nothing is
// allocated; policy binding arrives over the ledger feed.
func (ws *WebServer) handleCheckUnderwrite(w http.ResponseWriter, r *http.Request) {
	var req underwriteCheckRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ws.writeErrorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	amount := req.CoverageAmount
	if amount.IsNil() && req.CoverageDisplay > 0 {
		converted, err := utils.DisplayToAmount(req.CoverageDisplay, config.AmountDecimals)
		if err != nil {
			ws.writeErrorResponse(w, http.StatusBadRequest, "Invalid coverage_display")
			return
		}
		amount = converted
	}
	if amount.IsNil() || !amount.IsPositive() {
		ws.writeErrorResponse(w, http.StatusBadRequest, "coverage_amount must be positive")
		return
	}

	ok, rejection := ws.engine.CheckUnderwrite(amount)

	response := map[string]interface{}{
		"coverage_amount":         amount.String(),
		"coverage_amount_display": displayAmount(amount),
		"accepted":                ok,
		"timestamp":               time.Now().UTC(),
	}
	if !ok {
		response["reason"] = rejection.Reason.String()
		response["detail"] = rejection.Detail
	}

	ws.writeJSONResponse(w, http.StatusOK, response)
}

// handleGetReceipts returns persisted cascade receipts
func (ws *WebServer) handleGetReceipts(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if parsedLimit, err := strconv.Atoi(limitStr); err == nil && parsedLimit > 0 && parsedLimit <= 100 {
			limit = parsedLimit
		}
	}

	kind := types.CascadeKind(r.URL.Query().Get("kind"))
	if kind != "" && kind != types.CascadePremium && kind != types.CascadeLoss {
		ws.writeErrorResponse(w, http.StatusBadRequest, "kind must be premium or loss")
		return
	}

	receipts, err := state.GetRecentReceipts(kind, limit)
	if err != nil {
		webLogger.Error().Err(err).Msg("Failed to get cascade receipts")
		ws.writeErrorResponse(w, http.StatusInternalServerError, "Failed to retrieve receipts")
		return
	}

	response := map[string]interface{}{
		"receipts": receipts,
		"count":    len(receipts),
		"limit":    limit,
	}

	ws.writeJSONResponse(w, http.StatusOK, response)
}

// handleGetPoolSummary returns pool statistics from the latest persisted
// snapshot
func (ws *WebServer) handleGetPoolSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := state.GetPoolSummary()
	if err != nil {
		webLogger.Error().Err(err).Msg("Failed to get pool summary")
		ws.writeErrorResponse(w, http.StatusInternalServerError, "Failed to retrieve pool summary")
		return
	}

	ws.writeJSONResponse(w, http.StatusOK, summary)
}

// handleGetCascadeMetrics returns aggregated cascade outcomes
func (ws *WebServer) handleGetCascadeMetrics(w http.ResponseWriter, r *http.Request) {
	metrics, err := state.GetCascadeMetrics()
	if err != nil {
		webLogger.Error().Err(err).Msg("Failed to get cascade metrics")
		ws.writeErrorResponse(w, http.StatusInternalServerError, "Failed to retrieve cascade metrics")
		return
	}

	ws.writeJSONResponse(w, http.StatusOK, metrics)
}

// handleGetReport returns the plain-text operational solvency report
func (ws *WebServer) handleGetReport(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(ws.engine.GenerateReport()))
}

// displayAmount renders a raw amount in display units for dashboard
// consumers. The raw string stays authoritative; a failed conversion
// reports zero.
func displayAmount(amount math.Int) float64 {
	value, err := utils.AmountToDisplay(amount, config.AmountDecimals)
	if err != nil {
		webLogger.Warn().Err(err).Msg("Display conversion failed")
		return 0
	}
	return value
}

// writeJSONResponse writes a JSON response
func (ws *WebServer) writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		webLogger.Error().Err(err).Msg("Failed to encode JSON response")
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
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
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

		wrapper := &responseWriterWrapper{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapper, r)

		duration := time.Since(start)

		webLogger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("remote_addr", r.RemoteAddr).
			Int("status", wrapper.statusCode).
			Dur("duration", duration).
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
