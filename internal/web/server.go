package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/meridian-dex/rpm/internal/engine"
	"github.com/meridian-dex/rpm/internal/hooks"
	"github.com/meridian-dex/rpm/internal/ledger"
	"github.com/meridian-dex/rpm/internal/logger"
	"github.com/meridian-dex/rpm/internal/queue"
	"github.com/meridian-dex/rpm/internal/reconciler"
	"github.com/meridian-dex/rpm/internal/state"
	"github.com/meridian-dex/rpm/internal/store"
	"github.com/meridian-dex/rpm/internal/types"
)

var webLogger = logger.GetForComponent("web_server")

// WebServer handles HTTP requests for pipeline state and the attestation
// callback.
type WebServer struct {
	router *mux.Router
	port   string

	engine  *engine.Engine
	hooks   *hooks.Hooks
	queue   *queue.UpdateQueue
	store   *store.Store
	ledger  *ledger.Ledger
	persist bool
}

// Config holds the configuration for creating a new WebServer instance
type Config struct {
	Port   string
	Engine *engine.Engine
	Hooks  *hooks.Hooks
	Queue  *queue.UpdateQueue
	Store  *store.Store
	Ledger *ledger.Ledger

	// Persist reflects whether a database backs the pipeline; the health
	// endpoint only probes the database when it does.
	Persist bool
}

// NewWebServer creates a new web server instance
func NewWebServer(cfg Config) (*WebServer, error) {
	if cfg.Engine == nil || cfg.Hooks == nil || cfg.Queue == nil || cfg.Store == nil || cfg.Ledger == nil {
		return nil, errors.New("web server requires engine, hooks, queue, store and ledger")
	}

	port := cfg.Port
	if port == "" {
		port = "8080"
	}

	server := &WebServer{
		router:  mux.NewRouter(),
		port:    port,
		engine:  cfg.Engine,
		hooks:   cfg.Hooks,
		queue:   cfg.Queue,
		store:   cfg.Store,
		ledger:  cfg.Ledger,
		persist: cfg.Persist,
	}

	server.setupRoutes()
	return server, nil
}

// setupRoutes configures all HTTP routes
func (ws *WebServer) setupRoutes() {
	// Health endpoint (direct route)
	ws.router.HandleFunc("/health", ws.handleHealth).Methods("GET")

	// API endpoints
	api := ws.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/health", ws.handleHealth).Methods("GET")
	api.HandleFunc("/queue", ws.handleGetQueue).Methods("GET")
	api.HandleFunc("/points/{user}", ws.handleGetPoints).Methods("GET")
	api.HandleFunc("/batches/{id}", ws.handleGetBatch).Methods("GET")
	api.HandleFunc("/requests", ws.handleGetRequests).Methods("GET")
	api.HandleFunc("/params", ws.handleGetParams).Methods("GET")
	api.HandleFunc("/attestations/{requestId}", ws.handleAttestationCallback).Methods("POST")
	api.HandleFunc("/hooks/{kind}", ws.handleHook).Methods("POST")
	api.HandleFunc("/requests/stale", ws.handleSweepRequests).Methods("DELETE")

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

// handleHealth returns server health status
func (ws *WebServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	overallStatus := "OK"
	dbHealthy := true
	if ws.persist {
		if err := state.TestDBConnection(); err != nil {
			dbHealthy = false
			overallStatus = "DEGRADED"
		}
	}

	response := map[string]interface{}{
		"status":           overallStatus,
		"timestamp":        time.Now(),
		"registered":       ws.engine.Registered(),
		"scheduler_state":  string(ws.engine.SchedulerState()),
		"queue_length":     ws.queue.Len(),
		"pending_requests": len(ws.store.PendingRequests()),
		"database_healthy": dbHealthy,
	}

	statusCode := http.StatusOK
	if overallStatus != "OK" {
		statusCode = http.StatusServiceUnavailable
	}
	ws.writeJSONResponse(w, statusCode, response)
}

// handleGetQueue returns the queue length and cursor positions
func (ws *WebServer) handleGetQueue(w http.ResponseWriter, r *http.Request) {
	head, tail := ws.queue.Cursors()
	response := map[string]interface{}{
		"length":          ws.queue.Len(),
		"head":            head,
		"tail":            tail,
		"scheduler_state": string(ws.engine.SchedulerState()),
	}
	ws.writeJSONResponse(w, http.StatusOK, response)
}

// handleGetPoints returns a user's reputation points and fee discount. Reading
// the points applies any outstanding decay, so the response is always current.
func (ws *WebServer) handleGetPoints(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	user := types.UserID(vars["user"])
	if user == "" {
		ws.writeErrorResponse(w, http.StatusBadRequest, "Invalid user id")
		return
	}

	points := ws.ledger.GetPoints(user)
	response := map[string]interface{}{
		"user":              string(user),
		"pro_points":        points.String(),
		"discount_bps":      ws.ledger.DiscountBps(user),
		"effective_fee_bps": ws.ledger.EffectiveFeeBps(user),
	}
	if account, ok := ws.ledger.Snapshot(user); ok {
		response["ro_points"] = account.ROPoints.String()
		response["last_update"] = account.LastUpdate
		response["identity_hash"] = account.IdentityHash.Hex()
	}
	ws.writeJSONResponse(w, http.StatusOK, response)
}

// handleGetBatch returns one stored batch
func (ws *WebServer) handleGetBatch(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	batchID := types.BatchID(vars["id"])

	batch, err := ws.store.GetBatch(batchID)
	if err != nil {
		ws.writeErrorResponse(w, http.StatusNotFound, "Batch not found")
		return
	}
	ws.writeJSONResponse(w, http.StatusOK, batch)
}

// handleGetRequests returns all in-flight attestation requests
func (ws *WebServer) handleGetRequests(w http.ResponseWriter, r *http.Request) {
	requests := ws.store.PendingRequests()
	response := map[string]interface{}{
		"count":    len(requests),
		"requests": requests,
	}
	ws.writeJSONResponse(w, http.StatusOK, response)
}

// handleGetParams returns the active pipeline parameters
func (ws *WebServer) handleGetParams(w http.ResponseWriter, r *http.Request) {
	ws.writeJSONResponse(w, http.StatusOK, ws.engine.Params())
}

// handleAttestationCallback ingests an attested result for an in-flight request.
// The reconciler performs full verification; nothing from the body is trusted
// before that.
func (ws *WebServer) handleAttestationCallback(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	requestID := vars["requestId"]

	var result types.AttestedResult
	if err := json.NewDecoder(r.Body).Decode(&result); err != nil {
		ws.writeErrorResponse(w, http.StatusBadRequest, "Invalid attestation body")
		return
	}

	if err := ws.engine.Reconcile(requestID, result); err != nil {
		webLogger.Warn().Err(err).Str("requestID", requestID).Msg("Attestation callback rejected")
		switch {
		case errors.Is(err, reconciler.ErrUnknownRequest):
			ws.writeErrorResponse(w, http.StatusNotFound, "Unknown request id")
		case errors.Is(err, reconciler.ErrMalformedPayload):
			ws.writeErrorResponse(w, http.StatusBadRequest, "Malformed attestation payload")
		default:
			ws.writeErrorResponse(w, http.StatusUnprocessableEntity, err.Error())
		}
		return
	}

	ws.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"request_id": requestID,
		"status":     "reconciled",
	})
}

// handleHook ingests one pool-engine hook callback. The body is a hook context;
// the kind comes from the path.
func (ws *WebServer) handleHook(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	kind := types.HookKind(vars["kind"])

	var ctx types.HookContext
	if err := json.NewDecoder(r.Body).Decode(&ctx); err != nil {
		ws.writeErrorResponse(w, http.StatusBadRequest, "Invalid hook body")
		return
	}
	ctx.Kind = kind

	switch kind {
	case types.HookSwap:
		before := ws.hooks.BeforeSwap(&ctx)
		if before.Vetoed {
			ws.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
				"vetoed": true,
				"reason": before.Reason,
			})
			return
		}
		result := ws.hooks.AfterSwap(ctx)
		ws.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
			"vetoed":        false,
			"fee_bps":       ctx.FeeBps,
			"recorded":      result.Accepted,
			"reject_reason": string(result.Reason),
		})
	case types.HookLiquidityAdd:
		result := ws.hooks.AfterAddLiquidity(ctx)
		ws.writeRecordResult(w, result)
	case types.HookLiquidityRemove:
		result := ws.hooks.AfterRemoveLiquidity(ctx)
		ws.writeRecordResult(w, result)
	case types.HookPoolCreate:
		ws.hooks.AfterPoolCreate(ctx)
		ws.writeJSONResponse(w, http.StatusOK, map[string]interface{}{"recorded": false})
	default:
		ws.writeErrorResponse(w, http.StatusBadRequest, "Unknown hook kind")
	}
}

func (ws *WebServer) writeRecordResult(w http.ResponseWriter, result types.RecordResult) {
	ws.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"recorded":      result.Accepted,
		"reject_reason": string(result.Reason),
	})
}

// handleSweepRequests force-clears pending requests older than the given age in
// seconds. Admin surface for stuck attestations.
func (ws *WebServer) handleSweepRequests(w http.ResponseWriter, r *http.Request) {
	ageStr := r.URL.Query().Get("older_than_seconds")
	ageSeconds, err := strconv.ParseInt(ageStr, 10, 64)
	if err != nil || ageSeconds <= 0 {
		ws.writeErrorResponse(w, http.StatusBadRequest, "older_than_seconds must be a positive integer")
		return
	}

	swept := ws.engine.SweepPending(time.Duration(ageSeconds) * time.Second)
	ws.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"swept": len(swept),
		"ids":   swept,
	})
}

// writeJSONResponse writes a JSON response
func (ws *WebServer) writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		webLogger.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeErrorResponse writes a JSON error response
func (ws *WebServer) writeErrorResponse(w http.ResponseWriter, statusCode int, message string) {
	response := map[string]interface{}{
		"error":     message,
		"timestamp": time.Now(),
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

		// Create a response writer wrapper to capture status code
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

// responseWriterWrapper captures the HTTP status code
type responseWriterWrapper struct {
	http.ResponseWriter
	statusCode int
}

func (rww *responseWriterWrapper) WriteHeader(code int) {
	rww.statusCode = code
	rww.ResponseWriter.WriteHeader(code)
}
