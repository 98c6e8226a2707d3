// Package httpapi exposes the webhook and admin HTTP surface: signal
// ingestion, trade logs, runtime settings, and venue controls.
package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"bracketd/internal/domain"
	"bracketd/internal/engine"
	"bracketd/internal/ledger"
	"bracketd/internal/settings"
	"bracketd/internal/venue"
)

// Server serves the bracketd HTTP API.
type Server struct {
	engine   *engine.Engine
	venue    venue.Client
	ledger   *ledger.Ledger
	settings *settings.Store
	log      *slog.Logger
}

// NewServer creates a Server wired with the given dependencies.
func NewServer(
	eng *engine.Engine,
	v venue.Client,
	lg *ledger.Ledger,
	st *settings.Store,
	log *slog.Logger,
) *Server {
	return &Server{
		engine:   eng,
		venue:    v,
		ledger:   lg,
		settings: st,
		log:      log,
	}
}

// RegisterRoutes registers all API routes on the given mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /webhook", s.handleWebhook)
	mux.HandleFunc("GET /trade_logs", s.handleTradeLogs)
	mux.HandleFunc("GET /config", s.handleGetConfig)
	mux.HandleFunc("POST /config/update", s.handleUpdateConfig)
	mux.HandleFunc("GET /connection_status", s.handleConnectionStatus)
	mux.HandleFunc("POST /reset_orders", s.handleResetOrders)
	mux.HandleFunc("GET /healthz", s.handleHealth)
}

// Handler returns an http.Handler with CORS middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return corsMiddleware(mux)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// handleWebhook runs an inbound signal through the bracket lifecycle and
// reports the terminal outcome.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	var req signalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "BadPayload", "invalid JSON body: "+err.Error())
		return
	}

	if !s.venue.IsConnected() {
		writeError(w, http.StatusServiceUnavailable, "VenueUnavailable", "venue connection is down")
		return
	}

	intent := req.toIntent()
	s.log.Info("signal received",
		"symbol", intent.Symbol, "action", intent.Side, "quantity", intent.Quantity,
		"limit", intent.LimitPrice, "timeframe", intent.Timeframe)

	result, err := s.engine.PlaceBracket(r.Context(), intent)
	if err != nil {
		status, code := statusForError(err)
		writeError(w, status, code, err.Error())
		return
	}

	writeJSON(w, map[string]any{
		"status":          "bracket filled and logged",
		"parentOrderId":   result.ParentOrderID,
		"parentFillPrice": result.ParentFillPrice,
		"childOrderType":  result.ChildKind,
		"childFillPrice":  result.ChildFillPrice,
		"logEntry":        result.Entry,
	})
}

func (s *Server) handleTradeLogs(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]any{"trade_logs": s.ledger.Entries()})
}

func (s *Server) handleGetConfig(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]any{"config": s.settings.Snapshot().Tree()})
}

// handleUpdateConfig merges a map of dot-paths to values into the runtime
// settings document.
func (s *Server) handleUpdateConfig(w http.ResponseWriter, r *http.Request) {
	var updates map[string]any
	if err := json.NewDecoder(r.Body).Decode(&updates); err != nil {
		writeError(w, http.StatusBadRequest, "BadPayload", "invalid JSON body: "+err.Error())
		return
	}
	if err := s.settings.Update(updates); err != nil {
		writeError(w, http.StatusInternalServerError, "ConfigUpdateFailed", err.Error())
		return
	}
	writeJSON(w, map[string]any{"status": "success", "message": "configuration updated"})
}

func (s *Server) handleConnectionStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]any{"connected": s.venue.IsConnected()})
}

// handleResetOrders cancels every open order at the venue.
func (s *Server) handleResetOrders(w http.ResponseWriter, r *http.Request) {
	if err := s.venue.CancelAllOpen(r.Context()); err != nil {
		writeError(w, http.StatusBadGateway, "ResetFailed", err.Error())
		return
	}
	s.log.Warn("all open orders cancelled via reset_orders")
	writeJSON(w, map[string]any{"status": "all open orders cancelled"})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
}

// statusForError maps the failure taxonomy onto HTTP statuses and stable
// error codes.
func statusForError(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrInvalidIntent):
		return http.StatusBadRequest, "InvalidIntent"
	case errors.Is(err, domain.ErrUnsupportedOffsetUnit):
		return http.StatusBadRequest, "UnsupportedOffsetUnit"
	case errors.Is(err, domain.ErrNoExitLegsConfigured):
		return http.StatusBadRequest, "NoExitLegsConfigured"
	case errors.Is(err, domain.ErrInstrumentNotFound):
		return http.StatusNotFound, "InstrumentNotFound"
	case errors.Is(err, domain.ErrVenueUnavailable):
		return http.StatusServiceUnavailable, "VenueUnavailable"
	case errors.Is(err, domain.ErrNoOrderID):
		return http.StatusBadGateway, "NoOrderId"
	case errors.Is(err, domain.ErrParentTimeout):
		return http.StatusRequestTimeout, "ParentTimeout"
	case errors.Is(err, domain.ErrBracketTimeout):
		return http.StatusGatewayTimeout, "BracketTimeout"
	default:
		return http.StatusInternalServerError, "Internal"
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorResponse{
		Error:  http.StatusText(status),
		Code:   code,
		Detail: detail,
	})
}
