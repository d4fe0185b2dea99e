package httpserver

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	json "github.com/goccy/go-json"
	"github.com/mselser95/polymarket-hedge/internal/arbitrage"
	"github.com/mselser95/polymarket-hedge/internal/circuitbreaker"
	"github.com/mselser95/polymarket-hedge/internal/execution"
	"github.com/mselser95/polymarket-hedge/internal/ledger"
	"github.com/mselser95/polymarket-hedge/internal/relationship"
	"github.com/mselser95/polymarket-hedge/internal/storage"
	"go.uber.org/zap"
)

// CandidateLister lists registered hedge candidates.
type CandidateLister interface {
	All() []relationship.Candidate
}

// OpportunityBook exposes open opportunities and the decay window.
type OpportunityBook interface {
	Open() []arbitrage.Opportunity
	DecayWindow() time.Duration
	SetDecayWindow(window time.Duration)
}

// ExecutionControl lists executions and cancels in-flight ones.
type ExecutionControl interface {
	Executions() []execution.Execution
	Execution(id string) (execution.Execution, bool)
	Cancel(id string) error
}

// PositionBook exposes ledger positions.
type PositionBook interface {
	Positions() []ledger.Position
	AvailableCapital() float64
	RealizedPnL() float64
}

// BreakerControl exposes the circuit breaker.
type BreakerControl interface {
	GetStatus() circuitbreaker.Status
	Reset()
}

const defaultHistoryLimit = 50

// APIHandler serves the read model and the few operator controls.
type APIHandler struct {
	candidates    CandidateLister
	opportunities OpportunityBook
	executions    ExecutionControl
	positions     PositionBook
	breaker       BreakerControl
	history       storage.Reader
	logger        *zap.Logger
}

// ErrorResponse represents an HTTP error response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// PositionsResponse is the body of GET /api/positions.
type PositionsResponse struct {
	AvailableCapital float64           `json:"available_capital"`
	RealizedPnL      float64           `json:"realized_pnl"`
	Positions        []ledger.Position `json:"positions"`
}

// DecayWindowRequest is the body of PUT /api/decay-window.
type DecayWindowRequest struct {
	DecayWindow string `json:"decay_window"`
}

// DecayWindowResponse reports the active decay window.
type DecayWindowResponse struct {
	DecayWindow string  `json:"decay_window"`
	Seconds     float64 `json:"seconds"`
}

// Routes mounts the API on r. Endpoints whose component is nil are skipped.
func (h *APIHandler) Routes(r chi.Router) {
	if h.candidates != nil {
		r.Get("/api/candidates", h.handleCandidates)
	}
	if h.opportunities != nil {
		r.Get("/api/opportunities", h.handleOpportunities)
		r.Get("/api/decay-window", h.handleGetDecayWindow)
		r.Put("/api/decay-window", h.handleSetDecayWindow)
	}
	if h.executions != nil {
		r.Get("/api/executions", h.handleExecutions)
		r.Get("/api/executions/{id}", h.handleExecution)
		r.Post("/api/executions/{id}/cancel", h.handleCancel)
	}
	if h.positions != nil {
		r.Get("/api/positions", h.handlePositions)
	}
	if h.breaker != nil {
		r.Get("/api/breaker", h.handleBreaker)
		r.Post("/api/breaker/reset", h.handleBreakerReset)
	}
	if h.history != nil {
		r.Get("/api/history/opportunities", h.handleHistoryOpportunities)
		r.Get("/api/history/executions", h.handleHistoryExecutions)
		r.Get("/api/history/positions", h.handleHistoryPositions)
	}
}

// handleCandidates handles GET /api/candidates?tier=T1.
func (h *APIHandler) handleCandidates(w http.ResponseWriter, r *http.Request) {
	all := h.candidates.All()

	tierParam := r.URL.Query().Get("tier")
	if tierParam == "" {
		h.writeJSON(w, http.StatusOK, all)
		return
	}

	tier, err := relationship.ParseTier(tierParam)
	if err != nil {
		h.writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	out := make([]relationship.Candidate, 0, len(all))
	for _, c := range all {
		if c.Tier == tier {
			out = append(out, c)
		}
	}
	h.writeJSON(w, http.StatusOK, out)
}

func (h *APIHandler) handleOpportunities(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.opportunities.Open())
}

func (h *APIHandler) handleGetDecayWindow(w http.ResponseWriter, r *http.Request) {
	window := h.opportunities.DecayWindow()
	h.writeJSON(w, http.StatusOK, DecayWindowResponse{DecayWindow: window.String(), Seconds: window.Seconds()})
}

// handleSetDecayWindow handles PUT /api/decay-window {"decay_window":"15s"}.
func (h *APIHandler) handleSetDecayWindow(w http.ResponseWriter, r *http.Request) {
	var req DecayWindowRequest
	err := json.NewDecoder(r.Body).Decode(&req)
	if err != nil {
		h.writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	window, err := time.ParseDuration(req.DecayWindow)
	if err != nil || window <= 0 {
		h.writeError(w, "decay_window must be a positive duration", http.StatusBadRequest)
		return
	}

	h.opportunities.SetDecayWindow(window)
	h.logger.Info("decay-window-updated-via-api", zap.Duration("decay-window", window))

	h.writeJSON(w, http.StatusOK, DecayWindowResponse{DecayWindow: window.String(), Seconds: window.Seconds()})
}

func (h *APIHandler) handleExecutions(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.executions.Executions())
}

func (h *APIHandler) handleExecution(w http.ResponseWriter, r *http.Request) {
	exec, ok := h.executions.Execution(chi.URLParam(r, "id"))
	if !ok {
		h.writeError(w, "execution not found", http.StatusNotFound)
		return
	}
	h.writeJSON(w, http.StatusOK, exec)
}

// handleCancel handles POST /api/executions/{id}/cancel. Only executions
// still committing with nothing filled can be cancelled.
func (h *APIHandler) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, ok := h.executions.Execution(id); !ok {
		h.writeError(w, "execution not found", http.StatusNotFound)
		return
	}

	err := h.executions.Cancel(id)
	if err != nil {
		h.logger.Debug("cancel-rejected", zap.String("execution-id", id), zap.Error(err))
		h.writeError(w, err.Error(), http.StatusConflict)
		return
	}

	h.writeJSON(w, http.StatusAccepted, map[string]string{"status": "cancelling", "id": id})
}

func (h *APIHandler) handlePositions(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, PositionsResponse{
		AvailableCapital: h.positions.AvailableCapital(),
		RealizedPnL:      h.positions.RealizedPnL(),
		Positions:        h.positions.Positions(),
	})
}

func (h *APIHandler) handleBreaker(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.breaker.GetStatus())
}

func (h *APIHandler) handleBreakerReset(w http.ResponseWriter, r *http.Request) {
	h.breaker.Reset()
	h.logger.Warn("circuit-breaker-reset-via-api")
	h.writeJSON(w, http.StatusOK, h.breaker.GetStatus())
}

func (h *APIHandler) handleHistoryOpportunities(w http.ResponseWriter, r *http.Request) {
	records, err := h.history.ListOpportunities(r.Context(), limitParam(r))
	if err != nil {
		h.logger.Error("history-query-failed", zap.Error(err))
		h.writeError(w, "query failed", http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, http.StatusOK, records)
}

func (h *APIHandler) handleHistoryExecutions(w http.ResponseWriter, r *http.Request) {
	records, err := h.history.ListExecutions(r.Context(), limitParam(r))
	if err != nil {
		h.logger.Error("history-query-failed", zap.Error(err))
		h.writeError(w, "query failed", http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, http.StatusOK, records)
}

func (h *APIHandler) handleHistoryPositions(w http.ResponseWriter, r *http.Request) {
	summaries, err := h.history.PositionSummaries(r.Context())
	if err != nil {
		h.logger.Error("history-query-failed", zap.Error(err))
		h.writeError(w, "query failed", http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, http.StatusOK, summaries)
}

func limitParam(r *http.Request) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || n <= 0 {
		return defaultHistoryLimit
	}
	return min(n, 1000)
}

func (h *APIHandler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	err := json.NewEncoder(w).Encode(v)
	if err != nil {
		h.logger.Error("failed-to-encode-response", zap.Error(err))
	}
}

// writeError writes a JSON error response.
func (h *APIHandler) writeError(w http.ResponseWriter, message string, statusCode int) {
	h.writeJSON(w, statusCode, ErrorResponse{Error: message})
}
