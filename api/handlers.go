/*
handlers.go - HTTP handlers for the registry invoke surface

PURPOSE:
  Moves function calls between HTTP and the contract dispatcher. This is a
  transport adapter, not a REST resource model: every call names a
  contract function and passes positional string arguments.

ENDPOINTS:
  POST /invoke      Run any function (writes are committed)
  POST /query       Run a read-only function
  GET  /functions   List functions, their mode and parameters
  GET  /healthz     Liveness
  GET  /metrics     Prometheus scrape (wired in server.go)

ERROR HANDLING:
  Errors are returned as {"error": ..., "kind": ...} with:
  - 400: invalid argument, insufficient amount, unknown function, malformed body
  - 403: caller does not own the credit
  - 404: credit not found
  - 409: already exists, invalid state, ledger conflict (retry)
  - 500: serialization and store errors

SEE ALSO:
  - dto.go: Request/response bodies
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/bluecarbon/registry/contract"
	"github.com/bluecarbon/registry/credit"
)

const maxBodyBytes = 1 << 20

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Contract *contract.Contract
	Logger   *slog.Logger
}

// NewHandler creates a new handler over the given contract.
func NewHandler(c *contract.Contract, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{Contract: c, Logger: logger}
}

// =============================================================================
// CALL HANDLERS
// =============================================================================

// Invoke runs a submit or evaluate function.
func (h *Handler) Invoke(w http.ResponseWriter, r *http.Request) {
	h.call(w, r, h.Contract.Invoke)
}

// Query runs an evaluate function.
func (h *Handler) Query(w http.ResponseWriter, r *http.Request) {
	h.call(w, r, h.Contract.Query)
}

func (h *Handler) call(w http.ResponseWriter, r *http.Request, run func(context.Context, string, []string) (any, error)) {
	var req CallRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_argument", fmt.Errorf("invalid request body: %w", err))
		return
	}
	if req.Function == "" {
		writeError(w, http.StatusBadRequest, "invalid_argument", errors.New("function is required"))
		return
	}

	result, err := run(r.Context(), req.Function, req.Args)
	if err != nil {
		status, kind := classify(err)
		if status >= http.StatusInternalServerError {
			h.Logger.ErrorContext(r.Context(), "call failed",
				slog.String("function", req.Function),
				slog.String("request_id", middleware.GetReqID(r.Context())),
				slog.Any("error", err),
			)
		}
		writeError(w, status, kind, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// ListFunctions returns the dispatch table.
func (h *Handler) ListFunctions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, FunctionsResponse{Functions: h.Contract.Functions()})
}

// Health reports liveness.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

// classify maps an error to its HTTP status and response kind.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, contract.ErrUnknownFunction):
		return http.StatusBadRequest, "unknown_function"
	case errors.Is(err, contract.ErrNotEvaluate):
		return http.StatusBadRequest, "not_evaluate"
	case credit.IsRetryable(err):
		return http.StatusConflict, "conflict"
	}

	kind := credit.Kind(err)
	switch kind {
	case "invalid_argument", "insufficient_amount":
		return http.StatusBadRequest, kind
	case "unauthorized":
		return http.StatusForbidden, kind
	case "not_found":
		return http.StatusNotFound, kind
	case "already_exists", "invalid_state":
		return http.StatusConflict, kind
	}
	return http.StatusInternalServerError, kind
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, kind string, err error) {
	writeJSON(w, status, ErrorResponse{Error: err.Error(), Kind: kind})
}
