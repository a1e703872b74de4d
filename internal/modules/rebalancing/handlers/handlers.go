// Package handlers provides HTTP handlers for drift assessment, rebalancing
// and action history.
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/aristath/vaultpilot/internal/domain"
	"github.com/aristath/vaultpilot/internal/modules/rebalancing"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// Handler handles rebalancing HTTP requests
type Handler struct {
	service *rebalancing.Service
	history domain.HistoryStore
	log     zerolog.Logger
}

// NewHandler creates a new rebalancing handler. history serves both the
// rebalance and take-profit streams.
func NewHandler(service *rebalancing.Service, history domain.HistoryStore, log zerolog.Logger) *Handler {
	return &Handler{
		service: service,
		history: history,
		log:     log.With().Str("handler", "rebalancing").Logger(),
	}
}

// HandleGetDrift returns the valuation, drift decision and the plan that
// would run now
func (h *Handler) HandleGetDrift(w http.ResponseWriter, r *http.Request) {
	assessment, err := h.service.Assess(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeData(w, http.StatusOK, assessment)
}

// HandleRebalance rebalances the vault to its exact targets
func (h *Handler) HandleRebalance(w http.ResponseWriter, r *http.Request) {
	entry, err := h.service.RebalanceNow(r.Context(), chi.URLParam(r, "id"))
	h.writeActionResult(w, entry, err)
}

// HandleRetry retries a partial or failed rebalance entry
func (h *Handler) HandleRetry(w http.ResponseWriter, r *http.Request) {
	entry, err := h.service.Retry(r.Context(), chi.URLParam(r, "historyID"))
	h.writeActionResult(w, entry, err)
}

// HandleGetHistory lists a vault's history, newest first.
// Query: kind=rebalance|take_profit (default rebalance), limit (default 50).
func (h *Handler) HandleGetHistory(w http.ResponseWriter, r *http.Request) {
	kind := domain.HistoryRebalance
	if k := r.URL.Query().Get("kind"); k != "" {
		kind = domain.HistoryKind(k)
		if !kind.Valid() {
			h.writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown history kind %q", k))
			return
		}
	}

	limit := 0
	if l := r.URL.Query().Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n < 1 {
			h.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	entries, err := h.history.ListHistory(r.Context(), kind, chi.URLParam(r, "id"), limit)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeData(w, http.StatusOK, map[string]interface{}{
		"kind":    kind,
		"entries": entries,
		"count":   len(entries),
	})
}

// HandleGetHistoryEntry returns one history entry
func (h *Handler) HandleGetHistoryEntry(w http.ResponseWriter, r *http.Request) {
	kind := domain.HistoryKind(chi.URLParam(r, "kind"))
	if !kind.Valid() {
		h.writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown history kind %q", kind))
		return
	}
	entry, err := h.history.GetHistory(r.Context(), kind, chi.URLParam(r, "historyID"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeData(w, http.StatusOK, map[string]interface{}{"history": entry})
}

func (h *Handler) writeActionResult(w http.ResponseWriter, entry *domain.HistoryEntry, err error) {
	if entry != nil {
		data := map[string]interface{}{"history": entry}
		if err != nil {
			data["error"] = err.Error()
		}
		h.writeData(w, http.StatusOK, data)
		return
	}
	h.writeServiceError(w, err)
}

func (h *Handler) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrVaultNotFound),
		errors.Is(err, domain.ErrHistoryNotFound):
		h.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrLeaseUnavailable),
		errors.Is(err, domain.ErrNotRetryable):
		h.writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrMissingPrice),
		errors.Is(err, domain.ErrEstimatedValuation),
		errors.Is(err, domain.ErrInvalidAllocationSet):
		h.writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		h.log.Error().Err(err).Msg("Rebalancing request failed")
		h.writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (h *Handler) writeData(w http.ResponseWriter, status int, data interface{}) {
	h.writeJSON(w, status, map[string]interface{}{
		"data": data,
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
		},
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
