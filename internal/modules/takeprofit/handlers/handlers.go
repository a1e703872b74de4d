// Package handlers provides HTTP handlers for take-profit settings and actions.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/aristath/vaultpilot/internal/domain"
	"github.com/aristath/vaultpilot/internal/modules/takeprofit"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Handler handles take-profit HTTP requests
type Handler struct {
	service *takeprofit.Service
	log     zerolog.Logger
}

// NewHandler creates a new take-profit handler
func NewHandler(service *takeprofit.Service, log zerolog.Logger) *Handler {
	return &Handler{
		service: service,
		log:     log.With().Str("handler", "take_profit").Logger(),
	}
}

type settingRequest struct {
	Strategy         *string          `json:"strategy"`
	ThresholdPct     *decimal.Decimal `json:"threshold_pct"`
	IntervalHours    *int64           `json:"interval_hours"`
	SellPct          *decimal.Decimal `json:"sell_pct"`
	BaselineUSD      *decimal.Decimal `json:"baseline_usd"`
	DestinationAsset *string          `json:"destination_asset"`
	Active           *bool            `json:"active"`
}

func (req settingRequest) apply(s *domain.TakeProfitSetting) {
	if req.Strategy != nil {
		s.Strategy = domain.TakeProfitStrategy(*req.Strategy)
	}
	if req.ThresholdPct != nil {
		s.ThresholdPct = *req.ThresholdPct
	}
	if req.IntervalHours != nil {
		s.Interval = time.Duration(*req.IntervalHours) * time.Hour
	}
	if req.SellPct != nil {
		s.SellPct = *req.SellPct
	}
	if req.BaselineUSD != nil {
		s.BaselineUSD = *req.BaselineUSD
	}
	if req.DestinationAsset != nil {
		s.DestinationAsset = *req.DestinationAsset
	}
	if req.Active != nil {
		s.Active = *req.Active
	}
}

// HandleCreateSetting creates the vault's take-profit setting
func (h *Handler) HandleCreateSetting(w http.ResponseWriter, r *http.Request) {
	var req settingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	setting := &domain.TakeProfitSetting{VaultID: chi.URLParam(r, "id"), Active: true}
	req.apply(setting)
	if err := h.service.CreateSetting(r.Context(), setting); err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeData(w, http.StatusCreated, map[string]interface{}{"setting": setting})
}

// HandleUpdateSetting changes fields of the existing setting
func (h *Handler) HandleUpdateSetting(w http.ResponseWriter, r *http.Request) {
	var req settingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	setting, err := h.service.GetSetting(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	req.apply(setting)
	if err := h.service.UpdateSetting(r.Context(), setting); err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeData(w, http.StatusOK, map[string]interface{}{"setting": setting})
}

// HandleGetSetting returns the setting with a dry-run evaluation
func (h *Handler) HandleGetSetting(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	setting, err := h.service.GetSetting(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	data := map[string]interface{}{"setting": setting}
	if decision, err := h.service.Preview(r.Context(), id); err != nil {
		data["evaluation_error"] = err.Error()
	} else {
		data["evaluation"] = decision
	}
	h.writeData(w, http.StatusOK, data)
}

// HandleExecuteNow realizes gains immediately
func (h *Handler) HandleExecuteNow(w http.ResponseWriter, r *http.Request) {
	entry, err := h.service.ExecuteNow(r.Context(), chi.URLParam(r, "id"))
	h.writeActionResult(w, entry, err)
}

// HandleRetry retries a partial or failed take-profit entry
func (h *Handler) HandleRetry(w http.ResponseWriter, r *http.Request) {
	entry, err := h.service.Retry(r.Context(), chi.URLParam(r, "historyID"))
	h.writeActionResult(w, entry, err)
}

// writeActionResult reports recorded executions as 200 even when swaps
// failed; the entry carries the outcome
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
		errors.Is(err, domain.ErrTakeProfitNotFound),
		errors.Is(err, domain.ErrHistoryNotFound):
		h.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrTakeProfitExists),
		errors.Is(err, domain.ErrLeaseUnavailable),
		errors.Is(err, domain.ErrNotRetryable):
		h.writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrInvalidTakeProfit):
		h.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNothingToRealize),
		errors.Is(err, domain.ErrMissingPrice):
		h.writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		h.log.Error().Err(err).Msg("Take-profit request failed")
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
