// Package handlers provides the price feed HTTP endpoints.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/aristath/vaultpilot/internal/domain"
	"github.com/aristath/vaultpilot/internal/events"
	"github.com/aristath/vaultpilot/internal/modules/prices"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Handler handles price HTTP requests
type Handler struct {
	repo         *prices.Repository
	eventManager *events.Manager
	log          zerolog.Logger
}

// NewHandler creates a new price handler
func NewHandler(repo *prices.Repository, eventManager *events.Manager, log zerolog.Logger) *Handler {
	return &Handler{
		repo:         repo,
		eventManager: eventManager,
		log:          log.With().Str("handler", "prices").Logger(),
	}
}

type quoteRequest struct {
	Asset       string           `json:"asset"`
	Price       decimal.Decimal  `json:"price"`
	Previous24h *decimal.Decimal `json:"previous_24h,omitempty"`
	UpdatedAt   *time.Time       `json:"updated_at,omitempty"`
}

// HandleUpsertPrices ingests a batch of quotes from the price feed
func (h *Handler) HandleUpsertPrices(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Prices []quoteRequest `json:"prices"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if len(req.Prices) == 0 {
		h.writeError(w, http.StatusBadRequest, "prices are required")
		return
	}

	quotes := make([]domain.Price, 0, len(req.Prices))
	for _, q := range req.Prices {
		p := domain.Price{Asset: q.Asset, Current: q.Price, Previous24h: q.Previous24h}
		if q.UpdatedAt != nil {
			p.UpdatedAt = q.UpdatedAt.UTC()
		}
		quotes = append(quotes, p)
	}

	if err := h.repo.UpsertPrices(r.Context(), quotes); err != nil {
		if errors.Is(err, prices.ErrInvalidPrice) {
			h.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.log.Error().Err(err).Msg("Failed to store prices")
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	assets := make([]string, 0, len(quotes))
	for _, q := range quotes {
		assets = append(assets, q.Asset)
	}
	h.eventManager.Emit("prices", &events.PricesUpdatedData{Assets: assets})

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": map[string]interface{}{
			"updated": len(quotes),
		},
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
		},
	})
}

// HandleListPrices returns every stored quote with its 24h change when known
func (h *Handler) HandleListPrices(w http.ResponseWriter, r *http.Request) {
	all, err := h.repo.ListPrices(r.Context())
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	items := make([]map[string]interface{}, 0, len(all))
	for _, p := range all {
		item := map[string]interface{}{
			"asset":      p.Asset,
			"price":      p.Current,
			"updated_at": p.UpdatedAt.Format(time.RFC3339),
		}
		if pct, ok := p.Change24hPct(); ok {
			item["change_24h_pct"] = pct.Round(4)
		}
		items = append(items, item)
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": map[string]interface{}{
			"prices": items,
		},
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
