package handlers

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers drift, rebalance and history routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/vaults/{id}/drift", h.HandleGetDrift)
	r.Post("/vaults/{id}/rebalance", h.HandleRebalance)
	r.Get("/vaults/{id}/history", h.HandleGetHistory)

	r.Get("/history/{kind}/{historyID}", h.HandleGetHistoryEntry)
	r.Post("/rebalancing/history/{historyID}/retry", h.HandleRetry)
}
