package handlers

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers take-profit routes. Patterns are flat so they
// share the /vaults/{id} tree with the other vault handlers.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/vaults/{id}/take-profit", h.HandleGetSetting)
	r.Post("/vaults/{id}/take-profit", h.HandleCreateSetting)
	r.Put("/vaults/{id}/take-profit", h.HandleUpdateSetting)
	r.Post("/vaults/{id}/take-profit/execute", h.HandleExecuteNow)

	r.Post("/take-profit/history/{historyID}/retry", h.HandleRetry)
}
