package handlers

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers vault and allocation routes. Patterns are flat
// so other modules can add routes under /vaults/{id}.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/vaults", h.HandleCreateVault)
	r.Get("/vaults", h.HandleListVaults)

	r.Get("/vaults/{id}", h.HandleGetVault)
	r.Patch("/vaults/{id}", h.HandleUpdateVault)
	r.Delete("/vaults/{id}", h.HandleDeleteVault)

	r.Get("/vaults/{id}/allocations", h.HandleGetAllocations)
	r.Put("/vaults/{id}/allocations", h.HandleSetAllocations)
	r.Put("/vaults/{id}/holdings", h.HandleSetHoldings)
}
