// Package handlers provides HTTP handlers for vault and allocation management.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/aristath/vaultpilot/internal/domain"
	"github.com/aristath/vaultpilot/internal/events"
	"github.com/aristath/vaultpilot/internal/modules/allocation"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Handler handles vault HTTP requests
type Handler struct {
	repo         *allocation.Repository
	eventManager *events.Manager
	log          zerolog.Logger
}

// NewHandler creates a new vault handler
func NewHandler(repo *allocation.Repository, eventManager *events.Manager, log zerolog.Logger) *Handler {
	return &Handler{
		repo:         repo,
		eventManager: eventManager,
		log:          log.With().Str("handler", "allocation").Logger(),
	}
}

type allocationRequest struct {
	Asset      string           `json:"asset"`
	TargetBp   int64            `json:"target_bp"`
	AmountHeld *decimal.Decimal `json:"amount_held,omitempty"`
}

type createVaultRequest struct {
	ID               string              `json:"id"`
	OwnerRef         string              `json:"owner_ref"`
	DriftThresholdBp int64               `json:"drift_threshold_bp"`
	RebalanceCadence string              `json:"rebalance_cadence"`
	AutoRebalance    *bool               `json:"auto_rebalance"`
	Allocations      []allocationRequest `json:"allocations"`
}

func toAllocations(vaultID string, reqs []allocationRequest) []domain.Allocation {
	out := make([]domain.Allocation, 0, len(reqs))
	for _, a := range reqs {
		out = append(out, domain.Allocation{
			VaultID:    vaultID,
			Asset:      strings.ToUpper(strings.TrimSpace(a.Asset)),
			TargetBp:   a.TargetBp,
			AmountHeld: a.AmountHeld,
		})
	}
	return out
}

// HandleCreateVault creates a vault, optionally with its allocation set
func (h *Handler) HandleCreateVault(w http.ResponseWriter, r *http.Request) {
	var req createVaultRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	cadence := domain.CadenceManual
	if req.RebalanceCadence != "" {
		c, err := domain.ParseCadence(req.RebalanceCadence)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		cadence = c
	}

	allocations := toAllocations(req.ID, req.Allocations)
	if err := domain.ValidateAllocationSet(allocations); err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	vault := &domain.Vault{
		ID:               strings.TrimSpace(req.ID),
		OwnerRef:         req.OwnerRef,
		DriftThresholdBp: req.DriftThresholdBp,
		RebalanceCadence: cadence,
		AutoRebalance:    req.AutoRebalance == nil || *req.AutoRebalance,
	}
	if err := h.repo.CreateVault(r.Context(), vault); err != nil {
		h.writeRepoError(w, err)
		return
	}

	if len(allocations) > 0 {
		if err := h.repo.SetAllocations(r.Context(), vault.ID, allocations); err != nil {
			// The vault row is useless without the set the caller asked for
			if delErr := h.repo.DeleteVault(r.Context(), vault.ID); delErr != nil {
				h.log.Error().Err(delErr).Str("vault_id", vault.ID).Msg("Failed to remove vault after allocation error")
			}
			h.writeRepoError(w, err)
			return
		}
		h.emitAllocationsChanged(vault.ID, len(allocations))
	}

	h.log.Info().Str("vault_id", vault.ID).Int("assets", len(allocations)).Msg("Vault created")
	h.writeData(w, http.StatusCreated, map[string]interface{}{
		"vault":       vault,
		"allocations": allocations,
	})
}

// HandleListVaults returns all vaults
func (h *Handler) HandleListVaults(w http.ResponseWriter, r *http.Request) {
	vaults, err := h.repo.ListVaults(r.Context())
	if err != nil {
		h.writeRepoError(w, err)
		return
	}
	h.writeData(w, http.StatusOK, map[string]interface{}{
		"vaults": vaults,
		"count":  len(vaults),
	})
}

// HandleGetVault returns one vault with its allocations
func (h *Handler) HandleGetVault(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	vault, err := h.repo.GetVault(r.Context(), id)
	if err != nil {
		h.writeRepoError(w, err)
		return
	}
	allocations, err := h.repo.GetAllocations(r.Context(), id)
	if err != nil {
		h.writeRepoError(w, err)
		return
	}
	h.writeData(w, http.StatusOK, map[string]interface{}{
		"vault":       vault,
		"allocations": allocations,
	})
}

// HandleUpdateVault applies a partial update to vault settings
func (h *Handler) HandleUpdateVault(w http.ResponseWriter, r *http.Request) {
	var update domain.VaultUpdate
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if update.RebalanceCadence != nil {
		c, err := domain.ParseCadence(string(*update.RebalanceCadence))
		if err != nil {
			h.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		update.RebalanceCadence = &c
	}

	vault, err := h.repo.UpdateVault(r.Context(), chi.URLParam(r, "id"), update)
	if err != nil {
		h.writeRepoError(w, err)
		return
	}
	h.writeData(w, http.StatusOK, map[string]interface{}{"vault": vault})
}

// HandleDeleteVault removes a vault and its allocations. History is kept.
func (h *Handler) HandleDeleteVault(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.repo.DeleteVault(r.Context(), id); err != nil {
		h.writeRepoError(w, err)
		return
	}
	h.log.Info().Str("vault_id", id).Msg("Vault deleted")
	w.WriteHeader(http.StatusNoContent)
}

// HandleGetAllocations returns the vault's allocation set
func (h *Handler) HandleGetAllocations(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := h.repo.GetVault(r.Context(), id); err != nil {
		h.writeRepoError(w, err)
		return
	}
	allocations, err := h.repo.GetAllocations(r.Context(), id)
	if err != nil {
		h.writeRepoError(w, err)
		return
	}
	h.writeData(w, http.StatusOK, map[string]interface{}{"allocations": allocations})
}

// HandleSetAllocations replaces the vault's allocation set atomically
func (h *Handler) HandleSetAllocations(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Allocations []allocationRequest `json:"allocations"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	id := chi.URLParam(r, "id")
	allocations := toAllocations(id, req.Allocations)
	if err := h.repo.SetAllocations(r.Context(), id, allocations); err != nil {
		h.writeRepoError(w, err)
		return
	}
	h.emitAllocationsChanged(id, len(allocations))

	stored, err := h.repo.GetAllocations(r.Context(), id)
	if err != nil {
		h.writeRepoError(w, err)
		return
	}
	h.writeData(w, http.StatusOK, map[string]interface{}{"allocations": stored})
}

// HandleSetHoldings records reported holdings for allocated assets
func (h *Handler) HandleSetHoldings(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Holdings map[string]decimal.Decimal `json:"holdings"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if len(req.Holdings) == 0 {
		h.writeError(w, http.StatusBadRequest, "holdings are required")
		return
	}

	id := chi.URLParam(r, "id")
	if err := h.repo.SetHoldings(r.Context(), id, req.Holdings); err != nil {
		h.writeRepoError(w, err)
		return
	}

	stored, err := h.repo.GetAllocations(r.Context(), id)
	if err != nil {
		h.writeRepoError(w, err)
		return
	}
	h.writeData(w, http.StatusOK, map[string]interface{}{"allocations": stored})
}

func (h *Handler) emitAllocationsChanged(vaultID string, assets int) {
	h.eventManager.Emit("allocation", &events.AllocationsChangedData{VaultID: vaultID, Assets: assets})
}

func (h *Handler) writeRepoError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrVaultNotFound):
		h.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrVaultExists):
		h.writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrInvalidVault), errors.Is(err, domain.ErrInvalidAllocationSet):
		h.writeError(w, http.StatusBadRequest, err.Error())
	default:
		h.log.Error().Err(err).Msg("Vault request failed")
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
