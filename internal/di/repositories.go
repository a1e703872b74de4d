package di

import (
	"fmt"

	"github.com/aristath/vaultpilot/internal/config"
	"github.com/aristath/vaultpilot/internal/events"
	"github.com/aristath/vaultpilot/internal/modules/allocation"
	"github.com/aristath/vaultpilot/internal/modules/history"
	"github.com/aristath/vaultpilot/internal/modules/leases"
	"github.com/aristath/vaultpilot/internal/modules/prices"
	"github.com/aristath/vaultpilot/internal/modules/takeprofit"
	"github.com/rs/zerolog"
)

// InitializeRepositories creates the event bus and all repositories
func InitializeRepositories(container *Container, cfg *config.Config, log zerolog.Logger) error {
	if container == nil {
		return fmt.Errorf("container cannot be nil")
	}

	container.EventBus = events.NewBus(log)
	container.EventManager = events.NewManager(container.EventBus, log)

	vaultsConn := container.VaultsDB.Conn()
	container.VaultRepo = allocation.NewRepository(vaultsConn, log)
	container.PriceRepo = prices.NewRepository(vaultsConn, cfg.Prices.MaxAge, log)
	container.LeaseRepo = leases.NewRepository(vaultsConn, log)
	container.TakeProfitRepo = takeprofit.NewRepository(vaultsConn, log)

	container.HistoryRepo = history.NewRepository(container.LedgerDB.Conn(), log)

	log.Info().Msg("Repositories initialized")
	return nil
}
