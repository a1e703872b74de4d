package di

import (
	"fmt"
	"path/filepath"

	"github.com/aristath/vaultpilot/internal/config"
	"github.com/aristath/vaultpilot/internal/database"
	"github.com/rs/zerolog"
)

// InitializeDatabases opens both databases and applies their schemas
func InitializeDatabases(cfg *config.Config, log zerolog.Logger) (*Container, error) {
	container := &Container{}

	// vaults.db - Vault definitions, allocations, prices, take-profit settings, leases
	vaultsDB, err := database.New(database.Config{
		Path:    filepath.Join(cfg.DataDir, "vaults.db"),
		Profile: database.ProfileStandard,
		Name:    "vaults",
		Driver:  cfg.DBDriver,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize vaults database: %w", err)
	}
	container.VaultsDB = vaultsDB

	// ledger.db - Rebalance and take-profit history
	ledgerDB, err := database.New(database.Config{
		Path:    filepath.Join(cfg.DataDir, "ledger.db"),
		Profile: database.ProfileLedger,
		Name:    "ledger",
		Driver:  cfg.DBDriver,
	})
	if err != nil {
		vaultsDB.Close()
		return nil, fmt.Errorf("failed to initialize ledger database: %w", err)
	}
	container.LedgerDB = ledgerDB

	for _, db := range container.Databases() {
		if err := db.Migrate(); err != nil {
			container.Close()
			return nil, fmt.Errorf("failed to apply schema to %s: %w", db.Name(), err)
		}
	}

	log.Info().Str("driver", vaultsDB.Driver()).Msg("All databases initialized and schemas applied")
	return container, nil
}
