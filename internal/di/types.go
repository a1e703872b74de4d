// Package di provides dependency injection wiring and initialization.
package di

import (
	"github.com/aristath/vaultpilot/internal/database"
	"github.com/aristath/vaultpilot/internal/events"
	"github.com/aristath/vaultpilot/internal/modules/allocation"
	"github.com/aristath/vaultpilot/internal/modules/drift"
	"github.com/aristath/vaultpilot/internal/modules/execution"
	"github.com/aristath/vaultpilot/internal/modules/history"
	"github.com/aristath/vaultpilot/internal/modules/leases"
	"github.com/aristath/vaultpilot/internal/modules/prices"
	"github.com/aristath/vaultpilot/internal/modules/rebalancing"
	"github.com/aristath/vaultpilot/internal/modules/swap"
	"github.com/aristath/vaultpilot/internal/modules/takeprofit"
	"github.com/aristath/vaultpilot/internal/modules/valuation"
	"github.com/aristath/vaultpilot/internal/reliability"
	"github.com/aristath/vaultpilot/internal/scheduler"
)

// Container holds all application dependencies
type Container struct {
	// Databases
	VaultsDB *database.DB
	LedgerDB *database.DB

	// Events
	EventBus     *events.Bus
	EventManager *events.Manager

	// Repositories
	VaultRepo      *allocation.Repository
	PriceRepo      *prices.Repository
	LeaseRepo      *leases.Repository
	HistoryRepo    *history.Repository
	TakeProfitRepo *takeprofit.Repository

	// Engine components
	Calculator *valuation.Calculator
	Detector   *drift.Detector
	Planner    *rebalancing.Planner
	Evaluator  *takeprofit.Evaluator
	Swaps      *swap.PaperExecutor
	Runner     *execution.Runner
	Recorder   *execution.Recorder

	// Services
	RebalancingService *rebalancing.Service
	TakeProfitService  *takeprofit.Service
	BackupService      *reliability.BackupService // nil when backups are disabled

	// Scheduling
	Scheduler *scheduler.Scheduler
}

// Databases returns every open database in a stable order
func (c *Container) Databases() []*database.DB {
	var dbs []*database.DB
	for _, db := range []*database.DB{c.VaultsDB, c.LedgerDB} {
		if db != nil {
			dbs = append(dbs, db)
		}
	}
	return dbs
}

// Close closes every open database
func (c *Container) Close() {
	for _, db := range c.Databases() {
		db.Close()
	}
}

// JobInstances holds references to registered jobs for manual triggering via API
type JobInstances struct {
	VaultCycle       *scheduler.CycleRunner
	PricePrune       *scheduler.PricePruneJob
	LeasePurge       *scheduler.LeasePurgeJob
	StalePending     *scheduler.StalePendingJob
	WALCheckpoint    *scheduler.WALCheckpointJob
	DailyMaintenance *reliability.DailyMaintenanceJob
	Backup           *reliability.BackupService // nil when backups are disabled
}

// ByName returns the registered jobs keyed by job name
func (j *JobInstances) ByName() map[string]scheduler.Job {
	jobs := make(map[string]scheduler.Job)
	for _, job := range []scheduler.Job{j.VaultCycle, j.PricePrune, j.LeasePurge, j.StalePending, j.WALCheckpoint, j.DailyMaintenance} {
		jobs[job.Name()] = job
	}
	if j.Backup != nil {
		jobs[j.Backup.Name()] = j.Backup
	}
	return jobs
}
