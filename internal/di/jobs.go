package di

import (
	"context"
	"fmt"

	"github.com/aristath/vaultpilot/internal/config"
	"github.com/aristath/vaultpilot/internal/reliability"
	"github.com/aristath/vaultpilot/internal/scheduler"
	"github.com/rs/zerolog"
)

// Fixed schedules for housekeeping jobs. The tick, daily maintenance and
// backup schedules are configurable.
const (
	pricePruneSchedule    = "0 15 * * * *"
	leasePurgeSchedule    = "0 */10 * * * *"
	stalePendingSchedule  = "0 */5 * * * *"
	walCheckpointSchedule = "0 */30 * * * *"
)

// RegisterJobs creates the scheduler and registers every job with it.
// Returns JobInstances for manual triggering via API.
func RegisterJobs(ctx context.Context, container *Container, cfg *config.Config, log zerolog.Logger) (*JobInstances, error) {
	if container == nil {
		return nil, fmt.Errorf("container cannot be nil")
	}

	sched := scheduler.New(log)
	container.Scheduler = sched

	instances := &JobInstances{
		VaultCycle: scheduler.NewCycleRunner(
			container.VaultRepo,
			container.LeaseRepo,
			container.PriceRepo,
			container.RebalancingService,
			container.TakeProfitService,
			container.EventManager,
			cfg.Cycle.Workers,
			cfg.Cycle.LeaseTTL,
			log,
		),
		PricePrune:    scheduler.NewPricePruneJob(container.PriceRepo, cfg.Prices.Retention, log),
		LeasePurge:    scheduler.NewLeasePurgeJob(container.LeaseRepo, log),
		StalePending:  scheduler.NewStalePendingJob(container.HistoryRepo, cfg.Cycle.LeaseTTL, log),
		WALCheckpoint: scheduler.NewWALCheckpointJob(log, container.Databases()...),
		DailyMaintenance: reliability.NewDailyMaintenanceJob(
			container.Databases(), cfg.DataDir, cfg.Maintenance.MinFreePercent, log,
		),
	}

	if cfg.Backup.Enabled {
		store, err := reliability.NewS3Client(ctx, reliability.S3Config{
			Bucket:          cfg.Backup.Bucket,
			Region:          cfg.Backup.Region,
			Endpoint:        cfg.Backup.Endpoint,
			AccessKeyID:     cfg.Backup.AccessKeyID,
			SecretAccessKey: cfg.Backup.SecretAccessKey,
			Prefix:          cfg.Backup.Prefix,
			UsePathStyle:    cfg.Backup.UsePathStyle,
		}, log)
		if err != nil {
			return nil, fmt.Errorf("failed to create backup store: %w", err)
		}
		instances.Backup = reliability.NewBackupService(
			store, container.Databases(), cfg.DataDir, cfg.Backup.RetentionDays, container.EventManager, log,
		)
		container.BackupService = instances.Backup
	}

	schedules := []struct {
		spec string
		job  scheduler.Job
	}{
		{cfg.Cycle.TickSpec, instances.VaultCycle},
		{pricePruneSchedule, instances.PricePrune},
		{leasePurgeSchedule, instances.LeasePurge},
		{stalePendingSchedule, instances.StalePending},
		{walCheckpointSchedule, instances.WALCheckpoint},
		{cfg.Maintenance.Schedule, instances.DailyMaintenance},
	}
	if instances.Backup != nil {
		schedules = append(schedules, struct {
			spec string
			job  scheduler.Job
		}{cfg.Backup.Schedule, instances.Backup})
	}

	for _, s := range schedules {
		if err := sched.AddJob(s.spec, s.job); err != nil {
			return nil, err
		}
	}

	log.Info().Int("jobs", len(schedules)).Msg("Jobs registered")
	return instances, nil
}
