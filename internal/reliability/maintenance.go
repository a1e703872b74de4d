package reliability

import (
	"context"
	"fmt"

	"github.com/aristath/vaultpilot/internal/database"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/disk"
)

// DailyMaintenanceJob checks database integrity, truncates WAL files and
// watches free disk space under the data directory
type DailyMaintenanceJob struct {
	databases      []*database.DB
	dataDir        string
	minFreePercent float64
	log            zerolog.Logger
}

// NewDailyMaintenanceJob creates the job. A warning is logged when free
// space under dataDir drops below minFreePercent.
func NewDailyMaintenanceJob(databases []*database.DB, dataDir string, minFreePercent float64, log zerolog.Logger) *DailyMaintenanceJob {
	return &DailyMaintenanceJob{
		databases:      databases,
		dataDir:        dataDir,
		minFreePercent: minFreePercent,
		log:            log.With().Str("job", "daily_maintenance").Logger(),
	}
}

// Name returns the job name
func (j *DailyMaintenanceJob) Name() string {
	return "daily_maintenance"
}

// Run executes the maintenance. A failed integrity check aborts the job.
func (j *DailyMaintenanceJob) Run(ctx context.Context) error {
	for _, db := range j.databases {
		if err := db.HealthCheck(ctx); err != nil {
			j.log.Error().Err(err).Str("database", db.Name()).Msg("CRITICAL: database failed integrity check")
			return fmt.Errorf("integrity check failed: %w", err)
		}
		if err := db.WALCheckpoint("TRUNCATE"); err != nil {
			j.log.Warn().Err(err).Str("database", db.Name()).Msg("WAL checkpoint failed")
		}
	}

	if err := j.checkDiskSpace(ctx); err != nil {
		j.log.Warn().Err(err).Msg("Disk space check failed")
	}

	j.log.Info().Int("databases", len(j.databases)).Msg("Daily maintenance completed")
	return nil
}

func (j *DailyMaintenanceJob) checkDiskSpace(ctx context.Context) error {
	usage, err := disk.UsageWithContext(ctx, j.dataDir)
	if err != nil {
		return err
	}

	free := 100 - usage.UsedPercent
	event := j.log.Debug()
	if free < j.minFreePercent {
		event = j.log.Warn()
	}
	event.
		Float64("free_percent", free).
		Uint64("free_bytes", usage.Free).
		Str("path", j.dataDir).
		Msg("Disk space")
	return nil
}
