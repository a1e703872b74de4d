package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/aristath/vaultpilot/internal/database"
	"github.com/aristath/vaultpilot/internal/domain"
	"github.com/rs/zerolog"
)

// PricePruner deletes price history older than a cutoff
type PricePruner interface {
	Prune(ctx context.Context, cutoff time.Time) (int64, error)
}

// PricePruneJob keeps price_history bounded
type PricePruneJob struct {
	prices    PricePruner
	retention time.Duration
	log       zerolog.Logger
	now       func() time.Time
}

// NewPricePruneJob creates a job removing history older than retention
func NewPricePruneJob(prices PricePruner, retention time.Duration, log zerolog.Logger) *PricePruneJob {
	return &PricePruneJob{
		prices:    prices,
		retention: retention,
		log:       log.With().Str("job", "prune_price_history").Logger(),
		now:       time.Now,
	}
}

// Name returns the job name
func (j *PricePruneJob) Name() string {
	return "prune_price_history"
}

// Run executes the prune
func (j *PricePruneJob) Run(ctx context.Context) error {
	removed, err := j.prices.Prune(ctx, j.now().Add(-j.retention))
	if err != nil {
		return err
	}
	j.log.Info().Int64("removed", removed).Msg("Price history pruned")
	return nil
}

// LeasePurger deletes expired leases
type LeasePurger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

// LeasePurgeJob removes lease rows left behind by crashed workers
type LeasePurgeJob struct {
	leases LeasePurger
	log    zerolog.Logger
}

// NewLeasePurgeJob creates a lease purge job
func NewLeasePurgeJob(leases LeasePurger, log zerolog.Logger) *LeasePurgeJob {
	return &LeasePurgeJob{leases: leases, log: log.With().Str("job", "purge_leases").Logger()}
}

// Name returns the job name
func (j *LeasePurgeJob) Name() string {
	return "purge_leases"
}

// Run executes the purge
func (j *LeasePurgeJob) Run(ctx context.Context) error {
	removed, err := j.leases.PurgeExpired(ctx)
	if err != nil {
		return err
	}
	if removed > 0 {
		j.log.Info().Int64("removed", removed).Msg("Expired leases purged")
	}
	return nil
}

// PendingHistory lists and finalizes history entries
type PendingHistory interface {
	ListPending(ctx context.Context, kind domain.HistoryKind, olderThan time.Time) ([]domain.HistoryEntry, error)
	FinalizeHistory(ctx context.Context, kind domain.HistoryKind, id string, fin domain.HistoryFinalization) error
}

// StalePendingJob fails history entries left pending by a process that
// stopped mid-execution. Their swaps may or may not have committed, so
// unresolved instructions are marked failed and the entry is left for an
// operator to inspect or retry.
type StalePendingJob struct {
	history PendingHistory
	maxAge  time.Duration
	log     zerolog.Logger
	now     func() time.Time
}

// NewStalePendingJob creates the job. maxAge must exceed the longest
// possible execution (lease TTL is a safe choice).
func NewStalePendingJob(history PendingHistory, maxAge time.Duration, log zerolog.Logger) *StalePendingJob {
	return &StalePendingJob{
		history: history,
		maxAge:  maxAge,
		log:     log.With().Str("job", "fail_stale_pending").Logger(),
		now:     time.Now,
	}
}

// Name returns the job name
func (j *StalePendingJob) Name() string {
	return "fail_stale_pending"
}

// Run finalizes every stale pending entry as failed
func (j *StalePendingJob) Run(ctx context.Context) error {
	cutoff := j.now().Add(-j.maxAge)
	for _, kind := range []domain.HistoryKind{domain.HistoryRebalance, domain.HistoryTakeProfit} {
		entries, err := j.history.ListPending(ctx, kind, cutoff)
		if err != nil {
			return err
		}
		for _, e := range entries {
			outcomes := make([]domain.InstructionOutcome, len(e.Outcomes))
			for i, o := range e.Outcomes {
				if o.Status == domain.InstructionPending {
					o.Status = domain.InstructionFailed
					o.Error = "interrupted"
				}
				outcomes[i] = o
			}
			err := j.history.FinalizeHistory(ctx, kind, e.ID, domain.HistoryFinalization{
				Status:        domain.StatusFailed,
				Outcomes:      outcomes,
				Detail:        e.Detail,
				FailureReason: "interrupted before finalization; swap outcomes unknown",
				TotalFeeUSD:   e.TotalFeeUSD,
				FinalizedAt:   j.now().UTC().Truncate(time.Second),
			})
			if err != nil {
				j.log.Error().Err(err).Str("history_id", e.ID).Msg("Failed to finalize stale entry")
				continue
			}
			j.log.Warn().
				Str("kind", string(kind)).
				Str("history_id", e.ID).
				Str("vault_id", e.VaultID).
				Msg("Stale pending entry marked failed")
		}
	}
	return nil
}

// WALCheckpointJob checkpoints each database and warns when a WAL grows large
type WALCheckpointJob struct {
	databases []*database.DB
	log       zerolog.Logger
}

// NewWALCheckpointJob creates the job
func NewWALCheckpointJob(log zerolog.Logger, databases ...*database.DB) *WALCheckpointJob {
	return &WALCheckpointJob{databases: databases, log: log.With().Str("job", "wal_checkpoint").Logger()}
}

// Name returns the job name
func (j *WALCheckpointJob) Name() string {
	return "wal_checkpoint"
}

// Run executes a PASSIVE checkpoint on every database
func (j *WALCheckpointJob) Run(ctx context.Context) error {
	var failed []string
	for _, db := range j.databases {
		if db == nil {
			continue
		}

		// busy, frames in WAL, frames checkpointed
		var busy, frames, checkpointed int
		err := db.Conn().QueryRowContext(ctx, "PRAGMA wal_checkpoint(PASSIVE)").Scan(&busy, &frames, &checkpointed)
		if err != nil {
			j.log.Warn().Err(err).Str("database", db.Name()).Msg("Failed to checkpoint WAL")
			failed = append(failed, db.Name())
			continue
		}

		if frames > 1000 {
			j.log.Warn().
				Str("database", db.Name()).
				Int("wal_frames", frames).
				Int("checkpointed", checkpointed).
				Msg("WAL file is large")
		} else {
			j.log.Debug().
				Str("database", db.Name()).
				Int("wal_frames", frames).
				Msg("WAL checkpoint status OK")
		}
	}

	if len(failed) > 0 {
		return fmt.Errorf("WAL checkpoint failed for %v", failed)
	}
	return nil
}
