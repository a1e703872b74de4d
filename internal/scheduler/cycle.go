package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/aristath/vaultpilot/internal/domain"
	"github.com/aristath/vaultpilot/internal/events"
	"github.com/aristath/vaultpilot/internal/modules/prices"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Phase runs one half of a vault cycle for a vault whose lease is held
type Phase interface {
	RunCycle(ctx context.Context, vault *domain.Vault, prices domain.PriceSource) domain.CycleOutcome
}

// VaultCycleResult is what happened to one vault during a tick
type VaultCycleResult struct {
	VaultID string                `json:"vault_id"`
	State   domain.CycleState     `json:"state"`
	Phases  []domain.CycleOutcome `json:"phases,omitempty"`
	Err     error                 `json:"-"`
}

// acted reports whether a phase of kind recorded a history entry
func (r VaultCycleResult) acted(kind domain.HistoryKind) bool {
	for _, p := range r.Phases {
		if p.Kind == kind && p.History != nil {
			return true
		}
	}
	return false
}

// TickReport summarizes one tick
type TickReport struct {
	TickID     string             `json:"tick_id"`
	StartedAt  time.Time          `json:"started_at"`
	Duration   time.Duration      `json:"duration"`
	Results    []VaultCycleResult `json:"results"`
	Rebalanced int                `json:"rebalanced"`
	TookProfit int                `json:"took_profit"`
	Skipped    int                `json:"skipped"`
	Failed     int                `json:"failed"`
}

// CycleRunner runs one tick: every vault is leased, rebalanced when due and
// checked for take-profit, through a bounded pool of workers
type CycleRunner struct {
	vaults       domain.VaultStore
	leases       domain.LeaseManager
	prices       domain.PriceSource
	rebalance    Phase
	takeProfit   Phase
	eventManager *events.Manager
	workers      int
	leaseTTL     time.Duration
	log          zerolog.Logger
	now          func() time.Time
}

// NewCycleRunner creates a cycle runner. prices is the underlying source;
// each tick reads it through its own cache.
func NewCycleRunner(
	vaults domain.VaultStore,
	leases domain.LeaseManager,
	priceSource domain.PriceSource,
	rebalance Phase,
	takeProfit Phase,
	eventManager *events.Manager,
	workers int,
	leaseTTL time.Duration,
	log zerolog.Logger,
) *CycleRunner {
	if workers < 1 {
		workers = 1
	}
	return &CycleRunner{
		vaults:       vaults,
		leases:       leases,
		prices:       priceSource,
		rebalance:    rebalance,
		takeProfit:   takeProfit,
		eventManager: eventManager,
		workers:      workers,
		leaseTTL:     leaseTTL,
		log:          log.With().Str("service", "cycle_runner").Logger(),
		now:          time.Now,
	}
}

// Name returns the job name
func (c *CycleRunner) Name() string {
	return "vault_cycle"
}

// Run executes one tick as a scheduler job
func (c *CycleRunner) Run(ctx context.Context) error {
	_, err := c.RunTick(ctx)
	return err
}

// RunTick processes every vault once. Per-vault failures are reported in
// the result and never stop other vaults; only failing to list vaults
// returns an error. Once ctx is cancelled no further vault is started.
func (c *CycleRunner) RunTick(ctx context.Context) (*TickReport, error) {
	report := &TickReport{TickID: uuid.NewString(), StartedAt: c.now()}

	vaults, err := c.vaults.ListVaults(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list vaults: %w", err)
	}

	c.eventManager.Emit("scheduler", &events.CycleStartedData{
		TickID:     report.TickID,
		VaultCount: len(vaults),
		StartedAt:  report.StartedAt,
	})

	cache := prices.NewCycleCache(c.prices)
	report.Results = make([]VaultCycleResult, len(vaults))

	var g errgroup.Group
	g.SetLimit(c.workers)
	for i := range vaults {
		i := i
		vault := vaults[i]
		if ctx.Err() != nil {
			report.Results[i] = VaultCycleResult{VaultID: vault.ID, State: domain.CycleSkipped, Err: ctx.Err()}
			continue
		}
		g.Go(func() error {
			report.Results[i] = c.runVault(ctx, &vault, cache)
			return nil
		})
	}
	_ = g.Wait()

	for _, r := range report.Results {
		switch r.State {
		case domain.CycleSkipped:
			report.Skipped++
		case domain.CycleFailed:
			report.Failed++
		}
		if r.acted(domain.HistoryRebalance) {
			report.Rebalanced++
		}
		if r.acted(domain.HistoryTakeProfit) {
			report.TookProfit++
		}
	}
	report.Duration = c.now().Sub(report.StartedAt)

	c.eventManager.Emit("scheduler", &events.CycleCompletedData{
		TickID:     report.TickID,
		VaultCount: len(vaults),
		Rebalanced: report.Rebalanced,
		TookProfit: report.TookProfit,
		Skipped:    report.Skipped,
		Failed:     report.Failed,
		DurationMs: report.Duration.Milliseconds(),
	})

	c.log.Info().
		Str("tick_id", report.TickID).
		Int("vaults", len(vaults)).
		Int("rebalanced", report.Rebalanced).
		Int("took_profit", report.TookProfit).
		Int("skipped", report.Skipped).
		Int("failed", report.Failed).
		Dur("duration", report.Duration).
		Msg("Tick completed")

	return report, nil
}

// runVault runs both phases for one vault under its lease
func (c *CycleRunner) runVault(ctx context.Context, vault *domain.Vault, cache domain.PriceSource) (result VaultCycleResult) {
	result = VaultCycleResult{VaultID: vault.ID, State: domain.CycleEvaluating}
	log := c.log.With().Str("vault_id", vault.ID).Logger()

	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Interface("panic", r).
				Str("stack", string(debug.Stack())).
				Msg("Panic in vault cycle")
			result.State = domain.CycleFailed
			result.Err = fmt.Errorf("panic: %v", r)
			c.emitFailed(vault.ID, "cycle", result.Err)
		}
	}()

	lease, err := c.leases.Acquire(ctx, vault.ID, c.leaseTTL)
	if err != nil {
		result.Err = err
		if errors.Is(err, domain.ErrLeaseUnavailable) {
			result.State = domain.CycleSkipped
			log.Debug().Msg("Vault leased elsewhere, skipping")
			c.eventManager.Emit("scheduler", &events.VaultSkippedData{VaultID: vault.ID, Reason: err.Error()})
			return result
		}
		result.State = domain.CycleFailed
		c.emitFailed(vault.ID, "lease", err)
		return result
	}
	defer func() {
		if err := c.leases.Release(context.WithoutCancel(ctx), lease); err != nil {
			log.Warn().Err(err).Msg("Failed to release lease")
		}
	}()

	// Phases are independent: a failed rebalance still lets take-profit run
	phases := []Phase{c.rebalance, c.takeProfit}
	for _, phase := range phases {
		if ctx.Err() != nil {
			break
		}
		out := phase.RunCycle(ctx, vault, cache)
		result.Phases = append(result.Phases, out)
		result.State = out.State

		if out.State == domain.CycleFailed {
			log.Warn().Err(out.Err).Str("phase", string(out.Kind)).Msg("Vault cycle phase failed")
			c.emitFailed(vault.ID, string(out.Kind), out.Err)
		}
		if out.Err != nil && result.Err == nil {
			result.Err = out.Err
		}
	}

	result.State = summarize(result.Phases)
	return result
}

// summarize reduces phase states to the vault's final state. A failed
// phase wins over a recorded one.
func summarize(phases []domain.CycleOutcome) domain.CycleState {
	state := domain.CycleNoAction
	for _, p := range phases {
		switch p.State {
		case domain.CycleFailed:
			return domain.CycleFailed
		case domain.CycleRecorded:
			state = domain.CycleRecorded
		}
	}
	return state
}

func (c *CycleRunner) emitFailed(vaultID, phase string, err error) {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	c.eventManager.Emit("scheduler", &events.VaultCycleFailedData{VaultID: vaultID, Phase: phase, Error: msg})
}
