// Package rebalancing plans and executes vault rebalances.
package rebalancing

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aristath/vaultpilot/internal/domain"
	"github.com/aristath/vaultpilot/internal/events"
	"github.com/aristath/vaultpilot/internal/modules/drift"
	"github.com/aristath/vaultpilot/internal/modules/execution"
	"github.com/aristath/vaultpilot/internal/modules/valuation"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Assessment is a dry run of the rebalance phase for one vault
type Assessment struct {
	Vault     *domain.Vault         `json:"vault"`
	Valuation *domain.Valuation     `json:"valuation"`
	Detection drift.Result          `json:"detection"`
	Plan      *domain.RebalancePlan `json:"plan,omitempty"`
	PlanError string                `json:"plan_error,omitempty"`
}

// Service orchestrates rebalancing: the rebalance phase of a vault cycle,
// explicit rebalances and retries
type Service struct {
	vaults       domain.VaultStore
	history      domain.HistoryStore
	leases       domain.LeaseManager
	prices       domain.PriceSource
	calculator   *valuation.Calculator
	detector     *drift.Detector
	planner      *Planner
	runner       *execution.Runner
	recorder     *execution.Recorder
	eventManager *events.Manager
	leaseTTL     time.Duration
	log          zerolog.Logger
	now          func() time.Time
}

// NewService creates a new rebalancing service
func NewService(
	vaults domain.VaultStore,
	history domain.HistoryStore,
	leases domain.LeaseManager,
	prices domain.PriceSource,
	calculator *valuation.Calculator,
	detector *drift.Detector,
	planner *Planner,
	runner *execution.Runner,
	recorder *execution.Recorder,
	eventManager *events.Manager,
	leaseTTL time.Duration,
	log zerolog.Logger,
) *Service {
	return &Service{
		vaults:       vaults,
		history:      history,
		leases:       leases,
		prices:       prices,
		calculator:   calculator,
		detector:     detector,
		planner:      planner,
		runner:       runner,
		recorder:     recorder,
		eventManager: eventManager,
		leaseTTL:     leaseTTL,
		log:          log.With().Str("service", "rebalancing").Logger(),
		now:          time.Now,
	}
}

// Assess values the vault, runs the detector and, when a rebalance is
// needed, builds the plan that would run. Nothing is executed or recorded.
func (s *Service) Assess(ctx context.Context, vaultID string) (*Assessment, error) {
	vault, err := s.vaults.GetVault(ctx, vaultID)
	if err != nil {
		return nil, err
	}
	allocations, val, err := s.valuate(ctx, vault, s.prices)
	if err != nil {
		return nil, err
	}

	a := &Assessment{
		Vault:     vault,
		Valuation: val,
		Detection: s.detector.Evaluate(vault, val, s.now()),
	}
	if a.Detection.NeedsRebalance {
		plan, err := s.planner.Plan(vault, allocations, val, a.Detection.Trigger())
		if err != nil {
			a.PlanError = err.Error()
		} else {
			a.Plan = plan
		}
	}
	return a, nil
}

// RunCycle runs the rebalance phase for a vault whose lease the caller
// holds. prices is the tick's shared price cache. Errors never escape: the
// outcome carries the state the vault ended in and why.
func (s *Service) RunCycle(ctx context.Context, vault *domain.Vault, prices domain.PriceSource) domain.CycleOutcome {
	out := domain.CycleOutcome{VaultID: vault.ID, Kind: domain.HistoryRebalance, State: domain.CycleEvaluating}

	if !vault.AutoRebalance {
		out.State = domain.CycleNoAction
		out.Reasons = []string{"auto-rebalance disabled"}
		return out
	}

	allocations, val, err := s.valuate(ctx, vault, prices)
	if err != nil {
		return failed(out, err)
	}

	result := s.detector.Evaluate(vault, val, s.now())
	out.Reasons = result.Strings()
	s.emitEvaluated(vault, val, result)

	if !result.NeedsRebalance {
		out.State = domain.CycleNoAction
		return out
	}

	out.Triggered = true
	out.State = domain.CyclePlanning
	plan, err := s.planner.Plan(vault, allocations, val, result.Trigger())
	if err != nil {
		return failed(out, err)
	}

	out.State = domain.CycleExecuting
	entry, err := s.execute(ctx, vault, plan, "", out.Reasons)
	if entry == nil {
		return failed(out, err)
	}

	out.History = entry
	out.State = domain.CycleRecorded
	if err != nil {
		out.Err = err
		out.Reasons = append(out.Reasons, err.Error())
	}
	return out
}

// RebalanceNow rebalances the vault to its exact targets regardless of
// drift, cadence or the auto-rebalance flag
func (s *Service) RebalanceNow(ctx context.Context, vaultID string) (*domain.HistoryEntry, error) {
	lease, err := s.leases.Acquire(ctx, vaultID, s.leaseTTL)
	if err != nil {
		return nil, err
	}
	defer s.release(ctx, lease)

	vault, err := s.vaults.GetVault(ctx, vaultID)
	if err != nil {
		return nil, err
	}
	allocations, val, err := s.valuate(ctx, vault, s.prices)
	if err != nil {
		return nil, err
	}
	plan, err := s.planner.Plan(vault, allocations, val, domain.TriggerManual)
	if err != nil {
		return nil, err
	}
	return s.execute(ctx, vault, plan, "", []string{"manual rebalance"})
}

// Retry re-plans a partial or failed rebalance from a fresh valuation and
// executes it. Retrying the same entry twice returns the first retry's
// entry.
func (s *Service) Retry(ctx context.Context, historyID string) (*domain.HistoryEntry, error) {
	orig, err := s.history.GetHistory(ctx, domain.HistoryRebalance, historyID)
	if err != nil {
		return nil, err
	}
	if !orig.Status.Retryable() {
		return nil, fmt.Errorf("%w: %s is %s", domain.ErrNotRetryable, historyID, orig.Status)
	}
	if existing, err := s.history.FindRetry(ctx, domain.HistoryRebalance, historyID); err != nil || existing != nil {
		return existing, err
	}

	lease, err := s.leases.Acquire(ctx, orig.VaultID, s.leaseTTL)
	if err != nil {
		return nil, err
	}
	defer s.release(ctx, lease)

	if existing, err := s.history.FindRetry(ctx, domain.HistoryRebalance, historyID); err != nil || existing != nil {
		return existing, err
	}

	vault, err := s.vaults.GetVault(ctx, orig.VaultID)
	if err != nil {
		return nil, err
	}
	allocations, val, err := s.valuate(ctx, vault, s.prices)
	if err != nil {
		return nil, err
	}
	plan, err := s.planner.Plan(vault, allocations, val, domain.TriggerRetry)
	if err != nil {
		return nil, err
	}
	return s.execute(ctx, vault, plan, orig.ID, []string{"retry of " + orig.ID})
}

// ListHistory returns the vault's recent rebalance entries
func (s *Service) ListHistory(ctx context.Context, vaultID string, limit int) ([]domain.HistoryEntry, error) {
	return s.history.ListHistory(ctx, domain.HistoryRebalance, vaultID, limit)
}

// execute records and runs plan. The returned entry is nil only when
// nothing was recorded.
func (s *Service) execute(ctx context.Context, vault *domain.Vault, plan *domain.RebalancePlan, retryOf string, reasons []string) (*domain.HistoryEntry, error) {
	amount := decimal.Zero
	for _, in := range plan.Instructions {
		amount = amount.Add(in.AmountUSD)
	}

	detail := strings.Join(reasons, "; ")
	if plan.Partial {
		detail += "; plan cannot fully restore targets"
	}
	if plan.Estimated {
		detail += "; valuation includes estimated holdings"
	}

	action := execution.Action{
		VaultID:      vault.ID,
		Kind:         domain.HistoryRebalance,
		Trigger:      plan.Trigger,
		Instructions: plan.Instructions,
		AmountUSD:    amount,
		RetryOf:      retryOf,
		Detail:       strings.TrimPrefix(detail, "; "),
	}

	if len(plan.Instructions) == 0 {
		action.Detail = strings.TrimPrefix(action.Detail+"; already within tolerance", "; ")
		entry, err := s.recorder.RecordEmpty(ctx, action)
		if err != nil {
			return nil, err
		}
		s.markRebalanced(ctx, vault)
		return entry, nil
	}

	entry, err := s.recorder.Begin(ctx, action)
	if err != nil {
		return nil, err
	}

	report := s.runner.Run(ctx, plan.Instructions)
	finishErr := s.recorder.Finish(ctx, entry, report, "")

	// Committed swaps changed the vault even when later ones failed
	if report.Completed() > 0 {
		s.markRebalanced(ctx, vault)
	}

	if finishErr != nil {
		return entry, finishErr
	}
	if report.Err != nil {
		return entry, report.Err
	}
	return entry, nil
}

func (s *Service) markRebalanced(ctx context.Context, vault *domain.Vault) {
	now := s.now().UTC().Truncate(time.Second)
	if _, err := s.vaults.UpdateVault(context.WithoutCancel(ctx), vault.ID, domain.VaultUpdate{LastRebalancedAt: &now}); err != nil {
		s.log.Error().Err(err).Str("vault_id", vault.ID).Msg("Failed to update last rebalance time")
		return
	}
	vault.LastRebalancedAt = &now
}

func (s *Service) valuate(ctx context.Context, vault *domain.Vault, prices domain.PriceSource) ([]domain.Allocation, *domain.Valuation, error) {
	allocations, err := s.vaults.GetAllocations(ctx, vault.ID)
	if err != nil {
		return nil, nil, err
	}

	assets := make([]string, len(allocations))
	for i, a := range allocations {
		assets[i] = a.Asset
	}
	quotes, err := prices.GetPrices(ctx, assets)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to fetch prices for %s: %w", vault.ID, err)
	}

	val, err := s.calculator.Valuate(vault, allocations, quotes)
	if err != nil {
		return nil, nil, err
	}
	return allocations, val, nil
}

func (s *Service) emitEvaluated(vault *domain.Vault, val *domain.Valuation, result drift.Result) {
	s.eventManager.Emit("rebalancing", &events.VaultEvaluatedData{
		VaultID:         vault.ID,
		TotalUSD:        val.TotalUSD.StringFixed(2),
		MaxDriftBp:      valuation.MaxDriftBp(val),
		TrackingErrorBp: val.TrackingErrorBp,
		NeedsRebalance:  result.NeedsRebalance,
		Estimated:       val.Estimated,
		Reasons:         result.Strings(),
	})
}

func (s *Service) release(ctx context.Context, lease *domain.Lease) {
	if err := s.leases.Release(context.WithoutCancel(ctx), lease); err != nil {
		s.log.Warn().Err(err).Str("vault_id", lease.VaultID).Msg("Failed to release lease")
	}
}

func failed(out domain.CycleOutcome, err error) domain.CycleOutcome {
	out.State = domain.CycleFailed
	out.Err = err
	out.Reasons = append(out.Reasons, err.Error())
	return out
}
