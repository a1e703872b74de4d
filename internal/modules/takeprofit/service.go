package takeprofit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aristath/vaultpilot/internal/domain"
	"github.com/aristath/vaultpilot/internal/modules/execution"
	"github.com/aristath/vaultpilot/internal/modules/valuation"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Service runs the take-profit phase of a vault cycle and the explicit
// take-profit actions
type Service struct {
	vaults     domain.VaultStore
	settings   domain.TakeProfitStore
	history    domain.HistoryStore
	leases     domain.LeaseManager
	prices     domain.PriceSource
	calculator *valuation.Calculator
	evaluator  *Evaluator
	runner     *execution.Runner
	recorder   *execution.Recorder
	leaseTTL   time.Duration
	log        zerolog.Logger
	now        func() time.Time
}

// NewService creates a new take-profit service
func NewService(
	vaults domain.VaultStore,
	settings domain.TakeProfitStore,
	history domain.HistoryStore,
	leases domain.LeaseManager,
	prices domain.PriceSource,
	calculator *valuation.Calculator,
	evaluator *Evaluator,
	runner *execution.Runner,
	recorder *execution.Recorder,
	leaseTTL time.Duration,
	log zerolog.Logger,
) *Service {
	return &Service{
		vaults:     vaults,
		settings:   settings,
		history:    history,
		leases:     leases,
		prices:     prices,
		calculator: calculator,
		evaluator:  evaluator,
		runner:     runner,
		recorder:   recorder,
		leaseTTL:   leaseTTL,
		log:        log.With().Str("service", "take_profit").Logger(),
		now:        time.Now,
	}
}

// GetSetting returns the vault's take-profit setting
func (s *Service) GetSetting(ctx context.Context, vaultID string) (*domain.TakeProfitSetting, error) {
	return s.settings.GetTakeProfitSetting(ctx, vaultID)
}

// CreateSetting stores a new setting. A zero baseline is initialized to the
// vault's current total value, so gains count from the moment the
// strategy was configured.
func (s *Service) CreateSetting(ctx context.Context, setting *domain.TakeProfitSetting) error {
	vault, err := s.vaults.GetVault(ctx, setting.VaultID)
	if err != nil {
		return err
	}

	if setting.BaselineUSD.IsZero() {
		normalize(setting)
		_, val, err := s.valuate(ctx, vault, s.prices)
		if err != nil {
			return fmt.Errorf("failed to value vault %s for baseline: %w", vault.ID, err)
		}
		if !val.Empty {
			setting.BaselineUSD = val.TotalUSD.Round(2)
		}
	}
	return s.settings.CreateTakeProfitSetting(ctx, setting)
}

// UpdateSetting replaces the stored setting
func (s *Service) UpdateSetting(ctx context.Context, setting *domain.TakeProfitSetting) error {
	return s.settings.UpdateTakeProfitSetting(ctx, setting)
}

// Preview evaluates the vault's strategy without executing anything
func (s *Service) Preview(ctx context.Context, vaultID string) (*Decision, error) {
	vault, err := s.vaults.GetVault(ctx, vaultID)
	if err != nil {
		return nil, err
	}
	setting, err := s.settings.GetTakeProfitSetting(ctx, vaultID)
	if err != nil {
		return nil, err
	}
	_, val, err := s.valuate(ctx, vault, s.prices)
	if err != nil {
		return nil, err
	}
	d := s.evaluator.Evaluate(vault, setting, val, s.now())
	return &d, nil
}

// RunCycle runs the take-profit phase for a vault whose lease the caller
// holds. prices is the tick's shared price cache.
func (s *Service) RunCycle(ctx context.Context, vault *domain.Vault, prices domain.PriceSource) domain.CycleOutcome {
	out := domain.CycleOutcome{VaultID: vault.ID, Kind: domain.HistoryTakeProfit, State: domain.CycleEvaluating}

	setting, err := s.settings.GetTakeProfitSetting(ctx, vault.ID)
	if errors.Is(err, domain.ErrTakeProfitNotFound) {
		out.State = domain.CycleNoAction
		out.Reasons = []string{"no take-profit setting"}
		return out
	}
	if err != nil {
		return failed(out, err)
	}
	if !setting.Active {
		out.State = domain.CycleNoAction
		out.Reasons = []string{"take-profit inactive"}
		return out
	}

	allocations, val, err := s.valuate(ctx, vault, prices)
	if err != nil {
		return failed(out, err)
	}

	now := s.now()
	decision := s.evaluator.Evaluate(vault, setting, val, now)
	out.Reasons = []string{decision.Reason}

	if decision.RestartInterval {
		setting.LastExecutionAt = &now
		if err := s.settings.UpdateTakeProfitSetting(ctx, setting); err != nil {
			return failed(out, err)
		}
	}
	if !decision.Trigger {
		out.State = domain.CycleNoAction
		return out
	}

	out.Triggered = true
	out.State = domain.CyclePlanning
	entry, err := s.execute(ctx, vault, setting, allocations, val, decision.AmountToRealize, decision.Kind, "")
	switch {
	case errors.Is(err, domain.ErrNothingToRealize):
		out.State = domain.CycleNoAction
		out.Reasons = append(out.Reasons, err.Error())
		return out
	case entry == nil:
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

// ExecuteNow realizes SellPct of the vault's measured value immediately,
// whatever the strategy
func (s *Service) ExecuteNow(ctx context.Context, vaultID string) (*domain.HistoryEntry, error) {
	lease, err := s.leases.Acquire(ctx, vaultID, s.leaseTTL)
	if err != nil {
		return nil, err
	}
	defer s.release(ctx, lease)

	vault, err := s.vaults.GetVault(ctx, vaultID)
	if err != nil {
		return nil, err
	}
	setting, err := s.settings.GetTakeProfitSetting(ctx, vaultID)
	if err != nil {
		return nil, err
	}
	allocations, val, err := s.valuate(ctx, vault, s.prices)
	if err != nil {
		return nil, err
	}
	if val.Empty {
		return nil, fmt.Errorf("%w: vault %s is empty", domain.ErrNothingToRealize, vaultID)
	}

	amount := val.TotalUSD.Mul(setting.SellPct).Div(hundred).Round(2)
	return s.execute(ctx, vault, setting, allocations, val, amount, domain.TriggerManual, "")
}

// Retry re-evaluates a partial or failed take-profit from scratch.
// Retrying the same entry twice returns the first retry's entry.
func (s *Service) Retry(ctx context.Context, historyID string) (*domain.HistoryEntry, error) {
	orig, err := s.history.GetHistory(ctx, domain.HistoryTakeProfit, historyID)
	if err != nil {
		return nil, err
	}
	if !orig.Status.Retryable() {
		return nil, fmt.Errorf("%w: %s is %s", domain.ErrNotRetryable, historyID, orig.Status)
	}
	if existing, err := s.history.FindRetry(ctx, domain.HistoryTakeProfit, historyID); err != nil || existing != nil {
		return existing, err
	}

	lease, err := s.leases.Acquire(ctx, orig.VaultID, s.leaseTTL)
	if err != nil {
		return nil, err
	}
	defer s.release(ctx, lease)

	// Another caller may have retried while we waited for the lease
	if existing, err := s.history.FindRetry(ctx, domain.HistoryTakeProfit, historyID); err != nil || existing != nil {
		return existing, err
	}

	vault, err := s.vaults.GetVault(ctx, orig.VaultID)
	if err != nil {
		return nil, err
	}
	setting, err := s.settings.GetTakeProfitSetting(ctx, orig.VaultID)
	if err != nil {
		return nil, err
	}
	allocations, val, err := s.valuate(ctx, vault, s.prices)
	if err != nil {
		return nil, err
	}

	var amount decimal.Decimal
	var reason string
	if orig.Trigger == domain.TriggerManual || setting.Strategy == domain.TakeProfitManual {
		if !val.Empty {
			amount = val.TotalUSD.Mul(setting.SellPct).Div(hundred).Round(2)
		}
		reason = "manual realization"
	} else {
		decision := s.evaluator.Evaluate(vault, setting, val, s.now())
		if decision.Trigger {
			amount = decision.AmountToRealize
		}
		reason = decision.Reason
	}

	if !amount.IsPositive() {
		return s.recorder.RecordEmpty(ctx, execution.Action{
			VaultID: vault.ID,
			Kind:    domain.HistoryTakeProfit,
			Trigger: domain.TriggerRetry,
			RetryOf: orig.ID,
			Detail:  "no longer triggered: " + reason,
		})
	}
	return s.execute(ctx, vault, setting, allocations, val, amount, domain.TriggerRetry, orig.ID)
}

// ListHistory returns the vault's recent take-profit entries
func (s *Service) ListHistory(ctx context.Context, vaultID string, limit int) ([]domain.HistoryEntry, error) {
	return s.history.ListHistory(ctx, domain.HistoryTakeProfit, vaultID, limit)
}

func (s *Service) execute(
	ctx context.Context,
	vault *domain.Vault,
	setting *domain.TakeProfitSetting,
	allocations []domain.Allocation,
	val *domain.Valuation,
	amount decimal.Decimal,
	trigger domain.Trigger,
	retryOf string,
) (*domain.HistoryEntry, error) {
	instructions, err := PlanRealization(vault.ID, setting, allocations, val, amount)
	if err != nil {
		return nil, err
	}

	realized := decimal.Zero
	sold := make([]string, 0, len(instructions))
	for _, in := range instructions {
		realized = realized.Add(in.AmountUSD)
		sold = append(sold, in.FromAsset)
	}
	measured := val.TotalUSD.Round(2)
	detail := fmt.Sprintf("realize %s USD of %s into %s from %s",
		realized.StringFixed(2), measured.StringFixed(2), setting.DestinationAsset, strings.Join(sold, ","))

	entry, err := s.recorder.Begin(ctx, execution.Action{
		VaultID:      vault.ID,
		Kind:         domain.HistoryTakeProfit,
		Trigger:      trigger,
		Instructions: instructions,
		AmountUSD:    realized,
		RetryOf:      retryOf,
		Detail:       detail,
	})
	if err != nil {
		return nil, err
	}

	report := s.runner.Run(ctx, instructions)
	if err := s.recorder.Finish(ctx, entry, report, detail); err != nil {
		return entry, err
	}

	// Baseline moves only after a full success; a partial or failed
	// realization is measured again from the old baseline
	if report.Status == domain.StatusCompleted {
		now := s.now()
		setting.BaselineUSD = measured.Sub(realized)
		setting.LastExecutionAt = &now
		if err := s.settings.UpdateTakeProfitSetting(context.WithoutCancel(ctx), setting); err != nil {
			s.log.Error().Err(err).Str("vault_id", vault.ID).Msg("Failed to reset take-profit baseline")
			return entry, fmt.Errorf("failed to reset baseline for %s: %w", vault.ID, err)
		}
	}

	if report.Err != nil {
		return entry, report.Err
	}
	return entry, nil
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
