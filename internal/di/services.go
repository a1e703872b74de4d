package di

import (
	"fmt"

	"github.com/aristath/vaultpilot/internal/config"
	"github.com/aristath/vaultpilot/internal/modules/drift"
	"github.com/aristath/vaultpilot/internal/modules/execution"
	"github.com/aristath/vaultpilot/internal/modules/rebalancing"
	"github.com/aristath/vaultpilot/internal/modules/swap"
	"github.com/aristath/vaultpilot/internal/modules/takeprofit"
	"github.com/aristath/vaultpilot/internal/modules/valuation"
	"github.com/rs/zerolog"
)

// InitializeServices builds the engine components and both action services
func InitializeServices(container *Container, cfg *config.Config, log zerolog.Logger) error {
	if container == nil {
		return fmt.Errorf("container cannot be nil")
	}

	container.Calculator = valuation.NewCalculator(log)
	container.Detector = drift.NewDetector(log)
	container.Planner = rebalancing.NewPlanner(cfg.Cycle.RefuseEstimated, log)
	container.Evaluator = takeprofit.NewEvaluator(log)

	// Paper executor books fills straight into vault holdings
	container.Swaps = swap.NewPaperExecutor(container.PriceRepo, container.VaultRepo, cfg.Cycle.SwapFeeBp, log)
	container.Runner = execution.NewRunner(container.Swaps, execution.Config{
		InstructionTimeout: cfg.Cycle.InstructionTimeout,
		MaxPriceImpactBp:   cfg.Cycle.MaxPriceImpactBp,
	}, log)
	container.Recorder = execution.NewRecorder(container.HistoryRepo, container.EventManager, log)

	container.RebalancingService = rebalancing.NewService(
		container.VaultRepo,
		container.HistoryRepo,
		container.LeaseRepo,
		container.PriceRepo,
		container.Calculator,
		container.Detector,
		container.Planner,
		container.Runner,
		container.Recorder,
		container.EventManager,
		cfg.Cycle.LeaseTTL,
		log,
	)

	container.TakeProfitService = takeprofit.NewService(
		container.VaultRepo,
		container.TakeProfitRepo,
		container.HistoryRepo,
		container.LeaseRepo,
		container.PriceRepo,
		container.Calculator,
		container.Evaluator,
		container.Runner,
		container.Recorder,
		cfg.Cycle.LeaseTTL,
		log,
	)

	log.Info().Msg("Services initialized")
	return nil
}
