// Package execution runs swap instructions sequentially against a SwapExecutor.
package execution

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aristath/vaultpilot/internal/domain"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Report is the result of running a list of instructions
type Report struct {
	Status      domain.HistoryStatus
	Outcomes    []domain.InstructionOutcome
	TotalFeeUSD decimal.Decimal
	Err         error // first failure, nil when every instruction completed
}

// Completed returns the number of committed instructions
func (r *Report) Completed() int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Status == domain.InstructionCompleted {
			n++
		}
	}
	return n
}

// FailureReason renders Err for history records
func (r *Report) FailureReason() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}

// Config holds runner limits
type Config struct {
	InstructionTimeout time.Duration
	MaxPriceImpactBp   int64 // 0 disables the check
}

// Runner executes instructions one at a time.
// Execution is not transactional: instructions committed before a failure
// stay committed and the rest are skipped.
type Runner struct {
	swaps domain.SwapExecutor
	cfg   Config
	log   zerolog.Logger
}

// NewRunner creates a runner over swaps
func NewRunner(swaps domain.SwapExecutor, cfg Config, log zerolog.Logger) *Runner {
	if cfg.InstructionTimeout <= 0 {
		cfg.InstructionTimeout = domain.DefaultSwapTimeout
	}
	return &Runner{
		swaps: swaps,
		cfg:   cfg,
		log:   log.With().Str("service", "execution").Logger(),
	}
}

// Run executes instructions in sequence order.
//
// Cancelling ctx stops the run before the next instruction starts; an
// instruction already in flight runs to completion or to its own timeout,
// so a swap is never abandoned half-way. Remaining instructions are
// recorded as skipped.
func (r *Runner) Run(ctx context.Context, instructions []domain.RebalanceInstruction) *Report {
	report := &Report{
		Outcomes:    make([]domain.InstructionOutcome, len(instructions)),
		TotalFeeUSD: decimal.Zero,
	}
	for i, in := range instructions {
		report.Outcomes[i] = domain.InstructionOutcome{Instruction: in, Status: domain.InstructionPending}
	}

	for i, in := range instructions {
		if err := ctx.Err(); err != nil {
			report.Err = fmt.Errorf("stopped before instruction %d: %w", in.Sequence, err)
			skipFrom(report, i, "not started: shutdown")
			break
		}

		outcome, err := r.runOne(ctx, in)
		report.Outcomes[i] = outcome
		if err != nil {
			report.Err = err
			skipFrom(report, i+1, fmt.Sprintf("not started: instruction %d failed", in.Sequence))
			r.log.Warn().
				Err(err).
				Str("vault_id", in.VaultID).
				Int("sequence", in.Sequence).
				Msg("Instruction failed, remaining instructions skipped")
			break
		}
		report.TotalFeeUSD = report.TotalFeeUSD.Add(outcome.FeeUSD)
	}

	report.Status = statusOf(report, len(instructions))
	return report
}

func (r *Runner) runOne(ctx context.Context, in domain.RebalanceInstruction) (domain.InstructionOutcome, error) {
	outcome := domain.InstructionOutcome{Instruction: in, Status: domain.InstructionFailed}

	if err := validateInstruction(in); err != nil {
		outcome.Error = err.Error()
		return outcome, err
	}

	// Detached from ctx so shutdown does not interrupt a committed swap;
	// the per-instruction timeout still bounds it
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.cfg.InstructionTimeout)
	defer cancel()

	quote, err := bounded(callCtx, func(ctx context.Context) (*domain.SwapQuote, error) {
		return r.swaps.Quote(ctx, in)
	})
	if err != nil {
		err = classify(callCtx, err, domain.ErrSwapQuoteFailed)
		outcome.Error = err.Error()
		return outcome, err
	}
	if err := r.checkQuote(in, quote); err != nil {
		outcome.Error = err.Error()
		return outcome, err
	}

	result, err := bounded(callCtx, func(ctx context.Context) (*domain.SwapResult, error) {
		return r.swaps.Execute(ctx, in, quote)
	})
	if err != nil {
		err = classify(callCtx, err, domain.ErrSwapExecutionFailed)
		outcome.Error = err.Error()
		return outcome, err
	}
	if result.Status != domain.SwapCompleted {
		err := fmt.Errorf("%w: %s", domain.ErrSwapExecutionFailed, result.Error)
		outcome.TxRef = result.TxRef
		outcome.Error = err.Error()
		return outcome, err
	}

	outcome.Status = domain.InstructionCompleted
	outcome.TxRef = result.TxRef
	outcome.FeeUSD = quote.FeeUSD
	outcome.OutputAmount = result.OutputAmount

	r.log.Info().
		Str("vault_id", in.VaultID).
		Int("sequence", in.Sequence).
		Str("from", in.FromAsset).
		Str("to", in.ToAsset).
		Str("amount_usd", in.AmountUSD.StringFixed(2)).
		Str("tx_ref", result.TxRef).
		Msg("Instruction executed")

	return outcome, nil
}

// validateInstruction rejects instructions that cannot be sent to an executor
func validateInstruction(in domain.RebalanceInstruction) error {
	if in.FromAsset == in.ToAsset {
		return fmt.Errorf("%w: instruction %d swaps %s into itself", domain.ErrSwapQuoteFailed, in.Sequence, in.FromAsset)
	}
	if !in.AmountUSD.IsPositive() || !in.SourceUnits.IsPositive() {
		return fmt.Errorf("%w: instruction %d has no amount", domain.ErrSwapQuoteFailed, in.Sequence)
	}
	return nil
}

func (r *Runner) checkQuote(in domain.RebalanceInstruction, quote *domain.SwapQuote) error {
	if quote == nil {
		return fmt.Errorf("%w: empty quote for instruction %d", domain.ErrSwapQuoteFailed, in.Sequence)
	}
	if r.cfg.MaxPriceImpactBp > 0 && quote.PriceImpactBp > r.cfg.MaxPriceImpactBp {
		return fmt.Errorf("%w: price impact %dbp exceeds %dbp",
			domain.ErrSwapQuoteFailed, quote.PriceImpactBp, r.cfg.MaxPriceImpactBp)
	}
	return nil
}

// bounded runs call and returns when it finishes or callCtx expires,
// whichever comes first. An executor that ignores its context is left
// running in the background; its late result is discarded. A result that
// arrives after the deadline counts as a timeout.
func bounded[T any](callCtx context.Context, call func(context.Context) (T, error)) (T, error) {
	type result struct {
		value T
		err   error
	}
	done := make(chan result, 1)
	go func() {
		v, err := call(callCtx)
		done <- result{value: v, err: err}
	}()

	var zero T
	select {
	case res := <-done:
		if res.err == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return zero, fmt.Errorf("%w: result arrived after deadline", domain.ErrSwapTimeout)
		}
		return res.value, res.err
	case <-callCtx.Done():
		return zero, fmt.Errorf("%w: %v", domain.ErrSwapTimeout, callCtx.Err())
	}
}

// classify maps executor errors onto the swap error kinds
func classify(callCtx context.Context, err, kind error) error {
	if errors.Is(err, domain.ErrSwapTimeout) {
		return err
	}
	if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", domain.ErrSwapTimeout, err)
	}
	if errors.Is(err, kind) {
		return err
	}
	return fmt.Errorf("%w: %v", kind, err)
}

func skipFrom(report *Report, start int, reason string) {
	for i := start; i < len(report.Outcomes); i++ {
		report.Outcomes[i].Status = domain.InstructionSkipped
		report.Outcomes[i].Error = reason
	}
}

func statusOf(report *Report, total int) domain.HistoryStatus {
	completed := report.Completed()
	switch {
	case completed == total:
		return domain.StatusCompleted
	case completed == 0:
		return domain.StatusFailed
	default:
		return domain.StatusPartial
	}
}
