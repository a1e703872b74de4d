// Package swap provides swap executors.
package swap

import (
	"context"
	"fmt"

	"github.com/aristath/vaultpilot/internal/domain"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Fee schedule in basis points
const (
	SameChainFeeBp  int64 = 25
	CrossChainFeeBp int64 = 50
)

// PaperExecutor simulates swaps at current prices minus a flat fee and
// books the fills against the vault's recorded holdings
type PaperExecutor struct {
	prices   domain.PriceSource
	holdings domain.HoldingsWriter
	feeBp    int64
	log      zerolog.Logger
}

// NewPaperExecutor creates a paper executor. A non-positive feeBp uses the
// same-chain fee.
func NewPaperExecutor(prices domain.PriceSource, holdings domain.HoldingsWriter, feeBp int64, log zerolog.Logger) *PaperExecutor {
	if feeBp <= 0 {
		feeBp = SameChainFeeBp
	}
	return &PaperExecutor{
		prices:   prices,
		holdings: holdings,
		feeBp:    feeBp,
		log:      log.With().Str("service", "paper_swap").Logger(),
	}
}

// Quote prices the swap from current source and destination prices
func (e *PaperExecutor) Quote(ctx context.Context, in domain.RebalanceInstruction) (*domain.SwapQuote, error) {
	prices, err := e.prices.GetPrices(ctx, []string{in.FromAsset, in.ToAsset})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrSwapQuoteFailed, err)
	}
	from, ok := prices[in.FromAsset]
	if !ok || !from.Current.IsPositive() {
		return nil, fmt.Errorf("%w: %v", domain.ErrSwapQuoteFailed, &domain.MissingPriceError{Asset: in.FromAsset})
	}
	to, ok := prices[in.ToAsset]
	if !ok || !to.Current.IsPositive() {
		return nil, fmt.Errorf("%w: %v", domain.ErrSwapQuoteFailed, &domain.MissingPriceError{Asset: in.ToAsset})
	}

	inputUSD := in.SourceUnits.Mul(from.Current)
	fee := inputUSD.Mul(decimal.NewFromInt(e.feeBp)).Div(decimal.NewFromInt(domain.BasisPointsTotal))
	output := inputUSD.Sub(fee).Div(to.Current).Round(8)

	return &domain.SwapQuote{
		FromAsset:        in.FromAsset,
		ToAsset:          in.ToAsset,
		InputUnits:       in.SourceUnits,
		OutputAmount:     output,
		FeeUSD:           fee.Round(2),
		EstimatedSeconds: 1,
	}, nil
}

// Execute books the quoted fill: source units leave, quoted output arrives
func (e *PaperExecutor) Execute(ctx context.Context, in domain.RebalanceInstruction, quote *domain.SwapQuote) (*domain.SwapResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if err := e.holdings.AdjustHolding(ctx, in.VaultID, in.FromAsset, in.SourceUnits.Neg()); err != nil {
		return &domain.SwapResult{Status: domain.SwapFailed, Error: err.Error()}, nil
	}
	if err := e.holdings.AdjustHolding(ctx, in.VaultID, in.ToAsset, quote.OutputAmount); err != nil {
		// Put the source back so the book stays consistent
		if rbErr := e.holdings.AdjustHolding(context.WithoutCancel(ctx), in.VaultID, in.FromAsset, in.SourceUnits); rbErr != nil {
			e.log.Error().Err(rbErr).Str("vault_id", in.VaultID).Msg("Failed to restore source holding")
		}
		return &domain.SwapResult{Status: domain.SwapFailed, Error: err.Error()}, nil
	}

	txRef := "paper-" + uuid.NewString()
	e.log.Debug().
		Str("vault_id", in.VaultID).
		Str("tx_ref", txRef).
		Str("from", in.FromAsset).
		Str("to", in.ToAsset).
		Str("units", in.SourceUnits.String()).
		Str("output", quote.OutputAmount.String()).
		Msg("Paper swap filled")

	return &domain.SwapResult{
		Status:       domain.SwapCompleted,
		TxRef:        txRef,
		OutputAmount: quote.OutputAmount,
	}, nil
}
