package domain

import (
	"errors"
	"fmt"
)

var (
	ErrMissingPrice         = errors.New("missing price")
	ErrInvalidAllocationSet = errors.New("invalid allocation set")
	ErrInvalidVault         = errors.New("invalid vault")
	ErrInvalidTakeProfit    = errors.New("invalid take-profit setting")
	ErrSwapQuoteFailed      = errors.New("swap quote failed")
	ErrSwapExecutionFailed  = errors.New("swap execution failed")
	ErrSwapTimeout          = errors.New("swap timed out")
	ErrLeaseUnavailable     = errors.New("vault lease held by another cycle")
	ErrEstimatedValuation   = errors.New("valuation relies on estimated holdings")
	ErrVaultNotFound        = errors.New("vault not found")
	ErrVaultExists          = errors.New("vault already exists")
	ErrHistoryNotFound      = errors.New("history entry not found")
	ErrHistoryFinalized     = errors.New("history entry already finalized")
	ErrTakeProfitExists     = errors.New("take-profit setting already exists")
	ErrTakeProfitNotFound   = errors.New("take-profit setting not found")
	ErrNotRetryable         = errors.New("history entry is not retryable")
	ErrNothingToRealize     = errors.New("no holdings available to realize")
	ErrDestinationAllocated = errors.New("take-profit destination is an allocated asset")
)

// MissingPriceError names the asset whose price could not be resolved.
// It matches ErrMissingPrice with errors.Is.
type MissingPriceError struct {
	Asset string
}

func (e *MissingPriceError) Error() string {
	return fmt.Sprintf("missing price for %s", e.Asset)
}

func (e *MissingPriceError) Is(target error) bool {
	return target == ErrMissingPrice
}
