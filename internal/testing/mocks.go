package testing

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aristath/vaultpilot/internal/domain"
	"github.com/shopspring/decimal"
)

// MockPriceSource is an in-memory PriceSource for testing
type MockPriceSource struct {
	mu     sync.RWMutex
	prices map[string]domain.Price
	err    error
	calls  int
}

// NewMockPriceSource creates a price source seeded with prices
func NewMockPriceSource(prices map[string]domain.Price) *MockPriceSource {
	m := &MockPriceSource{prices: make(map[string]domain.Price, len(prices))}
	for k, v := range prices {
		m.prices[k] = v
	}
	return m
}

// SetPrice sets the current price of asset
func (m *MockPriceSource) SetPrice(asset string, price decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prices[asset] = domain.Price{Asset: asset, Current: price, UpdatedAt: FixedNow}
}

// Remove drops asset from the source
func (m *MockPriceSource) Remove(asset string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.prices, asset)
}

// SetError sets the error to return
func (m *MockPriceSource) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Calls returns the number of GetPrices calls
func (m *MockPriceSource) Calls() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.calls
}

// GetPrices returns the known prices for assets
func (m *MockPriceSource) GetPrices(ctx context.Context, assets []string) (map[string]domain.Price, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	out := make(map[string]domain.Price, len(assets))
	for _, a := range assets {
		if p, ok := m.prices[a]; ok {
			out[a] = p
		}
	}
	return out, nil
}

// ScriptedSwapExecutor fills every swap at a flat fee unless a failure is
// scripted for the instruction's sequence number
type ScriptedSwapExecutor struct {
	mu           sync.Mutex
	FeeBp        int64
	quoteErrs    map[int]error
	executeFails map[int]string
	delays       map[int]time.Duration
	executed     []domain.RebalanceInstruction
	quotes       int
}

// NewScriptedSwapExecutor creates an executor charging feeBp on every fill
func NewScriptedSwapExecutor(feeBp int64) *ScriptedSwapExecutor {
	return &ScriptedSwapExecutor{
		FeeBp:        feeBp,
		quoteErrs:    make(map[int]error),
		executeFails: make(map[int]string),
		delays:       make(map[int]time.Duration),
	}
}

// FailQuote makes the quote for sequence fail with err
func (s *ScriptedSwapExecutor) FailQuote(sequence int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quoteErrs[sequence] = err
}

// FailExecution makes execution of sequence report a failed status
func (s *ScriptedSwapExecutor) FailExecution(sequence int, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.executeFails[sequence] = reason
}

// Delay makes execution of sequence block for d or until ctx is done
func (s *ScriptedSwapExecutor) Delay(sequence int, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delays[sequence] = d
}

// Heal clears every scripted failure and delay
func (s *ScriptedSwapExecutor) Heal() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quoteErrs = make(map[int]error)
	s.executeFails = make(map[int]string)
	s.delays = make(map[int]time.Duration)
}

// Executed returns the instructions that were filled, in order
func (s *ScriptedSwapExecutor) Executed() []domain.RebalanceInstruction {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.RebalanceInstruction, len(s.executed))
	copy(out, s.executed)
	return out
}

// QuoteCalls returns the number of quote requests
func (s *ScriptedSwapExecutor) QuoteCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.quotes
}

// Quote returns a flat-fee quote
func (s *ScriptedSwapExecutor) Quote(ctx context.Context, in domain.RebalanceInstruction) (*domain.SwapQuote, error) {
	s.mu.Lock()
	s.quotes++
	err := s.quoteErrs[in.Sequence]
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	fee := in.AmountUSD.Mul(decimal.NewFromInt(s.FeeBp)).Div(decimal.NewFromInt(domain.BasisPointsTotal))
	return &domain.SwapQuote{
		FromAsset:    in.FromAsset,
		ToAsset:      in.ToAsset,
		InputUnits:   in.SourceUnits,
		OutputAmount: in.AmountUSD.Sub(fee),
		FeeUSD:       fee,
	}, nil
}

// Execute fills the swap or reports the scripted failure
func (s *ScriptedSwapExecutor) Execute(ctx context.Context, in domain.RebalanceInstruction, quote *domain.SwapQuote) (*domain.SwapResult, error) {
	s.mu.Lock()
	delay := s.delays[in.Sequence]
	reason, fail := s.executeFails[in.Sequence]
	s.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if fail {
		return &domain.SwapResult{Status: domain.SwapFailed, Error: reason}, nil
	}

	s.mu.Lock()
	s.executed = append(s.executed, in)
	s.mu.Unlock()

	return &domain.SwapResult{
		Status:       domain.SwapCompleted,
		TxRef:        fmt.Sprintf("tx-%s-%d", in.VaultID, in.Sequence),
		OutputAmount: quote.OutputAmount,
	}, nil
}

// ErrScripted is a generic failure for scripted mocks
var ErrScripted = errors.New("scripted failure")
