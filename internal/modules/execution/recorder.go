package execution

import (
	"context"
	"fmt"
	"time"

	"github.com/aristath/vaultpilot/internal/domain"
	"github.com/aristath/vaultpilot/internal/events"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Action describes what is about to be executed for a vault
type Action struct {
	VaultID      string
	Kind         domain.HistoryKind
	Trigger      domain.Trigger
	Instructions []domain.RebalanceInstruction
	AmountUSD    decimal.Decimal
	RetryOf      string
	Detail       string
}

// Recorder writes the two-phase history of an action: a pending entry
// before the first swap and exactly one finalization after the last.
type Recorder struct {
	history domain.HistoryStore
	events  *events.Manager
	log     zerolog.Logger
	now     func() time.Time
}

// NewRecorder creates a history recorder
func NewRecorder(history domain.HistoryStore, eventManager *events.Manager, log zerolog.Logger) *Recorder {
	return &Recorder{
		history: history,
		events:  eventManager,
		log:     log.With().Str("service", "history_recorder").Logger(),
		now:     time.Now,
	}
}

// Begin creates the pending entry and emits the triggered event
func (r *Recorder) Begin(ctx context.Context, a Action) (*domain.HistoryEntry, error) {
	outcomes := make([]domain.InstructionOutcome, len(a.Instructions))
	for i, in := range a.Instructions {
		outcomes[i] = domain.InstructionOutcome{Instruction: in, Status: domain.InstructionPending}
	}

	entry := &domain.HistoryEntry{
		ID:          uuid.NewString(),
		VaultID:     a.VaultID,
		Kind:        a.Kind,
		Trigger:     a.Trigger,
		Status:      domain.StatusPending,
		Outcomes:    outcomes,
		Detail:      a.Detail,
		RetryOf:     a.RetryOf,
		AmountUSD:   a.AmountUSD,
		TotalFeeUSD: decimal.Zero,
		CreatedAt:   r.now().UTC().Truncate(time.Second),
	}
	if err := r.history.CreateHistory(ctx, entry); err != nil {
		return nil, fmt.Errorf("failed to record pending %s: %w", a.Kind, err)
	}

	r.events.Emit(string(a.Kind), &events.ActionData{
		Type:         triggeredEvent(a.Kind),
		VaultID:      a.VaultID,
		HistoryID:    entry.ID,
		Trigger:      string(a.Trigger),
		Instructions: len(a.Instructions),
		AmountUSD:    a.AmountUSD.StringFixed(2),
		RetryOf:      a.RetryOf,
	})
	return entry, nil
}

// Finish finalizes entry from report and emits the completed or failed
// event. The write is detached from ctx cancellation: swaps that already
// committed must be recorded even during shutdown.
func (r *Recorder) Finish(ctx context.Context, entry *domain.HistoryEntry, report *Report, detail string) error {
	fin := domain.HistoryFinalization{
		Status:        report.Status,
		Outcomes:      report.Outcomes,
		Detail:        detail,
		FailureReason: report.FailureReason(),
		TotalFeeUSD:   report.TotalFeeUSD,
		FinalizedAt:   r.now().UTC().Truncate(time.Second),
	}
	if detail == "" {
		fin.Detail = entry.Detail
	}

	if err := r.history.FinalizeHistory(context.WithoutCancel(ctx), entry.Kind, entry.ID, fin); err != nil {
		r.log.Error().
			Err(err).
			Str("vault_id", entry.VaultID).
			Str("history_id", entry.ID).
			Msg("Failed to finalize history entry")
		return fmt.Errorf("failed to finalize %s %s: %w", entry.Kind, entry.ID, err)
	}

	entry.Status = fin.Status
	entry.Outcomes = fin.Outcomes
	entry.Detail = fin.Detail
	entry.FailureReason = fin.FailureReason
	entry.TotalFeeUSD = fin.TotalFeeUSD
	finalizedAt := fin.FinalizedAt
	entry.FinalizedAt = &finalizedAt

	eventType := completedEvent(entry.Kind)
	if entry.Status != domain.StatusCompleted {
		eventType = failedEvent(entry.Kind)
	}
	r.events.Emit(string(entry.Kind), &events.ActionData{
		Type:         eventType,
		VaultID:      entry.VaultID,
		HistoryID:    entry.ID,
		Trigger:      string(entry.Trigger),
		Status:       string(entry.Status),
		Instructions: len(entry.Outcomes),
		AmountUSD:    entry.CompletedAmountUSD().StringFixed(2),
		FeeUSD:       entry.TotalFeeUSD.StringFixed(2),
		RetryOf:      entry.RetryOf,
		Error:        entry.FailureReason,
	})

	r.log.Info().
		Str("vault_id", entry.VaultID).
		Str("kind", string(entry.Kind)).
		Str("history_id", entry.ID).
		Str("status", string(entry.Status)).
		Int("completed", report.Completed()).
		Int("instructions", len(entry.Outcomes)).
		Msg("Action recorded")
	return nil
}

// RecordEmpty records an action that needed no swaps as a completed entry
func (r *Recorder) RecordEmpty(ctx context.Context, a Action) (*domain.HistoryEntry, error) {
	a.Instructions = nil
	entry, err := r.Begin(ctx, a)
	if err != nil {
		return nil, err
	}
	report := &Report{Status: domain.StatusCompleted, Outcomes: []domain.InstructionOutcome{}, TotalFeeUSD: decimal.Zero}
	if err := r.Finish(ctx, entry, report, a.Detail); err != nil {
		return nil, err
	}
	return entry, nil
}

func triggeredEvent(kind domain.HistoryKind) events.EventType {
	if kind == domain.HistoryTakeProfit {
		return events.TakeProfitTriggered
	}
	return events.RebalanceTriggered
}

func completedEvent(kind domain.HistoryKind) events.EventType {
	if kind == domain.HistoryTakeProfit {
		return events.TakeProfitCompleted
	}
	return events.RebalanceCompleted
}

func failedEvent(kind domain.HistoryKind) events.EventType {
	if kind == domain.HistoryTakeProfit {
		return events.TakeProfitFailed
	}
	return events.RebalanceFailed
}
