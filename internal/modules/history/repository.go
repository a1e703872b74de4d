// Package history persists the rebalance and take-profit history streams.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aristath/vaultpilot/internal/domain"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/vmihailenco/msgpack/v5"
)

// Repository stores history entries in ledger.db. Each kind has its own
// table; rows are inserted pending and finalized exactly once.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new history repository
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "history").Logger(),
	}
}

func tableFor(kind domain.HistoryKind) (string, error) {
	switch kind {
	case domain.HistoryRebalance:
		return "rebalance_history", nil
	case domain.HistoryTakeProfit:
		return "take_profit_history", nil
	default:
		return "", fmt.Errorf("unknown history kind %q", kind)
	}
}

// outcomeRecord is the msgpack wire shape of an instruction outcome
type outcomeRecord struct {
	Sequence     int    `msgpack:"seq"`
	FromAsset    string `msgpack:"from"`
	ToAsset      string `msgpack:"to"`
	AmountBp     int64  `msgpack:"bp"`
	AmountUSD    string `msgpack:"usd"`
	SourceUnits  string `msgpack:"units"`
	Status       string `msgpack:"status"`
	TxRef        string `msgpack:"tx,omitempty"`
	FeeUSD       string `msgpack:"fee,omitempty"`
	OutputAmount string `msgpack:"out,omitempty"`
	Error        string `msgpack:"err,omitempty"`
}

func encodeOutcomes(outcomes []domain.InstructionOutcome) ([]byte, error) {
	records := make([]outcomeRecord, len(outcomes))
	for i, o := range outcomes {
		records[i] = outcomeRecord{
			Sequence:     o.Instruction.Sequence,
			FromAsset:    o.Instruction.FromAsset,
			ToAsset:      o.Instruction.ToAsset,
			AmountBp:     o.Instruction.AmountBp,
			AmountUSD:    o.Instruction.AmountUSD.String(),
			SourceUnits:  o.Instruction.SourceUnits.String(),
			Status:       string(o.Status),
			TxRef:        o.TxRef,
			FeeUSD:       o.FeeUSD.String(),
			OutputAmount: o.OutputAmount.String(),
			Error:        o.Error,
		}
	}
	return msgpack.Marshal(records)
}

func decodeOutcomes(vaultID string, data []byte) ([]domain.InstructionOutcome, error) {
	if len(data) == 0 {
		return []domain.InstructionOutcome{}, nil
	}

	var records []outcomeRecord
	if err := msgpack.Unmarshal(data, &records); err != nil {
		return nil, err
	}

	outcomes := make([]domain.InstructionOutcome, len(records))
	for i, r := range records {
		outcomes[i] = domain.InstructionOutcome{
			Instruction: domain.RebalanceInstruction{
				Sequence:    r.Sequence,
				VaultID:     vaultID,
				FromAsset:   r.FromAsset,
				ToAsset:     r.ToAsset,
				AmountBp:    r.AmountBp,
				AmountUSD:   parseDecimal(r.AmountUSD),
				SourceUnits: parseDecimal(r.SourceUnits),
			},
			Status:       domain.InstructionStatus(r.Status),
			TxRef:        r.TxRef,
			FeeUSD:       parseDecimal(r.FeeUSD),
			OutputAmount: parseDecimal(r.OutputAmount),
			Error:        r.Error,
		}
	}
	return outcomes, nil
}

func parseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// CreateHistory inserts a pending entry
func (r *Repository) CreateHistory(ctx context.Context, entry *domain.HistoryEntry) error {
	table, err := tableFor(entry.Kind)
	if err != nil {
		return err
	}
	if entry.Status != domain.StatusPending {
		return fmt.Errorf("history entry %s must be created pending, got %s", entry.ID, entry.Status)
	}

	blob, err := encodeOutcomes(entry.Outcomes)
	if err != nil {
		return fmt.Errorf("failed to encode outcomes: %w", err)
	}

	var retryOf sql.NullString
	if entry.RetryOf != "" {
		retryOf = sql.NullString{String: entry.RetryOf, Valid: true}
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO `+table+` (id, vault_id, trigger_kind, status, outcomes, detail, failure_reason,
			retry_of, amount_usd, total_fee_usd, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, entry.ID, entry.VaultID, string(entry.Trigger), string(entry.Status), blob, entry.Detail,
		entry.FailureReason, retryOf, entry.AmountUSD.String(), entry.TotalFeeUSD.String(),
		entry.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to insert %s entry %s: %w", entry.Kind, entry.ID, err)
	}
	return nil
}

// FinalizeHistory moves a pending entry to a terminal status.
// Returns ErrHistoryFinalized if the entry already left pending.
func (r *Repository) FinalizeHistory(ctx context.Context, kind domain.HistoryKind, id string, fin domain.HistoryFinalization) error {
	table, err := tableFor(kind)
	if err != nil {
		return err
	}
	if !fin.Status.Terminal() {
		return fmt.Errorf("cannot finalize %s with non-terminal status %s", id, fin.Status)
	}

	blob, err := encodeOutcomes(fin.Outcomes)
	if err != nil {
		return fmt.Errorf("failed to encode outcomes: %w", err)
	}

	res, err := r.db.ExecContext(ctx, `
		UPDATE `+table+`
		SET status = ?, outcomes = ?, detail = ?, failure_reason = ?, total_fee_usd = ?, finalized_at = ?
		WHERE id = ? AND status = 'pending'
	`, string(fin.Status), blob, fin.Detail, fin.FailureReason, fin.TotalFeeUSD.String(),
		fin.FinalizedAt.Unix(), id)
	if err != nil {
		return fmt.Errorf("failed to finalize %s entry %s: %w", kind, id, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to finalize %s entry %s: %w", kind, id, err)
	}
	if n == 0 {
		if _, err := r.GetHistory(ctx, kind, id); err != nil {
			return err
		}
		return fmt.Errorf("%w: %s", domain.ErrHistoryFinalized, id)
	}
	return nil
}

const historyColumns = `id, vault_id, trigger_kind, status, outcomes, detail, failure_reason, retry_of,
	amount_usd, total_fee_usd, created_at, finalized_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(kind domain.HistoryKind, row rowScanner) (*domain.HistoryEntry, error) {
	var e domain.HistoryEntry
	var trigger, status, amount, fee string
	var blob []byte
	var retryOf sql.NullString
	var createdAt int64
	var finalizedAt sql.NullInt64

	if err := row.Scan(&e.ID, &e.VaultID, &trigger, &status, &blob, &e.Detail, &e.FailureReason,
		&retryOf, &amount, &fee, &createdAt, &finalizedAt); err != nil {
		return nil, err
	}

	outcomes, err := decodeOutcomes(e.VaultID, blob)
	if err != nil {
		return nil, fmt.Errorf("failed to decode outcomes for %s: %w", e.ID, err)
	}

	e.Kind = kind
	e.Trigger = domain.Trigger(trigger)
	e.Status = domain.HistoryStatus(status)
	e.Outcomes = outcomes
	e.RetryOf = retryOf.String
	e.AmountUSD = parseDecimal(amount)
	e.TotalFeeUSD = parseDecimal(fee)
	e.CreatedAt = time.Unix(createdAt, 0).UTC()
	if finalizedAt.Valid {
		t := time.Unix(finalizedAt.Int64, 0).UTC()
		e.FinalizedAt = &t
	}
	return &e, nil
}

// GetHistory returns one entry or ErrHistoryNotFound
func (r *Repository) GetHistory(ctx context.Context, kind domain.HistoryKind, id string) (*domain.HistoryEntry, error) {
	table, err := tableFor(kind)
	if err != nil {
		return nil, err
	}

	row := r.db.QueryRowContext(ctx, "SELECT "+historyColumns+" FROM "+table+" WHERE id = ?", id)
	e, err := scanEntry(kind, row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", domain.ErrHistoryNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s entry %s: %w", kind, id, err)
	}
	return e, nil
}

// FindRetry returns the entry created by retrying originalID, or nil if
// none exists yet
func (r *Repository) FindRetry(ctx context.Context, kind domain.HistoryKind, originalID string) (*domain.HistoryEntry, error) {
	table, err := tableFor(kind)
	if err != nil {
		return nil, err
	}

	row := r.db.QueryRowContext(ctx, "SELECT "+historyColumns+" FROM "+table+" WHERE retry_of = ?", originalID)
	e, err := scanEntry(kind, row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find retry of %s: %w", originalID, err)
	}
	return e, nil
}

// ListHistory returns the newest entries for a vault, up to limit
func (r *Repository) ListHistory(ctx context.Context, kind domain.HistoryKind, vaultID string, limit int) ([]domain.HistoryEntry, error) {
	table, err := tableFor(kind)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT `+historyColumns+` FROM `+table+`
		WHERE vault_id = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?
	`, vaultID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s history: %w", kind, err)
	}
	defer rows.Close()

	entries := make([]domain.HistoryEntry, 0)
	for rows.Next() {
		e, err := scanEntry(kind, rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan %s entry: %w", kind, err)
		}
		entries = append(entries, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating %s history: %w", kind, err)
	}
	return entries, nil
}

// ListPending returns entries still pending, oldest first. A pending entry
// outliving its cycle means the process stopped between create and finalize.
func (r *Repository) ListPending(ctx context.Context, kind domain.HistoryKind, olderThan time.Time) ([]domain.HistoryEntry, error) {
	table, err := tableFor(kind)
	if err != nil {
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT `+historyColumns+` FROM `+table+`
		WHERE status = 'pending' AND created_at < ?
		ORDER BY created_at
	`, olderThan.Unix())
	if err != nil {
		return nil, fmt.Errorf("failed to query pending %s entries: %w", kind, err)
	}
	defer rows.Close()

	entries := make([]domain.HistoryEntry, 0)
	for rows.Next() {
		e, err := scanEntry(kind, rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan %s entry: %w", kind, err)
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

// IsDuplicateRetry reports whether err is the unique violation on retry_of
func IsDuplicateRetry(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE") && strings.Contains(err.Error(), "retry_of")
}
