package events

import "time"

// EventData is the interface that all event data types must implement
type EventData interface {
	// EventType returns the event type this data is associated with
	EventType() EventType
}

// CycleStartedData contains data for CycleStarted events
type CycleStartedData struct {
	TickID     string    `json:"tick_id"`
	VaultCount int       `json:"vault_count"`
	StartedAt  time.Time `json:"started_at"`
}

// EventType returns the event type for CycleStartedData
func (d *CycleStartedData) EventType() EventType {
	return CycleStarted
}

// CycleCompletedData contains data for CycleCompleted events
type CycleCompletedData struct {
	TickID     string `json:"tick_id"`
	VaultCount int    `json:"vault_count"`
	Rebalanced int    `json:"rebalanced"`
	TookProfit int    `json:"took_profit"`
	Skipped    int    `json:"skipped"`
	Failed     int    `json:"failed"`
	DurationMs int64  `json:"duration_ms"`
}

// EventType returns the event type for CycleCompletedData
func (d *CycleCompletedData) EventType() EventType {
	return CycleCompleted
}

// VaultEvaluatedData contains data for VaultEvaluated events
type VaultEvaluatedData struct {
	VaultID         string   `json:"vault_id"`
	TotalUSD        string   `json:"total_usd"`
	MaxDriftBp      int64    `json:"max_drift_bp"`
	TrackingErrorBp float64  `json:"tracking_error_bp"`
	NeedsRebalance  bool     `json:"needs_rebalance"`
	Estimated       bool     `json:"estimated"`
	Reasons         []string `json:"reasons,omitempty"`
}

// EventType returns the event type for VaultEvaluatedData
func (d *VaultEvaluatedData) EventType() EventType {
	return VaultEvaluated
}

// VaultSkippedData contains data for VaultSkipped events
type VaultSkippedData struct {
	VaultID string `json:"vault_id"`
	Reason  string `json:"reason"`
}

// EventType returns the event type for VaultSkippedData
func (d *VaultSkippedData) EventType() EventType {
	return VaultSkipped
}

// VaultCycleFailedData contains data for VaultCycleFailed events
type VaultCycleFailedData struct {
	VaultID string `json:"vault_id"`
	Phase   string `json:"phase"`
	Error   string `json:"error"`
}

// EventType returns the event type for VaultCycleFailedData
func (d *VaultCycleFailedData) EventType() EventType {
	return VaultCycleFailed
}

// ActionData describes a rebalance or take-profit action. The same
// payload is used for triggered, completed and failed events.
type ActionData struct {
	Type         EventType `json:"-"`
	VaultID      string    `json:"vault_id"`
	HistoryID    string    `json:"history_id"`
	Trigger      string    `json:"trigger"`
	Status       string    `json:"status,omitempty"`
	Instructions int       `json:"instructions"`
	AmountUSD    string    `json:"amount_usd,omitempty"`
	FeeUSD       string    `json:"fee_usd,omitempty"`
	RetryOf      string    `json:"retry_of,omitempty"`
	Error        string    `json:"error,omitempty"`
}

// EventType returns the event type carried by the action
func (d *ActionData) EventType() EventType {
	return d.Type
}

// AllocationsChangedData contains data for AllocationsChanged events
type AllocationsChangedData struct {
	VaultID string `json:"vault_id"`
	Assets  int    `json:"assets"`
}

// EventType returns the event type for AllocationsChangedData
func (d *AllocationsChangedData) EventType() EventType {
	return AllocationsChanged
}

// PricesUpdatedData contains data for PricesUpdated events
type PricesUpdatedData struct {
	Assets []string `json:"assets"`
}

// EventType returns the event type for PricesUpdatedData
func (d *PricesUpdatedData) EventType() EventType {
	return PricesUpdated
}

// BackupCompletedData contains data for BackupCompleted events
type BackupCompletedData struct {
	Key       string `json:"key"`
	SizeBytes int64  `json:"size_bytes"`
}

// EventType returns the event type for BackupCompletedData
func (d *BackupCompletedData) EventType() EventType {
	return BackupCompleted
}

// ErrorEventData contains data for ErrorOccurred events
type ErrorEventData struct {
	Error   string            `json:"error"`
	Context map[string]string `json:"context,omitempty"`
}

// EventType returns the event type for ErrorEventData
func (d *ErrorEventData) EventType() EventType {
	return ErrorOccurred
}
