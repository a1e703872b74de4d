// Package events provides event management functionality.
package events

import "time"

// EventType represents different event types
type EventType string

const (
	// Scheduler lifecycle
	CycleStarted     EventType = "CYCLE_STARTED"
	CycleCompleted   EventType = "CYCLE_COMPLETED"
	VaultEvaluated   EventType = "VAULT_EVALUATED"
	VaultSkipped     EventType = "VAULT_SKIPPED"
	VaultCycleFailed EventType = "VAULT_CYCLE_FAILED"

	// Rebalancing
	RebalanceTriggered EventType = "REBALANCE_TRIGGERED"
	RebalanceCompleted EventType = "REBALANCE_COMPLETED"
	RebalanceFailed    EventType = "REBALANCE_FAILED"

	// Take-profit
	TakeProfitTriggered EventType = "TAKE_PROFIT_TRIGGERED"
	TakeProfitCompleted EventType = "TAKE_PROFIT_COMPLETED"
	TakeProfitFailed    EventType = "TAKE_PROFIT_FAILED"

	// Operator changes
	AllocationsChanged EventType = "ALLOCATIONS_CHANGED"
	PricesUpdated      EventType = "PRICES_UPDATED"
	BackupCompleted    EventType = "BACKUP_COMPLETED"

	ErrorOccurred EventType = "ERROR_OCCURRED"
)

// AllEventTypes lists every event type, used by stream subscribers
var AllEventTypes = []EventType{
	CycleStarted, CycleCompleted, VaultEvaluated, VaultSkipped, VaultCycleFailed,
	RebalanceTriggered, RebalanceCompleted, RebalanceFailed,
	TakeProfitTriggered, TakeProfitCompleted, TakeProfitFailed,
	AllocationsChanged, PricesUpdated, BackupCompleted,
	ErrorOccurred,
}

// Event represents a system event with typed data
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Module    string    `json:"module"`
	Data      EventData `json:"data"`
}
