package events

import (
	"encoding/json"
	"time"

	"github.com/rs/zerolog"
)

// Manager handles event emission and logging
type Manager struct {
	bus *Bus
	log zerolog.Logger
	now func() time.Time
}

// NewManager creates a new event manager
func NewManager(bus *Bus, log zerolog.Logger) *Manager {
	return &Manager{
		bus: bus,
		log: log.With().Str("service", "events").Logger(),
		now: time.Now,
	}
}

// Bus returns the underlying bus for subscribers
func (m *Manager) Bus() *Bus {
	return m.bus
}

// EmitTyped publishes data to the bus and logs it.
// A nil Manager discards the event.
func (m *Manager) EmitTyped(eventType EventType, module string, data EventData) {
	if m == nil {
		return
	}

	event := &Event{
		Type:      eventType,
		Timestamp: m.now(),
		Module:    module,
		Data:      data,
	}

	if m.bus != nil {
		m.bus.Publish(event)
	}

	eventJSON, err := json.Marshal(event)
	if err != nil {
		m.log.Warn().Err(err).Str("event_type", string(eventType)).Msg("Failed to encode event")
		return
	}
	m.log.Info().
		Str("event_type", string(eventType)).
		Str("module", module).
		RawJSON("event", eventJSON).
		Msg("Event emitted")
}

// Emit publishes data under its own event type
func (m *Manager) Emit(module string, data EventData) {
	if data == nil {
		return
	}
	m.EmitTyped(data.EventType(), module, data)
}

// EmitError emits an error event
func (m *Manager) EmitError(module string, err error, context map[string]string) {
	m.EmitTyped(ErrorOccurred, module, &ErrorEventData{
		Error:   err.Error(),
		Context: context,
	})
}
