package events

import (
	"time"

	"github.com/rs/zerolog"
)

// Manager is the component-facing entry point for publishing domain events:
// it stamps the envelope, fans it out through the Bus, and logs it for
// observability. A nil *Manager is valid and a no-op, so callers that don't
// care about cross-component notification (most unit tests) can pass nil.
type Manager struct {
	bus *Bus
	log zerolog.Logger
}

// NewManager builds a Manager publishing through bus.
func NewManager(bus *Bus, log zerolog.Logger) *Manager {
	return &Manager{bus: bus, log: log.With().Str("component", "events").Logger()}
}

// EmitTyped publishes data under its own EventType, logging the event and
// the module that raised it.
func (m *Manager) EmitTyped(module string, data EventData) {
	if m == nil {
		return
	}
	event := &Event{
		Type:      data.EventType(),
		Timestamp: time.Now().UTC(),
		Module:    module,
		Data:      data,
	}
	m.bus.Emit(event)
	m.log.Debug().Str("event_type", string(event.Type)).Str("module", module).Msg("event emitted")
}

// EmitError publishes an ErrorOccurred event carrying err and context.
func (m *Manager) EmitError(module string, err error, context map[string]interface{}) {
	if m == nil {
		return
	}
	m.EmitTyped(module, &ErrorEventData{Error: err.Error(), Context: context})
}
