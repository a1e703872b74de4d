package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/aristath/vaultpilot/internal/events"
	"github.com/rs/zerolog"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

const (
	streamBufferSize = 100
	streamWriteWait  = 10 * time.Second
)

// EventsStreamHandler streams bus events to websocket clients
type EventsStreamHandler struct {
	bus            *events.Bus
	originPatterns []string
	log            zerolog.Logger
}

// NewEventsStreamHandler creates the handler. In dev mode any origin may
// connect; otherwise only same-host origins are accepted.
func NewEventsStreamHandler(bus *events.Bus, devMode bool, log zerolog.Logger) *EventsStreamHandler {
	var origins []string
	if devMode {
		origins = []string{"*"}
	}
	return &EventsStreamHandler{
		bus:            bus,
		originPatterns: origins,
		log:            log.With().Str("component", "events_stream").Logger(),
	}
}

// ServeHTTP handles GET /api/events/ws. The optional types query parameter
// is a comma-separated list of event types to receive.
func (h *EventsStreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	typesFilter := r.URL.Query().Get("types")
	var allowedTypes map[events.EventType]bool
	if typesFilter != "" {
		allowedTypes = make(map[events.EventType]bool)
		for _, t := range strings.Split(typesFilter, ",") {
			allowedTypes[events.EventType(strings.ToUpper(strings.TrimSpace(t)))] = true
		}
	}

	eventChan := make(chan *events.Event, streamBufferSize)
	id := h.bus.SubscribeAll(func(event *events.Event) {
		if allowedTypes != nil && !allowedTypes[event.Type] {
			return
		}
		// Non-blocking send (drop if channel full)
		select {
		case eventChan <- event:
		default:
			h.log.Warn().
				Str("event_type", string(event.Type)).
				Msg("Event channel full, dropping event")
		}
	})
	defer h.bus.Unsubscribe(id)

	// Subscribed before the handshake completes, so a client sees every
	// event published after its dial returns. The stream outlives the
	// server's write timeout.
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.originPatterns})
	if err != nil {
		h.log.Warn().Err(err).Msg("Websocket handshake failed")
		return
	}

	h.log.Info().Str("types_filter", typesFilter).Msg("Client connected to event stream")

	// Clients never send; CloseRead handles control frames and ends ctx on close
	ctx := conn.CloseRead(r.Context())
	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			h.log.Info().Msg("Client disconnected from event stream")
			return
		case event := <-eventChan:
			if err := h.write(ctx, conn, event); err != nil {
				h.log.Debug().Err(err).Msg("Event stream write failed")
				conn.Close(websocket.StatusInternalError, "write failed")
				return
			}
		}
	}
}

func (h *EventsStreamHandler) write(ctx context.Context, conn *websocket.Conn, event *events.Event) error {
	ctx, cancel := context.WithTimeout(ctx, streamWriteWait)
	defer cancel()
	return wsjson.Write(ctx, conn, event)
}
