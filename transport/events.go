package transport

import "time"

// EventType names a connection lifecycle event.
type EventType string

const (
	EventConnected       EventType = "connected"
	EventDisconnected    EventType = "disconnected"
	EventConnectionError EventType = "connection_error"
	EventPingReceived    EventType = "ping_received"
	EventPongSent        EventType = "pong_sent"
	EventLineSent        EventType = "line_sent"
	EventSendError       EventType = "send_error"
)

// Event is a notification about one connection.
type Event struct {
	Type         EventType
	ConnectionID string
	Message      string
	Err          error
	Time         time.Time
}

// Listener receives every event synchronously on the emitting goroutine.
// Implementations must not block.
type Listener interface {
	OnEvent(Event)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(Event)

// OnEvent calls f.
func (f ListenerFunc) OnEvent(e Event) { f(e) }

// emit delivers e to the listener and, without blocking, to the channel.
func (s *Server) emit(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	if s.listener != nil {
		s.listener.OnEvent(e)
	}

	select {
	case s.events <- e:
	default:
		s.eventsDropped.Add(1)
		s.metrics.recordEventDropped()
	}
}
