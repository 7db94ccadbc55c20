package connection

import (
	"errors"
	"net/http"
	"time"

	"github.com/clinicdesk/appointment-sync/internal/model"
)

// Errors
var (
	ErrNotConnected    = errors.New("not connected")
	ErrAlreadyClosed   = errors.New("already closed")
	ErrConnectionLost  = errors.New("connection closed by server")
	ErrSubscribeFailed = errors.New("subscribe failed")
)

// Phase is the connection lifecycle state.
type Phase int

const (
	PhaseDisconnected Phase = iota
	PhaseConnecting
	PhaseConnected
)

func (p Phase) String() string {
	switch p {
	case PhaseDisconnected:
		return "disconnected"
	case PhaseConnecting:
		return "connecting"
	case PhaseConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// EventKind identifies a transport event.
type EventKind int

const (
	EventHandshakeOK EventKind = iota + 1
	EventHandshakeErr
	EventMessage
	EventClosed
)

func (k EventKind) String() string {
	switch k {
	case EventHandshakeOK:
		return "handshake_ok"
	case EventHandshakeErr:
		return "handshake_err"
	case EventMessage:
		return "message"
	case EventClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Event is a single transport notification. Transports deliver them in order
// on their Events channel; the manager's state machine consumes them.
type Event struct {
	Kind        EventKind
	Err         error     // HandshakeErr, Closed
	Destination string    // Message
	Data        []byte    // Message body
	ReceivedAt  time.Time // Local timestamp when the frame was read
}

// TargetFunc resolves the subscription target (the logged-in doctor's id).
// An empty result means nobody is logged in yet.
type TargetFunc func() string

// Sink owns the appointment collection the manager merges updates into.
// Update must run merge and store its result atomically with respect to
// every other writer of the collection.
type Sink interface {
	Update(cause model.Appointment, merge func(current []model.Appointment) []model.Appointment)
}

// TransportConfig configures a single transport instance.
type TransportConfig struct {
	URL              string        // WebSocket URL (e.g., wss://clinic.example.com/ws/websocket)
	Header           http.Header   // Handshake headers (Authorization)
	HandshakeTimeout time.Duration // WebSocket + STOMP CONNECT deadline
	HeartBeat        time.Duration // STOMP heart-beat in both directions, 0 disables
	WriteTimeout     time.Duration // Write deadline for frames
}

// ManagerConfig configures the Connection Manager.
type ManagerConfig struct {
	WSURL                string        // WebSocket URL
	TopicPrefix          string        // Topic prefix, target id is appended
	HandshakeTimeout     time.Duration // Passed to each transport
	HeartBeat            time.Duration // Passed to each transport
	WriteTimeout         time.Duration // Passed to each transport
	ReconnectBaseWait    time.Duration // Delay unit for the Nth reconnect
	ReconnectMaxWait     time.Duration // Delay cap
	MaxReconnectAttempts int           // Consecutive failures before giving up
	AuthHeader           func() string // Optional Authorization header value for the handshake
}

// DefaultManagerConfig returns the reconnect policy used by the mobile clients.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		TopicPrefix:          "/topic/appointments/",
		HandshakeTimeout:     10 * time.Second,
		HeartBeat:            10 * time.Second,
		WriteTimeout:         5 * time.Second,
		ReconnectBaseWait:    5 * time.Second,
		ReconnectMaxWait:     15 * time.Second,
		MaxReconnectAttempts: 5,
	}
}

// ManagerStats is a point-in-time view of the manager.
type ManagerStats struct {
	Phase             Phase      `json:"-"`
	PhaseName         string     `json:"phase"`
	Target            string     `json:"target,omitempty"`
	ReconnectAttempts int        `json:"reconnect_attempts"`
	ReconnectPending  bool       `json:"reconnect_pending"`
	Epoch             uint64     `json:"epoch"`
	UpdatesApplied    int64      `json:"updates_applied"`
	UpdatesRejected   int64      `json:"updates_rejected"`
	LastMessageAt     *time.Time `json:"last_message_at,omitempty"` // nil until the first message
	ConnectedAt       *time.Time `json:"connected_at,omitempty"`    // nil while not connected
}
