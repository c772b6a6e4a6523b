package connection

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// Errors
var (
	ErrNotConnected    = errors.New("not connected")
	ErrQueued          = errors.New("not connected, message queued")
	ErrDisposed        = errors.New("manager disposed")
	ErrStaleConnection = errors.New("connection stale (no ping)")
	ErrInvalidURL      = errors.New("invalid websocket url")
)

// State is the lifecycle state of a Manager.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
	StateFailed       State = "failed"
)

// ReadyState mirrors the readiness of the underlying transport handle.
type ReadyState int

const (
	Connecting ReadyState = iota
	Open
	Closing
	Closed
)

func (r ReadyState) String() string {
	switch r {
	case Connecting:
		return "CONNECTING"
	case Open:
		return "OPEN"
	case Closing:
		return "CLOSING"
	case Closed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// Close codes the manager cares about.
const (
	CloseNormalClosure   = 1000
	CloseAbnormalClosure = 1006
	ClosePolicyViolation = 1008
	CloseUnauthorized    = 4401
)

// MessageType is the frame type of a Message.
type MessageType int

const (
	TextMessage MessageType = iota + 1
	BinaryMessage
)

// Message is a single WebSocket frame payload. The manager never inspects Data.
type Message struct {
	Type MessageType
	Data []byte
}

// Text returns a text frame.
func Text(s string) Message {
	return Message{Type: TextMessage, Data: []byte(s)}
}

// Binary returns a binary frame.
func Binary(b []byte) Message {
	return Message{Type: BinaryMessage, Data: b}
}

// CloseEvent describes how a transport closed.
type CloseEvent struct {
	Code     int
	Reason   string
	WasClean bool
}

// BinaryType controls how binary frames reach OnMessage.
type BinaryType string

const (
	// BinaryArrayBuffer delivers binary frames untouched as BinaryMessage.
	BinaryArrayBuffer BinaryType = "arraybuffer"
	// BinaryText re-types binary frames as TextMessage. Mesh relays often
	// carry UTF-8 control traffic inside binary frames.
	BinaryText BinaryType = "text"
)

// ManagerConfig configures a Manager. Start from DefaultManagerConfig.
type ManagerConfig struct {
	URL     string                 // Static endpoint
	URLFunc func() (string, error) // Re-evaluated on every connect attempt; takes precedence over URL

	MaxReconnectAttempts int             // Scheduled retries before entering failed
	ReconnectBackoff     []time.Duration // Delay table indexed by attempt, clamped at the last entry

	OnStateChange func(State)
	OnMessage     func(Message)
	OnError       func(error)
	OnOpen        func()
	OnClose       func(CloseEvent)

	ShouldReconnect func(CloseEvent) bool

	RefreshTokenBeforeReconnect bool
	Protocols                   []string
	Header                      http.Header // Extra handshake headers (cookies, bearer auth)
	BinaryType                  BinaryType

	EnableMessageQueue bool
	QueueCapacity      int // 0 = unbounded; otherwise oldest messages are dropped on overflow

	ProbeTimeout        time.Duration // Deadline handed to the credential probe
	RefreshThrottle     time.Duration // Skip probing this soon after the last probe attempt
	RecentConnectWindow time.Duration // Skip probing this soon after the last successful open
}

// DefaultBackoff is the default reconnect delay table.
var DefaultBackoff = []time.Duration{
	1 * time.Second,
	2 * time.Second,
	4 * time.Second,
	8 * time.Second,
	16 * time.Second,
	30 * time.Second,
}

// DefaultManagerConfig returns sensible defaults.
func DefaultManagerConfig() ManagerConfig {
	backoff := make([]time.Duration, len(DefaultBackoff))
	copy(backoff, DefaultBackoff)

	return ManagerConfig{
		MaxReconnectAttempts:        5,
		ReconnectBackoff:            backoff,
		ShouldReconnect:             DefaultShouldReconnect,
		RefreshTokenBeforeReconnect: true,
		BinaryType:                  BinaryArrayBuffer,
		EnableMessageQueue:          true,
		ProbeTimeout:                10 * time.Second,
		RefreshThrottle:             30 * time.Second,
		RecentConnectWindow:         2 * time.Minute,
	}
}

// DefaultShouldReconnect retries unclean closures and the auth/abnormal
// close codes (1006, 1008, 4401) even when they were clean.
func DefaultShouldReconnect(ev CloseEvent) bool {
	if !ev.WasClean {
		return true
	}
	switch ev.Code {
	case ClosePolicyViolation, CloseAbnormalClosure, CloseUnauthorized:
		return true
	}
	return false
}

// Deps are the collaborators a Manager talks to. Nil fields get defaults.
type Deps struct {
	Dialer Dialer       // nil = gorilla/websocket dialer
	Prober Prober       // nil = credentials always valid
	Clock  Clock        // nil = wall clock
	Logger *slog.Logger // nil = slog.Default()

	SessionID uuid.UUID // Zero = random
}

// Prober validates the session before a reconnect attempt.
// An error is treated the same as a not-ok result.
type Prober interface {
	Check(ctx context.Context) (bool, error)
}

// ProberFunc adapts a function to Prober.
type ProberFunc func(ctx context.Context) (bool, error)

// Check calls f(ctx).
func (f ProberFunc) Check(ctx context.Context) (bool, error) { return f(ctx) }

// ManagerStats is a point-in-time snapshot of a Manager.
type ManagerStats struct {
	SessionID        uuid.UUID  `json:"session_id"`
	State            State      `json:"state"`
	ReadyState       string     `json:"ready_state"`
	ReconnectAttempt int        `json:"reconnect_attempt"`
	QueueLength      int        `json:"queue_length"`
	QueueDropped     int64      `json:"queue_dropped"`
	Opens            int64      `json:"opens"`
	LastConnectAt    *time.Time `json:"last_connect_at,omitempty"`
	Disposed         bool       `json:"disposed"`
}
