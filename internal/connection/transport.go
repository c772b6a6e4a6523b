package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Transport is a single full-duplex connection handle.
type Transport interface {
	// Send writes one frame. Fails unless the handle is Open.
	Send(msg Message) error

	// Close starts the closing handshake. It never invokes handlers synchronously.
	Close(code int, reason string) error

	// ReadyState returns the current readiness of the handle.
	ReadyState() ReadyState
}

// TransportHandlers receive events for one Transport, in transport order.
type TransportHandlers struct {
	OnOpen    func()
	OnMessage func(Message)
	OnError   func(error)
	OnClose   func(CloseEvent)
}

// DialOptions are passed through from ManagerConfig on every attempt.
type DialOptions struct {
	Protocols  []string
	Header     http.Header
	BinaryType BinaryType
}

// Dialer creates transports. Dial returns immediately with a handle in the
// Connecting state; a returned error means the handle could not be constructed.
type Dialer interface {
	Dial(rawURL string, opts DialOptions, h TransportHandlers) (Transport, error)
}

// TransportConfig configures the gorilla/websocket dialer.
type TransportConfig struct {
	HandshakeTimeout time.Duration // Opening handshake deadline
	PingInterval     time.Duration // Keepalive ping period
	PingTimeout      time.Duration // Max time without ping/pong before the connection is stale
	WriteTimeout     time.Duration // Write deadline for sends
	CloseGrace       time.Duration // How long to wait for the peer to echo a close frame
}

// DefaultTransportConfig returns sensible defaults.
func DefaultTransportConfig() TransportConfig {
	return TransportConfig{
		HandshakeTimeout: 10 * time.Second,
		PingInterval:     30 * time.Second,
		PingTimeout:      60 * time.Second,
		WriteTimeout:     5 * time.Second,
		CloseGrace:       time.Second,
	}
}

type wsDialer struct {
	cfg    TransportConfig
	logger *slog.Logger
}

// NewDialer returns a Dialer backed by gorilla/websocket.
func NewDialer(cfg TransportConfig, logger *slog.Logger) Dialer {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultTransportConfig()
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = def.HandshakeTimeout
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = def.PingInterval
	}
	if cfg.PingTimeout <= 0 {
		cfg.PingTimeout = def.PingTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.CloseGrace <= 0 {
		cfg.CloseGrace = def.CloseGrace
	}
	return &wsDialer{cfg: cfg, logger: logger}
}

// Dial validates rawURL and starts the opening handshake in the background.
func (d *wsDialer) Dial(rawURL string, opts DialOptions, h TransportHandlers) (Transport, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidURL, u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("%w: missing host", ErrInvalidURL)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t := &wsTransport{
		cfg:      d.cfg,
		opts:     opts,
		logger:   d.logger.With("host", u.Host),
		handlers: h,
		state:    Connecting,
		cancel:   cancel,
		done:     make(chan struct{}),
	}

	go t.dial(ctx, rawURL)

	return t, nil
}

// wsTransport implements Transport over a gorilla/websocket connection.
type wsTransport struct {
	cfg      TransportConfig
	opts     DialOptions
	logger   *slog.Logger
	handlers TransportHandlers

	cancel context.CancelFunc
	done   chan struct{}

	// Write serialization
	writeMu sync.Mutex

	// State
	mu         sync.Mutex
	conn       *websocket.Conn
	state      ReadyState
	lastPingAt time.Time
	stale      bool

	finishOnce sync.Once
}

// dial performs the opening handshake and then runs the read loop.
func (t *wsTransport) dial(ctx context.Context, rawURL string) {
	dialer := websocket.Dialer{
		HandshakeTimeout: t.cfg.HandshakeTimeout,
		Subprotocols:     t.opts.Protocols,
		Proxy:            http.ProxyFromEnvironment,
	}

	conn, resp, err := dialer.DialContext(ctx, rawURL, t.opts.Header)
	if err != nil {
		reason := ""
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			reason = "unauthorized"
		}
		if ctx.Err() == nil {
			t.emitError(fmt.Errorf("dial: %w", err))
		}
		t.finish(CloseEvent{Code: CloseAbnormalClosure, Reason: reason})
		return
	}

	t.mu.Lock()
	if t.state != Connecting {
		// Close was called while the handshake was in flight
		t.mu.Unlock()
		conn.Close()
		t.finish(CloseEvent{Code: CloseAbnormalClosure})
		return
	}
	t.conn = conn
	t.state = Open
	t.lastPingAt = time.Now()
	t.mu.Unlock()

	// Server sends ping, we respond with pong
	conn.SetPingHandler(func(data string) error {
		t.touch()
		err := conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})
	conn.SetPongHandler(func(string) error {
		t.touch()
		return nil
	})

	t.logger.Debug("websocket connected", "subprotocol", conn.Subprotocol())

	if t.handlers.OnOpen != nil {
		t.handlers.OnOpen()
	}

	go t.heartbeatLoop(conn)
	t.readLoop(conn)
}

// readLoop delivers frames until the connection ends.
func (t *wsTransport) readLoop(conn *websocket.Conn) {
	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			t.finish(t.closeEventFor(err))
			conn.Close()
			return
		}

		msg := Message{Type: TextMessage, Data: data}
		if mt == websocket.BinaryMessage && t.opts.BinaryType != BinaryText {
			msg.Type = BinaryMessage
		}

		if t.handlers.OnMessage != nil {
			t.handlers.OnMessage(msg)
		}
	}
}

// closeEventFor maps a read error to the close event reported to handlers.
func (t *wsTransport) closeEventFor(err error) CloseEvent {
	var ce *websocket.CloseError
	if errors.As(err, &ce) && ce.Code != websocket.CloseAbnormalClosure {
		return CloseEvent{
			Code:     ce.Code,
			Reason:   ce.Text,
			WasClean: true,
		}
	}

	t.mu.Lock()
	closing := t.state == Closing
	stale := t.stale
	t.mu.Unlock()

	if !closing && !stale {
		t.emitError(fmt.Errorf("read: %w", err))
	}
	return CloseEvent{Code: CloseAbnormalClosure}
}

// heartbeatLoop sends keepalive pings and detects stale connections.
func (t *wsTransport) heartbeatLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(t.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-t.done:
			return
		case <-ticker.C:
			t.writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, []byte("keepalive"), time.Now().Add(t.cfg.WriteTimeout))
			t.writeMu.Unlock()
			if err != nil {
				t.logger.Debug("failed to send ping", "error", err)
			}

			t.mu.Lock()
			lastPing := t.lastPingAt
			t.mu.Unlock()

			if time.Since(lastPing) > t.cfg.PingTimeout {
				t.logger.Warn("no ping received, connection stale",
					"last_ping", lastPing,
					"timeout", t.cfg.PingTimeout,
				)
				t.mu.Lock()
				t.stale = true
				t.mu.Unlock()
				t.emitError(ErrStaleConnection)
				conn.Close()
				return
			}
		}
	}
}

// Send writes one frame.
func (t *wsTransport) Send(msg Message) error {
	t.mu.Lock()
	if t.state != Open {
		t.mu.Unlock()
		return ErrNotConnected
	}
	conn := t.conn
	t.mu.Unlock()

	mt := websocket.TextMessage
	if msg.Type == BinaryMessage {
		mt = websocket.BinaryMessage
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	conn.SetWriteDeadline(time.Now().Add(t.cfg.WriteTimeout))
	return conn.WriteMessage(mt, msg.Data)
}

// Close starts the closing handshake or aborts an in-flight dial.
func (t *wsTransport) Close(code int, reason string) error {
	t.mu.Lock()
	switch t.state {
	case Connecting:
		t.state = Closing
		t.mu.Unlock()
		t.cancel()
		return nil
	case Open:
		t.state = Closing
		conn := t.conn
		t.mu.Unlock()

		t.writeMu.Lock()
		err := conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(code, reason),
			time.Now().Add(t.cfg.WriteTimeout),
		)
		t.writeMu.Unlock()

		// The read loop ends when the peer echoes the close frame or the grace period runs out
		conn.SetReadDeadline(time.Now().Add(t.cfg.CloseGrace))
		if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
			conn.Close()
			return fmt.Errorf("write close frame: %w", err)
		}
		return nil
	default:
		t.mu.Unlock()
		return nil
	}
}

// ReadyState returns the current readiness of the handle.
func (t *wsTransport) ReadyState() ReadyState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *wsTransport) touch() {
	t.mu.Lock()
	t.lastPingAt = time.Now()
	t.mu.Unlock()
}

func (t *wsTransport) emitError(err error) {
	if t.handlers.OnError != nil {
		t.handlers.OnError(err)
	}
}

// finish moves the handle to Closed and reports the close exactly once.
func (t *wsTransport) finish(ev CloseEvent) {
	t.finishOnce.Do(func() {
		t.mu.Lock()
		t.state = Closed
		t.mu.Unlock()

		t.cancel()
		close(t.done)

		t.logger.Debug("websocket closed", "code", ev.Code, "reason", ev.Reason, "clean", ev.WasClean)

		if t.handlers.OnClose != nil {
			t.handlers.OnClose(ev)
		}
	})
}
