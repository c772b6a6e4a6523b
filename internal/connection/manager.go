package connection

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Manager keeps one logical WebSocket session alive across transport failures.
//
// All state lives behind mu. Transport and timer callbacks take mu; caller
// callbacks are queued under mu and run later on the dispatcher goroutine,
// so they observe state-machine order and may call back into the Manager.
type Manager struct {
	cfg    ManagerConfig
	dialer Dialer
	prober Prober
	clock  Clock
	logger *slog.Logger
	id     uuid.UUID

	events *dispatcher

	mu                 sync.Mutex
	state              State
	socket             Transport
	gen                uint64 // Bumped whenever socket is attached or detached
	reconnectAttempt   int
	timer              *reconnectTimer
	queue              *Queue[Message]
	lastConnectTime    time.Time
	lastRefreshAttempt time.Time
	disposed           bool
	opens              int64
}

// reconnectTimer is the single pending retry.
type reconnectTimer struct {
	t            Timer
	forceRefresh bool
}

// NewManager creates a Manager in the disconnected state. Call Connect to start.
func NewManager(cfg ManagerConfig, deps Deps) *Manager {
	def := DefaultManagerConfig()
	if cfg.MaxReconnectAttempts == 0 {
		cfg.MaxReconnectAttempts = def.MaxReconnectAttempts
	}
	if cfg.MaxReconnectAttempts < 0 {
		cfg.MaxReconnectAttempts = 0
	}
	if len(cfg.ReconnectBackoff) == 0 {
		cfg.ReconnectBackoff = def.ReconnectBackoff
	} else {
		cfg.ReconnectBackoff = append([]time.Duration(nil), cfg.ReconnectBackoff...)
	}
	if cfg.ShouldReconnect == nil {
		cfg.ShouldReconnect = DefaultShouldReconnect
	}
	if cfg.BinaryType == "" {
		cfg.BinaryType = def.BinaryType
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = def.ProbeTimeout
	}
	if cfg.RefreshThrottle <= 0 {
		cfg.RefreshThrottle = def.RefreshThrottle
	}
	if cfg.RecentConnectWindow <= 0 {
		cfg.RecentConnectWindow = def.RecentConnectWindow
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := deps.Clock
	if clock == nil {
		clock = wallClock{}
	}
	dialer := deps.Dialer
	if dialer == nil {
		dialer = NewDialer(DefaultTransportConfig(), logger)
	}

	id := deps.SessionID
	if id == uuid.Nil {
		id = uuid.New()
	}

	return &Manager{
		cfg:    cfg,
		dialer: dialer,
		prober: deps.Prober,
		clock:  clock,
		logger: logger.With("session_id", id),
		id:     id,
		events: newDispatcher(),
		state:  StateDisconnected,
		queue:  NewQueue[Message](cfg.QueueCapacity),
	}
}

// SessionID identifies this Manager in logs and journals.
func (m *Manager) SessionID() uuid.UUID {
	return m.id
}

// Connect opens a transport unless one is already connecting or open.
// It is a no-op once the Manager has been disposed.
func (m *Manager) Connect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connectLocked()
}

// Reconnect drops the current transport and connects immediately,
// bypassing backoff and resetting the attempt counter.
func (m *Manager) Reconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.logger.Info("manual reconnect")
	m.reconnectAttempt = 0
	m.cleanupLocked()
	m.connectLocked()
}

// Disconnect closes the transport and disposes the Manager. Connect is a
// permanent no-op afterwards.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.disposed = true
	m.cleanupLocked()
	m.setStateLocked(StateDisconnected)
	m.mu.Unlock()

	m.events.close()
}

// Dispose disconnects and discards any queued messages.
func (m *Manager) Dispose() {
	m.Disconnect()

	m.mu.Lock()
	m.queue.Clear()
	m.mu.Unlock()
}

// Send writes msg if the transport is open. Any other outcome returns an
// error: ErrQueued when msg was buffered for the next open, ErrNotConnected
// when buffering is off, ErrDisposed after disposal, or the send error.
func (m *Manager) Send(msg Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.disposed {
		return ErrDisposed
	}

	if m.socket != nil && m.socket.ReadyState() == Open {
		if err := m.socket.Send(msg); err != nil {
			m.logger.Warn("send failed", "error", err, "queued", m.cfg.EnableMessageQueue)
			if m.cfg.EnableMessageQueue {
				m.enqueueLocked(msg)
			}
			return fmt.Errorf("send: %w", err)
		}
		return nil
	}

	if m.cfg.EnableMessageQueue {
		m.enqueueLocked(msg)
	}

	if m.state == StateDisconnected || m.state == StateFailed {
		connecting := m.socket != nil && m.socket.ReadyState() == Connecting
		if m.timer == nil && !connecting {
			m.reconnectAttempt = 0
			m.connectLocked()
		}
	}

	if m.cfg.EnableMessageQueue {
		return ErrQueued
	}
	return ErrNotConnected
}

// GetState returns the current lifecycle state.
func (m *Manager) GetState() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// GetReadyState returns the transport readiness, or Closed when there is none.
func (m *Manager) GetReadyState() ReadyState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.readyStateLocked()
}

// IsConnected reports whether the transport is open.
func (m *Manager) IsConnected() bool {
	return m.GetReadyState() == Open
}

// Stats returns a snapshot of the Manager.
func (m *Manager) Stats() ManagerStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := ManagerStats{
		SessionID:        m.id,
		State:            m.state,
		ReadyState:       m.readyStateLocked().String(),
		ReconnectAttempt: m.reconnectAttempt,
		QueueLength:      m.queue.Len(),
		QueueDropped:     m.queue.Dropped(),
		Opens:            m.opens,
		Disposed:         m.disposed,
	}
	if !m.lastConnectTime.IsZero() {
		t := m.lastConnectTime
		stats.LastConnectAt = &t
	}
	return stats
}

func (m *Manager) readyStateLocked() ReadyState {
	if m.socket == nil {
		return Closed
	}
	return m.socket.ReadyState()
}

func (m *Manager) connectLocked() {
	if m.disposed {
		return
	}
	if rs := m.readyStateLocked(); m.socket != nil && (rs == Open || rs == Connecting) {
		return
	}

	m.cleanupLocked()
	m.setStateLocked(StateConnecting)

	rawURL, err := m.resolveURL()
	if err == nil {
		m.gen++
		gen := m.gen
		opts := DialOptions{
			Protocols:  m.cfg.Protocols,
			Header:     m.cfg.Header,
			BinaryType: m.cfg.BinaryType,
		}
		var t Transport
		t, err = m.dialer.Dial(rawURL, opts, m.handlersFor(gen))
		if err == nil {
			m.socket = t
			m.logger.Debug("connecting", "attempt", m.reconnectAttempt)
			return
		}
	}

	m.logger.Warn("failed to open transport", "error", err, "attempt", m.reconnectAttempt)
	m.postLocked(func() {
		if m.cfg.OnError != nil {
			m.cfg.OnError(err)
		}
	})
	m.setStateLocked(StateFailed)
	m.scheduleReconnectLocked(false)
}

func (m *Manager) resolveURL() (string, error) {
	if m.cfg.URLFunc != nil {
		u, err := m.cfg.URLFunc()
		if err != nil {
			return "", fmt.Errorf("resolve url: %w", err)
		}
		return u, nil
	}
	return m.cfg.URL, nil
}

// handlersFor binds transport events to generation gen. Events from any
// other generation belong to a detached transport and are dropped.
func (m *Manager) handlersFor(gen uint64) TransportHandlers {
	return TransportHandlers{
		OnOpen: func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			if m.gen == gen && m.socket != nil {
				m.onOpenLocked()
			}
		},
		OnMessage: func(msg Message) {
			m.mu.Lock()
			defer m.mu.Unlock()
			if m.gen == gen && m.socket != nil && m.cfg.OnMessage != nil {
				m.postLocked(func() { m.cfg.OnMessage(msg) })
			}
		},
		OnError: func(err error) {
			m.mu.Lock()
			defer m.mu.Unlock()
			if m.gen == gen && m.socket != nil {
				m.logger.Debug("transport error", "error", err)
				if m.cfg.OnError != nil {
					m.postLocked(func() { m.cfg.OnError(err) })
				}
			}
		},
		OnClose: func(ev CloseEvent) {
			m.mu.Lock()
			defer m.mu.Unlock()
			if m.gen == gen && m.socket != nil {
				m.onCloseLocked(ev)
			}
		},
	}
}

func (m *Manager) onOpenLocked() {
	m.setStateLocked(StateConnected)
	m.reconnectAttempt = 0
	m.lastConnectTime = m.clock.Now()
	m.opens++
	m.stopTimerLocked()

	m.logger.Info("connected", "queued", m.queue.Len())

	m.flushQueueLocked()

	if m.cfg.OnOpen != nil {
		m.postLocked(m.cfg.OnOpen)
	}
}

func (m *Manager) onCloseLocked(ev CloseEvent) {
	m.socket = nil
	m.gen++

	m.setStateLocked(StateDisconnected)
	if m.cfg.OnClose != nil {
		m.postLocked(func() { m.cfg.OnClose(ev) })
	}

	if m.disposed {
		return
	}

	if !m.cfg.ShouldReconnect(ev) {
		m.logger.Info("connection closed, not reconnecting", "code", ev.Code, "reason", ev.Reason)
		m.setStateLocked(StateFailed)
		return
	}

	authFailure := isAuthFailure(ev)
	m.logger.Info("connection closed",
		"code", ev.Code,
		"reason", ev.Reason,
		"clean", ev.WasClean,
		"auth_failure", authFailure,
	)
	m.scheduleReconnectLocked(authFailure)
}

// isAuthFailure reports whether a close looks like the session was rejected.
func isAuthFailure(ev CloseEvent) bool {
	if ev.Code == ClosePolicyViolation || ev.Code == CloseAbnormalClosure {
		return true
	}
	reason := strings.ToLower(ev.Reason)
	return strings.Contains(reason, "auth") || strings.Contains(reason, "unauthorized")
}

// Backoff returns the delay used for the given attempt, clamped at the last
// table entry.
func Backoff(table []time.Duration, attempt int) time.Duration {
	if len(table) == 0 {
		return 0
	}
	idx := min(attempt, len(table)-1)
	if idx < 0 {
		idx = 0
	}
	return table[idx]
}

func (m *Manager) scheduleReconnectLocked(forceRefresh bool) {
	if m.disposed || m.timer != nil {
		return
	}

	if m.reconnectAttempt >= m.cfg.MaxReconnectAttempts {
		m.logger.Error("max reconnect attempts reached", "attempts", m.reconnectAttempt)
		m.setStateLocked(StateFailed)
		return
	}

	delay := Backoff(m.cfg.ReconnectBackoff, m.reconnectAttempt)
	m.setStateLocked(StateReconnecting)

	rt := &reconnectTimer{forceRefresh: forceRefresh}
	rt.t = m.clock.AfterFunc(delay, func() { m.onReconnectTimer(rt) })
	m.timer = rt

	m.logger.Info("reconnect scheduled",
		"attempt", m.reconnectAttempt+1,
		"delay", delay,
		"force_refresh", forceRefresh,
	)
}

// onReconnectTimer runs when rt fires. It drops mu while the probe runs and
// gives up if the Manager was disposed or rt was cancelled in the meantime.
func (m *Manager) onReconnectTimer(rt *reconnectTimer) {
	m.mu.Lock()
	if m.disposed || m.timer != rt {
		m.mu.Unlock()
		return
	}

	m.reconnectAttempt++

	if m.readyStateLocked() == Open {
		m.setStateLocked(StateConnected)
		m.timer = nil
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	valid := m.refreshTokenIfNeeded(rt.forceRefresh)

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.disposed || m.timer != rt {
		return
	}
	m.timer = nil

	if !valid {
		m.logger.Error("credential check failed, giving up")
		m.setStateLocked(StateFailed)
		return
	}

	m.connectLocked()
}

// refreshTokenIfNeeded runs the credential probe unless a recent probe or a
// recent successful open makes it redundant. force skips both shortcuts.
func (m *Manager) refreshTokenIfNeeded(force bool) bool {
	if !m.cfg.RefreshTokenBeforeReconnect {
		return true
	}

	m.mu.Lock()
	now := m.clock.Now()
	if !force && now.Sub(m.lastRefreshAttempt) < m.cfg.RefreshThrottle {
		m.mu.Unlock()
		return true
	}
	if !force && now.Sub(m.lastConnectTime) < m.cfg.RecentConnectWindow {
		m.mu.Unlock()
		return true
	}
	m.lastRefreshAttempt = now
	m.mu.Unlock()

	if m.prober == nil {
		return true
	}

	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.ProbeTimeout)
	defer cancel()

	ok, err := m.prober.Check(ctx)
	if err != nil {
		m.logger.Warn("credential probe failed", "error", err)
		return false
	}
	if !ok {
		m.logger.Warn("credential probe rejected session")
	}
	return ok
}

func (m *Manager) enqueueLocked(msg Message) {
	if !m.queue.PushBack(msg) {
		m.logger.Warn("message queue full, dropped oldest", "capacity", m.cfg.QueueCapacity)
	}
}

// flushQueueLocked drains the queue in order while the transport stays open.
// A failed send is put back at the head and draining stops.
func (m *Manager) flushQueueLocked() {
	for m.queue.Len() > 0 && m.readyStateLocked() == Open {
		msg, _ := m.queue.PopFront()
		if err := m.socket.Send(msg); err != nil {
			m.logger.Warn("flush interrupted", "error", err, "remaining", m.queue.Len()+1)
			m.queue.PushFront(msg)
			return
		}
	}
}

func (m *Manager) stopTimerLocked() {
	if m.timer != nil {
		m.timer.t.Stop()
		m.timer = nil
	}
}

// cleanupLocked cancels the pending timer and detaches and closes the transport.
func (m *Manager) cleanupLocked() {
	m.stopTimerLocked()

	if m.socket == nil {
		return
	}
	t := m.socket
	m.socket = nil
	m.gen++

	if rs := t.ReadyState(); rs == Open || rs == Connecting {
		if err := t.Close(CloseNormalClosure, "Normal closure"); err != nil {
			m.logger.Warn("error closing socket", "error", err)
		}
	}
}

func (m *Manager) setStateLocked(s State) {
	if m.state == s {
		return
	}
	m.logger.Debug("state change", "from", m.state, "to", s)
	m.state = s
	if m.cfg.OnStateChange != nil {
		m.postLocked(func() { m.cfg.OnStateChange(s) })
	}
}

func (m *Manager) postLocked(fn func()) {
	m.events.post(fn)
}
