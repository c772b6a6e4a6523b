package journal

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rickgao/meshlink/internal/connection"
)

// sessionHooks turns manager callbacks into journal events for one session.
type sessionHooks struct {
	w         *Writer
	sessionID uuid.UUID
	now       func() time.Time

	mu      sync.Mutex
	seq     int64
	state   connection.State
	attempt int
}

// Attach chains journal recording onto cfg's callbacks for sessionID.
// Existing callbacks still run, after the event is recorded. Pass the same
// sessionID to the Manager through connection.Deps.
func Attach(cfg *connection.ManagerConfig, w *Writer, sessionID uuid.UUID) {
	h := &sessionHooks{
		w:         w,
		sessionID: sessionID,
		now:       time.Now,
		state:     connection.StateDisconnected,
	}

	onState := cfg.OnStateChange
	cfg.OnStateChange = func(s connection.State) {
		h.onStateChange(s)
		if onState != nil {
			onState(s)
		}
	}

	onOpen := cfg.OnOpen
	cfg.OnOpen = func() {
		h.record(KindOpen, 0, "")
		if onOpen != nil {
			onOpen()
		}
	}

	onClose := cfg.OnClose
	cfg.OnClose = func(ev connection.CloseEvent) {
		h.record(KindClose, ev.Code, ev.Reason)
		if onClose != nil {
			onClose(ev)
		}
	}

	onError := cfg.OnError
	cfg.OnError = func(err error) {
		h.record(KindError, 0, err.Error())
		if onError != nil {
			onError(err)
		}
	}
}

func (h *sessionHooks) onStateChange(s connection.State) {
	h.mu.Lock()
	h.state = s
	switch s {
	case connection.StateReconnecting:
		h.attempt++
	case connection.StateConnected:
		h.attempt = 0
	}
	h.mu.Unlock()

	h.record(KindState, 0, "")
}

func (h *sessionHooks) record(kind Kind, code int, reason string) {
	h.mu.Lock()
	h.seq++
	ev := Event{
		SessionID: h.sessionID,
		Seq:       h.seq,
		At:        h.now(),
		Kind:      kind,
		State:     string(h.state),
		Attempt:   h.attempt,
		CloseCode: code,
		Reason:    reason,
	}
	h.mu.Unlock()

	h.w.Record(ev)
}
