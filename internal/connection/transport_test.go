package connection

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// mockWSServer creates a test WebSocket server.
func mockWSServer(t *testing.T, handler func(*websocket.Conn)) *httptest.Server {
	upgrader := websocket.Upgrader{
		CheckOrigin:  func(r *http.Request) bool { return true },
		Subprotocols: []string{"mesh.v1"},
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("upgrade error: %v", err)
			return
		}
		defer conn.Close()
		handler(conn)
	}))

	return server
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

// transportEvents records handler callbacks.
type transportEvents struct {
	opened   chan struct{}
	messages chan Message
	closed   chan CloseEvent

	mu     sync.Mutex
	errors []error
}

func newTransportEvents() *transportEvents {
	return &transportEvents{
		opened:   make(chan struct{}, 1),
		messages: make(chan Message, 100),
		closed:   make(chan CloseEvent, 1),
	}
}

func (e *transportEvents) handlers() TransportHandlers {
	return TransportHandlers{
		OnOpen:    func() { e.opened <- struct{}{} },
		OnMessage: func(msg Message) { e.messages <- msg },
		OnError: func(err error) {
			e.mu.Lock()
			e.errors = append(e.errors, err)
			e.mu.Unlock()
		},
		OnClose: func(ev CloseEvent) { e.closed <- ev },
	}
}

func (e *transportEvents) waitOpen(t *testing.T) {
	t.Helper()
	select {
	case <-e.opened:
	case ev := <-e.closed:
		t.Fatalf("closed before open: %+v", ev)
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for open")
	}
}

func (e *transportEvents) waitClose(t *testing.T) CloseEvent {
	t.Helper()
	select {
	case ev := <-e.closed:
		return ev
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for close")
		return CloseEvent{}
	}
}

func testDialer() Dialer {
	return NewDialer(TransportConfig{
		HandshakeTimeout: 2 * time.Second,
		PingInterval:     time.Hour,
		PingTimeout:      2 * time.Hour,
		WriteTimeout:     time.Second,
		CloseGrace:       500 * time.Millisecond,
	}, nil)
}

func TestTransport_Open(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn) {
		// Just keep the connection open
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer server.Close()

	ev := newTransportEvents()
	tr, err := testDialer().Dial(wsURL(server), DialOptions{Protocols: []string{"mesh.v1"}}, ev.handlers())
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	if tr.ReadyState() != Connecting && tr.ReadyState() != Open {
		t.Errorf("ReadyState = %v, want CONNECTING or OPEN", tr.ReadyState())
	}

	ev.waitOpen(t)
	if tr.ReadyState() != Open {
		t.Errorf("ReadyState = %v, want OPEN", tr.ReadyState())
	}

	if err := tr.Close(CloseNormalClosure, "bye"); err != nil {
		t.Errorf("Close failed: %v", err)
	}
	closeEv := ev.waitClose(t)
	if closeEv.Code != CloseNormalClosure || !closeEv.WasClean {
		t.Errorf("close event = %+v, want clean 1000", closeEv)
	}
	if tr.ReadyState() != Closed {
		t.Errorf("ReadyState = %v, want CLOSED", tr.ReadyState())
	}
}

func TestTransport_InvalidURL(t *testing.T) {
	tests := []string{
		"http://example.com/relay",
		"://bad",
		"ws://",
	}

	for _, raw := range tests {
		t.Run(raw, func(t *testing.T) {
			_, err := testDialer().Dial(raw, DialOptions{}, TransportHandlers{})
			if !errors.Is(err, ErrInvalidURL) {
				t.Errorf("Dial(%q) error = %v, want ErrInvalidURL", raw, err)
			}
		})
	}
}

func TestTransport_SendAndReceive(t *testing.T) {
	var received []string
	var mu sync.Mutex

	server := mockWSServer(t, func(conn *websocket.Conn) {
		for {
			mt, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			mu.Lock()
			received = append(received, string(msg))
			mu.Unlock()
			// Echo back
			if err := conn.WriteMessage(mt, msg); err != nil {
				return
			}
		}
	})
	defer server.Close()

	ev := newTransportEvents()
	tr, err := testDialer().Dial(wsURL(server), DialOptions{}, ev.handlers())
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer tr.Close(CloseNormalClosure, "")
	ev.waitOpen(t)

	if err := tr.Send(Text(`{"action":"ping"}`)); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if err := tr.Send(Binary([]byte{0x01, 0x02})); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	want := []Message{Text(`{"action":"ping"}`), Binary([]byte{0x01, 0x02})}
	for i, w := range want {
		select {
		case got := <-ev.messages:
			if got.Type != w.Type || string(got.Data) != string(w.Data) {
				t.Errorf("message %d = %+v, want %+v", i, got, w)
			}
		case <-time.After(time.Second):
			t.Fatalf("timeout waiting for message %d", i)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if len(received) != 2 {
		t.Errorf("server received %d messages, want 2", len(received))
	}
}

func TestTransport_BinaryText(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn) {
		conn.WriteMessage(websocket.BinaryMessage, []byte("hello"))
		time.Sleep(time.Second)
	})
	defer server.Close()

	ev := newTransportEvents()
	tr, err := testDialer().Dial(wsURL(server), DialOptions{BinaryType: BinaryText}, ev.handlers())
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer tr.Close(CloseNormalClosure, "")

	select {
	case msg := <-ev.messages:
		if msg.Type != TextMessage {
			t.Errorf("Type = %v, want TextMessage", msg.Type)
		}
		if string(msg.Data) != "hello" {
			t.Errorf("Data = %q, want hello", msg.Data)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message")
	}
}

func TestTransport_SendNotConnected(t *testing.T) {
	tr := &wsTransport{state: Connecting}

	if err := tr.Send(Text("test")); err != ErrNotConnected {
		t.Errorf("expected ErrNotConnected, got %v", err)
	}
}

func TestTransport_ServerClose(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn) {
		conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(CloseUnauthorized, "token expired"),
			time.Now().Add(time.Second),
		)
		time.Sleep(200 * time.Millisecond)
	})
	defer server.Close()

	ev := newTransportEvents()
	if _, err := testDialer().Dial(wsURL(server), DialOptions{}, ev.handlers()); err != nil {
		t.Fatalf("Dial failed: %v", err)
	}

	closeEv := ev.waitClose(t)
	if closeEv.Code != CloseUnauthorized {
		t.Errorf("Code = %d, want %d", closeEv.Code, CloseUnauthorized)
	}
	if closeEv.Reason != "token expired" {
		t.Errorf("Reason = %q, want %q", closeEv.Reason, "token expired")
	}
	if !closeEv.WasClean {
		t.Error("expected clean close")
	}
}

func TestTransport_AbnormalClose(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn) {
		// Drop the TCP connection without a close frame
		conn.UnderlyingConn().Close()
	})
	defer server.Close()

	ev := newTransportEvents()
	if _, err := testDialer().Dial(wsURL(server), DialOptions{}, ev.handlers()); err != nil {
		t.Fatalf("Dial failed: %v", err)
	}

	closeEv := ev.waitClose(t)
	if closeEv.Code != CloseAbnormalClosure {
		t.Errorf("Code = %d, want %d", closeEv.Code, CloseAbnormalClosure)
	}
	if closeEv.WasClean {
		t.Error("expected unclean close")
	}
}

func TestTransport_HandshakeUnauthorized(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no session", http.StatusUnauthorized)
	}))
	defer server.Close()

	ev := newTransportEvents()
	if _, err := testDialer().Dial(wsURL(server), DialOptions{}, ev.handlers()); err != nil {
		t.Fatalf("Dial failed: %v", err)
	}

	closeEv := ev.waitClose(t)
	if closeEv.Code != CloseAbnormalClosure {
		t.Errorf("Code = %d, want %d", closeEv.Code, CloseAbnormalClosure)
	}
	if closeEv.Reason != "unauthorized" {
		t.Errorf("Reason = %q, want unauthorized", closeEv.Reason)
	}

	ev.mu.Lock()
	defer ev.mu.Unlock()
	if len(ev.errors) != 1 {
		t.Errorf("got %d errors, want 1", len(ev.errors))
	}
}

func TestTransport_CloseWhileConnecting(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer server.Close()
	defer close(release)

	ev := newTransportEvents()
	tr, err := testDialer().Dial(wsURL(server), DialOptions{}, ev.handlers())
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}

	if err := tr.Close(CloseNormalClosure, ""); err != nil {
		t.Errorf("Close failed: %v", err)
	}

	closeEv := ev.waitClose(t)
	if closeEv.Code != CloseAbnormalClosure {
		t.Errorf("Code = %d, want %d", closeEv.Code, CloseAbnormalClosure)
	}
	if tr.ReadyState() != Closed {
		t.Errorf("ReadyState = %v, want CLOSED", tr.ReadyState())
	}
}

func TestTransport_PingHandler(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn) {
		// Send ping
		if err := conn.WriteControl(websocket.PingMessage, []byte("heartbeat"), time.Now().Add(time.Second)); err != nil {
			t.Logf("ping error: %v", err)
			return
		}
		time.Sleep(500 * time.Millisecond)
	})
	defer server.Close()

	ev := newTransportEvents()
	tr, err := testDialer().Dial(wsURL(server), DialOptions{}, ev.handlers())
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer tr.Close(CloseNormalClosure, "")
	ev.waitOpen(t)

	// Give time for ping to be processed
	time.Sleep(200 * time.Millisecond)

	if tr.ReadyState() != Open {
		t.Error("expected transport to be open after ping")
	}
}

func TestDefaultTransportConfig(t *testing.T) {
	cfg := DefaultTransportConfig()
	if cfg.HandshakeTimeout != 10*time.Second {
		t.Errorf("HandshakeTimeout = %v, want 10s", cfg.HandshakeTimeout)
	}
	if cfg.PingTimeout != 60*time.Second {
		t.Errorf("PingTimeout = %v, want 60s", cfg.PingTimeout)
	}
}
