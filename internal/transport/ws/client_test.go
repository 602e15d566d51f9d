package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/status"
	"github.com/matheus3301/chatsync/internal/store"
	"github.com/matheus3301/chatsync/internal/transport"
)

// fakeServer speaks the chat socket protocol. respond, when set, answers
// each client frame.
type fakeServer struct {
	t       *testing.T
	reject  bool
	respond func(ctx context.Context, conn *websocket.Conn, env envelope)

	conns  atomic.Int32
	mu     sync.Mutex
	frames []envelope
	tokens []string
}

func (s *fakeServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.t.Error(err)
		return
	}
	defer conn.CloseNow()
	s.conns.Add(1)
	s.mu.Lock()
	s.tokens = append(s.tokens, r.URL.Query().Get("token"))
	s.mu.Unlock()

	ctx := r.Context()
	if s.reject {
		_ = conn.Write(ctx, websocket.MessageText, []byte(`{"type":"error","payload":{"message":"bad token"}}`))
		return
	}
	if err := conn.Write(ctx, websocket.MessageText, []byte(`{"type":"authenticated","payload":{"userId":"me"}}`)); err != nil {
		return
	}
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			s.t.Errorf("client sent malformed frame: %s", data)
			return
		}
		s.mu.Lock()
		s.frames = append(s.frames, env)
		s.mu.Unlock()
		if s.respond != nil {
			s.respond(ctx, conn, env)
		}
	}
}

func (s *fakeServer) frameTypes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.frames))
	for i, f := range s.frames {
		out[i] = f.Type
	}
	return out
}

func startClient(t *testing.T, s *fakeServer) (*Client, *bus.Bus, *status.Machine) {
	t.Helper()
	s.t = t
	srv := httptest.NewServer(s)
	t.Cleanup(srv.Close)

	b := bus.New()
	m := status.NewMachine(b)
	c := New(Config{
		URL:             "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws",
		Token:           "tok",
		AckTimeout:      500 * time.Millisecond,
		InitialInterval: 20 * time.Millisecond,
		MaxInterval:     50 * time.Millisecond,
		MaxElapsed:      200 * time.Millisecond,
	}, b, m, nil, nil)
	t.Cleanup(c.Stop)
	return c, b, m
}

func waitEvent(t *testing.T, ch <-chan bus.Event, kind string) bus.Event {
	t.Helper()
	timeout := time.After(3 * time.Second)
	for {
		select {
		case evt := <-ch:
			if evt.Kind == kind {
				return evt
			}
		case <-timeout:
			t.Fatalf("timeout waiting for %s", kind)
			return bus.Event{}
		}
	}
}

func writeJSON(ctx context.Context, conn *websocket.Conn, v any) {
	data, _ := json.Marshal(v)
	_ = conn.Write(ctx, websocket.MessageText, data)
}

func TestConnectAndJoin(t *testing.T) {
	s := &fakeServer{}
	c, b, m := startClient(t, s)
	events, unsub := b.Subscribe(bus.SocketPrefix, 16)
	defer unsub()

	if c.Connected() {
		t.Fatal("Connected() before Start")
	}
	c.Start(context.Background())
	waitEvent(t, events, bus.SocketConnected)

	if !c.Connected() || m.Current() != status.Connected {
		t.Fatalf("Connected() = %v, state = %s", c.Connected(), m.Current())
	}
	if err := c.Join(context.Background(), "c1"); err != nil {
		t.Fatal(err)
	}
	if err := c.Leave(context.Background(), "c1"); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for len(s.frameTypes()) < 2 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	got := s.frameTypes()
	if len(got) != 2 || got[0] != cmdJoin || got[1] != cmdLeave {
		t.Errorf("frames = %v, want [%s %s]", got, cmdJoin, cmdLeave)
	}
	s.mu.Lock()
	if s.tokens[0] != "tok" {
		t.Errorf("token = %q, want tok", s.tokens[0])
	}
	s.mu.Unlock()
}

func TestSendMessageAck(t *testing.T) {
	s := &fakeServer{respond: func(ctx context.Context, conn *websocket.Conn, env envelope) {
		if env.Type != cmdSend {
			return
		}
		var out transport.OutgoingMessage
		_ = json.Unmarshal(env.Payload, &out)
		if out.Content == "blocked" {
			writeJSON(ctx, conn, map[string]any{"type": "ack", "requestId": env.RequestID,
				"payload": map[string]any{"success": false, "error": "forbidden"}})
			return
		}
		writeJSON(ctx, conn, map[string]any{"type": "ack", "requestId": env.RequestID,
			"payload": map[string]any{"success": true, "message": map[string]any{
				"_id": "m1", "tempId": out.TempID, "conversationId": out.ConversationID, "content": out.Content,
			}}})
	}}
	c, b, _ := startClient(t, s)
	events, unsub := b.Subscribe(bus.SocketPrefix, 16)
	defer unsub()
	c.Start(context.Background())
	waitEvent(t, events, bus.SocketConnected)

	ack, err := c.SendMessage(context.Background(), transport.OutgoingMessage{ConversationID: "c1", TempID: "t1", Content: "hi", Type: store.TypeText})
	if err != nil {
		t.Fatal(err)
	}
	if !ack.Success || ack.Message == nil || ack.Message.ID != "m1" || ack.Message.TempID != "t1" {
		t.Errorf("ack = %+v", ack)
	}

	ack, err = c.SendMessage(context.Background(), transport.OutgoingMessage{ConversationID: "c1", TempID: "t2", Content: "blocked", Type: store.TypeText})
	if err != nil {
		t.Fatal(err)
	}
	if ack.Success || ack.Error != "forbidden" {
		t.Errorf("ack = %+v, want rejected with forbidden", ack)
	}
}

func TestSendMessageAckTimeout(t *testing.T) {
	s := &fakeServer{}
	c, b, _ := startClient(t, s)
	events, unsub := b.Subscribe(bus.SocketPrefix, 16)
	defer unsub()
	c.Start(context.Background())
	waitEvent(t, events, bus.SocketConnected)

	_, err := c.SendMessage(context.Background(), transport.OutgoingMessage{ConversationID: "c1", TempID: "t1", Content: "hi"})
	if !errors.Is(err, transport.ErrAckTimeout) {
		t.Fatalf("error = %v, want ErrAckTimeout", err)
	}
}

// Regression: a drop after message:send went out must not look like a
// socket that was never connected, or the caller resends over REST.
func TestConnectionLostBeforeAck(t *testing.T) {
	s := &fakeServer{respond: func(_ context.Context, conn *websocket.Conn, env envelope) {
		if env.Type == cmdSend {
			_ = conn.CloseNow()
		}
	}}
	c, b, _ := startClient(t, s)
	events, unsub := b.Subscribe(bus.SocketPrefix, 16)
	defer unsub()
	c.Start(context.Background())
	waitEvent(t, events, bus.SocketConnected)

	_, err := c.SendMessage(context.Background(), transport.OutgoingMessage{ConversationID: "c1", TempID: "t1", Content: "hi"})
	if !errors.Is(err, transport.ErrAckLost) {
		t.Fatalf("error = %v, want ErrAckLost", err)
	}
	if errors.Is(err, transport.ErrNotConnected) {
		t.Error("error also matches ErrNotConnected")
	}
	if got := s.frameTypes(); len(got) != 1 || got[0] != cmdSend {
		t.Errorf("frames = %v, want [%s]", got, cmdSend)
	}
}

func TestSendWhileDisconnected(t *testing.T) {
	c, _, _ := startClient(t, &fakeServer{})
	_, err := c.SendMessage(context.Background(), transport.OutgoingMessage{ConversationID: "c1"})
	if !errors.Is(err, transport.ErrNotConnected) {
		t.Fatalf("error = %v, want ErrNotConnected", err)
	}
	if err := c.Join(context.Background(), "c1"); !errors.Is(err, transport.ErrNotConnected) {
		t.Fatalf("Join() error = %v, want ErrNotConnected", err)
	}
}

func TestServerPushesReachBus(t *testing.T) {
	s := &fakeServer{respond: func(ctx context.Context, conn *websocket.Conn, env envelope) {
		if env.Type != cmdJoin {
			return
		}
		writeJSON(ctx, conn, map[string]any{"type": "message:new", "payload": map[string]any{
			"_id": "m7", "conversationId": "c1", "sender": map[string]any{"_id": "u2"}, "content": "hey"}})
		writeJSON(ctx, conn, map[string]any{"type": "message:edited", "payload": map[string]any{
			"_id": "m7", "conversationId": "c1", "content": "hey!"}})
		writeJSON(ctx, conn, map[string]any{"type": "message:deleted", "payload": map[string]any{
			"messageId": "m7", "conversationId": "c1"}})
	}}
	c, b, _ := startClient(t, s)
	events, unsub := b.Subscribe(bus.SocketPrefix, 16)
	defer unsub()
	c.Start(context.Background())
	waitEvent(t, events, bus.SocketConnected)
	if err := c.Join(context.Background(), "c1"); err != nil {
		t.Fatal(err)
	}

	evt := waitEvent(t, events, bus.SocketMessageNew)
	if m, ok := evt.Payload.(store.Message); !ok || m.ID != "m7" || m.SenderID != "u2" {
		t.Errorf("message_new payload = %#v", evt.Payload)
	}
	evt = waitEvent(t, events, bus.SocketMessageEdited)
	if m, ok := evt.Payload.(store.Message); !ok || m.Content != "hey!" {
		t.Errorf("message_edited payload = %#v", evt.Payload)
	}
	evt = waitEvent(t, events, bus.SocketMessageDeleted)
	if d, ok := evt.Payload.(transport.MessageDeleted); !ok || d.ID != "m7" || d.ConversationID != "c1" {
		t.Errorf("message_deleted payload = %#v", evt.Payload)
	}
}

func TestReconnectsAfterDrop(t *testing.T) {
	var dropped atomic.Bool
	s := &fakeServer{}
	s.respond = func(ctx context.Context, conn *websocket.Conn, env envelope) {
		if env.Type == cmdJoin && dropped.CompareAndSwap(false, true) {
			_ = conn.Close(websocket.StatusGoingAway, "restart")
		}
	}
	c, b, _ := startClient(t, s)
	events, unsub := b.Subscribe(bus.SocketPrefix, 16)
	defer unsub()
	c.Start(context.Background())
	waitEvent(t, events, bus.SocketConnected)

	if err := c.Join(context.Background(), "c1"); err != nil {
		t.Fatal(err)
	}
	waitEvent(t, events, bus.SocketDisconnected)
	waitEvent(t, events, bus.SocketConnected)
	if n := s.conns.Load(); n < 2 {
		t.Errorf("connections = %d, want at least 2", n)
	}
}

func TestRejectedHandshakeNeverConnects(t *testing.T) {
	s := &fakeServer{reject: true}
	c, b, m := startClient(t, s)
	states, unsub := b.Subscribe(bus.ConnectionPrefix, 64)
	defer unsub()
	c.Start(context.Background())

	timeout := time.After(3 * time.Second)
	for offline := false; !offline; {
		select {
		case evt := <-states:
			if ch, ok := evt.Payload.(status.StatusChange); ok && ch.To == status.Offline {
				offline = true
			}
		case <-timeout:
			t.Fatalf("state = %s, want OFFLINE after repeated rejections", m.Current())
		}
	}
	if c.Connected() {
		t.Error("Connected() = true after rejected handshake")
	}

	c.Stop()
	if m.Current() != status.Closed {
		t.Errorf("state after Stop = %s, want CLOSED", m.Current())
	}
}
