package gateway

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"loom/cmd/internal/chat"
	v1 "loom/shared/contracts/gateway/v1"

	"github.com/coder/websocket"
)

// fakeRealtimeServer speaks just enough of the gateway protocol to drive the
// client subscription: subscribe -> ack, then scripted change envelopes.
type fakeRealtimeServer struct {
	t     *testing.T
	subID string

	// changes to push after acking the subscribe.
	changes []v1.ChangePayload
}

func (f *fakeRealtimeServer) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			Subprotocols: []string{v1.Subprotocol},
		})
		if err != nil {
			f.t.Errorf("accept: %v", err)
			return
		}
		defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

		ctx := r.Context()

		env, err := readEnvelope(ctx, conn)
		if err != nil {
			f.t.Errorf("read subscribe: %v", err)
			return
		}
		if env.Type != v1.TypeSubscribe {
			f.t.Errorf("first envelope type=%q want=%q", env.Type, v1.TypeSubscribe)
			return
		}
		var sub v1.SubscribePayload
		if err := json.Unmarshal(env.Payload, &sub); err != nil {
			f.t.Errorf("subscribe payload: %v", err)
			return
		}
		if sub.Table != "messages" || sub.Filter["thread_id"] != "t1" {
			f.t.Errorf("subscribe payload=%+v", sub)
		}

		ackPayload, _ := json.Marshal(v1.SubscribeAckPayload{SubscriptionID: f.subID, Table: sub.Table})
		ack := newEnvelope(v1.TypeSubscribeAck, ackPayload, time.Now().UTC())
		if err := writeEnvelope(ctx, conn, ack, wsWriteTimeout); err != nil {
			f.t.Errorf("write ack: %v", err)
			return
		}

		for _, ch := range f.changes {
			p, _ := json.Marshal(ch)
			env := newEnvelope(v1.TypeChange, p, time.Now().UTC())
			if err := writeEnvelope(ctx, conn, env, wsWriteTimeout); err != nil {
				return
			}
		}

		// Serve until the client unsubscribes or drops the connection.
		for {
			env, err := readEnvelope(ctx, conn)
			if err != nil {
				return
			}
			if env.Type == v1.TypeUnsubscribe {
				return
			}
		}
	}
}

func rowJSON(t *testing.T, m chat.Message) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(m)
	if err != nil {
		t.Fatalf("marshal row: %v", err)
	}
	return b
}

func TestSubscribeMessagesDeliversChanges(t *testing.T) {
	t.Parallel()

	srv := &fakeRealtimeServer{
		t:     t,
		subID: "sub-1",
	}
	srv.changes = []v1.ChangePayload{
		{
			SubscriptionID: "sub-1", Table: "messages", Kind: v1.ChangeInsert,
			Row: rowJSON(t, chat.Message{ID: "m1", ThreadID: "t1", SenderID: "u2", Content: "hi", Kind: chat.KindText, Status: chat.StatusSent}),
		},
		{
			// Different table: must be skipped.
			SubscriptionID: "sub-1", Table: "threads", Kind: v1.ChangeUpdate,
			Row: rowJSON(t, chat.Message{ID: "t1"}),
		},
		{
			SubscriptionID: "sub-1", Table: "messages", Kind: v1.ChangeUpdate,
			Row: rowJSON(t, chat.Message{ID: "m1", ThreadID: "t1", Status: chat.StatusRead}),
		},
		{
			SubscriptionID: "sub-1", Table: "messages", Kind: v1.ChangeDelete,
			Row: rowJSON(t, chat.Message{ID: "m1"}),
		},
	}

	ts := httptest.NewServer(srv.handler())
	defer ts.Close()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	c, err := New(log, Config{BaseURL: ts.URL})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sub, err := c.SubscribeMessages(ctx, "t1")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer func() { _ = sub.Close() }()

	want := []struct {
		kind   chat.ChangeKind
		id     string
		status chat.Status
	}{
		{chat.ChangeInsert, "m1", chat.StatusSent},
		{chat.ChangeUpdate, "m1", chat.StatusRead},
		{chat.ChangeDelete, "m1", ""},
	}

	for i, w := range want {
		select {
		case ch, ok := <-sub.Events():
			if !ok {
				t.Fatalf("events closed before change %d", i)
			}
			if ch.Kind != w.kind || ch.Message.ID != w.id {
				t.Fatalf("change %d = %+v, want kind=%s id=%s", i, ch, w.kind, w.id)
			}
			if w.status != "" && ch.Message.Status != w.status {
				t.Fatalf("change %d status=%s want=%s", i, ch.Message.Status, w.status)
			}
		case <-ctx.Done():
			t.Fatalf("timeout waiting for change %d", i)
		}
	}
}

func TestSubscribeMessagesCloseClosesEvents(t *testing.T) {
	t.Parallel()

	srv := &fakeRealtimeServer{t: t, subID: "sub-1"}
	ts := httptest.NewServer(srv.handler())
	defer ts.Close()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	c, err := New(log, Config{BaseURL: ts.URL})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sub, err := c.SubscribeMessages(ctx, "t1")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	if err := sub.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	select {
	case _, ok := <-sub.Events():
		if ok {
			t.Fatalf("expected events channel to be drained/closed")
		}
	case <-ctx.Done():
		t.Fatalf("timeout waiting for events close")
	}
}

func TestSubscribeMessagesRejectedByGateway(t *testing.T) {
	t.Parallel()

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			Subprotocols: []string{v1.Subprotocol},
		})
		if err != nil {
			return
		}
		defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

		ctx := r.Context()
		if _, err := readEnvelope(ctx, conn); err != nil {
			return
		}
		p, _ := json.Marshal(v1.ErrorPayload{Code: "unauthorized", Message: "token required"})
		_ = writeEnvelope(ctx, conn, newEnvelope(v1.TypeError, p, time.Now().UTC()), wsWriteTimeout)
	}))
	defer ts.Close()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	c, err := New(log, Config{BaseURL: ts.URL})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := c.SubscribeMessages(ctx, "t1"); err == nil {
		t.Fatalf("expected subscribe rejection")
	}
}
