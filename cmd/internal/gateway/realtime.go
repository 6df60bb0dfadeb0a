package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"loom/cmd/internal/chat"
	v1 "loom/shared/contracts/gateway/v1"

	"github.com/coder/websocket"
	"github.com/oklog/ulid/v2"
)

const (
	messagesTable = "messages"

	wsWriteTimeout    = 5 * time.Second
	wsReadIdleTimeout = 2 * time.Minute
	wsAckTimeout      = 10 * time.Second
	wsCloseGrace      = 1 * time.Second

	wsHeartbeatInterval = 25 * time.Second
	wsHeartbeatTimeout  = 5 * time.Second
	wsMaxPingFailures   = 3

	maxFrameBytes = 1 << 20

	eventBuffer = 64
)

// SubscribeMessages opens a realtime subscription for row changes on the
// messages table filtered to one thread. The returned subscription outlives
// ctx: ctx only bounds the dial and the subscribe handshake.
func (c *Client) SubscribeMessages(ctx context.Context, threadID string) (chat.Subscription, error) {
	if strings.TrimSpace(threadID) == "" {
		return nil, errors.New("missing thread id")
	}

	wsURL, err := c.realtimeURL()
	if err != nil {
		return nil, err
	}

	hdr := http.Header{}
	if c.cfg.APIKey != "" {
		hdr.Set("X-Api-Key", c.cfg.APIKey)
	}
	if c.cfg.Token != "" {
		hdr.Set("Authorization", "Bearer "+c.cfg.Token)
	}

	conn, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		Subprotocols: []string{v1.Subprotocol},
		HTTPHeader:   hdr,
	})
	if err != nil {
		return nil, fmt.Errorf("dial realtime: %w", err)
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	if sp := conn.Subprotocol(); sp != v1.Subprotocol {
		_ = conn.Close(websocket.StatusProtocolError, "subprotocol required")
		return nil, fmt.Errorf("gateway negotiated subprotocol %q, want %q", sp, v1.Subprotocol)
	}

	conn.SetReadLimit(maxFrameBytes)

	subID, err := c.subscribeHandshake(ctx, conn, threadID)
	if err != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "handshake failed")
		return nil, err
	}

	// Detach from the dial context so the subscription keeps running after
	// Open returns.
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	sub := &subscription{
		c:      c,
		conn:   conn,
		subID:  subID,
		events: make(chan chat.Change, eventBuffer),
		ctx:    runCtx,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	go sub.readLoop()
	go sub.heartbeat()

	c.log.Info("realtime.subscribed", "thread_id", threadID, "subscription_id", subID)
	return sub, nil
}

func (c *Client) realtimeURL() (string, error) {
	scheme := "wss"
	if c.base.Scheme == "http" {
		scheme = "ws"
	}
	return scheme + "://" + c.base.Host + "/v1/realtime", nil
}

// subscribeHandshake sends the subscribe request and waits for its ack,
// skipping unrelated frames that may already be in flight.
func (c *Client) subscribeHandshake(ctx context.Context, conn *websocket.Conn, threadID string) (string, error) {
	payload, err := json.Marshal(v1.SubscribePayload{
		Table:  messagesTable,
		Filter: map[string]string{"thread_id": threadID},
	})
	if err != nil {
		return "", err
	}

	req := newEnvelope(v1.TypeSubscribe, payload, time.Now().UTC())
	if err := writeEnvelope(ctx, conn, req, wsWriteTimeout); err != nil {
		return "", fmt.Errorf("send subscribe: %w", err)
	}

	ackCtx, cancel := context.WithTimeout(ctx, wsAckTimeout)
	defer cancel()

	for {
		env, err := readEnvelope(ackCtx, conn)
		if err != nil {
			return "", fmt.Errorf("await subscribe ack: %w", err)
		}
		if err := env.Validate(); err != nil {
			return "", fmt.Errorf("invalid envelope: %w", err)
		}

		switch env.Type {
		case v1.TypeSubscribeAck:
			var ack v1.SubscribeAckPayload
			if err := json.Unmarshal(env.Payload, &ack); err != nil {
				return "", fmt.Errorf("invalid subscribe ack: %w", err)
			}
			if strings.TrimSpace(ack.SubscriptionID) == "" {
				return "", errors.New("subscribe ack missing subscription id")
			}
			return ack.SubscriptionID, nil

		case v1.TypeError:
			var p v1.ErrorPayload
			_ = json.Unmarshal(env.Payload, &p)
			return "", fmt.Errorf("gateway rejected subscribe: %s (%s)", p.Message, p.Code)

		default:
			// A change for another subscription on a shared connection;
			// nothing to do during the handshake.
		}
	}
}

// subscription is a live change feed for one thread. It implements
// chat.Subscription: Events delivers changes until Close (or a fatal read
// error) closes the channel.
type subscription struct {
	c     *Client
	conn  *websocket.Conn
	subID string

	events chan chat.Change

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	closeOnce sync.Once
}

func (s *subscription) Events() <-chan chat.Change { return s.events }

// Close releases the subscription and tears the connection down. The events
// channel is closed once the read loop exits.
func (s *subscription) Close() error {
	s.closeOnce.Do(func() {
		// Best-effort unsubscribe so the gateway drops server-side state.
		payload, err := json.Marshal(v1.UnsubscribePayload{SubscriptionID: s.subID})
		if err == nil {
			env := newEnvelope(v1.TypeUnsubscribe, payload, time.Now().UTC())
			_ = writeEnvelope(s.ctx, s.conn, env, wsWriteTimeout)
		}

		s.cancel()
		_ = s.conn.Close(websocket.StatusNormalClosure, "bye")
	})

	select {
	case <-s.done:
	case <-time.After(wsCloseGrace):
	}
	return nil
}

func (s *subscription) readLoop() {
	defer close(s.events)
	defer close(s.done)
	defer s.cancel()

	for {
		readCtx, readCancel := context.WithTimeout(s.ctx, wsReadIdleTimeout)
		env, err := readEnvelope(readCtx, s.conn)
		readCancel()

		if err != nil {
			switch classifyReadErr(err) {
			case readErrClose, readErrCtxDone, readErrConnClosed:
				return
			case readErrBadJSON:
				s.c.log.Info("realtime.read.badjson", "subscription_id", s.subID, "err", err)
				continue
			default:
				s.c.log.Info("realtime.read.fail", "subscription_id", s.subID, "err", err)
				return
			}
		}

		if err := env.Validate(); err != nil {
			s.c.log.Info("realtime.envelope.invalid", "subscription_id", s.subID, "err", err)
			continue
		}

		switch env.Type {
		case v1.TypeChange:
			ch, ok := s.decodeChange(env)
			if !ok {
				continue
			}
			select {
			case s.events <- ch:
			case <-s.ctx.Done():
				return
			}

		case v1.TypeError:
			var p v1.ErrorPayload
			_ = json.Unmarshal(env.Payload, &p)
			s.c.log.Info("realtime.gateway.error", "subscription_id", s.subID, "code", p.Code, "msg", p.Message)

		default:
			// Acks for other subscriptions on the same connection.
		}
	}
}

func (s *subscription) decodeChange(env v1.Envelope) (chat.Change, bool) {
	var p v1.ChangePayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		s.c.log.Info("realtime.change.invalid", "subscription_id", s.subID, "err", err)
		return chat.Change{}, false
	}
	if p.SubscriptionID != "" && p.SubscriptionID != s.subID {
		return chat.Change{}, false
	}
	if p.Table != messagesTable {
		return chat.Change{}, false
	}

	var kind chat.ChangeKind
	switch p.Kind {
	case v1.ChangeInsert:
		kind = chat.ChangeInsert
	case v1.ChangeUpdate:
		kind = chat.ChangeUpdate
	case v1.ChangeDelete:
		kind = chat.ChangeDelete
	default:
		s.c.log.Info("realtime.change.unknown_kind", "subscription_id", s.subID, "kind", p.Kind)
		return chat.Change{}, false
	}

	var msg chat.Message
	if err := json.Unmarshal(p.Row, &msg); err != nil {
		s.c.log.Info("realtime.change.badrow", "subscription_id", s.subID, "err", err)
		return chat.Change{}, false
	}
	if msg.ID == "" {
		return chat.Change{}, false
	}

	return chat.Change{Kind: kind, Message: msg}, true
}

func (s *subscription) heartbeat() {
	t := time.NewTicker(wsHeartbeatInterval)
	defer t.Stop()

	failures := 0
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-t.C:
			hbCtx, hbCancel := context.WithTimeout(s.ctx, wsHeartbeatTimeout)
			err := s.conn.Ping(hbCtx)
			hbCancel()

			if err != nil {
				failures++
				s.c.log.Info("realtime.ping.fail", "subscription_id", s.subID, "failures", failures, "err", err)
				if failures >= wsMaxPingFailures {
					s.cancel()
					_ = s.conn.Close(websocket.StatusGoingAway, "heartbeat failed")
					return
				}
				continue
			}
			failures = 0
		}
	}
}

// ---- envelope IO ----

func newEnvelope(typ string, payload json.RawMessage, ts time.Time) v1.Envelope {
	return v1.Envelope{
		V:       v1.Version,
		Type:    typ,
		ID:      ulid.Make().String(),
		TS:      ts,
		Payload: payload,
	}
}

func readEnvelope(ctx context.Context, conn *websocket.Conn) (v1.Envelope, error) {
	mt, data, err := conn.Read(ctx)
	if err != nil {
		return v1.Envelope{}, err
	}
	if mt != websocket.MessageText && mt != websocket.MessageBinary {
		return v1.Envelope{}, fmt.Errorf("unsupported message type: %v", mt)
	}
	var env v1.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return v1.Envelope{}, err
	}
	return env, nil
}

func writeEnvelope(parent context.Context, conn *websocket.Conn, env v1.Envelope, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, b)
}

// ---- read error classification ----

type readErrKind uint8

const (
	readErrUnknown readErrKind = iota
	readErrClose
	readErrCtxDone
	readErrConnClosed
	readErrBadJSON
)

func classifyReadErr(err error) readErrKind {
	if websocket.CloseStatus(err) != -1 {
		return readErrClose
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return readErrCtxDone
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) {
		return readErrConnClosed
	}

	// json.Unmarshal errors surface here through readEnvelope, not conn.Read.
	s := err.Error()
	if strings.Contains(s, "unexpected end of JSON input") || strings.Contains(s, "invalid character") {
		return readErrBadJSON
	}
	return readErrUnknown
}
