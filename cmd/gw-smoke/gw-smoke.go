// Package main provides a CI-friendly smoke test against a live persistence
// gateway.
//
// It validates:
//   - realtime handshake + subprotocol selection + subscribe ack
//   - REST send -> authoritative row
//   - realtime insert fanout for the sent message
//   - page fetch contains the sent message newest-first
//   - unsubscribe/close teardown
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"loom/cmd/internal/chat"
	"loom/cmd/internal/gateway"
)

func main() {
	var (
		gwURL    = flag.String("gateway", "http://127.0.0.1:8080", "Gateway base URL")
		apiKey   = flag.String("api-key", "", "Gateway API key")
		token    = flag.String("token", "", "User bearer token")
		threadID = flag.String("thread", "dev-thread-1", "Thread ID")
		userID   = flag.String("user", "dev-user-1", "Sender user ID")
		text     = flag.String("text", "hello loom", "Message text to send")
		timeout  = flag.Duration("timeout", 7*time.Second, "Per-step timeout")
		verbose  = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	logLevel := slog.LevelWarn
	if *verbose {
		logLevel = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))

	client, err := gateway.New(log, gateway.Config{
		BaseURL: *gwURL,
		APIKey:  *apiKey,
		Token:   *token,
	})
	if err != nil {
		fatalf("gateway client: %v", err)
	}

	root := context.Background()

	subCtx, cancel := context.WithTimeout(root, *timeout)
	sub, err := client.SubscribeMessages(subCtx, *threadID)
	cancel()
	if err != nil {
		fatalf("subscribe: %v", err)
	}
	defer func() { _ = sub.Close() }()

	if *verbose {
		fmt.Printf("subscribed: thread=%s\n", *threadID)
	}

	sendCtx, cancel := context.WithTimeout(root, *timeout)
	sent, err := client.SendMessage(sendCtx, chat.Draft{
		ThreadID: *threadID,
		SenderID: *userID,
		Content:  *text,
		Kind:     chat.KindText,
	})
	cancel()
	if err != nil {
		fatalf("send: %v", err)
	}
	if sent.ID == "" {
		fatalf("send: authoritative row missing id")
	}
	if sent.Status == chat.StatusPending {
		fatalf("send: gateway returned pending status for persisted row")
	}

	mustObserveInsert(root, sub, sent, *timeout)

	pageCtx, cancel := context.WithTimeout(root, *timeout)
	page, err := client.MessagesForThread(pageCtx, *threadID, 50, 0)
	cancel()
	if err != nil {
		fatalf("page fetch: %v", err)
	}
	mustContainMessage(page, sent)

	fmt.Printf("OK: thread=%s msg_id=%s status=%s page=%d\n", *threadID, sent.ID, sent.Status, len(page))
}

// mustObserveInsert drains the subscription until the sent row arrives as an
// insert. Unrelated traffic on a busy dev thread is skipped.
func mustObserveInsert(parent context.Context, sub chat.Subscription, want chat.Message, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			fatalf("timeout waiting for realtime insert of %s: %v", want.ID, ctx.Err())
		case ch, ok := <-sub.Events():
			if !ok {
				fatalf("subscription closed while waiting for insert of %s", want.ID)
			}
			if ch.Kind != chat.ChangeInsert || ch.Message.ID != want.ID {
				continue
			}
			if ch.Message.ThreadID != want.ThreadID {
				fatalf("insert thread mismatch: got=%q want=%q", ch.Message.ThreadID, want.ThreadID)
			}
			if ch.Message.Content != want.Content {
				fatalf("insert content mismatch: got=%q want=%q", ch.Message.Content, want.Content)
			}
			return
		}
	}
}

func mustContainMessage(page []chat.Message, want chat.Message) {
	for i, m := range page {
		if m.ID != want.ID {
			continue
		}
		// Newest-first: anything above the match must not be older.
		if i > 0 && page[i-1].CreatedAt.Before(m.CreatedAt) {
			fatalf("page order violation around %s", want.ID)
		}
		return
	}
	fatalf("page missing sent message %s", want.ID)
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
