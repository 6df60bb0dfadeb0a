package agent

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"loom/cmd/internal/chat"
)

func testClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	c, err := New(log, Config{BaseURL: srv.URL, Token: "tok-1"})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return c
}

func TestNewValidatesConfig(t *testing.T) {
	t.Parallel()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	if _, err := New(log, Config{}); err == nil {
		t.Fatalf("expected error for missing base url")
	}
	if _, err := New(log, Config{BaseURL: "gopher://x"}); err == nil {
		t.Fatalf("expected error for bad scheme")
	}
	if _, err := New(log, Config{BaseURL: "https://agents.example.com/"}); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
}

func TestProcessMessage(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/process-message" {
			t.Errorf("%s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer tok-1" {
			t.Errorf("auth=%q", r.Header.Get("Authorization"))
		}

		var sub chat.AgentSubmission
		if err := json.NewDecoder(r.Body).Decode(&sub); err != nil {
			t.Errorf("decode submission: %v", err)
		}
		if sub.Message != "remember this" || sub.ThreadID != "t1" || sub.MessageID != "srv-1" {
			t.Errorf("submission=%+v", sub)
		}
		if !sub.Settings.Enabled || sub.Settings.AgentID != "agent-1" {
			t.Errorf("settings=%+v", sub.Settings)
		}

		_, _ = w.Write([]byte(`{"success":true,"agentResponse":"noted","memoriesExtracted":2}`))
	}))
	defer srv.Close()

	c := testClient(t, srv)
	err := c.ProcessMessage(context.Background(), chat.AgentSubmission{
		Message:   "remember this",
		ThreadID:  "t1",
		SenderID:  "u1",
		MessageID: "srv-1",
		Settings:  chat.AgentSettings{AgentID: "agent-1", Enabled: true},
	})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
}

func TestProcessMessageServiceFailure(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		status int
		body   string
	}{
		{name: "declared_failure", status: http.StatusOK, body: `{"success":false,"error":"model overloaded"}`},
		{name: "http_error", status: http.StatusBadGateway, body: `{"success":false,"error":"upstream"}`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			c := testClient(t, srv)
			err := c.ProcessMessage(context.Background(), chat.AgentSubmission{Message: "x"})
			if err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestProcessMessageRejectsEmpty(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("empty submission reached the service")
	}))
	defer srv.Close()

	c := testClient(t, srv)
	if err := c.ProcessMessage(context.Background(), chat.AgentSubmission{}); err == nil {
		t.Fatalf("expected error for empty submission")
	}
}
