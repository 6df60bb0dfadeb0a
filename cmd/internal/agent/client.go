// Package agent is the client for the agent-processing endpoint. The
// synchronizer submits successful text sends here; the service extracts
// memories and may reply later through the persistence gateway.
package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"loom/cmd/internal/chat"
)

const (
	defaultTimeout      = 30 * time.Second
	maxResponseBytes    = 1 << 20
	processMessagePath  = "/process-message"
	headerAuthorization = "Authorization"
)

// Config contains agent service connection settings.
type Config struct {
	// BaseURL is the service root, e.g. "https://agents.example.com".
	BaseURL string
	// Token authorizes the calling user against the service.
	Token string

	Timeout time.Duration
}

// Client calls the agent-processing service. It implements chat.AgentSink.
type Client struct {
	log   *slog.Logger
	cfg   Config
	httpc *http.Client
}

// New validates cfg and constructs a Client.
func New(log *slog.Logger, cfg Config) (*Client, error) {
	if log == nil {
		log = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}

	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, errors.New("missing agent base url")
	}
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		return nil, fmt.Errorf("invalid agent base url: %q", cfg.BaseURL)
	}
	cfg.BaseURL = base

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &Client{
		log:   log,
		cfg:   cfg,
		httpc: &http.Client{Timeout: timeout},
	}, nil
}

// response is the service's reply. Success with an empty agentResponse means
// the message was ingested for memory extraction but no reply is coming.
type response struct {
	Success           bool   `json:"success"`
	AgentResponse     string `json:"agentResponse,omitempty"`
	MemoriesExtracted int    `json:"memoriesExtracted,omitempty"`
	Error             string `json:"error,omitempty"`
}

// ProcessMessage submits one message for agent processing. The reply, if any,
// is delivered out of band as a realtime insert; the return here only reports
// whether the submission was accepted.
func (c *Client) ProcessMessage(ctx context.Context, sub chat.AgentSubmission) error {
	if strings.TrimSpace(sub.Message) == "" {
		return errors.New("empty submission")
	}

	body, err := json.Marshal(sub)
	if err != nil {
		return fmt.Errorf("encode submission: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+processMessagePath, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.Token != "" {
		req.Header.Set(headerAuthorization, "Bearer "+c.cfg.Token)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("agent request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	b, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("read agent response: %w", err)
	}

	var out response
	if err := json.Unmarshal(b, &out); err != nil {
		return fmt.Errorf("decode agent response (http %d): %w", resp.StatusCode, err)
	}

	if resp.StatusCode/100 != 2 || !out.Success {
		msg := out.Error
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return fmt.Errorf("agent processing failed (http %d): %s", resp.StatusCode, msg)
	}

	c.log.Debug("agent.processed",
		"message_id", sub.MessageID,
		"memories", out.MemoriesExtracted,
		"replied", out.AgentResponse != "")
	return nil
}
