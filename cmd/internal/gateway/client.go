// Package gateway is the client for the hosted persistence gateway: row-level
// CRUD and typed thread/message operations over HTTP, and a realtime change
// subscription over WebSocket.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"loom/cmd/internal/chat"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

const (
	defaultHTTPTimeout = 15 * time.Second

	// Request pacing: the gateway throttles aggressively, so the client
	// self-limits instead of burning its quota on 429s.
	defaultRateEvents = 20
	defaultRateBurst  = 40

	maxErrorBodyBytes = 8 << 10
)

// Config contains gateway connection settings.
type Config struct {
	// BaseURL is the gateway's HTTP root, e.g. "https://gw.example.com".
	BaseURL string
	// APIKey identifies the client application.
	APIKey string
	// Token is the user's bearer token issued by the gateway's auth service.
	Token string

	HTTPTimeout time.Duration

	// Requests per second and burst for client-side pacing.
	RateEvents int
	RateBurst  int
}

// Client talks to the persistence gateway. It implements chat.Gateway.
type Client struct {
	log     *slog.Logger
	cfg     Config
	base    *url.URL
	httpc   *http.Client
	limiter *rate.Limiter
}

// New validates cfg and constructs a Client.
func New(log *slog.Logger, cfg Config) (*Client, error) {
	if log == nil {
		log = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}

	base, err := url.Parse(strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid gateway base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("unsupported gateway scheme: %q", base.Scheme)
	}
	if strings.TrimSpace(base.Host) == "" {
		return nil, errors.New("gateway base url missing host")
	}

	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	events := cfg.RateEvents
	if events <= 0 {
		events = defaultRateEvents
	}
	burst := cfg.RateBurst
	if burst <= 0 {
		burst = defaultRateBurst
	}

	return &Client{
		log:     log,
		cfg:     cfg,
		base:    base,
		httpc:   &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(rate.Limit(events), burst),
	}, nil
}

// APIError is a non-2xx gateway response decoded into its error body.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("gateway: %s (%s, http %d)", e.Message, e.Code, e.Status)
	}
	return fmt.Sprintf("gateway: http %d", e.Status)
}

// ---- typed message operations (chat.Gateway) ----

// MessagesForThread returns one page ordered newest-first.
func (c *Client) MessagesForThread(ctx context.Context, threadID string, limit, offset int) ([]chat.Message, error) {
	if strings.TrimSpace(threadID) == "" {
		return nil, errors.New("missing thread id")
	}

	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	q.Set("offset", strconv.Itoa(offset))

	var out []chat.Message
	if err := c.doJSON(ctx, http.MethodGet, "/v1/threads/"+url.PathEscape(threadID)+"/messages", q, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SendMessage persists a draft and returns the authoritative row.
func (c *Client) SendMessage(ctx context.Context, d chat.Draft) (chat.Message, error) {
	if strings.TrimSpace(d.ThreadID) == "" || strings.TrimSpace(d.SenderID) == "" {
		return chat.Message{}, errors.New("draft missing thread or sender id")
	}

	var out chat.Message
	err := c.doJSON(ctx, http.MethodPost, "/v1/threads/"+url.PathEscape(d.ThreadID)+"/messages", nil, d, &out)
	if err != nil {
		return chat.Message{}, err
	}
	return out, nil
}

// MarkRead records read receipts. messageIDs nil means "everything unread".
func (c *Client) MarkRead(ctx context.Context, threadID, userID string, messageIDs []string) error {
	body := struct {
		UserID     string   `json:"user_id"`
		MessageIDs []string `json:"message_ids,omitempty"`
	}{UserID: userID, MessageIDs: messageIDs}

	return c.doJSON(ctx, http.MethodPost, "/v1/threads/"+url.PathEscape(threadID)+"/read", nil, body, nil)
}

// UploadAttachment stores an artifact and returns its remote URL.
func (c *Client) UploadAttachment(ctx context.Context, threadID, filename string, data []byte) (string, error) {
	if len(data) == 0 {
		return "", errors.New("empty attachment")
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		return "", err
	}
	if _, err := part.Write(data); err != nil {
		return "", err
	}
	if err := w.Close(); err != nil {
		return "", err
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.base.String()+"/v1/threads/"+url.PathEscape(threadID)+"/attachments", &buf)
	if err != nil {
		return "", err
	}
	c.setAuthHeaders(req)
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := c.httpc.Do(req)
	if err != nil {
		return "", fmt.Errorf("upload attachment: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode/100 != 2 {
		return "", decodeAPIError(resp)
	}

	var out struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode attachment response: %w", err)
	}
	if strings.TrimSpace(out.URL) == "" {
		return "", errors.New("attachment response missing url")
	}
	return out.URL, nil
}

// ---- thread directory ----

// CreateThread creates a thread; kind is fixed at creation.
func (c *Client) CreateThread(ctx context.Context, kind chat.ThreadKind, participantIDs []string) (chat.Thread, error) {
	body := struct {
		Kind         chat.ThreadKind `json:"kind"`
		Participants []string        `json:"participant_ids"`
	}{Kind: kind, Participants: participantIDs}

	var out chat.Thread
	if err := c.doJSON(ctx, http.MethodPost, "/v1/threads", nil, body, &out); err != nil {
		return chat.Thread{}, err
	}
	return out, nil
}

// Thread fetches one thread row with its participant set.
func (c *Client) Thread(ctx context.Context, threadID string) (chat.Thread, error) {
	var out chat.Thread
	if err := c.doJSON(ctx, http.MethodGet, "/v1/threads/"+url.PathEscape(threadID), nil, nil, &out); err != nil {
		return chat.Thread{}, err
	}
	return out, nil
}

// ThreadsForUser lists the threads a user participates in.
func (c *Client) ThreadsForUser(ctx context.Context, userID string) ([]chat.Thread, error) {
	q := url.Values{}
	q.Set("user_id", userID)

	var out []chat.Thread
	if err := c.doJSON(ctx, http.MethodGet, "/v1/threads", q, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// AddParticipant adds a member to a thread.
func (c *Client) AddParticipant(ctx context.Context, threadID string, p chat.Participant) error {
	return c.doJSON(ctx, http.MethodPost, "/v1/threads/"+url.PathEscape(threadID)+"/participants", nil, p, nil)
}

// RemoveParticipant removes a member from a thread.
func (c *Client) RemoveParticipant(ctx context.Context, threadID, userID string) error {
	return c.doJSON(ctx, http.MethodDelete,
		"/v1/threads/"+url.PathEscape(threadID)+"/participants/"+url.PathEscape(userID), nil, nil, nil)
}

// SetActiveAgent enables or disables agent participation for a thread.
func (c *Client) SetActiveAgent(ctx context.Context, threadID string, settings chat.AgentSettings) error {
	return c.doJSON(ctx, http.MethodPatch, "/v1/threads/"+url.PathEscape(threadID)+"/agent", nil, settings, nil)
}

// ---- generic row operations ----

// FetchRows queries a table with a JSON filter and returns matching rows.
func (c *Client) FetchRows(ctx context.Context, table string, filter map[string]any) ([]json.RawMessage, error) {
	q, err := filterQuery(filter)
	if err != nil {
		return nil, err
	}

	var out []json.RawMessage
	if err := c.doJSON(ctx, http.MethodGet, "/v1/tables/"+url.PathEscape(table)+"/rows", q, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// InsertRow inserts a record and decodes the authoritative row into out.
func (c *Client) InsertRow(ctx context.Context, table string, record, out any) error {
	return c.doJSON(ctx, http.MethodPost, "/v1/tables/"+url.PathEscape(table)+"/rows", nil, record, out)
}

// UpdateRows applies a partial patch to rows matching the filter and decodes
// the updated rows into out.
func (c *Client) UpdateRows(ctx context.Context, table string, patch any, filter map[string]any, out any) error {
	q, err := filterQuery(filter)
	if err != nil {
		return err
	}
	return c.doJSON(ctx, http.MethodPatch, "/v1/tables/"+url.PathEscape(table)+"/rows", q, patch, out)
}

func filterQuery(filter map[string]any) (url.Values, error) {
	if len(filter) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(filter)
	if err != nil {
		return nil, fmt.Errorf("encode filter: %w", err)
	}
	q := url.Values{}
	q.Set("filter", string(b))
	return q, nil
}

// ---- transport ----

func (c *Client) doJSON(ctx context.Context, method, path string, query url.Values, body, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		rd = bytes.NewReader(b)
	}

	u := c.base.String() + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, u, rd)
	if err != nil {
		return err
	}
	c.setAuthHeaders(req)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if method == http.MethodPost {
		// Lets the gateway dedupe retried inserts.
		req.Header.Set("Idempotency-Key", uuid.NewString())
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode/100 != 2 {
		return decodeAPIError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response for %s %s: %w", method, path, err)
	}
	return nil
}

func (c *Client) setAuthHeaders(req *http.Request) {
	if c.cfg.APIKey != "" {
		req.Header.Set("X-Api-Key", c.cfg.APIKey)
	}
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}
}

func decodeAPIError(resp *http.Response) error {
	apiErr := &APIError{Status: resp.StatusCode}

	b, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
	if err == nil {
		var body struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		}
		if json.Unmarshal(b, &body) == nil {
			apiErr.Code = body.Code
			apiErr.Message = body.Message
		}
	}
	return apiErr
}
