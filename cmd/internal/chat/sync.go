package chat

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"loom/cmd/internal/ids"
)

const (
	// DefaultPageSize is used for the initial load and every older page.
	DefaultPageSize = 50

	defaultAgentTimeout    = 30 * time.Second
	defaultMarkReadTimeout = 5 * time.Second

	agentRecentWindow = 12
)

// ChangeKind labels a realtime row change.
type ChangeKind string

const (
	ChangeInsert ChangeKind = "insert"
	ChangeUpdate ChangeKind = "update"
	ChangeDelete ChangeKind = "delete"
)

// Change is one message-level change, either observed on the realtime channel
// or produced by the local send pipeline.
type Change struct {
	Kind    ChangeKind
	Message Message
}

// Gateway is the narrow persistence surface the synchronizer consumes.
// Implemented by the gateway HTTP/WebSocket client.
type Gateway interface {
	// MessagesForThread returns a page ordered newest-first.
	MessagesForThread(ctx context.Context, threadID string, limit, offset int) ([]Message, error)
	// SendMessage persists a draft and returns the authoritative row.
	SendMessage(ctx context.Context, d Draft) (Message, error)
	// MarkRead records read receipts; messageIDs may be nil for "all".
	MarkRead(ctx context.Context, threadID, userID string, messageIDs []string) error
	// UploadAttachment stores an artifact and returns its remote URL.
	UploadAttachment(ctx context.Context, threadID, filename string, data []byte) (string, error)
	// SubscribeMessages opens a realtime subscription scoped to the thread.
	SubscribeMessages(ctx context.Context, threadID string) (Subscription, error)
}

// Subscription is a scoped realtime stream. Close releases the subscription
// and must close the Events channel so consumers drain and exit.
type Subscription interface {
	Events() <-chan Change
	Close() error
}

// AgentSink receives successful text sends for memory extraction and possible
// automated replies. Calls are fire-and-forget: failures are logged and never
// reach the send outcome. Any agent reply arrives later as an ordinary
// realtime event.
type AgentSink interface {
	ProcessMessage(ctx context.Context, sub AgentSubmission) error
}

// AgentSubmission is the payload handed to the agent-processing endpoint.
type AgentSubmission struct {
	Message        string        `json:"message"`
	ThreadID       string        `json:"threadId"`
	SenderID       string        `json:"senderId"`
	MessageID      string        `json:"messageId"`
	Participants   []Participant `json:"participants"`
	RecentMessages []Message     `json:"recentMessages"`
	Settings       AgentSettings `json:"settings"`
}

// AgentSettings controls agent participation for a thread.
type AgentSettings struct {
	AgentID string `json:"agentId,omitempty"`
	Enabled bool   `json:"enabled"`
}

// HistoryCache persists fetched pages locally so a reopened thread renders
// before the network load lands. Optional; write-through is best-effort.
type HistoryCache interface {
	Put(msgs []Message) error
	Recent(threadID string, n int) ([]Message, error)
}

// MediaOptimizer compresses an attachment before upload.
type MediaOptimizer interface {
	Optimize(data []byte) ([]byte, error)
}

// Config wires a Synchronizer. Gateway, ThreadID and UserID are required;
// everything else is optional.
type Config struct {
	ThreadID string
	UserID   string

	Gateway   Gateway
	Agents    AgentSink
	Cache     HistoryCache
	Optimizer MediaOptimizer
	Metrics   *Metrics
	Log       *slog.Logger

	AgentSettings AgentSettings
	Participants  []Participant

	PageSize     int
	AgentTimeout time.Duration

	// OnEvent is invoked after each applied change (realtime or local send
	// lifecycle). It runs on the synchronizer's goroutines and must not call
	// back into the synchronizer.
	OnEvent func(Change)
}

// Synchronizer keeps one open thread's Store consistent with server-side
// truth: optimistic sends, realtime reconciliation, and offset pagination.
//
// All store mutations are serialized by one mutex; interleaving order between
// the optimistic-send success path and the realtime insert path is not
// controlled, so convergence relies on the Store's id-dedup rules.
type Synchronizer struct {
	cfg Config
	log *slog.Logger

	pageSize     int
	agentTimeout time.Duration

	mu      sync.Mutex
	store   *Store
	hasMore bool
	loading bool
	closed  bool
	sub     Subscription
	done    chan struct{}
}

// NewSynchronizer validates cfg and constructs a Synchronizer. The thread is
// not loaded until Open.
func NewSynchronizer(cfg Config) (*Synchronizer, error) {
	if cfg.Gateway == nil {
		return nil, fmt.Errorf("chat: nil gateway")
	}
	if strings.TrimSpace(cfg.ThreadID) == "" || strings.TrimSpace(cfg.UserID) == "" {
		return nil, ErrMissingIdentity
	}

	log := cfg.Log
	if log == nil {
		log = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}

	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	agentTimeout := cfg.AgentTimeout
	if agentTimeout <= 0 {
		agentTimeout = defaultAgentTimeout
	}

	return &Synchronizer{
		cfg:          cfg,
		log:          log,
		pageSize:     pageSize,
		agentTimeout: agentTimeout,
		store:        NewStore(),
		hasMore:      true,
	}, nil
}

// Open loads the initial page, starts the realtime subscription, and records
// a read receipt. A failure leaves any cached warm view in place and is
// retryable by calling Open again.
func (s *Synchronizer) Open(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.sub != nil {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	s.warmFromCache()

	page, err := s.cfg.Gateway.MessagesForThread(ctx, s.cfg.ThreadID, s.pageSize, 0)
	if err != nil {
		return fmt.Errorf("load thread %s: %w", s.cfg.ThreadID, err)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	// The fetched page is authoritative: it supersedes any warm cache view.
	fresh := NewStore()
	fresh.Append(page, Tail)
	s.store = fresh
	s.hasMore = len(page) >= s.pageSize
	s.mu.Unlock()

	s.cfg.Metrics.incPage()
	s.cachePut(page)

	sub, err := s.cfg.Gateway.SubscribeMessages(ctx, s.cfg.ThreadID)
	if err != nil {
		return fmt.Errorf("subscribe thread %s: %w", s.cfg.ThreadID, err)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = sub.Close()
		return ErrClosed
	}
	s.sub = sub
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.runEvents(sub)
	s.markReadAsync(nil)

	s.log.Info("sync.open", "thread_id", s.cfg.ThreadID, "messages", len(page), "has_more", s.HasMore())
	return nil
}

// Close releases the realtime subscription and discards the thread's store.
// In-flight send/pagination requests may complete afterwards; their results
// are dropped. Idempotent.
func (s *Synchronizer) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.store = NewStore()
	sub, done := s.sub, s.done
	s.sub = nil
	s.mu.Unlock()

	if sub == nil {
		return nil
	}
	err := sub.Close()
	<-done
	s.log.Info("sync.close", "thread_id", s.cfg.ThreadID)
	return err
}

// Messages returns a snapshot of the thread view, newest first.
func (s *Synchronizer) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.Messages()
}

// HasMore reports whether older history may remain.
func (s *Synchronizer) HasMore() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hasMore
}

// Send runs the optimistic pipeline for a composed message: placeholder at
// the head immediately, gateway persist, reconcile on success. On failure the
// placeholder stays visible marked failed and is returned alongside the
// error, so the caller can restore the composed text for retry.
func (s *Synchronizer) Send(ctx context.Context, content string, kind ContentKind) (Message, error) {
	if strings.TrimSpace(content) == "" {
		return Message{}, ErrEmptyContent
	}
	if !kind.Valid() {
		return Message{}, fmt.Errorf("%w: %q", ErrInvalidKind, kind)
	}

	ph, err := s.insertPlaceholder(content, kind)
	if err != nil {
		return Message{}, err
	}
	return s.persist(ctx, ph)
}

// SendAttachment optimizes and uploads an artifact, then sends a message
// whose content is the artifact URL plus an optional caption. The
// placeholder is visible for the whole upload.
func (s *Synchronizer) SendAttachment(ctx context.Context, kind ContentKind, filename string, data []byte, caption string) (Message, error) {
	if !kind.Attachment() {
		return Message{}, fmt.Errorf("%w: %q is not an attachment kind", ErrInvalidKind, kind)
	}
	if len(data) == 0 {
		return Message{}, ErrEmptyContent
	}

	ph, err := s.insertPlaceholder(caption, kind)
	if err != nil {
		return Message{}, err
	}

	if kind == KindImage && s.cfg.Optimizer != nil {
		optimized, err := s.cfg.Optimizer.Optimize(data)
		if err != nil {
			return s.failPlaceholder(ph, fmt.Errorf("optimize attachment: %w", err))
		}
		data = optimized
	}

	url, err := s.cfg.Gateway.UploadAttachment(ctx, s.cfg.ThreadID, filename, data)
	if err != nil {
		return s.failPlaceholder(ph, fmt.Errorf("upload attachment: %w", err))
	}

	encoded, err := EncodeContent(Content{Kind: kind, URL: url, Caption: caption})
	if err != nil {
		return s.failPlaceholder(ph, err)
	}

	s.mu.Lock()
	if !s.closed {
		s.store.Replace(ph.ID, Patch{Content: &encoded})
	}
	s.mu.Unlock()
	ph.Content = encoded

	return s.persist(ctx, ph)
}

// LoadMore fetches the next older page. No-op without a request when a fetch
// is already in flight or history is exhausted. Returns the number of
// messages appended.
func (s *Synchronizer) LoadMore(ctx context.Context) (int, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return 0, ErrClosed
	}
	if s.loading || !s.hasMore {
		s.mu.Unlock()
		return 0, nil
	}
	s.loading = true
	offset := s.store.Len()
	s.mu.Unlock()

	page, err := s.cfg.Gateway.MessagesForThread(ctx, s.cfg.ThreadID, s.pageSize, offset)

	s.mu.Lock()
	s.loading = false
	if s.closed {
		s.mu.Unlock()
		return 0, ErrClosed
	}
	if err != nil {
		s.mu.Unlock()
		return 0, fmt.Errorf("load page at offset %d: %w", offset, err)
	}
	added := s.store.Append(page, Tail)
	if len(page) < s.pageSize {
		s.hasMore = false
	}
	s.mu.Unlock()

	s.cfg.Metrics.incPage()
	s.cachePut(page)
	return added, nil
}

// ---- send pipeline internals ----

func (s *Synchronizer) insertPlaceholder(content string, kind ContentKind) (Message, error) {
	now := time.Now().UTC()
	localID, err := ids.NewLocalID(now)
	if err != nil {
		return Message{}, fmt.Errorf("local id: %w", err)
	}

	ph := Message{
		ID:        localID,
		ThreadID:  s.cfg.ThreadID,
		SenderID:  s.cfg.UserID,
		Content:   content,
		Kind:      kind,
		CreatedAt: now,
		Status:    StatusPending,
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return Message{}, ErrClosed
	}
	s.store.Append([]Message{ph}, Head)
	s.mu.Unlock()

	s.cfg.Metrics.incSend()
	s.emit(Change{Kind: ChangeInsert, Message: ph})
	return ph, nil
}

func (s *Synchronizer) persist(ctx context.Context, ph Message) (Message, error) {
	res, err := s.cfg.Gateway.SendMessage(ctx, Draft{
		ThreadID: s.cfg.ThreadID,
		SenderID: s.cfg.UserID,
		Content:  ph.Content,
		Kind:     ph.Kind,
	})
	if err != nil {
		return s.failPlaceholder(ph, fmt.Errorf("send message: %w", err))
	}

	s.mu.Lock()
	if s.closed {
		// Store gone: the row is durable server-side, the local result is discarded.
		s.mu.Unlock()
		return res, nil
	}
	s.store.ReconcileOptimistic(ph.ID, res)
	s.mu.Unlock()

	s.cfg.Metrics.incReconcile()
	s.emit(Change{Kind: ChangeUpdate, Message: res})
	s.cachePut([]Message{res})

	if res.Kind == KindText {
		s.submitAgentAsync(res)
	}
	return res, nil
}

func (s *Synchronizer) failPlaceholder(ph Message, cause error) (Message, error) {
	s.mu.Lock()
	if !s.closed {
		failed := StatusFailed
		s.store.Replace(ph.ID, Patch{Status: &failed})
	}
	s.mu.Unlock()

	s.cfg.Metrics.incSendFailure()
	s.log.Warn("sync.send.fail", "thread_id", s.cfg.ThreadID, "local_id", ph.ID, "err", cause)

	ph.Status = StatusFailed
	s.emit(Change{Kind: ChangeUpdate, Message: ph})
	return ph, cause
}

// ---- realtime ----

func (s *Synchronizer) runEvents(sub Subscription) {
	defer close(s.done)
	for ch := range sub.Events() {
		s.apply(ch)
	}
}

func (s *Synchronizer) apply(ch Change) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}

	applied := false
	switch ch.Kind {
	case ChangeInsert:
		if s.store.Contains(ch.Message.ID) {
			// The optimistic path already reconciled this row.
			s.cfg.Metrics.incDuplicate()
		} else {
			s.store.Append([]Message{ch.Message}, Head)
			applied = true
		}
	case ChangeUpdate:
		applied = s.store.Replace(ch.Message.ID, fullPatch(ch.Message))
	case ChangeDelete:
		applied = s.store.Remove(ch.Message.ID)
	}
	s.mu.Unlock()

	if !applied {
		return
	}

	s.cfg.Metrics.incRealtime(ch.Kind)
	if ch.Kind != ChangeDelete {
		s.cachePut([]Message{ch.Message})
	}
	if ch.Kind == ChangeInsert && ch.Message.SenderID != s.cfg.UserID {
		s.markReadAsync([]string{ch.Message.ID})
	}
	s.emit(ch)
}

func fullPatch(m Message) Patch {
	p := Patch{Content: &m.Content}
	if m.Status.Valid() {
		p.Status = &m.Status
	}
	if m.Kind.Valid() {
		p.Kind = &m.Kind
	}
	return p
}

// ---- side channels (best-effort, detached) ----

func (s *Synchronizer) submitAgentAsync(m Message) {
	if s.cfg.Agents == nil || !s.cfg.AgentSettings.Enabled {
		return
	}

	recent := s.recent(agentRecentWindow)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.agentTimeout)
		defer cancel()

		err := s.cfg.Agents.ProcessMessage(ctx, AgentSubmission{
			Message:        m.Content,
			ThreadID:       s.cfg.ThreadID,
			SenderID:       m.SenderID,
			MessageID:      m.ID,
			Participants:   s.cfg.Participants,
			RecentMessages: recent,
			Settings:       s.cfg.AgentSettings,
		})
		if err != nil {
			s.log.Warn("sync.agent.submit.fail", "thread_id", s.cfg.ThreadID, "message_id", m.ID, "err", err)
		}
	}()
}

func (s *Synchronizer) markReadAsync(messageIDs []string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), defaultMarkReadTimeout)
		defer cancel()

		if err := s.cfg.Gateway.MarkRead(ctx, s.cfg.ThreadID, s.cfg.UserID, messageIDs); err != nil {
			s.log.Debug("sync.mark_read.fail", "thread_id", s.cfg.ThreadID, "err", err)
		}
	}()
}

func (s *Synchronizer) cachePut(msgs []Message) {
	if s.cfg.Cache == nil || len(msgs) == 0 {
		return
	}
	batch := make([]Message, len(msgs))
	copy(batch, msgs)
	go func() {
		if err := s.cfg.Cache.Put(batch); err != nil {
			s.log.Debug("sync.cache.put.fail", "thread_id", s.cfg.ThreadID, "err", err)
		}
	}()
}

func (s *Synchronizer) warmFromCache() {
	if s.cfg.Cache == nil {
		return
	}
	cached, err := s.cfg.Cache.Recent(s.cfg.ThreadID, s.pageSize)
	if err != nil {
		s.log.Debug("sync.cache.recent.fail", "thread_id", s.cfg.ThreadID, "err", err)
		return
	}
	if len(cached) == 0 {
		return
	}

	s.mu.Lock()
	if !s.closed {
		s.store.Append(cached, Tail)
	}
	s.mu.Unlock()
}

func (s *Synchronizer) recent(n int) []Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n > s.store.Len() {
		n = s.store.Len()
	}
	return s.store.Messages()[:n]
}

func (s *Synchronizer) emit(ch Change) {
	if s.cfg.OnEvent != nil {
		s.cfg.OnEvent(ch)
	}
}
