package chat

// Position selects which end of the store a batch is inserted at.
type Position int

const (
	// Head is the newest end: realtime inserts and optimistic placeholders.
	Head Position = iota
	// Tail is the oldest end: older pages from pagination.
	Tail
)

// Patch is a partial message update applied by Replace.
type Patch struct {
	Status  *Status
	Content *string
	Kind    *ContentKind
}

// Store holds the deduplicated, newest-first view of a single thread's
// messages.
//
// Requirements:
//   - id is unique: no operation may produce two entries sharing an id
//   - display order is createdAt descending (head newest, tail oldest)
//   - operations are pure in-memory and cannot fail
//
// Store is not safe for concurrent use; it is owned by one Synchronizer,
// which serializes access.
type Store struct {
	msgs []Message
	seen map[string]struct{}
}

// NewStore constructs an empty Store.
func NewStore() *Store {
	return &Store{seen: make(map[string]struct{})}
}

// Len returns the number of messages held.
func (s *Store) Len() int { return len(s.msgs) }

// Messages returns a snapshot copy, newest first.
func (s *Store) Messages() []Message {
	out := make([]Message, len(s.msgs))
	copy(out, s.msgs)
	return out
}

// Get returns the message with the given id, if present.
func (s *Store) Get(id string) (Message, bool) {
	i := s.index(id)
	if i < 0 {
		return Message{}, false
	}
	return s.msgs[i], true
}

// Contains reports whether a message with the given id is held.
func (s *Store) Contains(id string) bool {
	_, ok := s.seen[id]
	return ok
}

// Append inserts a batch at the head (newly arrived) or tail (older page).
// Candidates whose id is already present, or that repeat an id earlier in the
// batch, are skipped; relative order among kept items is preserved. Returns
// the number of messages inserted.
func (s *Store) Append(batch []Message, pos Position) int {
	if len(batch) == 0 {
		return 0
	}

	kept := make([]Message, 0, len(batch))
	for _, m := range batch {
		if m.ID == "" {
			continue
		}
		if _, dup := s.seen[m.ID]; dup {
			continue
		}
		s.seen[m.ID] = struct{}{}
		kept = append(kept, m)
	}
	if len(kept) == 0 {
		return 0
	}

	switch pos {
	case Head:
		s.msgs = append(kept, s.msgs...)
	default:
		s.msgs = append(s.msgs, kept...)
	}
	return len(kept)
}

// Replace applies a partial update to the message with matching id; no-op if
// absent. Status patches are gated by the lifecycle rules (CanTransition), so
// a stale or regressive status never lands.
func (s *Store) Replace(id string, p Patch) bool {
	i := s.index(id)
	if i < 0 {
		return false
	}

	m := s.msgs[i]
	if p.Status != nil && *p.Status != m.Status && CanTransition(m.Status, *p.Status) {
		m.Status = *p.Status
	}
	if p.Content != nil {
		m.Content = *p.Content
	}
	if p.Kind != nil {
		m.Kind = *p.Kind
	}
	s.msgs[i] = m
	return true
}

// ReconcileOptimistic is the pending send path's exit: the transient
// placeholder is dropped and the server-confirmed message takes its place.
// If the realtime path already delivered the server id, only the placeholder
// is removed. Idempotent under arbitrary interleaving of the two paths.
func (s *Store) ReconcileOptimistic(localID string, server Message) {
	if server.ID == "" {
		return
	}

	if _, won := s.seen[server.ID]; won {
		s.Remove(localID)
		return
	}

	i := s.index(localID)
	if i < 0 {
		// Placeholder already gone (e.g. removed); keep the authoritative row.
		s.Append([]Message{server}, Head)
		return
	}

	delete(s.seen, localID)
	s.seen[server.ID] = struct{}{}
	s.msgs[i] = server
}

// Remove deletes the message with the given id, if present.
func (s *Store) Remove(id string) bool {
	i := s.index(id)
	if i < 0 {
		return false
	}
	delete(s.seen, id)
	s.msgs = append(s.msgs[:i], s.msgs[i+1:]...)
	return true
}

func (s *Store) index(id string) int {
	if id == "" {
		return -1
	}
	if _, ok := s.seen[id]; !ok {
		return -1
	}
	for i := range s.msgs {
		if s.msgs[i].ID == id {
			return i
		}
	}
	return -1
}
