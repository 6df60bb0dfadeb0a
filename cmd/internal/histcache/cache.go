// Package histcache is a local, per-device page cache backed by Pebble. A
// reopened thread renders from here while the first network page is in
// flight; the authoritative fetch then replaces the view.
package histcache

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"loom/cmd/internal/chat"

	"github.com/cockroachdb/pebble"
)

// Keys sort by thread, then created-at ascending, so a bounded reverse scan
// yields newest-first:
//
//	t/<thread_id>/m/<created_at unixnano, zero padded>/<message_id>
const (
	keyPrefix = "t/"
	keyInfix  = "/m/"
)

// Cache is a durable message cache. It implements chat.HistoryCache.
type Cache struct {
	db *pebble.DB
}

// Open opens (or creates) the cache at dir.
func Open(dir string) (*Cache, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("missing cache dir")
	}
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open history cache: %w", err)
	}
	return &Cache{db: db}, nil
}

// Close flushes and closes the underlying store.
func (c *Cache) Close() error {
	return c.db.Close()
}

// Put upserts a batch of messages. Transient local placeholders are skipped:
// only authoritative rows are worth surviving a restart.
func (c *Cache) Put(msgs []chat.Message) error {
	if len(msgs) == 0 {
		return nil
	}

	b := c.db.NewBatch()
	defer func() { _ = b.Close() }()

	wrote := false
	for _, m := range msgs {
		if m.ID == "" || m.ThreadID == "" || m.Local() {
			continue
		}
		val, err := json.Marshal(m)
		if err != nil {
			return fmt.Errorf("encode cached message: %w", err)
		}
		if err := b.Set(key(m), val, nil); err != nil {
			return err
		}
		wrote = true
	}
	if !wrote {
		return nil
	}
	return b.Commit(pebble.Sync)
}

// Recent returns up to n cached messages for a thread, newest first.
func (c *Cache) Recent(threadID string, n int) ([]chat.Message, error) {
	if n <= 0 || strings.TrimSpace(threadID) == "" {
		return nil, nil
	}

	lower := []byte(keyPrefix + threadID + keyInfix)
	upper := append(append([]byte{}, lower...), 0xff)

	iter, err := c.db.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return nil, fmt.Errorf("iterate history cache: %w", err)
	}
	defer func() { _ = iter.Close() }()

	out := make([]chat.Message, 0, n)
	for ok := iter.Last(); ok && len(out) < n; ok = iter.Prev() {
		var m chat.Message
		if err := json.Unmarshal(iter.Value(), &m); err != nil {
			// A corrupt row is not worth failing the warm start over.
			continue
		}
		out = append(out, m)
	}
	if err := iter.Error(); err != nil {
		return nil, err
	}
	return out, nil
}

func key(m chat.Message) []byte {
	return fmt.Appendf(nil, "%s%s%s%020d/%s",
		keyPrefix, m.ThreadID, keyInfix, m.CreatedAt.UTC().UnixNano(), m.ID)
}
