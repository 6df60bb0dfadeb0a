package ids

import (
	"strings"
	"testing"
	"time"
)

func TestNewULID(t *testing.T) {
	t.Parallel()

	id, err := NewULID(time.Now().UTC())
	if err != nil {
		t.Fatalf("new ulid: %v", err)
	}
	if len(id) != 26 {
		t.Fatalf("len=%d want=26 (%q)", len(id), id)
	}

	// Zero time falls back to now.
	id2, err := NewULID(time.Time{})
	if err != nil {
		t.Fatalf("new ulid zero time: %v", err)
	}
	if len(id2) != 26 {
		t.Fatalf("len=%d want=26 (%q)", len(id2), id2)
	}
}

func TestULIDsSortByTime(t *testing.T) {
	t.Parallel()

	early, err := NewULID(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("early: %v", err)
	}
	late, err := NewULID(time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("late: %v", err)
	}
	if !(early < late) {
		t.Fatalf("expected %q < %q", early, late)
	}
}

func TestLocalIDs(t *testing.T) {
	t.Parallel()

	id, err := NewLocalID(time.Now().UTC())
	if err != nil {
		t.Fatalf("new local id: %v", err)
	}
	if !strings.HasPrefix(id, LocalPrefix) {
		t.Fatalf("missing prefix: %q", id)
	}
	if !IsLocal(id) {
		t.Fatalf("IsLocal(%q)=false", id)
	}

	if IsLocal("01ABCDEF") {
		t.Fatalf("server-shaped id flagged local")
	}
	if IsLocal("local-") {
		t.Fatalf("bare prefix flagged local")
	}
	if IsLocal("") {
		t.Fatalf("empty id flagged local")
	}
}
