package thread_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/lorekeep/lorekeep/internal/log"
	"github.com/lorekeep/lorekeep/internal/testutil"
	"github.com/lorekeep/lorekeep/internal/thread"
)

func TestStore_ResolveAndHistory(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}

	tdb := testutil.SetupTestDB(t)
	store := thread.NewStore(tdb.Pool, log.NewNop())
	ctx := context.Background()

	// Empty identifier creates a new thread.
	id, err := store.Resolve(ctx, "", "owner-1")
	if err != nil {
		t.Fatalf("resolve empty: %v", err)
	}
	if id == uuid.Nil {
		t.Fatal("expected a fresh thread id")
	}

	// A known identifier resolves to itself.
	same, err := store.Resolve(ctx, id.String(), "owner-1")
	if err != nil {
		t.Fatalf("resolve existing: %v", err)
	}
	if same != id {
		t.Errorf("resolved %s, want %s", same, id)
	}

	sources := json.RawMessage(`[{"title":"A","link":"/a"}]`)
	err = store.Append(ctx, id,
		thread.Message{Role: thread.RoleUser, Content: "question"},
		thread.Message{Role: thread.RoleAssistant, Content: "answer", Sources: sources},
	)
	if err != nil {
		t.Fatalf("append: %v", err)
	}

	msgs, err := store.History(ctx, id, 10)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("history length = %d, want 2", len(msgs))
	}
	if msgs[0].Role != thread.RoleUser || msgs[1].Role != thread.RoleAssistant {
		t.Errorf("history order wrong: %s then %s", msgs[0].Role, msgs[1].Role)
	}
	if msgs[0].Sources != nil {
		t.Error("user message must carry no sources")
	}
	if len(msgs[1].Sources) == 0 {
		t.Error("assistant message lost its sources")
	}
}

func TestStore_ResolveErrors(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}

	tdb := testutil.SetupTestDB(t)
	store := thread.NewStore(tdb.Pool, log.NewNop())
	ctx := context.Background()

	if _, err := store.Resolve(ctx, "not-a-uuid", ""); !errors.Is(err, thread.ErrInvalidID) {
		t.Errorf("malformed id: got %v, want ErrInvalidID", err)
	}

	if _, err := store.Resolve(ctx, uuid.NewString(), ""); !errors.Is(err, thread.ErrNotFound) {
		t.Errorf("unknown id: got %v, want ErrNotFound", err)
	}
}

func TestStore_HistoryKeepsRecentTurns(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}

	tdb := testutil.SetupTestDB(t)
	store := thread.NewStore(tdb.Pool, log.NewNop())
	ctx := context.Background()

	id, err := store.Resolve(ctx, "", "owner-1")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}

	for _, content := range []string{"first", "second", "third", "fourth"} {
		err := store.Append(ctx, id, thread.Message{Role: thread.RoleUser, Content: content})
		if err != nil {
			t.Fatalf("append %q: %v", content, err)
		}
	}

	// A capped read must keep the latest turns, in chronological order.
	msgs, err := store.History(ctx, id, 2)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("history length = %d, want 2", len(msgs))
	}
	if msgs[0].Content != "third" || msgs[1].Content != "fourth" {
		t.Errorf("history = [%s, %s], want the two most recent oldest-first",
			msgs[0].Content, msgs[1].Content)
	}
}
