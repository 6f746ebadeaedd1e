package diff

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/chatvault/chatvault/internal/fingerprint"
	"github.com/chatvault/chatvault/internal/report"
	"github.com/chatvault/chatvault/internal/store"
)

func testArchive(t *testing.T, name string) *store.DB {
	t.Helper()
	db, err := store.Create(filepath.Join(t.TempDir(), name))
	if err != nil {
		t.Fatalf("create archive: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func mustTx(t *testing.T, db *store.DB) *sql.Tx {
	t.Helper()
	tx, err := db.Begin()
	if err != nil {
		t.Fatal(err)
	}
	return tx
}

func commit(t *testing.T, tx *sql.Tx) {
	t.Helper()
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}
}

func addContact(t *testing.T, db *store.DB, tx *sql.Tx, handle, name string) int64 {
	t.Helper()
	id, err := db.InsertContact(tx, &store.Contact{Handle: handle, DisplayName: name})
	if err != nil {
		t.Fatal(err)
	}
	return id
}

func addChat(t *testing.T, db *store.DB, tx *sql.Tx, kind, name string, createdAt int64, members ...int64) int64 {
	t.Helper()
	id, err := db.InsertChat(tx, &store.Chat{Kind: kind, DisplayName: name, CreatedAt: createdAt})
	if err != nil {
		t.Fatal(err)
	}
	for _, m := range members {
		if err := db.InsertParticipant(tx, id, m); err != nil {
			t.Fatal(err)
		}
	}
	return id
}

func addMessage(t *testing.T, db *store.DB, tx *sql.Tx, chatID, authorID, ts int64, body string) {
	t.Helper()
	if _, err := db.InsertMessage(tx, &store.Message{
		ChatID: chatID, AuthorID: authorID, Timestamp: ts, Body: body, Kind: store.MessageText,
	}); err != nil {
		t.Fatal(err)
	}
}

func run(t *testing.T, source, target *store.DB, opts Options) *Set {
	t.Helper()
	set, err := Compare(context.Background(), source, target, opts, nil)
	if err != nil {
		t.Fatalf("compare: %v", err)
	}
	t.Cleanup(func() { _ = set.Close() })
	return set
}

func TestCompareSharedChatFindsOnlyMissingMessages(t *testing.T) {
	source := testArchive(t, "laptop.db")
	target := testArchive(t, "desktop.db")

	seed := func(db *store.DB, extra bool) {
		tx := mustTx(t, db)
		alice := addContact(t, db, tx, "alice", "Alice")
		bob := addContact(t, db, tx, "bob", "Bob")
		carol := addContact(t, db, tx, "carol", "Carol")
		chat := addChat(t, db, tx, store.ChatGroup, "Team", 50, alice, bob, carol)
		addMessage(t, db, tx, chat, alice, 100, "standup?")
		addMessage(t, db, tx, chat, bob, 101, "omw")
		if extra {
			addMessage(t, db, tx, chat, carol, 102, "running late")
		}
		commit(t, tx)
	}
	seed(source, true)
	seed(target, false)

	set := run(t, source, target, Options{})
	if len(set.Contacts) != 0 {
		t.Errorf("found %d new contacts, want 0", len(set.Contacts))
	}
	if len(set.Chats) != 0 {
		t.Errorf("found %d new chats, want 0", len(set.Chats))
	}
	if set.MessageCount != 1 {
		t.Fatalf("found %d new messages, want 1", set.MessageCount)
	}
	if set.MessagesCompared != 3 {
		t.Errorf("compared %d messages, want 3", set.MessagesCompared)
	}

	var got *MessageDiff
	_ = set.ForEachGroup(func(g *MessageGroup) error {
		got = &g.Messages[0]
		return nil
	})
	if got == nil || got.Message.Body != "running late" {
		t.Errorf("difference = %+v, want the extra message", got)
	}

	if len(set.ChatSummaries) != 1 || set.ChatSummaries[0].NewMessages != 1 || set.ChatSummaries[0].NewChat {
		t.Errorf("summaries = %+v", set.ChatSummaries)
	}
}

func TestCompareWholesaleNewChat(t *testing.T) {
	source := testArchive(t, "source.db")
	target := testArchive(t, "target.db")

	tx := mustTx(t, source)
	alice := addContact(t, source, tx, "alice", "Alice")
	chat := addChat(t, source, tx, store.ChatDirect, "Alice", 10, alice)
	addMessage(t, source, tx, chat, alice, 20, "hi")
	addMessage(t, source, tx, chat, alice, 30, "anyone?")
	commit(t, tx)

	set := run(t, source, target, Options{})
	if len(set.Contacts) != 1 || len(set.Chats) != 1 {
		t.Errorf("found %d contacts and %d chats, want 1 each", len(set.Contacts), len(set.Chats))
	}
	if set.MessageCount != 2 {
		t.Errorf("found %d messages, want 2", set.MessageCount)
	}
	_ = set.ForEachGroup(func(g *MessageGroup) error {
		if !g.NewChat {
			t.Error("group not marked as a wholesale new chat")
		}
		return nil
	})
}

func TestCompareRecordsContactCollisions(t *testing.T) {
	source := testArchive(t, "source.db")
	target := testArchive(t, "target.db")

	tx := mustTx(t, source)
	// Same handle twice: one identity, two rows.
	addContact(t, source, tx, "alice", "Alice A")
	addContact(t, source, tx, "alice", "Alice B")
	commit(t, tx)

	set := run(t, source, target, Options{})
	if len(set.Anomalies) != 1 || set.Anomalies[0].Kind != report.AnomalyKeyCollision {
		t.Fatalf("anomalies = %+v, want one key collision", set.Anomalies)
	}
	// First record wins; only one contact difference emerges.
	if len(set.Contacts) != 1 || set.Contacts[0].Contact.DisplayName != "Alice A" {
		t.Errorf("contacts = %+v", set.Contacts)
	}
}

func TestCompareChatKeyFilter(t *testing.T) {
	source := testArchive(t, "source.db")
	target := testArchive(t, "target.db")

	tx := mustTx(t, source)
	alice := addContact(t, source, tx, "alice", "Alice")
	bob := addContact(t, source, tx, "bob", "Bob")
	first := addChat(t, source, tx, store.ChatDirect, "Alice", 10, alice)
	second := addChat(t, source, tx, store.ChatDirect, "Bob", 20, bob)
	addMessage(t, source, tx, first, alice, 30, "one")
	addMessage(t, source, tx, second, bob, 40, "two")
	commit(t, tx)

	key := fingerprint.ChatKey(store.ChatDirect, []string{"bob"})
	set := run(t, source, target, Options{ChatKeys: []string{key}})

	if set.MessageCount != 1 {
		t.Fatalf("found %d messages, want only the filtered chat's", set.MessageCount)
	}
	_ = set.ForEachGroup(func(g *MessageGroup) error {
		if g.ChatKey != key {
			t.Errorf("group key = %q, want %q", g.ChatKey, key)
		}
		return nil
	})
}

func TestCompareSpillsToSpool(t *testing.T) {
	source := testArchive(t, "source.db")
	target := testArchive(t, "target.db")

	tx := mustTx(t, source)
	alice := addContact(t, source, tx, "alice", "Alice")
	names := []string{"One", "Two", "Three"}
	for i, name := range names {
		chat := addChat(t, source, tx, store.ChatDirect, name, int64(10*(i+1)), alice)
		addMessage(t, source, tx, chat, alice, int64(100+i), "msg in "+name)
		addMessage(t, source, tx, chat, alice, int64(200+i), "more in "+name)
	}
	commit(t, tx)

	// Two messages fit in memory; everything after lands in the spool.
	set := run(t, source, target, Options{SpoolThreshold: 2})
	if set.MessageCount != 6 {
		t.Fatalf("found %d messages, want 6", set.MessageCount)
	}
	if set.GroupCount() != 3 {
		t.Fatalf("GroupCount = %d, want 3", set.GroupCount())
	}

	// Replay preserves discovery order and content across the spill, and
	// is repeatable.
	for round := 0; round < 2; round++ {
		var seen []string
		err := set.ForEachGroup(func(g *MessageGroup) error {
			seen = append(seen, g.ChatName)
			if len(g.Messages) != 2 {
				t.Errorf("group %s has %d messages, want 2", g.ChatName, len(g.Messages))
			}
			return nil
		})
		if err != nil {
			t.Fatal(err)
		}
		if len(seen) != 3 {
			t.Fatalf("replayed %d groups, want 3", len(seen))
		}
		for i, name := range names {
			if seen[i] != name {
				t.Errorf("round %d group %d = %q, want %q", round, i, seen[i], name)
			}
		}
	}
}

func TestCompareCancelsAtChatBoundary(t *testing.T) {
	source := testArchive(t, "source.db")
	target := testArchive(t, "target.db")

	tx := mustTx(t, source)
	alice := addContact(t, source, tx, "alice", "Alice")
	bob := addContact(t, source, tx, "bob", "Bob")
	first := addChat(t, source, tx, store.ChatDirect, "Alice", 10, alice)
	second := addChat(t, source, tx, store.ChatDirect, "Bob", 20, bob)
	addMessage(t, source, tx, first, alice, 30, "one")
	addMessage(t, source, tx, second, bob, 40, "two")
	commit(t, tx)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	set, err := Compare(ctx, source, target, Options{
		Progress: func(p report.Progress) {
			if p.ChatsDone == 1 {
				cancel()
			}
		},
	}, nil)
	if err != nil {
		t.Fatalf("cancelled compare returned error: %v", err)
	}
	defer func() { _ = set.Close() }()

	if !set.Cancelled {
		t.Fatal("set not marked cancelled")
	}
	if set.GroupCount() != 1 {
		t.Errorf("GroupCount = %d, want only the chat scanned before cancel", set.GroupCount())
	}
}
