package store

import (
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	db, err := Create(filepath.Join(t.TempDir(), "archive.db"))
	if err != nil {
		t.Fatalf("create archive: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func mustTx(t *testing.T, db *DB) *sql.Tx {
	t.Helper()
	tx, err := db.Begin()
	if err != nil {
		t.Fatal(err)
	}
	return tx
}

func TestOpenMissingFile(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "nope.db"))
	var nerr *NotAStoreError
	if !errors.As(err, &nerr) {
		t.Fatalf("expected NotAStoreError, got %v", err)
	}
}

func TestOpenRejectsForeignFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notes.txt")
	if err := os.WriteFile(path, []byte("definitely not a database\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := Open(path)
	var nerr *NotAStoreError
	if !errors.As(err, &nerr) {
		t.Fatalf("expected NotAStoreError, got %v", err)
	}
}

func TestOpenRejectsUnrelatedDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "other.db")
	raw, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := raw.Exec(`CREATE TABLE inventory (id INTEGER PRIMARY KEY, sku TEXT)`); err != nil {
		t.Fatal(err)
	}
	_ = raw.Close()

	_, err = Open(path)
	var nerr *NotAStoreError
	if !errors.As(err, &nerr) {
		t.Fatalf("expected NotAStoreError, got %v", err)
	}
}

func TestCreateBuildsLatestGeneration(t *testing.T) {
	db := testDB(t)
	if db.Generation() != Gen2 {
		t.Errorf("Generation = %d, want %d", db.Generation(), Gen2)
	}

	// Reopening detects the same generation from the schema alone.
	db2, err := Open(db.Path())
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = db2.Close() }()
	if db2.Generation() != Gen2 {
		t.Errorf("reopened Generation = %d, want %d", db2.Generation(), Gen2)
	}

	if _, err := Create(db.Path()); err == nil {
		t.Error("Create over an existing archive must fail")
	}
}

// buildGen1 hand-builds the older schema layout, the way archives written
// before the profile-flags migration look on disk.
func buildGen1(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "old.db")
	raw, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = raw.Close() }()
	stmts := []string{
		`CREATE TABLE contacts (id INTEGER PRIMARY KEY, handle TEXT NOT NULL DEFAULT '', display_name TEXT NOT NULL DEFAULT '', phone TEXT NOT NULL DEFAULT '', email TEXT NOT NULL DEFAULT '')`,
		`CREATE TABLE chats (id INTEGER PRIMARY KEY, kind TEXT NOT NULL DEFAULT 'direct', display_name TEXT NOT NULL DEFAULT '', created_at INTEGER NOT NULL DEFAULT 0)`,
		`CREATE TABLE chat_participants (chat_id INTEGER NOT NULL REFERENCES chats(id), contact_id INTEGER NOT NULL REFERENCES contacts(id), UNIQUE (chat_id, contact_id))`,
		`CREATE TABLE messages (id INTEGER PRIMARY KEY, chat_id INTEGER NOT NULL REFERENCES chats(id), author_id INTEGER REFERENCES contacts(id), timestamp INTEGER NOT NULL DEFAULT 0, body TEXT NOT NULL DEFAULT '', kind TEXT NOT NULL DEFAULT 'text')`,
		`CREATE TABLE transfers (id INTEGER PRIMARY KEY, message_id INTEGER NOT NULL REFERENCES messages(id), filename TEXT NOT NULL DEFAULT '', size INTEGER NOT NULL DEFAULT 0, direction TEXT NOT NULL DEFAULT 'in')`,
	}
	for _, s := range stmts {
		if _, err := raw.Exec(s); err != nil {
			t.Fatal(err)
		}
	}
	return path
}

func TestGen1DetectionAndInserts(t *testing.T) {
	db, err := Open(buildGen1(t))
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = db.Close() }()
	if db.Generation() != Gen1 {
		t.Fatalf("Generation = %d, want %d", db.Generation(), Gen1)
	}

	// Inserts into the older layout drop the newer fields silently.
	tx := mustTx(t, db)
	id, err := db.InsertContact(tx, &Contact{Handle: "alice", DisplayName: "Alice", About: "ignored"})
	if err != nil {
		t.Fatalf("insert into gen1: %v", err)
	}
	chatID, err := db.InsertChat(tx, &Chat{Kind: ChatDirect, DisplayName: "Alice", CreatedAt: 5, Topic: "ignored"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.InsertMessage(tx, &Message{ChatID: chatID, AuthorID: id, Timestamp: 7, Body: "hi", Kind: MessageText, Edited: true}); err != nil {
		t.Fatal(err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}

	scanner := db.ScanContacts()
	c, err := scanner.Next()
	if err != nil {
		t.Fatal(err)
	}
	if c == nil || c.Handle != "alice" || c.About != "" {
		t.Errorf("gen1 contact = %+v, want alice with empty About", c)
	}
}

func TestMissingTableIsCorrupt(t *testing.T) {
	db := testDB(t)
	path := db.Path()
	if _, err := db.Exec(`DROP TABLE transfers`); err != nil {
		t.Fatal(err)
	}
	_ = db.Close()

	_, err := Open(path)
	var cerr *CorruptError
	if !errors.As(err, &cerr) {
		t.Fatalf("expected CorruptError, got %v", err)
	}
	if len(cerr.Missing) != 1 || cerr.Missing[0] != "table transfers" {
		t.Errorf("Missing = %v, want [table transfers]", cerr.Missing)
	}
}

func TestInsertScanRoundTrip(t *testing.T) {
	db := testDB(t)

	tx := mustTx(t, db)
	alice, err := db.InsertContact(tx, &Contact{Handle: "alice", DisplayName: "Alice", About: "hey there"})
	if err != nil {
		t.Fatal(err)
	}
	bob, err := db.InsertContact(tx, &Contact{Handle: "bob", DisplayName: "Bob"})
	if err != nil {
		t.Fatal(err)
	}
	chat, err := db.InsertChat(tx, &Chat{Kind: ChatGroup, DisplayName: "Team", Topic: "standup", CreatedAt: 10})
	if err != nil {
		t.Fatal(err)
	}
	for _, id := range []int64{alice, bob} {
		if err := db.InsertParticipant(tx, chat, id); err != nil {
			t.Fatal(err)
		}
	}
	// Same timestamp: scan order must fall back to insertion order.
	for i, body := range []string{"first", "second", "third"} {
		author := alice
		if i%2 == 1 {
			author = bob
		}
		if _, err := db.InsertMessage(tx, &Message{ChatID: chat, AuthorID: author, Timestamp: 100, Body: body, Kind: MessageText}); err != nil {
			t.Fatal(err)
		}
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}

	cs := db.ScanChats()
	got, err := cs.Next()
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.Topic != "standup" || len(got.Participants) != 2 {
		t.Fatalf("chat = %+v, want topic and 2 participants", got)
	}

	var bodies []string
	ms := db.ScanMessages(chat)
	for {
		m, err := ms.Next()
		if err != nil {
			t.Fatal(err)
		}
		if m == nil {
			break
		}
		bodies = append(bodies, m.Body)
		if m.AuthorHandle == "" {
			t.Errorf("message %q missing joined author handle", m.Body)
		}
	}
	want := []string{"first", "second", "third"}
	if len(bodies) != len(want) {
		t.Fatalf("scanned %d messages, want %d", len(bodies), len(want))
	}
	for i := range want {
		if bodies[i] != want[i] {
			t.Errorf("message %d = %q, want %q", i, bodies[i], want[i])
		}
	}
}

func TestForeignKeyViolationMapsToErrConstraint(t *testing.T) {
	db := testDB(t)
	tx := mustTx(t, db)
	defer func() { _ = tx.Rollback() }()

	_, err := db.InsertMessage(tx, &Message{ChatID: 999, Timestamp: 1, Body: "orphan", Kind: MessageText})
	if !errors.Is(err, ErrConstraint) {
		t.Fatalf("expected ErrConstraint, got %v", err)
	}
}

func TestReadOnlyRefusesWrites(t *testing.T) {
	db := testDB(t)
	path := db.Path()
	_ = db.Close()

	ro, err := OpenReadOnly(path)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = ro.Close() }()

	tx, err := ro.Begin()
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := ro.InsertContact(tx, &Contact{Handle: "x"}); err == nil {
		t.Fatal("insert on read-only archive must fail")
	}
}
