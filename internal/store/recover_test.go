package store

import (
	"database/sql"
	"testing"

	"github.com/chatvault/chatvault/internal/report"
)

func TestRecoverMissingTable(t *testing.T) {
	db := testDB(t)
	path := db.Path()

	tx := mustTx(t, db)
	alice, err := db.InsertContact(tx, &Contact{Handle: "alice", DisplayName: "Alice"})
	if err != nil {
		t.Fatal(err)
	}
	chat, err := db.InsertChat(tx, &Chat{Kind: ChatDirect, DisplayName: "Alice", CreatedAt: 1})
	if err != nil {
		t.Fatal(err)
	}
	if err := db.InsertParticipant(tx, chat, alice); err != nil {
		t.Fatal(err)
	}
	if _, err := db.InsertMessage(tx, &Message{ChatID: chat, AuthorID: alice, Timestamp: 2, Body: "hi", Kind: MessageText}); err != nil {
		t.Fatal(err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}
	if _, err := db.Exec(`DROP TABLE transfers`); err != nil {
		t.Fatal(err)
	}
	_ = db.Close()

	rebuilt, anomalies, err := Recover(path)
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	defer func() { _ = rebuilt.Close() }()

	if rebuilt.Path() != path+".recovered" {
		t.Errorf("rebuilt path = %s", rebuilt.Path())
	}
	found := false
	for _, a := range anomalies {
		if a.Kind == report.AnomalySchemaRecovered {
			found = true
		}
	}
	if !found {
		t.Errorf("missing table not reported, anomalies: %+v", anomalies)
	}

	// The readable rows survive with their original ids.
	n, err := rebuilt.MessageCount()
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("rebuilt archive has %d messages, want 1", n)
	}
	scanner := rebuilt.ScanContacts()
	c, err := scanner.Next()
	if err != nil {
		t.Fatal(err)
	}
	if c == nil || c.ID != alice || c.Handle != "alice" {
		t.Errorf("rebuilt contact = %+v, want original id %d preserved", c, alice)
	}
}

func TestRecoverWithoutMessagesKeepsContactsAndChats(t *testing.T) {
	db := testDB(t)
	path := db.Path()

	tx := mustTx(t, db)
	alice, err := db.InsertContact(tx, &Contact{Handle: "alice", DisplayName: "Alice"})
	if err != nil {
		t.Fatal(err)
	}
	chat, err := db.InsertChat(tx, &Chat{Kind: ChatDirect, DisplayName: "Alice", CreatedAt: 1})
	if err != nil {
		t.Fatal(err)
	}
	if err := db.InsertParticipant(tx, chat, alice); err != nil {
		t.Fatal(err)
	}
	msg, err := db.InsertMessage(tx, &Message{ChatID: chat, AuthorID: alice, Timestamp: 2, Body: "here it comes", Kind: MessageTransfer})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.InsertTransfer(tx, &Transfer{MessageID: msg, Filename: "a.png", Size: 10, Direction: TransferIn}); err != nil {
		t.Fatal(err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}
	_ = db.Close()

	// Losing the message table also strands the transfer rows: they
	// reference messages that no longer exist anywhere. Drop it through
	// a raw connection, where foreign keys default to off.
	raw, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := raw.Exec(`DROP TABLE messages`); err != nil {
		t.Fatal(err)
	}
	_ = raw.Close()

	if _, err := Open(path); err == nil {
		t.Fatal("damaged archive must not open cleanly")
	}

	rebuilt, anomalies, err := Recover(path)
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	defer func() { _ = rebuilt.Close() }()

	var schema, unreadable int
	for _, a := range anomalies {
		switch a.Kind {
		case report.AnomalySchemaRecovered:
			schema++
		case report.AnomalyUnreadableRow:
			unreadable++
		}
	}
	if schema != 1 {
		t.Errorf("schema anomalies = %d, want 1 for the missing table", schema)
	}
	if unreadable != 1 {
		t.Errorf("unreadable anomalies = %d, want 1 for the stranded transfer", unreadable)
	}

	contacts, err := rebuilt.ContactCount()
	if err != nil {
		t.Fatal(err)
	}
	chats, err := rebuilt.ChatCount()
	if err != nil {
		t.Fatal(err)
	}
	if contacts != 1 || chats != 1 {
		t.Errorf("rebuilt has %d contacts and %d chats, want 1 each", contacts, chats)
	}
}

func TestRecoverFromOlderGeneration(t *testing.T) {
	path := buildGen1(t)
	old, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	tx := mustTx(t, old)
	if _, err := old.InsertContact(tx, &Contact{Handle: "bob", DisplayName: "Bob"}); err != nil {
		t.Fatal(err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}
	_ = old.Close()

	rebuilt, anomalies, err := Recover(path)
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	defer func() { _ = rebuilt.Close() }()

	if len(anomalies) != 0 {
		t.Errorf("unexpected anomalies: %+v", anomalies)
	}
	// The rebuild is always latest-generation; fields the old layout
	// lacked read back as zero values.
	if rebuilt.Generation() != Gen2 {
		t.Errorf("rebuilt generation = %d, want %d", rebuilt.Generation(), Gen2)
	}
	c, err := rebuilt.ScanContacts().Next()
	if err != nil {
		t.Fatal(err)
	}
	if c == nil || c.Handle != "bob" || c.About != "" {
		t.Errorf("rebuilt contact = %+v", c)
	}
}
