package store

import (
	"database/sql"
	"fmt"
)

// InsertMessage inserts a message inside tx and returns its new row id.
// AuthorID zero stores NULL (author unknown in this archive). Generation 1
// targets silently drop the Edited and Removed flags.
func (db *DB) InsertMessage(tx *sql.Tx, m *Message) (int64, error) {
	if db.readOnly {
		return 0, fmt.Errorf("archive %s is read-only", db.path)
	}
	var author any
	if m.AuthorID != 0 {
		author = m.AuthorID
	}
	var (
		res sql.Result
		err error
	)
	if db.gen >= Gen2 {
		res, err = tx.Exec(`INSERT INTO messages (chat_id, author_id, timestamp, body, kind, edited, removed)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			m.ChatID, author, m.Timestamp, m.Body, m.Kind, m.Edited, m.Removed)
	} else {
		res, err = tx.Exec(`INSERT INTO messages (chat_id, author_id, timestamp, body, kind)
			VALUES (?, ?, ?, ?, ?)`,
			m.ChatID, author, m.Timestamp, m.Body, m.Kind)
	}
	if err != nil {
		return 0, constraintErr(err)
	}
	return res.LastInsertId()
}

// MessageCount returns the total number of messages in the archive.
func (db *DB) MessageCount() (int64, error) {
	var n int64
	err := db.QueryRow(`SELECT COUNT(*) FROM messages`).Scan(&n)
	return n, err
}

// ChatMessageCount returns the number of messages in one chat.
func (db *DB) ChatMessageCount(chatID int64) (int64, error) {
	var n int64
	err := db.QueryRow(`SELECT COUNT(*) FROM messages WHERE chat_id = ?`, chatID).Scan(&n)
	return n, err
}
