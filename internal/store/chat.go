package store

import (
	"database/sql"
	"fmt"
)

// InsertChat inserts a chat row inside tx and returns its new row id.
// Participants are inserted separately via InsertParticipant.
func (db *DB) InsertChat(tx *sql.Tx, c *Chat) (int64, error) {
	if db.readOnly {
		return 0, fmt.Errorf("archive %s is read-only", db.path)
	}
	var (
		res sql.Result
		err error
	)
	if db.gen >= Gen2 {
		res, err = tx.Exec(`INSERT INTO chats (kind, display_name, created_at, topic) VALUES (?, ?, ?, ?)`,
			c.Kind, c.DisplayName, c.CreatedAt, c.Topic)
	} else {
		res, err = tx.Exec(`INSERT INTO chats (kind, display_name, created_at) VALUES (?, ?, ?)`,
			c.Kind, c.DisplayName, c.CreatedAt)
	}
	if err != nil {
		return 0, constraintErr(err)
	}
	return res.LastInsertId()
}

// InsertParticipant links a contact to a chat inside tx.
func (db *DB) InsertParticipant(tx *sql.Tx, chatID, contactID int64) error {
	if db.readOnly {
		return fmt.Errorf("archive %s is read-only", db.path)
	}
	_, err := tx.Exec(`INSERT INTO chat_participants (chat_id, contact_id) VALUES (?, ?)`, chatID, contactID)
	return constraintErr(err)
}

// Participants returns the contacts participating in a chat, ordered by
// contact id for stable iteration.
func (db *DB) Participants(chatID int64) ([]Contact, error) {
	query := `SELECT c.id, c.handle, c.display_name, c.phone, c.email
		FROM chat_participants p JOIN contacts c ON c.id = p.contact_id
		WHERE p.chat_id = ? ORDER BY c.id`
	if db.gen >= Gen2 {
		query = `SELECT c.id, c.handle, c.display_name, c.phone, c.email, c.about
			FROM chat_participants p JOIN contacts c ON c.id = p.contact_id
			WHERE p.chat_id = ? ORDER BY c.id`
	}
	rows, err := db.Query(query, chatID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var contacts []Contact
	for rows.Next() {
		var c Contact
		var err error
		if db.gen >= Gen2 {
			err = rows.Scan(&c.ID, &c.Handle, &c.DisplayName, &c.Phone, &c.Email, &c.About)
		} else {
			err = rows.Scan(&c.ID, &c.Handle, &c.DisplayName, &c.Phone, &c.Email)
		}
		if err != nil {
			return nil, err
		}
		contacts = append(contacts, c)
	}
	return contacts, rows.Err()
}

// ChatCount returns the total number of chats.
func (db *DB) ChatCount() (int64, error) {
	var n int64
	err := db.QueryRow(`SELECT COUNT(*) FROM chats`).Scan(&n)
	return n, err
}
