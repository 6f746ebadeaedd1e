package store

import "database/sql"

// scanBatchSize is the keyset page size for lazy scans.
const scanBatchSize = 512

// querier abstracts *sql.DB and *sql.Tx so scans can run either against
// the live connection or inside a merge batch transaction.
type querier interface {
	Query(query string, args ...any) (*sql.Rows, error)
}

// ContactScanner is a lazy, restartable scan over contacts ordered by id.
// Each page is a fresh keyset query, so no cursor is held between calls
// and concurrent readers are never blocked.
type ContactScanner struct {
	db     *DB
	q      querier
	lastID int64
	buf    []Contact
	idx    int
	done   bool
}

// ScanContacts starts a contact scan.
func (db *DB) ScanContacts() *ContactScanner {
	return &ContactScanner{db: db, q: db.DB}
}

// Next returns the next contact, or (nil, nil) at the end of the scan.
func (s *ContactScanner) Next() (*Contact, error) {
	if s.idx >= len(s.buf) {
		if s.done {
			return nil, nil
		}
		if err := s.fill(); err != nil {
			return nil, err
		}
		if len(s.buf) == 0 {
			return nil, nil
		}
	}
	c := &s.buf[s.idx]
	s.idx++
	return c, nil
}

func (s *ContactScanner) fill() error {
	query := `SELECT id, handle, display_name, phone, email FROM contacts WHERE id > ? ORDER BY id LIMIT ?`
	if s.db.gen >= Gen2 {
		query = `SELECT id, handle, display_name, phone, email, about FROM contacts WHERE id > ? ORDER BY id LIMIT ?`
	}
	rows, err := s.q.Query(query, s.lastID, scanBatchSize)
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()

	s.buf = s.buf[:0]
	s.idx = 0
	for rows.Next() {
		var c Contact
		var err error
		if s.db.gen >= Gen2 {
			err = rows.Scan(&c.ID, &c.Handle, &c.DisplayName, &c.Phone, &c.Email, &c.About)
		} else {
			err = rows.Scan(&c.ID, &c.Handle, &c.DisplayName, &c.Phone, &c.Email)
		}
		if err != nil {
			return err
		}
		s.buf = append(s.buf, c)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	if len(s.buf) < scanBatchSize {
		s.done = true
	}
	if len(s.buf) > 0 {
		s.lastID = s.buf[len(s.buf)-1].ID
	}
	return nil
}

// ChatScanner is a lazy scan over chats in stable creation order
// (created_at, then id), with participants loaded per chat.
type ChatScanner struct {
	db          *DB
	lastCreated int64
	lastID      int64
	buf         []Chat
	idx         int
	done        bool
}

// ScanChats starts a chat scan.
func (db *DB) ScanChats() *ChatScanner {
	return &ChatScanner{db: db}
}

// Next returns the next chat, or (nil, nil) at the end of the scan.
func (s *ChatScanner) Next() (*Chat, error) {
	if s.idx >= len(s.buf) {
		if s.done {
			return nil, nil
		}
		if err := s.fill(); err != nil {
			return nil, err
		}
		if len(s.buf) == 0 {
			return nil, nil
		}
	}
	c := &s.buf[s.idx]
	s.idx++
	return c, nil
}

func (s *ChatScanner) fill() error {
	query := `SELECT id, kind, display_name, created_at FROM chats
		WHERE created_at > ? OR (created_at = ? AND id > ?)
		ORDER BY created_at, id LIMIT ?`
	if s.db.gen >= Gen2 {
		query = `SELECT id, kind, display_name, created_at, topic FROM chats
			WHERE created_at > ? OR (created_at = ? AND id > ?)
			ORDER BY created_at, id LIMIT ?`
	}
	rows, err := s.db.Query(query, s.lastCreated, s.lastCreated, s.lastID, scanBatchSize)
	if err != nil {
		return err
	}

	s.buf = s.buf[:0]
	s.idx = 0
	for rows.Next() {
		var c Chat
		var err error
		if s.db.gen >= Gen2 {
			err = rows.Scan(&c.ID, &c.Kind, &c.DisplayName, &c.CreatedAt, &c.Topic)
		} else {
			err = rows.Scan(&c.ID, &c.Kind, &c.DisplayName, &c.CreatedAt)
		}
		if err != nil {
			_ = rows.Close()
			return err
		}
		s.buf = append(s.buf, c)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return err
	}
	_ = rows.Close()

	for i := range s.buf {
		participants, err := s.db.Participants(s.buf[i].ID)
		if err != nil {
			return err
		}
		s.buf[i].Participants = participants
	}

	if len(s.buf) < scanBatchSize {
		s.done = true
	}
	if len(s.buf) > 0 {
		last := s.buf[len(s.buf)-1]
		s.lastCreated = last.CreatedAt
		s.lastID = last.ID
	}
	return nil
}

// MessageScanner is a lazy scan over one chat's messages in stable order
// (timestamp, then id), with author handle and name joined in for
// fingerprinting.
type MessageScanner struct {
	db     *DB
	q      querier
	chatID int64
	lastTs int64
	lastID int64
	buf    []Message
	idx    int
	done   bool
}

// ScanMessages starts a message scan for one chat.
func (db *DB) ScanMessages(chatID int64) *MessageScanner {
	return &MessageScanner{db: db, q: db.DB, chatID: chatID}
}

// ScanMessagesIn is like ScanMessages but runs inside tx, so a merge
// batch sees its own uncommitted inserts during the identity re-check.
func (db *DB) ScanMessagesIn(tx *sql.Tx, chatID int64) *MessageScanner {
	return &MessageScanner{db: db, q: tx, chatID: chatID}
}

// Next returns the next message, or (nil, nil) at the end of the scan.
func (s *MessageScanner) Next() (*Message, error) {
	if s.idx >= len(s.buf) {
		if s.done {
			return nil, nil
		}
		if err := s.fill(); err != nil {
			return nil, err
		}
		if len(s.buf) == 0 {
			return nil, nil
		}
	}
	m := &s.buf[s.idx]
	s.idx++
	return m, nil
}

func (s *MessageScanner) fill() error {
	cols := `m.id, m.chat_id, m.author_id, m.timestamp, m.body, m.kind,
		COALESCE(a.handle, ''), COALESCE(a.display_name, '')`
	if s.db.gen >= Gen2 {
		cols = `m.id, m.chat_id, m.author_id, m.timestamp, m.body, m.kind, m.edited, m.removed,
			COALESCE(a.handle, ''), COALESCE(a.display_name, '')`
	}
	query := `SELECT ` + cols + ` FROM messages m
		LEFT JOIN contacts a ON a.id = m.author_id
		WHERE m.chat_id = ? AND (m.timestamp > ? OR (m.timestamp = ? AND m.id > ?))
		ORDER BY m.timestamp, m.id LIMIT ?`
	rows, err := s.q.Query(query, s.chatID, s.lastTs, s.lastTs, s.lastID, scanBatchSize)
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()

	s.buf = s.buf[:0]
	s.idx = 0
	for rows.Next() {
		var m Message
		var author sql.NullInt64
		var err error
		if s.db.gen >= Gen2 {
			err = rows.Scan(&m.ID, &m.ChatID, &author, &m.Timestamp, &m.Body, &m.Kind,
				&m.Edited, &m.Removed, &m.AuthorHandle, &m.AuthorName)
		} else {
			err = rows.Scan(&m.ID, &m.ChatID, &author, &m.Timestamp, &m.Body, &m.Kind,
				&m.AuthorHandle, &m.AuthorName)
		}
		if err != nil {
			return err
		}
		m.AuthorID = author.Int64
		s.buf = append(s.buf, m)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	if len(s.buf) < scanBatchSize {
		s.done = true
	}
	if len(s.buf) > 0 {
		last := s.buf[len(s.buf)-1]
		s.lastTs = last.Timestamp
		s.lastID = last.ID
	}
	return nil
}
