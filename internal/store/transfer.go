package store

import (
	"database/sql"
	"fmt"
)

// InsertTransfer inserts a file-transfer row inside tx. The owning
// message must already exist; dependency ordering is the merge
// executor's responsibility, not this accessor's.
func (db *DB) InsertTransfer(tx *sql.Tx, t *Transfer) (int64, error) {
	if db.readOnly {
		return 0, fmt.Errorf("archive %s is read-only", db.path)
	}
	res, err := tx.Exec(`INSERT INTO transfers (message_id, filename, size, direction) VALUES (?, ?, ?, ?)`,
		t.MessageID, t.Filename, t.Size, t.Direction)
	if err != nil {
		return 0, constraintErr(err)
	}
	return res.LastInsertId()
}

// TransfersForMessage returns the transfers owned by a message.
func (db *DB) TransfersForMessage(messageID int64) ([]Transfer, error) {
	return db.transfersForMessage(db.DB, messageID)
}

// TransfersForMessageIn is like TransfersForMessage but runs inside tx.
func (db *DB) TransfersForMessageIn(tx *sql.Tx, messageID int64) ([]Transfer, error) {
	return db.transfersForMessage(tx, messageID)
}

func (db *DB) transfersForMessage(q querier, messageID int64) ([]Transfer, error) {
	rows, err := q.Query(`SELECT id, message_id, filename, size, direction
		FROM transfers WHERE message_id = ? ORDER BY id`, messageID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var transfers []Transfer
	for rows.Next() {
		var t Transfer
		if err := rows.Scan(&t.ID, &t.MessageID, &t.Filename, &t.Size, &t.Direction); err != nil {
			return nil, err
		}
		transfers = append(transfers, t)
	}
	return transfers, rows.Err()
}

// TransferCount returns the total number of transfers.
func (db *DB) TransferCount() (int64, error) {
	var n int64
	err := db.QueryRow(`SELECT COUNT(*) FROM transfers`).Scan(&n)
	return n, err
}
