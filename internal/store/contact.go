package store

import (
	"database/sql"
	"fmt"
)

// InsertContact inserts a contact inside tx and returns its new row id.
// Generation 1 targets silently drop the About field.
func (db *DB) InsertContact(tx *sql.Tx, c *Contact) (int64, error) {
	if db.readOnly {
		return 0, fmt.Errorf("archive %s is read-only", db.path)
	}
	var (
		res sql.Result
		err error
	)
	if db.gen >= Gen2 {
		res, err = tx.Exec(`INSERT INTO contacts (handle, display_name, phone, email, about) VALUES (?, ?, ?, ?, ?)`,
			c.Handle, c.DisplayName, c.Phone, c.Email, c.About)
	} else {
		res, err = tx.Exec(`INSERT INTO contacts (handle, display_name, phone, email) VALUES (?, ?, ?, ?)`,
			c.Handle, c.DisplayName, c.Phone, c.Email)
	}
	if err != nil {
		return 0, constraintErr(err)
	}
	return res.LastInsertId()
}

// ContactCount returns the total number of contacts.
func (db *DB) ContactCount() (int64, error) {
	var n int64
	err := db.QueryRow(`SELECT COUNT(*) FROM contacts`).Scan(&n)
	return n, err
}
