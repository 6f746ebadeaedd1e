// Package store opens and accesses chat-history archives: SQLite files
// holding contacts, chats, messages, and file transfers. It recognizes
// two schema generations and validates structure at open time, so callers
// can distinguish a file that is not an archive at all from one that is
// damaged but recoverable.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/mattn/go-sqlite3"
)

// Schema generations recognized by this accessor.
const (
	Gen1 = 1 // base tables
	Gen2 = 2 // adds messages.edited/removed, chats.topic, contacts.about
)

// NotAStoreError means the file is not a recognized chat archive at all.
type NotAStoreError struct {
	Path   string
	Reason string
}

func (e *NotAStoreError) Error() string {
	return fmt.Sprintf("%s is not a chat archive: %s", e.Path, e.Reason)
}

// CorruptError means the file is a recognizable archive with structural
// damage (missing tables or required columns). Recover can rebuild a
// fresh archive from whatever is still readable.
type CorruptError struct {
	Path    string
	Missing []string
}

func (e *CorruptError) Error() string {
	return fmt.Sprintf("archive %s is corrupt: missing %s", e.Path, strings.Join(e.Missing, ", "))
}

// ErrConstraint wraps per-row insert failures so callers can record them
// as anomalies instead of aborting a whole batch.
var ErrConstraint = errors.New("constraint violation")

// DB wraps a SQLite connection to one archive file.
type DB struct {
	*sql.DB
	path     string
	gen      int
	readOnly bool
}

// baseColumns are required per table for any recognized generation.
var baseColumns = map[string][]string{
	"contacts":          {"id", "handle", "display_name", "phone", "email"},
	"chats":             {"id", "kind", "display_name", "created_at"},
	"chat_participants": {"chat_id", "contact_id"},
	"messages":          {"id", "chat_id", "author_id", "timestamp", "body", "kind"},
	"transfers":         {"id", "message_id", "filename", "size", "direction"},
}

// gen2Columns mark a generation 2 archive when all are present.
var gen2Columns = map[string][]string{
	"messages": {"edited", "removed"},
	"chats":    {"topic"},
	"contacts": {"about"},
}

const dsnParams = "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on"

// Open opens an existing archive for reading and writing, validating its
// schema. Fails with NotAStoreError or CorruptError.
func Open(path string) (*DB, error) {
	return open(path, false)
}

// OpenReadOnly opens an existing archive for reading only. Comparison
// sources are opened this way so concurrent display scans are never
// blocked by an in-progress operation.
func OpenReadOnly(path string) (*DB, error) {
	return open(path, true)
}

func open(path string, readOnly bool) (*DB, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, &NotAStoreError{Path: path, Reason: "file does not exist"}
	}

	dsn := path + dsnParams
	if readOnly {
		dsn += "&mode=ro"
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, &NotAStoreError{Path: path, Reason: err.Error()}
	}

	d := &DB{DB: db, path: path, readOnly: readOnly}
	if err := d.inspectSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return d, nil
}

// Create makes a fresh, empty archive at path with the latest schema.
// Fails if the file already exists.
func Create(path string) (*DB, error) {
	if _, err := os.Stat(path); err == nil {
		return nil, fmt.Errorf("archive %s already exists", path)
	}
	db, err := sql.Open("sqlite3", path+dsnParams)
	if err != nil {
		return nil, fmt.Errorf("create archive: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create archive: %w", err)
	}
	d := &DB{DB: db, path: path, gen: Gen2}
	if _, err := d.Migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return d, nil
}

// Path returns the archive file path.
func (db *DB) Path() string { return db.path }

// Generation returns the detected schema generation.
func (db *DB) Generation() int { return db.gen }

// inspectSchema validates tables and columns and detects the generation.
func (db *DB) inspectSchema() error {
	tables, err := db.tableNames()
	if err != nil {
		return &NotAStoreError{Path: db.path, Reason: err.Error()}
	}

	recognized := 0
	var missing []string
	for table := range baseColumns {
		if tables[table] {
			recognized++
		} else {
			missing = append(missing, "table "+table)
		}
	}
	if recognized == 0 {
		return &NotAStoreError{Path: db.path, Reason: "no archive tables found"}
	}

	gen := Gen2
	for table, required := range baseColumns {
		if !tables[table] {
			continue
		}
		cols, err := db.columnNames(table)
		if err != nil {
			return fmt.Errorf("inspect %s: %w", table, err)
		}
		for _, col := range required {
			if !cols[col] {
				missing = append(missing, table+"."+col)
			}
		}
		for _, col := range gen2Columns[table] {
			if !cols[col] {
				gen = Gen1
			}
		}
	}
	if len(missing) > 0 {
		return &CorruptError{Path: db.path, Missing: missing}
	}
	db.gen = gen
	return nil
}

func (db *DB) tableNames() (map[string]bool, error) {
	rows, err := db.Query(`SELECT name FROM sqlite_master WHERE type = 'table'`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	names := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names[strings.ToLower(name)] = true
	}
	return names, rows.Err()
}

func (db *DB) columnNames(table string) (map[string]bool, error) {
	rows, err := db.Query(fmt.Sprintf(`PRAGMA table_info(%q)`, table))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	cols := make(map[string]bool)
	for rows.Next() {
		var (
			cid        int
			name, typ  string
			notnull    int
			dfltValue  sql.NullString
			primaryKey int
		)
		if err := rows.Scan(&cid, &name, &typ, &notnull, &dfltValue, &primaryKey); err != nil {
			return nil, err
		}
		cols[strings.ToLower(name)] = true
	}
	return cols, rows.Err()
}

// constraintErr maps SQLite constraint failures onto ErrConstraint.
func constraintErr(err error) error {
	if err == nil {
		return nil
	}
	var serr sqlite3.Error
	if errors.As(err, &serr) && serr.Code == sqlite3.ErrConstraint {
		return fmt.Errorf("%w: %v", ErrConstraint, err)
	}
	return err
}
