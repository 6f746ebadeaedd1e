package store

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/chatvault/chatvault/internal/report"
)

// recoverOrder copies parents before children so foreign keys hold.
var recoverOrder = []string{"contacts", "chats", "chat_participants", "messages", "transfers"}

// Recover rebuilds a fresh archive shell beside a damaged one and copies
// over every row that can still be read, preserving original row ids so
// references stay intact. Missing tables and unreadable rows become
// anomalies rather than failures; the rebuilt archive lives at
// <path>.recovered. The damaged file is never modified.
func Recover(path string) (*DB, []report.Anomaly, error) {
	raw, err := sql.Open("sqlite3", path+dsnParams)
	if err != nil {
		return nil, nil, fmt.Errorf("open damaged archive: %w", err)
	}
	defer func() { _ = raw.Close() }()
	if err := raw.Ping(); err != nil {
		return nil, nil, &NotAStoreError{Path: path, Reason: err.Error()}
	}
	damaged := &DB{DB: raw, path: path}

	rebuilt, err := Create(path + ".recovered")
	if err != nil {
		return nil, nil, fmt.Errorf("create rebuilt archive: %w", err)
	}

	tables, err := damaged.tableNames()
	if err != nil {
		_ = rebuilt.Close()
		return nil, nil, &NotAStoreError{Path: path, Reason: err.Error()}
	}

	var anomalies []report.Anomaly
	for _, table := range recoverOrder {
		if !tables[table] {
			anomalies = append(anomalies, report.Anomaly{
				Kind:    report.AnomalySchemaRecovered,
				Context: fmt.Sprintf("table %s missing, its rows are unrecoverable", table),
			})
			continue
		}
		tableAnomalies, err := copyTable(damaged, rebuilt, table)
		if err != nil {
			_ = rebuilt.Close()
			return nil, nil, fmt.Errorf("recover %s: %w", table, err)
		}
		anomalies = append(anomalies, tableAnomalies...)
	}
	return rebuilt, anomalies, nil
}

// copyTable copies the readable rows of one table, restricted to the
// columns both sides share. Unknown extra columns in the damaged archive
// are treated as opaque and dropped.
func copyTable(from, to *DB, table string) ([]report.Anomaly, error) {
	fromCols, err := from.columnNames(table)
	if err != nil {
		return nil, err
	}
	toCols, err := to.columnNames(table)
	if err != nil {
		return nil, err
	}

	var cols []string
	for _, col := range append(append([]string{}, baseColumns[table]...), gen2Columns[table]...) {
		if fromCols[col] && toCols[col] {
			cols = append(cols, col)
		}
	}
	if len(cols) == 0 {
		return []report.Anomaly{{
			Kind:    report.AnomalySchemaRecovered,
			Context: fmt.Sprintf("table %s shares no recognized columns, its rows are unrecoverable", table),
		}}, nil
	}

	colList := strings.Join(cols, ", ")
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")
	selectSQL := fmt.Sprintf("SELECT %s FROM %s", colList, table)
	insertSQL := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table, colList, placeholders)

	rows, err := from.Query(selectSQL)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	tx, err := to.Begin()
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var anomalies []report.Anomaly
	values := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range values {
		ptrs[i] = &values[i]
	}
	row := 0
	for rows.Next() {
		row++
		if err := rows.Scan(ptrs...); err != nil {
			anomalies = append(anomalies, report.Anomaly{
				Kind:    report.AnomalyUnreadableRow,
				Context: fmt.Sprintf("%s row %d: %v", table, row, err),
			})
			continue
		}
		if _, err := tx.Exec(insertSQL, values...); err != nil {
			anomalies = append(anomalies, report.Anomaly{
				Kind:    report.AnomalyUnreadableRow,
				Context: fmt.Sprintf("%s row %d: %v", table, row, err),
			})
		}
	}
	if err := rows.Err(); err != nil {
		// A mid-scan read error loses the remainder of the table.
		anomalies = append(anomalies, report.Anomaly{
			Kind:    report.AnomalyUnreadableRow,
			Context: fmt.Sprintf("%s truncated after row %d: %v", table, row, err),
		})
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return anomalies, nil
}
