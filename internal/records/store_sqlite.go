package records

import (
	"context"
	"database/sql"
	"fmt"
	"errors"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"purchasedash/internal/analytics"
)

// SQLite caps bound parameters per statement at 999.
const (
	maxSQLiteParams     = 999
	columnsPerRecord    = 8
	maxRecordsPerInsert = maxSQLiteParams / columnsPerRecord
)

// sqliteTimeLayout is fixed width so that text comparison orders chronologically.
const sqliteTimeLayout = "2006-01-02T15:04:05.000Z"

var sqliteDialect = sqlDialect{
	placeholder: func(int) string { return "?" },
	timeArg:     func(t time.Time) interface{} { return t.UTC().Format(sqliteTimeLayout) },
}

// SQLiteStore implements Store on an SQLite database migrated by MigrateSQLite.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStore wraps an already migrated database.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	return &SQLiteStore{db: db, now: time.Now}, nil
}

// Insert writes records in multi-row statements inside one transaction.
func (s *SQLiteStore) Insert(ctx context.Context, records ...Record) error {
	if len(records) == 0 {
		return nil
	}
	prepared, err := prepareRecords(records, s.now())
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	for start := 0; start < len(prepared); start += maxRecordsPerInsert {
		end := min(start+maxRecordsPerInsert, len(prepared))
		chunk := prepared[start:end]

		rows := make([]string, len(chunk))
		args := make([]interface{}, 0, len(chunk)*columnsPerRecord)
		for i, r := range chunk {
			rows[i] = "(?, ?, ?, ?, ?, ?, ?, ?)"
			args = append(args, r.ID, r.Collection, r.Status, r.CategoryID, r.SupplierID,
				r.StaffID, r.TotalAmount, r.CreatedAt.Format(sqliteTimeLayout))
		}

		query := `INSERT INTO records (id, collection, status, category_id, supplier_id, staff_id, total_amount, created_at)
			VALUES ` + strings.Join(rows, ", ")
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			if isSQLiteDuplicate(err) {
				return errDuplicateID(err)
			}
			return fmt.Errorf("failed to insert records: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// GroupedCounts implements Store.
func (s *SQLiteStore) GroupedCounts(ctx context.Context, collection string, pred analytics.Predicate) ([]analytics.GroupedCount, error) {
	if err := checkCollection(collection); err != nil {
		return nil, err
	}
	where, args, err := sqliteDialect.whereClause(collection, pred)
	if err != nil {
		return nil, err
	}

	query := `SELECT CAST(strftime('%Y', created_at) AS INTEGER) AS year,
			CAST(strftime('%m', created_at) AS INTEGER) AS month, COUNT(*)
		FROM records WHERE ` + where + ` GROUP BY year, month ORDER BY year, month`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query grouped counts: %w", err)
	}
	defer rows.Close()

	result := make([]analytics.GroupedCount, 0)
	for rows.Next() {
		var c analytics.GroupedCount
		if err := rows.Scan(&c.Year, &c.Month, &c.Count); err != nil {
			return nil, fmt.Errorf("failed to scan grouped count row: %w", err)
		}
		result = append(result, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating grouped count rows: %w", err)
	}
	return result, nil
}

// Close is a no-op; the connection belongs to storage.
func (s *SQLiteStore) Close() error {
	return nil
}

func isSQLiteDuplicate(err error) bool {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	switch sqliteErr.Code() {
	case sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3.SQLITE_CONSTRAINT_UNIQUE:
		return true
	case sqlite3.SQLITE_CONSTRAINT:
		return strings.Contains(sqliteErr.Error(), "UNIQUE")
	}
	return false
}
