package records

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"purchasedash/internal/analytics"
)

var postgresDialect = sqlDialect{
	placeholder: func(n int) string { return "$" + strconv.Itoa(n) },
	timeArg:     func(t time.Time) interface{} { return t },
}

// PostgreSQLStore implements Store on a PostgreSQL pool migrated by MigratePostgreSQL.
type PostgreSQLStore struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewPostgreSQLStore wraps an already migrated pool.
func NewPostgreSQLStore(pool *pgxpool.Pool) (*PostgreSQLStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("connection pool is required")
	}
	return &PostgreSQLStore{pool: pool, now: time.Now}, nil
}

// Insert writes records in a single transaction.
func (s *PostgreSQLStore) Insert(ctx context.Context, records ...Record) error {
	if len(records) == 0 {
		return nil
	}
	prepared, err := prepareRecords(records, s.now())
	if err != nil {
		return err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	for _, r := range prepared {
		_, err := tx.Exec(ctx, `
			INSERT INTO records (id, collection, status, category_id, supplier_id, staff_id, total_amount, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, r.ID, r.Collection, r.Status, r.CategoryID, r.SupplierID, r.StaffID, r.TotalAmount, r.CreatedAt)
		if err != nil {
			if isPostgresDuplicate(err) {
				return errDuplicateID(err)
			}
			return fmt.Errorf("insert %s: %w", r.ID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// GroupedCounts implements Store.
func (s *PostgreSQLStore) GroupedCounts(ctx context.Context, collection string, pred analytics.Predicate) ([]analytics.GroupedCount, error) {
	if err := checkCollection(collection); err != nil {
		return nil, err
	}
	where, args, err := postgresDialect.whereClause(collection, pred)
	if err != nil {
		return nil, err
	}

	query := `SELECT EXTRACT(YEAR FROM created_at AT TIME ZONE 'UTC')::int AS year,
			EXTRACT(MONTH FROM created_at AT TIME ZONE 'UTC')::int AS month, COUNT(*)
		FROM records WHERE ` + where + ` GROUP BY 1, 2 ORDER BY 1, 2`

	rows, err := s.pool.Query(ctx, query, args...)
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

// Close is a no-op; the pool belongs to storage.
func (s *PostgreSQLStore) Close() error {
	return nil
}

// uniqueViolation is the SQLSTATE for a duplicate key.
const uniqueViolation = "23505"

func isPostgresDuplicate(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
