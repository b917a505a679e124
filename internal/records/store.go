package records

import (
	"context"
	"fmt"
	"time"

	"purchasedash/internal/analytics"
	"purchasedash/internal/core"
	"purchasedash/internal/storage"
)

// Store persists records and answers grouped monthly counts.
// Implementations must be safe for concurrent use.
type Store interface {
	// Insert writes records. Missing IDs and timestamps are filled in.
	Insert(ctx context.Context, records ...Record) error

	// GroupedCounts counts the records of collection matching pred, grouped by the
	// UTC calendar month of their creation time.
	GroupedCounts(ctx context.Context, collection string, pred analytics.Predicate) ([]analytics.GroupedCount, error)

	// Close releases store resources. The shared storage connection stays open.
	Close() error
}

// NewStore creates the store for the backend behind s, applying schema migrations
// or indexes first.
func NewStore(ctx context.Context, s storage.Storage) (Store, error) {
	if s == nil {
		return nil, fmt.Errorf("storage is required")
	}

	switch s.Type() {
	case storage.TypeSQLite:
		if err := MigrateSQLite(s.SQLiteDB()); err != nil {
			return nil, err
		}
		return NewSQLiteStore(s.SQLiteDB())
	case storage.TypePostgreSQL:
		if err := MigratePostgreSQL(s.PostgreSQLPool()); err != nil {
			return nil, err
		}
		return NewPostgreSQLStore(s.PostgreSQLPool())
	case storage.TypeMongoDB:
		return NewMongoDBStore(ctx, s.MongoDatabase())
	default:
		return nil, fmt.Errorf("unknown storage type: %s", s.Type())
	}
}

// Fetcher adapts one collection of a Store to the analytics engine.
func Fetcher(store Store, collection string) analytics.GroupedCountFetcher {
	return analytics.FetcherFunc(func(ctx context.Context, pred analytics.Predicate) ([]analytics.GroupedCount, error) {
		return store.GroupedCounts(ctx, collection, pred)
	})
}

func checkCollection(collection string) error {
	if !IsCollection(collection) {
		return core.NewNotFoundError(fmt.Sprintf("unknown collection %q", collection))
	}
	return nil
}

// errDuplicateID reports a record whose ID is already stored.
func errDuplicateID(err error) error {
	return core.NewInvalidRequestError("a record with this id already exists", err)
}

func prepareRecords(records []Record, now time.Time) ([]Record, error) {
	out := make([]Record, len(records))
	for i, r := range records {
		if err := checkCollection(r.Collection); err != nil {
			return nil, err
		}
		out[i] = normalize(r, now)
	}
	return out, nil
}
