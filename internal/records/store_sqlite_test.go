package records

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"purchasedash/internal/analytics"
	"purchasedash/internal/cache"
	"purchasedash/internal/core"
	"purchasedash/internal/storage"
)

func newSQLiteTestStore(t *testing.T) Store {
	t.Helper()
	st, err := storage.NewSQLite(storage.SQLiteConfig{Path: filepath.Join(t.TempDir(), "records.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	store, err := NewStore(context.Background(), st)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func order(status string, amount float64, createdAt time.Time) Record {
	r := NewRecord(CollectionOrders, createdAt)
	r.Status = status
	r.TotalAmount = amount
	return r
}

func seedOrders(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, store.Insert(ctx,
		order("paid", 10, time.Date(2023, time.November, 30, 23, 0, 0, 0, time.UTC)),
		order("paid", 20, time.Date(2023, time.December, 1, 0, 0, 0, 0, time.UTC)),
		order("pending", 30, time.Date(2023, time.December, 15, 0, 0, 0, 0, time.UTC)),
		order("paid", 40, time.Date(2024, time.January, 3, 0, 0, 0, 0, time.UTC)),
		order("paid", 50, time.Date(2024, time.January, 31, 23, 59, 59, 0, time.UTC)),
		order("cancelled", 60, time.Date(2024, time.February, 10, 0, 0, 0, 0, time.UTC)),
	))
	product := NewRecord(CollectionProducts, time.Date(2024, time.January, 5, 0, 0, 0, 0, time.UTC))
	require.NoError(t, store.Insert(ctx, product))
}

var since = time.Date(2023, time.December, 1, 0, 0, 0, 0, time.UTC)

func TestSQLiteStore_GroupedCounts(t *testing.T) {
	store := newSQLiteTestStore(t)
	seedOrders(t, store)
	ctx := context.Background()

	tests := []struct {
		name   string
		filter analytics.Filter
		want   []analytics.GroupedCount
	}{
		{
			name: "time bound only",
			want: []analytics.GroupedCount{
				{Year: 2023, Month: 12, Count: 2},
				{Year: 2024, Month: 1, Count: 2},
				{Year: 2024, Month: 2, Count: 1},
			},
		},
		{
			name:   "equality",
			filter: analytics.Filter{"status": analytics.Eq(analytics.String("paid"))},
			want: []analytics.GroupedCount{
				{Year: 2023, Month: 12, Count: 1},
				{Year: 2024, Month: 1, Count: 2},
			},
		},
		{
			name:   "not equal",
			filter: analytics.Filter{"status": analytics.Ne(analytics.String("paid"))},
			want: []analytics.GroupedCount{
				{Year: 2023, Month: 12, Count: 1},
				{Year: 2024, Month: 2, Count: 1},
			},
		},
		{
			name:   "membership",
			filter: analytics.Filter{"status": analytics.In(analytics.String("pending"), analytics.String("cancelled"))},
			want: []analytics.GroupedCount{
				{Year: 2023, Month: 12, Count: 1},
				{Year: 2024, Month: 2, Count: 1},
			},
		},
		{
			name: "numeric range",
			filter: analytics.Filter{
				"totalAmount": analytics.Gte(analytics.Int(30)),
				"status":      analytics.Ne(analytics.String("cancelled")),
			},
			want: []analytics.GroupedCount{
				{Year: 2023, Month: 12, Count: 1},
				{Year: 2024, Month: 1, Count: 2},
			},
		},
		{
			name:   "no matches",
			filter: analytics.Filter{"staffId": analytics.Eq(analytics.String("nobody"))},
			want:   []analytics.GroupedCount{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pred, err := analytics.CompileFilter(since, tt.filter)
			require.NoError(t, err)

			got, err := store.GroupedCounts(ctx, CollectionOrders, pred)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSQLiteStore_RejectsBadFilters(t *testing.T) {
	store := newSQLiteTestStore(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		filter analytics.Filter
	}{
		{"unknown field", analytics.Filter{"colour": analytics.Eq(analytics.String("red"))}},
		{"text field with number", analytics.Filter{"status": analytics.Eq(analytics.Int(1))}},
		{"number field with text", analytics.Filter{"totalAmount": analytics.Gt(analytics.String("10"))}},
		{"boolean operand", analytics.Filter{"status": analytics.Eq(analytics.Bool(true))}},
		{"mixed list", analytics.Filter{"status": analytics.In(analytics.String("paid"), analytics.Int(2))}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pred, err := analytics.CompileFilter(since, tt.filter)
			require.NoError(t, err)

			_, err = store.GroupedCounts(ctx, CollectionOrders, pred)
			require.Error(t, err)
			assert.True(t, core.IsType(err, core.ErrorTypeConfig), "got %v", err)
		})
	}
}

func TestSQLiteStore_UnknownCollection(t *testing.T) {
	store := newSQLiteTestStore(t)

	_, err := store.GroupedCounts(context.Background(), "invoices", analytics.Predicate{Since: since})
	assert.True(t, core.IsType(err, core.ErrorTypeNotFound))

	err = store.Insert(context.Background(), NewRecord("invoices", since))
	assert.True(t, core.IsType(err, core.ErrorTypeNotFound))
}

func TestSQLiteStore_InsertFillsDefaults(t *testing.T) {
	store := newSQLiteTestStore(t).(*SQLiteStore)
	store.now = func() time.Time { return time.Date(2024, time.March, 2, 10, 0, 0, 0, time.UTC) }

	require.NoError(t, store.Insert(context.Background(), Record{Collection: CollectionTasks}))

	got, err := store.GroupedCounts(context.Background(), CollectionTasks, analytics.Predicate{Since: since})
	require.NoError(t, err)
	assert.Equal(t, []analytics.GroupedCount{{Year: 2024, Month: 3, Count: 1}}, got)
}

func TestSQLiteStore_DuplicateIDIsInvalidRequest(t *testing.T) {
	store := newSQLiteTestStore(t)
	ctx := context.Background()

	first := order("paid", 10, time.Date(2024, time.January, 3, 0, 0, 0, 0, time.UTC))
	require.NoError(t, store.Insert(ctx, first))

	err := store.Insert(ctx, first)
	require.Error(t, err)
	assert.True(t, core.IsType(err, core.ErrorTypeInvalidRequest), "got %v", err)

	dup := order("paid", 20, time.Date(2024, time.January, 4, 0, 0, 0, 0, time.UTC))
	err = store.Insert(ctx, dup, dup)
	assert.True(t, core.IsType(err, core.ErrorTypeInvalidRequest), "got %v", err)

	got, err := store.GroupedCounts(ctx, CollectionOrders, analytics.Predicate{Since: since})
	require.NoError(t, err)
	assert.Equal(t, []analytics.GroupedCount{{Year: 2024, Month: 1, Count: 1}}, got, "failed batches must roll back")
}

func TestSQLiteStore_InsertManyChunks(t *testing.T) {
	store := newSQLiteTestStore(t)

	batch := make([]Record, 3*maxRecordsPerInsert+7)
	for i := range batch {
		batch[i] = NewRecord(CollectionSuppliers, time.Date(2024, time.January, 1+i%28, 0, 0, 0, 0, time.UTC))
	}
	require.NoError(t, store.Insert(context.Background(), batch...))

	got, err := store.GroupedCounts(context.Background(), CollectionSuppliers, analytics.Predicate{Since: since})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, int64(len(batch)), got[0].Count)
}

func TestMigrateSQLite_Idempotent(t *testing.T) {
	st, err := storage.NewSQLite(storage.SQLiteConfig{Path: filepath.Join(t.TempDir(), "records.db")})
	require.NoError(t, err)
	defer st.Close()

	require.NoError(t, MigrateSQLite(st.SQLiteDB()))
	require.NoError(t, MigrateSQLite(st.SQLiteDB()))
	assert.NoError(t, st.Ping(context.Background()), "migrations must leave the shared connection open")
}

func TestFetcher_DrivesEngine(t *testing.T) {
	store := newSQLiteTestStore(t)
	seedOrders(t, store)

	now := time.Date(2024, time.February, 20, 12, 0, 0, 0, time.UTC)
	engine, err := analytics.NewEngine(
		Fetcher(store, CollectionOrders),
		cache.NewLocal[analytics.CacheKey, analytics.MonthlySeries](cache.Options{}),
		analytics.WithClock(func() time.Time { return now }),
	)
	require.NoError(t, err)

	req := analytics.NewTimeSeriesRequest(3, analytics.Filter{"status": analytics.Eq(analytics.String("paid"))})

	discrete, err := engine.ComputeDiscreteSeries(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, []string{"Dec 2023", "Jan 2024", "Feb 2024"}, discrete.Months)
	assert.Equal(t, []int64{1, 2, 0}, discrete.Counts)

	cumulative, err := engine.ComputeCumulativeSeries(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 3, 3}, cumulative.Counts)
}

func TestFetcher_UnknownFieldSurfacesAsConfigError(t *testing.T) {
	store := newSQLiteTestStore(t)
	engine, err := analytics.NewEngine(
		Fetcher(store, CollectionOrders),
		cache.NewLocal[analytics.CacheKey, analytics.MonthlySeries](cache.Options{}),
	)
	require.NoError(t, err)

	_, err = engine.ComputeDiscreteSeries(context.Background(),
		analytics.NewTimeSeriesRequest(2, analytics.Filter{"colour": analytics.Eq(analytics.String("red"))}))
	require.Error(t, err)
	assert.True(t, core.IsType(err, core.ErrorTypeConfig))
}
