//go:build integration

// Package dbassert reads the records table directly so tests can check what a
// request actually persisted.
package dbassert

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
)

// CountRecords returns how many rows of collection are stored in PostgreSQL.
func CountRecords(t *testing.T, pool *pgxpool.Pool, collection string) int64 {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var n int64
	err := pool.QueryRow(ctx, `SELECT COUNT(*) FROM records WHERE collection = $1`, collection).Scan(&n)
	require.NoError(t, err, "failed to count records")
	return n
}

// CountRecordsMongo returns how many documents of collection are stored in MongoDB.
func CountRecordsMongo(t *testing.T, db *mongo.Database, collection string) int64 {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	n, err := db.Collection("records").CountDocuments(ctx, bson.M{"collection": collection})
	require.NoError(t, err, "failed to count records in MongoDB")
	return n
}

// ClearRecords empties the PostgreSQL records table.
func ClearRecords(t *testing.T, pool *pgxpool.Pool) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := pool.Exec(ctx, `TRUNCATE records`)
	require.NoError(t, err, "failed to clear records")
}

// ClearRecordsMongo drops every stored document.
func ClearRecordsMongo(t *testing.T, db *mongo.Database) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := db.Collection("records").DeleteMany(ctx, bson.M{})
	require.NoError(t, err, "failed to clear MongoDB records")
}
