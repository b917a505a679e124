package records

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"purchasedash/internal/analytics"
)

var mongoOperators = map[analytics.Operator]string{
	analytics.OpNe:  "$ne",
	analytics.OpGt:  "$gt",
	analytics.OpGte: "$gte",
	analytics.OpLt:  "$lt",
	analytics.OpLte: "$lte",
	analytics.OpIn:  "$in",
}

// MongoDBStore implements Store on a single "records" collection.
type MongoDBStore struct {
	collection *mongo.Collection
	now        func() time.Time
}

// NewMongoDBStore creates the store and its {collection, createdAt} index.
func NewMongoDBStore(ctx context.Context, database *mongo.Database) (*MongoDBStore, error) {
	if database == nil {
		return nil, fmt.Errorf("database is required")
	}

	coll := database.Collection("records")
	_, err := coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "collection", Value: 1}, {Key: "createdAt", Value: 1}},
	})
	if err != nil {
		slog.Warn("failed to create MongoDB index for records", "error", err)
	}

	return &MongoDBStore{collection: coll, now: time.Now}, nil
}

// Insert writes records with an unordered InsertMany.
func (s *MongoDBStore) Insert(ctx context.Context, records ...Record) error {
	if len(records) == 0 {
		return nil
	}
	prepared, err := prepareRecords(records, s.now())
	if err != nil {
		return err
	}

	docs := make([]interface{}, len(prepared))
	for i, r := range prepared {
		docs[i] = r
	}

	_, err = s.collection.InsertMany(ctx, docs, options.InsertMany().SetOrdered(false))
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return errDuplicateID(err)
		}
		var bulkErr mongo.BulkWriteException
		if errors.As(err, &bulkErr) {
			return fmt.Errorf("failed to insert %d of %d records: %w", len(bulkErr.WriteErrors), len(prepared), err)
		}
		return fmt.Errorf("failed to insert records: %w", err)
	}
	return nil
}

// GroupedCounts implements Store with a $match/$group aggregation.
func (s *MongoDBStore) GroupedCounts(ctx context.Context, collection string, pred analytics.Predicate) ([]analytics.GroupedCount, error) {
	if err := checkCollection(collection); err != nil {
		return nil, err
	}
	match, err := mongoMatch(collection, pred)
	if err != nil {
		return nil, err
	}

	pipeline := bson.A{
		bson.D{{Key: "$match", Value: match}},
		bson.D{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: bson.D{
				{Key: "year", Value: bson.D{{Key: "$year", Value: "$createdAt"}}},
				{Key: "month", Value: bson.D{{Key: "$month", Value: "$createdAt"}}},
			}},
			{Key: "count", Value: bson.D{{Key: "$sum", Value: 1}}},
		}}},
		bson.D{{Key: "$sort", Value: bson.D{{Key: "_id.year", Value: 1}, {Key: "_id.month", Value: 1}}}},
	}

	cursor, err := s.collection.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate grouped counts: %w", err)
	}
	defer cursor.Close(ctx)

	result := make([]analytics.GroupedCount, 0)
	for cursor.Next(ctx) {
		var row struct {
			ID struct {
				Year  int `bson:"year"`
				Month int `bson:"month"`
			} `bson:"_id"`
			Count int64 `bson:"count"`
		}
		if err := cursor.Decode(&row); err != nil {
			return nil, fmt.Errorf("failed to decode grouped count: %w", err)
		}
		result = append(result, analytics.GroupedCount{Year: row.ID.Year, Month: row.ID.Month, Count: row.Count})
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("cursor error: %w", err)
	}
	return result, nil
}

// Close is a no-op; the client belongs to storage.
func (s *MongoDBStore) Close() error {
	return nil
}

func mongoMatch(collection string, pred analytics.Predicate) (bson.D, error) {
	match := bson.D{
		{Key: "collection", Value: collection},
		{Key: "createdAt", Value: bson.D{{Key: "$gte", Value: pred.Since.UTC()}}},
	}

	for _, fc := range pred.Conditions {
		if _, err := resolve(fc); err != nil {
			return nil, err
		}
		if fc.Op == analytics.OpEq {
			match = append(match, bson.E{Key: fc.Field, Value: fc.Value.Interface()})
			continue
		}
		op, ok := mongoOperators[fc.Op]
		if !ok {
			return nil, fmt.Errorf("unsupported operator %q", fc.Op)
		}
		match = append(match, bson.E{Key: fc.Field, Value: bson.D{{Key: op, Value: fc.Value.Interface()}}})
	}
	return match, nil
}
