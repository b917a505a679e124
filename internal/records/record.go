// Package records stores the dashboard's source documents and answers grouped
// monthly count queries over them for the analytics engine.
package records

import (
	"slices"
	"time"

	"github.com/google/uuid"
)

// Collections served by the dashboard.
const (
	CollectionOrders     = "orders"
	CollectionProducts   = "products"
	CollectionSuppliers  = "suppliers"
	CollectionCategories = "categories"
	CollectionTasks      = "tasks"
)

var collections = []string{
	CollectionOrders,
	CollectionProducts,
	CollectionSuppliers,
	CollectionCategories,
	CollectionTasks,
}

// Collections returns the known collection names in display order.
func Collections() []string {
	return slices.Clone(collections)
}

// IsCollection reports whether name is a known collection.
func IsCollection(name string) bool {
	return slices.Contains(collections, name)
}

// Record is one document of a collection. Only the attributes the dashboard filters
// on are modelled.
type Record struct {
	ID          string    `json:"id" bson:"_id"`
	Collection  string    `json:"collection" bson:"collection"`
	Status      string    `json:"status" bson:"status" validate:"max=64"`
	CategoryID  string    `json:"categoryId" bson:"categoryId" validate:"max=64"`
	SupplierID  string    `json:"supplierId" bson:"supplierId" validate:"max=64"`
	StaffID     string    `json:"staffId" bson:"staffId" validate:"max=64"`
	TotalAmount float64   `json:"totalAmount" bson:"totalAmount" validate:"gte=0"`
	CreatedAt   time.Time `json:"createdAt" bson:"createdAt"`
}

// NewRecord returns a record with a fresh ID.
func NewRecord(collection string, createdAt time.Time) Record {
	return Record{
		ID:         uuid.NewString(),
		Collection: collection,
		CreatedAt:  createdAt.UTC(),
	}
}

// normalize fills the ID and timestamp of incoming records.
func normalize(r Record, now time.Time) Record {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	r.CreatedAt = r.CreatedAt.UTC()
	return r
}
