// Package analytics turns timestamped records into fixed-length monthly count series
// for dashboard charts and memoizes the results.
//
// A series always covers exactly the requested window: one entry per calendar month,
// oldest first, ending with the month that contains "now". Months with no matching
// records are present with a zero count.
package analytics

import (
	"fmt"
	"time"
)

// DefaultMonthsBack is the window used when a caller does not specify one.
const DefaultMonthsBack = 6

// Variant selects between per-month counts and running totals.
type Variant string

const (
	// VariantDiscrete yields the number of records created in each month.
	VariantDiscrete Variant = "discrete"
	// VariantCumulative yields the running total up to and including each month.
	VariantCumulative Variant = "cumulative"
)

var shortMonthNames = [12]string{
	"Jan", "Feb", "Mar", "Apr", "May", "Jun",
	"Jul", "Aug", "Sep", "Oct", "Nov", "Dec",
}

// MonthBucket is a single calendar month position in a requested window.
type MonthBucket struct {
	Year  int
	Month time.Month
	Label string
}

// NewMonthBucket builds the bucket for (year, month). The label is derived from a
// fixed English table, never from locale settings.
func NewMonthBucket(year int, month time.Month) MonthBucket {
	return MonthBucket{
		Year:  year,
		Month: month,
		Label: fmt.Sprintf("%s %04d", shortMonthNames[month-1], year),
	}
}

// Start returns the first instant of the bucket in UTC.
func (b MonthBucket) Start() time.Time {
	return time.Date(b.Year, b.Month, 1, 0, 0, 0, 0, time.UTC)
}

// GroupedCount is a raw per-month count reported by a record store.
// Stores may omit empty months, return them in any order, and in degenerate
// cases report the same month more than once.
type GroupedCount struct {
	Year  int   `json:"year" bson:"year"`
	Month int   `json:"month" bson:"month"`
	Count int64 `json:"count" bson:"count"`
}

// MonthlySeries is the chart payload: parallel arrays of month labels and counts.
type MonthlySeries struct {
	Months []string `json:"months"`
	Counts []int64  `json:"counts"`
}

// Len returns the number of months in the series.
func (s MonthlySeries) Len() int {
	return len(s.Months)
}

// Clone returns a deep copy so callers never share backing arrays with a cache entry.
func (s MonthlySeries) Clone() MonthlySeries {
	out := MonthlySeries{
		Months: make([]string, len(s.Months)),
		Counts: make([]int64, len(s.Counts)),
	}
	copy(out.Months, s.Months)
	copy(out.Counts, s.Counts)
	return out
}

// Total returns the sum of all counts.
func (s MonthlySeries) Total() int64 {
	var total int64
	for _, c := range s.Counts {
		total += c
	}
	return total
}
