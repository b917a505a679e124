package analytics

import (
	"fmt"
	"time"

	"purchasedash/internal/core"
)

// BuildMonthAxis returns n buckets ending with the month that contains now,
// oldest first. Months are computed in UTC, the same zone the record stores
// group by.
func BuildMonthAxis(now time.Time, n int) ([]MonthBucket, error) {
	if n < 1 {
		return nil, core.NewValidationError(fmt.Sprintf("monthsBack must be at least 1, got %d", n))
	}

	now = now.UTC()
	current := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)

	axis := make([]MonthBucket, 0, n)
	for i := n - 1; i >= 0; i-- {
		// Day 1 never overflows, so AddDate handles the year rollover.
		m := current.AddDate(0, -i, 0)
		axis = append(axis, NewMonthBucket(m.Year(), m.Month()))
	}
	return axis, nil
}
