package analytics

import (
	"fmt"
	"strings"
)

// TimeSeriesRequest describes one chart: how many months to cover and which records
// to count. It is immutable; the filter is copied in and out.
type TimeSeriesRequest struct {
	monthsBack int
	filter     Filter
}

// NewTimeSeriesRequest builds a request. monthsBack is validated by the engine, not
// here, so that invalid input is reported through the normal error path.
func NewTimeSeriesRequest(monthsBack int, filter Filter) TimeSeriesRequest {
	return TimeSeriesRequest{
		monthsBack: monthsBack,
		filter:     filter.Clone(),
	}
}

// DefaultRequest covers DefaultMonthsBack months with no extra filter.
func DefaultRequest() TimeSeriesRequest {
	return NewTimeSeriesRequest(DefaultMonthsBack, nil)
}

func (r TimeSeriesRequest) MonthsBack() int { return r.monthsBack }

// Filter returns a copy of the request's extra filter.
func (r TimeSeriesRequest) Filter() Filter { return r.filter.Clone() }

// String renders the request for logs and error messages.
func (r TimeSeriesRequest) String() string {
	if len(r.filter) == 0 {
		return fmt.Sprintf("monthsBack=%d", r.monthsBack)
	}
	parts := make([]string, 0, len(r.filter))
	for _, field := range r.filter.Fields() {
		cond := r.filter[field]
		parts = append(parts, fmt.Sprintf("%s %s %s", field, cond.Op, cond.Value))
	}
	return fmt.Sprintf("monthsBack=%d filter={%s}", r.monthsBack, strings.Join(parts, ", "))
}
