package analytics

import (
	"errors"
	"fmt"

	"purchasedash/internal/core"
)

// AggregationError reports a failed series computation together with the request
// that triggered it. Its chain contains a *core.Error, normally of type fetch_error.
type AggregationError struct {
	Request TimeSeriesRequest
	Variant Variant
	Err     error
}

func (e *AggregationError) Error() string {
	return fmt.Sprintf("%s series (%s): %v", e.Variant, e.Request, e.Err)
}

func (e *AggregationError) Unwrap() error {
	return e.Err
}

// asFetchError keeps typed errors raised by a store (for example an unknown filter
// field) and classifies everything else as a fetch failure.
func asFetchError(err error) error {
	var typed *core.Error
	if errors.As(err, &typed) {
		return err
	}
	return core.NewFetchError(err)
}
