package analytics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"purchasedash/internal/core"
)

// GroupedCountFetcher runs the one grouped aggregation a series needs: count the
// records matching pred, grouped by (year, month) of their creation time.
type GroupedCountFetcher interface {
	FetchGroupedCounts(ctx context.Context, pred Predicate) ([]GroupedCount, error)
}

// FetcherFunc adapts a function to GroupedCountFetcher.
type FetcherFunc func(ctx context.Context, pred Predicate) ([]GroupedCount, error)

func (f FetcherFunc) FetchGroupedCounts(ctx context.Context, pred Predicate) ([]GroupedCount, error) {
	return f(ctx, pred)
}

// CacheStore memoizes computed series. It is owned by the caller and must be safe
// for concurrent use. Stored values are treated as immutable.
type CacheStore interface {
	Get(key CacheKey) (MonthlySeries, bool)
	Set(key CacheKey, series MonthlySeries)
}

// Observer receives engine events, typically to feed metrics.
type Observer interface {
	CacheHit(variant Variant)
	CacheMiss(variant Variant)
	FlightShared(variant Variant)
	FetchCompleted(elapsed time.Duration, err error)
}

type nopObserver struct{}

func (nopObserver) CacheHit(Variant)                    {}
func (nopObserver) CacheMiss(Variant)                   {}
func (nopObserver) FlightShared(Variant)                {}
func (nopObserver) FetchCompleted(time.Duration, error) {}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the source of "now". Tests pin it to a fixed instant.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithObserver registers an event observer.
func WithObserver(o Observer) Option {
	return func(e *Engine) {
		if o != nil {
			e.observer = o
		}
	}
}

// WithLogger sets the logger used for cache misses and fetch failures.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithMaxMonthsBack caps the window size. Zero means no cap.
func WithMaxMonthsBack(n int) Option {
	return func(e *Engine) {
		e.maxMonthsBack = n
	}
}

// maxFlightAttempts bounds how often a waiting caller restarts a shared
// computation whose originating caller was cancelled.
const maxFlightAttempts = 3

// Engine computes monthly series through a GroupedCountFetcher and memoizes them in
// a caller-supplied CacheStore. It is safe for concurrent use: concurrent misses on
// the same key share one fetch.
type Engine struct {
	fetcher       GroupedCountFetcher
	cache         CacheStore
	now           func() time.Time
	observer      Observer
	logger        *slog.Logger
	maxMonthsBack int

	flights singleflight.Group
}

// NewEngine creates an engine. Both fetcher and cache are required.
func NewEngine(fetcher GroupedCountFetcher, cache CacheStore, opts ...Option) (*Engine, error) {
	if fetcher == nil {
		return nil, fmt.Errorf("fetcher is required")
	}
	if cache == nil {
		return nil, fmt.Errorf("cache store is required")
	}

	e := &Engine{
		fetcher:  fetcher,
		cache:    cache,
		now:      time.Now,
		observer: nopObserver{},
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// ComputeDiscreteSeries returns the number of matching records created in each month
// of the requested window.
func (e *Engine) ComputeDiscreteSeries(ctx context.Context, req TimeSeriesRequest) (MonthlySeries, error) {
	return e.compute(ctx, req, VariantDiscrete)
}

// ComputeCumulativeSeries returns running totals over the requested window.
// The total starts at zero at the beginning of the window.
func (e *Engine) ComputeCumulativeSeries(ctx context.Context, req TimeSeriesRequest) (MonthlySeries, error) {
	return e.compute(ctx, req, VariantCumulative)
}

// plan is everything derived from a request before any I/O.
type plan struct {
	req     TimeSeriesRequest
	variant Variant
	axis    []MonthBucket
	pred    Predicate
	key     CacheKey
}

func (e *Engine) prepare(req TimeSeriesRequest, variant Variant) (plan, error) {
	n := req.MonthsBack()
	if n < 1 {
		return plan{}, core.NewValidationError(fmt.Sprintf("monthsBack must be at least 1, got %d", n))
	}
	if e.maxMonthsBack > 0 && n > e.maxMonthsBack {
		return plan{}, core.NewValidationError(fmt.Sprintf("monthsBack must be at most %d, got %d", e.maxMonthsBack, n))
	}

	axis, err := BuildMonthAxis(e.now(), n)
	if err != nil {
		return plan{}, err
	}

	pred, err := CompileFilter(axis[0].Start(), req.filter)
	if err != nil {
		return plan{}, err
	}

	p := plan{req: req, axis: axis, pred: pred}
	return p.as(variant), nil
}

// as returns the same plan keyed for another variant.
func (p plan) as(variant Variant) plan {
	anchor := p.axis[len(p.axis)-1].Start()
	p.variant = variant
	p.key = BuildCacheKey(variant, p.req.MonthsBack(), anchor, p.req.filter)
	return p
}

func (e *Engine) compute(ctx context.Context, req TimeSeriesRequest, variant Variant) (MonthlySeries, error) {
	p, err := e.prepare(req, variant)
	if err != nil {
		return MonthlySeries{}, err
	}

	series, err := e.lookupOrBuild(ctx, p)
	if err != nil {
		return MonthlySeries{}, err
	}
	return series.Clone(), nil
}

func (e *Engine) lookupOrBuild(ctx context.Context, p plan) (MonthlySeries, error) {
	if series, ok := e.cache.Get(p.key); ok {
		e.observer.CacheHit(p.variant)
		return series, nil
	}
	e.observer.CacheMiss(p.variant)
	e.logger.Debug("series cache miss", "key", p.key, "variant", p.variant, "months_back", p.req.MonthsBack())

	for attempt := 1; ; attempt++ {
		ch := e.flights.DoChan(string(p.key), func() (interface{}, error) {
			// A flight for this key may have completed between our lookup and now.
			if series, ok := e.cache.Get(p.key); ok {
				return series, nil
			}
			return e.build(ctx, p)
		})

		select {
		case <-ctx.Done():
			return MonthlySeries{}, ctx.Err()
		case res := <-ch:
			if res.Shared {
				e.observer.FlightShared(p.variant)
			}
			if res.Err == nil {
				return res.Val.(MonthlySeries), nil
			}
			// The flight runs under the context of whichever caller started it. If
			// that caller went away, callers that are still waiting start a new one.
			if res.Shared && isCancellation(res.Err) && ctx.Err() == nil && attempt < maxFlightAttempts {
				e.logger.Debug("shared series flight cancelled, retrying", "key", p.key, "attempt", attempt)
				continue
			}
			return MonthlySeries{}, res.Err
		}
	}
}

// build runs the pipeline for a cache miss and commits the result only on success.
func (e *Engine) build(ctx context.Context, p plan) (MonthlySeries, error) {
	var series MonthlySeries

	switch p.variant {
	case VariantCumulative:
		base, err := e.lookupOrBuild(ctx, p.as(VariantDiscrete))
		if err != nil {
			var aggErr *AggregationError
			if errors.As(err, &aggErr) {
				return MonthlySeries{}, &AggregationError{Request: p.req, Variant: p.variant, Err: aggErr.Err}
			}
			if isCancellation(err) {
				return MonthlySeries{}, &AggregationError{Request: p.req, Variant: p.variant, Err: asFetchError(err)}
			}
			return MonthlySeries{}, err
		}
		series = Cumulative(base)

	default:
		start := time.Now()
		counts, err := e.fetcher.FetchGroupedCounts(ctx, p.pred)
		e.observer.FetchCompleted(time.Since(start), err)
		if err != nil && isCancellation(err) {
			e.logger.Debug("grouped count fetch cancelled",
				"key", p.key,
				"variant", p.variant,
				"error", err,
			)
			return MonthlySeries{}, &AggregationError{Request: p.req, Variant: p.variant, Err: asFetchError(err)}
		}
		if err != nil {
			e.logger.Warn("grouped count fetch failed",
				"key", p.key,
				"variant", p.variant,
				"months_back", p.req.MonthsBack(),
				"error", err,
			)
			return MonthlySeries{}, &AggregationError{Request: p.req, Variant: p.variant, Err: asFetchError(err)}
		}
		series = MergeCounts(p.axis, counts)
	}

	e.cache.Set(p.key, series)
	return series, nil
}

// isCancellation reports whether err comes from a cancelled or expired context.
func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
