// Package dashboard owns one analytics engine and series cache per collection and
// keeps the caches consistent with writes that go through it.
package dashboard

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"purchasedash/internal/analytics"
	"purchasedash/internal/cache"
	"purchasedash/internal/core"
	"purchasedash/internal/observability"
	"purchasedash/internal/records"
)

// SeriesCache is the per-collection store injected into each engine.
type SeriesCache = cache.Local[analytics.CacheKey, analytics.MonthlySeries]

// Options configures a Service.
type Options struct {
	// Collections to serve. Defaults to records.Collections().
	Collections []string
	// Cache bounds each collection's series cache.
	Cache cache.Options
	// MaxMonthsBack caps the window length. Zero means unlimited.
	MaxMonthsBack int
	// Metrics records engine events when set.
	Metrics *observability.Metrics
	// Pinger reports backend health; nil means always healthy.
	Pinger func(ctx context.Context) error
	// Clock overrides time.Now for every engine.
	Clock  func() time.Time
	Logger *slog.Logger
}

type collection struct {
	engine *analytics.Engine
	cache  *SeriesCache
}

// Service serves monthly series for a fixed set of collections.
type Service struct {
	store       records.Store
	pinger      func(ctx context.Context) error
	names       []string
	collections map[string]*collection
	logger      *slog.Logger
}

// New builds an engine and an empty cache for every collection.
func New(store records.Store, opts Options) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("record store is required")
	}

	names := opts.Collections
	if len(names) == 0 {
		names = records.Collections()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Service{
		store:       store,
		pinger:      opts.Pinger,
		names:       append([]string(nil), names...),
		collections: make(map[string]*collection, len(names)),
		logger:      logger,
	}

	for _, name := range names {
		if !records.IsCollection(name) {
			return nil, fmt.Errorf("unknown collection %q", name)
		}
		if _, dup := s.collections[name]; dup {
			return nil, fmt.Errorf("collection %q listed twice", name)
		}

		c := cache.NewLocal[analytics.CacheKey, analytics.MonthlySeries](opts.Cache)
		engineOpts := []analytics.Option{
			analytics.WithLogger(logger.With("collection", name)),
			analytics.WithMaxMonthsBack(opts.MaxMonthsBack),
		}
		if opts.Clock != nil {
			engineOpts = append(engineOpts, analytics.WithClock(opts.Clock))
		}
		if opts.Metrics != nil {
			engineOpts = append(engineOpts, analytics.WithObserver(opts.Metrics.Observer(name)))
			if err := opts.Metrics.RegisterCacheSize(name, c.Len); err != nil {
				return nil, fmt.Errorf("register cache gauge for %s: %w", name, err)
			}
		}

		engine, err := analytics.NewEngine(records.Fetcher(store, name), c, engineOpts...)
		if err != nil {
			return nil, fmt.Errorf("create engine for %s: %w", name, err)
		}
		s.collections[name] = &collection{engine: engine, cache: c}
	}

	return s, nil
}

// Collections returns the served collection names in configuration order.
func (s *Service) Collections() []string {
	return append([]string(nil), s.names...)
}

// DiscreteSeries returns per-month counts for collection.
func (s *Service) DiscreteSeries(ctx context.Context, name string, req analytics.TimeSeriesRequest) (analytics.MonthlySeries, error) {
	c, err := s.lookup(name)
	if err != nil {
		return analytics.MonthlySeries{}, err
	}
	return c.engine.ComputeDiscreteSeries(ctx, req)
}

// CumulativeSeries returns running totals for collection.
func (s *Service) CumulativeSeries(ctx context.Context, name string, req analytics.TimeSeriesRequest) (analytics.MonthlySeries, error) {
	c, err := s.lookup(name)
	if err != nil {
		return analytics.MonthlySeries{}, err
	}
	return c.engine.ComputeCumulativeSeries(ctx, req)
}

// InvalidateCache drops every cached series of collection and returns how many
// were removed.
func (s *Service) InvalidateCache(name string) (int, error) {
	c, err := s.lookup(name)
	if err != nil {
		return 0, err
	}
	removed := c.cache.Clear()
	s.logger.Debug("series cache cleared", "collection", name, "removed", removed)
	return removed, nil
}

// Ingest stores records in collection and then invalidates its cache so the next
// read reflects them. A computation already in flight may still cache a result
// that predates the insert.
func (s *Service) Ingest(ctx context.Context, name string, recs []records.Record) (int, error) {
	c, err := s.lookup(name)
	if err != nil {
		return 0, err
	}
	if len(recs) == 0 {
		return 0, nil
	}

	batch := make([]records.Record, len(recs))
	for i, r := range recs {
		r.Collection = name
		batch[i] = r
	}
	if err := s.store.Insert(ctx, batch...); err != nil {
		return 0, err
	}

	removed := c.cache.Clear()
	s.logger.Info("records ingested",
		"collection", name,
		"count", len(batch),
		"cache_removed", removed,
		"request_id", core.GetRequestID(ctx),
	)
	return len(batch), nil
}

// Caches returns every collection cache for the expiry sweeper.
func (s *Service) Caches() []cache.Sweepable {
	out := make([]cache.Sweepable, 0, len(s.names))
	for _, name := range s.names {
		out = append(out, s.collections[name].cache)
	}
	return out
}

// Ping checks the backing store.
func (s *Service) Ping(ctx context.Context) error {
	if s.pinger == nil {
		return nil
	}
	return s.pinger(ctx)
}

func (s *Service) lookup(name string) (*collection, error) {
	c, ok := s.collections[name]
	if !ok {
		return nil, core.NewNotFoundError(fmt.Sprintf("unknown collection %q", name))
	}
	return c, nil
}
