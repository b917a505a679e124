// Package main provides a CLI that computes a monthly series straight from the
// configured storage and plots it in the terminal.
// Usage:
//
//	go run ./cmd/seriesctl \
//	  -collection=orders \
//	  -months=12 \
//	  -filter='{"status":["paid","shipped"]}' \
//	  -seed=500
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"os"
	"strings"
	"time"

	"github.com/guptarohit/asciigraph"

	"purchasedash/config"
	"purchasedash/internal/analytics"
	"purchasedash/internal/dashboard"
	"purchasedash/internal/logging"
	"purchasedash/internal/records"
	"purchasedash/internal/server"
	"purchasedash/internal/storage"
)

var (
	seedStatuses  = []string{"pending", "paid", "shipped", "cancelled"}
	seedSuppliers = []string{"sup-acme", "sup-globex", "sup-initech"}
	seedCategory  = []string{"cat-raw", "cat-packaging", "cat-tools", "cat-office"}
)

func main() {
	configPath := flag.String("config", "", "Path to a YAML config file")
	collection := flag.String("collection", records.CollectionOrders, "Collection to count ("+strings.Join(records.Collections(), ", ")+")")
	months := flag.Int("months", analytics.DefaultMonthsBack, "Number of months in the window")
	cumulative := flag.Bool("cumulative", false, "Plot running totals instead of per-month counts")
	filter := flag.String("filter", "", `JSON filter, e.g. {"status":"paid"}`)
	seed := flag.Int("seed", 0, "Insert this many synthetic records spread over the window first")
	width := flag.Int("width", 60, "Chart width")
	height := flag.Int("height", 10, "Chart height")
	flag.Parse()

	if err := run(*configPath, *collection, *months, *cumulative, *filter, *seed, *width, *height); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, collection string, months int, cumulative bool, rawFilter string, seed, width, height int) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	// Keep stdout clean for the chart.
	slog.SetDefault(logging.New(os.Stderr, logging.Config{Format: cfg.Log.Format, Level: cfg.Log.Level}))

	f, err := server.ParseFilter(rawFilter)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	st, err := storage.New(ctx, cfg.Storage.Backend())
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer st.Close()

	store, err := records.NewStore(ctx, st)
	if err != nil {
		return fmt.Errorf("open record store: %w", err)
	}
	defer store.Close()

	svc, err := dashboard.New(store, dashboard.Options{MaxMonthsBack: cfg.Analytics.MaxMonths})
	if err != nil {
		return err
	}

	if seed > 0 {
		rng := rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0))
		recs := syntheticRecords(collection, seed, months, time.Now().UTC(), rng)
		n, err := svc.Ingest(ctx, collection, recs)
		if err != nil {
			return fmt.Errorf("seed: %w", err)
		}
		fmt.Fprintf(os.Stderr, "seeded %d %s records\n", n, collection)
	}

	req := analytics.NewTimeSeriesRequest(months, f)
	var series analytics.MonthlySeries
	if cumulative {
		series, err = svc.CumulativeSeries(ctx, collection, req)
	} else {
		series, err = svc.DiscreteSeries(ctx, collection, req)
	}
	if err != nil {
		return err
	}

	variant := analytics.VariantDiscrete
	if cumulative {
		variant = analytics.VariantCumulative
	}
	return render(os.Stdout, fmt.Sprintf("%s (%s)", collection, variant), series, width, height)
}

// syntheticRecords spreads n records uniformly over the last months calendar
// months ending at now.
func syntheticRecords(collection string, n, months int, now time.Time, rng *rand.Rand) []records.Record {
	if months < 1 {
		months = 1
	}
	start := time.Date(now.Year(), now.Month()-time.Month(months-1), 1, 0, 0, 0, 0, time.UTC)
	span := now.Sub(start)

	recs := make([]records.Record, 0, n)
	for range n {
		createdAt := start.Add(time.Duration(rng.Int64N(int64(span) + 1)))
		r := records.NewRecord(collection, createdAt)
		r.Status = seedStatuses[rng.IntN(len(seedStatuses))]
		r.SupplierID = seedSuppliers[rng.IntN(len(seedSuppliers))]
		r.CategoryID = seedCategory[rng.IntN(len(seedCategory))]
		r.TotalAmount = float64(rng.IntN(500_00)) / 100
		recs = append(recs, r)
	}
	return recs
}

func render(w io.Writer, caption string, series analytics.MonthlySeries, width, height int) error {
	if series.Len() == 0 {
		_, err := fmt.Fprintln(w, "No data available")
		return err
	}
	if width < 20 {
		width = 20
	}
	if height < 3 {
		height = 3
	}

	data := make([]float64, len(series.Counts))
	for i, c := range series.Counts {
		data[i] = float64(c)
	}

	graph := asciigraph.Plot(data,
		asciigraph.Height(height),
		asciigraph.Width(width),
		asciigraph.Caption(caption),
	)

	payload, err := json.Marshal(series)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "%s\n\n%s\n", graph, payload)
	return err
}
