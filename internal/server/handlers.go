package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/labstack/echo/v4"

	"purchasedash/internal/analytics"
	"purchasedash/internal/core"
	"purchasedash/internal/records"
)

// maxIngestBatch caps the records accepted by one POST.
const maxIngestBatch = 1000

// Service is the dashboard backend the handlers delegate to.
type Service interface {
	Collections() []string
	DiscreteSeries(ctx context.Context, collection string, req analytics.TimeSeriesRequest) (analytics.MonthlySeries, error)
	CumulativeSeries(ctx context.Context, collection string, req analytics.TimeSeriesRequest) (analytics.MonthlySeries, error)
	InvalidateCache(collection string) (int, error)
	Ingest(ctx context.Context, collection string, recs []records.Record) (int, error)
	Ping(ctx context.Context) error
}

// Handler serves the dashboard API.
type Handler struct {
	svc           Service
	defaultMonths int
}

// NewHandler creates a handler. defaultMonths applies when a request omits months.
func NewHandler(svc Service, defaultMonths int) *Handler {
	if defaultMonths < 1 {
		defaultMonths = analytics.DefaultMonthsBack
	}
	return &Handler{svc: svc, defaultMonths: defaultMonths}
}

// SeriesResponse is a monthly series for one collection.
type SeriesResponse struct {
	Collection string            `json:"collection"`
	Variant    analytics.Variant `json:"variant"`
	MonthsBack int               `json:"months_back"`
	Months     []string          `json:"months"`
	Counts     []int64           `json:"counts"`
	// Total is the number of matching records created inside the window.
	Total int64 `json:"total"`
}

// CollectionsResponse lists what can be queried.
type CollectionsResponse struct {
	Collections      []string `json:"collections"`
	FilterableFields []string `json:"filterable_fields"`
}

// HealthResponse reports liveness and storage reachability.
type HealthResponse struct {
	Status  string `json:"status"`
	Storage string `json:"storage"`
}

// InvalidateResponse reports a cache flush.
type InvalidateResponse struct {
	Collection string `json:"collection"`
	Removed    int    `json:"removed"`
}

// IngestResponse reports stored records.
type IngestResponse struct {
	Collection string `json:"collection"`
	Inserted   int    `json:"inserted"`
}

// Health handles GET /health
//
// @Summary      Health check
// @Tags         system
// @Produce      json
// @Success      200  {object}  HealthResponse
// @Failure      503  {object}  HealthResponse
// @Router       /health [get]
func (h *Handler) Health(c echo.Context) error {
	if err := h.svc.Ping(c.Request().Context()); err != nil {
		slog.Warn("health check failed", "error", err)
		return c.JSON(http.StatusServiceUnavailable, HealthResponse{Status: "degraded", Storage: "unreachable"})
	}
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok", Storage: "ok"})
}

// ListCollections handles GET /api/v1/analytics/collections
//
// @Summary      List collections
// @Tags         analytics
// @Produce      json
// @Security     BearerAuth
// @Success      200  {object}  CollectionsResponse
// @Failure      401  {object}  core.Error
// @Router       /api/v1/analytics/collections [get]
func (h *Handler) ListCollections(c echo.Context) error {
	return c.JSON(http.StatusOK, CollectionsResponse{
		Collections:      h.svc.Collections(),
		FilterableFields: records.FilterableFields(),
	})
}

// MonthlySeries handles GET /api/v1/analytics/:collection/monthly
//
// @Summary      Monthly record counts
// @Description  Number of records created in each of the last N calendar months (UTC), oldest first.
// @Tags         analytics
// @Produce      json
// @Security     BearerAuth
// @Param        collection  path      string  true   "Collection name"
// @Param        months      query     int     false  "Window length in months (default from config)"
// @Param        filter      query     string  false  "JSON object of field conditions, e.g. {\"status\":\"paid\"}"
// @Success      200  {object}  SeriesResponse
// @Success      304  "Not modified"
// @Failure      400  {object}  core.Error
// @Failure      401  {object}  core.Error
// @Failure      404  {object}  core.Error
// @Failure      503  {object}  core.Error
// @Router       /api/v1/analytics/{collection}/monthly [get]
func (h *Handler) MonthlySeries(c echo.Context) error {
	return h.series(c, analytics.VariantDiscrete)
}

// CumulativeSeries handles GET /api/v1/analytics/:collection/monthly/cumulative
//
// @Summary      Cumulative monthly record counts
// @Description  Running totals of the monthly series, starting at the oldest month of the window.
// @Tags         analytics
// @Produce      json
// @Security     BearerAuth
// @Param        collection  path      string  true   "Collection name"
// @Param        months      query     int     false  "Window length in months (default from config)"
// @Param        filter      query     string  false  "JSON object of field conditions"
// @Success      200  {object}  SeriesResponse
// @Success      304  "Not modified"
// @Failure      400  {object}  core.Error
// @Failure      401  {object}  core.Error
// @Failure      404  {object}  core.Error
// @Failure      503  {object}  core.Error
// @Router       /api/v1/analytics/{collection}/monthly/cumulative [get]
func (h *Handler) CumulativeSeries(c echo.Context) error {
	return h.series(c, analytics.VariantCumulative)
}

func (h *Handler) series(c echo.Context, variant analytics.Variant) error {
	collection := c.Param("collection")

	req, err := h.parseSeriesRequest(c)
	if err != nil {
		return handleError(c, err)
	}

	ctx := c.Request().Context()
	var s analytics.MonthlySeries
	if variant == analytics.VariantCumulative {
		s, err = h.svc.CumulativeSeries(ctx, collection, req)
	} else {
		s, err = h.svc.DiscreteSeries(ctx, collection, req)
	}
	if err != nil {
		return handleError(c, err)
	}

	resp := SeriesResponse{
		Collection: collection,
		Variant:    variant,
		MonthsBack: req.MonthsBack(),
		Months:     s.Months,
		Counts:     s.Counts,
	}
	if variant == analytics.VariantCumulative {
		if n := len(s.Counts); n > 0 {
			resp.Total = s.Counts[n-1]
		}
	} else {
		resp.Total = s.Total()
	}

	return writeJSONWithETag(c, resp)
}

func (h *Handler) parseSeriesRequest(c echo.Context) (analytics.TimeSeriesRequest, error) {
	months := h.defaultMonths
	if raw := c.QueryParam("months"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return analytics.TimeSeriesRequest{}, core.NewInvalidRequestError("months must be an integer", err)
		}
		months = n
	}

	filter, err := ParseFilter(c.QueryParam("filter"))
	if err != nil {
		return analytics.TimeSeriesRequest{}, err
	}

	return analytics.NewTimeSeriesRequest(months, filter), nil
}

// InvalidateCache handles DELETE /api/v1/analytics/:collection/cache
//
// @Summary      Drop cached series
// @Description  Clears every cached series of the collection so the next read recomputes.
// @Tags         analytics
// @Produce      json
// @Security     BearerAuth
// @Param        collection  path      string  true  "Collection name"
// @Success      200  {object}  InvalidateResponse
// @Failure      401  {object}  core.Error
// @Failure      404  {object}  core.Error
// @Router       /api/v1/analytics/{collection}/cache [delete]
func (h *Handler) InvalidateCache(c echo.Context) error {
	collection := c.Param("collection")
	removed, err := h.svc.InvalidateCache(collection)
	if err != nil {
		return handleError(c, err)
	}
	return c.JSON(http.StatusOK, InvalidateResponse{Collection: collection, Removed: removed})
}

// IngestRecords handles POST /api/v1/records/:collection
//
// @Summary      Store records
// @Description  Stores a JSON array of records and invalidates the collection's cached series.
// @Tags         records
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        collection  path      string            true  "Collection name"
// @Param        records     body      []records.Record  true  "Records to store"
// @Success      201  {object}  IngestResponse
// @Failure      400  {object}  core.Error
// @Failure      401  {object}  core.Error
// @Failure      404  {object}  core.Error
// @Failure      503  {object}  core.Error
// @Router       /api/v1/records/{collection} [post]
func (h *Handler) IngestRecords(c echo.Context) error {
	collection := c.Param("collection")

	var recs []records.Record
	if err := (&echo.DefaultBinder{}).BindBody(c, &recs); err != nil {
		return handleError(c, core.NewInvalidRequestError("body must be a JSON array of records", err))
	}
	if len(recs) == 0 {
		return handleError(c, core.NewInvalidRequestError("at least one record is required", nil))
	}
	if len(recs) > maxIngestBatch {
		return handleError(c, core.NewInvalidRequestError(
			fmt.Sprintf("at most %d records per request", maxIngestBatch), nil))
	}
	for i := range recs {
		if err := c.Validate(&recs[i]); err != nil {
			return handleError(c, core.NewInvalidRequestError(fmt.Sprintf("record %d: %v", i, err), err))
		}
	}

	n, err := h.svc.Ingest(c.Request().Context(), collection, recs)
	if err != nil {
		return handleError(c, err)
	}
	return c.JSON(http.StatusCreated, IngestResponse{Collection: collection, Inserted: n})
}

// writeJSONWithETag answers 304 when the client already holds this exact body.
// The tag is weak: it identifies the JSON, and the same value is sent for every
// content coding the compression middleware may apply.
func writeJSONWithETag(c echo.Context, v interface{}) error {
	body, err := json.Marshal(v)
	if err != nil {
		return handleError(c, err)
	}

	etag := fmt.Sprintf(`W/"%016x"`, xxhash.Sum64(body))
	header := c.Response().Header()
	header.Set("ETag", etag)
	header.Set("Cache-Control", "private, no-cache")

	if etagMatches(c.Request().Header.Get("If-None-Match"), etag) {
		return c.NoContent(http.StatusNotModified)
	}
	return c.JSONBlob(http.StatusOK, body)
}

// etagMatches uses weak comparison, as If-None-Match requires.
func etagMatches(ifNoneMatch, etag string) bool {
	opaque := strings.TrimPrefix(etag, "W/")
	for _, candidate := range strings.Split(ifNoneMatch, ",") {
		candidate = strings.TrimPrefix(strings.TrimSpace(candidate), "W/")
		if candidate == opaque || candidate == "*" {
			return true
		}
	}
	return false
}

// handleError writes typed errors with their status; anything else is a 500 whose
// details stay in the log.
func handleError(c echo.Context, err error) error {
	var dashErr *core.Error
	if errors.As(err, &dashErr) {
		status := dashErr.HTTPStatusCode()
		if status >= http.StatusInternalServerError {
			slog.Warn("request failed",
				"path", c.Path(),
				"collection", c.Param("collection"),
				"error", err,
			)
		}
		return c.JSON(status, dashErr.ToJSON())
	}

	slog.Error("unexpected error", "path", c.Path(), "error", err)
	return c.JSON(http.StatusInternalServerError, map[string]interface{}{
		"error": map[string]interface{}{
			"type":    "internal_error",
			"message": "an unexpected error occurred",
		},
	})
}
