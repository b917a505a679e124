package server

import (
	"bufio"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/labstack/echo/v4"
)

// brotliMiddleware compresses responses for clients that accept "br".
// Responses without a body and responses already encoded by the handler pass
// through untouched.
func brotliMiddleware(level int) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !acceptsBrotli(c.Request().Header.Get(echo.HeaderAcceptEncoding)) {
				return next(c)
			}

			res := c.Response()
			res.Header().Add(echo.HeaderVary, echo.HeaderAcceptEncoding)

			bw := &brotliResponseWriter{ResponseWriter: res.Writer, level: level}
			res.Writer = bw
			defer func() {
				res.Writer = bw.ResponseWriter
				_ = bw.Close()
			}()

			return next(c)
		}
	}
}

func acceptsBrotli(header string) bool {
	for _, part := range strings.Split(header, ",") {
		coding, params, _ := strings.Cut(strings.TrimSpace(part), ";")
		if !strings.EqualFold(strings.TrimSpace(coding), "br") {
			continue
		}
		q, ok := strings.CutPrefix(strings.TrimSpace(params), "q=")
		if !ok {
			return true
		}
		weight, err := strconv.ParseFloat(q, 64)
		return err == nil && weight > 0
	}
	return false
}

type brotliResponseWriter struct {
	http.ResponseWriter
	level       int
	writer      *brotli.Writer
	wroteHeader bool
	passthrough bool
}

func (w *brotliResponseWriter) WriteHeader(code int) {
	if w.wroteHeader {
		return
	}
	w.wroteHeader = true

	h := w.Header()
	if code < http.StatusOK || code == http.StatusNoContent || code == http.StatusNotModified ||
		h.Get(echo.HeaderContentEncoding) != "" {
		w.passthrough = true
	} else {
		h.Set(echo.HeaderContentEncoding, "br")
		h.Del(echo.HeaderContentLength)
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *brotliResponseWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	if w.passthrough {
		return w.ResponseWriter.Write(b)
	}
	if w.writer == nil {
		w.writer = brotli.NewWriterLevel(w.ResponseWriter, w.level)
	}
	return w.writer.Write(b)
}

func (w *brotliResponseWriter) Flush() {
	if w.writer != nil {
		_ = w.writer.Flush()
	}
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (w *brotliResponseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	return http.NewResponseController(w.ResponseWriter).Hijack()
}

func (w *brotliResponseWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

func (w *brotliResponseWriter) Close() error {
	if w.writer == nil {
		return nil
	}
	return w.writer.Close()
}
