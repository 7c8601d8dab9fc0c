package middleware

import (
	"bytes"
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/twmb/murmur3"
)

// CacheConfig controls the validators and Cache-Control header emitted by
// ETagMiddleware.
type CacheConfig struct {
	MaxAge             int      // seconds
	Private            bool     // private vs public
	NoStore            bool     // add no-store
	VaryHeaders        []string // default none
	ConditionalEnabled bool     // answer If-None-Match with 304
}

// DefaultCacheConfig suits the read-only guideline endpoints.
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		MaxAge:             300,
		Private:            true,
		VaryHeaders:        []string{"Accept", "Authorization"},
		ConditionalEnabled: true,
	}
}

// bufferedResponseWriter holds the body so the ETag can be computed before
// anything reaches the client.
type bufferedResponseWriter struct {
	writer     http.ResponseWriter
	buf        bytes.Buffer
	statusCode int
}

func newBufferedResponseWriter(w http.ResponseWriter) *bufferedResponseWriter {
	return &bufferedResponseWriter{writer: w, statusCode: http.StatusOK}
}

func (w *bufferedResponseWriter) Header() http.Header { return w.writer.Header() }

func (w *bufferedResponseWriter) Write(b []byte) (int, error) { return w.buf.Write(b) }

func (w *bufferedResponseWriter) WriteHeader(code int) { w.statusCode = code }

func (w *bufferedResponseWriter) Flush() {}

func (w *bufferedResponseWriter) flushTo() error {
	w.writer.WriteHeader(w.statusCode)
	if w.buf.Len() > 0 {
		_, err := w.writer.Write(w.buf.Bytes())
		return err
	}
	return nil
}

// ETagMiddleware sets a weak ETag plus Cache-Control and Vary on successful
// GET/HEAD responses and answers matching If-None-Match requests with 304.
func ETagMiddleware(config CacheConfig) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if req.Method != http.MethodGet && req.Method != http.MethodHead {
				return next(c)
			}

			res := c.Response()
			origWriter := res.Writer
			buf := newBufferedResponseWriter(origWriter)
			res.Writer = buf

			err := next(c)
			res.Writer = origWriter
			if err != nil {
				return err
			}

			if buf.statusCode >= 400 {
				return buf.flushTo()
			}

			res.Header().Set("Cache-Control", buildCacheControl(config))
			if len(config.VaryHeaders) > 0 {
				res.Header().Set("Vary", strings.Join(config.VaryHeaders, ", "))
			}

			etag := computeETag(buf.buf.Bytes())
			res.Header().Set("ETag", etag)

			if config.ConditionalEnabled {
				if inm := req.Header.Get("If-None-Match"); inm != "" && etagMatch(inm, etag) {
					res.Header().Del("Content-Length")
					origWriter.WriteHeader(http.StatusNotModified)
					return nil
				}
			}
			return buf.flushTo()
		}
	}
}

// computeETag returns a weak ETag from the 128-bit murmur3 hash of body.
func computeETag(body []byte) string {
	h1, h2 := murmur3.Sum128(body)
	return fmt.Sprintf(`W/"%016x%016x"`, h1, h2)
}

func buildCacheControl(config CacheConfig) string {
	var parts []string
	if config.NoStore {
		parts = append(parts, "no-store")
	}
	if config.Private {
		parts = append(parts, "private")
	} else {
		parts = append(parts, "public")
	}
	parts = append(parts, fmt.Sprintf("max-age=%d", config.MaxAge))
	return strings.Join(parts, ", ")
}

// etagMatch reports whether an If-None-Match value matches etag using weak
// comparison. Supports lists and "*".
func etagMatch(headerVal, etag string) bool {
	headerVal = strings.TrimSpace(headerVal)
	if headerVal == "*" {
		return true
	}
	for _, candidate := range strings.Split(headerVal, ",") {
		if strings.TrimPrefix(strings.TrimSpace(candidate), "W/") == strings.TrimPrefix(etag, "W/") {
			return true
		}
	}
	return false
}
