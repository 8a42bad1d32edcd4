package middleware

import (
	"bytes"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/ayurbridge/terminology-api/internal/platform/cache"
)

// cachedResponse is what the response cache stores.
type cachedResponse struct {
	status      int
	contentType string
	body        []byte
}

// bufferedResponseWriter captures the response body so the middleware can
// decide whether to cache it before flushing to the real writer.
type bufferedResponseWriter struct {
	writer     http.ResponseWriter
	buf        *bytes.Buffer
	statusCode int
}

func newBufferedResponseWriter(w http.ResponseWriter) *bufferedResponseWriter {
	return &bufferedResponseWriter{
		writer:     w,
		buf:        &bytes.Buffer{},
		statusCode: http.StatusOK,
	}
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

// ResponseCache returns middleware that serves GET (and, when hashBody is
// set, POST) responses out of the given cache. Keys combine the request path,
// sorted query params, and an optional body hash. Responses with status >=
// 400 are never cached.
func ResponseCache(store *cache.Cache, hashBody bool) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if req.Method != http.MethodGet && !(hashBody && req.Method == http.MethodPost) {
				return next(c)
			}

			var body []byte
			if hashBody && req.Method == http.MethodPost && req.Body != nil {
				body, _ = io.ReadAll(req.Body)
				req.Body = io.NopCloser(bytes.NewReader(body))
			}

			params := map[string]string{}
			for k, vals := range req.URL.Query() {
				if len(vals) > 0 {
					params[k] = vals[0]
				}
			}
			key := cache.RequestKey(req.URL.Path, params, body)

			if v, ok := store.Get(key); ok {
				cached := v.(*cachedResponse)
				c.Response().Header().Set("X-Cache", "HIT")
				if cached.contentType != "" {
					c.Response().Header().Set(echo.HeaderContentType, cached.contentType)
				}
				c.Response().WriteHeader(cached.status)
				_, err := c.Response().Write(cached.body)
				return err
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

			if buf.statusCode < 400 {
				store.Set(key, &cachedResponse{
					status:      buf.statusCode,
					contentType: res.Header().Get(echo.HeaderContentType),
					body:        append([]byte(nil), buf.buf.Bytes()...),
				})
			}

			res.Header().Set("X-Cache", "MISS")
			return buf.flushTo()
		}
	}
}
