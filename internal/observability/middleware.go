package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// HTTPMiddleware counts and times requests and opens a server span per
// request, continuing the caller's trace when one is propagated. Metrics
// are labelled with the chi route pattern when available so that path
// parameters do not explode label cardinality. Either argument may be nil.
func HTTPMiddleware(metrics *Metrics, tracer *Tracer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			ctx := tracer.Extract(r.Context(), HeaderCarrier(r.Header))
			ctx, span := tracer.StartSpan(ctx, SpanHTTPRequest,
				WithSpanKind(SpanKindServer),
				WithAttributes(map[string]any{AttrHTTPMethod: r.Method}),
			)
			defer span.End()

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(ctx))

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			route := routePattern(r)

			metrics.HTTPRequestTotal(ctx, r.Method, route, strconv.Itoa(status))
			metrics.HTTPRequestDuration(ctx, r.Method, route, time.Since(start))

			span.SetAttribute(AttrHTTPRoute, route)
			span.SetAttribute(AttrHTTPStatusCode, status)
			span.SetStatus(statusFor(status))
		})
	}
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return r.URL.Path
}

func statusFor(code int) (SpanStatus, string) {
	if code >= http.StatusBadRequest {
		return SpanStatusError, http.StatusText(code)
	}
	return SpanStatusOK, ""
}
