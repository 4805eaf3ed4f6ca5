package middleware

import (
	"fmt"
	"net/http"

	chi_middleware "github.com/go-chi/chi/middleware"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	otrace "go.opentelemetry.io/otel/trace"

	"github.com/nais/pullhookd/pkg/telemetry"
)

// Tracing wraps every request in a server span, continuing any trace propagated by the caller.
func Tracing() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		fn := func(w http.ResponseWriter, r *http.Request) {
			ctx := telemetry.Extract(r.Context(), r.Header)
			ctx, span := telemetry.Tracer().Start(ctx, Method(r),
				otrace.WithSpanKind(otrace.SpanKindServer),
				otrace.WithAttributes(
					attribute.String("http.method", Method(r)),
					attribute.String("http.target", r.URL.Path),
					attribute.String(LogFieldCorrelationID, GetCorrelationID(r.Context())),
				),
			)
			defer span.End()

			ww := chi_middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(ctx))

			// The route is known only once the router has matched the request.
			span.SetName(fmt.Sprintf("%s %s", Method(r), RoutePattern(r)))
			span.SetAttributes(attribute.Int("http.status_code", ww.Status()))
			if ww.Status() >= http.StatusInternalServerError {
				span.SetStatus(codes.Error, http.StatusText(ww.Status()))
			}
		}
		return http.HandlerFunc(fn)
	}
}
