package middleware

import (
	"context"
	"net/http"
	"time"

	chi_middleware "github.com/go-chi/chi/middleware"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

type contextKey int

const contextKeyCorrelationID contextKey = iota

const (
	LogFieldCorrelationID = "correlation_id"
	LogFieldMethod        = "method"
	LogFieldPath          = "path"
	LogFieldRemoteAddr    = "remote_addr"
	LogFieldStatus        = "status"
	LogFieldDuration      = "duration"
)

func GetCorrelationID(ctx context.Context) string {
	id, _ := ctx.Value(contextKeyCorrelationID).(string)
	return id
}

func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, contextKeyCorrelationID, id)
}

// RequestLogFields returns the log fields identifying a request.
func RequestLogFields(r *http.Request) log.Fields {
	return log.Fields{
		LogFieldCorrelationID: GetCorrelationID(r.Context()),
		LogFieldMethod:        r.Method,
		LogFieldPath:          r.URL.Path,
		LogFieldRemoteAddr:    r.RemoteAddr,
	}
}

// RequestLogger assigns every request a correlation ID and logs it when it completes.
func RequestLogger() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		fn := func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			r = r.WithContext(WithCorrelationID(r.Context(), uuid.NewString()))
			ww := chi_middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			log.WithFields(RequestLogFields(r)).WithFields(log.Fields{
				LogFieldStatus:   ww.Status(),
				LogFieldDuration: time.Since(start).String(),
			}).Infof("%s %s %d", r.Method, r.URL.Path, ww.Status())
		}
		return http.HandlerFunc(fn)
	}
}
