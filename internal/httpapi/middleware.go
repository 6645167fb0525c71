package httpapi

import (
	"net/http"
	"strings"
	"time"

	"currency-ledger/internal/domain"
	"currency-ledger/internal/metrics"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const correlationHeader = "X-Correlation-Id"

// withCorrelationID takes the caller's X-Correlation-Id or generates one, puts
// it on the context and echoes it back.
func withCorrelationID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		corr := strings.TrimSpace(r.Header.Get(correlationHeader))
		if corr == "" {
			corr = uuid.New().String()
		}
		w.Header().Set(correlationHeader, corr)
		next.ServeHTTP(w, r.WithContext(domain.WithCorrelationID(r.Context(), corr)))
	})
}

func accessLog(log *zap.Logger, m *metrics.LedgerMetrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			route := routePattern(r)
			m.HTTPRequest(r.Method, route, statusLabel(status))
			log.Info("http request",
				zap.String("method", r.Method),
				zap.String("route", route),
				zap.String("path", r.URL.Path),
				zap.Int("status", status),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("took", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
				zap.String("correlation_id", domain.CorrelationID(r.Context())),
			)
		})
	}
}

// Authenticator runs before a request reaches the account handlers. A non-nil
// error rejects the request with 401.
type Authenticator interface {
	Authenticate(r *http.Request) error
}

// PassthroughAuth accepts every request and only logs its URI.
type PassthroughAuth struct {
	Log *zap.Logger
}

func (p PassthroughAuth) Authenticate(r *http.Request) error {
	if p.Log != nil {
		p.Log.Debug("request uri", zap.String("uri", r.RequestURI))
	}
	return nil
}

func requireAuth(a Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := a.Authenticate(r); err != nil {
				writeErr(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
