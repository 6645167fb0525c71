package httpapi

import (
	"net/http"
	"strconv"

	"currency-ledger/internal/metrics"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

type RouterConfig struct {
	MaxInflight int
	Auth        Authenticator
	Metrics     *metrics.LedgerMetrics
	// Gatherer backs /metrics. The route is not mounted when nil.
	Gatherer prometheus.Gatherer
	Log      *zap.Logger
}

func Router(h *Handlers, cfg RouterConfig) http.Handler {
	if cfg.Auth == nil {
		cfg.Auth = PassthroughAuth{Log: cfg.Log}
	}
	if cfg.Log == nil {
		cfg.Log = zap.NewNop()
	}

	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Correlation-Id"},
		ExposedHeaders:   []string{"X-Correlation-Id"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	r.Use(middleware.RequestID)
	r.Use(withCorrelationID)
	r.Use(accessLog(cfg.Log, cfg.Metrics))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", h.Healthz)
	r.Get("/readyz", h.Readyz)
	if cfg.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api/accounts", func(api chi.Router) {
		// Backpressure at the edge.
		// Prevents unbounded goroutine/pool queueing when the store or the rate API is slow.
		api.Use(withConcurrencyLimit(cfg.MaxInflight))
		api.Use(requireAuth(cfg.Auth))

		api.Post("/", h.CreateAccount)
		api.Get("/{accountId}", h.GetAccount)
		api.Post("/{accountId}/exchange", h.ExchangeCurrency)
	})

	return r
}

func withConcurrencyLimit(max int) func(http.Handler) http.Handler {
	if max <= 0 {
		max = 64
	}
	sem := make(chan struct{}, max)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
				next.ServeHTTP(w, r)
			default:
				// Fast fail instead of queueing forever.
				writeErr(w, http.StatusServiceUnavailable, "server busy")
			}
		})
	}
}

func routePattern(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if p := rc.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}

func statusLabel(code int) string { return strconv.Itoa(code) }
