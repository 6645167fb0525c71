package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Exchange results used as the "result" label.
const (
	ResultOK                = "ok"
	ResultInsufficientFunds = "insufficient_funds"
	ResultInvalidCurrency   = "invalid_currency"
	ResultNotFound          = "not_found"
	ResultRateError         = "rate_error"
	ResultValidation        = "validation"
	ResultConflict          = "conflict"
	ResultError             = "error"
)

type LedgerMetrics struct {
	AccountsCreatedTotal prometheus.Counter
	ExchangesTotal       *prometheus.CounterVec
	RateFetchDuration    *prometheus.HistogramVec
	HTTPRequestsTotal    *prometheus.CounterVec
}

// New registers all collectors on reg. Passing a fresh prometheus.NewRegistry()
// keeps tests independent of the global registry.
func New(reg prometheus.Registerer) *LedgerMetrics {
	f := promauto.With(reg)
	return &LedgerMetrics{
		AccountsCreatedTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "ledger_accounts_created_total",
			Help: "Number of accounts created",
		}),
		ExchangesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_exchanges_total",
			Help: "Currency exchange attempts by target currency and result",
		}, []string{"target", "result"}),
		RateFetchDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ledger_rate_fetch_duration_seconds",
			Help:    "Duration of exchange rate fetches",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 10),
		}, []string{"provider", "outcome"}),
		HTTPRequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_http_requests_total",
			Help: "HTTP requests by method, route pattern and status",
		}, []string{"method", "route", "status"}),
	}
}

// The methods below are nil-safe so components can run without metrics.

func (m *LedgerMetrics) AccountCreated() {
	if m == nil {
		return
	}
	m.AccountsCreatedTotal.Inc()
}

func (m *LedgerMetrics) Exchange(target, result string) {
	if m == nil {
		return
	}
	m.ExchangesTotal.WithLabelValues(target, result).Inc()
}

func (m *LedgerMetrics) RateFetch(provider string, started time.Time, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.RateFetchDuration.WithLabelValues(provider, outcome).Observe(time.Since(started).Seconds())
}

func (m *LedgerMetrics) HTTPRequest(method, route, status string) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, route, status).Inc()
}
