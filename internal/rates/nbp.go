// Package rates fetches the USD/PLN mid-market rate published by the National
// Bank of Poland. Every call is a fresh request: no caching, no retry.
package rates

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"currency-ledger/internal/domain"
	"currency-ledger/internal/metrics"

	"go.uber.org/zap"
)

const (
	DefaultURL     = "https://api.nbp.pl/api/exchangerates/rates/A/USD/?format=json"
	DefaultTimeout = 5 * time.Second

	// maxBodyBytes caps how much of a response is read. A real NBP answer is a
	// few hundred bytes.
	maxBodyBytes = 64 << 10
)

type nbpRate struct {
	No            string  `json:"no"`
	EffectiveDate string  `json:"effectiveDate"`
	Mid           float64 `json:"mid"`
}

type nbpResponse struct {
	Table    string    `json:"table"`
	Currency string    `json:"currency"`
	Code     string    `json:"code"`
	Rates    []nbpRate `json:"rates"`
}

type NBPProvider struct {
	client  *http.Client
	url     string
	log     *zap.Logger
	metrics *metrics.LedgerMetrics
}

type Option func(*NBPProvider)

func WithURL(url string) Option { return func(p *NBPProvider) { p.url = url } }

func WithHTTPClient(c *http.Client) Option { return func(p *NBPProvider) { p.client = c } }

func WithLogger(l *zap.Logger) Option { return func(p *NBPProvider) { p.log = l } }

func WithMetrics(m *metrics.LedgerMetrics) Option { return func(p *NBPProvider) { p.metrics = m } }

func NewNBPProvider(timeout time.Duration, opts ...Option) *NBPProvider {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	p := &NBPProvider{
		client: &http.Client{Timeout: timeout},
		url:    DefaultURL,
		log:    zap.NewNop(),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

func (p *NBPProvider) Name() string { return "nbp" }

// ExchangeRate returns PLN per 1 USD. All failures wrap domain.ErrRateProvider.
func (p *NBPProvider) ExchangeRate(ctx context.Context) (rate float64, err error) {
	started := time.Now()
	defer func() {
		p.metrics.RateFetch(p.Name(), started, err)
		if err != nil {
			p.log.Warn("exchange rate fetch failed",
				zap.String("provider", p.Name()),
				zap.Duration("took", time.Since(started)),
				zap.Error(err),
			)
		}
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return 0, fmt.Errorf("%w: build request: %v", domain.ErrRateProvider, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: request: %v", domain.ErrRateProvider, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("%w: nbp api returned status %d", domain.ErrRateProvider, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return 0, fmt.Errorf("%w: read body: %v", domain.ErrRateProvider, err)
	}

	var payload nbpResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return 0, fmt.Errorf("%w: parse response: %v", domain.ErrRateProvider, err)
	}
	if len(payload.Rates) == 0 {
		return 0, fmt.Errorf("%w: response has no rates", domain.ErrRateProvider)
	}

	mid := payload.Rates[0].Mid
	if mid <= 0 || math.IsNaN(mid) || math.IsInf(mid, 0) {
		return 0, fmt.Errorf("%w: unusable mid rate %v", domain.ErrRateProvider, mid)
	}
	return mid, nil
}
