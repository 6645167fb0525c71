package account

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"currency-ledger/internal/domain"
	"currency-ledger/internal/metrics"
	"currency-ledger/internal/money"
	"currency-ledger/internal/store"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

type stubRates struct {
	mu    sync.Mutex
	rate  float64
	err   error
	calls int
}

func (s *stubRates) ExchangeRate(context.Context) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.rate, s.err
}

// countingRepo records how often Save is called on top of a memory store.
type countingRepo struct {
	*store.MemoryStore
	saves   int
	saveErr error
}

func (c *countingRepo) Save(ctx context.Context, acc *domain.Account) error {
	c.saves++
	if c.saveErr != nil {
		return c.saveErr
	}
	return c.MemoryStore.Save(ctx, acc)
}

type capturePublisher struct {
	mu     sync.Mutex
	events []domain.AccountEvent
	err    error
}

func (c *capturePublisher) Publish(_ context.Context, ev domain.AccountEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
	return c.err
}

func (c *capturePublisher) Close() error { return nil }

type fixture struct {
	svc   *Service
	repo  *countingRepo
	rates *stubRates
	pub   *capturePublisher
	m     *metrics.LedgerMetrics
}

func newFixture(rate float64) *fixture {
	f := &fixture{
		repo:  &countingRepo{MemoryStore: store.NewMemory()},
		rates: &stubRates{rate: rate},
		pub:   &capturePublisher{},
		m:     metrics.New(prometheus.NewRegistry()),
	}
	f.svc = NewService(f.repo, f.rates,
		WithPublisher(f.pub),
		WithMetrics(f.m),
		WithClock(func() time.Time { return time.Date(2024, 10, 17, 12, 0, 0, 0, time.UTC) }),
	)
	return f
}

func (f *fixture) create(t *testing.T, pln float64) string {
	t.Helper()
	id, err := f.svc.CreateAccount(context.Background(), "John", "Doe", pln)
	if err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	return id
}

func (f *fixture) get(t *testing.T, id string) domain.AccountDetails {
	t.Helper()
	d, err := f.svc.GetAccount(context.Background(), id)
	if err != nil {
		t.Fatalf("GetAccount(%s): %v", id, err)
	}
	return d
}

func TestCreateAccount(t *testing.T) {
	f := newFixture(4)
	id := f.create(t, 1000)

	if id == "" {
		t.Fatal("empty account id")
	}
	d := f.get(t, id)
	if d.ID != id || d.FirstName != "John" || d.LastName != "Doe" || d.BalancePLN != 1000 || d.BalanceUSD != 0 {
		t.Fatalf("unexpected details: %+v", d)
	}
	if f.rates.calls != 0 {
		t.Fatalf("create must not fetch a rate, calls=%d", f.rates.calls)
	}
	if got := testutil.ToFloat64(f.m.AccountsCreatedTotal); got != 1 {
		t.Fatalf("accounts created metric=%v want 1", got)
	}
	if len(f.pub.events) != 1 || f.pub.events[0].Type != domain.EventAccountCreated || f.pub.events[0].AccountID != id {
		t.Fatalf("events=%+v", f.pub.events)
	}
}

func TestCreateAccountUniqueIDs(t *testing.T) {
	f := newFixture(4)
	a := f.create(t, 1)
	b := f.create(t, 1)
	if a == b {
		t.Fatalf("ids should be unique: %q %q", a, b)
	}
}

func TestCreateAccountValidation(t *testing.T) {
	cases := []struct {
		name        string
		first, last string
		balance     float64
	}{
		{"negative balance", "John", "Doe", -1},
		{"nan balance", "John", "Doe", math.NaN()},
		{"inf balance", "John", "Doe", math.Inf(1)},
		{"blank first name", "  ", "Doe", 10},
		{"blank last name", "John", "", 10},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(4)
			_, err := f.svc.CreateAccount(context.Background(), tc.first, tc.last, tc.balance)
			if !errors.Is(err, domain.ErrValidation) {
				t.Fatalf("want ErrValidation, got %v", err)
			}
			if f.repo.saves != 0 {
				t.Fatalf("saves=%d want 0", f.repo.saves)
			}
		})
	}
}

func TestCreateAccountZeroBalance(t *testing.T) {
	f := newFixture(4)
	id := f.create(t, 0)
	if d := f.get(t, id); d.BalancePLN != 0 {
		t.Fatalf("balance=%v want 0", d.BalancePLN)
	}
}

func TestGetAccountNotFound(t *testing.T) {
	f := newFixture(4)
	if _, err := f.svc.GetAccount(context.Background(), "non-existent-id"); !errors.Is(err, domain.ErrAccountNotFound) {
		t.Fatalf("want ErrAccountNotFound, got %v", err)
	}
}

func TestGetAccountIsIdempotent(t *testing.T) {
	f := newFixture(4)
	id := f.create(t, 1000)
	if _, err := f.svc.ExchangeCurrency(context.Background(), id, 100, domain.USD); err != nil {
		t.Fatal(err)
	}
	if first, second := f.get(t, id), f.get(t, id); first != second {
		t.Fatalf("reads differ: %+v vs %+v", first, second)
	}
}

func TestExchangePLNToUSD(t *testing.T) {
	f := newFixture(4.0)
	id := f.create(t, 1000)

	d, err := f.svc.ExchangeCurrency(context.Background(), id, 500, domain.USD)
	if err != nil {
		t.Fatal(err)
	}
	if d.BalancePLN != 500 || d.BalanceUSD != 125.00 {
		t.Fatalf("got PLN=%v USD=%v want 500/125", d.BalancePLN, d.BalanceUSD)
	}
	if stored := f.get(t, id); stored != d {
		t.Fatalf("stored %+v differs from returned %+v", stored, d)
	}
	if f.rates.calls != 1 {
		t.Fatalf("rate calls=%d want 1", f.rates.calls)
	}

	last := f.pub.events[len(f.pub.events)-1]
	if last.Type != domain.EventCurrencyExchanged || last.Rate != 4 || last.Amount != 500 || last.TargetCurrency != domain.USD {
		t.Fatalf("unexpected event: %+v", last)
	}
	if got := testutil.ToFloat64(f.m.ExchangesTotal.WithLabelValues("USD", metrics.ResultOK)); got != 1 {
		t.Fatalf("exchange metric=%v want 1", got)
	}
}

func TestExchangeUSDToPLN(t *testing.T) {
	f := newFixture(4.0)
	id := f.create(t, 1000)
	if _, err := f.svc.ExchangeCurrency(context.Background(), id, 500, domain.USD); err != nil {
		t.Fatal(err)
	}

	d, err := f.svc.ExchangeCurrency(context.Background(), id, 50, domain.PLN)
	if err != nil {
		t.Fatal(err)
	}
	if d.BalanceUSD != 75 || d.BalancePLN != 700 {
		t.Fatalf("got PLN=%v USD=%v want 700/75", d.BalancePLN, d.BalanceUSD)
	}
}

func TestExchangeRoundsResultingBalanceHalfDown(t *testing.T) {
	// 0.02 USD held. 0.02 PLN at 4.0 adds 0.005 -> 0.025, a tie -> 0.02.
	// Then 0.0201 PLN adds 0.005025 -> 0.025025 -> 0.03.
	f := newFixture(4.0)
	id := f.create(t, 1)
	acc, _ := f.repo.FindByID(context.Background(), id)
	acc.BalanceUSD = 0.02
	if err := f.repo.MemoryStore.Save(context.Background(), acc); err != nil {
		t.Fatal(err)
	}

	d, err := f.svc.ExchangeCurrency(context.Background(), id, 0.02, domain.USD)
	if err != nil {
		t.Fatal(err)
	}
	if d.BalanceUSD != 0.02 {
		t.Fatalf("USD=%v want 0.02 (tie rounds down)", d.BalanceUSD)
	}

	d, err = f.svc.ExchangeCurrency(context.Background(), id, 0.0201, domain.USD)
	if err != nil {
		t.Fatal(err)
	}
	if d.BalanceUSD != 0.03 {
		t.Fatalf("USD=%v want 0.03", d.BalanceUSD)
	}
}

func TestExchangeInsufficientFunds(t *testing.T) {
	cases := []struct {
		name   string
		target domain.Currency
		amount float64
	}{
		{"more PLN than available", domain.USD, 1500},
		{"more USD than available", domain.PLN, 0.01},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(4)
			id := f.create(t, 1000)
			before := f.get(t, id)
			saves := f.repo.saves

			_, err := f.svc.ExchangeCurrency(context.Background(), id, tc.amount, tc.target)
			if !errors.Is(err, domain.ErrInsufficientFunds) {
				t.Fatalf("want ErrInsufficientFunds, got %v", err)
			}
			if after := f.get(t, id); after != before {
				t.Fatalf("balances changed: %+v -> %+v", before, after)
			}
			if f.repo.saves != saves {
				t.Fatalf("save called on failed exchange")
			}
		})
	}
}

func TestExchangeExactBalanceIsAllowed(t *testing.T) {
	f := newFixture(4)
	id := f.create(t, 1000)
	d, err := f.svc.ExchangeCurrency(context.Background(), id, 1000, domain.USD)
	if err != nil {
		t.Fatal(err)
	}
	if d.BalancePLN != 0 || d.BalanceUSD != 250 {
		t.Fatalf("got %+v", d)
	}
}

func TestExchangeInvalidCurrency(t *testing.T) {
	f := newFixture(4)
	id := f.create(t, 1000)
	before := f.get(t, id)

	_, err := f.svc.ExchangeCurrency(context.Background(), id, 10, domain.Currency("EUR"))
	if !errors.Is(err, domain.ErrInvalidCurrency) {
		t.Fatalf("want ErrInvalidCurrency, got %v", err)
	}
	if after := f.get(t, id); after != before {
		t.Fatalf("balances changed: %+v -> %+v", before, after)
	}
	if got := testutil.ToFloat64(f.m.ExchangesTotal.WithLabelValues("other", metrics.ResultInvalidCurrency)); got != 1 {
		t.Fatalf("invalid currency metric=%v want 1", got)
	}
}

func TestExchangeRejectsOverflowingBalance(t *testing.T) {
	cases := []struct {
		name   string
		rate   float64
		target domain.Currency
		pln    float64
		usd    float64
		amount float64
	}{
		{"USD credit overflows", 0.5, domain.USD, math.MaxFloat64, 0, 1e308},
		{"PLN credit overflows", 4, domain.PLN, math.MaxFloat64, math.MaxFloat64, 1e308},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(tc.rate)
			id := f.create(t, tc.pln)
			acc, _ := f.repo.FindByID(context.Background(), id)
			acc.BalanceUSD = tc.usd
			if err := f.repo.MemoryStore.Save(context.Background(), acc); err != nil {
				t.Fatal(err)
			}
			before := f.get(t, id)
			saves := f.repo.saves

			_, err := f.svc.ExchangeCurrency(context.Background(), id, tc.amount, tc.target)
			if !errors.Is(err, domain.ErrValidation) {
				t.Fatalf("want ErrValidation, got %v", err)
			}
			if f.repo.saves != saves {
				t.Fatalf("save called for overflowing exchange")
			}
			after := f.get(t, id)
			if after != before || math.IsInf(after.BalancePLN, 0) || math.IsInf(after.BalanceUSD, 0) {
				t.Fatalf("balances changed: %+v -> %+v", before, after)
			}
		})
	}
}

func TestExchangeAccountNotFound(t *testing.T) {
	f := newFixture(4)
	for _, target := range []domain.Currency{domain.USD, domain.PLN, "EUR"} {
		_, err := f.svc.ExchangeCurrency(context.Background(), "non-existent-id", 100, target)
		if !errors.Is(err, domain.ErrAccountNotFound) {
			t.Fatalf("target=%s: want ErrAccountNotFound, got %v", target, err)
		}
	}
	if f.rates.calls != 0 {
		t.Fatalf("rate fetched for missing account")
	}
	if f.repo.saves != 0 {
		t.Fatalf("save called for missing account")
	}
}

func TestExchangeRateProviderError(t *testing.T) {
	f := newFixture(4)
	id := f.create(t, 1000)
	f.rates.err = errors.New("connection refused")

	_, err := f.svc.ExchangeCurrency(context.Background(), id, 100, domain.USD)
	if !errors.Is(err, domain.ErrRateProvider) {
		t.Fatalf("want ErrRateProvider, got %v", err)
	}
	if d := f.get(t, id); d.BalancePLN != 1000 || d.BalanceUSD != 0 {
		t.Fatalf("balances changed: %+v", d)
	}
}

func TestExchangeAmountValidation(t *testing.T) {
	f := newFixture(4)
	id := f.create(t, 1000)
	for _, amt := range []float64{0, -5, math.NaN(), math.Inf(1)} {
		if _, err := f.svc.ExchangeCurrency(context.Background(), id, amt, domain.USD); !errors.Is(err, domain.ErrValidation) {
			t.Fatalf("amount=%v: want ErrValidation, got %v", amt, err)
		}
	}
	if f.rates.calls != 0 {
		t.Fatalf("rate fetched for invalid amount")
	}
}

func TestExchangeConcurrentUpdateSurfaces(t *testing.T) {
	f := newFixture(4)
	id := f.create(t, 1000)
	f.repo.saveErr = domain.ErrConcurrentUpdate

	_, err := f.svc.ExchangeCurrency(context.Background(), id, 100, domain.USD)
	if !errors.Is(err, domain.ErrConcurrentUpdate) {
		t.Fatalf("want ErrConcurrentUpdate, got %v", err)
	}
}

func TestPublishFailureDoesNotFailExchange(t *testing.T) {
	f := newFixture(4)
	id := f.create(t, 1000)
	f.pub.err = errors.New("broker down")

	if _, err := f.svc.ExchangeCurrency(context.Background(), id, 100, domain.USD); err != nil {
		t.Fatalf("exchange failed because of publisher: %v", err)
	}
}

func TestEventsCarryCorrelationID(t *testing.T) {
	f := newFixture(4)
	ctx := domain.WithCorrelationID(context.Background(), "corr-42")
	if _, err := f.svc.CreateAccount(ctx, "John", "Doe", 1); err != nil {
		t.Fatal(err)
	}
	if got := f.pub.events[0].CorrelationID; got != "corr-42" {
		t.Fatalf("correlation id=%q want corr-42", got)
	}
}

func TestEndToEndScenario(t *testing.T) {
	const rate = 3.9876
	f := newFixture(rate)
	ctx := context.Background()

	id, err := f.svc.CreateAccount(ctx, "John", "Doe", 1000)
	if err != nil {
		t.Fatal(err)
	}

	d, err := f.svc.ExchangeCurrency(ctx, id, 100, domain.USD)
	if err != nil {
		t.Fatal(err)
	}
	wantUSD := money.RoundHalfDown(100/rate, 2)
	if d.BalancePLN != 900 || d.BalanceUSD != wantUSD {
		t.Fatalf("got PLN=%v USD=%v want 900/%v", d.BalancePLN, d.BalanceUSD, wantUSD)
	}
	if wantUSD != 25.08 {
		t.Fatalf("100/%v rounded=%v want 25.08", rate, wantUSD)
	}

	if _, err := f.svc.ExchangeCurrency(ctx, id, 1100, domain.USD); !errors.Is(err, domain.ErrInsufficientFunds) {
		t.Fatalf("want ErrInsufficientFunds, got %v", err)
	}
	if after := f.get(t, id); after.BalancePLN != 900 || after.BalanceUSD != wantUSD {
		t.Fatalf("balances changed after failed exchange: %+v", after)
	}
}
