// Package account implements account creation, lookup and PLN/USD exchange.
package account

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"currency-ledger/internal/domain"
	"currency-ledger/internal/events"
	"currency-ledger/internal/metrics"
	"currency-ledger/internal/money"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Repository persists accounts. FindByID returns domain.ErrAccountNotFound for
// unknown ids; Save returns domain.ErrConcurrentUpdate when acc.Version is stale.
type Repository interface {
	Save(ctx context.Context, acc *domain.Account) error
	FindByID(ctx context.Context, id string) (*domain.Account, error)
}

// RateProvider returns PLN per 1 USD.
type RateProvider interface {
	ExchangeRate(ctx context.Context) (float64, error)
}

type Service struct {
	repo    Repository
	rates   RateProvider
	pub     events.Publisher
	metrics *metrics.LedgerMetrics
	log     *zap.Logger
	newID   func() string
	now     func() time.Time
}

type Option func(*Service)

func WithPublisher(p events.Publisher) Option { return func(s *Service) { s.pub = p } }

func WithMetrics(m *metrics.LedgerMetrics) Option { return func(s *Service) { s.metrics = m } }

func WithLogger(l *zap.Logger) Option { return func(s *Service) { s.log = l } }

func WithIDGenerator(f func() string) Option { return func(s *Service) { s.newID = f } }

func WithClock(f func() time.Time) Option { return func(s *Service) { s.now = f } }

func NewService(repo Repository, rates RateProvider, opts ...Option) *Service {
	s := &Service{
		repo:  repo,
		rates: rates,
		pub:   events.Noop{},
		log:   zap.NewNop(),
		newID: uuid.NewString,
		now:   func() time.Time { return time.Now().UTC() },
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }

// CreateAccount stores a new account holding initialBalance PLN and 0 USD and
// returns its id.
func (s *Service) CreateAccount(ctx context.Context, firstName, lastName string, initialBalance float64) (string, error) {
	firstName = strings.TrimSpace(firstName)
	lastName = strings.TrimSpace(lastName)
	if firstName == "" || lastName == "" {
		return "", fmt.Errorf("%w: first and last name are required", domain.ErrValidation)
	}
	if !finite(initialBalance) || initialBalance < 0 {
		return "", fmt.Errorf("%w: initial balance must be a non-negative number", domain.ErrValidation)
	}

	acc := &domain.Account{
		ID:         s.newID(),
		FirstName:  firstName,
		LastName:   lastName,
		BalancePLN: initialBalance,
		BalanceUSD: 0,
	}
	if err := s.repo.Save(ctx, acc); err != nil {
		return "", fmt.Errorf("save account: %w", err)
	}

	s.metrics.AccountCreated()
	s.log.Info("account created",
		zap.String("account_id", acc.ID),
		zap.String("correlation_id", domain.CorrelationID(ctx)),
	)
	s.publish(ctx, domain.AccountEvent{
		Type:       domain.EventAccountCreated,
		AccountID:  acc.ID,
		BalancePLN: acc.BalancePLN,
		BalanceUSD: acc.BalanceUSD,
	})
	return acc.ID, nil
}

func (s *Service) GetAccount(ctx context.Context, id string) (domain.AccountDetails, error) {
	acc, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return domain.AccountDetails{}, err
	}
	return acc.Details(), nil
}

// ExchangeCurrency moves amount out of the balance that is not target and
// credits its converted value to target at the current rate. The credited
// balance is rounded half-down to 2 places; the debited one is not rounded.
func (s *Service) ExchangeCurrency(ctx context.Context, id string, amount float64, target domain.Currency) (details domain.AccountDetails, err error) {
	defer func() {
		label := string(target)
		if !target.Valid() {
			label = "other"
		}
		s.metrics.Exchange(label, exchangeResult(err))
	}()

	if !finite(amount) || amount <= 0 {
		return domain.AccountDetails{}, fmt.Errorf("%w: amount must be a positive number", domain.ErrValidation)
	}

	acc, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return domain.AccountDetails{}, err
	}

	rate, err := s.rates.ExchangeRate(ctx)
	if err != nil {
		if !errors.Is(err, domain.ErrRateProvider) {
			err = fmt.Errorf("%w: %v", domain.ErrRateProvider, err)
		}
		return domain.AccountDetails{}, err
	}

	pln, usd := acc.BalancePLN, acc.BalanceUSD
	switch target {
	case domain.USD:
		if pln < amount {
			return domain.AccountDetails{}, domain.ErrInsufficientFunds
		}
		pln -= amount
		usd = money.RoundBalance(usd + amount/rate)
	case domain.PLN:
		if usd < amount {
			return domain.AccountDetails{}, domain.ErrInsufficientFunds
		}
		usd -= amount
		pln = money.RoundBalance(pln + amount*rate)
	default:
		return domain.AccountDetails{}, fmt.Errorf("%w: %q", domain.ErrInvalidCurrency, target)
	}
	if !finite(pln) || !finite(usd) {
		return domain.AccountDetails{}, fmt.Errorf("%w: resulting balance out of range", domain.ErrValidation)
	}
	acc.BalancePLN, acc.BalanceUSD = pln, usd

	if err := s.repo.Save(ctx, acc); err != nil {
		return domain.AccountDetails{}, fmt.Errorf("save account: %w", err)
	}

	s.log.Info("currency exchanged",
		zap.String("account_id", acc.ID),
		zap.String("target", string(target)),
		zap.Float64("amount", amount),
		zap.Float64("rate", rate),
		zap.String("correlation_id", domain.CorrelationID(ctx)),
	)
	s.publish(ctx, domain.AccountEvent{
		Type:           domain.EventCurrencyExchanged,
		AccountID:      acc.ID,
		Amount:         amount,
		TargetCurrency: target,
		Rate:           rate,
		BalancePLN:     acc.BalancePLN,
		BalanceUSD:     acc.BalanceUSD,
	})
	return acc.Details(), nil
}

// publish is best effort: the account is already saved.
func (s *Service) publish(ctx context.Context, ev domain.AccountEvent) {
	ev.CorrelationID = domain.CorrelationID(ctx)
	ev.OccurredAt = s.now()
	if err := s.pub.Publish(ctx, ev); err != nil {
		s.log.Warn("account event not published",
			zap.String("event_type", string(ev.Type)),
			zap.String("account_id", ev.AccountID),
			zap.Error(err),
		)
	}
}

func exchangeResult(err error) string {
	switch {
	case err == nil:
		return metrics.ResultOK
	case errors.Is(err, domain.ErrInsufficientFunds):
		return metrics.ResultInsufficientFunds
	case errors.Is(err, domain.ErrInvalidCurrency):
		return metrics.ResultInvalidCurrency
	case errors.Is(err, domain.ErrAccountNotFound):
		return metrics.ResultNotFound
	case errors.Is(err, domain.ErrRateProvider):
		return metrics.ResultRateError
	case errors.Is(err, domain.ErrValidation):
		return metrics.ResultValidation
	case errors.Is(err, domain.ErrConcurrentUpdate):
		return metrics.ResultConflict
	default:
		return metrics.ResultError
	}
}
