package domain

import (
	"strings"
	"time"
)

type Currency string

const (
	PLN Currency = "PLN"
	USD Currency = "USD"
)

// ParseCurrency normalizes the input. Unknown codes are returned as-is so the
// exchange path can reject them with ErrInvalidCurrency.
func ParseCurrency(s string) Currency {
	return Currency(strings.ToUpper(strings.TrimSpace(s)))
}

func (c Currency) Valid() bool { return c == PLN || c == USD }

// Account is the stored record. Version is 0 until the first save.
type Account struct {
	ID         string    `json:"id"`
	FirstName  string    `json:"firstName"`
	LastName   string    `json:"lastName"`
	BalancePLN float64   `json:"balancePLN"`
	BalanceUSD float64   `json:"balanceUSD"`
	Version    int64     `json:"version"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

func (a *Account) Details() AccountDetails {
	return AccountDetails{
		ID:         a.ID,
		FirstName:  a.FirstName,
		LastName:   a.LastName,
		BalancePLN: a.BalancePLN,
		BalanceUSD: a.BalanceUSD,
	}
}

type CreateAccountRequest struct {
	FirstName      string  `json:"firstName"`
	LastName       string  `json:"lastName"`
	InitialBalance float64 `json:"initialBalance"`
}

type AccountDetails struct {
	ID         string  `json:"id"`
	FirstName  string  `json:"firstName"`
	LastName   string  `json:"lastName"`
	BalancePLN float64 `json:"balancePLN"`
	BalanceUSD float64 `json:"balanceUSD"`
}

type EventType string

const (
	EventAccountCreated    EventType = "ACCOUNT_CREATED"
	EventCurrencyExchanged EventType = "CURRENCY_EXCHANGED"
)

// AccountEvent is published after a successful save.
type AccountEvent struct {
	Type           EventType `json:"type"`
	AccountID      string    `json:"account_id"`
	CorrelationID  string    `json:"correlation_id"`
	OccurredAt     time.Time `json:"occurred_at"`
	Amount         float64   `json:"amount,omitempty"`
	TargetCurrency Currency  `json:"target_currency,omitempty"`
	Rate           float64   `json:"rate,omitempty"`
	BalancePLN     float64   `json:"balance_pln"`
	BalanceUSD     float64   `json:"balance_usd"`
}
