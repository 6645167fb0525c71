package domain

import "errors"

var (
	ErrAccountNotFound   = errors.New("account not found")
	ErrInsufficientFunds = errors.New("insufficient funds on the account")
	ErrInvalidCurrency   = errors.New("unsupported target currency")
	ErrRateProvider      = errors.New("exchange rate provider failure")
	ErrValidation        = errors.New("validation error")

	// ErrConcurrentUpdate is returned by a store when the account was saved by
	// someone else since it was read.
	ErrConcurrentUpdate = errors.New("account was modified concurrently")
)
