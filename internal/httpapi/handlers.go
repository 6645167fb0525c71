package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"currency-ledger/internal/domain"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

type AccountService interface {
	CreateAccount(ctx context.Context, firstName, lastName string, initialBalance float64) (string, error)
	GetAccount(ctx context.Context, id string) (domain.AccountDetails, error)
	ExchangeCurrency(ctx context.Context, id string, amount float64, target domain.Currency) (domain.AccountDetails, error)
}

type Handlers struct {
	svc     AccountService
	log     *zap.Logger
	timeout time.Duration
	ready   func(context.Context) error
}

type HandlerOption func(*Handlers)

func WithLogger(l *zap.Logger) HandlerOption { return func(h *Handlers) { h.log = l } }

// WithRequestTimeout bounds each service call, rate fetch included.
func WithRequestTimeout(d time.Duration) HandlerOption { return func(h *Handlers) { h.timeout = d } }

// WithReadiness sets the check behind /readyz, usually the store's Ping.
func WithReadiness(f func(context.Context) error) HandlerOption {
	return func(h *Handlers) { h.ready = f }
}

func NewHandlers(svc AccountService, opts ...HandlerOption) *Handlers {
	h := &Handlers{svc: svc, log: zap.NewNop(), timeout: 10 * time.Second}
	for _, o := range opts {
		o(h)
	}
	return h
}

func (h *Handlers) Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (h *Handlers) Readyz(w http.ResponseWriter, r *http.Request) {
	if h.ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.ready(ctx); err != nil {
			h.log.Warn("readiness check failed", zap.Error(err))
			writeErr(w, http.StatusServiceUnavailable, "not ready")
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ready"))
}

func decodeJSON(r *http.Request, dst any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]any{"error": msg})
}

func httpStatusForErr(err error) int {
	switch {
	case err == nil:
		return http.StatusOK

	// Domain errors
	case errors.Is(err, domain.ErrValidation),
		errors.Is(err, domain.ErrInsufficientFunds),
		errors.Is(err, domain.ErrInvalidCurrency):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrAccountNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrConcurrentUpdate):
		return http.StatusConflict

	// Context / timeouts
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		return http.StatusRequestTimeout

	// ErrRateProvider lands here with everything else unexpected.
	default:
		return http.StatusInternalServerError
	}
}

func publicErrMessage(code int, err error) string {
	// Don’t leak internals on 5xx.
	if code >= 500 {
		return "internal error"
	}
	return err.Error()
}

func (h *Handlers) writeServiceErr(w http.ResponseWriter, r *http.Request, err error) {
	code := httpStatusForErr(err)
	if code >= 500 {
		h.log.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("correlation_id", domain.CorrelationID(r.Context())),
			zap.Int("status", code),
			zap.Error(err),
		)
	}
	writeErr(w, code, publicErrMessage(code, err))
}

// POST /api/accounts
func (h *Handlers) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateAccountRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid json")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	id, err := h.svc.CreateAccount(ctx, req.FirstName, req.LastName, req.InitialBalance)
	if err != nil {
		h.writeServiceErr(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusCreated)
	_, _ = w.Write([]byte(id))
}

// GET /api/accounts/{accountId}
func (h *Handlers) GetAccount(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	details, err := h.svc.GetAccount(ctx, chi.URLParam(r, "accountId"))
	if err != nil {
		h.writeServiceErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, details)
}

// POST /api/accounts/{accountId}/exchange?amount=&targetCurrency=
func (h *Handlers) ExchangeCurrency(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	amount, err := strconv.ParseFloat(q.Get("amount"), 64)
	if err != nil {
		writeErr(w, http.StatusBadRequest, "invalid amount")
		return
	}
	target := domain.ParseCurrency(q.Get("targetCurrency"))

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	details, err := h.svc.ExchangeCurrency(ctx, chi.URLParam(r, "accountId"), amount, target)
	if err != nil {
		h.writeServiceErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, details)
}
