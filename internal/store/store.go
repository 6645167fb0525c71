package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"currency-ledger/internal/domain"

	"github.com/google/uuid"
	"github.com/gowebpki/jcs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	eventAccountCreated = "ACCOUNT_CREATED"
	eventAccountUpdated = "ACCOUNT_UPDATED"
	aggregateAccount    = "ACCOUNT"
)

// Store is the Postgres account repository. Every save also appends a
// hash-chained row to event_log inside the same transaction.
type Store struct {
	db  *pgxpool.Pool
	now func() time.Time
}

func New(db *pgxpool.Pool) *Store {
	return &Store{db: db, now: func() time.Time { return time.Now().UTC() }}
}

func (s *Store) Ping(ctx context.Context) error { return s.db.Ping(ctx) }

// =========================
// RFC 8785 (JCS) for event payloads
// =========================

type JSONBytes = json.RawMessage

// jcsPayload returns both representations required by the DB schema:
// - payload_json: regular JSON bytes (to be cast to jsonb in SQL)
// - payload_canonical: RFC 8785 canonical JSON string (JCS)
func jcsPayload(v any) (payloadJSON JSONBytes, payloadCanonical string, err error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, "", err
	}
	canon, err := jcs.Transform(raw)
	if err != nil {
		return nil, "", err
	}
	return JSONBytes(raw), string(canon), nil
}

// insertEvent is the single entry point for event_log inserts.
// prev_hash and hash are filled in by the event_log_chain trigger.
func insertEvent(
	ctx context.Context,
	tx pgx.Tx,
	eventType, aggregateType, aggregateID, correlationID string,
	payload any,
) error {
	if strings.TrimSpace(eventType) == "" ||
		strings.TrimSpace(aggregateType) == "" ||
		strings.TrimSpace(aggregateID) == "" ||
		strings.TrimSpace(correlationID) == "" {
		return domain.ErrValidation
	}

	payloadJSON, payloadCanonical, err := jcsPayload(payload)
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO event_log(
			event_id, event_type, aggregate_type, aggregate_id, correlation_id, payload_json, payload_canonical
		) VALUES($1,$2,$3,$4,$5,$6::jsonb,$7)`,
		uuid.New(), eventType, aggregateType, aggregateID, correlationID, payloadJSON, payloadCanonical,
	)
	return err
}

type accountSnapshotPayload struct {
	AccountID  string  `json:"account_id"`
	FirstName  string  `json:"first_name"`
	LastName   string  `json:"last_name"`
	BalancePLN float64 `json:"balance_pln"`
	BalanceUSD float64 `json:"balance_usd"`
	Version    int64   `json:"version"`
}

// Save inserts an account with Version 0 and otherwise updates it only when the
// stored version still matches. On success acc.Version is advanced.
func (s *Store) Save(ctx context.Context, acc *domain.Account) error {
	if acc == nil || strings.TrimSpace(acc.ID) == "" {
		return domain.ErrValidation
	}

	corr := domain.CorrelationID(ctx)
	if corr == "" {
		corr = uuid.NewString()
	}
	now := s.now()

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	createdAt := acc.CreatedAt
	eventType := eventAccountUpdated

	if acc.Version == 0 {
		createdAt = now
		eventType = eventAccountCreated
		tag, err := tx.Exec(ctx,
			`INSERT INTO accounts(account_id, first_name, last_name, balance_pln, balance_usd, version, created_at, updated_at)
			 VALUES($1,$2,$3,$4,$5,1,$6,$6)
			 ON CONFLICT (account_id) DO NOTHING`,
			acc.ID, acc.FirstName, acc.LastName, acc.BalancePLN, acc.BalanceUSD, now,
		)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("%w: account %s already exists", domain.ErrValidation, acc.ID)
		}
	} else {
		tag, err := tx.Exec(ctx,
			`UPDATE accounts
			    SET first_name=$2, last_name=$3, balance_pln=$4, balance_usd=$5,
			        version=version+1, updated_at=$6
			  WHERE account_id=$1 AND version=$7`,
			acc.ID, acc.FirstName, acc.LastName, acc.BalancePLN, acc.BalanceUSD, now, acc.Version,
		)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			var one int
			err := tx.QueryRow(ctx, `SELECT 1 FROM accounts WHERE account_id=$1`, acc.ID).Scan(&one)
			if errors.Is(err, pgx.ErrNoRows) {
				return domain.ErrAccountNotFound
			}
			if err != nil {
				return err
			}
			return domain.ErrConcurrentUpdate
		}
	}

	payload := accountSnapshotPayload{
		AccountID:  acc.ID,
		FirstName:  acc.FirstName,
		LastName:   acc.LastName,
		BalancePLN: acc.BalancePLN,
		BalanceUSD: acc.BalanceUSD,
		Version:    acc.Version + 1,
	}
	if err := insertEvent(ctx, tx, eventType, aggregateAccount, acc.ID, corr, payload); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	acc.Version++
	acc.CreatedAt = createdAt
	acc.UpdatedAt = now
	return nil
}

func (s *Store) FindByID(ctx context.Context, id string) (*domain.Account, error) {
	var a domain.Account
	err := s.db.QueryRow(ctx,
		`SELECT account_id, first_name, last_name, balance_pln, balance_usd, version, created_at, updated_at
		   FROM accounts
		  WHERE account_id=$1`,
		id,
	).Scan(&a.ID, &a.FirstName, &a.LastName, &a.BalancePLN, &a.BalanceUSD, &a.Version, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrAccountNotFound
		}
		return nil, err
	}
	return &a, nil
}
