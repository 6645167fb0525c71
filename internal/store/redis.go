package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"currency-ledger/internal/domain"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "ledger:account:"

// RedisStore keeps one JSON document per account. Updates run under WATCH so a
// concurrent writer aborts the transaction instead of overwriting it.
type RedisStore struct {
	rdb redis.UniversalClient
	now func() time.Time
}

func NewRedis(rdb redis.UniversalClient) *RedisStore {
	return &RedisStore{rdb: rdb, now: func() time.Time { return time.Now().UTC() }}
}

func redisKey(id string) string { return redisKeyPrefix + id }

func (r *RedisStore) Ping(ctx context.Context) error { return r.rdb.Ping(ctx).Err() }

func (r *RedisStore) Save(ctx context.Context, acc *domain.Account) error {
	if acc == nil || strings.TrimSpace(acc.ID) == "" {
		return domain.ErrValidation
	}
	key := redisKey(acc.ID)

	var next domain.Account
	err := r.rdb.Watch(ctx, func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
			if acc.Version != 0 {
				return domain.ErrAccountNotFound
			}
		case err != nil:
			return err
		default:
			if acc.Version == 0 {
				return fmt.Errorf("%w: account %s already exists", domain.ErrValidation, acc.ID)
			}
			var cur domain.Account
			if err := json.Unmarshal(raw, &cur); err != nil {
				return fmt.Errorf("decode account %s: %w", acc.ID, err)
			}
			if cur.Version != acc.Version {
				return domain.ErrConcurrentUpdate
			}
		}

		now := r.now()
		next = *acc
		if next.Version == 0 {
			next.CreatedAt = now
		}
		next.Version++
		next.UpdatedAt = now

		doc, err := json.Marshal(next)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, doc, 0)
			return nil
		})
		return err
	}, key)
	if errors.Is(err, redis.TxFailedErr) {
		return domain.ErrConcurrentUpdate
	}
	if err != nil {
		return err
	}

	*acc = next
	return nil
}

func (r *RedisStore) FindByID(ctx context.Context, id string) (*domain.Account, error) {
	raw, err := r.rdb.Get(ctx, redisKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, domain.ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}
	var a domain.Account
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, fmt.Errorf("decode account %s: %w", id, err)
	}
	return &a, nil
}
