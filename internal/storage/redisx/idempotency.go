package redisx

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"
)

const (
	// keyIdemOrderCreate maps a scoped Idempotency-Key to the request
	// fingerprint and the created order ID.
	keyIdemOrderCreate = "idem:order:create:%s"

	pendingMarker = "pending"
	fieldSep      = "|"
)

var (
	// TTLIdempotency is how long a completed request is remembered.
	TTLIdempotency = 24 * time.Hour
	// TTLClaim bounds how long an in-flight request holds its key.
	TTLClaim = 30 * time.Second
)

// IdemState describes what is known about an idempotency key.
type IdemState int

const (
	// IdemNew means the key was unknown and is now claimed by the caller.
	IdemNew IdemState = iota
	// IdemInFlight means another request holds the key.
	IdemInFlight
	// IdemDone means the request already completed.
	IdemDone
	// IdemMismatch means the key was used for a request with another body.
	IdemMismatch
)

// OrderIdempotency deduplicates order creation requests. Each key remembers
// the fingerprint of the request that claimed it.
type OrderIdempotency struct {
	rdb *redis.Client
}

// NewOrderIdempotency returns an OrderIdempotency backed by rdb.
func NewOrderIdempotency(rdb *redis.Client) *OrderIdempotency {
	return &OrderIdempotency{rdb: rdb}
}

// Claim reserves key for a request with the given fingerprint. When the key
// is already known the returned state says whether the original request is
// still running, which order it produced, or that it carried another body.
func (s *OrderIdempotency) Claim(ctx context.Context, key, fingerprint string) (IdemState, string, error) {
	k := fmt.Sprintf(keyIdemOrderCreate, key)

	ok, err := s.rdb.SetNX(ctx, k, encodeEntry(fingerprint, pendingMarker), TTLClaim).Result()
	if err != nil {
		return 0, "", errors.Wrap(err, "claim idempotency key")
	}
	if ok {
		return IdemNew, "", nil
	}

	v, err := s.rdb.Get(ctx, k).Result()
	switch {
	case errors.Is(err, redis.Nil):
		// Expired between SETNX and GET; let the caller retry.
		return IdemInFlight, "", nil
	case err != nil:
		return 0, "", errors.Wrap(err, "read idempotency key")
	}
	state, orderID := entryState(v, fingerprint)
	return state, orderID, nil
}

// Complete records the order created for key.
func (s *OrderIdempotency) Complete(ctx context.Context, key, fingerprint, orderID string) error {
	k := fmt.Sprintf(keyIdemOrderCreate, key)
	if err := s.rdb.Set(ctx, k, encodeEntry(fingerprint, orderID), TTLIdempotency).Err(); err != nil {
		return errors.Wrap(err, "store idempotency result")
	}
	return nil
}

// Release forgets a claimed key so the client can retry a failed request.
func (s *OrderIdempotency) Release(ctx context.Context, key string) error {
	k := fmt.Sprintf(keyIdemOrderCreate, key)
	if err := s.rdb.Del(ctx, k).Err(); err != nil {
		return errors.Wrap(err, "release idempotency key")
	}
	return nil
}

func encodeEntry(fingerprint, value string) string {
	return fingerprint + fieldSep + value
}

// entryState interprets a stored entry for a request with fingerprint.
func entryState(entry, fingerprint string) (IdemState, string) {
	stored, value, ok := strings.Cut(entry, fieldSep)
	switch {
	case !ok || stored != fingerprint:
		return IdemMismatch, ""
	case value == pendingMarker:
		return IdemInFlight, ""
	default:
		return IdemDone, value
	}
}
