package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/homeservices-storefront/api/internal/platform/kvstore"
)

const kvKeyPrefix = "idempotency:"

// KVStore keeps reservations in the device key/value store so replays survive restarts and
// are shared between instances when Redis backs the store.
type KVStore struct {
	store kvstore.Store
}

var _ Store = (*KVStore)(nil)

// NewKVStore binds the idempotency records to store.
func NewKVStore(store kvstore.Store) (*KVStore, error) {
	if store == nil {
		return nil, errors.New("idempotency: kv store is required")
	}
	return &KVStore{store: store}, nil
}

type kvRecord struct {
	Key             string              `json:"key"`
	Fingerprint     string              `json:"fingerprint"`
	Status          Status              `json:"status"`
	ResponseStatus  int                 `json:"responseStatus,omitempty"`
	ResponseHeaders map[string][]string `json:"responseHeaders,omitempty"`
	ResponseBody    []byte              `json:"responseBody,omitempty"`
	CreatedAt       time.Time           `json:"createdAt"`
	UpdatedAt       time.Time           `json:"updatedAt"`
	ExpiresAt       time.Time           `json:"expiresAt"`
}

func (r kvRecord) toRecord() Record {
	return Record(r)
}

// Reserve claims key for fingerprint, or reports the state of an earlier claim.
func (s *KVStore) Reserve(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	now = now.UTC()

	var reservation Reservation
	err := s.store.Update(ctx, kvKeyPrefix+hashKey(key), ttl, func(current []byte, exists bool) ([]byte, error) {
		if exists {
			var existing kvRecord
			if err := json.Unmarshal(current, &existing); err != nil {
				return nil, fmt.Errorf("idempotency: decode record: %w", err)
			}
			if existing.ExpiresAt.IsZero() || now.Before(existing.ExpiresAt) {
				if existing.Fingerprint != fingerprint {
					return nil, ErrFingerprintMismatch
				}
				reservation = Reservation{State: ReservationStatePending, Record: existing.toRecord()}
				if existing.Status == StatusCompleted {
					reservation.State = ReservationStateCompleted
				}
				return current, nil
			}
		}
		record := kvRecord{
			Key:         key,
			Fingerprint: fingerprint,
			Status:      StatusPending,
			CreatedAt:   now,
			UpdatedAt:   now,
			ExpiresAt:   now.Add(ttl),
		}
		reservation = Reservation{State: ReservationStateNew, Record: record.toRecord()}
		return json.Marshal(record)
	})
	if err != nil {
		return Reservation{}, err
	}
	return reservation, nil
}

// SaveResponse completes the reservation with the response to replay.
func (s *KVStore) SaveResponse(ctx context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	now = now.UTC()
	return s.store.Update(ctx, kvKeyPrefix+hashKey(key), ttl, func(current []byte, exists bool) ([]byte, error) {
		record := kvRecord{Key: key, Fingerprint: fingerprint, CreatedAt: now}
		if exists {
			if err := json.Unmarshal(current, &record); err != nil {
				return nil, fmt.Errorf("idempotency: decode record: %w", err)
			}
			if record.Fingerprint != fingerprint {
				return nil, ErrFingerprintMismatch
			}
		}
		record.Status = StatusCompleted
		record.ResponseStatus = resp.Status
		record.ResponseHeaders = replayableHeaders(resp.Headers)
		record.ResponseBody = append([]byte(nil), resp.Body...)
		record.UpdatedAt = now
		record.ExpiresAt = now.Add(ttl)
		return json.Marshal(record)
	})
}

// Release drops a pending reservation so the client can retry with the same key.
func (s *KVStore) Release(ctx context.Context, key, fingerprint string) error {
	id := kvKeyPrefix + hashKey(key)
	raw, err := s.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, kvstore.ErrNotFound) {
			return nil
		}
		return err
	}
	var record kvRecord
	if err := json.Unmarshal(raw, &record); err == nil {
		if record.Fingerprint != fingerprint || record.Status == StatusCompleted {
			return nil
		}
	}
	return s.store.Delete(ctx, id)
}
