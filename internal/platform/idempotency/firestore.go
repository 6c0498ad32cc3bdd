package idempotency

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	pfirestore "github.com/southernsense/storefront/internal/platform/firestore"
)

const defaultCollection = "idempotencyKeys"

// FirestoreOption customises FirestoreStore.
type FirestoreOption func(*firestoreOptions)

type firestoreOptions struct {
	collection string
	attempts   int
}

// WithCollection overrides the collection holding reservations.
func WithCollection(name string) FirestoreOption {
	return func(o *firestoreOptions) {
		if name != "" {
			o.collection = name
		}
	}
}

// WithMaxAttempts bounds transaction retries.
func WithMaxAttempts(attempts int) FirestoreOption {
	return func(o *firestoreOptions) {
		if attempts > 0 {
			o.attempts = attempts
		}
	}
}

// FirestoreStore keeps reservations next to the orders they guard.
type FirestoreStore struct {
	provider *pfirestore.Provider
	repo     *pfirestore.BaseRepository[firestoreRecord]
	attempts int
}

// NewFirestoreStore constructs a FirestoreStore on the shared provider.
func NewFirestoreStore(provider *pfirestore.Provider, opts ...FirestoreOption) *FirestoreStore {
	options := firestoreOptions{collection: defaultCollection, attempts: 5}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	return &FirestoreStore{
		provider: provider,
		repo:     pfirestore.NewBaseRepository[firestoreRecord](provider, options.collection, nil),
		attempts: options.attempts,
	}
}

func (s *FirestoreStore) Reserve(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	now = now.UTC()
	ref, err := s.repo.DocumentRef(ctx, documentID(key))
	if err != nil {
		return Reservation{}, err
	}

	var result Reservation
	err = s.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil && status.Code(err) != codes.NotFound {
			return err
		}
		if err == nil {
			doc, err := s.repo.Decode(snap)
			if err != nil {
				return err
			}
			record := doc.Data.toRecord()
			if !record.expired(now) {
				if record.Fingerprint != fingerprint {
					return ErrFingerprintMismatch
				}
				state := ReservationStatePending
				if record.Status == StatusCompleted {
					state = ReservationStateCompleted
				}
				result = Reservation{State: state, Record: record}
				return nil
			}
		}

		record := newPendingRecord(key, fingerprint, now, ttl)
		if err := tx.Set(ref, fromRecord(record)); err != nil {
			return err
		}
		result = Reservation{State: ReservationStateNew, Record: record}
		return nil
	}, pfirestore.WithTxName("idempotency.reserve"), pfirestore.WithTxAttempts(s.attempts))
	return result, err
}

func (s *FirestoreStore) SaveResponse(ctx context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	now = now.UTC()
	ref, err := s.repo.DocumentRef(ctx, documentID(key))
	if err != nil {
		return err
	}

	return s.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		record := newPendingRecord(key, fingerprint, now, ttl)
		snap, err := tx.Get(ref)
		switch {
		case err == nil:
			doc, err := s.repo.Decode(snap)
			if err != nil {
				return err
			}
			if doc.Data.Fingerprint != fingerprint {
				return ErrFingerprintMismatch
			}
			record.CreatedAt = doc.Data.CreatedAt
		case status.Code(err) != codes.NotFound:
			return err
		}

		record.Status = StatusCompleted
		record.ResponseStatus = resp.Status
		record.ResponseHeaders = sanitizeHeaders(resp.Headers)
		record.ResponseBody = append([]byte(nil), resp.Body...)
		return tx.Set(ref, fromRecord(record))
	}, pfirestore.WithTxName("idempotency.save_response"), pfirestore.WithTxAttempts(s.attempts))
}

func (s *FirestoreStore) Release(ctx context.Context, key string) error {
	return s.repo.Delete(ctx, documentID(key))
}

// CleanupExpired deletes up to limit expired reservations in one batch.
func (s *FirestoreStore) CleanupExpired(ctx context.Context, now time.Time, limit int) (int, error) {
	if limit <= 0 {
		limit = 100
	}
	docs, err := s.repo.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("expiresAt", "<=", now.UTC()).Limit(limit)
	})
	if err != nil {
		return 0, err
	}
	if len(docs) == 0 {
		return 0, nil
	}

	client, err := s.provider.Client(ctx)
	if err != nil {
		return 0, err
	}
	writer := client.BulkWriter(ctx)
	for _, doc := range docs {
		ref, err := s.repo.DocumentRef(ctx, doc.ID)
		if err != nil {
			return 0, err
		}
		if _, err := writer.Delete(ref); err != nil {
			writer.End()
			return 0, pfirestore.WrapError("idempotency.cleanup", err)
		}
	}
	writer.End()
	return len(docs), nil
}

// IsFingerprintMismatch unwraps repository errors raised from inside a transaction.
func IsFingerprintMismatch(err error) bool {
	return errors.Is(err, ErrFingerprintMismatch)
}

type firestoreRecord struct {
	Key             string              `firestore:"key"`
	Fingerprint     string              `firestore:"fingerprint"`
	Status          string              `firestore:"status"`
	ResponseStatus  int                 `firestore:"responseStatus"`
	ResponseHeaders map[string][]string `firestore:"responseHeaders,omitempty"`
	ResponseBody    []byte              `firestore:"responseBody,omitempty"`
	CreatedAt       time.Time           `firestore:"createdAt"`
	UpdatedAt       time.Time           `firestore:"updatedAt"`
	ExpiresAt       time.Time           `firestore:"expiresAt"`
}

func fromRecord(r Record) firestoreRecord {
	return firestoreRecord{
		Key:             r.Key,
		Fingerprint:     r.Fingerprint,
		Status:          string(r.Status),
		ResponseStatus:  r.ResponseStatus,
		ResponseHeaders: r.ResponseHeaders,
		ResponseBody:    r.ResponseBody,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
		ExpiresAt:       r.ExpiresAt,
	}
}

func (r firestoreRecord) toRecord() Record {
	return Record{
		Key:             r.Key,
		Fingerprint:     r.Fingerprint,
		Status:          Status(r.Status),
		ResponseStatus:  r.ResponseStatus,
		ResponseHeaders: r.ResponseHeaders,
		ResponseBody:    r.ResponseBody,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
		ExpiresAt:       r.ExpiresAt,
	}
}
