package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"
	"time"
)

// DefaultTTL bounds how long a checkout submission can be replayed.
const DefaultTTL = 24 * time.Hour

// Status is the lifecycle state of a stored submission.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
)

// ReservationState is the outcome of Reserve.
type ReservationState int

const (
	// ReservationStateNew means the caller owns the key and must run the handler.
	ReservationStateNew ReservationState = iota
	// ReservationStateCompleted means a stored response must be replayed.
	ReservationStateCompleted
	// ReservationStatePending means another submission with the same key is still running.
	ReservationStatePending
)

// Reservation pairs the reservation outcome with the stored record.
type Reservation struct {
	State  ReservationState
	Record Record
}

// Record is a stored submission keyed by the scoped idempotency key.
type Record struct {
	Key             string
	Fingerprint     string
	Status          Status
	ResponseStatus  int
	ResponseHeaders map[string][]string
	ResponseBody    []byte
	CreatedAt       time.Time
	UpdatedAt       time.Time
	ExpiresAt       time.Time
}

func (r Record) expired(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && !now.Before(r.ExpiresAt)
}

// Response is the captured handler output replayed for duplicate submissions.
type Response struct {
	Status  int
	Headers http.Header
	Body    []byte
}

// Store persists reservations and completed responses.
type Store interface {
	Reserve(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error)
	SaveResponse(ctx context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error
	Release(ctx context.Context, key string) error
	CleanupExpired(ctx context.Context, now time.Time, limit int) (int, error)
}

// ErrFingerprintMismatch is returned when a key is reused for a different request body.
var ErrFingerprintMismatch = errors.New("idempotency: key reserved for a different request")

// documentID hashes the scoped key so arbitrary client input is safe as a document id.
func documentID(key string) string {
	return sha256Hex([]byte(strings.TrimSpace(key)))
}

func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func newPendingRecord(key, fingerprint string, now time.Time, ttl time.Duration) Record {
	return Record{
		Key:         key,
		Fingerprint: fingerprint,
		Status:      StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
		ExpiresAt:   now.Add(ttl),
	}
}

func sanitizeHeaders(header http.Header) map[string][]string {
	filtered := make(map[string][]string, len(header))
	for name, values := range header {
		canonical := http.CanonicalHeaderKey(name)
		switch canonical {
		case "Content-Length", "Date", "Connection", "Keep-Alive", "Set-Cookie", "Transfer-Encoding", "Trailer", "Upgrade":
			continue
		}
		filtered[canonical] = append([]string(nil), values...)
	}
	if len(filtered) == 0 {
		return nil
	}
	return filtered
}
