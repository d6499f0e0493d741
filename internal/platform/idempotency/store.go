package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"
)

// DefaultTTL matches the booking session lifetime so retries within a
// session replay the original response.
const DefaultTTL = 2 * time.Hour

// ReservationState describes the outcome of attempting to reserve a key.
type ReservationState int

const (
	// ReservationStateNew means the caller owns the key and should run the handler.
	ReservationStateNew ReservationState = iota
	// ReservationStateCompleted means a stored response should be replayed.
	ReservationStateCompleted
	// ReservationStatePending means another request is still processing this key.
	ReservationStatePending
)

// ErrFingerprintMismatch is returned when a key is reused for a different request.
var ErrFingerprintMismatch = errors.New("idempotency: key reserved for different request fingerprint")

// Response is the HTTP response stored for replays.
type Response struct {
	Status  int
	Headers http.Header
	Body    []byte
}

type record struct {
	fingerprint string
	completed   bool
	response    Response
	expiresAt   time.Time
}

// Store keeps reservations in memory. Booking sessions live in process
// memory as well, so a replay can only be meaningful on the same instance.
type Store struct {
	mu      sync.Mutex
	records map[string]record
}

// NewStore constructs an empty store.
func NewStore() *Store {
	return &Store{records: make(map[string]record)}
}

// Reserve claims key for fingerprint unless a live record exists.
func (s *Store) Reserve(_ context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (ReservationState, Response, error) {
	id := hashKey(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok || !now.Before(rec.expiresAt) {
		s.records[id] = record{fingerprint: fingerprint, expiresAt: now.Add(ttl)}
		return ReservationStateNew, Response{}, nil
	}
	if rec.fingerprint != fingerprint {
		return 0, Response{}, ErrFingerprintMismatch
	}
	if rec.completed {
		return ReservationStateCompleted, rec.response, nil
	}
	return ReservationStatePending, Response{}, nil
}

// SaveResponse completes the reservation with resp.
func (s *Store) SaveResponse(_ context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error {
	id := hashKey(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec, ok := s.records[id]; ok && rec.fingerprint != fingerprint {
		return ErrFingerprintMismatch
	}
	s.records[id] = record{
		fingerprint: fingerprint,
		completed:   true,
		response: Response{
			Status:  resp.Status,
			Headers: sanitizeHeaders(resp.Headers),
			Body:    append([]byte(nil), resp.Body...),
		},
		expiresAt: now.Add(ttl),
	}
	return nil
}

// Release drops a reservation so the client may retry.
func (s *Store) Release(_ context.Context, key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, hashKey(key))
}

// CleanupExpired removes expired records and reports how many were dropped.
func (s *Store) CleanupExpired(_ context.Context, now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, rec := range s.records {
		if !now.Before(rec.expiresAt) {
			delete(s.records, id)
			removed++
		}
	}
	return removed
}

func hashKey(key string) string {
	return sha256Hex([]byte(strings.TrimSpace(key)))
}

func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func sanitizeHeaders(header http.Header) http.Header {
	out := make(http.Header, len(header))
	for name, values := range header {
		switch strings.ToLower(name) {
		case "content-length", "date", "connection", "transfer-encoding":
			continue
		}
		out[http.CanonicalHeaderKey(name)] = append([]string(nil), values...)
	}
	return out
}
