package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// LeaseStore grants in-process leases. It only excludes callers within one process
// and is used when no redis is configured.
type LeaseStore struct {
	mu     sync.Mutex
	leases map[string]lease
	now    func() time.Time
}

type lease struct {
	token     string
	expiresAt time.Time
}

func NewLeaseStore() *LeaseStore {
	return &LeaseStore{leases: make(map[string]lease), now: time.Now}
}

func (s *LeaseStore) TryAcquire(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if cur, ok := s.leases[key]; ok && now.Before(cur.expiresAt) {
		return "", false, nil
	}
	token := uuid.NewString()
	s.leases[key] = lease{token: token, expiresAt: now.Add(ttl)}
	return token, true, nil
}

func (s *LeaseStore) Release(ctx context.Context, key, token string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.leases[key]
	if !ok || cur.token != token {
		return false, nil
	}
	delete(s.leases, key)
	return s.now().Before(cur.expiresAt), nil
}

// IdempotencyStore keeps request responses in process memory with a TTL.
type IdempotencyStore struct {
	mu      sync.Mutex
	records map[string]record
	now     func() time.Time
}

type record struct {
	response  []byte // nil while the first execution runs
	expiresAt time.Time
}

func NewIdempotencyStore() *IdempotencyStore {
	return &IdempotencyStore{records: make(map[string]record), now: time.Now}
}

func (s *IdempotencyStore) Reserve(ctx context.Context, key string, ttl time.Duration) (bool, []byte, error) {
	if err := ctx.Err(); err != nil {
		return false, nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if rec, ok := s.records[key]; ok && now.Before(rec.expiresAt) {
		return false, rec.response, nil
	}
	s.records[key] = record{expiresAt: now.Add(ttl)}
	return true, nil, nil
}

func (s *IdempotencyStore) Complete(ctx context.Context, key string, response []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	buf := make([]byte, len(response))
	copy(buf, response)
	s.records[key] = record{response: buf, expiresAt: s.now().Add(ttl)}
	return nil
}

func (s *IdempotencyStore) Release(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, key)
	return nil
}

// Prune drops records expired at now. Expired keys are already ignored by Reserve.
func (s *IdempotencyStore) Prune(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k, rec := range s.records {
		if !now.Before(rec.expiresAt) {
			delete(s.records, k)
			n++
		}
	}
	return n
}

// Prune drops leases expired at now.
func (s *LeaseStore) Prune(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k, l := range s.leases {
		if !now.Before(l.expiresAt) {
			delete(s.leases, k)
			n++
		}
	}
	return n
}
