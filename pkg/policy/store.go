package policy

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Store persists authorizations, ledger entries and reservations. Reserve
// and Resolve must update the reservation and its ledger entry atomically.
type Store interface {
	SaveAuthorization(ctx context.Context, a *Authorization) error
	// LatestAuthorization returns ErrUnauthorized when the pair has none.
	LatestAuthorization(ctx context.Context, wallet, serviceKey string) (*Authorization, error)
	RevokeAuthorization(ctx context.Context, id string, at time.Time) error
	ListAuthorizations(ctx context.Context, wallet string) ([]Authorization, error)

	// Entry returns a zero entry for a key with no reservations yet.
	Entry(ctx context.Context, key Key) (LedgerEntry, error)
	// Reserve stores a pending reservation and adds its amount to the
	// entry's reserved total, provided committed plus reserved stays within
	// dailyLimit; otherwise it changes nothing and returns
	// ErrDailyLimitExceeded. An idempotency key held by a pending or
	// committed reservation is ErrDuplicateIdempotencyKey; releasing a
	// reservation frees its key for a retry.
	Reserve(ctx context.Context, r *Reservation, dailyLimit uint64) error
	Reservation(ctx context.Context, id string) (*Reservation, error)
	// Resolve moves a pending reservation to committed or released and
	// adjusts the entry. A reservation that is not pending is
	// ErrReservationAlreadyResolved.
	Resolve(ctx context.Context, id string, to ReservationState, at time.Time) (*Reservation, error)
	Pending(ctx context.Context) ([]Reservation, error)
}

// MemoryStore keeps everything in process memory.
type MemoryStore struct {
	mu             sync.Mutex
	authorizations []Authorization
	entries        map[Key]LedgerEntry
	reservations   map[string]*Reservation
	byIdempotency  map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries:       make(map[Key]LedgerEntry),
		reservations:  make(map[string]*Reservation),
		byIdempotency: make(map[string]string),
	}
}

var _ Store = (*MemoryStore)(nil)

func (s *MemoryStore) SaveAuthorization(_ context.Context, a *Authorization) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.authorizations = append(s.authorizations, *a)
	return nil
}

func (s *MemoryStore) LatestAuthorization(_ context.Context, wallet, serviceKey string) (*Authorization, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.authorizations) - 1; i >= 0; i-- {
		a := s.authorizations[i]
		if a.Wallet == wallet && a.ServiceKey == serviceKey {
			return &a, nil
		}
	}
	return nil, ErrUnauthorized
}

func (s *MemoryStore) RevokeAuthorization(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.authorizations {
		if s.authorizations[i].ID == id {
			at := at
			s.authorizations[i].Revoked = true
			s.authorizations[i].RevokedAt = &at
			return nil
		}
	}
	return ErrUnauthorized
}

func (s *MemoryStore) ListAuthorizations(_ context.Context, wallet string) ([]Authorization, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Authorization
	for _, a := range s.authorizations {
		if a.Wallet == wallet {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *MemoryStore) Entry(_ context.Context, key Key) (LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		e.Key = key
	}
	return e, nil
}

func (s *MemoryStore) Reserve(_ context.Context, r *Reservation, dailyLimit uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.IdempotencyKey != "" {
		if _, dup := s.byIdempotency[r.IdempotencyKey]; dup {
			return ErrDuplicateIdempotencyKey
		}
	}
	e := s.entries[r.Key()]
	if e.Spent() > dailyLimit || r.Amount > dailyLimit-e.Spent() {
		return ErrDailyLimitExceeded
	}
	e.Key = r.Key()
	e.Reserved += r.Amount
	s.entries[r.Key()] = e

	if r.IdempotencyKey != "" {
		s.byIdempotency[r.IdempotencyKey] = r.ID
	}
	cp := *r
	cp.Authorization = nil
	s.reservations[r.ID] = &cp
	return nil
}

func (s *MemoryStore) Reservation(_ context.Context, id string) (*Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reservations[id]
	if !ok {
		return nil, ErrReservationNotFound
	}
	cp := *r
	return &cp, nil
}

func (s *MemoryStore) Resolve(_ context.Context, id string, to ReservationState, at time.Time) (*Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reservations[id]
	if !ok {
		return nil, ErrReservationNotFound
	}
	if r.State != ReservationPending {
		return nil, ErrReservationAlreadyResolved
	}
	e := s.entries[r.Key()]
	e.Reserved -= r.Amount
	if to == ReservationCommitted {
		e.Committed += r.Amount
	}
	s.entries[r.Key()] = e

	if to == ReservationReleased && r.IdempotencyKey != "" && s.byIdempotency[r.IdempotencyKey] == r.ID {
		delete(s.byIdempotency, r.IdempotencyKey)
	}

	r.State = to
	r.ResolvedAt = &at
	cp := *r
	return &cp, nil
}

func (s *MemoryStore) Pending(_ context.Context) ([]Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Reservation
	for _, r := range s.reservations {
		if r.State == ReservationPending {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}
