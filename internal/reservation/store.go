package reservation

import (
	"context"
	"sync"
	"time"
)

// Store is the keyed, expiring record of slots currently being booked.
// Only Manager talks to a Store.
type Store interface {
	// Insert writes r unless a reservation live at now already holds r.Key.
	// When one does, it is returned and nothing is written.
	Insert(ctx context.Context, r Reservation, now time.Time) (*Reservation, error)
	// Get returns the record stored for key, live or not, or ErrNotFound.
	Get(ctx context.Context, key SlotKey) (*Reservation, error)
	// Delete removes the reservation with id. Unknown ids are not an error.
	Delete(ctx context.Context, id string) error
	// DeleteExpired removes every record no longer live at now.
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
}

// MemoryStore keeps reservations in process memory.
type MemoryStore struct {
	mu    sync.Mutex
	byKey map[string]Reservation
	byID  map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byKey: make(map[string]Reservation),
		byID:  make(map[string]string),
	}
}

func (s *MemoryStore) Insert(_ context.Context, r Reservation, now time.Time) (*Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := r.Key.String()
	if cur, ok := s.byKey[k]; ok {
		if cur.Live(now) {
			existing := cur
			return &existing, nil
		}
		delete(s.byID, cur.ID)
	}

	s.byKey[k] = r
	s.byID[r.ID] = k
	return nil, nil
}

func (s *MemoryStore) Get(_ context.Context, key SlotKey) (*Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.byKey[key.String()]
	if !ok {
		return nil, ErrNotFound
	}
	return &cur, nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k, ok := s.byID[id]
	if !ok {
		return nil
	}
	delete(s.byID, id)
	if cur, ok := s.byKey[k]; ok && cur.ID == id {
		delete(s.byKey, k)
	}
	return nil
}

func (s *MemoryStore) DeleteExpired(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for k, cur := range s.byKey {
		if cur.Live(now) {
			continue
		}
		delete(s.byKey, k)
		delete(s.byID, cur.ID)
		removed++
	}
	return removed, nil
}

// Len reports how many records are stored, expired ones included.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byKey)
}
