package store

import (
	"context"
	"sort"
	"sync"

	"github.com/markjakearzadon/recetra-gobackend/internal/models"
)

// MemoryStore keeps receipts in process memory. Reads return copies, so a
// caller can never mutate stored state except through Update.
type MemoryStore struct {
	mu       sync.RWMutex
	byID     map[string]*models.Receipt
	byNumber map[string]string
	byToken  map[string]string

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:     make(map[string]*models.Receipt),
		byNumber: make(map[string]string),
		byToken:  make(map[string]string),
		locks:    make(map[string]*sync.Mutex),
	}
}

func (s *MemoryStore) Put(_ context.Context, r models.Receipt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[r.ID]; ok {
		return ErrDuplicateKey
	}
	if _, ok := s.byNumber[r.ReceiptNumber]; ok {
		return ErrDuplicateKey
	}
	if _, ok := s.byToken[r.VerificationToken]; ok {
		return ErrDuplicateKey
	}
	stored := r
	s.byID[r.ID] = &stored
	s.byNumber[r.ReceiptNumber] = r.ID
	s.byToken[r.VerificationToken] = r.ID
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (models.Receipt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.byID[id]
	if !ok {
		return models.Receipt{}, ErrNotFound
	}
	return *r, nil
}

func (s *MemoryStore) GetByToken(_ context.Context, token string) (models.Receipt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byToken[token]
	if !ok {
		return models.Receipt{}, ErrNotFound
	}
	return *s.byID[id], nil
}

func (s *MemoryStore) ListByOrganization(_ context.Context, org string) ([]models.Receipt, error) {
	return s.list(func(r *models.Receipt) bool { return r.Organization == org }), nil
}

func (s *MemoryStore) ListByIssuer(_ context.Context, userID string) ([]models.Receipt, error) {
	return s.list(func(r *models.Receipt) bool { return r.IssuedBy == userID }), nil
}

func (s *MemoryStore) list(match func(*models.Receipt) bool) []models.Receipt {
	s.mu.RLock()
	out := make([]models.Receipt, 0)
	for _, r := range s.byID {
		if match(r) {
			out = append(out, *r)
		}
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].IssuedAt.Equal(out[j].IssuedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].IssuedAt.After(out[j].IssuedAt)
	})
	return out
}

// Update holds a per-receipt lock across read, mutate and write so two
// channel outcomes for the same receipt never interleave.
func (s *MemoryStore) Update(ctx context.Context, id string, mutate MutateFunc) (models.Receipt, error) {
	lock := s.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	current, err := s.Get(ctx, id)
	if err != nil {
		return models.Receipt{}, err
	}
	if err := mutate(&current); err != nil {
		return models.Receipt{}, err
	}
	current.Version++

	s.mu.Lock()
	stored := s.byID[id]
	// identity fields are immutable
	current.ID = stored.ID
	current.ReceiptNumber = stored.ReceiptNumber
	current.VerificationToken = stored.VerificationToken
	*stored = current
	s.mu.Unlock()
	return current, nil
}

func (s *MemoryStore) lockFor(id string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	return l
}
