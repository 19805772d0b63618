// internal/storage/memory/memory.go
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/rovshanmuradov/curve-bundler/internal/storage"
	"github.com/rovshanmuradov/curve-bundler/internal/storage/models"
)

// Store is an in-memory implementation of storage.Storage.
type Store struct {
	mu     sync.RWMutex
	trades map[string]*models.TradeRecord
	curves map[string]*models.CurveRecord
}

var _ storage.Storage = (*Store)(nil)

func New() *Store {
	return &Store{
		trades: make(map[string]*models.TradeRecord),
		curves: make(map[string]*models.CurveRecord),
	}
}

// InsertTrade adds a trade. Returns ErrDuplicateKey if the id exists.
func (s *Store) InsertTrade(_ context.Context, t *models.TradeRecord) error {
	if err := t.Validate(); err != nil {
		return fmt.Errorf("%w: %w", storage.ErrInvalidInput, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.trades[t.ID]; exists {
		return storage.ErrDuplicateKey
	}
	s.trades[t.ID] = t.Clone()
	return nil
}

// InsertTrades adds a batch of trades. Fails the entire batch on any
// duplicate, including duplicates inside the batch.
func (s *Store) InsertTrades(_ context.Context, trades []*models.TradeRecord) error {
	if len(trades) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	batch := make(map[string]struct{}, len(trades))
	for _, t := range trades {
		if err := t.Validate(); err != nil {
			return fmt.Errorf("%w: %w", storage.ErrInvalidInput, err)
		}
		if _, exists := s.trades[t.ID]; exists {
			return storage.ErrDuplicateKey
		}
		if _, exists := batch[t.ID]; exists {
			return storage.ErrDuplicateKey
		}
		batch[t.ID] = struct{}{}
	}

	for _, t := range trades {
		s.trades[t.ID] = t.Clone()
	}
	return nil
}

func (s *Store) GetTrade(_ context.Context, id string) (*models.TradeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.trades[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return t.Clone(), nil
}

// ListTrades returns matching trades ordered by execution time, then id.
func (s *Store) ListTrades(_ context.Context, f storage.TradeFilter) ([]*models.TradeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*models.TradeRecord, 0, len(s.trades))
	for _, t := range s.trades {
		if f.Match(t) {
			result = append(result, t.Clone())
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].ExecutedAt.Equal(result[j].ExecutedAt) {
			return result[i].ExecutedAt.Before(result[j].ExecutedAt)
		}
		return result[i].ID < result[j].ID
	})

	if f.Limit > 0 && len(result) > f.Limit {
		result = result[:f.Limit]
	}
	return result, nil
}

func (s *Store) InsertCurve(_ context.Context, c *models.CurveRecord) error {
	if err := c.Validate(); err != nil {
		return fmt.Errorf("%w: %w", storage.ErrInvalidInput, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.curves[c.Curve]; exists {
		return storage.ErrDuplicateKey
	}
	s.curves[c.Curve] = c.Clone()
	return nil
}

func (s *Store) ListCurves(_ context.Context) ([]*models.CurveRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*models.CurveRecord, 0, len(s.curves))
	for _, c := range s.curves {
		result = append(result, c.Clone())
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].Curve < result[j].Curve
	})
	return result, nil
}

// RunMigrations is a no-op for the in-memory store.
func (s *Store) RunMigrations(context.Context) error { return nil }

func (s *Store) Close() {}
