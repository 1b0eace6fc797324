// README: Pricing service computes fare estimates from the current fare matrix.
package pricing

import (
	"context"
	"errors"
	"math"
	"sync"
)

var ErrInvalidRate = errors.New("invalid fare rate")

type Service struct {
	store *Store

	mu   sync.RWMutex
	rate Rate
}

// NewService starts from the configured matrix; store may be nil.
func NewService(store *Store, def Rate) *Service {
	return &Service{store: store, rate: def}
}

func (s *Service) Rate() Rate {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rate
}

// Estimate charges the base fare for the first BaseKm and PerKm for every
// started kilometre after that, never below Minimum.
func (s *Service) Estimate(distanceKm float64) float64 {
	r := s.Rate()
	fare := r.Base
	if extra := distanceKm - r.BaseKm; extra > 0 {
		fare += math.Ceil(extra) * r.PerKm
	}
	return math.Max(fare, r.Minimum)
}

// Refresh reloads the stored override, keeping the current matrix when none is stored.
func (s *Service) Refresh(ctx context.Context) error {
	if s.store == nil {
		return nil
	}
	r, ok, err := s.store.GetRate(ctx)
	if err != nil || !ok {
		return err
	}
	if !r.valid() {
		return ErrInvalidRate
	}
	s.mu.Lock()
	s.rate = r
	s.mu.Unlock()
	return nil
}

// Update stores a new matrix and applies it.
func (s *Service) Update(ctx context.Context, r Rate) error {
	if !r.valid() {
		return ErrInvalidRate
	}
	if s.store != nil {
		if err := s.store.PutRate(ctx, r); err != nil {
			return err
		}
	}
	s.mu.Lock()
	s.rate = r
	s.mu.Unlock()
	return nil
}
