// README: Per-booking status guard; every status change is written through transition.
package booking

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"toda/internal/store"
	"toda/internal/types"
)

const (
	guardField = "statusGuard"
	// guardTTL bounds how long a crashed writer can hold a booking.
	guardTTL      = 10 * time.Second
	guardAttempts = 40
	guardBackoff  = 5 * time.Millisecond
)

func guardPath(id types.ID) string { return store.Join(Path(id), guardField) }

// transition moves a booking to the target status while holding its guard.
// The booking is re-read under the guard, so the from-status it checks is the
// one the write replaces. fill adds side fields to the patch and may reject
// the change. Status, index mirror, side fields, statusVersion and the guard
// release go out in one update.
func (s *Service) transition(ctx context.Context, id types.ID, to Status, fill func(b *Booking, patch map[string]any) error) (*Booking, Status, error) {
	b, err := s.Get(ctx, id)
	if err != nil {
		return nil, "", err
	}
	if !CanTransition(b.Status, to) {
		return nil, "", fmt.Errorf("%w: %s -> %s", ErrInvalidState, b.Status, to)
	}

	held, err := s.acquireGuard(ctx, id)
	if err != nil {
		return nil, "", err
	}
	b, err = s.Get(ctx, id)
	if err == nil && !CanTransition(b.Status, to) {
		err = fmt.Errorf("%w: %s -> %s", ErrInvalidState, b.Status, to)
	}
	var patch map[string]any
	if err == nil {
		patch = map[string]any{
			store.Join(Path(id), "status"):        string(to),
			store.Join(IndexPath(id), "status"):   string(to),
			store.Join(Path(id), "statusVersion"): b.StatusVersion + 1,
			guardPath(id):                         nil,
		}
		if fill != nil {
			err = fill(b, patch)
		}
	}
	if err == nil {
		if err = s.tree.Update(ctx, patch); err != nil {
			err = fmt.Errorf("update booking %s: %w", id, err)
		}
	}
	if err != nil {
		s.releaseGuard(ctx, id, held)
		return nil, "", err
	}

	from := b.Status
	b.Status = to
	b.StatusVersion++
	return b, from, nil
}

// acquireGuard takes the booking's guard with a compare-and-set, waiting out
// a concurrent holder. An expired guard is taken over.
func (s *Service) acquireGuard(ctx context.Context, id types.ID) (map[string]any, error) {
	for attempt := 0; attempt < guardAttempts; attempt++ {
		now := s.deps.Now()
		held := map[string]any{"token": uuid.NewString(), "at": now.UnixMilli()}
		ok, err := s.tree.Transact(ctx, guardPath(id), func(cur any) (any, error) {
			if cur == nil {
				return held, nil
			}
			var at int64
			if f, isObj := cur.(map[string]any); isObj {
				at, _ = store.Fields(f).Int64("at")
			}
			if now.Sub(time.UnixMilli(at)) < guardTTL {
				return nil, store.ErrAbort
			}
			s.log.WithField("booking_id", id).Warn("taking over expired status guard")
			return held, nil
		})
		if err != nil {
			return nil, fmt.Errorf("guard booking %s: %w", id, err)
		}
		if ok {
			return held, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(guardBackoff):
		}
	}
	return nil, fmt.Errorf("%w: booking %s is busy", ErrInvalidState, id)
}

func (s *Service) releaseGuard(ctx context.Context, id types.ID, held map[string]any) {
	if _, err := store.CompareAndSwap(ctx, s.tree, guardPath(id), held, nil); err != nil {
		s.log.WithError(err).WithField("booking_id", id).Error("release status guard")
	}
}
