// README: Rating service seeds one rating per completed booking and accepts one submission.
package rating

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"toda/internal/modules/booking"
	"toda/internal/store"
	"toda/internal/types"
)

var (
	ErrNotFound     = errors.New("rating not found")
	ErrAlreadyRated = errors.New("booking already rated")
	ErrForbidden    = errors.New("rating belongs to another customer")
	ErrBadRequest   = errors.New("bad request")
)

type Service struct {
	tree     store.Tree
	log      logrus.FieldLogger
	now      func() time.Time
	validate *validator.Validate
}

func NewService(tree store.Tree, log logrus.FieldLogger) *Service {
	return &Service{tree: tree, log: log, now: time.Now, validate: validator.New()}
}

type SubmitCommand struct {
	BookingID  types.ID `validate:"required"`
	CustomerID string   `validate:"required"`
	Stars      int      `validate:"min=1,max=5"`
	Feedback   string   `validate:"max=500"`
}

// Find returns the rating of a booking. Ratings written by older clients
// live under push keys, so lookup goes through the bookingId index.
func (s *Service) Find(ctx context.Context, bookingID types.ID) (*Rating, error) {
	snap, err := s.tree.Read(ctx, store.Join(Collection, string(bookingID)))
	if err != nil {
		return nil, err
	}
	if r, ok := Decode(snap.Key, snap.Value); ok {
		return &r, nil
	}
	snap, err = s.tree.Query(ctx, Collection, "bookingId", string(bookingID))
	if err != nil {
		return nil, err
	}
	for _, c := range snap.Children() {
		if r, ok := Decode(c.Key, c.Value); ok {
			return &r, nil
		}
	}
	return nil, ErrNotFound
}

// Seed creates the zero-star rating of a completed booking. Calling it again
// for the same booking is a no-op.
func (s *Service) Seed(ctx context.Context, b booking.Booking) error {
	if _, err := s.Find(ctx, b.ID); err == nil {
		return nil
	} else if !errors.Is(err, ErrNotFound) {
		return err
	}
	r := Rating{
		BookingID:  b.ID,
		CustomerID: b.CustomerID,
		DriverID:   b.AssignedDriverID,
		DriverRFID: b.DriverRFID,
		RatedBy:    RatedByCustomer,
		Timestamp:  s.now().UnixMilli(),
	}
	rec := r.record()
	created, err := s.tree.Transact(ctx, store.Join(Collection, string(b.ID)), func(cur any) (any, error) {
		if cur != nil {
			return nil, store.ErrAbort
		}
		return rec, nil
	})
	if err != nil {
		return fmt.Errorf("seed rating %s: %w", b.ID, err)
	}
	if created {
		s.log.WithField("booking_id", b.ID).Debug("rating seeded")
	}
	return nil
}

// Submit records the customer's stars exactly once and mirrors them onto the booking.
func (s *Service) Submit(ctx context.Context, cmd SubmitCommand) (*Rating, error) {
	if err := s.validate.Struct(cmd); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadRequest, err)
	}
	r, err := s.Find(ctx, cmd.BookingID)
	if err != nil {
		return nil, err
	}
	if r.CustomerID != "" && r.CustomerID != cmd.CustomerID {
		return nil, ErrForbidden
	}
	if r.Rated() {
		return nil, ErrAlreadyRated
	}
	ok, err := s.tree.Transact(ctx, store.Join(Collection, r.ID, "stars"), func(cur any) (any, error) {
		if n, _ := (store.Fields{"stars": cur}).Int64("stars"); n > 0 {
			return nil, store.ErrAbort
		}
		return cmd.Stars, nil
	})
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrAlreadyRated
	}

	now := s.now().UnixMilli()
	bp := booking.Path(cmd.BookingID)
	err = s.tree.Update(ctx, map[string]any{
		store.Join(Collection, r.ID, "feedback"):  cmd.Feedback,
		store.Join(Collection, r.ID, "timestamp"): now,
		store.Join(Collection, r.ID, "ratedBy"):   RatedByCustomer,
		store.Join(bp, "rating"):                  cmd.Stars,
		store.Join(bp, "feedback"):                cmd.Feedback,
	})
	if err != nil {
		return nil, fmt.Errorf("submit rating %s: %w", cmd.BookingID, err)
	}
	r.Stars = cmd.Stars
	r.Feedback = cmd.Feedback
	r.Timestamp = now
	r.RatedBy = RatedByCustomer
	return r, nil
}
