// README: Real-time booking feed: one subscription over all bookings, filtered per consumer.
package feed

import (
	"context"
	"sort"

	"github.com/sirupsen/logrus"

	"toda/internal/modules/booking"
	"toda/internal/modules/driver"
	"toda/internal/observability"
	"toda/internal/store"
)

// Drivers supplies the identity and the availability gate of a driver.
type Drivers interface {
	Get(ctx context.Context, driverID string) (*driver.Driver, error)
	CanReceiveBookings(ctx context.Context, driverID string) (bool, error)
}

type Service struct {
	tree    store.Tree
	drivers Drivers
	log     logrus.FieldLogger
}

func NewService(tree store.Tree, drivers Drivers, log logrus.FieldLogger) *Service {
	return &Service{tree: tree, drivers: drivers, log: log}
}

// Feed is a live, already filtered booking list.
type Feed = store.Stream[[]booking.Booking]

func (s *Service) ActiveBookings(ctx context.Context) (*Feed, error) {
	return s.watch(ctx, "active", func(_ context.Context, list []booking.Booking) []booking.Booking {
		return Active(list)
	})
}

// PublicActiveBookings is ActiveBookings without contact or verification
// details, for callers who are not staff.
func (s *Service) PublicActiveBookings(ctx context.Context) (*Feed, error) {
	return s.watch(ctx, "active", func(_ context.Context, list []booking.Booking) []booking.Booking {
		return Redact(Active(list), nil)
	})
}

func (s *Service) PassengerFeed(ctx context.Context, customerID string, p Partition) (*Feed, error) {
	return s.watch(ctx, "passenger", func(_ context.Context, list []booking.Booking) []booking.Booking {
		return ForPassenger(list, customerID, p)
	})
}

// DriverFeed re-evaluates the availability gate on every delivery so a coin
// insertion opens the PENDING list without resubscribing.
func (s *Service) DriverFeed(ctx context.Context, driverID string) (*Feed, error) {
	if _, err := s.drivers.Get(ctx, driverID); err != nil {
		return nil, err
	}
	return s.watch(ctx, "driver", func(ctx context.Context, list []booking.Booking) []booking.Booking {
		d, err := s.drivers.Get(ctx, driverID)
		if err != nil {
			s.log.WithError(err).WithField("driver_id", driverID).Warn("driver lookup failed")
			return Redact(ForDriver(list, driverID, "", false), nil)
		}
		online, err := s.drivers.CanReceiveBookings(ctx, driverID)
		if err != nil {
			s.log.WithError(err).WithField("driver_id", driverID).Warn("availability check failed")
		}
		return Redact(ForDriver(list, d.DriverID, d.RFIDUID, online), func(b booking.Booking) bool {
			return b.BelongsTo(d.DriverID, d.RFIDUID)
		})
	})
}

func (s *Service) DispatchFeed(ctx context.Context) (*Feed, error) {
	return s.watch(ctx, "dispatch", func(_ context.Context, list []booking.Booking) []booking.Booking {
		return ForDispatch(list)
	})
}

// AvailableBookings is the one-shot PENDING list a driver may accept from. It
// is empty unless the driver passes the availability gate.
func (s *Service) AvailableBookings(ctx context.Context, driverID string) ([]booking.Booking, error) {
	online, err := s.drivers.CanReceiveBookings(ctx, driverID)
	if err != nil {
		return nil, err
	}
	if !online {
		return []booking.Booking{}, nil
	}
	snap, err := s.tree.Query(ctx, booking.Collection, "status", string(booking.StatusPending))
	if err != nil {
		return nil, err
	}
	return sorted(Redact(Pending(booking.DecodeAll(snap, s.skip)), nil)), nil
}

func (s *Service) watch(ctx context.Context, name string, filter func(context.Context, []booking.Booking) []booking.Booking) (*Feed, error) {
	sub, err := s.tree.Subscribe(ctx, booking.Collection)
	if err != nil {
		return nil, err
	}
	gauge := observability.FeedSubscribers.WithLabelValues(name)
	gauge.Inc()
	go func() {
		<-sub.Done()
		gauge.Dec()
	}()
	return store.NewStream(ctx, sub, func(ctx context.Context, snap store.Snapshot) []booking.Booking {
		return sorted(filter(ctx, booking.DecodeAll(snap, s.skip)))
	}), nil
}

func (s *Service) skip(key string, err error) {
	observability.DecodeFailures.WithLabelValues("booking").Inc()
	s.log.WithError(err).WithField("booking_id", key).Warn("skipping malformed booking")
}

// sorted orders newest first, the way every booking list is shown.
func sorted(list []booking.Booking) []booking.Booking {
	sort.SliceStable(list, func(i, j int) bool { return list[i].Timestamp > list[j].Timestamp })
	return list
}
