// README: Queue service: hardware join/leave ingress, listings and the re-match scheduler.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"toda/internal/config"
	"toda/internal/modules/booking"
	"toda/internal/modules/driver"
	"toda/internal/store"
)

var (
	ErrAlreadyQueued = errors.New("driver already in queue")
	ErrNotQueued     = errors.New("driver not in queue")
	ErrNotOnline     = errors.New("driver cannot receive bookings today")
	ErrBadRequest    = errors.New("bad request")
)

// Drivers is the driver directory the queue checks before admitting a tag.
type Drivers interface {
	GetByRFID(ctx context.Context, rfid string) (*driver.Driver, error)
	CanReceiveBookings(ctx context.Context, driverID string) (bool, error)
}

type PendingSource interface {
	Pending(ctx context.Context, limit int) ([]booking.Booking, error)
}

type Service struct {
	tree    store.Tree
	matcher *Matcher
	drivers Drivers
	pending PendingSource
	cfg     config.MatchingConfig
	loc     *time.Location
	log     logrus.FieldLogger
	now     func() time.Time
}

func NewService(tree store.Tree, matcher *Matcher, drivers Drivers, pending PendingSource, cfg config.MatchingConfig, loc *time.Location, log logrus.FieldLogger) *Service {
	if loc == nil {
		loc = time.Local
	}
	return &Service{
		tree:    tree,
		matcher: matcher,
		drivers: drivers,
		pending: pending,
		cfg:     cfg,
		loc:     loc,
		log:     log,
		now:     time.Now,
	}
}

func (s *Service) Matcher() *Matcher { return s.matcher }

type JoinCommand struct {
	RFID     string
	DeviceID string
}

// Join admits a tapped-in driver. The entry carries every timestamp encoding
// older controllers read.
func (s *Service) Join(ctx context.Context, cmd JoinCommand) (*Entry, error) {
	if cmd.RFID == "" {
		return nil, ErrBadRequest
	}
	d, err := s.drivers.GetByRFID(ctx, cmd.RFID)
	if err != nil {
		return nil, err
	}
	online, err := s.drivers.CanReceiveBookings(ctx, d.DriverID)
	if err != nil {
		return nil, err
	}
	if !online {
		return nil, ErrNotOnline
	}
	existing, err := s.byRFID(ctx, cmd.RFID)
	if err != nil {
		return nil, err
	}
	for _, e := range existing {
		if e.Eligible() {
			return nil, ErrAlreadyQueued
		}
	}

	now := s.now()
	e := Entry{
		DriverRFID: cmd.RFID,
		DriverName: d.DriverName,
		TodaNumber: d.TodaNumber,
		TricycleID: d.TricycleID,
		Status:     StatusWaiting,
		ArrivedAt:  now.UnixMilli(),
	}
	key, err := s.tree.Push(ctx, Collection, map[string]any{
		"driverRFID": e.DriverRFID,
		"driverName": e.DriverName,
		"todaNumber": e.TodaNumber,
		"tricycleId": e.TricycleID,
		"deviceId":   cmd.DeviceID,
		"status":     StatusWaiting,
		"claimed":    false,
		"queueTime":  strconv.FormatInt(now.Unix(), 10),
		"timestamp":  now.In(s.loc).Format(queueDateLayout),
	})
	if err != nil {
		return nil, fmt.Errorf("join queue: %w", err)
	}
	e.Key = key
	s.log.WithFields(logrus.Fields{"driver_rfid": cmd.RFID, "entry": key}).Info("driver joined queue")
	return &e, nil
}

// Leave removes the driver's unclaimed entries; a claimed entry belongs to a
// match in progress and is left alone.
func (s *Service) Leave(ctx context.Context, rfid string) error {
	entries, err := s.byRFID(ctx, rfid)
	if err != nil {
		return err
	}
	patch := map[string]any{}
	for _, e := range entries {
		if !e.Claimed {
			patch[entryPath(e.Key)] = nil
		}
	}
	if len(patch) == 0 {
		return ErrNotQueued
	}
	return s.tree.Update(ctx, patch)
}

// Entries lists the queue in arrival order.
func (s *Service) Entries(ctx context.Context) ([]Entry, error) {
	snap, err := s.tree.Read(ctx, Collection)
	if err != nil {
		return nil, err
	}
	return s.decodeQueue(ctx, snap), nil
}

// QueueFeed streams the queue in arrival order.
func (s *Service) QueueFeed(ctx context.Context) (*store.Stream[[]Entry], error) {
	sub, err := s.tree.Subscribe(ctx, Collection)
	if err != nil {
		return nil, err
	}
	return store.NewStream(ctx, sub, s.decodeQueue), nil
}

func (s *Service) decodeQueue(_ context.Context, snap store.Snapshot) []Entry {
	children := snap.Children()
	out := make([]Entry, 0, len(children))
	for _, c := range children {
		if e, ok := decodeEntry(c.Key, c.Value, s.loc); ok {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ArrivedAt < out[j].ArrivedAt })
	return out
}

func (s *Service) byRFID(ctx context.Context, rfid string) ([]Entry, error) {
	snap, err := s.tree.Query(ctx, Collection, "driverRFID", rfid)
	if err != nil {
		return nil, err
	}
	return s.decodeQueue(ctx, snap), nil
}

// RematchOnce retries the oldest PENDING bookings until the queue runs dry.
func (s *Service) RematchOnce(ctx context.Context) (int, error) {
	list, err := s.pending.Pending(ctx, s.cfg.BatchSize)
	if err != nil {
		return 0, err
	}
	matched := 0
	for _, b := range list {
		res, err := s.matcher.MatchBookingToFirstDriver(ctx, b.ID)
		if err != nil {
			return matched, err
		}
		switch res.Outcome {
		case Matched:
			matched++
		case NoEligibleDriver:
			return matched, nil
		}
	}
	return matched, nil
}

// RunRematch periodically retries PENDING bookings that found no driver at
// creation time.
func (s *Service) RunRematch(ctx context.Context) {
	if s.cfg.TickSeconds <= 0 {
		return
	}
	ticker := time.NewTicker(time.Duration(s.cfg.TickSeconds) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.RematchOnce(ctx)
			if err != nil {
				s.log.WithError(err).Warn("rematch tick failed")
				continue
			}
			if n > 0 {
				s.log.WithField("matched", n).Info("rematch tick")
			}
		}
	}
}
