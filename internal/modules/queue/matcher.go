// README: Queue matcher: earliest eligible driver wins, claimed with a single-path compare-and-set.
package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"toda/internal/modules/booking"
	"toda/internal/observability"
	"toda/internal/store"
	"toda/internal/types"
)

// Outcome separates a match from the ordinary reasons there is none. None of
// the negative outcomes is an error; the booking stays PENDING and can be
// matched again later.
type Outcome string

const (
	Matched           Outcome = "matched"
	NoEligibleDriver  Outcome = "no_eligible_driver"
	ClaimConflict     Outcome = "claim_conflict"
	BookingNotPending Outcome = "booking_not_pending"
)

type MatchResult struct {
	Outcome    Outcome  `json:"outcome"`
	BookingID  types.ID `json:"bookingId"`
	EntryKey   string   `json:"entryKey,omitempty"`
	DriverRFID string   `json:"driverRFID,omitempty"`
	DriverID   string   `json:"driverId,omitempty"`
	DriverName string   `json:"driverName,omitempty"`
}

func (r MatchResult) OK() bool { return r.Outcome == Matched }

// Bookings is the part of the booking service the matcher writes through.
type Bookings interface {
	Status(ctx context.Context, id types.ID) (booking.Status, error)
	Assign(ctx context.Context, a booking.Assignment) error
}

type DriverResolver interface {
	ResolveDriverID(ctx context.Context, rfid string) (string, bool, error)
}

type Matcher struct {
	tree     store.Tree
	bookings Bookings
	drivers  DriverResolver
	loc      *time.Location
	log      logrus.FieldLogger

	// afterClaim runs between the claim and the booking re-check.
	afterClaim func(entryKey string)
}

func NewMatcher(tree store.Tree, bookings Bookings, drivers DriverResolver, loc *time.Location, log logrus.FieldLogger) *Matcher {
	if loc == nil {
		loc = time.Local
	}
	return &Matcher{tree: tree, bookings: bookings, drivers: drivers, loc: loc, log: log}
}

// MatchBookingToFirstDriver assigns the earliest waiting driver to a PENDING
// booking. A returned error is a store failure; every logical miss is an Outcome.
func (m *Matcher) MatchBookingToFirstDriver(ctx context.Context, bookingID types.ID) (MatchResult, error) {
	start := time.Now()
	res, err := m.match(ctx, bookingID)
	observability.MatchLatency.Observe(time.Since(start).Seconds())
	outcome := string(res.Outcome)
	if err != nil {
		outcome = "error"
	}
	observability.MatchAttempts.WithLabelValues(outcome).Inc()
	return res, err
}

func (m *Matcher) match(ctx context.Context, bookingID types.ID) (MatchResult, error) {
	res := MatchResult{BookingID: bookingID}
	log := m.log.WithField("booking_id", bookingID)

	// Cheap early exit; the post-claim re-check is the real guard.
	status, err := m.bookings.Status(ctx, bookingID)
	if err != nil {
		return res, err
	}
	if status != booking.StatusPending {
		res.Outcome = BookingNotPending
		return res, nil
	}

	winner, ok, err := m.earliest(ctx)
	if err != nil {
		return res, err
	}
	if !ok {
		res.Outcome = NoEligibleDriver
		return res, nil
	}
	res.EntryKey = winner.Key
	log = log.WithFields(logrus.Fields{"entry": winner.Key, "driver_rfid": winner.DriverRFID})

	claimed, err := m.claim(ctx, winner.Key)
	if err != nil {
		return res, err
	}
	if !claimed {
		log.Debug("queue entry already claimed by another process")
		res.Outcome = ClaimConflict
		return res, nil
	}
	if m.afterClaim != nil {
		m.afterClaim(winner.Key)
	}

	status, err = m.bookings.Status(ctx, bookingID)
	if err != nil || status != booking.StatusPending {
		m.release(ctx, winner.Key, log)
		if err != nil && !errors.Is(err, booking.ErrNotFound) {
			return res, err
		}
		res.Outcome = BookingNotPending
		return res, nil
	}

	driverID, resolved, err := m.drivers.ResolveDriverID(ctx, winner.DriverRFID)
	if err != nil {
		log.WithError(err).Warn("rfid resolution failed")
	}
	if !resolved {
		observability.UnresolvedRFID.Inc()
		log.WithField("needs_attention", true).Warn("no driver id for rfid; accepting with rfid only")
	}

	err = m.bookings.Assign(ctx, booking.Assignment{
		BookingID:  bookingID,
		DriverID:   driverID,
		DriverRFID: winner.DriverRFID,
		DriverName: winner.DriverName,
		TricycleID: winner.TricycleID,
		TodaNumber: winner.TodaNumber,
	})
	if err != nil {
		m.release(ctx, winner.Key, log)
		if errors.Is(err, booking.ErrInvalidState) || errors.Is(err, booking.ErrNotFound) {
			log.WithError(err).Debug("booking changed before assignment")
			res.Outcome = BookingNotPending
			return res, nil
		}
		return res, err
	}

	if err := m.tree.Remove(ctx, entryPath(winner.Key)); err != nil {
		// The entry stays claimed, so it can never be matched twice.
		log.WithError(err).Error("remove matched queue entry")
	}

	res.Outcome = Matched
	res.DriverRFID = winner.DriverRFID
	res.DriverID = driverID
	res.DriverName = winner.DriverName
	log.WithField("driver_id", driverID).Info("booking matched")
	return res, nil
}

// earliest returns the eligible entry with the smallest arrival time; ties go
// to the entry seen first in key order.
func (m *Matcher) earliest(ctx context.Context) (Entry, bool, error) {
	snap, err := m.tree.Read(ctx, Collection)
	if err != nil {
		return Entry{}, false, err
	}
	var best Entry
	found := false
	for _, c := range snap.Children() {
		e, ok := decodeEntry(c.Key, c.Value, m.loc)
		if !ok || !e.Eligible() {
			continue
		}
		if !found || e.ArrivedAt < best.ArrivedAt {
			best, found = e, true
		}
	}
	return best, found, nil
}

// claim flips the entry's claimed flag with a compare-and-set on the entry
// node, then re-reads the flag to confirm. A vanished entry is never recreated.
func (m *Matcher) claim(ctx context.Context, key string) (bool, error) {
	committed, err := m.tree.Transact(ctx, entryPath(key), func(cur any) (any, error) {
		if store.Classify(cur) != store.KindObject {
			return nil, store.ErrAbort
		}
		entry := cur.(map[string]any)
		if store.Fields(entry).Flag("claimed") {
			return nil, store.ErrAbort
		}
		entry["claimed"] = true
		return entry, nil
	})
	if err != nil {
		return false, fmt.Errorf("claim queue entry %s: %w", key, err)
	}
	if !committed {
		return false, nil
	}
	snap, err := m.tree.Read(ctx, store.Join(entryPath(key), "claimed"))
	if err != nil {
		return false, err
	}
	confirmed, _ := snap.Value.(bool)
	return confirmed, nil
}

func (m *Matcher) release(ctx context.Context, key string, log logrus.FieldLogger) {
	if _, err := store.CompareAndSwap(ctx, m.tree, store.Join(entryPath(key), "claimed"), true, false); err != nil {
		log.WithError(err).Error("release queue claim")
	}
}
