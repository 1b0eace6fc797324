// README: Booking service implements creation, status transitions and their side effects.
package booking

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"toda/internal/notify"
	"toda/internal/observability"
	"toda/internal/store"
	"toda/internal/types"
)

var (
	ErrInvalidState = errors.New("invalid state transition")
	ErrNotFound     = errors.New("booking not found")
	ErrBadRequest   = errors.New("bad request")
	// ErrDriverUnavailable means the driver fails the availability gate.
	ErrDriverUnavailable = errors.New("driver cannot receive bookings")
)

// RatingSeeder creates the zero-star rating of a completed booking.
type RatingSeeder interface {
	Seed(ctx context.Context, b Booking) error
}

// ChatOpener ensures one chat room exists for a booking.
type ChatOpener interface {
	EnsureRoom(ctx context.Context, bookingID types.ID, customerID, driverID string) (string, error)
}

// DriverDirectory resolves drivers and applies the availability gate to a
// manual accept.
type DriverDirectory interface {
	ResolveDriverID(ctx context.Context, rfid string) (string, bool, error)
	// Assignee returns the driver's identity as written onto an accepted booking.
	Assignee(ctx context.Context, driverID string) (Assignment, error)
	CanReceiveBookings(ctx context.Context, driverID string) (bool, error)
}

type Geocoder interface {
	ReverseGeocode(ctx context.Context, p types.Point) (string, error)
}

type RouteEstimator interface {
	EstimateRoute(ctx context.Context, from, to types.Point) (distanceKm float64, minutes int64, err error)
}

type FareEstimator interface {
	Estimate(distanceKm float64) float64
}

// Deps are optional collaborators; a nil field disables that side effect.
type Deps struct {
	Ratings   RatingSeeder
	Chat      ChatOpener
	Drivers   DriverDirectory
	Events    EventStore
	Publisher notify.Publisher
	Geocoder  Geocoder
	Routes    RouteEstimator
	Fares     FareEstimator
	Now       func() time.Time
}

type Service struct {
	tree     store.Tree
	deps     Deps
	log      logrus.FieldLogger
	validate *validator.Validate
}

func NewService(tree store.Tree, deps Deps, log logrus.FieldLogger) *Service {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Service{tree: tree, deps: deps, log: log, validate: validator.New()}
}

type CreateCommand struct {
	CustomerID      string `validate:"required"`
	CustomerName    string `validate:"max=120"`
	PhoneNumber     string `validate:"omitempty,max=20"`
	IsPhoneVerified bool
	PickupLocation  string
	Destination     string `validate:"required"`
	PickupGeoPoint  types.Point
	DropoffGeoPoint types.Point
	EstimatedFare   float64 `validate:"gte=0"`
}

type UpdateStatusCommand struct {
	BookingID types.ID
	Status    Status
	// DriverID is required when accepting by hand and optional otherwise.
	DriverID  string
	ActorType string
	ActorID   string
}

// Assignment is the driver identity an accepted booking carries, from a queue
// match or a manual accept.
type Assignment struct {
	BookingID  types.ID
	DriverID   string
	DriverRFID string
	DriverName string
	TricycleID string
	TodaNumber string
}

func (s *Service) Create(ctx context.Context, cmd CreateCommand) (types.ID, error) {
	if err := s.validate.Struct(cmd); err != nil {
		return "", fmt.Errorf("%w: %v", ErrBadRequest, err)
	}
	if strings.TrimSpace(cmd.PickupLocation) == "" && cmd.PickupGeoPoint.IsZero() {
		return "", fmt.Errorf("%w: pickup location or coordinates required", ErrBadRequest)
	}
	code, err := verificationCode()
	if err != nil {
		return "", err
	}

	b := Booking{
		CustomerID:       cmd.CustomerID,
		CustomerName:     cmd.CustomerName,
		PhoneNumber:      cmd.PhoneNumber,
		IsPhoneVerified:  cmd.IsPhoneVerified,
		PickupLocation:   strings.TrimSpace(cmd.PickupLocation),
		Destination:      strings.TrimSpace(cmd.Destination),
		PickupGeoPoint:   cmd.PickupGeoPoint,
		DropoffGeoPoint:  cmd.DropoffGeoPoint,
		EstimatedFare:    cmd.EstimatedFare,
		Status:           StatusPending,
		Timestamp:        s.deps.Now().UnixMilli(),
		VerificationCode: code,
	}
	s.enrich(ctx, &b)

	id := types.ID(s.tree.NewKey())
	err = s.tree.Update(ctx, map[string]any{
		Path(id):      b.record(),
		IndexPath(id): map[string]any{"status": string(StatusPending)},
	})
	if err != nil {
		return "", fmt.Errorf("create booking: %w", err)
	}
	b.ID = id
	s.audit(ctx, &Event{BookingID: id, FromStatus: "", ToStatus: StatusPending, ActorType: "customer", ActorID: cmd.CustomerID})
	notify.Publish(ctx, s.deps.Publisher, s.log, notify.Event{
		Type:       notify.BookingStatusChanged,
		BookingID:  string(id),
		CustomerID: cmd.CustomerID,
		Status:     string(StatusPending),
	})
	observability.BookingTransitions.WithLabelValues(string(StatusPending)).Inc()
	return id, nil
}

// enrich fills missing address, route and fare fields. Every step is best
// effort; a failing collaborator leaves its field empty.
func (s *Service) enrich(ctx context.Context, b *Booking) {
	if b.PickupLocation == "" && s.deps.Geocoder != nil {
		if addr, err := s.deps.Geocoder.ReverseGeocode(ctx, b.PickupGeoPoint); err == nil {
			b.PickupLocation = addr
		} else {
			s.log.WithError(err).Debug("reverse geocode failed")
		}
	}
	if b.Distance == 0 && s.deps.Routes != nil && !b.PickupGeoPoint.IsZero() && !b.DropoffGeoPoint.IsZero() {
		if km, minutes, err := s.deps.Routes.EstimateRoute(ctx, b.PickupGeoPoint, b.DropoffGeoPoint); err == nil {
			b.Distance = km
			b.Duration = minutes
		} else {
			s.log.WithError(err).Debug("route estimate failed")
		}
	}
	if b.EstimatedFare == 0 && s.deps.Fares != nil && b.Distance > 0 {
		b.EstimatedFare = s.deps.Fares.Estimate(b.Distance)
	}
}

func (s *Service) Get(ctx context.Context, id types.ID) (*Booking, error) {
	if id.Empty() {
		return nil, ErrBadRequest
	}
	snap, err := s.tree.Read(ctx, Path(id))
	if err != nil {
		return nil, err
	}
	if !snap.Exists() {
		return nil, ErrNotFound
	}
	b, err := Decode(string(id), snap.Value)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// Status reads only the status field.
func (s *Service) Status(ctx context.Context, id types.ID) (Status, error) {
	snap, err := s.tree.Read(ctx, store.Join(Path(id), "status"))
	if err != nil {
		return "", err
	}
	if !snap.Exists() {
		return "", ErrNotFound
	}
	return Status(strings.ToUpper(fmt.Sprint(snap.Value))), nil
}

// Pending lists PENDING bookings oldest first.
func (s *Service) Pending(ctx context.Context, limit int) ([]Booking, error) {
	snap, err := s.tree.Query(ctx, Collection, "status", string(StatusPending))
	if err != nil {
		return nil, err
	}
	list := DecodeAll(snap, s.skip)
	sort.SliceStable(list, func(i, j int) bool { return list[i].Timestamp < list[j].Timestamp })
	if limit > 0 && len(list) > limit {
		list = list[:limit]
	}
	return list, nil
}

// UpdateStatus moves a booking along AllowedTransitions. The status and its
// index mirror are written together under the booking's status guard; an
// illegal or losing transition writes nothing.
func (s *Service) UpdateStatus(ctx context.Context, cmd UpdateStatusCommand) error {
	if !cmd.Status.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrBadRequest, cmd.Status)
	}
	var assignee Assignment
	if cmd.Status == StatusAccepted {
		a, err := s.acceptingDriver(ctx, cmd.DriverID)
		if err != nil {
			return err
		}
		assignee = a
	}

	now := s.deps.Now().UnixMilli()
	b, from, err := s.transition(ctx, cmd.BookingID, cmd.Status, func(b *Booking, patch map[string]any) error {
		p := Path(b.ID)
		switch cmd.Status {
		case StatusAccepted:
			assignFields(b, assignee, patch)
		case StatusCompleted:
			patch[store.Join(p, "completionTime")] = now
			b.CompletionTime = now
		case StatusNoShow:
			patch[store.Join(p, "isNoShow")] = true
			patch[store.Join(p, "noShowReportedTime")] = now
			b.IsNoShow, b.NoShowReportedTime = true, now
		}
		if cmd.DriverID != "" && b.AssignedDriverID == "" {
			patch[store.Join(p, "assignedDriverId")] = cmd.DriverID
			b.AssignedDriverID = cmd.DriverID
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.afterTransition(ctx, b, from, cmd.ActorType, cmd.ActorID)
	return nil
}

// acceptingDriver checks a manual accept: the driver must exist and pass the
// same availability gate the queue applies.
func (s *Service) acceptingDriver(ctx context.Context, driverID string) (Assignment, error) {
	if strings.TrimSpace(driverID) == "" {
		return Assignment{}, fmt.Errorf("%w: accepting requires a driver", ErrBadRequest)
	}
	if s.deps.Drivers == nil {
		return Assignment{}, fmt.Errorf("%w: no driver directory", ErrDriverUnavailable)
	}
	a, err := s.deps.Drivers.Assignee(ctx, driverID)
	if err != nil {
		return Assignment{}, err
	}
	ok, err := s.deps.Drivers.CanReceiveBookings(ctx, driverID)
	if err != nil {
		return Assignment{}, err
	}
	if !ok {
		return Assignment{}, fmt.Errorf("%w: %s", ErrDriverUnavailable, driverID)
	}
	a.DriverID = driverID
	return a, nil
}

// assignFields writes the driver identity onto the booking and the driver RFID
// onto its index entry, where hardware consumers read it.
func assignFields(b *Booking, a Assignment, patch map[string]any) {
	p, idx := Path(b.ID), IndexPath(b.ID)
	patch[store.Join(p, "driverRFID")] = a.DriverRFID
	patch[store.Join(p, "driverName")] = a.DriverName
	patch[store.Join(p, "assignedTricycleId")] = a.TricycleID
	patch[store.Join(p, "todaNumber")] = a.TodaNumber
	patch[store.Join(idx, "driverRFID")] = a.DriverRFID
	if a.DriverID != "" {
		patch[store.Join(p, "assignedDriverId")] = a.DriverID
		b.AssignedDriverID = a.DriverID
	}
	b.DriverRFID = a.DriverRFID
	b.DriverName = a.DriverName
	b.AssignedTricycleID = a.TricycleID
	b.TodaNumber = a.TodaNumber
}

func (s *Service) afterTransition(ctx context.Context, b *Booking, from Status, actorType, actorID string) {
	log := s.log.WithFields(logrus.Fields{"booking_id": b.ID, "from": from, "to": b.Status})

	switch b.Status {
	case StatusCompleted:
		if s.deps.Ratings != nil {
			if err := s.deps.Ratings.Seed(ctx, *b); err != nil {
				log.WithError(err).Warn("rating seed failed")
			}
		}
	case StatusInProgress:
		s.openChat(ctx, b, log)
	}

	s.audit(ctx, &Event{BookingID: b.ID, FromStatus: from, ToStatus: b.Status, ActorType: actorType, ActorID: actorID})
	notify.Publish(ctx, s.deps.Publisher, s.log, notify.Event{
		Type:       notify.BookingStatusChanged,
		BookingID:  string(b.ID),
		CustomerID: b.CustomerID,
		DriverID:   b.AssignedDriverID,
		Status:     string(b.Status),
	})
	observability.BookingTransitions.WithLabelValues(string(b.Status)).Inc()
	log.Info("booking status changed")
}

func (s *Service) openChat(ctx context.Context, b *Booking, log logrus.FieldLogger) {
	if s.deps.Chat == nil {
		return
	}
	driverID := b.AssignedDriverID
	if driverID == "" && b.DriverRFID != "" && s.deps.Drivers != nil {
		if id, ok, err := s.deps.Drivers.ResolveDriverID(ctx, b.DriverRFID); err == nil && ok {
			driverID = id
		}
	}
	if driverID == "" {
		log.Debug("no resolvable driver, chat room not opened")
		return
	}
	if _, err := s.deps.Chat.EnsureRoom(ctx, b.ID, b.CustomerID, driverID); err != nil {
		log.WithError(err).Warn("chat room creation failed")
	}
}

// Assign writes a queue match. The matcher has already claimed the queue
// entry; the PENDING -> ACCEPTED change itself takes the status guard, so a
// concurrent accept or cancel makes Assign fail with ErrInvalidState.
func (s *Service) Assign(ctx context.Context, a Assignment) error {
	_, _, err := s.transition(ctx, a.BookingID, StatusAccepted, func(b *Booking, patch map[string]any) error {
		assignFields(b, a, patch)
		return nil
	})
	if err != nil {
		return fmt.Errorf("assign booking %s: %w", a.BookingID, err)
	}
	s.audit(ctx, &Event{BookingID: a.BookingID, FromStatus: StatusPending, ToStatus: StatusAccepted, ActorType: "matcher", ActorID: a.DriverRFID})
	notify.Publish(ctx, s.deps.Publisher, s.log, notify.Event{
		Type:       notify.BookingMatched,
		BookingID:  string(a.BookingID),
		DriverID:   a.DriverID,
		Status:     string(StatusAccepted),
		Attributes: map[string]string{"driverRFID": a.DriverRFID, "driverName": a.DriverName},
	})
	observability.BookingTransitions.WithLabelValues(string(StatusAccepted)).Inc()
	return nil
}

// MarkArrivedAtPickup is informational and does not change the status.
func (s *Service) MarkArrivedAtPickup(ctx context.Context, id types.ID) error {
	b, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	return s.tree.Update(ctx, map[string]any{
		store.Join(Path(b.ID), "arrivedAtPickup"):     true,
		store.Join(Path(b.ID), "arrivedAtPickupTime"): s.deps.Now().UnixMilli(),
	})
}

func (s *Service) ReportNoShow(ctx context.Context, id types.ID, driverID string) error {
	return s.UpdateStatus(ctx, UpdateStatusCommand{BookingID: id, Status: StatusNoShow, ActorType: "driver", ActorID: driverID})
}

func (s *Service) Cancel(ctx context.Context, id types.ID, actorType, actorID string) error {
	return s.UpdateStatus(ctx, UpdateStatusCommand{BookingID: id, Status: StatusCancelled, ActorType: actorType, ActorID: actorID})
}

// History returns the audit trail, or nothing when no audit log is configured.
func (s *Service) History(ctx context.Context, id types.ID) ([]Event, error) {
	if s.deps.Events == nil {
		return nil, nil
	}
	return s.deps.Events.History(ctx, id)
}

func (s *Service) audit(ctx context.Context, e *Event) {
	if s.deps.Events == nil {
		return
	}
	e.CreatedAt = s.deps.Now()
	if err := s.deps.Events.AppendEvent(ctx, e); err != nil {
		s.log.WithError(err).WithField("booking_id", e.BookingID).Warn("audit append failed")
	}
}

func (s *Service) skip(key string, err error) {
	observability.DecodeFailures.WithLabelValues("booking").Inc()
	s.log.WithError(err).WithField("booking_id", key).Warn("skipping malformed booking")
}

// verificationCode is four ASCII digits shown to the driver at pickup.
func verificationCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(10000))
	if err != nil {
		return "", fmt.Errorf("verification code: %w", err)
	}
	return fmt.Sprintf("%04d", n.Int64()), nil
}
