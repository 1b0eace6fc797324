// README: Driver service: RFID identity, daily contribution gate and registration.
package driver

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"toda/internal/modules/booking"
	"toda/internal/notify"
	"toda/internal/observability"
	"toda/internal/store"
)

var (
	ErrDriverNotFound      = errors.New("driver not found")
	ErrApplicationNotFound = errors.New("driver application not found")
	ErrRFIDInUse           = errors.New("rfid already assigned to another driver")
	ErrNoRFID              = errors.New("driver has no rfid assigned")
	ErrBadRequest          = errors.New("bad request")
)

type Service struct {
	tree      store.Tree
	cache     IndexCache
	publisher notify.Publisher
	loc       *time.Location
	log       logrus.FieldLogger
	now       func() time.Time
	validate  *validator.Validate
}

// NewService wires the ledger. cache and publisher may be nil; loc defines
// "today" for the contribution gate.
func NewService(tree store.Tree, cache IndexCache, publisher notify.Publisher, loc *time.Location, log logrus.FieldLogger) *Service {
	if loc == nil {
		loc = time.Local
	}
	return &Service{
		tree:      tree,
		cache:     cache,
		publisher: publisher,
		loc:       loc,
		log:       log,
		now:       time.Now,
		validate:  validator.New(),
	}
}

type CoinCommand struct {
	RFID     string  `validate:"required"`
	Amount   float64 `validate:"gt=0"`
	DeviceID string
}

type RegisterCommand struct {
	UID         string `validate:"required"`
	DriverName  string `validate:"required,max=120"`
	PhoneNumber string `validate:"required,max=20"`
	TodaNumber  string `validate:"required,max=20"`
	TricycleID  string `validate:"max=40"`
}

func (s *Service) Get(ctx context.Context, driverID string) (*Driver, error) {
	if strings.TrimSpace(driverID) == "" {
		return nil, ErrBadRequest
	}
	snap, err := s.tree.Read(ctx, driverPath(driverID))
	if err != nil {
		return nil, err
	}
	d, ok := decodeDriver(snap.Key, snap.Value)
	if !ok {
		return nil, ErrDriverNotFound
	}
	return &d, nil
}

// ResolveDriverID maps a physical RFID to a driver id through the rfidIndex,
// falling back to a driver scan for records that predate the index.
func (s *Service) ResolveDriverID(ctx context.Context, rfid string) (string, bool, error) {
	rfid = strings.TrimSpace(rfid)
	if rfid == "" {
		return "", false, nil
	}
	if s.cache != nil {
		if id, ok, err := s.cache.Get(ctx, rfid); err != nil {
			s.log.WithError(err).Debug("rfid cache read failed")
		} else if ok {
			return id, true, nil
		}
	}

	snap, err := s.tree.Read(ctx, store.Join(RFIDIndex, rfid))
	if err != nil {
		return "", false, err
	}
	id := ""
	if v, ok := snap.Value.(string); ok {
		id = v
	}
	if id == "" {
		snap, err = s.tree.Query(ctx, Collection, "rfidUID", rfid)
		if err != nil {
			return "", false, err
		}
		if children := snap.Children(); len(children) > 0 {
			if d, ok := decodeDriver(children[0].Key, children[0].Value); ok {
				id = d.DriverID
			}
		}
	}
	if id == "" {
		return "", false, nil
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, rfid, id); err != nil {
			s.log.WithError(err).Debug("rfid cache write failed")
		}
	}
	return id, true, nil
}

func (s *Service) GetByRFID(ctx context.Context, rfid string) (*Driver, error) {
	id, ok, err := s.ResolveDriverID(ctx, rfid)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrDriverNotFound
	}
	return s.Get(ctx, id)
}

// Assignee is the driver identity a manually accepted booking carries.
func (s *Service) Assignee(ctx context.Context, driverID string) (booking.Assignment, error) {
	d, err := s.Get(ctx, driverID)
	if err != nil {
		return booking.Assignment{}, err
	}
	return booking.Assignment{
		DriverID:   d.DriverID,
		DriverRFID: d.RFIDUID,
		DriverName: d.DriverName,
		TricycleID: d.TricycleID,
		TodaNumber: d.TodaNumber,
	}, nil
}

func (s *Service) startOfToday() time.Time {
	return StartOfDay(s.now(), s.loc)
}

// ContributionStatus reports whether the driver has a contribution recorded
// since local midnight.
func (s *Service) ContributionStatus(ctx context.Context, driverID string) (bool, error) {
	snap, err := s.tree.Query(ctx, ContributionCollection, "driverId", driverID)
	if err != nil {
		return false, err
	}
	since := s.startOfToday().UnixMilli()
	for _, c := range snap.Children() {
		if con, ok := decodeContribution(c.Key, c.Value); ok && con.Timestamp >= since {
			return true, nil
		}
	}
	return false, nil
}

// CanReceiveBookings is the availability gate: an assigned RFID and a
// contribution today.
func (s *Service) CanReceiveBookings(ctx context.Context, driverID string) (bool, error) {
	d, err := s.Get(ctx, driverID)
	if err != nil {
		return false, err
	}
	if d.RFIDUID == "" {
		return false, nil
	}
	return s.ContributionStatus(ctx, driverID)
}

// RecordCoinInsertion writes the day's contribution, opens the availability
// gate and appends a status event for listeners, all in one update.
func (s *Service) RecordCoinInsertion(ctx context.Context, cmd CoinCommand) (*Contribution, error) {
	if err := s.validate.Struct(cmd); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadRequest, err)
	}
	d, err := s.GetByRFID(ctx, cmd.RFID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	c := Contribution{
		ID:        s.tree.NewKey(),
		DriverID:  d.DriverID,
		RFIDUID:   cmd.RFID,
		Amount:    cmd.Amount,
		DeviceID:  cmd.DeviceID,
		Timestamp: now.UnixMilli(),
		Date:      now.In(s.loc).Format("2006-01-02"),
	}
	dp := driverPath(d.DriverID)
	err = s.tree.Update(ctx, map[string]any{
		store.Join(ContributionCollection, c.ID): map[string]any{
			"driverId":  c.DriverID,
			"rfidUID":   c.RFIDUID,
			"amount":    c.Amount,
			"deviceId":  c.DeviceID,
			"timestamp": c.Timestamp,
			"date":      c.Date,
		},
		store.Join(dp, "canReceiveBookings"):               true,
		store.Join(dp, "contributionToday"):                true,
		store.Join(dp, "lastContributionAt"):               c.Timestamp,
		store.Join(StatusEventCollection, s.tree.NewKey()): statusEvent(d.DriverID, cmd.RFID, "CONTRIBUTION_RECORDED", true, c.Timestamp),
	})
	if err != nil {
		return nil, fmt.Errorf("record contribution for %s: %w", d.DriverID, err)
	}

	observability.CoinInsertions.Inc()
	notify.Publish(ctx, s.publisher, s.log, notify.Event{
		Type:       notify.DriverStatusChanged,
		DriverID:   d.DriverID,
		Status:     "ONLINE",
		Attributes: map[string]string{"rfidUID": cmd.RFID, "deviceId": cmd.DeviceID},
	})
	s.log.WithFields(logrus.Fields{"driver_id": d.DriverID, "driver_rfid": cmd.RFID, "amount": cmd.Amount}).Info("contribution recorded")
	return &c, nil
}

func statusEvent(driverID, rfid, kind string, canReceive bool, ts int64) map[string]any {
	return map[string]any{
		"driverId":           driverID,
		"rfidUID":            rfid,
		"type":               kind,
		"canReceiveBookings": canReceive,
		"timestamp":          ts,
	}
}

// ResetStale closes the availability gate of drivers whose last contribution
// is before today and reports how many were reset.
func (s *Service) ResetStale(ctx context.Context) (int, error) {
	snap, err := s.tree.Read(ctx, Collection)
	if err != nil {
		return 0, err
	}
	since := s.startOfToday().UnixMilli()
	now := s.now().UnixMilli()
	patch := map[string]any{}
	n := 0
	for _, c := range snap.Children() {
		d, ok := decodeDriver(c.Key, c.Value)
		if !ok || !(d.ContributionToday || d.CanReceiveBookings) || d.LastContributionAt >= since {
			continue
		}
		dp := driverPath(c.Key)
		patch[store.Join(dp, "canReceiveBookings")] = false
		patch[store.Join(dp, "contributionToday")] = false
		patch[store.Join(StatusEventCollection, s.tree.NewKey())] = statusEvent(d.DriverID, d.RFIDUID, "DAILY_RESET", false, now)
		n++
	}
	if n == 0 {
		return 0, nil
	}
	if err := s.tree.Update(ctx, patch); err != nil {
		return 0, fmt.Errorf("daily reset: %w", err)
	}
	return n, nil
}

// RunDailyReset checks every interval and resets once per local day.
func (s *Service) RunDailyReset(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	lastDay := ""
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			day := s.now().In(s.loc).Format("2006-01-02")
			if day == lastDay {
				continue
			}
			n, err := s.ResetStale(ctx)
			if err != nil {
				s.log.WithError(err).Error("daily availability reset failed")
				continue
			}
			lastDay = day
			if n > 0 {
				s.log.WithField("drivers", n).Info("daily availability reset")
			}
		}
	}
}

// Register files an application for admin approval. A caller that is
// already an approved driver gets Success instead.
func (s *Service) Register(ctx context.Context, cmd RegisterCommand) RegistrationResult {
	if err := s.validate.Struct(cmd); err != nil {
		return failed(fmt.Errorf("%w: %v", ErrBadRequest, err))
	}
	if d, err := s.Get(ctx, cmd.UID); err == nil {
		return success(d)
	} else if !errors.Is(err, ErrDriverNotFound) {
		return failed(err)
	}

	snap, err := s.tree.Query(ctx, ApplicationCollection, "uid", cmd.UID)
	if err != nil {
		return failed(err)
	}
	if children := snap.Children(); len(children) > 0 {
		return pending(children[0].Key)
	}

	id, err := s.tree.Push(ctx, ApplicationCollection, map[string]any{
		"uid":         cmd.UID,
		"driverName":  cmd.DriverName,
		"phoneNumber": cmd.PhoneNumber,
		"todaNumber":  cmd.TodaNumber,
		"tricycleId":  cmd.TricycleID,
		"submittedAt": s.now().UnixMilli(),
	})
	if err != nil {
		return failed(fmt.Errorf("submit application: %w", err))
	}
	s.log.WithFields(logrus.Fields{"application_id": id, "uid": cmd.UID}).Info("driver application submitted")
	return pending(id)
}

// Approve turns an application into a driver record awaiting an RFID.
func (s *Service) Approve(ctx context.Context, applicationID string) (*Driver, error) {
	snap, err := s.tree.Read(ctx, store.Join(ApplicationCollection, applicationID))
	if err != nil {
		return nil, err
	}
	app, ok := decodeApplication(snap.Key, snap.Value)
	if !ok {
		return nil, ErrApplicationNotFound
	}
	d := Driver{
		DriverID:            app.UID,
		DriverName:          app.DriverName,
		PhoneNumber:         app.PhoneNumber,
		TodaNumber:          app.TodaNumber,
		TricycleID:          app.TricycleID,
		IsActive:            true,
		NeedsRFIDAssignment: true,
	}
	err = s.tree.Update(ctx, map[string]any{
		driverPath(d.DriverID): map[string]any{
			"driverId":            d.DriverID,
			"driverName":          d.DriverName,
			"phoneNumber":         d.PhoneNumber,
			"todaNumber":          d.TodaNumber,
			"tricycleId":          d.TricycleID,
			"rfidUID":             "",
			"isActive":            true,
			"canReceiveBookings":  false,
			"contributionToday":   false,
			"needsRfidAssignment": true,
		},
		store.Join(ApplicationCollection, app.ID): nil,
	})
	if err != nil {
		return nil, fmt.Errorf("approve %s: %w", applicationID, err)
	}
	return &d, nil
}

// AssignRFID links a physical tag to a driver. The rfidIndex entry is claimed
// with a compare-and-set so one tag never resolves to two drivers.
func (s *Service) AssignRFID(ctx context.Context, driverID, rfid string) error {
	rfid = strings.TrimSpace(rfid)
	if rfid == "" {
		return ErrBadRequest
	}
	d, err := s.Get(ctx, driverID)
	if err != nil {
		return err
	}
	if d.RFIDUID == rfid {
		return nil
	}
	if other, ok, err := s.ResolveDriverID(ctx, rfid); err != nil {
		return err
	} else if ok && other != driverID {
		return ErrRFIDInUse
	}
	claimed, err := s.tree.Transact(ctx, store.Join(RFIDIndex, rfid), func(cur any) (any, error) {
		if id, _ := cur.(string); id != "" && id != driverID {
			return nil, store.ErrAbort
		}
		return driverID, nil
	})
	if err != nil {
		return err
	}
	if !claimed {
		return ErrRFIDInUse
	}

	dp := driverPath(driverID)
	patch := map[string]any{
		store.Join(dp, "rfidUID"):                      rfid,
		store.Join(dp, "needsRfidAssignment"):          false,
		store.Join(dp, "rfidHistory", s.tree.NewKey()): rfidChange(d.RFIDUID, rfid, "ASSIGNED", s.now()),
	}
	if d.RFIDUID != "" {
		patch[store.Join(RFIDIndex, d.RFIDUID)] = nil
	}
	if err := s.tree.Update(ctx, patch); err != nil {
		return fmt.Errorf("assign rfid to %s: %w", driverID, err)
	}
	s.forget(ctx, d.RFIDUID)
	s.log.WithFields(logrus.Fields{"driver_id": driverID, "driver_rfid": rfid}).Info("rfid assigned")
	return nil
}

// ReportMissingRFID unlinks a lost tag. The driver stops receiving bookings
// until an admin assigns a new one.
func (s *Service) ReportMissingRFID(ctx context.Context, driverID, reason string) error {
	d, err := s.Get(ctx, driverID)
	if err != nil {
		return err
	}
	if d.RFIDUID == "" {
		return ErrNoRFID
	}
	if reason == "" {
		reason = "REPORTED_MISSING"
	}
	dp := driverPath(driverID)
	err = s.tree.Update(ctx, map[string]any{
		store.Join(dp, "rfidUID"):                      "",
		store.Join(dp, "needsRfidAssignment"):          true,
		store.Join(dp, "canReceiveBookings"):           false,
		store.Join(dp, "rfidHistory", s.tree.NewKey()): rfidChange(d.RFIDUID, "", reason, s.now()),
		store.Join(RFIDIndex, d.RFIDUID):               nil,
	})
	if err != nil {
		return fmt.Errorf("unlink rfid of %s: %w", driverID, err)
	}
	s.forget(ctx, d.RFIDUID)
	notify.Publish(ctx, s.publisher, s.log, notify.Event{
		Type:       notify.DriverRFIDUnlinked,
		DriverID:   driverID,
		Attributes: map[string]string{"rfidUID": d.RFIDUID, "reason": reason},
	})
	return nil
}

func rfidChange(oldRFID, newRFID, reason string, at time.Time) map[string]any {
	return map[string]any{
		"oldRfid":   oldRFID,
		"newRfid":   newRFID,
		"reason":    reason,
		"timestamp": at.UnixMilli(),
	}
}

func (s *Service) forget(ctx context.Context, rfid string) {
	if s.cache == nil || rfid == "" {
		return
	}
	if err := s.cache.Delete(ctx, rfid); err != nil {
		s.log.WithError(err).Debug("rfid cache delete failed")
	}
}
