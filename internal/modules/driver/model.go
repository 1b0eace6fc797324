// README: Driver, contribution and registration records.
package driver

import (
	"time"

	"toda/internal/store"
)

const (
	Collection             = "drivers"
	ApplicationCollection  = "driverApplications"
	ContributionCollection = "contributions"
	RFIDIndex              = "rfidIndex"
	StatusEventCollection  = "driverStatusEvents"
)

type Driver struct {
	DriverID            string `json:"driverId"`
	RFIDUID             string `json:"rfidUID"`
	DriverName          string `json:"driverName"`
	PhoneNumber         string `json:"phoneNumber,omitempty"`
	TodaNumber          string `json:"todaNumber"`
	TricycleID          string `json:"tricycleId,omitempty"`
	IsActive            bool   `json:"isActive"`
	CanReceiveBookings  bool   `json:"canReceiveBookings"`
	ContributionToday   bool   `json:"contributionToday"`
	NeedsRFIDAssignment bool   `json:"needsRfidAssignment"`
	LastContributionAt  int64  `json:"lastContributionAt,omitempty"`
}

type Contribution struct {
	ID        string  `json:"id"`
	DriverID  string  `json:"driverId"`
	RFIDUID   string  `json:"rfidUID"`
	Amount    float64 `json:"amount"`
	DeviceID  string  `json:"deviceId,omitempty"`
	Timestamp int64   `json:"timestamp"`
	Date      string  `json:"date"`
}

type Application struct {
	ID          string `json:"id"`
	UID         string `json:"uid"`
	DriverName  string `json:"driverName"`
	PhoneNumber string `json:"phoneNumber"`
	TodaNumber  string `json:"todaNumber"`
	TricycleID  string `json:"tricycleId,omitempty"`
	SubmittedAt int64  `json:"submittedAt"`
}

// TodayStats are the driver's aggregates since local midnight. AverageRating
// is NoRating when no customer has rated a trip today.
type TodayStats struct {
	TripCount     int     `json:"tripCount"`
	Earnings      float64 `json:"earnings"`
	AverageRating float64 `json:"averageRating"`
}

const NoRating = -1.0

// RegistrationKind tags the outcome of Register. Pending obliges the caller to
// wait for approval; Error carries the reason.
type RegistrationKind string

const (
	RegistrationSuccess RegistrationKind = "SUCCESS"
	RegistrationPending RegistrationKind = "PENDING"
	RegistrationError   RegistrationKind = "ERROR"
)

type RegistrationResult struct {
	Kind          RegistrationKind
	Driver        *Driver
	ApplicationID string
	Err           error
}

func success(d *Driver) RegistrationResult {
	return RegistrationResult{Kind: RegistrationSuccess, Driver: d}
}

func pending(applicationID string) RegistrationResult {
	return RegistrationResult{Kind: RegistrationPending, ApplicationID: applicationID}
}

func failed(err error) RegistrationResult {
	return RegistrationResult{Kind: RegistrationError, Err: err}
}

func decodeDriver(key string, raw any) (Driver, bool) {
	if store.Classify(raw) != store.KindObject {
		return Driver{}, false
	}
	f := store.Fields(raw.(map[string]any))
	d := Driver{
		DriverID:            f.String("driverId"),
		RFIDUID:             f.String("rfidUID"),
		DriverName:          f.String("driverName"),
		PhoneNumber:         f.String("phoneNumber"),
		TodaNumber:          f.String("todaNumber"),
		TricycleID:          f.String("tricycleId"),
		IsActive:            f.Flag("isActive"),
		CanReceiveBookings:  f.Flag("canReceiveBookings"),
		ContributionToday:   f.Flag("contributionToday"),
		NeedsRFIDAssignment: f.Flag("needsRfidAssignment"),
	}
	if d.DriverID == "" {
		d.DriverID = key
	}
	d.LastContributionAt, _ = f.Int64("lastContributionAt")
	return d, true
}

func decodeContribution(key string, raw any) (Contribution, bool) {
	if store.Classify(raw) != store.KindObject {
		return Contribution{}, false
	}
	f := store.Fields(raw.(map[string]any))
	c := Contribution{
		ID:       key,
		DriverID: f.String("driverId"),
		RFIDUID:  f.String("rfidUID"),
		Amount:   f.FloatOr("amount", 0),
		DeviceID: f.String("deviceId"),
		Date:     f.String("date"),
	}
	c.Timestamp, _ = f.Int64("timestamp")
	return c, true
}

func decodeApplication(key string, raw any) (Application, bool) {
	if store.Classify(raw) != store.KindObject {
		return Application{}, false
	}
	f := store.Fields(raw.(map[string]any))
	a := Application{
		ID:          key,
		UID:         f.String("uid"),
		DriverName:  f.String("driverName"),
		PhoneNumber: f.String("phoneNumber"),
		TodaNumber:  f.String("todaNumber"),
		TricycleID:  f.String("tricycleId"),
	}
	a.SubmittedAt, _ = f.Int64("submittedAt")
	return a, a.UID != ""
}

// StartOfDay is local midnight of t in loc.
func StartOfDay(t time.Time, loc *time.Location) time.Time {
	lt := t.In(loc)
	return time.Date(lt.Year(), lt.Month(), lt.Day(), 0, 0, 0, 0, loc)
}

func driverPath(id string) string { return store.Join(Collection, id) }
