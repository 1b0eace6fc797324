// README: Defensive decoding of stored booking records.
package booking

import (
	"errors"
	"fmt"
	"strings"

	"toda/internal/store"
	"toda/internal/types"
)

var ErrMalformed = errors.New("malformed booking record")

// Decode normalizes one stored booking. Numeric fields accept native numbers
// or numeric strings; anything unparseable falls back to zero. A record that
// is not an object or carries no recognizable status is rejected.
func Decode(key string, raw any) (Booking, error) {
	if store.Classify(raw) != store.KindObject {
		return Booking{}, fmt.Errorf("%w: %s is %T", ErrMalformed, key, raw)
	}
	f := store.Fields(raw.(map[string]any))

	status := Status(strings.ToUpper(strings.TrimSpace(f.String("status"))))
	if !status.Valid() {
		return Booking{}, fmt.Errorf("%w: %s has status %q", ErrMalformed, key, f.String("status"))
	}

	b := Booking{
		ID:                 types.ID(key),
		CustomerID:         f.String("customerId"),
		CustomerName:       f.String("customerName"),
		PhoneNumber:        f.String("phoneNumber"),
		AssignedDriverID:   f.String("assignedDriverId"),
		DriverName:         f.String("driverName"),
		DriverRFID:         f.String("driverRFID"),
		AssignedTricycleID: f.String("assignedTricycleId"),
		TodaNumber:         f.String("todaNumber"),
		PickupLocation:     f.String("pickupLocation"),
		Destination:        f.String("destination"),
		PickupGeoPoint:     decodePoint(f.Object("pickupGeoPoint")),
		DropoffGeoPoint:    decodePoint(f.Object("dropoffGeoPoint")),
		EstimatedFare:      f.FloatOr("estimatedFare", 0),
		ActualFare:         f.FloatOr("actualFare", 0),
		Distance:           f.FloatOr("distance", 0),
		Status:             status,
		ArrivedAtPickup:    f.Flag("arrivedAtPickup"),
		IsNoShow:           f.Flag("isNoShow"),
		IsPhoneVerified:    f.Flag("isPhoneVerified"),
		VerificationCode:   f.String("verificationCode"),
		Feedback:           f.String("feedback"),
		Rating:             f.FloatOr("rating", 0),
	}
	b.Duration, _ = f.Int64("duration")
	b.Timestamp, _ = f.Int64("timestamp")
	b.CompletionTime, _ = f.Int64("completionTime")
	b.ArrivedAtPickupTime, _ = f.Int64("arrivedAtPickupTime")
	b.NoShowReportedTime, _ = f.Int64("noShowReportedTime")
	b.StatusVersion, _ = f.Int64("statusVersion")
	return b, nil
}

// DecodeAll decodes every child of a bookings snapshot. Malformed children are
// skipped and reported through skip.
func DecodeAll(snap store.Snapshot, skip func(key string, err error)) []Booking {
	children := snap.Children()
	out := make([]Booking, 0, len(children))
	for _, c := range children {
		b, err := Decode(c.Key, c.Value)
		if err != nil {
			if skip != nil {
				skip(c.Key, err)
			}
			continue
		}
		out = append(out, b)
	}
	return out
}

func decodePoint(f store.Fields) types.Point {
	if f == nil {
		return types.Point{}
	}
	return types.Point{Lat: f.FloatOr("latitude", 0), Lng: f.FloatOr("longitude", 0)}
}

// record is the stored shape of a new booking.
func (b Booking) record() map[string]any {
	r := map[string]any{
		"customerId":       b.CustomerID,
		"customerName":     b.CustomerName,
		"phoneNumber":      b.PhoneNumber,
		"pickupLocation":   b.PickupLocation,
		"destination":      b.Destination,
		"estimatedFare":    b.EstimatedFare,
		"status":           string(b.Status),
		"timestamp":        b.Timestamp,
		"arrivedAtPickup":  false,
		"isNoShow":         false,
		"isPhoneVerified":  b.IsPhoneVerified,
		"verificationCode": b.VerificationCode,
	}
	if !b.PickupGeoPoint.IsZero() {
		r["pickupGeoPoint"] = pointRecord(b.PickupGeoPoint)
	}
	if !b.DropoffGeoPoint.IsZero() {
		r["dropoffGeoPoint"] = pointRecord(b.DropoffGeoPoint)
	}
	if b.Distance > 0 {
		r["distance"] = b.Distance
	}
	if b.Duration > 0 {
		r["duration"] = b.Duration
	}
	return r
}

func pointRecord(p types.Point) map[string]any {
	return map[string]any{"latitude": p.Lat, "longitude": p.Lng}
}
