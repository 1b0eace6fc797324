// README: Rating record seeded at booking completion.
package rating

import (
	"toda/internal/store"
	"toda/internal/types"
)

const (
	Collection      = "ratings"
	RatedByCustomer = "CUSTOMER"
)

type Rating struct {
	ID         string   `json:"id"`
	BookingID  types.ID `json:"bookingId"`
	CustomerID string   `json:"customerId"`
	DriverID   string   `json:"driverId,omitempty"`
	DriverRFID string   `json:"driverRFID,omitempty"`
	Stars      int      `json:"stars"`
	Feedback   string   `json:"feedback,omitempty"`
	RatedBy    string   `json:"ratedBy"`
	Timestamp  int64    `json:"timestamp"`
}

// Rated reports whether the customer has submitted stars.
func (r Rating) Rated() bool { return r.Stars > 0 }

// Decode accepts legacy numeric strings; non-object nodes are rejected.
func Decode(key string, raw any) (Rating, bool) {
	if store.Classify(raw) != store.KindObject {
		return Rating{}, false
	}
	f := store.Fields(raw.(map[string]any))
	r := Rating{
		ID:         key,
		BookingID:  types.ID(f.String("bookingId")),
		CustomerID: f.String("customerId"),
		DriverID:   f.String("driverId"),
		DriverRFID: f.String("driverRFID"),
		Feedback:   f.String("feedback"),
		RatedBy:    f.String("ratedBy"),
	}
	stars, _ := f.Int64("stars")
	r.Stars = int(stars)
	r.Timestamp, _ = f.Int64("timestamp")
	return r, true
}

func (r Rating) record() map[string]any {
	return map[string]any{
		"bookingId":  string(r.BookingID),
		"customerId": r.CustomerID,
		"driverId":   r.DriverID,
		"driverRFID": r.DriverRFID,
		"stars":      r.Stars,
		"feedback":   r.Feedback,
		"ratedBy":    r.RatedBy,
		"timestamp":  r.Timestamp,
	}
}
