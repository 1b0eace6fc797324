// README: Booking record, status definitions and the transition table.
package booking

import (
	"time"

	"toda/internal/store"
	"toda/internal/types"
)

type Status string

const (
	StatusPending    Status = "PENDING"
	StatusAccepted   Status = "ACCEPTED"
	StatusInProgress Status = "IN_PROGRESS"
	StatusCompleted  Status = "COMPLETED"
	StatusCancelled  Status = "CANCELLED"
	StatusNoShow     Status = "NO_SHOW"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusAccepted, StatusInProgress, StatusCompleted, StatusCancelled, StatusNoShow:
		return true
	}
	return false
}

// Active statuses still need a driver or a trip; the rest are history.
func (s Status) Active() bool {
	return s == StatusPending || s == StatusAccepted || s == StatusInProgress
}

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusNoShow
}

// AllowedTransitions represents the booking lifecycle as code.
var AllowedTransitions = map[Status][]Status{
	StatusPending:    {StatusAccepted, StatusCancelled},
	StatusAccepted:   {StatusInProgress, StatusCancelled, StatusNoShow},
	StatusInProgress: {StatusCompleted, StatusCancelled},
}

func CanTransition(from, to Status) bool {
	next, ok := AllowedTransitions[from]
	if !ok {
		return false
	}
	for _, s := range next {
		if s == to {
			return true
		}
	}
	return false
}

type Booking struct {
	ID           types.ID `json:"id"`
	CustomerID   string   `json:"customerId"`
	CustomerName string   `json:"customerName,omitempty"`
	PhoneNumber  string   `json:"phoneNumber,omitempty"`

	AssignedDriverID   string `json:"assignedDriverId,omitempty"`
	DriverName         string `json:"driverName,omitempty"`
	DriverRFID         string `json:"driverRFID,omitempty"`
	AssignedTricycleID string `json:"assignedTricycleId,omitempty"`
	TodaNumber         string `json:"todaNumber,omitempty"`

	PickupLocation  string      `json:"pickupLocation"`
	Destination     string      `json:"destination"`
	PickupGeoPoint  types.Point `json:"pickupGeoPoint"`
	DropoffGeoPoint types.Point `json:"dropoffGeoPoint"`

	EstimatedFare float64 `json:"estimatedFare"`
	ActualFare    float64 `json:"actualFare,omitempty"`
	// Distance is in kilometres, Duration in minutes.
	Distance float64 `json:"distance,omitempty"`
	Duration int64   `json:"duration,omitempty"`

	Status Status `json:"status"`
	// StatusVersion counts committed status changes.
	StatusVersion int64 `json:"statusVersion"`

	// Epoch milliseconds; zero means unset.
	Timestamp           int64 `json:"timestamp"`
	CompletionTime      int64 `json:"completionTime,omitempty"`
	ArrivedAtPickupTime int64 `json:"arrivedAtPickupTime,omitempty"`
	NoShowReportedTime  int64 `json:"noShowReportedTime,omitempty"`

	ArrivedAtPickup bool `json:"arrivedAtPickup"`
	IsNoShow        bool `json:"isNoShow"`
	IsPhoneVerified bool `json:"isPhoneVerified"`

	VerificationCode string  `json:"verificationCode,omitempty"`
	Feedback         string  `json:"feedback,omitempty"`
	Rating           float64 `json:"rating,omitempty"`
}

// EffectiveFare prefers the metered fare over the estimate.
func (b Booking) EffectiveFare() float64 {
	if b.ActualFare > 0 {
		return b.ActualFare
	}
	return b.EstimatedFare
}

// EffectiveTime is the completion time when known, else the creation time.
func (b Booking) EffectiveTime() int64 {
	if b.CompletionTime > 0 {
		return b.CompletionTime
	}
	return b.Timestamp
}

// BelongsTo matches by driver id or by RFID; older bookings carry only one.
func (b Booking) BelongsTo(driverID, rfid string) bool {
	if driverID != "" && b.AssignedDriverID == driverID {
		return true
	}
	return rfid != "" && b.DriverRFID == rfid
}

// Redacted drops the fields only the booking's parties may see.
func (b Booking) Redacted() Booking {
	b.PhoneNumber = ""
	b.VerificationCode = ""
	return b
}

// Event is one audited status change.
type Event struct {
	ID         int64     `json:"id"`
	BookingID  types.ID  `json:"bookingId"`
	FromStatus Status    `json:"fromStatus"`
	ToStatus   Status    `json:"toStatus"`
	ActorType  string    `json:"actorType"`
	ActorID    string    `json:"actorId"`
	CreatedAt  time.Time `json:"createdAt"`
}

func Path(id types.ID) string      { return store.Join("bookings", string(id)) }
func IndexPath(id types.ID) string { return store.Join("bookingIndex", string(id)) }

const Collection = "bookings"
