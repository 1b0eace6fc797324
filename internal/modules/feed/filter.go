// README: Per-consumer views over the full booking list.
package feed

import "toda/internal/modules/booking"

// Partition splits a passenger's bookings into current and past trips.
type Partition string

const (
	PartitionActive  Partition = "active"
	PartitionHistory Partition = "history"
)

func ParsePartition(s string) Partition {
	if Partition(s) == PartitionHistory {
		return PartitionHistory
	}
	return PartitionActive
}

// ForPassenger keeps the customer's bookings in the requested partition.
func ForPassenger(list []booking.Booking, customerID string, p Partition) []booking.Booking {
	out := make([]booking.Booking, 0)
	for _, b := range list {
		if b.CustomerID != customerID {
			continue
		}
		if (p == PartitionHistory) == b.Status.Terminal() {
			out = append(out, b)
		}
	}
	return out
}

// ForDriver keeps the driver's accepted and in-progress trips, plus every
// PENDING booking when the driver is online today.
func ForDriver(list []booking.Booking, driverID, rfid string, online bool) []booking.Booking {
	out := make([]booking.Booking, 0)
	for _, b := range list {
		switch b.Status {
		case booking.StatusAccepted, booking.StatusInProgress:
			if b.BelongsTo(driverID, rfid) {
				out = append(out, b)
			}
		case booking.StatusPending:
			if online {
				out = append(out, b)
			}
		}
	}
	return out
}

// Redact clears contact and pickup verification details from every booking
// the viewer is not a party to. A nil party redacts them all.
func Redact(list []booking.Booking, party func(booking.Booking) bool) []booking.Booking {
	for i := range list {
		if party == nil || !party(list[i]) {
			list[i] = list[i].Redacted()
		}
	}
	return list
}

// ForDispatch keeps bookings waiting for or on the way to pickup.
func ForDispatch(list []booking.Booking) []booking.Booking {
	out := make([]booking.Booking, 0)
	for _, b := range list {
		if b.Status == booking.StatusPending || b.Status == booking.StatusAccepted {
			out = append(out, b)
		}
	}
	return out
}

// Active keeps every non-terminal booking.
func Active(list []booking.Booking) []booking.Booking {
	out := make([]booking.Booking, 0)
	for _, b := range list {
		if b.Status.Active() {
			out = append(out, b)
		}
	}
	return out
}

func Pending(list []booking.Booking) []booking.Booking {
	out := make([]booking.Booking, 0)
	for _, b := range list {
		if b.Status == booking.StatusPending {
			out = append(out, b)
		}
	}
	return out
}
