// README: Daily aggregates for the driver dashboard.
package driver

import (
	"context"

	"toda/internal/modules/booking"
	"toda/internal/modules/rating"
	"toda/internal/observability"
)

// TodayStats counts today's completed trips and earnings and averages today's
// customer ratings. Bookings match by RFID or by assigned driver id.
func (s *Service) TodayStats(ctx context.Context, driverID string) (TodayStats, error) {
	d, err := s.Get(ctx, driverID)
	if err != nil {
		return TodayStats{}, err
	}
	start := s.startOfToday()
	from, until := start.UnixMilli(), start.AddDate(0, 0, 1).UnixMilli()

	snap, err := s.tree.Read(ctx, booking.Collection)
	if err != nil {
		return TodayStats{}, err
	}
	stats := TodayStats{AverageRating: NoRating}
	for _, b := range booking.DecodeAll(snap, s.skipBooking) {
		if b.Status != booking.StatusCompleted || !b.BelongsTo(d.DriverID, d.RFIDUID) {
			continue
		}
		if t := b.EffectiveTime(); t < from || t >= until {
			continue
		}
		stats.TripCount++
		stats.Earnings += b.EffectiveFare()
	}

	snap, err = s.tree.Read(ctx, rating.Collection)
	if err != nil {
		return TodayStats{}, err
	}
	sum, n := 0, 0
	for _, c := range snap.Children() {
		r, ok := rating.Decode(c.Key, c.Value)
		if !ok || r.Timestamp < from || r.RatedBy != rating.RatedByCustomer || r.Stars <= 0 {
			continue
		}
		if (d.DriverID != "" && r.DriverID == d.DriverID) || (d.RFIDUID != "" && r.DriverRFID == d.RFIDUID) {
			sum += r.Stars
			n++
		}
	}
	if n > 0 {
		stats.AverageRating = float64(sum) / float64(n)
	}
	return stats, nil
}

func (s *Service) skipBooking(key string, err error) {
	observability.DecodeFailures.WithLabelValues("booking").Inc()
	s.log.WithError(err).WithField("booking_id", key).Warn("skipping malformed booking")
}

