package driver

import (
	"context"
	"testing"
	"time"
)

func TestTodayStats(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 2, 18, 0, 0, 0, pht)
	midnight := StartOfDay(now, pht)
	svc, tree, _ := newDriverService(t, now)
	seedDriver(t, tree, "d1", "RF-1")

	at := func(d time.Duration) int64 { return midnight.Add(d).UnixMilli() }
	bookings := map[string]any{
		// Counted: matched by rfid, metered fare wins.
		"b1": map[string]any{"status": "COMPLETED", "driverRFID": "RF-1", "estimatedFare": 30, "actualFare": 35, "timestamp": at(8 * time.Hour), "completionTime": at(9 * time.Hour)},
		// Counted: matched by driver id, legacy string fare.
		"b2": map[string]any{"status": "COMPLETED", "assignedDriverId": "d1", "estimatedFare": "25", "timestamp": at(10 * time.Hour)},
		// Created yesterday but completed today.
		"b3": map[string]any{"status": "COMPLETED", "driverRFID": "RF-1", "estimatedFare": 20, "timestamp": at(-time.Hour), "completionTime": at(time.Minute)},
		// Completed yesterday.
		"b4": map[string]any{"status": "COMPLETED", "driverRFID": "RF-1", "estimatedFare": 99, "timestamp": at(-3 * time.Hour), "completionTime": at(-2 * time.Hour)},
		// Not completed.
		"b5": map[string]any{"status": "IN_PROGRESS", "driverRFID": "RF-1", "estimatedFare": 99, "timestamp": at(11 * time.Hour)},
		// Another driver.
		"b6": map[string]any{"status": "COMPLETED", "driverRFID": "RF-2", "estimatedFare": 99, "timestamp": at(11 * time.Hour)},
		"b7": "garbage",
	}
	if err := tree.Write(ctx, "bookings", bookings); err != nil {
		t.Fatalf("seed bookings: %v", err)
	}

	stats, err := svc.TodayStats(ctx, "d1")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.TripCount != 3 || stats.Earnings != 80 {
		t.Fatalf("unexpected trips/earnings: %+v", stats)
	}
	if stats.AverageRating != NoRating {
		t.Fatalf("expected no-rating sentinel, got %v", stats.AverageRating)
	}

	ratings := map[string]any{
		"b1": map[string]any{"bookingId": "b1", "driverRFID": "RF-1", "stars": 5, "ratedBy": "CUSTOMER", "timestamp": at(9 * time.Hour)},
		"b2": map[string]any{"bookingId": "b2", "driverId": "d1", "stars": "4", "ratedBy": "CUSTOMER", "timestamp": at(11 * time.Hour)},
		// Seeded but not yet rated.
		"b3": map[string]any{"bookingId": "b3", "driverRFID": "RF-1", "stars": 0, "ratedBy": "CUSTOMER", "timestamp": at(time.Minute)},
		// Yesterday.
		"b4": map[string]any{"bookingId": "b4", "driverRFID": "RF-1", "stars": 1, "ratedBy": "CUSTOMER", "timestamp": at(-2 * time.Hour)},
		// Rated by the driver.
		"x1": map[string]any{"bookingId": "x1", "driverRFID": "RF-1", "stars": 1, "ratedBy": "DRIVER", "timestamp": at(12 * time.Hour)},
	}
	if err := tree.Write(ctx, "ratings", ratings); err != nil {
		t.Fatalf("seed ratings: %v", err)
	}
	stats, _ = svc.TodayStats(ctx, "d1")
	if stats.AverageRating != 4.5 {
		t.Fatalf("expected average 4.5, got %v", stats.AverageRating)
	}
}
