package booking

import (
	"errors"
	"testing"

	"toda/internal/store"
)

func TestDecodeAcceptsLegacyStringNumbers(t *testing.T) {
	raw := map[string]any{
		"customerId":      "c1",
		"status":          "completed",
		"estimatedFare":   "40",
		"actualFare":      45.0,
		"distance":        " 2.5 ",
		"timestamp":       "1718000000123",
		"completionTime":  1718000900000.0,
		"arrivedAtPickup": "true",
		"pickupGeoPoint":  map[string]any{"latitude": "14.6", "longitude": 121.0},
	}
	b, err := Decode("b1", raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if b.Status != StatusCompleted {
		t.Fatalf("status = %s", b.Status)
	}
	if b.EstimatedFare != 40 || b.ActualFare != 45 || b.Distance != 2.5 {
		t.Fatalf("fares = %v/%v distance %v", b.EstimatedFare, b.ActualFare, b.Distance)
	}
	if b.Timestamp != 1718000000123 || b.CompletionTime != 1718000900000 {
		t.Fatalf("timestamps = %d/%d", b.Timestamp, b.CompletionTime)
	}
	if !b.ArrivedAtPickup || b.PickupGeoPoint.Lat != 14.6 || b.PickupGeoPoint.Lng != 121 {
		t.Fatalf("flags/geo wrong: %+v", b)
	}
	if b.EffectiveFare() != 45 || b.EffectiveTime() != 1718000900000 {
		t.Fatalf("effective fare/time wrong")
	}
}

func TestDecodeFallsBackOnGarbledNumbers(t *testing.T) {
	b, err := Decode("b1", map[string]any{"status": "PENDING", "estimatedFare": "forty"})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if b.EstimatedFare != 0 {
		t.Fatalf("expected garbled fare to default to 0, got %v", b.EstimatedFare)
	}
}

func TestDecodeRejectsMalformed(t *testing.T) {
	cases := map[string]any{
		"not an object":  "PENDING",
		"missing status": map[string]any{"customerId": "c1"},
		"unknown status": map[string]any{"status": "DRIVING"},
	}
	for name, raw := range cases {
		if _, err := Decode("b1", raw); !errors.Is(err, ErrMalformed) {
			t.Errorf("%s: expected ErrMalformed, got %v", name, err)
		}
	}
}

func TestDecodeAllSkipsBadChildren(t *testing.T) {
	snap := store.Snapshot{Value: map[string]any{
		"a": map[string]any{"status": "PENDING"},
		"b": "garbage",
		"c": map[string]any{"status": "ACCEPTED"},
	}}
	var skipped []string
	list := DecodeAll(snap, func(key string, err error) { skipped = append(skipped, key) })
	if len(list) != 2 || len(skipped) != 1 || skipped[0] != "b" {
		t.Fatalf("decoded %d, skipped %v", len(list), skipped)
	}
}

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to Status
		want     bool
	}{
		{StatusPending, StatusAccepted, true},
		{StatusPending, StatusCancelled, true},
		{StatusPending, StatusInProgress, false},
		{StatusAccepted, StatusInProgress, true},
		{StatusAccepted, StatusNoShow, true},
		{StatusAccepted, StatusCancelled, true},
		{StatusInProgress, StatusCompleted, true},
		{StatusInProgress, StatusCancelled, true},
		{StatusInProgress, StatusNoShow, false},
		{StatusCompleted, StatusPending, false},
		{StatusNoShow, StatusAccepted, false},
		{StatusCancelled, StatusPending, false},
	}
	for _, tc := range cases {
		if got := CanTransition(tc.from, tc.to); got != tc.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}
