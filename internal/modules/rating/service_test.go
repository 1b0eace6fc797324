package rating

import (
	"context"
	"errors"
	"sync"
	"testing"

	"toda/internal/logging"
	"toda/internal/modules/booking"
	"toda/internal/store"
	"toda/internal/types"
)

func completed(id types.ID) booking.Booking {
	return booking.Booking{ID: id, CustomerID: "c1", AssignedDriverID: "d1", DriverRFID: "RF-1", Status: booking.StatusCompleted}
}

func countRatings(t *testing.T, tree store.Tree) int {
	t.Helper()
	snap, err := tree.Read(context.Background(), Collection)
	if err != nil {
		t.Fatalf("read ratings: %v", err)
	}
	return len(snap.Children())
}

func TestSeedIsIdempotent(t *testing.T) {
	ctx := context.Background()
	tree := store.NewMemory()
	svc := NewService(tree, logging.Discard())
	b := completed("b1")

	for i := 0; i < 3; i++ {
		if err := svc.Seed(ctx, b); err != nil {
			t.Fatalf("seed %d: %v", i, err)
		}
	}
	if n := countRatings(t, tree); n != 1 {
		t.Fatalf("expected one rating, got %d", n)
	}
	r, err := svc.Find(ctx, b.ID)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if r.Stars != 0 || r.RatedBy != RatedByCustomer || r.DriverRFID != "RF-1" || r.DriverID != "d1" {
		t.Fatalf("unexpected seed: %+v", r)
	}
}

func TestConcurrentSeedsCreateOneRating(t *testing.T) {
	ctx := context.Background()
	tree := store.NewMemory()
	svc := NewService(tree, logging.Discard())
	b := completed("b2")

	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if err := svc.Seed(ctx, b); err != nil {
				t.Errorf("seed: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	if n := countRatings(t, tree); n != 1 {
		t.Fatalf("expected one rating, got %d", n)
	}
}

func TestSeedSkipsLegacyPushKeyRating(t *testing.T) {
	ctx := context.Background()
	tree := store.NewMemory()
	svc := NewService(tree, logging.Discard())
	b := completed("b3")
	if _, err := tree.Push(ctx, Collection, map[string]any{"bookingId": string(b.ID), "stars": "0", "ratedBy": "CUSTOMER"}); err != nil {
		t.Fatalf("push: %v", err)
	}
	if err := svc.Seed(ctx, b); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if n := countRatings(t, tree); n != 1 {
		t.Fatalf("legacy rating duplicated: %d records", n)
	}
}

func TestSubmitOnce(t *testing.T) {
	ctx := context.Background()
	tree := store.NewMemory()
	svc := NewService(tree, logging.Discard())
	b := completed("b4")
	if err := tree.Write(ctx, booking.Path(b.ID), map[string]any{"status": "COMPLETED", "customerId": "c1"}); err != nil {
		t.Fatalf("seed booking: %v", err)
	}
	_ = svc.Seed(ctx, b)

	if _, err := svc.Submit(ctx, SubmitCommand{BookingID: b.ID, CustomerID: "c2", Stars: 5}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if _, err := svc.Submit(ctx, SubmitCommand{BookingID: b.ID, CustomerID: "c1", Stars: 6}); !errors.Is(err, ErrBadRequest) {
		t.Fatalf("expected ErrBadRequest, got %v", err)
	}

	r, err := svc.Submit(ctx, SubmitCommand{BookingID: b.ID, CustomerID: "c1", Stars: 4, Feedback: "smooth ride"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if r.Stars != 4 || !r.Rated() {
		t.Fatalf("unexpected rating: %+v", r)
	}
	bk, _ := tree.Read(ctx, booking.Path(b.ID))
	if stars, _ := bk.Fields().Int64("rating"); stars != 4 || bk.Fields().String("feedback") != "smooth ride" {
		t.Fatalf("booking not updated: %v", bk.Value)
	}

	if _, err := svc.Submit(ctx, SubmitCommand{BookingID: b.ID, CustomerID: "c1", Stars: 1}); !errors.Is(err, ErrAlreadyRated) {
		t.Fatalf("expected ErrAlreadyRated, got %v", err)
	}
	if _, err := svc.Submit(ctx, SubmitCommand{BookingID: "missing", CustomerID: "c1", Stars: 3}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCompletedBookingSeedsThroughBookingService(t *testing.T) {
	ctx := context.Background()
	tree := store.NewMemory()
	ratings := NewService(tree, logging.Discard())
	bookings := booking.NewService(tree, booking.Deps{Ratings: ratings}, logging.Discard())

	id, err := bookings.Create(ctx, booking.CreateCommand{CustomerID: "c1", PickupLocation: "Hall", Destination: "Market"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := bookings.Assign(ctx, booking.Assignment{BookingID: id, DriverID: "d1", DriverRFID: "RF-1"}); err != nil {
		t.Fatalf("assign: %v", err)
	}
	for _, st := range []booking.Status{booking.StatusInProgress, booking.StatusCompleted} {
		if err := bookings.UpdateStatus(ctx, booking.UpdateStatusCommand{BookingID: id, Status: st, DriverID: "d1"}); err != nil {
			t.Fatalf("%s: %v", st, err)
		}
	}
	r, err := ratings.Find(ctx, id)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if r.BookingID != id || r.DriverID != "d1" || r.Rated() {
		t.Fatalf("unexpected seeded rating: %+v", r)
	}
}
