// README: Matcher tests: arrival ordering, claim safety and concurrent matching.
package queue

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"toda/internal/logging"
	"toda/internal/modules/booking"
	"toda/internal/store"
	"toda/internal/types"
)

var manila = time.FixedZone("PHT", 8*3600)

type rfidDirectory map[string]string

func (d rfidDirectory) ResolveDriverID(_ context.Context, rfid string) (string, bool, error) {
	id, ok := d[rfid]
	return id, ok, nil
}

type fixture struct {
	tree     *store.Memory
	bookings *booking.Service
	matcher  *Matcher
}

func newFixture(t *testing.T, drivers rfidDirectory) *fixture {
	t.Helper()
	tree := store.NewMemory()
	bookings := booking.NewService(tree, booking.Deps{}, logging.Discard())
	return &fixture{
		tree:     tree,
		bookings: bookings,
		matcher:  NewMatcher(tree, bookings, drivers, manila, logging.Discard()),
	}
}

func (f *fixture) book(t *testing.T) types.ID {
	t.Helper()
	id, err := f.bookings.Create(context.Background(), booking.CreateCommand{
		CustomerID:     "c1",
		PickupLocation: "Barangay Hall",
		Destination:    "Public Market",
		EstimatedFare:  30,
	})
	if err != nil {
		t.Fatalf("create booking: %v", err)
	}
	return id
}

func (f *fixture) enqueue(t *testing.T, key string, entry map[string]any) {
	t.Helper()
	if err := f.tree.Write(context.Background(), entryPath(key), entry); err != nil {
		t.Fatalf("write entry %s: %v", key, err)
	}
}

func (f *fixture) entryExists(t *testing.T, key string) bool {
	t.Helper()
	snap, err := f.tree.Read(context.Background(), entryPath(key))
	if err != nil {
		t.Fatalf("read entry: %v", err)
	}
	return snap.Exists()
}

// ---- ordering ----

func TestArrivalTimeEncodings(t *testing.T) {
	date := time.Date(2026, 3, 2, 8, 15, 0, 0, manila)
	cases := []struct {
		name string
		key  string
		rec  map[string]any
		want int64
	}{
		{"queueTime seconds string", "k", map[string]any{"queueTime": "1772410500"}, 1772410500000},
		{"queueTime seconds number", "k", map[string]any{"queueTime": 1772410500.0}, 1772410500000},
		{"formatted date in local zone", "k", map[string]any{"timestamp": "2026-03-02 08:15:00"}, date.UnixMilli()},
		{"millis string", "k", map[string]any{"timestamp": "1772410500123"}, 1772410500123},
		{"millis number", "k", map[string]any{"timestamp": 1772410500123.0}, 1772410500123},
		{"numeric key", "1772410500999", map[string]any{}, 1772410500999},
		{"nothing parses", "-Nabc", map[string]any{"timestamp": "yesterday"}, 1<<63 - 1},
	}
	for _, tc := range cases {
		if got := arrivalTime(tc.key, store.Fields(tc.rec), manila); got != tc.want {
			t.Errorf("%s: got %d, want %d", tc.name, got, tc.want)
		}
	}
}

func TestEarliestWinsAcrossEncodings(t *testing.T) {
	f := newFixture(t, rfidDirectory{})
	base := time.Date(2026, 3, 2, 8, 0, 0, 0, manila)

	// Key order disagrees with arrival order on purpose.
	f.enqueue(t, "a", map[string]any{"driverRFID": "RF-A", "status": "waiting", "queueTime": itoa(base.Add(3 * time.Minute).Unix())})
	f.enqueue(t, "b", map[string]any{"driverRFID": "RF-B", "status": "waiting", "timestamp": base.Add(time.Minute).Format(queueDateLayout)})
	f.enqueue(t, "c", map[string]any{"driverRFID": "RF-C", "status": "waiting", "timestamp": base.Add(2 * time.Minute).UnixMilli()})
	f.enqueue(t, "d", map[string]any{"driverRFID": "RF-D", "status": "waiting", "claimed": true, "queueTime": itoa(base.Unix())})
	f.enqueue(t, "e", map[string]any{"driverRFID": "", "status": "waiting", "queueTime": itoa(base.Unix())})
	f.enqueue(t, "g", map[string]any{"driverRFID": "RF-G", "status": "left", "queueTime": itoa(base.Unix())})

	best, ok, err := f.matcher.earliest(context.Background())
	if err != nil || !ok {
		t.Fatalf("earliest: ok=%v err=%v", ok, err)
	}
	if best.Key != "b" {
		t.Fatalf("expected entry b to win, got %s", best.Key)
	}
}

func TestEarliestTieGoesToFirstKey(t *testing.T) {
	f := newFixture(t, rfidDirectory{})
	f.enqueue(t, "q2", map[string]any{"driverRFID": "RF-2", "status": "waiting", "queueTime": "1772410500"})
	f.enqueue(t, "q1", map[string]any{"driverRFID": "RF-1", "status": "WAITING", "queueTime": "1772410500"})

	best, ok, _ := f.matcher.earliest(context.Background())
	if !ok || best.Key != "q1" {
		t.Fatalf("expected q1 on a tie, got %+v", best)
	}
}

// ---- matching ----

func TestMatchAssignsEarliestAndRemovesEntry(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, rfidDirectory{"RF-1": "d1", "RF-2": "d2"})
	b1 := f.book(t)
	f.enqueue(t, "q1", map[string]any{"driverRFID": "RF-1", "driverName": "Ben", "todaNumber": "12", "status": "waiting", "claimed": false, "queueTime": "1772410500"})
	f.enqueue(t, "q2", map[string]any{"driverRFID": "RF-2", "driverName": "Cora", "todaNumber": "7", "status": "waiting", "claimed": false, "queueTime": "1772410560"})

	res, err := f.matcher.MatchBookingToFirstDriver(ctx, b1)
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	if !res.OK() || res.EntryKey != "q1" || res.DriverID != "d1" {
		t.Fatalf("unexpected result: %+v", res)
	}

	b, _ := f.bookings.Get(ctx, b1)
	if b.Status != booking.StatusAccepted || b.DriverRFID != "RF-1" || b.AssignedDriverID != "d1" || b.DriverName != "Ben" || b.TodaNumber != "12" {
		t.Fatalf("booking not assigned: %+v", b)
	}
	idx, _ := f.tree.Read(ctx, booking.IndexPath(b1))
	if idx.Fields().String("status") != string(booking.StatusAccepted) {
		t.Fatalf("index status not mirrored: %v", idx.Value)
	}
	if f.entryExists(t, "q1") {
		t.Fatalf("matched entry q1 still queued")
	}
	if !f.entryExists(t, "q2") {
		t.Fatalf("q2 must stay queued")
	}

	// Matching again is a no-op.
	res, err = f.matcher.MatchBookingToFirstDriver(ctx, b1)
	if err != nil || res.Outcome != BookingNotPending {
		t.Fatalf("rematch of accepted booking: %+v %v", res, err)
	}
	if !f.entryExists(t, "q2") {
		t.Fatalf("q2 consumed by a no-op match")
	}
}

func TestMatchWithEmptyQueue(t *testing.T) {
	f := newFixture(t, rfidDirectory{})
	id := f.book(t)
	res, err := f.matcher.MatchBookingToFirstDriver(context.Background(), id)
	if err != nil || res.Outcome != NoEligibleDriver {
		t.Fatalf("expected no eligible driver, got %+v %v", res, err)
	}
	if st, _ := f.bookings.Status(context.Background(), id); st != booking.StatusPending {
		t.Fatalf("booking must stay PENDING, got %s", st)
	}
}

func TestUnresolvedRFIDStillMatches(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, rfidDirectory{})
	id := f.book(t)
	f.enqueue(t, "q1", map[string]any{"driverRFID": "RF-X", "status": "waiting", "queueTime": "1772410500"})

	res, err := f.matcher.MatchBookingToFirstDriver(ctx, id)
	if err != nil || !res.OK() {
		t.Fatalf("match: %+v %v", res, err)
	}
	b, _ := f.bookings.Get(ctx, id)
	if b.Status != booking.StatusAccepted || b.DriverRFID != "RF-X" || b.AssignedDriverID != "" {
		t.Fatalf("expected rfid-only acceptance, got %+v", b)
	}
}

func TestBookingCancelledDuringClaimReleasesEntry(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, rfidDirectory{"RF-1": "d1"})
	id := f.book(t)
	f.enqueue(t, "q1", map[string]any{"driverRFID": "RF-1", "status": "waiting", "claimed": false, "queueTime": "1772410500"})

	f.matcher.afterClaim = func(string) {
		if err := f.bookings.Cancel(ctx, id, "customer", "c1"); err != nil {
			t.Errorf("cancel: %v", err)
		}
	}
	res, err := f.matcher.MatchBookingToFirstDriver(ctx, id)
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	if res.Outcome != BookingNotPending {
		t.Fatalf("expected booking_not_pending, got %s", res.Outcome)
	}

	snap, _ := f.tree.Read(ctx, entryPath("q1"))
	if !snap.Exists() || snap.Fields().Flag("claimed") {
		t.Fatalf("entry must be released and still queued: %v", snap.Value)
	}
	b, _ := f.bookings.Get(ctx, id)
	if b.Status != booking.StatusCancelled || b.DriverRFID != "" {
		t.Fatalf("cancelled booking was touched: %+v", b)
	}
}

func TestClaimNeverRecreatesVanishedEntry(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, rfidDirectory{})
	ok, err := f.matcher.claim(ctx, "ghost")
	if err != nil || ok {
		t.Fatalf("claim of missing entry: ok=%v err=%v", ok, err)
	}
	if f.entryExists(t, "ghost") {
		t.Fatalf("claim created a ghost entry")
	}
}

func TestConcurrentMatchesClaimEntryOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, rfidDirectory{"RF-1": "d1"})
	f.enqueue(t, "q1", map[string]any{"driverRFID": "RF-1", "status": "waiting", "claimed": false, "queueTime": "1772410500"})

	const n = 8
	ids := make([]types.ID, n)
	for i := range ids {
		ids[i] = f.book(t)
	}

	var wg sync.WaitGroup
	start := make(chan struct{})
	results := make([]MatchResult, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			results[i], errs[i] = f.matcher.MatchBookingToFirstDriver(ctx, ids[i])
		}(i)
	}
	close(start)
	wg.Wait()

	matched := 0
	for i, res := range results {
		if errs[i] != nil {
			t.Fatalf("match %d: %v", i, errs[i])
		}
		if res.OK() {
			matched++
		}
	}
	if matched != 1 {
		t.Fatalf("expected exactly one match, got %d", matched)
	}

	accepted := 0
	for _, id := range ids {
		st, _ := f.bookings.Status(ctx, id)
		if st == booking.StatusAccepted {
			accepted++
		}
	}
	if accepted != 1 {
		t.Fatalf("expected exactly one accepted booking, got %d", accepted)
	}
	if f.entryExists(t, "q1") {
		t.Fatalf("matched entry still queued")
	}
}

// slowTree delays every multi-path update so racing writers overlap.
type slowTree struct {
	*store.Memory
	delay time.Duration
}

func (s slowTree) Update(ctx context.Context, values map[string]any) error {
	time.Sleep(s.delay)
	return s.Memory.Update(ctx, values)
}

// roster maps driver id to RFID; every driver passes the availability gate.
type roster map[string]string

func (r roster) ResolveDriverID(_ context.Context, rfid string) (string, bool, error) {
	for id, rf := range r {
		if rf == rfid {
			return id, true, nil
		}
	}
	return "", false, nil
}

func (r roster) Assignee(_ context.Context, driverID string) (booking.Assignment, error) {
	rfid, ok := r[driverID]
	if !ok {
		return booking.Assignment{}, errors.New("unknown driver")
	}
	return booking.Assignment{DriverID: driverID, DriverRFID: rfid, DriverName: "Driver " + driverID}, nil
}

func (r roster) CanReceiveBookings(context.Context, string) (bool, error) { return true, nil }

func TestMatchRacingManualAcceptKeepsOneDriver(t *testing.T) {
	ctx := context.Background()
	drivers := roster{"d1": "RF-1", "d2": "RF-2"}

	for round := 0; round < 20; round++ {
		tree := slowTree{Memory: store.NewMemory(), delay: 2 * time.Millisecond}
		bookings := booking.NewService(tree, booking.Deps{Drivers: drivers}, logging.Discard())
		matcher := NewMatcher(tree, bookings, drivers, manila, logging.Discard())
		id, err := bookings.Create(ctx, booking.CreateCommand{CustomerID: "c1", PickupLocation: "Barangay Hall", Destination: "Public Market"})
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		if err := tree.Write(ctx, entryPath("q1"), map[string]any{"driverRFID": "RF-1", "driverName": "Ben", "status": "waiting", "claimed": false, "queueTime": "1772410500"}); err != nil {
			t.Fatalf("enqueue: %v", err)
		}

		var (
			wg        sync.WaitGroup
			res       MatchResult
			matchErr  error
			acceptErr error
		)
		start := make(chan struct{})
		wg.Add(2)
		go func() {
			defer wg.Done()
			<-start
			res, matchErr = matcher.MatchBookingToFirstDriver(ctx, id)
		}()
		go func() {
			defer wg.Done()
			<-start
			acceptErr = bookings.UpdateStatus(ctx, booking.UpdateStatusCommand{BookingID: id, Status: booking.StatusAccepted, DriverID: "d2"})
		}()
		close(start)
		wg.Wait()

		if matchErr != nil {
			t.Fatalf("round %d: match: %v", round, matchErr)
		}
		if res.OK() == (acceptErr == nil) {
			t.Fatalf("round %d: match %s, manual accept err %v; exactly one must win", round, res.Outcome, acceptErr)
		}
		want := "d2"
		if res.OK() {
			want = "d1"
		} else if res.Outcome != BookingNotPending {
			t.Fatalf("round %d: losing match reported %s", round, res.Outcome)
		}
		if acceptErr != nil && !errors.Is(acceptErr, booking.ErrInvalidState) {
			t.Fatalf("round %d: losing accept: %v", round, acceptErr)
		}

		b, _ := bookings.Get(ctx, id)
		if b.Status != booking.StatusAccepted || b.AssignedDriverID != want || b.DriverRFID != drivers[want] {
			t.Fatalf("round %d: mixed assignment: driver=%s rfid=%s status=%s", round, b.AssignedDriverID, b.DriverRFID, b.Status)
		}
		idx, _ := tree.Read(ctx, booking.IndexPath(id))
		if idx.Fields().String("driverRFID") != drivers[want] || idx.Fields().String("status") != string(booking.StatusAccepted) {
			t.Fatalf("round %d: index diverged: %v", round, idx.Value)
		}
		entry, _ := tree.Read(ctx, entryPath("q1"))
		if res.OK() == entry.Exists() {
			t.Fatalf("round %d: entry presence %v after match %s", round, entry.Exists(), res.Outcome)
		}
		if entry.Exists() && entry.Fields().Flag("claimed") {
			t.Fatalf("round %d: losing match left the entry claimed", round)
		}
	}
}

func itoa(n int64) string { return strconv.FormatInt(n, 10) }
