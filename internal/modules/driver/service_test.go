// README: Driver ledger tests: contribution gate, RFID lifecycle and registration.
package driver

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"toda/internal/logging"
	"toda/internal/notify"
	"toda/internal/store"
)

var pht = time.FixedZone("PHT", 8*3600)

type mapCache struct {
	mu   sync.Mutex
	m    map[string]string
	gets int
}

func (c *mapCache) Get(_ context.Context, rfid string) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gets++
	id, ok := c.m[rfid]
	return id, ok, nil
}

func (c *mapCache) Set(_ context.Context, rfid, driverID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.m == nil {
		c.m = map[string]string{}
	}
	c.m[rfid] = driverID
	return nil
}

func (c *mapCache) Delete(_ context.Context, rfid string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.m, rfid)
	return nil
}

func newDriverService(t *testing.T, now time.Time) (*Service, *store.Memory, *notify.Recorder) {
	t.Helper()
	tree := store.NewMemory()
	rec := &notify.Recorder{}
	svc := NewService(tree, nil, rec, pht, logging.Discard())
	svc.now = func() time.Time { return now }
	return svc, tree, rec
}

func seedDriver(t *testing.T, tree store.Tree, id, rfid string) {
	t.Helper()
	ctx := context.Background()
	err := tree.Update(ctx, map[string]any{
		driverPath(id): map[string]any{
			"driverId":   id,
			"driverName": "Driver " + id,
			"rfidUID":    rfid,
			"todaNumber": "12",
			"isActive":   true,
		},
	})
	if err != nil {
		t.Fatalf("seed driver: %v", err)
	}
	if rfid != "" {
		if err := tree.Write(ctx, store.Join(RFIDIndex, rfid), id); err != nil {
			t.Fatalf("seed index: %v", err)
		}
	}
}

// ---- contribution gate ----

func TestContributionGateResetsAtLocalMidnight(t *testing.T) {
	ctx := context.Background()
	midnight := time.Date(2026, 3, 2, 0, 0, 0, 0, pht)
	svc, tree, _ := newDriverService(t, midnight.Add(time.Second))
	seedDriver(t, tree, "d1", "RF-1")

	// A contribution from 23:59 yesterday does not count.
	if err := tree.Write(ctx, store.Join(ContributionCollection, "c-old"), map[string]any{
		"driverId":  "d1",
		"amount":    5,
		"timestamp": midnight.Add(-time.Minute).UnixMilli(),
	}); err != nil {
		t.Fatalf("seed contribution: %v", err)
	}
	ok, err := svc.CanReceiveBookings(ctx, "d1")
	if err != nil || ok {
		t.Fatalf("yesterday's contribution opened the gate: ok=%v err=%v", ok, err)
	}

	if _, err := svc.RecordCoinInsertion(ctx, CoinCommand{RFID: "RF-1", Amount: 5, DeviceID: "box-1"}); err != nil {
		t.Fatalf("coin: %v", err)
	}
	ok, err = svc.CanReceiveBookings(ctx, "d1")
	if err != nil || !ok {
		t.Fatalf("today's contribution must open the gate: ok=%v err=%v", ok, err)
	}
}

func TestGateRequiresRFID(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, pht)
	svc, tree, _ := newDriverService(t, now)
	seedDriver(t, tree, "d1", "")
	_ = tree.Write(ctx, store.Join(ContributionCollection, "c1"), map[string]any{"driverId": "d1", "timestamp": now.UnixMilli()})

	if ok, _ := svc.CanReceiveBookings(ctx, "d1"); ok {
		t.Fatalf("driver without rfid must not receive bookings")
	}
}

func TestAssigneeCarriesDriverIdentity(t *testing.T) {
	ctx := context.Background()
	svc, tree, _ := newDriverService(t, time.Date(2026, 3, 2, 9, 0, 0, 0, pht))
	seedDriver(t, tree, "d1", "RF-1")

	a, err := svc.Assignee(ctx, "d1")
	if err != nil {
		t.Fatalf("assignee: %v", err)
	}
	if a.DriverID != "d1" || a.DriverRFID != "RF-1" || a.DriverName != "Driver d1" || a.TodaNumber != "12" {
		t.Fatalf("unexpected assignee: %+v", a)
	}
	if _, err := svc.Assignee(ctx, "ghost"); !errors.Is(err, ErrDriverNotFound) {
		t.Fatalf("expected ErrDriverNotFound, got %v", err)
	}
}

func TestRecordCoinInsertionWritesLedgerAndFlags(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 2, 7, 30, 0, 0, pht)
	svc, tree, rec := newDriverService(t, now)
	seedDriver(t, tree, "d1", "RF-1")

	c, err := svc.RecordCoinInsertion(ctx, CoinCommand{RFID: "RF-1", Amount: 10, DeviceID: "box-1"})
	if err != nil {
		t.Fatalf("coin: %v", err)
	}
	if c.Date != "2026-03-02" || c.DriverID != "d1" || c.Timestamp != now.UnixMilli() {
		t.Fatalf("unexpected contribution: %+v", c)
	}
	d, _ := svc.Get(ctx, "d1")
	if !d.CanReceiveBookings || !d.ContributionToday || d.LastContributionAt != now.UnixMilli() {
		t.Fatalf("driver flags not set: %+v", d)
	}
	events, _ := tree.Read(ctx, StatusEventCollection)
	if len(events.Children()) != 1 || events.Children()[0].Fields().String("type") != "CONTRIBUTION_RECORDED" {
		t.Fatalf("expected one status event, got %v", events.Value)
	}
	if ev := rec.Events(); len(ev) != 1 || ev[0].Type != notify.DriverStatusChanged {
		t.Fatalf("expected driver status event, got %+v", ev)
	}
}

func TestRecordCoinInsertionErrors(t *testing.T) {
	svc, _, _ := newDriverService(t, time.Now())
	if _, err := svc.RecordCoinInsertion(context.Background(), CoinCommand{RFID: "RF-1", Amount: 0}); !errors.Is(err, ErrBadRequest) {
		t.Fatalf("expected ErrBadRequest, got %v", err)
	}
	if _, err := svc.RecordCoinInsertion(context.Background(), CoinCommand{RFID: "RF-404", Amount: 5}); !errors.Is(err, ErrDriverNotFound) {
		t.Fatalf("expected ErrDriverNotFound, got %v", err)
	}
}

func TestResetStaleClosesYesterdaysGates(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 2, 0, 5, 0, 0, pht)
	svc, tree, _ := newDriverService(t, now)
	seedDriver(t, tree, "stale", "RF-1")
	seedDriver(t, tree, "fresh", "RF-2")
	_ = tree.Update(ctx, map[string]any{
		store.Join(driverPath("stale"), "canReceiveBookings"): true,
		store.Join(driverPath("stale"), "contributionToday"):  true,
		store.Join(driverPath("stale"), "lastContributionAt"): now.Add(-time.Hour).UnixMilli(),
		store.Join(driverPath("fresh"), "canReceiveBookings"): true,
		store.Join(driverPath("fresh"), "contributionToday"):  true,
		store.Join(driverPath("fresh"), "lastContributionAt"): now.Add(-time.Minute).UnixMilli(),
	})

	n, err := svc.ResetStale(ctx)
	if err != nil || n != 1 {
		t.Fatalf("reset: n=%d err=%v", n, err)
	}
	stale, _ := svc.Get(ctx, "stale")
	fresh, _ := svc.Get(ctx, "fresh")
	if stale.CanReceiveBookings || stale.ContributionToday {
		t.Fatalf("stale driver not reset: %+v", stale)
	}
	if !fresh.CanReceiveBookings {
		t.Fatalf("fresh driver reset: %+v", fresh)
	}
	if n, _ := svc.ResetStale(ctx); n != 0 {
		t.Fatalf("second reset touched %d drivers", n)
	}
}

// ---- rfid ----

func TestResolveDriverIDFallbacks(t *testing.T) {
	ctx := context.Background()
	tree := store.NewMemory()
	cache := &mapCache{}
	svc := NewService(tree, cache, nil, pht, logging.Discard())

	seedDriver(t, tree, "d1", "RF-1")
	// Legacy driver without an index entry.
	_ = tree.Write(ctx, driverPath("d2"), map[string]any{"driverId": "d2", "rfidUID": "RF-2"})

	for rfid, want := range map[string]string{"RF-1": "d1", "RF-2": "d2"} {
		id, ok, err := svc.ResolveDriverID(ctx, rfid)
		if err != nil || !ok || id != want {
			t.Fatalf("resolve %s: id=%q ok=%v err=%v", rfid, id, ok, err)
		}
	}
	if cache.m["RF-2"] != "d2" {
		t.Fatalf("resolution not cached: %v", cache.m)
	}
	if _, ok, _ := svc.ResolveDriverID(ctx, "RF-404"); ok {
		t.Fatalf("unknown rfid resolved")
	}
}

func TestAssignRFIDClaimsIndexOnce(t *testing.T) {
	ctx := context.Background()
	svc, tree, _ := newDriverService(t, time.Now())
	seedDriver(t, tree, "d1", "")
	seedDriver(t, tree, "d2", "")

	if err := svc.AssignRFID(ctx, "d1", "RF-9"); err != nil {
		t.Fatalf("assign: %v", err)
	}
	if err := svc.AssignRFID(ctx, "d2", "RF-9"); !errors.Is(err, ErrRFIDInUse) {
		t.Fatalf("expected ErrRFIDInUse, got %v", err)
	}
	d, _ := svc.Get(ctx, "d1")
	if d.RFIDUID != "RF-9" || d.NeedsRFIDAssignment {
		t.Fatalf("rfid not assigned: %+v", d)
	}

	// Reassigning moves the index entry.
	if err := svc.AssignRFID(ctx, "d1", "RF-10"); err != nil {
		t.Fatalf("reassign: %v", err)
	}
	old, _ := tree.Read(ctx, store.Join(RFIDIndex, "RF-9"))
	if old.Exists() {
		t.Fatalf("old index entry kept: %v", old.Value)
	}
	hist, _ := tree.Read(ctx, store.Join(driverPath("d1"), "rfidHistory"))
	if len(hist.Children()) != 2 {
		t.Fatalf("expected two history entries, got %v", hist.Value)
	}
}

func TestConcurrentAssignRFIDSingleWinner(t *testing.T) {
	ctx := context.Background()
	svc, tree, _ := newDriverService(t, time.Now())
	ids := []string{"d1", "d2", "d3", "d4"}
	for _, id := range ids {
		seedDriver(t, tree, id, "")
	}

	var wg sync.WaitGroup
	start := make(chan struct{})
	errs := make([]error, len(ids))
	for i, id := range ids {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			<-start
			errs[i] = svc.AssignRFID(ctx, id, "RF-shared")
		}(i, id)
	}
	close(start)
	wg.Wait()

	wins := 0
	for _, err := range errs {
		switch {
		case err == nil:
			wins++
		case !errors.Is(err, ErrRFIDInUse):
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if wins != 1 {
		t.Fatalf("expected one winner, got %d", wins)
	}
}

func TestReportMissingRFID(t *testing.T) {
	ctx := context.Background()
	svc, tree, rec := newDriverService(t, time.Now())
	seedDriver(t, tree, "d1", "RF-1")
	_ = tree.Write(ctx, store.Join(driverPath("d1"), "canReceiveBookings"), true)

	if err := svc.ReportMissingRFID(ctx, "d1", ""); err != nil {
		t.Fatalf("report: %v", err)
	}
	d, _ := svc.Get(ctx, "d1")
	if d.RFIDUID != "" || !d.NeedsRFIDAssignment || d.CanReceiveBookings {
		t.Fatalf("driver not unlinked: %+v", d)
	}
	if _, ok, _ := svc.ResolveDriverID(ctx, "RF-1"); ok {
		t.Fatalf("lost tag still resolves")
	}
	if ev := rec.Events(); len(ev) != 1 || ev[0].Type != notify.DriverRFIDUnlinked {
		t.Fatalf("expected unlink event, got %+v", ev)
	}
	if err := svc.ReportMissingRFID(ctx, "d1", ""); !errors.Is(err, ErrNoRFID) {
		t.Fatalf("expected ErrNoRFID, got %v", err)
	}
}

// ---- registration ----

func TestRegistrationOutcomes(t *testing.T) {
	ctx := context.Background()
	svc, tree, _ := newDriverService(t, time.Now())
	cmd := RegisterCommand{UID: "u1", DriverName: "Ben", PhoneNumber: "09171234567", TodaNumber: "12"}

	first := svc.Register(ctx, cmd)
	if first.Kind != RegistrationPending || first.ApplicationID == "" {
		t.Fatalf("expected pending, got %+v", first)
	}
	again := svc.Register(ctx, cmd)
	if again.Kind != RegistrationPending || again.ApplicationID != first.ApplicationID {
		t.Fatalf("expected the same pending application, got %+v", again)
	}

	d, err := svc.Approve(ctx, first.ApplicationID)
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if d.DriverID != "u1" || !d.NeedsRFIDAssignment {
		t.Fatalf("unexpected driver: %+v", d)
	}
	apps, _ := tree.Read(ctx, ApplicationCollection)
	if apps.Exists() {
		t.Fatalf("application not removed")
	}

	done := svc.Register(ctx, cmd)
	if done.Kind != RegistrationSuccess || done.Driver == nil || done.Driver.DriverID != "u1" {
		t.Fatalf("expected success, got %+v", done)
	}

	bad := svc.Register(ctx, RegisterCommand{UID: "u2"})
	if bad.Kind != RegistrationError || !errors.Is(bad.Err, ErrBadRequest) {
		t.Fatalf("expected error, got %+v", bad)
	}
	if _, err := svc.Approve(ctx, "missing"); !errors.Is(err, ErrApplicationNotFound) {
		t.Fatalf("expected ErrApplicationNotFound, got %v", err)
	}
}
