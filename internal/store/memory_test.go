// README: Tree contract tests against the in-memory backend.
package store

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"
)

func TestMemoryWriteReadAndPrune(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	if err := m.Write(ctx, "bookings/b1", map[string]any{"status": "PENDING", "fare": 40}); err != nil {
		t.Fatalf("write: %v", err)
	}
	snap, err := m.Read(ctx, "bookings/b1")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if snap.Key != "b1" || snap.Fields().String("status") != "PENDING" {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
	if fare, _ := snap.Fields().Float("fare"); fare != 40 {
		t.Fatalf("expected fare 40, got %v", fare)
	}

	if err := m.Remove(ctx, "bookings/b1/status"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := m.Remove(ctx, "bookings/b1/fare"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	snap, _ = m.Read(ctx, "bookings")
	if snap.Exists() {
		t.Fatalf("expected empty parents to be pruned, got %v", snap.Value)
	}
}

func TestMemoryReadReturnsCopy(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	_ = m.Write(ctx, "a", map[string]any{"x": "1"})

	snap, _ := m.Read(ctx, "a")
	snap.Fields()["x"] = "mutated"

	again, _ := m.Read(ctx, "a")
	if again.Fields().String("x") != "1" {
		t.Fatalf("store was mutated through a snapshot")
	}
}

func TestMemoryUpdateRejectsOverlappingPaths(t *testing.T) {
	m := NewMemory()
	err := m.Update(context.Background(), map[string]any{
		"bookings/b1":        map[string]any{"status": "ACCEPTED"},
		"bookings/b1/status": "PENDING",
	})
	if !errors.Is(err, ErrInvalidPath) {
		t.Fatalf("expected ErrInvalidPath, got %v", err)
	}
}

func TestMemoryInvalidPath(t *testing.T) {
	m := NewMemory()
	if err := m.Write(context.Background(), "bookings/a.b", "x"); !errors.Is(err, ErrInvalidPath) {
		t.Fatalf("expected ErrInvalidPath, got %v", err)
	}
}

func TestMemoryUpdateIsAtomicForReaders(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	_ = m.Update(ctx, map[string]any{"bookings/b1/status": "PENDING", "bookingIndex/b1/status": "PENDING"})

	var wg sync.WaitGroup
	stop := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		statuses := []string{"ACCEPTED", "IN_PROGRESS", "COMPLETED"}
		for i := 0; i < 300; i++ {
			s := statuses[i%len(statuses)]
			_ = m.Update(ctx, map[string]any{"bookings/b1/status": s, "bookingIndex/b1/status": s})
		}
		close(stop)
	}()

	for {
		select {
		case <-stop:
			wg.Wait()
			return
		default:
		}
		root, _ := m.Read(ctx, "")
		f := root.Fields()
		a := f.Object("bookings").Object("b1").String("status")
		b := f.Object("bookingIndex").Object("b1").String("status")
		if a != b {
			t.Fatalf("observed divergent status %q vs index %q", a, b)
		}
	}
}

func TestMemoryTransactExactlyOnce(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	_ = m.Write(ctx, "queue/q1/claimed", false)

	const attempts = 16
	var wg sync.WaitGroup
	start := make(chan struct{})
	results := make(chan bool, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			ok, err := m.Transact(ctx, "queue/q1/claimed", func(cur any) (any, error) {
				if b, _ := cur.(bool); b {
					return nil, ErrAbort
				}
				return true, nil
			})
			if err != nil {
				t.Errorf("transact: %v", err)
			}
			results <- ok
		}()
	}
	close(start)
	wg.Wait()
	close(results)

	won := 0
	for ok := range results {
		if ok {
			won++
		}
	}
	if won != 1 {
		t.Fatalf("expected exactly 1 winner, got %d", won)
	}
}

func TestMemoryTransactRetriesOnConflict(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	_ = m.Write(ctx, "counter", 1)

	interfered := false
	m.beforeCommit = func(string) {
		if !interfered {
			interfered = true
			m.mu.Lock()
			m.root["counter"] = float64(10)
			m.mu.Unlock()
		}
	}

	calls := 0
	ok, err := m.Transact(ctx, "counter", func(cur any) (any, error) {
		calls++
		n, _ := cur.(float64)
		return n + 1, nil
	})
	if err != nil || !ok {
		t.Fatalf("transact: ok=%v err=%v", ok, err)
	}
	if calls != 2 {
		t.Fatalf("expected fn to run twice, ran %d times", calls)
	}
	snap, _ := m.Read(ctx, "counter")
	if snap.Value != float64(11) {
		t.Fatalf("expected 11, got %v", snap.Value)
	}
}

func TestCompareAndSwap(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	ok, err := CompareAndSwap(ctx, m, "queue/q1/claimed", nil, true)
	if err != nil || !ok {
		t.Fatalf("swap from absent: ok=%v err=%v", ok, err)
	}
	ok, _ = CompareAndSwap(ctx, m, "queue/q1/claimed", false, true)
	if ok {
		t.Fatalf("expected swap to fail when value is true")
	}
	ok, _ = CompareAndSwap(ctx, m, "queue/q1/claimed", true, false)
	if !ok {
		t.Fatalf("expected release to succeed")
	}
}

func TestMemoryQuery(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	_ = m.Write(ctx, "ratings/r1", map[string]any{"bookingId": "b1", "stars": 0})
	_ = m.Write(ctx, "ratings/r2", map[string]any{"bookingId": "b2", "stars": 5})
	_ = m.Write(ctx, "ratings/r3", map[string]any{"bookingId": "b1", "stars": 4})

	snap, err := m.Query(ctx, "ratings", "bookingId", "b1")
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	var keys []string
	for _, c := range snap.Children() {
		keys = append(keys, c.Key)
	}
	if len(keys) != 2 || keys[0] != "r1" || keys[1] != "r3" {
		t.Fatalf("unexpected matches: %v", keys)
	}

	snap, _ = m.Query(ctx, "ratings", "stars", 5)
	if len(snap.Children()) != 1 {
		t.Fatalf("expected numeric equality to match one rating, got %d", len(snap.Children()))
	}
}

func TestPushKeysAreOrdered(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	var keys []string
	for i := 0; i < 50; i++ {
		k, err := m.Push(ctx, "chatMessages/b1", map[string]any{"n": i})
		if err != nil {
			t.Fatalf("push: %v", err)
		}
		keys = append(keys, k)
	}
	if !sort.StringsAreSorted(keys) {
		t.Fatalf("push keys are not in creation order")
	}
	snap, _ := m.Read(ctx, "chatMessages/b1")
	children := snap.Children()
	for i, c := range children {
		if n, _ := c.Fields().Int64("n"); n != int64(i) {
			t.Fatalf("child %d out of order: n=%d", i, n)
		}
	}
}

func TestKeyOrderIntegersFirst(t *testing.T) {
	snap := Snapshot{Value: map[string]any{"b": 1.0, "10": 1.0, "2": 1.0, "a": 1.0}}
	var got []string
	for _, c := range snap.Children() {
		got = append(got, c.Key)
	}
	want := []string{"2", "10", "a", "b"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order = %v, want %v", got, want)
		}
	}
}

func TestSubscribeReplaysAndStreams(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	_ = m.Write(ctx, "queue/q1", map[string]any{"status": "waiting"})

	sub, err := m.Subscribe(ctx, "queue")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Close()

	first := nextUpdate(t, sub)
	if len(first.Snapshot.Children()) != 1 {
		t.Fatalf("expected replay with one entry, got %v", first.Snapshot.Value)
	}

	_ = m.Write(ctx, "queue/q2", map[string]any{"status": "waiting"})
	second := nextUpdate(t, sub)
	if len(second.Snapshot.Children()) != 2 {
		t.Fatalf("expected two entries, got %v", second.Snapshot.Value)
	}

	// Writes elsewhere do not wake this listener.
	_ = m.Write(ctx, "bookings/b1/status", "PENDING")
	select {
	case u := <-sub.Updates():
		t.Fatalf("unexpected delivery for unrelated path: %+v", u)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSubscriptionCloseReleasesListener(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	sub, _ := m.Subscribe(ctx, "bookings")
	nextUpdate(t, sub)
	if m.Subscribers() != 1 {
		t.Fatalf("expected 1 subscriber, got %d", m.Subscribers())
	}
	sub.Close()
	sub.Close()
	waitClosed(t, sub)
	if m.Subscribers() != 0 {
		t.Fatalf("expected listener to be released, got %d", m.Subscribers())
	}

	cctx, cancel := context.WithCancel(ctx)
	sub2, _ := m.Subscribe(cctx, "bookings")
	nextUpdate(t, sub2)
	cancel()
	waitClosed(t, sub2)
	if m.Subscribers() != 0 {
		t.Fatalf("expected listener released on context cancel, got %d", m.Subscribers())
	}
}

func TestSubscriptionErrorIsTerminal(t *testing.T) {
	boom := errors.New("network down")
	hub := NewHub(func(ctx context.Context, path string) (Snapshot, error) {
		return Snapshot{}, boom
	})
	sub := hub.Subscribe(context.Background(), "bookings")

	u := nextUpdate(t, sub)
	if !errors.Is(u.Err, boom) {
		t.Fatalf("expected terminal error, got %+v", u)
	}
	waitClosed(t, sub)
	if hub.Len() != 0 {
		t.Fatalf("expected hub to drop the cancelled listener")
	}
}

func nextUpdate(t *testing.T, sub *Subscription) Update {
	t.Helper()
	select {
	case u, ok := <-sub.Updates():
		if !ok {
			t.Fatalf("subscription closed")
		}
		return u
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for update on %s", sub.Path())
	}
	return Update{}
}

func waitClosed(t *testing.T, sub *Subscription) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-sub.Updates():
			if !ok {
				return
			}
		case <-deadline:
			t.Fatalf("subscription %s not closed", sub.Path())
		}
	}
}
