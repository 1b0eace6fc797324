// README: Subscription manager; each listener is a cancellable handle with guaranteed release.
package store

import (
	"context"
	"reflect"
	"sync"
)

// Update is one delivery on a subscription. A non-nil Err is terminal: the
// subscription has been cancelled and the last delivered data is stale.
type Update struct {
	Snapshot Snapshot
	Err      error
}

// Reader loads the current value of a path for delivery.
type Reader func(ctx context.Context, path string) (Snapshot, error)

// Subscription is the handle returned by Tree.Subscribe. Close releases the
// listener; it is safe to call more than once and from any goroutine.
type Subscription struct {
	path    string
	updates chan Update
	wake    chan struct{}
	done    chan struct{}
	once    sync.Once
}

func (s *Subscription) Path() string { return s.path }

// Updates is closed once the subscription ends for any reason.
func (s *Subscription) Updates() <-chan Update { return s.updates }

// Done is closed once the subscription has been released.
func (s *Subscription) Done() <-chan struct{} { return s.done }

func (s *Subscription) Close() {
	s.once.Do(func() { close(s.done) })
}

func (s *Subscription) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Hub fans change notifications out to subscriptions. Deliveries coalesce: a
// slow consumer only ever sees the latest value, never a backlog.
type Hub struct {
	read Reader

	mu   sync.Mutex
	subs map[*Subscription]struct{}
}

func NewHub(read Reader) *Hub {
	return &Hub{read: read, subs: make(map[*Subscription]struct{})}
}

// Subscribe registers a listener that lives until ctx ends or Close is called.
func (h *Hub) Subscribe(ctx context.Context, path string) *Subscription {
	s := &Subscription{
		path:    path,
		updates: make(chan Update),
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	h.mu.Lock()
	h.subs[s] = struct{}{}
	h.mu.Unlock()

	s.signal()
	go h.pump(ctx, s)
	return s
}

// Publish wakes every subscription whose path overlaps one of the changed paths.
func (h *Hub) Publish(changed ...string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.subs {
		for _, p := range changed {
			if overlaps(s.path, p) {
				s.signal()
				break
			}
		}
	}
}

// Len reports the number of live subscriptions.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func (h *Hub) Close() {
	h.mu.Lock()
	subs := make([]*Subscription, 0, len(h.subs))
	for s := range h.subs {
		subs = append(subs, s)
	}
	h.mu.Unlock()
	for _, s := range subs {
		s.Close()
	}
}

func (h *Hub) pump(ctx context.Context, s *Subscription) {
	defer func() {
		h.mu.Lock()
		delete(h.subs, s)
		h.mu.Unlock()
		s.Close()
		close(s.updates)
	}()

	var last any
	first := true
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case <-s.wake:
		}

		snap, err := h.read(ctx, s.path)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			select {
			case s.updates <- Update{Err: err}:
			case <-s.done:
			case <-ctx.Done():
			}
			return
		}
		if !first && reflect.DeepEqual(last, snap.Value) {
			continue
		}
		select {
		case s.updates <- Update{Snapshot: snap}:
			first = false
			last = snap.Value
		case <-s.done:
			return
		case <-ctx.Done():
			return
		}
	}
}
