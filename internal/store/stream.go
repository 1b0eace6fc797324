// README: Typed view over a Subscription; each delivery is decoded once and forwarded.
package store

import "context"

// Item is one decoded delivery. Err is terminal, as on Update.
type Item[T any] struct {
	Value T
	Err   error
}

// Stream decodes the deliveries of one subscription. Closing the stream closes
// the underlying subscription.
type Stream[T any] struct {
	sub *Subscription
	out chan Item[T]
}

// NewStream runs decode on every delivery of sub.
func NewStream[T any](ctx context.Context, sub *Subscription, decode func(context.Context, Snapshot) T) *Stream[T] {
	s := &Stream[T]{sub: sub, out: make(chan Item[T])}
	go s.run(ctx, decode)
	return s
}

func (s *Stream[T]) Updates() <-chan Item[T] { return s.out }

func (s *Stream[T]) Close() { s.sub.Close() }

func (s *Stream[T]) run(ctx context.Context, decode func(context.Context, Snapshot) T) {
	defer close(s.out)
	for u := range s.sub.Updates() {
		var item Item[T]
		if u.Err != nil {
			item.Err = u.Err
		} else {
			item.Value = decode(ctx, u.Snapshot)
		}
		select {
		case s.out <- item:
		case <-s.sub.done:
			// Drain so the pump can exit and close Updates.
			for range s.sub.Updates() {
			}
			return
		}
	}
}
