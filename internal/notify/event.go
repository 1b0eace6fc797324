// README: Domain events and the publisher contract; delivery is an external concern.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

type EventType string

const (
	BookingStatusChanged EventType = "booking.status_changed"
	BookingMatched       EventType = "booking.matched"
	ChatMessageSent      EventType = "chat.message_sent"
	DriverStatusChanged  EventType = "driver.status_changed"
	DriverRFIDUnlinked   EventType = "driver.rfid_unlinked"
)

type Event struct {
	Type       EventType         `json:"type"`
	BookingID  string            `json:"bookingId,omitempty"`
	DriverID   string            `json:"driverId,omitempty"`
	CustomerID string            `json:"customerId,omitempty"`
	Status     string            `json:"status,omitempty"`
	Message    string            `json:"message,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
	At         time.Time         `json:"at"`
}

// Key partitions events so one booking's (or driver's) events stay ordered.
func (e Event) Key() string {
	if e.BookingID != "" {
		return e.BookingID
	}
	return e.DriverID
}

func (e Event) Encode() ([]byte, error) {
	return json.Marshal(e)
}

type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Fanout delivers to every publisher and joins their errors.
type Fanout []Publisher

func (f Fanout) Publish(ctx context.Context, ev Event) error {
	var errs []error
	for _, p := range f {
		if err := p.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogPublisher writes events to the process log; it is the default sink.
type LogPublisher struct {
	Log logrus.FieldLogger
}

func (p LogPublisher) Publish(_ context.Context, ev Event) error {
	p.Log.WithFields(logrus.Fields{
		"event":      ev.Type,
		"booking_id": ev.BookingID,
		"driver_id":  ev.DriverID,
		"status":     ev.Status,
	}).Info("event")
	return nil
}

// Recorder keeps published events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Publish(_ context.Context, ev Event) error {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
	return nil
}

func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Publish sends ev through p when p is set and logs a failure instead of
// returning it. Event delivery never fails the operation that produced it.
func Publish(ctx context.Context, p Publisher, log logrus.FieldLogger, ev Event) {
	if p == nil {
		return
	}
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	if err := p.Publish(ctx, ev); err != nil && log != nil {
		log.WithError(err).WithField("event", ev.Type).Warn("event publish failed")
	}
}
