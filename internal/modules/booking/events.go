// README: Postgres audit log of booking status changes.
package booking

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"toda/internal/types"
)

// EventStore records status changes. The tree remains the source of truth;
// the audit log is append-only history for operators.
type EventStore interface {
	AppendEvent(ctx context.Context, e *Event) error
	History(ctx context.Context, id types.ID) ([]Event, error)
}

type PGEventStore struct {
	db *pgxpool.Pool
}

func NewPGEventStore(db *pgxpool.Pool) *PGEventStore {
	return &PGEventStore{db: db}
}

func (s *PGEventStore) AppendEvent(ctx context.Context, e *Event) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO booking_state_events (
			booking_id, from_status, to_status, actor_type, actor_id, created_at
		) VALUES ($1, $2, $3, $4, $5, $6)`,
		string(e.BookingID),
		string(e.FromStatus),
		string(e.ToStatus),
		e.ActorType,
		nullable(e.ActorID),
		e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("append booking event: %w", err)
	}
	return nil
}

func (s *PGEventStore) History(ctx context.Context, id types.ID) ([]Event, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, booking_id, from_status, to_status, actor_type, COALESCE(actor_id, ''), created_at
		FROM booking_state_events
		WHERE booking_id = $1
		ORDER BY created_at, id`, string(id))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		var bookingID, from, to string
		if err := rows.Scan(&e.ID, &bookingID, &from, &to, &e.ActorType, &e.ActorID, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.BookingID = types.ID(bookingID)
		e.FromStatus = Status(from)
		e.ToStatus = Status(to)
		out = append(out, e)
	}
	return out, rows.Err()
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
