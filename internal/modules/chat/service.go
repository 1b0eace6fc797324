// README: Chat service manages per-booking rooms and their append-only message logs.
package chat

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"toda/internal/notify"
	"toda/internal/store"
	"toda/internal/types"
)

var (
	ErrRoomNotFound = errors.New("chat room not found")
	ErrForbidden    = errors.New("sender is not a participant")
	ErrBadRequest   = errors.New("bad request")
)

const welcomeMessage = "Trip started. You can now chat with each other here."

type Service struct {
	tree      store.Tree
	publisher notify.Publisher
	log       logrus.FieldLogger
	now       func() time.Time
	validate  *validator.Validate
}

func NewService(tree store.Tree, publisher notify.Publisher, log logrus.FieldLogger) *Service {
	return &Service{tree: tree, publisher: publisher, log: log, now: time.Now, validate: validator.New()}
}

type SendCommand struct {
	BookingID  types.ID    `validate:"required"`
	SenderID   string      `validate:"required"`
	SenderName string      `validate:"max=120"`
	ReceiverID string
	Message    string      `validate:"required,max=1000"`
	Type       MessageType `validate:"omitempty,oneof=TEXT LOCATION"`
}

// FindRoom looks the room up by booking id. Rooms are stored under the booking
// id; older rooms under push keys are found through the bookingId index.
func (s *Service) FindRoom(ctx context.Context, bookingID types.ID) (*Room, error) {
	snap, err := s.tree.Read(ctx, roomPath(string(bookingID)))
	if err != nil {
		return nil, err
	}
	if r, ok := decodeRoom(snap.Key, snap.Value); ok {
		return &r, nil
	}
	snap, err = s.tree.Query(ctx, RoomCollection, "bookingId", string(bookingID))
	if err != nil {
		return nil, err
	}
	for _, c := range snap.Children() {
		if r, ok := decodeRoom(c.Key, c.Value); ok {
			return &r, nil
		}
	}
	return nil, ErrRoomNotFound
}

// EnsureRoom returns the booking's room id, creating the room and its SYSTEM
// welcome message when none exists yet.
func (s *Service) EnsureRoom(ctx context.Context, bookingID types.ID, customerID, driverID string) (string, error) {
	if bookingID.Empty() {
		return "", ErrBadRequest
	}
	if r, err := s.FindRoom(ctx, bookingID); err == nil {
		return r.ID, nil
	} else if !errors.Is(err, ErrRoomNotFound) {
		return "", err
	}

	now := s.now().UnixMilli()
	roomID := string(bookingID)
	room := map[string]any{
		"bookingId":       roomID,
		"customerId":      customerID,
		"driverId":        driverID,
		"lastMessage":     "",
		"lastMessageTime": now,
		"isActive":        true,
		"createdAt":       now,
	}
	created, err := s.tree.Transact(ctx, roomPath(roomID), func(cur any) (any, error) {
		if cur != nil {
			return nil, store.ErrAbort
		}
		return room, nil
	})
	if err != nil {
		return "", fmt.Errorf("create chat room %s: %w", bookingID, err)
	}
	if !created {
		return roomID, nil
	}

	welcome := Message{
		BookingID:   bookingID,
		SenderID:    "system",
		SenderName:  "TODA",
		Message:     welcomeMessage,
		Timestamp:   now,
		MessageType: TypeSystem,
	}
	if err := s.append(ctx, roomID, welcome); err != nil {
		s.log.WithError(err).WithField("booking_id", bookingID).Warn("welcome message failed")
	}
	s.log.WithFields(logrus.Fields{"booking_id": bookingID, "driver_id": driverID}).Info("chat room opened")
	return roomID, nil
}

// Send appends a message and refreshes the room summary in one update.
func (s *Service) Send(ctx context.Context, cmd SendCommand) (*Message, error) {
	if err := s.validate.Struct(cmd); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadRequest, err)
	}
	room, err := s.FindRoom(ctx, cmd.BookingID)
	if err != nil {
		return nil, err
	}
	receiver := cmd.ReceiverID
	switch cmd.SenderID {
	case room.CustomerID:
		if receiver == "" {
			receiver = room.DriverID
		}
	case room.DriverID:
		if receiver == "" {
			receiver = room.CustomerID
		}
	default:
		return nil, ErrForbidden
	}
	typ := cmd.Type
	if typ == "" {
		typ = TypeText
	}
	msg := Message{
		BookingID:   cmd.BookingID,
		SenderID:    cmd.SenderID,
		SenderName:  cmd.SenderName,
		ReceiverID:  receiver,
		Message:     strings.TrimSpace(cmd.Message),
		Timestamp:   s.now().UnixMilli(),
		MessageType: typ,
	}
	if err := s.append(ctx, room.ID, msg); err != nil {
		return nil, err
	}
	notify.Publish(ctx, s.publisher, s.log, notify.Event{
		Type:       notify.ChatMessageSent,
		BookingID:  string(cmd.BookingID),
		Message:    msg.Message,
		Attributes: map[string]string{"senderId": msg.SenderID, "receiverId": msg.ReceiverID},
	})
	return &msg, nil
}

func (s *Service) append(ctx context.Context, roomID string, msg Message) error {
	key := s.tree.NewKey()
	err := s.tree.Update(ctx, map[string]any{
		store.Join(messagesPath(msg.BookingID), key):    msg.record(),
		store.Join(roomPath(roomID), "lastMessage"):     msg.Message,
		store.Join(roomPath(roomID), "lastMessageTime"): msg.Timestamp,
	})
	if err != nil {
		return fmt.Errorf("append chat message: %w", err)
	}
	return nil
}

// MarkRead flags every unread message addressed to readerID and reports how many changed.
func (s *Service) MarkRead(ctx context.Context, bookingID types.ID, readerID string) (int, error) {
	msgs, err := s.Messages(ctx, bookingID)
	if err != nil {
		return 0, err
	}
	patch := map[string]any{}
	for _, m := range msgs {
		if m.ReceiverID == readerID && !m.IsRead {
			patch[store.Join(messagesPath(bookingID), m.ID, "isRead")] = true
		}
	}
	if len(patch) == 0 {
		return 0, nil
	}
	if err := s.tree.Update(ctx, patch); err != nil {
		return 0, err
	}
	return len(patch), nil
}

func (s *Service) Messages(ctx context.Context, bookingID types.ID) ([]Message, error) {
	snap, err := s.tree.Read(ctx, messagesPath(bookingID))
	if err != nil {
		return nil, err
	}
	return s.decodeMessages(ctx, snap), nil
}

// MessagesFeed streams the booking's messages ordered by timestamp.
func (s *Service) MessagesFeed(ctx context.Context, bookingID types.ID) (*store.Stream[[]Message], error) {
	sub, err := s.tree.Subscribe(ctx, messagesPath(bookingID))
	if err != nil {
		return nil, err
	}
	return store.NewStream(ctx, sub, s.decodeMessages), nil
}

// RoomFeed streams the room summary; the value is nil until the room exists.
func (s *Service) RoomFeed(ctx context.Context, bookingID types.ID) (*store.Stream[*Room], error) {
	path := roomPath(string(bookingID))
	if r, err := s.FindRoom(ctx, bookingID); err == nil {
		path = roomPath(r.ID)
	}
	sub, err := s.tree.Subscribe(ctx, path)
	if err != nil {
		return nil, err
	}
	return store.NewStream(ctx, sub, func(_ context.Context, snap store.Snapshot) *Room {
		r, ok := decodeRoom(snap.Key, snap.Value)
		if !ok {
			return nil
		}
		return &r
	}), nil
}

func (s *Service) decodeMessages(_ context.Context, snap store.Snapshot) []Message {
	children := snap.Children()
	out := make([]Message, 0, len(children))
	for _, c := range children {
		if m, ok := decodeMessage(c.Key, c.Value); ok {
			out = append(out, m)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp < out[j].Timestamp })
	return out
}
