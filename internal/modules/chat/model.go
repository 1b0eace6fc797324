// README: Chat room summary and message records, one thread per booking.
package chat

import (
	"toda/internal/store"
	"toda/internal/types"
)

const (
	RoomCollection    = "chatRooms"
	MessageCollection = "chatMessages"
)

type MessageType string

const (
	TypeText     MessageType = "TEXT"
	TypeLocation MessageType = "LOCATION"
	TypeSystem   MessageType = "SYSTEM"
)

func (t MessageType) Valid() bool {
	return t == TypeText || t == TypeLocation || t == TypeSystem
}

type Room struct {
	ID              string   `json:"id"`
	BookingID       types.ID `json:"bookingId"`
	CustomerID      string   `json:"customerId"`
	DriverID        string   `json:"driverId"`
	LastMessage     string   `json:"lastMessage"`
	LastMessageTime int64    `json:"lastMessageTime"`
	IsActive        bool     `json:"isActive"`
	CreatedAt       int64    `json:"createdAt"`
}

type Message struct {
	ID          string      `json:"id"`
	BookingID   types.ID    `json:"bookingId"`
	SenderID    string      `json:"senderId"`
	SenderName  string      `json:"senderName"`
	ReceiverID  string      `json:"receiverId"`
	Message     string      `json:"message"`
	Timestamp   int64       `json:"timestamp"`
	MessageType MessageType `json:"messageType"`
	IsRead      bool        `json:"isRead"`
}

func decodeRoom(key string, raw any) (Room, bool) {
	if store.Classify(raw) != store.KindObject {
		return Room{}, false
	}
	f := store.Fields(raw.(map[string]any))
	r := Room{
		ID:          key,
		BookingID:   types.ID(f.String("bookingId")),
		CustomerID:  f.String("customerId"),
		DriverID:    f.String("driverId"),
		LastMessage: f.String("lastMessage"),
		IsActive:    f.Flag("isActive"),
	}
	r.LastMessageTime, _ = f.Int64("lastMessageTime")
	r.CreatedAt, _ = f.Int64("createdAt")
	return r, !r.BookingID.Empty()
}

func decodeMessage(key string, raw any) (Message, bool) {
	if store.Classify(raw) != store.KindObject {
		return Message{}, false
	}
	f := store.Fields(raw.(map[string]any))
	m := Message{
		ID:          key,
		BookingID:   types.ID(f.String("bookingId")),
		SenderID:    f.String("senderId"),
		SenderName:  f.String("senderName"),
		ReceiverID:  f.String("receiverId"),
		Message:     f.String("message"),
		MessageType: MessageType(f.String("messageType")),
		IsRead:      f.Flag("isRead"),
	}
	if !m.MessageType.Valid() {
		m.MessageType = TypeText
	}
	m.Timestamp, _ = f.Int64("timestamp")
	return m, true
}

func (m Message) record() map[string]any {
	return map[string]any{
		"bookingId":   string(m.BookingID),
		"senderId":    m.SenderID,
		"senderName":  m.SenderName,
		"receiverId":  m.ReceiverID,
		"message":     m.Message,
		"timestamp":   m.Timestamp,
		"messageType": string(m.MessageType),
		"isRead":      m.IsRead,
	}
}

func roomPath(id string) string      { return store.Join(RoomCollection, id) }
func messagesPath(b types.ID) string { return store.Join(MessageCollection, string(b)) }
