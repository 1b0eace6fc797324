// README: FCM topic push for booking and driver events.
package notify

import (
	"context"
	"fmt"

	"firebase.google.com/go/v4/messaging"
)

type FCMPublisher struct {
	client *messaging.Client
}

func NewFCMPublisher(client *messaging.Client) *FCMPublisher {
	return &FCMPublisher{client: client}
}

func (f *FCMPublisher) Publish(ctx context.Context, ev Event) error {
	msg := buildMessage(ev)
	if msg == nil {
		return nil
	}
	if _, err := f.client.Send(ctx, msg); err != nil {
		return fmt.Errorf("fcm send %s: %w", ev.Type, err)
	}
	return nil
}

// Clients subscribe to booking_{id} and driver_{id} topics.
func buildMessage(ev Event) *messaging.Message {
	topic := ""
	switch {
	case ev.BookingID != "":
		topic = "booking_" + ev.BookingID
	case ev.DriverID != "":
		topic = "driver_" + ev.DriverID
	default:
		return nil
	}
	data := map[string]string{"type": string(ev.Type)}
	if ev.Status != "" {
		data["status"] = ev.Status
	}
	if ev.Message != "" {
		data["message"] = ev.Message
	}
	for k, v := range ev.Attributes {
		data[k] = v
	}
	return &messaging.Message{
		Topic: topic,
		Data:  data,
		Android: &messaging.AndroidConfig{
			Priority: "high",
		},
	}
}
