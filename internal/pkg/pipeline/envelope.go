package pipeline

import (
	"encoding/json"
	"fmt"
	"time"
)

// MessageType is the envelope discriminator carried by every queue and topic
// payload.
type MessageType string

const (
	TypeEventCreated          MessageType = "event.created"
	TypeEventUpdated          MessageType = "event.updated"
	TypeEventProcessed        MessageType = "event.processed"
	TypeImageUploaded         MessageType = "image.uploaded"
	TypeEventStatus           MessageType = "event.status"
	TypeDeliveryRequested     MessageType = "delivery.requested"
	TypeSubscriptionCreated   MessageType = "subscription.created"
	TypeSubscriptionUpdated   MessageType = "subscription.updated"
	TypeSubscriptionCancelled MessageType = "subscription.cancelled"
)

// AttrEventType and AttrDeliveryMethod are the message attributes subscribers
// filter on.
const (
	AttrEventType      = "eventType"
	AttrDeliveryMethod = "deliveryMethod"
)

// envelopeHead is the first decode pass: only the discriminator.
type envelopeHead struct {
	Type MessageType `json:"type"`
}

// PeekType extracts the type discriminator from a raw payload. Payloads are
// versionless JSON; unknown extra fields are tolerated, a missing
// discriminator is rejected.
func PeekType(data []byte) (MessageType, error) {
	var head envelopeHead
	if err := json.Unmarshal(data, &head); err != nil {
		return "", fmt.Errorf("%w: %v", ErrBadEnvelope, err)
	}
	if head.Type == "" {
		return "", fmt.Errorf("%w: missing type discriminator", ErrBadEnvelope)
	}
	return head.Type, nil
}

// ImageUploadedMessage routes an uploaded image to the extraction stage.
type ImageUploadedMessage struct {
	Type     MessageType `json:"type"`
	EventID  string      `json:"eventId"`
	OwnerID  string      `json:"userId"`
	ImageKey string      `json:"imageKey"`
}

// StatusUpdateMessage drives the event mutation stage.
type StatusUpdateMessage struct {
	Type    MessageType `json:"type"`
	EventID string      `json:"eventId"`
	OwnerID string      `json:"userId"`
	Status  string      `json:"status"`
	Data    string      `json:"data,omitempty"`
}

// DeliveryRequestMessage asks the delivery stage to send an event's calendar
// file to a recipient over a channel.
type DeliveryRequestMessage struct {
	Type      MessageType `json:"type"`
	EventID   string      `json:"eventId"`
	OwnerID   string      `json:"userId"`
	Recipient string      `json:"recipient"`
	Method    string      `json:"method"`
}

// SubscriptionMessage is a subscription lifecycle event on the ordered
// billing topic. EventAt orders events; stale events are no-ops downstream.
type SubscriptionMessage struct {
	Type           MessageType `json:"type"`
	OwnerID        string      `json:"userId"`
	Status         string      `json:"status"`
	SubscriptionID string      `json:"subscriptionId,omitempty"`
	CustomerID     string      `json:"customerId,omitempty"`
	Email          string      `json:"email,omitempty"`
	EndDate        int64       `json:"endDate,omitempty"` // unix milliseconds
	EventAt        int64       `json:"eventAt"`           // unix milliseconds
}

// EndTime converts the raw end date into a time, nil when absent.
func (m SubscriptionMessage) EndTime() *time.Time {
	if m.EndDate == 0 {
		return nil
	}
	t := time.UnixMilli(m.EndDate)
	return &t
}

// EventTime converts the event ordering timestamp.
func (m SubscriptionMessage) EventTime() time.Time {
	return time.UnixMilli(m.EventAt)
}

// EventNotification is published on the notification topic after record
// mutations so interested subscribers (delivery, billing reactions, user
// notices) can react.
type EventNotification struct {
	Type        MessageType `json:"type"`
	EventID     string      `json:"eventId,omitempty"`
	OwnerID     string      `json:"userId"`
	Status      string      `json:"status,omitempty"`
	IcsKey      string      `json:"icsKey,omitempty"`
	Title       string      `json:"title,omitempty"`
	StartTime   string      `json:"startTime,omitempty"`
	EndTime     string      `json:"endTime,omitempty"`
	Location    string      `json:"location,omitempty"`
	Description string      `json:"description,omitempty"`
	Data        string      `json:"data,omitempty"`
}

// decodeAs decodes a raw payload into the given variant after checking the
// discriminator matches what the stage expects.
func decodeAs(data []byte, want MessageType, v interface{}) error {
	got, err := PeekType(data)
	if err != nil {
		return err
	}
	if got != want {
		return fmt.Errorf("%w: unexpected type %q", ErrBadEnvelope, got)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrBadEnvelope, err)
	}
	return nil
}
