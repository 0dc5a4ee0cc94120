package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2/log"

	"github.com/qwikcal/qwikcal/app/repository"
	"github.com/qwikcal/qwikcal/internal/pkg/blobstore"
	"github.com/qwikcal/qwikcal/internal/pkg/mail"
	"github.com/qwikcal/qwikcal/internal/pkg/notify"
	"github.com/qwikcal/qwikcal/internal/pkg/queue"
)

// DeliveryStage sends an event's calendar details to a recipient. It
// consumes delivery.requested messages one at a time; a missing record, a
// record without an artifact, or an unfetchable artifact is retried, since
// the write producing it may still be in flight.
type DeliveryStage struct {
	events  repository.EventRepository
	store   blobstore.Store
	mailer  mail.Transport
	baseURL string
}

// NewDeliveryStage wires the delivery consumer. baseURL is the public origin
// used for calendar download links.
func NewDeliveryStage(events repository.EventRepository, store blobstore.Store, mailer mail.Transport, baseURL string) *DeliveryStage {
	return &DeliveryStage{
		events:  events,
		store:   store,
		mailer:  mailer,
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

// HandleBatch delivers each request and returns the IDs to redeliver.
func (s *DeliveryStage) HandleBatch(ctx context.Context, msgs []*queue.Message) []string {
	var failed []string
	for _, msg := range msgs {
		var payload DeliveryRequestMessage
		if err := decodeAs(msg.Body, TypeDeliveryRequested, &payload); err != nil {
			log.Errorf("[Delivery] Dropping malformed message %s: %v", msg.ID, err)
			continue
		}
		if payload.Method != "email" {
			// Unreachable when the subscription filter is in place
			log.Warnf("[Delivery] Dropping request with unsupported method %q", payload.Method)
			continue
		}

		if err := s.deliver(ctx, payload); err != nil {
			log.Errorf("[Delivery] Event %s to %s failed: %v", payload.EventID, payload.Recipient, err)
			failed = append(failed, msg.ID)
		}
	}
	return failed
}

func (s *DeliveryStage) deliver(ctx context.Context, payload DeliveryRequestMessage) error {
	event, err := s.events.GetByID(payload.EventID, payload.OwnerID)
	if err != nil {
		return fmt.Errorf("event record not available: %w", err)
	}
	if !event.HasArtifact() {
		// Processing may still be finishing; redelivery picks it up later
		return fmt.Errorf("event %s has no calendar artifact yet", payload.EventID)
	}

	// The link in the email must resolve: confirm the artifact is actually
	// fetchable before mailing it out
	if _, err := s.store.Get(ctx, event.IcsKey); err != nil {
		return fmt.Errorf("calendar artifact %s not retrievable: %w", event.IcsKey, err)
	}

	var calendarURL string
	if s.baseURL != "" {
		calendarURL = fmt.Sprintf("%s/api/v1/events/%s/calendar", s.baseURL, event.EventID)
	}

	body, err := mail.RenderEventEmail(mail.EventEmailData{
		Title:       event.Title,
		StartTime:   event.StartTime,
		EndTime:     event.EndTime,
		Location:    event.Location,
		Description: event.Description,
		CalendarURL: calendarURL,
	})
	if err != nil {
		return err
	}

	subject := fmt.Sprintf("Calendar event: %s", event.Title)
	if err := s.mailer.Send(payload.Recipient, subject, body); err != nil {
		return err
	}

	log.Infof("[Delivery] Sent event %s to %s", event.EventID, payload.Recipient)
	return nil
}

// DeliveryFilter is the subscription filter binding the delivery queue to
// the notification topic: delivery requests carried by email only.
func DeliveryFilter() notify.Filter {
	return notify.Filter{
		AttrEventType:      {string(TypeDeliveryRequested)},
		AttrDeliveryMethod: {"email"},
	}
}
