package pipeline

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/qwikcal/qwikcal/app/repository"
	"github.com/qwikcal/qwikcal/internal/pkg/notify"
	"github.com/qwikcal/qwikcal/internal/pkg/queue"
)

// MutationFilter is the subscription filter binding the events queue to the
// notification topic.
func MutationFilter() notify.Filter {
	return notify.Filter{AttrEventType: {string(TypeEventStatus)}}
}

// EventMutationStage applies status transitions to event records. It
// consumes event.status messages in batches; each message is judged
// independently so one bad record does not requeue its batchmates.
type EventMutationStage struct {
	events        repository.EventRepository
	notifications *notify.Topic
}

// NewEventMutationStage wires the status update consumer.
func NewEventMutationStage(events repository.EventRepository, notifications *notify.Topic) *EventMutationStage {
	return &EventMutationStage{events: events, notifications: notifications}
}

// HandleBatch applies each status update and returns the IDs to redeliver.
func (s *EventMutationStage) HandleBatch(ctx context.Context, msgs []*queue.Message) []string {
	var failed []string
	for _, msg := range msgs {
		var payload StatusUpdateMessage
		if err := decodeAs(msg.Body, TypeEventStatus, &payload); err != nil {
			log.Errorf("[EventMutation] Dropping malformed message %s: %v", msg.ID, err)
			continue
		}

		// The conditional write is idempotent, redelivered updates are no-ops
		if err := s.events.UpdateStatus(payload.EventID, payload.OwnerID, payload.Status, time.Now(), payload.Data); err != nil {
			log.Errorf("[EventMutation] Update for event %s failed: %v", payload.EventID, err)
			failed = append(failed, msg.ID)
			continue
		}

		s.publishUpdated(ctx, payload)
	}
	return failed
}

func (s *EventMutationStage) publishUpdated(ctx context.Context, payload StatusUpdateMessage) {
	body, err := json.Marshal(EventNotification{
		Type:    TypeEventUpdated,
		EventID: payload.EventID,
		OwnerID: payload.OwnerID,
		Status:  payload.Status,
		Data:    payload.Data,
	})
	if err != nil {
		log.Errorf("[EventMutation] Failed to marshal updated notice for %s: %v", payload.EventID, err)
		return
	}
	attrs := map[string]string{AttrEventType: string(TypeEventUpdated)}
	if err := s.notifications.Publish(ctx, body, attrs); err != nil {
		log.Errorf("[EventMutation] Failed to publish updated notice for %s: %v", payload.EventID, err)
	}
}
