package pipeline

import (
	"context"
	"fmt"

	"github.com/gofiber/fiber/v2/log"

	"github.com/qwikcal/qwikcal/internal/pkg/billing"
	"github.com/qwikcal/qwikcal/internal/pkg/notify"
	"github.com/qwikcal/qwikcal/internal/pkg/queue"
)

// BillingStage consumes subscription lifecycle messages from the ordered
// billing queue. Within an ordering group the batch fails strictly: once a
// message fails, every later message of the same group in the batch is
// failed too, so redelivery replays them in order instead of applying a
// newer event before an older one.
type BillingStage struct {
	service *billing.Service
}

// NewBillingStage wires the ordered billing consumer.
func NewBillingStage(service *billing.Service) *BillingStage {
	return &BillingStage{service: service}
}

// HandleBatch applies subscription events in order and returns the IDs to
// redeliver.
func (s *BillingStage) HandleBatch(ctx context.Context, msgs []*queue.Message) []string {
	var failed []string
	failedGroups := make(map[string]bool)

	for _, msg := range msgs {
		if failedGroups[msg.GroupID] {
			// An earlier message of this group failed; hold order
			failed = append(failed, msg.ID)
			continue
		}

		kind, payload, err := decodeSubscription(msg.Body)
		if err != nil {
			// Malformed payloads are dropped; skipping one cannot reorder
			// the valid ones around it
			log.Errorf("[BillingStage] Dropping malformed message %s: %v", msg.ID, err)
			continue
		}

		_, err = s.service.ApplySubscriptionEvent(ctx, billing.SubscriptionEvent{
			Kind:           kind,
			OwnerID:        payload.OwnerID,
			ProviderStatus: payload.Status,
			CustomerID:     payload.CustomerID,
			SubscriptionID: payload.SubscriptionID,
			Email:          payload.Email,
			EndDate:        payload.EndTime(),
			EventAt:        payload.EventTime(),
		})
		if err != nil {
			log.Errorf("[BillingStage] Event for owner %s failed: %v", payload.OwnerID, err)
			failed = append(failed, msg.ID)
			failedGroups[msg.GroupID] = true
		}
	}
	return failed
}

// decodeSubscription decodes any of the three subscription lifecycle types.
func decodeSubscription(data []byte) (billing.EventKind, *SubscriptionMessage, error) {
	got, err := PeekType(data)
	if err != nil {
		return "", nil, err
	}

	var kind billing.EventKind
	switch got {
	case TypeSubscriptionCreated:
		kind = billing.EventCreated
	case TypeSubscriptionUpdated:
		kind = billing.EventUpdated
	case TypeSubscriptionCancelled:
		kind = billing.EventCancelled
	default:
		return "", nil, fmt.Errorf("%w: unexpected type %q", ErrBadEnvelope, got)
	}

	var payload SubscriptionMessage
	if err := decodeAs(data, got, &payload); err != nil {
		return "", nil, err
	}
	return kind, &payload, nil
}

// BillingFilter is the subscription filter binding the billing queue to the
// ordered billing topic.
func BillingFilter() notify.Filter {
	return notify.Filter{
		AttrEventType: {
			string(TypeSubscriptionCreated),
			string(TypeSubscriptionUpdated),
			string(TypeSubscriptionCancelled),
		},
	}
}
