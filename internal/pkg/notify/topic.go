package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gofiber/fiber/v2/log"

	"github.com/qwikcal/qwikcal/internal/pkg/queue"
)

// Message is a published domain notification: a payload plus routing
// attributes the subscribers filter on.
type Message struct {
	Body       []byte
	Attributes map[string]string
	GroupID    string
}

// HandlerFunc consumes a delivered message. Delivery is at-least-once;
// handlers must be idempotent.
type HandlerFunc func(ctx context.Context, msg Message) error

// Filter is an attribute match predicate: every listed attribute must be
// present on the message with one of the allowed values. An empty filter
// matches everything.
type Filter map[string][]string

// Matches evaluates the predicate against message attributes.
func (f Filter) Matches(attrs map[string]string) bool {
	for key, allowed := range f {
		value, ok := attrs[key]
		if !ok {
			return false
		}
		match := false
		for _, candidate := range allowed {
			if candidate == value {
				match = true
				break
			}
		}
		if !match {
			return false
		}
	}
	return true
}

// subscriber is a single fan-out target: either a handler or a queue the
// message lands in.
type subscriber struct {
	name    string
	filter  Filter
	handler HandlerFunc
	queue   *queue.Queue
}

// Topic is a pub/sub fan-out with attribute-based filtering. Each published
// message is delivered to every subscriber whose filter matches. Order
// across distinct subscribers is not guaranteed; a FIFO topic additionally
// serializes publishes so each subscriber observes messages in publish
// order, which the ordered billing path depends on.
type Topic struct {
	name string
	fifo bool

	mu   sync.Mutex
	subs []*subscriber
}

// NewTopic creates a best-effort-ordered topic.
func NewTopic(name string) *Topic {
	return &Topic{name: name}
}

// NewFIFOTopic creates a topic that preserves publish order per subscriber.
func NewFIFOTopic(name string) *Topic {
	return &Topic{name: name, fifo: true}
}

// FIFO reports whether the topic guarantees per-subscriber publish order.
func (t *Topic) FIFO() bool {
	return t.fifo
}

// Subscribe registers a handler target.
func (t *Topic) Subscribe(name string, filter Filter, handler HandlerFunc) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.subs = append(t.subs, &subscriber{name: name, filter: filter, handler: handler})
	log.Infof("[Topic %s] Subscribed handler %s", t.name, name)
}

// SubscribeQueue registers a queue target: matching messages land in the
// queue instead of invoking a handler directly.
func (t *Topic) SubscribeQueue(name string, filter Filter, q *queue.Queue) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.subs = append(t.subs, &subscriber{name: name, filter: filter, queue: q})
	log.Infof("[Topic %s] Subscribed queue %s -> %s", t.name, name, q.Name())
}

// Publish delivers a copy of the message to every matching subscriber.
// Handler errors are logged and do not fail the publish (the subscriber's
// own retry policy governs); a queue delivery error is returned so the
// caller's surrounding redelivery can retry the publish.
func (t *Topic) Publish(ctx context.Context, body []byte, attrs map[string]string) error {
	return t.publish(ctx, Message{Body: body, Attributes: attrs})
}

// PublishToGroup publishes with an ordering group, forwarded to queue
// subscribers so their consumers can keep per-group ordering.
func (t *Topic) PublishToGroup(ctx context.Context, body []byte, attrs map[string]string, groupID string) error {
	return t.publish(ctx, Message{Body: body, Attributes: attrs, GroupID: groupID})
}

func (t *Topic) publish(ctx context.Context, msg Message) error {
	// Serialized publishes keep per-subscriber delivery in publish order,
	// which FIFO topics guarantee to the ordered billing path.
	t.mu.Lock()
	defer t.mu.Unlock()

	var errs []error
	for _, sub := range t.subs {
		if !sub.filter.Matches(msg.Attributes) {
			continue
		}

		if sub.queue != nil {
			if _, err := sub.queue.SendToGroup(ctx, msg.Body, msg.Attributes, msg.GroupID); err != nil {
				log.Errorf("[Topic %s] Queue delivery to %s failed: %v", t.name, sub.name, err)
				errs = append(errs, fmt.Errorf("subscriber %s: %w", sub.name, err))
			}
			continue
		}

		if err := sub.handler(ctx, msg); err != nil {
			log.Errorf("[Topic %s] Handler %s failed: %v", t.name, sub.name, err)
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
