package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	// DefaultMaxReceives is the delivery-attempt threshold before a message
	// moves to the dead-letter list.
	DefaultMaxReceives = 3

	// MessageTTL bounds how long an unconsumed message payload survives.
	MessageTTL = 24 * time.Hour
)

// Message is the unit of work flowing through a queue. Delivery is
// at-least-once: consumers must be idempotent.
type Message struct {
	ID           string            `json:"id"`
	Body         json.RawMessage   `json:"body"`
	Attributes   map[string]string `json:"attributes,omitempty"`
	GroupID      string            `json:"group_id,omitempty"`
	ReceiveCount int               `json:"receive_count"`
	EnqueuedAt   time.Time         `json:"enqueued_at"`
}

// Queue is a Redis-list-backed message queue with batch receive,
// partial-batch acknowledgment and dead-letter routing. The pending and
// processing lists hold message IDs; payloads live under their own keys so
// a crashed consumer leaves the message recoverable.
type Queue struct {
	client      *redis.Client
	name        string
	maxReceives int
}

// NewQueue creates a queue over the given Redis client.
func NewQueue(client *redis.Client, name string, maxReceives int) *Queue {
	if maxReceives <= 0 {
		maxReceives = DefaultMaxReceives
	}
	return &Queue{
		client:      client,
		name:        name,
		maxReceives: maxReceives,
	}
}

// Name returns the queue name.
func (q *Queue) Name() string {
	return q.name
}

func (q *Queue) pendingKey() string    { return "queue:" + q.name }
func (q *Queue) processingKey() string { return "queue:" + q.name + ":processing" }
func (q *Queue) deadLetterKey() string { return "queue:" + q.name + ":dlq" }
func (q *Queue) messageKey(id string) string {
	return "queue:" + q.name + ":msg:" + id
}

// Send enqueues a message body with optional routing attributes.
func (q *Queue) Send(ctx context.Context, body []byte, attrs map[string]string) (*Message, error) {
	return q.SendToGroup(ctx, body, attrs, "")
}

// SendToGroup enqueues a message tagged with an ordering group. Ordering
// within a group holds as long as the group's consumer runs sequentially.
func (q *Queue) SendToGroup(ctx context.Context, body []byte, attrs map[string]string, groupID string) (*Message, error) {
	msg := &Message{
		ID:         uuid.New().String(),
		Body:       body,
		Attributes: attrs,
		GroupID:    groupID,
		EnqueuedAt: time.Now(),
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal message: %w", err)
	}

	// Pipeline keeps payload write and list push together
	pipe := q.client.Pipeline()
	pipe.Set(ctx, q.messageKey(msg.ID), data, MessageTTL)
	pipe.LPush(ctx, q.pendingKey(), msg.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to enqueue message: %w", err)
	}

	log.Debugf("[Queue %s] Enqueued message %s", q.name, msg.ID)
	return msg, nil
}

// ReceiveBatch pops up to max messages, waiting up to wait for the first
// one. Received messages move to the processing list until acknowledged or
// failed; their receive count is incremented on receipt.
func (q *Queue) ReceiveBatch(ctx context.Context, max int, wait time.Duration) ([]*Message, error) {
	if max <= 0 {
		max = 1
	}

	if wait <= 0 {
		wait = time.Second
	}

	var msgs []*Message
	for len(msgs) < max {
		var id string
		var err error
		if len(msgs) == 0 {
			// Block for the first message only
			id, err = q.client.BRPopLPush(ctx, q.pendingKey(), q.processingKey(), wait).Result()
		} else {
			// Drain whatever is already pending without blocking
			id, err = q.client.RPopLPush(ctx, q.pendingKey(), q.processingKey()).Result()
		}
		if err == redis.Nil {
			break
		}
		if err != nil {
			if len(msgs) > 0 {
				// Return what we have; the remaining messages stay queued
				break
			}
			return nil, err
		}

		msg, err := q.loadMessage(ctx, id)
		if err != nil {
			// Payload missing or corrupt; drop the stray list entry
			log.Errorf("[Queue %s] Dropping unreadable message %s: %v", q.name, id, err)
			q.client.LRem(ctx, q.processingKey(), 1, id)
			q.client.Del(ctx, q.messageKey(id))
			continue
		}

		msg.ReceiveCount++
		q.storeMessage(ctx, msg)
		msgs = append(msgs, msg)
	}

	return msgs, nil
}

// Ack acknowledges a message as processed, removing it entirely.
func (q *Queue) Ack(ctx context.Context, msg *Message) {
	pipe := q.client.Pipeline()
	pipe.LRem(ctx, q.processingKey(), 1, msg.ID)
	pipe.Del(ctx, q.messageKey(msg.ID))
	if _, err := pipe.Exec(ctx); err != nil {
		log.Errorf("[Queue %s] Failed to ack message %s: %v", q.name, msg.ID, err)
	}
}

// Fail reports a message as failed. Under the delivery-attempt threshold it
// is requeued for redelivery; at the threshold it is dead-lettered for
// manual inspection. Requeueing targets the consuming end, so callers
// failing several messages from one batch must fail them in reverse
// receive order to keep redelivery in the original order.
func (q *Queue) Fail(ctx context.Context, msg *Message) {
	if msg.ReceiveCount >= q.maxReceives {
		q.deadLetter(ctx, msg)
		return
	}

	q.storeMessage(ctx, msg)
	pipe := q.client.Pipeline()
	pipe.LRem(ctx, q.processingKey(), 1, msg.ID)
	// RPush puts the message at the consuming end so it is retried next
	pipe.RPush(ctx, q.pendingKey(), msg.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		log.Errorf("[Queue %s] Failed to requeue message %s: %v", q.name, msg.ID, err)
		return
	}
	log.Infof("[Queue %s] Requeued message %s (attempt %d/%d)", q.name, msg.ID, msg.ReceiveCount, q.maxReceives)
}

// deadLetter moves a message to the dead-letter list.
func (q *Queue) deadLetter(ctx context.Context, msg *Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Errorf("[Queue %s] Failed to marshal dead-letter message %s: %v", q.name, msg.ID, err)
		return
	}

	pipe := q.client.Pipeline()
	pipe.LPush(ctx, q.deadLetterKey(), data)
	pipe.LRem(ctx, q.processingKey(), 1, msg.ID)
	pipe.Del(ctx, q.messageKey(msg.ID))
	if _, err := pipe.Exec(ctx); err != nil {
		log.Errorf("[Queue %s] Failed to dead-letter message %s: %v", q.name, msg.ID, err)
		return
	}
	log.Warnf("[Queue %s] Dead-lettered message %s after %d attempts", q.name, msg.ID, msg.ReceiveCount)
}

// Size returns the number of pending messages.
func (q *Queue) Size(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.pendingKey()).Result()
}

// DeadLetterSize returns the number of dead-lettered messages.
func (q *Queue) DeadLetterSize(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.deadLetterKey()).Result()
}

func (q *Queue) loadMessage(ctx context.Context, id string) (*Message, error) {
	data, err := q.client.Get(ctx, q.messageKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("message data not found for ID %s: %w", id, err)
	}
	var msg Message
	if err := json.Unmarshal([]byte(data), &msg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal message %s: %w", id, err)
	}
	return &msg, nil
}

func (q *Queue) storeMessage(ctx context.Context, msg *Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Errorf("[Queue %s] Failed to marshal message %s: %v", q.name, msg.ID, err)
		return
	}
	if err := q.client.Set(ctx, q.messageKey(msg.ID), data, MessageTTL).Err(); err != nil {
		log.Errorf("[Queue %s] Failed to update message %s: %v", q.name, msg.ID, err)
	}
}
