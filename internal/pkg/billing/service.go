package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/qwikcal/qwikcal/app/models"
	"github.com/qwikcal/qwikcal/app/repository"
)

// EventKind is the logical subscription lifecycle transition.
type EventKind string

const (
	EventCreated   EventKind = "subscription.created"
	EventUpdated   EventKind = "subscription.updated"
	EventCancelled EventKind = "subscription.cancelled"
)

// SubscriptionEvent is the provider-neutral shape both input paths (ordered
// topic and webhook) are normalized into before hitting the single
// idempotent update funnel.
type SubscriptionEvent struct {
	Kind           EventKind
	OwnerID        string
	ProviderStatus string // provider-side status, e.g. "active"
	CustomerID     string
	SubscriptionID string
	Email          string
	EndDate        *time.Time
	EventAt        time.Time // orders events; stale events are no-ops
}

// Publisher is the notification sink the service publishes to after a
// successful state change.
type Publisher interface {
	Publish(ctx context.Context, body []byte, attrs map[string]string) error
}

// Service applies subscription lifecycle events to account records. Both the
// ordered billing topic and the provider webhook funnel through
// ApplySubscriptionEvent so the conditional update logic exists exactly once.
type Service struct {
	accounts      repository.AccountRepository
	notifications Publisher
}

// NewService creates a billing service from injected dependencies.
func NewService(accounts repository.AccountRepository, notifications Publisher) *Service {
	return &Service{accounts: accounts, notifications: notifications}
}

// subscriptionNotice is the notification body published after an applied
// state change.
type subscriptionNotice struct {
	Type    string `json:"type"`
	OwnerID string `json:"userId"`
	Status  string `json:"status"`
	Email   string `json:"email,omitempty"`
	EndDate int64  `json:"endDate,omitempty"`
}

// ApplySubscriptionEvent maps the event onto an internal status and performs
// the conditional, monotonic account update. Duplicate or out-of-order
// events return applied=false without touching the record or re-firing the
// notification.
func (s *Service) ApplySubscriptionEvent(ctx context.Context, ev SubscriptionEvent) (bool, error) {
	if ev.OwnerID == "" {
		return false, errors.New("owner id is required")
	}
	if ev.EventAt.IsZero() {
		return false, errors.New("event timestamp is required")
	}

	status, err := internalStatus(ev)
	if err != nil {
		return false, err
	}

	applied, err := s.accounts.ApplySubscriptionState(
		ev.OwnerID, status, ev.CustomerID, ev.SubscriptionID, ev.EndDate, ev.EventAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to apply subscription state for %s: %w", ev.OwnerID, err)
	}
	if !applied {
		log.Infof("[Billing] Skipped stale %s for owner %s (event at %s)", ev.Kind, ev.OwnerID, ev.EventAt.Format(time.RFC3339))
		return false, nil
	}

	log.Infof("[Billing] Applied %s for owner %s -> %s", ev.Kind, ev.OwnerID, status)
	s.publishNotice(ctx, ev, status)
	return true, nil
}

// CreateSubscription provisions a provider customer plus subscription and
// flips the account to premium through the same funnel.
func (s *Service) CreateSubscription(ctx context.Context, provider *ProviderClient, ownerID, email, paymentMethodID string) (*Subscription, error) {
	if ownerID == "" || strings.TrimSpace(paymentMethodID) == "" {
		return nil, errors.New("owner id and payment method are required")
	}

	customer, err := provider.CreateCustomer(ctx, ownerID, email, paymentMethodID)
	if err != nil {
		return nil, fmt.Errorf("failed to create billing customer: %w", err)
	}

	sub, err := provider.CreateSubscription(ctx, ownerID, customer.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to create subscription: %w", err)
	}

	var endDate *time.Time
	if sub.CurrentPeriodEnd > 0 {
		t := time.Unix(sub.CurrentPeriodEnd, 0)
		endDate = &t
	}

	if _, err := s.ApplySubscriptionEvent(ctx, SubscriptionEvent{
		Kind:           EventCreated,
		OwnerID:        ownerID,
		ProviderStatus: sub.Status,
		CustomerID:     customer.ID,
		SubscriptionID: sub.ID,
		Email:          email,
		EndDate:        endDate,
		EventAt:        time.Now(),
	}); err != nil {
		return nil, err
	}

	return sub, nil
}

// publishNotice tells downstream subscribers about the new state. A publish
// failure is logged, not surfaced: the account update already happened and
// the at-least-once pipeline tolerates a missed notice better than a
// double-applied one.
func (s *Service) publishNotice(ctx context.Context, ev SubscriptionEvent, status string) {
	if s.notifications == nil {
		return
	}

	notice := subscriptionNotice{
		Type:    string(ev.Kind),
		OwnerID: ev.OwnerID,
		Status:  status,
		Email:   ev.Email,
	}
	if ev.EndDate != nil {
		notice.EndDate = ev.EndDate.UnixMilli()
	}

	body, err := json.Marshal(notice)
	if err != nil {
		log.Errorf("[Billing] Failed to marshal notice for %s: %v", ev.OwnerID, err)
		return
	}

	attrs := map[string]string{
		"eventType":      string(ev.Kind),
		"deliveryMethod": "email",
	}
	if err := s.notifications.Publish(ctx, body, attrs); err != nil {
		log.Errorf("[Billing] Failed to publish notice for %s: %v", ev.OwnerID, err)
	}
}

// internalStatus maps a lifecycle event to the stored subscription status.
func internalStatus(ev SubscriptionEvent) (string, error) {
	switch ev.Kind {
	case EventCreated, EventUpdated:
		if isActiveStatus(ev.ProviderStatus) {
			return models.SubscriptionPremium, nil
		}
		return models.SubscriptionFree, nil
	case EventCancelled:
		return models.SubscriptionCancelled, nil
	default:
		return "", fmt.Errorf("unknown subscription event kind: %q", ev.Kind)
	}
}

// isActiveStatus reports whether a provider status entitles premium access.
func isActiveStatus(status string) bool {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "active", "trialing", "past_due":
		return true
	default:
		return false
	}
}
