package controllers

import (
	"encoding/json"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/qwikcal/qwikcal/internal/pkg/billing"
	"github.com/qwikcal/qwikcal/internal/pkg/middleware"
	"github.com/qwikcal/qwikcal/internal/pkg/notify"
	"github.com/qwikcal/qwikcal/internal/pkg/pipeline"
)

// BillingController serves the subscription creation and webhook endpoints.
// Verified webhook events are published onto the ordered billing topic; the
// billing stage applies them, so a burst of provider retries cannot apply
// a newer state before an older one.
type BillingController struct {
	service       *billing.Service
	provider      *billing.ProviderClient
	billingTopic  *notify.Topic
	webhookSecret string
	validate      *validator.Validate
}

// NewBillingController wires the billing endpoints.
func NewBillingController(service *billing.Service, provider *billing.ProviderClient, billingTopic *notify.Topic, webhookSecret string) *BillingController {
	return &BillingController{
		service:       service,
		provider:      provider,
		billingTopic:  billingTopic,
		webhookSecret: webhookSecret,
		validate:      validator.New(),
	}
}

// subscribeRequest is the JSON body for subscription creation.
type subscribeRequest struct {
	PaymentMethodID string `json:"paymentMethodId" validate:"required"`
}

// Subscribe handles POST /billing/subscription.
func (bc *BillingController) Subscribe(c *fiber.Ctx) error {
	owner := middleware.GetOwnerContext(c)

	var req subscribeRequest
	if err := c.BodyParser(&req); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "invalid_submission", "Invalid request body")
	}
	if err := bc.validate.Struct(req); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "invalid_submission", err.Error())
	}

	sub, err := bc.service.CreateSubscription(c.UserContext(), bc.provider, owner.OwnerID, owner.Email, req.PaymentMethodID)
	if err != nil {
		log.Errorf("[Billing] Subscription creation for %s failed: %v", owner.OwnerID, err)
		return jsonError(c, fiber.StatusBadGateway, "billing_failed", "Could not create subscription")
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"subscriptionId": sub.ID,
		"status":         sub.Status,
	})
}

// webhookEvent is the provider's event envelope, reduced to the fields the
// pipeline consumes.
type webhookEvent struct {
	Type    string `json:"type"`
	Created int64  `json:"created"` // unix seconds
	Data    struct {
		Object struct {
			ID               string `json:"id"`
			Status           string `json:"status"`
			Customer         string `json:"customer"`
			CurrentPeriodEnd int64  `json:"current_period_end"` // unix seconds
			Metadata         struct {
				UserID string `json:"userId"`
			} `json:"metadata"`
		} `json:"object"`
	} `json:"data"`
}

// Webhook handles POST /billing/webhook. Signature verification fails
// closed; an unverifiable payload changes nothing. Unrecognized event types
// are acknowledged and ignored so the provider does not retry them forever.
func (bc *BillingController) Webhook(c *fiber.Ctx) error {
	payload := c.Body()
	signature := c.Get("Stripe-Signature")

	if !billing.VerifyWebhookSignature(payload, signature, bc.webhookSecret) {
		log.Warn("[Billing] Rejected webhook with invalid signature")
		return jsonError(c, fiber.StatusBadRequest, "invalid_signature", "Webhook signature verification failed")
	}

	var event webhookEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "invalid_payload", "Malformed webhook payload")
	}

	msgType, ok := webhookMessageType(event.Type)
	if !ok {
		log.Debugf("[Billing] Ignoring webhook type %s", event.Type)
		return c.JSON(fiber.Map{"received": true})
	}

	obj := event.Data.Object
	if obj.Metadata.UserID == "" {
		return jsonError(c, fiber.StatusBadRequest, "invalid_payload", "Missing owner metadata")
	}

	eventAt := time.Now()
	if event.Created > 0 {
		eventAt = time.Unix(event.Created, 0)
	}
	msg := pipeline.SubscriptionMessage{
		Type:           msgType,
		OwnerID:        obj.Metadata.UserID,
		Status:         obj.Status,
		SubscriptionID: obj.ID,
		CustomerID:     obj.Customer,
		EventAt:        eventAt.UnixMilli(),
	}
	if obj.CurrentPeriodEnd > 0 {
		msg.EndDate = time.Unix(obj.CurrentPeriodEnd, 0).UnixMilli()
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Could not process webhook")
	}

	attrs := map[string]string{pipeline.AttrEventType: string(msgType)}
	// Group by owner: events for one account replay in order, accounts do
	// not block each other
	if err := bc.billingTopic.PublishToGroup(c.UserContext(), body, attrs, obj.Metadata.UserID); err != nil {
		log.Errorf("[Billing] Failed to publish webhook %s: %v", event.Type, err)
		// Non-2xx makes the provider redeliver
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Could not process webhook")
	}

	return c.JSON(fiber.Map{"received": true})
}

// webhookMessageType maps provider event types onto pipeline message types.
func webhookMessageType(eventType string) (pipeline.MessageType, bool) {
	switch eventType {
	case "customer.subscription.created":
		return pipeline.TypeSubscriptionCreated, true
	case "customer.subscription.updated":
		return pipeline.TypeSubscriptionUpdated, true
	case "customer.subscription.deleted":
		return pipeline.TypeSubscriptionCancelled, true
	default:
		return "", false
	}
}
