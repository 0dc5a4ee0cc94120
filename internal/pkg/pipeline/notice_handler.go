package pipeline

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/qwikcal/qwikcal/internal/pkg/mail"
	"github.com/qwikcal/qwikcal/internal/pkg/notify"
)

// SubscriptionNoticeFilter matches the account-facing subscription notices
// carried by email.
func SubscriptionNoticeFilter() notify.Filter {
	return notify.Filter{
		AttrEventType: {
			string(TypeSubscriptionCreated),
			string(TypeSubscriptionUpdated),
			string(TypeSubscriptionCancelled),
		},
		AttrDeliveryMethod: {"email"},
	}
}

// subscriptionNotice mirrors the body published by the billing service.
type subscriptionNotice struct {
	Status  string `json:"status"`
	Email   string `json:"email"`
	EndDate int64  `json:"endDate"` // unix milliseconds
}

// NewSubscriptionNoticeHandler returns a topic handler emailing the owner
// about their new subscription state. A notice without an email address is
// dropped; there is nowhere to send it.
func NewSubscriptionNoticeHandler(mailer mail.Transport) notify.HandlerFunc {
	return func(ctx context.Context, msg notify.Message) error {
		var notice subscriptionNotice
		if err := json.Unmarshal(msg.Body, &notice); err != nil {
			log.Errorf("[SubscriptionNotice] Malformed notice: %v", err)
			return nil
		}
		if notice.Email == "" {
			log.Debug("[SubscriptionNotice] Notice without email address, skipping")
			return nil
		}

		var endDate *time.Time
		if notice.EndDate > 0 {
			t := time.UnixMilli(notice.EndDate)
			endDate = &t
		}

		body, err := mail.RenderSubscriptionEmail(mail.SubscriptionEmailData{
			Status:  notice.Status,
			EndDate: endDate,
		})
		if err != nil {
			return err
		}
		return mailer.Send(notice.Email, "Your QwikCal subscription", body)
	}
}
