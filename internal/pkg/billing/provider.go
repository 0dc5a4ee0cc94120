package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/qwikcal/qwikcal/internal/pkg/env"
)

const defaultProviderAPIBaseURL = "https://api.stripe.com/v1"

// ProviderClient talks to the external payment provider. Only the two
// operations the subscription flow needs are implemented.
type ProviderClient struct {
	SecretKey      string
	PremiumPriceID string
	APIBaseURL     string

	HTTPClient *http.Client
}

// Customer is the provider-side customer handle.
type Customer struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// Subscription is the provider-side subscription state.
type Subscription struct {
	ID               string `json:"id"`
	Status           string `json:"status"`
	CurrentPeriodEnd int64  `json:"current_period_end"` // unix seconds
}

type providerError struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// NewProviderClientFromEnv builds a provider client from environment
// configuration.
func NewProviderClientFromEnv() *ProviderClient {
	return &ProviderClient{
		SecretKey:      strings.TrimSpace(env.GetEnv("BILLING_SECRET_KEY", "")),
		PremiumPriceID: strings.TrimSpace(env.GetEnv("BILLING_PREMIUM_PRICE_ID", "")),
		APIBaseURL:     strings.TrimRight(env.GetEnv("BILLING_API_BASE_URL", defaultProviderAPIBaseURL), "/"),
		HTTPClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// CreateCustomer registers a provider customer linked to the owner.
func (c *ProviderClient) CreateCustomer(ctx context.Context, ownerID, email, paymentMethodID string) (*Customer, error) {
	form := url.Values{}
	form.Set("email", strings.TrimSpace(email))
	form.Set("payment_method", strings.TrimSpace(paymentMethodID))
	form.Set("metadata[userId]", ownerID)

	var customer Customer
	if err := c.postForm(ctx, "/customers", form, &customer); err != nil {
		return nil, err
	}
	return &customer, nil
}

// CreateSubscription opens the premium subscription for a customer.
func (c *ProviderClient) CreateSubscription(ctx context.Context, ownerID, customerID string) (*Subscription, error) {
	if strings.TrimSpace(c.PremiumPriceID) == "" {
		return nil, errors.New("BILLING_PREMIUM_PRICE_ID is not configured")
	}

	form := url.Values{}
	form.Set("customer", strings.TrimSpace(customerID))
	form.Set("items[0][price]", c.PremiumPriceID)
	form.Set("metadata[userId]", ownerID)

	var sub Subscription
	if err := c.postForm(ctx, "/subscriptions", form, &sub); err != nil {
		return nil, err
	}
	return &sub, nil
}

func (c *ProviderClient) postForm(ctx context.Context, path string, form url.Values, out interface{}) error {
	if strings.TrimSpace(c.SecretKey) == "" {
		return errors.New("BILLING_SECRET_KEY is not configured")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.APIBaseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", "Bearer "+c.SecretKey)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var pe providerError
		if json.Unmarshal(body, &pe) == nil && pe.Error.Message != "" {
			return fmt.Errorf("billing provider %s: %s", path, pe.Error.Message)
		}
		return fmt.Errorf("billing provider %s: unexpected status %s", path, resp.Status)
	}

	return json.Unmarshal(body, out)
}
