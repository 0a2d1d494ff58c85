package payment

import (
	"bytes"
	"errors"
	"io"
	"net/http"

	"github.com/stripe/stripe-go/v80"
	"github.com/stripe/stripe-go/v80/webhook"
)

// maxWebhookBody matches Stripe's own guidance for webhook payload size.
const maxWebhookBody = 65536

var ErrWebhookSecretMissing = errors.New("stripe webhook secret not configured")

// StripeVerifier authenticates webhook deliveries with the endpoint secret.
type StripeVerifier struct {
	webhookSecret string
}

func NewStripeVerifier(webhookSecret string) *StripeVerifier {
	return &StripeVerifier{webhookSecret: webhookSecret}
}

// ParseWebhook reads the body, restores it for later readers, and verifies
// the Stripe-Signature header.
func (s *StripeVerifier) ParseWebhook(r *http.Request) (stripe.Event, error) {
	if s.webhookSecret == "" {
		return stripe.Event{}, ErrWebhookSecretMissing
	}

	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		return stripe.Event{}, err
	}
	r.Body = io.NopCloser(bytes.NewBuffer(payload))

	return webhook.ConstructEventWithOptions(payload, r.Header.Get("Stripe-Signature"), s.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
}
