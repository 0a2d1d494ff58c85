package payment

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/stripe/stripe-go/v80"
	"github.com/yashrajoria/reservation-service/models"
)

// Metadata keys written on the PaymentIntent or Checkout Session when the
// checkout is created.
const (
	MetaOrderID        = "order_id"
	MetaUserID         = "user_id"
	MetaSessionID      = "session_id"
	MetaLineItems      = "line_items"
	MetaShipping       = "shipping"
	MetaSubtotal       = "subtotal"
	MetaDiscount       = "discount"
	MetaCouponDiscount = "coupon_discount"
)

var ErrMetadataIncomplete = errors.New("payment metadata incomplete")

// FromPaymentIntent builds a settle request from a captured PaymentIntent.
// The webhook signature has already been checked, so the request is marked
// pre-verified.
func FromPaymentIntent(pi *stripe.PaymentIntent) (*models.SettleRequest, error) {
	req, err := fromMetadata(pi.Metadata)
	if err != nil {
		return nil, err
	}
	req.ExternalPaymentID = pi.ID
	req.Amounts.TotalAmount = pi.Amount
	req.Amounts.Currency = strings.ToUpper(string(pi.Currency))
	if req.Shipping.Email == "" {
		req.Shipping.Email = pi.ReceiptEmail
	}
	return req, nil
}

// FromCheckoutSession builds a settle request from a completed hosted
// Checkout Session. The payment id is the underlying PaymentIntent when
// Stripe includes it.
func FromCheckoutSession(sess *stripe.CheckoutSession) (*models.SettleRequest, error) {
	req, err := fromMetadata(sess.Metadata)
	if err != nil {
		return nil, err
	}
	req.ExternalPaymentID = sess.ID
	if sess.PaymentIntent != nil && sess.PaymentIntent.ID != "" {
		req.ExternalPaymentID = sess.PaymentIntent.ID
	}
	req.Amounts.TotalAmount = sess.AmountTotal
	if req.Amounts.Subtotal == 0 {
		req.Amounts.Subtotal = sess.AmountSubtotal
	}
	req.Amounts.Currency = strings.ToUpper(string(sess.Currency))
	if req.Shipping.Email == "" && sess.CustomerDetails != nil {
		req.Shipping.Email = sess.CustomerDetails.Email
	}
	return req, nil
}

func fromMetadata(meta map[string]string) (*models.SettleRequest, error) {
	orderID := meta[MetaOrderID]
	if orderID == "" {
		return nil, fmt.Errorf("%w: %s missing", ErrMetadataIncomplete, MetaOrderID)
	}

	req := &models.SettleRequest{
		ExternalOrderID: orderID,
		UserID:          meta[MetaUserID],
		SessionID:       meta[MetaSessionID],
		Source:          models.SourceWebhook,
		PreVerified:     true,
	}

	raw := meta[MetaLineItems]
	if raw == "" {
		return nil, fmt.Errorf("%w: %s missing", ErrMetadataIncomplete, MetaLineItems)
	}
	if err := json.Unmarshal([]byte(raw), &req.Items); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMetadataIncomplete, MetaLineItems, err)
	}

	if raw := meta[MetaShipping]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &req.Shipping); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrMetadataIncomplete, MetaShipping, err)
		}
	}

	var err error
	if req.Amounts.Subtotal, err = metaInt(meta, MetaSubtotal); err != nil {
		return nil, err
	}
	if req.Amounts.Discount, err = metaInt(meta, MetaDiscount); err != nil {
		return nil, err
	}
	if req.Amounts.CouponDiscountAmount, err = metaInt(meta, MetaCouponDiscount); err != nil {
		return nil, err
	}
	return req, nil
}

func metaInt(meta map[string]string, key string) (int64, error) {
	v := meta[key]
	if v == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrMetadataIncomplete, key, err)
	}
	return n, nil
}
