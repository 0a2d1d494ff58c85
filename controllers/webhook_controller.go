package controllers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/stripe/stripe-go/v80"
	"github.com/yashrajoria/reservation-service/models"
	"github.com/yashrajoria/reservation-service/payment"
	"github.com/yashrajoria/reservation-service/services"
	"go.uber.org/zap"
)

type WebhookParser interface {
	ParseWebhook(r *http.Request) (stripe.Event, error)
}

type PaymentSettler interface {
	Settle(ctx context.Context, req *models.SettleRequest) (*models.Order, services.SettleOutcome, error)
	RecordPaymentFailure(ctx context.Context, externalOrderID, externalPaymentID, source string)
	RecordUnsettleable(ctx context.Context, entry *models.ReconciliationEntry) error
}

type WebhookController struct {
	parser  WebhookParser
	settler PaymentSettler
	logger  *zap.Logger
}

func NewWebhookController(parser WebhookParser, settler PaymentSettler, logger *zap.Logger) *WebhookController {
	return &WebhookController{parser: parser, settler: settler, logger: logger}
}

// StripeWebhook receives payment gateway events.
// POST /webhooks/stripe
//
// Anything that a retry cannot fix is acknowledged with 200 once it is on
// record. Infrastructure failures, including a failure to record, return 500
// so the gateway redelivers; settlement is idempotent.
func (wc *WebhookController) StripeWebhook(c *gin.Context) {
	event, err := wc.parser.ParseWebhook(c.Request)
	if err != nil {
		wc.logger.Warn("Stripe webhook signature verification failed", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid webhook"})
		return
	}

	ctx := c.Request.Context()
	log := wc.logger.With(
		zap.String("event_type", string(event.Type)),
		zap.String("event_id", event.ID),
	)
	log.Info("Processing Stripe webhook")

	var req *models.SettleRequest
	// captured is set for payments the gateway reports as taken; they are
	// never dropped without a trace.
	var captured *models.ReconciliationEntry
	switch event.Type {
	case "payment_intent.succeeded":
		var pi stripe.PaymentIntent
		if err = json.Unmarshal(event.Data.Raw, &pi); err != nil {
			captured = &models.ReconciliationEntry{ExternalPaymentID: event.ID}
			break
		}
		captured = &models.ReconciliationEntry{
			ExternalOrderID:   pi.Metadata[payment.MetaOrderID],
			ExternalPaymentID: pi.ID,
			Amount:            pi.Amount,
			Currency:          strings.ToUpper(string(pi.Currency)),
		}
		req, err = payment.FromPaymentIntent(&pi)
	case "checkout.session.completed":
		var sess stripe.CheckoutSession
		if err = json.Unmarshal(event.Data.Raw, &sess); err != nil {
			captured = &models.ReconciliationEntry{ExternalPaymentID: event.ID}
			break
		}
		if sess.PaymentStatus != stripe.CheckoutSessionPaymentStatusPaid {
			log.Info("Checkout session not paid yet", zap.String("payment_status", string(sess.PaymentStatus)))
			break
		}
		captured = &models.ReconciliationEntry{
			ExternalOrderID:   sess.Metadata[payment.MetaOrderID],
			ExternalPaymentID: sess.ID,
			Amount:            sess.AmountTotal,
			Currency:          strings.ToUpper(string(sess.Currency)),
		}
		req, err = payment.FromCheckoutSession(&sess)
	case "payment_intent.payment_failed":
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
			log.Error("Failed to unmarshal payment intent", zap.Error(err))
			break
		}
		wc.settler.RecordPaymentFailure(ctx, pi.Metadata[payment.MetaOrderID], pi.ID, models.SourceWebhook)
	default:
		log.Info("Unhandled webhook event type")
	}

	if err != nil && captured != nil {
		log.Warn("Webhook payload cannot be settled", zap.Error(err))
		captured.Source = models.SourceWebhook
		captured.Detail = err.Error()
		if rerr := wc.settler.RecordUnsettleable(ctx, captured); rerr != nil {
			log.Error("Unsettleable payment not recorded", zap.Error(rerr))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "settlement failed"})
			return
		}
	}
	if req != nil && err == nil {
		if retry := wc.settle(ctx, log, req); retry {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "settlement failed"})
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{"status": "received"})
}

// settle reports whether the gateway should redeliver.
func (wc *WebhookController) settle(ctx context.Context, log *zap.Logger, req *models.SettleRequest) bool {
	order, outcome, err := wc.settler.Settle(ctx, req)
	switch {
	case err == nil:
		log.Info("Webhook settled payment",
			zap.String("external_order_id", req.ExternalOrderID),
			zap.String("order_id", order.ID),
			zap.String("outcome", string(outcome)),
		)
		return false
	case errors.Is(err, services.ErrInvalidSettlement),
		errors.Is(err, services.ErrStockInsufficient),
		errors.Is(err, services.ErrSessionInvalid):
		log.Warn("Webhook settlement rejected", zap.String("external_order_id", req.ExternalOrderID), zap.Error(err))
		return false
	default:
		log.Error("Webhook settlement failed", zap.String("external_order_id", req.ExternalOrderID), zap.Error(err))
		return true
	}
}
