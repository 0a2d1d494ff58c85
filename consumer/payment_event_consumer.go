package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/yashrajoria/reservation-service/models"
	awspkg "github.com/yashrajoria/reservation-service/pkg/aws"
	"github.com/yashrajoria/reservation-service/services"
	"go.uber.org/zap"
)

const (
	EventPaymentSucceeded = "payment_succeeded"
	EventPaymentFailed    = "payment_failed"
)

// Settler is the part of the settlement service the consumer drives.
type Settler interface {
	Settle(ctx context.Context, req *models.SettleRequest) (*models.Order, services.SettleOutcome, error)
	RecordPaymentFailure(ctx context.Context, externalOrderID, externalPaymentID, source string)
}

type poller interface {
	StartPolling(ctx context.Context, handler awspkg.MessageHandler) error
}

// PaymentEventConsumer settles payments announced on the payment-events
// queue. It is a third trigger next to the client callback and the webhook;
// settlement idempotency makes the overlap harmless.
type PaymentEventConsumer struct {
	queue   poller
	settler Settler
	logger  *zap.Logger
}

func NewPaymentEventConsumer(queue *awspkg.SQSConsumer, settler Settler, logger *zap.Logger) *PaymentEventConsumer {
	return &PaymentEventConsumer{queue: queue, settler: settler, logger: logger}
}

// Start blocks until ctx is cancelled.
func (c *PaymentEventConsumer) Start(ctx context.Context) {
	c.logger.Info("Starting payment event consumer")
	if err := c.queue.StartPolling(ctx, c.Handle); err != nil && !errors.Is(err, context.Canceled) {
		c.logger.Error("Payment event consumer stopped", zap.Error(err))
	}
}

// snsEnvelope unwraps messages delivered through an SNS subscription.
type snsEnvelope struct {
	Type    string `json:"Type"`
	Message string `json:"Message"`
}

// Handle returns an error only when a retry could succeed. Malformed
// messages and business rejections are logged and acknowledged.
func (c *PaymentEventConsumer) Handle(ctx context.Context, body string) error {
	raw := []byte(body)
	var env snsEnvelope
	if err := json.Unmarshal(raw, &env); err == nil && env.Type == "Notification" && env.Message != "" {
		raw = []byte(env.Message)
	}

	var msg models.PaymentEventMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		c.logger.Warn("Dropping malformed payment event", zap.Error(err))
		return nil
	}

	switch msg.Type {
	case EventPaymentSucceeded:
		return c.settle(ctx, &msg)
	case EventPaymentFailed:
		c.settler.RecordPaymentFailure(ctx, msg.ExternalOrderID, msg.ExternalPaymentID, models.SourceQueue)
		return nil
	default:
		c.logger.Info("Ignoring payment event", zap.String("type", msg.Type))
		return nil
	}
}

func (c *PaymentEventConsumer) settle(ctx context.Context, msg *models.PaymentEventMessage) error {
	req := msg.SettleRequest
	req.SessionID = msg.SessionID
	req.UserID = msg.UserID
	req.Source = models.SourceQueue
	// The payment service publishes only after verifying the gateway's webhook.
	req.PreVerified = true

	order, outcome, err := c.settler.Settle(ctx, &req)
	switch {
	case err == nil:
		c.logger.Info("Payment event settled",
			zap.String("external_order_id", req.ExternalOrderID),
			zap.String("order_id", order.ID),
			zap.String("outcome", string(outcome)),
		)
		return nil
	case errors.Is(err, services.ErrInvalidSettlement),
		errors.Is(err, services.ErrStockInsufficient),
		errors.Is(err, services.ErrSessionInvalid):
		c.logger.Warn("Payment event rejected",
			zap.String("external_order_id", req.ExternalOrderID),
			zap.Error(err),
		)
		return nil
	default:
		return fmt.Errorf("settle %s: %w", req.ExternalOrderID, err)
	}
}
