package notify

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/yashrajoria/reservation-service/models"
	awspkg "github.com/yashrajoria/reservation-service/pkg/aws"
	"go.uber.org/zap"
)

var ErrNoRecipient = errors.New("order has no customer email")

// SNSNotifier publishes order confirmations for the notification service.
// The message carries only a link to the order, never the order contents.
type SNSNotifier struct {
	publisher awspkg.SNSPublisher
	topicArn  string
	linkBase  string
	logger    *zap.Logger
}

func NewSNSNotifier(publisher awspkg.SNSPublisher, topicArn, linkBase string, logger *zap.Logger) *SNSNotifier {
	return &SNSNotifier{
		publisher: publisher,
		topicArn:  topicArn,
		linkBase:  strings.TrimRight(linkBase, "/"),
		logger:    logger,
	}
}

func (n *SNSNotifier) OrderConfirmed(ctx context.Context, order *models.Order) error {
	if order.Shipping.Email == "" {
		return ErrNoRecipient
	}

	msg := models.OrderNotification{
		EventType: models.NotificationOrderCreated,
		Recipient: order.Shipping.Email,
		Data: map[string]interface{}{
			"order_id":     order.ExternalOrderID,
			"customer":     order.Shipping.Name,
			"link":         n.Link(order),
			"total_amount": order.TotalAmount,
			"currency":     order.Currency,
		},
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	if err := n.publisher.Publish(ctx, n.topicArn, payload, map[string]string{"event_type": msg.EventType}); err != nil {
		return err
	}
	n.logger.Info("Order confirmation published", zap.String("order_id", order.ID))
	return nil
}

// Link is the customer-facing URL of the order.
func (n *SNSNotifier) Link(order *models.Order) string {
	return n.linkBase + "/orders/" + order.ExternalOrderID
}
