package services

import (
	"context"
	"errors"

	"github.com/yashrajoria/reservation-service/models"
	"go.uber.org/zap"
)

var (
	ErrInvalidQuantity = errors.New("quantity must be a positive integer")
	// ErrStockInsufficient aborts a whole multi-line operation. It wraps
	// repository.ErrOutOfStock and names the first SKU that could not be covered.
	ErrStockInsufficient = errors.New("stock insufficient")
)

// MetricsRecorder is satisfied by the CloudWatch metrics client.
type MetricsRecorder interface {
	RecordCount(ctx context.Context, metricName string, dimensions map[string]string) error
	RecordValue(ctx context.Context, metricName string, value float64, dimensions map[string]string) error
}

// EventPublisher sends domain events after commit.
type EventPublisher interface {
	Publish(ctx context.Context, evt models.DomainEvent) error
}

// Notifier delivers the order confirmation to the customer.
type Notifier interface {
	OrderConfirmed(ctx context.Context, order *models.Order) error
}

// ErrorReporter receives failures that have no caller to return to, such as
// a sweep that could not reach the store.
type ErrorReporter interface {
	Report(ctx context.Context, component string, err error)
}

// LogReporter reports errors through zap.
type LogReporter struct {
	Logger *zap.Logger
}

func (r LogReporter) Report(_ context.Context, component string, err error) {
	r.Logger.Error("Background task failed", zap.String("component", component), zap.Error(err))
}

func recordCount(ctx context.Context, m MetricsRecorder, name string, dims map[string]string) {
	if m == nil {
		return
	}
	_ = m.RecordCount(ctx, name, dims)
}

func recordValue(ctx context.Context, m MetricsRecorder, name string, value float64, dims map[string]string) {
	if m == nil {
		return
	}
	_ = m.RecordValue(ctx, name, value, dims)
}
