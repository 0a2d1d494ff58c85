package models

import (
	"time"

	"gorm.io/gorm"
)

// Domain event types published after commit.
const (
	EventOrderSettled = "order.settled"
	EventStockSwept   = "stock.swept"
)

// DomainEvent is the Kafka envelope for order and stock events.
type DomainEvent struct {
	Type      string    `json:"type"`
	Key       string    `json:"key"`
	OrderID   string    `json:"order_id,omitempty"`
	Status    string    `json:"status,omitempty"`
	Total     int64     `json:"total,omitempty"`
	Currency  string    `json:"currency,omitempty"`
	Sku       *SkuRef   `json:"sku,omitempty"`
	Quantity  int       `json:"quantity,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// OrderNotification is published to SNS in the envelope the notification
// service consumes.
type OrderNotification struct {
	EventType string                 `json:"event_type"`
	Recipient string                 `json:"recipient"`
	Data      map[string]interface{} `json:"data"`
}

// NotificationOrderCreated is the notification service's event type for a
// confirmed order.
const NotificationOrderCreated = "order_created"

// PaymentEventMessage is read from the payment-events queue.
type PaymentEventMessage struct {
	Type string `json:"type"` // payment_succeeded | payment_failed
	SettleRequest
	SessionID string `json:"session_id,omitempty"`
	UserID    string `json:"user_id,omitempty"`
}

// Reconciliation entry kinds.
const (
	ReconcileUnverified = "unverified_order"
	ReconcileOutOfStock = "out_of_stock"
	// ReconcileCapturedUnverified is a gateway-confirmed payment whose order
	// was already recorded as unverified.
	ReconcileCapturedUnverified = "captured_unverified"
	// ReconcileUnsettleable is a captured payment whose event carried too
	// little to build a settle request.
	ReconcileUnsettleable = "unsettleable"
)

// ReconciliationEntry records a captured payment that did not turn into a
// fulfillable order, so an operator can follow up. There is at most one
// entry per kind and external order id; recording it again is a no-op.
type ReconciliationEntry struct {
	ID                uint           `gorm:"primaryKey" json:"id"`
	Kind              string         `gorm:"type:varchar(32);uniqueIndex:uniq_reconcile_kind_order;not null" json:"kind"`
	ExternalOrderID   string         `gorm:"type:varchar(128);uniqueIndex:uniq_reconcile_kind_order;not null" json:"external_order_id"`
	ExternalPaymentID string         `gorm:"type:varchar(128)" json:"external_payment_id"`
	Source            string         `gorm:"type:varchar(16)" json:"source"`
	Detail            string         `gorm:"type:text" json:"detail"`
	Amount            int64          `json:"amount"`
	Currency          string         `gorm:"type:varchar(10)" json:"currency"`
	Resolved          bool           `gorm:"not null;default:false;index" json:"resolved"`
	ResolvedAt        *time.Time     `json:"resolved_at,omitempty"`
	CreatedAt         time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt         gorm.DeletedAt `gorm:"index" json:"-"`
}

func (ReconciliationEntry) TableName() string {
	return "reconciliation_entries"
}
