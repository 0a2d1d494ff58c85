package models

import (
	"fmt"
	"time"
)

type OrderStatus string

const (
	// OrderStatusUnverified marks an order recorded for audit whose payment
	// signature could not be verified. Never fulfilled automatically.
	OrderStatusUnverified OrderStatus = "unverified"
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusFulfilled  OrderStatus = "fulfilled"
	OrderStatusFailed     OrderStatus = "failed"
)

// LineItem is an immutable snapshot of a purchased line. Prices are in minor units.
type LineItem struct {
	ProductID    string `json:"product_id" bson:"product_id" binding:"required"`
	VariantID    string `json:"variant_id,omitempty" bson:"variant_id,omitempty"`
	Name         string `json:"name" bson:"name"`
	Quantity     int    `json:"quantity" bson:"quantity" binding:"required,min=1"`
	MRP          int64  `json:"mrp" bson:"mrp"`
	SellingPrice int64  `json:"selling_price" bson:"selling_price"`
	// HoldID names the checkout lock this line should consume instead of
	// deducting fresh stock.
	HoldID string `json:"hold_id,omitempty" bson:"-"`
}

func (l LineItem) Sku() (SkuRef, error) {
	return ResolveSkuRef(l.ProductID, l.VariantID)
}

// CartItem returns the line in the shape used for cart hashing.
func (l LineItem) CartItem() CartItem {
	return CartItem{ProductID: l.ProductID, VariantID: l.VariantID, Quantity: l.Quantity}
}

type ShippingInfo struct {
	Name       string `json:"name" bson:"name"`
	Email      string `json:"email" bson:"email"`
	Phone      string `json:"phone,omitempty" bson:"phone,omitempty"`
	Line1      string `json:"line1" bson:"line1"`
	Line2      string `json:"line2,omitempty" bson:"line2,omitempty"`
	City       string `json:"city" bson:"city"`
	State      string `json:"state,omitempty" bson:"state,omitempty"`
	PostalCode string `json:"postal_code" bson:"postal_code"`
	Country    string `json:"country" bson:"country"`
}

// Amounts is the monetary snapshot of an order, in minor units.
type Amounts struct {
	Subtotal             int64  `json:"subtotal" bson:"subtotal"`
	Discount             int64  `json:"discount" bson:"discount"`
	CouponDiscountAmount int64  `json:"coupon_discount_amount" bson:"coupon_discount_amount"`
	TotalAmount          int64  `json:"total_amount" bson:"total_amount"`
	Currency             string `json:"currency" bson:"currency"`
}

// Order is created exactly once per external order id.
type Order struct {
	ID                string       `json:"id" bson:"_id"`
	ExternalOrderID   string       `json:"external_order_id" bson:"external_order_id"`
	ExternalPaymentID string       `json:"external_payment_id" bson:"external_payment_id"`
	UserID            string       `json:"user_id,omitempty" bson:"user_id,omitempty"`
	Status            OrderStatus  `json:"status" bson:"status"`
	Products          []LineItem   `json:"products" bson:"products"`
	Shipping          ShippingInfo `json:"shipping" bson:"shipping"`
	Amounts           `bson:",inline"`
	Source            string    `json:"source" bson:"source"`
	CreatedAt         time.Time `json:"created_at" bson:"created_at"`
	UpdatedAt         time.Time `json:"updated_at" bson:"updated_at"`
}

// Settlement trigger sources.
const (
	SourceClient  = "client"
	SourceWebhook = "webhook"
	SourceQueue   = "queue"
)

// SettleRequest carries everything needed to settle one payment.
type SettleRequest struct {
	ExternalOrderID   string       `json:"external_order_id" binding:"required"`
	ExternalPaymentID string       `json:"external_payment_id" binding:"required"`
	Signature         string       `json:"signature"`
	SessionToken      string       `json:"session_token"`
	Items             []LineItem   `json:"items" binding:"required,min=1,dive"`
	Shipping          ShippingInfo `json:"shipping"`
	Amounts           Amounts      `json:"amounts"`

	// Set by the server, never bound from a request body.
	UserID      string `json:"-"`
	SessionID   string `json:"-"`
	Source      string `json:"-"`
	PreVerified bool   `json:"-"`
}

// Validate checks the parts of a request that binding tags cannot.
func (r *SettleRequest) Validate() error {
	if r.ExternalOrderID == "" {
		return fmt.Errorf("external_order_id is required")
	}
	if len(r.Items) == 0 {
		return fmt.Errorf("at least one item is required")
	}
	for i, item := range r.Items {
		if item.Quantity <= 0 {
			return fmt.Errorf("item %d: quantity must be positive", i)
		}
		if _, err := item.Sku(); err != nil {
			return fmt.Errorf("item %d: %w", i, err)
		}
	}
	return nil
}
