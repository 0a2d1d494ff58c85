package models

import (
	"fmt"
	"time"
)

// SkuKind tells whether a stock record belongs to a variant or to a product
// that has no real variants.
type SkuKind string

const (
	SkuKindVariant SkuKind = "variant"
	SkuKindProduct SkuKind = "product"
)

// SkuRef identifies one purchasable unit. It is resolved once at the API
// boundary and carried as-is through reservation and settlement.
type SkuRef struct {
	Kind SkuKind `json:"kind" bson:"sku_kind"`
	ID   string  `json:"id" bson:"sku_id"`
}

func NewVariantRef(variantID string) SkuRef {
	return SkuRef{Kind: SkuKindVariant, ID: variantID}
}

func NewProductRef(productID string) SkuRef {
	return SkuRef{Kind: SkuKindProduct, ID: productID}
}

// ResolveSkuRef picks the variant record when a variant id is present and
// falls back to the product-level record otherwise.
func ResolveSkuRef(productID, variantID string) (SkuRef, error) {
	if variantID != "" {
		return NewVariantRef(variantID), nil
	}
	if productID == "" {
		return SkuRef{}, fmt.Errorf("product_id or variant_id is required")
	}
	return NewProductRef(productID), nil
}

// ParseSkuKind maps the ?kind= query value onto a SkuKind.
func ParseSkuKind(s string) (SkuKind, error) {
	switch SkuKind(s) {
	case "", SkuKindVariant:
		return SkuKindVariant, nil
	case SkuKindProduct:
		return SkuKindProduct, nil
	}
	return "", fmt.Errorf("unknown sku kind %q", s)
}

func (r SkuRef) String() string {
	return string(r.Kind) + ":" + r.ID
}

// StockHold is one checkout lock on a record. Each hold expires on its own.
type StockHold struct {
	ID        string    `json:"id" bson:"id"`
	Quantity  int       `json:"quantity" bson:"quantity"`
	ExpiresAt time.Time `json:"expires_at" bson:"expires_at"`
}

// StockRecord holds the per-SKU counters. LockedQuantity is the sum of Holds
// and LockExpiresAt the earliest hold expiry, nil when nothing is held.
type StockRecord struct {
	ID                string      `json:"id" bson:"_id"`
	SkuKind           SkuKind     `json:"sku_kind" bson:"sku_kind"`
	SkuID             string      `json:"sku_id" bson:"sku_id"`
	ProductID         string      `json:"product_id" bson:"product_id"`
	AvailableQuantity int         `json:"available_quantity" bson:"available_quantity"`
	LockedQuantity    int         `json:"locked_quantity" bson:"locked_quantity"`
	LockExpiresAt     *time.Time  `json:"lock_expires_at" bson:"lock_expires_at"`
	Holds             []StockHold `json:"holds,omitempty" bson:"holds"`
	IsAvailable       bool        `json:"is_available" bson:"is_available"`
	SoldOutAt         *time.Time  `json:"sold_out_at" bson:"sold_out_at"`
	CreatedAt         time.Time   `json:"created_at" bson:"created_at"`
	UpdatedAt         time.Time   `json:"updated_at" bson:"updated_at"`
	DeletedAt         *time.Time  `json:"deleted_at,omitempty" bson:"deleted_at"`
}

func (s *StockRecord) Ref() SkuRef {
	return SkuRef{Kind: s.SkuKind, ID: s.SkuID}
}

// ReservationReceipt is returned by a successful conditional decrement.
type ReservationReceipt struct {
	Sku            SkuRef     `json:"sku"`
	Quantity       int        `json:"quantity"`
	RemainingStock int        `json:"remaining_stock"`
	SoldOut        bool       `json:"sold_out"`
	LockExpiresAt  *time.Time `json:"lock_expires_at,omitempty"`
	// HoldID is set on receipts for a checkout lock.
	HoldID string `json:"hold_id,omitempty"`
}

// CreateStockRequest registers a new stock record for a product or variant.
type CreateStockRequest struct {
	ProductID string `json:"product_id" binding:"required"`
	VariantID string `json:"variant_id"`
	Available int    `json:"available" binding:"gte=0"`
}

// RestockRequest adds units back to an existing record.
type RestockRequest struct {
	Quantity int `json:"quantity" binding:"required,min=1"`
}

// ReserveRequest deducts stock for a single SKU.
type ReserveRequest struct {
	ProductID string `json:"product_id"`
	VariantID string `json:"variant_id"`
	Quantity  int    `json:"quantity" binding:"required,min=1"`
}
