package models

import "time"

// CartItem is one line of the cart a checkout session is bound to.
type CartItem struct {
	ProductID string `json:"product_id" binding:"required"`
	VariantID string `json:"variant_id"`
	Quantity  int    `json:"quantity" binding:"required,min=1"`
}

// CheckoutSession is the server-side half of a checkout session token.
type CheckoutSession struct {
	SessionID string     `json:"session_id"`
	CartHash  string     `json:"cart_hash"`
	UserID    string     `json:"user_id,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt time.Time  `json:"expires_at"`
	Used      bool       `json:"used"`
	UsedAt    *time.Time `json:"used_at,omitempty"`
	// UsedBy is the external order id that consumed the session.
	UsedBy string `json:"used_by,omitempty"`
}

// SessionToken is handed to the client when a checkout starts.
type SessionToken struct {
	Token     string    `json:"token"`
	SessionID string    `json:"session_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// CreateSessionRequest starts a checkout. Hold locks every line for the lock TTL.
type CreateSessionRequest struct {
	Items []CartItem `json:"items" binding:"required,min=1,dive"`
	Hold  bool       `json:"hold"`
}

// CreateSessionResponse is returned by POST /checkout/sessions.
type CreateSessionResponse struct {
	SessionToken
	Holds []ReservationReceipt `json:"holds,omitempty"`
}

// ValidateSessionRequest re-checks a token against the current cart.
type ValidateSessionRequest struct {
	Token string     `json:"token" binding:"required"`
	Items []CartItem `json:"items" binding:"omitempty,dive"`
}
