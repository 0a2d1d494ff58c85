package controllers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/yashrajoria/reservation-service/middleware"
	"github.com/yashrajoria/reservation-service/models"
	"go.uber.org/zap"
)

type SessionGuard interface {
	CreateSession(ctx context.Context, items []models.CartItem, userID string) (*models.SessionToken, error)
	ValidateSession(ctx context.Context, token string, currentItems []models.CartItem) (*models.CheckoutSession, error)
}

type CartHolder interface {
	HoldCart(ctx context.Context, items []models.CartItem) ([]models.ReservationReceipt, error)
	ReleaseHold(ctx context.Context, receipts []models.ReservationReceipt)
}

type CheckoutController struct {
	sessions SessionGuard
	holder   CartHolder
	logger   *zap.Logger
}

func NewCheckoutController(sessions SessionGuard, holder CartHolder, logger *zap.Logger) *CheckoutController {
	return &CheckoutController{sessions: sessions, holder: holder, logger: logger}
}

// CreateSession starts a checkout and, with hold=true, locks the cart.
// POST /checkout/sessions
func (cc *CheckoutController) CreateSession(c *gin.Context) {
	var req models.CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	ctx := c.Request.Context()

	var holds []models.ReservationReceipt
	if req.Hold {
		var err error
		holds, err = cc.holder.HoldCart(ctx, req.Items)
		if err != nil {
			respondError(c, err)
			return
		}
	}

	token, err := cc.sessions.CreateSession(ctx, req.Items, middleware.GetUserID(c))
	if err != nil {
		if len(holds) > 0 {
			cc.holder.ReleaseHold(context.WithoutCancel(ctx), holds)
		}
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, models.CreateSessionResponse{SessionToken: *token, Holds: holds})
}

// ValidateSession re-checks a token, against the current cart when given.
// POST /checkout/sessions/validate
func (cc *CheckoutController) ValidateSession(c *gin.Context) {
	var req models.ValidateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	sess, err := cc.sessions.ValidateSession(c.Request.Context(), req.Token, req.Items)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"valid":      true,
		"session_id": sess.SessionID,
		"expires_at": sess.ExpiresAt,
	})
}
