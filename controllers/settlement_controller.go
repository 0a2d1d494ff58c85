package controllers

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/yashrajoria/reservation-service/middleware"
	"github.com/yashrajoria/reservation-service/models"
	"github.com/yashrajoria/reservation-service/repository"
	"github.com/yashrajoria/reservation-service/services"
)

type Settler interface {
	Settle(ctx context.Context, req *models.SettleRequest) (*models.Order, services.SettleOutcome, error)
	GetOrder(ctx context.Context, externalOrderID string) (*models.Order, error)
}

type SettlementController struct {
	settler Settler
}

func NewSettlementController(settler Settler) *SettlementController {
	return &SettlementController{settler: settler}
}

// Settle is the client-side callback after the payment gateway redirects back.
// It must present the checkout session token issued for the cart.
// POST /checkout/settle
func (sc *SettlementController) Settle(c *gin.Context) {
	var req models.SettleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if req.SessionToken == "" {
		respondError(c, fmt.Errorf("%w: %w", services.ErrSessionInvalid, services.ErrSessionMissing))
		return
	}
	req.Source = models.SourceClient
	req.UserID = middleware.GetUserID(c)

	order, outcome, err := sc.settler.Settle(c.Request.Context(), &req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(outcomeStatus(outcome), gin.H{
		"outcome": outcome,
		"order":   order,
	})
}

// GetOrder returns the order settled for an external order id.
// GET /orders/:externalOrderId
func (sc *SettlementController) GetOrder(c *gin.Context) {
	order, err := sc.settler.GetOrder(c.Request.Context(), c.Param("externalOrderId"))
	if err != nil {
		respondError(c, err)
		return
	}
	if uid := middleware.GetUserID(c); uid != "" && order.UserID != "" && order.UserID != uid &&
		middleware.GetRole(c) != middleware.AdminRole {
		respondError(c, repository.ErrOrderNotFound)
		return
	}
	c.JSON(http.StatusOK, order)
}

func outcomeStatus(o services.SettleOutcome) int {
	switch o {
	case services.OutcomeCreated:
		return http.StatusCreated
	case services.OutcomeUnverified:
		return http.StatusAccepted
	default:
		return http.StatusOK
	}
}
