package controllers

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/yashrajoria/reservation-service/models"
)

type ReconciliationLedger interface {
	ListOpen(ctx context.Context, limit int) ([]models.ReconciliationEntry, error)
	Resolve(ctx context.Context, id uint) error
}

type ReconciliationController struct {
	ledger ReconciliationLedger
}

func NewReconciliationController(ledger ReconciliationLedger) *ReconciliationController {
	return &ReconciliationController{ledger: ledger}
}

// ListOpen returns unresolved entries, newest first.
// GET /admin/reconciliation?limit=50
func (rc *ReconciliationController) ListOpen(c *gin.Context) {
	limit := 50
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 500 {
			badRequest(c, fmt.Errorf("limit must be between 1 and 500"))
			return
		}
		limit = n
	}

	entries, err := rc.ledger.ListOpen(c.Request.Context(), limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries, "count": len(entries)})
}

// Resolve marks an entry as handled.
// POST /admin/reconciliation/:id/resolve
func (rc *ReconciliationController) Resolve(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		badRequest(c, err)
		return
	}
	if err := rc.ledger.Resolve(c.Request.Context(), uint(id)); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "resolved": true})
}
