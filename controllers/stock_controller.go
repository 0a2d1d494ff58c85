package controllers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/yashrajoria/reservation-service/models"
)

type StockService interface {
	Reserve(ctx context.Context, ref models.SkuRef, quantity int) (*models.ReservationReceipt, error)
	CreateStock(ctx context.Context, req *models.CreateStockRequest) (*models.StockRecord, error)
	GetStock(ctx context.Context, ref models.SkuRef) (*models.StockRecord, error)
	Restock(ctx context.Context, ref models.SkuRef, quantity int) (*models.StockRecord, error)
	DeleteStock(ctx context.Context, ref models.SkuRef) error
}

type StockController struct {
	service StockService
}

func NewStockController(service StockService) *StockController {
	return &StockController{service: service}
}

// CreateStock registers a stock record.
// POST /stock
func (sc *StockController) CreateStock(c *gin.Context) {
	var req models.CreateStockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	rec, err := sc.service.CreateStock(c.Request.Context(), &req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, rec)
}

// GetStock is the read-only catalog view.
// GET /stock/:skuId?kind=variant|product
func (sc *StockController) GetStock(c *gin.Context) {
	ref, err := skuFromPath(c)
	if err != nil {
		badRequest(c, err)
		return
	}

	rec, err := sc.service.GetStock(c.Request.Context(), ref)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"sku":                ref,
		"available_quantity": rec.AvailableQuantity,
		"locked_quantity":    rec.LockedQuantity,
		"is_available":       rec.IsAvailable,
		"sold_out_at":        rec.SoldOutAt,
	})
}

// Restock adds units to a record.
// POST /stock/:skuId/restock
func (sc *StockController) Restock(c *gin.Context) {
	ref, err := skuFromPath(c)
	if err != nil {
		badRequest(c, err)
		return
	}
	var req models.RestockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	rec, err := sc.service.Restock(c.Request.Context(), ref, req.Quantity)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

// DeleteStock soft-deletes a record.
// DELETE /stock/:skuId
func (sc *StockController) DeleteStock(c *gin.Context) {
	ref, err := skuFromPath(c)
	if err != nil {
		badRequest(c, err)
		return
	}
	if err := sc.service.DeleteStock(c.Request.Context(), ref); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Reserve deducts stock for one SKU.
// POST /stock/reserve
func (sc *StockController) Reserve(c *gin.Context) {
	var req models.ReserveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	ref, err := models.ResolveSkuRef(req.ProductID, req.VariantID)
	if err != nil {
		badRequest(c, err)
		return
	}

	rcpt, err := sc.service.Reserve(c.Request.Context(), ref, req.Quantity)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rcpt)
}
