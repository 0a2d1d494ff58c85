package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/yashrajoria/reservation-service/apperrors"
	"github.com/yashrajoria/reservation-service/logger"
	"github.com/yashrajoria/reservation-service/models"
	"go.uber.org/zap"
)

// respondError maps err to its HTTP shape. The cause stays attached to the
// gin context so the request logger records it.
func respondError(c *gin.Context, err error) {
	appErr := apperrors.FromDomain(err)
	_ = c.Error(err)
	if appErr.Code >= http.StatusInternalServerError {
		logger.Error(c.Request.Context(), "Request failed", err, zap.String("path", c.FullPath()))
	}
	c.AbortWithStatusJSON(appErr.Code, appErr)
}

func badRequest(c *gin.Context, err error) {
	respondError(c, apperrors.New(http.StatusBadRequest, "Invalid request", err))
}

// skuFromPath resolves /:skuId with an optional ?kind=variant|product.
func skuFromPath(c *gin.Context) (models.SkuRef, error) {
	kind, err := models.ParseSkuKind(c.Query("kind"))
	if err != nil {
		return models.SkuRef{}, err
	}
	return models.SkuRef{Kind: kind, ID: c.Param("skuId")}, nil
}
