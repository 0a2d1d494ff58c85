package apperrors

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/yashrajoria/reservation-service/repository"
	"github.com/yashrajoria/reservation-service/services"
)

// Error is the JSON error body returned by every handler.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func New(code int, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// FromDomain maps service and repository errors onto HTTP errors. Messages
// are fixed strings; the wrapped cause is for logs only.
func FromDomain(err error) *Error {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr
	}

	switch {
	case errors.Is(err, services.ErrSessionInvalid):
		return New(http.StatusForbidden, services.ErrSessionInvalid.Error(), err)
	case errors.Is(err, services.ErrStockInsufficient), errors.Is(err, repository.ErrOutOfStock):
		return New(http.StatusConflict, "Out of stock", err)
	case errors.Is(err, repository.ErrLockNotHeld):
		return New(http.StatusConflict, "No stock held for this SKU", err)
	case errors.Is(err, repository.ErrAlreadyExists):
		return New(http.StatusConflict, "Stock record already exists", err)
	case errors.Is(err, services.ErrInvalidSettlement), errors.Is(err, services.ErrInvalidQuantity):
		return New(http.StatusBadRequest, "Invalid request", err)
	case errors.Is(err, repository.ErrNotFound):
		return New(http.StatusNotFound, "Stock record not found", err)
	case errors.Is(err, repository.ErrOrderNotFound):
		return New(http.StatusNotFound, "Order not found", err)
	case errors.Is(err, repository.ErrEntryNotFound):
		return New(http.StatusNotFound, "Reconciliation entry not found", err)
	}
	return New(http.StatusInternalServerError, "Internal server error", err)
}

// ErrorMiddleware renders the last error pushed with c.Error when the
// handler has not written a response.
func ErrorMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}
		appErr := FromDomain(c.Errors.Last().Err)
		c.AbortWithStatusJSON(appErr.Code, appErr)
	}
}
