package routes_test

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/yashrajoria/reservation-service/controllers"
	"github.com/yashrajoria/reservation-service/models"
	"github.com/yashrajoria/reservation-service/routes"
)

type stubStock struct {
	reserved int
}

func (s *stubStock) Reserve(_ context.Context, ref models.SkuRef, quantity int) (*models.ReservationReceipt, error) {
	s.reserved += quantity
	return &models.ReservationReceipt{Sku: ref, Quantity: quantity}, nil
}

func (s *stubStock) CreateStock(context.Context, *models.CreateStockRequest) (*models.StockRecord, error) {
	return &models.StockRecord{}, nil
}

func (s *stubStock) GetStock(_ context.Context, ref models.SkuRef) (*models.StockRecord, error) {
	return &models.StockRecord{SkuKind: ref.Kind, SkuID: ref.ID}, nil
}

func (s *stubStock) Restock(context.Context, models.SkuRef, int) (*models.StockRecord, error) {
	return &models.StockRecord{}, nil
}

func (s *stubStock) DeleteStock(context.Context, models.SkuRef) error { return nil }

func setupRouter(stock *stubStock) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	routes.RegisterRoutes(r, routes.Controllers{Stock: controllers.NewStockController(stock)})
	return r
}

func post(r http.Handler, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestReserveRoute_RequiresAdmin(t *testing.T) {
	body := `{"product_id":"p-1","variant_id":"v-1","quantity":3}`
	cases := map[string]struct {
		headers map[string]string
		status  int
	}{
		"guest":    {nil, http.StatusForbidden},
		"customer": {map[string]string{"X-User-ID": "user-1"}, http.StatusForbidden},
		"admin":    {map[string]string{"X-User-ID": "ops", "X-User-Role": "admin"}, http.StatusOK},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			stock := &stubStock{}
			r := setupRouter(stock)

			w := post(r, "/stock/reserve", body, tc.headers)

			assert.Equal(t, tc.status, w.Code)
			if tc.status == http.StatusForbidden {
				assert.Zero(t, stock.reserved)
			} else {
				assert.Equal(t, 3, stock.reserved)
			}
		})
	}
}

func TestStockRead_IsPublic(t *testing.T) {
	r := setupRouter(&stubStock{})

	req := httptest.NewRequest(http.MethodGet, "/stock/v-1", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}
