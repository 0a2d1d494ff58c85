package controllers_test

import (
	"context"
	"fmt"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/yashrajoria/reservation-service/controllers"
	"github.com/yashrajoria/reservation-service/models"
	"github.com/yashrajoria/reservation-service/repository"
	"github.com/yashrajoria/reservation-service/services"
)

type mockSettler struct {
	order   *models.Order
	outcome services.SettleOutcome
	err     error

	got          *models.SettleRequest
	failures     []string
	unsettleable []models.ReconciliationEntry
	recordErr    error
}

func (m *mockSettler) Settle(_ context.Context, req *models.SettleRequest) (*models.Order, services.SettleOutcome, error) {
	m.got = req
	return m.order, m.outcome, m.err
}

func (m *mockSettler) GetOrder(_ context.Context, _ string) (*models.Order, error) {
	return m.order, m.err
}

func (m *mockSettler) RecordPaymentFailure(_ context.Context, externalOrderID, _, _ string) {
	m.failures = append(m.failures, externalOrderID)
}

func (m *mockSettler) RecordUnsettleable(_ context.Context, entry *models.ReconciliationEntry) error {
	if m.recordErr != nil {
		return m.recordErr
	}
	m.unsettleable = append(m.unsettleable, *entry)
	return nil
}

func setupSettlementRouter(settler controllers.Settler) *gin.Engine {
	r := newTestEngine()
	c := controllers.NewSettlementController(settler)
	r.POST("/checkout/settle", c.Settle)
	r.GET("/orders/:externalOrderId", c.GetOrder)
	return r
}

func validSettleBody() models.SettleRequest {
	return models.SettleRequest{
		ExternalOrderID:   "ord-1",
		ExternalPaymentID: "pay-1",
		Signature:         "abc",
		SessionToken:      "tok-1",
		Items:             []models.LineItem{{ProductID: "p-1", VariantID: "v-1", Quantity: 1}},
	}
}

func TestSettle_OutcomeStatuses(t *testing.T) {
	cases := []struct {
		outcome services.SettleOutcome
		status  int
	}{
		{services.OutcomeCreated, http.StatusCreated},
		{services.OutcomeUnverified, http.StatusAccepted},
		{services.OutcomeAlreadySettled, http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(string(tc.outcome), func(t *testing.T) {
			settler := &mockSettler{order: &models.Order{ID: "o-1", ExternalOrderID: "ord-1"}, outcome: tc.outcome}
			r := setupSettlementRouter(settler)

			w := doJSON(r, http.MethodPost, "/checkout/settle", validSettleBody(), map[string]string{"X-User-ID": "user-1"})

			assert.Equal(t, tc.status, w.Code)
			assert.Equal(t, string(tc.outcome), decode(w)["outcome"])
			assert.Equal(t, models.SourceClient, settler.got.Source)
			assert.Equal(t, "user-1", settler.got.UserID)
			assert.False(t, settler.got.PreVerified)
		})
	}
}

func TestSettle_ErrorMapping(t *testing.T) {
	cases := map[string]struct {
		err    error
		status int
	}{
		"session":  {fmt.Errorf("%w: %w", services.ErrSessionInvalid, services.ErrSessionUsed), http.StatusForbidden},
		"stock":    {fmt.Errorf("%w: sku=variant:v-1", services.ErrStockInsufficient), http.StatusConflict},
		"invalid":  {fmt.Errorf("%w: bad", services.ErrInvalidSettlement), http.StatusBadRequest},
		"internal": {fmt.Errorf("mongo unavailable"), http.StatusInternalServerError},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			r := setupSettlementRouter(&mockSettler{err: tc.err})
			w := doJSON(r, http.MethodPost, "/checkout/settle", validSettleBody(), nil)
			assert.Equal(t, tc.status, w.Code)
		})
	}
}

func TestSettle_IgnoresServerOnlyFields(t *testing.T) {
	settler := &mockSettler{order: &models.Order{}, outcome: services.OutcomeCreated}
	r := setupSettlementRouter(settler)

	body := `{"external_order_id":"ord-1","external_payment_id":"pay-1","session_token":"tok-1","items":[{"product_id":"p","quantity":1}],"PreVerified":true,"Source":"webhook"}`
	w := doJSON(r, http.MethodPost, "/checkout/settle", body, nil)

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.False(t, settler.got.PreVerified)
	assert.Equal(t, models.SourceClient, settler.got.Source)
}

func TestSettle_RequiresSessionToken(t *testing.T) {
	settler := &mockSettler{order: &models.Order{ID: "o-1"}, outcome: services.OutcomeUnverified}
	r := setupSettlementRouter(settler)

	body := validSettleBody()
	body.SessionToken = ""
	w := doJSON(r, http.MethodPost, "/checkout/settle", body, map[string]string{"X-User-ID": "user-1"})

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "checkout session invalid, restart checkout", decode(w)["message"])
	assert.Nil(t, settler.got)
}

func TestSettle_MissingItems(t *testing.T) {
	r := setupSettlementRouter(&mockSettler{})

	body := validSettleBody()
	body.Items = nil
	w := doJSON(r, http.MethodPost, "/checkout/settle", body, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetOrder(t *testing.T) {
	settler := &mockSettler{order: &models.Order{ID: "o-1", ExternalOrderID: "ord-1", UserID: "user-1"}}
	r := setupSettlementRouter(settler)

	w := doJSON(r, http.MethodGet, "/orders/ord-1", nil, map[string]string{"X-User-ID": "user-1"})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "o-1", decode(w)["id"])

	w = doJSON(r, http.MethodGet, "/orders/ord-1", nil, map[string]string{"X-User-ID": "user-2"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doJSON(r, http.MethodGet, "/orders/ord-1", nil, map[string]string{"X-User-ID": "ops", "X-User-Role": "admin"})
	assert.Equal(t, http.StatusOK, w.Code)

	settler.order, settler.err = nil, repository.ErrOrderNotFound
	w = doJSON(r, http.MethodGet, "/orders/missing", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
