package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/finbridge/venuegate/internal/config"
	"github.com/finbridge/venuegate/internal/ledger"
	"github.com/finbridge/venuegate/internal/middleware"
	"github.com/finbridge/venuegate/internal/model"
	"github.com/finbridge/venuegate/internal/repository"
	"github.com/finbridge/venuegate/internal/service"
	"github.com/finbridge/venuegate/internal/venue"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type stubAdapter struct{}

func (stubAdapter) Venue() string { return "binance" }

func (stubAdapter) GetBalance(context.Context, string) (*model.Balance, error) {
	return &model.Balance{Total: decimal.NewFromInt(1000)}, nil
}

func (stubAdapter) PlaceOrder(context.Context, venue.OrderParams) (*venue.OrderAck, error) {
	return &venue.OrderAck{ExternalID: "ext-1", Status: model.OrderOpen}, nil
}

func (stubAdapter) GetOrderStatus(context.Context, string, string) (*venue.OrderAck, error) {
	return &venue.OrderAck{ExternalID: "ext-1", Status: model.OrderOpen}, nil
}

func (stubAdapter) CancelOrder(context.Context, string, string) error { return nil }

func testRouter(t *testing.T) (*gin.Engine, *ledger.Ledger) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	registry := venue.NewRegistry()
	registry.Register(model.VenueConfig{ID: "binance", Enabled: true, Priority: 1}, stubAdapter{})

	led := ledger.New(nil)
	led.RefreshTotal("binance", "USDT", decimal.NewFromInt(100000))

	risk := service.NewRiskEngine(config.RiskConfig{}, repository.NewMemoryUsageStore())
	pipeline := service.NewPipeline(
		config.PipelineConfig{IdempotencyWindowSeconds: 30, CallTimeoutSeconds: 5},
		registry, led, repository.NewMemoryOrderStore(), risk, nil)

	router := gin.New()
	router.Use(middleware.ErrorHandler())
	h := NewOrderHandler(pipeline)
	router.POST("/v1/orders", h.PlaceOrder)
	router.GET("/v1/orders/:id", h.GetOrder)
	router.DELETE("/v1/orders/:id", h.CancelOrder)
	return router, led
}

func postOrder(router *gin.Engine, payload map[string]any) *httptest.ResponseRecorder {
	body, _ := json.Marshal(payload)
	req := httptest.NewRequest(http.MethodPost, "/v1/orders", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func orderPayload() map[string]any {
	return map[string]any{
		"tenant_id": "tenant-1",
		"broker_id": "broker-1",
		"user_id":   "cust-1",
		"symbol":    "BTC/USDT",
		"side":      "BUY",
		"type":      "LIMIT",
		"amount":    "1",
		"price":     "50000",
	}
}

func TestPlaceOrderEndpoint(t *testing.T) {
	router, _ := testRouter(t)

	rec := postOrder(router, orderPayload())
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var order model.InternalOrder
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &order))
	require.Equal(t, "binance", order.Venue)
	require.Equal(t, model.OrderOpen, order.Status)
	require.Equal(t, "ext-1", order.ExternalID)

	// the duplicate returns the original with 200
	dup := postOrder(router, orderPayload())
	require.Equal(t, http.StatusOK, dup.Code)
	var dupOrder model.InternalOrder
	require.NoError(t, json.Unmarshal(dup.Body.Bytes(), &dupOrder))
	require.Equal(t, order.ID, dupOrder.ID)
}

func TestPlaceOrderValidation(t *testing.T) {
	router, _ := testRouter(t)

	payload := orderPayload()
	delete(payload, "side")
	rec := postOrder(router, payload)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var envelope struct {
		Code string `json:"code"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	require.Equal(t, "INVALID_REQUEST", envelope.Code)
}

func TestPlaceOrderInsufficientBalance(t *testing.T) {
	router, _ := testRouter(t)

	payload := orderPayload()
	payload["amount"] = "100" // 5,000,000 USDT needed, 100,000 funded
	rec := postOrder(router, payload)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	var envelope struct {
		Code       string `json:"code"`
		Suggestion string `json:"suggestion"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	require.Equal(t, "INSUFFICIENT_BALANCE", envelope.Code)
	require.NotEmpty(t, envelope.Suggestion)
}

func TestGetAndCancelOrderEndpoints(t *testing.T) {
	router, led := testRouter(t)

	rec := postOrder(router, orderPayload())
	require.Equal(t, http.StatusCreated, rec.Code)
	var order model.InternalOrder
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &order))

	getReq := httptest.NewRequest(http.MethodGet, "/v1/orders/"+order.ID, nil)
	getRec := httptest.NewRecorder()
	router.ServeHTTP(getRec, getReq)
	require.Equal(t, http.StatusOK, getRec.Code)

	delReq := httptest.NewRequest(http.MethodDelete, "/v1/orders/"+order.ID, nil)
	delRec := httptest.NewRecorder()
	router.ServeHTTP(delRec, delReq)
	require.Equal(t, http.StatusOK, delRec.Code)

	var cancelled model.InternalOrder
	require.NoError(t, json.Unmarshal(delRec.Body.Bytes(), &cancelled))
	require.Equal(t, model.OrderCancelled, cancelled.Status)
	require.True(t, led.PlatformAvailable("binance", "USDT").Equal(decimal.NewFromInt(100000)))

	missing := httptest.NewRequest(http.MethodGet, "/v1/orders/nope", nil)
	missingRec := httptest.NewRecorder()
	router.ServeHTTP(missingRec, missing)
	require.Equal(t, http.StatusNotFound, missingRec.Code)
}
