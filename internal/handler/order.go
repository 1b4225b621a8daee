package handler

import (
	"net/http"

	"github.com/finbridge/venuegate/internal/model"
	"github.com/finbridge/venuegate/internal/pkg/apperrors"
	"github.com/finbridge/venuegate/internal/service"
	"github.com/gin-gonic/gin"
)

type OrderHandler struct {
	pipeline *service.Pipeline
}

func NewOrderHandler(pipeline *service.Pipeline) *OrderHandler {
	return &OrderHandler{pipeline: pipeline}
}

func (h *OrderHandler) PlaceOrder(c *gin.Context) {
	var req model.OrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(apperrors.New(apperrors.ErrInvalidRequest, err.Error(), err))
		return
	}

	order, created, err := h.pipeline.SubmitOrder(c.Request.Context(), req)
	if err != nil {
		c.Error(err)
		return
	}

	status := http.StatusCreated
	if !created {
		// duplicate intent within the dedup window returns the original
		status = http.StatusOK
	}
	c.JSON(status, order)
}

func (h *OrderHandler) GetOrder(c *gin.Context) {
	order, err := h.pipeline.GetOrder(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (h *OrderHandler) CancelOrder(c *gin.Context) {
	order, err := h.pipeline.CancelOrder(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, order)
}
