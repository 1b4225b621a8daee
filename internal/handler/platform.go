package handler

import (
	"net/http"
	"strconv"

	"github.com/finbridge/venuegate/internal/ledger"
	"github.com/finbridge/venuegate/internal/model"
	"github.com/finbridge/venuegate/internal/pkg/apperrors"
	"github.com/finbridge/venuegate/internal/repository"
	"github.com/finbridge/venuegate/internal/venue"
	"github.com/gin-gonic/gin"
)

// PlatformHandler serves the read-side: allocations, balances,
// reconciliation history, venue health.
type PlatformHandler struct {
	ledger   *ledger.Ledger
	registry *venue.Registry
	recons   repository.ReconStore
}

func NewPlatformHandler(led *ledger.Ledger, registry *venue.Registry, recons repository.ReconStore) *PlatformHandler {
	return &PlatformHandler{ledger: led, registry: registry, recons: recons}
}

func (h *PlatformHandler) AvailableBalance(c *gin.Context) {
	venueID := c.Query("venue")
	asset := c.Query("asset")
	broker := c.Query("broker_id")
	user := c.Query("user_id")
	if venueID == "" || asset == "" || broker == "" || user == "" {
		c.Error(apperrors.Newf(apperrors.ErrInvalidRequest,
			"venue, asset, broker_id and user_id are required"))
		return
	}

	amount := h.ledger.AvailableBalance(venueID, asset, broker, user)
	c.JSON(http.StatusOK, gin.H{
		"venue":     venueID,
		"asset":     asset,
		"broker_id": broker,
		"user_id":   user,
		"available": amount,
	})
}

func (h *PlatformHandler) ListAllocations(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"allocations": h.ledger.Snapshot()})
}

func (h *PlatformHandler) ListReconciliations(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	records, err := h.recons.List(c.Request.Context(), model.ReconciliationFilter{
		Venue:  c.Query("venue"),
		Asset:  c.Query("asset"),
		Status: model.ReconciliationStatus(c.Query("status")),
		Limit:  limit,
	})
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"reconciliations": records})
}

func (h *PlatformHandler) ListVenues(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"venues": h.registry.Snapshot()})
}

func (h *PlatformHandler) Health(c *gin.Context) {
	status := http.StatusOK
	overall := "ok"
	for _, view := range h.registry.Snapshot() {
		if view.Health.Status == model.VenueDown {
			overall = "degraded"
		}
	}
	c.JSON(status, gin.H{"status": overall})
}
