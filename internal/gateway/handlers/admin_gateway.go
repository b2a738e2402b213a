package handlers

import (
	"context"
	"net/http"
	"time"

	catalog "clubhouse-system/internal/services/catalog/handler"
	settlement "clubhouse-system/internal/services/settlement/handler"

	"github.com/gin-gonic/gin"
	"google.golang.org/grpc/status"
)

type OrderPusher interface {
	PushOrder(ctx context.Context, orderID string) (string, error)
}

type CatalogSyncer interface {
	SyncMenuItem(ctx context.Context, menuItemID string) (*catalog.SyncResult, error)
}

type StockPuller interface {
	PullStock(ctx context.Context) (int, error)
}

type Backfiller interface {
	Backfill(ctx context.Context, limit int) (*settlement.BackfillReport, error)
}

// AdminHTTPHandler serves the explicit POS sync endpoints. Routes are
// expected behind middleware.RequireRole(lifecycle.RoleAdmin).
type AdminHTTPHandler struct {
	pos           OrderPusher
	catalog       CatalogSyncer
	inventory     StockPuller
	backfill      Backfiller
	backfillLimit int
}

func NewAdminHTTPHandler(pos OrderPusher, cat CatalogSyncer, inv StockPuller, bf Backfiller, backfillLimit int) *AdminHTTPHandler {
	return &AdminHTTPHandler{pos: pos, catalog: cat, inventory: inv, backfill: bf, backfillLimit: backfillLimit}
}

type BackfillQuery struct {
	Limit int `form:"limit"`
}

func (h *AdminHTTPHandler) PushOrder(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 30*time.Second)
	defer cancel()

	cloverOrderID, err := h.pos.PushOrder(ctx, c.Param("id"))
	if err != nil {
		handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse("Order synced to POS", gin.H{
		"orderId":       c.Param("id"),
		"cloverOrderId": cloverOrderID,
	}))
}

func (h *AdminHTTPHandler) SyncMenuItem(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 60*time.Second)
	defer cancel()

	res, err := h.catalog.SyncMenuItem(ctx, c.Param("id"))
	if err != nil {
		handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse("Menu item synced to POS", res))
}

func (h *AdminHTTPHandler) PullStock(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 60*time.Second)
	defer cancel()

	updated, err := h.inventory.PullStock(ctx)
	if err != nil {
		handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse("Stock pulled from POS", gin.H{"updated": updated}))
}

func (h *AdminHTTPHandler) Backfill(c *gin.Context) {
	var q BackfillQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, errorWithCode("Invalid limit", "BAD_REQUEST"))
		return
	}
	if q.Limit <= 0 {
		q.Limit = h.backfillLimit
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Minute)
	defer cancel()

	report, err := h.backfill.Backfill(ctx, q.Limit)
	if err != nil && report != nil {
		// Stopped early; the orders already processed still count.
		c.JSON(http.StatusGatewayTimeout, APIResponse{
			Success: false,
			Message: status.Convert(err).Message(),
			Error:   "TIMEOUT",
			Data:    report,
		})
		return
	}
	if err != nil {
		handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse("Backfill finished", report))
}
