// Package gateway wires the HTTP routes onto the service handlers.
package gateway

import (
	"context"
	"net/http"
	"time"

	"clubhouse-system/internal/gateway/handlers"
	"clubhouse-system/internal/gateway/middleware"
	"clubhouse-system/internal/lifecycle"

	"github.com/gin-gonic/gin"
)

// HealthChecker reports the reconciliation worker's state.
type HealthChecker interface {
	Healthy(ctx context.Context) bool
}

type Deps struct {
	Orders   *handlers.OrdersHTTPHandler
	Webhooks *handlers.WebhookHTTPHandler
	Admin    *handlers.AdminHTTPHandler

	RateLimit string
	Worker    HealthChecker
}

func NewRouter(d Deps) *gin.Engine {
	r := gin.New()

	r.Use(middleware.RequestID())
	r.Use(middleware.Logger())
	r.Use(gin.Recovery())
	r.Use(middleware.CORS())
	if d.RateLimit != "" {
		r.Use(middleware.RateLimit(d.RateLimit))
	}

	// --- Public API Group ---
	public := r.Group("/api/v1")
	{
		public.POST("/webhooks/payments", d.Webhooks.Payments)
	}

	// --- Protected API Group ---
	protected := r.Group("/api/v1")
	protected.Use(middleware.JWTAuth())
	{
		orders := protected.Group("/orders/:id")
		{
			orders.GET("", d.Orders.GetOrder)
			orders.PATCH("/status", d.Orders.UpdateStatus)
			orders.PATCH("/driver", d.Orders.AssignDriver)
			orders.POST("/claim", d.Orders.Claim)
			orders.POST("/release", d.Orders.Release)
			orders.POST("/cash-collection/settle", d.Orders.SettleCash)
			orders.POST("/cash-collection/revert", d.Orders.RevertCash)
		}

		admin := protected.Group("")
		admin.Use(middleware.RequireRole(lifecycle.RoleAdmin))
		{
			admin.POST("/orders/:id/pos-sync", d.Admin.PushOrder)
			admin.POST("/menu-items/:id/pos-sync", d.Admin.SyncMenuItem)
			admin.POST("/inventory/pull", d.Admin.PullStock)
			admin.POST("/admin/backfill", d.Admin.Backfill)
		}
	}

	r.GET("/health", healthCheckHandler(d.Worker))
	return r
}

func healthCheckHandler(worker HealthChecker) gin.HandlerFunc {
	return func(c *gin.Context) {
		status := "healthy"
		workerStatus := "unavailable"
		if worker != nil && worker.Healthy(c.Request.Context()) {
			workerStatus = "healthy"
		} else {
			status = "degraded"
		}

		c.JSON(http.StatusOK, gin.H{
			"status":    status,
			"message":   "Server is running",
			"worker":    workerStatus,
			"timestamp": time.Now(),
		})
	}
}
