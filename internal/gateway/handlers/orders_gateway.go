package handlers

import (
	"context"
	"log"
	"net/http"
	"time"

	"clubhouse-system/internal/gateway/middleware"
	"clubhouse-system/internal/lifecycle"
	orders "clubhouse-system/internal/services/orders/handler"
	settlement "clubhouse-system/internal/services/settlement/handler"

	"github.com/gin-gonic/gin"
)

type OrderService interface {
	GetOrder(ctx context.Context, actor lifecycle.Actor, id string) (*orders.OrderView, error)
	Transition(ctx context.Context, actor lifecycle.Actor, req orders.TransitionRequest) (*orders.TransitionResult, error)
	AssignDriver(ctx context.Context, actor lifecycle.Actor, orderID string, driverID *string) (*orders.AssignmentResult, error)
	Claim(ctx context.Context, actor lifecycle.Actor, orderID string) (*orders.AssignmentResult, error)
	Release(ctx context.Context, actor lifecycle.Actor, orderID string) (*orders.AssignmentResult, error)
}

type SettlementService interface {
	Settle(ctx context.Context, actor lifecycle.Actor, orderID, receivedAmount string) (*settlement.SettlementResult, error)
	Revert(ctx context.Context, actor lifecycle.Actor, orderID string) (*settlement.SettlementResult, error)
}

type OrdersHTTPHandler struct {
	orders     OrderService
	settlement SettlementService
}

func NewOrdersHTTPHandler(o OrderService, s SettlementService) *OrdersHTTPHandler {
	return &OrdersHTTPHandler{orders: o, settlement: s}
}

type UpdateStatusRequest struct {
	Status             string `json:"status" binding:"required"`
	ConfirmEarlyStart  bool   `json:"confirmEarlyStart"`
	ConfirmAgeVerified bool   `json:"confirmAgeVerified"`
}

type AssignDriverRequest struct {
	DriverID *string `json:"driverId"`
}

type SettleRequest struct {
	ReceivedAmount string `json:"receivedAmount"`
}

// reload fetches the order view after a successful write. The write stands
// even when the reload fails.
func (h *OrdersHTTPHandler) reload(ctx context.Context, c *gin.Context, id string) *orders.OrderView {
	view, err := h.orders.GetOrder(ctx, middleware.ActorFrom(c), id)
	if err != nil {
		log.Printf("[orders] reload %s after write: %v", id, err)
		return nil
	}
	return view
}

func (h *OrdersHTTPHandler) GetOrder(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	view, err := h.orders.GetOrder(ctx, middleware.ActorFrom(c), c.Param("id"))
	if err != nil {
		handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse("Order retrieved successfully", view))
}

func (h *OrdersHTTPHandler) UpdateStatus(c *gin.Context) {
	var req UpdateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorWithCode("Invalid request format: "+err.Error(), "BAD_REQUEST"))
		return
	}
	to, ok := lifecycle.ParseStatus(req.Status)
	if !ok {
		c.JSON(http.StatusBadRequest, errorWithCode("Unknown status "+req.Status, "BAD_REQUEST"))
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	res, err := h.orders.Transition(ctx, middleware.ActorFrom(c), orders.TransitionRequest{
		OrderID:            c.Param("id"),
		To:                 to,
		ConfirmEarlyStart:  req.ConfirmEarlyStart,
		ConfirmAgeVerified: req.ConfirmAgeVerified,
	})
	if err != nil {
		handleServiceError(c, err)
		return
	}
	if !res.Applied {
		c.JSON(http.StatusOK, APIResponse{Success: false, Message: res.Message, Data: res})
		return
	}
	res.Order = h.reload(ctx, c, res.OrderID)
	c.JSON(http.StatusOK, successResponse("Order status updated", res))
}

func (h *OrdersHTTPHandler) AssignDriver(c *gin.Context) {
	var req AssignDriverRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorWithCode("Invalid request format: "+err.Error(), "BAD_REQUEST"))
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	res, err := h.orders.AssignDriver(ctx, middleware.ActorFrom(c), c.Param("id"), req.DriverID)
	if err != nil {
		handleServiceError(c, err)
		return
	}
	res.Order = h.reload(ctx, c, res.OrderID)
	c.JSON(http.StatusOK, successResponse("Driver assignment updated", res))
}

func (h *OrdersHTTPHandler) Claim(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	res, err := h.orders.Claim(ctx, middleware.ActorFrom(c), c.Param("id"))
	if err != nil {
		handleServiceError(c, err)
		return
	}
	res.Order = h.reload(ctx, c, res.OrderID)
	c.JSON(http.StatusOK, successResponse("Order claimed", res))
}

func (h *OrdersHTTPHandler) Release(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	res, err := h.orders.Release(ctx, middleware.ActorFrom(c), c.Param("id"))
	if err != nil {
		handleServiceError(c, err)
		return
	}
	res.Order = h.reload(ctx, c, res.OrderID)
	c.JSON(http.StatusOK, successResponse("Order released", res))
}

func (h *OrdersHTTPHandler) SettleCash(c *gin.Context) {
	var req SettleRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, errorWithCode("Invalid request format: "+err.Error(), "BAD_REQUEST"))
			return
		}
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	res, err := h.settlement.Settle(ctx, middleware.ActorFrom(c), c.Param("id"), req.ReceivedAmount)
	if err != nil {
		handleServiceError(c, err)
		return
	}
	message := "Cash collection settled"
	if res.AlreadySettled {
		message = "Cash collection was already settled"
	}
	c.JSON(http.StatusOK, successResponse(message, res))
}

func (h *OrdersHTTPHandler) RevertCash(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	res, err := h.settlement.Revert(ctx, middleware.ActorFrom(c), c.Param("id"))
	if err != nil {
		handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse("Cash collection reverted", res))
}
