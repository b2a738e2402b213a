package handlers

import (
	"context"
	"io"
	"log"
	"net/http"
	"time"

	payments "clubhouse-system/internal/services/payments/handler"

	"github.com/gin-gonic/gin"
)

const maxWebhookBody = 1 << 20

type WebhookService interface {
	HandleRaw(ctx context.Context, body []byte) *payments.WebhookResult
}

type WebhookHTTPHandler struct {
	payments WebhookService
}

func NewWebhookHTTPHandler(p WebhookService) *WebhookHTTPHandler {
	return &WebhookHTTPHandler{payments: p}
}

// Payments always answers 200 so the provider stops retrying; the body says
// whether anything was applied.
func (h *WebhookHTTPHandler) Payments(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		log.Printf("[webhook] read body: %v", err)
		c.JSON(http.StatusOK, &payments.WebhookResult{Received: true})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 15*time.Second)
	defer cancel()

	c.JSON(http.StatusOK, h.payments.HandleRaw(ctx, body))
}
