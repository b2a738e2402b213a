package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log"

	"clubhouse-system/internal/broadcast"
	"clubhouse-system/internal/cache"
	"clubhouse-system/internal/database"
	"clubhouse-system/internal/database/models"
	"clubhouse-system/internal/effects"
	"clubhouse-system/internal/lifecycle"
	inventory "clubhouse-system/internal/services/inventory/handler"
)

const (
	EventInvoicePaid = "invoice.paid"
	EventPayment     = "PAYMENT"
)

// WebhookEvent is the union of the payment provider payloads we act on.
type WebhookEvent struct {
	Type              string `json:"type"`
	CheckoutSessionID string `json:"checkoutSessionId,omitempty"`
	Data              struct {
		ExternalPaymentContext struct {
			OurOrderID string `json:"ourOrderId"`
		} `json:"externalPaymentContext"`
	} `json:"data"`
}

type PaymentStore interface {
	FindOrderByReference(ctx context.Context, ref string) (*models.Order, error)
	FindOrderByCheckoutSession(ctx context.Context, sessionID string) (*models.Order, error)
	ConfirmPayment(ctx context.Context, orderID string) (*database.PaymentConfirmation, error)
}

type StockPusher interface {
	PushStock(ctx context.Context, link models.POSLink, quantity int) error
}

type PaymentsHandler struct {
	store       PaymentStore
	stock       StockPusher
	broadcaster broadcast.Broadcaster
	effects     effects.Runner
	cache       *cache.Cache
}

func NewPaymentsHandler(store PaymentStore, stock StockPusher, b broadcast.Broadcaster, runner effects.Runner, c *cache.Cache) *PaymentsHandler {
	if b == nil {
		b = broadcast.Nop{}
	}
	if runner == nil {
		runner = effects.Inline{}
	}
	return &PaymentsHandler{store: store, stock: stock, broadcaster: b, effects: runner, cache: c}
}

// WebhookResult is what the provider gets back. Received is always true;
// Applied tells whether this delivery changed anything.
type WebhookResult struct {
	Received bool   `json:"received"`
	Applied  bool   `json:"applied"`
	OrderID  string `json:"orderId,omitempty"`
}

// HandleRaw decodes a webhook body. Bodies that do not parse are
// acknowledged and dropped.
func (s *PaymentsHandler) HandleRaw(ctx context.Context, body []byte) *WebhookResult {
	var ev WebhookEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		log.Printf("[webhook] ignoring undecodable payload: %v", err)
		return &WebhookResult{Received: true}
	}
	return s.HandleEvent(ctx, ev)
}

// HandleEvent confirms payment for the referenced order. Replays, unknown
// orders and unrelated event types are acknowledged without side effects.
func (s *PaymentsHandler) HandleEvent(ctx context.Context, ev WebhookEvent) *WebhookResult {
	ack := &WebhookResult{Received: true}

	order, err := s.resolve(ctx, ev)
	if err != nil {
		if !errors.Is(err, database.ErrNotFound) {
			log.Printf("[webhook] resolve %s event: %v", ev.Type, err)
		}
		return ack
	}
	if order == nil {
		return ack
	}
	ack.OrderID = order.ID

	if order.Status != lifecycle.StatusPendingPayment {
		log.Printf("[webhook] order %s already %s, replay ignored", order.OrderCode, order.Status)
		return ack
	}

	confirmation, err := s.store.ConfirmPayment(ctx, order.ID)
	if err != nil {
		log.Printf("[webhook] confirm payment for %s: %v", order.OrderCode, err)
		return ack
	}
	if !confirmation.Applied {
		log.Printf("[webhook] order %s confirmed concurrently", order.OrderCode)
		return ack
	}
	ack.Applied = true
	log.Printf("[webhook] order %s paid, %d stock levels updated", order.OrderCode, len(confirmation.Stock))

	keys := []string{cache.OrderKey(order.ID)}
	for _, level := range confirmation.Stock {
		keys = append(keys, cache.MenuItemKey(level.MenuItemID))
		if level.Oversold > 0 {
			log.Printf("[webhook] order %s oversold menu item %s by %d", order.OrderCode, level.MenuItemID, level.Oversold)
		}
	}
	s.cache.Invalidate(ctx, keys...)

	s.effects.Run("stock push "+order.ID, func(ctx context.Context) {
		s.pushStock(ctx, confirmation.Stock)
	})
	s.effects.Run("broadcast "+order.ID, func(ctx context.Context) {
		broadcast.Send(ctx, s.broadcaster, order.ID, "status", lifecycle.StatusOrderReceived)
	})
	return ack
}

func (s *PaymentsHandler) resolve(ctx context.Context, ev WebhookEvent) (*models.Order, error) {
	switch ev.Type {
	case EventInvoicePaid:
		ref := ev.Data.ExternalPaymentContext.OurOrderID
		if ref == "" {
			log.Printf("[webhook] %s without ourOrderId", ev.Type)
			return nil, nil
		}
		return s.store.FindOrderByReference(ctx, ref)
	case EventPayment:
		if ev.CheckoutSessionID == "" {
			log.Printf("[webhook] %s without checkoutSessionId", ev.Type)
			return nil, nil
		}
		return s.store.FindOrderByCheckoutSession(ctx, ev.CheckoutSessionID)
	}
	return nil, nil
}

func (s *PaymentsHandler) pushStock(ctx context.Context, levels []database.StockLevel) {
	if s.stock == nil {
		return
	}
	for _, level := range levels {
		err := s.stock.PushStock(ctx, level.CloverItemID, level.Stock)
		switch {
		case errors.Is(err, inventory.ErrItemNotSynced):
			log.Printf("[webhook] menu item %s not synced to POS, stock push skipped", level.MenuItemID)
		case err != nil:
			log.Printf("[webhook] push stock for %s: %v", level.MenuItemID, err)
		}
	}
}
