package handler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"clubhouse-system/internal/broadcast"
	"clubhouse-system/internal/cache"
	"clubhouse-system/internal/database"
	"clubhouse-system/internal/database/models"
	"clubhouse-system/internal/effects"
	"clubhouse-system/internal/lifecycle"

	"github.com/shopspring/decimal"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	BACKFILL_ACTOR       = "backfill"
	DEFAULT_BACKFILL_MAX = 200
	FIELD_CASH           = "cashCollection"
)

type SettlementStore interface {
	GetOrder(ctx context.Context, id string) (*models.Order, error)
	SettleCashCollection(ctx context.Context, s database.Settlement) (*models.CashCollection, bool, error)
	RevertCashCollection(ctx context.Context, orderID string) (*models.CashCollection, error)
	ListBackfillCandidates(ctx context.Context, limit int) ([]string, error)
}

type POSSync interface {
	PushOrder(ctx context.Context, orderID string) (string, error)
	EnsureCashTender(ctx context.Context, cloverOrderID, amount string) error
}

type SettlementHandler struct {
	store       SettlementStore
	pos         POSSync
	broadcaster broadcast.Broadcaster
	effects     effects.Runner
	cache       *cache.Cache
	now         func() time.Time
}

func NewSettlementHandler(store SettlementStore, pos POSSync, b broadcast.Broadcaster, runner effects.Runner, c *cache.Cache) *SettlementHandler {
	if b == nil {
		b = broadcast.Nop{}
	}
	if runner == nil {
		runner = effects.Inline{}
	}
	return &SettlementHandler{store: store, pos: pos, broadcaster: b, effects: runner, cache: c, now: time.Now}
}

type SettlementResult struct {
	OrderID        string                      `json:"orderId"`
	Status         models.CashCollectionStatus `json:"status"`
	Expected       string                      `json:"expected"`
	Received       string                      `json:"received"`
	Variance       string                      `json:"variance"`
	AlreadySettled bool                        `json:"alreadySettled"`
}

// Settle marks the cash collected for an order as handed in. Settling an
// already settled collection changes nothing locally but still makes sure
// the POS carries the cash tender.
func (s *SettlementHandler) Settle(ctx context.Context, actor lifecycle.Actor, orderID, receivedAmount string) (*SettlementResult, error) {
	if !actor.Authenticated() {
		return nil, status.Error(codes.Unauthenticated, "authentication required")
	}
	if !actor.Role.Settles() {
		return nil, status.Error(codes.PermissionDenied, "only cashiers and admins may settle cash collections")
	}
	if receivedAmount != "" {
		if _, err := decimal.NewFromString(receivedAmount); err != nil {
			return nil, status.Errorf(codes.InvalidArgument, "invalid received amount %q", receivedAmount)
		}
	}

	order, err := s.loadOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.PaymentMethod != lifecycle.PaymentCash {
		return nil, status.Errorf(codes.FailedPrecondition, "order %s was not paid in cash", order.OrderCode)
	}

	cc, changed, err := s.store.SettleCashCollection(ctx, database.Settlement{
		OrderID:        order.ID,
		SettledBy:      actor.UserID,
		ReceivedAmount: receivedAmount,
		At:             s.now(),
	})
	if errors.Is(err, database.ErrNotFound) {
		return nil, status.Errorf(codes.FailedPrecondition, "order %s has no cash collection to settle", order.OrderCode)
	}
	if err != nil {
		return nil, status.Errorf(codes.Internal, "settle cash collection: %v", err)
	}

	result, err := settlementResult(cc)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "%v", err)
	}
	result.AlreadySettled = !changed

	if changed {
		log.Printf("[settlement] %s settled by %s, expected %s received %s (variance %s)",
			order.OrderCode, actor.UserID, result.Expected, result.Received, result.Variance)
		s.cache.Invalidate(ctx, cache.OrderKey(order.ID))
		s.effects.Run("broadcast "+order.ID, func(ctx context.Context) {
			broadcast.Send(ctx, s.broadcaster, order.ID, FIELD_CASH, cc.Status)
		})
	}

	link := order.CloverOrderID
	amount := cc.Amount
	s.effects.Run("cash tender "+order.ID, func(ctx context.Context) {
		if err := s.tender(ctx, order.ID, link, amount); err != nil {
			log.Printf("[settlement] POS tender for %s: %v", order.OrderCode, err)
		}
	})
	return result, nil
}

// tender pushes the order when it has no POS twin yet, then attaches the
// cash tender.
func (s *SettlementHandler) tender(ctx context.Context, orderID string, link models.POSLink, amount string) error {
	cloverOrderID, ok := link.ID()
	if !ok {
		pushed, err := s.pos.PushOrder(ctx, orderID)
		if err != nil {
			return fmt.Errorf("push order: %w", err)
		}
		cloverOrderID = pushed
	}
	return s.pos.EnsureCashTender(ctx, cloverOrderID, amount)
}

// Revert returns a settled collection to PENDING. Admin only.
func (s *SettlementHandler) Revert(ctx context.Context, actor lifecycle.Actor, orderID string) (*SettlementResult, error) {
	if !actor.Authenticated() {
		return nil, status.Error(codes.Unauthenticated, "authentication required")
	}
	if actor.Role != lifecycle.RoleAdmin {
		return nil, status.Error(codes.PermissionDenied, "only admins may revert a cash settlement")
	}

	cc, err := s.store.RevertCashCollection(ctx, orderID)
	if errors.Is(err, database.ErrNotFound) {
		return nil, status.Errorf(codes.NotFound, "no cash collection for order %s", orderID)
	}
	if err != nil {
		return nil, status.Errorf(codes.Internal, "revert cash collection: %v", err)
	}

	log.Printf("[settlement] %s reverted to %s by %s", orderID, cc.Status, actor.UserID)
	s.cache.Invalidate(ctx, cache.OrderKey(orderID))
	s.effects.Run("broadcast "+orderID, func(ctx context.Context) {
		broadcast.Send(ctx, s.broadcaster, orderID, FIELD_CASH, cc.Status)
	})
	return &SettlementResult{OrderID: orderID, Status: cc.Status, Expected: cc.Amount}, nil
}

type BackfillReport struct {
	Succeeded int      `json:"succeeded"`
	Failed    int      `json:"failed"`
	Skipped   int      `json:"skipped"`
	Errors    []string `json:"errors,omitempty"`
}

// Backfill repairs delivered orders that never reached the POS or still hold
// a pending cash collection. It keeps going past individual failures. When
// ctx ends first, the partial report is returned with a DeadlineExceeded or
// Canceled status.
func (s *SettlementHandler) Backfill(ctx context.Context, limit int) (*BackfillReport, error) {
	if limit <= 0 {
		limit = DEFAULT_BACKFILL_MAX
	}
	ids, err := s.store.ListBackfillCandidates(ctx, limit)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "list backfill candidates: %v", err)
	}

	report := &BackfillReport{}
	for i, id := range ids {
		if err := ctx.Err(); err != nil {
			log.Printf("[backfill] stopped after %d of %d candidates: %v", i, len(ids), err)
			return report, status.Errorf(status.FromContextError(err).Code(),
				"backfill stopped after %d of %d candidates: %v", i, len(ids), err)
		}
		worked, err := s.backfillOne(ctx, id)
		switch {
		case err != nil:
			report.Failed++
			report.Errors = append(report.Errors, fmt.Sprintf("%s: %v", id, err))
			log.Printf("[backfill] %s: %v", id, err)
		case worked:
			report.Succeeded++
		default:
			report.Skipped++
		}
	}

	log.Printf("[backfill] %d candidates: %d succeeded, %d failed, %d skipped",
		len(ids), report.Succeeded, report.Failed, report.Skipped)
	return report, nil
}

func (s *SettlementHandler) backfillOne(ctx context.Context, orderID string) (bool, error) {
	order, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return false, err
	}

	worked := false
	cloverOrderID, linked := order.CloverOrderID.ID()
	if !linked {
		if cloverOrderID, err = s.pos.PushOrder(ctx, order.ID); err != nil {
			return false, err
		}
		worked = true
	}

	cc := order.CashCollection
	if order.PaymentMethod != lifecycle.PaymentCash || cc == nil || cc.Status != models.CashPending {
		return worked, nil
	}

	if err := s.pos.EnsureCashTender(ctx, cloverOrderID, cc.Amount); err != nil {
		return worked, err
	}
	if _, _, err := s.store.SettleCashCollection(ctx, database.Settlement{
		OrderID:   order.ID,
		SettledBy: BACKFILL_ACTOR,
		At:        s.now(),
	}); err != nil {
		return worked, err
	}
	s.cache.Invalidate(ctx, cache.OrderKey(order.ID))
	return true, nil
}

func (s *SettlementHandler) loadOrder(ctx context.Context, id string) (*models.Order, error) {
	order, err := s.store.GetOrder(ctx, id)
	if errors.Is(err, database.ErrNotFound) {
		return nil, status.Errorf(codes.NotFound, "order %s not found", id)
	}
	if err != nil {
		return nil, status.Errorf(codes.Internal, "load order %s: %v", id, err)
	}
	return order, nil
}

func settlementResult(cc *models.CashCollection) (*SettlementResult, error) {
	expected, err := decimal.NewFromString(cc.Amount)
	if err != nil {
		return nil, fmt.Errorf("expected amount %q: %w", cc.Amount, err)
	}
	received := expected
	if cc.ReceivedAmount != nil {
		if received, err = decimal.NewFromString(*cc.ReceivedAmount); err != nil {
			return nil, fmt.Errorf("received amount %q: %w", *cc.ReceivedAmount, err)
		}
	}
	return &SettlementResult{
		OrderID:  cc.OrderID,
		Status:   cc.Status,
		Expected: expected.StringFixed(2),
		Received: received.StringFixed(2),
		Variance: received.Sub(expected).StringFixed(2),
	}, nil
}
