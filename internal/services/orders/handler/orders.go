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

	"github.com/google/uuid"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	EARLY_START_WINDOW = 45 * time.Minute

	CONFIRM_EARLY_START  = "EARLY_START"
	CONFIRM_AGE_VERIFIED = "AGE_VERIFIED"

	FIELD_STATUS    = "status"
	FIELD_DRIVER_ID = "driverId"
)

type OrderStore interface {
	GetOrder(ctx context.Context, id string) (*models.Order, error)
	ListStatusHistory(ctx context.Context, orderID string) ([]models.StatusHistoryEntry, error)
	ApplyStatus(ctx context.Context, w database.StatusWrite) error
	SetDriver(ctx context.Context, orderID string, driverID *string) error
	ClaimDriver(ctx context.Context, orderID, driverID string) error
	ReleaseDriver(ctx context.Context, w database.ReleaseWrite) error
}

type OrderPusher interface {
	PushOrder(ctx context.Context, orderID string) (string, error)
}

type OrdersHandler struct {
	store       OrderStore
	pusher      OrderPusher
	broadcaster broadcast.Broadcaster
	effects     effects.Runner
	cache       *cache.Cache
	now         func() time.Time
}

func NewOrdersHandler(store OrderStore, pusher OrderPusher, b broadcast.Broadcaster, runner effects.Runner, c *cache.Cache) *OrdersHandler {
	if b == nil {
		b = broadcast.Nop{}
	}
	if runner == nil {
		runner = effects.Inline{}
	}
	return &OrdersHandler{
		store:       store,
		pusher:      pusher,
		broadcaster: b,
		effects:     runner,
		cache:       c,
		now:         time.Now,
	}
}

type TransitionRequest struct {
	OrderID            string
	To                 lifecycle.Status
	ConfirmEarlyStart  bool
	ConfirmAgeVerified bool
}

// TransitionResult reports a status write. When Applied is false the order
// was left untouched and Message explains why; Confirmation names the flag
// the caller must resend to go ahead.
type TransitionResult struct {
	OrderID      string           `json:"orderId"`
	Applied      bool             `json:"applied"`
	Status       lifecycle.Status `json:"status"`
	Confirmation string           `json:"confirmation,omitempty"`
	Message      string           `json:"message,omitempty"`
	Order        *OrderView       `json:"order,omitempty"`
}

type OrderView struct {
	Order   *models.Order               `json:"order"`
	History []models.StatusHistoryEntry `json:"history"`
	Actions []lifecycle.Action          `json:"actions"`
}

func (s *OrdersHandler) loadOrder(ctx context.Context, id string) (*models.Order, error) {
	order, err := s.store.GetOrder(ctx, id)
	if errors.Is(err, database.ErrNotFound) {
		return nil, status.Errorf(codes.NotFound, "order %s not found", id)
	}
	if err != nil {
		return nil, status.Errorf(codes.Internal, "load order %s: %v", id, err)
	}
	return order, nil
}

func (s *OrdersHandler) GetOrder(ctx context.Context, actor lifecycle.Actor, id string) (*OrderView, error) {
	if !actor.Authenticated() {
		return nil, status.Error(codes.Unauthenticated, "authentication required")
	}

	var order models.Order
	if !s.cache.Get(ctx, cache.OrderKey(id), &order) {
		loaded, err := s.loadOrder(ctx, id)
		if err != nil {
			return nil, err
		}
		order = *loaded
		s.cache.Set(ctx, cache.OrderKey(id), loaded, cache.CACHE_TTL_SHORT)
	}

	history, err := s.store.ListStatusHistory(ctx, id)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "load history for %s: %v", id, err)
	}

	return &OrderView{
		Order:   &order,
		History: history,
		Actions: lifecycle.Actions(actor.Role, order.Status, order.PaymentMethod),
	}, nil
}

// Transition applies one role-driven status change. Guards run in a fixed
// order: authentication, the transition table, driver ownership, the
// schedule window, then age verification.
func (s *OrdersHandler) Transition(ctx context.Context, actor lifecycle.Actor, req TransitionRequest) (*TransitionResult, error) {
	if !actor.Authenticated() {
		return nil, status.Error(codes.Unauthenticated, "authentication required")
	}

	order, err := s.loadOrder(ctx, req.OrderID)
	if err != nil {
		return nil, err
	}
	if err := lifecycle.Check(actor.Role, order.Status, req.To); err != nil {
		return nil, err
	}

	write := database.StatusWrite{
		OrderID: order.ID,
		From:    order.Status,
		To:      req.To,
		ActorID: actor.UserID,
	}

	if actor.Role == lifecycle.RoleDriver {
		if err := driverOwnership(order, actor, &write); err != nil {
			return nil, err
		}
	}

	if refusal := s.scheduleGuard(order, actor, req); refusal != nil {
		return refusal, nil
	}
	if refusal := alcoholGuard(order, actor, req); refusal != nil {
		return refusal, nil
	}

	if order.PaymentMethod == lifecycle.PaymentCash && req.To == lifecycle.StatusPickedUpByDriver {
		write.OpenCashCollection = &models.CashCollection{
			ID:          uuid.NewString(),
			OrderID:     order.ID,
			Status:      models.CashPending,
			CollectedBy: actor.UserID,
			Amount:      order.TotalAmount,
		}
	}

	if err := s.store.ApplyStatus(ctx, write); err != nil {
		if errors.Is(err, database.ErrStaleState) {
			if write.ClaimDriver {
				return nil, status.Error(codes.Aborted, "order already claimed by another driver")
			}
			return nil, status.Errorf(codes.Aborted, "order %s changed while updating; reload and retry", order.OrderCode)
		}
		return nil, status.Errorf(codes.Internal, "apply status: %v", err)
	}

	log.Printf("[orders] %s %s → %s by %s %s", order.OrderCode, write.From, write.To, actor.Role, actor.UserID)
	s.cache.Invalidate(ctx, cache.OrderKey(order.ID))

	claimed := write.ClaimDriver && order.DriverID == nil
	s.effects.Run("broadcast "+order.ID, func(ctx context.Context) {
		broadcast.Send(ctx, s.broadcaster, order.ID, FIELD_STATUS, write.To)
		if claimed {
			broadcast.Send(ctx, s.broadcaster, order.ID, FIELD_DRIVER_ID, actor.UserID)
		}
	})
	if write.To == lifecycle.StatusDelivered {
		s.pushAfterDelivery(order.ID)
	}

	return &TransitionResult{OrderID: order.ID, Applied: true, Status: write.To}, nil
}

func (s *OrdersHandler) pushAfterDelivery(orderID string) {
	if s.pusher == nil {
		return
	}
	s.effects.Run("pos push "+orderID, func(ctx context.Context) {
		if _, err := s.pusher.PushOrder(ctx, orderID); err != nil {
			log.Printf("[orders] push %s to POS after delivery: %v", orderID, err)
		}
	})
}

// driverOwnership adds the driver precondition to a write. The pickup edge
// claims an unassigned order; every later edge needs the driver's own order.
func driverOwnership(order *models.Order, actor lifecycle.Actor, write *database.StatusWrite) error {
	if write.To == lifecycle.StatusPickedUpByDriver {
		if order.DriverID != nil && *order.DriverID != actor.UserID {
			return status.Error(codes.Aborted, "order already claimed by another driver")
		}
		write.ClaimDriver = true
		return nil
	}

	if order.DriverID == nil || *order.DriverID != actor.UserID {
		return status.Error(codes.PermissionDenied, "Drivers may only update their own orders")
	}
	driverID := actor.UserID
	write.RequireDriver = &driverID
	return nil
}

func startsPrep(actor lifecycle.Actor, order *models.Order, to lifecycle.Status) bool {
	if actor.Role != lifecycle.RoleKitchen && actor.Role != lifecycle.RoleAdmin {
		return false
	}
	return order.Status == lifecycle.StatusOrderReceived && to != lifecycle.StatusCancelled
}

func (s *OrdersHandler) scheduleGuard(order *models.Order, actor lifecycle.Actor, req TransitionRequest) *TransitionResult {
	if order.ScheduledFor == nil || !startsPrep(actor, order, req.To) {
		return nil
	}

	until := order.ScheduledFor.Sub(s.now())
	switch {
	case until <= 0:
		return nil
	case until > EARLY_START_WINDOW:
		return &TransitionResult{
			OrderID: order.ID,
			Status:  order.Status,
			Message: fmt.Sprintf("order %s is scheduled for %s; preparation opens %d minutes before",
				order.OrderCode, order.ScheduledFor.Format(time.Kitchen), int(EARLY_START_WINDOW.Minutes())),
		}
	case !req.ConfirmEarlyStart:
		return &TransitionResult{
			OrderID:      order.ID,
			Status:       order.Status,
			Confirmation: CONFIRM_EARLY_START,
			Message: fmt.Sprintf("order %s is scheduled for %s; confirm to start early",
				order.OrderCode, order.ScheduledFor.Format(time.Kitchen)),
		}
	}
	return nil
}

func alcoholGuard(order *models.Order, actor lifecycle.Actor, req TransitionRequest) *TransitionResult {
	if !order.ContainsAlcohol || req.ConfirmAgeVerified {
		return nil
	}
	if actor.Role != lifecycle.RoleKitchen && actor.Role != lifecycle.RoleAdmin {
		return nil
	}
	return &TransitionResult{
		OrderID:      order.ID,
		Status:       order.Status,
		Confirmation: CONFIRM_AGE_VERIFIED,
		Message:      fmt.Sprintf("order %s contains alcohol; confirm the guest is 21 or older", order.OrderCode),
	}
}

type AssignmentResult struct {
	OrderID  string           `json:"orderId"`
	DriverID *string          `json:"driverId"`
	Status   lifecycle.Status `json:"status"`
	Order    *OrderView       `json:"order,omitempty"`
}

// AssignDriver sets or clears (driverID nil) the driver of a non-terminal
// order without touching its status.
func (s *OrdersHandler) AssignDriver(ctx context.Context, actor lifecycle.Actor, orderID string, driverID *string) (*AssignmentResult, error) {
	if !actor.Authenticated() {
		return nil, status.Error(codes.Unauthenticated, "authentication required")
	}
	if !actor.Role.ManagesAssignments() {
		return nil, status.Error(codes.PermissionDenied, "only admins and kitchen staff may assign drivers")
	}
	if driverID != nil {
		if _, err := uuid.Parse(*driverID); err != nil {
			return nil, status.Errorf(codes.InvalidArgument, "invalid driver id %q", *driverID)
		}
	}

	order, err := s.loadOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status.Terminal() {
		return nil, status.Errorf(codes.FailedPrecondition, "order is %s; drivers can no longer be changed", order.Status)
	}

	if err := s.store.SetDriver(ctx, orderID, driverID); err != nil {
		return nil, s.assignmentError(err, orderID)
	}

	s.afterDriverChange(ctx, orderID, driverID, "")
	return &AssignmentResult{OrderID: orderID, DriverID: driverID, Status: order.Status}, nil
}

// Claim assigns an unassigned order to the calling driver. Claiming an order
// the driver already holds is a no-op.
func (s *OrdersHandler) Claim(ctx context.Context, actor lifecycle.Actor, orderID string) (*AssignmentResult, error) {
	if !actor.Authenticated() {
		return nil, status.Error(codes.Unauthenticated, "authentication required")
	}
	if actor.Role != lifecycle.RoleDriver {
		return nil, status.Error(codes.PermissionDenied, "only drivers may claim orders")
	}

	order, err := s.loadOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status.Terminal() {
		return nil, status.Errorf(codes.FailedPrecondition, "order is %s; it can no longer be claimed", order.Status)
	}
	if order.DriverID != nil && *order.DriverID != actor.UserID {
		return nil, status.Error(codes.Aborted, "order already claimed by another driver")
	}

	driverID := actor.UserID
	result := &AssignmentResult{OrderID: orderID, DriverID: &driverID, Status: order.Status}
	if order.DriverID != nil {
		return result, nil
	}

	if err := s.store.ClaimDriver(ctx, orderID, driverID); err != nil {
		if errors.Is(err, database.ErrStaleState) {
			return nil, status.Error(codes.Aborted, "order already claimed by another driver")
		}
		return nil, s.assignmentError(err, orderID)
	}

	s.afterDriverChange(ctx, orderID, &driverID, "")
	return result, nil
}

// Release lets a driver hand back their own order. Orders already picked up
// return to ORDER_READY and any pending cash collection is discarded.
func (s *OrdersHandler) Release(ctx context.Context, actor lifecycle.Actor, orderID string) (*AssignmentResult, error) {
	if !actor.Authenticated() {
		return nil, status.Error(codes.Unauthenticated, "authentication required")
	}
	if actor.Role != lifecycle.RoleDriver {
		return nil, status.Error(codes.PermissionDenied, "only drivers may release orders")
	}

	order, err := s.loadOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.DriverID == nil || *order.DriverID != actor.UserID {
		return nil, status.Error(codes.PermissionDenied, "Drivers may only claim/release their own orders")
	}
	if order.Status.Terminal() {
		return nil, status.Errorf(codes.FailedPrecondition, "order is %s; it can no longer be released", order.Status)
	}

	write := database.ReleaseWrite{OrderID: orderID, DriverID: actor.UserID, From: order.Status}
	if err := s.store.ReleaseDriver(ctx, write); err != nil {
		if errors.Is(err, database.ErrStaleState) {
			return nil, status.Errorf(codes.Aborted, "order %s changed while releasing; reload and retry", order.OrderCode)
		}
		return nil, status.Errorf(codes.Internal, "release driver: %v", err)
	}

	target := write.Target()
	var changed lifecycle.Status
	if target != write.From {
		changed = target
		log.Printf("[orders] %s released by driver %s, %s → %s", order.OrderCode, actor.UserID, write.From, target)
	}
	s.afterDriverChange(ctx, orderID, nil, changed)
	return &AssignmentResult{OrderID: orderID, Status: target}, nil
}

func (s *OrdersHandler) assignmentError(err error, orderID string) error {
	switch {
	case errors.Is(err, database.ErrNotFound):
		return status.Errorf(codes.NotFound, "order %s not found", orderID)
	case errors.Is(err, database.ErrStaleState):
		return status.Errorf(codes.FailedPrecondition, "order %s is no longer open for assignment", orderID)
	}
	return status.Errorf(codes.Internal, "update driver: %v", err)
}

func (s *OrdersHandler) afterDriverChange(ctx context.Context, orderID string, driverID *string, newStatus lifecycle.Status) {
	s.cache.Invalidate(ctx, cache.OrderKey(orderID))
	s.effects.Run("broadcast "+orderID, func(ctx context.Context) {
		var value interface{}
		if driverID != nil {
			value = *driverID
		}
		broadcast.Send(ctx, s.broadcaster, orderID, FIELD_DRIVER_ID, value)
		if newStatus != "" {
			broadcast.Send(ctx, s.broadcaster, orderID, FIELD_STATUS, newStatus)
		}
	})
}
