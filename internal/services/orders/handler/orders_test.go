package handler

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"clubhouse-system/internal/broadcast"
	"clubhouse-system/internal/database"
	"clubhouse-system/internal/database/memorydriver"
	"clubhouse-system/internal/database/models"
	"clubhouse-system/internal/effects"
	"clubhouse-system/internal/lifecycle"

	"github.com/google/uuid"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type recordingPusher struct {
	mu     sync.Mutex
	pushed []string
}

func (p *recordingPusher) PushOrder(_ context.Context, orderID string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pushed = append(p.pushed, orderID)
	return "ORD-" + orderID, nil
}

type fixture struct {
	store    *memorydriver.Store
	pusher   *recordingPusher
	recorder *broadcast.Recorder
	h        *OrdersHandler
}

func newFixture() *fixture {
	store := memorydriver.New()
	pusher := &recordingPusher{}
	recorder := &broadcast.Recorder{}
	return &fixture{
		store:    store,
		pusher:   pusher,
		recorder: recorder,
		h:        NewOrdersHandler(store, pusher, recorder, effects.Inline{}, nil),
	}
}

func (f *fixture) order(t *testing.T, st lifecycle.Status, mutate func(o *models.Order)) *models.Order {
	t.Helper()
	o := &models.Order{
		OrderCode:     "C-" + uuid.NewString()[:8],
		Status:        st,
		PaymentMethod: lifecycle.PaymentCard,
		DeliveryType:  lifecycle.DeliveryClubhousePickup,
		TotalAmount:   "24.00",
	}
	if mutate != nil {
		mutate(o)
	}
	if err := f.store.CreateOrder(context.Background(), o); err != nil {
		t.Fatal(err)
	}
	return o
}

func actor(role lifecycle.Role) lifecycle.Actor {
	return lifecycle.Actor{UserID: uuid.NewString(), Role: role}
}

func allowed(role lifecycle.Role, from, to lifecycle.Status) bool {
	for _, next := range lifecycle.Next(role, from) {
		if next == to {
			return true
		}
	}
	return false
}

func TestTransitionEnforcesTableForEveryRole(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	for _, role := range lifecycle.AllRoles {
		for _, from := range lifecycle.AllStatuses {
			for _, to := range lifecycle.AllStatuses {
				a := actor(role)
				o := f.order(t, from, func(o *models.Order) {
					if role == lifecycle.RoleDriver {
						o.DriverID = &a.UserID
					}
				})

				res, err := f.h.Transition(ctx, a, TransitionRequest{OrderID: o.ID, To: to})
				stored, _ := f.store.GetOrder(ctx, o.ID)
				history, _ := f.store.ListStatusHistory(ctx, o.ID)

				if allowed(role, from, to) {
					if err != nil || !res.Applied {
						t.Fatalf("%s %s→%s should apply: %+v %v", role, from, to, res, err)
					}
					if stored.Status != to || len(history) != 1 || history[0].Status != to {
						t.Fatalf("%s %s→%s: status %s history %+v", role, from, to, stored.Status, history)
					}
					continue
				}

				code := status.Code(err)
				if code != codes.PermissionDenied && code != codes.FailedPrecondition {
					t.Fatalf("%s %s→%s: want rejection, got %v (%+v)", role, from, to, err, res)
				}
				if stored.Status != from || len(history) != 0 {
					t.Fatalf("%s %s→%s: rejected write changed the order", role, from, to)
				}
			}
		}
	}
}

func TestTransitionRejectionMessages(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	driver := actor(lifecycle.RoleDriver)
	o := f.order(t, lifecycle.StatusOrderReceived, nil)
	_, err := f.h.Transition(ctx, driver, TransitionRequest{OrderID: o.ID, To: lifecycle.StatusInProgress})
	if status.Code(err) != codes.PermissionDenied ||
		!strings.Contains(status.Convert(err).Message(), "Drivers may only transition ORDER_READY → PICKED_UP_BY_DRIVER") {
		t.Fatalf("driver rejection %v", err)
	}

	kitchen := actor(lifecycle.RoleKitchen)
	ready := f.order(t, lifecycle.StatusOrderReady, nil)
	_, err = f.h.Transition(ctx, kitchen, TransitionRequest{OrderID: ready.ID, To: lifecycle.StatusInProgress})
	if status.Code(err) != codes.FailedPrecondition {
		t.Fatalf("edge from wrong status should conflict, got %v", err)
	}

	_, err = f.h.Transition(ctx, lifecycle.Actor{}, TransitionRequest{OrderID: ready.ID, To: lifecycle.StatusDelivered})
	if status.Code(err) != codes.Unauthenticated {
		t.Fatalf("want Unauthenticated, got %v", err)
	}

	_, err = f.h.Transition(ctx, kitchen, TransitionRequest{OrderID: "missing", To: lifecycle.StatusInProgress})
	if status.Code(err) != codes.NotFound {
		t.Fatalf("want NotFound, got %v", err)
	}
}

func TestScheduleGuard(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	now := time.Date(2026, 6, 1, 11, 0, 0, 0, time.UTC)
	f.h.now = func() time.Time { return now }
	kitchen := actor(lifecycle.RoleKitchen)

	scheduled := func(d time.Duration) *models.Order {
		at := now.Add(d)
		return f.order(t, lifecycle.StatusOrderReceived, func(o *models.Order) { o.ScheduledFor = &at })
	}

	far := scheduled(2 * time.Hour)
	res, err := f.h.Transition(ctx, kitchen, TransitionRequest{OrderID: far.ID, To: lifecycle.StatusInProgress, ConfirmEarlyStart: true})
	if err != nil {
		t.Fatalf("informational refusal must not be an error: %v", err)
	}
	if res.Applied || res.Confirmation != "" || !strings.Contains(res.Message, "scheduled for 1:00PM") {
		t.Fatalf("far refusal %+v", res)
	}

	// cancelling is not preparation
	res, err = f.h.Transition(ctx, kitchen, TransitionRequest{OrderID: far.ID, To: lifecycle.StatusCancelled})
	if err != nil || !res.Applied {
		t.Fatalf("cancel of scheduled order %+v %v", res, err)
	}

	near := scheduled(30 * time.Minute)
	res, err = f.h.Transition(ctx, kitchen, TransitionRequest{OrderID: near.ID, To: lifecycle.StatusInProgress})
	if err != nil || res.Applied || res.Confirmation != CONFIRM_EARLY_START {
		t.Fatalf("near without confirmation %+v %v", res, err)
	}
	stored, _ := f.store.GetOrder(ctx, near.ID)
	if stored.Status != lifecycle.StatusOrderReceived {
		t.Fatal("unconfirmed early start changed the order")
	}
	res, err = f.h.Transition(ctx, kitchen, TransitionRequest{OrderID: near.ID, To: lifecycle.StatusInProgress, ConfirmEarlyStart: true})
	if err != nil || !res.Applied {
		t.Fatalf("confirmed early start %+v %v", res, err)
	}

	past := scheduled(-10 * time.Minute)
	res, err = f.h.Transition(ctx, kitchen, TransitionRequest{OrderID: past.ID, To: lifecycle.StatusInProgress})
	if err != nil || !res.Applied {
		t.Fatalf("past schedule %+v %v", res, err)
	}
}

func TestAlcoholGuardReplaysSameWrite(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	kitchen := actor(lifecycle.RoleKitchen)
	o := f.order(t, lifecycle.StatusOrderReceived, func(o *models.Order) { o.ContainsAlcohol = true })

	res, err := f.h.Transition(ctx, kitchen, TransitionRequest{OrderID: o.ID, To: lifecycle.StatusInProgress})
	if err != nil || res.Applied || res.Confirmation != CONFIRM_AGE_VERIFIED {
		t.Fatalf("alcohol intercept %+v %v", res, err)
	}
	if h, _ := f.store.ListStatusHistory(ctx, o.ID); len(h) != 0 {
		t.Fatal("intercepted transition wrote history")
	}

	res, err = f.h.Transition(ctx, kitchen, TransitionRequest{OrderID: o.ID, To: lifecycle.StatusInProgress, ConfirmAgeVerified: true})
	if err != nil || !res.Applied || res.Status != lifecycle.StatusInProgress {
		t.Fatalf("confirmed replay %+v %v", res, err)
	}
	stored, _ := f.store.GetOrder(ctx, o.ID)
	if stored.Status != lifecycle.StatusInProgress || stored.AgeVerified {
		t.Fatalf("replay should only move status, got %+v", stored)
	}

	// drivers are not intercepted
	driver := actor(lifecycle.RoleDriver)
	ready := f.order(t, lifecycle.StatusOrderReady, func(o *models.Order) { o.ContainsAlcohol = true })
	res, err = f.h.Transition(ctx, driver, TransitionRequest{OrderID: ready.ID, To: lifecycle.StatusPickedUpByDriver})
	if err != nil || !res.Applied {
		t.Fatalf("driver pickup %+v %v", res, err)
	}
}

func TestConcurrentPickupHasOneWinner(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	o := f.order(t, lifecycle.StatusOrderReady, nil)

	const drivers = 12
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners []string
		losers  int
	)
	for i := 0; i < drivers; i++ {
		a := actor(lifecycle.RoleDriver)
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.h.Transition(ctx, a, TransitionRequest{OrderID: o.ID, To: lifecycle.StatusPickedUpByDriver})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil && res.Applied:
				winners = append(winners, a.UserID)
			case status.Code(err) == codes.Aborted:
				losers++
			default:
				t.Errorf("unexpected outcome %+v %v", res, err)
			}
		}()
	}
	wg.Wait()

	if len(winners) != 1 || losers != drivers-1 {
		t.Fatalf("winners=%d losers=%d", len(winners), losers)
	}
	stored, _ := f.store.GetOrder(ctx, o.ID)
	if stored.DriverID == nil || *stored.DriverID != winners[0] {
		t.Fatalf("order driver %v, winner %s", stored.DriverID, winners[0])
	}
	if h, _ := f.store.ListStatusHistory(ctx, o.ID); len(h) != 1 {
		t.Fatalf("history %+v", h)
	}
}

func TestConcurrentClaimHasOneWinner(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	o := f.order(t, lifecycle.StatusInProgress, nil)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 8; i++ {
		a := actor(lifecycle.RoleDriver)
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.h.Claim(ctx, a, o.ID)
			if err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			} else if status.Code(err) != codes.Aborted {
				t.Errorf("unexpected claim error %v", err)
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Fatalf("want one winning claim, got %d", wins)
	}
	stored, _ := f.store.GetOrder(ctx, o.ID)
	if stored.Status != lifecycle.StatusInProgress {
		t.Fatal("claim must not change status")
	}
}

func TestCashPickupOpensCollectionAndReleaseRollsBack(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	driver := actor(lifecycle.RoleDriver)
	o := f.order(t, lifecycle.StatusOrderReady, func(o *models.Order) {
		o.PaymentMethod = lifecycle.PaymentCash
		o.TotalAmount = "31.75"
	})

	if _, err := f.h.Transition(ctx, driver, TransitionRequest{OrderID: o.ID, To: lifecycle.StatusPickedUpByDriver}); err != nil {
		t.Fatal(err)
	}
	cc, err := f.store.GetCashCollection(ctx, o.ID)
	if err != nil {
		t.Fatalf("cash collection not opened: %v", err)
	}
	if cc.Status != models.CashPending || cc.Amount != "31.75" || cc.CollectedBy != driver.UserID {
		t.Fatalf("cash collection %+v", cc)
	}

	other := actor(lifecycle.RoleDriver)
	if _, err := f.h.Release(ctx, other, o.ID); status.Code(err) != codes.PermissionDenied {
		t.Fatalf("other driver release: %v", err)
	}
	if _, err := f.h.Transition(ctx, other, TransitionRequest{OrderID: o.ID, To: lifecycle.StatusOnTheWay}); status.Code(err) != codes.PermissionDenied {
		t.Fatalf("other driver advancing: %v", err)
	}

	res, err := f.h.Release(ctx, driver, o.ID)
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != lifecycle.StatusOrderReady || res.DriverID != nil {
		t.Fatalf("release result %+v", res)
	}
	stored, _ := f.store.GetOrder(ctx, o.ID)
	if stored.Status != lifecycle.StatusOrderReady || stored.DriverID != nil {
		t.Fatalf("released order %+v", stored)
	}
	if _, err := f.store.GetCashCollection(ctx, o.ID); err != database.ErrNotFound {
		t.Fatalf("pending cash collection should be discarded, got %v", err)
	}
	history, _ := f.store.ListStatusHistory(ctx, o.ID)
	if len(history) != 2 || history[1].Status != lifecycle.StatusOrderReady {
		t.Fatalf("history %+v", history)
	}
}

func TestReleaseBeforePickupKeepsStatus(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	driver := actor(lifecycle.RoleDriver)
	o := f.order(t, lifecycle.StatusInProgress, nil)

	if _, err := f.h.Claim(ctx, driver, o.ID); err != nil {
		t.Fatal(err)
	}
	res, err := f.h.Release(ctx, driver, o.ID)
	if err != nil || res.Status != lifecycle.StatusInProgress {
		t.Fatalf("release %+v %v", res, err)
	}
	if h, _ := f.store.ListStatusHistory(ctx, o.ID); len(h) != 0 {
		t.Fatalf("release without status change wrote history %+v", h)
	}
}

func TestAssignDriver(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	kitchen := actor(lifecycle.RoleKitchen)
	driverID := uuid.NewString()
	o := f.order(t, lifecycle.StatusInProgress, nil)

	res, err := f.h.AssignDriver(ctx, kitchen, o.ID, &driverID)
	if err != nil || res.DriverID == nil || *res.DriverID != driverID {
		t.Fatalf("assign %+v %v", res, err)
	}
	stored, _ := f.store.GetOrder(ctx, o.ID)
	if stored.DriverID == nil || *stored.DriverID != driverID || stored.Status != lifecycle.StatusInProgress {
		t.Fatalf("assigned order %+v", stored)
	}
	if h, _ := f.store.ListStatusHistory(ctx, o.ID); len(h) != 0 {
		t.Fatal("assignment is not a status write")
	}

	if _, err := f.h.AssignDriver(ctx, kitchen, o.ID, nil); err != nil {
		t.Fatal(err)
	}
	stored, _ = f.store.GetOrder(ctx, o.ID)
	if stored.DriverID != nil {
		t.Fatal("unassign left a driver")
	}

	bad := "driver-7"
	if _, err := f.h.AssignDriver(ctx, kitchen, o.ID, &bad); status.Code(err) != codes.InvalidArgument {
		t.Fatalf("invalid id %v", err)
	}
	if _, err := f.h.AssignDriver(ctx, actor(lifecycle.RoleServer), o.ID, &driverID); status.Code(err) != codes.PermissionDenied {
		t.Fatalf("server assign %v", err)
	}
	done := f.order(t, lifecycle.StatusDelivered, nil)
	if _, err := f.h.AssignDriver(ctx, actor(lifecycle.RoleAdmin), done.ID, &driverID); status.Code(err) != codes.FailedPrecondition {
		t.Fatalf("terminal assign %v", err)
	}

	var driverEvents int
	for _, ev := range f.recorder.Events() {
		if ev.OrderID == o.ID && ev.Field == FIELD_DRIVER_ID {
			driverEvents++
		}
	}
	if driverEvents != 2 {
		t.Fatalf("want 2 driver broadcasts, got %d", driverEvents)
	}
}

func TestDeliveryPushesToPOSAndBroadcasts(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	server := actor(lifecycle.RoleServer)
	o := f.order(t, lifecycle.StatusPickedUpByDriver, nil)

	if _, err := f.h.Transition(ctx, server, TransitionRequest{OrderID: o.ID, To: lifecycle.StatusDelivered}); err != nil {
		t.Fatal(err)
	}
	if len(f.pusher.pushed) != 1 || f.pusher.pushed[0] != o.ID {
		t.Fatalf("pushed %v", f.pusher.pushed)
	}
	events := f.recorder.Events()
	if len(events) != 1 || events[0].Field != FIELD_STATUS || events[0].Value != lifecycle.StatusDelivered {
		t.Fatalf("events %+v", events)
	}
}

func TestGetOrderListsRoleActions(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	o := f.order(t, lifecycle.StatusPickedUpByDriver, func(o *models.Order) { o.PaymentMethod = lifecycle.PaymentCash })

	view, err := f.h.GetOrder(ctx, actor(lifecycle.RoleServer), o.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(view.Actions) != 1 || view.Actions[0].Label != "Collect cash & complete" {
		t.Fatalf("actions %+v", view.Actions)
	}

	view, err = f.h.GetOrder(ctx, actor(lifecycle.RoleCashier), o.ID)
	if err != nil || len(view.Actions) != 0 {
		t.Fatalf("cashier actions %+v %v", view, err)
	}
}
