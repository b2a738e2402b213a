package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"clubhouse-system/internal/broadcast"
	"clubhouse-system/internal/clover/clovertest"
	"clubhouse-system/internal/database/memorydriver"
	"clubhouse-system/internal/database/models"
	"clubhouse-system/internal/effects"
	"clubhouse-system/internal/gateway/handlers"
	"clubhouse-system/internal/lifecycle"
	catalog "clubhouse-system/internal/services/catalog/handler"
	inventory "clubhouse-system/internal/services/inventory/handler"
	orders "clubhouse-system/internal/services/orders/handler"
	payments "clubhouse-system/internal/services/payments/handler"
	pos "clubhouse-system/internal/services/pos/handler"
	settlement "clubhouse-system/internal/services/settlement/handler"
	"clubhouse-system/internal/utils"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type response struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Error   string          `json:"error"`
	Data    json.RawMessage `json:"data"`
}

type fixture struct {
	store  *memorydriver.Store
	fake   *clovertest.Server
	router *gin.Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memorydriver.New()
	fake := clovertest.NewServer(t)
	client := fake.CloverClient()
	runner := effects.Inline{}
	b := &broadcast.Recorder{}

	inv := inventory.NewInventoryHandler(store, client, nil)
	posHandler := pos.NewPOSHandler(store, client, pos.NewTenderCache(8), nil)
	settle := settlement.NewSettlementHandler(store, posHandler, b, runner, nil)

	router := NewRouter(Deps{
		Orders: handlers.NewOrdersHTTPHandler(
			orders.NewOrdersHandler(store, posHandler, b, runner, nil),
			settle,
		),
		Webhooks: handlers.NewWebhookHTTPHandler(payments.NewPaymentsHandler(store, inv, b, runner, nil)),
		Admin: handlers.NewAdminHTTPHandler(
			posHandler,
			catalog.NewCatalogHandler(store, client, nil),
			inv,
			settle,
			50,
		),
	})
	return &fixture{store: store, fake: fake, router: router}
}

func (f *fixture) order(t *testing.T, st lifecycle.Status, method lifecycle.PaymentMethod) *models.Order {
	t.Helper()
	o := &models.Order{
		OrderCode:        "C-" + uuid.NewString()[:8],
		Status:           st,
		PaymentMethod:    method,
		DeliveryType:     lifecycle.DeliveryOnCourse,
		Subtotal:         "10.00",
		Tip:              "0.00",
		TotalDeliveryFee: "0.00",
		TotalAmount:      "10.00",
	}
	if err := f.store.CreateOrder(context.Background(), o); err != nil {
		t.Fatal(err)
	}
	return o
}

func token(t *testing.T, role lifecycle.Role) string {
	t.Helper()
	tok, _, err := utils.GenerateToken(uuid.NewString(), role, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	return tok
}

func (f *fixture) do(t *testing.T, method, path, tok string, body interface{}) (int, response) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	var resp response
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	return w.Code, resp
}

func TestWebhookAlwaysAnswers200(t *testing.T) {
	f := newFixture(t)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/payments", bytes.NewBufferString("garbage"))
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status %d", w.Code)
	}
	var res payments.WebhookResult
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil || !res.Received || res.Applied {
		t.Fatalf("body %s", w.Body.String())
	}
	if w.Header().Get("X-Request-ID") == "" {
		t.Fatal("missing request id header")
	}
}

func TestProtectedRoutesNeedToken(t *testing.T) {
	f := newFixture(t)
	o := f.order(t, lifecycle.StatusOrderReceived, lifecycle.PaymentCard)

	code, resp := f.do(t, http.MethodGet, "/api/v1/orders/"+o.ID, "", nil)
	if code != http.StatusUnauthorized || resp.Error != "UNAUTHORIZED" {
		t.Fatalf("no token: %d %+v", code, resp)
	}
	code, _ = f.do(t, http.MethodGet, "/api/v1/orders/"+o.ID, "not.a.jwt", nil)
	if code != http.StatusUnauthorized {
		t.Fatalf("bad token: %d", code)
	}

	tok := token(t, lifecycle.RoleKitchen)
	code, resp = f.do(t, http.MethodGet, "/api/v1/orders/"+o.ID, tok, nil)
	if code != http.StatusOK || !resp.Success {
		t.Fatalf("kitchen read: %d %+v", code, resp)
	}
	code, _ = f.do(t, http.MethodGet, "/api/v1/orders/"+uuid.NewString(), tok, nil)
	if code != http.StatusNotFound {
		t.Fatalf("missing order: %d", code)
	}
}

func TestStatusUpdateMapsOutcomes(t *testing.T) {
	f := newFixture(t)
	kitchen := token(t, lifecycle.RoleKitchen)
	driver := token(t, lifecycle.RoleDriver)

	o := f.order(t, lifecycle.StatusOrderReceived, lifecycle.PaymentCard)
	path := "/api/v1/orders/" + o.ID + "/status"

	code, resp := f.do(t, http.MethodPatch, path, driver, gin.H{"status": "IN_PROGRESS"})
	if code != http.StatusForbidden || resp.Error != "FORBIDDEN" {
		t.Fatalf("driver: %d %+v", code, resp)
	}
	code, _ = f.do(t, http.MethodPatch, path, kitchen, gin.H{"status": "SOMEWHERE"})
	if code != http.StatusBadRequest {
		t.Fatalf("unknown status: %d", code)
	}
	code, resp = f.do(t, http.MethodPatch, path, kitchen, gin.H{"status": "in_progress"})
	if code != http.StatusOK || !resp.Success {
		t.Fatalf("kitchen: %d %+v", code, resp)
	}
	var res orders.TransitionResult
	if err := json.Unmarshal(resp.Data, &res); err != nil || res.Order == nil || res.Order.Order.Status != lifecycle.StatusInProgress {
		t.Fatalf("updated order missing from %s", resp.Data)
	}
	code, resp = f.do(t, http.MethodPatch, path, kitchen, gin.H{"status": "IN_PROGRESS"})
	if code != http.StatusConflict {
		t.Fatalf("replayed edge: %d %+v", code, resp)
	}
}

func TestStatusUpdateAsksForAgeConfirmation(t *testing.T) {
	f := newFixture(t)
	kitchen := token(t, lifecycle.RoleKitchen)
	o := &models.Order{
		OrderCode:        "C-" + uuid.NewString()[:8],
		Status:           lifecycle.StatusOrderReceived,
		PaymentMethod:    lifecycle.PaymentCard,
		DeliveryType:     lifecycle.DeliveryClubhousePickup,
		ContainsAlcohol:  true,
		Tip:              "0.00",
		TotalDeliveryFee: "0.00",
		TotalAmount:      "9.00",
	}
	if err := f.store.CreateOrder(context.Background(), o); err != nil {
		t.Fatal(err)
	}
	path := "/api/v1/orders/" + o.ID + "/status"

	code, resp := f.do(t, http.MethodPatch, path, kitchen, gin.H{"status": "IN_PROGRESS"})
	if code != http.StatusOK || resp.Success {
		t.Fatalf("want unapplied 200, got %d %+v", code, resp)
	}
	var res orders.TransitionResult
	if err := json.Unmarshal(resp.Data, &res); err != nil || res.Confirmation != orders.CONFIRM_AGE_VERIFIED {
		t.Fatalf("confirmation %s", resp.Data)
	}

	code, resp = f.do(t, http.MethodPatch, path, kitchen, gin.H{"status": "IN_PROGRESS", "confirmAgeVerified": true})
	if code != http.StatusOK || !resp.Success {
		t.Fatalf("confirmed: %d %+v", code, resp)
	}
}

func TestDriverClaimAndCashSettleFlow(t *testing.T) {
	f := newFixture(t)
	driver := token(t, lifecycle.RoleDriver)
	other := token(t, lifecycle.RoleDriver)
	cashier := token(t, lifecycle.RoleCashier)

	o := f.order(t, lifecycle.StatusOrderReady, lifecycle.PaymentCash)
	base := "/api/v1/orders/" + o.ID

	code, resp := f.do(t, http.MethodPost, base+"/claim", driver, nil)
	if code != http.StatusOK {
		t.Fatalf("claim: %d %+v", code, resp)
	}
	var claimed orders.AssignmentResult
	if err := json.Unmarshal(resp.Data, &claimed); err != nil || claimed.Order == nil || claimed.Order.Order.DriverID == nil {
		t.Fatalf("claimed order missing from %s", resp.Data)
	}
	if code, _ := f.do(t, http.MethodPost, base+"/claim", other, nil); code != http.StatusConflict {
		t.Fatalf("second claim: %d", code)
	}
	for _, next := range []string{"PICKED_UP_BY_DRIVER", "ON_THE_WAY", "DELIVERED"} {
		if code, resp := f.do(t, http.MethodPatch, base+"/status", driver, gin.H{"status": next}); code != http.StatusOK {
			t.Fatalf("%s: %d %+v", next, code, resp)
		}
	}

	code, resp = f.do(t, http.MethodPost, base+"/cash-collection/settle", cashier, gin.H{"receivedAmount": "10.00"})
	if code != http.StatusOK || !resp.Success {
		t.Fatalf("settle: %d %+v", code, resp)
	}
	var res settlement.SettlementResult
	if err := json.Unmarshal(resp.Data, &res); err != nil || res.Status != models.CashSettled || res.Variance != "0.00" {
		t.Fatalf("settlement %s", resp.Data)
	}

	if code, _ := f.do(t, http.MethodPost, base+"/cash-collection/revert", cashier, nil); code != http.StatusForbidden {
		t.Fatalf("cashier revert: %d", code)
	}
}

func TestAdminRoutesRequireAdmin(t *testing.T) {
	f := newFixture(t)
	admin := token(t, lifecycle.RoleAdmin)
	kitchen := token(t, lifecycle.RoleKitchen)

	if code, _ := f.do(t, http.MethodPost, "/api/v1/admin/backfill", kitchen, nil); code != http.StatusForbidden {
		t.Fatalf("kitchen backfill: %d", code)
	}

	f.order(t, lifecycle.StatusDelivered, lifecycle.PaymentCard)
	code, resp := f.do(t, http.MethodPost, "/api/v1/admin/backfill?limit=10", admin, nil)
	if code != http.StatusOK {
		t.Fatalf("backfill: %d %+v", code, resp)
	}
	var report settlement.BackfillReport
	if err := json.Unmarshal(resp.Data, &report); err != nil || report.Succeeded != 1 {
		t.Fatalf("report %s", resp.Data)
	}

	f.fake.FailOrders = true
	o := f.order(t, lifecycle.StatusDelivered, lifecycle.PaymentCard)
	if code, resp := f.do(t, http.MethodPost, "/api/v1/orders/"+o.ID+"/pos-sync", admin, nil); code != http.StatusBadGateway {
		t.Fatalf("pos-sync with POS down: %d %+v", code, resp)
	}

	if code, _ := f.do(t, http.MethodPost, "/api/v1/menu-items/"+uuid.NewString()+"/pos-sync", admin, nil); code != http.StatusNotFound {
		t.Fatalf("unknown menu item: %d", code)
	}
}

func TestHealthReportsMissingWorker(t *testing.T) {
	f := newFixture(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	var body map[string]interface{}
	_ = json.Unmarshal(w.Body.Bytes(), &body)
	if w.Code != http.StatusOK || body["status"] != "degraded" || body["worker"] != "unavailable" {
		t.Fatalf("health %d %v", w.Code, body)
	}
}
