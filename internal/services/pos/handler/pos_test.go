package handler

import (
	"context"
	"fmt"
	"testing"

	"clubhouse-system/internal/cache"
	"clubhouse-system/internal/clover"
	"clubhouse-system/internal/clover/clovertest"
	"clubhouse-system/internal/database"
	"clubhouse-system/internal/database/memorydriver"
	"clubhouse-system/internal/database/models"
	"clubhouse-system/internal/lifecycle"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"gorm.io/datatypes"
)

type invalidations struct {
	keys []string
}

func (r *invalidations) Invalidate(_ context.Context, keys ...string) {
	r.keys = append(r.keys, keys...)
}

type fixture struct {
	fake  *clovertest.Server
	store *memorydriver.Store
	inv   *invalidations
	h     *POSHandler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	fake := clovertest.NewServer(t)
	store := memorydriver.New()
	inv := &invalidations{}
	return &fixture{fake: fake, store: store, inv: inv, h: NewPOSHandler(store, fake.CloverClient(), NewTenderCache(8), inv)}
}

// seedLinkedBurger creates a menu item whose item and "Cheddar" (+1.00) and
// "Bacon" (+2.00) choices are already linked to POS ids.
func (f *fixture) seedLinkedBurger(t *testing.T) (*models.MenuItem, string) {
	t.Helper()
	ctx := context.Background()
	item := &models.MenuItem{
		Name:  "Clubhouse Burger",
		Price: "14.50",
		Stock: 20,
		OptionGroups: []models.OptionGroup{{
			Title:   "Cheese",
			Choices: []models.OptionChoice{
				{Label: "Cheddar", PriceDelta: "1.00"},
				{Label: "Bacon", PriceDelta: "2.00"},
			},
		}},
	}
	if err := f.store.CreateMenuItem(ctx, item); err != nil {
		t.Fatal(err)
	}
	choiceID := item.OptionGroups[0].Choices[0].ID
	if err := f.store.Link(ctx, database.LinkMenuItem, item.ID, "ITEM-BURGER"); err != nil {
		t.Fatal(err)
	}
	if err := f.store.Link(ctx, database.LinkOptionChoice, choiceID, "MOD-CHEDDAR"); err != nil {
		t.Fatal(err)
	}
	if err := f.store.Link(ctx, database.LinkOptionChoice, item.OptionGroups[0].Choices[1].ID, "MOD-BACON"); err != nil {
		t.Fatal(err)
	}
	f.fake.Groups["GRP-CHEESE"] = clover.ModifierGroup{ID: "GRP-CHEESE", Name: "Cheese"}
	f.fake.Modifiers["GRP-CHEESE"] = map[string]clover.Modifier{
		"MOD-CHEDDAR": {ID: "MOD-CHEDDAR", Name: "Cheddar", Price: 100},
		"MOD-BACON":   {ID: "MOD-BACON", Name: "Bacon", Price: 200},
	}
	return item, choiceID
}

func (f *fixture) createOrder(t *testing.T, order *models.Order) *models.Order {
	t.Helper()
	if order.Status == "" {
		order.Status = lifecycle.StatusDelivered
	}
	if order.DeliveryType == "" {
		order.DeliveryType = lifecycle.DeliveryClubhousePickup
	}
	for _, amount := range []*string{&order.Tip, &order.DeliveryFee, &order.RestaurantDeliveryFee, &order.TotalDeliveryFee, &order.TotalAmount} {
		if *amount == "" {
			*amount = "0.00"
		}
	}
	if err := f.store.CreateOrder(context.Background(), order); err != nil {
		t.Fatal(err)
	}
	return order
}

func TestPushOrderMirrorsRowsAndLinksLast(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	burger, cheddar := f.seedLinkedBurger(t)

	order := f.createOrder(t, &models.Order{
		OrderCode:       "C-100",
		PaymentMethod:   lifecycle.PaymentCard,
		DeliveryType:    lifecycle.DeliveryOnCourse,
		ContainsAlcohol: true,
		Tip:             "2.00",
		TotalAmount:     "33.00",
		Items: []models.OrderItem{{
			MenuItemID:      burger.ID,
			Quantity:        2,
			UnitPrice:       "15.50",
			SelectedOptions: datatypes.NewJSONType([]models.SelectedOption{{ChoiceID: cheddar}}),
		}},
	})

	remoteID, err := f.h.PushOrder(ctx, order.ID)
	if err != nil {
		t.Fatal(err)
	}

	remote := f.fake.Orders[remoteID]
	if remote.Note != "C-100 | ALCOHOL | GOLF ORDER" || remote.Title != "Test Clubhouse" {
		t.Fatalf("remote order %+v", remote)
	}

	lines := f.fake.LineItems[remoteID]
	if len(lines) != 3 {
		t.Fatalf("want 2 burger rows and a tip row, got %+v", lines)
	}
	for _, li := range lines[:2] {
		if li.Item == nil || li.Item.ID != "ITEM-BURGER" || li.Price != 1450 || !li.Taxable {
			t.Fatalf("burger row %+v", li)
		}
		if mods := f.fake.Modifications[li.ID]; len(mods) != 1 || mods[0] != "MOD-CHEDDAR" {
			t.Fatalf("modifications on %s: %v", li.ID, mods)
		}
	}
	if tip := lines[2]; tip.Name != ROW_TIP || tip.Price != 200 || tip.Taxable {
		t.Fatalf("tip row %+v", tip)
	}

	payments := f.fake.Payments[remoteID]
	if len(payments) != 1 || payments[0].Amount != 3300 || payments[0].Tender.ID != "T-EXT" {
		t.Fatalf("external tender %+v", payments)
	}
	if total := f.fake.OrderTotal(remoteID); total != 3300 {
		t.Fatalf("POS order total %d, want 3300", total)
	}

	stored, _ := f.store.GetOrder(ctx, order.ID)
	if id, _ := stored.CloverOrderID.ID(); id != remoteID {
		t.Fatalf("link %q, want %q", id, remoteID)
	}
	if len(f.inv.keys) != 1 || f.inv.keys[0] != cache.OrderKey(order.ID) {
		t.Fatalf("cached order view not dropped after link: %v", f.inv.keys)
	}

	before := len(f.fake.Calls())
	again, err := f.h.PushOrder(ctx, order.ID)
	if err != nil || again != remoteID {
		t.Fatalf("second push %q %v", again, err)
	}
	if len(f.fake.Calls()) != before {
		t.Fatalf("linked order must not reach the POS again, calls %v", f.fake.Calls()[before:])
	}
}

func TestPushOrderFallsBackToLegacyItems(t *testing.T) {
	f := newFixture(t)
	burger, _ := f.seedLinkedBurger(t)

	order := f.createOrder(t, &models.Order{
		OrderCode:        "C-101",
		PaymentMethod:    lifecycle.PaymentCash,
		DeliveryFee:      "3.50",
		TotalDeliveryFee: "3.50",
		TotalAmount:      "12.50",
		LegacyItems: datatypes.NewJSONType([]models.LegacyItem{
			{MenuItemID: burger.ID, Name: "Clubhouse Burger", Quantity: 1, Price: "9.00"},
			{Name: "Lemonade", Quantity: 0, Price: "3.00"},
		}),
	})

	remoteID, err := f.h.PushOrder(context.Background(), order.ID)
	if err != nil {
		t.Fatal(err)
	}
	lines := f.fake.LineItems[remoteID]
	if len(lines) != 2 {
		t.Fatalf("lines %+v", lines)
	}
	if lines[0].Item == nil || lines[0].Item.ID != "ITEM-BURGER" || lines[0].Price != 900 {
		t.Fatalf("legacy row %+v", lines[0])
	}
	if lines[1].Name != ROW_DELIVERY_FEE || lines[1].Price != 350 || lines[1].Taxable {
		t.Fatalf("fee row %+v", lines[1])
	}
	if len(f.fake.Payments[remoteID]) != 0 {
		t.Fatal("cash orders get their tender at settlement, not on push")
	}
	if f.fake.Orders[remoteID].Note != "C-101" {
		t.Fatalf("note %q", f.fake.Orders[remoteID].Note)
	}
}

func TestPushOrderTotalsMatchOrder(t *testing.T) {
	f := newFixture(t)
	burger, cheddar := f.seedLinkedBurger(t)
	bacon := burger.OptionGroups[0].Choices[1].ID

	// 14.50 + 1.00 + 2.00 burger, 5.00 customer fee; the restaurant absorbs 2.00 more.
	order := f.createOrder(t, &models.Order{
		OrderCode:             "C-103",
		PaymentMethod:         lifecycle.PaymentCard,
		DeliveryType:          lifecycle.DeliveryStandardDelivery,
		DeliveryFee:           "5.00",
		RestaurantDeliveryFee: "2.00",
		TotalDeliveryFee:      "7.00",
		TotalAmount:           "22.50",
		Items: []models.OrderItem{{
			MenuItemID:      burger.ID,
			Quantity:        1,
			UnitPrice:       "17.50",
			SelectedOptions: datatypes.NewJSONType([]models.SelectedOption{{ChoiceID: cheddar}, {ChoiceID: bacon}}),
		}},
	})

	remoteID, err := f.h.PushOrder(context.Background(), order.ID)
	if err != nil {
		t.Fatal(err)
	}

	lines := f.fake.LineItems[remoteID]
	if len(lines) != 2 || lines[0].Price != 1450 {
		t.Fatalf("lines %+v", lines)
	}
	if fee := lines[1]; fee.Name != ROW_DELIVERY_FEE || fee.Price != 500 {
		t.Fatalf("fee row %+v", fee)
	}
	if total := f.fake.OrderTotal(remoteID); total != 2250 {
		t.Fatalf("POS order total %d, want 2250", total)
	}
	if p := f.fake.Payments[remoteID]; len(p) != 1 || p[0].Amount != 2250 {
		t.Fatalf("tender %+v", p)
	}
}

func TestPushOrderKeepsAttachingAfterModifierFailure(t *testing.T) {
	f := newFixture(t)
	f.fake.FailModifier = "MOD-CHEDDAR"
	burger, cheddar := f.seedLinkedBurger(t)
	bacon := burger.OptionGroups[0].Choices[1].ID

	order := f.createOrder(t, &models.Order{
		OrderCode:     "C-104",
		PaymentMethod: lifecycle.PaymentCash,
		TotalAmount:   "35.00",
		Items: []models.OrderItem{{
			MenuItemID:      burger.ID,
			Quantity:        2,
			UnitPrice:       "17.50",
			SelectedOptions: datatypes.NewJSONType([]models.SelectedOption{{ChoiceID: cheddar}, {ChoiceID: bacon}}),
		}},
	})

	remoteID, err := f.h.PushOrder(context.Background(), order.ID)
	if err != nil {
		t.Fatalf("a failed modifier must not fail the push: %v", err)
	}
	lines := f.fake.LineItems[remoteID]
	if len(lines) != 2 {
		t.Fatalf("lines %+v", lines)
	}
	for _, li := range lines {
		if mods := f.fake.Modifications[li.ID]; len(mods) != 1 || mods[0] != "MOD-BACON" {
			t.Fatalf("modifications on %s: %v", li.ID, mods)
		}
	}
	if f.fake.Count("POST", "/orders/"+remoteID+"/line_items/") != 4 {
		t.Fatalf("every attachment should be attempted, calls %v", f.fake.Calls())
	}
	stored, _ := f.store.GetOrder(context.Background(), order.ID)
	if !stored.CloverOrderID.IsLinked() {
		t.Fatal("order should be linked")
	}
}

func TestPushOrderPOSFailureLeavesOrderUnlinked(t *testing.T) {
	f := newFixture(t)
	f.fake.FailOrders = true
	order := f.createOrder(t, &models.Order{OrderCode: "C-102", PaymentMethod: lifecycle.PaymentCard})

	_, err := f.h.PushOrder(context.Background(), order.ID)
	if status.Code(err) != codes.Unavailable {
		t.Fatalf("want Unavailable, got %v", err)
	}
	stored, _ := f.store.GetOrder(context.Background(), order.ID)
	if stored.CloverOrderID.IsLinked() {
		t.Fatal("failed push must not link the order")
	}

	if _, err := f.h.PushOrder(context.Background(), "missing"); status.Code(err) != codes.NotFound {
		t.Fatalf("want NotFound, got %v", err)
	}
}

func TestEnsureCashTenderIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := f.h.EnsureCashTender(ctx, "ORD-9", "18.25"); err != nil {
			t.Fatal(err)
		}
	}
	if n := f.fake.CashTenders("ORD-9"); n != 1 {
		t.Fatalf("want one cash tender, got %d", n)
	}
	if f.fake.Count("GET", "/orders/ORD-9/payments") != 1 {
		t.Fatalf("cache should skip listing, calls %v", f.fake.Calls())
	}

	// A fresh process has an empty cache and must find the existing tender.
	fresh := NewPOSHandler(f.store, f.fake.CloverClient(), NewTenderCache(8), nil)
	if err := fresh.EnsureCashTender(ctx, "ORD-9", "18.25"); err != nil {
		t.Fatal(err)
	}
	if n := f.fake.CashTenders("ORD-9"); n != 1 {
		t.Fatalf("tender duplicated after restart, got %d", n)
	}
}

func TestEnsureCashTenderTreatsConflictAsExisting(t *testing.T) {
	f := newFixture(t)
	f.fake.PaymentConflict = true

	if err := f.h.EnsureCashTender(context.Background(), "ORD-10", "5.00"); err != nil {
		t.Fatalf("409 should count as already tendered: %v", err)
	}
	if !f.h.tenders.Has("ORD-10") {
		t.Fatal("conflict should be remembered")
	}
}

func TestTenderCacheEvictsLeastRecentlyUsed(t *testing.T) {
	c := NewTenderCache(3)
	for i := 0; i < 3; i++ {
		c.Add(fmt.Sprintf("ORD-%d", i))
	}
	c.Has("ORD-0")
	c.Add("ORD-3")

	if c.Len() != 3 {
		t.Fatalf("len %d", c.Len())
	}
	if c.Has("ORD-1") {
		t.Fatal("ORD-1 was least recently used and should be evicted")
	}
	for _, id := range []string{"ORD-0", "ORD-2", "ORD-3"} {
		if !c.Has(id) {
			t.Fatalf("%s evicted", id)
		}
	}
}
