package handler

import (
	"context"
	"testing"

	"clubhouse-system/internal/clover"
	"clubhouse-system/internal/clover/clovertest"
	"clubhouse-system/internal/database"
	"clubhouse-system/internal/database/memorydriver"
	"clubhouse-system/internal/database/models"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func seedBurger(t *testing.T, store *memorydriver.Store) *models.MenuItem {
	t.Helper()
	ctx := context.Background()

	cat := &models.Category{Name: "Grill"}
	if err := store.CreateCategory(ctx, cat); err != nil {
		t.Fatal(err)
	}
	item := &models.MenuItem{
		Name:        "Clubhouse Burger",
		Price:       "14.50",
		Stock:       10,
		IsAvailable: true,
		CategoryID:  &cat.ID,
		OptionGroups: []models.OptionGroup{
			{
				Title: "Side",
				Choices: []models.OptionChoice{
					{Label: "Fries", PriceDelta: "0"},
					{Label: "Salad", PriceDelta: "1.25", NestedGroup: &models.NestedOptionGroup{
						Title: "Dressing",
						Choices: []models.NestedOptionChoice{
							{Label: "Ranch", PriceDelta: "0"},
							{Label: "Blue Cheese", PriceDelta: "0.75"},
						},
					}},
				},
			},
			{
				Title:   "Temperature",
				Choices: []models.OptionChoice{{Label: "Medium"}, {Label: "Well"}},
			},
		},
	}
	if err := store.CreateMenuItem(ctx, item); err != nil {
		t.Fatal(err)
	}
	return item
}

func TestSyncMenuItemCreatesThenUpdates(t *testing.T) {
	fake := clovertest.NewServer(t)
	store := memorydriver.New()
	item := seedBurger(t, store)
	h := NewCatalogHandler(store, fake.CloverClient(), nil)
	ctx := context.Background()

	res, err := h.SyncMenuItem(ctx, item.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Created || !res.CategoryLinked {
		t.Fatalf("first sync result %+v", res)
	}
	// Side, Side – Salad, Temperature
	if res.Groups != 3 || res.Modifiers != 6 {
		t.Fatalf("groups=%d modifiers=%d", res.Groups, res.Modifiers)
	}

	remote := fake.Items[res.CloverItemID]
	if remote.Price != 1450 || remote.Hidden {
		t.Fatalf("remote item %+v", remote)
	}
	if !fake.StockTracked[res.CloverItemID] {
		t.Fatal("stock tracking should be seeded on create")
	}

	var nestedFound bool
	for _, g := range fake.Groups {
		if g.Name == "Side – Salad" {
			nestedFound = true
		}
	}
	if !nestedFound {
		t.Fatalf("nested group not named after parent, groups %v", fake.Groups)
	}

	loaded, _ := store.GetMenuItem(ctx, item.ID)
	salad := loaded.OptionGroups[0].Choices[1]
	saladID, _ := salad.CloverModifierID.ID()
	sideID, _ := loaded.OptionGroups[0].CloverGroupID.ID()
	if fake.Modifiers[sideID][saladID].Price != 0 {
		t.Fatal("choice owning a nested group must be priced at zero")
	}
	if len(fake.ItemGroups[res.CloverItemID]) != 3 {
		t.Fatalf("item links %v", fake.ItemGroups[res.CloverItemID])
	}

	second, err := h.SyncMenuItem(ctx, item.ID)
	if err != nil {
		t.Fatal(err)
	}
	if second.Created || second.CloverItemID != res.CloverItemID {
		t.Fatalf("second sync %+v", second)
	}
	if fake.Count("POST", "/items") != 2 || fake.Count("POST", "/categories") != 1 {
		t.Fatalf("expected one create and one update, calls %v", fake.Calls())
	}
	if len(fake.Groups) != 3 || second.LinksAdded != 0 {
		t.Fatalf("re-sync duplicated groups: %d groups, %d links added", len(fake.Groups), second.LinksAdded)
	}
}

func TestSyncMenuItemDeletesStaleGroups(t *testing.T) {
	fake := clovertest.NewServer(t)
	store := memorydriver.New()
	item := seedBurger(t, store)
	h := NewCatalogHandler(store, fake.CloverClient(), nil)
	ctx := context.Background()

	res, err := h.SyncMenuItem(ctx, item.ID)
	if err != nil {
		t.Fatal(err)
	}

	loaded, _ := store.GetMenuItem(ctx, item.ID)
	tempGroup := loaded.OptionGroups[1]
	tempRemote, _ := tempGroup.CloverGroupID.ID()
	store.DeleteOptionGroup(item.ID, tempGroup.ID)

	again, err := h.SyncMenuItem(ctx, item.ID)
	if err != nil {
		t.Fatal(err)
	}
	if again.Deleted != 1 || again.LinksRemoved != 1 {
		t.Fatalf("stale cleanup %+v", again)
	}
	if _, ok := fake.Groups[tempRemote]; ok {
		t.Fatal("removed option group still exists on POS")
	}
	for _, id := range fake.ItemGroups[res.CloverItemID] {
		if id == tempRemote {
			t.Fatal("removed option group still linked to the item")
		}
	}
}

func TestSyncMenuItemAddsForwardLinksWhenListingUnsupported(t *testing.T) {
	fake := clovertest.NewServer(t)
	fake.LinkListingUnsupported = true
	store := memorydriver.New()
	item := seedBurger(t, store)
	h := NewCatalogHandler(store, fake.CloverClient(), nil)

	res, err := h.SyncMenuItem(context.Background(), item.ID)
	if err != nil {
		t.Fatal(err)
	}
	if res.LinksAdded != 3 || res.LinksRemoved != 0 {
		t.Fatalf("links %+v", res)
	}
	if fake.Count("DELETE", "/items/") != 0 {
		t.Fatalf("no unlink expected, calls %v", fake.Calls())
	}
}

func TestSyncMenuItemReusesCategoryByName(t *testing.T) {
	fake := clovertest.NewServer(t)
	fake.Categories["CAT-EXISTING"] = clover.Category{ID: "CAT-EXISTING", Name: "Grill"}
	store := memorydriver.New()
	item := seedBurger(t, store)
	h := NewCatalogHandler(store, fake.CloverClient(), nil)
	ctx := context.Background()

	if _, err := h.SyncMenuItem(ctx, item.ID); err != nil {
		t.Fatal(err)
	}
	if fake.Count("POST", "/categories") != 0 {
		t.Fatalf("category should be found by name, calls %v", fake.Calls())
	}
	loaded, _ := store.GetMenuItem(ctx, item.ID)
	if id, _ := loaded.Category.CloverCategoryID.ID(); id != "CAT-EXISTING" {
		t.Fatalf("category linked to %q", id)
	}
}

func TestSyncMenuItemSkipsCategoryWhenLookupNotFound(t *testing.T) {
	for _, linked := range []bool{false, true} {
		fake := clovertest.NewServer(t)
		fake.CategoryLookupNotFound = true
		store := memorydriver.New()
		item := seedBurger(t, store)
		if linked {
			if err := store.Link(context.Background(), database.LinkCategory, *item.CategoryID, "CAT-GONE"); err != nil {
				t.Fatal(err)
			}
		}
		h := NewCatalogHandler(store, fake.CloverClient(), nil)

		res, err := h.SyncMenuItem(context.Background(), item.ID)
		if err != nil {
			t.Fatalf("linked=%v: %v", linked, err)
		}
		if res.CategoryLinked || res.CloverItemID == "" || res.Groups != 3 {
			t.Fatalf("linked=%v: result %+v", linked, res)
		}
		if fake.Count("POST", "/categor") != 0 {
			t.Fatalf("linked=%v: no category writes expected, calls %v", linked, fake.Calls())
		}
	}
}

func TestSyncMenuItemUnknownItem(t *testing.T) {
	fake := clovertest.NewServer(t)
	h := NewCatalogHandler(memorydriver.New(), fake.CloverClient(), nil)

	_, err := h.SyncMenuItem(context.Background(), "missing")
	if status.Code(err) != codes.NotFound {
		t.Fatalf("want NotFound, got %v", err)
	}
}
