package handler

import (
	"context"
	"errors"
	"fmt"
	"log"

	"clubhouse-system/internal/cache"
	"clubhouse-system/internal/clover"
	"clubhouse-system/internal/database/models"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const PULL_PAGE_SIZE = 100

var ErrItemNotSynced = errors.New("menu item is not linked to a clover item")

type InventoryStore interface {
	GetMenuItem(ctx context.Context, id string) (*models.MenuItem, error)
	FindMenuItemsByCloverIDs(ctx context.Context, cloverIDs []string) ([]models.MenuItem, error)
	SetMenuItemStock(ctx context.Context, id string, stock int) error
}

type StockGateway interface {
	SetStockLevel(ctx context.Context, itemID string, quantity int) error
	UpsertItemStock(ctx context.Context, itemID string, quantity int) error
	ListItemStocks(ctx context.Context, offset, limit int) ([]clover.ItemStock, error)
}

type InventoryHandler struct {
	store InventoryStore
	pos   StockGateway
	cache *cache.Cache
}

func NewInventoryHandler(store InventoryStore, pos StockGateway, c *cache.Cache) *InventoryHandler {
	return &InventoryHandler{store: store, pos: pos, cache: c}
}

// PushStock sets the POS quantity for a linked item. Items without stock
// tracking reject the primary call, so the stock record is upserted instead.
func (s *InventoryHandler) PushStock(ctx context.Context, link models.POSLink, quantity int) error {
	itemID, ok := link.ID()
	if !ok {
		return ErrItemNotSynced
	}

	err := s.pos.SetStockLevel(ctx, itemID, quantity)
	if err == nil {
		return nil
	}
	if !clover.IsNotImplemented(err) {
		return fmt.Errorf("push stock for %s: %w", itemID, err)
	}

	log.Printf("[inventory] stock level unsupported for %s, upserting stock record", itemID)
	if err := s.pos.UpsertItemStock(ctx, itemID, quantity); err != nil {
		return fmt.Errorf("upsert stock for %s: %w", itemID, err)
	}
	return nil
}

func (s *InventoryHandler) PushMenuItemStock(ctx context.Context, menuItemID string) error {
	item, err := s.store.GetMenuItem(ctx, menuItemID)
	if err != nil {
		return err
	}
	return s.PushStock(ctx, item.CloverItemID, item.Stock)
}

// PullStock pages through the POS stock listing and copies quantities that
// differ onto locally known items. It returns how many rows changed.
func (s *InventoryHandler) PullStock(ctx context.Context) (int, error) {
	changed := 0
	for offset := 0; ; offset += PULL_PAGE_SIZE {
		page, err := s.pos.ListItemStocks(ctx, offset, PULL_PAGE_SIZE)
		if err != nil {
			return changed, status.Errorf(codes.Unavailable, "list item stocks at offset %d: %v", offset, err)
		}

		n, err := s.applyPage(ctx, page)
		changed += n
		if err != nil {
			return changed, status.Errorf(codes.Internal, "apply stock page at offset %d: %v", offset, err)
		}

		if len(page) < PULL_PAGE_SIZE {
			break
		}
	}

	if changed > 0 {
		log.Printf("[inventory] stock pull changed %d items", changed)
	}
	return changed, nil
}

func (s *InventoryHandler) applyPage(ctx context.Context, page []clover.ItemStock) (int, error) {
	remote := make(map[string]int, len(page))
	ids := make([]string, 0, len(page))
	for _, st := range page {
		if st.Item == nil || st.Item.ID == "" {
			continue
		}
		remote[st.Item.ID] = st.Quantity
		ids = append(ids, st.Item.ID)
	}

	local, err := s.store.FindMenuItemsByCloverIDs(ctx, ids)
	if err != nil {
		return 0, err
	}

	changed := 0
	for _, item := range local {
		cloverID, _ := item.CloverItemID.ID()
		qty := remote[cloverID]
		if qty < 0 {
			qty = 0
		}
		if qty == item.Stock {
			continue
		}
		if err := s.store.SetMenuItemStock(ctx, item.ID, qty); err != nil {
			return changed, fmt.Errorf("set stock for %s: %w", item.ID, err)
		}
		s.cache.Invalidate(ctx, cache.MenuItemKey(item.ID))
		changed++
	}
	return changed, nil
}
