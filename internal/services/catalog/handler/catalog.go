package handler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"clubhouse-system/internal/cache"
	"clubhouse-system/internal/clover"
	"clubhouse-system/internal/database"
	"clubhouse-system/internal/database/models"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"gorm.io/datatypes"
)

type CatalogStore interface {
	GetMenuItem(ctx context.Context, id string) (*models.MenuItem, error)
	GetCatalogSyncRecord(ctx context.Context, menuItemID string) (*models.CatalogSyncRecord, error)
	SaveCatalogSyncRecord(ctx context.Context, rec *models.CatalogSyncRecord) error
	Link(ctx context.Context, target database.LinkTarget, id, cloverID string) error
}

type CatalogGateway interface {
	CreateItem(ctx context.Context, item clover.Item) (clover.Item, error)
	UpdateItem(ctx context.Context, id string, item clover.Item) (clover.Item, error)
	UpsertItemStock(ctx context.Context, itemID string, quantity int) error

	GetCategory(ctx context.Context, id string) (clover.Category, error)
	FindCategoryByName(ctx context.Context, name string) (*clover.Category, error)
	CreateCategory(ctx context.Context, name string) (clover.Category, error)
	AddItemToCategory(ctx context.Context, itemID, categoryID string) error

	CreateModifierGroup(ctx context.Context, name string) (clover.ModifierGroup, error)
	UpdateModifierGroup(ctx context.Context, id, name string) (clover.ModifierGroup, error)
	DeleteModifierGroup(ctx context.Context, id string) error
	CreateModifier(ctx context.Context, groupID string, m clover.Modifier) (clover.Modifier, error)
	UpdateModifier(ctx context.Context, groupID, id string, m clover.Modifier) (clover.Modifier, error)
	DeleteModifier(ctx context.Context, groupID, id string) error

	ListItemModifierGroups(ctx context.Context, itemID string) ([]string, error)
	LinkModifierGroups(ctx context.Context, itemID string, groupIDs []string) error
	UnlinkModifierGroup(ctx context.Context, itemID, groupID string) error
}

type SyncResult struct {
	MenuItemID     string `json:"menuItemId"`
	CloverItemID   string `json:"cloverItemId"`
	Created        bool   `json:"created"`
	CategoryLinked bool   `json:"categoryLinked"`
	Groups         int    `json:"groups"`
	Modifiers      int    `json:"modifiers"`
	Deleted        int    `json:"deleted"`
	LinksAdded     int    `json:"linksAdded"`
	LinksRemoved   int    `json:"linksRemoved"`
}

type CatalogHandler struct {
	store CatalogStore
	pos   CatalogGateway
	cache *cache.Cache
}

func NewCatalogHandler(store CatalogStore, pos CatalogGateway, c *cache.Cache) *CatalogHandler {
	return &CatalogHandler{store: store, pos: pos, cache: c}
}

// SyncMenuItem mirrors one menu item, its category and its option tree to
// the POS, then removes whatever the previous sync created that no longer
// exists locally.
func (s *CatalogHandler) SyncMenuItem(ctx context.Context, menuItemID string) (*SyncResult, error) {
	item, err := s.store.GetMenuItem(ctx, menuItemID)
	if errors.Is(err, database.ErrNotFound) {
		return nil, status.Errorf(codes.NotFound, "menu item %s not found", menuItemID)
	}
	if err != nil {
		return nil, status.Errorf(codes.Internal, "load menu item: %v", err)
	}

	res, err := s.sync(ctx, item)
	if err != nil {
		log.Printf("[catalog] sync %s failed: %v", menuItemID, err)
		return res, status.Errorf(codes.Unavailable, "catalog sync failed: %v", err)
	}

	s.cache.Invalidate(ctx, cache.MenuItemKey(menuItemID))
	log.Printf("[catalog] synced %s -> %s (groups=%d modifiers=%d deleted=%d)",
		menuItemID, res.CloverItemID, res.Groups, res.Modifiers, res.Deleted)
	return res, nil
}

func (s *CatalogHandler) sync(ctx context.Context, item *models.MenuItem) (*SyncResult, error) {
	res := &SyncResult{MenuItemID: item.ID}

	cloverItemID, err := s.upsertItem(ctx, item, res)
	if err != nil {
		return res, err
	}
	res.CloverItemID = cloverItemID

	if err := s.syncCategory(ctx, item, cloverItemID, res); err != nil {
		return res, err
	}

	current := models.RemoteCatalog{Groups: make(map[string][]string)}
	var groupIDs []string

	for _, group := range item.OptionGroups {
		groupID, err := s.upsertGroup(ctx, database.LinkOptionGroup, group.ID, group.CloverGroupID, group.Title)
		if err != nil {
			return res, err
		}
		groupIDs = append(groupIDs, groupID)
		current.Groups[groupID] = []string{}
		res.Groups++

		for _, choice := range group.Choices {
			// Choices that open a nested group carry no price themselves.
			price := int64(0)
			if choice.NestedGroup == nil {
				if price, err = clover.MinorUnits(choice.PriceDelta); err != nil {
					return res, err
				}
			}
			modID, err := s.upsertModifier(ctx, database.LinkOptionChoice, choice.ID, choice.CloverModifierID, groupID, choice.Label, price)
			if err != nil {
				return res, err
			}
			current.Groups[groupID] = append(current.Groups[groupID], modID)
			res.Modifiers++

			if choice.NestedGroup == nil {
				continue
			}
			nested := choice.NestedGroup
			title := fmt.Sprintf("%s – %s", group.Title, choice.Label)
			nestedID, err := s.upsertGroup(ctx, database.LinkNestedGroup, nested.ID, nested.CloverGroupID, title)
			if err != nil {
				return res, err
			}
			groupIDs = append(groupIDs, nestedID)
			current.Groups[nestedID] = []string{}
			res.Groups++

			for _, nc := range nested.Choices {
				ncPrice, err := clover.MinorUnits(nc.PriceDelta)
				if err != nil {
					return res, err
				}
				ncID, err := s.upsertModifier(ctx, database.LinkNestedChoice, nc.ID, nc.CloverModifierID, nestedID, nc.Label, ncPrice)
				if err != nil {
					return res, err
				}
				current.Groups[nestedID] = append(current.Groups[nestedID], ncID)
				res.Modifiers++
			}
		}
	}

	previous := models.RemoteCatalog{}
	rec, err := s.store.GetCatalogSyncRecord(ctx, item.ID)
	switch {
	case err == nil:
		previous = rec.Remote.Data()
	case !errors.Is(err, database.ErrNotFound):
		return res, err
	}

	if err := s.syncLinks(ctx, cloverItemID, groupIDs, res); err != nil {
		return res, err
	}
	res.Deleted = s.deleteStale(ctx, previous, current)

	err = s.store.SaveCatalogSyncRecord(ctx, &models.CatalogSyncRecord{
		MenuItemID: item.ID,
		Remote:     datatypes.NewJSONType(current),
		SyncedAt:   time.Now(),
	})
	return res, err
}

func (s *CatalogHandler) upsertItem(ctx context.Context, item *models.MenuItem, res *SyncResult) (string, error) {
	price, err := clover.MinorUnits(item.Price)
	if err != nil {
		return "", err
	}
	payload := clover.Item{Name: item.Name, Price: price, PriceType: "FIXED", Hidden: !item.IsAvailable}

	if id, ok := item.CloverItemID.ID(); ok {
		if _, err := s.pos.UpdateItem(ctx, id, payload); err != nil {
			return "", fmt.Errorf("update item %s: %w", id, err)
		}
		return id, nil
	}

	created, err := s.pos.CreateItem(ctx, payload)
	if err != nil {
		return "", fmt.Errorf("create item: %w", err)
	}
	if err := s.store.Link(ctx, database.LinkMenuItem, item.ID, created.ID); err != nil {
		return "", fmt.Errorf("link item %s: %w", created.ID, err)
	}
	res.Created = true

	// Seed a stock record so later stock pushes find tracking enabled.
	if err := s.pos.UpsertItemStock(ctx, created.ID, 0); err != nil {
		log.Printf("[catalog] enable stock tracking for %s: %v", created.ID, err)
	}
	return created.ID, nil
}

func (s *CatalogHandler) syncCategory(ctx context.Context, item *models.MenuItem, cloverItemID string, res *SyncResult) error {
	if item.Category == nil {
		return nil
	}
	category := item.Category

	categoryID, linked := category.CloverCategoryID.ID()
	if linked {
		if _, err := s.pos.GetCategory(ctx, categoryID); err != nil {
			if clover.IsNotFound(err) {
				log.Printf("[catalog] category %s not found on POS, skipping association", categoryID)
				return nil
			}
			return err
		}
	} else {
		found, err := s.pos.FindCategoryByName(ctx, category.Name)
		if err != nil {
			if clover.IsNotFound(err) {
				log.Printf("[catalog] category lookup for %q not found, skipping association", category.Name)
				return nil
			}
			return err
		}
		if found != nil {
			categoryID = found.ID
		} else {
			created, err := s.pos.CreateCategory(ctx, category.Name)
			if err != nil {
				return fmt.Errorf("create category %q: %w", category.Name, err)
			}
			categoryID = created.ID
		}
		if err := s.store.Link(ctx, database.LinkCategory, category.ID, categoryID); err != nil {
			return err
		}
	}

	if err := s.pos.AddItemToCategory(ctx, cloverItemID, categoryID); err != nil && !clover.IsConflict(err) {
		return fmt.Errorf("associate item with category %s: %w", categoryID, err)
	}
	res.CategoryLinked = true
	return nil
}

func (s *CatalogHandler) upsertGroup(ctx context.Context, target database.LinkTarget, localID string, link models.POSLink, name string) (string, error) {
	if id, ok := link.ID(); ok {
		if _, err := s.pos.UpdateModifierGroup(ctx, id, name); err != nil {
			return "", fmt.Errorf("update modifier group %s: %w", id, err)
		}
		return id, nil
	}

	created, err := s.pos.CreateModifierGroup(ctx, name)
	if err != nil {
		return "", fmt.Errorf("create modifier group %q: %w", name, err)
	}
	if err := s.store.Link(ctx, target, localID, created.ID); err != nil {
		return "", err
	}
	return created.ID, nil
}

func (s *CatalogHandler) upsertModifier(ctx context.Context, target database.LinkTarget, localID string, link models.POSLink, groupID, name string, price int64) (string, error) {
	payload := clover.Modifier{Name: name, Price: price}
	if id, ok := link.ID(); ok {
		if _, err := s.pos.UpdateModifier(ctx, groupID, id, payload); err != nil {
			return "", fmt.Errorf("update modifier %s: %w", id, err)
		}
		return id, nil
	}

	created, err := s.pos.CreateModifier(ctx, groupID, payload)
	if err != nil {
		return "", fmt.Errorf("create modifier %q: %w", name, err)
	}
	if err := s.store.Link(ctx, target, localID, created.ID); err != nil {
		return "", err
	}
	return created.ID, nil
}

// syncLinks makes the item's modifier groups exactly groupIDs. When the POS
// cannot list existing links only forward links are added.
func (s *CatalogHandler) syncLinks(ctx context.Context, cloverItemID string, groupIDs []string, res *SyncResult) error {
	existing, err := s.pos.ListItemModifierGroups(ctx, cloverItemID)
	if err != nil {
		if !clover.IsNotImplemented(err) {
			return fmt.Errorf("list item modifier groups: %w", err)
		}
		log.Printf("[catalog] link listing unsupported for %s, adding forward links only", cloverItemID)
		if err := s.pos.LinkModifierGroups(ctx, cloverItemID, groupIDs); err != nil {
			return err
		}
		res.LinksAdded = len(groupIDs)
		return nil
	}

	have := make(map[string]bool, len(existing))
	for _, id := range existing {
		have[id] = true
	}
	want := make(map[string]bool, len(groupIDs))
	var missing []string
	for _, id := range groupIDs {
		want[id] = true
		if !have[id] {
			missing = append(missing, id)
		}
	}

	if err := s.pos.LinkModifierGroups(ctx, cloverItemID, missing); err != nil {
		return err
	}
	res.LinksAdded = len(missing)

	for _, id := range existing {
		if want[id] {
			continue
		}
		if err := s.pos.UnlinkModifierGroup(ctx, cloverItemID, id); err != nil && !clover.IsNotFound(err) {
			log.Printf("[catalog] %v", err)
			continue
		}
		res.LinksRemoved++
	}
	return nil
}

// deleteStale removes remote groups and modifiers recorded by the previous
// sync that the current sync did not produce. Failures are logged.
func (s *CatalogHandler) deleteStale(ctx context.Context, previous, current models.RemoteCatalog) int {
	deleted := 0
	for groupID, prevMods := range previous.Groups {
		currentMods, stillUsed := current.Groups[groupID]
		if !stillUsed {
			if err := s.pos.DeleteModifierGroup(ctx, groupID); err != nil && !clover.IsNotFound(err) {
				log.Printf("[catalog] delete stale modifier group %s: %v", groupID, err)
				continue
			}
			deleted++
			continue
		}

		keep := make(map[string]bool, len(currentMods))
		for _, id := range currentMods {
			keep[id] = true
		}
		for _, modID := range prevMods {
			if keep[modID] {
				continue
			}
			if err := s.pos.DeleteModifier(ctx, groupID, modID); err != nil && !clover.IsNotFound(err) {
				log.Printf("[catalog] delete stale modifier %s: %v", modID, err)
				continue
			}
			deleted++
		}
	}
	return deleted
}
