// Package memorydriver is an in-process database.Store used for local runs
// without postgres and by package tests. Every method holds one mutex, so
// the conditional writes behave like their SQL counterparts.
package memorydriver

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"clubhouse-system/internal/database"
	"clubhouse-system/internal/database/models"
	"clubhouse-system/internal/lifecycle"
)

type Store struct {
	mu          sync.Mutex
	categories  map[string]*models.Category
	menuItems   map[string]*models.MenuItem
	orders      map[string]*models.Order
	history     []models.StatusHistoryEntry
	cash        map[string]*models.CashCollection
	syncRecords map[string]*models.CatalogSyncRecord
}

var _ database.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		categories:  make(map[string]*models.Category),
		menuItems:   make(map[string]*models.MenuItem),
		orders:      make(map[string]*models.Order),
		cash:        make(map[string]*models.CashCollection),
		syncRecords: make(map[string]*models.CatalogSyncRecord),
	}
}

// --- Seeding ---

func (s *Store) CreateCategory(_ context.Context, c *models.Category) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c.ID == "" {
		c.ID = fmt.Sprintf("cat-%d", len(s.categories)+1)
	}
	for _, existing := range s.categories {
		if existing.Name == c.Name || existing.ID == c.ID {
			return fmt.Errorf("category %q: %w", c.Name, database.ErrDuplicate)
		}
	}
	cp := *c
	s.categories[c.ID] = &cp
	return nil
}

func (s *Store) CreateMenuItem(_ context.Context, item *models.MenuItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	database.AssignMenuItemIDs(item)
	if _, exists := s.menuItems[item.ID]; exists {
		return fmt.Errorf("menu item %s: %w", item.ID, database.ErrDuplicate)
	}
	cp := cloneMenuItem(item)
	cp.Category = nil
	s.menuItems[item.ID] = cp
	return nil
}

func (s *Store) CreateOrder(_ context.Context, order *models.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	database.AssignOrderIDs(order)
	for _, existing := range s.orders {
		if existing.ID == order.ID || existing.OrderCode == order.OrderCode {
			return fmt.Errorf("order %s: %w", order.OrderCode, database.ErrDuplicate)
		}
	}
	if order.CreatedAt.IsZero() {
		order.CreatedAt = time.Now()
	}

	cp := *order
	cp.Items = append([]models.OrderItem(nil), order.Items...)
	for i := range cp.Items {
		cp.Items[i].MenuItem = nil
	}
	cp.StatusHistory = nil
	cp.CashCollection = nil
	s.orders[order.ID] = &cp

	if order.CashCollection != nil {
		cc := *order.CashCollection
		s.cash[order.ID] = &cc
	}
	return nil
}

// --- Orders ---

func (s *Store) GetOrder(_ context.Context, id string) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.orders[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	return s.hydrate(order), nil
}

func (s *Store) FindOrderByReference(_ context.Context, ref string) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, order := range s.orders {
		if order.ID == ref || order.OrderCode == ref {
			return s.hydrate(order), nil
		}
	}
	return nil, database.ErrNotFound
}

func (s *Store) FindOrderByCheckoutSession(_ context.Context, sessionID string) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, order := range s.orders {
		if order.CheckoutSessionID != nil && *order.CheckoutSessionID == sessionID {
			return s.hydrate(order), nil
		}
	}
	return nil, database.ErrNotFound
}

func (s *Store) ListStatusHistory(_ context.Context, orderID string) ([]models.StatusHistoryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.StatusHistoryEntry
	for _, entry := range s.history {
		if entry.OrderID == orderID {
			out = append(out, entry)
		}
	}
	return out, nil
}

func (s *Store) ListBackfillCandidates(_ context.Context, limit int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var candidates []*models.Order
	for _, order := range s.orders {
		if order.Status != lifecycle.StatusDelivered {
			continue
		}
		cc := s.cash[order.ID]
		if !order.CloverOrderID.IsLinked() || (cc != nil && cc.Status == models.CashPending) {
			candidates = append(candidates, order)
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].CreatedAt.Equal(candidates[j].CreatedAt) {
			return candidates[i].ID < candidates[j].ID
		}
		return candidates[i].CreatedAt.Before(candidates[j].CreatedAt)
	})

	ids := make([]string, 0, len(candidates))
	for _, order := range candidates {
		if limit > 0 && len(ids) == limit {
			break
		}
		ids = append(ids, order.ID)
	}
	return ids, nil
}

func (s *Store) ConfirmPayment(_ context.Context, orderID string) (*database.PaymentConfirmation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := &database.PaymentConfirmation{}
	order, ok := s.orders[orderID]
	if !ok || order.Status != lifecycle.StatusPendingPayment {
		return result, nil
	}

	now := time.Now()
	order.Status = lifecycle.StatusOrderReceived
	order.UpdatedAt = now
	s.history = append(s.history, *database.HistoryEntry(orderID, lifecycle.StatusOrderReceived, "", now))
	result.Applied = true

	ids, quantities := database.OrderQuantities(order)
	for _, menuItemID := range ids {
		item, ok := s.menuItems[menuItemID]
		if !ok {
			continue
		}
		level := database.Decrement(item.ID, item.CloverItemID, item.Stock, quantities[menuItemID])
		item.Stock = level.Stock
		result.Stock = append(result.Stock, level)
	}
	return result, nil
}

func (s *Store) ApplyStatus(_ context.Context, w database.StatusWrite) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.orders[w.OrderID]
	if !ok || order.Status != w.From {
		return database.ErrStaleState
	}
	if w.ClaimDriver && order.DriverID != nil && *order.DriverID != w.ActorID {
		return database.ErrStaleState
	}
	if w.RequireDriver != nil && (order.DriverID == nil || *order.DriverID != *w.RequireDriver) {
		return database.ErrStaleState
	}

	now := time.Now()
	order.Status = w.To
	order.UpdatedAt = now
	if w.ClaimDriver {
		actor := w.ActorID
		order.DriverID = &actor
	}
	s.history = append(s.history, *database.HistoryEntry(w.OrderID, w.To, w.ActorID, now))

	if w.OpenCashCollection != nil {
		if _, exists := s.cash[w.OrderID]; !exists {
			cc := *w.OpenCashCollection
			if cc.ID == "" {
				cc.ID = "cc-" + w.OrderID
			}
			cc.CreatedAt = now
			s.cash[w.OrderID] = &cc
		}
	}
	return nil
}

func (s *Store) SetDriver(_ context.Context, orderID string, driverID *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.orders[orderID]
	if !ok {
		return database.ErrNotFound
	}
	if order.Status.Terminal() {
		return database.ErrStaleState
	}
	if driverID == nil {
		order.DriverID = nil
	} else {
		id := *driverID
		order.DriverID = &id
	}
	order.UpdatedAt = time.Now()
	return nil
}

func (s *Store) ClaimDriver(_ context.Context, orderID, driverID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.orders[orderID]
	if !ok {
		return database.ErrNotFound
	}
	if order.Status.Terminal() || (order.DriverID != nil && *order.DriverID != driverID) {
		return database.ErrStaleState
	}
	id := driverID
	order.DriverID = &id
	order.UpdatedAt = time.Now()
	return nil
}

func (s *Store) ReleaseDriver(_ context.Context, w database.ReleaseWrite) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.orders[w.OrderID]
	if !ok || order.Status != w.From || order.DriverID == nil || *order.DriverID != w.DriverID {
		return database.ErrStaleState
	}

	now := time.Now()
	target := w.Target()
	order.DriverID = nil
	order.Status = target
	order.UpdatedAt = now
	if target != w.From {
		s.history = append(s.history, *database.HistoryEntry(w.OrderID, target, w.DriverID, now))
	}
	if cc, ok := s.cash[w.OrderID]; ok && cc.Status == models.CashPending {
		delete(s.cash, w.OrderID)
	}
	return nil
}

// --- Cash collections ---

func (s *Store) GetCashCollection(_ context.Context, orderID string) (*models.CashCollection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cc, ok := s.cash[orderID]
	if !ok {
		return nil, database.ErrNotFound
	}
	cp := *cc
	return &cp, nil
}

func (s *Store) SettleCashCollection(_ context.Context, st database.Settlement) (*models.CashCollection, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cc, ok := s.cash[st.OrderID]
	if !ok {
		return nil, false, database.ErrNotFound
	}
	if cc.Status == models.CashSettled {
		cp := *cc
		return &cp, false, nil
	}

	by, at := st.SettledBy, st.At
	cc.Status = models.CashSettled
	cc.SettledBy = &by
	cc.SettledAt = &at
	if st.ReceivedAmount != "" {
		received := st.ReceivedAmount
		cc.ReceivedAmount = &received
	}
	cc.UpdatedAt = at
	cp := *cc
	return &cp, true, nil
}

func (s *Store) RevertCashCollection(_ context.Context, orderID string) (*models.CashCollection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cc, ok := s.cash[orderID]
	if !ok {
		return nil, database.ErrNotFound
	}
	cc.Status = models.CashPending
	cc.SettledBy = nil
	cc.SettledAt = nil
	cc.ReceivedAmount = nil
	cc.UpdatedAt = time.Now()
	cp := *cc
	return &cp, nil
}

// --- Catalog ---

func (s *Store) GetMenuItem(_ context.Context, id string) (*models.MenuItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.menuItems[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	return s.hydrateMenuItem(item), nil
}

func (s *Store) FindMenuItemsByCloverIDs(_ context.Context, cloverIDs []string) ([]models.MenuItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	wanted := make(map[string]bool, len(cloverIDs))
	for _, id := range cloverIDs {
		wanted[id] = true
	}
	var out []models.MenuItem
	for _, item := range s.menuItems {
		if id, ok := item.CloverItemID.ID(); ok && wanted[id] {
			out = append(out, models.MenuItem{ID: item.ID, Stock: item.Stock, CloverItemID: item.CloverItemID})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) SetMenuItemStock(_ context.Context, id string, stock int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.menuItems[id]
	if !ok {
		return database.ErrNotFound
	}
	item.Stock = stock
	item.UpdatedAt = time.Now()
	return nil
}

func (s *Store) GetCatalogSyncRecord(_ context.Context, menuItemID string) (*models.CatalogSyncRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.syncRecords[menuItemID]
	if !ok {
		return nil, database.ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (s *Store) SaveCatalogSyncRecord(_ context.Context, rec *models.CatalogSyncRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *rec
	s.syncRecords[rec.MenuItemID] = &cp
	return nil
}

func (s *Store) Link(_ context.Context, target database.LinkTarget, id, cloverID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	link := s.linkField(target, id)
	if link == nil {
		return database.ErrNotFound
	}
	if existing, ok := link.ID(); ok {
		if existing == cloverID {
			return nil
		}
		return fmt.Errorf("%s %s: %w", target, id, database.ErrAlreadyLinked)
	}
	*link = models.Linked(cloverID)
	return nil
}

// DeleteOptionGroup removes a group from a menu item, as the menu builder does.
func (s *Store) DeleteOptionGroup(menuItemID, groupID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.menuItems[menuItemID]
	if !ok {
		return
	}
	kept := item.OptionGroups[:0]
	for _, g := range item.OptionGroups {
		if g.ID != groupID {
			kept = append(kept, g)
		}
	}
	item.OptionGroups = kept
}

func (s *Store) linkField(target database.LinkTarget, id string) *models.POSLink {
	switch target {
	case database.LinkOrder:
		if o, ok := s.orders[id]; ok {
			return &o.CloverOrderID
		}
	case database.LinkCategory:
		if c, ok := s.categories[id]; ok {
			return &c.CloverCategoryID
		}
	case database.LinkMenuItem:
		if m, ok := s.menuItems[id]; ok {
			return &m.CloverItemID
		}
	default:
		for _, item := range s.menuItems {
			if link := optionLink(item, target, id); link != nil {
				return link
			}
		}
	}
	return nil
}

func optionLink(item *models.MenuItem, target database.LinkTarget, id string) *models.POSLink {
	for gi := range item.OptionGroups {
		group := &item.OptionGroups[gi]
		if target == database.LinkOptionGroup && group.ID == id {
			return &group.CloverGroupID
		}
		for ci := range group.Choices {
			choice := &group.Choices[ci]
			if target == database.LinkOptionChoice && choice.ID == id {
				return &choice.CloverModifierID
			}
			nested := choice.NestedGroup
			if nested == nil {
				continue
			}
			if target == database.LinkNestedGroup && nested.ID == id {
				return &nested.CloverGroupID
			}
			for ni := range nested.Choices {
				if target == database.LinkNestedChoice && nested.Choices[ni].ID == id {
					return &nested.Choices[ni].CloverModifierID
				}
			}
		}
	}
	return nil
}

func (s *Store) hydrate(order *models.Order) *models.Order {
	cp := *order
	cp.Items = make([]models.OrderItem, len(order.Items))
	copy(cp.Items, order.Items)
	sort.SliceStable(cp.Items, func(i, j int) bool { return cp.Items[i].Position < cp.Items[j].Position })
	for i := range cp.Items {
		if item, ok := s.menuItems[cp.Items[i].MenuItemID]; ok {
			cp.Items[i].MenuItem = cloneMenuItem(item)
		}
	}
	if order.DriverID != nil {
		driver := *order.DriverID
		cp.DriverID = &driver
	}
	if cc, ok := s.cash[order.ID]; ok {
		ccCopy := *cc
		cp.CashCollection = &ccCopy
	}
	return &cp
}

func (s *Store) hydrateMenuItem(item *models.MenuItem) *models.MenuItem {
	cp := cloneMenuItem(item)
	if item.CategoryID != nil {
		if c, ok := s.categories[*item.CategoryID]; ok {
			category := *c
			cp.Category = &category
		}
	}
	return cp
}

func cloneMenuItem(item *models.MenuItem) *models.MenuItem {
	cp := *item
	cp.OptionGroups = make([]models.OptionGroup, len(item.OptionGroups))
	for gi, group := range item.OptionGroups {
		g := group
		g.Choices = make([]models.OptionChoice, len(group.Choices))
		for ci, choice := range group.Choices {
			c := choice
			if choice.NestedGroup != nil {
				nested := *choice.NestedGroup
				nested.Choices = append([]models.NestedOptionChoice(nil), choice.NestedGroup.Choices...)
				c.NestedGroup = &nested
			}
			g.Choices[ci] = c
		}
		cp.OptionGroups[gi] = g
	}
	return &cp
}
