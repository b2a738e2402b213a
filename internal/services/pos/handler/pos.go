package handler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"

	"clubhouse-system/internal/cache"
	"clubhouse-system/internal/clover"
	"clubhouse-system/internal/database"
	"clubhouse-system/internal/database/models"
	"clubhouse-system/internal/lifecycle"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	NOTE_ALCOHOL     = "ALCOHOL"
	NOTE_GOLF_ORDER  = "GOLF ORDER"
	ROW_DELIVERY_FEE = "Delivery Fee"
	ROW_TIP          = "Tip"
)

type POSStore interface {
	GetOrder(ctx context.Context, id string) (*models.Order, error)
	GetMenuItem(ctx context.Context, id string) (*models.MenuItem, error)
	Link(ctx context.Context, target database.LinkTarget, id, cloverID string) error
}

type OrderGateway interface {
	Location(ctx context.Context) (string, error)
	CreateOrder(ctx context.Context, order clover.Order) (clover.Order, error)
	AddLineItems(ctx context.Context, orderID string, rows []clover.LineItem) ([]clover.LineItem, error)
	AddModification(ctx context.Context, orderID, lineItemID, modifierID string) error
	TenderID(ctx context.Context, labelKey string) (string, error)
	ListPayments(ctx context.Context, orderID string) ([]clover.Payment, error)
	CreatePayment(ctx context.Context, orderID, tenderID string, amount int64) (clover.Payment, error)
}

// Invalidator drops cached order views. *cache.Cache satisfies it.
type Invalidator interface {
	Invalidate(ctx context.Context, keys ...string)
}

type POSHandler struct {
	store   POSStore
	pos     OrderGateway
	tenders *TenderCache
	cache   Invalidator
}

func NewPOSHandler(store POSStore, pos OrderGateway, tenders *TenderCache, c Invalidator) *POSHandler {
	if tenders == nil {
		tenders = NewTenderCache(DEFAULT_TENDER_CACHE_SIZE)
	}
	if c == nil {
		c = (*cache.Cache)(nil)
	}
	return &POSHandler{store: store, pos: pos, tenders: tenders, cache: c}
}

// row is one POS line item plus the modifiers to attach to it afterwards.
type row struct {
	line      clover.LineItem
	modifiers []string
}

// PushOrder mirrors a local order into the POS and returns the POS order id.
// An order that is already linked is returned unchanged.
func (s *POSHandler) PushOrder(ctx context.Context, orderID string) (string, error) {
	order, err := s.store.GetOrder(ctx, orderID)
	if errors.Is(err, database.ErrNotFound) {
		return "", status.Errorf(codes.NotFound, "order %s not found", orderID)
	}
	if err != nil {
		return "", status.Errorf(codes.Internal, "load order: %v", err)
	}
	if id, ok := order.CloverOrderID.ID(); ok {
		return id, nil
	}

	rows, err := s.buildRows(ctx, order)
	if err != nil {
		return "", status.Errorf(codes.InvalidArgument, "order %s: %v", order.OrderCode, err)
	}

	title, err := s.pos.Location(ctx)
	if err != nil {
		return "", status.Errorf(codes.Unavailable, "resolve POS location: %v", err)
	}

	remote, err := s.pos.CreateOrder(ctx, clover.Order{Title: title, Note: orderNote(order), State: "open"})
	if err != nil {
		return "", status.Errorf(codes.Unavailable, "create POS order: %v", err)
	}

	lines := make([]clover.LineItem, len(rows))
	for i, r := range rows {
		lines[i] = r.line
	}
	created, err := s.pos.AddLineItems(ctx, remote.ID, lines)
	if err != nil {
		log.Printf("[pos] order %s: POS order %s left without line items", order.OrderCode, remote.ID)
		return "", status.Errorf(codes.Unavailable, "attach line items: %v", err)
	}

	for i, r := range rows {
		if i >= len(created) {
			log.Printf("[pos] order %s: POS returned %d line items for %d rows", order.OrderCode, len(created), len(rows))
			break
		}
		for _, modID := range r.modifiers {
			if err := s.pos.AddModification(ctx, remote.ID, created[i].ID, modID); err != nil {
				log.Printf("[pos] order %s: modifier %s on line %s: %v", order.OrderCode, modID, created[i].ID, err)
			}
		}
	}

	if order.PaymentMethod != lifecycle.PaymentCash {
		if err := s.attachExternalTender(ctx, remote.ID, order.TotalAmount); err != nil {
			log.Printf("[pos] order %s: external tender: %v", order.OrderCode, err)
		}
	}

	// TODO: sweep POS orders whose link failed to persist; they are not reconciled today.
	if err := s.store.Link(ctx, database.LinkOrder, order.ID, remote.ID); err != nil {
		if errors.Is(err, database.ErrAlreadyLinked) {
			log.Printf("[pos] order %s was linked concurrently, POS order %s is orphaned", order.OrderCode, remote.ID)
			current, getErr := s.store.GetOrder(ctx, order.ID)
			if getErr == nil {
				if id, ok := current.CloverOrderID.ID(); ok {
					return id, nil
				}
			}
		}
		return "", status.Errorf(codes.Internal, "persist POS link: %v", err)
	}
	s.cache.Invalidate(ctx, cache.OrderKey(order.ID))

	log.Printf("[pos] order %s pushed as %s (%d rows)", order.OrderCode, remote.ID, len(rows))
	return remote.ID, nil
}

func (s *POSHandler) attachExternalTender(ctx context.Context, cloverOrderID, amount string) error {
	minor, err := clover.MinorUnits(amount)
	if err != nil {
		return err
	}
	tenderID, err := s.pos.TenderID(ctx, clover.TenderExternal)
	if err != nil {
		return err
	}
	_, err = s.pos.CreatePayment(ctx, cloverOrderID, tenderID, minor)
	if clover.IsConflict(err) {
		return nil
	}
	return err
}

// EnsureCashTender records a cash payment for amount on a POS order unless
// one already exists. Safe to call any number of times.
func (s *POSHandler) EnsureCashTender(ctx context.Context, cloverOrderID, amount string) error {
	if s.tenders.Has(cloverOrderID) {
		return nil
	}

	tenderID, err := s.pos.TenderID(ctx, clover.TenderCash)
	if err != nil {
		return status.Errorf(codes.Unavailable, "resolve cash tender: %v", err)
	}

	payments, err := s.pos.ListPayments(ctx, cloverOrderID)
	if err != nil {
		return status.Errorf(codes.Unavailable, "list payments on %s: %v", cloverOrderID, err)
	}
	for _, p := range payments {
		if p.Tender != nil && (p.Tender.ID == tenderID || p.Tender.LabelKey == clover.TenderCash) {
			s.tenders.Add(cloverOrderID)
			return nil
		}
	}

	minor, err := clover.MinorUnits(amount)
	if err != nil {
		return status.Errorf(codes.InvalidArgument, "cash amount: %v", err)
	}
	if _, err := s.pos.CreatePayment(ctx, cloverOrderID, tenderID, minor); err != nil {
		if !clover.IsConflict(err) {
			return status.Errorf(codes.Unavailable, "create cash payment on %s: %v", cloverOrderID, err)
		}
		log.Printf("[pos] cash tender on %s already exists", cloverOrderID)
	}

	s.tenders.Add(cloverOrderID)
	return nil
}

func orderNote(order *models.Order) string {
	parts := []string{order.OrderCode}
	if order.ContainsAlcohol {
		parts = append(parts, NOTE_ALCOHOL)
	}
	if order.DeliveryType == lifecycle.DeliveryOnCourse {
		parts = append(parts, NOTE_GOLF_ORDER)
	}
	return strings.Join(parts, " | ")
}

// buildRows expands every unit of every item into its own POS row, then
// appends untaxed fee and tip rows when they are non-zero. Item rows carry
// the unit price less the attached modifiers, which the POS prices itself,
// so rows plus modifiers add up to the order total.
func (s *POSHandler) buildRows(ctx context.Context, order *models.Order) ([]row, error) {
	var rows []row

	if len(order.Items) > 0 {
		items := append([]models.OrderItem(nil), order.Items...)
		sort.SliceStable(items, func(i, j int) bool { return items[i].Position < items[j].Position })

		for _, it := range items {
			price, err := clover.MinorUnits(it.UnitPrice)
			if err != nil {
				return nil, fmt.Errorf("item %s price: %w", it.ID, err)
			}
			line := clover.LineItem{Taxable: true}
			var mods []string
			if it.MenuItem != nil {
				line.Name = it.MenuItem.Name
				if id, ok := it.MenuItem.CloverItemID.ID(); ok {
					line.Item = &clover.Ref{ID: id}
				}
				var modTotal int64
				mods, modTotal, err = modifierIDs(it.MenuItem, it.SelectedOptions.Data())
				if err != nil {
					return nil, fmt.Errorf("item %s options: %w", it.ID, err)
				}
				price -= modTotal
				if price < 0 {
					return nil, fmt.Errorf("item %s: unit price %s is below its options", it.ID, it.UnitPrice)
				}
			}
			line.Price = price
			if it.SpecialInstructions != nil {
				line.Note = *it.SpecialInstructions
			}
			for n := 0; n < it.Quantity; n++ {
				rows = append(rows, row{line: line, modifiers: mods})
			}
		}
	} else {
		for _, legacy := range order.LegacyItems.Data() {
			price, err := clover.MinorUnits(legacy.Price)
			if err != nil {
				return nil, fmt.Errorf("legacy item %q price: %w", legacy.Name, err)
			}
			line := clover.LineItem{Name: legacy.Name, Price: price, Taxable: true}
			if legacy.MenuItemID != "" {
				if mi, err := s.store.GetMenuItem(ctx, legacy.MenuItemID); err == nil {
					if id, ok := mi.CloverItemID.ID(); ok {
						line.Item = &clover.Ref{ID: id}
					}
				}
			}
			for n := 0; n < legacy.Quantity; n++ {
				rows = append(rows, row{line: line})
			}
		}
	}

	extras := []struct {
		name   string
		amount string
	}{
		{ROW_DELIVERY_FEE, order.DeliveryFee},
		{ROW_TIP, order.Tip},
	}
	for _, extra := range extras {
		amount, err := clover.MinorUnits(extra.amount)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", strings.ToLower(extra.name), err)
		}
		if amount == 0 {
			continue
		}
		rows = append(rows, row{line: clover.LineItem{Name: extra.name, Price: amount, Taxable: false}})
	}
	return rows, nil
}

// modifierIDs resolves selected choices (and their nested choices) to the
// POS modifier ids they were synced as, and sums the prices the POS holds
// for them. Unsynced choices are skipped. A choice that opens a nested
// group is synced at zero.
func modifierIDs(item *models.MenuItem, selected []models.SelectedOption) ([]string, int64, error) {
	if len(selected) == 0 {
		return nil, 0, nil
	}

	choices := make(map[string]*models.OptionChoice)
	nested := make(map[string]*models.NestedOptionChoice)
	for gi := range item.OptionGroups {
		for ci := range item.OptionGroups[gi].Choices {
			choice := &item.OptionGroups[gi].Choices[ci]
			choices[choice.ID] = choice
			if choice.NestedGroup != nil {
				for ni := range choice.NestedGroup.Choices {
					nc := &choice.NestedGroup.Choices[ni]
					nested[nc.ID] = nc
				}
			}
		}
	}

	var ids []string
	var total int64
	for _, sel := range selected {
		if choice, ok := choices[sel.ChoiceID]; ok {
			if id, ok := choice.CloverModifierID.ID(); ok {
				ids = append(ids, id)
				if choice.NestedGroup == nil {
					price, err := clover.MinorUnits(choice.PriceDelta)
					if err != nil {
						return nil, 0, err
					}
					total += price
				}
			}
		}
		for _, nestedID := range sel.NestedChoiceIDs {
			nc, ok := nested[nestedID]
			if !ok {
				continue
			}
			if id, ok := nc.CloverModifierID.ID(); ok {
				ids = append(ids, id)
				price, err := clover.MinorUnits(nc.PriceDelta)
				if err != nil {
					return nil, 0, err
				}
				total += price
			}
		}
	}
	return ids, total, nil
}
