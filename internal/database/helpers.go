package database

import (
	"time"

	"clubhouse-system/internal/database/models"
	"clubhouse-system/internal/lifecycle"

	"github.com/google/uuid"
)

func HistoryEntry(orderID string, st lifecycle.Status, actorID string, at time.Time) *models.StatusHistoryEntry {
	entry := &models.StatusHistoryEntry{
		ID:        uuid.NewString(),
		OrderID:   orderID,
		Status:    st,
		CreatedAt: at,
	}
	if actorID != "" {
		entry.ActorID = &actorID
	}
	return entry
}

// OrderQuantities sums ordered quantity per menu item, in first-seen order.
// Legacy embedded items are used when the order has no structured rows.
func OrderQuantities(order *models.Order) ([]string, map[string]int) {
	var ids []string
	quantities := make(map[string]int)
	add := func(id string, qty int) {
		if id == "" || qty <= 0 {
			return
		}
		if _, seen := quantities[id]; !seen {
			ids = append(ids, id)
		}
		quantities[id] += qty
	}

	if len(order.Items) > 0 {
		for _, item := range order.Items {
			add(item.MenuItemID, item.Quantity)
		}
		return ids, quantities
	}
	for _, legacy := range order.LegacyItems.Data() {
		add(legacy.MenuItemID, legacy.Quantity)
	}
	return ids, quantities
}

// Decrement never takes stock below zero; the shortfall is reported as Oversold.
func Decrement(menuItemID string, link models.POSLink, stock, qty int) StockLevel {
	level := StockLevel{MenuItemID: menuItemID, CloverItemID: link, Stock: stock - qty}
	if level.Stock < 0 {
		level.Oversold = -level.Stock
		level.Stock = 0
	}
	return level
}

func AssignOrderIDs(order *models.Order) {
	ensureID(&order.ID)
	for i := range order.Items {
		ensureID(&order.Items[i].ID)
		order.Items[i].OrderID = order.ID
		if order.Items[i].Position == 0 {
			order.Items[i].Position = i
		}
	}
	if order.CashCollection != nil {
		ensureID(&order.CashCollection.ID)
		order.CashCollection.OrderID = order.ID
	}
}

func AssignMenuItemIDs(item *models.MenuItem) {
	ensureID(&item.ID)
	for gi := range item.OptionGroups {
		group := &item.OptionGroups[gi]
		ensureID(&group.ID)
		group.MenuItemID = item.ID
		for ci := range group.Choices {
			choice := &group.Choices[ci]
			ensureID(&choice.ID)
			choice.OptionGroupID = group.ID
			if choice.NestedGroup == nil {
				continue
			}
			nested := choice.NestedGroup
			ensureID(&nested.ID)
			nested.ParentChoiceID = choice.ID
			for ni := range nested.Choices {
				ensureID(&nested.Choices[ni].ID)
				nested.Choices[ni].NestedGroupID = nested.ID
			}
		}
	}
}
