package clover

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
)

type Ref struct {
	ID string `json:"id"`
}

type Item struct {
	ID        string `json:"id,omitempty"`
	Name      string `json:"name"`
	Price     int64  `json:"price"`
	PriceType string `json:"priceType,omitempty"`
	Hidden    bool   `json:"hidden"`
}

type ItemStock struct {
	Item     *Ref `json:"item,omitempty"`
	Quantity int  `json:"quantity"`
}

type Category struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name"`
}

type ModifierGroup struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name"`
}

type Modifier struct {
	ID    string `json:"id,omitempty"`
	Name  string `json:"name"`
	Price int64  `json:"price"`
}

type elements[T any] struct {
	Elements []T `json:"elements"`
}

type itemModifierGroup struct {
	Item          Ref `json:"item"`
	ModifierGroup Ref `json:"modifierGroup"`
}

type categoryItem struct {
	Item     Ref `json:"item"`
	Category Ref `json:"category"`
}

func (c *Client) CreateItem(ctx context.Context, item Item) (Item, error) {
	var out Item
	err := c.Call(ctx, http.MethodPost, c.merchantPath("/items"), item, &out)
	return out, err
}

func (c *Client) UpdateItem(ctx context.Context, id string, item Item) (Item, error) {
	var out Item
	err := c.Call(ctx, http.MethodPost, c.merchantPath("/items/%s", id), item, &out)
	return out, err
}

// SetStockLevel is the primary stock call. Items without stock tracking
// answer 405/501.
func (c *Client) SetStockLevel(ctx context.Context, itemID string, quantity int) error {
	return c.Call(ctx, http.MethodPut, c.merchantPath("/items/%s/stock", itemID), ItemStock{Quantity: quantity}, nil)
}

// UpsertItemStock creates or updates the stock record, enabling tracking.
func (c *Client) UpsertItemStock(ctx context.Context, itemID string, quantity int) error {
	body := ItemStock{Item: &Ref{ID: itemID}, Quantity: quantity}
	return c.Call(ctx, http.MethodPost, c.merchantPath("/item_stocks/%s", itemID), body, nil)
}

func (c *Client) ListItemStocks(ctx context.Context, offset, limit int) ([]ItemStock, error) {
	var out elements[ItemStock]
	path := c.merchantPath("/item_stocks?limit=%d&offset=%d", limit, offset)
	if err := c.Call(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Elements, nil
}

func (c *Client) GetCategory(ctx context.Context, id string) (Category, error) {
	var out Category
	err := c.Call(ctx, http.MethodGet, c.merchantPath("/categories/%s", id), nil, &out)
	return out, err
}

// FindCategoryByName returns nil when no category carries the name.
func (c *Client) FindCategoryByName(ctx context.Context, name string) (*Category, error) {
	var out elements[Category]
	path := c.merchantPath("/categories?filter=%s", url.QueryEscape("name="+name))
	if err := c.Call(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	for _, cat := range out.Elements {
		if cat.Name == name {
			found := cat
			return &found, nil
		}
	}
	return nil, nil
}

func (c *Client) CreateCategory(ctx context.Context, name string) (Category, error) {
	var out Category
	err := c.Call(ctx, http.MethodPost, c.merchantPath("/categories"), Category{Name: name}, &out)
	return out, err
}

func (c *Client) AddItemToCategory(ctx context.Context, itemID, categoryID string) error {
	body := elements[categoryItem]{Elements: []categoryItem{{Item: Ref{ID: itemID}, Category: Ref{ID: categoryID}}}}
	return c.Call(ctx, http.MethodPost, c.merchantPath("/category_items"), body, nil)
}

func (c *Client) CreateModifierGroup(ctx context.Context, name string) (ModifierGroup, error) {
	var out ModifierGroup
	err := c.Call(ctx, http.MethodPost, c.merchantPath("/modifier_groups"), ModifierGroup{Name: name}, &out)
	return out, err
}

func (c *Client) UpdateModifierGroup(ctx context.Context, id, name string) (ModifierGroup, error) {
	var out ModifierGroup
	err := c.Call(ctx, http.MethodPost, c.merchantPath("/modifier_groups/%s", id), ModifierGroup{Name: name}, &out)
	return out, err
}

func (c *Client) DeleteModifierGroup(ctx context.Context, id string) error {
	return c.Call(ctx, http.MethodDelete, c.merchantPath("/modifier_groups/%s", id), nil, nil)
}

func (c *Client) CreateModifier(ctx context.Context, groupID string, m Modifier) (Modifier, error) {
	var out Modifier
	err := c.Call(ctx, http.MethodPost, c.merchantPath("/modifier_groups/%s/modifiers", groupID), m, &out)
	return out, err
}

func (c *Client) UpdateModifier(ctx context.Context, groupID, id string, m Modifier) (Modifier, error) {
	var out Modifier
	err := c.Call(ctx, http.MethodPost, c.merchantPath("/modifier_groups/%s/modifiers/%s", groupID, id), m, &out)
	return out, err
}

func (c *Client) DeleteModifier(ctx context.Context, groupID, id string) error {
	return c.Call(ctx, http.MethodDelete, c.merchantPath("/modifier_groups/%s/modifiers/%s", groupID, id), nil, nil)
}

func (c *Client) ListItemModifierGroups(ctx context.Context, itemID string) ([]string, error) {
	var out elements[ModifierGroup]
	if err := c.Call(ctx, http.MethodGet, c.merchantPath("/items/%s/modifier_groups", itemID), nil, &out); err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(out.Elements))
	for _, g := range out.Elements {
		ids = append(ids, g.ID)
	}
	return ids, nil
}

func (c *Client) LinkModifierGroups(ctx context.Context, itemID string, groupIDs []string) error {
	if len(groupIDs) == 0 {
		return nil
	}
	body := elements[itemModifierGroup]{}
	for _, id := range groupIDs {
		body.Elements = append(body.Elements, itemModifierGroup{Item: Ref{ID: itemID}, ModifierGroup: Ref{ID: id}})
	}
	return c.Call(ctx, http.MethodPost, c.merchantPath("/item_modifier_groups"), body, nil)
}

func (c *Client) UnlinkModifierGroup(ctx context.Context, itemID, groupID string) error {
	path := c.merchantPath("/items/%s/modifier_groups/%s", itemID, groupID)
	if err := c.Call(ctx, http.MethodDelete, path, nil, nil); err != nil {
		return fmt.Errorf("unlink modifier group %s: %w", groupID, err)
	}
	return nil
}
