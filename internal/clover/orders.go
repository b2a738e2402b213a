package clover

import (
	"context"
	"fmt"
	"net/http"
)

const (
	TenderCash     = "com.clover.tender.cash"
	TenderExternal = "com.clover.tender.external_payment"
)

type Order struct {
	ID    string `json:"id,omitempty"`
	Title string `json:"title,omitempty"`
	Note  string `json:"note,omitempty"`
	State string `json:"state,omitempty"`
}

type LineItem struct {
	ID      string `json:"id,omitempty"`
	Item    *Ref   `json:"item,omitempty"`
	Name    string `json:"name"`
	Price   int64  `json:"price"`
	Taxable bool   `json:"taxable"`
	Note    string `json:"note,omitempty"`
}

type Tender struct {
	ID       string `json:"id"`
	LabelKey string `json:"labelKey"`
	Label    string `json:"label,omitempty"`
}

type Payment struct {
	ID     string  `json:"id,omitempty"`
	Amount int64   `json:"amount"`
	Tender *Tender `json:"tender,omitempty"`
}

type merchant struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func (c *Client) CreateOrder(ctx context.Context, order Order) (Order, error) {
	var out Order
	err := c.Call(ctx, http.MethodPost, c.merchantPath("/orders"), order, &out)
	return out, err
}

// AddLineItems attaches rows in one call; the response keeps request order.
func (c *Client) AddLineItems(ctx context.Context, orderID string, rows []LineItem) ([]LineItem, error) {
	var out []LineItem
	body := map[string]interface{}{"items": rows}
	if err := c.Call(ctx, http.MethodPost, c.merchantPath("/orders/%s/bulk_line_items", orderID), body, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) AddModification(ctx context.Context, orderID, lineItemID, modifierID string) error {
	body := map[string]interface{}{"modifier": Ref{ID: modifierID}}
	return c.Call(ctx, http.MethodPost, c.merchantPath("/orders/%s/line_items/%s/modifications", orderID, lineItemID), body, nil)
}

func (c *Client) ListPayments(ctx context.Context, orderID string) ([]Payment, error) {
	var out elements[Payment]
	if err := c.Call(ctx, http.MethodGet, c.merchantPath("/orders/%s/payments", orderID), nil, &out); err != nil {
		return nil, err
	}
	return out.Elements, nil
}

func (c *Client) CreatePayment(ctx context.Context, orderID, tenderID string, amount int64) (Payment, error) {
	var out Payment
	body := Payment{Amount: amount, Tender: &Tender{ID: tenderID}}
	err := c.Call(ctx, http.MethodPost, c.merchantPath("/orders/%s/payments", orderID), body, &out)
	return out, err
}

// TenderID resolves a tender label key to the merchant's tender id. Results
// are kept for the client's lifetime.
func (c *Client) TenderID(ctx context.Context, labelKey string) (string, error) {
	c.mu.Lock()
	id, ok := c.tenders[labelKey]
	c.mu.Unlock()
	if ok {
		return id, nil
	}

	var out elements[Tender]
	if err := c.Call(ctx, http.MethodGet, c.merchantPath("/tenders"), nil, &out); err != nil {
		return "", err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range out.Elements {
		c.tenders[t.LabelKey] = t.ID
	}
	id, ok = c.tenders[labelKey]
	if !ok {
		return "", fmt.Errorf("clover: no tender with label key %s", labelKey)
	}
	return id, nil
}

// Location is the configured location, else the merchant's own name.
func (c *Client) Location(ctx context.Context) (string, error) {
	c.mu.Lock()
	loc := c.location
	c.mu.Unlock()
	if loc != "" {
		return loc, nil
	}

	var m merchant
	if err := c.Call(ctx, http.MethodGet, c.merchantPath(""), nil, &m); err != nil {
		return "", err
	}

	c.mu.Lock()
	c.location = m.Name
	c.mu.Unlock()
	return m.Name, nil
}
