// Package clovertest runs an in-memory Clover merchant behind httptest for
// package tests.
package clovertest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"

	"clubhouse-system/internal/clover"
)

const MerchantID = "MTEST"

type Server struct {
	*httptest.Server

	mu sync.Mutex

	Items         map[string]clover.Item
	Stock         map[string]int
	StockTracked  map[string]bool
	Categories    map[string]clover.Category
	CategoryItems map[string]map[string]bool
	Groups        map[string]clover.ModifierGroup
	Modifiers     map[string]map[string]clover.Modifier
	ItemGroups    map[string][]string
	Orders        map[string]clover.Order
	LineItems     map[string][]clover.LineItem
	Modifications map[string][]string
	Payments      map[string][]clover.Payment
	Tenders       []clover.Tender
	MerchantName  string

	// LinkListingUnsupported makes GET items/{id}/modifier_groups answer 501.
	LinkListingUnsupported bool
	// PaymentConflict makes POST payments answer 409 without recording.
	PaymentConflict bool
	// FailOrders makes POST orders answer 500.
	FailOrders bool
	// FailModifier makes attaching this modifier id answer 500.
	FailModifier string
	// CategoryLookupNotFound makes every GET on categories answer 404.
	CategoryLookupNotFound bool
	// FailStockListing makes GET item_stocks answer 500.
	FailStockListing bool

	calls []string
	seq   int
}

func NewServer(t testing.TB) *Server {
	s := &Server{
		Items:         make(map[string]clover.Item),
		Stock:         make(map[string]int),
		StockTracked:  make(map[string]bool),
		Categories:    make(map[string]clover.Category),
		CategoryItems: make(map[string]map[string]bool),
		Groups:        make(map[string]clover.ModifierGroup),
		Modifiers:     make(map[string]map[string]clover.Modifier),
		ItemGroups:    make(map[string][]string),
		Orders:        make(map[string]clover.Order),
		LineItems:     make(map[string][]clover.LineItem),
		Modifications: make(map[string][]string),
		Payments:      make(map[string][]clover.Payment),
		Tenders: []clover.Tender{
			{ID: "T-CASH", LabelKey: clover.TenderCash, Label: "Cash"},
			{ID: "T-EXT", LabelKey: clover.TenderExternal, Label: "External Payment"},
		},
		MerchantName: "Test Clubhouse",
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(s.Close)
	return s
}

func (s *Server) CloverClient() *clover.Client {
	return clover.NewClient(clover.Config{
		BaseURL:    s.URL,
		MerchantID: MerchantID,
		APIToken:   "test-token",
	})
}

// Count returns how many calls matched method and started with pathPrefix
// (relative to the merchant, e.g. "/items").
func (s *Server) Count(method, pathPrefix string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, c := range s.calls {
		if strings.HasPrefix(c, method+" "+pathPrefix) {
			n++
		}
	}
	return n
}

func (s *Server) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

func (s *Server) nextID(prefix string) string {
	s.seq++
	return fmt.Sprintf("%s-%d", prefix, s.seq)
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("Authorization") != "Bearer test-token" {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "unauthorized"})
		return
	}

	path := r.URL.Path
	var rest string
	switch {
	case strings.HasPrefix(path, "/v3/merchants/"+MerchantID):
		rest = strings.TrimPrefix(path, "/v3/merchants/"+MerchantID)
	case strings.HasPrefix(path, "/v2/merchants/"+MerchantID):
		rest = strings.TrimPrefix(path, "/v2/merchants/"+MerchantID)
	default:
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "unknown merchant"})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, r.Method+" "+rest)

	seg := strings.Split(strings.Trim(rest, "/"), "/")
	if rest == "" || rest == "/" {
		writeJSON(w, http.StatusOK, map[string]string{"id": MerchantID, "name": s.MerchantName})
		return
	}

	switch seg[0] {
	case "items":
		s.handleItems(w, r, seg[1:])
	case "item_stocks":
		s.handleItemStocks(w, r, seg[1:])
	case "categories":
		s.handleCategories(w, r, seg[1:])
	case "category_items":
		s.handleCategoryItems(w, r)
	case "modifier_groups":
		s.handleModifierGroups(w, r, seg[1:])
	case "item_modifier_groups":
		s.handleItemModifierGroups(w, r)
	case "orders":
		s.handleOrders(w, r, seg[1:])
	case "tenders":
		writeJSON(w, http.StatusOK, map[string]interface{}{"elements": s.Tenders})
	default:
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "not found"})
	}
}

func (s *Server) handleItems(w http.ResponseWriter, r *http.Request, seg []string) {
	switch {
	case len(seg) == 0 && r.Method == http.MethodPost:
		var item clover.Item
		decode(r, &item)
		item.ID = s.nextID("ITEM")
		s.Items[item.ID] = item
		writeJSON(w, http.StatusOK, item)
	case len(seg) == 1 && r.Method == http.MethodPost:
		if _, ok := s.Items[seg[0]]; !ok {
			writeJSON(w, http.StatusNotFound, map[string]string{"message": "no item"})
			return
		}
		var item clover.Item
		decode(r, &item)
		item.ID = seg[0]
		s.Items[item.ID] = item
		writeJSON(w, http.StatusOK, item)
	case len(seg) == 2 && seg[1] == "stock" && r.Method == http.MethodPut:
		if !s.StockTracked[seg[0]] {
			writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"message": "stock tracking disabled"})
			return
		}
		var st clover.ItemStock
		decode(r, &st)
		s.Stock[seg[0]] = st.Quantity
		w.WriteHeader(http.StatusNoContent)
	case len(seg) == 2 && seg[1] == "modifier_groups" && r.Method == http.MethodGet:
		if s.LinkListingUnsupported {
			writeJSON(w, http.StatusNotImplemented, map[string]string{"message": "not implemented"})
			return
		}
		var out []clover.ModifierGroup
		for _, id := range s.ItemGroups[seg[0]] {
			out = append(out, clover.ModifierGroup{ID: id, Name: s.Groups[id].Name})
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"elements": out})
	case len(seg) == 3 && seg[1] == "modifier_groups" && r.Method == http.MethodDelete:
		kept := s.ItemGroups[seg[0]][:0]
		for _, id := range s.ItemGroups[seg[0]] {
			if id != seg[2] {
				kept = append(kept, id)
			}
		}
		s.ItemGroups[seg[0]] = kept
		w.WriteHeader(http.StatusNoContent)
	default:
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "not found"})
	}
}

func (s *Server) handleItemStocks(w http.ResponseWriter, r *http.Request, seg []string) {
	switch {
	case len(seg) == 0 && r.Method == http.MethodGet:
		if s.FailStockListing {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"message": "stock listing unavailable"})
			return
		}
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
		ids := make([]string, 0, len(s.Stock))
		for id := range s.Stock {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		out := []clover.ItemStock{}
		for i := offset; i < len(ids) && (limit <= 0 || i < offset+limit); i++ {
			out = append(out, clover.ItemStock{Item: &clover.Ref{ID: ids[i]}, Quantity: s.Stock[ids[i]]})
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"elements": out})
	case len(seg) == 1 && r.Method == http.MethodPost:
		var st clover.ItemStock
		decode(r, &st)
		s.Stock[seg[0]] = st.Quantity
		s.StockTracked[seg[0]] = true
		writeJSON(w, http.StatusOK, st)
	default:
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "not found"})
	}
}

func (s *Server) handleCategories(w http.ResponseWriter, r *http.Request, seg []string) {
	if s.CategoryLookupNotFound && r.Method == http.MethodGet {
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "not found"})
		return
	}
	switch {
	case len(seg) == 0 && r.Method == http.MethodGet:
		name := strings.TrimPrefix(r.URL.Query().Get("filter"), "name=")
		out := []clover.Category{}
		for _, c := range s.Categories {
			if c.Name == name {
				out = append(out, c)
			}
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"elements": out})
	case len(seg) == 0 && r.Method == http.MethodPost:
		var c clover.Category
		decode(r, &c)
		c.ID = s.nextID("CAT")
		s.Categories[c.ID] = c
		writeJSON(w, http.StatusOK, c)
	case len(seg) == 1 && r.Method == http.MethodGet:
		c, ok := s.Categories[seg[0]]
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]string{"message": "no category"})
			return
		}
		writeJSON(w, http.StatusOK, c)
	default:
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "not found"})
	}
}

func (s *Server) handleCategoryItems(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Elements []struct {
			Item     clover.Ref `json:"item"`
			Category clover.Ref `json:"category"`
		} `json:"elements"`
	}
	decode(r, &body)
	for _, e := range body.Elements {
		if s.CategoryItems[e.Category.ID] == nil {
			s.CategoryItems[e.Category.ID] = make(map[string]bool)
		}
		if s.CategoryItems[e.Category.ID][e.Item.ID] {
			writeJSON(w, http.StatusConflict, map[string]string{"message": "already associated"})
			return
		}
		s.CategoryItems[e.Category.ID][e.Item.ID] = true
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleModifierGroups(w http.ResponseWriter, r *http.Request, seg []string) {
	switch {
	case len(seg) == 0 && r.Method == http.MethodPost:
		var g clover.ModifierGroup
		decode(r, &g)
		g.ID = s.nextID("GRP")
		s.Groups[g.ID] = g
		s.Modifiers[g.ID] = make(map[string]clover.Modifier)
		writeJSON(w, http.StatusOK, g)
	case len(seg) == 1 && r.Method == http.MethodPost:
		if _, ok := s.Groups[seg[0]]; !ok {
			writeJSON(w, http.StatusNotFound, map[string]string{"message": "no group"})
			return
		}
		var g clover.ModifierGroup
		decode(r, &g)
		g.ID = seg[0]
		s.Groups[g.ID] = g
		writeJSON(w, http.StatusOK, g)
	case len(seg) == 1 && r.Method == http.MethodDelete:
		delete(s.Groups, seg[0])
		delete(s.Modifiers, seg[0])
		w.WriteHeader(http.StatusNoContent)
	case len(seg) == 2 && seg[1] == "modifiers" && r.Method == http.MethodPost:
		if _, ok := s.Groups[seg[0]]; !ok {
			writeJSON(w, http.StatusNotFound, map[string]string{"message": "no group"})
			return
		}
		var m clover.Modifier
		decode(r, &m)
		m.ID = s.nextID("MOD")
		s.Modifiers[seg[0]][m.ID] = m
		writeJSON(w, http.StatusOK, m)
	case len(seg) == 3 && seg[1] == "modifiers" && r.Method == http.MethodPost:
		mods, ok := s.Modifiers[seg[0]]
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]string{"message": "no group"})
			return
		}
		if _, ok := mods[seg[2]]; !ok {
			writeJSON(w, http.StatusNotFound, map[string]string{"message": "no modifier"})
			return
		}
		var m clover.Modifier
		decode(r, &m)
		m.ID = seg[2]
		mods[m.ID] = m
		writeJSON(w, http.StatusOK, m)
	case len(seg) == 3 && seg[1] == "modifiers" && r.Method == http.MethodDelete:
		if mods, ok := s.Modifiers[seg[0]]; ok {
			delete(mods, seg[2])
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "not found"})
	}
}

func (s *Server) handleItemModifierGroups(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Elements []struct {
			Item          clover.Ref `json:"item"`
			ModifierGroup clover.Ref `json:"modifierGroup"`
		} `json:"elements"`
	}
	decode(r, &body)
	for _, e := range body.Elements {
		s.ItemGroups[e.Item.ID] = append(s.ItemGroups[e.Item.ID], e.ModifierGroup.ID)
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleOrders(w http.ResponseWriter, r *http.Request, seg []string) {
	switch {
	case len(seg) == 0 && r.Method == http.MethodPost:
		if s.FailOrders {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"message": "orders unavailable"})
			return
		}
		var o clover.Order
		decode(r, &o)
		o.ID = s.nextID("ORD")
		s.Orders[o.ID] = o
		writeJSON(w, http.StatusOK, o)
	case len(seg) == 2 && seg[1] == "bulk_line_items" && r.Method == http.MethodPost:
		var body struct {
			Items []clover.LineItem `json:"items"`
		}
		decode(r, &body)
		out := make([]clover.LineItem, len(body.Items))
		for i, li := range body.Items {
			li.ID = s.nextID("LI")
			out[i] = li
		}
		s.LineItems[seg[0]] = append(s.LineItems[seg[0]], out...)
		writeJSON(w, http.StatusOK, out)
	case len(seg) == 4 && seg[1] == "line_items" && seg[3] == "modifications" && r.Method == http.MethodPost:
		var body struct {
			Modifier clover.Ref `json:"modifier"`
		}
		decode(r, &body)
		if s.FailModifier != "" && body.Modifier.ID == s.FailModifier {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"message": "modifier unavailable"})
			return
		}
		s.Modifications[seg[2]] = append(s.Modifications[seg[2]], body.Modifier.ID)
		writeJSON(w, http.StatusOK, body)
	case len(seg) == 2 && seg[1] == "payments" && r.Method == http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]interface{}{"elements": s.Payments[seg[0]]})
	case len(seg) == 2 && seg[1] == "payments" && r.Method == http.MethodPost:
		if s.PaymentConflict {
			writeJSON(w, http.StatusConflict, map[string]string{"message": "payment already exists"})
			return
		}
		var p clover.Payment
		decode(r, &p)
		p.ID = s.nextID("PAY")
		if p.Tender != nil {
			for _, t := range s.Tenders {
				if t.ID == p.Tender.ID {
					tender := t
					p.Tender = &tender
				}
			}
		}
		s.Payments[seg[0]] = append(s.Payments[seg[0]], p)
		writeJSON(w, http.StatusOK, p)
	default:
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "not found"})
	}
}

func (s *Server) StockOf(itemID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Stock[itemID]
}

// OrderTotal sums the line items of a POS order plus the price of every
// modifier attached to them.
func (s *Server) OrderTotal(orderID string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	prices := make(map[string]int64)
	for _, mods := range s.Modifiers {
		for id, m := range mods {
			prices[id] = m.Price
		}
	}
	var total int64
	for _, li := range s.LineItems[orderID] {
		total += li.Price
		for _, modID := range s.Modifications[li.ID] {
			total += prices[modID]
		}
	}
	return total
}

// CashTenders counts cash payments recorded on a POS order.
func (s *Server) CashTenders(orderID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, p := range s.Payments[orderID] {
		if p.Tender != nil && p.Tender.LabelKey == clover.TenderCash {
			n++
		}
	}
	return n
}

func decode(r *http.Request, v interface{}) {
	_ = json.NewDecoder(r.Body).Decode(v)
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
