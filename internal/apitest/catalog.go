package apitest

import (
	"encoding/json"
	"math"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
)

// Product is the backend's product record.
type Product struct {
	ID          int64     `json:"id"`
	SKU         string    `json:"sku"`
	Name        string    `json:"name"`
	Description *string   `json:"description"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Webhook is the backend's webhook record.
type Webhook struct {
	ID        int64     `json:"id"`
	URL       string    `json:"url"`
	EventType string    `json:"event_type"`
	Enabled   bool      `json:"enabled"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// WebhookTestResult is returned by POST /api/webhooks/{id}/test.
type WebhookTestResult struct {
	Success        bool     `json:"success"`
	StatusCode     *int     `json:"status_code"`
	ResponseTimeMS *float64 `json:"response_time_ms"`
	ResponseBody   *string  `json:"response_body"`
	Error          *string  `json:"error"`
}

type productStore struct {
	mu       sync.RWMutex
	seq      int64
	products map[int64]Product
	listHits int
}

func newProductStore() *productStore {
	return &productStore{products: make(map[int64]Product)}
}

type webhookStore struct {
	mu       sync.RWMutex
	seq      int64
	webhooks map[int64]Webhook
	result   WebhookTestResult
}

func newWebhookStore() *webhookStore {
	return &webhookStore{webhooks: make(map[int64]Webhook)}
}

// SeedProducts stores products, assigning IDs to those without one.
func (s *Server) SeedProducts(products ...Product) {
	st := s.products
	st.mu.Lock()
	defer st.mu.Unlock()
	now := time.Now().UTC()
	for _, p := range products {
		if p.ID == 0 {
			st.seq++
			p.ID = st.seq
		} else if p.ID > st.seq {
			st.seq = p.ID
		}
		if p.CreatedAt.IsZero() {
			p.CreatedAt, p.UpdatedAt = now, now
		}
		st.products[p.ID] = p
	}
}

// Products returns all stored products ordered by ID.
func (s *Server) Products() []Product {
	st := s.products
	st.mu.RLock()
	defer st.mu.RUnlock()
	out := make([]Product, 0, len(st.products))
	for _, p := range st.products {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ProductListHits reports how many times the product listing was requested.
func (s *Server) ProductListHits() int {
	st := s.products
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.listHits
}

// SeedWebhooks stores webhooks, assigning IDs to those without one.
func (s *Server) SeedWebhooks(webhooks ...Webhook) {
	st := s.webhooks
	st.mu.Lock()
	defer st.mu.Unlock()
	now := time.Now().UTC()
	for _, wh := range webhooks {
		if wh.ID == 0 {
			st.seq++
			wh.ID = st.seq
		} else if wh.ID > st.seq {
			st.seq = wh.ID
		}
		if wh.CreatedAt.IsZero() {
			wh.CreatedAt, wh.UpdatedAt = now, now
		}
		st.webhooks[wh.ID] = wh
	}
}

// SetWebhookTestResult sets the answer of every webhook test call.
func (s *Server) SetWebhookTestResult(result WebhookTestResult) {
	st := s.webhooks
	st.mu.Lock()
	defer st.mu.Unlock()
	st.result = result
}

func (s *Server) listProducts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, err := intParam(q.Get("page"), 1)
	if err != nil || page < 1 {
		writeError(w, http.StatusUnprocessableEntity, "invalid page")
		return
	}
	perPage, err := intParam(q.Get("per_page"), 50)
	if err != nil || perPage < 1 || perPage > 100 {
		writeError(w, http.StatusUnprocessableEntity, "invalid per_page")
		return
	}
	var active *bool
	if raw := q.Get("active"); raw != "" {
		val, parseErr := strconv.ParseBool(raw)
		if parseErr != nil {
			writeError(w, http.StatusUnprocessableEntity, "invalid active")
			return
		}
		active = &val
	}

	st := s.products
	st.mu.Lock()
	st.listHits++
	st.mu.Unlock()

	matched := make([]Product, 0)
	for _, p := range s.Products() {
		if !containsFold(p.SKU, q.Get("sku")) || !containsFold(p.Name, q.Get("name")) {
			continue
		}
		if d := q.Get("description"); d != "" && (p.Description == nil || !containsFold(*p.Description, d)) {
			continue
		}
		if active != nil && p.Active != *active {
			continue
		}
		matched = append(matched, p)
	}

	total := len(matched)
	pages := 0
	if total > 0 {
		pages = int(math.Ceil(float64(total) / float64(perPage)))
	}
	start := (page - 1) * perPage
	items := []Product{}
	if start < total {
		end := min(start+perPage, total)
		items = matched[start:end]
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items":    items,
		"total":    total,
		"page":     page,
		"per_page": perPage,
		"pages":    pages,
	})
}

func (s *Server) getProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	st := s.products
	st.mu.RLock()
	p, found := st.products[id]
	st.mu.RUnlock()
	if !found {
		writeError(w, http.StatusNotFound, "Product not found")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) createProduct(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SKU         string  `json:"sku"`
		Name        string  `json:"name"`
		Description *string `json:"description"`
		Active      *bool   `json:"active"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "invalid JSON")
		return
	}
	sku := strings.TrimSpace(req.SKU)
	if sku == "" || req.Name == "" {
		writeError(w, http.StatusUnprocessableEntity, "sku and name are required")
		return
	}
	st := s.products
	st.mu.Lock()
	defer st.mu.Unlock()
	for _, p := range st.products {
		if strings.EqualFold(p.SKU, sku) {
			writeError(w, http.StatusBadRequest, "Product with this SKU already exists")
			return
		}
	}
	st.seq++
	now := time.Now().UTC()
	p := Product{
		ID:          st.seq,
		SKU:         sku,
		Name:        req.Name,
		Description: req.Description,
		Active:      req.Active == nil || *req.Active,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	st.products[p.ID] = p
	writeJSON(w, http.StatusCreated, p)
}

func (s *Server) updateProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req struct {
		Name        *string `json:"name"`
		Description *string `json:"description"`
		Active      *bool   `json:"active"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "invalid JSON")
		return
	}
	st := s.products
	st.mu.Lock()
	defer st.mu.Unlock()
	p, found := st.products[id]
	if !found {
		writeError(w, http.StatusNotFound, "Product not found")
		return
	}
	if req.Name != nil {
		p.Name = *req.Name
	}
	if req.Description != nil {
		p.Description = req.Description
	}
	if req.Active != nil {
		p.Active = *req.Active
	}
	p.UpdatedAt = time.Now().UTC()
	st.products[id] = p
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) deleteProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	st := s.products
	st.mu.Lock()
	defer st.mu.Unlock()
	if _, found := st.products[id]; !found {
		writeError(w, http.StatusNotFound, "Product not found")
		return
	}
	delete(st.products, id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) deleteAllProducts(w http.ResponseWriter, _ *http.Request) {
	st := s.products
	st.mu.Lock()
	count := len(st.products)
	st.products = make(map[int64]Product)
	st.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Deleted " + strconv.Itoa(count) + " products",
		"count":   count,
	})
}

func (s *Server) listWebhooks(w http.ResponseWriter, _ *http.Request) {
	st := s.webhooks
	st.mu.RLock()
	out := make([]Webhook, 0, len(st.webhooks))
	for _, wh := range st.webhooks {
		out = append(out, wh)
	}
	st.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) getWebhook(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	st := s.webhooks
	st.mu.RLock()
	wh, found := st.webhooks[id]
	st.mu.RUnlock()
	if !found {
		writeError(w, http.StatusNotFound, "Webhook not found")
		return
	}
	writeJSON(w, http.StatusOK, wh)
}

func (s *Server) createWebhook(w http.ResponseWriter, r *http.Request) {
	var req struct {
		URL       string `json:"url"`
		EventType string `json:"event_type"`
		Enabled   *bool  `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.URL == "" || req.EventType == "" {
		writeError(w, http.StatusUnprocessableEntity, "url and event_type are required")
		return
	}
	st := s.webhooks
	st.mu.Lock()
	defer st.mu.Unlock()
	st.seq++
	now := time.Now().UTC()
	wh := Webhook{
		ID:        st.seq,
		URL:       req.URL,
		EventType: req.EventType,
		Enabled:   req.Enabled == nil || *req.Enabled,
		CreatedAt: now,
		UpdatedAt: now,
	}
	st.webhooks[wh.ID] = wh
	writeJSON(w, http.StatusCreated, wh)
}

func (s *Server) updateWebhook(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req struct {
		URL       *string `json:"url"`
		EventType *string `json:"event_type"`
		Enabled   *bool   `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "invalid JSON")
		return
	}
	st := s.webhooks
	st.mu.Lock()
	defer st.mu.Unlock()
	wh, found := st.webhooks[id]
	if !found {
		writeError(w, http.StatusNotFound, "Webhook not found")
		return
	}
	if req.URL != nil {
		wh.URL = *req.URL
	}
	if req.EventType != nil {
		wh.EventType = *req.EventType
	}
	if req.Enabled != nil {
		wh.Enabled = *req.Enabled
	}
	wh.UpdatedAt = time.Now().UTC()
	st.webhooks[id] = wh
	writeJSON(w, http.StatusOK, wh)
}

func (s *Server) deleteWebhook(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	st := s.webhooks
	st.mu.Lock()
	defer st.mu.Unlock()
	if _, found := st.webhooks[id]; !found {
		writeError(w, http.StatusNotFound, "Webhook not found")
		return
	}
	delete(st.webhooks, id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) testWebhook(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	st := s.webhooks
	st.mu.RLock()
	_, found := st.webhooks[id]
	result := st.result
	st.mu.RUnlock()
	if !found {
		writeError(w, http.StatusNotFound, "Webhook not found")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusUnprocessableEntity, "invalid id")
		return 0, false
	}
	return id, true
}

func intParam(raw string, def int) (int, error) {
	if raw == "" {
		return def, nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return 0, err
	}
	return val, nil
}

func containsFold(s, substr string) bool {
	return substr == "" || strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
