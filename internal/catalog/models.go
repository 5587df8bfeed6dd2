package catalog

import (
	"fmt"
	"strings"
	"time"
)

// Product is a catalog record.
type Product struct {
	ID          int64     `json:"id"`
	SKU         string    `json:"sku"`
	Name        string    `json:"name"`
	Description *string   `json:"description"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ProductPage is one page of a product listing.
type ProductPage struct {
	Items   []Product `json:"items"`
	Total   int       `json:"total"`
	Page    int       `json:"page"`
	PerPage int       `json:"per_page"`
	Pages   int       `json:"pages"`
}

// ProductFilter narrows a listing. Zero values mean "no filter".
type ProductFilter struct {
	SKU         string
	Name        string
	Description string
	Active      *bool
}

// ListOptions selects a page of a listing.
type ListOptions struct {
	Page    int
	PerPage int
	Filter  ProductFilter
}

// ProductCreate is the body of a product creation.
type ProductCreate struct {
	SKU         string  `json:"sku"`
	Name        string  `json:"name"`
	Description *string `json:"description,omitempty"`
	Active      *bool   `json:"active,omitempty"`
}

// Validate mirrors the backend's required fields.
func (p ProductCreate) Validate() error {
	if strings.TrimSpace(p.SKU) == "" {
		return &ValidationError{Field: "sku", Reason: "must not be empty"}
	}
	if strings.TrimSpace(p.Name) == "" {
		return &ValidationError{Field: "name", Reason: "must not be empty"}
	}
	return nil
}

// ProductUpdate changes the fields that are set.
type ProductUpdate struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
	Active      *bool   `json:"active,omitempty"`
}

// Validate rejects updates that would blank the name or change nothing.
func (p ProductUpdate) Validate() error {
	if p.Name == nil && p.Description == nil && p.Active == nil {
		return &ValidationError{Field: "update", Reason: "no fields set"}
	}
	if p.Name != nil && strings.TrimSpace(*p.Name) == "" {
		return &ValidationError{Field: "name", Reason: "must not be empty"}
	}
	return nil
}

// BulkDeleteResult reports a delete-all.
type BulkDeleteResult struct {
	Message string `json:"message"`
	Count   int    `json:"count"`
}

// Webhook event types accepted by the backend.
const (
	EventProductCreated  = "product.created"
	EventProductUpdated  = "product.updated"
	EventProductDeleted  = "product.deleted"
	EventImportCompleted = "import.completed"
)

// EventTypes lists every accepted webhook event type.
var EventTypes = []string{EventProductCreated, EventProductUpdated, EventProductDeleted, EventImportCompleted}

// Webhook is a registered callback.
type Webhook struct {
	ID        int64     `json:"id"`
	URL       string    `json:"url"`
	EventType string    `json:"event_type"`
	Enabled   bool      `json:"enabled"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// WebhookCreate is the body of a webhook registration.
type WebhookCreate struct {
	URL       string `json:"url"`
	EventType string `json:"event_type"`
	Enabled   *bool  `json:"enabled,omitempty"`
}

// Validate checks the URL scheme and event type.
func (w WebhookCreate) Validate() error {
	if err := validateURL(w.URL); err != nil {
		return err
	}
	return validateEventType(w.EventType)
}

// WebhookUpdate changes the fields that are set.
type WebhookUpdate struct {
	URL       *string `json:"url,omitempty"`
	EventType *string `json:"event_type,omitempty"`
	Enabled   *bool   `json:"enabled,omitempty"`
}

// Validate checks the fields that are set.
func (w WebhookUpdate) Validate() error {
	if w.URL == nil && w.EventType == nil && w.Enabled == nil {
		return &ValidationError{Field: "update", Reason: "no fields set"}
	}
	if w.URL != nil {
		if err := validateURL(*w.URL); err != nil {
			return err
		}
	}
	if w.EventType != nil {
		return validateEventType(*w.EventType)
	}
	return nil
}

// WebhookTestResult is the outcome of a synchronous test delivery.
type WebhookTestResult struct {
	Success        bool     `json:"success"`
	StatusCode     *int     `json:"status_code"`
	ResponseTimeMS *float64 `json:"response_time_ms"`
	ResponseBody   *string  `json:"response_body"`
	Error          *string  `json:"error"`
}

// ValidationError is a client-side rejection made before any request.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func validateURL(raw string) error {
	if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
		return &ValidationError{Field: "url", Reason: "must start with http:// or https://"}
	}
	return nil
}

func validateEventType(eventType string) error {
	for _, et := range EventTypes {
		if et == eventType {
			return nil
		}
	}
	return &ValidationError{
		Field:  "event_type",
		Reason: fmt.Sprintf("%q is not one of %s", eventType, strings.Join(EventTypes, ", ")),
	}
}
