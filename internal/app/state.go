package app

import "github.com/JakeFAU/catalog-importer/internal/catalog"

// View names the screen the operator is looking at.
type View string

// Views.
const (
	ViewImport   View = "import"
	ViewProducts View = "products"
	ViewWebhooks View = "webhooks"
)

// State is everything the operator's session remembers between actions.
type State struct {
	ActiveView View
	Page       int
	PerPage    int
	Filter     catalog.ProductFilter
	// ProductID and WebhookID select the record being viewed or edited.
	ProductID int64
	WebhookID int64
	// TaskID is the import currently followed, empty once it finishes.
	TaskID string
	// Listing is the last product page loaded.
	Listing catalog.ProductPage
}
