// Package catalog is a thin client for the product and webhook endpoints of
// the import backend.
package catalog

import (
	"context"
	"fmt"
	"strconv"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-importer/internal/apiclient"
)

const (
	productsPath   = "/api/products"
	productPath    = "/api/products/{id}"
	productsBulk   = "/api/products/bulk/all"
	maxPerPage     = 100
	defaultPerPage = 50
)

// ProductService manages catalog products.
type ProductService struct {
	client *resty.Client
	logger *zap.Logger
}

// NewProductService returns a ProductService.
func NewProductService(client *resty.Client, logger *zap.Logger) *ProductService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProductService{client: client, logger: logger.Named("products")}
}

// List fetches one page of products.
func (s *ProductService) List(ctx context.Context, opts ListOptions) (ProductPage, error) {
	if opts.Page <= 0 {
		opts.Page = 1
	}
	if opts.PerPage <= 0 {
		opts.PerPage = defaultPerPage
	}
	if opts.PerPage > maxPerPage {
		return ProductPage{}, &ValidationError{Field: "per_page", Reason: fmt.Sprintf("must be at most %d", maxPerPage)}
	}
	params := map[string]string{
		"page":     strconv.Itoa(opts.Page),
		"per_page": strconv.Itoa(opts.PerPage),
	}
	f := opts.Filter
	if f.SKU != "" {
		params["sku"] = f.SKU
	}
	if f.Name != "" {
		params["name"] = f.Name
	}
	if f.Description != "" {
		params["description"] = f.Description
	}
	if f.Active != nil {
		params["active"] = strconv.FormatBool(*f.Active)
	}

	var page ProductPage
	resp, err := s.client.R().
		SetContext(ctx).
		SetQueryParams(params).
		SetResult(&page).
		SetError(&apiclient.ErrorBody{}).
		Get(productsPath)
	if err := apiclient.CheckResponse(resp, err); err != nil {
		return ProductPage{}, fmt.Errorf("list products: %w", err)
	}
	if page.Items == nil {
		page.Items = []Product{}
	}
	return page, nil
}

// Get fetches one product.
func (s *ProductService) Get(ctx context.Context, id int64) (Product, error) {
	var p Product
	resp, err := s.client.R().
		SetContext(ctx).
		SetPathParam("id", strconv.FormatInt(id, 10)).
		SetResult(&p).
		SetError(&apiclient.ErrorBody{}).
		Get(productPath)
	if err := apiclient.CheckResponse(resp, err); err != nil {
		return Product{}, fmt.Errorf("get product %d: %w", id, err)
	}
	return p, nil
}

// Create adds a product.
func (s *ProductService) Create(ctx context.Context, in ProductCreate) (Product, error) {
	if err := in.Validate(); err != nil {
		return Product{}, err
	}
	var p Product
	resp, err := s.client.R().
		SetContext(ctx).
		SetBody(in).
		SetResult(&p).
		SetError(&apiclient.ErrorBody{}).
		Post(productsPath)
	if err := apiclient.CheckResponse(resp, err); err != nil {
		return Product{}, fmt.Errorf("create product %s: %w", in.SKU, err)
	}
	s.logger.Info("product created", zap.Int64("id", p.ID), zap.String("sku", p.SKU))
	return p, nil
}

// Update changes a product.
func (s *ProductService) Update(ctx context.Context, id int64, in ProductUpdate) (Product, error) {
	if err := in.Validate(); err != nil {
		return Product{}, err
	}
	var p Product
	resp, err := s.client.R().
		SetContext(ctx).
		SetPathParam("id", strconv.FormatInt(id, 10)).
		SetBody(in).
		SetResult(&p).
		SetError(&apiclient.ErrorBody{}).
		Put(productPath)
	if err := apiclient.CheckResponse(resp, err); err != nil {
		return Product{}, fmt.Errorf("update product %d: %w", id, err)
	}
	return p, nil
}

// Delete removes a product.
func (s *ProductService) Delete(ctx context.Context, id int64) error {
	resp, err := s.client.R().
		SetContext(ctx).
		SetPathParam("id", strconv.FormatInt(id, 10)).
		SetError(&apiclient.ErrorBody{}).
		Delete(productPath)
	if err := apiclient.CheckResponse(resp, err); err != nil {
		return fmt.Errorf("delete product %d: %w", id, err)
	}
	s.logger.Info("product deleted", zap.Int64("id", id))
	return nil
}

// DeleteAll removes every product.
func (s *ProductService) DeleteAll(ctx context.Context) (BulkDeleteResult, error) {
	var out BulkDeleteResult
	resp, err := s.client.R().
		SetContext(ctx).
		SetResult(&out).
		SetError(&apiclient.ErrorBody{}).
		Delete(productsBulk)
	if err := apiclient.CheckResponse(resp, err); err != nil {
		return BulkDeleteResult{}, fmt.Errorf("delete all products: %w", err)
	}
	s.logger.Warn("all products deleted", zap.Int("count", out.Count))
	return out, nil
}
