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
	webhooksPath    = "/api/webhooks"
	webhookPath     = "/api/webhooks/{id}"
	webhookTestPath = "/api/webhooks/{id}/test"
)

// WebhookService manages webhook registrations.
type WebhookService struct {
	client *resty.Client
	logger *zap.Logger
}

// NewWebhookService returns a WebhookService.
func NewWebhookService(client *resty.Client, logger *zap.Logger) *WebhookService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebhookService{client: client, logger: logger.Named("webhooks")}
}

func (s *WebhookService) List(ctx context.Context) ([]Webhook, error) {
	var out []Webhook
	resp, err := s.client.R().
		SetContext(ctx).
		SetResult(&out).
		SetError(&apiclient.ErrorBody{}).
		Get(webhooksPath)
	if err := apiclient.CheckResponse(resp, err); err != nil {
		return nil, fmt.Errorf("list webhooks: %w", err)
	}
	if out == nil {
		out = []Webhook{}
	}
	return out, nil
}

func (s *WebhookService) Get(ctx context.Context, id int64) (Webhook, error) {
	var w Webhook
	resp, err := s.client.R().
		SetContext(ctx).
		SetPathParam("id", strconv.FormatInt(id, 10)).
		SetResult(&w).
		SetError(&apiclient.ErrorBody{}).
		Get(webhookPath)
	if err := apiclient.CheckResponse(resp, err); err != nil {
		return Webhook{}, fmt.Errorf("get webhook %d: %w", id, err)
	}
	return w, nil
}

func (s *WebhookService) Create(ctx context.Context, in WebhookCreate) (Webhook, error) {
	if err := in.Validate(); err != nil {
		return Webhook{}, err
	}
	var w Webhook
	resp, err := s.client.R().
		SetContext(ctx).
		SetBody(in).
		SetResult(&w).
		SetError(&apiclient.ErrorBody{}).
		Post(webhooksPath)
	if err := apiclient.CheckResponse(resp, err); err != nil {
		return Webhook{}, fmt.Errorf("create webhook: %w", err)
	}
	s.logger.Info("webhook created", zap.Int64("id", w.ID), zap.String("event_type", w.EventType))
	return w, nil
}

func (s *WebhookService) Update(ctx context.Context, id int64, in WebhookUpdate) (Webhook, error) {
	if err := in.Validate(); err != nil {
		return Webhook{}, err
	}
	var w Webhook
	resp, err := s.client.R().
		SetContext(ctx).
		SetPathParam("id", strconv.FormatInt(id, 10)).
		SetBody(in).
		SetResult(&w).
		SetError(&apiclient.ErrorBody{}).
		Put(webhookPath)
	if err := apiclient.CheckResponse(resp, err); err != nil {
		return Webhook{}, fmt.Errorf("update webhook %d: %w", id, err)
	}
	return w, nil
}

func (s *WebhookService) Delete(ctx context.Context, id int64) error {
	resp, err := s.client.R().
		SetContext(ctx).
		SetPathParam("id", strconv.FormatInt(id, 10)).
		SetError(&apiclient.ErrorBody{}).
		Delete(webhookPath)
	if err := apiclient.CheckResponse(resp, err); err != nil {
		return fmt.Errorf("delete webhook %d: %w", id, err)
	}
	return nil
}

// Test asks the backend to deliver a sample event to the webhook and reports
// what the receiver answered. A failed delivery is not an error.
func (s *WebhookService) Test(ctx context.Context, id int64) (WebhookTestResult, error) {
	var out WebhookTestResult
	resp, err := s.client.R().
		SetContext(ctx).
		SetPathParam("id", strconv.FormatInt(id, 10)).
		SetResult(&out).
		SetError(&apiclient.ErrorBody{}).
		Post(webhookTestPath)
	if err := apiclient.CheckResponse(resp, err); err != nil {
		return WebhookTestResult{}, fmt.Errorf("test webhook %d: %w", id, err)
	}
	return out, nil
}
