// Package app wires the import client together and owns the operator's
// session state.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-importer/internal/apiclient"
	"github.com/JakeFAU/catalog-importer/internal/catalog"
	"github.com/JakeFAU/catalog-importer/internal/channel/poll"
	"github.com/JakeFAU/catalog-importer/internal/channel/stream"
	"github.com/JakeFAU/catalog-importer/internal/clock/system"
	"github.com/JakeFAU/catalog-importer/internal/config"
	"github.com/JakeFAU/catalog-importer/internal/id/uuid"
	"github.com/JakeFAU/catalog-importer/internal/importer"
	"github.com/JakeFAU/catalog-importer/internal/reconcile"
	"github.com/JakeFAU/catalog-importer/internal/submit"
	"github.com/JakeFAU/catalog-importer/internal/supervisor"
)

// ErrAbandoned is returned by Await when the task was replaced or reset
// before it finished.
var ErrAbandoned = errors.New("import abandoned before completion")

// Options supplies the collaborators that differ between the CLI and tests.
type Options struct {
	Presenter reconcile.Presenter
	Notifier  reconcile.Notifier
	Logger    *zap.Logger
	// BaseContext bounds channels and listing refreshes.
	BaseContext context.Context
	Clock       importer.Clock
	IDs         importer.IDGenerator
}

// App holds the long-lived services of a session and the State they act on.
// It is the only owner of State.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	submitter  *submit.Submitter
	reconciler *reconcile.Reconciler
	supervisor *supervisor.Supervisor
	products   *catalog.ProductService
	webhooks   *catalog.WebhookService

	mu    sync.RWMutex
	state State
}

// New builds an App from validated configuration.
func New(cfg config.Config, opts Options) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.BaseContext == nil {
		opts.BaseContext = context.Background()
	}
	if opts.Clock == nil {
		opts.Clock = system.New()
	}
	if opts.IDs == nil {
		opts.IDs = uuid.New()
	}

	clientCfg := apiclient.Config{
		BaseURL:   cfg.API.BaseURL,
		Timeout:   cfg.RequestTimeout(),
		UserAgent: cfg.API.UserAgent,
		IDs:       opts.IDs,
		Logger:    logger.Named("api"),
	}
	client := apiclient.New(clientCfg)

	a := &App{
		cfg:       cfg,
		logger:    logger,
		submitter: submit.New(client, opts.Clock, logger),
		products:  catalog.NewProductService(client, logger),
		webhooks:  catalog.NewWebhookService(client, logger),
		state: State{
			ActiveView: ViewImport,
			Page:       1,
			PerPage:    cfg.Listing.PerPage,
		},
	}

	a.reconciler = reconcile.New(reconcile.Config{
		Presenter:   opts.Presenter,
		Notifier:    opts.Notifier,
		Refresher:   a,
		Visibility:  a,
		Clock:       opts.Clock,
		Logger:      logger,
		BaseContext: opts.BaseContext,
	})

	supCfg := supervisor.Config{
		Poll: poll.NewFactory(client, poll.Options{
			Interval:  cfg.PollInterval(),
			Immediate: cfg.Progress.PollImmediately,
		}, logger),
		Reconciler:  a.reconciler,
		BaseContext: opts.BaseContext,
		Logger:      logger,
	}
	if cfg.Progress.StreamEnabled {
		supCfg.Stream = stream.NewFactory(apiclient.NewStreaming(clientCfg), logger)
	}
	sup, err := supervisor.New(supCfg)
	if err != nil {
		return nil, fmt.Errorf("init supervisor: %w", err)
	}
	a.supervisor = sup
	return a, nil
}

// GetLogger returns the shared logger.
func (a *App) GetLogger() *zap.Logger {
	return a.logger
}

// GetProducts exposes the product collaborator.
func (a *App) GetProducts() *catalog.ProductService {
	return a.products
}

// GetWebhooks exposes the webhook collaborator.
func (a *App) GetWebhooks() *catalog.WebhookService {
	return a.webhooks
}

// GetReconciler exposes the progress view and task outcomes.
func (a *App) GetReconciler() *reconcile.Reconciler {
	return a.reconciler
}

// GetSupervisor exposes the transport state machine.
func (a *App) GetSupervisor() *supervisor.Supervisor {
	return a.supervisor
}

// State returns a copy of the session state.
func (a *App) State() State {
	a.mu.RLock()
	defer a.mu.RUnlock()
	s := a.state
	s.Listing.Items = append([]catalog.Product(nil), a.state.Listing.Items...)
	return s
}

// Import uploads the file at path and starts following its progress. Any
// task still being followed is abandoned first.
func (a *App) Import(ctx context.Context, path string) (importer.Task, error) {
	task, err := a.submitter.SubmitFile(ctx, path)
	if err != nil {
		return importer.Task{}, err
	}
	return task, a.follow(ctx, task)
}

// ImportReader uploads content as filename and starts following it.
func (a *App) ImportReader(ctx context.Context, filename string, content io.Reader) (importer.Task, error) {
	task, err := a.submitter.Submit(ctx, filename, content)
	if err != nil {
		return importer.Task{}, err
	}
	return task, a.follow(ctx, task)
}

// Watch follows a task submitted elsewhere.
func (a *App) Watch(ctx context.Context, taskID string) (importer.Task, error) {
	task := importer.Task{ID: taskID, Kind: importer.TaskKindProductImport}
	return task, a.follow(ctx, task)
}

func (a *App) follow(ctx context.Context, task importer.Task) error {
	a.mu.Lock()
	a.state.TaskID = task.ID
	a.mu.Unlock()
	if err := a.supervisor.Track(ctx, task); err != nil {
		a.clearTask(task.ID)
		return fmt.Errorf("follow task %s: %w", task.ID, err)
	}
	return nil
}

// Await blocks until taskID finishes. A server-reported failure is returned
// as *importer.TaskError alongside the outcome.
func (a *App) Await(ctx context.Context, taskID string) (reconcile.Outcome, error) {
	st, err := a.supervisor.Await(ctx, taskID)
	if err != nil {
		return reconcile.Outcome{}, err
	}
	a.clearTask(taskID)
	if st != supervisor.StateFinalized {
		return reconcile.Outcome{}, fmt.Errorf("task %s: %w", taskID, ErrAbandoned)
	}
	outcome, ok := a.reconciler.Outcome(taskID)
	if !ok {
		return reconcile.Outcome{}, fmt.Errorf("task %s: finalized without outcome", taskID)
	}
	// Let a refresh triggered by this completion land before callers read
	// the listing.
	if err := a.reconciler.WaitRefresh(ctx, taskID); err != nil {
		return outcome, err
	}
	return outcome, outcome.Err()
}

// Cancel stops following the current task.
func (a *App) Cancel(ctx context.Context) error {
	a.mu.Lock()
	a.state.TaskID = ""
	a.mu.Unlock()
	return a.supervisor.Reset(ctx)
}

func (a *App) clearTask(taskID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state.TaskID == taskID {
		a.state.TaskID = ""
	}
}

// SwitchView changes the visible screen.
func (a *App) SwitchView(v View) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.state.ActiveView = v
}

// ListingVisible implements reconcile.Visibility.
func (a *App) ListingVisible() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.state.ActiveView == ViewProducts
}

// SetFilter replaces the listing filter and returns to the first page.
func (a *App) SetFilter(f catalog.ProductFilter) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.state.Filter = f
	a.state.Page = 1
}

// SetPage selects a listing page.
func (a *App) SetPage(page, perPage int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if page > 0 {
		a.state.Page = page
	}
	if perPage > 0 {
		a.state.PerPage = perPage
	}
}

// SelectProduct remembers the product being viewed or edited.
func (a *App) SelectProduct(id int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.state.ProductID = id
}

// SelectWebhook remembers the webhook being viewed or edited.
func (a *App) SelectWebhook(id int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.state.WebhookID = id
}

// RefreshListing reloads the current page with the current filters. It
// implements reconcile.ListingRefresher.
func (a *App) RefreshListing(ctx context.Context) error {
	a.mu.RLock()
	opts := catalog.ListOptions{Page: a.state.Page, PerPage: a.state.PerPage, Filter: a.state.Filter}
	a.mu.RUnlock()

	page, err := a.products.List(ctx, opts)
	if err != nil {
		return err
	}
	a.mu.Lock()
	a.state.Listing = page
	a.mu.Unlock()
	a.logger.Debug("listing refreshed", zap.Int("page", page.Page), zap.Int("total", page.Total))
	return nil
}

// Close stops following progress and releases the open channel.
func (a *App) Close(ctx context.Context) error {
	return a.supervisor.Close(ctx)
}
