// Package cmd defines the importer command line.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-importer/internal/app"
	"github.com/JakeFAU/catalog-importer/internal/catalog"
	"github.com/JakeFAU/catalog-importer/internal/config"
	"github.com/JakeFAU/catalog-importer/internal/importer"
	"github.com/JakeFAU/catalog-importer/internal/logging"
	"github.com/JakeFAU/catalog-importer/internal/metrics"
	"github.com/JakeFAU/catalog-importer/internal/reconcile"
	"github.com/JakeFAU/catalog-importer/internal/render"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

const shutdownTimeout = 5 * time.Second

// App is what commands need from the application. Tests swap in their own
// factory through newApp.
type App interface {
	Close(ctx context.Context) error
	GetLogger() *zap.Logger
	GetProducts() *catalog.ProductService
	GetWebhooks() *catalog.WebhookService
	Import(ctx context.Context, path string) (importer.Task, error)
	Watch(ctx context.Context, taskID string) (importer.Task, error)
	Await(ctx context.Context, taskID string) (reconcile.Outcome, error)
	SwitchView(v app.View)
	SetPage(page, perPage int)
	SetFilter(f catalog.ProductFilter)
	RefreshListing(ctx context.Context) error
	State() app.State
}

type rootOptions struct {
	configPath  string
	metricsAddr string
}

// newApp is the application factory. It is a variable so tests can replace
// it.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger, out io.Writer) (App, error) {
	tty := out == io.Writer(os.Stdout) && render.IsTerminal(os.Stdout)
	term := render.NewTerminal(out, tty)
	return app.New(cfg, app.Options{
		Presenter:   term,
		Notifier:    term,
		Logger:      logger,
		BaseContext: ctx,
	})
}

// newRootCmd builds the command tree. The returned cleanup closes whatever
// the run created and must be called after Execute, whether it failed or not.
func newRootCmd() (*cobra.Command, func()) {
	opts := &rootOptions{}
	var (
		stopMetrics context.CancelFunc
		created     App
	)

	cmd := &cobra.Command{
		Use:   "importer",
		Short: "Upload catalog CSV files and follow their import",
		Long: `importer uploads product CSV files to the catalog backend and follows
the asynchronous import until it finishes. Progress arrives over a live
event stream; when the stream is unavailable the client falls back to
polling every two seconds.

It also manages products and webhooks on the same backend.`,
		SilenceUsage:  true,
		SilenceErrors: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}
			if opts.metricsAddr != "" {
				cfg.Metrics.Addr = opts.metricsAddr
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}
			logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}

			ctx := cmd.Context()
			if cfg.Metrics.Addr != "" {
				var metricsCtx context.Context
				metricsCtx, stopMetrics = context.WithCancel(ctx)
				go func() {
					if err := metrics.Serve(metricsCtx, cfg.Metrics.Addr, logger); err != nil {
						logger.Warn("metrics server stopped", zap.Error(err))
					}
				}()
			}

			appInstance, err := newApp(ctx, cfg, logger, cmd.OutOrStdout())
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			created = appInstance
			cmd.SetContext(context.WithValue(ctx, appKey, appInstance))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "config file (YAML); IMPORTER_* env vars override it")
	cmd.PersistentFlags().StringVar(&opts.metricsAddr, "metrics-addr", "", "serve /metrics and /healthz on this address")

	cmd.AddCommand(newImportCmd(), newWatchCmd(), newProductsCmd(), newWebhooksCmd())

	cleanup := func() {
		if stopMetrics != nil {
			stopMetrics()
		}
		if created == nil {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := created.Close(ctx); err != nil {
			created.GetLogger().Warn("shutdown incomplete", zap.Error(err))
		}
		_ = created.GetLogger().Sync()
	}
	return cmd, cleanup
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// Execute runs the root command until it finishes or the process is
// interrupted.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd, cleanup := newRootCmd()
	err := cmd.ExecuteContext(ctx)
	cleanup()
	if err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("Error: %v", err))
		stop()
		os.Exit(1)
	}
}
