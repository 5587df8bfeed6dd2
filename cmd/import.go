package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-importer/internal/app"
	"github.com/JakeFAU/catalog-importer/internal/importer"
	"github.com/JakeFAU/catalog-importer/internal/render"
)

func newImportCmd() *cobra.Command {
	var showProducts bool
	cmd := &cobra.Command{
		Use:   "import <file.csv>",
		Short: "Upload a CSV file and follow the import",
		Long: `Uploads a product CSV file and follows the import until the backend
reports completion or failure. The command exits non-zero when the upload is
rejected or the import fails.

With --show-products the product listing is treated as the visible view and
is refreshed and printed once the import completes.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if showProducts {
				appInstance.SwitchView(app.ViewProducts)
			}
			task, err := appInstance.Import(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if err := follow(cmd, appInstance, task); err != nil {
				return err
			}
			if showProducts {
				return render.Products(cmd.OutOrStdout(), appInstance.State().Listing)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&showProducts, "show-products", false, "refresh and print the product listing after a successful import")
	return cmd
}

func newWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch <task-id>",
		Short: "Follow an import started elsewhere",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			task, err := appInstance.Watch(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return follow(cmd, appInstance, task)
		},
	}
}

func follow(cmd *cobra.Command, appInstance App, task importer.Task) error {
	logger := appInstance.GetLogger().With(zap.String("task_id", task.ID))
	outcome, err := appInstance.Await(cmd.Context(), task.ID)
	switch {
	case err == nil:
		logger.Debug("import finished", zap.Int("errors", len(outcome.Errors)))
		return nil
	case errors.Is(err, context.Canceled):
		return fmt.Errorf("stopped following task %s; it keeps running on the server", task.ID)
	default:
		return err
	}
}
