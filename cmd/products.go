package cmd

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"

	"github.com/JakeFAU/catalog-importer/internal/app"
	"github.com/JakeFAU/catalog-importer/internal/catalog"
	"github.com/JakeFAU/catalog-importer/internal/render"
)

func newProductsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "products",
		Aliases: []string{"product"},
		Short:   "Manage catalog products",
	}
	cmd.AddCommand(
		newProductsListCmd(),
		newProductsGetCmd(),
		newProductsCreateCmd(),
		newProductsUpdateCmd(),
		newProductsDeleteCmd(),
		newProductsDeleteAllCmd(),
	)
	return cmd
}

func newProductsListCmd() *cobra.Command {
	var (
		page, perPage          int
		sku, name, description string
		active                 string
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List products with optional filters",
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			filter := catalog.ProductFilter{SKU: sku, Name: name, Description: description}
			if active != "" {
				val, err := strconv.ParseBool(active)
				if err != nil {
					return fmt.Errorf("--active: %w", err)
				}
				filter.Active = &val
			}
			appInstance.SwitchView(app.ViewProducts)
			appInstance.SetFilter(filter)
			appInstance.SetPage(page, perPage)
			if err := appInstance.RefreshListing(cmd.Context()); err != nil {
				return err
			}
			return render.Products(cmd.OutOrStdout(), appInstance.State().Listing)
		},
	}
	cmd.Flags().IntVar(&page, "page", 1, "page number")
	cmd.Flags().IntVar(&perPage, "per-page", 0, "items per page (default from config)")
	cmd.Flags().StringVar(&sku, "sku", "", "filter by SKU substring")
	cmd.Flags().StringVar(&name, "name", "", "filter by name substring")
	cmd.Flags().StringVar(&description, "description", "", "filter by description substring")
	cmd.Flags().StringVar(&active, "active", "", "filter by active flag (true/false)")
	return cmd
}

func newProductsGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Show one product",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			appInstance, id, err := appAndID(cmd, args[0])
			if err != nil {
				return err
			}
			p, err := appInstance.GetProducts().Get(cmd.Context(), id)
			if err != nil {
				return err
			}
			return render.Product(cmd.OutOrStdout(), p)
		},
	}
}

func newProductsCreateCmd() *cobra.Command {
	var (
		in       catalog.ProductCreate
		desc     string
		inactive bool
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a product",
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("description") {
				in.Description = &desc
			}
			if inactive {
				active := false
				in.Active = &active
			}
			p, err := appInstance.GetProducts().Create(cmd.Context(), in)
			if err != nil {
				return err
			}
			return render.Product(cmd.OutOrStdout(), p)
		},
	}
	cmd.Flags().StringVar(&in.SKU, "sku", "", "stock keeping unit (unique, case-insensitive)")
	cmd.Flags().StringVar(&in.Name, "name", "", "product name")
	cmd.Flags().StringVar(&desc, "description", "", "product description")
	cmd.Flags().BoolVar(&inactive, "inactive", false, "create the product as inactive")
	return cmd
}

func newProductsUpdateCmd() *cobra.Command {
	var (
		name, desc string
		active     bool
	)
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update a product",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			appInstance, id, err := appAndID(cmd, args[0])
			if err != nil {
				return err
			}
			var in catalog.ProductUpdate
			if cmd.Flags().Changed("name") {
				in.Name = &name
			}
			if cmd.Flags().Changed("description") {
				in.Description = &desc
			}
			if cmd.Flags().Changed("active") {
				in.Active = &active
			}
			p, err := appInstance.GetProducts().Update(cmd.Context(), id, in)
			if err != nil {
				return err
			}
			return render.Product(cmd.OutOrStdout(), p)
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "new name")
	cmd.Flags().StringVar(&desc, "description", "", "new description")
	cmd.Flags().BoolVar(&active, "active", true, "active flag")
	return cmd
}

func newProductsDeleteCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a product",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			appInstance, id, err := appAndID(cmd, args[0])
			if err != nil {
				return err
			}
			if !yes {
				if err := confirm(fmt.Sprintf("Delete product %d", id)); err != nil {
					return err
				}
			}
			if err := appInstance.GetProducts().Delete(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Product %d deleted.\n", id)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip confirmation")
	return cmd
}

func newProductsDeleteAllCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "delete-all",
		Short: "Delete every product",
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if !yes {
				if err := confirm("Delete ALL products? This cannot be undone"); err != nil {
					return err
				}
			}
			res, err := appInstance.GetProducts().DeleteAll(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), res.Message)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip confirmation")
	return cmd
}

func appAndID(cmd *cobra.Command, raw string) (App, int64, error) {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return nil, 0, err
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return nil, 0, fmt.Errorf("invalid id %q", raw)
	}
	return appInstance, id, nil
}

var errAborted = errors.New("aborted")

// confirm asks a yes/no question on the terminal.
func confirm(label string) error {
	prompt := promptui.Prompt{Label: label, IsConfirm: true}
	if _, err := prompt.Run(); err != nil {
		if errors.Is(err, promptui.ErrAbort) || errors.Is(err, promptui.ErrInterrupt) || errors.Is(err, promptui.ErrEOF) {
			return errAborted
		}
		return fmt.Errorf("confirm: %w", err)
	}
	return nil
}
