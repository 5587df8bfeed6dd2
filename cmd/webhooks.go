package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/catalog-importer/internal/app"
	"github.com/JakeFAU/catalog-importer/internal/catalog"
	"github.com/JakeFAU/catalog-importer/internal/render"
)

func newWebhooksCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "webhooks",
		Aliases: []string{"webhook"},
		Short:   "Manage webhook registrations",
		Long: fmt.Sprintf(`Manage webhooks the backend calls on catalog events.

Event types: %s`, strings.Join(catalog.EventTypes, ", ")),
	}
	cmd.AddCommand(
		newWebhooksListCmd(),
		newWebhooksGetCmd(),
		newWebhooksCreateCmd(),
		newWebhooksUpdateCmd(),
		newWebhooksDeleteCmd(),
		newWebhooksTestCmd(),
	)
	return cmd
}

func newWebhooksListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List webhooks",
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			appInstance.SwitchView(app.ViewWebhooks)
			hooks, err := appInstance.GetWebhooks().List(cmd.Context())
			if err != nil {
				return err
			}
			return render.Webhooks(cmd.OutOrStdout(), hooks)
		},
	}
}

func newWebhooksGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Show one webhook",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			appInstance, id, err := appAndID(cmd, args[0])
			if err != nil {
				return err
			}
			hook, err := appInstance.GetWebhooks().Get(cmd.Context(), id)
			if err != nil {
				return err
			}
			return render.Webhooks(cmd.OutOrStdout(), []catalog.Webhook{hook})
		},
	}
}

func newWebhooksCreateCmd() *cobra.Command {
	var (
		in       catalog.WebhookCreate
		disabled bool
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Register a webhook",
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if disabled {
				enabled := false
				in.Enabled = &enabled
			}
			hook, err := appInstance.GetWebhooks().Create(cmd.Context(), in)
			if err != nil {
				return err
			}
			return render.Webhooks(cmd.OutOrStdout(), []catalog.Webhook{hook})
		},
	}
	cmd.Flags().StringVar(&in.URL, "url", "", "receiver URL (http:// or https://)")
	cmd.Flags().StringVar(&in.EventType, "event", catalog.EventImportCompleted, "event type")
	cmd.Flags().BoolVar(&disabled, "disabled", false, "register the webhook disabled")
	return cmd
}

func newWebhooksUpdateCmd() *cobra.Command {
	var (
		url, event string
		enabled    bool
	)
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update a webhook",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			appInstance, id, err := appAndID(cmd, args[0])
			if err != nil {
				return err
			}
			var in catalog.WebhookUpdate
			if cmd.Flags().Changed("url") {
				in.URL = &url
			}
			if cmd.Flags().Changed("event") {
				in.EventType = &event
			}
			if cmd.Flags().Changed("enabled") {
				in.Enabled = &enabled
			}
			hook, err := appInstance.GetWebhooks().Update(cmd.Context(), id, in)
			if err != nil {
				return err
			}
			return render.Webhooks(cmd.OutOrStdout(), []catalog.Webhook{hook})
		},
	}
	cmd.Flags().StringVar(&url, "url", "", "receiver URL")
	cmd.Flags().StringVar(&event, "event", "", "event type")
	cmd.Flags().BoolVar(&enabled, "enabled", true, "enabled flag")
	return cmd
}

func newWebhooksDeleteCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a webhook",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			appInstance, id, err := appAndID(cmd, args[0])
			if err != nil {
				return err
			}
			if !yes {
				if err := confirm(fmt.Sprintf("Delete webhook %d", id)); err != nil {
					return err
				}
			}
			if err := appInstance.GetWebhooks().Delete(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Webhook %d deleted.\n", id)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip confirmation")
	return cmd
}

func newWebhooksTestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "test <id>",
		Short: "Send a test event to a webhook",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			appInstance, id, err := appAndID(cmd, args[0])
			if err != nil {
				return err
			}
			res, err := appInstance.GetWebhooks().Test(cmd.Context(), id)
			if err != nil {
				return err
			}
			return render.WebhookTest(cmd.OutOrStdout(), res)
		},
	}
}
