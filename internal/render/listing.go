package render

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"

	"github.com/JakeFAU/catalog-importer/internal/catalog"
)

// Products prints a product page as a table.
func Products(w io.Writer, page catalog.ProductPage) error {
	if len(page.Items) == 0 {
		_, err := fmt.Fprintln(w, "No products found.")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSKU\tNAME\tACTIVE\tUPDATED")
	for _, p := range page.Items {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", p.ID, p.SKU, p.Name, yesNo(p.Active), p.UpdatedAt.Format(time.DateTime))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "\nPage %d of %d (%d products)\n", page.Page, max(page.Pages, 1), page.Total)
	return err
}

// Product prints one product.
func Product(w io.Writer, p catalog.Product) error {
	desc := "-"
	if p.Description != nil && *p.Description != "" {
		desc = *p.Description
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "ID:\t%d\n", p.ID)
	fmt.Fprintf(tw, "SKU:\t%s\n", p.SKU)
	fmt.Fprintf(tw, "Name:\t%s\n", p.Name)
	fmt.Fprintf(tw, "Description:\t%s\n", desc)
	fmt.Fprintf(tw, "Active:\t%s\n", yesNo(p.Active))
	fmt.Fprintf(tw, "Created:\t%s\n", p.CreatedAt.Format(time.DateTime))
	fmt.Fprintf(tw, "Updated:\t%s\n", p.UpdatedAt.Format(time.DateTime))
	return tw.Flush()
}

// Webhooks prints webhook registrations as a table.
func Webhooks(w io.Writer, hooks []catalog.Webhook) error {
	if len(hooks) == 0 {
		_, err := fmt.Fprintln(w, "No webhooks configured.")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tEVENT\tURL\tENABLED")
	for _, h := range hooks {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", h.ID, h.EventType, h.URL, yesNo(h.Enabled))
	}
	return tw.Flush()
}

// WebhookTest prints the outcome of a test delivery.
func WebhookTest(w io.Writer, res catalog.WebhookTestResult) error {
	if res.Success {
		color.New(color.FgGreen).Fprint(w, "Webhook test succeeded")
	} else {
		color.New(color.FgRed).Fprint(w, "Webhook test failed")
	}
	if res.StatusCode != nil {
		fmt.Fprintf(w, " (status %d", *res.StatusCode)
		if res.ResponseTimeMS != nil {
			fmt.Fprintf(w, ", %.0f ms", *res.ResponseTimeMS)
		}
		fmt.Fprint(w, ")")
	}
	fmt.Fprintln(w)
	if res.Error != nil && *res.Error != "" {
		fmt.Fprintf(w, "Error: %s\n", *res.Error)
	}
	if res.ResponseBody != nil && *res.ResponseBody != "" {
		fmt.Fprintf(w, "Response: %s\n", *res.ResponseBody)
	}
	return nil
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
