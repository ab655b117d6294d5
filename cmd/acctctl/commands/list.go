package commands

import (
	"fmt"

	"github.com/Sternrassler/eaccounting-client/pkg/client"
	"github.com/spf13/cobra"
)

// NewListCommand creates the list command.
func NewListCommand() *cobra.Command {
	var (
		filter   string
		orderBy  string
		pageSize int
		maxPages int
		limit    int
	)

	cmd := &cobra.Command{
		Use:   "list RESOURCE",
		Short: "List a collection",
		Long: `List the items of a collection, following pages until the collection
or --limit is exhausted. Transient failures are retried per page.`,
		Example: `  acctctl list customers --filter "IsActive eq true" --orderby Name
  acctctl list invoices --limit 20 -o json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			k, err := lookupKind(args[0])
			if err != nil {
				return err
			}

			s, err := newSession(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			opts := client.ListOptions{Filter: filter, OrderBy: orderBy, PageSize: pageSize, MaxPages: maxPages}
			items, rows, pages, err := k.list(cmd.Context(), s.client, opts, limit)
			if err != nil {
				return fmt.Errorf("list %s: %w", k.name, err)
			}

			out := cmd.OutOrStdout()
			if err := render(out, items, k.columns, rows); err != nil {
				return err
			}
			log := commandLogger("list")
			log.Debug().Str("stream", k.name).Int("items", len(rows)).Int("pages", pages).Msg("List complete")
			return nil
		},
	}

	cmd.Flags().StringVar(&filter, "filter", "", "$filter expression")
	cmd.Flags().StringVar(&orderBy, "orderby", "", "$orderby expression")
	cmd.Flags().IntVar(&pageSize, "page-size", 0, "items per page (default from client)")
	cmd.Flags().IntVar(&maxPages, "max-pages", 0, "stop after this many pages (0 = no limit)")
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "stop after this many items (0 = all)")

	return cmd
}
