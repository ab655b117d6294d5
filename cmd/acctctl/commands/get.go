package commands

import (
	"fmt"

	"github.com/Sternrassler/eaccounting-client/pkg/client"
	"github.com/spf13/cobra"
)

// NewGetCommand creates the get command.
func NewGetCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "get RESOURCE ID",
		Short:   "Get a single item",
		Long:    "Display one item of a collection. With --redis the response is cached and revalidated.",
		Example: `  acctctl get customers 6f1c2a3e-...`,
		Args:    cobra.ExactArgs(2),
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

			item, row, err := k.get(cmd.Context(), s.client, args[1])
			if client.IsNotFound(err) {
				return fmt.Errorf("%s %q not found", k.name, args[1])
			}
			if err != nil {
				return fmt.Errorf("get %s: %w", k.name, err)
			}

			return render(cmd.OutOrStdout(), item, k.columns, [][]string{row})
		},
	}
}
