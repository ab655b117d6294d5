package commands

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// NewCacheCommand creates the cache command group.
func NewCacheCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the response cache",
		Long:  "Inspect and clear cached API responses stored in Redis",
	}

	cmd.AddCommand(newCachePurgeCommand())
	return cmd
}

func newCachePurgeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "purge",
		Short: "Remove cached responses of the tenant",
		Long:  "Delete every cached response of the current tenant from Redis",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newSession(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			manager := s.client.Cache()
			if manager == nil {
				return errors.New("the response cache needs --redis (ACCT_REDIS)")
			}

			n, err := manager.Purge(cmd.Context(), viper.GetString("tenant"))
			if err != nil {
				return fmt.Errorf("purge cache: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d cached responses\n", n)
			return nil
		},
	}
}
