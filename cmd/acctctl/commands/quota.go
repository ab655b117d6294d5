package commands

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"
)

// NewQuotaCommand shows the quota state shared through Redis.
func NewQuotaCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "quota",
		Short: "Show the shared request quota",
		Long:  "Show the request quota last reported by the API, as recorded in Redis by every client sharing it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newSession(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			tracker := s.client.Tracker()
			if tracker == nil {
				return errors.New("quota tracking needs --redis (ACCT_REDIS)")
			}

			state, err := tracker.GetState(cmd.Context())
			if err != nil {
				return fmt.Errorf("read quota: %w", err)
			}

			status := "healthy"
			switch {
			case state.NeedsBlock():
				status = "blocked"
			case state.NeedsThrottling():
				status = "throttled"
			case !state.IsHealthy:
				status = "low"
			}

			rows := [][]string{{
				strconv.Itoa(state.Remaining),
				state.TimeUntilReset().Round(time.Second).String(),
				status,
				state.LastUpdate.Format(time.RFC3339),
			}}
			return render(cmd.OutOrStdout(), state, []string{"Remaining", "Reset In", "Status", "Updated"}, rows)
		},
	}
}
