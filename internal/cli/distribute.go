package cli

import (
	"errors"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"outreach-relay-go/internal/campaign"
)

func newDistributeCommand() *cobra.Command {
	var (
		campaignID uint
		limit      int
		force      bool
	)
	cmd := &cobra.Command{
		Use:   "distribute",
		Short: "Queue the next due emails of one or all active campaigns",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			if limit <= 0 {
				limit = a.Config.Scheduler.DistributionLimit
			}

			ctx := cmd.Context()
			counts := map[uint]int{}
			if campaignID != 0 {
				n, err := a.Engine.Distribute(ctx, campaignID, limit)
				if err != nil {
					return err
				}
				counts[campaignID] = n
			} else {
				counts, err = a.Engine.DistributeAll(ctx, limit, force)
				if errors.Is(err, campaign.ErrLimitsReached) {
					return fmt.Errorf("%w (use --force to distribute anyway)", err)
				}
				if err != nil {
					return err
				}
			}

			ids := make([]uint, 0, len(counts))
			for id := range counts {
				ids = append(ids, id)
			}
			sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

			out := cmd.OutOrStdout()
			total := 0
			for _, id := range ids {
				fmt.Fprintf(out, "campaign %d: queued %d emails\n", id, counts[id])
				total += counts[id]
			}
			fmt.Fprintf(out, "Queued %d emails\n", total)
			return nil
		},
	}
	cmd.Flags().UintVar(&campaignID, "campaign", 0, "Campaign ID (default: every active campaign)")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum recipients per campaign (default: scheduler.distribution_limit)")
	cmd.Flags().BoolVar(&force, "force", false, "Distribute even when every account reached its daily limit")
	return cmd
}
