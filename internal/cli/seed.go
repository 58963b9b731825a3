package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"outreach-relay-go/internal/seed"
)

func newSeedCommand() *cobra.Command {
	var (
		file   string
		dryRun bool
	)
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load providers, accounts and campaigns from a YAML file",
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := seed.LoadFile(file)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if dryRun {
				fmt.Fprintf(out, "%s is valid: %d providers, %d recipients, %d campaigns\n",
					file, len(doc.Providers), len(doc.Recipients), len(doc.Campaigns))
				return nil
			}

			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			sum, err := doc.Apply(cmd.Context(), a.Store, time.Now())
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Seeded %d providers, %d accounts, %d recipients, %d campaigns (%d enrollments)\n",
				sum.Providers, sum.Accounts, sum.Recipients, sum.Campaigns, sum.Enrolled)
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "Seed file (YAML)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Validate the file without writing")
	cmd.MarkFlagRequired("file")
	return cmd
}
