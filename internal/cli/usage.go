package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newUsageCommand(flags *Flags) *cobra.Command {
	return &cobra.Command{
		Use:   "usage",
		Short: "Show today's token usage",
		Long: `Show the daily token budget and how much of it has been consumed.

With --quota-db the numbers come from the persistent SQLite tracker and
carry across runs; without it a fresh in-memory tracker is shown.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUsage(cmd.Context(), flags)
		},
	}
}

func runUsage(ctx context.Context, flags *Flags) error {
	cfg, err := buildConfig(flags)
	if err != nil {
		return err
	}

	tracker, closeTracker, err := newQuotaTracker(cfg)
	if err != nil {
		return err
	}
	defer closeTracker()

	usage := tracker.Usage(ctx)
	fmt.Printf("Daily limit: %d tokens\n", usage.DailyLimit)
	fmt.Printf("Used today:  %d tokens\n", usage.UsedToday)
	fmt.Printf("Remaining:   %d tokens\n", usage.Remaining())
	if !usage.LastReset.IsZero() {
		fmt.Printf("Last reset:  %s\n", usage.LastReset.UTC().Format(time.RFC3339))
	}
	if usage.IsLow() {
		fmt.Println("Warning: less than 10% of the daily budget remains")
	}
	return nil
}
