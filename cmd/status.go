package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Tiliavir/nark/internal/model"
	"github.com/Tiliavir/nark/internal/timecalc"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the ongoing fact and today's total",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := commandContext(cmd)
	now := manager.Clock()
	out := cmd.OutOrStdout()

	active, err := manager.Current(ctx)
	if err != nil {
		return classify(err)
	}

	if active != nil {
		elapsed := int64(active.Duration(now).Seconds())
		fmt.Fprintln(out, "Running:")
		fmt.Fprintf(out, "  Activity: %s\n", active.Actegory())
		if len(active.Tags) > 0 {
			fmt.Fprintf(out, "  Tags: %s\n", tagString(active.Tags))
		}
		if active.Description != "" {
			fmt.Fprintf(out, "  Description: %s\n", active.Description)
		}
		fmt.Fprintf(out, "  Since: %s\n", active.Start.Format("15:04"))
		fmt.Fprintf(out, "  Elapsed: %s\n", timecalc.FormatDurationHHMMSS(elapsed))
	} else {
		fmt.Fprintln(out, "No active fact.")
	}

	today, err := manager.Today(ctx)
	if err != nil {
		return classify(err)
	}
	from, to := manager.TodayBounds()
	fmt.Fprintf(out, "Today: %s logged.\n", timecalc.FormatDuration(totalSeconds(today, from, to, now)))
	return nil
}

// totalSeconds sums the part of each fact inside [from, to), counting
// ongoing facts up to now.
func totalSeconds(fs []model.Fact, from, to, now time.Time) int64 {
	var total time.Duration
	for _, f := range fs {
		if f.Start == nil {
			continue
		}
		end := now
		if f.End != nil {
			end = *f.End
		}
		total += timecalc.Clip(*f.Start, end, from, to)
	}
	return int64(total.Seconds())
}
