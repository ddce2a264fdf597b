package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Tiliavir/nark/internal/model"
	"github.com/Tiliavir/nark/internal/timecalc"
	"github.com/Tiliavir/nark/internal/timespec"
)

var stopCmd = &cobra.Command{
	Use:   "stop [time]",
	Short: "Stop the ongoing fact, now or at the given time",
	Long: `Stop the ongoing fact. Without an argument it ends now; otherwise the
argument is read like a factoid time: "17:30", "-15", "2026-02-27 17:30"
or "yesterday 18:00".`,
	RunE: runStop,
}

func runStop(cmd *cobra.Command, args []string) error {
	var end *time.Time
	if raw := strings.TrimSpace(strings.Join(args, " ")); raw != "" {
		t, err := timespec.ParseDated(raw, manager.Clock(), manager.Location())
		if err != nil {
			return classify(err)
		}
		end = &t
	}

	res, err := manager.Stop(commandContext(cmd), end)
	if err != nil {
		return classify(err)
	}

	fmt.Fprintln(cmd.OutOrStdout(), stopMessage(res.Fact))
	return nil
}

// stopMessage confirms a stopped fact with its total length.
func stopMessage(f model.Fact) string {
	return fmt.Sprintf("Stopped %q at %s. Elapsed: %s",
		f.Actegory(), f.End.Format("15:04"), timecalc.FormatDurationLong(f.Duration(*f.End)))
}
