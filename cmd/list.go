package cmd

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/Tiliavir/nark/internal/model"
	"github.com/Tiliavir/nark/internal/storage"
	"github.com/Tiliavir/nark/internal/timecalc"
	"github.com/Tiliavir/nark/internal/timespec"
)

var (
	listToday    bool
	listWeek     bool
	listSince    string
	listUntil    string
	listSearch   string
	listActivity string
	listCategory string
	listDeleted  bool
	listDesc     bool
	listLimit    int
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List facts",
	Long: `List facts as a table. Without a range flag the current tracking day is
shown. --since and --until accept the same times as factoids.`,
	Args: cobra.NoArgs,
	RunE: runList,
}

func init() {
	listCmd.Flags().BoolVar(&listToday, "today", false, "Show today's facts (default)")
	listCmd.Flags().BoolVar(&listWeek, "week", false, "Show this week's facts")
	listCmd.Flags().StringVar(&listSince, "since", "", "Show facts after this time")
	listCmd.Flags().StringVar(&listUntil, "until", "", "Show facts before this time")
	listCmd.Flags().StringVar(&listSearch, "search", "", "Only facts whose activity, category or description contains this text")
	listCmd.Flags().StringVar(&listActivity, "activity", "", "Only facts with this activity")
	listCmd.Flags().StringVar(&listCategory, "category", "", "Only facts with this category")
	listCmd.Flags().BoolVar(&listDeleted, "deleted", false, "Include deleted facts")
	listCmd.Flags().BoolVar(&listDesc, "desc", false, "Newest first")
	listCmd.Flags().IntVar(&listLimit, "limit", 0, "Show at most this many facts")
}

func runList(cmd *cobra.Command, args []string) error {
	now := manager.Clock()

	filter := storage.Filter{
		Search:   listSearch,
		Activity: listActivity,
		Category: listCategory,
		Deleted:  listDeleted,
		Desc:     listDesc,
		Limit:    listLimit,
	}

	var from, to time.Time
	title := ""
	switch {
	case listWeek:
		from, to = timecalc.WeekRange(now)
		title = "Week " + timecalc.ISOWeekLabel(now)
	case listSince != "" || listUntil != "":
		var err error
		if filter.Since, err = parseFlagTime(listSince, now); err != nil {
			return classify(err)
		}
		if filter.Until, err = parseFlagTime(listUntil, now); err != nil {
			return classify(err)
		}
	case listToday || listSearch == "" && listActivity == "" && listCategory == "":
		// Default to today (covers --today and the bare command).
		from, to = manager.TodayBounds()
		title = "Today " + from.Format("2006-01-02")
	}
	if !from.IsZero() {
		filter.Since, filter.Until = &from, &to
	}

	fs, err := manager.List(commandContext(cmd), filter)
	if err != nil {
		return classify(err)
	}

	out := cmd.OutOrStdout()
	if title != "" {
		fmt.Fprintln(out, title)
	}
	return printList(out, fs, now)
}

func parseFlagTime(raw string, now time.Time) (*time.Time, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	t, err := timespec.ParseDated(raw, now, manager.Location())
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// listRows renders facts as table rows, printing the date only when it
// changes.
func listRows(fs []model.Fact, now time.Time) pterm.TableData {
	rows := pterm.TableData{{"#", "Date", "Start", "End", "Duration", "Activity", "Tags", "Description"}}
	var lastDay time.Time
	for _, f := range fs {
		date := ""
		if lastDay.IsZero() || !timecalc.SameDay(lastDay, *f.Start) {
			date = f.Start.Format("2006-01-02")
			lastDay = *f.Start
		}
		end := "ongoing"
		if f.End != nil {
			end = f.End.Format("15:04")
		}
		activity := f.Actegory()
		if f.Deleted {
			activity += " [deleted]"
		}
		rows = append(rows, []string{
			fmt.Sprintf("%d", f.PK),
			date,
			f.Start.Format("15:04"),
			end,
			timecalc.FormatDuration(int64(f.Duration(now).Seconds())),
			activity,
			tagString(f.Tags),
			f.Description,
		})
	}
	return rows
}

func printList(w io.Writer, fs []model.Fact, now time.Time) error {
	if len(fs) == 0 {
		fmt.Fprintln(w, "No facts found.")
		return nil
	}
	rendered, err := pterm.DefaultTable.WithHasHeader().WithData(listRows(fs, now)).Srender()
	if err != nil {
		return err
	}
	fmt.Fprintln(w, rendered)

	var total int64
	for _, f := range fs {
		if !f.Deleted {
			total += int64(f.Duration(now).Seconds())
		}
	}
	fmt.Fprintf(w, "Total: %s\n", timecalc.FormatDuration(total))
	return nil
}

func tagString(tags []string) string {
	parts := make([]string, len(tags))
	for i, t := range tags {
		parts[i] = "#" + t
	}
	return strings.Join(parts, " ")
}
