package cmd

import (
	"fmt"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/Tiliavir/nark/internal/storage"
)

var tagsActivities bool

var tagsCmd = &cobra.Command{
	Use:   "tags",
	Short: "Show how often each tag is used",
	Args:  cobra.NoArgs,
	RunE:  runTags,
}

func init() {
	tagsCmd.Flags().BoolVar(&tagsActivities, "activities", false, "Count activity@category pairs instead of tags")
}

func runTags(cmd *cobra.Command, args []string) error {
	ctx := commandContext(cmd)

	var (
		usage []storage.Usage
		err   error
	)
	if tagsActivities {
		usage, err = store.Activities(ctx)
	} else {
		usage, err = store.Tags(ctx)
	}
	if err != nil {
		return classify(err)
	}

	out := cmd.OutOrStdout()
	if len(usage) == 0 {
		fmt.Fprintln(out, "Nothing recorded yet.")
		return nil
	}
	rendered, err := pterm.DefaultTable.WithHasHeader().WithData(usageRows(usage, tagsActivities)).Srender()
	if err != nil {
		return err
	}
	fmt.Fprintln(out, rendered)
	return nil
}

func usageRows(usage []storage.Usage, activities bool) pterm.TableData {
	head := "Tag"
	if activities {
		head = "Activity"
	}
	rows := pterm.TableData{{head, "Facts"}}
	for _, u := range usage {
		name := "#" + u.Name
		if activities {
			name = u.Name + "@" + u.Category
		}
		rows = append(rows, []string{name, fmt.Sprintf("%d", u.Count)})
	}
	return rows
}
