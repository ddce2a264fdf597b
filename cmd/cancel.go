package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var cancelPurge bool

var cancelCmd = &cobra.Command{
	Use:   "cancel",
	Short: "Discard the ongoing fact",
	Args:  cobra.NoArgs,
	RunE:  runCancel,
}

func init() {
	cancelCmd.Flags().BoolVar(&cancelPurge, "purge", false, "Remove the fact from the database instead of marking it deleted")
}

func runCancel(cmd *cobra.Command, args []string) error {
	f, err := manager.Cancel(commandContext(cmd), cancelPurge)
	if err != nil {
		return classify(err)
	}
	verb := "Cancelled"
	if cancelPurge {
		verb = "Purged"
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s #%d: %s\n", verb, f.PK, f.Actegory())
	return nil
}
