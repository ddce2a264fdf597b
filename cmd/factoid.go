package cmd

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/Tiliavir/nark/internal/factoid"
	"github.com/Tiliavir/nark/internal/facts"
	"github.com/Tiliavir/nark/internal/model"
	"github.com/Tiliavir/nark/internal/timeline"
)

type factoidHelp struct {
	args  string
	short string
}

var helpByHint = map[factoid.TimeHint]factoidHelp{
	factoid.VerifyNone:  {"<act@cat> [#tags] [, description]", "Start a fact now, stopping the current one"},
	factoid.VerifyStart: {"<start> <act@cat> [#tags] [, description]", "Start a fact at the given time"},
	factoid.VerifyEnd:   {"<end> <act@cat> [#tags] [, description]", "Add a fact ending at the given time, starting where the last one ended"},
	factoid.VerifyBoth:  {"<start> to <end> <act@cat> [#tags] [, description]", "Add a fact between two times"},
}

// factoidCommands builds one command per factoid command word.
func factoidCommands() []*cobra.Command {
	var cmds []*cobra.Command
	for _, word := range factoid.Commands() {
		hint, _ := factoid.HintFor(word)
		help := helpByHint[hint]
		cmds = append(cmds, &cobra.Command{
			Use:   word + " " + help.args,
			Short: help.short,
			Args:  cobra.MinimumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return runFactoid(cmd, hint, strings.Join(args, " "))
			},
		})
	}
	return cmds
}

func runFactoid(cmd *cobra.Command, hint factoid.TimeHint, raw string) error {
	res, err := manager.AddFactoid(commandContext(cmd), raw, hint)
	if err != nil {
		return classify(err)
	}
	if res.ParseErr != nil {
		pterm.Warning.Printf("%v\n", res.ParseErr)
	}
	out := cmd.OutOrStdout()
	if err := printEdits(out, res.Edits); err != nil {
		return err
	}
	fmt.Fprintln(out, describeResult(res))
	return nil
}

// describeResult is the one-line summary of an added fact.
func describeResult(res facts.Result) string {
	switch {
	case res.Squashed:
		return fmt.Sprintf("Squashed into #%d: %s", res.Fact.PK, res.Fact.String())
	case res.Ongoing:
		return fmt.Sprintf("Started #%d: %s", res.Fact.PK, res.Fact.String())
	default:
		return fmt.Sprintf("Added #%d: %s", res.Fact.PK, res.Fact.String())
	}
}

// editRows lists every changed field of every edited fact.
func editRows(edits []timeline.Edit) pterm.TableData {
	rows := pterm.TableData{{"Fact", "Change", "Field", "Was", "Now"}}
	for _, e := range edits {
		ref := "#" + strconv.FormatInt(e.Original.PK, 10)
		if e.Edited.PK == 0 {
			ref += " (new)"
		}
		for _, d := range model.Diff(e.Original, e.Edited) {
			rows = append(rows, []string{ref, e.Edited.Dirty.String(), d.Field, d.Old, d.New})
		}
	}
	return rows
}

func printEdits(w io.Writer, edits []timeline.Edit) error {
	if len(edits) == 0 {
		return nil
	}
	rendered, err := pterm.DefaultTable.WithHasHeader().WithData(editRows(edits)).Srender()
	if err != nil {
		return err
	}
	fmt.Fprintln(w, "Adjusted facts:")
	fmt.Fprintln(w, rendered)
	return nil
}
