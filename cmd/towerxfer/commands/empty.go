package commands

import (
	"bufio"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/rflorenc/towerxfer/internal/platform"
	"github.com/rflorenc/towerxfer/internal/transfer"
)

func newEmptyCommand(g *globalOptions) *cobra.Command {
	var sel selectionFlags

	cmd := &cobra.Command{
		Use:   "empty",
		Short: "Delete objects from the controller",
		Long: `Delete a selection of objects in reverse dependency order.

This is destructive. The command describes what it is about to delete and
only proceeds when YES is typed. Objects managed by the controller itself
are never deleted.`,
		Example: `  towerxfer empty --job-template old-deploy
  towerxfer empty --all`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			selection, err := sel.selection()
			if err != nil {
				return err
			}
			cfg, err := g.load(cmd, "")
			if err != nil {
				return err
			}
			conn, err := cfg.DefaultConnection()
			if err != nil {
				return err
			}

			out := cmd.ErrOrStderr()
			fmt.Fprintf(out, "This deletes from %s:\n", conn.BaseURL())
			for _, line := range describeSelection(selection) {
				fmt.Fprintf(out, "  • %s\n", line)
			}
			fmt.Fprintf(out, "Type %s to continue: ", transfer.ConfirmationToken)
			answer, _ := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
			answer = strings.TrimSpace(answer)
			if answer != transfer.ConfirmationToken {
				return transfer.ErrNotConfirmed
			}

			reg := platform.OpenRegistry(conn, log.Logger)
			rep := transfer.NewReporter(log.Logger, "empty")
			_, err = transfer.NewCleaner(reg, rep).Clean(selection, answer)
			return err
		},
	}

	sel.register(cmd, "delete")
	return cmd
}

// describeSelection lists what a selection names, in deletion order.
func describeSelection(sel transfer.Selection) []string {
	var lines []string
	for i := len(transfer.SendOrder) - 1; i >= 0; i-- {
		t := transfer.SendOrder[i]
		pick, ok := sel[t]
		if !ok {
			continue
		}
		if pick.All {
			lines = append(lines, fmt.Sprintf("every %s", t))
			continue
		}
		names := append([]string(nil), pick.Names...)
		sort.Strings(names)
		lines = append(lines, fmt.Sprintf("%s: %s", t, strings.Join(names, ", ")))
	}
	return lines
}
