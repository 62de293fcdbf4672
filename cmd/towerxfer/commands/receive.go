package commands

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/rflorenc/towerxfer/internal/platform"
	"github.com/rflorenc/towerxfer/internal/transfer"
)

func newReceiveCommand(g *globalOptions) *cobra.Command {
	var (
		sel    selectionFlags
		format string
		output string
	)

	cmd := &cobra.Command{
		Use:   "receive",
		Short: "Export objects into a document",
		Long: `Export a selection of live objects into a dependency-ordered document.

Objects are written with their references replaced by names, server defaults
left out and secrets blanked. Objects that cannot be read are reported and
left out of the document.`,
		Example: `  # Everything, as YAML
  towerxfer receive --all --format yaml -o backup.yml

  # Two job templates and every inventory
  towerxfer receive --job-template deploy,rollback --inventory all`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			selection, err := sel.selection()
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("format") && output != "" {
				if ext := strings.ToLower(filepath.Ext(output)); ext == ".yml" || ext == ".yaml" {
					format = string(transfer.FormatYAML)
				}
			}
			f, err := transfer.ParseFormat(format)
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

			reg := platform.OpenRegistry(conn, log.Logger)
			rep := transfer.NewReporter(log.Logger, "receive")
			assets, err := transfer.NewExporter(reg, rep).Export(selection)
			if err != nil {
				return err
			}

			var w io.Writer = cmd.OutOrStdout()
			if output != "" {
				file, err := os.Create(output)
				if err != nil {
					return fmt.Errorf("creating %s: %w", output, err)
				}
				defer file.Close()
				w = file
			}
			if err := transfer.WriteDocument(w, assets, f); err != nil {
				return fmt.Errorf("writing document: %w", err)
			}
			rep.Recap()
			return nil
		},
	}

	sel.register(cmd, "export")
	cmd.Flags().StringVarP(&format, "format", "f", string(transfer.FormatJSON), "document format: json or yaml")
	cmd.Flags().StringVarP(&output, "output", "o", "", "write the document to this file instead of stdout")

	return cmd
}
