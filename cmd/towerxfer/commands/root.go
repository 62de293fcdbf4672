package commands

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/rflorenc/towerxfer/internal/config"
	"github.com/rflorenc/towerxfer/internal/transfer"
)

// globalOptions are the persistent flags shared by every command.
type globalOptions struct {
	configPath string
	host       string
	username   string
	password   string
	insecure   bool
	logLevel   string
}

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	return newRootCommand(version, commit, buildDate).ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	g := &globalOptions{}

	rootCmd := &cobra.Command{
		Use:   "towerxfer",
		Short: "Move AWX / Ansible Tower objects between controllers",
		Long: `towerxfer exports controller objects into a portable document and
imports such documents into another (or the same) controller.

  receive  export a selection of objects as JSON or YAML
  send     create or update objects from documents, idempotently
  empty    delete a selection of objects, after confirmation
  serve    run the HTTP job server`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Persistent flags available to all commands
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&g.configPath, "config", "c", "", "config file path (YAML)")
	pf.StringVar(&g.host, "host", "", "controller host or URL (overrides "+config.EnvHost+")")
	pf.StringVarP(&g.username, "username", "u", "", "controller username (overrides "+config.EnvUsername+")")
	pf.StringVarP(&g.password, "password", "p", "", "controller password (overrides "+config.EnvPassword+")")
	pf.BoolVar(&g.insecure, "insecure", false, "skip TLS certificate verification")
	pf.StringVar(&g.logLevel, "log-level", "", "log level: trace, debug, info, warn, error")

	rootCmd.AddCommand(newReceiveCommand(g))
	rootCmd.AddCommand(newSendCommand(g))
	rootCmd.AddCommand(newEmptyCommand(g))
	rootCmd.AddCommand(newServeCommand(g))
	rootCmd.AddCommand(newVersionCommand(version, commit, buildDate))

	return rootCmd
}

// load reads the configuration with flags taking precedence, then applies
// the resulting log level.
func (g *globalOptions) load(cmd *cobra.Command, listen string) (*config.Config, error) {
	ov := config.Overrides{
		Host:     g.host,
		Username: g.username,
		Password: g.password,
		LogLevel: g.logLevel,
		Listen:   listen,
	}
	if cmd.Flags().Changed("insecure") {
		ov.Insecure = &g.insecure
	}
	cfg, err := config.Load(g.configPath, os.Getenv, ov)
	if err != nil {
		return nil, err
	}
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	zerolog.SetGlobalLevel(level)
	return cfg, nil
}

// selectionFlags registers --all plus one name-list flag per asset type.
type selectionFlags struct {
	all   bool
	names map[transfer.AssetType]*[]string
}

func flagName(t transfer.AssetType) string {
	return strings.ReplaceAll(string(t), "_", "-")
}

func (f *selectionFlags) register(cmd *cobra.Command, verb string) {
	cmd.Flags().BoolVar(&f.all, "all", false, verb+" every object of every type")
	f.names = make(map[transfer.AssetType]*[]string, len(transfer.SendOrder))
	for _, t := range transfer.SendOrder {
		f.names[t] = cmd.Flags().StringSlice(flagName(t), nil,
			fmt.Sprintf("%s names to %s (\"all\" for every %s)", t, verb, t))
	}
}

func (f *selectionFlags) selection() (transfer.Selection, error) {
	names := make(map[transfer.AssetType][]string)
	for t, list := range f.names {
		if len(*list) > 0 {
			names[t] = *list
		}
	}
	sel, err := transfer.NewSelection(f.all, names)
	if err != nil {
		return nil, fmt.Errorf("%w: use --all or a per-type flag such as --job-template", err)
	}
	return sel, nil
}

func newVersionCommand(version, commit, buildDate string) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "towerxfer %s (commit: %s, built: %s)\n", version, commit, buildDate)
		},
	}
}
