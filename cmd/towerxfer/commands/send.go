package commands

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/rflorenc/towerxfer/internal/platform"
	"github.com/rflorenc/towerxfer/internal/transfer"
)

var stdinIsTerminal = func() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

func newSendCommand(g *globalOptions) *cobra.Command {
	var (
		prevent []string
		exclude []string
		secrets string
	)

	cmd := &cobra.Command{
		Use:   "send [file|dir ...]",
		Short: "Create or update objects from documents",
		Long: `Reconcile one or more documents against the controller.

Documents are read from stdin when it is not a terminal, then from every
file and directory given (directories are read non-recursively, .json, .yml
and .yaml files only). Objects are created or updated in dependency order;
sending the same document twice changes nothing the second time.

The whole run is aborted before any write when the documents are invalid or
hold a prevented asset type.`,
		Example: `  towerxfer send backup.yml
  towerxfer receive --all | towerxfer send --host https://staging
  towerxfer send exports/ --exclude user --secret-management random`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var stdin io.Reader
			if !stdinIsTerminal() {
				stdin = cmd.InOrStdin()
			}
			if stdin == nil && len(args) == 0 {
				return errors.New("no input: pass documents as arguments or pipe one on stdin")
			}
			assets, err := transfer.ReadSources(stdin, args)
			if err != nil {
				return err
			}

			cfg, err := g.load(cmd, "")
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("secret-management") && cfg.SecretManagement != "" {
				secrets = cfg.SecretManagement
			}
			opts := transfer.ImportOptions{
				ProjectUpdateTimeout: cfg.ProjectUpdateTimeout,
				Prompt:               promptSecret,
			}
			if opts.Secrets, err = transfer.ParseSecretPolicy(secrets); err != nil {
				return err
			}
			if opts.Prevent, err = transfer.ParseAssetTypes(prevent); err != nil {
				return fmt.Errorf("--prevent: %w", err)
			}
			if opts.Exclude, err = transfer.ParseAssetTypes(exclude); err != nil {
				return fmt.Errorf("--exclude: %w", err)
			}
			conn, err := cfg.DefaultConnection()
			if err != nil {
				return err
			}

			reg := platform.OpenRegistry(conn, log.Logger)
			rep := transfer.NewReporter(log.Logger, "send")
			_, err = transfer.NewImporter(reg, rep, opts).Send(cmd.Context(), assets)
			return err
		},
	}

	cmd.Flags().StringSliceVar(&prevent, "prevent", nil, "abort when the documents hold any of these asset types")
	cmd.Flags().StringSliceVar(&exclude, "exclude", nil, "skip these asset types")
	cmd.Flags().StringVar(&secrets, "secret-management", string(transfer.SecretsDefault),
		"how empty required secrets are filled: default, prompt or random")

	return cmd
}

// promptSecret reads a secret from the terminal without echo. When stdin
// carries a document the controlling terminal is used instead.
func promptSecret(label string) (string, error) {
	in := os.Stdin
	if !term.IsTerminal(int(in.Fd())) {
		tty, err := os.Open("/dev/tty")
		if err != nil {
			return "", fmt.Errorf("no terminal to prompt for %s: %w", label, err)
		}
		defer tty.Close()
		in = tty
	}
	fmt.Fprintf(os.Stderr, "Enter %s: ", label)
	secret, err := term.ReadPassword(int(in.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", label, err)
	}
	return string(secret), nil
}
