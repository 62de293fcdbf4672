package commands

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/rflorenc/towerxfer/internal/api"
	"github.com/rflorenc/towerxfer/internal/models"
	"github.com/rflorenc/towerxfer/internal/platform"
)

func newServeCommand(g *globalOptions) *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP job server",
		Long: `Serve the transfer verbs over HTTP. Every configured controller is
probed at startup; receive, send and empty run as background jobs whose
logs stream over a websocket. Outcome counters are exported on /metrics.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.load(cmd, listen)
			if err != nil {
				return err
			}

			server := api.NewServer(models.NewConnectionStore(), log.Logger)
			server.ProjectUpdateTimeout = cfg.ProjectUpdateTimeout
			for _, conn := range cfg.AllConnections() {
				server.Connections.Create(conn)
				probe(server.Connections, conn, log.Logger)
			}

			srv := &http.Server{
				Addr:              cfg.Listen,
				Handler:           api.NewRouter(server),
				ReadHeaderTimeout: 10 * time.Second,
			}
			errCh := make(chan error, 1)
			go func() {
				log.Info().Str("listen", cfg.Listen).Int("connections", len(server.Connections.List())).Msg("towerxfer serving")
				errCh <- srv.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				return err
			case <-cmd.Context().Done():
				ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			}
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "HTTP listen address (default :8080)")
	return cmd
}

// probe checks connectivity and credentials of a configured controller and
// records its version and API prefix.
func probe(store *models.ConnectionStore, conn *models.Connection, logger zerolog.Logger) {
	clog := logger.With().Str("connection", conn.Name).Str("url", conn.BaseURL()).Logger()
	p := platform.NewPlatform(conn, clog)
	client := platform.NewClient(conn)

	pingStatus, pingError := "ok", ""
	if err := p.Ping(); err != nil {
		pingStatus, pingError = "error", err.Error()
		clog.Warn().Err(err).Msg("ping failed")
	}

	authStatus, authError := "unknown", ""
	if pingStatus == "ok" {
		if conn.Username == "" || conn.Password == "" {
			authStatus, authError = "error", "no credentials configured"
			clog.Warn().Msg("auth failed: " + authError)
		} else if err := p.CheckAuth(); err != nil {
			authStatus, authError = "error", err.Error()
			clog.Warn().Err(err).Msg("auth failed")
		} else {
			authStatus = "ok"
			platform.DiscoverAndStore(client, conn, store, clog)
			clog.Info().Str("version", conn.Version).Str("prefix", conn.APIPrefix).Msg("controller ready")
		}
	}
	store.SetHealth(conn.ID, pingStatus, pingError, authStatus, authError)
}
