package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"planline/internal/config"
	"planline/internal/server"
)

func serveCmd() *cobra.Command {
	var addr, basePath string
	var watch, actorHeader, devLogin bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		Long: `Serves the JSON API under the base path. Bearer tokens are HS256 JWTs signed
with PLANLINE_JWT_SECRET; X-Api-Key accepts keys made with 'pl apikey create'.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := viper.GetString("jwt-secret")
			if secret == "" && !actorHeader {
				return fmt.Errorf("PLANLINE_JWT_SECRET is required unless --allow-actor-header is set")
			}
			if devLogin && secret == "" {
				return fmt.Errorf("--dev-login needs PLANLINE_JWT_SECRET")
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			logger := log.New(os.Stderr, "planline: ", log.LstdFlags)
			return withSession(ctx, func(ctx context.Context, s session) error {
				e := s.engine
				e.Logger = logger
				handler, err := server.New(server.Config{
					Engine:   e,
					BasePath: basePath,
					Auth: server.AuthConfig{
						JWTSecret:              secret,
						AllowLegacyActorHeader: actorHeader,
						AllowDevLogin:          devLogin,
						Logger:                 logger,
					},
				})
				if err != nil {
					return err
				}
				server.StartWebhooks(ctx, e, e.Config, logger)
				if watch {
					w, err := config.NewWatcher(config.Path(viper.GetString("workspace")))
					if err != nil {
						return err
					}
					if err := w.Start(); err != nil {
						return err
					}
					defer w.Stop()
					go reloadConfig(ctx, s, w, logger)
				}

				srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
				fmt.Fprintf(cmd.OutOrStdout(), "Serving Planline API for project %s on http://%s%s (OpenAPI at %s/openapi.json)\n", s.projectID, addr, basePath, basePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().BoolVar(&watch, "watch", false, "reimport planline.yml whenever it changes")
	cmd.Flags().BoolVar(&actorHeader, "allow-actor-header", false, "trust X-Actor-Id without authentication")
	cmd.Flags().BoolVar(&devLogin, "dev-login", false, "expose POST /auth/dev/login")
	return cmd
}

// reloadConfig imports every valid change of the watched config file.
func reloadConfig(ctx context.Context, s session, w *config.Watcher, logger *log.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case change, ok := <-w.Changes:
			if !ok {
				return
			}
			if change.Err != nil {
				logger.Printf("config reload skipped: %v", change.Err)
				continue
			}
			change.Config.Project.ID = s.projectID
			if err := s.engine.ImportConfig(ctx, s.projectID, change.Config, s.actorID); err != nil {
				logger.Printf("config reload failed: %v", err)
				continue
			}
			logger.Printf("config reloaded for project %s", s.projectID)
		}
	}
}
