package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"portfolioshare/internal/app"
	"portfolioshare/internal/server"
)

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the share API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				cfg := ws.Config
				if addr == "" {
					addr = cfg.Server.Addr
				}
				if basePath == "" {
					basePath = cfg.Server.BasePath
				}
				if cfg.Server.JWTSecret == "" {
					return fmt.Errorf("FOLIO_JWT_SECRET or server.jwt_secret is required to verify API keys")
				}
				handler, err := server.New(server.Config{
					Engine:   ws.Engine,
					BasePath: basePath,
					Auth:     server.AuthConfig{JWTSecret: cfg.Server.JWTSecret},
					RateLimit: server.RateLimit{
						Requests:      cfg.Server.RateLimit.Requests,
						WriteRequests: cfg.Server.RateLimit.WriteRequests,
						Window:        cfg.Server.RateLimit.Window,
					},
					Logger: ws.Log,
				})
				if err != nil {
					return err
				}
				ctx, stop := context.WithCancel(ctx)
				defer stop()
				hooksDone := server.StartWebhooks(ctx, ws.Engine, cfg.Webhooks, ws.Log)
				srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
				ws.Log.Info("serving share API",
					zap.String("addr", addr),
					zap.String("base_path", basePath),
					zap.Int("webhooks", len(cfg.Webhooks)),
				)
				err = srv.ListenAndServe()
				stop()
				<-hooksDone
				if err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (default from config)")
	return cmd
}

func keysCmd() *cobra.Command {
	k := &cobra.Command{Use: "keys", Short: "API keys"}
	k.AddCommand(keysAnonCmd())
	return k
}

func keysAnonCmd() *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "anon",
		Short: "Issue the public API key used by share viewers",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			key, err := server.IssueAnonKey(cfg.Server.JWTSecret, ttl, time.Now())
			if err != nil {
				return err
			}
			fmt.Println(key)
			return nil
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "key lifetime (0 never expires)")
	return cmd
}
