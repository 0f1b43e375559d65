package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dwellscope/listing-cli/internal/identity"
	"github.com/dwellscope/listing-cli/internal/quota"
	"github.com/dwellscope/listing-cli/internal/server"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the enrichment HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		e, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		if err := e.Store.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		if cfg.Auth.JWTSecret == "" {
			return eris.New("auth.jwt_secret is required (DWELL_AUTH_JWT_SECRET)")
		}
		verifier := identity.NewJWTVerifier(cfg.Auth.JWTSecret)

		// Background ledger drift detection.
		checker := quota.NewChecker(e.Ledger, e.Store,
			time.Duration(cfg.Quota.ReconcileIntervalMin)*time.Minute)
		go checker.Run(ctx)

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port()),
			Handler: server.New(e.Pipeline, verifier, e.Store).Router(),
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server",
			zap.Int("port", port()),
			zap.String("failure_policy", cfg.Quota.FailurePolicy),
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func port() int {
	if servePort != 0 {
		return servePort
	}
	return cfg.Server.Port
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
