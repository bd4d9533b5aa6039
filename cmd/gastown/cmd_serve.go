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

	"gastown/pkg/server"
	"gastown/pkg/town"

	"github.com/spf13/cobra"
)

// shutdownTimeout bounds how long in-flight requests may run after a
// stop signal.
const shutdownTimeout = 10 * time.Second

// newServeCmd creates the "gastown serve" subcommand.
func newServeCmd() *cobra.Command {
	var listenAddr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the gastown API server",
		Long:  "Loads config.yaml, opens the database, and serves the JSON API\nuntil SIGTERM or SIGINT.",
		RunE: func(cmd *cobra.Command, args []string) error {
			paths, err := ResolvePaths()
			if err != nil {
				return err
			}
			cfg, err := loadConfig(paths)
			if err != nil {
				return err
			}
			if listenAddr != "" {
				cfg.ListenAddr = listenAddr
			}
			key, err := cfg.signingKey()
			if err != nil {
				return err
			}
			rigTimeout, err := cfg.rigTimeout()
			if err != nil {
				return err
			}

			db, err := openDB(cfg.DBPath)
			if err != nil {
				return err
			}
			defer db.Close()
			if err := ensureSchema(db); err != nil {
				return err
			}

			api := server.New(town.NewRegistry(db), server.Config{
				SigningKey: key,
				RigTimeout: rigTimeout,
			})
			return runServer(cmd.Context(), cfg.ListenAddr, api.Handler())
		},
	}

	cmd.Flags().StringVar(&listenAddr, "listen", "", "listen address (overrides config)")
	return cmd
}

// runServer serves until the listener fails or a stop signal arrives,
// then drains in-flight requests.
func runServer(parent context.Context, addr string, handler http.Handler) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("gastown: listening on %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	log.Printf("gastown: shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve: %w", err)
	}
	fmt.Fprintln(os.Stdout, "gastown: stopped")
	return nil
}
