package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"crudkit/internal/api"
	"crudkit/internal/store"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Load DSL, prepare storage and serve the REST API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			reg, err := api.LoadRegistry(cfg.DSLDir, cfg.EnumsDir)
			if err != nil {
				return err
			}
			log.Info("DSL loaded", zap.String("dir", cfg.DSLDir), zap.Int("entities", reg.Len()))

			st, err := store.New(ctx, cfg.DBDriver, cfg.DBURL, log)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			if _, err := api.Bootstrap(ctx, reg, st, log, cfg.AutoMigrate); err != nil {
				return fmt.Errorf("bootstrap: %w", err)
			}

			srv := &http.Server{
				Addr: cfg.Addr(),
				Handler: api.NewServer(reg, st, log, api.Options{
					DSLDir:      cfg.DSLDir,
					EnumsDir:    cfg.EnumsDir,
					CORSOrigins: cfg.CORSOrigins,
					Migrate:     cfg.AutoMigrate,
				}).Handler(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			errc := make(chan error, 1)
			go func() {
				log.Info("server listening", zap.String("addr", srv.Addr), zap.String("driver", cfg.DBDriver))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errc <- err
				}
				close(errc)
			}()

			select {
			case err := <-errc:
				if err != nil {
					return fmt.Errorf("http server error: %w", err)
				}
				return nil
			case <-ctx.Done():
			}

			log.Info("shutting down server gracefully")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				log.Warn("server shutdown", zap.Error(err))
			}
			log.Info("server exiting")
			return nil
		},
	}
}
