package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/alan-christopher/bb84chat/internal/config"
	"github.com/alan-christopher/bb84chat/internal/exchange"
	"github.com/alan-christopher/bb84chat/internal/server"
	"github.com/alan-christopher/bb84chat/internal/store"
)

func newServeCmd(cfg *config.Config, log *logrus.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve key exchanges over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, *cfg, log)
		},
	}
}

func serve(ctx context.Context, cfg config.Config, log *logrus.Logger) error {
	entry := logrus.NewEntry(log)
	opts, err := cfg.ManagerOptions(entry)
	if err != nil {
		return err
	}
	if cfg.ExposeKey {
		entry.Warn("final keys will be returned to clients")
	}
	mgr := exchange.NewManager(opts)

	var st store.MessageStore = store.NewMemoryStore()
	if cfg.StoreDir != "" {
		fs, err := store.NewFileStore(cfg.StoreDir)
		if err != nil {
			return err
		}
		st = fs
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           server.New(mgr, st, entry),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go mgr.Run(ctx)

	errc := make(chan error, 1)
	go func() {
		entry.WithField("addr", cfg.Addr).Info("listening")
		errc <- srv.ListenAndServe()
	}()
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	entry.Info("shut down")
	return nil
}
