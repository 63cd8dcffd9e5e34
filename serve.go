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

	"github.com/aippoint/interview-api/internal/config"
	"github.com/aippoint/interview-api/internal/feedback"
	"github.com/aippoint/interview-api/internal/ledger"
	"github.com/aippoint/interview-api/internal/metrics"
	"github.com/aippoint/interview-api/internal/notify"
	"github.com/aippoint/interview-api/internal/server"
	"github.com/aippoint/interview-api/internal/storage"
)

const shutdownTimeout = 30 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		log, err := newLogger(cfg.Log)
		if err != nil {
			return err
		}
		return runServer(cfg, log)
	},
}

func runServer(cfg *config.Config, log *logrus.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.NewStorage(ctx, cfg.Storage, log)
	if err != nil {
		return err
	}
	defer store.Close()
	log.WithField("backend", store.Name()).Info("storage ready")

	m := metrics.New()
	sender := notify.NewSender(cfg.Notify, log)
	dispatcher := notify.NewDispatcher(sender, cfg.Notify.QueueSize, m, log)

	dispatchCtx, cancelDispatch := context.WithCancel(context.Background())
	go func() {
		if err := dispatcher.Start(dispatchCtx); err != nil && !errors.Is(err, context.Canceled) {
			log.WithError(err).Error("notification dispatcher stopped")
		}
	}()

	httpServer := server.NewServer(cfg, server.Deps{
		Storage:    store,
		Ledger:     ledger.New(store, cfg.Ledger.MaxAttempts, m, log),
		Feedback:   feedback.New(store, m, log),
		Sender:     sender,
		Dispatcher: dispatcher,
		Metrics:    m,
		Log:        log,
	})

	errCh := make(chan error, 1)
	go func() {
		log.WithFields(logrus.Fields{
			"port":        cfg.Server.Port,
			"maxAttempts": cfg.Ledger.MaxAttempts,
		}).Info("starting HTTP server")
		if err := httpServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		log.Info("shutdown signal received, gracefully shutting down")
	case serveErr = <-errCh:
		log.WithError(serveErr).Error("HTTP server error")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("HTTP server shutdown error")
	}

	// Requests are finished, so nothing new can be queued; flush what is left.
	cancelDispatch()
	dispatcher.Wait()

	log.Info("shutdown complete")
	return serveErr
}
