package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"admission-gateway/middleware/admission"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the admission HTTP server and the queue drainer",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := configFromFlags(cmd)
			if err != nil {
				return err
			}
			logger, err := newLogger(cfg.Log)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()
			return serve(ctx, cfg, logger)
		},
	}
}

func serve(ctx context.Context, cfg config, logger *zap.Logger) error {
	gw, err := buildGateway(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = gw.Close() }()

	drained := make(chan error, 1)
	go func() { drained <- gw.drainer.Run(ctx) }()

	h := admission.Handler(admission.Options{
		Admitter:            gw.admission,
		KeyHeader:           cfg.HTTP.KeyHeader,
		TrustXForwardedFor:  cfg.HTTP.TrustXFF,
		AddAdmissionHeaders: cfg.HTTP.AdmissionHeaders,
		Logger:              logger.Named("http"),
	})
	h = admission.ConcurrencyMiddleware(admission.ConcurrencyOptions{
		Max:          cfg.Concurrency.HTTPMax,
		RejectStatus: http.StatusServiceUnavailable,
		RetryAfter:   time.Second,
		Exempt:       admission.StatusExempt,
		Logger:       logger.Named("http"),
	})(h)

	// a resposta síncrona pode esperar a vaga e a execução inteira
	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      cfg.writeTimeout(),
		IdleTimeout:       90 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("gateway listening",
		zap.String("addr", cfg.Listen),
		zap.String("upstream", cfg.UpstreamURL),
		zap.String("store", cfg.Store),
		zap.String("cache", cfg.Cache.Backend),
		zap.Int("slots", cfg.Concurrency.Max),
		zap.Int64("max_queue", cfg.Queue.MaxSize),
		zap.Duration("exec_timeout", cfg.Execution.Timeout),
	)

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	if err := <-drained; err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("gateway stopped")
	return nil
}
