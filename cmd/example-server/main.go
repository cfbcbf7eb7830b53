package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"admission-gateway/middleware/admission"
	"admission-gateway/middleware/admission/application"
	"admission-gateway/middleware/admission/domain"
	"admission-gateway/middleware/admission/infra"

	"go.uber.org/zap"
)

func main() {
	// Exemplo: admissão embutida no próprio webserver, tudo em memória e um
	// "modelo" local no lugar do provider.
	logger, _ := zap.NewDevelopment()
	defer func() { _ = logger.Sync() }()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	echo := infra.NewFuncExecutor(func(ctx context.Context, req domain.RequestDescriptor) (domain.ResponseDescriptor, error) {
		select {
		case <-time.After(200 * time.Millisecond):
		case <-ctx.Done():
			return domain.ResponseDescriptor{}, ctx.Err()
		}
		return domain.ResponseDescriptor{Content: strings.ToUpper(req.Payload), Model: req.Model}, nil
	})

	m := application.New(application.Options{
		Limiter: &application.RateLimiter{
			Store: infra.NewMemoryRateStore(),
			Limits: map[domain.Provider]domain.Limits{
				domain.ProviderGroq: {RequestsPerMinute: 5, BucketCapacity: 3, RefillPerSecond: 0.5},
			},
			Logger: logger,
		},
		Cache:          application.NewResponseCache(infra.NewMemoryCacheStore(), 10*time.Minute, logger),
		Queue:          &application.PriorityQueue{Store: infra.NewMemoryQueueStore()},
		Slots:          infra.NewChanPool(2),
		Executor:       echo,
		Stats:          infra.NewMemoryStatsStore(),
		AcquireTimeout: 100 * time.Millisecond,
		MaxQueueSize:   20,
		ExecTimeout:    5 * time.Second,
		Logger:         logger,
	})
	drainer := application.NewDrainer(m, time.Second)
	go func() { _ = drainer.Run(ctx) }()

	h := admission.Handler(admission.Options{
		Admitter:            m,
		KeyHeader:           "X-Api-Key", // ou vazio para usar IP
		TrustXForwardedFor:  true,
		AddAdmissionHeaders: true,
		Logger:              logger,
	})
	h = admission.ConcurrencyMiddleware(admission.ConcurrencyOptions{Max: 50})(h)

	addr := ":8081"
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		addr = v
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("example server listening", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("server error", zap.Error(err))
	}
}
