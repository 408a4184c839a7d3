package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/dwayneex/rate-limiter/internal/config"
	"github.com/dwayneex/rate-limiter/internal/evaluator"
	"github.com/dwayneex/rate-limiter/internal/limiter"
	"github.com/dwayneex/rate-limiter/internal/metrics"
	"github.com/dwayneex/rate-limiter/internal/rules"
	"github.com/dwayneex/rate-limiter/internal/server"
	"github.com/dwayneex/rate-limiter/internal/store"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(*configPath, logger); err != nil {
		logger.Fatal("server exited", zap.Error(err))
	}
}

func run(configPath string, logger *zap.Logger) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	ctx := context.Background()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return err
	}
	defer rdb.Close()
	logger.Info("connected to redis", zap.String("addr", cfg.Redis.Addr))

	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		return err
	}
	defer st.Close()
	logger.Info("opened store", zap.String("path", cfg.Store.Path))

	counter, err := limiter.NewCounter(rdb)
	if err != nil {
		return err
	}

	cache := rules.NewCache(rdb, st, cfg.Cache.TTL, logger)

	audit := evaluator.NewAuditWriter(st, cfg.Audit.Buffer, logger)
	defer audit.Close()

	eval := evaluator.New(st, cache, counter, audit, evaluator.Config{
		FailOpen:     cfg.Limiter.FailOpen,
		CheckTimeout: cfg.Limiter.CheckTimeout,
	}, logger)

	metrics.Register()

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      server.New(st, cache, eval, logger).Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server", zap.String("addr", cfg.Server.Addr))
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-stop:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
