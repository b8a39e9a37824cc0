package main

import (
    "context"
    "errors"
    "log"
    "net/http"
    "os"
    "os/signal"
    "syscall"
    "time"

    "go.uber.org/zap"

    appcfg "github.com/park285/dama-server/internal/config"
    "github.com/park285/dama-server/internal/builder"
    "github.com/park285/dama-server/internal/obslog"
)

func main() {
    if err := obslog.InitFromEnv(); err != nil {
        log.Printf("logger init error: %v (falling back to default)", err)
    }
    defer obslog.Sync()
    logger := obslog.L()

    cfg, err := appcfg.Load()
    if err != nil {
        logger.Fatal("config_error", zap.Error(err))
    }

    sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
    defer stopSignals()

    deps, err := builder.New(sigCtx, cfg, logger)
    if err != nil {
        logger.Fatal("dama_init_error", zap.Error(err))
    }
    defer func() {
        if err := deps.Close(); err != nil {
            logger.Warn("dama_close_error", zap.Error(err))
        }
    }()

    // clocks keep running while nobody is connected
    reaperCtx, stopReaper := context.WithCancel(context.Background())
    defer stopReaper()
    go deps.Reaper.Run(reaperCtx)

    server := &http.Server{
        Addr:              cfg.HTTPAddr,
        Handler:           deps.API.Routes(),
        ReadHeaderTimeout: 10 * time.Second,
    }
    serverErrCh := make(chan error, 1)
    go func() {
        if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
            serverErrCh <- err
        }
        close(serverErrCh)
    }()
    logger.Info("dama_listening", zap.String("addr", cfg.HTTPAddr))

    select {
    case <-sigCtx.Done():
        logger.Info("dama_shutdown_signal", zap.Error(sigCtx.Err()))
    case err, ok := <-serverErrCh:
        if ok {
            logger.Error("dama_server_error", zap.Error(err))
        }
    }
    stopReaper()

    shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
    defer cancelShutdown()
    if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
        logger.Warn("dama_graceful_shutdown_failed", zap.Error(err))
        if closeErr := server.Close(); closeErr != nil && !errors.Is(closeErr, http.ErrServerClosed) {
            logger.Warn("dama_forced_close_failed", zap.Error(closeErr))
        }
    }
}
