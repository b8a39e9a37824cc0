// Package builder wires the server's dependencies from configuration.
package builder

import (
    "context"
    "fmt"
    "strings"
    "time"

    "github.com/hashicorp/go-multierror"
    "github.com/redis/go-redis/v9"
    "go.uber.org/zap"

    "github.com/park285/dama-server/internal/config"
    "github.com/park285/dama-server/internal/game"
    "github.com/park285/dama-server/internal/httpapi"
    "github.com/park285/dama-server/internal/lobby"
    "github.com/park285/dama-server/internal/msgcat"
    "github.com/park285/dama-server/internal/notify"
)

type Deps struct {
    Redis    *redis.Client
    Games    *game.Manager
    Lobby    *lobby.Manager
    Feed     *notify.Feed
    Repo     *game.Repository // nil when DATABASE_URL is unset
    Messages *msgcat.Catalog
    Reaper   *game.Reaper
    API      *httpapi.Server
}

func New(ctx context.Context, cfg *config.AppConfig, logger *zap.Logger) (*Deps, error) {
    if cfg == nil {
        return nil, fmt.Errorf("nil config")
    }
    if logger == nil {
        logger = zap.NewNop()
    }

    opts, err := game.ParseRedisURL(cfg.RedisURL)
    if err != nil {
        return nil, fmt.Errorf("parse redis url: %w", err)
    }
    d := &Deps{Redis: redis.NewClient(opts)}
    pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
    defer cancel()
    if err := d.Redis.Ping(pctx).Err(); err != nil {
        _ = d.Close()
        return nil, fmt.Errorf("ping redis: %w", err)
    }

    // Archive (optional)
    if strings.TrimSpace(cfg.DatabaseURL) != "" {
        repo, err := game.NewRepository(cfg.DatabaseURL)
        if err != nil {
            _ = d.Close()
            return nil, fmt.Errorf("open postgres: %w", err)
        }
        d.Repo = repo
        if cfg.DBAutoMigrate {
            if err := repo.EnsureSchema(pctx); err != nil {
                _ = d.Close()
                return nil, fmt.Errorf("ensure schema: %w", err)
            }
        }
    } else {
        logger.Warn("dama_archive_disabled", zap.String("reason", "DATABASE_URL not set"))
    }

    d.Messages, err = msgcat.New(cfg.MessagesDir)
    if err != nil {
        _ = d.Close()
        return nil, fmt.Errorf("load messages: %w", err)
    }

    d.Feed = notify.NewFeed(d.Redis)
    gopts := []game.Option{
        game.WithPublisher(d.Feed),
        game.WithTTL(cfg.GameTTL),
        game.WithClockBudget(cfg.DefaultClock),
    }
    if d.Repo != nil {
        gopts = append(gopts, game.WithArchive(d.Repo))
    }
    d.Games = game.NewManager(d.Redis, gopts...)
    d.Lobby = lobby.NewManager(d.Games, lobby.WithSubscriber(d.Feed), lobby.WithPollInterval(cfg.PollInterval))
    d.Reaper = game.NewReaper(d.Games, cfg.TimeoutSweep)
    d.API = httpapi.New(httpapi.Deps{
        Games:          d.Games,
        Lobby:          d.Lobby,
        Subscriber:     d.Feed,
        Messages:       d.Messages,
        MatchWait:      cfg.MatchWaitTimeout,
        AllowedOrigins: cfg.WSAllowedOrigins,
    })

    logger.Info("dama_deps_ready",
        zap.Bool("archive", d.Repo != nil),
        zap.Duration("clock", cfg.DefaultClock),
        zap.Duration("match_wait", cfg.MatchWaitTimeout),
    )
    return d, nil
}

// Close releases every open resource and reports all failures together.
func (d *Deps) Close() error {
    if d == nil {
        return nil
    }
    var errs error
    if d.Repo != nil {
        if err := d.Repo.Close(); err != nil {
            errs = multierror.Append(errs, fmt.Errorf("close postgres: %w", err))
        }
    }
    if d.Redis != nil {
        if err := d.Redis.Close(); err != nil {
            errs = multierror.Append(errs, fmt.Errorf("close redis: %w", err))
        }
    }
    return errs
}
