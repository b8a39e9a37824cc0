package game

import (
    "context"
    "errors"
    "time"

    "go.uber.org/zap"

    "github.com/park285/dama-server/internal/obslog"
)

// Reaper periodically completes active games whose side to move ran out of time.
type Reaper struct {
    games    *Manager
    interval time.Duration
}

func NewReaper(games *Manager, interval time.Duration) *Reaper {
    if interval <= 0 {
        interval = 5 * time.Second
    }
    return &Reaper{games: games, interval: interval}
}

// Run sweeps until ctx is cancelled.
func (r *Reaper) Run(ctx context.Context) {
    ticker := time.NewTicker(r.interval)
    defer ticker.Stop()
    for {
        select {
        case <-ctx.Done():
            return
        case <-ticker.C:
            if _, err := r.Sweep(ctx); err != nil && ctx.Err() == nil {
                obslog.L().Warn("dama_reaper_sweep_error", zap.Error(err))
            }
        }
    }
}

// Sweep checks every active game once and returns how many were timed out.
func (r *Reaper) Sweep(ctx context.Context) (int, error) {
    ids, err := r.games.rdb.SMembers(ctx, ActiveKey).Result()
    if err != nil {
        return 0, unavailable(err)
    }
    now := r.games.now()
    expired := 0
    for _, id := range ids {
        rec, err := r.games.Get(ctx, id)
        if errors.Is(err, ErrNotFound) {
            _ = r.games.rdb.SRem(ctx, ActiveKey, id).Err()
            continue
        }
        if err != nil {
            return expired, err
        }
        if rec.Status != StatusActive {
            _ = r.games.rdb.SRem(ctx, ActiveKey, id).Err()
            continue
        }
        if rec.Remaining(rec.Turn, now) > 0 {
            continue
        }
        _, err = r.games.ClaimTimeout(ctx, id, "")
        switch {
        case err == nil:
            expired++
        case errors.Is(err, ErrClockRunning), errors.Is(err, ErrTerminalConflict):
            // a move or resignation landed first
        default:
            return expired, err
        }
    }
    return expired, nil
}
