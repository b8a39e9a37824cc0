package lobby

import (
    "context"
    "crypto/rand"
    "errors"
    "fmt"
    mrand "math/rand"
    "strings"
    "time"

    "github.com/redis/go-redis/v9"
    "go.uber.org/zap"

    "github.com/park285/dama-server/internal/game"
    "github.com/park285/dama-server/internal/notify"
    "github.com/park285/dama-server/internal/obslog"
    "github.com/park285/dama-server/internal/rules"
)

// Manager allocates games: quick-match pairing, private invites, cancel and the opponent wait.
// Every allocation is a WATCH/MULTI write so two requesters can never claim the same slot.
type Manager struct {
    rdb   *redis.Client
    games *game.Manager
    sub   notify.Subscriber

    codeGen    func() (string, error)
    poll       time.Duration
    maxRetries int
}

type Option func(*Manager)

func WithSubscriber(s notify.Subscriber) Option { return func(m *Manager) { m.sub = s } }
func WithCodeGen(gen func() (string, error)) Option {
    return func(m *Manager) { if gen != nil { m.codeGen = gen } }
}
func WithPollInterval(d time.Duration) Option {
    return func(m *Manager) { if d > 0 { m.poll = d } }
}

func NewManager(games *game.Manager, opts ...Option) *Manager {
    m := &Manager{
        rdb:        games.Redis(),
        games:      games,
        codeGen:    codeGen,
        poll:       3 * time.Second,
        maxRetries: 8,
    }
    for _, opt := range opts {
        opt(m)
    }
    return m
}

// QuickMatch claims the oldest waiting game of mode created by someone else, or
// returns the caller's own waiting game, or opens a new one.
func (m *Manager) QuickMatch(ctx context.Context, player string, mode rules.Mode) (*Result, error) {
    player = strings.TrimSpace(player)
    if player == "" || !mode.Valid() { return nil, ErrInvalidArgs }
    for attempt := 0; attempt < m.maxRetries; attempt++ {
        res, event, err := m.tryQuickMatch(ctx, player, mode)
        if errors.Is(err, redis.TxFailedErr) {
            obslog.L().Debug("dama_match_conflict", zap.String("player_id", player), zap.Int("attempt", attempt+1))
            if serr := backoff(ctx, attempt); serr != nil { return nil, serr }
            continue
        }
        if err != nil { return nil, err }
        if event != "" { m.games.Announce(ctx, event, res.Record) }
        obslog.L().Info("dama_match_quick",
            zap.String("player_id", player),
            zap.String("mode", string(mode)),
            zap.String("game_id", res.Record.ID),
            zap.String("status", string(res.Record.Status)),
            zap.Bool("created", res.Created),
        )
        return res, nil
    }
    return nil, ErrMatchRace
}

func (m *Manager) tryQuickMatch(ctx context.Context, player string, mode rules.Mode) (*Result, string, error) {
    qkey := QueueKey(mode)
    var (
        out   *Result
        event string
    )
    err := m.rdb.Watch(ctx, func(tx *redis.Tx) error {
        ids, err := tx.LRange(ctx, qkey, 0, -1).Result()
        if err != nil { return unavailable(err) }

        var stale []string
        var own, candidate *game.Record
        for _, id := range ids {
            rec, err := game.ReadRecord(ctx, tx, id)
            if errors.Is(err, game.ErrNotFound) { stale = append(stale, id); continue }
            if err != nil { return err }
            if rec.Status != game.StatusWaiting || rec.Player2 != "" || rec.Mode != mode {
                stale = append(stale, id)
                continue
            }
            if rec.Player1 == player {
                if own == nil { own = rec }
                continue
            }
            candidate = rec
            break
        }
        now := m.games.Now()
        ttl := m.games.TTL()

        switch {
        case candidate != nil:
            if err := tx.Watch(ctx, game.RecordKey(candidate.ID)).Err(); err != nil { return unavailable(err) }
            // re-read under the record watch; a change before the watch started is a lost race
            cur, err := game.ReadRecord(ctx, tx, candidate.ID)
            if err != nil || cur.Version != candidate.Version || cur.Status != game.StatusWaiting {
                return redis.TxFailedErr
            }
            cur.Activate(player, now)
            _, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
                pipe.LRem(ctx, qkey, 0, cur.ID)
                for _, id := range stale { pipe.LRem(ctx, qkey, 0, id) }
                return game.WriteRecord(ctx, pipe, cur, ttl)
            })
            if err != nil { return unavailable(err) }
            out, event = &Result{Record: cur}, game.EventActivated
        case own != nil:
            if len(stale) > 0 {
                if _, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
                    for _, id := range stale { pipe.LRem(ctx, qkey, 0, id) }
                    return nil
                }); err != nil { return unavailable(err) }
            }
            out = &Result{Record: own}
        default:
            rec := game.NewWaiting(game.NewID(), player, mode, game.KindQuick, m.games.ClockBudget(), now)
            rec.Version = 1
            _, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
                for _, id := range stale { pipe.LRem(ctx, qkey, 0, id) }
                if err := game.WriteRecord(ctx, pipe, rec, ttl); err != nil { return err }
                pipe.RPush(ctx, qkey, rec.ID)
                pipe.Expire(ctx, qkey, ttl)
                return nil
            })
            if err != nil { return unavailable(err) }
            out, event = &Result{Record: rec, Created: true}, game.EventCreated
        }
        return nil
    }, qkey)
    if err != nil { return nil, "", err }
    return out, event, nil
}

// CreatePrivate opens a waiting game reachable only through a fresh invite code.
func (m *Manager) CreatePrivate(ctx context.Context, player string, mode rules.Mode) (*Result, error) {
    player = strings.TrimSpace(player)
    if player == "" || !mode.Valid() { return nil, ErrInvalidArgs }
    ttl := m.games.TTL()
    id := game.NewID()
    for i := 0; i < 5; i++ {
        code, err := m.codeGen()
        if err != nil { return nil, err }
        // optimistic: only reserve if nobody holds the code
        ok, err := m.rdb.SetNX(ctx, InviteKey(code), id, ttl).Result()
        if err != nil { return nil, unavailable(err) }
        if !ok { continue }

        rec := game.NewWaiting(id, player, mode, game.KindPrivate, m.games.ClockBudget(), m.games.Now())
        rec.InviteCode = code
        rec.Version = 1
        if _, err := m.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
            return game.WriteRecord(ctx, pipe, rec, ttl)
        }); err != nil {
            _ = m.rdb.Del(ctx, InviteKey(code)).Err()
            return nil, unavailable(err)
        }
        m.games.Announce(ctx, game.EventCreated, rec)
        obslog.L().Info("dama_match_private", zap.String("player_id", player), zap.String("mode", string(mode)), zap.String("game_id", id), zap.String("code", code))
        return &Result{Record: rec, Created: true}, nil
    }
    return nil, ErrCodeUnavailable
}

// JoinPrivate redeems an invite code. Every failed precondition reports ErrNotFound,
// so a consumed code can never seat a third player.
func (m *Manager) JoinPrivate(ctx context.Context, player, code string) (*Result, error) {
    player = strings.TrimSpace(player)
    code = strings.ToUpper(strings.TrimSpace(code))
    if player == "" { return nil, ErrInvalidArgs }
    if code == "" { return nil, ErrNotFound }
    ikey := InviteKey(code)

    for attempt := 0; attempt < m.maxRetries; attempt++ {
        id, err := m.rdb.Get(ctx, ikey).Result()
        if errors.Is(err, redis.Nil) { return nil, m.joinRejected(player, code, ErrNotFound) }
        if err != nil { return nil, unavailable(err) }

        var out *game.Record
        err = m.rdb.Watch(ctx, func(tx *redis.Tx) error {
            held, err := tx.Get(ctx, ikey).Result()
            if errors.Is(err, redis.Nil) || (err == nil && held != id) { return ErrNotFound }
            if err != nil { return unavailable(err) }
            rec, err := game.ReadRecord(ctx, tx, id)
            if errors.Is(err, game.ErrNotFound) { return ErrNotFound }
            if err != nil { return err }
            if rec.Status != game.StatusWaiting || rec.InviteCode != code || rec.Player2 != "" { return ErrNotFound }
            if rec.Player1 == player { return ErrSelfJoin }

            rec.Activate(player, m.games.Now())
            _, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
                pipe.Del(ctx, ikey)
                return game.WriteRecord(ctx, pipe, rec, m.games.TTL())
            })
            if err != nil { return unavailable(err) }
            out = rec
            return nil
        }, ikey, game.RecordKey(id))
        if errors.Is(err, redis.TxFailedErr) {
            if serr := backoff(ctx, attempt); serr != nil { return nil, serr }
            continue
        }
        if err != nil { return nil, m.joinRejected(player, code, err) }

        m.games.Announce(ctx, game.EventActivated, out)
        obslog.L().Info("dama_match_join", zap.String("player_id", player), zap.String("code", code), zap.String("game_id", out.ID))
        return &Result{Record: out}, nil
    }
    return nil, ErrMatchRace
}

func (m *Manager) joinRejected(player, code string, err error) error {
    obslog.L().Info("dama_match_join_rejected", zap.String("player_id", player), zap.String("code", code), zap.Error(err))
    return err
}

// Cancel deletes a waiting game. Only its creator may do so, and only before anyone joined.
func (m *Manager) Cancel(ctx context.Context, player, gameID string) (*game.Record, error) {
    player = strings.TrimSpace(player)
    if player == "" || strings.TrimSpace(gameID) == "" { return nil, ErrInvalidArgs }
    key := game.RecordKey(gameID)
    for attempt := 0; attempt < m.maxRetries; attempt++ {
        var out *game.Record
        err := m.rdb.Watch(ctx, func(tx *redis.Tx) error {
            rec, err := game.ReadRecord(ctx, tx, gameID)
            if err != nil { return err }
            if rec.Status != game.StatusWaiting || rec.Player2 != "" || rec.Player1 != player { return ErrNotCancellable }
            _, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
                game.DeleteRecord(ctx, pipe, rec)
                pipe.LRem(ctx, QueueKey(rec.Mode), 0, rec.ID)
                if rec.InviteCode != "" { pipe.Del(ctx, InviteKey(rec.InviteCode)) }
                return nil
            })
            if err != nil { return unavailable(err) }
            out = rec
            return nil
        }, key)
        if errors.Is(err, redis.TxFailedErr) { continue }
        if err != nil { return nil, err }
        m.games.Announce(ctx, game.EventCancelled, out)
        obslog.L().Info("dama_match_cancel", zap.String("player_id", player), zap.String("game_id", gameID))
        return out, nil
    }
    return nil, ErrMatchRace
}

// AwaitOpponent blocks until the caller's waiting game is joined or wait elapses.
// On timeout the game is cancelled and ErrMatchTimeout returned, unless a join won
// the race with the cancel, in which case the active record is returned.
func (m *Manager) AwaitOpponent(ctx context.Context, player, gameID string, wait time.Duration) (*game.Record, error) {
    rec, err := m.games.Get(ctx, gameID)
    if err != nil { return nil, err }
    if _, ok := rec.ColorOf(player); !ok { return nil, game.ErrNotParticipant }
    if rec.Status != game.StatusWaiting { return rec, nil }

    wctx, cancel := context.WithTimeout(ctx, wait)
    defer cancel()

    var events <-chan notify.Event
    if m.sub != nil {
        stream, err := m.sub.Subscribe(wctx, gameID)
        if err != nil {
            obslog.L().Warn("dama_await_subscribe_error", zap.String("game_id", gameID), zap.Error(err))
        } else {
            defer stream.Close()
            events = stream.Events()
        }
    }
    ticker := time.NewTicker(m.poll)
    defer ticker.Stop()

    check := func() (*game.Record, bool, error) {
        cur, err := m.games.Get(ctx, gameID)
        if err != nil { return nil, true, err }
        return cur, cur.Status != game.StatusWaiting, nil
    }
    // the join may have landed between the first read and the subscription
    if cur, done, err := check(); done { return cur, err }

    for {
        select {
        case ev, ok := <-events:
            if !ok { events = nil; continue }
            if ev.Type == game.EventCancelled { return nil, game.ErrNotFound }
            if ev.Record != nil && ev.Record.Status != game.StatusWaiting { return ev.Record, nil }
        case <-ticker.C:
            if cur, done, err := check(); done { return cur, err }
        case <-wctx.Done():
            if ctx.Err() != nil { return nil, ctx.Err() }
            _, cerr := m.Cancel(ctx, player, gameID)
            if errors.Is(cerr, ErrNotCancellable) {
                if cur, err := m.games.Get(ctx, gameID); err == nil && cur.Status == game.StatusActive { return cur, nil }
            }
            obslog.L().Info("dama_match_timeout", zap.String("player_id", player), zap.String("game_id", gameID), zap.Duration("wait", wait))
            return nil, ErrMatchTimeout
        }
    }
}

// codeGen returns 6 upper alnum.
func codeGen() (string, error) {
    const letters = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
    b := make([]byte, 6)
    if _, err := rand.Read(b); err != nil {
        return "", err
    }
    for i := range b {
        b[i] = letters[int(b[i])%len(letters)]
    }
    return string(b), nil
}

func backoff(ctx context.Context, attempt int) error {
    d := time.Duration(5*(attempt+1)+mrand.Intn(10)) * time.Millisecond
    t := time.NewTimer(d)
    defer t.Stop()
    select {
    case <-ctx.Done():
        return ctx.Err()
    case <-t.C:
        return nil
    }
}

func unavailable(err error) error {
    if err == nil || errors.Is(err, redis.TxFailedErr) { return err }
    return fmt.Errorf("%w: %v", game.ErrUnavailable, err)
}
