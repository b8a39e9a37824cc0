package game

import (
    "context"
    "errors"
    "sort"
    "strings"
    "time"

    "github.com/google/uuid"
    "github.com/redis/go-redis/v9"
    "go.uber.org/zap"

    "github.com/park285/dama-server/internal/obslog"
    "github.com/park285/dama-server/internal/rules"
)

// Publisher pushes committed records to subscribed clients.
type Publisher interface {
    Publish(ctx context.Context, event string, r *Record) error
}

// Archive stores completed games outside Redis.
type Archive interface {
    SaveResult(ctx context.Context, r *Record) error
}

// Manager owns every state change of a game record after it leaves the lobby.
// All writes are WATCH/MULTI conditional updates; nothing is cached in process.
type Manager struct {
    rdb     *redis.Client
    pub     Publisher
    archive Archive

    ttl        time.Duration
    budget     time.Duration
    maxRetries int
    now        func() time.Time
}

type Option func(*Manager)

func WithPublisher(p Publisher) Option       { return func(m *Manager) { m.pub = p } }
func WithArchive(a Archive) Option           { return func(m *Manager) { m.archive = a } }
func WithTTL(d time.Duration) Option         { return func(m *Manager) { if d > 0 { m.ttl = d } } }
func WithClockBudget(d time.Duration) Option { return func(m *Manager) { if d > 0 { m.budget = d } } }
func WithNow(now func() time.Time) Option    { return func(m *Manager) { if now != nil { m.now = now } } }

func NewManager(rdb *redis.Client, opts ...Option) *Manager {
    m := &Manager{
        rdb:        rdb,
        ttl:        DefaultTTL,
        budget:     10 * time.Minute,
        maxRetries: 5,
        now:        time.Now,
    }
    for _, opt := range opts {
        opt(m)
    }
    return m
}

func (m *Manager) Redis() *redis.Client        { return m.rdb }
func (m *Manager) TTL() time.Duration          { return m.ttl }
func (m *Manager) ClockBudget() time.Duration  { return m.budget }
func (m *Manager) Now() time.Time              { return m.now() }

// NewID returns a fresh game id.
func NewID() string { return "g-" + uuid.NewString() }

func (m *Manager) Get(ctx context.Context, id string) (*Record, error) {
    if strings.TrimSpace(id) == "" { return nil, ErrNotFound }
    return ReadRecord(ctx, m.rdb, id)
}

// GamesByPlayer lists the records a player is seated in, most recently updated first.
// Index entries whose record expired are dropped on the way.
func (m *Manager) GamesByPlayer(ctx context.Context, player string) ([]*Record, error) {
    if strings.TrimSpace(player) == "" { return nil, nil }
    key := UserIndexKey(player)
    ids, err := m.rdb.SMembers(ctx, key).Result()
    if err != nil { return nil, unavailable(err) }
    var list []*Record
    for _, id := range ids {
        r, gerr := m.Get(ctx, id)
        if errors.Is(gerr, ErrNotFound) {
            _ = m.rdb.SRem(ctx, key, id).Err()
            continue
        }
        if gerr != nil { return nil, gerr }
        list = append(list, r)
    }
    sort.Slice(list, func(i, j int) bool { return list[i].UpdatedAt.After(list[j].UpdatedAt) })
    return list, nil
}

// LegalMoves returns the record and what its side to move may play.
func (m *Manager) LegalMoves(ctx context.Context, id string) (*Record, []rules.Move, error) {
    r, err := m.Get(ctx, id)
    if err != nil { return nil, nil, err }
    if r.Status != StatusActive { return r, nil, nil }
    return r, r.State().Moves(r.Mode), nil
}

// SubmitMove validates one leg against the stored record and commits it.
// On ErrClockExpired the returned record is the committed timeout result.
func (m *Manager) SubmitMove(ctx context.Context, req MoveRequest) (*Record, rules.Result, error) {
    var result rules.Result
    rec, err := m.mutate(ctx, req.GameID, func(cur *Record, now time.Time) (string, error) {
        if err := requireActive(cur); err != nil { return "", err }
        if req.ExpectedVersion > 0 && req.ExpectedVersion != cur.Version { return "", ErrStaleTurn }
        color, ok := cur.ColorOf(req.PlayerID)
        if !ok { return "", ErrNotParticipant }
        if cur.Turn != color { return "", ErrNotYourTurn }

        if cur.Remaining(color, now) <= 0 {
            cur.Clock.charge(color, now.Sub(cur.TurnStartedAt))
            cur.complete(EndTimeout, cur.PlayerFor(color.Opponent()), now)
            return EventCompleted, ErrClockExpired
        }

        next, res, err := cur.State().Submit(color, req.PieceID, req.To, cur.Mode)
        if err != nil { return "", err }

        cur.Clock.charge(color, now.Sub(cur.TurnStartedAt))
        cur.TurnStartedAt = now
        cur.Board, cur.Turn, cur.Phase, cur.ChainPieceID = next.Board, next.Turn, next.Phase, next.ChainPieceID
        mv := res.Move
        cur.LastMove = &mv
        cur.MoveCount++
        // answering a draw offer with a move declines it
        if cur.DrawOfferedBy != "" && cur.DrawOfferedBy != req.PlayerID { cur.DrawOfferedBy = "" }
        result = res

        if next.Phase == rules.PhaseTerminal {
            reason := EndStalemate
            if next.Board.Count(next.Turn) == 0 { reason = EndElimination }
            cur.complete(reason, cur.PlayerFor(next.Winner), now)
            return EventCompleted, nil
        }
        return EventMove, nil
    })
    if err != nil && rec == nil {
        obslog.L().Info("dama_move_rejected",
            zap.String("game_id", req.GameID),
            zap.String("player_id", req.PlayerID),
            zap.String("piece_id", req.PieceID),
            zap.String("to", req.To.String()),
            zap.Error(err),
        )
        return nil, rules.Result{}, err
    }
    obslog.L().Info("dama_move",
        zap.String("game_id", rec.ID),
        zap.String("player_id", req.PlayerID),
        zap.String("piece_id", req.PieceID),
        zap.String("to", req.To.String()),
        zap.Bool("continues", result.ContinuesTurn),
        zap.String("turn", string(rec.Turn)),
        zap.String("status", string(rec.Status)),
        zap.Int64("version", rec.Version),
    )
    return rec, result, err
}

// Resign completes the game in favour of the opponent.
func (m *Manager) Resign(ctx context.Context, id, player string) (*Record, error) {
    rec, err := m.mutate(ctx, id, func(cur *Record, now time.Time) (string, error) {
        if err := requireActive(cur); err != nil { return "", err }
        if _, ok := cur.ColorOf(player); !ok { return "", ErrNotParticipant }
        cur.Clock.charge(cur.Turn, now.Sub(cur.TurnStartedAt))
        cur.complete(EndResignation, cur.Opponent(player), now)
        return EventCompleted, nil
    })
    if err != nil { return nil, err }
    obslog.L().Info("dama_resign", zap.String("game_id", rec.ID), zap.String("resigner", player), zap.String("winner", rec.Winner))
    return rec, nil
}

// OfferDraw records a draw offer. Offering while the opponent's offer stands agrees to it.
func (m *Manager) OfferDraw(ctx context.Context, id, player string) (*Record, error) {
    rec, err := m.mutate(ctx, id, func(cur *Record, now time.Time) (string, error) {
        if err := requireActive(cur); err != nil { return "", err }
        if _, ok := cur.ColorOf(player); !ok { return "", ErrNotParticipant }
        switch cur.DrawOfferedBy {
        case player:
            return "", nil
        case cur.Opponent(player):
            cur.Clock.charge(cur.Turn, now.Sub(cur.TurnStartedAt))
            cur.complete(EndDrawAgreed, "", now)
            return EventCompleted, nil
        }
        cur.DrawOfferedBy = player
        return EventDraw, nil
    })
    if err != nil { return nil, err }
    obslog.L().Info("dama_draw_offer", zap.String("game_id", rec.ID), zap.String("player_id", player), zap.String("status", string(rec.Status)))
    return rec, nil
}

// AcceptDraw ends the game drawn if the opponent has an offer standing.
func (m *Manager) AcceptDraw(ctx context.Context, id, player string) (*Record, error) {
    rec, err := m.mutate(ctx, id, func(cur *Record, now time.Time) (string, error) {
        if err := requireActive(cur); err != nil { return "", err }
        if _, ok := cur.ColorOf(player); !ok { return "", ErrNotParticipant }
        if cur.DrawOfferedBy == "" || cur.DrawOfferedBy == player { return "", ErrNoDrawOffer }
        cur.Clock.charge(cur.Turn, now.Sub(cur.TurnStartedAt))
        cur.complete(EndDrawAgreed, "", now)
        return EventCompleted, nil
    })
    if err != nil { return nil, err }
    obslog.L().Info("dama_draw_accept", zap.String("game_id", rec.ID), zap.String("player_id", player))
    return rec, nil
}

// DeclineDraw withdraws the opponent's standing offer.
func (m *Manager) DeclineDraw(ctx context.Context, id, player string) (*Record, error) {
    return m.mutate(ctx, id, func(cur *Record, now time.Time) (string, error) {
        if err := requireActive(cur); err != nil { return "", err }
        if _, ok := cur.ColorOf(player); !ok { return "", ErrNotParticipant }
        if cur.DrawOfferedBy == "" || cur.DrawOfferedBy == player { return "", ErrNoDrawOffer }
        cur.DrawOfferedBy = ""
        return EventDraw, nil
    })
}

// ClaimTimeout completes the game if the side to move has run out of time.
// player may be empty for server-side sweeps; otherwise it must be seated.
func (m *Manager) ClaimTimeout(ctx context.Context, id, player string) (*Record, error) {
    rec, err := m.mutate(ctx, id, func(cur *Record, now time.Time) (string, error) {
        if err := requireActive(cur); err != nil { return "", err }
        if player != "" {
            if _, ok := cur.ColorOf(player); !ok { return "", ErrNotParticipant }
        }
        if cur.Remaining(cur.Turn, now) > 0 { return "", ErrClockRunning }
        cur.Clock.charge(cur.Turn, now.Sub(cur.TurnStartedAt))
        cur.complete(EndTimeout, cur.PlayerFor(cur.Turn.Opponent()), now)
        return EventCompleted, nil
    })
    if err != nil { return nil, err }
    obslog.L().Info("dama_timeout", zap.String("game_id", rec.ID), zap.String("loser_color", string(rec.Turn)), zap.String("winner", rec.Winner))
    return rec, nil
}

// Announce publishes a committed record and archives it once completed.
// Failures are logged; the Redis record stays authoritative either way.
func (m *Manager) Announce(ctx context.Context, event string, r *Record) {
    if r == nil { return }
    if m.pub != nil {
        if err := m.pub.Publish(ctx, event, r); err != nil {
            obslog.L().Warn("dama_publish_error", zap.String("game_id", r.ID), zap.String("event", event), zap.Error(err))
        }
    }
    if event == EventCompleted {
        _ = m.persistIfFinal(ctx, r)
    }
}

func (m *Manager) Close() error {
    if m == nil || m.rdb == nil { return nil }
    return m.rdb.Close()
}

// mutation inspects and edits cur. It returns the event to publish when the
// edit must be committed; an empty event aborts with err. A non-empty event
// together with a non-nil err commits first and then reports err.
type mutation func(cur *Record, now time.Time) (string, error)

func (m *Manager) mutate(ctx context.Context, id string, fn mutation) (*Record, error) {
    if strings.TrimSpace(id) == "" { return nil, ErrNotFound }
    key := RecordKey(id)
    for attempt := 0; attempt < m.maxRetries; attempt++ {
        var (
            out       *Record
            event     string
            after     error
        )
        err := m.rdb.Watch(ctx, func(tx *redis.Tx) error {
            cur, err := ReadRecord(ctx, tx, id)
            if err != nil { return err }
            now := m.now()
            ev, ferr := fn(cur, now)
            if ev == "" {
                if ferr == nil { out = cur }
                return ferr
            }
            cur.Version++
            cur.UpdatedAt = now
            _, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
                return WriteRecord(ctx, pipe, cur, m.ttl)
            })
            if err != nil { return unavailable(err) }
            out, event, after = cur, ev, ferr
            return nil
        }, key)
        if errors.Is(err, redis.TxFailedErr) {
            obslog.L().Debug("dama_write_conflict", zap.String("game_id", id), zap.Int("attempt", attempt+1))
            continue
        }
        if err != nil { return nil, err }
        if event != "" { m.Announce(ctx, event, out) }
        return out, after
    }
    return nil, ErrStaleTurn
}

func requireActive(r *Record) error {
    switch r.Status {
    case StatusActive:
        return nil
    case StatusCompleted:
        return ErrTerminalConflict
    default:
        return ErrNotActive
    }
}

// persistIfFinal saves the final game result to the archive if one is attached.
func (m *Manager) persistIfFinal(ctx context.Context, r *Record) error {
    if m == nil || m.archive == nil || r == nil || !r.Finished() { return nil }
    if err := m.archive.SaveResult(ctx, r); err != nil {
        obslog.L().Error("dama_result_persist_error", zap.String("game_id", r.ID), zap.String("end_reason", string(r.EndReason)), zap.Error(err))
        return err
    }
    obslog.L().Info("dama_result_persist", zap.String("game_id", r.ID), zap.String("end_reason", string(r.EndReason)), zap.String("winner", r.Winner))
    return nil
}
