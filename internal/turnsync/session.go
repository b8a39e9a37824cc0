// Package turnsync keeps a client's view of one game in step with the server.
//
// A Session holds the last authoritative record plus a local optimistic copy used
// for immediate feedback. The local copy never survives the next authoritative
// record, and multi-jump continuation is always recomputed from the board.
package turnsync

import (
    "context"
    "errors"
    "sync"
    "time"

    "go.uber.org/zap"

    "github.com/park285/dama-server/internal/game"
    "github.com/park285/dama-server/internal/notify"
    "github.com/park285/dama-server/internal/obslog"
    "github.com/park285/dama-server/internal/rules"
)

// Remote is the authoritative side a session reads from and submits to.
type Remote interface {
    Fetch(ctx context.Context, gameID string) (*game.Record, error)
    SubmitMove(ctx context.Context, gameID, pieceID string, to rules.Square, expectedVersion int64) (*game.Record, error)
}

var ErrNoRecord = errors.New("turnsync: session has no record")

type Session struct {
    mu         sync.Mutex
    player     string
    auth       *game.Record
    local      rules.TurnState
    optimistic bool
    onChange   func(*game.Record)
}

type Option func(*Session)

// WithOnChange registers a callback run after every accepted authoritative record.
func WithOnChange(fn func(*game.Record)) Option { return func(s *Session) { s.onChange = fn } }

func NewSession(player string, rec *game.Record, opts ...Option) *Session {
    s := &Session{player: player}
    for _, opt := range opts {
        opt(s)
    }
    if rec != nil {
        s.auth = rec
        s.local = stateOf(rec)
    }
    return s
}

// Record returns the last authoritative record.
func (s *Session) Record() *game.Record {
    s.mu.Lock(); defer s.mu.Unlock()
    return s.auth
}

// State returns the local view, optimistic or not.
func (s *Session) State() rules.TurnState {
    s.mu.Lock(); defer s.mu.Unlock()
    return s.local
}

func (s *Session) Optimistic() bool {
    s.mu.Lock(); defer s.mu.Unlock()
    return s.optimistic
}

// Color returns the side the session's player is seated on.
func (s *Session) Color() (rules.Color, bool) {
    s.mu.Lock(); defer s.mu.Unlock()
    if s.auth == nil { return "", false }
    return s.auth.ColorOf(s.player)
}

// ApplyLocal plays one leg on the local copy only.
func (s *Session) ApplyLocal(pieceID string, to rules.Square) (rules.Result, error) {
    s.mu.Lock(); defer s.mu.Unlock()
    return s.applyLocked(pieceID, to)
}

func (s *Session) applyLocked(pieceID string, to rules.Square) (rules.Result, error) {
    if s.auth == nil { return rules.Result{}, ErrNoRecord }
    if s.auth.Status != game.StatusActive { return rules.Result{}, game.ErrNotActive }
    color, ok := s.auth.ColorOf(s.player)
    if !ok { return rules.Result{}, game.ErrNotParticipant }
    next, res, err := s.local.Submit(color, pieceID, to, s.auth.Mode)
    if err != nil { return rules.Result{}, err }
    s.local = next
    s.optimistic = true
    return res, nil
}

// Reconcile adopts rec as the authoritative state unless it is older than the one held.
// It reports whether rec was adopted.
func (s *Session) Reconcile(rec *game.Record) bool {
    if rec == nil { return false }
    s.mu.Lock()
    if s.auth != nil && (rec.ID != s.auth.ID || rec.Version < s.auth.Version) {
        s.mu.Unlock()
        return false
    }
    changed := s.auth == nil || rec.Version > s.auth.Version || s.optimistic
    s.auth = rec
    s.local = stateOf(rec)
    s.optimistic = false
    cb := s.onChange
    s.mu.Unlock()

    if changed && cb != nil { cb(rec) }
    return true
}

// Submit applies the leg locally, sends it with the version it was computed against,
// then adopts the server's answer. On rejection the local copy rolls back.
func (s *Session) Submit(ctx context.Context, remote Remote, pieceID string, to rules.Square) (*game.Record, error) {
    s.mu.Lock()
    if _, err := s.applyLocked(pieceID, to); err != nil {
        s.mu.Unlock()
        return nil, err
    }
    id, version := s.auth.ID, s.auth.Version
    s.mu.Unlock()

    rec, err := remote.SubmitMove(ctx, id, pieceID, to, version)
    if err != nil {
        s.rollback()
        // a clock expiry still comes back with the committed record
        if rec != nil { s.Reconcile(rec) }
        obslog.L().Debug("dama_sync_submit_rejected", zap.String("game_id", id), zap.String("piece_id", pieceID), zap.Error(err))
        return rec, err
    }
    s.Reconcile(rec)
    return rec, nil
}

func (s *Session) rollback() {
    s.mu.Lock(); defer s.mu.Unlock()
    if s.auth != nil { s.local = stateOf(s.auth) }
    s.optimistic = false
}

// Run keeps the session current until the game completes or ctx ends. The push feed
// is preferred; polling every interval covers missed events and feed loss.
func (s *Session) Run(ctx context.Context, remote Remote, sub notify.Subscriber, interval time.Duration) error {
    rec := s.Record()
    if rec == nil { return ErrNoRecord }
    if interval <= 0 { interval = 3 * time.Second }
    id := rec.ID

    var stream notify.Stream
    defer func() {
        if stream != nil { _ = stream.Close() }
    }()
    subscribe := func() <-chan notify.Event {
        if sub == nil { return nil }
        st, err := sub.Subscribe(ctx, id)
        if err != nil {
            obslog.L().Warn("dama_sync_subscribe_error", zap.String("game_id", id), zap.Error(err))
            return nil
        }
        stream = st
        return st.Events()
    }
    poll := func() {
        cur, err := remote.Fetch(ctx, id)
        if err != nil {
            if ctx.Err() == nil { obslog.L().Warn("dama_sync_poll_error", zap.String("game_id", id), zap.Error(err)) }
            return
        }
        s.Reconcile(cur)
    }

    events := subscribe()
    // catch up on anything committed before the subscription
    poll()

    ticker := time.NewTicker(interval)
    defer ticker.Stop()
    for {
        if cur := s.Record(); cur != nil && cur.Finished() { return nil }
        select {
        case <-ctx.Done():
            return ctx.Err()
        case ev, ok := <-events:
            if !ok {
                if stream != nil { _ = stream.Close() }
                events, stream = nil, nil
                continue
            }
            if ev.Record != nil { s.Reconcile(ev.Record) }
        case <-ticker.C:
            poll()
            if events == nil && sub != nil { events = subscribe() }
        }
    }
}

// DetectContinuation reports whether the piece that made rec's last move must keep capturing.
// It looks only at the last move and the board, so a reconnecting client reaches the same
// answer as the client that moved.
func DetectContinuation(rec *game.Record) (string, bool) {
    if rec == nil || rec.Status != game.StatusActive || rec.LastMove == nil || !rec.LastMove.IsCapture() {
        return "", false
    }
    p, ok := rec.Board.Piece(rec.LastMove.PieceID)
    if !ok || p.Color != rec.Turn || p.Square() != rec.LastMove.To {
        return "", false
    }
    if len(rules.CaptureMoves(rec.Board, p, rec.Mode)) == 0 { return "", false }
    return p.ID, true
}

func stateOf(rec *game.Record) rules.TurnState {
    st := rules.TurnState{Board: rec.Board, Turn: rec.Turn, Phase: rules.PhaseNormal}
    switch {
    case rec.Status == game.StatusCompleted:
        st.Phase = rules.PhaseTerminal
    default:
        if id, ok := DetectContinuation(rec); ok {
            st.Phase = rules.PhaseContinuation
            st.ChainPieceID = id
        }
    }
    return st
}
