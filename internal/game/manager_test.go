package game

import (
    "context"
    "errors"
    "sync"
    "testing"
    "time"

    miniredis "github.com/alicebob/miniredis/v2"
    "github.com/redis/go-redis/v9"

    "github.com/park285/dama-server/internal/rules"
)

type testClock struct {
    mu sync.Mutex
    t  time.Time
}

func (c *testClock) Now() time.Time { c.mu.Lock(); defer c.mu.Unlock(); return c.t }
func (c *testClock) Advance(d time.Duration) { c.mu.Lock(); c.t = c.t.Add(d); c.mu.Unlock() }

type recordingPublisher struct {
    mu     sync.Mutex
    events []string
}

func (p *recordingPublisher) Publish(_ context.Context, event string, _ *Record) error {
    p.mu.Lock(); defer p.mu.Unlock()
    p.events = append(p.events, event)
    return nil
}

func (p *recordingPublisher) Events() []string {
    p.mu.Lock(); defer p.mu.Unlock()
    return append([]string(nil), p.events...)
}

type recordingArchive struct {
    mu    sync.Mutex
    saved []*Record
}

func (a *recordingArchive) SaveResult(_ context.Context, r *Record) error {
    a.mu.Lock(); defer a.mu.Unlock()
    a.saved = append(a.saved, r)
    return nil
}

type fixture struct {
    m     *Manager
    clock *testClock
    pub   *recordingPublisher
    arch  *recordingArchive
}

func newTestManager(t *testing.T) *fixture {
    t.Helper()
    mr, err := miniredis.Run()
    if err != nil { t.Fatalf("miniredis: %v", err) }
    t.Cleanup(func() { mr.Close() })
    rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
    t.Cleanup(func() { _ = rdb.Close() })

    f := &fixture{
        clock: &testClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)},
        pub:   &recordingPublisher{},
        arch:  &recordingArchive{},
    }
    f.m = NewManager(rdb,
        WithNow(f.clock.Now),
        WithPublisher(f.pub),
        WithArchive(f.arch),
        WithClockBudget(time.Minute),
    )
    return f
}

// seedActive stores an active alice (light) vs bob (dark) game. A non-empty board replaces the opening.
func (f *fixture) seedActive(t *testing.T, board rules.Board) *Record {
    t.Helper()
    ctx := context.Background()
    now := f.clock.Now()
    r := NewWaiting(NewID(), "alice", rules.Soldier, KindQuick, f.m.ClockBudget(), now)
    r.Activate("bob", now)
    if board.Len() > 0 { r.Board = board }
    pipe := f.m.Redis().TxPipeline()
    if err := WriteRecord(ctx, pipe, r, f.m.TTL()); err != nil { t.Fatalf("WriteRecord: %v", err) }
    if _, err := pipe.Exec(ctx); err != nil { t.Fatalf("exec: %v", err) }
    return r
}

func move(g *Record, player, piece string, row, col int, version int64) MoveRequest {
    return MoveRequest{GameID: g.ID, PlayerID: player, PieceID: piece, To: rules.Square{Row: row, Col: col}, ExpectedVersion: version}
}

func TestSubmitMove_OpeningThenStale(t *testing.T) {
    f := newTestManager(t)
    ctx := context.Background()
    g := f.seedActive(t, rules.Board{})

    f.clock.Advance(5 * time.Second)
    rec, res, err := f.m.SubmitMove(ctx, move(g, "alice", "piece-12", 4, 1, g.Version))
    if err != nil { t.Fatalf("SubmitMove: %v", err) }
    if res.ContinuesTurn { t.Fatalf("simple move must not continue") }
    if rec.Turn != rules.Dark || rec.Version != g.Version+1 || rec.MoveCount != 1 {
        t.Fatalf("unexpected record: turn=%s version=%d moves=%d", rec.Turn, rec.Version, rec.MoveCount)
    }
    if rec.Clock.LightMs != 55_000 || rec.Clock.DarkMs != 60_000 {
        t.Fatalf("clock not charged to mover: %+v", rec.Clock)
    }

    // bob answers against the version from before alice's move
    if _, _, err := f.m.SubmitMove(ctx, move(g, "bob", "piece-8", 3, 2, g.Version)); !errors.Is(err, ErrStaleTurn) {
        t.Fatalf("expected ErrStaleTurn, got %v", err)
    }
    if _, _, err := f.m.SubmitMove(ctx, move(g, "alice", "piece-13", 4, 3, 0)); !errors.Is(err, ErrNotYourTurn) {
        t.Fatalf("expected ErrNotYourTurn, got %v", err)
    }
    if _, _, err := f.m.SubmitMove(ctx, move(g, "mallory", "piece-8", 3, 2, 0)); !errors.Is(err, ErrNotParticipant) {
        t.Fatalf("expected ErrNotParticipant, got %v", err)
    }

    cur, err := f.m.Get(ctx, g.ID)
    if err != nil { t.Fatalf("Get: %v", err) }
    if cur.Version != rec.Version { t.Fatalf("rejected submissions changed the record: %d != %d", cur.Version, rec.Version) }
    if p, ok := cur.Board.PieceAt(rules.Square{Row: 4, Col: 1}); !ok || p.ID != "piece-12" {
        t.Fatalf("board did not round-trip: %v", cur.Board)
    }
}

func TestSubmitMove_IllegalLeavesRecord(t *testing.T) {
    f := newTestManager(t)
    ctx := context.Background()
    g := f.seedActive(t, rules.Board{})

    _, _, err := f.m.SubmitMove(ctx, move(g, "alice", "piece-12", 3, 2, 0))
    if !errors.Is(err, rules.ErrIllegalMove) { t.Fatalf("expected illegal move, got %v", err) }
    _, _, err = f.m.SubmitMove(ctx, move(g, "alice", "piece-0", 3, 2, 0))
    if !errors.Is(err, rules.ErrIllegalMove) { t.Fatalf("moving an opponent piece must be illegal, got %v", err) }

    cur, _ := f.m.Get(ctx, g.ID)
    if cur.Version != g.Version { t.Fatalf("version moved on illegal submission") }
    if len(f.pub.Events()) != 0 { t.Fatalf("illegal move published events: %v", f.pub.Events()) }
}

func TestSubmitMove_MultiJumpAndCompletion(t *testing.T) {
    f := newTestManager(t)
    ctx := context.Background()
    board := rules.MustBoard(
        rules.Piece{ID: "l", Color: rules.Light, Rank: rules.Regular, Row: 5, Col: 0},
        rules.Piece{ID: "d1", Color: rules.Dark, Rank: rules.Regular, Row: 4, Col: 1},
        rules.Piece{ID: "d2", Color: rules.Dark, Rank: rules.Regular, Row: 2, Col: 3},
    )
    g := f.seedActive(t, board)

    rec, res, err := f.m.SubmitMove(ctx, move(g, "alice", "l", 3, 2, 0))
    if err != nil { t.Fatalf("first leg: %v", err) }
    if !res.ContinuesTurn || rec.Turn != rules.Light || rec.Phase != rules.PhaseContinuation || rec.ChainPieceID != "l" {
        t.Fatalf("expected continuation, got turn=%s phase=%s chain=%q", rec.Turn, rec.Phase, rec.ChainPieceID)
    }
    if _, _, err := f.m.SubmitMove(ctx, move(g, "bob", "d2", 3, 4, 0)); !errors.Is(err, ErrNotYourTurn) {
        t.Fatalf("opponent moved mid-chain: %v", err)
    }

    rec, _, err = f.m.SubmitMove(ctx, move(g, "alice", "l", 1, 4, 0))
    if err != nil { t.Fatalf("second leg: %v", err) }
    if rec.Status != StatusCompleted || rec.Winner != "alice" || rec.EndReason != EndElimination {
        t.Fatalf("expected alice to win by elimination, got status=%s winner=%q reason=%s", rec.Status, rec.Winner, rec.EndReason)
    }
    if len(f.arch.saved) != 1 || f.arch.saved[0].ID != g.ID { t.Fatalf("result not archived: %v", f.arch.saved) }
    ev := f.pub.Events()
    if len(ev) != 2 || ev[0] != EventMove || ev[1] != EventCompleted { t.Fatalf("unexpected events: %v", ev) }

    if _, err := f.m.Resign(ctx, g.ID, "bob"); !errors.Is(err, ErrTerminalConflict) {
        t.Fatalf("resign after completion: %v", err)
    }
    active, _ := f.m.Redis().SIsMember(ctx, ActiveKey, g.ID).Result()
    if active { t.Fatalf("completed game still in active set") }
}

func TestResign(t *testing.T) {
    f := newTestManager(t)
    ctx := context.Background()
    g := f.seedActive(t, rules.Board{})

    rec, err := f.m.Resign(ctx, g.ID, "alice")
    if err != nil { t.Fatalf("Resign: %v", err) }
    if rec.Winner != "bob" || rec.EndReason != EndResignation || rec.EndedAt == nil {
        t.Fatalf("unexpected resign result: %+v", rec)
    }
}

func TestDrawOfferAccept(t *testing.T) {
    f := newTestManager(t)
    ctx := context.Background()
    g := f.seedActive(t, rules.Board{})

    if _, err := f.m.AcceptDraw(ctx, g.ID, "bob"); !errors.Is(err, ErrNoDrawOffer) {
        t.Fatalf("accept without offer: %v", err)
    }
    rec, err := f.m.OfferDraw(ctx, g.ID, "alice")
    if err != nil || rec.DrawOfferedBy != "alice" || rec.Status != StatusActive {
        t.Fatalf("OfferDraw: %v %+v", err, rec)
    }
    if _, err := f.m.AcceptDraw(ctx, g.ID, "alice"); !errors.Is(err, ErrNoDrawOffer) {
        t.Fatalf("offerer accepted own offer: %v", err)
    }
    rec, err = f.m.AcceptDraw(ctx, g.ID, "bob")
    if err != nil { t.Fatalf("AcceptDraw: %v", err) }
    if !rec.Draw || rec.Winner != "" || rec.EndReason != EndDrawAgreed {
        t.Fatalf("expected agreed draw, got %+v", rec)
    }
}

func TestDrawOfferClearedByMove(t *testing.T) {
    f := newTestManager(t)
    ctx := context.Background()
    g := f.seedActive(t, rules.Board{})

    if _, err := f.m.OfferDraw(ctx, g.ID, "bob"); err != nil { t.Fatalf("OfferDraw: %v", err) }
    rec, _, err := f.m.SubmitMove(ctx, move(g, "alice", "piece-12", 4, 1, 0))
    if err != nil { t.Fatalf("SubmitMove: %v", err) }
    if rec.DrawOfferedBy != "" { t.Fatalf("offer survived opponent move") }

    if _, err := f.m.OfferDraw(ctx, g.ID, "alice"); err != nil { t.Fatalf("OfferDraw: %v", err) }
    rec, err = f.m.DeclineDraw(ctx, g.ID, "bob")
    if err != nil || rec.DrawOfferedBy != "" || rec.Status != StatusActive { t.Fatalf("DeclineDraw: %v %+v", err, rec) }
}

func TestMutualOffersAgreeDraw(t *testing.T) {
    f := newTestManager(t)
    ctx := context.Background()
    g := f.seedActive(t, rules.Board{})

    if _, err := f.m.OfferDraw(ctx, g.ID, "alice"); err != nil { t.Fatalf("OfferDraw: %v", err) }
    rec, err := f.m.OfferDraw(ctx, g.ID, "bob")
    if err != nil { t.Fatalf("OfferDraw: %v", err) }
    if !rec.Draw || rec.Status != StatusCompleted { t.Fatalf("expected draw, got %+v", rec) }
}

func TestClockExpiry(t *testing.T) {
    f := newTestManager(t)
    ctx := context.Background()
    g := f.seedActive(t, rules.Board{})

    if _, err := f.m.ClaimTimeout(ctx, g.ID, "bob"); !errors.Is(err, ErrClockRunning) {
        t.Fatalf("claim with time left: %v", err)
    }
    f.clock.Advance(2 * time.Minute)
    rec, _, err := f.m.SubmitMove(ctx, move(g, "alice", "piece-12", 4, 1, 0))
    if !errors.Is(err, ErrClockExpired) { t.Fatalf("expected ErrClockExpired, got %v", err) }
    if rec == nil || rec.Status != StatusCompleted || rec.Winner != "bob" || rec.EndReason != EndTimeout {
        t.Fatalf("timeout not committed: %+v", rec)
    }
    if rec.Clock.LightMs != 0 { t.Fatalf("light clock should be empty, got %d", rec.Clock.LightMs) }
}

func TestReaperSweep(t *testing.T) {
    f := newTestManager(t)
    ctx := context.Background()
    stale := f.seedActive(t, rules.Board{})
    f.clock.Advance(45 * time.Second)
    fresh := f.seedActive(t, rules.Board{})

    f.clock.Advance(30 * time.Second)
    n, err := NewReaper(f.m, time.Second).Sweep(ctx)
    if err != nil { t.Fatalf("Sweep: %v", err) }
    if n != 1 { t.Fatalf("expected one timeout, got %d", n) }

    got, _ := f.m.Get(ctx, stale.ID)
    if got.Status != StatusCompleted || got.Winner != "bob" { t.Fatalf("stale game not timed out: %+v", got) }
    got, _ = f.m.Get(ctx, fresh.ID)
    if got.Status != StatusActive { t.Fatalf("fresh game ended early") }
}

func TestConcurrentSubmissionsOneWins(t *testing.T) {
    f := newTestManager(t)
    ctx := context.Background()
    g := f.seedActive(t, rules.Board{})

    var wg sync.WaitGroup
    errs := make([]error, 2)
    targets := []rules.Square{{Row: 4, Col: 1}, {Row: 4, Col: 3}}
    pieces := []string{"piece-12", "piece-13"}
    for i := range errs {
        wg.Add(1)
        go func(i int) {
            defer wg.Done()
            _, _, errs[i] = f.m.SubmitMove(ctx, MoveRequest{GameID: g.ID, PlayerID: "alice", PieceID: pieces[i], To: targets[i], ExpectedVersion: g.Version})
        }(i)
    }
    wg.Wait()

    wins, stale := 0, 0
    for _, err := range errs {
        switch {
        case err == nil:
            wins++
        case errors.Is(err, ErrStaleTurn):
            stale++
        default:
            t.Fatalf("unexpected error: %v", err)
        }
    }
    if wins != 1 || stale != 1 { t.Fatalf("expected one winner and one stale, got wins=%d stale=%d", wins, stale) }
    cur, _ := f.m.Get(ctx, g.ID)
    if cur.MoveCount != 1 || cur.Version != g.Version+1 { t.Fatalf("record applied %d moves (version %d)", cur.MoveCount, cur.Version) }
}

func TestWaitingGameRejectsMoves(t *testing.T) {
    f := newTestManager(t)
    ctx := context.Background()
    r := NewWaiting(NewID(), "alice", rules.Tank, KindPrivate, time.Minute, f.clock.Now())
    pipe := f.m.Redis().TxPipeline()
    _ = WriteRecord(ctx, pipe, r, 0)
    if _, err := pipe.Exec(ctx); err != nil { t.Fatalf("exec: %v", err) }

    if _, _, err := f.m.SubmitMove(ctx, move(r, "alice", "piece-12", 4, 1, 0)); !errors.Is(err, ErrNotActive) {
        t.Fatalf("expected ErrNotActive, got %v", err)
    }
    if _, err := f.m.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
        t.Fatalf("expected ErrNotFound, got %v", err)
    }
}

func TestGamesByPlayer(t *testing.T) {
    f := newTestManager(t)
    ctx := context.Background()
    first := f.seedActive(t, rules.Board{})
    f.clock.Advance(time.Second)
    second := f.seedActive(t, rules.Board{})

    list, err := f.m.GamesByPlayer(ctx, "bob")
    if err != nil { t.Fatalf("GamesByPlayer: %v", err) }
    if len(list) != 2 || list[0].ID != second.ID || list[1].ID != first.ID {
        t.Fatalf("unexpected order: %v", list)
    }
}
