package game

import (
    "time"

    "github.com/park285/dama-server/internal/rules"
)

// Status represents a game lifecycle state.
type Status string

const (
    StatusWaiting   Status = "waiting"
    StatusActive    Status = "active"
    StatusCompleted Status = "completed"
)

// Kind tells how the game was allocated.
type Kind string

const (
    KindQuick   Kind = "quick"
    KindPrivate Kind = "private"
)

// EndReason records why a game was completed.
type EndReason string

const (
    EndElimination EndReason = "elimination"
    EndStalemate   EndReason = "stalemate"
    EndResignation EndReason = "resignation"
    EndDrawAgreed  EndReason = "draw_agreed"
    EndTimeout     EndReason = "timeout"
)

// Clock holds remaining thinking time per side in milliseconds.
type Clock struct {
    LightMs int64 `json:"light_ms"`
    DarkMs  int64 `json:"dark_ms"`
}

func (c Clock) Remaining(color rules.Color) time.Duration {
    if color == rules.Light {
        return time.Duration(c.LightMs) * time.Millisecond
    }
    return time.Duration(c.DarkMs) * time.Millisecond
}

func (c *Clock) charge(color rules.Color, d time.Duration) {
    ms := d.Milliseconds()
    if color == rules.Light {
        c.LightMs -= ms
        if c.LightMs < 0 { c.LightMs = 0 }
        return
    }
    c.DarkMs -= ms
    if c.DarkMs < 0 { c.DarkMs = 0 }
}

// Record is the authoritative game state stored in Redis.
// Player1 plays light and moves first; Player2 is empty while waiting.
type Record struct {
    ID      string     `json:"id"`
    Mode    rules.Mode `json:"mode"`
    Kind    Kind       `json:"kind"`
    Status  Status     `json:"status"`
    Player1 string     `json:"player1"`
    Player2 string     `json:"player2,omitempty"`

    Board        rules.Board `json:"board"`
    Turn         rules.Color `json:"current_turn"`
    Phase        rules.Phase `json:"phase"`
    ChainPieceID string      `json:"chain_piece_id,omitempty"`
    LastMove     *rules.Move `json:"last_move,omitempty"`
    MoveCount    int         `json:"move_count"`

    Clock         Clock     `json:"clock"`
    TurnStartedAt time.Time `json:"turn_started_at"`

    Winner        string    `json:"winner,omitempty"`
    Draw          bool      `json:"draw"`
    EndReason     EndReason `json:"end_reason,omitempty"`
    DrawOfferedBy string    `json:"draw_offered_by,omitempty"`

    InviteCode string `json:"invite_code,omitempty"`
    Version    int64  `json:"version"`

    CreatedAt time.Time  `json:"created_at"`
    StartedAt *time.Time `json:"started_at,omitempty"`
    UpdatedAt time.Time  `json:"updated_at"`
    EndedAt   *time.Time `json:"ended_at,omitempty"`
}

// ColorOf returns the side played by player.
func (r *Record) ColorOf(player string) (rules.Color, bool) {
    switch {
    case player == "":
        return "", false
    case player == r.Player1:
        return rules.Light, true
    case player == r.Player2:
        return rules.Dark, true
    }
    return "", false
}

// PlayerFor returns the player id seated on color.
func (r *Record) PlayerFor(color rules.Color) string {
    if color == rules.Light { return r.Player1 }
    return r.Player2
}

// Opponent returns the other participant, or "" if player is not seated.
func (r *Record) Opponent(player string) string {
    c, ok := r.ColorOf(player)
    if !ok { return "" }
    return r.PlayerFor(c.Opponent())
}

// State extracts the rules view of the record.
func (r *Record) State() rules.TurnState {
    s := rules.TurnState{Board: r.Board, Turn: r.Turn, Phase: r.Phase, ChainPieceID: r.ChainPieceID}
    if r.Status == StatusCompleted {
        s.Phase = rules.PhaseTerminal
    }
    return s
}

// Remaining returns the time left for color at now, counting the running turn.
func (r *Record) Remaining(color rules.Color, now time.Time) time.Duration {
    left := r.Clock.Remaining(color)
    if r.Status == StatusActive && r.Turn == color && !r.TurnStartedAt.IsZero() {
        left -= now.Sub(r.TurnStartedAt)
    }
    if left < 0 { left = 0 }
    return left
}

// Finished reports whether the record reached completed.
func (r *Record) Finished() bool { return r.Status == StatusCompleted }

// NewWaiting builds a waiting record owned by player. The board stays empty until activation.
func NewWaiting(id, player string, mode rules.Mode, kind Kind, budget time.Duration, now time.Time) *Record {
    ms := budget.Milliseconds()
    return &Record{
        ID:        id,
        Mode:      mode,
        Kind:      kind,
        Status:    StatusWaiting,
        Player1:   player,
        Turn:      rules.Light,
        Phase:     rules.PhaseNormal,
        Clock:     Clock{LightMs: ms, DarkMs: ms},
        CreatedAt: now,
        UpdatedAt: now,
    }
}

// Activate seats player2, lays out the board and starts light's clock.
func (r *Record) Activate(player2 string, now time.Time) {
    r.Player2 = player2
    r.Status = StatusActive
    r.Board = rules.InitialBoard(r.Mode)
    r.Turn = rules.Light
    r.Phase = rules.PhaseNormal
    r.ChainPieceID = ""
    r.TurnStartedAt = now
    started := now
    r.StartedAt = &started
    r.UpdatedAt = now
    r.Version++
}

func (r *Record) complete(reason EndReason, winner string, now time.Time) {
    r.Status = StatusCompleted
    r.Phase = rules.PhaseTerminal
    r.EndReason = reason
    r.Winner = winner
    r.Draw = reason == EndDrawAgreed
    r.DrawOfferedBy = ""
    r.ChainPieceID = ""
    ended := now
    r.EndedAt = &ended
}

// MoveRequest is one leg submitted by a player.
type MoveRequest struct {
    GameID   string
    PlayerID string
    PieceID  string
    To       rules.Square
    // ExpectedVersion, when non-zero, must equal the record version the move was computed against.
    ExpectedVersion int64
}

// Event types published on the change feed.
const (
    EventCreated   = "created"
    EventActivated = "activated"
    EventMove      = "move"
    EventDraw      = "draw"
    EventCompleted = "completed"
    EventCancelled = "cancelled"
)

// Errors
var (
    ErrNotFound         = errf("game not found")
    ErrNotActive        = errf("game is not active")
    ErrNotParticipant   = errf("player is not seated in this game")
    ErrNotYourTurn      = errf("not your turn")
    ErrStaleTurn        = errf("game state changed; reload and retry")
    ErrTerminalConflict = errf("game already completed")
    ErrNoDrawOffer      = errf("no draw offer to answer")
    ErrClockExpired     = errf("clock expired")
    ErrClockRunning     = errf("clock has time left")
    ErrUnavailable      = errf("game store unavailable")
)

type staticErr string
func (e staticErr) Error() string { return string(e) }
func errf(s string) error { return staticErr(s) }
