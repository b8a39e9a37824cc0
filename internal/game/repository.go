package game

import (
    "context"
    "database/sql"
    _ "embed"
    "encoding/json"
    "fmt"
    "strings"
    "time"

    _ "github.com/lib/pq"
)

//go:embed schema.sql
var schemaSQL string

// Repository archives completed games in Postgres.
type Repository struct {
    db *sql.DB
}

func NewRepository(databaseURL string) (*Repository, error) {
    if strings.TrimSpace(databaseURL) == "" {
        return nil, fmt.Errorf("DATABASE_URL is required")
    }
    db, err := sql.Open("postgres", databaseURL)
    if err != nil {
        return nil, err
    }
    db.SetMaxOpenConns(16)
    db.SetMaxIdleConns(8)
    db.SetConnMaxLifetime(30 * time.Minute)
    ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
    defer cancel()
    if err := db.PingContext(ctx); err != nil {
        _ = db.Close()
        return nil, err
    }
    return &Repository{db: db}, nil
}

// EnsureSchema creates the archive table when missing.
func (r *Repository) EnsureSchema(ctx context.Context) error {
    if r == nil || r.db == nil { return nil }
    _, err := r.db.ExecContext(ctx, schemaSQL)
    return err
}

func (r *Repository) Close() error {
    if r == nil || r.db == nil { return nil }
    return r.db.Close()
}

// SaveResult upserts a completed game into dama_games.
func (r *Repository) SaveResult(ctx context.Context, g *Record) error {
    if r == nil || r.db == nil || g == nil {
        return nil
    }
    boardRaw, err := json.Marshal(g.Board)
    if err != nil { return err }

    started := g.CreatedAt
    if g.StartedAt != nil { started = *g.StartedAt }
    ended := g.UpdatedAt
    if g.EndedAt != nil { ended = *g.EndedAt }
    duration := ended.Sub(started).Milliseconds()
    if duration < 0 { duration = 0 }

    q := `INSERT INTO dama_games (
        game_id, mode, kind, player1_id, player2_id,
        result, end_reason, winner_id, move_count, final_board,
        light_ms_left, dark_ms_left, started_at, ended_at, duration_ms
      ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15
      ) ON CONFLICT (game_id) DO UPDATE SET
        mode=EXCLUDED.mode,
        kind=EXCLUDED.kind,
        player1_id=EXCLUDED.player1_id,
        player2_id=EXCLUDED.player2_id,
        result=EXCLUDED.result,
        end_reason=EXCLUDED.end_reason,
        winner_id=EXCLUDED.winner_id,
        move_count=EXCLUDED.move_count,
        final_board=EXCLUDED.final_board,
        light_ms_left=EXCLUDED.light_ms_left,
        dark_ms_left=EXCLUDED.dark_ms_left,
        started_at=EXCLUDED.started_at,
        ended_at=EXCLUDED.ended_at,
        duration_ms=EXCLUDED.duration_ms`

    _, err = r.db.ExecContext(ctx, q,
        g.ID, string(g.Mode), string(g.Kind), g.Player1, g.Player2,
        resultToken(g), string(g.EndReason), nullIfEmpty(g.Winner), g.MoveCount, string(boardRaw),
        g.Clock.LightMs, g.Clock.DarkMs, started, ended, duration,
    )
    return err
}

// resultToken is "light", "dark" or "draw"; "" for records that are not completed.
func resultToken(g *Record) string {
    if g == nil || g.Status != StatusCompleted { return "" }
    if g.Draw { return "draw" }
    switch g.Winner {
    case g.Player1:
        return "light"
    case g.Player2:
        return "dark"
    }
    return ""
}

func nullIfEmpty(s string) any {
    if strings.TrimSpace(s) == "" { return nil }
    return s
}
