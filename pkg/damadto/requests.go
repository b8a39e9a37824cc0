package damadto

import (
	"github.com/park285/dama-server/internal/game"
	"github.com/park285/dama-server/internal/rules"
)

type MatchRequest struct {
	Mode rules.Mode `json:"mode"`
}

type JoinRequest struct {
	Code string `json:"code"`
}

type AwaitRequest struct {
	WaitSeconds int `json:"wait_seconds"`
}

type MatchResponse struct {
	Game    *game.Record `json:"game"`
	Created bool         `json:"created"`
}

type GameResponse struct {
	Game *game.Record `json:"game"`
}

type GamesResponse struct {
	Games []*game.Record `json:"games"`
}

type MoveRequest struct {
	PieceID         string       `json:"piece_id"`
	To              rules.Square `json:"to"`
	ExpectedVersion int64        `json:"expected_version"`
}

type MoveResponse struct {
	Game          *game.Record  `json:"game"`
	Captured      *rules.Square `json:"captured,omitempty"`
	Promoted      bool          `json:"promoted"`
	ContinuesTurn bool          `json:"continues_turn"`
}

// LegalMovesResponse lists what the side to move may play; empty once the game is over.
type LegalMovesResponse struct {
	GameID  string       `json:"game_id"`
	Version int64        `json:"version"`
	Turn    rules.Color  `json:"turn"`
	Moves   []rules.Move `json:"moves"`
}

type PingResponse struct {
	Status string `json:"status"`
}
