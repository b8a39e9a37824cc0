package rules

import "fmt"

// Phase of the turn state machine.
type Phase string

const (
	PhaseNormal       Phase = "normal"
	PhaseContinuation Phase = "continuation"
	PhaseTerminal     Phase = "terminal"
)

// TurnState is the whole of what the rules need to know about a game in progress.
type TurnState struct {
	Board        Board  `json:"board"`
	Turn         Color  `json:"turn"`
	Phase        Phase  `json:"phase"`
	ChainPieceID string `json:"chain_piece_id,omitempty"`
	// Winner is set once Phase is terminal.
	Winner Color `json:"winner,omitempty"`
}

// NewTurnState returns the opening position with light to move.
func NewTurnState(mode Mode) TurnState {
	return TurnState{Board: InitialBoard(mode), Turn: Light, Phase: PhaseNormal}
}

// Moves lists what the side to move may play, honoring an unfinished chain.
func (s TurnState) Moves(mode Mode) []Move {
	switch s.Phase {
	case PhaseTerminal:
		return nil
	case PhaseContinuation:
		p, ok := s.Board.Piece(s.ChainPieceID)
		if !ok {
			return nil
		}
		return CaptureMoves(s.Board, p, mode)
	default:
		return LegalMoves(s.Board, s.Turn, mode)
	}
}

// Submit validates and applies one leg for mover and returns the next state.
// The receiver is never modified.
func (s TurnState) Submit(mover Color, pieceID string, dest Square, mode Mode) (TurnState, Result, error) {
	if s.Phase == PhaseTerminal {
		return s, Result{}, ErrGameOver
	}
	if mover != s.Turn {
		return s, Result{}, ErrNotYourTurn
	}
	p, ok := s.Board.Piece(pieceID)
	if !ok {
		return s, Result{}, fmt.Errorf("%w: %s", ErrUnknownPiece, pieceID)
	}
	if p.Color != mover {
		return s, Result{}, fmt.Errorf("%w: %s belongs to %s", ErrIllegalMove, pieceID, p.Color)
	}
	if s.Phase == PhaseContinuation {
		if pieceID != s.ChainPieceID {
			return s, Result{}, ErrChainPiece
		}
		// only further captures; the chain piece always has one in this phase
		if _, ok := findMove(CaptureMoves(s.Board, p, mode), dest); !ok {
			return s, Result{}, fmt.Errorf("%w: %s to %s", ErrIllegalMove, pieceID, dest)
		}
	}

	res, err := Apply(s.Board, pieceID, dest, mode)
	if err != nil {
		return s, Result{}, err
	}

	next := TurnState{Board: res.Board, Turn: mover, Phase: PhaseNormal}
	if res.ContinuesTurn {
		next.Phase = PhaseContinuation
		next.ChainPieceID = pieceID
		return next, res, nil
	}
	next.Turn = mover.Opponent()
	if IsTerminalFor(next.Board, next.Turn, mode) {
		next.Phase = PhaseTerminal
		next.Winner = mover
	}
	return next, res, nil
}
