package rules

import (
	"errors"
	"fmt"
)

var (
	ErrIllegalMove  = errors.New("illegal move")
	ErrUnknownPiece = errors.New("unknown piece")
	ErrNotYourTurn  = errors.New("not your turn")
	ErrGameOver     = errors.New("game is over")

	// ErrChainPiece: during a multi-jump only the capturing piece may move.
	ErrChainPiece = fmt.Errorf("%w: continue capturing with the same piece", ErrIllegalMove)
)

// Result describes the outcome of applying one leg.
type Result struct {
	Board          Board   `json:"board"`
	Move           Move    `json:"move"`
	CapturedSquare *Square `json:"captured_square,omitempty"`
	CapturedPiece  *Piece  `json:"captured_piece,omitempty"`
	Promoted       bool    `json:"promoted"`
	ContinuesTurn  bool    `json:"continues_turn"`
}

// Apply moves pieceID to dest if dest is in its legal set, removes the jumped
// piece, promotes, and reports whether the same piece must keep capturing.
func Apply(b Board, pieceID string, dest Square, mode Mode) (Result, error) {
	p, ok := b.Piece(pieceID)
	if !ok {
		return Result{}, fmt.Errorf("%w: %s", ErrUnknownPiece, pieceID)
	}
	mv, ok := findMove(PieceMoves(b, p, mode), dest)
	if !ok {
		return Result{}, fmt.Errorf("%w: %s to %s", ErrIllegalMove, pieceID, dest)
	}

	res := Result{Move: mv}
	next := b
	if mv.IsCapture() {
		sq := mv.Captured[0]
		victim, _ := b.PieceAt(sq)
		next = next.without(sq)
		res.CapturedSquare = &sq
		res.CapturedPiece = &victim
	}

	moved := p
	moved.Row, moved.Col = dest.Row, dest.Col
	if mode == Soldier && moved.Rank == Regular && dest.Row == moved.Color.PromotionRow() {
		moved.Rank = King
		res.Promoted = true
	}
	next = next.with(moved)
	res.Board = next

	if mv.IsCapture() {
		res.ContinuesTurn = len(CaptureMoves(next, moved, mode)) > 0
	}
	return res, nil
}

// IsTerminalFor reports whether color c, about to move, has lost:
// no pieces left, or no legal move for any of them.
func IsTerminalFor(b Board, c Color, mode Mode) bool {
	if b.Count(c) == 0 {
		return true
	}
	return len(LegalMoves(b, c, mode)) == 0
}
