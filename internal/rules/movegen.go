package rules

// Move is a single leg: one step, one slide, or one jump over exactly one piece.
type Move struct {
	PieceID  string   `json:"piece_id"`
	From     Square   `json:"from"`
	To       Square   `json:"to"`
	Captured []Square `json:"captured,omitempty"`
}

func (m Move) IsCapture() bool { return len(m.Captured) > 0 }

var diagonals = [4]Square{{Row: -1, Col: -1}, {Row: -1, Col: 1}, {Row: 1, Col: -1}, {Row: 1, Col: 1}}

// flies reports whether p slides and captures along whole diagonals.
func flies(p Piece, mode Mode) bool { return mode == Tank || p.Rank == King }

// capturable reports whether attacker may jump target.
// A soldier-mode regular never takes a king, whichever path it captures on.
func capturable(attacker, target Piece, mode Mode) bool {
	if attacker.Color == target.Color {
		return false
	}
	if mode == Soldier && attacker.Rank == Regular && target.Rank == King {
		return false
	}
	return true
}

// CaptureMoves lists every capture leg available to p, ignoring what other pieces can do.
func CaptureMoves(b Board, p Piece, mode Mode) []Move {
	var out []Move
	from := p.Square()
	for _, d := range diagonals {
		if flies(p, mode) {
			sq := from.add(d)
			for sq.Valid() && !b.Occupied(sq) {
				sq = sq.add(d)
			}
			if !sq.Valid() {
				continue
			}
			target, _ := b.PieceAt(sq)
			if !capturable(p, target, mode) {
				continue
			}
			for land := sq.add(d); land.Valid() && !b.Occupied(land); land = land.add(d) {
				out = append(out, Move{PieceID: p.ID, From: from, To: land, Captured: []Square{sq}})
			}
			continue
		}
		over := from.add(d)
		land := over.add(d)
		if !land.Valid() || b.Occupied(land) {
			continue
		}
		target, ok := b.PieceAt(over)
		if !ok || !capturable(p, target, mode) {
			continue
		}
		out = append(out, Move{PieceID: p.ID, From: from, To: land, Captured: []Square{over}})
	}
	return out
}

// SimpleMoves lists the non-capturing moves of p.
func SimpleMoves(b Board, p Piece, mode Mode) []Move {
	var out []Move
	from := p.Square()
	if flies(p, mode) {
		for _, d := range diagonals {
			for sq := from.add(d); sq.Valid() && !b.Occupied(sq); sq = sq.add(d) {
				out = append(out, Move{PieceID: p.ID, From: from, To: sq})
			}
		}
		return out
	}
	fwd := p.Color.forward()
	for _, dc := range []int{-1, 1} {
		sq := Square{Row: from.Row + fwd, Col: from.Col + dc}
		if sq.Valid() && !b.Occupied(sq) {
			out = append(out, Move{PieceID: p.ID, From: from, To: sq})
		}
	}
	return out
}

// HasCapture reports whether any piece of color c can capture.
func HasCapture(b Board, c Color, mode Mode) bool {
	for _, p := range b.PiecesOf(c) {
		if len(CaptureMoves(b, p, mode)) > 0 {
			return true
		}
	}
	return false
}

// PieceMoves returns the legal moves of p under the forced-capture rule.
func PieceMoves(b Board, p Piece, mode Mode) []Move {
	if HasCapture(b, p.Color, mode) {
		return CaptureMoves(b, p, mode)
	}
	return SimpleMoves(b, p, mode)
}

// LegalMoves returns every legal move for color c.
func LegalMoves(b Board, c Color, mode Mode) []Move {
	forced := HasCapture(b, c, mode)
	var out []Move
	for _, p := range b.PiecesOf(c) {
		if forced {
			out = append(out, CaptureMoves(b, p, mode)...)
		} else {
			out = append(out, SimpleMoves(b, p, mode)...)
		}
	}
	return out
}

// GenerateLegalMoves returns the destinations legal for piece this turn.
func GenerateLegalMoves(piece Piece, b Board, mode Mode) []Square {
	moves := PieceMoves(b, piece, mode)
	out := make([]Square, 0, len(moves))
	for _, m := range moves {
		out = append(out, m.To)
	}
	return out
}

func findMove(moves []Move, to Square) (Move, bool) {
	for _, m := range moves {
		if m.To == to {
			return m, true
		}
	}
	return Move{}, false
}
