package rules

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Size is the number of rows and columns on the board.
const Size = 8

// Color identifies a side.
type Color string

const (
	Light Color = "light"
	Dark  Color = "dark"
)

// Opponent returns the other side.
func (c Color) Opponent() Color {
	if c == Light {
		return Dark
	}
	return Light
}

func (c Color) Valid() bool { return c == Light || c == Dark }

// forward is the row delta a regular piece of this color advances by.
func (c Color) forward() int {
	if c == Light {
		return -1
	}
	return 1
}

// PromotionRow is the far row for the color.
func (c Color) PromotionRow() int {
	if c == Light {
		return 0
	}
	return Size - 1
}

// Rank of a piece.
type Rank string

const (
	Regular Rank = "regular"
	King    Rank = "king"
)

func (r Rank) Valid() bool { return r == Regular || r == King }

// Mode selects the rule set.
type Mode string

const (
	// Soldier: regulars step forward and jump adjacent pieces, kings fly.
	Soldier Mode = "soldier"
	// Tank: every piece moves and captures as a flying king from the start.
	Tank Mode = "tank"
)

func (m Mode) Valid() bool { return m == Soldier || m == Tank }

// ParseMode accepts a mode name case-insensitively.
func ParseMode(s string) (Mode, error) {
	m := Mode(strings.ToLower(strings.TrimSpace(s)))
	if !m.Valid() {
		return "", fmt.Errorf("unknown mode %q", s)
	}
	return m, nil
}

// Square is a board coordinate.
type Square struct {
	Row int `json:"row"`
	Col int `json:"col"`
}

// Valid reports whether the square lies on the board.
func (s Square) Valid() bool {
	return s.Row >= 0 && s.Row < Size && s.Col >= 0 && s.Col < Size
}

// Playable reports whether the square is one of the diagonal squares pieces start on.
func (s Square) Playable() bool { return (s.Row+s.Col)%2 == 1 }

func (s Square) add(d Square) Square { return Square{Row: s.Row + d.Row, Col: s.Col + d.Col} }

func (s Square) String() string { return fmt.Sprintf("(%d,%d)", s.Row, s.Col) }

// Piece is a single man or king. Pieces are values; the board owns them.
type Piece struct {
	ID    string `json:"id"`
	Color Color  `json:"color"`
	Rank  Rank   `json:"rank"`
	Row   int    `json:"row"`
	Col   int    `json:"col"`
}

func (p Piece) Square() Square { return Square{Row: p.Row, Col: p.Col} }

// Board is an ordered collection of pieces with unique ids and squares.
// The zero value is an empty board.
type Board struct {
	pieces []Piece
}

// NewBoard validates pieces and returns a board holding a copy of them.
func NewBoard(pieces []Piece) (Board, error) {
	ids := make(map[string]struct{}, len(pieces))
	squares := make(map[Square]struct{}, len(pieces))
	out := make([]Piece, 0, len(pieces))
	for _, p := range pieces {
		if strings.TrimSpace(p.ID) == "" {
			return Board{}, fmt.Errorf("piece without id at %s", p.Square())
		}
		if !p.Color.Valid() {
			return Board{}, fmt.Errorf("piece %s: invalid color %q", p.ID, p.Color)
		}
		if !p.Rank.Valid() {
			return Board{}, fmt.Errorf("piece %s: invalid rank %q", p.ID, p.Rank)
		}
		if !p.Square().Valid() {
			return Board{}, fmt.Errorf("piece %s: square %s off board", p.ID, p.Square())
		}
		if _, dup := ids[p.ID]; dup {
			return Board{}, fmt.Errorf("duplicate piece id %s", p.ID)
		}
		if _, dup := squares[p.Square()]; dup {
			return Board{}, fmt.Errorf("two pieces on %s", p.Square())
		}
		ids[p.ID] = struct{}{}
		squares[p.Square()] = struct{}{}
		out = append(out, p)
	}
	return Board{pieces: out}, nil
}

// MustBoard is NewBoard for literals known to be valid.
func MustBoard(pieces ...Piece) Board {
	b, err := NewBoard(pieces)
	if err != nil {
		panic(err)
	}
	return b
}

// InitialBoard returns the starting layout: dark on rows 0-2, light on rows 5-7,
// dark pieces numbered first from piece-0.
func InitialBoard(mode Mode) Board {
	rank := Regular
	if mode == Tank {
		rank = King
	}
	pieces := make([]Piece, 0, 24)
	n := 0
	place := func(c Color, fromRow, toRow int) {
		for row := fromRow; row <= toRow; row++ {
			for col := 0; col < Size; col++ {
				if !(Square{Row: row, Col: col}).Playable() {
					continue
				}
				pieces = append(pieces, Piece{ID: fmt.Sprintf("piece-%d", n), Color: c, Rank: rank, Row: row, Col: col})
				n++
			}
		}
	}
	place(Dark, 0, 2)
	place(Light, 5, 7)
	return Board{pieces: pieces}
}

// Len returns the number of pieces on the board.
func (b Board) Len() int { return len(b.pieces) }

// Pieces returns a copy of the pieces in board order.
func (b Board) Pieces() []Piece {
	out := make([]Piece, len(b.pieces))
	copy(out, b.pieces)
	return out
}

// PieceAt returns the piece on sq, if any.
func (b Board) PieceAt(sq Square) (Piece, bool) {
	for _, p := range b.pieces {
		if p.Row == sq.Row && p.Col == sq.Col {
			return p, true
		}
	}
	return Piece{}, false
}

func (b Board) Occupied(sq Square) bool {
	_, ok := b.PieceAt(sq)
	return ok
}

// Piece looks a piece up by id.
func (b Board) Piece(id string) (Piece, bool) {
	for _, p := range b.pieces {
		if p.ID == id {
			return p, true
		}
	}
	return Piece{}, false
}

// PiecesOf returns the pieces of one color in board order.
func (b Board) PiecesOf(c Color) []Piece {
	var out []Piece
	for _, p := range b.pieces {
		if p.Color == c {
			out = append(out, p)
		}
	}
	return out
}

// Count returns how many pieces of color c remain.
func (b Board) Count(c Color) int {
	n := 0
	for _, p := range b.pieces {
		if p.Color == c {
			n++
		}
	}
	return n
}

// without returns a copy of b with the piece on sq removed.
func (b Board) without(sq Square) Board {
	out := make([]Piece, 0, len(b.pieces))
	for _, p := range b.pieces {
		if p.Row == sq.Row && p.Col == sq.Col {
			continue
		}
		out = append(out, p)
	}
	return Board{pieces: out}
}

// with returns a copy of b with p replacing the piece sharing its id.
func (b Board) with(p Piece) Board {
	out := b.Pieces()
	for i := range out {
		if out[i].ID == p.ID {
			out[i] = p
			break
		}
	}
	return Board{pieces: out}
}

func (b Board) MarshalJSON() ([]byte, error) {
	if b.pieces == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(b.pieces)
}

func (b *Board) UnmarshalJSON(data []byte) error {
	var pieces []Piece
	if err := json.Unmarshal(data, &pieces); err != nil {
		return err
	}
	nb, err := NewBoard(pieces)
	if err != nil {
		return err
	}
	*b = nb
	return nil
}

// String draws the board for debugging: l/d for men, L/D for kings.
func (b Board) String() string {
	var sb strings.Builder
	for row := 0; row < Size; row++ {
		for col := 0; col < Size; col++ {
			ch := byte('.')
			if p, ok := b.PieceAt(Square{Row: row, Col: col}); ok {
				ch = p.Color[0]
				if p.Rank == King {
					ch -= 'a' - 'A'
				}
			}
			sb.WriteByte(ch)
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}
