package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/park285/dama-server/internal/game"
	"github.com/park285/dama-server/internal/render"
	"github.com/park285/dama-server/internal/rules"
	"github.com/park285/dama-server/pkg/damadto"
)

func badRequest(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errBadRequest, fmt.Sprintf(format, args...))
}

func (s *Server) handleQuickMatch(w http.ResponseWriter, r *http.Request) {
	mode, err := s.readMode(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.lobby.QuickMatch(r.Context(), playerFrom(r), mode)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	status := http.StatusOK
	if res.Created {
		status = http.StatusCreated
	}
	writeJSON(w, status, damadto.MatchResponse{Game: res.Record, Created: res.Created})
}

func (s *Server) handleCreatePrivate(w http.ResponseWriter, r *http.Request) {
	mode, err := s.readMode(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.lobby.CreatePrivate(r.Context(), playerFrom(r), mode)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, damadto.MatchResponse{Game: res.Record, Created: true})
}

func (s *Server) readMode(r *http.Request) (rules.Mode, error) {
	var req damadto.MatchRequest
	if err := decodeBody(r, &req); err != nil {
		return "", badRequest("body: %v", err)
	}
	if req.Mode == "" {
		return rules.Soldier, nil
	}
	mode, err := rules.ParseMode(string(req.Mode))
	if err != nil {
		return "", badRequest("%v", err)
	}
	return mode, nil
}

func (s *Server) handleJoinPrivate(w http.ResponseWriter, r *http.Request) {
	var req damadto.JoinRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, badRequest("body: %v", err))
		return
	}
	if strings.TrimSpace(req.Code) == "" {
		s.writeError(w, r, badRequest("code is required"))
		return
	}
	res, err := s.lobby.JoinPrivate(r.Context(), playerFrom(r), req.Code)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, damadto.MatchResponse{Game: res.Record})
}

func (s *Server) handleAwait(w http.ResponseWriter, r *http.Request) {
	var req damadto.AwaitRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, badRequest("body: %v", err))
		return
	}
	wait := s.matchWait
	if req.WaitSeconds > 0 {
		if d := time.Duration(req.WaitSeconds) * time.Second; d < wait {
			wait = d
		}
	}
	rec, err := s.lobby.AwaitOpponent(r.Context(), playerFrom(r), chi.URLParam(r, "id"), wait)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, damadto.GameResponse{Game: rec})
}

func (s *Server) handleMyGames(w http.ResponseWriter, r *http.Request) {
	games, err := s.games.GamesByPlayer(r.Context(), playerFrom(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if games == nil {
		games = []*game.Record{}
	}
	writeJSON(w, http.StatusOK, damadto.GamesResponse{Games: games})
}

// seated loads the game in the URL and checks the caller plays in it.
func (s *Server) seated(r *http.Request) (*game.Record, rules.Color, error) {
	rec, err := s.games.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		return nil, "", err
	}
	color, ok := rec.ColorOf(playerFrom(r))
	if !ok {
		return nil, "", game.ErrNotParticipant
	}
	return rec, color, nil
}

func (s *Server) handleGetGame(w http.ResponseWriter, r *http.Request) {
	rec, _, err := s.seated(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, damadto.GameResponse{Game: rec})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	rec, err := s.lobby.Cancel(r.Context(), playerFrom(r), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, damadto.GameResponse{Game: rec})
}

func (s *Server) handleLegalMoves(w http.ResponseWriter, r *http.Request) {
	if _, _, err := s.seated(r); err != nil {
		s.writeError(w, r, err)
		return
	}
	rec, moves, err := s.games.LegalMoves(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if moves == nil {
		moves = []rules.Move{}
	}
	writeJSON(w, http.StatusOK, damadto.LegalMovesResponse{GameID: rec.ID, Version: rec.Version, Turn: rec.Turn, Moves: moves})
}

func (s *Server) handleSubmitMove(w http.ResponseWriter, r *http.Request) {
	var req damadto.MoveRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, badRequest("body: %v", err))
		return
	}
	if strings.TrimSpace(req.PieceID) == "" {
		s.writeError(w, r, badRequest("piece_id is required"))
		return
	}
	rec, res, err := s.games.SubmitMove(r.Context(), game.MoveRequest{
		GameID:          chi.URLParam(r, "id"),
		PlayerID:        playerFrom(r),
		PieceID:         req.PieceID,
		To:              req.To,
		ExpectedVersion: req.ExpectedVersion,
	})
	if err != nil {
		// rec is non-nil only when the rejection committed a timeout
		s.writeErrorWith(w, r, err, rec)
		return
	}
	writeJSON(w, http.StatusOK, damadto.MoveResponse{
		Game:          rec,
		Captured:      res.CapturedSquare,
		Promoted:      res.Promoted,
		ContinuesTurn: res.ContinuesTurn,
	})
}

// terminalAction adapts the manager's resign/draw/timeout calls, which share a signature.
func (s *Server) terminalAction(fn func(ctx context.Context, id, player string) (*game.Record, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec, err := fn(r.Context(), chi.URLParam(r, "id"), playerFrom(r))
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, damadto.GameResponse{Game: rec})
	}
}

func (s *Server) handleBoardPNG(w http.ResponseWriter, r *http.Request) {
	rec, color, err := s.seated(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	img, err := s.renderer.RenderPNG(r.Context(), rec.Board, render.Options{
		LastMove: rec.LastMove,
		Title:    s.msgs.Text("board.title", map[string]any{"Mode": rec.Mode, "MoveCount": rec.MoveCount}, string(rec.Mode)),
		Status:   s.boardStatus(rec),
		Flip:     color == rules.Dark,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Length", strconv.Itoa(len(img)))
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(img)
}

func (s *Server) boardStatus(rec *game.Record) string {
	switch {
	case rec.Status == game.StatusCompleted && rec.Draw:
		return s.msgs.Text("board.draw", nil, "draw")
	case rec.Status == game.StatusCompleted:
		c, _ := rec.ColorOf(rec.Winner)
		return s.msgs.Text("board.winner", map[string]any{"Color": c, "Reason": rec.EndReason}, string(c)+" wins")
	case rec.Status == game.StatusWaiting:
		return string(game.StatusWaiting)
	}
	return s.msgs.Text("board.turn", map[string]any{"Color": rec.Turn}, string(rec.Turn))
}
