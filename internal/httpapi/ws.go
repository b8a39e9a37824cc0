package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/park285/dama-server/internal/game"
	"github.com/park285/dama-server/internal/notify"
	"github.com/park285/dama-server/internal/obslog"
)

// handleWS streams change events for one game. The first frame is a snapshot of the
// current record; clients must still poll since the feed is at most once.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	rec, _, err := s.seated(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if s.sub == nil {
		s.writeError(w, r, game.ErrUnavailable)
		return
	}
	// subscribe before the snapshot so nothing committed in between is lost
	stream, err := s.sub.Subscribe(r.Context(), rec.ID)
	if err != nil {
		s.writeError(w, r, errors.Join(game.ErrUnavailable, err))
		return
	}
	defer func() { _ = stream.Close() }()

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.origins})
	if err != nil {
		obslog.L().Warn("dama_ws_accept_error", zap.String("game_id", rec.ID), zap.Error(err))
		return
	}
	defer func() { _ = conn.Close(websocket.StatusInternalError, "closing") }()

	// we never read application frames; CloseRead keeps control frames flowing
	ctx := conn.CloseRead(r.Context())
	player := playerFrom(r)
	connID := uuid.NewString()
	obslog.L().Info("dama_ws_open", zap.String("conn_id", connID), zap.String("game_id", rec.ID), zap.String("player", player))

	if rec, err = s.games.Get(ctx, rec.ID); err != nil {
		_ = conn.Close(websocket.StatusTryAgainLater, "game unavailable")
		return
	}
	snapshot := notify.Event{Type: notify.EventSnapshot, GameID: rec.ID, Version: rec.Version, Record: rec, At: s.games.Now()}
	if err := s.send(ctx, conn, snapshot); err != nil {
		return
	}
	if rec.Finished() {
		_ = conn.Close(websocket.StatusNormalClosure, "game completed")
		return
	}

	ping := time.NewTicker(s.pingInterval)
	defer ping.Stop()
	for {
		select {
		case <-ctx.Done():
			obslog.L().Info("dama_ws_closed", zap.String("conn_id", connID), zap.String("game_id", rec.ID), zap.String("player", player))
			return
		case ev, ok := <-stream.Events():
			if !ok {
				_ = conn.Close(websocket.StatusTryAgainLater, "feed lost")
				return
			}
			if err := s.send(ctx, conn, ev); err != nil {
				return
			}
			if ev.Type == game.EventCompleted || ev.Type == game.EventCancelled {
				_ = conn.Close(websocket.StatusNormalClosure, ev.Type)
				return
			}
		case <-ping.C:
			pctx, cancel := context.WithTimeout(ctx, 3*time.Second)
			err := conn.Ping(pctx)
			cancel()
			if err != nil {
				obslog.L().Debug("dama_ws_ping_failed", zap.String("conn_id", connID), zap.String("game_id", rec.ID), zap.Error(err))
				return
			}
		}
	}
}

func (s *Server) send(ctx context.Context, conn *websocket.Conn, ev notify.Event) error {
	wctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return wsjson.Write(wctx, conn, ev)
}
