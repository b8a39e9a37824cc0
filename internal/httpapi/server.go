// Package httpapi exposes the game manager and matchmaking allocator over HTTP and websocket.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/park285/dama-server/internal/game"
	"github.com/park285/dama-server/internal/lobby"
	"github.com/park285/dama-server/internal/msgcat"
	"github.com/park285/dama-server/internal/notify"
	"github.com/park285/dama-server/internal/obslog"
	"github.com/park285/dama-server/internal/render"
	"github.com/park285/dama-server/pkg/damadto"
)

// PlayerHeader carries the caller's player id; authentication happens upstream.
const PlayerHeader = "X-User-Id"

type Deps struct {
	Games      *game.Manager
	Lobby      *lobby.Manager
	Subscriber notify.Subscriber
	Messages   *msgcat.Catalog
	Renderer   render.BoardRenderer

	// MatchWait caps AwaitOpponent; zero means one minute.
	MatchWait      time.Duration
	AllowedOrigins []string
}

type Server struct {
	games    *game.Manager
	lobby    *lobby.Manager
	sub      notify.Subscriber
	msgs     *msgcat.Catalog
	renderer render.BoardRenderer

	matchWait    time.Duration
	origins      []string
	pingInterval time.Duration
}

func New(d Deps) *Server {
	s := &Server{
		games:        d.Games,
		lobby:        d.Lobby,
		sub:          d.Subscriber,
		msgs:         d.Messages,
		renderer:     d.Renderer,
		matchWait:    d.MatchWait,
		origins:      d.AllowedOrigins,
		pingInterval: 30 * time.Second,
	}
	if s.matchWait <= 0 {
		s.matchWait = time.Minute
	}
	if s.msgs == nil {
		s.msgs = msgcat.MustDefault()
	}
	if s.renderer == nil {
		s.renderer = render.NewRenderer()
	}
	return s
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/api/ping", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, damadto.PingResponse{Status: "ok"})
	})

	r.Group(func(r chi.Router) {
		r.Use(requirePlayer)

		r.Post("/api/match/quick", s.handleQuickMatch)
		r.Post("/api/match/private", s.handleCreatePrivate)
		r.Post("/api/match/join", s.handleJoinPrivate)
		r.Post("/api/match/{id}/await", s.handleAwait)

		r.Get("/api/players/me/games", s.handleMyGames)

		r.Route("/api/games/{id}", func(r chi.Router) {
			r.Get("/", s.handleGetGame)
			r.Delete("/", s.handleCancel)
			r.Get("/moves", s.handleLegalMoves)
			r.Post("/moves", s.handleSubmitMove)
			r.Post("/resign", s.terminalAction(s.games.Resign))
			r.Post("/draw/offer", s.terminalAction(s.games.OfferDraw))
			r.Post("/draw/accept", s.terminalAction(s.games.AcceptDraw))
			r.Post("/draw/decline", s.terminalAction(s.games.DeclineDraw))
			r.Post("/timeout", s.terminalAction(s.games.ClaimTimeout))
			r.Get("/board.png", s.handleBoardPNG)
		})

		r.Get("/ws/games/{id}", s.handleWS)
	})
	return r
}

type ctxKey struct{}

// requirePlayer rejects requests without a player id. Websocket clients that cannot set
// headers may pass ?player= instead.
func requirePlayer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		player := strings.TrimSpace(r.Header.Get(PlayerHeader))
		if player == "" && strings.HasPrefix(r.URL.Path, "/ws/") {
			player = strings.TrimSpace(r.URL.Query().Get("player"))
		}
		if player == "" {
			writeJSON(w, http.StatusUnauthorized, damadto.ErrorResponse{Error: damadto.DomainError{
				Code:    damadto.CodeUnauthenticated,
				Message: "missing " + PlayerHeader,
			}})
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, player)))
	})
}

func playerFrom(r *http.Request) string {
	p, _ := r.Context().Value(ctxKey{}).(string)
	return p
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		obslog.L().Info("http_request",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("elapsed", time.Since(start)),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// decodeBody reads a JSON body into dst. An empty body leaves dst untouched.
func decodeBody(r *http.Request, dst any) error {
	if r.Body == nil {
		return nil
	}
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<16))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	s.writeErrorWith(w, r, err, nil)
}

// writeErrorWith attaches rec, when non-nil, to the error body.
func (s *Server) writeErrorWith(w http.ResponseWriter, r *http.Request, err error, rec *game.Record) {
	status, de := s.domainError(err)
	if status >= http.StatusInternalServerError {
		obslog.L().Error("http_request_error", zap.String("path", r.URL.Path), zap.Error(err))
	}
	writeJSON(w, status, damadto.ErrorResponse{Error: de, Game: rec})
}
