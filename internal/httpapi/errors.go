package httpapi

import (
	"errors"
	"net/http"

	"github.com/park285/dama-server/internal/game"
	"github.com/park285/dama-server/internal/lobby"
	"github.com/park285/dama-server/internal/rules"
	"github.com/park285/dama-server/pkg/damadto"
)

type errorClass struct {
	status    int
	code      string
	key       string // message catalog key under errors.
	retryable bool
}

// classify maps sentinels to their wire class. Order matters: ErrSelfJoin also matches lobby.ErrNotFound.
func classify(err error) errorClass {
	is := func(targets ...error) bool {
		for _, t := range targets {
			if errors.Is(err, t) {
				return true
			}
		}
		return false
	}
	switch {
	case is(errBadRequest, lobby.ErrInvalidArgs):
		return errorClass{http.StatusBadRequest, damadto.CodeInvalidRequest, "invalid_request", false}
	case is(rules.ErrIllegalMove, rules.ErrUnknownPiece):
		return errorClass{http.StatusUnprocessableEntity, damadto.CodeIllegalMove, "illegal_move", false}
	case is(game.ErrStaleTurn, game.ErrNotYourTurn, rules.ErrNotYourTurn):
		return errorClass{http.StatusConflict, damadto.CodeStaleTurn, "stale_turn", false}
	case is(lobby.ErrMatchRace):
		return errorClass{http.StatusConflict, damadto.CodeMatchRace, "match_race", true}
	case is(lobby.ErrSelfJoin):
		return errorClass{http.StatusNotFound, damadto.CodeNotFound, "self_join", false}
	case is(lobby.ErrNotFound, game.ErrNotFound):
		return errorClass{http.StatusNotFound, damadto.CodeNotFound, "not_found", false}
	case is(game.ErrTerminalConflict, rules.ErrGameOver):
		return errorClass{http.StatusConflict, damadto.CodeTerminalConflict, "terminal_conflict", false}
	case is(game.ErrNotActive):
		return errorClass{http.StatusConflict, damadto.CodeNotActive, "not_active", false}
	case is(game.ErrNotParticipant):
		return errorClass{http.StatusForbidden, damadto.CodeNotParticipant, "not_participant", false}
	case is(game.ErrNoDrawOffer):
		return errorClass{http.StatusConflict, damadto.CodeNoDrawOffer, "no_draw_offer", false}
	case is(game.ErrClockExpired):
		return errorClass{http.StatusConflict, damadto.CodeClockExpired, "clock_expired", false}
	case is(game.ErrClockRunning):
		return errorClass{http.StatusConflict, damadto.CodeClockRunning, "clock_running", false}
	case is(lobby.ErrNotCancellable):
		return errorClass{http.StatusConflict, damadto.CodeNotCancellable, "not_cancellable", false}
	case is(lobby.ErrMatchTimeout):
		return errorClass{http.StatusRequestTimeout, damadto.CodeMatchTimeout, "match_timeout", false}
	case is(game.ErrUnavailable, lobby.ErrCodeUnavailable):
		return errorClass{http.StatusServiceUnavailable, damadto.CodeUnavailable, "unavailable", true}
	}
	return errorClass{http.StatusInternalServerError, damadto.CodeInternal, "internal", false}
}

var errBadRequest = errors.New("bad request")

func (s *Server) domainError(err error) (int, damadto.DomainError) {
	c := classify(err)
	data := map[string]any{"Seconds": int(s.matchWait.Seconds())}
	return c.status, damadto.DomainError{
		Code:      c.code,
		Message:   s.msgs.Text("errors."+c.key, data, err.Error()),
		Retryable: c.retryable,
		Status:    c.status,
	}
}
