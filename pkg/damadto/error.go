package damadto

import "github.com/park285/dama-server/internal/game"

// DomainError is the wire form of every rejected request.
type DomainError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
	// Status is the HTTP status the error travelled with; not serialized.
	Status int `json:"-"`
}

func (e DomainError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Code != "" {
		return e.Code
	}
	return "dama service error"
}

// ErrorResponse wraps DomainError on the wire. Game is set when the rejection
// itself committed a new record, as a move refused for clock expiry does.
type ErrorResponse struct {
	Error DomainError  `json:"error"`
	Game  *game.Record `json:"game,omitempty"`
}

// Error codes.
const (
	CodeInvalidRequest   = "invalid_request"
	CodeUnauthenticated  = "unauthenticated"
	CodeIllegalMove      = "illegal_move"
	CodeStaleTurn        = "stale_turn"
	CodeMatchRace        = "match_race"
	CodeNotFound         = "not_found"
	CodeTerminalConflict = "terminal_conflict"
	CodeNotActive        = "not_active"
	CodeNotParticipant   = "not_participant"
	CodeNoDrawOffer      = "no_draw_offer"
	CodeClockExpired     = "clock_expired"
	CodeClockRunning     = "clock_running"
	CodeNotCancellable   = "not_cancellable"
	CodeMatchTimeout     = "match_timeout"
	CodeUnavailable      = "unavailable"
	CodeInternal         = "internal"
)
