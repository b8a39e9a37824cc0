// Package damaclient talks to a dama server over HTTP and websocket.
package damaclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/park285/dama-server/internal/game"
	"github.com/park285/dama-server/internal/lobby"
	"github.com/park285/dama-server/internal/rules"
	"github.com/park285/dama-server/pkg/damadto"
)

// PlayerHeader must match the server's identity header.
const PlayerHeader = "X-User-Id"

// Client is bound to one player. It satisfies turnsync.Remote.
type Client struct {
	baseURL string
	player  string
	http    *fasthttp.Client

	defaultTimeout time.Duration
	retryMax       int
}

type Option func(*Client)

func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.defaultTimeout = d }
}

func WithMaxConnsPerHost(n int) Option {
	return func(c *Client) { c.http.MaxConnsPerHost = n }
}

func WithRetry(max int) Option {
	return func(c *Client) { c.retryMax = max }
}

func NewClient(baseURL, player string, opts ...Option) *Client {
	c := &Client{
		baseURL:        strings.TrimRight(baseURL, "/"),
		player:         strings.TrimSpace(player),
		http:           &fasthttp.Client{ReadTimeout: 90 * time.Second, WriteTimeout: 10 * time.Second, MaxConnsPerHost: 64},
		defaultTimeout: 10 * time.Second,
		retryMax:       3,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Player() string { return c.player }

// APIError is a non-2xx answer. errors.Is matches it against the server-side sentinel
// its code stands for, so callers can test game.ErrStaleTurn and friends directly.
type APIError struct {
	Status int
	damadto.DomainError
	// Game is the record the server committed while refusing, if any.
	Game *game.Record
}

func (e *APIError) Error() string {
	return fmt.Sprintf("dama api error: status=%d code=%s: %s", e.Status, e.Code, e.Message)
}

var codeSentinels = map[string][]error{
	damadto.CodeIllegalMove:      {rules.ErrIllegalMove},
	damadto.CodeStaleTurn:        {game.ErrStaleTurn},
	damadto.CodeMatchRace:        {lobby.ErrMatchRace},
	damadto.CodeNotFound:         {game.ErrNotFound, lobby.ErrNotFound},
	damadto.CodeTerminalConflict: {game.ErrTerminalConflict},
	damadto.CodeNotActive:        {game.ErrNotActive},
	damadto.CodeNotParticipant:   {game.ErrNotParticipant},
	damadto.CodeNoDrawOffer:      {game.ErrNoDrawOffer},
	damadto.CodeClockExpired:     {game.ErrClockExpired},
	damadto.CodeClockRunning:     {game.ErrClockRunning},
	damadto.CodeNotCancellable:   {lobby.ErrNotCancellable},
	damadto.CodeMatchTimeout:     {lobby.ErrMatchTimeout},
	damadto.CodeUnavailable:      {game.ErrUnavailable},
	damadto.CodeInvalidRequest:   {lobby.ErrInvalidArgs},
}

func (e *APIError) Is(target error) bool {
	for _, s := range codeSentinels[e.Code] {
		if s == target {
			return true
		}
	}
	return false
}

func (c *Client) Ping(ctx context.Context) error {
	var out damadto.PingResponse
	return c.doJSON(ctx, fasthttp.MethodGet, "/api/ping", nil, &out, true)
}

func (c *Client) QuickMatch(ctx context.Context, mode rules.Mode) (*damadto.MatchResponse, error) {
	var out damadto.MatchResponse
	if err := c.doJSON(ctx, fasthttp.MethodPost, "/api/match/quick", damadto.MatchRequest{Mode: mode}, &out, false); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) CreatePrivate(ctx context.Context, mode rules.Mode) (*game.Record, error) {
	var out damadto.MatchResponse
	if err := c.doJSON(ctx, fasthttp.MethodPost, "/api/match/private", damadto.MatchRequest{Mode: mode}, &out, false); err != nil {
		return nil, err
	}
	return out.Game, nil
}

func (c *Client) JoinPrivate(ctx context.Context, code string) (*game.Record, error) {
	var out damadto.MatchResponse
	if err := c.doJSON(ctx, fasthttp.MethodPost, "/api/match/join", damadto.JoinRequest{Code: code}, &out, false); err != nil {
		return nil, err
	}
	return out.Game, nil
}

// AwaitOpponent long-polls until the waiting game is joined. The server caps wait.
func (c *Client) AwaitOpponent(ctx context.Context, gameID string, wait time.Duration) (*game.Record, error) {
	var out damadto.GameResponse
	req := damadto.AwaitRequest{WaitSeconds: int(wait / time.Second)}
	if err := c.doJSONTimeout(ctx, fasthttp.MethodPost, "/api/match/"+url.PathEscape(gameID)+"/await", req, &out, false, wait+c.defaultTimeout); err != nil {
		return nil, err
	}
	return out.Game, nil
}

func (c *Client) Cancel(ctx context.Context, gameID string) (*game.Record, error) {
	return c.gameCall(ctx, fasthttp.MethodDelete, gamePath(gameID, ""), false)
}

func (c *Client) MyGames(ctx context.Context) ([]*game.Record, error) {
	var out damadto.GamesResponse
	if err := c.doJSON(ctx, fasthttp.MethodGet, "/api/players/me/games", nil, &out, true); err != nil {
		return nil, err
	}
	return out.Games, nil
}

// Fetch implements turnsync.Remote.
func (c *Client) Fetch(ctx context.Context, gameID string) (*game.Record, error) {
	return c.gameCall(ctx, fasthttp.MethodGet, gamePath(gameID, ""), true)
}

func (c *Client) LegalMoves(ctx context.Context, gameID string) (*damadto.LegalMovesResponse, error) {
	var out damadto.LegalMovesResponse
	if err := c.doJSON(ctx, fasthttp.MethodGet, gamePath(gameID, "/moves"), nil, &out, true); err != nil {
		return nil, err
	}
	return &out, nil
}

// Move submits one leg and returns the full answer.
func (c *Client) Move(ctx context.Context, gameID, pieceID string, to rules.Square, expectedVersion int64) (*damadto.MoveResponse, error) {
	var out damadto.MoveResponse
	req := damadto.MoveRequest{PieceID: pieceID, To: to, ExpectedVersion: expectedVersion}
	if err := c.doJSON(ctx, fasthttp.MethodPost, gamePath(gameID, "/moves"), req, &out, false); err != nil {
		return nil, err
	}
	return &out, nil
}

// SubmitMove implements turnsync.Remote.
func (c *Client) SubmitMove(ctx context.Context, gameID, pieceID string, to rules.Square, expectedVersion int64) (*game.Record, error) {
	res, err := c.Move(ctx, gameID, pieceID, to, expectedVersion)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Game != nil {
			return apiErr.Game, err
		}
		return nil, err
	}
	return res.Game, nil
}

func (c *Client) Resign(ctx context.Context, gameID string) (*game.Record, error) {
	return c.gameCall(ctx, fasthttp.MethodPost, gamePath(gameID, "/resign"), false)
}

func (c *Client) OfferDraw(ctx context.Context, gameID string) (*game.Record, error) {
	return c.gameCall(ctx, fasthttp.MethodPost, gamePath(gameID, "/draw/offer"), false)
}

func (c *Client) AcceptDraw(ctx context.Context, gameID string) (*game.Record, error) {
	return c.gameCall(ctx, fasthttp.MethodPost, gamePath(gameID, "/draw/accept"), false)
}

func (c *Client) DeclineDraw(ctx context.Context, gameID string) (*game.Record, error) {
	return c.gameCall(ctx, fasthttp.MethodPost, gamePath(gameID, "/draw/decline"), false)
}

func (c *Client) ClaimTimeout(ctx context.Context, gameID string) (*game.Record, error) {
	return c.gameCall(ctx, fasthttp.MethodPost, gamePath(gameID, "/timeout"), false)
}

// BoardPNG downloads the rendered board as seen by the client's player.
func (c *Client) BoardPNG(ctx context.Context, gameID string) ([]byte, error) {
	var out []byte
	err := c.do(ctx, fasthttp.MethodGet, gamePath(gameID, "/board.png"), nil, true, c.defaultTimeout, func(body []byte) error {
		out = append([]byte(nil), body...)
		return nil
	})
	return out, err
}

func (c *Client) gameCall(ctx context.Context, method, path string, retry bool) (*game.Record, error) {
	var out damadto.GameResponse
	if err := c.doJSON(ctx, method, path, nil, &out, retry); err != nil {
		return nil, err
	}
	return out.Game, nil
}

func gamePath(id, suffix string) string { return "/api/games/" + url.PathEscape(id) + suffix }

func (c *Client) doJSON(ctx context.Context, method, path string, in any, out any, retry bool) error {
	return c.doJSONTimeout(ctx, method, path, in, out, retry, c.defaultTimeout)
}

func (c *Client) doJSONTimeout(ctx context.Context, method, path string, in any, out any, retry bool, timeout time.Duration) error {
	var payload []byte
	if in != nil {
		var err error
		if payload, err = json.Marshal(in); err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
	}
	return c.do(ctx, method, path, payload, retry, timeout, func(body []byte) error {
		if out == nil {
			return nil
		}
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		return nil
	})
}

// do sends the request, retrying transport failures and retryable statuses when retry is set.
func (c *Client) do(ctx context.Context, method, path string, payload []byte, retry bool, timeout time.Duration, onOK func([]byte) error) error {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}()

	req.Header.SetMethod(method)
	req.SetRequestURI(c.baseURL + path)
	req.Header.SetContentType("application/json")
	if c.player != "" {
		req.Header.Set(PlayerHeader, c.player)
	}
	if payload != nil {
		req.SetBody(payload)
	}

	attempts := 1
	if retry && c.retryMax > 1 {
		attempts = c.retryMax
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := c.http.DoDeadline(req, resp, computeDeadline(ctx, timeout))
		if err != nil {
			lastErr = fmt.Errorf("request failed: %w", err)
			if attempt == attempts {
				return lastErr
			}
			if sleepErr := sleepWithContext(ctx, backoffDuration(attempt)); sleepErr != nil {
				return lastErr
			}
			continue
		}

		status := resp.StatusCode()
		if status < 200 || status >= 300 {
			apiErr := decodeError(status, resp.Body())
			if attempt == attempts || !shouldRetry(status, apiErr) {
				return apiErr
			}
			lastErr = apiErr
			if sleepErr := sleepWithContext(ctx, backoffDuration(attempt)); sleepErr != nil {
				return lastErr
			}
			continue
		}
		return onOK(resp.Body())
	}

	if lastErr == nil {
		lastErr = errors.New("unknown error")
	}
	return lastErr
}

func decodeError(status int, body []byte) *APIError {
	var er damadto.ErrorResponse
	if err := json.Unmarshal(body, &er); err != nil || er.Error.Code == "" {
		er.Error = damadto.DomainError{Code: damadto.CodeInternal, Message: truncate(string(body), 512)}
	}
	er.Error.Status = status
	return &APIError{Status: status, DomainError: er.Error, Game: er.Game}
}

func computeDeadline(ctx context.Context, timeout time.Duration) time.Time {
	clientDL := time.Now().Add(timeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(clientDL) {
		return dl
	}
	return clientDL
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func backoffDuration(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 6 {
		attempt = 6
	}
	base := 100 * time.Millisecond
	return time.Duration(1<<uint(attempt-1)) * base // 100ms, 200ms ...
}

func shouldRetry(status int, e *APIError) bool {
	if e != nil && e.Retryable {
		return true
	}
	switch status {
	case 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
