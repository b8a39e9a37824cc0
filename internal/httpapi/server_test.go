package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/park285/dama-server/internal/game"
	"github.com/park285/dama-server/internal/lobby"
	"github.com/park285/dama-server/internal/notify"
	"github.com/park285/dama-server/internal/rules"
	"github.com/park285/dama-server/pkg/damadto"
)

func newTestServer(t *testing.T, opts ...game.Option) *httptest.Server {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	feed := notify.NewFeed(rdb)
	games := game.NewManager(rdb, append([]game.Option{game.WithPublisher(feed)}, opts...)...)
	lob := lobby.NewManager(games, lobby.WithSubscriber(feed), lobby.WithPollInterval(20*time.Millisecond))
	srv := httptest.NewServer(New(Deps{Games: games, Lobby: lob, Subscriber: feed, MatchWait: 200 * time.Millisecond}).Routes())
	t.Cleanup(srv.Close)
	return srv
}

func call(t *testing.T, srv *httptest.Server, method, path, player string, body any, out any) int {
	t.Helper()
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, srv.URL+path, rd)
	require.NoError(t, err)
	if player != "" {
		req.Header.Set(PlayerHeader, player)
	}
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func pair(t *testing.T, srv *httptest.Server) *game.Record {
	t.Helper()
	var first, second damadto.MatchResponse
	require.Equal(t, http.StatusCreated, call(t, srv, http.MethodPost, "/api/match/quick", "alice", damadto.MatchRequest{Mode: rules.Soldier}, &first))
	require.True(t, first.Created)
	require.Equal(t, game.StatusWaiting, first.Game.Status)

	require.Equal(t, http.StatusOK, call(t, srv, http.MethodPost, "/api/match/quick", "bob", damadto.MatchRequest{Mode: rules.Soldier}, &second))
	require.Equal(t, first.Game.ID, second.Game.ID)
	require.Equal(t, game.StatusActive, second.Game.Status)
	return second.Game
}

func TestGameFlowOverHTTP(t *testing.T) {
	srv := newTestServer(t)
	g := pair(t, srv)
	base := "/api/games/" + g.ID

	var legal damadto.LegalMovesResponse
	require.Equal(t, http.StatusOK, call(t, srv, http.MethodGet, base+"/moves", "alice", nil, &legal))
	assert.Equal(t, rules.Light, legal.Turn)
	assert.Len(t, legal.Moves, 7)

	var fail damadto.ErrorResponse
	code := call(t, srv, http.MethodPost, base+"/moves", "bob", damadto.MoveRequest{PieceID: "piece-8", To: rules.Square{Row: 3, Col: 2}}, &fail)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, damadto.CodeStaleTurn, fail.Error.Code)

	code = call(t, srv, http.MethodPost, base+"/moves", "alice", damadto.MoveRequest{PieceID: "piece-12", To: rules.Square{Row: 3, Col: 2}}, &fail)
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Equal(t, damadto.CodeIllegalMove, fail.Error.Code)

	var moved damadto.MoveResponse
	require.Equal(t, http.StatusOK, call(t, srv, http.MethodPost, base+"/moves", "alice",
		damadto.MoveRequest{PieceID: "piece-12", To: rules.Square{Row: 4, Col: 1}, ExpectedVersion: g.Version}, &moved))
	assert.Equal(t, rules.Dark, moved.Game.Turn)
	assert.Equal(t, g.Version+1, moved.Game.Version)
	assert.False(t, moved.ContinuesTurn)

	code = call(t, srv, http.MethodPost, base+"/moves", "bob",
		damadto.MoveRequest{PieceID: "piece-8", To: rules.Square{Row: 3, Col: 2}, ExpectedVersion: g.Version}, &fail)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, damadto.CodeStaleTurn, fail.Error.Code)

	var ended damadto.GameResponse
	require.Equal(t, http.StatusOK, call(t, srv, http.MethodPost, base+"/resign", "bob", nil, &ended))
	assert.Equal(t, game.StatusCompleted, ended.Game.Status)
	assert.Equal(t, "alice", ended.Game.Winner)
	assert.Equal(t, game.EndResignation, ended.Game.EndReason)

	code = call(t, srv, http.MethodPost, base+"/moves", "alice", damadto.MoveRequest{PieceID: "piece-13", To: rules.Square{Row: 4, Col: 3}}, &fail)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, damadto.CodeTerminalConflict, fail.Error.Code)

	var mine damadto.GamesResponse
	require.Equal(t, http.StatusOK, call(t, srv, http.MethodGet, "/api/players/me/games", "alice", nil, &mine))
	require.Len(t, mine.Games, 1)
	assert.Equal(t, g.ID, mine.Games[0].ID)
}

func TestClockExpiryCarriesCommittedRecord(t *testing.T) {
	srv := newTestServer(t, game.WithClockBudget(30*time.Millisecond))
	g := pair(t, srv)
	base := "/api/games/" + g.ID
	time.Sleep(80 * time.Millisecond)

	var fail damadto.ErrorResponse
	code := call(t, srv, http.MethodPost, base+"/moves", "alice", damadto.MoveRequest{PieceID: "piece-12", To: rules.Square{Row: 4, Col: 1}}, &fail)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, damadto.CodeClockExpired, fail.Error.Code)
	require.NotNil(t, fail.Game)
	assert.Equal(t, game.StatusCompleted, fail.Game.Status)
	assert.Equal(t, game.EndTimeout, fail.Game.EndReason)
	assert.Equal(t, "bob", fail.Game.Winner)
	assert.Equal(t, g.Version+1, fail.Game.Version)

	var again damadto.ErrorResponse
	code = call(t, srv, http.MethodPost, base+"/moves", "alice", damadto.MoveRequest{PieceID: "piece-12", To: rules.Square{Row: 4, Col: 1}}, &again)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, damadto.CodeTerminalConflict, again.Error.Code)
	assert.Nil(t, again.Game, "plain rejections commit nothing")
}

func TestAccessRules(t *testing.T) {
	srv := newTestServer(t)
	g := pair(t, srv)

	var fail damadto.ErrorResponse
	assert.Equal(t, http.StatusUnauthorized, call(t, srv, http.MethodGet, "/api/games/"+g.ID, "", nil, &fail))
	assert.Equal(t, damadto.CodeUnauthenticated, fail.Error.Code)

	assert.Equal(t, http.StatusForbidden, call(t, srv, http.MethodGet, "/api/games/"+g.ID, "mallory", nil, &fail))
	assert.Equal(t, damadto.CodeNotParticipant, fail.Error.Code)

	assert.Equal(t, http.StatusNotFound, call(t, srv, http.MethodGet, "/api/games/g-missing", "alice", nil, &fail))

	assert.Equal(t, http.StatusBadRequest, call(t, srv, http.MethodPost, "/api/match/quick", "carol", map[string]string{"mode": "queen"}, &fail))
	assert.Equal(t, damadto.CodeInvalidRequest, fail.Error.Code)

	var ping damadto.PingResponse
	assert.Equal(t, http.StatusOK, call(t, srv, http.MethodGet, "/api/ping", "", nil, &ping))
	assert.Equal(t, "ok", ping.Status)
}

func TestPrivateInviteFlow(t *testing.T) {
	srv := newTestServer(t)

	var created damadto.MatchResponse
	require.Equal(t, http.StatusCreated, call(t, srv, http.MethodPost, "/api/match/private", "alice", damadto.MatchRequest{Mode: rules.Tank}, &created))
	code := created.Game.InviteCode
	require.NotEmpty(t, code)

	var fail damadto.ErrorResponse
	assert.Equal(t, http.StatusNotFound, call(t, srv, http.MethodPost, "/api/match/join", "alice", damadto.JoinRequest{Code: code}, &fail))
	assert.Equal(t, "You cannot join your own game.", fail.Error.Message)

	var joined damadto.MatchResponse
	require.Equal(t, http.StatusOK, call(t, srv, http.MethodPost, "/api/match/join", "bob", damadto.JoinRequest{Code: strings.ToLower(code)}, &joined))
	assert.Equal(t, game.StatusActive, joined.Game.Status)
	assert.Equal(t, rules.Tank, joined.Game.Mode)

	assert.Equal(t, http.StatusNotFound, call(t, srv, http.MethodPost, "/api/match/join", "carol", damadto.JoinRequest{Code: code}, &fail))
	assert.Equal(t, damadto.CodeNotFound, fail.Error.Code)
}

func TestCancelAndAwait(t *testing.T) {
	srv := newTestServer(t)

	var w damadto.MatchResponse
	require.Equal(t, http.StatusCreated, call(t, srv, http.MethodPost, "/api/match/quick", "alice", nil, &w))
	var fail damadto.ErrorResponse
	assert.Equal(t, http.StatusConflict, call(t, srv, http.MethodDelete, "/api/games/"+w.Game.ID, "bob", nil, &fail))
	assert.Equal(t, damadto.CodeNotCancellable, fail.Error.Code)
	assert.Equal(t, http.StatusOK, call(t, srv, http.MethodDelete, "/api/games/"+w.Game.ID, "alice", nil, nil))
	assert.Equal(t, http.StatusNotFound, call(t, srv, http.MethodGet, "/api/games/"+w.Game.ID, "alice", nil, &fail))

	require.Equal(t, http.StatusCreated, call(t, srv, http.MethodPost, "/api/match/quick", "alice", nil, &w))
	assert.Equal(t, http.StatusRequestTimeout, call(t, srv, http.MethodPost, "/api/match/"+w.Game.ID+"/await", "alice", damadto.AwaitRequest{WaitSeconds: 30}, &fail))
	assert.Equal(t, damadto.CodeMatchTimeout, fail.Error.Code)
}

func TestBoardPNG(t *testing.T) {
	srv := newTestServer(t)
	g := pair(t, srv)

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/api/games/"+g.ID+"/board.png", nil)
	require.NoError(t, err)
	req.Header.Set(PlayerHeader, "bob")
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))
	assert.True(t, bytes.HasPrefix(body, []byte("\x89PNG\r\n\x1a\n")))
}

func TestWebsocketSnapshotThenEvents(t *testing.T) {
	srv := newTestServer(t)
	g := pair(t, srv)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/games/" + g.ID
	conn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{HTTPHeader: http.Header{PlayerHeader: []string{"bob"}}})
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	var snap notify.Event
	require.NoError(t, wsjson.Read(ctx, conn, &snap))
	assert.Equal(t, notify.EventSnapshot, snap.Type)
	assert.Equal(t, g.Version, snap.Version)

	require.Equal(t, http.StatusOK, call(t, srv, http.MethodPost, "/api/games/"+g.ID+"/moves", "alice",
		damadto.MoveRequest{PieceID: "piece-12", To: rules.Square{Row: 4, Col: 1}}, nil))

	var ev notify.Event
	require.NoError(t, wsjson.Read(ctx, conn, &ev))
	assert.Equal(t, game.EventMove, ev.Type)
	assert.Equal(t, g.Version+1, ev.Version)
	require.NotNil(t, ev.Record)
	assert.Equal(t, rules.Dark, ev.Record.Turn)
}
