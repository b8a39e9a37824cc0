package damaclient

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/park285/dama-server/internal/game"
	"github.com/park285/dama-server/internal/httpapi"
	"github.com/park285/dama-server/internal/lobby"
	"github.com/park285/dama-server/internal/notify"
	"github.com/park285/dama-server/internal/rules"
	"github.com/park285/dama-server/internal/turnsync"
)

func startServer(t *testing.T, opts ...game.Option) *httptest.Server {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	feed := notify.NewFeed(rdb)
	games := game.NewManager(rdb, append([]game.Option{game.WithPublisher(feed)}, opts...)...)
	lob := lobby.NewManager(games, lobby.WithSubscriber(feed), lobby.WithPollInterval(20*time.Millisecond))
	srv := httptest.NewServer(httpapi.New(httpapi.Deps{Games: games, Lobby: lob, Subscriber: feed}).Routes())
	t.Cleanup(srv.Close)
	return srv
}

func TestRetriesOnlyIdempotentCalls(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := hits.Add(1)
		if r.Method == http.MethodGet && n >= 3 {
			_, _ = w.Write([]byte(`{"status":"ok"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":{"code":"unavailable","message":"down","retryable":true}}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "alice", WithRetry(3))
	require.NoError(t, c.Ping(context.Background()))
	assert.EqualValues(t, 3, hits.Load())

	hits.Store(0)
	_, err := c.Move(context.Background(), "g-1", "piece-12", rules.Square{Row: 4, Col: 1}, 1)
	require.Error(t, err)
	assert.EqualValues(t, 1, hits.Load(), "moves are never replayed")
	assert.ErrorIs(t, err, game.ErrUnavailable)
}

func TestErrorsMatchServerSentinels(t *testing.T) {
	srv := startServer(t)
	ctx := context.Background()
	alice, bob := NewClient(srv.URL, "alice"), NewClient(srv.URL, "bob")

	first, err := alice.QuickMatch(ctx, rules.Soldier)
	require.NoError(t, err)
	require.True(t, first.Created)
	second, err := bob.QuickMatch(ctx, rules.Soldier)
	require.NoError(t, err)
	g := second.Game
	require.Equal(t, game.StatusActive, g.Status)

	_, err = bob.SubmitMove(ctx, g.ID, "piece-8", rules.Square{Row: 3, Col: 2}, g.Version)
	assert.ErrorIs(t, err, game.ErrStaleTurn)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusConflict, apiErr.Status)

	_, err = alice.SubmitMove(ctx, g.ID, "piece-12", rules.Square{Row: 2, Col: 3}, g.Version)
	assert.ErrorIs(t, err, rules.ErrIllegalMove)

	_, err = NewClient(srv.URL, "mallory").Fetch(ctx, g.ID)
	assert.ErrorIs(t, err, game.ErrNotParticipant)

	_, err = alice.AcceptDraw(ctx, g.ID)
	assert.ErrorIs(t, err, game.ErrNoDrawOffer)

	png, err := bob.BoardPNG(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, "\x89PNG", string(png[:4]))

	legal, err := alice.LegalMoves(ctx, g.ID)
	require.NoError(t, err)
	assert.Len(t, legal.Moves, 7)
}

func TestSubmitMoveReturnsTimeoutRecord(t *testing.T) {
	srv := startServer(t, game.WithClockBudget(30*time.Millisecond))
	ctx := context.Background()
	alice, bob := NewClient(srv.URL, "alice"), NewClient(srv.URL, "bob")

	_, err := alice.QuickMatch(ctx, rules.Soldier)
	require.NoError(t, err)
	m, err := bob.QuickMatch(ctx, rules.Soldier)
	require.NoError(t, err)
	time.Sleep(80 * time.Millisecond)

	s := turnsync.NewSession("alice", m.Game)
	rec, err := s.Submit(ctx, alice, "piece-12", rules.Square{Row: 4, Col: 1})
	require.ErrorIs(t, err, game.ErrClockExpired)
	require.NotNil(t, rec)
	assert.Equal(t, game.EndTimeout, rec.EndReason)
	assert.Equal(t, "bob", rec.Winner)
	assert.Equal(t, rec.Version, s.Record().Version, "session keeps the committed timeout")
	assert.False(t, s.Optimistic())
}

func TestPrivateInviteAndDraw(t *testing.T) {
	srv := startServer(t)
	ctx := context.Background()
	alice, bob := NewClient(srv.URL, "alice"), NewClient(srv.URL, "bob")

	waiting, err := alice.CreatePrivate(ctx, rules.Soldier)
	require.NoError(t, err)
	require.NotEmpty(t, waiting.InviteCode)

	awaited := make(chan *game.Record, 1)
	go func() {
		rec, err := alice.AwaitOpponent(ctx, waiting.ID, 5*time.Second)
		if err == nil {
			awaited <- rec
		}
		close(awaited)
	}()

	joined, err := bob.JoinPrivate(ctx, waiting.InviteCode)
	require.NoError(t, err)
	select {
	case rec, ok := <-awaited:
		require.True(t, ok, "await failed")
		assert.Equal(t, joined.ID, rec.ID)
		assert.Equal(t, game.StatusActive, rec.Status)
	case <-time.After(5 * time.Second):
		t.Fatal("await did not return")
	}

	_, err = bob.OfferDraw(ctx, joined.ID)
	require.NoError(t, err)
	done, err := alice.AcceptDraw(ctx, joined.ID)
	require.NoError(t, err)
	assert.True(t, done.Draw)
	assert.Equal(t, game.EndDrawAgreed, done.EndReason)

	mine, err := bob.MyGames(ctx)
	require.NoError(t, err)
	require.Len(t, mine, 1)
}

func TestSessionFollowsServerOverWebsocket(t *testing.T) {
	srv := startServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	alice, bob := NewClient(srv.URL, "alice"), NewClient(srv.URL, "bob")

	_, err := alice.QuickMatch(ctx, rules.Soldier)
	require.NoError(t, err)
	m, err := bob.QuickMatch(ctx, rules.Soldier)
	require.NoError(t, err)

	watcher := turnsync.NewSession("bob", m.Game)
	done := make(chan error, 1)
	go func() { done <- watcher.Run(ctx, bob, NewFeed(srv.URL, "bob"), time.Second) }()

	mover := turnsync.NewSession("alice", m.Game)
	rec, err := mover.Submit(ctx, alice, "piece-12", rules.Square{Row: 4, Col: 1})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return watcher.Record().Version >= rec.Version }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, rules.Dark, watcher.State().Turn)

	_, err = alice.Resign(ctx, m.Game.ID)
	require.NoError(t, err)
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-ctx.Done():
		t.Fatal("session did not stop after resignation")
	}
	assert.Equal(t, "bob", watcher.Record().Winner)
}
