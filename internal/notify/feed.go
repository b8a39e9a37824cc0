package notify

import (
    "context"
    "encoding/json"
    "strings"
    "sync"
    "time"

    "github.com/redis/go-redis/v9"
    "go.uber.org/zap"

    "github.com/park285/dama-server/internal/game"
    "github.com/park285/dama-server/internal/obslog"
)

// Event is one "record changed" notification. Record carries the full committed state.
type Event struct {
    Type    string       `json:"type"`
    GameID  string       `json:"game_id"`
    Version int64        `json:"version"`
    Record  *game.Record `json:"record"`
    At      time.Time    `json:"at"`
}

// EventSnapshot is the first message a websocket client receives, carrying the current record.
const EventSnapshot = "snapshot"

// Stream delivers events for one game until closed. Events is closed when the stream ends.
type Stream interface {
    Events() <-chan Event
    Close() error
}

// Subscriber opens a change stream for a game id.
type Subscriber interface {
    Subscribe(ctx context.Context, gameID string) (Stream, error)
}

func Channel(gameID string) string { return "dama:events:" + strings.TrimSpace(gameID) }

// Feed is the Redis Pub/Sub change feed. Delivery is at most once; subscribers must poll too.
type Feed struct {
    rdb    *redis.Client
    buffer int
    now    func() time.Time
}

func NewFeed(rdb *redis.Client) *Feed {
    return &Feed{rdb: rdb, buffer: 16, now: time.Now}
}

// Publish implements game.Publisher.
func (f *Feed) Publish(ctx context.Context, event string, r *game.Record) error {
    if r == nil { return nil }
    raw, err := json.Marshal(Event{Type: event, GameID: r.ID, Version: r.Version, Record: r, At: f.now()})
    if err != nil { return err }
    return f.rdb.Publish(ctx, Channel(r.ID), raw).Err()
}

// Subscribe returns once Redis has confirmed the subscription, so events published
// after it returns are not lost to a join race.
func (f *Feed) Subscribe(ctx context.Context, gameID string) (Stream, error) {
    ps := f.rdb.Subscribe(ctx, Channel(gameID))
    if _, err := ps.Receive(ctx); err != nil {
        _ = ps.Close()
        return nil, err
    }
    s := &redisStream{ps: ps, out: make(chan Event, f.buffer), done: make(chan struct{})}
    go s.pump(ctx)
    return s, nil
}

type redisStream struct {
    ps   *redis.PubSub
    out  chan Event
    done chan struct{}
    once sync.Once
}

func (s *redisStream) Events() <-chan Event { return s.out }

func (s *redisStream) Close() error {
    var err error
    s.once.Do(func() {
        close(s.done)
        err = s.ps.Close()
    })
    return err
}

func (s *redisStream) pump(ctx context.Context) {
    defer close(s.out)
    msgs := s.ps.Channel()
    for {
        select {
        case <-ctx.Done():
            _ = s.Close()
            return
        case <-s.done:
            return
        case msg, ok := <-msgs:
            if !ok { return }
            var ev Event
            if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
                obslog.L().Warn("dama_feed_decode_error", zap.String("channel", msg.Channel), zap.Error(err))
                continue
            }
            select {
            case s.out <- ev:
            case <-s.done:
                return
            case <-ctx.Done():
                _ = s.Close()
                return
            }
        }
    }
}
