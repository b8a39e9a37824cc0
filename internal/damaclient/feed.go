package damaclient

import (
    "context"
    "net/http"
    "net/url"
    "strings"
    "sync"
    "time"

    "go.uber.org/zap"
    "nhooyr.io/websocket"
    "nhooyr.io/websocket/wsjson"

    "github.com/park285/dama-server/internal/notify"
    "github.com/park285/dama-server/internal/obslog"
)

// Feed subscribes to a server's websocket change stream. It satisfies notify.Subscriber,
// so a turnsync.Session can run against a remote server exactly as against the Redis feed.
type Feed struct {
    wsURL  string
    player string

    dialAttempts int
    pingInterval time.Duration
    buffer       int
}

type FeedOption func(*Feed)

func WithDialAttempts(n int) FeedOption { return func(f *Feed) { if n > 0 { f.dialAttempts = n } } }
func WithPingInterval(d time.Duration) FeedOption {
    return func(f *Feed) { if d > 0 { f.pingInterval = d } }
}

// NewFeed accepts the server's http(s) base URL and derives the ws(s) one.
func NewFeed(baseURL, player string, opts ...FeedOption) *Feed {
    u := strings.TrimRight(baseURL, "/")
    switch {
    case strings.HasPrefix(u, "https://"):
        u = "wss://" + strings.TrimPrefix(u, "https://")
    case strings.HasPrefix(u, "http://"):
        u = "ws://" + strings.TrimPrefix(u, "http://")
    }
    f := &Feed{wsURL: u, player: strings.TrimSpace(player), dialAttempts: 3, pingInterval: 30 * time.Second, buffer: 16}
    for _, opt := range opts {
        opt(f)
    }
    return f
}

func (f *Feed) Subscribe(ctx context.Context, gameID string) (notify.Stream, error) {
    target := f.wsURL + "/ws/games/" + url.PathEscape(gameID)
    hdr := http.Header{}
    if f.player != "" { hdr.Set(PlayerHeader, f.player) }

    var conn *websocket.Conn
    var lastErr error
    for attempt := 1; attempt <= f.dialAttempts; attempt++ {
        dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
        c, _, err := websocket.Dial(dialCtx, target, &websocket.DialOptions{
            CompressionMode: websocket.CompressionNoContextTakeover,
            HTTPHeader:      hdr,
        })
        cancel()
        if err == nil {
            conn = c
            break
        }
        lastErr = err
        if attempt < f.dialAttempts {
            if err := sleepWithContext(ctx, backoffDuration(attempt)); err != nil { return nil, err }
        }
    }
    if conn == nil { return nil, lastErr }

    rootCtx, rootCancel := context.WithCancel(ctx)
    s := &wsStream{conn: conn, out: make(chan notify.Event, f.buffer), cancel: rootCancel, gameID: gameID}
    s.wg.Add(2)
    go s.listen(rootCtx)
    go s.pingLoop(rootCtx, f.pingInterval)
    return s, nil
}

type wsStream struct {
    conn   *websocket.Conn
    out    chan notify.Event
    cancel context.CancelFunc
    gameID string

    wg       sync.WaitGroup
    stopOnce sync.Once
}

func (s *wsStream) Events() <-chan notify.Event { return s.out }

func (s *wsStream) Close() error {
    var err error
    s.stopOnce.Do(func() {
        s.cancel()
        err = s.conn.Close(websocket.StatusNormalClosure, "close")
    })
    return err
}

func (s *wsStream) listen(ctx context.Context) {
    defer s.wg.Done()
    defer close(s.out)
    for {
        var ev notify.Event
        if err := wsjson.Read(ctx, s.conn, &ev); err != nil {
            if ctx.Err() == nil && websocket.CloseStatus(err) != websocket.StatusNormalClosure {
                obslog.L().Debug("dama_client_feed_read_error", zap.String("game_id", s.gameID), zap.Error(err))
            }
            s.cancel()
            return
        }
        select {
        case s.out <- ev:
        case <-ctx.Done():
            return
        }
    }
}

func (s *wsStream) pingLoop(ctx context.Context, every time.Duration) {
    defer s.wg.Done()
    t := time.NewTicker(every)
    defer t.Stop()
    failures := 0
    for {
        select {
        case <-ctx.Done():
            return
        case <-t.C:
            pctx, cancel := context.WithTimeout(ctx, 3*time.Second)
            err := s.conn.Ping(pctx)
            cancel()
            if err == nil {
                failures = 0
                continue
            }
            failures++
            if failures >= 2 {
                _ = s.Close()
                return
            }
        }
    }
}
