package game

import (
    "context"
    "encoding/json"
    "errors"
    "fmt"
    "net/url"
    "strconv"
    "strings"
    "time"

    "github.com/redis/go-redis/v9"
)

const DefaultTTL = 24 * time.Hour

func RecordKey(id string) string        { return "dama:game:" + strings.TrimSpace(id) }
func UserIndexKey(player string) string { return "dama:index:user:" + strings.TrimSpace(player) }

// ActiveKey is the set of game ids the clock reaper watches.
const ActiveKey = "dama:active"

// ReadRecord loads a record through any redis handle, including a watching Tx.
// A missing key yields ErrNotFound.
func ReadRecord(ctx context.Context, c redis.Cmdable, id string) (*Record, error) {
    raw, err := c.Get(ctx, RecordKey(id)).Bytes()
    if errors.Is(err, redis.Nil) { return nil, ErrNotFound }
    if err != nil { return nil, unavailable(err) }
    var r Record
    if err := json.Unmarshal(raw, &r); err != nil { return nil, fmt.Errorf("decode game %s: %w", id, err) }
    return &r, nil
}

// WriteRecord queues the record write plus its index maintenance on pipe.
func WriteRecord(ctx context.Context, pipe redis.Pipeliner, r *Record, ttl time.Duration) error {
    raw, err := json.Marshal(r)
    if err != nil { return err }
    if ttl <= 0 { ttl = DefaultTTL }
    pipe.Set(ctx, RecordKey(r.ID), raw, ttl)
    for _, p := range []string{r.Player1, r.Player2} {
        if strings.TrimSpace(p) == "" { continue }
        pipe.SAdd(ctx, UserIndexKey(p), r.ID)
        pipe.Expire(ctx, UserIndexKey(p), ttl)
    }
    switch r.Status {
    case StatusActive:
        pipe.SAdd(ctx, ActiveKey, r.ID)
    case StatusCompleted:
        pipe.SRem(ctx, ActiveKey, r.ID)
    }
    return nil
}

// DeleteRecord queues removal of a record that never started.
func DeleteRecord(ctx context.Context, pipe redis.Pipeliner, r *Record) {
    pipe.Del(ctx, RecordKey(r.ID))
    pipe.SRem(ctx, UserIndexKey(r.Player1), r.ID)
    pipe.SRem(ctx, ActiveKey, r.ID)
}

// unavailable tags a redis failure as transient, leaving tx conflicts recognisable.
func unavailable(err error) error {
    if err == nil || errors.Is(err, redis.TxFailedErr) { return err }
    return fmt.Errorf("%w: %v", ErrUnavailable, err)
}

// ParseRedisURL turns redis://[:pass@]host:port/db into client options.
func ParseRedisURL(raw string) (*redis.Options, error) {
    u, err := url.Parse(strings.TrimSpace(raw))
    if err != nil { return nil, err }
    if u.Scheme != "redis" && u.Scheme != "rediss" { return nil, fmt.Errorf("unsupported scheme: %s", u.Scheme) }
    db := 0
    if p := strings.TrimPrefix(u.Path, "/"); p != "" {
        n, err := strconv.Atoi(p)
        if err != nil { return nil, fmt.Errorf("invalid redis db %q", p) }
        db = n
    }
    pass, _ := u.User.Password()
    return &redis.Options{Addr: u.Host, Username: u.User.Username(), Password: pass, DB: db}, nil
}
