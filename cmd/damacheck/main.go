// damacheck is a smoke test against a running dama server: ping, quick match,
// optional wait for an opponent, then a short watch of the websocket feed.
package main

import (
    "context"
    "fmt"
    "log"
    "os"
    "time"

    "github.com/park285/dama-server/internal/damaclient"
    "github.com/park285/dama-server/internal/rules"
)

func main() {
    baseURL := os.Getenv("DAMA_BASE_URL")
    player := os.Getenv("X_USER_ID")
    if baseURL == "" || player == "" {
        log.Fatal("DAMA_BASE_URL and X_USER_ID are required")
    }
    mode := rules.Soldier
    if v := os.Getenv("DAMA_MODE"); v != "" {
        m, err := rules.ParseMode(v)
        if err != nil {
            log.Fatalf("mode: %v", err)
        }
        mode = m
    }

    client := damaclient.NewClient(baseURL, player, damaclient.WithTimeout(8*time.Second))

    ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
    defer cancel()
    if err := client.Ping(ctx); err != nil {
        log.Fatalf("/api/ping error: %v", err)
    }
    log.Println("/api/ping ok")

    match, err := client.QuickMatch(ctx, mode)
    if err != nil {
        log.Fatalf("quick match error: %v", err)
    }
    g := match.Game
    log.Printf("quick match: game=%s status=%s created=%v", g.ID, g.Status, match.Created)

    if match.Created {
        actx, acancel := context.WithTimeout(context.Background(), 70*time.Second)
        defer acancel()
        g, err = client.AwaitOpponent(actx, g.ID, 60*time.Second)
        if err != nil {
            log.Printf("no opponent: %v", err)
            return
        }
        log.Printf("opponent joined: %s", g.Opponent(player))
    }

    feed := damaclient.NewFeed(baseURL, player)
    wctx, wcancel := context.WithTimeout(context.Background(), 10*time.Second)
    defer wcancel()
    stream, err := feed.Subscribe(wctx, g.ID)
    if err != nil {
        log.Printf("WS subscribe error: %v", err)
        return
    }
    defer stream.Close()

    // Observe for a short window
    for ev := range stream.Events() {
        fmt.Printf("WS event type=%s version=%d\n", ev.Type, ev.Version)
    }
}
