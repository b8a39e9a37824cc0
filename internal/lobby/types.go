package lobby

import (
    "strings"

    "github.com/park285/dama-server/internal/game"
    "github.com/park285/dama-server/internal/rules"
)

func QueueKey(mode rules.Mode) string { return "dama:queue:" + string(mode) }
func InviteKey(code string) string    { return "dama:invite:" + strings.ToUpper(strings.TrimSpace(code)) }

// Result is what an allocator call left the caller with.
// Created is true when the caller now owns a fresh waiting record.
type Result struct {
    Record  *game.Record
    Created bool
}

// Errors
var (
    ErrInvalidArgs     = errf("invalid arguments")
    ErrNotFound        = errf("invite code not found or game already started")
    ErrMatchRace       = errf("matchmaking slot was taken; try again")
    ErrNotCancellable  = errf("only the creator can cancel a game nobody has joined")
    ErrMatchTimeout    = errf("no opponent found in time")
    ErrCodeUnavailable = errf("failed to allocate invite code")
    // 자기 초대 코드로 참가: NotFound 계열로 취급
    ErrSelfJoin error = notFoundErr("cannot join your own game")
)

type staticErr string
func (e staticErr) Error() string { return string(e) }
func errf(s string) error { return staticErr(s) }

type notFoundErr string
func (e notFoundErr) Error() string        { return string(e) }
func (e notFoundErr) Is(target error) bool { return target == ErrNotFound }
