package session

import (
	"context"
	"errors"
)

// ErrNoSession is returned by stores that cannot find the requested session.
var ErrNoSession = errors.New("no session")

// Session is the authenticated member carried between requests.
type Session struct {
	MemberID    string
	DisplayName string
	IsAdmin     bool
}

// Valid reports whether the session names a member.
func (s Session) Valid() bool {
	return s.MemberID != ""
}

// Store persists the current session.
// Implementations decide what "current" means: a single slot for CLI use,
// or the slot addressed by a request's token.
type Store interface {
	Get(ctx context.Context) (Session, bool, error)
	Set(ctx context.Context, s Session) error
	Clear(ctx context.Context) error
}
