package model

import "context"

type sessionKey struct{}

// WithSessionID tags ctx with the analyzer session that produced the work.
func WithSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, sessionKey{}, id)
}

// SessionIDFrom returns the session id carried by ctx, "" when none.
func SessionIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(sessionKey{}).(string)
	return id
}
