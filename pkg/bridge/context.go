package bridge

import (
	"context"
	"errors"
)

// ErrNotBridged is returned by ClientAddress for a context that does not
// belong to a request translated by NewRequest.
var ErrNotBridged = errors.New("bridge: context does not belong to a bridged request")

type ctxKey int

const (
	platformKey ctxKey = iota
	addressKey
)

// Platform returns the value built by RequestOptions.Platform for the request
// owning ctx, or nil.
func Platform(ctx context.Context) any {
	return ctx.Value(platformKey)
}

// ClientAddress returns the address of the client that sent the request
// owning ctx. With an address header configured the header is authoritative;
// otherwise the peer address of the connection is used.
func ClientAddress(ctx context.Context) (string, error) {
	r, ok := ctx.Value(addressKey).(*addressResolver)
	if !ok {
		return "", ErrNotBridged
	}
	return r.resolve()
}
