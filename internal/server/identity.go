package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/teemow/toolmeter/internal/events"
)

// Identity headers set by a trusted authenticating proxy in front of the
// HTTP transport.
const (
	HeaderUserID    = "X-Toolmeter-User-Id"
	HeaderUserEmail = "X-Toolmeter-User-Email"
	HeaderUsername  = "X-Toolmeter-Username"
)

type identityKey struct{}

// WithIdentity returns a copy of ctx carrying u.
func WithIdentity(ctx context.Context, u events.UserInfo) context.Context {
	return context.WithValue(ctx, identityKey{}, u)
}

// IdentityFromContext returns the identity stored by WithIdentity. A zero
// identity is reported as absent.
func IdentityFromContext(ctx context.Context) (events.UserInfo, bool) {
	u, ok := ctx.Value(identityKey{}).(events.UserInfo)
	if !ok || u.IsZero() {
		return events.UserInfo{}, false
	}
	return u, true
}

// IdentityFromRequest reads the identity headers of r.
func IdentityFromRequest(r *http.Request) events.UserInfo {
	return events.UserInfo{
		UserID:   strings.TrimSpace(r.Header.Get(HeaderUserID)),
		Email:    strings.TrimSpace(r.Header.Get(HeaderUserEmail)),
		Username: strings.TrimSpace(r.Header.Get(HeaderUsername)),
	}
}

// IdentityContextFunc attaches the request's identity headers to the context
// of MCP calls. It matches mcp-go's HTTP and SSE context func signature.
func IdentityContextFunc(ctx context.Context, r *http.Request) context.Context {
	u := IdentityFromRequest(r)
	if u.IsZero() {
		return ctx
	}
	return WithIdentity(ctx, u)
}
