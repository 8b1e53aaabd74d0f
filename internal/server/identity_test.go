package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/teemow/toolmeter/internal/events"
)

func TestIdentityFromRequest(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/mcp", nil)
	r.Header.Set(HeaderUserID, " u-7 ")
	r.Header.Set(HeaderUserEmail, "bob@example.com")
	r.Header.Set(HeaderUsername, "bob")

	assert.Equal(t, events.UserInfo{UserID: "u-7", Email: "bob@example.com", Username: "bob"}, IdentityFromRequest(r))
}

func TestIdentityContextFunc(t *testing.T) {
	t.Run("headers present", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/mcp", nil)
		r.Header.Set(HeaderUserEmail, "carol@example.com")

		u, ok := IdentityFromContext(IdentityContextFunc(context.Background(), r))
		assert.True(t, ok)
		assert.Equal(t, "carol@example.com", u.Email)
	})

	t.Run("no headers", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/mcp", nil)
		ctx := context.Background()
		assert.Equal(t, ctx, IdentityContextFunc(ctx, r))
	})
}

func TestIdentityFromContext_ZeroIsAbsent(t *testing.T) {
	_, ok := IdentityFromContext(WithIdentity(context.Background(), events.UserInfo{}))
	assert.False(t, ok)

	_, ok = IdentityFromContext(context.Background())
	assert.False(t, ok)
}
