// ABOUTME: Tests for HTTP authentication middleware
// ABOUTME: Covers header and query token extraction, user lookup and JSON errors

package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/mulchat-gateway/internal/store"
)

type fakeUsers map[string]*store.User

func (f fakeUsers) GetUser(ctx context.Context, id string) (*store.User, error) {
	if u, ok := f[id]; ok {
		return u, nil
	}
	return nil, store.ErrNotFound
}

func TestExtractBearerToken(t *testing.T) {
	tests := []struct {
		header  string
		token   string
		wantErr bool
	}{
		{header: "Bearer abc", token: "abc"},
		{header: "", wantErr: true},
		{header: "Basic abc", wantErr: true},
		{header: "Bearer ", wantErr: true},
	}
	for _, tt := range tests {
		token, errMsg := extractBearerToken(tt.header)
		assert.Equal(t, tt.token, token, tt.header)
		assert.Equal(t, tt.wantErr, errMsg != "", tt.header)
	}
}

func TestHTTPAuthMiddleware(t *testing.T) {
	v := newTestVerifier(t)
	users := fakeUsers{"u1": {ID: "u1", Username: "alice"}}
	valid, err := v.Generate("u1", time.Hour)
	require.NoError(t, err)
	orphan, err := v.Generate("deleted-user", time.Hour)
	require.NoError(t, err)

	var got *Identity
	handler := HTTPAuthMiddleware(users, v)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = FromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	t.Run("header", func(t *testing.T) {
		got = nil
		req := httptest.NewRequest(http.MethodGet, "/api/users", nil)
		req.Header.Set("Authorization", "Bearer "+valid)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusNoContent, rec.Code)
		require.NotNil(t, got)
		assert.Equal(t, Identity{UserID: "u1", Username: "alice"}, *got)
	})

	t.Run("query parameter", func(t *testing.T) {
		got = nil
		req := httptest.NewRequest(http.MethodGet, "/ws?token="+valid, nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusNoContent, rec.Code)
		require.NotNil(t, got)
	})

	for name, header := range map[string]string{
		"missing":      "",
		"bad token":    "Bearer nope",
		"unknown user": "Bearer " + orphan,
	} {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/users", nil)
			if header != "" {
				req.Header.Set("Authorization", header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
			assert.Contains(t, rec.Body.String(), `"error"`)
		})
	}
}

func TestFromContext_Anonymous(t *testing.T) {
	assert.Nil(t, FromContext(context.Background()))
}
