package authority

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/storefront/clientsync/internal/domain/session"
	"github.com/storefront/clientsync/internal/domain/shared"
)

func newTestClient(t *testing.T, handler http.Handler, opts ...ClientOption) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := NewClient(Config{BaseURL: srv.URL}, zap.NewNop(), opts...)
	require.NoError(t, err)
	return client
}

func writeSession(w http.ResponseWriter, username, role, token string) {
	_ = json.NewEncoder(w).Encode(map[string]any{
		"user": map[string]any{
			"id":       int64(7),
			"username": username,
			"role":     role,
		},
		"token": token,
	})
}

func TestConfig_Validate(t *testing.T) {
	assert.Error(t, (&Config{}).Validate())
	assert.NoError(t, (&Config{BaseURL: "http://localhost:8080"}).Validate())
}

func TestCurrentSession_Confirmed(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/session", r.URL.Path)
		writeSession(w, "alice", "customer", "tok-1")
	}))

	snap, err := client.CurrentSession(context.Background())
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, "alice", snap.Username)
	assert.Equal(t, session.RoleCustomer, snap.Role)
	assert.False(t, snap.CheckedAt.IsZero())
	assert.Equal(t, "tok-1", client.Token())
}

func TestCurrentSession_UnauthorizedMeansNoSession(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))

	snap, err := client.CurrentSession(context.Background())
	assert.NoError(t, err)
	assert.Nil(t, snap)
}

func TestCurrentSession_ServerErrorIsNetworkFailure(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))

	_, err := client.CurrentSession(context.Background())
	assert.ErrorIs(t, err, shared.ErrNetworkFailure)
}

func TestCurrentSession_UnreachableAuthority(t *testing.T) {
	client, err := NewClient(Config{BaseURL: "http://127.0.0.1:1"}, zap.NewNop())
	require.NoError(t, err)

	_, err = client.CurrentSession(context.Background())
	assert.ErrorIs(t, err, shared.ErrNetworkFailure)
}

func TestLogin_Success(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/login", r.URL.Path)
		var req struct {
			Username string `json:"username"`
			Password string `json:"password"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "alice", req.Username)
		writeSession(w, "alice", "customer", "tok-login")
	}))

	snap, err := client.Login(context.Background(), session.Credentials{Username: "alice", Password: "wonderland"})
	require.NoError(t, err)
	assert.Equal(t, "alice", snap.Username)
	assert.Equal(t, "tok-login", client.Token())
}

func TestLogin_RejectedCredentials(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))

	_, err := client.Login(context.Background(), session.Credentials{Username: "alice", Password: "wrong"})
	assert.ErrorIs(t, err, shared.ErrInvalidCredentials)
}

func TestLogout_ClearsToken(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}), WithToken("tok-old"))

	require.NoError(t, client.Logout(context.Background()))
	assert.Empty(t, client.Token())
}

func TestProductExists(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/products/1/exists":
			_ = json.NewEncoder(w).Encode(map[string]bool{"exists": true})
		case "/api/products/2/exists":
			_ = json.NewEncoder(w).Encode(map[string]bool{"exists": false})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))

	exists, err := client.ProductExists(context.Background(), 1)
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = client.ProductExists(context.Background(), 2)
	require.NoError(t, err)
	assert.False(t, exists)

	exists, err = client.ProductExists(context.Background(), 99)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestTokenRotation_SendsBearerAndNotifiesListener(t *testing.T) {
	var rotated []string
	calls := 0

	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			require.Equal(t, "Bearer tok-seed", r.Header.Get("Authorization"))
			writeSession(w, "alice", "customer", "tok-next")
			return
		}
		require.Equal(t, "Bearer tok-next", r.Header.Get("Authorization"))
		writeSession(w, "alice", "customer", "")
	}),
		WithToken("tok-seed"),
		WithTokenListener(func(token string) { rotated = append(rotated, token) }),
	)

	_, err := client.CurrentSession(context.Background())
	require.NoError(t, err)
	_, err = client.CurrentSession(context.Background())
	require.NoError(t, err)

	// Empty token in the second response means no rotation
	assert.Equal(t, []string{"tok-next"}, rotated)
	assert.Equal(t, "tok-next", client.Token())
}

func TestDecodeSession_UnknownRoleFallsBackToGuest(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeSession(w, "bob", "wizard", "")
	}))

	snap, err := client.CurrentSession(context.Background())
	require.NoError(t, err)
	assert.Equal(t, session.RoleGuest, snap.Role)
}

func TestMalformedSessionPayload(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("{not json"))
	}))

	_, err := client.CurrentSession(context.Background())
	assert.ErrorIs(t, err, shared.ErrNetworkFailure)
}
