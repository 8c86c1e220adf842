package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/primal-host/vibespace/internal/auth"
	"github.com/primal-host/vibespace/internal/config"
	"github.com/primal-host/vibespace/internal/database"
	"github.com/primal-host/vibespace/internal/media"
	"github.com/primal-host/vibespace/internal/notify"
	"github.com/primal-host/vibespace/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	testSecret   = "0123456789abcdef0123456789abcdef"
	testAdminKey = "operator-key"
)

func newTestServer(t *testing.T, db *database.DB) *Server {
	t.Helper()
	cfg := &config.Config{
		ListenAddr:  ":0",
		JWTSecret:   testSecret,
		Issuer:      "vibespace",
		AdminKey:    testAdminKey,
		CORSOrigins: []string{"https://app.example.com"},
	}
	hub := notify.NewHub(zap.NewNop())
	t.Cleanup(hub.Shutdown)
	return New(cfg, db, media.NewMemoryStore(), hub, auth.NewJWTManager(testSecret, "vibespace"), zap.NewNop())
}

// do sends a JSON request through the server and decodes the response
// body into a generic map.
func do(t *testing.T, s *Server, method, path, token string, body any) (int, map[string]any) {
	t.Helper()
	var r *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(b)
	} else {
		r = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	out := map[string]any{}
	if rec.Body.Len() > 0 {
		_ = json.Unmarshal(rec.Body.Bytes(), &out)
	}
	return rec.Code, out
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, nil)
	code, body := do(t, s, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, Version, body["version"])
}

func TestAuthRequired(t *testing.T) {
	s := newTestServer(t, nil)

	code, body := do(t, s, http.MethodGet, "/users/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, "AuthRequired", body["error"])

	code, body = do(t, s, http.MethodGet, "/feed", "not-a-jwt", nil)
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, "InvalidToken", body["error"])
}

func TestRefreshRejectsAccessToken(t *testing.T) {
	s := newTestServer(t, nil)
	pair, err := auth.NewJWTManager(testSecret, "vibespace").CreateTokenPair(7)
	require.NoError(t, err)

	code, body := do(t, s, http.MethodPost, "/auth/refresh", pair.AccessToken, nil)
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, "InvalidToken", body["error"])
}

func TestAdminKey(t *testing.T) {
	s := newTestServer(t, nil)

	code, body := do(t, s, http.MethodGet, "/admin/reports", "wrong-key", nil)
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, "InvalidToken", body["error"])

	// Accepted key: the bad parameters are rejected before any query.
	code, body = do(t, s, http.MethodGet, "/admin/reports?status=bogus", testAdminKey, nil)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "InvalidRequest", body["error"])

	code, _ = do(t, s, http.MethodGet, "/admin/actions?limit=500", testAdminKey, nil)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = do(t, s, http.MethodPost, "/admin/reports/abc/resolve", testAdminKey, map[string]string{})
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestWebSocketRequiresToken(t *testing.T) {
	s := newTestServer(t, nil)
	code, body := do(t, s, http.MethodGet, "/ws", "", nil)
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, "AuthRequired", body["error"])

	code, _ = do(t, s, http.MethodGet, "/ws?token=garbage", "", nil)
	assert.Equal(t, http.StatusUnauthorized, code)
}

func TestCheckOrigin(t *testing.T) {
	s := newTestServer(t, nil)

	tests := []struct {
		origin string
		want   bool
	}{
		{"", true},
		{"https://app.example.com", true},
		{"http://api.example.com", true}, // same host as the request
		{"https://evil.example.net", false},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "http://api.example.com/ws", nil)
		if tt.origin != "" {
			req.Header.Set("Origin", tt.origin)
		}
		assert.Equal(t, tt.want, s.checkOrigin(req), tt.origin)
	}
}

func TestListResponseCursor(t *testing.T) {
	page := database.Page{Limit: 2}
	id := func(n int64) int64 { return n }

	full := listResponse("items", []int64{9, 7}, page, id)
	assert.Equal(t, "7", full["cursor"])

	short := listResponse("items", []int64{3}, page, id)
	assert.NotContains(t, short, "cursor")
	assert.Equal(t, []int64{3}, short["items"])
}

// --- Integration ---

type session struct {
	id    int64
	token string
}

func register(t *testing.T, s *Server, username string) session {
	t.Helper()
	code, body := do(t, s, http.MethodPost, "/auth/register", "", map[string]string{
		"username": username,
		"email":    username + "@example.com",
		"password": "correct horse",
	})
	require.Equal(t, http.StatusCreated, code, body)
	user := body["user"].(map[string]any)
	return session{id: int64(user["id"].(float64)), token: body["accessToken"].(string)}
}

func withID(format string, id int64) string {
	return strings.Replace(format, ":id", strconv.FormatInt(id, 10), 1)
}

func TestSocialFlow(t *testing.T) {
	db := testutil.NewTestDatabase(t)
	s := newTestServer(t, db)

	alice := register(t, s, "alice")
	bob := register(t, s, "bob")

	code, body := do(t, s, http.MethodPost, "/auth/login", "", map[string]string{
		"identifier": "alice@example.com", "password": "wrong password",
	})
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, "InvalidCredentials", body["error"])

	code, body = do(t, s, http.MethodPost, "/posts", alice.token, map[string]string{
		"body": "first light", "vibeChannel": "glow",
	})
	require.Equal(t, http.StatusCreated, code, body)
	postID := int64(body["id"].(float64))

	code, _ = do(t, s, http.MethodPost, withID("/posts/:id/vibes", postID), bob.token, map[string]string{"type": "fire"})
	assert.Equal(t, http.StatusCreated, code)
	code, _ = do(t, s, http.MethodPost, withID("/posts/:id/vibes", postID), bob.token, map[string]string{"type": "chill"})
	assert.Equal(t, http.StatusOK, code, "changing the type is not a new vibe")

	code, body = do(t, s, http.MethodPost, withID("/posts/:id/comments", postID), bob.token, map[string]string{"body": "lovely"})
	require.Equal(t, http.StatusCreated, code, body)

	code, body = do(t, s, http.MethodGet, "/notifications/unread-count", alice.token, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(2), body["count"])

	code, body = do(t, s, http.MethodGet, withID("/posts/:id/vibes", postID), alice.token, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(1), body["total"])

	code, body = do(t, s, http.MethodGet, "/channels/glow/posts", bob.token, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, body["posts"], 1)

	code, body = do(t, s, http.MethodGet, "/users/alice", bob.token, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "", body["followStatus"])

	// Suspended accounts can read but not write.
	code, _ = do(t, s, http.MethodPatch, withID("/admin/users/:id/status", bob.id), testAdminKey,
		map[string]string{"status": "suspended", "note": "cool off"})
	require.Equal(t, http.StatusOK, code)

	code, body = do(t, s, http.MethodPost, "/posts", bob.token, map[string]string{"body": "hello?"})
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "AccountSuspended", body["error"])
	code, _ = do(t, s, http.MethodGet, "/feed", bob.token, nil)
	assert.Equal(t, http.StatusOK, code)

	code, body = do(t, s, http.MethodGet, "/admin/actions", testAdminKey, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, body["actions"], 1)

	code, _ = do(t, s, http.MethodDelete, "/users/me", alice.token, map[string]string{"password": "nope nope"})
	assert.Equal(t, http.StatusUnauthorized, code)
	code, _ = do(t, s, http.MethodDelete, "/users/me", alice.token, map[string]string{"password": "correct horse"})
	assert.Equal(t, http.StatusOK, code)
	code, _ = do(t, s, http.MethodGet, "/users/me", alice.token, nil)
	assert.Equal(t, http.StatusUnauthorized, code)
}

func TestLiveNotifications(t *testing.T) {
	db := testutil.NewTestDatabase(t)
	s := newTestServer(t, db)
	srv := httptest.NewServer(s)
	t.Cleanup(srv.Close)

	alice := register(t, s, "alice")
	bob := register(t, s, "bob")

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?token=" + alice.token
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	var env notify.Envelope
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	require.NoError(t, conn.ReadJSON(&env))
	assert.Equal(t, notify.EnvelopeHello, env.Type)

	code, _ := do(t, s, http.MethodPost, withID("/users/:id/follow", alice.id), bob.token, nil)
	require.Equal(t, http.StatusCreated, code)

	require.NoError(t, conn.ReadJSON(&env))
	assert.Equal(t, notify.EnvelopeNotification, env.Type)
	payload := env.Payload.(map[string]any)
	assert.Equal(t, notify.TypeFollow, payload["type"])

	code, body := do(t, s, http.MethodPost, "/conversations", bob.token, map[string]int64{"userId": alice.id})
	require.Equal(t, http.StatusOK, code, body)
	convID := int64(body["id"].(float64))

	code, _ = do(t, s, http.MethodPost, withID("/conversations/:id/messages", convID), bob.token,
		map[string]string{"body": "hey"})
	require.Equal(t, http.StatusCreated, code)

	require.NoError(t, conn.ReadJSON(&env))
	assert.Equal(t, notify.EnvelopeMessage, env.Type)
	assert.Equal(t, "hey", env.Payload.(map[string]any)["body"])
}

func TestLikeIsEnergyVibe(t *testing.T) {
	db := testutil.NewTestDatabase(t)
	s := newTestServer(t, db)

	alice := register(t, s, "alice")
	bob := register(t, s, "bob")

	code, body := do(t, s, http.MethodPost, "/posts", alice.token, map[string]string{"body": "like me"})
	require.Equal(t, http.StatusCreated, code, body)
	postID := int64(body["id"].(float64))

	code, body = do(t, s, http.MethodPost, withID("/posts/:id/like", postID), bob.token, nil)
	require.Equal(t, http.StatusCreated, code, body)
	assert.Equal(t, "energy", body["type"])

	// Liking again after switching to another vibe resets it to energy.
	code, _ = do(t, s, http.MethodPost, withID("/posts/:id/vibes", postID), bob.token, map[string]string{"type": "glow"})
	require.Equal(t, http.StatusOK, code)
	code, body = do(t, s, http.MethodPost, withID("/posts/:id/like", postID), bob.token, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "energy", body["type"])

	code, body = do(t, s, http.MethodGet, withID("/posts/:id/vibes", postID), bob.token, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "energy", body["mine"])
	assert.Equal(t, float64(1), body["counts"].(map[string]any)["energy"])

	code, _ = do(t, s, http.MethodDelete, withID("/posts/:id/like", postID), bob.token, nil)
	assert.Equal(t, http.StatusNoContent, code)
	code, _ = do(t, s, http.MethodDelete, withID("/posts/:id/like", postID), bob.token, nil)
	assert.Equal(t, http.StatusNotFound, code)

	code, body = do(t, s, http.MethodGet, withID("/posts/:id/vibes", postID), bob.token, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(0), body["total"])
}

func TestModeratorCannotSuspendStaff(t *testing.T) {
	db := testutil.NewTestDatabase(t)
	s := newTestServer(t, db)

	boss := register(t, s, "boss")
	mod := register(t, s, "mod")
	user := register(t, s, "user")
	testutil.Exec(t, db, `UPDATE users SET role = 'admin' WHERE id = $1`, boss.id)
	testutil.Exec(t, db, `UPDATE users SET role = 'moderator' WHERE id = $1`, mod.id)

	code, body := do(t, s, http.MethodPost, "/posts", boss.token, map[string]string{"body": "house rules"})
	require.Equal(t, http.StatusCreated, code, body)
	postID := int64(body["id"].(float64))

	code, body = do(t, s, http.MethodPost, "/reports", user.token, map[string]any{
		"targetType": "post", "targetId": postID, "reason": "other",
	})
	require.Equal(t, http.StatusCreated, code, body)
	reportID := int64(body["id"].(float64))

	code, body = do(t, s, http.MethodPost, withID("/admin/reports/:id/resolve", reportID), mod.token,
		map[string]string{"resolution": "suspend_user"})
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "Forbidden", body["error"])

	code, body = do(t, s, http.MethodPatch, withID("/admin/users/:id/status", boss.id), mod.token,
		map[string]string{"status": "suspended"})
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "Forbidden", body["error"])

	// The admin keeps access to the admin API.
	code, _ = do(t, s, http.MethodGet, "/admin/reports", boss.token, nil)
	assert.Equal(t, http.StatusOK, code)

	code, body = do(t, s, http.MethodGet, "/admin/actions", testAdminKey, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Empty(t, body["actions"])
}
