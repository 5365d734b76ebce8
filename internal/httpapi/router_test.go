package httpapi

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/and161185/talko/internal/realtime"
	"github.com/and161185/talko/internal/service"
)

type apiFixture struct {
	srv   *httptest.Server
	store *memStore
	reg   *realtime.Registry
}

func newAPI(t *testing.T, authRate int) *apiFixture {
	t.Helper()
	log := zap.NewNop()
	store := newMemStore()
	users, msgs := memUsers{store}, memMessages{store}

	auth := service.NewAuthService(users, []byte("test-key"), time.Hour, nil, log)
	chat := service.NewChatService(users, msgs, nil, 1000, log)

	reg := realtime.NewRegistry()
	fan := realtime.NewFanout(reg, log)
	chat.SetDeliverer(fan)
	pres := realtime.NewPresence(reg, fan, 0, log)
	gw := realtime.NewGateway(realtime.DefaultConfig(), auth, chat, chat, reg, pres, realtime.NewTypingRelay(fan, log), log)

	srv := httptest.NewServer(NewRouter(Deps{
		Accounts:      auth,
		Chat:          chat,
		DB:            store,
		Gateway:       gw,
		Log:           log,
		AuthRateLimit: authRate,
	}))
	t.Cleanup(func() {
		gw.Shutdown()
		srv.Close()
	})
	return &apiFixture{srv: srv, store: store, reg: reg}
}

type resp struct {
	status int
	header http.Header
	body   []byte
}

func (r resp) json(t *testing.T, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(r.body, v), string(r.body))
}

func (r resp) message(t *testing.T) string {
	t.Helper()
	var e struct{ Message string }
	r.json(t, &e)
	return e.Message
}

func (f *apiFixture) do(t *testing.T, method, path, token string, body any) resp {
	t.Helper()
	var rd io.Reader
	if body != nil {
		if s, ok := body.(string); ok {
			rd = strings.NewReader(s)
		} else {
			b, err := json.Marshal(body)
			require.NoError(t, err)
			rd = bytes.NewReader(b)
		}
	}
	req, err := http.NewRequest(method, f.srv.URL+path, rd)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	b, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	return resp{status: res.StatusCode, header: res.Header, body: b}
}

type authResp struct {
	User struct {
		ID       string `json:"id"`
		Username string `json:"username"`
	} `json:"user"`
	Token string `json:"token"`
}

func (f *apiFixture) register(t *testing.T, name string) authResp {
	t.Helper()
	r := f.do(t, http.MethodPost, "/api/auth/register", "", map[string]string{"username": name, "password": "secret1"})
	require.Equal(t, http.StatusCreated, r.status, string(r.body))
	var out authResp
	r.json(t, &out)
	return out
}

func (f *apiFixture) ws(t *testing.T, token string) *websocket.Conn {
	t.Helper()
	c, res, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(f.srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	_ = res.Body.Close()
	t.Cleanup(func() { _ = c.Close() })
	b, _ := json.Marshal(map[string]string{"type": "auth", "token": token})
	require.NoError(t, c.WriteMessage(websocket.TextMessage, b))
	return c
}

func readFrame(t *testing.T, c *websocket.Conn, typ string) map[string]any {
	t.Helper()
	require.NoError(t, c.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		_, data, err := c.ReadMessage()
		require.NoError(t, err)
		var m map[string]any
		require.NoError(t, json.Unmarshal(data, &m))
		if m["type"] == typ {
			return m
		}
	}
}

func TestAPI_RegisterAndLogin(t *testing.T) {
	f := newAPI(t, 0)

	a := f.register(t, "alice")
	require.Equal(t, "alice", a.User.Username)
	require.NotEmpty(t, a.Token)

	r := f.do(t, http.MethodPost, "/api/auth/register", "", map[string]string{"username": "alice", "password": "secret1"})
	require.Equal(t, http.StatusBadRequest, r.status)
	require.Equal(t, "Username already taken", r.message(t))

	r = f.do(t, http.MethodPost, "/api/auth/register", "", map[string]string{"username": "al", "password": "secret1"})
	require.Equal(t, http.StatusBadRequest, r.status)
	require.Contains(t, r.message(t), "username must be at least 3 characters")

	r = f.do(t, http.MethodPost, "/api/auth/register", "", "{broken")
	require.Equal(t, http.StatusBadRequest, r.status)

	r = f.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{"username": "alice", "password": "secret1"})
	require.Equal(t, http.StatusOK, r.status)
	var login authResp
	r.json(t, &login)
	require.Equal(t, a.User.ID, login.User.ID)
	require.NotEmpty(t, login.Token)

	r = f.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{"username": "alice", "password": "wrong-pw"})
	require.Equal(t, http.StatusUnauthorized, r.status)

	r = f.do(t, http.MethodGet, "/api/me", login.Token, nil)
	require.Equal(t, http.StatusOK, r.status)
	require.NotContains(t, string(r.body), "argon2")
}

func TestAPI_AuthMiddleware(t *testing.T) {
	f := newAPI(t, 0)

	r := f.do(t, http.MethodGet, "/api/users", "", nil)
	require.Equal(t, http.StatusUnauthorized, r.status)
	require.Equal(t, "Access token required", r.message(t))

	r = f.do(t, http.MethodGet, "/api/users", "not-a-token", nil)
	require.Equal(t, http.StatusForbidden, r.status)
}

func TestAPI_UsersExcludeCaller(t *testing.T) {
	f := newAPI(t, 0)
	a := f.register(t, "alice")
	f.register(t, "bob")
	f.register(t, "carol")

	r := f.do(t, http.MethodGet, "/api/users", a.Token, nil)
	require.Equal(t, http.StatusOK, r.status)
	var list []map[string]any
	r.json(t, &list)
	require.Len(t, list, 2)
	require.Equal(t, "bob", list[0]["username"])
	require.Equal(t, "carol", list[1]["username"])
	require.Contains(t, list[0], "createdAt")
	require.NotContains(t, list[0], "password_hash")
}

// alice posts to everyone: the response has a null recipient and every open connection, hers included, gets it.
func TestAPI_BroadcastScenario(t *testing.T) {
	f := newAPI(t, 0)
	bob := f.register(t, "bob")
	alice := f.register(t, "alice")

	bobWS := f.ws(t, bob.Token)
	readFrame(t, bobWS, "online_users")

	aliceWS := f.ws(t, alice.Token)
	online := readFrame(t, bobWS, "online_users")
	names := []string{}
	for _, u := range online["users"].([]any) {
		names = append(names, u.(map[string]any)["username"].(string))
	}
	require.Contains(t, names, "alice")
	require.Len(t, f.reg.ConnectionsFor(mustID(t, alice.User.ID)), 1)

	r := f.do(t, http.MethodPost, "/api/messages", alice.Token, map[string]any{"text": "hi"})
	require.Equal(t, http.StatusCreated, r.status, string(r.body))
	var msg map[string]any
	r.json(t, &msg)
	require.Contains(t, msg, "recipientId")
	require.Nil(t, msg["recipientId"])
	require.Equal(t, "hi", msg["text"])

	for _, c := range []*websocket.Conn{aliceWS, bobWS} {
		m := readFrame(t, c, "message")["message"].(map[string]any)
		require.Equal(t, "hi", m["text"])
		require.Equal(t, msg["id"], m["id"])
	}

	r = f.do(t, http.MethodGet, "/api/messages", bob.Token, nil)
	var hist []map[string]any
	r.json(t, &hist)
	require.Len(t, hist, 1)
	require.Equal(t, "alice", hist[0]["sender"].(map[string]any)["username"])
}

// bob is offline when alice writes to him; the conversation endpoint still has it.
func TestAPI_DirectToOfflineScenario(t *testing.T) {
	f := newAPI(t, 0)
	alice := f.register(t, "alice")
	bob := f.register(t, "bob")
	carol := f.register(t, "carol")

	aliceWS := f.ws(t, alice.Token)
	readFrame(t, aliceWS, "online_users")
	carolWS := f.ws(t, carol.Token)
	readFrame(t, carolWS, "online_users")

	r := f.do(t, http.MethodPost, "/api/messages", alice.Token, map[string]any{"text": "see you", "recipientId": bob.User.ID})
	require.Equal(t, http.StatusCreated, r.status, string(r.body))

	m := readFrame(t, aliceWS, "message")["message"].(map[string]any)
	require.Equal(t, bob.User.ID, m["recipientId"])

	// carol's next message frame is the later broadcast, not the direct one
	r = f.do(t, http.MethodPost, "/api/messages", alice.Token, map[string]any{"text": "public"})
	require.Equal(t, http.StatusCreated, r.status)
	m = readFrame(t, carolWS, "message")["message"].(map[string]any)
	require.Equal(t, "public", m["text"])

	r = f.do(t, http.MethodGet, "/api/conversations/"+alice.User.ID, bob.Token, nil)
	require.Equal(t, http.StatusOK, r.status)
	var conv []map[string]any
	r.json(t, &conv)
	require.Len(t, conv, 1)
	require.Equal(t, "see you", conv[0]["text"])

	r = f.do(t, http.MethodGet, "/api/conversations/nope", bob.Token, nil)
	require.Equal(t, http.StatusBadRequest, r.status)
}

func TestAPI_SendValidation(t *testing.T) {
	f := newAPI(t, 0)
	a := f.register(t, "alice")

	r := f.do(t, http.MethodPost, "/api/messages", a.Token, map[string]any{"text": ""})
	require.Equal(t, http.StatusBadRequest, r.status)

	r = f.do(t, http.MethodPost, "/api/messages", a.Token, map[string]any{"text": "x", "recipientId": "6f1f6a8e-5a53-4b57-9d43-2c0d0f9b2a11"})
	require.Equal(t, http.StatusBadRequest, r.status)
	require.Contains(t, r.message(t), "recipient not found")

	r = f.do(t, http.MethodPost, "/api/messages", a.Token, map[string]any{"text": "x", "recipientId": "garbage"})
	require.Equal(t, http.StatusBadRequest, r.status)
}

func TestAPI_AuthRateLimit(t *testing.T) {
	f := newAPI(t, 2)
	body := map[string]string{"username": "zed", "password": "whatever"}
	f.do(t, http.MethodPost, "/api/auth/login", "", body)
	f.do(t, http.MethodPost, "/api/auth/login", "", body)
	r := f.do(t, http.MethodPost, "/api/auth/login", "", body)
	require.Equal(t, http.StatusTooManyRequests, r.status)
}

func TestAPI_HealthReadyMetrics(t *testing.T) {
	f := newAPI(t, 0)
	require.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/healthz", "", nil).status)
	require.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/readyz", "", nil).status)

	f.store.failPing(errors.New("down"))
	require.Equal(t, http.StatusServiceUnavailable, f.do(t, http.MethodGet, "/readyz", "", nil).status)

	f.do(t, http.MethodGet, "/healthz", "", nil)
	r := f.do(t, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, r.status)
	require.Contains(t, string(r.body), "talko_http_requests_total")
}
