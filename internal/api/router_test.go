package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starapp/chat-server/internal/chat"
)

type stubTransport struct {
	conns  int
	uptime time.Duration
}

func (s stubTransport) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusTeapot)
}
func (s stubTransport) ConnectionCount() int  { return s.conns }
func (s stubTransport) Uptime() time.Duration { return s.uptime }

type nopSink struct{}

func (nopSink) Deliver(chat.Event) bool { return true }

func setupRouter(t *testing.T) (*gin.Engine, *chat.Hub) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	hub := chat.NewHub(chat.DefaultConfig())
	t.Cleanup(hub.Close)
	r := NewRouter(hub, stubTransport{conns: 3, uptime: 90 * time.Second}, Options{ClientURL: "http://localhost:5173"})
	return r, hub
}

func get(r http.Handler, path string, header ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	r, _ := setupRouter(t)
	rec := get(r, "/health")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Status      string `json:"status"`
		Connections int    `json:"connections"`
		Uptime      int64  `json:"uptime"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 3, resp.Connections)
	assert.Equal(t, int64(90), resp.Uptime)
}

func TestMessagesAndUsers(t *testing.T) {
	r, hub := setupRouter(t)

	rec := get(r, "/api/messages")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"messages":[]}`, rec.Body.String())

	hub.Connect("a", nopSink{})
	_, err := hub.Join("a", "alice")
	require.NoError(t, err)
	_, err = hub.PublishGlobal("a", chat.PlainText{Text: "hi"}, nil)
	require.NoError(t, err)

	rec = get(r, "/api/messages")
	var msgs struct {
		Messages []chat.Message `json:"messages"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&msgs))
	require.Len(t, msgs.Messages, 2)
	assert.Equal(t, chat.KindSystem, msgs.Messages[0].Kind)
	assert.Equal(t, chat.PlainText{Text: "hi"}, msgs.Messages[1].Body)

	rec = get(r, "/api/users")
	require.Equal(t, http.StatusOK, rec.Code)
	var users struct {
		Users []struct {
			ID   string `json:"id"`
			Name string `json:"display_name"`
		} `json:"users"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&users))
	require.Len(t, users.Users, 1)
	assert.Equal(t, "alice", users.Users[0].Name)
}

func TestRoutesToTransportAndMetrics(t *testing.T) {
	r, _ := setupRouter(t)

	assert.Equal(t, http.StatusTeapot, get(r, "/ws").Code)

	rec := get(r, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "chat_connections")

	rec = get(r, "/")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "running")
}

func TestCORS(t *testing.T) {
	r, _ := setupRouter(t)

	rec := get(r, "/api/users", "Origin", "http://localhost:5173")
	assert.Equal(t, "http://localhost:5173", rec.Header().Get("Access-Control-Allow-Origin"))

	rec = get(r, "/api/users", "Origin", "http://evil.example")
	assert.Equal(t, http.StatusForbidden, rec.Code)
}
