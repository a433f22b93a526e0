package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"synopsis/internal/delivery/websocket"
	"synopsis/pkg/synopsis"
	"synopsis/pkg/utils"
)

func newTestServer(t *testing.T) (*httptest.Server, *synopsis.Backend) {
	t.Helper()
	backend, err := synopsis.New(synopsis.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { backend.Close() })

	router := NewRouter(NewHandler(backend.Documents()), websocket.NewHandler(backend))
	srv := httptest.NewServer(router.Setup())
	t.Cleanup(srv.Close)
	return srv, backend
}

func getJSON(t *testing.T, srv *httptest.Server, path string, v interface{}) *http.Response {
	t.Helper()
	resp, err := srv.Client().Get(srv.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	if v != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
	}
	return resp
}

func TestRouter_Health(t *testing.T) {
	srv, _ := newTestServer(t)

	var body HealthResponse
	resp := getJSON(t, srv, "/healthz", &body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body.Status)
	assert.NotEmpty(t, resp.Header.Get(utils.RequestIDHeader))
}

func TestRouter_Documents(t *testing.T) {
	srv, backend := newTestServer(t)
	ctx := context.Background()

	var list DocumentListResponse
	getJSON(t, srv, "/api/documents", &list)
	assert.Equal(t, []string{}, list.Documents)

	_, err := backend.Documents().ApplyBatch(ctx, "notes/today", json.RawMessage(`[{"op":"add","path":"/title","value":"hi"}]`))
	require.NoError(t, err)
	_, err = backend.Documents().ApplyBatch(ctx, "notes/today", json.RawMessage(`[{"op":"add","path":"/done","value":false}]`))
	require.NoError(t, err)

	getJSON(t, srv, "/api/documents", &list)
	assert.Equal(t, []string{"notes/today"}, list.Documents)

	var doc synopsis.Document
	resp := getJSON(t, srv, "/api/documents/notes%2Ftoday", &doc)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "notes/today", doc.Name)
	assert.Equal(t, uint64(2), doc.Version)
	assert.JSONEq(t, `{"title":"hi","done":false}`, string(doc.Value))

	var patches PatchListResponse
	resp = getJSON(t, srv, "/api/documents/notes%2Ftoday/patches?since=1", &patches)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, uint64(2), patches.Version)
	assert.Equal(t, uint64(1), patches.Since)
	require.Len(t, patches.Commits, 1)
	assert.Equal(t, uint64(2), patches.Commits[0].Version)
	assert.JSONEq(t, `[{"op":"add","path":"/done","value":false}]`, string(patches.Commits[0].Patch))
}

func TestRouter_Errors(t *testing.T) {
	srv, backend := newTestServer(t)
	_, err := backend.Documents().GetOrCreate(context.Background(), "doc")
	require.NoError(t, err)

	var body map[string]interface{}
	resp := getJSON(t, srv, "/api/documents/missing", &body)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, `document "missing" not found`, body["error"])
	assert.Equal(t, resp.Header.Get(utils.RequestIDHeader), body["request_id"])

	body = nil
	resp = getJSON(t, srv, "/api/documents/doc/patches?since=abc", &body)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "since must be a non-negative integer", body["error"])

	resp, err = srv.Client().Post(srv.URL+"/api/documents", "application/json", strings.NewReader(`{}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestRouter_WebsocketThroughMiddleware(t *testing.T) {
	srv, _ := newTestServer(t)

	ws, _, err := gws.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer ws.Close()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(5*time.Second)))

	require.NoError(t, ws.WriteMessage(gws.TextMessage, []byte(`{"name":"live"}`)))
	_, data, err := ws.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `[[],0]`, string(data))
}
