package websocket

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"

	"github.com/aaronwang/live-auction/broadcast-service/internal/gateway"
	"github.com/aaronwang/live-auction/shared/auth"
	"github.com/aaronwang/live-auction/shared/models"
)

const secret = "test-secret"

type fakeForwarder struct {
	mu       sync.Mutex
	calls    int
	token    string
	streamID string
	cmd      gateway.Command
	result   json.RawMessage
	err      error
}

func (f *fakeForwarder) Forward(_ context.Context, token, streamID string, cmd *gateway.Command) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.token, f.streamID, f.cmd = token, streamID, *cmd
	return f.result, f.err
}

func (f *fakeForwarder) snapshot() (int, string, string, gateway.Command) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls, f.token, f.streamID, f.cmd
}

func newTestServer(t *testing.T, fwd Forwarder) (*httptest.Server, *Manager) {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx, cancel := context.WithCancel(context.Background())
	m := NewManager(log)
	go m.Run(ctx)
	srv := httptest.NewServer(NewHandler(m, fwd, secret, log).SetupRoutes())
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return srv, m
}

func token(t *testing.T, userID string) string {
	t.Helper()
	tok, err := auth.IssueToken(secret, userID, time.Hour)
	assert.NoError(t, err)
	return tok
}

func dial(t *testing.T, srv *httptest.Server, streamID, tok string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/streams/" + streamID
	if tok != "" {
		url += "?token=" + tok
	}
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	assert.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	welcome := readJSON(t, conn)
	check.Equal(t, "connected", welcome["type"])
	check.Equal[any](t, streamID, welcome["stream_id"])
	return conn
}

func readJSON(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var v map[string]any
	assert.NoError(t, conn.ReadJSON(&v))
	return v
}

func expectSilence(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(150 * time.Millisecond))
	_, msg, err := conn.ReadMessage()
	check.Error(t, err)
	check.Equal(t, 0, len(msg))
}

func TestBroadcast_OnlyReachesStreamRoom(t *testing.T) {
	srv, m := newTestServer(t, &fakeForwarder{})
	watcher := dial(t, srv, "stream-1", "")
	other := dial(t, srv, "stream-2", "")

	check.Equal(t, 1, m.GetSubscriberCount("stream-1"))
	check.Equal(t, 1, m.GetSubscriberCount("stream-2"))

	m.Broadcast("stream-1", []byte(`{"type":"bid_placed","stream_id":"stream-1"}`))

	got := readJSON(t, watcher)
	check.Equal(t, "bid_placed", got["type"])
	expectSilence(t, other)
}

func TestCommand_ForwardedWithViewerToken(t *testing.T) {
	fwd := &fakeForwarder{result: json.RawMessage(`{"success":true,"current_bid":10.00}`)}
	srv, _ := newTestServer(t, fwd)
	tok := token(t, "alice")
	conn := dial(t, srv, "stream-1", tok)

	assert.NoError(t, conn.WriteMessage(websocket.TextMessage,
		[]byte(`{"type":"place-bid","request_id":"r1","amount":10}`)))

	reply := readJSON(t, conn)
	check.Equal(t, "command_result", reply["type"])
	check.Equal(t, "r1", reply["request_id"])
	result, ok := reply["result"].(map[string]any)
	assert.True(t, ok)
	check.Equal(t, true, result["success"])

	calls, gotToken, streamID, cmd := fwd.snapshot()
	check.Equal(t, 1, calls)
	check.Equal(t, tok, gotToken)
	check.Equal(t, "stream-1", streamID)
	check.Equal(t, gateway.CommandPlaceBid, cmd.Type)
	assert.NotNil(t, cmd.Amount)
	check.Equal(t, models.Money(1000), *cmd.Amount)
}

func TestCommand_ErrorsGoToSenderOnly(t *testing.T) {
	fwd := &fakeForwarder{err: &gateway.APIError{Status: http.StatusConflict, Code: "BID_TOO_LOW", Message: "bid too low"}}
	srv, _ := newTestServer(t, fwd)
	sender := dial(t, srv, "stream-1", token(t, "alice"))
	bystander := dial(t, srv, "stream-1", token(t, "bob"))

	assert.NoError(t, sender.WriteMessage(websocket.TextMessage, []byte(`{"type":"place-bid","amount":1}`)))

	reply := readJSON(t, sender)
	check.Equal(t, "error", reply["type"])
	check.Equal(t, "BID_TOO_LOW", reply["code"])
	check.Equal(t, "bid too low", reply["error"])
	expectSilence(t, bystander)
}

func TestCommand_RequiresAuthentication(t *testing.T) {
	fwd := &fakeForwarder{}
	srv, _ := newTestServer(t, fwd)
	conn := dial(t, srv, "stream-1", "")

	assert.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"buy-now"}`)))

	reply := readJSON(t, conn)
	check.Equal(t, "UNAUTHORIZED", reply["code"])
	calls, _, _, _ := fwd.snapshot()
	check.Equal(t, 0, calls)
}

func TestCommand_MalformedMessage(t *testing.T) {
	srv, _ := newTestServer(t, &fakeForwarder{})
	conn := dial(t, srv, "stream-1", token(t, "alice"))

	assert.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{not json`)))

	reply := readJSON(t, conn)
	check.Equal(t, "BAD_REQUEST", reply["code"])
}

func TestHandleWebSocket_RejectsInvalidToken(t *testing.T) {
	srv, _ := newTestServer(t, &fakeForwarder{})
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/streams/stream-1?token=garbage"

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	check.Error(t, err)
	assert.NotNil(t, resp)
	check.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestGetStats(t *testing.T) {
	srv, _ := newTestServer(t, &fakeForwarder{})
	dial(t, srv, "stream-1", "")
	dial(t, srv, "stream-1", "")

	resp, err := http.Get(srv.URL + "/stats/streams/stream-1")
	assert.NoError(t, err)
	defer resp.Body.Close()

	var body map[string]any
	assert.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	check.Equal[any](t, float64(2), body["subscribers"])
}
