package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type fakeBackend struct {
	status      Status
	hotkeyErr   error
	hotkeys     []string
	scanAddr    string
	scanErr     error
	connectErr  error
	connects    []string
	disconnects int
}

func (b *fakeBackend) Status() Status { return b.status }

func (b *fakeBackend) SetHotkey(hotkey string) error {
	if b.hotkeyErr != nil {
		return b.hotkeyErr
	}
	b.hotkeys = append(b.hotkeys, hotkey)
	b.status.Hotkey = hotkey
	return nil
}

func (b *fakeBackend) Scan() (string, error) {
	if b.scanErr != nil {
		return "", b.scanErr
	}
	return b.scanAddr, nil
}

func (b *fakeBackend) Connect(addr string) error {
	if b.connectErr != nil {
		return b.connectErr
	}
	b.connects = append(b.connects, addr)
	b.status.ConnState = "connected"
	b.status.Peer = addr
	return nil
}

func (b *fakeBackend) Disconnect() error {
	b.disconnects++
	b.status.ConnState = "idle"
	b.status.Peer = ""
	return nil
}

func newTestServer(t *testing.T, backend *fakeBackend) (*Server, *httptest.Server) {
	t.Helper()
	s := NewServer(backend, zap.NewNop())
	go s.hub.run()
	t.Cleanup(s.hub.stop)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/hotkey", s.handleHotkey)
	mux.HandleFunc("/ws", s.hub.handleUpgrade)

	ts := httptest.NewServer(s.recoverMiddleware(mux))
	t.Cleanup(ts.Close)
	return s, ts
}

func TestStatusEndpoint(t *testing.T) {
	backend := &fakeBackend{status: Status{
		Role:         "controller",
		ConnState:    "listening",
		ControlState: "local",
		Hotkey:       "ctrl+alt+z",
	}}
	_, ts := newTestServer(t, backend)

	resp, err := http.Get(ts.URL + "/api/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got Status
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, backend.status, got)
}

func TestHotkeyUpdate(t *testing.T) {
	backend := &fakeBackend{}
	_, ts := newTestServer(t, backend)

	body := bytes.NewBufferString(`{"hotkey":"ctrl+shift+f5"}`)
	resp, err := http.Post(ts.URL+"/api/hotkey", "application/json", body)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []string{"ctrl+shift+f5"}, backend.hotkeys)
}

func TestHotkeyRejection(t *testing.T) {
	backend := &fakeBackend{hotkeyErr: errors.New("hotkey needs at least one modifier")}
	_, ts := newTestServer(t, backend)

	body := bytes.NewBufferString(`{"hotkey":"z"}`)
	resp, err := http.Post(ts.URL+"/api/hotkey", "application/json", body)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Empty(t, backend.hotkeys)
}

func TestWebSocketStatusCommandAndPush(t *testing.T) {
	backend := &fakeBackend{status: Status{Role: "target", ConnState: "connected"}}
	s, ts := newTestServer(t, backend)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	ws, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer ws.Close()

	// Command round trip.
	require.NoError(t, ws.WriteJSON(Message{Type: "status"}))
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))

	var reply Message
	require.NoError(t, ws.ReadJSON(&reply))
	assert.Equal(t, "status", reply.Type)

	var got Status
	require.NoError(t, json.Unmarshal(reply.Payload, &got))
	assert.Equal(t, "target", got.Role)

	// Server-initiated push reaches the client.
	s.Publish("peer_lost", map[string]string{})
	var push Message
	require.NoError(t, ws.ReadJSON(&push))
	assert.Equal(t, "peer_lost", push.Type)
}

// The scan and connect commands drive the target's manual reconnect flow
// after a controller loss.
func TestWebSocketScanAndConnectCommands(t *testing.T) {
	backend := &fakeBackend{
		status:   Status{Role: "target", ConnState: "idle"},
		scanAddr: "192.168.1.20",
	}
	_, ts := newTestServer(t, backend)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	ws, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer ws.Close()
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))

	require.NoError(t, ws.WriteJSON(Message{Type: "request_scan"}))
	var scan Message
	require.NoError(t, ws.ReadJSON(&scan))
	require.Equal(t, "scan_result", scan.Type)

	var found struct {
		Addr string `json:"addr"`
	}
	require.NoError(t, json.Unmarshal(scan.Payload, &found))
	assert.Equal(t, "192.168.1.20", found.Addr)

	require.NoError(t, ws.WriteJSON(Message{
		Type:    "connect",
		Payload: json.RawMessage(`{"addr":"192.168.1.20"}`),
	}))
	var push Message
	require.NoError(t, ws.ReadJSON(&push))
	require.Equal(t, "status", push.Type)
	assert.Equal(t, []string{"192.168.1.20"}, backend.connects)

	require.NoError(t, ws.WriteJSON(Message{Type: "disconnect"}))
	require.NoError(t, ws.ReadJSON(&push))
	require.Equal(t, "status", push.Type)
	assert.Equal(t, 1, backend.disconnects)
}

func TestWebSocketScanFailureIsReported(t *testing.T) {
	backend := &fakeBackend{scanErr: errors.New("no controller beacon heard")}
	_, ts := newTestServer(t, backend)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	ws, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer ws.Close()
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))

	require.NoError(t, ws.WriteJSON(Message{Type: "request_scan"}))
	var reply Message
	require.NoError(t, ws.ReadJSON(&reply))
	assert.Equal(t, "error", reply.Type)
	assert.Contains(t, string(reply.Payload), "no controller beacon heard")
}

func TestWebSocketBadConnectPayload(t *testing.T) {
	backend := &fakeBackend{}
	_, ts := newTestServer(t, backend)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	ws, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer ws.Close()
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))

	require.NoError(t, ws.WriteJSON(Message{Type: "connect"}))
	var reply Message
	require.NoError(t, ws.ReadJSON(&reply))
	assert.Equal(t, "error", reply.Type)
	assert.Empty(t, backend.connects)
}

// Log entries tee into the hub so a UI can mirror the relay's log stream.
func TestLogEntriesArePushedToClients(t *testing.T) {
	backend := &fakeBackend{}
	s, ts := newTestServer(t, backend)

	tee := NewLogTee()
	tee.Attach(s)
	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()),
		zapcore.AddSync(io.Discard),
		zapcore.InfoLevel,
	)
	logger := zap.New(core, zap.Hooks(tee.Hook()))

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	ws, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer ws.Close()
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))

	// A command round trip guarantees the client is registered before the
	// broadcast goes out.
	require.NoError(t, ws.WriteJSON(Message{Type: "status"}))
	var reply Message
	require.NoError(t, ws.ReadJSON(&reply))

	logger.Named("relay").Info("peer connected")

	var push Message
	require.NoError(t, ws.ReadJSON(&push))
	assert.Equal(t, "log", push.Type)
	assert.Contains(t, string(push.Payload), "peer connected")
	assert.Contains(t, string(push.Payload), `"level":"info"`)
}

// An upgrade racing the hub's shutdown must close the socket instead of
// parking the handler on the register channel.
func TestUpgradeAfterHubShutdownClosesClient(t *testing.T) {
	backend := &fakeBackend{}
	s, ts := newTestServer(t, backend)
	s.hub.stop()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	ws, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		// Handshake already refused, nothing left holding the socket.
		return
	}
	defer ws.Close()

	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = ws.ReadMessage()
	require.Error(t, err)
	if nerr, ok := err.(net.Error); ok {
		assert.False(t, nerr.Timeout(), "connection stayed open after hub shutdown")
	}
}
