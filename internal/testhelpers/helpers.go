// Package testhelpers provides common utilities for testing the ride chat server.
//
// It starts hubs and test servers, dials chat sockets with an allowed Origin,
// and reads and writes event envelopes so individual tests stay focused on
// behaviour.
package testhelpers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/ridechat/internal/server"
	"github.com/Tyrowin/ridechat/internal/store"
)

// TestOrigin is the Origin header sent by ConnectWebSocket. It is in the
// default allowlist.
const TestOrigin = "http://localhost:8080"

// Env is a running hub, store and HTTP test server.
type Env struct {
	Hub    *server.Hub
	Store  *store.Store
	Server *httptest.Server
	WSURL  string
}

// StartEnv starts a hub and an httptest server over an in-memory store. Both
// are torn down when the test ends.
func StartEnv(t *testing.T) *Env {
	t.Helper()

	server.SetConfig(nil)
	t.Cleanup(func() { server.SetConfig(nil) })

	chats, err := store.Open(":memory:")
	require.NoError(t, err)

	hub := server.NewHub()
	go hub.Run()

	ts := httptest.NewServer(server.SetupRoutes(hub, chats))
	t.Cleanup(func() {
		ts.Close()
		_ = hub.Shutdown(2 * time.Second)
		_ = chats.Close()
	})

	return &Env{
		Hub:    hub,
		Store:  chats,
		Server: ts,
		WSURL:  "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws",
	}
}

// ConnectWebSocket dials url with the test Origin header.
func ConnectWebSocket(url string) (*websocket.Conn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: 5 * time.Second,
	}

	headers := http.Header{}
	headers.Set("Origin", TestOrigin)

	conn, resp, err := dialer.Dial(url, headers)
	if resp != nil {
		_ = resp.Body.Close()
	}
	return conn, err
}

// Connect dials the env's socket and closes it when the test ends.
func (e *Env) Connect(t *testing.T) *websocket.Conn {
	t.Helper()
	conn, err := ConnectWebSocket(e.WSURL)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// WaitForClients polls until the hub has n registered connections.
func (e *Env) WaitForClients(t *testing.T, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return e.Hub.ClientCount() == n },
		2*time.Second, 10*time.Millisecond, "expected %d clients", n)
}

// Emit sends one event envelope.
func Emit(t *testing.T, conn *websocket.Conn, event string, data any) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(map[string]any{"event": event, "data": data}))
}

// Expect reads the next envelope and requires it to carry event, decoding
// its data into out when out is non-nil.
func Expect(t *testing.T, conn *websocket.Conn, event string, out any) {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var env server.Envelope
	require.NoError(t, conn.ReadJSON(&env))
	require.Equal(t, event, env.Event, "unexpected event with data %s", string(env.Data))
	if out != nil {
		require.NoError(t, json.Unmarshal(env.Data, out))
	}
}

// ExpectNoMessage requires that nothing arrives within wait. The connection
// should not be read again afterwards since the deadline error is sticky.
func ExpectNoMessage(t *testing.T, conn *websocket.Conn, wait time.Duration) {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(wait)))
	_, data, err := conn.ReadMessage()
	require.Error(t, err, "expected no message, got %s", string(data))
}

// CloseWebSocket sends a normal close frame and closes the connection.
func CloseWebSocket(conn *websocket.Conn) error {
	err := conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	if err != nil {
		return err
	}
	return conn.Close()
}
