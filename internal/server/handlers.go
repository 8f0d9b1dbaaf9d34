// Package server exposes HTTP handlers, including WebSocket upgrades, health
// checks, and the built-in test page.
package server

import (
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     checkOrigin,
}

// WebSocketHandler upgrades GET requests to a chat socket and registers the
// new connection with hub, which starts its pumps.
func WebSocketHandler(hub *Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("WebSocket upgrade failed: %v", err)
			return
		}

		if !hub.Register(NewClient(conn, hub, r.RemoteAddr)) {
			log.Printf("Hub stopped, closing connection from %s", r.RemoteAddr)
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(writeWait))
			_ = conn.Close()
		}
	}
}

// HealthHandler responds with a plain text liveness message.
func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "Ride chat server is running!")
}

// TestPageHandler serves a small page for joining a ride room and chatting
// over the socket by hand.
func TestPageHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	if _, err := fmt.Fprint(w, testPage); err != nil {
		log.Printf("Error writing HTML response: %v", err)
	}
}

const testPage = `<!DOCTYPE html>
<html>
<head>
    <title>Ride Chat Test</title>
    <style>
        body { font-family: Arial, sans-serif; margin: 20px; }
        #log { border: 1px solid #ccc; height: 300px; padding: 10px; overflow-y: scroll; margin: 10px 0; background-color: #f9f9f9; }
        input[type="text"] { width: 180px; padding: 5px; margin-right: 6px; }
        button { padding: 5px 12px; background-color: #007cba; color: white; border: none; cursor: pointer; }
    </style>
</head>
<body>
    <h1>Ride Chat Test</h1>
    <div>
        <button onclick="connect()">Connect</button>
        <input type="text" id="room" placeholder="ride id">
        <input type="text" id="sender" placeholder="your user id">
        <button onclick="emit('joinGroupChat', value('room'))">Join</button>
        <button onclick="emit('leaveGroupChat', value('room'))">Leave</button>
    </div>
    <div>
        <input type="text" id="text" placeholder="Type a message...">
        <button onclick="emit('groupChatMessage', {message: value('text'), senderId: value('sender'), senderName: value('sender'), roomId: value('room')})">Send</button>
    </div>
    <div id="log"></div>
    <script>
        let ws = null;
        const logDiv = document.getElementById('log');
        function value(id) { return document.getElementById(id).value.trim(); }
        function show(line) {
            const el = document.createElement('div');
            el.textContent = line;
            logDiv.appendChild(el);
            logDiv.scrollTop = logDiv.scrollHeight;
        }
        function connect() {
            ws = new WebSocket('ws://' + location.host + '/ws');
            ws.onopen = () => show('connected');
            ws.onmessage = (e) => show(e.data);
            ws.onclose = () => { show('closed'); ws = null; };
        }
        function emit(event, data) {
            if (ws && ws.readyState === WebSocket.OPEN) {
                ws.send(JSON.stringify({event: event, data: data}));
            }
        }
    </script>
</body>
</html>`
