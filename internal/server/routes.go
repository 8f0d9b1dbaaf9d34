// Package server wires HTTP handlers into a ServeMux for the ride chat
// application via routing helpers.
package server

import "net/http"

// SetupRoutes returns a ServeMux with the health check, the chat socket, the
// test page and the chat REST API backed by chats.
func SetupRoutes(hub *Hub, chats ChatStore) *http.ServeMux {
	api := &chatAPI{store: chats}

	mux := http.NewServeMux()
	mux.HandleFunc("/", HealthHandler)
	mux.HandleFunc("/ws", WebSocketHandler(hub))
	mux.HandleFunc("/test", TestPageHandler)

	mux.HandleFunc("POST /api/room", api.joinRoom)
	mux.HandleFunc("POST /api/room/detailByMembers", api.directRoom)
	mux.HandleFunc("GET /api/room/list", api.listRooms)
	mux.HandleFunc("POST /api/message", api.postMessage)
	mux.HandleFunc("GET /api/message/{roomId}", api.history)
	mux.HandleFunc("DELETE /api/message/{id}", api.deleteMessage)
	return mux
}
