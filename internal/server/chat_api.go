// Package server serves the chat REST API: persisted rooms and message
// history used by clients around the real-time socket.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/Tyrowin/ridechat/internal/store"
)

// ChatStore is the persistence the REST API needs.
type ChatStore interface {
	JoinRideRoom(ctx context.Context, rideID, userID string) (*store.ChatRoom, error)
	DirectRoom(ctx context.Context, a, b string) (*store.ChatRoom, error)
	ListRooms(ctx context.Context) ([]store.ChatRoom, error)
	AppendMessage(ctx context.Context, senderID, roomID, content string) (*store.ChatMessage, error)
	History(ctx context.Context, roomID string) ([]store.HistoryEntry, error)
	DeleteMessage(ctx context.Context, id string) error
}

type chatAPI struct {
	store ChatStore
}

type joinRoomRequest struct {
	UserID string `json:"userId" validate:"required"`
	RideID string `json:"rideId" validate:"required"`
}

type directRoomRequest struct {
	SenderID   string `json:"senderId" validate:"required"`
	ReceiverID string `json:"receiverId" validate:"required,nefield=SenderID"`
}

type postMessageRequest struct {
	SenderID string `json:"senderId" validate:"required"`
	RoomID   string `json:"roomId" validate:"required"`
	Message  string `json:"message"`
}

func (a *chatAPI) joinRoom(w http.ResponseWriter, r *http.Request) {
	var req joinRoomRequest
	if !decodeBody(w, r, &req) {
		return
	}

	room, err := a.store.JoinRideRoom(r.Context(), req.RideID, req.UserID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "room", "_room": room})
}

func (a *chatAPI) directRoom(w http.ResponseWriter, r *http.Request) {
	var req directRoomRequest
	if !decodeBody(w, r, &req) {
		return
	}

	room, err := a.store.DirectRoom(r.Context(), req.SenderID, req.ReceiverID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "room details", "_room": room})
}

func (a *chatAPI) listRooms(w http.ResponseWriter, r *http.Request) {
	rooms, err := a.store.ListRooms(r.Context())
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "room list", "_room": rooms})
}

func (a *chatAPI) postMessage(w http.ResponseWriter, r *http.Request) {
	var req postMessageRequest
	if !decodeBody(w, r, &req) {
		return
	}

	msg, err := a.store.AppendMessage(r.Context(), req.SenderID, req.RoomID, req.Message)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "send successfully", "_messages": msg})
}

func (a *chatAPI) history(w http.ResponseWriter, r *http.Request) {
	entries, err := a.store.History(r.Context(), r.PathValue("roomId"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "message history", "_messages": entries})
}

func (a *chatAPI) deleteMessage(w http.ResponseWriter, r *http.Request) {
	if err := a.store.DeleteMessage(r.Context(), r.PathValue("id")); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "message deleted"})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	if err := validateStruct(v); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}

func writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	log.Printf("Chat store error: %v", err)
	writeError(w, http.StatusInternalServerError, "internal error")
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"message": message})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("Error writing JSON response: %v", err)
	}
}
