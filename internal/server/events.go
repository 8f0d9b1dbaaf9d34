// Package server defines the JSON envelope exchanged over the chat socket and
// validates inbound events before they reach the hub.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ConnectionID identifies one live WebSocket connection.
type ConnectionID string

// Inbound event names.
const (
	EventJoinGroupChat     = "joinGroupChat"
	EventLeaveGroupChat    = "leaveGroupChat"
	EventGroupChatMessage  = "groupChatMessage"
	EventStartChat         = "startChat"
	EventSingleChatMessage = "singleChatMessage"
	EventEndChat           = "endChat"
)

// Outbound event names.
const (
	EventUserJoined      = "userJoined"
	EventUserLeft        = "userLeft"
	EventIncomingMessage = "incomingMessage"
	EventChatStarted     = "chatStarted"
	EventError           = "error"
)

// ErrInvalidEvent marks a frame rejected at the socket boundary.
var ErrInvalidEvent = errors.New("invalid event")

// Envelope is the frame format in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// GroupChatMessage is the payload of a groupChatMessage event.
type GroupChatMessage struct {
	Message    string `json:"message"`
	SenderName string `json:"senderName"`
	SenderID   string `json:"senderId" validate:"required"`
	RoomID     string `json:"roomId" validate:"required"`
}

// SingleChatMessage is the payload of a singleChatMessage event.
type SingleChatMessage struct {
	Message    string `json:"message"`
	SenderName string `json:"senderName"`
	SenderID   string `json:"senderId" validate:"required"`
	ReceiverID string `json:"receiverId" validate:"required"`
	RoomID     string `json:"roomId"`
}

// IncomingMessage is delivered to every resolved recipient of a chat message.
type IncomingMessage struct {
	Message    string `json:"message"`
	SenderName string `json:"senderName"`
	SenderID   string `json:"senderId"`
	RoomID     string `json:"roomId"`
}

// PresenceNotice carries the connection that joined or left a group room.
type PresenceNotice struct {
	UserID ConnectionID `json:"userId"`
}

// ChatStarted acknowledges a direct-chat slot binding.
type ChatStarted struct {
	UserID       string       `json:"userId"`
	ConnectionID ConnectionID `json:"connectionId"`
}

// ErrorNotice tells a client why its frame was rejected.
type ErrorNotice struct {
	Message string `json:"message"`
}

// intent is a validated inbound request ready for the hub loop.
type intent struct {
	event  string
	roomID string
	userID string
	group  GroupChatMessage
	single SingleChatMessage
}

func decodeIntent(raw []byte) (intent, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return intent{}, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}

	in := intent{event: env.Event}
	switch env.Event {
	case EventJoinGroupChat, EventLeaveGroupChat:
		id, err := decodeIdentifier(env.Data, "roomId")
		if err != nil {
			return intent{}, err
		}
		in.roomID = id

	case EventStartChat:
		id, err := decodeIdentifier(env.Data, "userId")
		if err != nil {
			return intent{}, err
		}
		in.userID = id

	case EventEndChat:

	case EventGroupChatMessage:
		if err := decodePayload(env.Data, &in.group); err != nil {
			return intent{}, err
		}
		if err := validateStruct(in.group); err != nil {
			return intent{}, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
		}

	case EventSingleChatMessage:
		if err := decodePayload(env.Data, &in.single); err != nil {
			return intent{}, err
		}
		if err := validateStruct(in.single); err != nil {
			return intent{}, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
		}

	case "":
		return intent{}, fmt.Errorf("%w: missing event name", ErrInvalidEvent)
	default:
		return intent{}, fmt.Errorf("%w: unknown event %q", ErrInvalidEvent, env.Event)
	}
	return in, nil
}

// decodeIdentifier accepts a bare JSON string payload. There is no struct to
// tag here, so blank identifiers are rejected directly.
func decodeIdentifier(data json.RawMessage, field string) (string, error) {
	var id string
	if len(data) == 0 {
		return "", fmt.Errorf("%w: %s is required", ErrInvalidEvent, field)
	}
	if err := json.Unmarshal(data, &id); err != nil {
		return "", fmt.Errorf("%w: %s must be a string", ErrInvalidEvent, field)
	}
	if strings.TrimSpace(id) == "" {
		return "", fmt.Errorf("%w: %s is required", ErrInvalidEvent, field)
	}
	return id, nil
}

func decodePayload(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: payload is required", ErrInvalidEvent)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	return nil
}

func encodeEvent(event string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Event: event, Data: data})
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
