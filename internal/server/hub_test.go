package server

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startHub(t *testing.T) *Hub {
	t.Helper()
	h := NewHub()
	go h.Run()
	t.Cleanup(func() { _ = h.Shutdown(time.Second) })
	return h
}

// connect registers a client without a socket; its outbound frames stay on
// the send channel for the test to read.
func connect(t *testing.T, h *Hub) *Client {
	t.Helper()
	c := NewClient(nil, h, "127.0.0.1:12345")
	require.True(t, h.Register(c))
	return c
}

// settle waits until every event queued so far has been handled.
func settle(t *testing.T, h *Hub) {
	t.Helper()
	require.True(t, h.inspect(func() {}), "hub stopped")
}

func receive(t *testing.T, c *Client, event string, out any) {
	t.Helper()
	select {
	case raw, ok := <-c.GetSendChan():
		require.True(t, ok, "send channel closed while waiting for %s", event)
		var env Envelope
		require.NoError(t, json.Unmarshal(raw, &env))
		require.Equal(t, event, env.Event, "data: %s", string(env.Data))
		if out != nil {
			require.NoError(t, json.Unmarshal(env.Data, out))
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for %s on %s", event, c.ID())
	}
}

func assertIdle(t *testing.T, h *Hub, clients ...*Client) {
	t.Helper()
	settle(t, h)
	for _, c := range clients {
		assert.Len(t, c.GetSendChan(), 0, "unexpected frame queued for %s", c.ID())
	}
}

func join(h *Hub, c *Client, roomID string) {
	h.dispatch(c, intent{event: EventJoinGroupChat, roomID: roomID})
}

func TestNewHub(t *testing.T) {
	h := NewHub()
	require.NotNil(t, h)
	assert.NotNil(t, h.clients)
	assert.NotNil(t, h.presence)
	assert.NotNil(t, h.inbox)
}

func TestRegisterAssignsConnectionIDs(t *testing.T) {
	h := startHub(t)

	c1 := connect(t, h)
	c2 := connect(t, h)

	assert.NotEmpty(t, c1.ID())
	assert.NotEqual(t, c1.ID(), c2.ID())
	assert.Equal(t, 2, h.ClientCount())

	h.Register(nil)
	assert.Equal(t, 2, h.ClientCount())
}

func TestJoinGroupNotifiesOtherMembersOnce(t *testing.T) {
	h := startHub(t)
	c1, c2 := connect(t, h), connect(t, h)

	join(h, c1, "ride42")
	join(h, c2, "ride42")

	var notice PresenceNotice
	receive(t, c1, EventUserJoined, &notice)
	assert.Equal(t, c2.ID(), notice.UserID)

	// A repeated join changes nothing and announces nothing.
	join(h, c2, "ride42")
	assertIdle(t, h, c1, c2)
	assert.ElementsMatch(t, []ConnectionID{c1.ID(), c2.ID()}, h.RoomMembers("ride42"))
}

func TestGroupMessageReachesExactlyTheRoom(t *testing.T) {
	h := startHub(t)
	c1, c2, outsider := connect(t, h), connect(t, h), connect(t, h)

	join(h, c1, "ride42")
	join(h, c2, "ride42")
	join(h, outsider, "ride7")
	receive(t, c1, EventUserJoined, nil)

	h.dispatch(c1, intent{event: EventGroupChatMessage, group: GroupChatMessage{
		Message: "hello", SenderName: "alice", SenderID: "u1", RoomID: "ride42",
	}})

	want := IncomingMessage{Message: "hello", SenderName: "alice", SenderID: "u1", RoomID: "ride42"}
	for _, c := range []*Client{c1, c2} {
		var got IncomingMessage
		receive(t, c, EventIncomingMessage, &got)
		assert.Equal(t, want, got)
	}
	assertIdle(t, h, outsider)

	// Messages to an empty or unknown room go nowhere.
	h.dispatch(c1, intent{event: EventGroupChatMessage, group: GroupChatMessage{RoomID: "ride99", SenderID: "u1"}})
	assertIdle(t, h, c1, c2, outsider)
}

func TestLeaveGroup(t *testing.T) {
	h := startHub(t)
	c1, c2 := connect(t, h), connect(t, h)

	join(h, c1, "ride42")
	join(h, c2, "ride42")
	receive(t, c1, EventUserJoined, nil)

	h.dispatch(c2, intent{event: EventLeaveGroupChat, roomID: "ride42"})

	var notice PresenceNotice
	receive(t, c1, EventUserLeft, &notice)
	assert.Equal(t, c2.ID(), notice.UserID)
	assert.Equal(t, []ConnectionID{c1.ID()}, h.RoomMembers("ride42"))

	// Leaving a room the connection is not in is a silent no-op.
	h.dispatch(c2, intent{event: EventLeaveGroupChat, roomID: "ride42"})
	h.dispatch(c2, intent{event: EventLeaveGroupChat, roomID: "ride7"})
	assertIdle(t, h, c1, c2)

	h.dispatch(c1, intent{event: EventLeaveGroupChat, roomID: "ride42"})
	settle(t, h)
	assert.Equal(t, 0, h.RoomCount())
}

func TestDisconnectReconcilesEveryRoomAndSlot(t *testing.T) {
	h := startHub(t)
	c1, c2, c3 := connect(t, h), connect(t, h), connect(t, h)

	join(h, c1, "ride42")
	join(h, c2, "ride42")
	join(h, c2, "ride7")
	join(h, c3, "ride7")
	h.dispatch(c2, intent{event: EventStartChat, userID: "u2"})
	receive(t, c1, EventUserJoined, nil)
	receive(t, c2, EventUserJoined, nil)
	receive(t, c2, EventChatStarted, nil)

	h.Unregister(c2)

	var notice PresenceNotice
	receive(t, c1, EventUserLeft, &notice)
	assert.Equal(t, c2.ID(), notice.UserID)
	receive(t, c3, EventUserLeft, &notice)
	assert.Equal(t, c2.ID(), notice.UserID)

	assert.Equal(t, []ConnectionID{c1.ID()}, h.RoomMembers("ride42"))
	assert.Equal(t, []ConnectionID{c3.ID()}, h.RoomMembers("ride7"))
	assert.Empty(t, h.RoomsOf(c2.ID()))
	_, ok := h.DirectSlot("u2")
	assert.False(t, ok)
	assert.Equal(t, 2, h.ClientCount())

	_, open := <-c2.GetSendChan()
	assert.False(t, open, "send channel should be closed")

	// A second disconnect is a no-op.
	h.Unregister(c2)
	assertIdle(t, h, c1, c3)
	assert.Equal(t, 2, h.ClientCount())
}

func TestDirectMessageEchoesToSender(t *testing.T) {
	h := startHub(t)
	c1, c2 := connect(t, h), connect(t, h)

	h.dispatch(c1, intent{event: EventStartChat, userID: "u1"})
	h.dispatch(c2, intent{event: EventStartChat, userID: "u2"})

	var started ChatStarted
	receive(t, c1, EventChatStarted, &started)
	assert.Equal(t, ChatStarted{UserID: "u1", ConnectionID: c1.ID()}, started)
	receive(t, c2, EventChatStarted, nil)

	h.dispatch(c1, intent{event: EventSingleChatMessage, single: SingleChatMessage{
		Message: "hi", SenderName: "alice", SenderID: "u1", ReceiverID: "u2", RoomID: "dm1",
	}})

	want := IncomingMessage{Message: "hi", SenderName: "alice", SenderID: "u1", RoomID: "dm1"}
	for _, c := range []*Client{c2, c1} {
		var got IncomingMessage
		receive(t, c, EventIncomingMessage, &got)
		assert.Equal(t, want, got)
	}
	assertIdle(t, h, c1, c2)
}

func TestDirectMessageSkipsAbsentSlots(t *testing.T) {
	h := startHub(t)
	c1 := connect(t, h)

	// Neither side bound: nothing is delivered and nothing fails.
	h.dispatch(c1, intent{event: EventSingleChatMessage, single: SingleChatMessage{SenderID: "u1", ReceiverID: "u2"}})
	assertIdle(t, h, c1)

	// Only the sender bound: the echo still arrives.
	h.dispatch(c1, intent{event: EventStartChat, userID: "u1"})
	receive(t, c1, EventChatStarted, nil)
	h.dispatch(c1, intent{event: EventSingleChatMessage, single: SingleChatMessage{Message: "anyone?", SenderID: "u1", ReceiverID: "u2"}})
	receive(t, c1, EventIncomingMessage, nil)
	assertIdle(t, h, c1)

	// Both identities on one connection: delivered once.
	h.dispatch(c1, intent{event: EventStartChat, userID: "u2"})
	receive(t, c1, EventChatStarted, nil)
	h.dispatch(c1, intent{event: EventSingleChatMessage, single: SingleChatMessage{SenderID: "u1", ReceiverID: "u2"}})
	receive(t, c1, EventIncomingMessage, nil)
	assertIdle(t, h, c1)
}

func TestStartDirectReplacesPreviousSlot(t *testing.T) {
	h := startHub(t)
	oldConn, newConn := connect(t, h), connect(t, h)

	h.dispatch(oldConn, intent{event: EventStartChat, userID: "u1"})
	receive(t, oldConn, EventChatStarted, nil)

	h.dispatch(newConn, intent{event: EventStartChat, userID: "u1"})

	want := ChatStarted{UserID: "u1", ConnectionID: newConn.ID()}
	var got ChatStarted
	receive(t, newConn, EventChatStarted, &got)
	assert.Equal(t, want, got)
	receive(t, oldConn, EventChatStarted, &got)
	assert.Equal(t, want, got)

	slot, ok := h.DirectSlot("u1")
	require.True(t, ok)
	assert.Equal(t, newConn.ID(), slot)

	// The superseded connection going away leaves the new slot alone.
	h.Unregister(oldConn)
	slot, ok = h.DirectSlot("u1")
	require.True(t, ok)
	assert.Equal(t, newConn.ID(), slot)

	// Restarting on the same connection only acknowledges the caller.
	h.dispatch(newConn, intent{event: EventStartChat, userID: "u1"})
	receive(t, newConn, EventChatStarted, nil)
	assertIdle(t, h, newConn)
}

func TestEndDirect(t *testing.T) {
	h := startHub(t)
	c1, c2 := connect(t, h), connect(t, h)

	h.dispatch(c1, intent{event: EventStartChat, userID: "u1"})
	h.dispatch(c2, intent{event: EventStartChat, userID: "u2"})
	h.dispatch(c1, intent{event: EventEndChat})
	settle(t, h)

	_, ok := h.DirectSlot("u1")
	assert.False(t, ok)
	_, ok = h.DirectSlot("u2")
	assert.True(t, ok)

	// Nothing left to end.
	h.dispatch(c1, intent{event: EventEndChat})
	settle(t, h)
	_, ok = h.DirectSlot("u2")
	assert.True(t, ok)
}

func TestRejectSendsErrorToOffender(t *testing.T) {
	h := startHub(t)
	c1, c2 := connect(t, h), connect(t, h)

	h.reject(c1, "invalid event: roomId is required")

	var notice ErrorNotice
	receive(t, c1, EventError, &notice)
	assert.Contains(t, notice.Message, "roomId")
	assertIdle(t, h, c2)
}

func TestIntentFromUnregisteredClientIsDropped(t *testing.T) {
	h := startHub(t)
	stranger := NewClient(nil, h, "127.0.0.1:1")

	join(h, stranger, "ride42")
	settle(t, h)

	assert.Empty(t, h.RoomMembers("ride42"))
	assert.Equal(t, 0, h.RoomCount())
}

func TestSlowClientIsEvictedWithoutBlockingFanOut(t *testing.T) {
	h := startHub(t)

	cfg := NewConfig()
	cfg.SendBufferSize = 1
	SetConfig(cfg)
	slow := connect(t, h)
	SetConfig(nil)
	t.Cleanup(func() { SetConfig(nil) })
	fast := connect(t, h)

	join(h, slow, "ride42")
	join(h, fast, "ride42")
	// slow's only buffer slot now holds this notice and is never drained.
	settle(t, h)
	require.Len(t, slow.GetSendChan(), 1)

	h.dispatch(fast, intent{event: EventGroupChatMessage, group: GroupChatMessage{Message: "hello", SenderID: "u2", RoomID: "ride42"}})

	receive(t, fast, EventIncomingMessage, nil)
	var notice PresenceNotice
	receive(t, fast, EventUserLeft, &notice)
	assert.Equal(t, slow.ID(), notice.UserID)

	assert.Equal(t, []ConnectionID{fast.ID()}, h.RoomMembers("ride42"))
	assert.Equal(t, 1, h.ClientCount())

	receive(t, slow, EventUserJoined, nil)
	_, open := <-slow.GetSendChan()
	assert.False(t, open)
}

func TestHubShutdown(t *testing.T) {
	h := NewHub()
	stopped := make(chan struct{})
	go func() {
		h.Run()
		close(stopped)
	}()

	c := NewClient(nil, h, "127.0.0.1:2")
	h.Register(c)
	settle(t, h)

	require.NoError(t, h.Shutdown(2*time.Second))

	select {
	case <-stopped:
	case <-time.After(3 * time.Second):
		t.Fatal("hub did not stop after shutdown")
	}

	assert.False(t, h.Register(NewClient(nil, h, "127.0.0.1:3")), "stopped hub accepted a client")

	_, open := <-c.GetSendChan()
	assert.False(t, open)

	// Queries after shutdown return zero values instead of blocking.
	assert.Equal(t, 0, h.ClientCount())
	assert.Nil(t, h.RoomMembers("ride42"))
}
