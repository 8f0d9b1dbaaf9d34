// Package server coordinates connection registration, room presence, message
// fan-out and disconnect cleanup for the chat socket via the Hub type.
package server

import (
	"context"
	"log"
	"sync"
	"time"
)

type hubEventKind int

const (
	hubRegister hubEventKind = iota
	hubUnregister
	hubIntent
	hubReject
	hubQuery
)

// hubEvent is one item on the hub's inbox. Every presence mutation and
// routing decision goes through the inbox so they are applied one at a time.
type hubEvent struct {
	kind   hubEventKind
	client *Client
	intent intent
	reason string
	query  func()
	done   chan struct{}
}

// Hub owns the connection registry and the presence table. Run processes
// the inbox on a single goroutine; nothing else touches either structure.
type Hub struct {
	clients  map[ConnectionID]*Client
	presence *presence
	inbox    chan hubEvent
	wg       sync.WaitGroup
	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewHub creates a Hub ready to be started with Run.
func NewHub() *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		clients:  make(map[ConnectionID]*Client),
		presence: newPresence(),
		inbox:    make(chan hubEvent, 256),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
}

// Register adds a client to the registry. Clients with a live connection
// get their read and write pumps started by the hub. It reports false when
// the hub has stopped and the client was not accepted.
func (h *Hub) Register(client *Client) bool {
	return h.submit(hubEvent{kind: hubRegister, client: client})
}

// Unregister removes a client and reconciles its presence. Unregistering a
// client twice is harmless.
func (h *Hub) Unregister(client *Client) {
	h.submit(hubEvent{kind: hubUnregister, client: client})
}

func (h *Hub) dispatch(client *Client, in intent) {
	h.submit(hubEvent{kind: hubIntent, client: client, intent: in})
}

func (h *Hub) reject(client *Client, reason string) {
	h.submit(hubEvent{kind: hubReject, client: client, reason: reason})
}

// submit queues ev unless the hub is shutting down.
func (h *Hub) submit(ev hubEvent) bool {
	if h.ctx.Err() != nil {
		return false
	}
	select {
	case h.inbox <- ev:
		return true
	case <-h.ctx.Done():
		return false
	}
}

// inspect runs fn on the hub goroutine and waits for it. It returns false
// when the hub has stopped.
func (h *Hub) inspect(fn func()) bool {
	done := make(chan struct{})
	if !h.submit(hubEvent{kind: hubQuery, query: fn, done: done}) {
		return false
	}
	select {
	case <-done:
		return true
	case <-h.done:
		return false
	}
}

// RoomMembers returns the connections currently joined to roomID.
func (h *Hub) RoomMembers(roomID string) []ConnectionID {
	var members []ConnectionID
	h.inspect(func() { members = h.presence.members(roomID) })
	return members
}

// RoomsOf returns the group rooms conn is joined to.
func (h *Hub) RoomsOf(conn ConnectionID) []string {
	var rooms []string
	h.inspect(func() { rooms = h.presence.roomsOf(conn) })
	return rooms
}

// DirectSlot returns the connection bound to userID's direct-chat slot.
func (h *Hub) DirectSlot(userID string) (ConnectionID, bool) {
	var (
		conn ConnectionID
		ok   bool
	)
	h.inspect(func() { conn, ok = h.presence.slot(userID) })
	return conn, ok
}

// ClientCount returns the number of registered connections.
func (h *Hub) ClientCount() int {
	var n int
	h.inspect(func() { n = len(h.clients) })
	return n
}

// RoomCount returns the number of non-empty group rooms.
func (h *Hub) RoomCount() int {
	var n int
	h.inspect(func() { n = h.presence.roomCount() })
	return n
}

// Run starts the hub's event loop. It returns after Shutdown is called.
func (h *Hub) Run() {
	defer close(h.done)

	for {
		select {
		case <-h.ctx.Done():
			h.shutdownClients()
			return
		case ev := <-h.inbox:
			h.handle(ev)
		}
	}
}

func (h *Hub) handle(ev hubEvent) {
	switch ev.kind {
	case hubRegister:
		h.register(ev.client)
	case hubUnregister:
		if ev.client != nil {
			h.disconnect(ev.client.id)
		}
	case hubIntent:
		if _, ok := h.clients[ev.client.id]; !ok {
			log.Printf("Dropping %s from unregistered connection %s", ev.intent.event, ev.client.id)
			return
		}
		h.apply(ev.client.id, ev.intent)
	case hubReject:
		h.deliver([]ConnectionID{ev.client.id}, EventError, ErrorNotice{Message: ev.reason})
	case hubQuery:
		ev.query()
		close(ev.done)
	}
}

func (h *Hub) register(client *Client) {
	if client == nil {
		log.Printf("Received nil client registration; skipping")
		return
	}

	client.closed = false
	h.clients[client.id] = client
	log.Printf("Client %s registered from %s. Total clients: %d", client.id, client.addr, len(h.clients))

	if client.conn == nil {
		return
	}
	h.wg.Add(2)
	go func() {
		defer h.wg.Done()
		client.writePump()
	}()
	go func() {
		defer h.wg.Done()
		client.readPump()
	}()
}

func (h *Hub) apply(conn ConnectionID, in intent) {
	switch in.event {
	case EventJoinGroupChat:
		h.joinGroup(in.roomID, conn)
	case EventLeaveGroupChat:
		h.leaveGroup(in.roomID, conn)
	case EventGroupChatMessage:
		h.sendGroupMessage(in.group)
	case EventStartChat:
		h.startDirect(in.userID, conn)
	case EventSingleChatMessage:
		h.sendDirectMessage(in.single)
	case EventEndChat:
		h.endDirect(conn)
	}
}

func (h *Hub) joinGroup(roomID string, conn ConnectionID) {
	if !h.presence.join(roomID, conn) {
		log.Printf("Connection %s already in room %s", conn, roomID)
		return
	}
	log.Printf("Connection %s joined room %s", conn, roomID)
	h.deliver(without(h.presence.members(roomID), conn), EventUserJoined, PresenceNotice{UserID: conn})
}

func (h *Hub) leaveGroup(roomID string, conn ConnectionID) {
	if !h.presence.leave(roomID, conn) {
		return
	}
	log.Printf("Connection %s left room %s", conn, roomID)
	h.deliver(h.presence.members(roomID), EventUserLeft, PresenceNotice{UserID: conn})
}

func (h *Hub) startDirect(userID string, conn ConnectionID) {
	prev, had := h.presence.bindDirect(userID, conn)
	notice := ChatStarted{UserID: userID, ConnectionID: conn}

	h.deliver([]ConnectionID{conn}, EventChatStarted, notice)
	if had && prev != conn {
		log.Printf("Direct slot for %s moved from %s to %s", userID, prev, conn)
		h.deliver([]ConnectionID{prev}, EventChatStarted, notice)
	}
}

func (h *Hub) endDirect(conn ConnectionID) {
	for _, userID := range h.presence.releaseSlots(conn) {
		log.Printf("Direct slot for %s released by %s", userID, conn)
	}
}

func (h *Hub) sendGroupMessage(msg GroupChatMessage) {
	h.deliver(h.presence.members(msg.RoomID), EventIncomingMessage, IncomingMessage{
		Message:    msg.Message,
		SenderName: msg.SenderName,
		SenderID:   msg.SenderID,
		RoomID:     msg.RoomID,
	})
}

func (h *Hub) sendDirectMessage(msg SingleChatMessage) {
	var targets []ConnectionID
	if conn, ok := h.presence.slot(msg.ReceiverID); ok {
		targets = append(targets, conn)
	}
	if conn, ok := h.presence.slot(msg.SenderID); ok && !contains(targets, conn) {
		targets = append(targets, conn)
	}

	h.deliver(targets, EventIncomingMessage, IncomingMessage{
		Message:    msg.Message,
		SenderName: msg.SenderName,
		SenderID:   msg.SenderID,
		RoomID:     msg.RoomID,
	})
}

// disconnect removes conn from every room and direct slot, notifying the
// remaining room members, then drops it from the registry.
func (h *Hub) disconnect(conn ConnectionID) {
	if client, ok := h.clients[conn]; ok {
		delete(h.clients, conn)
		client.closed = true
		close(client.send)
		log.Printf("Client %s unregistered from %s. Total clients: %d", conn, client.addr, len(h.clients))
	}

	for _, roomID := range h.presence.roomsOf(conn) {
		h.leaveGroup(roomID, conn)
	}
	h.endDirect(conn)
}

// deliver pushes one event to each target without blocking. A full send
// buffer does not stop the rest of the fan-out; such clients are evicted
// afterwards.
func (h *Hub) deliver(targets []ConnectionID, event string, payload any) {
	if len(targets) == 0 {
		return
	}

	message, err := encodeEvent(event, payload)
	if err != nil {
		log.Printf("Error encoding %s event: %v", event, err)
		return
	}

	var slow []ConnectionID
	for _, conn := range targets {
		client, ok := h.clients[conn]
		if !ok || client.closed {
			continue
		}
		select {
		case client.send <- message:
		default:
			slow = append(slow, conn)
		}
	}

	for _, conn := range slow {
		log.Printf("Client %s removed due to full send buffer", conn)
		h.disconnect(conn)
	}
}

// shutdownClients closes every connection and send channel so the pumps exit.
func (h *Hub) shutdownClients() {
	log.Println("Shutting down all client connections...")

	for id, client := range h.clients {
		delete(h.clients, id)
		client.closed = true
		close(client.send)
		if client.conn != nil {
			if err := client.conn.Close(); err != nil && !isExpectedCloseError(err) {
				log.Printf("Error closing client connection from %s: %v", client.addr, err)
			}
		}
	}
	h.presence = newPresence()

	log.Println("Closed all client connections")
}

// Shutdown stops the event loop and waits for client goroutines to finish,
// or until the timeout is reached.
func (h *Hub) Shutdown(timeout time.Duration) error {
	log.Println("Initiating hub shutdown...")

	h.cancel()
	<-h.done

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Println("Hub shutdown completed successfully")
		return nil
	case <-time.After(timeout):
		log.Println("Hub shutdown timeout reached, some goroutines may still be running")
		return context.DeadlineExceeded
	}
}

func without(conns []ConnectionID, skip ConnectionID) []ConnectionID {
	out := conns[:0]
	for _, c := range conns {
		if c != skip {
			out = append(out, c)
		}
	}
	return out
}

func contains(conns []ConnectionID, target ConnectionID) bool {
	for _, c := range conns {
		if c == target {
			return true
		}
	}
	return false
}
