package server

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPresenceJoinLeaveIdempotent(t *testing.T) {
	sequences := []struct {
		name   string
		ops    []bool // true = join, false = leave
		member bool
	}{
		{"single join", []bool{true}, true},
		{"repeated join", []bool{true, true, true}, true},
		{"join then leave", []bool{true, false}, false},
		{"leave without join", []bool{false, false}, false},
		{"leave then rejoin", []bool{true, false, true}, true},
		{"double leave", []bool{true, false, false}, false},
	}

	for _, tt := range sequences {
		t.Run(tt.name, func(t *testing.T) {
			p := newPresence()
			for _, join := range tt.ops {
				if join {
					p.join("ride42", "c1")
				} else {
					p.leave("ride42", "c1")
				}
			}

			assert.Equal(t, tt.member, contains(p.members("ride42"), "c1"))
			if tt.member {
				assert.Equal(t, []string{"ride42"}, p.roomsOf("c1"))
			} else {
				assert.Empty(t, p.roomsOf("c1"))
			}
		})
	}
}

func TestPresenceJoinReportsChange(t *testing.T) {
	p := newPresence()

	assert.True(t, p.join("ride42", "c1"))
	assert.False(t, p.join("ride42", "c1"))
	assert.True(t, p.leave("ride42", "c1"))
	assert.False(t, p.leave("ride42", "c1"))
}

func TestPresenceDropsEmptyRooms(t *testing.T) {
	p := newPresence()
	p.join("ride42", "c1")
	p.join("ride42", "c2")
	p.join("ride7", "c1")
	require.Equal(t, 2, p.roomCount())

	p.leave("ride7", "c1")
	assert.Equal(t, 1, p.roomCount())
	assert.Equal(t, []ConnectionID{"c1", "c2"}, p.members("ride42"))

	p.leave("ride42", "c1")
	p.leave("ride42", "c2")
	assert.Equal(t, 0, p.roomCount())
	assert.Empty(t, p.members("ride42"))
}

func TestPresenceTracksMultipleRoomsPerConnection(t *testing.T) {
	p := newPresence()
	p.join("ride7", "c1")
	p.join("ride42", "c1")

	assert.Equal(t, []string{"ride42", "ride7"}, p.roomsOf("c1"))
}

func TestPresenceDirectSlotLastWriterWins(t *testing.T) {
	p := newPresence()

	_, had := p.bindDirect("u1", "c1")
	assert.False(t, had)

	prev, had := p.bindDirect("u1", "c2")
	assert.True(t, had)
	assert.Equal(t, ConnectionID("c1"), prev)

	conn, ok := p.slot("u1")
	require.True(t, ok)
	assert.Equal(t, ConnectionID("c2"), conn)

	// c1 no longer holds the slot, so releasing it must not clear u1.
	assert.Empty(t, p.releaseSlots("c1"))
	_, ok = p.slot("u1")
	assert.True(t, ok)

	assert.Equal(t, []string{"u1"}, p.releaseSlots("c2"))
	_, ok = p.slot("u1")
	assert.False(t, ok)
	assert.Empty(t, p.releaseSlots("c2"))
}

func TestPresenceReleaseSlotsClearsEverySlotOfConnection(t *testing.T) {
	p := newPresence()
	p.bindDirect("u1", "c1")
	p.bindDirect("u2", "c1")
	p.bindDirect("u3", "c2")

	assert.Equal(t, []string{"u1", "u2"}, p.releaseSlots("c1"))

	_, ok := p.slot("u1")
	assert.False(t, ok)
	conn, ok := p.slot("u3")
	require.True(t, ok)
	assert.Equal(t, ConnectionID("c2"), conn)
}
