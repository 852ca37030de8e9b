package ws

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestJoinLeaveCounts(t *testing.T) {
	m := NewSocketManager()
	a := &Conn{outputEvent: "output"}
	b := &Conn{outputEvent: "output"}

	m.Join("sess_one", a)
	m.Join("sess_one", b)
	assert.Equal(t, 2, m.ConnectionCount("sess_one"))

	m.Leave("sess_one", a)
	assert.Equal(t, 1, m.ConnectionCount("sess_one"))

	// leaving twice is harmless
	m.Leave("sess_one", a)
	assert.Equal(t, 1, m.ConnectionCount("sess_one"))
}

func TestLeaveAllRemovesFromEveryRoom(t *testing.T) {
	m := NewSocketManager()
	c := &Conn{outputEvent: "output"}

	m.Join("sess_one", c)
	m.Join("sess_two", c)

	m.LeaveAll(c)
	assert.Zero(t, m.ConnectionCount("sess_one"))
	assert.Zero(t, m.ConnectionCount("sess_two"))
}

func TestEmptyRoomIsNotAnError(t *testing.T) {
	m := NewSocketManager()
	assert.Zero(t, m.ConnectionCount("sess_none"))
	m.Broadcast("sess_none", "into the void")
}
