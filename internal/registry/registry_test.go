package registry_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/clipsync/server/internal/registry"
)

type stubSender struct{ id string }

func (s *stubSender) Send(payload []byte) error { return nil }

func TestRegisterAndGetConnection(t *testing.T) {
	l := registry.New()
	sender := &stubSender{id: "c1"}

	l.RegisterConnection("c1", sender)

	got, ok := l.GetConnection("c1")
	assert.True(t, ok)
	assert.Same(t, sender, got)
}

func TestDropConnection_RemovesHandleAndRoomBinding(t *testing.T) {
	l := registry.New()
	l.RegisterConnection("c1", &stubSender{})
	l.Bind("c1", "room1")

	l.DropConnection("c1")

	_, ok := l.GetConnection("c1")
	assert.False(t, ok)
	_, ok = l.LookupRoom("c1")
	assert.False(t, ok)
}

func TestBind_ClearsPreviousRoomBinding(t *testing.T) {
	l := registry.New()
	l.RegisterConnection("c1", &stubSender{})
	l.Bind("c1", "room1")
	l.Bind("c1", "room2")

	roomID, ok := l.LookupRoom("c1")
	assert.True(t, ok)
	assert.Equal(t, "room2", roomID)
	assert.Empty(t, l.ConnectionsInRoom("room1"))
}

func TestConnectionsInRoom_ReturnsOnlyRegisteredMembers(t *testing.T) {
	l := registry.New()
	c1 := &stubSender{id: "c1"}
	c2 := &stubSender{id: "c2"}
	l.RegisterConnection("c1", c1)
	l.RegisterConnection("c2", c2)
	l.Bind("c1", "room1")
	l.Bind("c2", "room1")

	conns := l.ConnectionsInRoom("room1")
	assert.Len(t, conns, 2)
}

func TestUnbind_LeavesHandleRegistered(t *testing.T) {
	l := registry.New()
	l.RegisterConnection("c1", &stubSender{})
	l.Bind("c1", "room1")

	l.Unbind("c1")

	_, ok := l.GetConnection("c1")
	assert.True(t, ok, "unbind only clears room membership, not the connection handle")
	assert.Empty(t, l.ConnectionsInRoom("room1"))
}

func TestConnectionsInRoom_EmptyForUnknownRoom(t *testing.T) {
	l := registry.New()
	assert.Empty(t, l.ConnectionsInRoom("ghost"))
}

func TestConcurrentBindAndLookup(t *testing.T) {
	l := registry.New()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := "c" + string(rune('a'+i%26))
			l.RegisterConnection(id, &stubSender{})
			l.Bind(id, "room1")
			l.LookupRoom(id)
			l.ConnectionsInRoom("room1")
		}(i)
	}
	wg.Wait()
}
