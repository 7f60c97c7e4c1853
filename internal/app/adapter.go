package app

import (
	"github.com/clipsync/server/internal/broadcast"
	"github.com/clipsync/server/internal/registry"
)

// registryAdapter satisfies broadcast.Registry over *registry.Local.
// registry.Sender and broadcast.Sender are structurally identical by
// design (both packages declare the same one-method shape to avoid an
// import cycle between them), but Go requires exact interface-slice
// type identity at a method boundary, so ConnectionsInRoom's
// []registry.Sender has to be copied element-wise into []broadcast.Sender
// here — each element still satisfies broadcast.Sender on its own,
// since that only depends on the concrete type's method set.
type registryAdapter struct {
	local *registry.Local
}

func (a registryAdapter) ConnectionsInRoom(roomID string) []broadcast.Sender {
	conns := a.local.ConnectionsInRoom(roomID)
	out := make([]broadcast.Sender, len(conns))
	for i, c := range conns {
		out[i] = c
	}
	return out
}
