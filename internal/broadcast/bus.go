// Package broadcast implements the Broadcast Bus (spec §4.4): per-room
// fan-out to local subscribers plus cross-instance delivery via the Shared
// State Store's pub/sub channel. Every process publishes and subscribes to
// the same channel; each process's subscription handler fans out to
// whatever connections it holds locally, found via the Client Registry.
package broadcast

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/clipsync/server/internal/domain"
	"github.com/clipsync/server/internal/store"
)

const channel = "room-notifications"

// envelope is the pub/sub wire format: roomId plus an already-encoded
// outbound frame, so every process just forwards bytes without having to
// understand the event's shape.
type envelope struct {
	RoomID string          `json:"roomId"`
	Frame  json.RawMessage `json:"frame"`
}

type Bus struct {
	store    store.Store
	registry Registry
	logger   *slog.Logger
}

// Registry is the interface the Bus needs from the process-local Client
// Registry (internal/registry.Local satisfies this).
type Registry interface {
	ConnectionsInRoom(roomID string) []Sender
}

// Sender is re-declared here (identical to registry.Sender) to avoid an
// import cycle; any type satisfying it — in particular
// *registry.Local's stored handles — works as-is.
type Sender interface {
	Send(payload []byte) error
}

func New(s store.Store, registry Registry, logger *slog.Logger) *Bus {
	return &Bus{store: s, registry: registry, logger: logger}
}

// Start subscribes to the shared channel and fans out every received
// event to local connections. It returns once the subscription is in
// place; delivery runs in the background until the returned func is
// called to unsubscribe.
func (b *Bus) Start(ctx context.Context) (func(), error) {
	unsubscribe, err := b.store.Subscribe(ctx, channel, func(payload string) {
		var env envelope
		if err := json.Unmarshal([]byte(payload), &env); err != nil {
			b.logger.ErrorContext(ctx, "broadcast: malformed envelope", "error", err)
			return
		}
		b.deliverLocal(env.RoomID, env.Frame)
	})
	return unsubscribe, err
}

// Broadcast publishes frame (an already-JSON-encoded outbound message) to
// every member of roomID, across all instances. Per-sender order is
// preserved because publishes from one command dispatch happen in the
// order the dispatcher issues them and Redis pub/sub preserves publish
// order to a given channel's subscribers.
func (b *Bus) Broadcast(ctx context.Context, roomID string, frame []byte) error {
	env := envelope{RoomID: roomID, Frame: frame}
	payload, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return b.store.Publish(ctx, channel, string(payload))
}

// NotifyRoomChanged implements roomrepo.Notifier. It does not itself push
// a wire frame — the dispatcher crafts the command-specific frame and
// calls Broadcast directly — but logs for observability so a mutate that
// nobody explicitly broadcast (a bug) is still visible in logs.
func (b *Bus) NotifyRoomChanged(ctx context.Context, roomID string, room *domain.Room) {
	b.logger.DebugContext(ctx, "room changed", "roomId", roomID, "version", room.Version)
}

func (b *Bus) deliverLocal(roomID string, frame []byte) {
	for _, conn := range b.registry.ConnectionsInRoom(roomID) {
		deliverWithRetry(conn, frame)
	}
}

// deliverWithRetry implements the backpressure policy of §5: one retry on
// a slow/failed outbound stream, then drop. The caller (Connection
// Handler, via its Sender) is responsible for flagging the connection for
// cleanup when Send reports a permanent failure.
func deliverWithRetry(conn Sender, frame []byte) {
	if err := conn.Send(frame); err != nil {
		_ = conn.Send(frame) // one retry; a second failure is dropped
	}
}
